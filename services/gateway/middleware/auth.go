// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the eval gateway.
//
// # Authentication Flow
//
// The dashboard sends the backend API key with every request. AuthMiddleware
// extracts it, resolves it through the configured AuthProvider (which may
// substitute the gateway's default key), and stores the AuthInfo in the Gin
// context. Handlers forward AuthInfo.APIKey to the backend as X-API-KEY.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► X-API-KEY header, else "Authorization: Bearer <key>"
//	   │
//	   ├─► provider.Validate(ctx, key)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianEval/pkg/extensions"
)

// HeaderAPIKey is the inbound header carrying the backend API key.
const HeaderAPIKey = "X-API-KEY"

// authInfoKey is the gin context key for AuthInfo.
const authInfoKey = "aleutian_auth_info"

// SetAuthInfo stores info in the request context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the AuthInfo stored by AuthMiddleware, or nil when
// the route is not behind it.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware resolves the caller's API key or aborts with 401.
//
// The error body uses the gateway's envelope so the dashboard can show it
// like any other failure.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authInfo, err := provider.Validate(c.Request.Context(), ExtractAPIKey(c.Request))
		if err != nil {
			msg := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				msg = "missing API key: send it in the X-API-KEY header"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   msg,
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// ExtractAPIKey reads the key from X-API-KEY, falling back to a bearer
// token. Browsers cannot set headers on websocket upgrades, so the
// "api_key" query parameter is accepted last.
func ExtractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); key != "" {
		return key
	}
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if isWebsocketUpgrade(r) {
		return strings.TrimSpace(r.URL.Query().Get("api_key"))
	}
	return ""
}

// extractBearerToken parses "Bearer <token>". The scheme is
// case-insensitive per RFC 7235.
func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
