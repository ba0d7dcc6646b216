// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianEval/services/policy_engine/enforcement"
)

// HealthCheck reports gateway liveness. The backend is not called; its
// circuit breaker state is included so operators can see a failing
// backend without a request.
func HealthCheck(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok", "backend": d.Backend.BaseURL()}
		body["backend_circuit"] = d.Backend.BreakerState().String()
		body["policy_hash"] = enforcement.PolicyHash()
		if d.Tracker != nil {
			body["job_subscribers"] = d.Tracker.Hub().Len()
		}
		c.JSON(http.StatusOK, body)
	}
}

// Metrics serves the Prometheus registry. A nil gatherer serves the
// default registry.
func Metrics(gatherer prometheus.Gatherer) gin.HandlerFunc {
	if gatherer == nil {
		return gin.WrapH(promhttp.Handler())
	}
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
