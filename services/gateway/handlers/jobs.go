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
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianEval/services/gateway/jobs"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin:     originChecker(allowed),
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients), same-origin requests, and origins in allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// wsMessage is one frame of the job stream.
type wsMessage struct {
	Type string     `json:"type"`
	Jobs []jobs.Job `json:"jobs,omitempty"`
	Job  *jobs.Job  `json:"job,omitempty"`
	At   time.Time  `json:"at"`
}

func sendJSON(ws *websocket.Conn, v any) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// ListJobs returns the caller's tracked collection jobs.
func ListJobs(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := d.Tracker.List(c.Request.Context(), fingerprint(c))
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to list jobs")
			return
		}
		if list == nil {
			list = []jobs.Job{}
		}
		respondData(c, http.StatusOK, list)
	}
}

// GetJob returns one tracked job owned by the caller.
func GetJob(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := d.Tracker.Get(c.Request.Context(), c.Param("id"))
		if err != nil || job.KeyFingerprint != fingerprint(c) {
			if err != nil && !errors.Is(err, jobs.ErrJobNotFound) {
				respondError(c, http.StatusInternalServerError, "failed to load job")
				return
			}
			respondError(c, http.StatusNotFound, "job not found")
			return
		}
		respondData(c, http.StatusOK, job)
	}
}

// DismissJob removes a tracked job, typically a failed one the user has
// acknowledged.
func DismissJob(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		err := d.Tracker.Dismiss(c.Request.Context(), id, fingerprint(c))
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			respondError(c, http.StatusNotFound, "job not found")
			return
		case err != nil:
			respondError(c, http.StatusInternalServerError, "failed to dismiss job")
			return
		}
		d.audit(c, "jobs.delete", http.MethodDelete, id, http.StatusNoContent)
		c.Status(http.StatusNoContent)
	}
}

// JobsWebSocket streams job events to the dashboard.
//
// The first frame is a "snapshot" of the caller's jobs. Each later frame
// is a "created", "updated" or "removed" event for one job. Events for
// other API keys are never sent.
func JobsWebSocket(d *Deps) gin.HandlerFunc {
	upgrader := newUpgrader(d.AllowedOrigins)
	return func(c *gin.Context) {
		fp := fingerprint(c)
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("failed to upgrade the websocket", "origin", c.GetHeader("Origin"), "error", err)
			return
		}
		defer ws.Close()

		sub := d.Tracker.Hub().Subscribe(fp)
		defer sub.Close()
		d.Metrics.SubscriberConnected()
		defer d.Metrics.SubscriberDisconnected()
		slog.Info("Job stream client connected", "key_fingerprint", fp)

		snapshot, err := d.Tracker.List(c.Request.Context(), fp)
		if err != nil {
			slog.Warn("Failed to load job snapshot", "error", err)
		}
		if snapshot == nil {
			snapshot = []jobs.Job{}
		}
		if err := sendJSON(ws, wsMessage{Type: "snapshot", Jobs: snapshot, At: time.Now().UTC()}); err != nil {
			return
		}

		// The client never sends anything meaningful; reading is needed to
		// process pongs and notice a close.
		closed := make(chan struct{})
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				slog.Info("Job stream client disconnected", "key_fingerprint", fp, "dropped_events", sub.Dropped())
				return
			case <-c.Request.Context().Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(wsWriteWait))
					return
				}
				job := ev.Job
				if err := sendJSON(ws, wsMessage{Type: string(ev.Type), Job: &job, At: ev.At}); err != nil {
					return
				}
			case <-ping.C:
				_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
