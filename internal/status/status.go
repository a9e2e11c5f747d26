// Package status tracks process-level bot state and serves it over a small
// liveness HTTP surface.
package status

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Record is the process-wide bot status. It is written once at startup
// (MarkStarted) and on fatal errors; everything else only reads it, so a
// single RWMutex covers concurrent access from HTTP handlers.
type Record struct {
	mu        sync.RWMutex
	startedAt time.Time
	running   bool
	lastError string
}

// MarkStarted records the bot as running from now.
func (r *Record) MarkStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startedAt = time.Now()
	r.running = true
}

// SetError records the most recent fatal error and marks the bot stopped.
func (r *Record) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	if err != nil {
		r.lastError = err.Error()
	}
}

// Snapshot returns a consistent view of the record.
func (r *Record) Snapshot() (startedAt time.Time, running bool, lastError string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt, r.running, r.lastError
}

// Handler builds the liveness HTTP handler: GET /healthz for probes and
// GET /status for the human-readable status page.
func (r *Record) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	router.GET("/status", func(c *gin.Context) {
		startedAt, running, lastError := r.Snapshot()

		resp := gin.H{"running": running}
		if running {
			resp["started_at"] = startedAt.UTC().Format(time.RFC3339)
			resp["uptime"] = time.Since(startedAt).Truncate(time.Second).String()
		}
		if lastError != "" {
			resp["last_error"] = lastError
		}
		c.JSON(http.StatusOK, resp)
	})

	return router
}
