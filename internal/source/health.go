package source

import (
	"sync"
	"time"
)

// HealthStatus classifies a source's recent failure history.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// Health tracks consecutive failure counts for a single source. The
// watch manager records discover and per-session parse outcomes; the
// publishing layer reads snapshots from its own goroutine, so all
// fields sit behind the mutex.
type Health struct {
	mu               sync.Mutex
	discoverFailures int
	lastDiscoverErr  string
	lastDiscoverFail time.Time
	parseFailures    map[string]int // keyed by session tracking key
	lastParseErr     string
	lastParseFail    time.Time
	lastEmitted      HealthStatus
}

func NewHealth() *Health {
	return &Health{
		parseFailures: make(map[string]int),
		lastEmitted:   StatusHealthy,
	}
}

func (h *Health) RecordDiscoverSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures = 0
	h.lastDiscoverErr = ""
}

func (h *Health) RecordDiscoverFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discoverFailures++
	h.lastDiscoverErr = err.Error()
	h.lastDiscoverFail = time.Now()
}

func (h *Health) RecordParseSuccess(sessionKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.parseFailures, sessionKey)
}

func (h *Health) RecordParseFailure(sessionKey string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parseFailures[sessionKey]++
	h.lastParseErr = err.Error()
	h.lastParseFail = time.Now()
}

// RemoveSession cleans up parse failure tracking for a removed session.
func (h *Health) RemoveSession(sessionKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.parseFailures, sessionKey)
}

// Snapshot returns a consistent copy of the health fields.
func (h *Health) Snapshot(threshold int) (status HealthStatus, discoverFailures, parseFailures int, lastErr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status = h.statusLocked(threshold)
	discoverFailures = h.discoverFailures
	parseFailures = h.degradedCountLocked(threshold)
	lastErr = h.lastErrorLocked()
	return
}

// SnapshotAndEmit returns the snapshot plus whether the status changed
// since the last emission, updating the emission marker when it did.
func (h *Health) SnapshotAndEmit(threshold int) (status HealthStatus, discoverFailures, parseFailures int, lastErr string, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	status = h.statusLocked(threshold)
	changed = status != h.lastEmitted
	if changed {
		h.lastEmitted = status
	}
	discoverFailures = h.discoverFailures
	parseFailures = h.degradedCountLocked(threshold)
	lastErr = h.lastErrorLocked()
	return
}

func (h *Health) statusLocked(threshold int) HealthStatus {
	if h.discoverFailures >= threshold {
		return StatusFailed
	}
	if h.degradedCountLocked(threshold) > 0 {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *Health) degradedCountLocked(threshold int) int {
	count := 0
	for _, failures := range h.parseFailures {
		if failures >= threshold {
			count++
		}
	}
	return count
}

// lastErrorLocked returns the most recent error, preferring whichever
// of discover/parse occurred later.
func (h *Health) lastErrorLocked() string {
	if h.lastDiscoverErr != "" && (h.lastParseErr == "" || h.lastDiscoverFail.After(h.lastParseFail)) {
		return h.lastDiscoverErr
	}
	return h.lastParseErr
}
