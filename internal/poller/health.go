package poller

import (
	"sync"
	"time"

	"github.com/hangwatch/backend/internal/ws"
)

// searchHealth tracks consecutive search failures and the last scheduler
// step. The loop goroutine writes it while the broadcaster and HTTP handlers
// read snapshots, so every field is protected by mu.
type searchHealth struct {
	mu                  sync.Mutex
	source              string
	consecutiveFailures int
	lastErr             string
	lastFailure         time.Time
	lastSuccess         time.Time
	errorCount          int
	skippedTicks        int
	state               State
	lastEmittedStatus   ws.SearchHealthStatus
}

func newSearchHealth(source string) *searchHealth {
	return &searchHealth{
		source:            source,
		lastEmittedStatus: ws.StatusHealthy,
	}
}

func (h *searchHealth) recordSuccess(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
	h.lastErr = ""
	h.lastSuccess = at
}

func (h *searchHealth) recordFailure(err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	h.lastErr = err.Error()
	h.lastFailure = at
}

// recordStep mirrors the state machine so readers never touch it directly.
func (h *searchHealth) recordStep(state State, errorCount int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.errorCount = errorCount
}

func (h *searchHealth) recordSkippedTick() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skippedTicks++
}

// statusLocked computes health status. Caller must hold h.mu.
func (h *searchHealth) statusLocked(threshold int) ws.SearchHealthStatus {
	switch {
	case h.consecutiveFailures >= threshold:
		return ws.StatusFailed
	case h.consecutiveFailures > 0:
		return ws.StatusDegraded
	default:
		return ws.StatusHealthy
	}
}

func (h *searchHealth) status(threshold int) ws.SearchHealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusLocked(threshold)
}

func (h *searchHealth) payloadLocked(threshold int, now time.Time) ws.SearchHealthPayload {
	return ws.SearchHealthPayload{
		Source:              h.source,
		Status:              h.statusLocked(threshold),
		ConsecutiveFailures: h.consecutiveFailures,
		ErrorCount:          h.errorCount,
		SkippedTicks:        h.skippedTicks,
		State:               h.state.String(),
		LastError:           h.lastErr,
		LastSuccess:         h.lastSuccess,
		Timestamp:           now,
	}
}

// snapshot returns a consistent copy of all health fields.
func (h *searchHealth) snapshot(threshold int, now time.Time) ws.SearchHealthPayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payloadLocked(threshold, now)
}

// snapshotAndEmit is snapshot plus whether the status changed since the last
// emission. A change updates lastEmittedStatus.
func (h *searchHealth) snapshotAndEmit(threshold int, now time.Time) (ws.SearchHealthPayload, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.payloadLocked(threshold, now)
	changed := p.Status != h.lastEmittedStatus
	if changed {
		h.lastEmittedStatus = p.Status
	}
	return p, changed
}
