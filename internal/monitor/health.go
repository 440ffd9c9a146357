package monitor

import (
	"sync"
	"time"
)

// HealthStatus summarises whether the monitor can see and open controllers.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// defaultHealthThreshold is the number of consecutive failures before a
// component is reported as failed (inventory) or degraded (device).
const defaultHealthThreshold = 3

// maxOpenSkip caps how many passes a device that keeps failing to open sits
// out between attempts.
const maxOpenSkip = 15

// Health is the payload served at /api/health and pushed on status changes.
type Health struct {
	Status            HealthStatus `json:"status"`
	InventoryFailures int          `json:"inventoryFailures"`
	DegradedDevices   int          `json:"degradedDevices"`
	LastError         string       `json:"lastError,omitempty"`
	Sessions          int          `json:"sessions"`
	StartedAt         time.Time    `json:"startedAt"`
	Timestamp         time.Time    `json:"timestamp"`
}

// healthTracker counts consecutive inventory failures and per-device open
// failures. poll() writes it from the loop goroutine, runners write device
// outcomes from their own goroutines and the server reads snapshots, so
// every field is guarded by mu.
type healthTracker struct {
	mu                sync.Mutex
	threshold         int
	inventoryFailures int
	failedThisPass    bool
	lastInventoryErr  string
	lastInventoryFail time.Time
	openFailures      map[string]*openStreak // keyed by device path
	lastOpenErr       string
	lastOpenFail      time.Time
	lastEmitted       HealthStatus
}

// openStreak counts consecutive open failures of one device. skip is the
// number of passes left before admission is tried again.
type openStreak struct {
	failures int
	skip     int
}

func newHealthTracker(threshold int) *healthTracker {
	if threshold <= 0 {
		threshold = defaultHealthThreshold
	}
	return &healthTracker{
		threshold:    threshold,
		openFailures: make(map[string]*openStreak),
		lastEmitted:  StatusHealthy,
	}
}

func (h *healthTracker) recordInventoryFailure(err error, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inventoryFailures++
	h.failedThisPass = true
	h.lastInventoryErr = err.Error()
	h.lastInventoryFail = at
}

// finishInventoryPass resets the failure streak unless the listing made
// during this pass failed. It reports whether the listing succeeded.
func (h *healthTracker) finishInventoryPass() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok := !h.failedThisPass
	if ok {
		h.inventoryFailures = 0
		h.lastInventoryErr = ""
	}
	h.failedThisPass = false
	return ok
}

// recordOpenFailure extends the streak for path and returns its length.
// Each failure doubles the passes skipped before the next attempt.
func (h *healthTracker) recordOpenFailure(path, reason string, at time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.openFailures[path]
	if s == nil {
		s = &openStreak{}
		h.openFailures[path] = s
	}
	s.failures++
	s.skip = min(1<<min(s.failures-1, 8)-1, maxOpenSkip)
	h.lastOpenErr = path + ": " + reason
	h.lastOpenFail = at
	return s.failures
}

// openFailureCount reports the current streak for path.
func (h *healthTracker) openFailureCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.openFailures[path]; s != nil {
		return s.failures
	}
	return 0
}

// tryOpen reports whether path may be admitted this pass. A device in an
// open-failure streak sits out its skip count first; each call made while
// sitting out uses up one pass.
func (h *healthTracker) tryOpen(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.openFailures[path]
	if s == nil || s.skip == 0 {
		return true
	}
	s.skip--
	return false
}

func (h *healthTracker) recordOpenSuccess(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.openFailures, path)
}

// retain drops tracking for every device not in present.
func (h *healthTracker) retain(present map[string]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for path := range h.openFailures {
		if !present[path] {
			delete(h.openFailures, path)
		}
	}
}

func (h *healthTracker) snapshot() Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// snapshotAndEmit returns the current health and whether its status moved
// since the last time this reported a change.
func (h *healthTracker) snapshotAndEmit() (Health, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := h.snapshotLocked()
	changed := snap.Status != h.lastEmitted
	if changed {
		h.lastEmitted = snap.Status
	}
	return snap, changed
}

func (h *healthTracker) snapshotLocked() Health {
	degraded := 0
	for _, s := range h.openFailures {
		if s.failures >= h.threshold {
			degraded++
		}
	}
	status := StatusHealthy
	switch {
	case h.inventoryFailures >= h.threshold:
		status = StatusFailed
	case degraded > 0:
		status = StatusDegraded
	}
	return Health{
		Status:            status,
		InventoryFailures: h.inventoryFailures,
		DegradedDevices:   degraded,
		LastError:         h.lastErrorLocked(),
	}
}

// lastErrorLocked prefers whichever failure happened most recently.
func (h *healthTracker) lastErrorLocked() string {
	if h.lastInventoryErr != "" && (h.lastOpenErr == "" || h.lastInventoryFail.After(h.lastOpenFail)) {
		return h.lastInventoryErr
	}
	if len(h.openFailures) == 0 {
		return h.lastInventoryErr
	}
	return h.lastOpenErr
}
