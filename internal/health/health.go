// Package health exposes the process health check. Sustained bus publish
// failures trip it so an external supervisor restarts the process; the
// pipeline itself never retries or queues.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

const defaultThreshold = 5

// Tracker counts consecutive bus failures against a threshold. Any success
// resets the streak.
type Tracker struct {
	mu          sync.Mutex
	threshold   int
	consecutive int
	lastErr     error
}

// New builds a tracker that trips after threshold consecutive failures.
func New(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Tracker{threshold: threshold}
}

// RecordSuccess resets the failure streak.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	t.consecutive = 0
	t.lastErr = nil
	t.mu.Unlock()
}

// RecordFailure notes one more consecutive failure.
func (t *Tracker) RecordFailure(err error) {
	t.mu.Lock()
	t.consecutive++
	t.lastErr = err
	t.mu.Unlock()
}

// Healthy reports whether the failure streak is below the threshold.
func (t *Tracker) Healthy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutive < t.threshold
}

// Handler serves the health endpoint: 200 while healthy, 503 once tripped.
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.mu.Lock()
		healthy := t.consecutive < t.threshold
		failures := t.consecutive
		var lastErr string
		if t.lastErr != nil {
			lastErr = t.lastErr.Error()
		}
		t.mu.Unlock()

		status := http.StatusOK
		body := map[string]any{"status": "ok"}
		if !healthy {
			status = http.StatusServiceUnavailable
			body = map[string]any{
				"status":               "degraded",
				"consecutive_failures": failures,
				"last_error":           lastErr,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	})
}
