package jobs

import (
	"sync"

	"github.com/thomasbruketta/therapy-ops-agent/internal/reporting"
)

// Tracker keeps the envelope of the most recent completed run for the status
// server. The zero value is ready to use.
type Tracker struct {
	mu   sync.RWMutex
	last *reporting.Envelope
}

// Record stores env as the latest run.
func (t *Tracker) Record(env reporting.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &env
}

// LatestRun returns the latest envelope, if any run has completed.
func (t *Tracker) LatestRun() (reporting.Envelope, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return reporting.Envelope{}, false
	}
	return *t.last, true
}
