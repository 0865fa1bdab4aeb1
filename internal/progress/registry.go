package progress

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrRunActive is returned by Begin while another collection run is RUNNING.
var ErrRunActive = eris.New("a collection run is already in progress")

// Registry hands out run-scoped trackers and guarantees that at most one
// collection run is active at a time. The status endpoint serves whatever
// the most recent tracker reports, so finished runs remain observable until
// the next one starts.
type Registry struct {
	mu      sync.Mutex
	current *Tracker
}

// NewRegistry returns a registry with an idle placeholder tracker.
func NewRegistry() *Registry {
	return &Registry{current: newTracker()}
}

// Begin allocates a fresh tracker for a new run. It fails with ErrRunActive
// if the current tracker is still RUNNING; the active run's state is left
// untouched in that case.
func (r *Registry) Begin() (*Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current.status() == StatusRunning {
		return nil, ErrRunActive
	}
	t := newTracker()
	t.reserve()
	r.current = t
	return t, nil
}

// Current returns a snapshot of the most recent run's progress.
func (r *Registry) Current() Snapshot {
	r.mu.Lock()
	t := r.current
	r.mu.Unlock()
	return t.Snapshot()
}
