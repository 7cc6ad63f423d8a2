package syncer

import (
	"sync"
	"time"

	"github.com/o2r-project/o2r-finder/internal/watcher"
)

// State is where a watcher is in its lifecycle.
type State string

const (
	StateIdle            State = "idle"
	StateConnectionProbe State = "connection_probe"
	StateBackfilling     State = "backfilling"
	StateStreaming       State = "streaming"
	StateError           State = "error"
	StateBackoff         State = "backoff"
	StateStopped         State = "stopped"
)

// WatcherStatus is a snapshot of one watcher.
type WatcherStatus struct {
	Collection string     `json:"collection"`
	Partition  string     `json:"partition"`
	Type       string     `json:"type"`
	State      State      `json:"state"`
	Since      time.Time  `json:"since"`
	Backfilled int64      `json:"backfilled"`
	Applied    int64      `json:"applied"`
	Failed     int64      `json:"failed"`
	Restarts   int64      `json:"restarts"`
	LastError  string     `json:"lastError,omitempty"`
	LastChange *time.Time `json:"lastChange,omitempty"`
}

// tracker holds the watcher states in registry order.
type tracker struct {
	mu     sync.RWMutex
	order  []string
	status map[string]*WatcherStatus
	now    func() time.Time
}

func newTracker(descriptors []watcher.Descriptor, now func() time.Time) *tracker {
	t := &tracker{status: make(map[string]*WatcherStatus, len(descriptors)), now: now}
	for _, d := range descriptors {
		t.order = append(t.order, d.Partition)
		t.status[d.Partition] = &WatcherStatus{
			Collection: d.Collection,
			Partition:  d.Partition,
			Type:       d.Type,
			State:      StateIdle,
			Since:      now().UTC(),
		}
	}
	return t
}

func (t *tracker) update(partition string, fn func(s *WatcherStatus)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.status[partition]; ok {
		fn(s)
	}
}

func (t *tracker) set(partition string, state State, err error) {
	t.update(partition, func(s *WatcherStatus) {
		if s.State != state {
			s.State = state
			s.Since = t.now().UTC()
		}
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

func (t *tracker) setAll(state State) {
	for _, p := range t.order {
		t.set(p, state, nil)
	}
}

func (t *tracker) snapshot() []WatcherStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]WatcherStatus, 0, len(t.order))
	for _, p := range t.order {
		s := *t.status[p]
		if s.LastChange != nil {
			ts := *s.LastChange
			s.LastChange = &ts
		}
		out = append(out, s)
	}
	return out
}
