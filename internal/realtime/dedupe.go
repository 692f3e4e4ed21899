package realtime

import (
	"sync"

	"github.com/uplinq/uplinq/internal/metrics"
)

// Deduper filters duplicate event deliveries by id. The common double
// pattern is a local optimistic insert followed by the echoed server event;
// both carry the same row id.
//
// Memory is bounded: once cap ids are held, the oldest is forgotten when a
// new one arrives.
type Deduper struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	cap   int
}

// NewDeduper creates a deduper remembering up to cap ids
func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 256
	}
	return &Deduper{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// Seen marks id as seen and reports whether it had been seen before
func (d *Deduper) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[id]; dup {
		metrics.Get().EventsDroppedTotal.WithLabelValues("duplicate").Inc()
		return true
	}
	if len(d.order) >= d.cap {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}

// Len returns the number of remembered ids
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
