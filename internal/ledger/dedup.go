package ledger

import (
	"sync"
	"time"
)

// Dedup remembers executed envelope ids for a TTL so a re-submitted envelope
// is executed at most once. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // envelope id -> first seen
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given retention.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether id was recorded within the TTL. It does not record
// id; callers Record it once the envelope has been executed.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	first, ok := d.seen[id]
	return ok && d.now().Sub(first) < d.ttl
}

// Record marks id as executed, restarting its TTL.
func (d *Dedup) Record(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = d.now()
}

// Cleanup drops expired ids and returns how many remain.
func (d *Dedup) Cleanup() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
	return len(d.seen)
}
