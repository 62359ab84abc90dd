package comms

import "sync"

// recentEmailCap bounds each persona's recent-email ring.
const recentEmailCap = 10

// RecentEmail is one ring entry used to resolve reply directives.
type RecentEmail struct {
	EmailID    string
	From       string
	To         []string
	Subject    string
	ThreadID   string
	SentAtTick int
}

// recentRings holds the per-persona rings. Planning tasks read their own
// persona's ring concurrently with dispatch, so access is lock-guarded.
type recentRings struct {
	mu    sync.Mutex
	rings map[int64][]RecentEmail
}

func newRecentRings() *recentRings {
	return &recentRings{rings: make(map[int64][]RecentEmail)}
}

// append adds an entry to a persona's ring, evicting the oldest past cap.
func (r *recentRings) append(personID int64, e RecentEmail) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := append(r.rings[personID], e)
	if len(ring) > recentEmailCap {
		ring = ring[len(ring)-recentEmailCap:]
	}
	r.rings[personID] = ring
}

// snapshot copies a persona's ring, newest last.
func (r *recentRings) snapshot(personID int64) []RecentEmail {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring := r.rings[personID]
	out := make([]RecentEmail, len(ring))
	copy(out, ring)
	return out
}

// find looks up an email id in a persona's ring.
func (r *recentRings) find(personID int64, emailID string) (RecentEmail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.rings[personID] {
		if e.EmailID == emailID {
			return e, true
		}
	}
	return RecentEmail{}, false
}

// clear drops every ring.
func (r *recentRings) clear() {
	r.mu.Lock()
	r.rings = make(map[int64][]RecentEmail)
	r.mu.Unlock()
}
