package alerting

import "time"

// Decision is the outcome of a deduplication check.
type Decision int

const (
	Suppress Decision = iota
	Fire
)

func (d Decision) String() string {
	if d == Fire {
		return "fire"
	}
	return "suppress"
}

// DedupStore remembers when each AlertKey last fired. It is not safe for
// concurrent use; the evaluation loop is its only caller.
type DedupStore struct {
	cooldown  time.Duration
	retention time.Duration
	lastFired map[AlertKey]time.Time
}

// NewDedupStore builds a store. Entries older than retention are dropped by Prune.
func NewDedupStore(cooldown, retention time.Duration) *DedupStore {
	if retention < cooldown {
		retention = cooldown
	}
	return &DedupStore{
		cooldown:  cooldown,
		retention: retention,
		lastFired: make(map[AlertKey]time.Time),
	}
}

// Evaluate returns Fire when the key never fired or its cooldown has elapsed.
func (s *DedupStore) Evaluate(c Candidate, now time.Time) Decision {
	last, ok := s.lastFired[c.Key]
	if !ok || now.Sub(last) > s.cooldown {
		return Fire
	}
	return Suppress
}

// Fire records an accepted alert for key.
func (s *DedupStore) Fire(key AlertKey, now time.Time) {
	s.lastFired[key] = now
}

// LastFired returns the recorded firing time for key.
func (s *DedupStore) LastFired(key AlertKey) (time.Time, bool) {
	t, ok := s.lastFired[key]
	return t, ok
}

// Prune evicts keys that have not fired within the retention horizon and
// returns how many were removed.
func (s *DedupStore) Prune(now time.Time) int {
	removed := 0
	for key, last := range s.lastFired {
		if now.Sub(last) > s.retention {
			delete(s.lastFired, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (s *DedupStore) Len() int {
	return len(s.lastFired)
}
