package alerting

import "time"

// RateLimitGuard suspends whole evaluation cycles after the source reports throttling.
// The cooldown is fixed; repeated triggers do not escalate it.
type RateLimitGuard struct {
	until time.Time
}

// ShouldSkip reports whether a cycle at now falls inside the cooldown.
func (g *RateLimitGuard) ShouldSkip(now time.Time) bool {
	return now.Before(g.until)
}

// TriggerCooldown suspends polling until now+d.
func (g *RateLimitGuard) TriggerCooldown(now time.Time, d time.Duration) {
	g.until = now.Add(d)
}

// Until returns the end of the current cooldown, zero if never triggered.
func (g *RateLimitGuard) Until() time.Time {
	return g.until
}

// QuietGate limits how often the "nothing found" notice goes out.
type QuietGate struct {
	cooldown time.Duration
	last     time.Time
	sent     bool
}

// NewQuietGate builds a gate with its own cooldown.
func NewQuietGate(cooldown time.Duration) *QuietGate {
	return &QuietGate{cooldown: cooldown}
}

// ShouldNotifyQuiet reports whether a quiet notice may be sent at now.
func (q *QuietGate) ShouldNotifyQuiet(now time.Time) bool {
	return !q.sent || now.Sub(q.last) >= q.cooldown
}

// RecordQuietNotice marks a quiet notice as sent at now.
func (q *QuietGate) RecordQuietNotice(now time.Time) {
	q.last = now
	q.sent = true
}

// State bundles the engine's process-wide mutable state. Build one per
// process and hand it to the poll loop.
type State struct {
	Dedup     *DedupStore
	RateLimit *RateLimitGuard
	Quiet     *QuietGate
}

// NewState constructs empty engine state for policy.
func NewState(policy Policy) *State {
	return &State{
		Dedup:     NewDedupStore(policy.Cooldown, policy.Retention),
		RateLimit: &RateLimitGuard{},
		Quiet:     NewQuietGate(policy.QuietCooldown),
	}
}
