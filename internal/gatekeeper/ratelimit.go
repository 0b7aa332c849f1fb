package gatekeeper

import (
	"sync"
	"time"
)

// actionKey identifies a rate-limiting bucket: a flagger/actor's hash
// prefix paired with the action kind that triggered an ejection.
type actionKey struct {
	prefix [4]byte
	kind   string
}

type limiterState struct {
	tier    int
	blocked time.Time
}

// RateLimiter is a progressive, transient, per-(actor, action) cooldown
// tracker, grounded on the teacher's Faucet cooldown map
// (core/faucet.go), generalized from a single fixed cooldown to a
// ≥5-tier doubling schedule capped at a ceiling, per spec.md §4.D
// point 4. State is never persisted — a process restart resets it.
type RateLimiter struct {
	base    time.Duration
	ceiling time.Duration
	maxTier int

	mu    sync.Mutex
	state map[actionKey]*limiterState
}

// NewRateLimiter builds a limiter with 5 tiers whose cooldown doubles
// per tier: the first trip yields 2x base, the fifth 32x base, each
// capped at ceiling. Trips beyond the fifth stay at the tier-5
// cooldown, so the longest cooldown is min(32x base, ceiling).
func NewRateLimiter(base, ceiling time.Duration) *RateLimiter {
	if base <= 0 {
		base = time.Minute
	}
	if ceiling < base {
		ceiling = base
	}
	return &RateLimiter{
		base:    base,
		ceiling: ceiling,
		maxTier: 5,
		state:   make(map[actionKey]*limiterState),
	}
}

func (r *RateLimiter) cooldownFor(tier int) time.Duration {
	d := r.base
	for i := 0; i < tier; i++ {
		d *= 2
		if d >= r.ceiling {
			return r.ceiling
		}
	}
	return d
}

// Trip records a new offense for (actorPrefix, kind), advancing it to
// the next tier, and returns the cooldown now in effect.
func (r *RateLimiter) Trip(actorPrefix [4]byte, kind string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := actionKey{prefix: actorPrefix, kind: kind}
	st, ok := r.state[key]
	if !ok {
		st = &limiterState{}
		r.state[key] = st
	}
	if st.tier < r.maxTier {
		st.tier++
	}
	cd := r.cooldownFor(st.tier)
	st.blocked = time.Now().UTC().Add(cd)
	return cd
}

// Allowed reports whether (actorPrefix, kind) is currently outside its
// cooldown window.
func (r *RateLimiter) Allowed(actorPrefix [4]byte, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := actionKey{prefix: actorPrefix, kind: kind}
	st, ok := r.state[key]
	if !ok {
		return true
	}
	return time.Now().UTC().After(st.blocked)
}

// Reset clears all limiter state. Exposed for tests and for an operator
// "clear throttle" maintenance path.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	r.state = make(map[actionKey]*limiterState)
	r.mu.Unlock()
}
