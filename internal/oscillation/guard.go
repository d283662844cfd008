// Package oscillation blocks flip-flopping rule changes.
//
// Repeated changes to the same rule area in a short window usually mean the
// evaluator is disagreeing with itself: a patch gets applied, the next cycle
// suggests the inverse, and the rule set thrashes. The guard freezes a hot
// area for a cooldown period so the operators (or more data) can break the
// tie.
package oscillation

import (
	"log"
	"sync"
	"time"
)

const (
	// DefaultWindow is how far back changes count toward the hot threshold.
	DefaultWindow = time.Hour
	// DefaultCooldown is how long a frozen area stays frozen.
	DefaultCooldown = 24 * time.Hour
	// hotThreshold is the number of recent changes that freezes an area.
	hotThreshold = 2
)

// Guard tracks recent changes per rule area and freezes hot areas.
// Safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	window   time.Duration
	cooldown time.Duration
	now      func() time.Time

	changes map[string][]time.Time
	frozen  map[string]time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithWindow overrides the sliding-window duration.
func WithWindow(d time.Duration) Option {
	return func(g *Guard) { g.window = d }
}

// WithCooldown overrides the freeze duration.
func WithCooldown(d time.Duration) Option {
	return func(g *Guard) { g.cooldown = d }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a guard with the default 1h window and 24h cooldown.
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		window:   DefaultWindow,
		cooldown: DefaultCooldown,
		now:      time.Now,
		changes:  make(map[string][]time.Time),
		frozen:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TrackChange records a successful mutation in the given rule area and
// prunes entries older than the window.
func (g *Guard) TrackChange(area string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.changes[area] = append(g.prune(area, now), now)
}

// CheckOscillation reports whether the area is currently blocked. A caller
// intending to mutate rules in an area must call this first and proceed only
// on false, then TrackChange after the mutation succeeds.
//
// An area with hotThreshold or more changes inside the window is frozen on
// the spot; a frozen area stays blocked until the cooldown elapses.
func (g *Guard) CheckOscillation(area string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if frozenAt, ok := g.frozen[area]; ok {
		if now.Sub(frozenAt) < g.cooldown {
			return true
		}
		delete(g.frozen, area)
	}

	recent := g.prune(area, now)
	g.changes[area] = recent
	if len(recent) >= hotThreshold {
		g.frozen[area] = now
		log.Printf("rule area %s frozen for %v after %d changes within %v", area, g.cooldown, len(recent), g.window)
		return true
	}
	return false
}

// Unfreeze lifts a freeze early (operator override).
func (g *Guard) Unfreeze(area string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.frozen, area)
}

// FrozenAreas returns the currently frozen areas, for status output.
func (g *Guard) FrozenAreas() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var out []string
	for area, at := range g.frozen {
		if now.Sub(at) < g.cooldown {
			out = append(out, area)
		}
	}
	return out
}

// prune returns the area's change timestamps newer than the window.
// Caller must hold g.mu.
func (g *Guard) prune(area string, now time.Time) []time.Time {
	cutoff := now.Add(-g.window)
	var kept []time.Time
	for _, t := range g.changes[area] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
