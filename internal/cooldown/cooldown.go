package cooldown

import (
	"sync"
	"time"
)

// Gate suppresses repeated alerts for the same instrument and direction within
// a configured interval. Entries are never expired eagerly; freshness is
// checked on every query.
type Gate struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewGate() *Gate {
	return &Gate{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// SetClock overrides the time source for tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// CanEmit reports whether no emission is recorded for the key or the
// configured cooldown has elapsed since the last one.
func (g *Gate) CanEmit(instrument, side string, cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts, ok := g.last[key(instrument, side)]
	if !ok {
		return true
	}
	return g.now().Sub(ts) >= cooldown
}

// RecordEmission stamps the current time for the key, overwriting any prior
// entry.
func (g *Gate) RecordEmission(instrument, side string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[key(instrument, side)] = g.now()
}

func key(instrument, side string) string {
	return instrument + "|" + side
}
