package oicache

import (
	"sync"
	"time"

	"github.com/svirikk/agree-OIV2/internal/models"
)

type entry struct {
	latestOI        float64
	latestOITime    time.Time
	latestPrice     float64
	latestPriceTime time.Time
	hasOI           bool
	hasPrice        bool

	history []models.OIPoint
}

// Cache stores the latest open-interest and mark-price per instrument plus a
// bounded time-ordered history of correlated points. A point is appended only
// once both values are known, so every history entry carries both metrics.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	analysisWindow time.Duration
	retention      time.Duration
}

// NewCache builds a cache answering "value analysisWindow ago" queries. The
// retention horizon must be at least twice the analysis window so lookups
// always find a sufficiently old point once the history has warmed up.
func NewCache(analysisWindow, retention time.Duration) *Cache {
	if retention < 2*analysisWindow {
		retention = 2 * analysisWindow
	}
	return &Cache{
		entries:        make(map[string]*entry),
		analysisWindow: analysisWindow,
		retention:      retention,
	}
}

func (c *Cache) RecordOpenInterest(symbol string, ts time.Time, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(symbol)
	e.latestOI = value
	e.latestOITime = ts
	e.hasOI = true
	e.appendPoint(ts, c.retention)
}

func (c *Cache) RecordMarkPrice(symbol string, ts time.Time, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(symbol)
	e.latestPrice = value
	e.latestPriceTime = ts
	e.hasPrice = true
	e.appendPoint(ts, c.retention)
}

// Snapshot computes the derived window view for the instrument, or nil when no
// history exists yet. The newest point acts as "now"; the past point is the
// most recent one at or before now minus the analysis window. When no point is
// old enough HasWindowData is false and the deltas are unset.
func (c *Cache) Snapshot(symbol string) *models.OISnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[symbol]
	if !ok || len(e.history) == 0 {
		return nil
	}

	now := e.history[len(e.history)-1]
	snap := &models.OISnapshot{
		OINow:    now.OpenInterest,
		PriceNow: now.MarkPrice,
	}

	cutoff := now.Timestamp.Add(-c.analysisWindow)
	for i := len(e.history) - 1; i >= 0; i-- {
		p := e.history[i]
		if p.Timestamp.After(cutoff) {
			continue
		}
		snap.OIPast = p.OpenInterest
		snap.PricePast = p.MarkPrice
		snap.HasWindowData = true
		if p.OpenInterest != 0 {
			snap.OIDeltaPct = (now.OpenInterest - p.OpenInterest) / p.OpenInterest * 100
		}
		if p.MarkPrice != 0 {
			snap.PriceDeltaPct = (now.MarkPrice - p.MarkPrice) / p.MarkPrice * 100
		}
		break
	}

	return snap
}

// HistoryLen reports the number of retained points for an instrument.
func (c *Cache) HistoryLen(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[symbol]; ok {
		return len(e.history)
	}
	return 0
}

func (c *Cache) entry(symbol string) *entry {
	e, ok := c.entries[symbol]
	if !ok {
		e = &entry{}
		c.entries[symbol] = e
	}
	return e
}

// appendPoint records a correlated point once both metrics are known and
// prunes history older than the retention horizon.
func (e *entry) appendPoint(ts time.Time, retention time.Duration) {
	if !e.hasOI || !e.hasPrice {
		return
	}

	e.history = append(e.history, models.OIPoint{
		Timestamp:    ts,
		OpenInterest: e.latestOI,
		MarkPrice:    e.latestPrice,
	})

	cutoff := ts.Add(-retention)
	idx := 0
	for idx < len(e.history) && e.history[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		e.history = append(e.history[:0], e.history[idx:]...)
	}
}
