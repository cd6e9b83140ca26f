package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/svirikk/agree-OIV2/internal/models"
)

type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := t.stopped
	t.stopped = true
	return !was
}

type scheduledFunc struct {
	at    time.Time
	f     func()
	timer *fakeTimer
}

// fakeClock records AfterFunc registrations so tests fire them explicitly.
type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	scheduled []*scheduledFunc
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &scheduledFunc{at: c.now.Add(d), f: f, timer: &fakeTimer{}}
	c.scheduled = append(c.scheduled, s)
	return s.timer
}

// advance moves the clock and fires every due, unstopped callback.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	due := make([]*scheduledFunc, 0)
	rest := c.scheduled[:0]
	for _, s := range c.scheduled {
		if !s.timer.stopped && !s.at.After(c.now) {
			due = append(due, s)
			continue
		}
		rest = append(rest, s)
	}
	c.scheduled = rest
	c.mu.Unlock()

	for _, s := range due {
		s.f()
	}
}

func candidate(instrument, side string) *models.AlertCandidate {
	return &models.AlertCandidate{
		Instrument: instrument,
		Side:       side,
		Stats: models.TradeStats{
			Symbol:         instrument,
			DominantSide:   side,
			TotalVolumeUSD: 2_000_000,
			DominancePct:   70,
			PriceChangePct: 1.0,
			LastPrice:      100,
			TradeCount:     50,
		},
		Interpretation: models.Interpretation{
			BaseDirection:  models.DirectionLong,
			FinalDirection: models.DirectionLong,
			DecisionKind:   models.DecisionBase,
			Reason:         "short squeeze",
		},
	}
}

func newTestScheduler(clock Clock, snapshot SnapshotFunc, reinterpret InterpretFunc, emit EmitFunc) *Scheduler {
	if snapshot == nil {
		snapshot = func(string) *models.OISnapshot { return nil }
	}
	if reinterpret == nil {
		reinterpret = func(stats models.TradeStats, snap *models.OISnapshot) models.Interpretation {
			return models.Interpretation{}
		}
	}
	if emit == nil {
		emit = func(models.AlertRecord) error { return nil }
	}
	return New(clock, 5*time.Second, snapshot, reinterpret, emit)
}

func TestAdmitDeduplicatesPerKey(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC))
	s := newTestScheduler(clock, nil, nil, nil)

	if !s.Admit(candidate("BTCUSDT", "buy")) {
		t.Fatal("first admission should succeed")
	}
	if s.Admit(candidate("BTCUSDT", "buy")) {
		t.Error("second admission for the same key should be dropped")
	}
	if !s.Admit(candidate("BTCUSDT", "sell")) {
		t.Error("other side should be admitted independently")
	}
	if !s.Admit(candidate("ETHUSDT", "buy")) {
		t.Error("other instrument should be admitted independently")
	}
	if got := s.PendingCount(); got != 3 {
		t.Errorf("expected 3 pending candidates, got %d", got)
	}
}

func TestFlushEmitsAllAndClears(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC))

	var mu sync.Mutex
	var emitted []models.AlertRecord
	emit := func(r models.AlertRecord) error {
		mu.Lock()
		emitted = append(emitted, r)
		mu.Unlock()
		return nil
	}

	s := newTestScheduler(clock, nil, nil, emit)
	s.Admit(candidate("BTCUSDT", "buy"))
	s.Admit(candidate("ETHUSDT", "sell"))

	s.Flush()

	if len(emitted) != 2 {
		t.Fatalf("expected 2 emitted records, got %d", len(emitted))
	}
	if s.PendingCount() != 0 {
		t.Error("flush should clear all pending candidates")
	}
	if emitted[0].AlertID == "" || emitted[0].AlertID == emitted[1].AlertID {
		t.Error("records should carry distinct non-empty alert ids")
	}
	if emitted[0].EmittedAtMs != emitted[1].EmittedAtMs {
		t.Error("records in one flush should share the emission timestamp")
	}

	// Second flush with nothing pending is a no-op.
	s.Flush()
	if len(emitted) != 2 {
		t.Error("empty flush must not emit")
	}
}

func TestFlushContinuesPastFailures(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC))

	var mu sync.Mutex
	calls := 0
	emit := func(r models.AlertRecord) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}

	s := newTestScheduler(clock, nil, nil, emit)
	s.Admit(candidate("BTCUSDT", "buy"))
	s.Admit(candidate("ETHUSDT", "sell"))

	s.Flush()

	if calls != 2 {
		t.Errorf("a failed emission should not stop the batch, got %d calls", calls)
	}
	if s.PendingCount() != 0 {
		t.Error("failed candidates must not be re-queued")
	}
}

func TestReviseReplacesInterpretation(t *testing.T) {
	// 12:00:10 -> revision timer due at 12:00:55 (boundary minus 5s offset).
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC))

	snap := &models.OISnapshot{
		HasWindowData: true,
		OIDeltaPct:    1.0,
		PriceDeltaPct: -1.0,
	}
	snapshot := func(string) *models.OISnapshot { return snap }
	reinterpret := func(stats models.TradeStats, s *models.OISnapshot) models.Interpretation {
		return models.Interpretation{
			BaseDirection:   models.DirectionLong,
			FinalDirection:  models.DirectionShort,
			DecisionKind:    models.DecisionContinuation,
			OIUsed:          true,
			OverrideApplied: true,
			Reason:          "oi rising into falling price",
		}
	}

	var emitted []models.AlertRecord
	emit := func(r models.AlertRecord) error {
		emitted = append(emitted, r)
		return nil
	}

	s := newTestScheduler(clock, snapshot, reinterpret, emit)
	s.Admit(candidate("BTCUSDT", "buy"))

	clock.advance(45 * time.Second) // 12:00:55, revision fires
	s.Flush()

	if len(emitted) != 1 {
		t.Fatalf("expected 1 record, got %d", len(emitted))
	}
	r := emitted[0]
	if r.FinalDirection != models.DirectionShort {
		t.Errorf("expected revised direction SHORT, got %s", r.FinalDirection)
	}
	if !r.OverrideApplied || !r.OIUsed {
		t.Errorf("expected revised flags on the record, got %+v", r)
	}
	if r.OI == nil || r.OI.DeltaPct != 1.0 {
		t.Errorf("expected revised snapshot attached, got %+v", r.OI)
	}
}

func TestReviseSkippedWithoutWindowData(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC))

	snapshot := func(string) *models.OISnapshot {
		return &models.OISnapshot{HasWindowData: false}
	}
	reinterpret := func(stats models.TradeStats, s *models.OISnapshot) models.Interpretation {
		t.Error("reinterpret must not run without window data")
		return models.Interpretation{}
	}

	var emitted []models.AlertRecord
	emit := func(r models.AlertRecord) error {
		emitted = append(emitted, r)
		return nil
	}

	s := newTestScheduler(clock, snapshot, reinterpret, emit)
	s.Admit(candidate("BTCUSDT", "buy"))

	clock.advance(45 * time.Second)
	s.Flush()

	if len(emitted) != 1 {
		t.Fatalf("expected 1 record, got %d", len(emitted))
	}
	if emitted[0].FinalDirection != models.DirectionLong {
		t.Errorf("expected original interpretation kept, got %s", emitted[0].FinalDirection)
	}
}

func TestStartFlushesAtMinuteBoundary(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC))

	var mu sync.Mutex
	var emitted []models.AlertRecord
	emit := func(r models.AlertRecord) error {
		mu.Lock()
		emitted = append(emitted, r)
		mu.Unlock()
		return nil
	}

	s := newTestScheduler(clock, nil, nil, emit)
	s.Start(context.Background())
	defer s.Stop()

	s.Admit(candidate("BTCUSDT", "buy"))

	clock.advance(50 * time.Second) // 12:01:00, flush timer fires

	mu.Lock()
	n := len(emitted)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected the boundary flush to emit 1 record, got %d", n)
	}
	if s.PendingCount() != 0 {
		t.Error("boundary flush should clear pending state")
	}
}

func TestStopDiscardsPending(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 10, 0, time.UTC))

	emitCalls := 0
	emit := func(models.AlertRecord) error {
		emitCalls++
		return nil
	}

	s := newTestScheduler(clock, nil, nil, emit)
	s.Start(context.Background())
	s.Admit(candidate("BTCUSDT", "buy"))
	s.Stop()

	if s.PendingCount() != 0 {
		t.Error("stop should discard pending candidates")
	}
	if s.Admit(candidate("ETHUSDT", "buy")) {
		t.Error("admission after stop should be rejected")
	}

	clock.advance(2 * time.Minute)
	if emitCalls != 0 {
		t.Errorf("timers firing after stop must not emit, got %d", emitCalls)
	}
}
