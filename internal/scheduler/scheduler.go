package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/logger"
)

// SnapshotFunc fetches a fresh open-interest snapshot for an instrument.
type SnapshotFunc func(instrument string) *models.OISnapshot

// InterpretFunc re-runs the signal interpreter against the original stats and
// a fresher snapshot.
type InterpretFunc func(stats models.TradeStats, snap *models.OISnapshot) models.Interpretation

// EmitFunc delivers one finalized alert record. Failures are reported by the
// caller-provided implementation; the scheduler treats emission as
// fire-and-forget and never re-queues.
type EmitFunc func(record models.AlertRecord) error

type pendingEntry struct {
	candidate *models.AlertCandidate
	timer     Timer
	revised   bool
}

// Scheduler holds admitted alert candidates keyed by (instrument, side),
// performs one late re-interpretation shortly before each minute boundary and
// flushes all pending alerts at the boundary.
type Scheduler struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry

	clock  Clock
	offset time.Duration

	snapshot    SnapshotFunc
	reinterpret InterpretFunc
	emit        EmitFunc

	flushTimer Timer
	closed     bool

	log *logger.Log
}

func New(clock Clock, finalCheckOffset time.Duration, snapshot SnapshotFunc, reinterpret InterpretFunc, emit EmitFunc) *Scheduler {
	return &Scheduler{
		pending:     make(map[string]*pendingEntry),
		clock:       clock,
		offset:      finalCheckOffset,
		snapshot:    snapshot,
		reinterpret: reinterpret,
		emit:        emit,
		log:         logger.GetLogger(),
	}
}

// Start arms the periodic minute-boundary flush. The provided context only
// gates re-arming; Stop must still be called to cancel pending timers.
func (s *Scheduler) Start(ctx context.Context) {
	s.armFlush(ctx)
	s.log.WithComponent("alert_scheduler").WithFields(logger.Fields{
		"final_check_offset": s.offset.String(),
	}).Info("alert scheduler started")
}

// Stop cancels the flush timer and every armed revision timer. Pending
// candidates are discarded; timers firing afterwards observe the closed flag
// and do nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.flushTimer != nil {
		s.flushTimer.Stop()
	}
	for _, e := range s.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	s.pending = make(map[string]*pendingEntry)
	s.log.WithComponent("alert_scheduler").Info("alert scheduler stopped")
}

// Admit stores a candidate for its (instrument, side) key and arms the late
// revision timer. At most one candidate per key is held per cycle; a second
// admission before the flush is dropped and Admit returns false.
func (s *Scheduler) Admit(c *models.AlertCandidate) bool {
	k := c.Instrument + "|" + c.Side

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if _, exists := s.pending[k]; exists {
		return false
	}

	e := &pendingEntry{candidate: c}
	s.pending[k] = e

	now := s.clock.Now()
	reviseAt := nextMinuteBoundary(now).Add(-s.offset)
	if d := reviseAt.Sub(now); d > 0 {
		e.timer = s.clock.AfterFunc(d, func() { s.revise(k) })
	}

	s.log.WithComponent("alert_scheduler").WithFields(logger.Fields{
		"instrument": c.Instrument,
		"side":       c.Side,
		"direction":  string(c.Interpretation.FinalDirection),
	}).Debug("alert candidate admitted")
	return true
}

// PendingCount reports the number of held candidates.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// revise re-queries the open-interest cache and re-runs the interpreter
// against the original stats snapshot. Without sufficient window data the
// candidate is left unchanged.
func (s *Scheduler) revise(k string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	e, ok := s.pending[k]
	if !ok {
		return
	}

	snap := s.snapshot(e.candidate.Instrument)
	if snap == nil || !snap.HasWindowData {
		return
	}

	before := e.candidate.Interpretation.FinalDirection
	e.candidate.OISnapshot = snap
	e.candidate.Interpretation = s.reinterpret(e.candidate.Stats, snap)
	e.revised = true

	s.log.WithComponent("alert_scheduler").WithFields(logger.Fields{
		"instrument":       e.candidate.Instrument,
		"side":             e.candidate.Side,
		"direction_before": string(before),
		"direction_after":  string(e.candidate.Interpretation.FinalDirection),
	}).Debug("alert candidate revised with fresh open interest")
}

// Flush emits every pending candidate exactly once and clears all state. A
// failed emission is logged and does not block the remaining candidates; the
// failed candidate is not re-queued. Safe to call with nothing pending.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	batch := make([]*pendingEntry, 0, len(s.pending))
	for _, e := range s.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		batch = append(batch, e)
	}
	s.pending = make(map[string]*pendingEntry)
	s.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	emittedAt := s.clock.Now().UnixMilli()
	for _, e := range batch {
		record := buildRecord(e.candidate, emittedAt)
		if err := s.emit(record); err != nil {
			s.log.WithComponent("alert_scheduler").WithError(err).WithFields(logger.Fields{
				"instrument": record.Instrument,
				"alert_id":   record.AlertID,
			}).Warn("alert emission failed, not re-queued")
			continue
		}
		logger.IncrementAlertEmitted()
	}
}

func (s *Scheduler) armFlush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || ctx.Err() != nil {
		return
	}

	now := s.clock.Now()
	d := nextMinuteBoundary(now).Sub(now)
	s.flushTimer = s.clock.AfterFunc(d, func() {
		s.Flush()
		s.armFlush(ctx)
	})
}

func buildRecord(c *models.AlertCandidate, emittedAtMs int64) models.AlertRecord {
	record := models.AlertRecord{
		AlertID:    uuid.NewString(),
		Instrument: c.Instrument,

		FinalDirection: c.Interpretation.FinalDirection,
		BaseDirection:  c.Interpretation.BaseDirection,
		DecisionKind:   c.Interpretation.DecisionKind,

		TotalVolumeUSD: c.Stats.TotalVolumeUSD,
		DominancePct:   c.Stats.DominancePct,
		PriceChangePct: c.Stats.PriceChangePct,
		LastPrice:      c.Stats.LastPrice,

		WindowDurationSec: c.Stats.WindowSeconds,
		TradeCount:        c.Stats.TradeCount,

		OIUsed:                 c.Interpretation.OIUsed,
		OIDeltaThresholdPassed: c.Interpretation.OIDeltaPassed,
		OIPriceThresholdPassed: c.Interpretation.OIPricePassed,
		OverrideApplied:        c.Interpretation.OverrideApplied,

		Reason:      c.Interpretation.Reason,
		EmittedAtMs: emittedAtMs,
	}

	if c.OISnapshot != nil {
		record.OI = &models.AlertOI{
			Now:           c.OISnapshot.OINow,
			Past:          c.OISnapshot.OIPast,
			DeltaPct:      c.OISnapshot.OIDeltaPct,
			PriceNow:      c.OISnapshot.PriceNow,
			PricePast:     c.OISnapshot.PricePast,
			PriceDeltaPct: c.OISnapshot.PriceDeltaPct,
		}
	}

	return record
}

func nextMinuteBoundary(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}
