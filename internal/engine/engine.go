package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	appconfig "github.com/svirikk/agree-OIV2/config"
	"github.com/svirikk/agree-OIV2/internal/channel"
	"github.com/svirikk/agree-OIV2/internal/cooldown"
	"github.com/svirikk/agree-OIV2/internal/interpret"
	metrics "github.com/svirikk/agree-OIV2/internal/metrics"
	"github.com/svirikk/agree-OIV2/internal/models"
	"github.com/svirikk/agree-OIV2/internal/notifier"
	"github.com/svirikk/agree-OIV2/internal/oicache"
	"github.com/svirikk/agree-OIV2/internal/scheduler"
	"github.com/svirikk/agree-OIV2/internal/window"
	"github.com/svirikk/agree-OIV2/logger"
)

// Engine wires feed events into the aggregator and cache, runs the
// interpreter on threshold crossings and hands admitted candidates to the
// scheduler. One goroutine per stream keeps per-instrument mutation
// serialized; derived reads go through the components' own locks.
type Engine struct {
	cfg      *appconfig.Config
	channels *channel.Channels

	aggregator *window.Aggregator
	cache      *oicache.Cache
	gate       *cooldown.Gate
	sched      *scheduler.Scheduler
	sender     notifier.Sender

	// archive receives a copy of every emitted record when the alert archive
	// writer is enabled. Non-blocking; a full buffer drops the copy.
	archive chan<- models.AlertRecord

	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
}

// NewEngine builds the detection core from configuration. The sender may be
// nil when notification is disabled; emitted records are then only logged and
// archived.
func NewEngine(cfg *appconfig.Config, ch *channel.Channels, sender notifier.Sender, archive chan<- models.AlertRecord) *Engine {
	e := &Engine{
		cfg:        cfg,
		channels:   ch,
		aggregator: window.NewAggregator(cfg.Detector.TradeWindow()),
		cache:      oicache.NewCache(cfg.Detector.OpenInterest.AnalysisWindow(), cfg.Detector.OpenInterest.Retention()),
		gate:       cooldown.NewGate(),
		sender:     sender,
		archive:    archive,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}

	e.sched = scheduler.New(
		scheduler.RealClock(),
		cfg.Detector.FinalCheckOffset(),
		e.snapshot,
		e.reinterpret,
		e.emit,
	)

	return e
}

// Start launches one consumer per stream and arms the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.ctx = ctx
	e.mu.Unlock()

	log := e.log.WithComponent("engine")
	log.Info("starting detection engine")

	e.sched.Start(ctx)

	e.wg.Add(1)
	go e.tradeWorker()

	e.wg.Add(1)
	go e.oiWorker()

	e.wg.Add(1)
	go e.priceWorker()

	log.Info("detection engine started")
	return nil
}

// Stop cancels scheduler timers and waits for the stream consumers to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.log.WithComponent("engine").Info("stopping detection engine")
	e.sched.Stop()
	e.wg.Wait()
	e.log.WithComponent("engine").Info("detection engine stopped")
}

func (e *Engine) tradeWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-e.channels.Trade.Raw:
			if !ok {
				return
			}
			e.handleTrade(msg)
		}
	}
}

func (e *Engine) oiWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-e.channels.OI.OI:
			if !ok {
				return
			}
			if msg.Symbol == "" || msg.Value < 0 || msg.Timestamp.IsZero() {
				metrics.EmitDropMetric(e.log, metrics.DropMetricMalformed, "open_interest", msg.Symbol, "validate")
				continue
			}
			e.cache.RecordOpenInterest(msg.Symbol, msg.Timestamp, msg.Value)
		}
	}
}

func (e *Engine) priceWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-e.channels.OI.Price:
			if !ok {
				return
			}
			if msg.Symbol == "" || msg.MarkPrice <= 0 || msg.Timestamp.IsZero() {
				metrics.EmitDropMetric(e.log, metrics.DropMetricMalformed, "mark_price", msg.Symbol, "validate")
				continue
			}
			e.cache.RecordMarkPrice(msg.Symbol, msg.Timestamp, msg.MarkPrice)
		}
	}
}

// handleTrade validates, aggregates and evaluates one executed trade.
func (e *Engine) handleTrade(msg models.RawTradeMessage) {
	if msg.Symbol == "" || msg.Price <= 0 || msg.Quantity <= 0 || msg.Timestamp.IsZero() {
		metrics.EmitDropMetric(e.log, metrics.DropMetricMalformed, "trade", msg.Symbol, "validate")
		return
	}

	e.aggregator.AddTrade(msg.Symbol, msg.Timestamp, msg.Price, msg.Quantity, msg.BuyerIsMaker)
	metrics.IncrementTradeProcessed(msg.Symbol)

	stats := e.aggregator.Stats(msg.Symbol)
	if stats == nil {
		return
	}

	limits := e.cfg.Detector.Limits(msg.Symbol)
	if !crossed(stats, limits) {
		return
	}

	snap := e.snapshot(msg.Symbol)
	interpretation := e.reinterpret(*stats, snap)

	if !e.gate.CanEmit(msg.Symbol, stats.DominantSide, limits.Cooldown()) {
		return
	}

	candidate := &models.AlertCandidate{
		Instrument:     msg.Symbol,
		Side:           stats.DominantSide,
		Stats:          *stats,
		Interpretation: interpretation,
		OISnapshot:     snap,
		CreatedAt:      msg.Timestamp,
	}

	if !e.sched.Admit(candidate) {
		return
	}

	// Stamping the cooldown at admission is what keeps the gate closed for
	// the rest of this scheduler cycle.
	e.gate.RecordEmission(msg.Symbol, stats.DominantSide)
	e.aggregator.Reset(msg.Symbol)
	metrics.IncrementAlertAdmitted(msg.Symbol, stats.DominantSide)

	e.log.WithComponent("engine").WithFields(logger.Fields{
		"instrument":    msg.Symbol,
		"side":          stats.DominantSide,
		"volume_usd":    stats.TotalVolumeUSD,
		"dominance_pct": stats.DominancePct,
		"direction":     string(interpretation.FinalDirection),
		"decision":      string(interpretation.DecisionKind),
	}).Info("alert candidate admitted")
}

// crossed applies the per-instrument trigger thresholds.
func crossed(stats *models.TradeStats, limits appconfig.InstrumentLimits) bool {
	if stats.TotalVolumeUSD < limits.MinVolumeUSD {
		return false
	}
	if stats.DominancePct < limits.MinDominancePct {
		return false
	}
	if math.Abs(stats.PriceChangePct) < limits.MinPriceChangePct {
		return false
	}
	return true
}

func (e *Engine) snapshot(instrument string) *models.OISnapshot {
	if !e.cfg.Detector.OpenInterest.Enabled {
		return nil
	}
	return e.cache.Snapshot(instrument)
}

func (e *Engine) reinterpret(stats models.TradeStats, snap *models.OISnapshot) models.Interpretation {
	return interpret.Evaluate(stats, snap, e.cfg.Detector.OpenInterest)
}

// emit forwards one flushed record to the notification sink and the archive.
// Delivery failures are counted and reported but never block the flush.
func (e *Engine) emit(record models.AlertRecord) error {
	if e.archive != nil {
		select {
		case e.archive <- record:
		default:
			metrics.EmitDropMetric(e.log, metrics.DropMetricArchive, "archive", record.Instrument, "backpressure")
		}
	}

	metrics.IncrementAlertEmitted(record.Instrument, string(record.FinalDirection))

	if e.sender == nil {
		e.log.WithComponent("engine").WithFields(logger.Fields{
			"instrument": record.Instrument,
			"direction":  string(record.FinalDirection),
			"reason":     record.Reason,
		}).Info("alert emitted (notification disabled)")
		return nil
	}

	if err := e.sender.Send(e.ctx, record); err != nil {
		metrics.IncrementNotifyFailure(record.Instrument)
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}

// Aggregator exposes the trade window registry, used by tests.
func (e *Engine) Aggregator() *window.Aggregator { return e.aggregator }

// Cache exposes the open-interest history cache, used by tests.
func (e *Engine) Cache() *oicache.Cache { return e.cache }

// Scheduler exposes the alert scheduler, used by tests.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.sched }
