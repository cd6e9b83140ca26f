package window

import (
	"sync"
	"time"

	"github.com/svirikk/agree-OIV2/internal/models"
)

// trade is one retained window entry. Exactly one of the volume fields is
// non-zero, decided by the maker flag of the source event.
type trade struct {
	timestamp     time.Time
	price         float64
	buyVolumeUSD  float64
	sellVolumeUSD float64
}

type state struct {
	trades []trade
}

// Aggregator maintains per-instrument sliding windows of executed trades and
// derives aggregate statistics on demand. All mutation goes through the
// aggregator's lock; Stats never mutates.
type Aggregator struct {
	mu      sync.RWMutex
	windows map[string]*state

	window time.Duration
	now    func() time.Time
}

func NewAggregator(window time.Duration) *Aggregator {
	return &Aggregator{
		windows: make(map[string]*state),
		window:  window,
		now:     time.Now,
	}
}

// SetClock overrides the time source, used by tests to advance the window
// deterministically.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// AddTrade appends a trade to the instrument's window and prunes entries older
// than the configured window relative to the new trade's timestamp.
func (a *Aggregator) AddTrade(symbol string, ts time.Time, price, quantity float64, buyerIsMaker bool) {
	volume := price * quantity

	t := trade{timestamp: ts, price: price}
	if buyerIsMaker {
		t.sellVolumeUSD = volume
	} else {
		t.buyVolumeUSD = volume
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.windows[symbol]
	if !ok {
		s = &state{}
		a.windows[symbol] = s
	}
	s.trades = append(s.trades, t)
	s.prune(ts.Add(-a.window))
}

// Stats returns the aggregate view over the instrument's retained trades after
// pruning against the current clock, or nil when the window is empty.
func (a *Aggregator) Stats(symbol string) *models.TradeStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.windows[symbol]
	if !ok {
		return nil
	}
	s.prune(a.now().Add(-a.window))
	if len(s.trades) == 0 {
		return nil
	}

	var buy, sell float64
	for _, t := range s.trades {
		buy += t.buyVolumeUSD
		sell += t.sellVolumeUSD
	}
	total := buy + sell

	first := s.trades[0]
	last := s.trades[len(s.trades)-1]

	// Ties resolve to sell.
	side := "sell"
	dominant := sell
	if buy > sell {
		side = "buy"
		dominant = buy
	}

	dominancePct := 0.0
	if total > 0 {
		dominancePct = dominant / total * 100
	}

	priceChangePct := 0.0
	if first.price > 0 {
		priceChangePct = (last.price - first.price) / first.price * 100
	}

	return &models.TradeStats{
		Symbol:         symbol,
		BuyVolumeUSD:   buy,
		SellVolumeUSD:  sell,
		TotalVolumeUSD: total,
		DominantSide:   side,
		DominancePct:   dominancePct,
		PriceChangePct: priceChangePct,
		FirstPrice:     first.price,
		LastPrice:      last.price,
		WindowSeconds:  last.timestamp.Sub(first.timestamp).Seconds(),
		TradeCount:     len(s.trades),
	}
}

// Reset clears the instrument's window so accumulation starts clean after an
// alert has been admitted.
func (a *Aggregator) Reset(symbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.windows, symbol)
}

// prune drops trades older than the cutoff. Entries are appended in time order
// so the retained suffix starts at the first fresh trade.
func (s *state) prune(cutoff time.Time) {
	idx := 0
	for idx < len(s.trades) && s.trades[idx].timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		s.trades = append(s.trades[:0], s.trades[idx:]...)
	}
}
