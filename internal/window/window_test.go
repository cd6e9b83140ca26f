package window

import (
	"math"
	"testing"
	"time"
)

func TestStatsVolumeIdentity(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base.Add(30 * time.Second) })

	a.AddTrade("BTCUSDT", base, 100, 2, false)
	a.AddTrade("BTCUSDT", base.Add(10*time.Second), 101, 1, true)
	a.AddTrade("BTCUSDT", base.Add(20*time.Second), 102, 3, false)

	stats := a.Stats("BTCUSDT")
	if stats == nil {
		t.Fatal("expected stats for populated window")
	}

	if got := stats.BuyVolumeUSD + stats.SellVolumeUSD; math.Abs(got-stats.TotalVolumeUSD) > 1e-9 {
		t.Errorf("buy+sell = %f, total = %f", got, stats.TotalVolumeUSD)
	}
	if stats.TradeCount != 3 {
		t.Errorf("expected 3 trades, got %d", stats.TradeCount)
	}
	if stats.BuyVolumeUSD != 100*2+102*3 {
		t.Errorf("unexpected buy volume %f", stats.BuyVolumeUSD)
	}
	if stats.SellVolumeUSD != 101*1 {
		t.Errorf("unexpected sell volume %f", stats.SellVolumeUSD)
	}
}

func TestStatsDominanceRange(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base.Add(time.Second) })

	a.AddTrade("ETHUSDT", base, 50, 4, false)
	a.AddTrade("ETHUSDT", base, 50, 1, true)

	stats := a.Stats("ETHUSDT")
	if stats == nil {
		t.Fatal("expected stats")
	}
	if stats.DominancePct < 50 || stats.DominancePct > 100 {
		t.Errorf("dominance %f outside [50, 100]", stats.DominancePct)
	}
	if stats.DominantSide != "buy" {
		t.Errorf("expected buy dominance, got %s", stats.DominantSide)
	}
	if math.Abs(stats.DominancePct-80) > 1e-9 {
		t.Errorf("expected dominance 80, got %f", stats.DominancePct)
	}
}

func TestStatsTieResolvesToSell(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base.Add(time.Second) })

	a.AddTrade("SOLUSDT", base, 10, 5, false)
	a.AddTrade("SOLUSDT", base, 10, 5, true)

	stats := a.Stats("SOLUSDT")
	if stats == nil {
		t.Fatal("expected stats")
	}
	if stats.DominantSide != "sell" {
		t.Errorf("tie should resolve to sell, got %s", stats.DominantSide)
	}
	if math.Abs(stats.DominancePct-50) > 1e-9 {
		t.Errorf("expected dominance 50 on a tie, got %f", stats.DominancePct)
	}
}

func TestStatsPriceChange(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base.Add(time.Second) })

	a.AddTrade("BTCUSDT", base, 100, 1, false)
	a.AddTrade("BTCUSDT", base.Add(time.Second), 101, 1, false)

	stats := a.Stats("BTCUSDT")
	if stats == nil {
		t.Fatal("expected stats")
	}
	if math.Abs(stats.PriceChangePct-1.0) > 1e-9 {
		t.Errorf("expected +1%% price change, got %f", stats.PriceChangePct)
	}
	if stats.FirstPrice != 100 || stats.LastPrice != 101 {
		t.Errorf("unexpected first/last prices %f/%f", stats.FirstPrice, stats.LastPrice)
	}
}

func TestStatsNilAfterWindowExpires(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a.AddTrade("BTCUSDT", base, 100, 1, false)

	a.SetClock(func() time.Time { return base.Add(30 * time.Second) })
	if stats := a.Stats("BTCUSDT"); stats == nil {
		t.Fatal("expected stats inside the window")
	}

	a.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	if stats := a.Stats("BTCUSDT"); stats != nil {
		t.Errorf("expected nil stats after expiry, got %+v", stats)
	}
}

func TestStatsUnknownSymbol(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	if stats := a.Stats("XRPUSDT"); stats != nil {
		t.Errorf("expected nil stats for unknown symbol, got %+v", stats)
	}
}

func TestAddTradePrunesAgainstEventTime(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base.Add(3 * time.Minute) })

	a.AddTrade("BTCUSDT", base, 100, 1, false)
	a.AddTrade("BTCUSDT", base.Add(3*time.Minute), 110, 1, false)

	// The clock sits exactly at the second trade so only it survives.
	stats := a.Stats("BTCUSDT")
	if stats == nil {
		t.Fatal("expected stats")
	}
	if stats.TradeCount != 1 {
		t.Errorf("expected the stale trade pruned, got %d trades", stats.TradeCount)
	}
	if stats.FirstPrice != 110 {
		t.Errorf("expected first price 110 after pruning, got %f", stats.FirstPrice)
	}
}

func TestResetClearsWindow(t *testing.T) {
	a := NewAggregator(60 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base.Add(time.Second) })

	a.AddTrade("BTCUSDT", base, 100, 1, false)
	a.Reset("BTCUSDT")

	if stats := a.Stats("BTCUSDT"); stats != nil {
		t.Errorf("expected nil stats after reset, got %+v", stats)
	}
}
