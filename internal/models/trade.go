package models

import "time"

// RawTradeMessage represents a single executed trade captured from an exchange
// stream. The maker flag determines which side was the aggressor: when the
// buyer is the passive (maker) side the trade was driven by an aggressive
// seller, and vice versa.
type RawTradeMessage struct {
	Exchange string
	Symbol   string

	Price    float64
	Quantity float64
	// BuyerIsMaker mirrors the exchange maker flag. True means the sell side
	// was the aggressor.
	BuyerIsMaker bool

	Timestamp time.Time
	Payload   []byte
}

// TradeStats is the aggregate view over one instrument's trade window.
type TradeStats struct {
	Symbol string

	BuyVolumeUSD   float64
	SellVolumeUSD  float64
	TotalVolumeUSD float64

	// DominantSide is "buy" when buy volume strictly exceeds sell volume and
	// "sell" otherwise, ties included.
	DominantSide string
	// DominancePct is the larger side's share of total volume in [50,100].
	DominancePct float64

	// PriceChangePct is (last-first)/first*100 across the retained window.
	PriceChangePct float64
	FirstPrice     float64
	LastPrice      float64

	// WindowSeconds is the span actually covered by retained trades, which may
	// be shorter than the configured window right after a reset.
	WindowSeconds float64
	TradeCount    int
}
