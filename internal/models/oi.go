package models

import "time"

// RawOIMessage represents a single open interest observation from the
// open-interest stream.
type RawOIMessage struct {
	Exchange string
	Symbol   string

	// Value is the total outstanding contracts on the instrument.
	Value float64
	// ValueUSD captures the exchange provided notional value when available.
	ValueUSD float64

	Timestamp time.Time
	Payload   []byte
}

// RawMarkPriceMessage represents a mark price update from the premium-index
// stream.
type RawMarkPriceMessage struct {
	Exchange string
	Symbol   string

	MarkPrice   float64
	FundingRate float64

	Timestamp time.Time
	Payload   []byte
}

// OIPoint is one correlated open-interest/mark-price observation retained in
// an instrument's history.
type OIPoint struct {
	Timestamp    time.Time
	OpenInterest float64
	MarkPrice    float64
}

// OISnapshot is the derived window view used by the interpreter. It is
// computed on demand and never stored.
type OISnapshot struct {
	OINow  float64
	OIPast float64
	// OIDeltaPct is the percentage change of open interest across the analysis
	// window. Only meaningful when HasWindowData is true.
	OIDeltaPct float64

	PriceNow      float64
	PricePast     float64
	PriceDeltaPct float64

	// HasWindowData reports whether a history point old enough to span the
	// full analysis window was available.
	HasWindowData bool
}
