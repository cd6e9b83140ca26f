package models

import "time"

// Direction is the emitted positioning bias of an alert.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// DecisionKind classifies how the final direction was reached.
type DecisionKind string

const (
	// DecisionBase means open interest was not used and the flow direction
	// stands as classified from aggressor volume alone.
	DecisionBase DecisionKind = "BASE"
	// DecisionBounce means open interest contradicted the price move, flipping
	// the direction against the flow.
	DecisionBounce DecisionKind = "BOUNCE"
	// DecisionContinuation means open interest confirmed the price move.
	DecisionContinuation DecisionKind = "CONTINUATION"
	// DecisionInconclusive means neither price nor open interest moved enough
	// to classify, so the base direction was kept.
	DecisionInconclusive DecisionKind = "INCONCLUSIVE"
)

// Interpretation is the deterministic result of reconciling trade flow against
// open-interest dynamics.
type Interpretation struct {
	BaseDirection  Direction
	FinalDirection Direction
	DecisionKind   DecisionKind

	OIUsed        bool
	OIDeltaPassed bool
	OIPricePassed bool

	OverrideApplied bool
	Reason          string
}

// AlertCandidate is a pending alert keyed by (instrument, dominant side),
// owned by the scheduler between admission and flush.
type AlertCandidate struct {
	Instrument string
	Side       string

	Stats          TradeStats
	Interpretation Interpretation
	OISnapshot     *OISnapshot

	CreatedAt time.Time
}

// AlertOI is the open-interest block attached to an emitted alert. Nil on the
// record when no snapshot was available at decision time.
type AlertOI struct {
	Now           float64 `json:"now"`
	Past          float64 `json:"past"`
	DeltaPct      float64 `json:"deltaPct"`
	PriceNow      float64 `json:"priceNow"`
	PricePast     float64 `json:"pricePast"`
	PriceDeltaPct float64 `json:"priceDeltaPct"`
}

// AlertRecord is the finalized record handed to the notification sink, one per
// flushed candidate.
type AlertRecord struct {
	AlertID    string `json:"alertId"`
	Instrument string `json:"instrument"`

	FinalDirection Direction    `json:"finalDirection"`
	BaseDirection  Direction    `json:"baseDirection"`
	DecisionKind   DecisionKind `json:"decisionKind"`

	TotalVolumeUSD float64 `json:"totalVolumeUSD"`
	DominancePct   float64 `json:"dominancePct"`
	PriceChangePct float64 `json:"priceChangePct"`
	LastPrice      float64 `json:"lastPrice"`

	WindowDurationSec float64 `json:"windowDurationSec"`
	TradeCount        int     `json:"tradeCount"`

	OI *AlertOI `json:"oi"`

	OIUsed                 bool `json:"oiUsed"`
	OIDeltaThresholdPassed bool `json:"oiDeltaThresholdPassed"`
	OIPriceThresholdPassed bool `json:"oiPriceThresholdPassed"`
	OverrideApplied        bool `json:"overrideApplied"`

	Reason      string `json:"reason"`
	EmittedAtMs int64  `json:"emittedAtMs"`
}
