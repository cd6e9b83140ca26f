package interpret

import (
	"math"

	appconfig "github.com/svirikk/agree-OIV2/config"
	"github.com/svirikk/agree-OIV2/internal/models"
)

const (
	reasonShortSqueeze    = "short squeeze"
	reasonLongLiquidation = "long liquidation"
)

// quadrant is one cell of the price/open-interest decision table.
type quadrant struct {
	direction models.Direction
	kind      models.DecisionKind
	reason    string
}

// quadrants is keyed by [sign(priceDelta)][sign(oiDelta)] where a sign of -1
// means falling, +1 rising. Rising OI into a move confirms it; falling OI
// against the move flips the direction.
var quadrants = map[[2]int]quadrant{
	{-1, +1}: {models.DirectionShort, models.DecisionContinuation, "oi rising into falling price"},
	{-1, -1}: {models.DirectionLong, models.DecisionBounce, "oi unwinding on falling price"},
	{+1, +1}: {models.DirectionLong, models.DecisionContinuation, "oi rising into rising price"},
	{+1, -1}: {models.DirectionShort, models.DecisionBounce, "oi unwinding on rising price"},
}

// Evaluate classifies the trade flow and reconciles it against open-interest
// dynamics. It is deterministic and side-effect free so the scheduler can
// re-run it with a fresher snapshot before emission.
func Evaluate(stats models.TradeStats, snap *models.OISnapshot, cfg appconfig.OIAnalysisConfig) models.Interpretation {
	out := models.Interpretation{DecisionKind: models.DecisionBase}

	if stats.DominantSide == "buy" {
		out.BaseDirection = models.DirectionLong
		out.Reason = reasonShortSqueeze
	} else {
		out.BaseDirection = models.DirectionShort
		out.Reason = reasonLongLiquidation
	}
	out.FinalDirection = out.BaseDirection

	if !cfg.Enabled || snap == nil || !snap.HasWindowData {
		return out
	}

	out.OIDeltaPassed = math.Abs(snap.OIDeltaPct) >= cfg.MinDeltaPct
	out.OIPricePassed = math.Abs(snap.PriceDeltaPct) >= cfg.MinPriceDeltaPct
	if !out.OIDeltaPassed || !out.OIPricePassed {
		return out
	}

	out.OIUsed = true

	key := [2]int{
		sign(snap.PriceDeltaPct, cfg.PriceSignificancePct),
		sign(snap.OIDeltaPct, cfg.DeltaSignificancePct),
	}
	q, ok := quadrants[key]
	if !ok {
		out.DecisionKind = models.DecisionInconclusive
		return out
	}

	out.FinalDirection = q.direction
	out.DecisionKind = q.kind
	out.Reason = q.reason
	out.OverrideApplied = q.direction != out.BaseDirection
	return out
}

// sign classifies a percentage move against a significance threshold: -1
// falling, +1 rising, 0 not significant.
func sign(deltaPct, significance float64) int {
	if deltaPct >= significance {
		return +1
	}
	if deltaPct <= -significance {
		return -1
	}
	return 0
}
