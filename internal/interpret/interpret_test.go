package interpret

import (
	"testing"

	appconfig "github.com/svirikk/agree-OIV2/config"
	"github.com/svirikk/agree-OIV2/internal/models"
)

func analysisConfig() appconfig.OIAnalysisConfig {
	return appconfig.OIAnalysisConfig{
		Enabled:              true,
		AnalysisWindowSec:    300,
		RetentionMultiple:    3,
		MinDeltaPct:          0.6,
		MinPriceDeltaPct:     0.35,
		DeltaSignificancePct: 0.1,
		PriceSignificancePct: 0.1,
	}
}

func buyStats() models.TradeStats {
	return models.TradeStats{
		Symbol:         "BTCUSDT",
		DominantSide:   "buy",
		DominancePct:   70,
		PriceChangePct: 1.0,
	}
}

func sellStats() models.TradeStats {
	s := buyStats()
	s.DominantSide = "sell"
	s.PriceChangePct = -1.0
	return s
}

func TestEvaluateBaseDirections(t *testing.T) {
	out := Evaluate(buyStats(), nil, analysisConfig())
	if out.BaseDirection != models.DirectionLong || out.FinalDirection != models.DirectionLong {
		t.Errorf("buy flow should map to LONG, got %+v", out)
	}
	if out.DecisionKind != models.DecisionBase || out.OIUsed {
		t.Errorf("missing snapshot should keep BASE decision, got %+v", out)
	}
	if out.Reason != "short squeeze" {
		t.Errorf("unexpected reason %q", out.Reason)
	}

	out = Evaluate(sellStats(), nil, analysisConfig())
	if out.FinalDirection != models.DirectionShort {
		t.Errorf("sell flow should map to SHORT, got %+v", out)
	}
	if out.Reason != "long liquidation" {
		t.Errorf("unexpected reason %q", out.Reason)
	}
}

func TestEvaluateGateRejectsSmallMoves(t *testing.T) {
	snap := &models.OISnapshot{
		HasWindowData: true,
		OIDeltaPct:    0.5,
		PriceDeltaPct: 1.0,
	}
	out := Evaluate(buyStats(), snap, analysisConfig())
	if out.OIUsed {
		t.Error("OI below min_delta_pct should not be used")
	}
	if !out.OIPricePassed || out.OIDeltaPassed {
		t.Errorf("unexpected gate flags %+v", out)
	}
	if out.DecisionKind != models.DecisionBase || out.FinalDirection != models.DirectionLong {
		t.Errorf("gate failure should keep the base decision, got %+v", out)
	}
}

func TestEvaluateQuadrants(t *testing.T) {
	cases := []struct {
		name      string
		price     float64
		oi        float64
		direction models.Direction
		kind      models.DecisionKind
	}{
		{"falling price rising oi", -1.0, 1.0, models.DirectionShort, models.DecisionContinuation},
		{"falling price falling oi", -1.0, -1.0, models.DirectionLong, models.DecisionBounce},
		{"rising price rising oi", 1.0, 1.0, models.DirectionLong, models.DecisionContinuation},
		{"rising price falling oi", 1.0, -1.0, models.DirectionShort, models.DecisionBounce},
	}

	for _, tc := range cases {
		snap := &models.OISnapshot{
			HasWindowData: true,
			OIDeltaPct:    tc.oi,
			PriceDeltaPct: tc.price,
		}
		out := Evaluate(buyStats(), snap, analysisConfig())
		if !out.OIUsed {
			t.Errorf("%s: expected OI used", tc.name)
			continue
		}
		if out.FinalDirection != tc.direction {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.direction, out.FinalDirection)
		}
		if out.DecisionKind != tc.kind {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.kind, out.DecisionKind)
		}
	}
}

func TestEvaluateOverrideFlag(t *testing.T) {
	// Buy flow (base LONG) with rising OI into falling price flips to SHORT.
	snap := &models.OISnapshot{
		HasWindowData: true,
		OIDeltaPct:    1.0,
		PriceDeltaPct: -1.0,
	}
	out := Evaluate(buyStats(), snap, analysisConfig())
	if out.FinalDirection != models.DirectionShort {
		t.Fatalf("expected SHORT, got %s", out.FinalDirection)
	}
	if !out.OverrideApplied {
		t.Error("expected override flag when final differs from base")
	}

	// Same quadrant with sell flow (base SHORT) agrees; no override.
	out = Evaluate(sellStats(), snap, analysisConfig())
	if out.OverrideApplied {
		t.Error("override flag should be false when final matches base")
	}
}

func TestEvaluateInconclusiveOnInsignificantAxis(t *testing.T) {
	cfg := analysisConfig()
	cfg.MinDeltaPct = 0.0
	cfg.MinPriceDeltaPct = 0.0

	snap := &models.OISnapshot{
		HasWindowData: true,
		OIDeltaPct:    0.05,
		PriceDeltaPct: 1.0,
	}
	out := Evaluate(buyStats(), snap, cfg)
	if out.DecisionKind != models.DecisionInconclusive {
		t.Errorf("expected INCONCLUSIVE when OI move is under significance, got %s", out.DecisionKind)
	}
	if out.FinalDirection != models.DirectionLong {
		t.Errorf("inconclusive should keep the base direction, got %s", out.FinalDirection)
	}
	if out.OverrideApplied {
		t.Error("inconclusive must not set the override flag")
	}
}

func TestEvaluateDisabledAnalysis(t *testing.T) {
	cfg := analysisConfig()
	cfg.Enabled = false

	snap := &models.OISnapshot{
		HasWindowData: true,
		OIDeltaPct:    5.0,
		PriceDeltaPct: 5.0,
	}
	out := Evaluate(buyStats(), snap, cfg)
	if out.OIUsed || out.DecisionKind != models.DecisionBase {
		t.Errorf("disabled analysis should keep BASE, got %+v", out)
	}
}
