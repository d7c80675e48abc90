package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone/account-pulse/engine"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// YEP & PACE
// =============================================================================

func TestYEP_StraightLineProjection(t *testing.T) {
	// GIVEN: 5000 revenue by day 100 of the year
	// WHEN: Projecting to year end
	// THEN: yep = 5000 * 365/100 = 18250

	today := day(2026, time.April, 10)
	require.Equal(t, 100, today.DayOfYear())

	yep := engine.YEP(dec("5000"), today)
	assert.True(t, yep.Equal(dec("18250")), "got %s", yep)
}

func TestYEP_ZeroRevenueProjectsZero(t *testing.T) {
	yep := engine.YEP(decimal.Zero, day(2026, time.June, 15))
	assert.True(t, yep.IsZero())
}

func TestPaceVsLY_NumericPercentage(t *testing.T) {
	// yep 12000 against py 10000 is +20%
	p := engine.PaceVsLY(dec("12000"), dec("10000"))
	require.Equal(t, engine.PaceNumeric, p.Kind)
	assert.True(t, p.Pct.Equal(dec("20")), "got %s", p.Pct)
	assert.Equal(t, "20%", p.String())
}

func TestPaceVsLY_NewGrowthIsNotZeroPercent(t *testing.T) {
	// GIVEN: Revenue this year against a zero prior year
	// THEN: The sentinel survives; it never collapses to 0%

	p := engine.PaceVsLY(dec("18250"), decimal.Zero)
	assert.Equal(t, engine.PaceNewGrowth, p.Kind)
	assert.Equal(t, "New Growth", p.String())
	assert.False(t, p.Below(decimal.Zero), "sentinel must not compare as numeric")
}

func TestPaceVsLY_BothZeroIsUndefined(t *testing.T) {
	p := engine.PaceVsLY(decimal.Zero, decimal.Zero)
	assert.Equal(t, engine.PaceUndefined, p.Kind)
	assert.Equal(t, "N/A", p.String())
}

// =============================================================================
// HEALTH SUB-SCORES & BLEND
// =============================================================================

func TestComputeSubScores_RecencyDecaysOverAYear(t *testing.T) {
	today := day(2026, time.June, 1)
	last := today.AddDays(-73) // a fifth of a year dark

	s := engine.ComputeSubScores(engine.ScoreInputs{Today: today, LastPurchase: &last})
	require.NotNil(t, s.Recency)
	assert.InDelta(t, 0.8, *s.Recency, 0.001)
}

func TestComputeSubScores_MissingInputsYieldNilComponents(t *testing.T) {
	// No history at all: every component is nil, not zero.
	s := engine.ComputeSubScores(engine.ScoreInputs{Today: day(2026, time.June, 1)})
	assert.Nil(t, s.Recency)
	assert.Nil(t, s.Frequency)
	assert.Nil(t, s.Monetary)
	assert.Nil(t, s.Pace)
}

func TestComputeSubScores_NewGrowthPaceScoresWell(t *testing.T) {
	s := engine.ComputeSubScores(engine.ScoreInputs{
		Today: day(2026, time.June, 1),
		Pace:  engine.Pace{Kind: engine.PaceNewGrowth},
	})
	require.NotNil(t, s.Pace)
	assert.InDelta(t, 0.75, *s.Pace, 0.001)
}

func TestBlendHealth_MissingComponentsAreRenormalized(t *testing.T) {
	// GIVEN: Only recency is available, at 0.8
	// WHEN: Blending with standard weights
	// THEN: The score is 80, not dragged down by phantom zeros

	r := 0.8
	score := engine.BlendHealth(engine.SubScores{Recency: &r}, engine.ScoreWeights{
		Recency: 0.3, Frequency: 0.25, Monetary: 0.25, Pace: 0.2,
	})
	assert.InDelta(t, 80.0, score, 0.001)
}

func TestBlendHealth_AllComponentsWeighted(t *testing.T) {
	r, f, m, p := 1.0, 0.5, 0.5, 0.0
	score := engine.BlendHealth(engine.SubScores{Recency: &r, Frequency: &f, Monetary: &m, Pace: &p},
		engine.ScoreWeights{Recency: 0.25, Frequency: 0.25, Monetary: 0.25, Pace: 0.25})
	assert.InDelta(t, 50.0, score, 0.001)
}

func TestBlendHealth_NoComponentsScoresZero(t *testing.T) {
	score := engine.BlendHealth(engine.SubScores{}, engine.ScoreWeights{Recency: 1})
	assert.Zero(t, score)
}

func TestBlendHealth_AlwaysWithinBounds(t *testing.T) {
	hi := 1.0
	score := engine.BlendHealth(engine.SubScores{Recency: &hi, Frequency: &hi, Monetary: &hi, Pace: &hi},
		engine.ScoreWeights{Recency: 5, Frequency: 5, Monetary: 5, Pace: 5})
	assert.LessOrEqual(t, score, 100.0)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestHealthCategoryFor_Bands(t *testing.T) {
	assert.Equal(t, "Excellent", engine.HealthCategoryFor(85))
	assert.Equal(t, "Good", engine.HealthCategoryFor(60))
	assert.Equal(t, "Average", engine.HealthCategoryFor(45))
	assert.Equal(t, "Poor", engine.HealthCategoryFor(20))
	assert.Equal(t, "Critical", engine.HealthCategoryFor(5))
}

// =============================================================================
// RFM SEGMENTATION
// =============================================================================

func TestAssignRFM_QuintilesRankWithinPortfolio(t *testing.T) {
	// GIVEN: Ten accounts with strictly increasing activity
	// WHEN: Assigning quintiles
	// THEN: The best account scores 5-5-5, the worst 1-1-1

	var inputs []engine.RFMInput
	for i := 0; i < 10; i++ {
		inputs = append(inputs, engine.RFMInput{
			Code:               engine.AccountCode(rune('A' + i)),
			DaysSinceLast:      200 - i*20,
			OrdersTrailing12mo: 1 + i*2,
			RevenueTrailing12m: decimal.NewFromInt(int64(1000 * (i + 1))),
		})
	}

	results := engine.AssignRFM(inputs, engine.DefaultRFMThresholds())
	require.Len(t, results, 10)

	best := results[inputs[9].Code]
	assert.Equal(t, 5, best.Recency)
	assert.Equal(t, 5, best.Frequency)
	assert.Equal(t, 5, best.Monetary)
	assert.Equal(t, engine.SegmentChampions, best.Segment)

	worst := results[inputs[0].Code]
	assert.Equal(t, 1, worst.Recency)
	assert.Equal(t, 1, worst.Frequency)
	assert.Equal(t, 1, worst.Monetary)
	assert.Equal(t, engine.SegmentLost, worst.Segment)
}

func TestAssignRFM_SmallPortfolioUsesThresholds(t *testing.T) {
	// GIVEN: Three accounts (below the quintile minimum)
	// WHEN: Assigning scores
	// THEN: Fixed thresholds apply instead of relative ranks

	inputs := []engine.RFMInput{
		{Code: "HOT", DaysSinceLast: 10, OrdersTrailing12mo: 25, RevenueTrailing12m: dec("15000")},
		{Code: "MID", DaysSinceLast: 70, OrdersTrailing12mo: 6, RevenueTrailing12m: dec("2000")},
		{Code: "COLD", DaysSinceLast: 400, OrdersTrailing12mo: 1, RevenueTrailing12m: dec("100")},
	}

	results := engine.AssignRFM(inputs, engine.DefaultRFMThresholds())

	assert.Equal(t, 5, results["HOT"].Recency)
	assert.Equal(t, 5, results["HOT"].Frequency)
	assert.Equal(t, 5, results["HOT"].Monetary)
	assert.Equal(t, 3, results["MID"].Recency)
	assert.Equal(t, 3, results["MID"].Frequency)
	assert.Equal(t, 3, results["MID"].Monetary)
	assert.Equal(t, 1, results["COLD"].Recency)
	assert.Equal(t, 1, results["COLD"].Frequency)
	assert.Equal(t, 1, results["COLD"].Monetary)
}

func TestSegmentFor_RuleTableIsDeterministic(t *testing.T) {
	cases := []struct {
		r, f, m int
		want    engine.Segment
	}{
		{5, 5, 5, engine.SegmentChampions},
		{4, 4, 4, engine.SegmentChampions},
		{3, 3, 3, engine.SegmentLoyal},
		{4, 2, 2, engine.SegmentPotentialLoyalists},
		{5, 1, 1, engine.SegmentNewCustomers},
		{3, 2, 2, engine.SegmentPromising},
		{2, 4, 4, engine.SegmentCantLose},
		{2, 3, 3, engine.SegmentAtRisk},
		{1, 1, 1, engine.SegmentLost},
		{2, 2, 3, engine.SegmentHibernating},
		{3, 3, 1, engine.SegmentNeedAttention},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, engine.SegmentFor(c.r, c.f, c.m),
			"r=%d f=%d m=%d", c.r, c.f, c.m)
	}
}

// =============================================================================
// GROWTH TARGETS
// =============================================================================

func TestComputeGrowthTargets_TargetIsBetterYearPlusOnePct(t *testing.T) {
	// py 10000, yep 8000: the target builds on the prior year.
	gt := engine.ComputeGrowthTargets(dec("4000"), dec("10000"), dec("8000"), dec("500"), 30, day(2026, time.July, 1))
	assert.True(t, gt.TargetYEPPlus1Pct.Equal(dec("10100")), "got %s", gt.TargetYEPPlus1Pct)
	assert.True(t, gt.AdditionalRevenueNeeded.Equal(dec("6100")), "got %s", gt.AdditionalRevenueNeeded)
}

func TestComputeGrowthTargets_AheadOfTargetNeedsNothing(t *testing.T) {
	// cytd already past both baselines.
	gt := engine.ComputeGrowthTargets(dec("20000"), dec("10000"), dec("15000"), dec("500"), 30, day(2026, time.July, 1))
	assert.True(t, gt.AdditionalRevenueNeeded.IsZero())
	// Suggested falls back to the average CYTD order.
	assert.True(t, gt.SuggestedNextOrderAmount.Equal(dec("500")))
}

func TestComputeGrowthTargets_SpreadsNeedOverRemainingOrders(t *testing.T) {
	// GIVEN: 6100 still needed, 30-day cadence, ~183 days left in the year
	// THEN: The suggestion spreads the need over the 6 expected orders

	gt := engine.ComputeGrowthTargets(dec("4000"), dec("10000"), dec("8000"), dec("500"), 30, day(2026, time.July, 1))
	expected := dec("6100").Div(decimal.NewFromInt(6))
	assert.True(t, gt.SuggestedNextOrderAmount.Equal(expected),
		"got %s want %s", gt.SuggestedNextOrderAmount, expected)
}
