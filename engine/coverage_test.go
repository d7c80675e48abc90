package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone/account-pulse/engine"
)

// =============================================================================
// TOP SKU SET
// =============================================================================

func TestBuildTopSKUSet_RanksByRevenueDesc(t *testing.T) {
	revenue := map[engine.SKU]decimal.Decimal{
		"SKU-MID":  dec("5000"),
		"SKU-TOP":  dec("9000"),
		"SKU-LOW":  dec("1000"),
		"SKU-ZERO": dec("0"),
	}

	set := engine.BuildTopSKUSet(revenue, 3, time.Now())
	require.Len(t, set.Ranked, 3)
	assert.Equal(t, engine.SKU("SKU-TOP"), set.Ranked[0].SKU)
	assert.Equal(t, 1, set.Ranked[0].Rank)
	assert.Equal(t, engine.SKU("SKU-MID"), set.Ranked[1].SKU)
	assert.Equal(t, engine.SKU("SKU-LOW"), set.Ranked[2].SKU)
	assert.NotEmpty(t, set.Version)
}

func TestBuildTopSKUSet_TiesBreakLexically(t *testing.T) {
	// Equal revenue must produce the same ranking run over run.
	revenue := map[engine.SKU]decimal.Decimal{
		"SKU-B": dec("100"),
		"SKU-A": dec("100"),
		"SKU-C": dec("100"),
	}

	set := engine.BuildTopSKUSet(revenue, 2, time.Now())
	require.Len(t, set.Ranked, 2)
	assert.Equal(t, engine.SKU("SKU-A"), set.Ranked[0].SKU)
	assert.Equal(t, engine.SKU("SKU-B"), set.Ranked[1].SKU)
}

func TestBuildTopSKUSet_SmallPortfolioIsNotPadded(t *testing.T) {
	set := engine.BuildTopSKUSet(map[engine.SKU]decimal.Decimal{"SKU-A": dec("5")}, 30, time.Now())
	assert.Len(t, set.Ranked, 1)
}

// =============================================================================
// PER-ACCOUNT COVERAGE
// =============================================================================

func topSet(n int) *engine.TopSKUSet {
	revenue := make(map[engine.SKU]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		revenue[engine.SKU(string(rune('A'+i/26))+string(rune('A'+i%26)))] = decimal.NewFromInt(int64(1000 * (n - i)))
	}
	return engine.BuildTopSKUSet(revenue, n, time.Now())
}

func TestCoverage_PercentageOfTopN(t *testing.T) {
	// GIVEN: 25 of the 30 ranked SKUs carried in the window
	// THEN: Coverage is 83.33%

	set := topSet(30)
	carried := make(map[engine.SKU]bool)
	for _, r := range set.Ranked[:25] {
		carried[r.SKU] = true
	}

	res := engine.Coverage(set, carried, nil, day(2026, time.June, 1))
	assert.InDelta(t, 83.3333, res.Pct, 0.001)
	assert.Len(t, res.Carried, 25)
	assert.Len(t, res.Missing, 5)
}

func TestCoverage_MissingReasons(t *testing.T) {
	// GIVEN: Three gaps: never bought, lapsed 13 months, lapsed 3 years
	// THEN: Each carries the right reason

	today := day(2026, time.June, 1)
	set := engine.BuildTopSKUSet(map[engine.SKU]decimal.Decimal{
		"NEVER": dec("3000"),
		"LAP12": dec("2000"),
		"LAP24": dec("1000"),
	}, 3, time.Now())

	lap12 := today.AddMonths(-13)
	lap24 := today.AddYears(-3)
	lastSeen := map[engine.SKU]engine.Date{
		"LAP12": lap12,
		"LAP24": lap24,
	}

	res := engine.Coverage(set, nil, lastSeen, today)
	require.Len(t, res.Missing, 3)

	byReason := make(map[engine.SKU]engine.MissingProduct)
	for _, m := range res.Missing {
		byReason[m.SKU] = m
	}
	assert.Equal(t, engine.ReasonNeverPurchased, byReason["NEVER"].Reason)
	assert.Nil(t, byReason["NEVER"].LastPurchased)
	assert.Equal(t, engine.ReasonLapsed12, byReason["LAP12"].Reason)
	require.NotNil(t, byReason["LAP12"].LastPurchased)
	assert.Equal(t, lap12, *byReason["LAP12"].LastPurchased)
	assert.Equal(t, engine.ReasonLapsed24, byReason["LAP24"].Reason)
}

func TestCoverage_MissingSortedByPortfolioRevenueDesc(t *testing.T) {
	// The biggest proven sellers surface first in the gap list.
	set := engine.BuildTopSKUSet(map[engine.SKU]decimal.Decimal{
		"SMALL": dec("100"),
		"BIG":   dec("9000"),
		"MID":   dec("800"),
	}, 3, time.Now())

	res := engine.Coverage(set, nil, nil, day(2026, time.June, 1))
	require.Len(t, res.Missing, 3)
	assert.Equal(t, engine.SKU("BIG"), res.Missing[0].SKU)
	assert.Equal(t, engine.SKU("MID"), res.Missing[1].SKU)
	assert.Equal(t, engine.SKU("SMALL"), res.Missing[2].SKU)
}

func TestCoverage_EmptySetScoresZeroWithNoGaps(t *testing.T) {
	set := &engine.TopSKUSet{}
	res := engine.Coverage(set, nil, nil, day(2026, time.June, 1))
	assert.Zero(t, res.Pct)
	assert.Empty(t, res.Missing)
}

func TestCoverage_QuantityDoesNotMatter(t *testing.T) {
	// One purchase inside the window counts as carried.
	set := engine.BuildTopSKUSet(map[engine.SKU]decimal.Decimal{"ONLY": dec("10")}, 1, time.Now())
	res := engine.Coverage(set, map[engine.SKU]bool{"ONLY": true}, nil, day(2026, time.June, 1))
	assert.InDelta(t, 100.0, res.Pct, 0.001)
	assert.Empty(t, res.Missing)
}
