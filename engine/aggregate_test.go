package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/keystone/account-pulse/engine"
	"github.com/keystone/account-pulse/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type aggFixture struct {
	source      *store.MemorySource
	predictions *store.MemoryPredictions
	snapshots   *store.MemorySnapshots
	history     *store.MemoryHistory
	clock       *engine.FixedClock
	agg         *engine.Aggregator
}

func newAggFixture(t *testing.T, clock *engine.FixedClock) *aggFixture {
	f := &aggFixture{
		source:      store.NewMemorySource(),
		predictions: store.NewMemoryPredictions(),
		snapshots:   store.NewMemorySnapshots(),
		history:     store.NewMemoryHistory(),
		clock:       clock,
	}
	f.agg = engine.NewAggregator(f.source, f.predictions, f.snapshots, f.history, clock,
		zaptest.NewLogger(t), engine.AggregatorConfig{Workers: 2})
	return f
}

// monthlyBuyer seeds an account ordering the same SKU on the 1st of every
// month from January of startYear through the clock's today.
func (f *aggFixture) monthlyBuyer(code string, startYear int, sku string, amount string) {
	end := f.clock.Today()
	for d := engine.NewDate(startYear, time.January, 1); d.BeforeOrEqual(end); d = d.AddMonths(1) {
		f.source.AddTransactions(tx(code, d, sku, amount))
	}
}

// =============================================================================
// END-TO-END CYCLE
// =============================================================================

func TestAggregator_BuildsCompleteRows(t *testing.T) {
	// GIVEN: A steady monthly buyer
	// WHEN: Running the cycle
	// THEN: The row carries a forecast, pacing, health, RFM, and coverage

	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.monthlyBuyer("A001", 2024, "SKU-1", "500")

	sum, err := f.agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Zero(t, sum.Degraded)
	assert.Zero(t, sum.Failed)

	p, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOK, p.Status)

	// Monthly cadence: median interval 30 or 31, next expected in July.
	assert.InDelta(t, 30.5, float64(p.MedianIntervalDays), 0.5)
	require.NotNil(t, p.NextExpectedPurchaseDate)
	assert.Equal(t, day(2026, time.June, 1), *p.LastPurchaseDate)
	assert.Equal(t, time.July, p.NextExpectedPurchaseDate.Time.Month())

	// Six orders of 500 by June 15.
	assert.True(t, p.CYTDRevenue.Equal(dec("3000")), "got %s", p.CYTDRevenue)
	assert.True(t, p.PYTotalRevenue.Equal(dec("6000")), "got %s", p.PYTotalRevenue)
	assert.True(t, p.YEPRevenue.IsPositive())
	assert.Equal(t, engine.PaceNumeric, p.PaceVsLY.Kind)

	assert.Greater(t, p.HealthScore, 0.0)
	assert.NotEmpty(t, p.HealthCategory)
	assert.NotEqual(t, engine.Segment(""), p.RFMSegment)

	// Sole account buying the sole top SKU: full coverage.
	assert.InDelta(t, 100.0, p.ProductCoveragePct, 0.001)
	assert.Empty(t, p.MissingTopProducts)

	assert.Equal(t, int64(1), p.Version)
}

func TestAggregator_InsufficientHistoryDegradesNotFails(t *testing.T) {
	// GIVEN: An account with a single lifetime order
	// THEN: The forecast is withheld but the revenue metrics still compute

	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.source.AddTransactions(tx("ONE", day(2026, time.March, 1), "SKU-1", "750"))

	sum, err := f.agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Degraded)
	assert.Zero(t, sum.Failed)

	p, err := f.predictions.Get(context.Background(), "ONE")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusInsufficientData, p.Status)
	assert.Nil(t, p.NextExpectedPurchaseDate)
	assert.Zero(t, p.MedianIntervalDays)
	assert.True(t, p.CYTDRevenue.Equal(dec("750")))
	assert.True(t, p.YEPRevenue.IsPositive(), "projection still computes from cytd")
}

func TestAggregator_RerunConvergesButSnapshotsAppend(t *testing.T) {
	// GIVEN: Unchanged transactions
	// WHEN: Running the cycle twice
	// THEN: The row converges to the same values; only snapshots duplicate

	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.monthlyBuyer("A001", 2025, "SKU-1", "500")

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)
	first, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)

	_, err = f.agg.Run(context.Background())
	require.NoError(t, err)
	second, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)

	assert.Equal(t, first.MedianIntervalDays, second.MedianIntervalDays)
	assert.Equal(t, *first.NextExpectedPurchaseDate, *second.NextExpectedPurchaseDate)
	assert.True(t, first.CYTDRevenue.Equal(second.CYTDRevenue))
	assert.Equal(t, first.HealthScore, second.HealthScore)
	assert.Equal(t, first.RFMSegment, second.RFMSegment)
	assert.Equal(t, int64(2), second.Version)

	snaps, err := f.snapshots.ListByAccount(context.Background(), "A001", 0)
	require.NoError(t, err)
	assert.Len(t, snaps, 2, "snapshot archive is append-only by design")
}

func TestAggregator_WritesYearlyHistoryRollups(t *testing.T) {
	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.monthlyBuyer("A001", 2025, "SKU-1", "500")

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	years, err := f.history.ListYears(context.Background(), "A001")
	require.NoError(t, err)
	require.Len(t, years, 2)
	assert.Equal(t, 2025, years[0].Year)
	assert.True(t, years[0].TotalRevenue.Equal(dec("6000")))
	assert.Equal(t, 2026, years[1].Year)
	assert.True(t, years[1].TotalRevenue.Equal(dec("3000")))
}

// =============================================================================
// REMINDER INTERACTION DURING THE CYCLE
// =============================================================================

func TestAggregator_PromotesSentToPurchased(t *testing.T) {
	// GIVEN: A reminder sent May 15 and a purchase on June 1
	// WHEN: The cycle recomputes
	// THEN: The row is promoted to PURCHASED (the only place that may)

	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.monthlyBuyer("A001", 2025, "SKU-1", "500")

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	p, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)
	sentAt := time.Date(2026, time.May, 15, 9, 0, 0, 0, time.UTC)
	due := *p.NextExpectedPurchaseDate
	require.NoError(t, f.predictions.UpdateReminder(context.Background(), "A001",
		engine.ReminderFields{State: engine.ReminderSent, SentAt: &sentAt, DueAt: &due}, p.Version))

	_, err = f.agg.Run(context.Background())
	require.NoError(t, err)

	got, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)
	assert.Equal(t, engine.ReminderPurchased, got.ReminderState)
	require.NotNil(t, got.ReminderSentAt, "promotion keeps the cycle's send timestamp")
}

func TestAggregator_ResetsCycleWhenDueAdvances(t *testing.T) {
	// GIVEN: A PURCHASED cycle keyed to an old due date
	// WHEN: Fresh data moves the expected date strictly forward
	// THEN: The machine re-arms to NULL

	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.monthlyBuyer("A001", 2025, "SKU-1", "500")

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	p, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)
	sentAt := time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)
	oldDue := day(2026, time.May, 1)
	require.NoError(t, f.predictions.UpdateReminder(context.Background(), "A001",
		engine.ReminderFields{State: engine.ReminderPurchased, SentAt: &sentAt, DueAt: &oldDue}, p.Version))

	// The recompute projects the next purchase into July, past the old due.
	_, err = f.agg.Run(context.Background())
	require.NoError(t, err)

	got, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)
	assert.Equal(t, engine.ReminderNone, got.ReminderState)
	assert.Nil(t, got.ReminderSentAt)
	assert.Nil(t, got.ReminderDueAt)
}

func TestAggregator_CarriesReminderThroughRecompute(t *testing.T) {
	// A SENT cycle with no response and an unchanged due date survives the
	// weekly rewrite untouched.

	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.monthlyBuyer("A001", 2025, "SKU-1", "500")

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	p, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)
	sentAt := time.Date(2026, time.June, 14, 9, 0, 0, 0, time.UTC)
	due := *p.NextExpectedPurchaseDate
	require.NoError(t, f.predictions.UpdateReminder(context.Background(), "A001",
		engine.ReminderFields{State: engine.ReminderSent, SentAt: &sentAt, DueAt: &due}, p.Version))

	_, err = f.agg.Run(context.Background())
	require.NoError(t, err)

	got, err := f.predictions.Get(context.Background(), "A001")
	require.NoError(t, err)
	assert.Equal(t, engine.ReminderSent, got.ReminderState)
	require.NotNil(t, got.ReminderDueAt)
	assert.Equal(t, due, *got.ReminderDueAt)
}

// =============================================================================
// PORTFOLIO-WIDE PIECES
// =============================================================================

func TestAggregator_CoverageGapsAgainstPortfolioTopSKUs(t *testing.T) {
	// GIVEN: Two accounts; only one buys the portfolio's big seller
	// THEN: The other shows the gap, tagged never purchased

	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.monthlyBuyer("BUYS", 2025, "SKU-BIG", "5000")
	f.monthlyBuyer("SKIPS", 2025, "SKU-SMALL", "100")

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	p, err := f.predictions.Get(context.Background(), "SKIPS")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, p.ProductCoveragePct, 0.001)
	require.Len(t, p.MissingTopProducts, 1)
	assert.Equal(t, engine.SKU("SKU-BIG"), p.MissingTopProducts[0].SKU)
	assert.Equal(t, engine.ReasonNeverPurchased, p.MissingTopProducts[0].Reason)
}

func TestAggregator_InactiveAccountSegmentsUnknown(t *testing.T) {
	// No trailing-12-month activity: excluded from the RFM pool.
	clock := engine.NewFixedClock(2026, time.June, 15)
	f := newAggFixture(t, clock)
	f.source.AddTransactions(
		tx("OLD", day(2024, time.January, 1), "SKU-1", "100"),
		tx("OLD", day(2024, time.February, 1), "SKU-1", "100"),
	)

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	p, err := f.predictions.Get(context.Background(), "OLD")
	require.NoError(t, err)
	assert.Equal(t, engine.SegmentUnknown, p.RFMSegment)
	assert.Zero(t, p.RecencyScore)
}
