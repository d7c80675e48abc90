package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone/account-pulse/engine"
	"github.com/keystone/account-pulse/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, d int) engine.Date { return engine.NewDate(y, m, d) }

func seedTx(t *testing.T, store *sqlite.Store, account string, d engine.Date, sku string, revenue string) {
	t.Helper()
	require.NoError(t, store.InsertTransactions(context.Background(), []engine.Transaction{{
		Account:  engine.AccountCode(account),
		Date:     d,
		SKU:      engine.SKU(sku),
		Quantity: 1,
		Revenue:  dec(revenue),
	}}))
}

func fullPrediction(code string) *engine.AccountPrediction {
	next := day(2026, time.July, 2)
	last := day(2026, time.June, 1)
	avgCYTD := 30.5
	return &engine.AccountPrediction{
		Code:                     engine.AccountCode(code),
		Name:                     "Testaccount",
		SalesRep:                 "REP-1",
		SalesRepName:             "Jane",
		CustomerEmail:            "buyer@example.com",
		Status:                   engine.StatusOK,
		LastPurchaseDate:         &last,
		LastPurchaseAmount:       dec("500"),
		MedianIntervalDays:       31,
		NextExpectedPurchaseDate: &next,
		AvgIntervalCYTD:          &avgCYTD,
		AccountTotal:             dec("12000"),
		PurchaseFrequency:        24,
		CYTDRevenue:              dec("3000"),
		PYTotalRevenue:           dec("6000"),
		YEPRevenue:               dec("6600"),
		PaceVsLY:                 engine.NumericPace(dec("10")),
		AvgOrderAmountCYTD:       dec("500"),
		TargetYEPPlus1Pct:        dec("6666"),
		AdditionalRevenueNeeded:  dec("3666"),
		SuggestedNextOrderAmount: dec("611"),
		HealthScore:              78.5,
		HealthCategory:           "Good",
		RecencyScore:             5,
		FrequencyScore:           4,
		MonetaryScore:            4,
		RFMSegment:               engine.SegmentChampions,
		ProductCoveragePct:       83.33,
		CarriedTopProducts:       []engine.SKU{"SKU-1", "SKU-2"},
		MissingTopProducts: []engine.MissingProduct{
			{SKU: "SKU-3", Reason: engine.ReasonNeverPurchased, PortfolioRevenue: dec("9000")},
		},
		UpdatedAt: time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// TRANSACTION SOURCE
// =============================================================================

func TestStore_TransactionsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTx(t, store, "A001", day(2026, time.March, 10), "SKU-1", "145.80")
	seedTx(t, store, "A001", day(2026, time.April, 2), "SKU-2", "99.50")
	seedTx(t, store, "B002", day(2026, time.March, 15), "SKU-1", "50")

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, engine.AccountCode("A001"), accounts[0].Code)

	txs, err := store.AccountTransactions(ctx, "A001")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, day(2026, time.March, 10), txs[0].Date)
	assert.True(t, txs[0].Revenue.Equal(dec("145.80")))
}

func TestStore_SKURevenueRespectsWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTx(t, store, "A001", day(2024, time.January, 1), "SKU-1", "1000")
	seedTx(t, store, "A001", day(2026, time.March, 1), "SKU-1", "200")
	seedTx(t, store, "B002", day(2026, time.April, 1), "SKU-1", "300")

	rev, err := store.SKURevenue(ctx, day(2026, time.January, 1))
	require.NoError(t, err)
	assert.True(t, rev["SKU-1"].Equal(dec("500")), "got %s", rev["SKU-1"])
}

func TestStore_AccountIdentityJoinsIntoListing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTx(t, store, "A001", day(2026, time.March, 10), "SKU-1", "100")
	require.NoError(t, store.UpsertAccount(ctx, engine.AccountInfo{
		Code: "A001", Name: "Corner Wine Shop", SalesRep: "REP-1", SalesRepName: "Jane",
	}))

	accounts, err := store.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Corner Wine Shop", accounts[0].Name)
	assert.Equal(t, engine.RepID("REP-1"), accounts[0].SalesRep)
}

// =============================================================================
// PREDICTION STORE - Round trip and optimistic locking
// =============================================================================

func TestStore_PredictionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := fullPrediction("A001")
	require.NoError(t, store.Put(ctx, want, 0))
	assert.Equal(t, int64(1), want.Version)

	got, err := store.Get(ctx, "A001")
	require.NoError(t, err)

	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, 31, got.MedianIntervalDays)
	require.NotNil(t, got.NextExpectedPurchaseDate)
	assert.Equal(t, day(2026, time.July, 2), *got.NextExpectedPurchaseDate)
	require.NotNil(t, got.AvgIntervalCYTD)
	assert.InDelta(t, 30.5, *got.AvgIntervalCYTD, 0.001)
	assert.Nil(t, got.AvgIntervalPY)
	assert.True(t, got.CYTDRevenue.Equal(dec("3000")))
	assert.Equal(t, engine.PaceNumeric, got.PaceVsLY.Kind)
	assert.True(t, got.PaceVsLY.Pct.Equal(dec("10")))
	assert.Equal(t, engine.SegmentChampions, got.RFMSegment)
	assert.Equal(t, []engine.SKU{"SKU-1", "SKU-2"}, got.CarriedTopProducts)
	require.Len(t, got.MissingTopProducts, 1)
	assert.Equal(t, engine.ReasonNeverPurchased, got.MissingTopProducts[0].Reason)
	assert.Equal(t, engine.ReminderNone, got.ReminderState)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_GetMissingAccount(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "NOPE")
	assert.ErrorIs(t, err, engine.ErrAccountNotFound)
}

func TestStore_PutStaleVersionConflicts(t *testing.T) {
	// GIVEN: A row at version 2
	// WHEN: Writing with expectedVersion 1
	// THEN: ErrConcurrentUpdate, row unchanged

	store := newTestStore(t)
	ctx := context.Background()

	p := fullPrediction("A001")
	require.NoError(t, store.Put(ctx, p, 0))
	require.NoError(t, store.Put(ctx, p, 1))
	require.Equal(t, int64(2), p.Version)

	stale := fullPrediction("A001")
	stale.HealthScore = 1
	err := store.Put(ctx, stale, 1)
	assert.ErrorIs(t, err, engine.ErrConcurrentUpdate)

	got, err := store.Get(ctx, "A001")
	require.NoError(t, err)
	assert.InDelta(t, 78.5, got.HealthScore, 0.001)
}

func TestStore_InsertOverExistingRowConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, fullPrediction("A001"), 0))
	err := store.Put(ctx, fullPrediction("A001"), 0)
	assert.ErrorIs(t, err, engine.ErrConcurrentUpdate)
}

func TestStore_UpdateReminderVersioned(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := fullPrediction("A001")
	require.NoError(t, store.Put(ctx, p, 0))

	sentAt := time.Date(2026, time.July, 2, 8, 0, 0, 0, time.UTC)
	due := day(2026, time.July, 2)
	fields := engine.ReminderFields{State: engine.ReminderSent, SentAt: &sentAt, DueAt: &due}

	require.NoError(t, store.UpdateReminder(ctx, "A001", fields, 1))

	got, err := store.Get(ctx, "A001")
	require.NoError(t, err)
	assert.Equal(t, engine.ReminderSent, got.ReminderState)
	require.NotNil(t, got.ReminderSentAt)
	assert.True(t, got.ReminderSentAt.Equal(sentAt))
	assert.Equal(t, int64(2), got.Version)

	// Stale version loses.
	err = store.UpdateReminder(ctx, "A001", fields, 1)
	assert.ErrorIs(t, err, engine.ErrConcurrentUpdate)

	// Missing account is its own error.
	err = store.UpdateReminder(ctx, "NOPE", fields, 1)
	assert.ErrorIs(t, err, engine.ErrAccountNotFound)
}

func TestStore_ListDueOn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := fullPrediction("DUE")
	require.NoError(t, store.Put(ctx, a, 0))

	b := fullPrediction("LATER")
	later := day(2026, time.August, 1)
	b.NextExpectedPurchaseDate = &later
	require.NoError(t, store.Put(ctx, b, 0))

	c := fullPrediction("NOFORECAST")
	c.Status = engine.StatusInsufficientData
	c.NextExpectedPurchaseDate = nil
	require.NoError(t, store.Put(ctx, c, 0))

	due, err := store.ListDueOn(ctx, day(2026, time.July, 2))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, engine.AccountCode("DUE"), due[0].Code)
}

func TestStore_ListByRepAndDistinctReps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := fullPrediction("A001")
	require.NoError(t, store.Put(ctx, a, 0))
	b := fullPrediction("B002")
	b.SalesRep = "REP-2"
	b.SalesRepName = "Sam"
	require.NoError(t, store.Put(ctx, b, 0))

	mine, err := store.ListByRep(ctx, "REP-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, engine.AccountCode("A001"), mine[0].Code)

	reps, err := store.DistinctReps(ctx)
	require.NoError(t, err)
	require.Len(t, reps, 2)
	assert.Equal(t, engine.RepID("REP-1"), reps[0].ID)
	assert.Equal(t, "Jane", reps[0].Name)
}

// =============================================================================
// SNAPSHOTS, HISTORY, RUNS
// =============================================================================

func TestStore_SnapshotsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	next := day(2026, time.July, 2)
	for i, run := range []string{"run-1", "run-2"} {
		require.NoError(t, store.Append(ctx, engine.AccountSnapshot{
			ID:                       "snap-" + run,
			RunID:                    run,
			Code:                     "A001",
			CapturedAt:               time.Date(2026, time.June, 15+i, 12, 0, 0, 0, time.UTC),
			Status:                   engine.StatusOK,
			HealthScore:              70 + float64(i),
			CYTDRevenue:              dec("3000"),
			YEPRevenue:               dec("6600"),
			PaceVsLY:                 engine.NumericPace(dec("10")),
			ProductCoveragePct:       80,
			RFMSegment:               engine.SegmentLoyal,
			NextExpectedPurchaseDate: &next,
		}))
	}

	snaps, err := store.ListByAccount(ctx, "A001", 0)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	// Newest first.
	assert.Equal(t, "run-2", snaps[0].RunID)

	limited, err := store.ListByAccount(ctx, "A001", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byRun, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.InDelta(t, 70.0, byRun[0].HealthScore, 0.001)
}

func TestStore_HistoryUpsertReplacesYear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	h := engine.AccountHistoricalRevenue{
		Code: "A001", Year: 2025,
		TotalRevenue: dec("6000"), TransactionCount: 12,
		UniqueSKUs: []engine.SKU{"SKU-1"}, AvgOrderValue: dec("500"),
	}
	require.NoError(t, store.Upsert(ctx, h))

	h.TotalRevenue = dec("6500")
	require.NoError(t, store.Upsert(ctx, h))

	years, err := store.ListYears(ctx, "A001")
	require.NoError(t, err)
	require.Len(t, years, 1)
	assert.True(t, years[0].TotalRevenue.Equal(dec("6500")))
}

func TestStore_RunRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := engine.RunRecord{
		ID: "run-1", Kind: "aggregate",
		StartedAt: time.Date(2026, time.June, 15, 2, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Start(ctx, rec))

	finished := rec.StartedAt.Add(3 * time.Minute)
	rec.FinishedAt = &finished
	rec.Processed = 120
	rec.Degraded = 4
	require.NoError(t, store.Finish(ctx, rec))

	latest, err := store.Latest(ctx, "aggregate")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 120, latest.Processed)
	require.NotNil(t, latest.FinishedAt)
	assert.True(t, latest.FinishedAt.Equal(finished))

	none, err := store.Latest(ctx, "digest")
	require.NoError(t, err)
	assert.Nil(t, none)
}
