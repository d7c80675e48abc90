/*
aggregate.go - The weekly full-recompute cycle

PURPOSE:
  Rebuilds every account's prediction row from transaction history in one
  run: forecast, rollups, pacing, health, RFM, coverage, growth targets,
  plus the reminder promotions and cycle resets that depend on fresh data.

SHAPE OF A RUN:
  Phase A (parallel)  per-account computation. Pure over that account's
                      history plus the shared top-SKU set.
  Phase B (serial)    portfolio-wide RFM quintile assignment. Quintiles
                      rank accounts against each other, so this cannot be
                      done inside the per-account fan-out.
  Phase C (parallel)  per-account commit: carry reminder state forward,
                      apply promotion/reset, write the row atomically,
                      append the snapshot, upsert history rollups.

GUARANTEES:
  - Per-account failures degrade that account (Status "failed", reminder
    fields preserved) and never abort the batch.
  - A crash mid-run leaves untouched accounts on their previous complete
    row; there are no partially-updated rows.
  - Re-running against unchanged transactions converges to the same rows.
    The only non-idempotent effect is the extra snapshot batch, which is
    append-only by design of the archive.
*/
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AggregatorConfig tunes one cycle. Zero values are replaced by the
// defaults below.
type AggregatorConfig struct {
	TopN                 int
	ForecastWindowYears  int
	CoverageWindowMonths int
	Workers              int
	Weights              ScoreWeights
	RFMThresholds        RFMThresholds
}

func (c AggregatorConfig) withDefaults() AggregatorConfig {
	if c.TopN == 0 {
		c.TopN = 30
	}
	if c.ForecastWindowYears == 0 {
		c.ForecastWindowYears = 3
	}
	if c.CoverageWindowMonths == 0 {
		c.CoverageWindowMonths = 12
	}
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.Weights == (ScoreWeights{}) {
		c.Weights = ScoreWeights{Recency: 0.3, Frequency: 0.25, Monetary: 0.25, Pace: 0.2}
	}
	if c.RFMThresholds.RecencyDays == ([4]int{}) {
		c.RFMThresholds = DefaultRFMThresholds()
	}
	return c
}

// Aggregator owns the weekly recompute.
type Aggregator struct {
	source      TransactionSource
	predictions PredictionStore
	snapshots   SnapshotStore
	history     HistoryStore
	clock       Clock
	log         *zap.Logger
	cfg         AggregatorConfig
}

func NewAggregator(source TransactionSource, predictions PredictionStore, snapshots SnapshotStore, history HistoryStore, clock Clock, log *zap.Logger, cfg AggregatorConfig) *Aggregator {
	return &Aggregator{
		source:      source,
		predictions: predictions,
		snapshots:   snapshots,
		history:     history,
		clock:       clock,
		log:         log,
		cfg:         cfg.withDefaults(),
	}
}

// RunSummary is the outcome of one cycle.
type RunSummary struct {
	RunID     string
	Processed int
	Degraded  int
	Failed    int
}

// computed is the phase-A output for one account, held until commit.
type computed struct {
	info AccountInfo
	pred *AccountPrediction
	txs  []Transaction
	rfm  *RFMInput
	hist []AccountHistoricalRevenue
	err  error
}

// Run executes one full aggregation cycle.
func (a *Aggregator) Run(ctx context.Context) (RunSummary, error) {
	today := a.clock.Today()
	runID := uuid.NewString()
	log := a.log.With(zap.String("run_id", runID), zap.String("as_of", today.String()))
	log.Info("aggregation cycle starting")

	accounts, err := a.source.ListAccounts(ctx)
	if err != nil {
		return RunSummary{RunID: runID}, err
	}

	coverageSince := today.AddMonths(-a.cfg.CoverageWindowMonths)
	skuRevenue, err := a.source.SKURevenue(ctx, coverageSince)
	if err != nil {
		return RunSummary{RunID: runID}, err
	}
	topSet := BuildTopSKUSet(skuRevenue, a.cfg.TopN, a.clock.Now())
	log.Info("top SKU set built",
		zap.String("version", topSet.Version),
		zap.Int("skus", len(topSet.Ranked)))

	// Phase A: fan out per-account computation.
	results := make([]*computed, len(accounts))
	pool := pond.NewPool(a.cfg.Workers)
	group := pool.NewGroup()
	for i, info := range accounts {
		group.Submit(func() {
			results[i] = a.computeAccount(ctx, info, topSet, today)
		})
	}
	if err := group.Wait(); err != nil {
		pool.StopAndWait()
		return RunSummary{RunID: runID}, err
	}

	// Phase B: portfolio-wide RFM. Serial; quintiles are relative ranks.
	var rfmInputs []RFMInput
	for _, c := range results {
		if c.err == nil && c.rfm != nil {
			rfmInputs = append(rfmInputs, *c.rfm)
		}
	}
	rfmResults := AssignRFM(rfmInputs, a.cfg.RFMThresholds)
	for _, c := range results {
		if c.err != nil || c.pred == nil {
			continue
		}
		if r, ok := rfmResults[c.pred.Code]; ok {
			c.pred.RecencyScore = r.Recency
			c.pred.FrequencyScore = r.Frequency
			c.pred.MonetaryScore = r.Monetary
			c.pred.RFMSegment = r.Segment
		} else {
			c.pred.RFMSegment = SegmentUnknown
		}
	}

	// Phase C: fan out per-account commit.
	var mu sync.Mutex
	sum := RunSummary{RunID: runID}
	commitGroup := pool.NewGroup()
	for _, c := range results {
		commitGroup.Submit(func() {
			degraded, failed := a.commitAccount(ctx, c, runID, today, log)
			mu.Lock()
			sum.Processed++
			if degraded {
				sum.Degraded++
			}
			if failed {
				sum.Failed++
			}
			mu.Unlock()
		})
	}
	commitErr := commitGroup.Wait()
	pool.StopAndWait()
	if commitErr != nil {
		return sum, commitErr
	}

	log.Info("aggregation cycle finished",
		zap.Int("processed", sum.Processed),
		zap.Int("degraded", sum.Degraded),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// =============================================================================
// PHASE A - Per-account computation
// =============================================================================

func (a *Aggregator) computeAccount(ctx context.Context, info AccountInfo, topSet *TopSKUSet, today Date) *computed {
	c := &computed{info: info}

	txs, err := a.source.AccountTransactions(ctx, info.Code)
	if err != nil {
		c.err = err
		return c
	}
	c.txs = txs

	pred := &AccountPrediction{
		Code:          info.Code,
		Name:          info.Name,
		Address:       info.Address,
		SalesRep:      info.SalesRep,
		SalesRepName:  info.SalesRepName,
		Distributor:   info.Distributor,
		CustomerEmail: info.CustomerEmail,
		Status:        StatusOK,
	}

	orderDates := CoalesceOrderDates(txs)
	roll := rollup(txs, orderDates, today)

	pred.AccountTotal = roll.total
	pred.PurchaseFrequency = len(orderDates)
	pred.CYTDRevenue = roll.cytd
	pred.PYTotalRevenue = roll.py
	pred.AvgOrderAmountCYTD = roll.avgOrderCYTD
	pred.LastPurchaseAmount = roll.lastOrderAmount
	if len(orderDates) > 0 {
		last := orderDates[len(orderDates)-1]
		pred.LastPurchaseDate = &last
	}

	// Forecast. Insufficient history withholds the forecast fields but
	// every other metric still computes.
	forecast, err := ComputeForecast(info.Code, orderDates, today, a.cfg.ForecastWindowYears)
	if err == nil {
		pred.MedianIntervalDays = forecast.MedianIntervalDays
		next := forecast.NextExpected
		pred.NextExpectedPurchaseDate = &next
		pred.AvgIntervalCYTD = forecast.AvgIntervalCYTD
		pred.AvgIntervalPY = forecast.AvgIntervalPY
	} else if DegradesAccount(err) {
		pred.Status = StatusInsufficientData
	} else {
		c.err = err
		return c
	}

	// Pacing and projection.
	pred.YEPRevenue = YEP(pred.CYTDRevenue, today)
	pred.PaceVsLY = PaceVsLY(pred.YEPRevenue, pred.PYTotalRevenue)

	// Health.
	sub := ComputeSubScores(ScoreInputs{
		Today:                   today,
		LastPurchase:            pred.LastPurchaseDate,
		OrdersTrailing12mo:      roll.ordersTrailing12,
		HistoricalOrdersPerYear: roll.ordersPerYear,
		AvgOrderValueCYTD:       roll.avgOrderCYTD,
		AvgOrderValueHistorical: roll.avgOrderHistorical,
		Pace:                    pred.PaceVsLY,
	})
	pred.HealthScore = BlendHealth(sub, a.cfg.Weights)
	pred.HealthCategory = HealthCategoryFor(pred.HealthScore)

	// Growth targets.
	gt := ComputeGrowthTargets(pred.CYTDRevenue, pred.PYTotalRevenue, pred.YEPRevenue, pred.AvgOrderAmountCYTD, pred.MedianIntervalDays, today)
	pred.TargetYEPPlus1Pct = gt.TargetYEPPlus1Pct
	pred.AdditionalRevenueNeeded = gt.AdditionalRevenueNeeded
	pred.SuggestedNextOrderAmount = gt.SuggestedNextOrderAmount

	// Coverage.
	cov := Coverage(topSet, roll.carriedInWindow, roll.lastSeenBySKU, today)
	pred.ProductCoveragePct = cov.Pct
	pred.CarriedTopProducts = cov.Carried
	pred.MissingTopProducts = cov.Missing

	// RFM pool membership requires trailing-12-month activity.
	if roll.ordersTrailing12 > 0 && pred.LastPurchaseDate != nil {
		c.rfm = &RFMInput{
			Code:               info.Code,
			DaysSinceLast:      DaysBetween(*pred.LastPurchaseDate, today),
			OrdersTrailing12mo: roll.ordersTrailing12,
			RevenueTrailing12m: roll.revenueTrailing12,
		}
	}

	c.pred = pred
	c.hist = yearlyRollups(info.Code, txs, orderDates)
	return c
}

// accountRollup is the single pass over one account's transactions.
type accountRollup struct {
	total              decimal.Decimal
	cytd               decimal.Decimal
	py                 decimal.Decimal
	avgOrderCYTD       decimal.Decimal
	avgOrderHistorical decimal.Decimal
	lastOrderAmount    decimal.Decimal
	ordersTrailing12   int
	revenueTrailing12  decimal.Decimal
	ordersPerYear      float64
	carriedInWindow    map[SKU]bool
	lastSeenBySKU      map[SKU]Date
}

func rollup(txs []Transaction, orderDates []Date, today Date) accountRollup {
	r := accountRollup{
		carriedInWindow: make(map[SKU]bool),
		lastSeenBySKU:   make(map[SKU]Date),
	}
	year := today.Year()
	trailing12 := today.AddMonths(-12)
	var lastOrderDay Date
	if len(orderDates) > 0 {
		lastOrderDay = orderDates[len(orderDates)-1]
	}

	ordersCYTD := make(map[Date]bool)
	ordersT12 := make(map[Date]bool)
	for _, tx := range txs {
		r.total = r.total.Add(tx.Revenue)
		switch tx.Date.Year() {
		case year:
			r.cytd = r.cytd.Add(tx.Revenue)
			ordersCYTD[tx.Date] = true
		case year - 1:
			r.py = r.py.Add(tx.Revenue)
		}
		if tx.Date.AfterOrEqual(trailing12) {
			r.revenueTrailing12 = r.revenueTrailing12.Add(tx.Revenue)
			ordersT12[tx.Date] = true
			r.carriedInWindow[tx.SKU] = true
		}
		if last, ok := r.lastSeenBySKU[tx.SKU]; !ok || tx.Date.After(last) {
			r.lastSeenBySKU[tx.SKU] = tx.Date
		}
		if tx.Date.Equal(lastOrderDay) {
			r.lastOrderAmount = r.lastOrderAmount.Add(tx.Revenue)
		}
	}
	r.ordersTrailing12 = len(ordersT12)

	if n := len(ordersCYTD); n > 0 {
		r.avgOrderCYTD = r.cytd.Div(decimal.NewFromInt(int64(n)))
	}
	if len(orderDates) > 1 {
		spanDays := DaysBetween(orderDates[0], lastOrderDay)
		if spanDays > 0 {
			years := float64(spanDays) / 365.0
			r.ordersPerYear = float64(len(orderDates)) / years
		}
		r.avgOrderHistorical = r.total.Div(decimal.NewFromInt(int64(len(orderDates))))
	} else if len(orderDates) == 1 {
		r.avgOrderHistorical = r.total
	}
	return r
}

// yearlyRollups produces the per-(account, year) history rows.
func yearlyRollups(code AccountCode, txs []Transaction, orderDates []Date) []AccountHistoricalRevenue {
	type bucket struct {
		revenue decimal.Decimal
		count   int
		skus    map[SKU]bool
		orders  map[Date]bool
	}
	byYear := make(map[int]*bucket)
	for _, tx := range txs {
		y := tx.Date.Year()
		b := byYear[y]
		if b == nil {
			b = &bucket{skus: make(map[SKU]bool), orders: make(map[Date]bool)}
			byYear[y] = b
		}
		b.revenue = b.revenue.Add(tx.Revenue)
		b.count++
		b.skus[tx.SKU] = true
		b.orders[tx.Date] = true
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]AccountHistoricalRevenue, 0, len(years))
	for _, y := range years {
		b := byYear[y]
		h := AccountHistoricalRevenue{
			Code:             code,
			Year:             y,
			TotalRevenue:     b.revenue,
			TransactionCount: b.count,
		}
		for sku := range b.skus {
			h.UniqueSKUs = append(h.UniqueSKUs, sku)
		}
		sort.Slice(h.UniqueSKUs, func(i, j int) bool { return h.UniqueSKUs[i] < h.UniqueSKUs[j] })
		if n := len(b.orders); n > 0 {
			h.AvgOrderValue = b.revenue.Div(decimal.NewFromInt(int64(n)))
		}
		out = append(out, h)
	}
	return out
}

// =============================================================================
// PHASE C - Per-account commit
// =============================================================================

// commitAccount writes one account's cycle output. Returns (degraded,
// failed) flags for the run summary. Nothing here aborts the batch.
func (a *Aggregator) commitAccount(ctx context.Context, c *computed, runID string, today Date, log *zap.Logger) (degraded, failed bool) {
	existing, getErr := a.predictions.Get(ctx, c.info.Code)
	var version int64
	prior := ReminderFields{}
	if getErr == nil {
		version = existing.Version
		prior = existing.Reminder()
	}

	if c.err != nil {
		// Degrade to a failed row; preserve identity and reminder state so
		// an in-flight cycle is not lost to a transient read error.
		log.Warn("account computation failed",
			zap.String("account", string(c.info.Code)),
			zap.Error(c.err))
		c.pred = &AccountPrediction{
			Code:          c.info.Code,
			Name:          c.info.Name,
			Address:       c.info.Address,
			SalesRep:      c.info.SalesRep,
			SalesRepName:  c.info.SalesRepName,
			Distributor:   c.info.Distributor,
			CustomerEmail: c.info.CustomerEmail,
			Status:        StatusFailed,
			RFMSegment:    SegmentUnknown,
		}
		failed = true
	}

	// Carry the reminder cycle forward, then let fresh data advance it:
	// promotion first (a response is never lost to a reset), then the
	// cycle reset if the expected date moved strictly forward.
	fields := prior
	if c.err == nil {
		if next, ok := PromoteIfPurchased(fields, c.txs); ok {
			fields = next
		}
		if next, ok := ResetCycleIfAdvanced(fields, c.pred.NextExpectedPurchaseDate); ok {
			fields = next
		}
	}
	c.pred.SetReminder(fields)
	c.pred.UpdatedAt = a.clock.Now()

	if err := a.putWithRetry(ctx, c.pred, version); err != nil {
		log.Error("prediction write failed",
			zap.String("account", string(c.info.Code)),
			zap.Error(err))
		return degraded, true
	}

	if c.pred.Status == StatusInsufficientData {
		degraded = true
	}

	snap := snapshotOf(c.pred, runID, a.clock.Now())
	if err := a.snapshots.Append(ctx, snap); err != nil {
		log.Warn("snapshot append failed",
			zap.String("account", string(c.info.Code)),
			zap.Error(err))
	}

	for _, h := range c.hist {
		if err := a.history.Upsert(ctx, h); err != nil {
			log.Warn("history upsert failed",
				zap.String("account", string(c.info.Code)),
				zap.Int("year", h.Year),
				zap.Error(err))
			break
		}
	}
	return degraded, failed
}

// putWithRetry writes the row with one conflict retry against the fresh
// version. The retry re-reads only the version and reminder fields; the
// computed metrics stand.
func (a *Aggregator) putWithRetry(ctx context.Context, pred *AccountPrediction, version int64) error {
	err := a.predictions.Put(ctx, pred, version)
	if err == nil || !IsRetryable(err) {
		return err
	}
	fresh, getErr := a.predictions.Get(ctx, pred.Code)
	if getErr != nil {
		return getErr
	}
	pred.SetReminder(fresh.Reminder())
	return a.predictions.Put(ctx, pred, fresh.Version)
}

func snapshotOf(p *AccountPrediction, runID string, now time.Time) AccountSnapshot {
	return AccountSnapshot{
		ID:                       uuid.NewString(),
		RunID:                    runID,
		Code:                     p.Code,
		CapturedAt:               now,
		Status:                   p.Status,
		HealthScore:              p.HealthScore,
		CYTDRevenue:              p.CYTDRevenue,
		YEPRevenue:               p.YEPRevenue,
		PaceVsLY:                 p.PaceVsLY,
		ProductCoveragePct:       p.ProductCoveragePct,
		RFMSegment:               p.RFMSegment,
		NextExpectedPurchaseDate: p.NextExpectedPurchaseDate,
		ReminderState:            p.ReminderState,
	}
}
