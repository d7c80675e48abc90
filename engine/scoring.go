/*
scoring.go - Health score, pacing metrics, and RFM segmentation

PURPOSE:
  Computes the interpretable account metrics the dashboard and digests are
  built on:
  - YEP: straight-line year-end revenue projection
  - pace_vs_ly: YEP vs the prior full year, as a tagged value
  - health score: weighted blend of four normalized sub-scores
  - RFM segment: quintile scores mapped through a fixed rule table

NUMERIC CONTRACTS:
  - YEP = cytd_revenue * (365 / day_of_year). Projection applies only to the
    current year; completed years use their actual totals.
  - pace_vs_ly = ((yep - py) / py) * 100 when py > 0. A zero prior year with
    current revenue is "New Growth"; both zero is "N/A". Sentinels stay
    sentinels - they are never coerced to 0.
  - Sub-scores normalize to [0,1] and are exposed individually so tests can
    pin them without caring about blend weights. A missing sub-score is
    down-weighted by renormalizing the weight sum, not treated as zero.
  - The blended health score is always within [0,100].

WEIGHTS:
  Blend weights are configuration, not business logic baked in here. The
  engine only requires that at least one weight is positive.

SEE ALSO:
  - aggregate.go: assembles ScoreInputs from the transaction history
  - config: default weights and RFM fallback thresholds
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// YEP & PACE
// =============================================================================

var days365 = decimal.NewFromInt(365)

// YEP extrapolates current-year-to-date revenue to a full-year estimate.
// On day d of the year, yep = cytd * 365/d.
func YEP(cytdRevenue decimal.Decimal, today Date) decimal.Decimal {
	day := today.DayOfYear()
	if day == 0 {
		return cytdRevenue
	}
	return cytdRevenue.Mul(days365).Div(decimal.NewFromInt(int64(day)))
}

// PaceVsLY compares the projection against the prior full year's actual
// revenue.
func PaceVsLY(yep, pyTotal decimal.Decimal) Pace {
	if pyTotal.IsPositive() {
		pct := yep.Sub(pyTotal).Div(pyTotal).Mul(decimal.NewFromInt(100))
		return NumericPace(pct)
	}
	if yep.IsPositive() {
		return Pace{Kind: PaceNewGrowth}
	}
	return Pace{Kind: PaceUndefined}
}

// =============================================================================
// HEALTH SCORE - Four sub-scores, configurable blend
// =============================================================================

// ScoreWeights is the health blend. Values are relative; only the ratios
// matter.
type ScoreWeights struct {
	Recency   float64
	Frequency float64
	Monetary  float64
	Pace      float64
}

// ScoreInputs is everything the sub-scores need, pre-aggregated from the
// account's transaction history.
type ScoreInputs struct {
	Today              Date
	LastPurchase       *Date
	OrdersTrailing12mo int
	// Lifetime orders per year, the account's own frequency baseline.
	HistoricalOrdersPerYear float64
	AvgOrderValueCYTD       decimal.Decimal
	AvgOrderValueHistorical decimal.Decimal
	Pace                    Pace
}

// SubScores are each in [0,1]; nil means the input required to compute the
// component is missing and the component must be excluded from the blend.
type SubScores struct {
	Recency   *float64
	Frequency *float64
	Monetary  *float64
	Pace      *float64
}

// Pace sub-score bounds: -50% pace maps to 0, +25% maps to 1.
const (
	paceFloorPct   = -50.0
	paceCeilingPct = 25.0
	// A "New Growth" account has no prior-year base but is generating
	// revenue from zero; it scores well without being a perfect signal.
	newGrowthPaceScore = 0.75
)

// ComputeSubScores derives the four normalized components.
func ComputeSubScores(in ScoreInputs) SubScores {
	var s SubScores

	if in.LastPurchase != nil {
		days := DaysBetween(*in.LastPurchase, in.Today)
		if days < 0 {
			days = 0
		}
		// Full credit today, decaying to zero at a year dark.
		r := clamp01(1.0 - float64(days)/365.0)
		s.Recency = &r
	}

	if in.HistoricalOrdersPerYear > 0 {
		f := clamp01(float64(in.OrdersTrailing12mo) / in.HistoricalOrdersPerYear)
		s.Frequency = &f
	}

	if in.AvgOrderValueHistorical.IsPositive() && in.AvgOrderValueCYTD.IsPositive() {
		ratio, _ := in.AvgOrderValueCYTD.Div(in.AvgOrderValueHistorical).Float64()
		m := clamp01(ratio)
		s.Monetary = &m
	}

	switch in.Pace.Kind {
	case PaceNumeric:
		pct, _ := in.Pace.Pct.Float64()
		if pct < paceFloorPct {
			pct = paceFloorPct
		}
		if pct > paceCeilingPct {
			pct = paceCeilingPct
		}
		p := (pct - paceFloorPct) / (paceCeilingPct - paceFloorPct)
		s.Pace = &p
	case PaceNewGrowth:
		p := newGrowthPaceScore
		s.Pace = &p
	}

	return s
}

// BlendHealth combines the available sub-scores into a 0-100 health score.
// Missing components drop out of both numerator and weight sum; an account
// with only recency data is scored purely on recency rather than dragged
// down by phantom zeros. No components at all yields 0.
func BlendHealth(s SubScores, w ScoreWeights) float64 {
	var num, den float64
	add := func(score *float64, weight float64) {
		if score != nil && weight > 0 {
			num += *score * weight
			den += weight
		}
	}
	add(s.Recency, w.Recency)
	add(s.Frequency, w.Frequency)
	add(s.Monetary, w.Monetary)
	add(s.Pace, w.Pace)

	if den == 0 {
		return 0
	}
	return clamp01(num/den) * 100
}

// HealthCategoryFor bands a health score for display.
func HealthCategoryFor(score float64) string {
	switch {
	case score >= 80:
		return "Excellent"
	case score >= 60:
		return "Good"
	case score >= 40:
		return "Average"
	case score >= 20:
		return "Poor"
	default:
		return "Critical"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// =============================================================================
// RFM SEGMENTATION
// =============================================================================

// Segment is an RFM label.
type Segment string

const (
	SegmentChampions          Segment = "Champions"
	SegmentLoyal              Segment = "Loyal Customers"
	SegmentPotentialLoyalists Segment = "Potential Loyalists"
	SegmentNewCustomers       Segment = "New Customers"
	SegmentPromising          Segment = "Promising"
	SegmentAtRisk             Segment = "At Risk"
	SegmentCantLose           Segment = "Can't Lose"
	SegmentHibernating        Segment = "Hibernating"
	SegmentLost               Segment = "Lost"
	SegmentNeedAttention      Segment = "Need Attention"
	SegmentUnknown            Segment = "Unknown"
)

// RFMInput is one account's raw recency/frequency/monetary observations.
// Accounts with no trailing-12-month activity are segmented Unknown and
// excluded from the quintile pool.
type RFMInput struct {
	Code               AccountCode
	DaysSinceLast      int
	OrdersTrailing12mo int
	RevenueTrailing12m decimal.Decimal
}

// RFMResult carries the three 1-5 scores and the mapped segment.
type RFMResult struct {
	Code      AccountCode
	Recency   int
	Frequency int
	Monetary  int
	Segment   Segment
}

// RFMThresholds are the fixed-bucket fallbacks used when the active
// portfolio is too small for quintiles (fewer than 5 accounts).
type RFMThresholds struct {
	RecencyDays    [4]int             // <= r[0] -> 5, <= r[1] -> 4, ...
	OrderCounts    [4]int             // >= f[0] -> 5, >= f[1] -> 4, ...
	RevenueAmounts [4]decimal.Decimal // >= m[0] -> 5, ...
}

// DefaultRFMThresholds mirror the small-portfolio buckets the scoring has
// always used: 30/60/90/120 days, 20/10/5/2 orders, 10k/5k/1k/500 revenue.
func DefaultRFMThresholds() RFMThresholds {
	return RFMThresholds{
		RecencyDays: [4]int{30, 60, 90, 120},
		OrderCounts: [4]int{20, 10, 5, 2},
		RevenueAmounts: [4]decimal.Decimal{
			decimal.NewFromInt(10000),
			decimal.NewFromInt(5000),
			decimal.NewFromInt(1000),
			decimal.NewFromInt(500),
		},
	}
}

// AssignRFM scores every active account on R, F, M independently (quintiles
// within the pool, threshold fallback for small pools) and maps each triple
// through the segment table. Results are keyed by account code.
func AssignRFM(inputs []RFMInput, th RFMThresholds) map[AccountCode]RFMResult {
	out := make(map[AccountCode]RFMResult, len(inputs))
	if len(inputs) == 0 {
		return out
	}

	if len(inputs) < 5 {
		for _, in := range inputs {
			r := thresholdRecency(in.DaysSinceLast, th)
			f := thresholdDescending(in.OrdersTrailing12mo, th.OrderCounts)
			m := thresholdRevenue(in.RevenueTrailing12m, th.RevenueAmounts)
			out[in.Code] = RFMResult{Code: in.Code, Recency: r, Frequency: f, Monetary: m, Segment: SegmentFor(r, f, m)}
		}
		return out
	}

	n := len(inputs)
	// Recency: fewer days since last purchase ranks higher.
	rScore := quintileScores(inputs, n, func(a, b RFMInput) bool {
		return a.DaysSinceLast > b.DaysSinceLast
	})
	fScore := quintileScores(inputs, n, func(a, b RFMInput) bool {
		return a.OrdersTrailing12mo < b.OrdersTrailing12mo
	})
	mScore := quintileScores(inputs, n, func(a, b RFMInput) bool {
		return a.RevenueTrailing12m.LessThan(b.RevenueTrailing12m)
	})

	for _, in := range inputs {
		r, f, m := rScore[in.Code], fScore[in.Code], mScore[in.Code]
		out[in.Code] = RFMResult{Code: in.Code, Recency: r, Frequency: f, Monetary: m, Segment: SegmentFor(r, f, m)}
	}
	return out
}

// quintileScores ranks accounts ascending by "worse first" and assigns 1-5
// by rank position, so ties resolve by stable order rather than dropping
// buckets.
func quintileScores(inputs []RFMInput, n int, worse func(a, b RFMInput) bool) map[AccountCode]int {
	ranked := make([]RFMInput, n)
	copy(ranked, inputs)
	sort.SliceStable(ranked, func(i, j int) bool { return worse(ranked[i], ranked[j]) })

	scores := make(map[AccountCode]int, n)
	for rank, in := range ranked {
		// rank 0 is worst -> score 1; top fifth -> score 5
		scores[in.Code] = 1 + (rank*5)/n
	}
	return scores
}

func thresholdRecency(days int, th RFMThresholds) int {
	for i, limit := range th.RecencyDays {
		if days <= limit {
			return 5 - i
		}
	}
	return 1
}

func thresholdDescending(v int, limits [4]int) int {
	for i, limit := range limits {
		if v >= limit {
			return 5 - i
		}
	}
	return 1
}

func thresholdRevenue(v decimal.Decimal, limits [4]decimal.Decimal) int {
	for i, limit := range limits {
		if v.GreaterThanOrEqual(limit) {
			return 5 - i
		}
	}
	return 1
}

// segmentRule is one row of the lookup table. First match wins.
type segmentRule struct {
	match   func(r, f, m int) bool
	segment Segment
}

var segmentTable = []segmentRule{
	{func(r, f, m int) bool { return r >= 4 && f >= 4 && m >= 4 }, SegmentChampions},
	{func(r, f, m int) bool { return r >= 3 && f >= 3 && m >= 3 }, SegmentLoyal},
	{func(r, f, m int) bool { return r >= 4 && f >= 2 && m >= 2 }, SegmentPotentialLoyalists},
	{func(r, f, m int) bool { return r >= 4 && f <= 2 }, SegmentNewCustomers},
	{func(r, f, m int) bool { return r >= 3 && f <= 2 && m <= 2 }, SegmentPromising},
	{func(r, f, m int) bool { return r <= 2 && f >= 4 && m >= 4 }, SegmentCantLose},
	{func(r, f, m int) bool { return r <= 2 && f >= 3 && m >= 3 }, SegmentAtRisk},
	{func(r, f, m int) bool { return r <= 1 && f <= 1 && m <= 2 }, SegmentLost},
	{func(r, f, m int) bool { return r <= 2 && f <= 2 }, SegmentHibernating},
}

// SegmentFor maps an (R, F, M) triple to its label. Deterministic lookup,
// first matching rule wins; anything unmatched needs attention.
func SegmentFor(r, f, m int) Segment {
	for _, rule := range segmentTable {
		if rule.match(r, f, m) {
			return rule.segment
		}
	}
	return SegmentNeedAttention
}

// =============================================================================
// GROWTH TARGETS
// =============================================================================

var (
	onePctGrowth = decimal.NewFromFloat(1.01)
)

// GrowthTargets are the revenue goals surfaced in digests: finish the year
// 1% above the better of last year and the current projection.
type GrowthTargets struct {
	TargetYEPPlus1Pct        decimal.Decimal
	AdditionalRevenueNeeded  decimal.Decimal
	SuggestedNextOrderAmount decimal.Decimal
}

// ComputeGrowthTargets derives the +1% target, the revenue still needed to
// hit it, and a suggested next-order size spread over the expected orders
// remaining this year (by cadence), falling back to the CYTD average order.
func ComputeGrowthTargets(cytd, pyTotal, yep, avgOrderCYTD decimal.Decimal, medianIntervalDays int, today Date) GrowthTargets {
	base := pyTotal
	if yep.GreaterThan(base) {
		base = yep
	}
	target := base.Mul(onePctGrowth)

	needed := target.Sub(cytd)
	if needed.IsNegative() {
		needed = decimal.Zero
	}

	suggested := avgOrderCYTD
	if needed.IsPositive() && medianIntervalDays > 0 {
		daysLeft := DaysBetween(today, EndOfYear(today.Year()))
		ordersLeft := daysLeft / medianIntervalDays
		if ordersLeft < 1 {
			ordersLeft = 1
		}
		suggested = needed.Div(decimal.NewFromInt(int64(ordersLeft)))
	}

	return GrowthTargets{
		TargetYEPPlus1Pct:        target,
		AdditionalRevenueNeeded:  needed,
		SuggestedNextOrderAmount: suggested,
	}
}
