/*
Package engine contains the account prediction and reminder core.

PURPOSE:
  This package turns raw transaction history into per-account purchase
  forecasts, health scores, pacing metrics, and product-coverage gaps, and
  runs the reminder lifecycle that outbound communication hangs off.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: an immutable, already-deduplicated sales line
  - AccountPrediction: the single mutable "current view" row per account
  - AccountSnapshot: immutable per-run copy of a prediction
  - AccountHistoricalRevenue: per-year revenue rollup
  - Pace: tagged pacing value ("New Growth" and "N/A" are states, not numbers)
  - ReminderState: closed NULL -> SENT -> PURCHASED lifecycle

DESIGN PRINCIPLES:
  1. Transactions are never mutated; every metric is recomputed from them
  2. decimal.Decimal for all revenue-derived figures, no float money
  3. The prediction row distinguishes "never computed" and "withheld" from
     "computed as zero" via Status
  4. Reminder fields are the only fields mutated outside the weekly
     aggregation cycle

SEE ALSO:
  - cadence.go: interval inference and next-purchase forecasting
  - scoring.go: YEP, pace, health, RFM
  - coverage.go: top-N SKU coverage and gaps
  - aggregate.go: the weekly full recompute
  - reminder.go: the daily state machine step
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountCode is the canonical account identity produced by the external
// consolidation step. Stable across chain/store aliases.
type AccountCode string

// SKU identifies a product.
type SKU string

// RepID identifies a sales rep.
type RepID string

// =============================================================================
// TRANSACTION - The unit of truth
// =============================================================================

// Transaction is one cleaned, deduplicated sales line from the ingestion
// collaborator. Immutable once ingested.
type Transaction struct {
	Account     AccountCode
	Date        Date
	SKU         SKU
	Quantity    int
	Revenue     decimal.Decimal
	Distributor string
	SourceFile  string
}

// AccountInfo carries the consolidated identity attributes for one account.
// Owned by the consolidation step; the engine only reads it.
type AccountInfo struct {
	Code          AccountCode
	Name          string
	Address       string
	SalesRep      RepID
	SalesRepName  string
	Distributor   string
	CustomerEmail string
}

// RepRef identifies a rep for digest fan-out.
type RepRef struct {
	ID   RepID
	Name string
}

// =============================================================================
// PACE - Tagged pacing value
// =============================================================================
// pace_vs_ly is a percentage when prior-year revenue exists, the sentinel
// "New Growth" when revenue appears against a zero prior year, and "N/A"
// when neither year has revenue. Coercing the sentinels to 0 would make a
// brand-new account indistinguishable from one pacing exactly flat.

type PaceKind int

const (
	PaceUndefined PaceKind = iota // no prior-year base and no current revenue
	PaceNumeric                   // Pct holds ((yep - py) / py) * 100
	PaceNewGrowth                 // revenue this year against a zero prior year
)

type Pace struct {
	Kind PaceKind
	Pct  decimal.Decimal
}

func NumericPace(pct decimal.Decimal) Pace { return Pace{Kind: PaceNumeric, Pct: pct} }

func (p Pace) String() string {
	switch p.Kind {
	case PaceNumeric:
		return p.Pct.Round(1).String() + "%"
	case PaceNewGrowth:
		return "New Growth"
	default:
		return "N/A"
	}
}

// Below reports whether the pace is numeric and under the given threshold.
// Sentinel paces never band as numeric.
func (p Pace) Below(threshold decimal.Decimal) bool {
	return p.Kind == PaceNumeric && p.Pct.LessThan(threshold)
}

// =============================================================================
// REMINDER STATE
// =============================================================================

// ReminderState is the customer-reminder lifecycle. The zero value means no
// reminder cycle is active (persisted as NULL).
type ReminderState string

const (
	ReminderNone      ReminderState = ""
	ReminderSent      ReminderState = "SENT"
	ReminderPurchased ReminderState = "PURCHASED"
)

// =============================================================================
// PREDICTION STATUS
// =============================================================================

// PredictionStatus distinguishes a usable prediction from one that was
// withheld or failed. Dashboards must render the latter two as
// "prediction unavailable", never as zeros.
type PredictionStatus string

const (
	StatusOK               PredictionStatus = "ok"
	StatusInsufficientData PredictionStatus = "insufficient_data"
	StatusFailed           PredictionStatus = "failed"
)

// =============================================================================
// MISSING PRODUCT - Coverage gap entry
// =============================================================================

type MissingReason string

const (
	ReasonNeverPurchased MissingReason = "never purchased"
	ReasonLapsed12       MissingReason = "lapsed - last bought >12mo ago"
	ReasonLapsed24       MissingReason = "lapsed - last bought >24mo ago"
)

// MissingProduct is one top-N SKU the account did not buy in the trailing
// window, tagged with why.
type MissingProduct struct {
	SKU              SKU
	Reason           MissingReason
	LastPurchased    *Date // nil when never purchased
	PortfolioRevenue decimal.Decimal
}

// =============================================================================
// ACCOUNT PREDICTION - The current view, one row per account
// =============================================================================

// AccountPrediction is the single mutable surface of the system. It is
// rewritten wholesale by the weekly aggregation; only the reminder fields
// move between cycles (daily send step).
type AccountPrediction struct {
	// Identity (from consolidation)
	Code          AccountCode
	Name          string
	Address       string
	SalesRep      RepID
	SalesRepName  string
	Distributor   string
	CustomerEmail string

	// Forecast
	Status                   PredictionStatus
	LastPurchaseDate         *Date
	LastPurchaseAmount       decimal.Decimal
	MedianIntervalDays       int
	NextExpectedPurchaseDate *Date
	AvgIntervalCYTD          *float64
	AvgIntervalPY            *float64

	// Lifetime rollups
	AccountTotal      decimal.Decimal
	PurchaseFrequency int

	// Pacing
	CYTDRevenue        decimal.Decimal
	PYTotalRevenue     decimal.Decimal
	YEPRevenue         decimal.Decimal
	PaceVsLY           Pace
	AvgOrderAmountCYTD decimal.Decimal

	// Growth targets
	TargetYEPPlus1Pct        decimal.Decimal
	AdditionalRevenueNeeded  decimal.Decimal
	SuggestedNextOrderAmount decimal.Decimal

	// Scores
	HealthScore    float64
	HealthCategory string
	RecencyScore   int
	FrequencyScore int
	MonetaryScore  int
	RFMSegment     Segment

	// Coverage
	ProductCoveragePct float64
	CarriedTopProducts []SKU
	MissingTopProducts []MissingProduct

	// Reminder lifecycle. Invariant: ReminderSentAt != nil iff
	// ReminderState != ReminderNone; ReminderDueAt keys the current cycle.
	ReminderState  ReminderState
	ReminderSentAt *time.Time
	ReminderDueAt  *Date

	// Optimistic locking
	Version   int64
	UpdatedAt time.Time
}

// DaysOverdue returns how many days past the expected purchase date the
// account is, or 0 when not overdue or no forecast exists.
func (p *AccountPrediction) DaysOverdue(today Date) int {
	if p.NextExpectedPurchaseDate == nil {
		return 0
	}
	d := DaysBetween(*p.NextExpectedPurchaseDate, today)
	if d < 0 {
		return 0
	}
	return d
}

// ReminderFields is the slice of the prediction row the daily step may
// mutate without touching anything else.
type ReminderFields struct {
	State  ReminderState
	SentAt *time.Time
	DueAt  *Date
}

func (p *AccountPrediction) Reminder() ReminderFields {
	return ReminderFields{State: p.ReminderState, SentAt: p.ReminderSentAt, DueAt: p.ReminderDueAt}
}

func (p *AccountPrediction) SetReminder(f ReminderFields) {
	p.ReminderState = f.State
	p.ReminderSentAt = f.SentAt
	p.ReminderDueAt = f.DueAt
}

// =============================================================================
// HISTORICAL REVENUE - (account, year) rollup
// =============================================================================

type AccountHistoricalRevenue struct {
	Code             AccountCode
	Year             int
	TotalRevenue     decimal.Decimal
	TransactionCount int
	UniqueSKUs       []SKU
	AvgOrderValue    decimal.Decimal
}

// =============================================================================
// ACCOUNT SNAPSHOT - Immutable per-run copy
// =============================================================================

// AccountSnapshot freezes the headline metrics of one prediction at one
// aggregation run. Append-only; trend reads only.
type AccountSnapshot struct {
	ID         string
	RunID      string
	Code       AccountCode
	CapturedAt time.Time

	Status                   PredictionStatus
	HealthScore              float64
	CYTDRevenue              decimal.Decimal
	YEPRevenue               decimal.Decimal
	PaceVsLY                 Pace
	ProductCoveragePct       float64
	RFMSegment               Segment
	NextExpectedPurchaseDate *Date
	ReminderState            ReminderState
}
