/*
coverage.go - Top-N product coverage and cross-sell gaps

PURPOSE:
  Ranks the portfolio's top revenue SKUs for the trailing window and
  measures, per account, which of them the account carries. The complement
  is the cross-sell gap list reps work from.

SEMANTICS:
  - "Carried" means at least one purchase of the SKU inside the trailing
    window, regardless of quantity.
  - Each missing SKU is tagged with why: never purchased at all, or lapsed
    (the account used to buy it, last seen >12 or >24 months back).
  - Missing products sort by portfolio revenue descending, so the biggest
    proven sellers surface first.
  - Coverage is always computed against one TopSKUSet artifact. The set
    is built at the start of each cycle and carries a version so runs can
    be tied back to the ranking they scored against; vintages never mix.
*/
package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TOP SKU SET - Portfolio-wide ranking artifact
// =============================================================================

// RankedSKU is one entry of the portfolio top-N, with the trailing-window
// revenue that earned its rank.
type RankedSKU struct {
	SKU     SKU
	Rank    int
	Revenue decimal.Decimal
}

// TopSKUSet is the versioned top-N ranking one aggregation cycle scores
// every account against.
type TopSKUSet struct {
	Version    string
	ComputedAt time.Time
	Ranked     []RankedSKU
}

// BuildTopSKUSet ranks SKUs by total revenue descending and keeps the top
// n. Ties break lexically by SKU so the ranking is deterministic across
// runs. Fewer than n SKUs in the portfolio yields a shorter set, never
// padding.
func BuildTopSKUSet(revenueBySKU map[SKU]decimal.Decimal, n int, now time.Time) *TopSKUSet {
	ranked := make([]RankedSKU, 0, len(revenueBySKU))
	for sku, rev := range revenueBySKU {
		ranked = append(ranked, RankedSKU{SKU: sku, Revenue: rev})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].Revenue.Equal(ranked[j].Revenue) {
			return ranked[i].Revenue.GreaterThan(ranked[j].Revenue)
		}
		return ranked[i].SKU < ranked[j].SKU
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return &TopSKUSet{
		Version:    uuid.NewString(),
		ComputedAt: now,
		Ranked:     ranked,
	}
}

// =============================================================================
// PER-ACCOUNT COVERAGE
// =============================================================================

// CoverageResult is one account's position against the top-N set.
type CoverageResult struct {
	Pct     float64
	Carried []SKU
	Missing []MissingProduct
}

// Lapsed thresholds in days. Past the second threshold the stronger tag
// wins.
const (
	lapsed12Days = 365
	lapsed24Days = 730
)

// Coverage scores one account against the set. carriedInWindow holds the
// SKUs the account bought inside the trailing window; lastSeen maps every
// SKU the account has EVER bought to its most recent purchase date, so
// lapsed products can be told apart from never-purchased ones.
func Coverage(set *TopSKUSet, carriedInWindow map[SKU]bool, lastSeen map[SKU]Date, today Date) CoverageResult {
	res := CoverageResult{}
	if len(set.Ranked) == 0 {
		return res
	}

	for _, r := range set.Ranked {
		if carriedInWindow[r.SKU] {
			res.Carried = append(res.Carried, r.SKU)
			continue
		}
		mp := MissingProduct{SKU: r.SKU, PortfolioRevenue: r.Revenue}
		if last, ever := lastSeen[r.SKU]; ever {
			d := last
			mp.LastPurchased = &d
			if DaysBetween(last, today) > lapsed24Days {
				mp.Reason = ReasonLapsed24
			} else {
				mp.Reason = ReasonLapsed12
			}
		} else {
			mp.Reason = ReasonNeverPurchased
		}
		res.Missing = append(res.Missing, mp)
	}

	sort.SliceStable(res.Missing, func(i, j int) bool {
		return res.Missing[i].PortfolioRevenue.GreaterThan(res.Missing[j].PortfolioRevenue)
	})

	res.Pct = float64(len(res.Carried)) / float64(len(set.Ranked)) * 100
	return res
}
