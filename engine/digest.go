/*
digest.go - Weekly rep digest assembly

PURPOSE:
  Builds the per-rep weekly digest from the current prediction rows. Pure
  read: assembling a digest never mutates reminder state or any other row,
  so a failed or repeated digest send has no data consequences.

SECTIONS:
  - Due this week: forecast dates falling inside [weekStart, weekStart+6]
  - Action needed: reminders sent more than the follow-up window ago with
    no purchase since
  - Cross-sell: the rep's accounts with the lowest top-N coverage, with
    their highest-revenue gaps
  - KPIs: book-level rollup with accounts bucketed by pace band, the
    overdue share of forecastable accounts, and the low-health count
*/
package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DIGEST CONTENT
// =============================================================================

// DueEntry is one account expected to purchase this week.
type DueEntry struct {
	Code         AccountCode
	Name         string
	ExpectedOn   Date
	LastPurchase *Date
	SuggestedAmt decimal.Decimal
}

// ActionEntry is one unanswered reminder needing rep follow-up.
type ActionEntry struct {
	Code        AccountCode
	Name        string
	SentDaysAgo int
	DaysOverdue int
}

// CrossSellEntry pairs a low-coverage account with its biggest gaps.
type CrossSellEntry struct {
	Code        AccountCode
	Name        string
	CoveragePct float64
	TopGaps     []MissingProduct
}

// PaceBand buckets for the KPI rollup. Thresholds are percentages against
// last year: severely behind, behind, flat-to-ahead.
type PaceBands struct {
	SeverelyBehindPct decimal.Decimal // numeric pace below this
	BehindPct         decimal.Decimal // numeric pace below this
	AheadPct          decimal.Decimal // numeric pace above this
}

func DefaultPaceBands() PaceBands {
	return PaceBands{
		SeverelyBehindPct: decimal.NewFromInt(-20),
		BehindPct:         decimal.NewFromInt(-10),
		AheadPct:          decimal.Zero,
	}
}

// DigestKPIs is the book-level rollup.
type DigestKPIs struct {
	Accounts         int
	BookCYTD         decimal.Decimal
	BookYEP          decimal.Decimal
	BookPY           decimal.Decimal
	SeverelyBehind   int
	Behind           int
	OnPaceOrAhead    int
	NewGrowth        int
	PaceUnavailable  int
	AvgHealthScore   float64
	OverduePct       float64 // share of forecastable accounts past their expected date
	LowHealthCount   int
	ForecastWithheld int
}

// DigestContent is everything one rep's weekly email is rendered from.
type DigestContent struct {
	Rep          RepRef
	WeekStart    Date
	DueThisWeek  []DueEntry
	ActionNeeded []ActionEntry
	CrossSell    []CrossSellEntry
	KPIs         DigestKPIs
}

// Empty reports whether the digest has nothing actionable to say.
func (d *DigestContent) Empty() bool {
	return len(d.DueThisWeek) == 0 && len(d.ActionNeeded) == 0 && len(d.CrossSell) == 0
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// DigestConfig tunes assembly.
type DigestConfig struct {
	FollowUpAfterDays int
	CrossSellAccounts int
	GapsPerAccount    int
	LowHealthBelow    float64
	Bands             PaceBands
}

func (c DigestConfig) withDefaults() DigestConfig {
	if c.FollowUpAfterDays == 0 {
		c.FollowUpAfterDays = 7
	}
	if c.CrossSellAccounts == 0 {
		c.CrossSellAccounts = 5
	}
	if c.GapsPerAccount == 0 {
		c.GapsPerAccount = 3
	}
	if c.LowHealthBelow == 0 {
		c.LowHealthBelow = 40 // the Poor/Critical bands
	}
	if c.Bands == (PaceBands{}) {
		c.Bands = DefaultPaceBands()
	}
	return c
}

// BuildDigest assembles one rep's digest from their prediction rows for the
// week starting weekStart. Pure function; today anchors the "days ago"
// arithmetic.
func BuildDigest(rep RepRef, preds []*AccountPrediction, weekStart, today Date, cfg DigestConfig) DigestContent {
	cfg = cfg.withDefaults()
	weekEnd := weekStart.AddDays(6)
	d := DigestContent{Rep: rep, WeekStart: weekStart}

	var healthSum float64
	var scored, forecastable, overdue int
	for _, p := range preds {
		d.KPIs.Accounts++
		d.KPIs.BookCYTD = d.KPIs.BookCYTD.Add(p.CYTDRevenue)
		d.KPIs.BookYEP = d.KPIs.BookYEP.Add(p.YEPRevenue)
		d.KPIs.BookPY = d.KPIs.BookPY.Add(p.PYTotalRevenue)
		if p.Status != StatusFailed {
			healthSum += p.HealthScore
			scored++
			if p.HealthScore < cfg.LowHealthBelow {
				d.KPIs.LowHealthCount++
			}
		}
		if p.Status != StatusOK {
			d.KPIs.ForecastWithheld++
		}
		if p.NextExpectedPurchaseDate != nil {
			forecastable++
			if p.DaysOverdue(today) > 0 {
				overdue++
			}
		}

		switch {
		case p.PaceVsLY.Below(cfg.Bands.SeverelyBehindPct):
			d.KPIs.SeverelyBehind++
		case p.PaceVsLY.Below(cfg.Bands.BehindPct):
			d.KPIs.Behind++
		case p.PaceVsLY.Kind == PaceNumeric:
			d.KPIs.OnPaceOrAhead++
		case p.PaceVsLY.Kind == PaceNewGrowth:
			d.KPIs.NewGrowth++
		default:
			d.KPIs.PaceUnavailable++
		}

		if p.NextExpectedPurchaseDate != nil &&
			p.NextExpectedPurchaseDate.AfterOrEqual(weekStart) &&
			p.NextExpectedPurchaseDate.BeforeOrEqual(weekEnd) {
			d.DueThisWeek = append(d.DueThisWeek, DueEntry{
				Code:         p.Code,
				Name:         p.Name,
				ExpectedOn:   *p.NextExpectedPurchaseDate,
				LastPurchase: p.LastPurchaseDate,
				SuggestedAmt: p.SuggestedNextOrderAmount,
			})
		}

		if ActionNeeded(p, today, cfg.FollowUpAfterDays) {
			d.ActionNeeded = append(d.ActionNeeded, ActionEntry{
				Code:        p.Code,
				Name:        p.Name,
				SentDaysAgo: DaysBetween(DateOf(*p.ReminderSentAt), today),
				DaysOverdue: p.DaysOverdue(today),
			})
		}
	}
	if scored > 0 {
		d.KPIs.AvgHealthScore = healthSum / float64(scored)
	}
	if forecastable > 0 {
		d.KPIs.OverduePct = float64(overdue) / float64(forecastable) * 100
	}

	sort.Slice(d.DueThisWeek, func(i, j int) bool {
		if !d.DueThisWeek[i].ExpectedOn.Equal(d.DueThisWeek[j].ExpectedOn) {
			return d.DueThisWeek[i].ExpectedOn.Before(d.DueThisWeek[j].ExpectedOn)
		}
		return d.DueThisWeek[i].Code < d.DueThisWeek[j].Code
	})
	sort.Slice(d.ActionNeeded, func(i, j int) bool {
		if d.ActionNeeded[i].SentDaysAgo != d.ActionNeeded[j].SentDaysAgo {
			return d.ActionNeeded[i].SentDaysAgo > d.ActionNeeded[j].SentDaysAgo
		}
		return d.ActionNeeded[i].Code < d.ActionNeeded[j].Code
	})

	d.CrossSell = crossSellPicks(preds, cfg)
	return d
}

// crossSellPicks selects the lowest-coverage accounts that actually have
// gaps, with each account's highest-revenue missing products.
func crossSellPicks(preds []*AccountPrediction, cfg DigestConfig) []CrossSellEntry {
	var candidates []*AccountPrediction
	for _, p := range preds {
		if p.Status == StatusFailed || len(p.MissingTopProducts) == 0 {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ProductCoveragePct != candidates[j].ProductCoveragePct {
			return candidates[i].ProductCoveragePct < candidates[j].ProductCoveragePct
		}
		return candidates[i].Code < candidates[j].Code
	})
	if len(candidates) > cfg.CrossSellAccounts {
		candidates = candidates[:cfg.CrossSellAccounts]
	}

	out := make([]CrossSellEntry, 0, len(candidates))
	for _, p := range candidates {
		gaps := p.MissingTopProducts
		if len(gaps) > cfg.GapsPerAccount {
			gaps = gaps[:cfg.GapsPerAccount]
		}
		out = append(out, CrossSellEntry{
			Code:        p.Code,
			Name:        p.Name,
			CoveragePct: p.ProductCoveragePct,
			TopGaps:     gaps,
		})
	}
	return out
}
