/*
cadence.go - Purchase interval inference and next-purchase forecasting

PURPOSE:
  Derives an account's typical re-order interval from its order history and
  projects the next expected purchase date. This is a pure function over a
  trailing transaction window: no store access, no clock reads.

ALGORITHM:
  1. Coalesce same-day transactions into one order event (an invoice split
     across lines is one purchase, not five)
  2. Take the day gaps between consecutive order events
  3. Median of the gaps, half-up to whole days (robust to one-off long gaps)
  4. next_expected = last order day + median

WITHHOLDING:
  Fewer than two distinct order days means there is no interval to infer.
  The forecast is withheld via ErrDataInsufficient - never defaulted to a
  guessed interval or an epoch date. An account that has "gone dark" still
  gets its (past) date reported as-is; staleness is the reminder state
  machine's concern, not the forecaster's.

SEE ALSO:
  - aggregate.go: applies the trailing-window cut and calls Forecast
  - scoring.go: consumes the per-year average intervals
*/
package engine

import (
	"sort"
)

// Forecast is the cadence output for one account.
type Forecast struct {
	LastPurchase       Date
	MedianIntervalDays int
	NextExpected       Date

	// Mean inter-order gap within the current year to date and within the
	// full prior year. Nil when that year has fewer than two orders.
	AvgIntervalCYTD *float64
	AvgIntervalPY   *float64
}

// CoalesceOrderDates reduces transactions to their distinct order days,
// ascending. Same-day lines collapse into one order event.
func CoalesceOrderDates(txs []Transaction) []Date {
	seen := make(map[Date]bool, len(txs))
	var dates []Date
	for _, tx := range txs {
		if tx.Date.IsZero() || seen[tx.Date] {
			continue
		}
		seen[tx.Date] = true
		dates = append(dates, tx.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

// MedianIntervalDays computes the median gap in days between consecutive
// order dates. Requires at least two distinct dates. For an even count of
// gaps the two middle values are averaged and rounded half-up, so gaps
// [30, 31] yield 31.
func MedianIntervalDays(dates []Date) (int, error) {
	if len(dates) < 2 {
		return 0, &DataInsufficientError{OrderDays: len(dates)}
	}
	gaps := make([]int, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		gaps = append(gaps, DaysBetween(dates[i-1], dates[i]))
	}
	sort.Ints(gaps)

	mid := len(gaps) / 2
	if len(gaps)%2 == 1 {
		return gaps[mid], nil
	}
	// half-up: (a + b + 1) / 2 for non-negative gaps
	return (gaps[mid-1] + gaps[mid] + 1) / 2, nil
}

// ComputeForecast infers cadence from the account's order dates inside the
// trailing window [today - windowYears, today] and projects the next
// purchase. Dates must be coalesced (see CoalesceOrderDates); today anchors
// both the window cut and the per-year interval splits.
func ComputeForecast(code AccountCode, orderDates []Date, today Date, windowYears int) (Forecast, error) {
	windowStart := today.AddYears(-windowYears)
	var windowed []Date
	for _, d := range orderDates {
		if d.AfterOrEqual(windowStart) {
			windowed = append(windowed, d)
		}
	}
	if len(windowed) < 2 {
		return Forecast{}, &DataInsufficientError{Account: code, OrderDays: len(windowed)}
	}

	median, err := MedianIntervalDays(windowed)
	if err != nil {
		return Forecast{}, err
	}

	last := windowed[len(windowed)-1]
	f := Forecast{
		LastPurchase:       last,
		MedianIntervalDays: median,
		NextExpected:       last.AddDays(median),
	}
	f.AvgIntervalCYTD = meanIntervalInYear(windowed, today.Year())
	f.AvgIntervalPY = meanIntervalInYear(windowed, today.Year()-1)
	return f, nil
}

// meanIntervalInYear averages the gaps between consecutive orders that both
// fall inside the given calendar year. Nil with fewer than two such orders.
func meanIntervalInYear(orderDates []Date, year int) *float64 {
	var inYear []Date
	for _, d := range orderDates {
		if d.Year() == year {
			inYear = append(inYear, d)
		}
	}
	if len(inYear) < 2 {
		return nil
	}
	total := 0
	for i := 1; i < len(inYear); i++ {
		total += DaysBetween(inYear[i-1], inYear[i])
	}
	mean := float64(total) / float64(len(inYear)-1)
	return &mean
}
