/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Wire types are separate from engine types on purpose: money renders as
  decimal strings, days as 'YYYY-MM-DD', and the pace sentinels render as
  their display strings so the frontend never has to special-case them.

CONVENTIONS:
  - Monetary amounts: decimal strings ("1234.50"), never floats
  - Dates: "2006-01-02", omitted when unknown
  - Status "insufficient_data" and "failed" rows keep their identity
    fields; forecast fields are omitted so clients render "unavailable"
    rather than zeros

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/keystone/account-pulse/engine"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AccountSummaryDTO is the list-view row.
type AccountSummaryDTO struct {
	Code           string  `json:"code"`
	Name           string  `json:"name"`
	SalesRep       string  `json:"sales_rep,omitempty"`
	Status         string  `json:"status"`
	HealthScore    float64 `json:"health_score"`
	HealthCategory string  `json:"health_category"`
	RFMSegment     string  `json:"rfm_segment"`
	CYTDRevenue    string  `json:"cytd_revenue"`
	YEPRevenue     string  `json:"yep_revenue"`
	PaceVsLY       string  `json:"pace_vs_ly"`
	CoveragePct    float64 `json:"coverage_pct"`
	NextExpected   string  `json:"next_expected,omitempty"`
	DaysOverdue    int     `json:"days_overdue,omitempty"`
	ReminderState  string  `json:"reminder_state,omitempty"`
	LastPurchase   string  `json:"last_purchase,omitempty"`
	MedianInterval int     `json:"median_interval_days,omitempty"`
	ActionNeeded   bool    `json:"action_needed"`
}

// MissingProductDTO is one coverage gap with its why.
type MissingProductDTO struct {
	SKU              string `json:"sku"`
	Reason           string `json:"reason"`
	LastPurchased    string `json:"last_purchased,omitempty"`
	PortfolioRevenue string `json:"portfolio_revenue"`
}

// AccountDetailDTO is the full account view.
type AccountDetailDTO struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Address       string `json:"address,omitempty"`
	SalesRep      string `json:"sales_rep,omitempty"`
	SalesRepName  string `json:"sales_rep_name,omitempty"`
	Distributor   string `json:"distributor,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`

	Status          string   `json:"status"`
	LastPurchase    string   `json:"last_purchase,omitempty"`
	LastPurchaseAmt string   `json:"last_purchase_amount"`
	MedianInterval  int      `json:"median_interval_days,omitempty"`
	NextExpected    string   `json:"next_expected,omitempty"`
	DaysOverdue     int      `json:"days_overdue,omitempty"`
	AvgIntervalCYTD *float64 `json:"avg_interval_cytd,omitempty"`
	AvgIntervalPY   *float64 `json:"avg_interval_py,omitempty"`

	AccountTotal      string `json:"account_total"`
	PurchaseFrequency int    `json:"purchase_frequency"`
	CYTDRevenue       string `json:"cytd_revenue"`
	PYTotalRevenue    string `json:"py_total_revenue"`
	YEPRevenue        string `json:"yep_revenue"`
	PaceVsLY          string `json:"pace_vs_ly"`
	AvgOrderCYTD      string `json:"avg_order_amount_cytd"`

	TargetYEPPlus1Pct  string `json:"target_yep_plus_1pct"`
	AdditionalNeeded   string `json:"additional_revenue_needed"`
	SuggestedNextOrder string `json:"suggested_next_order_amount"`

	HealthScore    float64 `json:"health_score"`
	HealthCategory string  `json:"health_category"`
	RecencyScore   int     `json:"recency_score"`
	FrequencyScore int     `json:"frequency_score"`
	MonetaryScore  int     `json:"monetary_score"`
	RFMSegment     string  `json:"rfm_segment"`

	CoveragePct float64             `json:"coverage_pct"`
	Carried     []string            `json:"carried_top_products"`
	Missing     []MissingProductDTO `json:"missing_top_products"`

	ReminderState  string    `json:"reminder_state,omitempty"`
	ReminderSentAt string    `json:"reminder_sent_at,omitempty"`
	ReminderDueAt  string    `json:"reminder_due_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HistoryYearDTO is one (account, year) rollup.
type HistoryYearDTO struct {
	Year             int      `json:"year"`
	TotalRevenue     string   `json:"total_revenue"`
	TransactionCount int      `json:"transaction_count"`
	UniqueSKUs       []string `json:"unique_skus"`
	AvgOrderValue    string   `json:"avg_order_value"`
}

// SnapshotDTO is one archived run capture.
type SnapshotDTO struct {
	RunID         string    `json:"run_id"`
	CapturedAt    time.Time `json:"captured_at"`
	Status        string    `json:"status"`
	HealthScore   float64   `json:"health_score"`
	CYTDRevenue   string    `json:"cytd_revenue"`
	YEPRevenue    string    `json:"yep_revenue"`
	PaceVsLY      string    `json:"pace_vs_ly"`
	CoveragePct   float64   `json:"coverage_pct"`
	RFMSegment    string    `json:"rfm_segment"`
	NextExpected  string    `json:"next_expected,omitempty"`
	ReminderState string    `json:"reminder_state,omitempty"`
}

// RepDTO identifies one rep.
type RepDTO struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// RunDTO reports one batch execution.
type RunDTO struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	Degraded   int        `json:"degraded"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSummaryDTO(p *engine.AccountPrediction, today engine.Date, followUpDays int) AccountSummaryDTO {
	dto := AccountSummaryDTO{
		Code:           string(p.Code),
		Name:           p.Name,
		SalesRep:       string(p.SalesRep),
		Status:         string(p.Status),
		HealthScore:    p.HealthScore,
		HealthCategory: p.HealthCategory,
		RFMSegment:     string(p.RFMSegment),
		CYTDRevenue:    p.CYTDRevenue.String(),
		YEPRevenue:     p.YEPRevenue.String(),
		PaceVsLY:       p.PaceVsLY.String(),
		CoveragePct:    p.ProductCoveragePct,
		ReminderState:  string(p.ReminderState),
		ActionNeeded:   engine.ActionNeeded(p, today, followUpDays),
	}
	if p.Status == engine.StatusOK {
		dto.MedianInterval = p.MedianIntervalDays
		if p.NextExpectedPurchaseDate != nil {
			dto.NextExpected = p.NextExpectedPurchaseDate.String()
			dto.DaysOverdue = p.DaysOverdue(today)
		}
	}
	if p.LastPurchaseDate != nil {
		dto.LastPurchase = p.LastPurchaseDate.String()
	}
	return dto
}

func toDetailDTO(p *engine.AccountPrediction, today engine.Date) AccountDetailDTO {
	dto := AccountDetailDTO{
		Code:          string(p.Code),
		Name:          p.Name,
		Address:       p.Address,
		SalesRep:      string(p.SalesRep),
		SalesRepName:  p.SalesRepName,
		Distributor:   p.Distributor,
		CustomerEmail: p.CustomerEmail,

		Status:          string(p.Status),
		LastPurchaseAmt: p.LastPurchaseAmount.String(),
		AvgIntervalCYTD: p.AvgIntervalCYTD,
		AvgIntervalPY:   p.AvgIntervalPY,

		AccountTotal:      p.AccountTotal.String(),
		PurchaseFrequency: p.PurchaseFrequency,
		CYTDRevenue:       p.CYTDRevenue.String(),
		PYTotalRevenue:    p.PYTotalRevenue.String(),
		YEPRevenue:        p.YEPRevenue.String(),
		PaceVsLY:          p.PaceVsLY.String(),
		AvgOrderCYTD:      p.AvgOrderAmountCYTD.String(),

		TargetYEPPlus1Pct:  p.TargetYEPPlus1Pct.String(),
		AdditionalNeeded:   p.AdditionalRevenueNeeded.String(),
		SuggestedNextOrder: p.SuggestedNextOrderAmount.String(),

		HealthScore:    p.HealthScore,
		HealthCategory: p.HealthCategory,
		RecencyScore:   p.RecencyScore,
		FrequencyScore: p.FrequencyScore,
		MonetaryScore:  p.MonetaryScore,
		RFMSegment:     string(p.RFMSegment),

		CoveragePct: p.ProductCoveragePct,
		Carried:     []string{},
		Missing:     []MissingProductDTO{},

		ReminderState: string(p.ReminderState),
		UpdatedAt:     p.UpdatedAt,
	}
	if p.Status == engine.StatusOK {
		dto.MedianInterval = p.MedianIntervalDays
		if p.NextExpectedPurchaseDate != nil {
			dto.NextExpected = p.NextExpectedPurchaseDate.String()
			dto.DaysOverdue = p.DaysOverdue(today)
		}
	}
	if p.LastPurchaseDate != nil {
		dto.LastPurchase = p.LastPurchaseDate.String()
	}
	if p.ReminderSentAt != nil {
		dto.ReminderSentAt = p.ReminderSentAt.UTC().Format(time.RFC3339)
	}
	if p.ReminderDueAt != nil {
		dto.ReminderDueAt = p.ReminderDueAt.String()
	}
	for _, sku := range p.CarriedTopProducts {
		dto.Carried = append(dto.Carried, string(sku))
	}
	for _, m := range p.MissingTopProducts {
		mdto := MissingProductDTO{
			SKU:              string(m.SKU),
			Reason:           string(m.Reason),
			PortfolioRevenue: m.PortfolioRevenue.String(),
		}
		if m.LastPurchased != nil {
			mdto.LastPurchased = m.LastPurchased.String()
		}
		dto.Missing = append(dto.Missing, mdto)
	}
	return dto
}

func toSnapshotDTO(s engine.AccountSnapshot) SnapshotDTO {
	dto := SnapshotDTO{
		RunID:         s.RunID,
		CapturedAt:    s.CapturedAt,
		Status:        string(s.Status),
		HealthScore:   s.HealthScore,
		CYTDRevenue:   s.CYTDRevenue.String(),
		YEPRevenue:    s.YEPRevenue.String(),
		PaceVsLY:      s.PaceVsLY.String(),
		CoveragePct:   s.ProductCoveragePct,
		RFMSegment:    string(s.RFMSegment),
		ReminderState: string(s.ReminderState),
	}
	if s.NextExpectedPurchaseDate != nil {
		dto.NextExpected = s.NextExpectedPurchaseDate.String()
	}
	return dto
}

func toHistoryDTO(h engine.AccountHistoricalRevenue) HistoryYearDTO {
	dto := HistoryYearDTO{
		Year:             h.Year,
		TotalRevenue:     h.TotalRevenue.String(),
		TransactionCount: h.TransactionCount,
		UniqueSKUs:       []string{},
		AvgOrderValue:    h.AvgOrderValue.String(),
	}
	for _, sku := range h.UniqueSKUs {
		dto.UniqueSKUs = append(dto.UniqueSKUs, string(sku))
	}
	return dto
}

func toRunDTO(r *engine.RunRecord) RunDTO {
	return RunDTO{
		ID:         r.ID,
		Kind:       r.Kind,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Processed:  r.Processed,
		Degraded:   r.Degraded,
		Failed:     r.Failed,
		Error:      r.Error,
	}
}
