package reports

import "time"

// Filter is the echo of the request that produced a report.
type Filter struct {
	TenantID   string    `json:"tenant_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	PostedOnly bool      `json:"posted_only"`
}

// PeriodLabel renders the range as shown in report headers.
func (f Filter) PeriodLabel() string {
	switch {
	case f.From.IsZero() && f.To.IsZero():
		return "All dates"
	case f.From.IsZero():
		return "Up to " + f.To.Format(time.DateOnly)
	case f.To.IsZero():
		return "From " + f.From.Format(time.DateOnly)
	}
	return f.From.Format(time.DateOnly) + " - " + f.To.Format(time.DateOnly)
}

// TrialBalanceViewModel holds data for the grouped trial balance report.
type TrialBalanceViewModel struct {
	Filter      Filter       `json:"filter"`
	PeriodLabel string       `json:"period_label"`
	Balanced    bool         `json:"balanced"`
	Report      TrialBalance `json:"report"`
}

// ProfitAndLossViewModel holds data for profit & loss.
type ProfitAndLossViewModel struct {
	Filter      Filter        `json:"filter"`
	PeriodLabel string        `json:"period_label"`
	Report      ProfitAndLoss `json:"report"`
}

// BalanceSheetViewModel contains data for the balance sheet report.
type BalanceSheetViewModel struct {
	Filter      Filter       `json:"filter"`
	PeriodLabel string       `json:"period_label"`
	Balanced    bool         `json:"balanced"`
	Report      BalanceSheet `json:"report"`
}
