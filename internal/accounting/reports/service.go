package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// BalanceSource supplies raw trial balance rows.
type BalanceSource interface {
	TrialBalance(ctx context.Context, q balances.Query) ([]balances.Row, error)
}

// Service builds financial statements from ledger balances.
type Service struct {
	source   BalanceSource
	accounts balances.AccountLookup
	scale    int32
}

// NewService constructs the report service.
func NewService(source BalanceSource, lookup balances.AccountLookup, scale int32) *Service {
	return &Service{source: source, accounts: lookup, scale: scale}
}

// TrialBalance groups accounts by code prefix. Opening balances cover all
// postings before q.Start.
func (s *Service) TrialBalance(ctx context.Context, q balances.Query) (TrialBalanceViewModel, error) {
	rows, err := s.collect(ctx, q, true)
	if err != nil {
		return TrialBalanceViewModel{}, err
	}
	report := BuildTrialBalance(rows, s.scale)
	filter := filterOf(q)
	return TrialBalanceViewModel{
		Filter:      filter,
		PeriodLabel: filter.PeriodLabel(),
		Balanced:    report.Balanced(),
		Report:      report,
	}, nil
}

// ProfitAndLoss reports revenue and expense movements inside the range.
func (s *Service) ProfitAndLoss(ctx context.Context, q balances.Query) (ProfitAndLossViewModel, error) {
	rows, err := s.collect(ctx, q, false)
	if err != nil {
		return ProfitAndLossViewModel{}, err
	}
	filter := filterOf(q)
	return ProfitAndLossViewModel{
		Filter:      filter,
		PeriodLabel: filter.PeriodLabel(),
		Report:      BuildProfitAndLoss(rows, s.scale),
	}, nil
}

// BalanceSheet reports closing positions as of q.End. q.Start is ignored.
func (s *Service) BalanceSheet(ctx context.Context, q balances.Query) (BalanceSheetViewModel, error) {
	q.Start = time.Time{}
	rows, err := s.collect(ctx, q, false)
	if err != nil {
		return BalanceSheetViewModel{}, err
	}
	report := BuildBalanceSheet(rows, s.scale)
	filter := filterOf(q)
	return BalanceSheetViewModel{
		Filter:      filter,
		PeriodLabel: filter.PeriodLabel(),
		Balanced:    report.Balanced(),
		Report:      report,
	}, nil
}

func (s *Service) collect(ctx context.Context, q balances.Query, withOpening bool) ([]AccountBalance, error) {
	if q.TenantID == "" {
		return nil, shared.ErrTenantRequired
	}
	current, err := s.source.TrialBalance(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reports: load balances: %w", err)
	}
	opening := map[string]money.Decimal{}
	var openingRows []balances.Row
	if withOpening && !q.Start.IsZero() {
		prior := balances.Query{TenantID: q.TenantID, End: q.Start.AddDate(0, 0, -1), PostedOnly: q.PostedOnly}
		openingRows, err = s.source.TrialBalance(ctx, prior)
		if err != nil {
			return nil, fmt.Errorf("reports: load opening balances: %w", err)
		}
		for _, row := range openingRows {
			opening[row.AccountID] = row.Balance
		}
	}

	ids := make([]string, 0, len(current)+len(openingRows))
	seen := make(map[string]struct{}, len(ids))
	for _, row := range append(append([]balances.Row{}, current...), openingRows...) {
		if _, ok := seen[row.AccountID]; ok {
			continue
		}
		seen[row.AccountID] = struct{}{}
		ids = append(ids, row.AccountID)
	}
	chart := map[string]accounts.Account{}
	if s.accounts != nil && len(ids) > 0 {
		if chart, err = s.accounts.Lookup(ctx, q.TenantID, ids); err != nil {
			return nil, fmt.Errorf("reports: lookup accounts: %w", err)
		}
	}

	out := make([]AccountBalance, 0, len(ids))
	moved := make(map[string]balances.Row, len(current))
	for _, row := range current {
		moved[row.AccountID] = row
	}
	for _, id := range ids {
		acc := AccountBalance{
			Code:    id,
			Name:    id,
			Opening: money.Zero(s.scale),
			Debit:   money.Zero(s.scale),
			Credit:  money.Zero(s.scale),
		}
		if a, ok := chart[id]; ok {
			acc.Type = a.Type
			if a.Name != "" {
				acc.Name = a.Name
			}
		}
		if v, ok := opening[id]; ok {
			acc.Opening = v
		}
		if row, ok := moved[id]; ok {
			acc.Debit = row.Debit
			acc.Credit = row.Credit
		}
		out = append(out, acc)
	}
	return out, nil
}

func filterOf(q balances.Query) Filter {
	return Filter{TenantID: q.TenantID, From: q.Start, To: q.End, PostedOnly: q.PostedOnly}
}
