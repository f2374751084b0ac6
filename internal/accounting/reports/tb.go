package reports

import (
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// AccountBalance models a general ledger account with aggregated movements.
type AccountBalance struct {
	Code    string
	Name    string
	Type    accounts.AccountType
	Opening money.Decimal
	Debit   money.Decimal
	Credit  money.Decimal
}

// Closing computes opening + debit - credit.
func (a AccountBalance) Closing() money.Decimal {
	return a.Opening.Add(a.Debit).Sub(a.Credit)
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

// TrialBalanceAccount represents a row inside a trial balance group.
type TrialBalanceAccount struct {
	Code    string        `json:"code"`
	Name    string        `json:"name"`
	Opening money.Decimal `json:"opening"`
	Debit   money.Decimal `json:"debit"`
	Credit  money.Decimal `json:"credit"`
	Closing money.Decimal `json:"closing"`
}

// TrialBalanceGroup aggregates accounts for presentation.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Opening  money.Decimal         `json:"opening"`
	Debit    money.Decimal         `json:"debit"`
	Credit   money.Decimal         `json:"credit"`
	Closing  money.Decimal         `json:"closing"`
}

// TrialBalance is the grouped report.
type TrialBalance struct {
	Groups       []TrialBalanceGroup `json:"groups"`
	TotalDebit   money.Decimal       `json:"total_debit"`
	TotalCredit  money.Decimal       `json:"total_credit"`
	TotalOpening money.Decimal       `json:"total_opening"`
	TotalClosing money.Decimal       `json:"total_closing"`
}

// Balanced reports whether debits equal credits and closings net to zero.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit) && tb.TotalClosing.IsZero()
}

// BuildTrialBalance converts account balances into grouped trial balance data.
func BuildTrialBalance(balances []AccountBalance, scale int32) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	for _, acc := range balances {
		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{
				Key:     key,
				Opening: money.Zero(scale),
				Debit:   money.Zero(scale),
				Credit:  money.Zero(scale),
				Closing: money.Zero(scale),
			}
			groups[key] = grp
			keys = append(keys, key)
		}
		row := TrialBalanceAccount{
			Code:    acc.Code,
			Name:    acc.Name,
			Opening: acc.Opening.WithScale(scale),
			Debit:   acc.Debit.WithScale(scale),
			Credit:  acc.Credit.WithScale(scale),
			Closing: acc.Closing().WithScale(scale),
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Opening = grp.Opening.Add(row.Opening)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
		grp.Closing = grp.Closing.Add(row.Closing)
	}

	sort.Strings(keys)
	result := TrialBalance{
		TotalOpening: money.Zero(scale),
		TotalDebit:   money.Zero(scale),
		TotalCredit:  money.Zero(scale),
		TotalClosing: money.Zero(scale),
	}
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalOpening = result.TotalOpening.Add(grp.Opening)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
		result.TotalClosing = result.TotalClosing.Add(grp.Closing)
	}
	return result
}
