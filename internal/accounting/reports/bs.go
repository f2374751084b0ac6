package reports

import (
	"sort"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	Code    string        `json:"code"`
	Name    string        `json:"name"`
	Balance money.Decimal `json:"balance"`
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    money.Decimal         `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report. Every
// section is shown on its normal side.
type BalanceSheet struct {
	Assets                    BalanceSheetSection `json:"assets"`
	Liabilities               BalanceSheetSection `json:"liabilities"`
	Equity                    BalanceSheetSection `json:"equity"`
	RetainedEarnings          money.Decimal       `json:"retained_earnings"`
	TotalLiabilitiesAndEquity money.Decimal       `json:"total_liabilities_and_equity"`
}

// Balanced reports whether assets equal liabilities plus equity.
func (bs BalanceSheet) Balanced() bool {
	return bs.Assets.Total.Equal(bs.TotalLiabilitiesAndEquity)
}

// BuildBalanceSheet aggregates closing balances into assets, liabilities and
// equity. Revenue and expense accounts fold into retained earnings.
func BuildBalanceSheet(balances []AccountBalance, scale int32) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets", Total: money.Zero(scale)}
	liabilities := BalanceSheetSection{Label: "Liabilities", Total: money.Zero(scale)}
	equity := BalanceSheetSection{Label: "Equity", Total: money.Zero(scale)}
	earnings := money.Zero(scale)

	for _, acc := range balances {
		closing := acc.Closing().WithScale(scale)
		row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: closing}
		switch acc.Type {
		case accounts.AccountTypeAsset:
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(row.Balance)
		case accounts.AccountTypeLiability:
			row.Balance = closing.Neg()
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(row.Balance)
		case accounts.AccountTypeEquity:
			row.Balance = closing.Neg()
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(row.Balance)
		case accounts.AccountTypeRevenue, accounts.AccountTypeExpense:
			earnings = earnings.Sub(closing)
		}
	}

	sort.Slice(assets.Accounts, func(i, j int) bool { return assets.Accounts[i].Code < assets.Accounts[j].Code })
	sort.Slice(liabilities.Accounts, func(i, j int) bool { return liabilities.Accounts[i].Code < liabilities.Accounts[j].Code })
	sort.Slice(equity.Accounts, func(i, j int) bool { return equity.Accounts[i].Code < equity.Accounts[j].Code })

	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		RetainedEarnings:          earnings,
		TotalLiabilitiesAndEquity: liabilities.Total.Add(equity.Total).Add(earnings),
	}
}
