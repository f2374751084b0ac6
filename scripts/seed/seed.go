package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Fixture is the YAML document describing one tenant's demo ledger.
type Fixture struct {
	Tenant       string               `yaml:"tenant"`
	FiscalYear   int                  `yaml:"fiscal_year"`
	StartMonth   int                  `yaml:"start_month"`
	Accounts     []FixtureAccount     `yaml:"accounts"`
	Transactions []FixtureTransaction `yaml:"transactions"`
}

type FixtureAccount struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type FixtureTransaction struct {
	Key         string        `yaml:"key"`
	Date        string        `yaml:"date"`
	Type        string        `yaml:"type"`
	Description string        `yaml:"description"`
	Lines       []FixtureLine `yaml:"lines"`
}

type FixtureLine struct {
	Account string `yaml:"account"`
	Debit   string `yaml:"debit"`
	Credit  string `yaml:"credit"`
}

// LoadFixture decodes and checks a fixture.
func LoadFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("seed: decode fixture: %w", err)
	}
	if f.Tenant == "" {
		return Fixture{}, errors.New("seed: tenant required")
	}
	if f.FiscalYear <= 0 {
		return Fixture{}, errors.New("seed: fiscal_year required")
	}
	if f.StartMonth == 0 {
		f.StartMonth = 1
	}
	if f.StartMonth < 1 || f.StartMonth > 12 {
		return Fixture{}, fmt.Errorf("seed: start_month %d out of range", f.StartMonth)
	}
	for _, a := range f.Accounts {
		if !accounts.AccountType(a.Type).Valid() {
			return Fixture{}, fmt.Errorf("seed: account %s has unknown type %q", a.ID, a.Type)
		}
	}
	return f, nil
}

// MonthlyPeriods splits the fiscal year into twelve half-open monthly periods,
// open for every type.
func MonthlyPeriods(fiscalYear, startMonth int) []periods.CreatePeriodInput {
	out := make([]periods.CreatePeriodInput, 0, 12)
	start := time.Date(fiscalYear, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		from := start.AddDate(0, i, 0)
		out = append(out, periods.CreatePeriodInput{
			FiscalYear: fiscalYear,
			PeriodNo:   i + 1,
			StartDate:  from,
			EndDate:    from.AddDate(0, 1, 0),
		})
	}
	return out
}

type accountSaver interface {
	Save(ctx context.Context, a accounts.Account) error
}

type periodCreator interface {
	CreatePeriod(ctx context.Context, in periods.CreatePeriodInput) (periods.FiscalPeriod, error)
}

type ledger interface {
	CreateTransaction(ctx context.Context, in gl.CreateInput) (gl.Transaction, error)
	PostTransaction(ctx context.Context, id string) (gl.Transaction, error)
}

// Summary counts what a run wrote.
type Summary struct {
	Accounts       int
	Periods        int
	Posted         int
	SkippedPeriods int
	SkippedTxns    int
}

// Apply writes the fixture. Reruns skip periods and transactions that exist.
func Apply(ctx context.Context, f Fixture, scale int32, chart accountSaver, gate periodCreator, engine ledger) (Summary, error) {
	var sum Summary
	for _, a := range f.Accounts {
		err := chart.Save(ctx, accounts.Account{
			ID:       a.ID,
			TenantID: f.Tenant,
			Name:     a.Name,
			Type:     accounts.AccountType(a.Type),
			IsActive: true,
		})
		if err != nil {
			return sum, fmt.Errorf("seed: account %s: %w", a.ID, err)
		}
		sum.Accounts++
	}
	for _, p := range MonthlyPeriods(f.FiscalYear, f.StartMonth) {
		if _, err := gate.CreatePeriod(ctx, p); err != nil {
			if errors.Is(err, shared.ErrPeriodOverlap) {
				sum.SkippedPeriods++
				continue
			}
			return sum, fmt.Errorf("seed: period %d/%d: %w", p.FiscalYear, p.PeriodNo, err)
		}
		sum.Periods++
	}
	for _, t := range f.Transactions {
		in, err := t.input(f.Tenant, scale)
		if err != nil {
			return sum, err
		}
		txn, err := engine.CreateTransaction(ctx, in)
		if errors.Is(err, shared.ErrDuplicateRequest) {
			sum.SkippedTxns++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("seed: transaction %s: %w", t.Key, err)
		}
		if _, err := engine.PostTransaction(ctx, txn.Header.ID); err != nil {
			return sum, fmt.Errorf("seed: post %s: %w", txn.Header.ID, err)
		}
		sum.Posted++
	}
	return sum, nil
}

func (t FixtureTransaction) input(tenant string, scale int32) (gl.CreateInput, error) {
	date, err := time.Parse(time.DateOnly, t.Date)
	if err != nil {
		return gl.CreateInput{}, fmt.Errorf("seed: transaction %s date: %w", t.Key, err)
	}
	in := gl.CreateInput{
		TenantID:       tenant,
		FiscalDate:     date,
		Type:           shared.TransactionType(t.Type),
		Description:    t.Description,
		CreatedBy:      "seed",
		IdempotencyKey: t.Key,
	}
	for _, l := range t.Lines {
		debit, err := amount(l.Debit, scale)
		if err != nil {
			return gl.CreateInput{}, fmt.Errorf("seed: transaction %s: %w", t.Key, err)
		}
		credit, err := amount(l.Credit, scale)
		if err != nil {
			return gl.CreateInput{}, fmt.Errorf("seed: transaction %s: %w", t.Key, err)
		}
		in.Lines = append(in.Lines, gl.LineInput{AccountID: l.Account, Debit: debit, Credit: credit})
	}
	return in, nil
}

func amount(raw string, scale int32) (money.Decimal, error) {
	if raw == "" {
		return money.Zero(scale), nil
	}
	return money.New(raw, scale)
}
