package periods

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

type memoryStore struct {
	periods []FiscalPeriod
}

func (m *memoryStore) FindByDate(ctx context.Context, q db.Querier, date time.Time, lock bool) (FiscalPeriod, error) {
	for _, p := range m.periods {
		if p.Contains(date) {
			return p, nil
		}
	}
	return FiscalPeriod{}, shared.ErrPeriodNotFound
}

func (m *memoryStore) Get(ctx context.Context, id int64) (FiscalPeriod, error) {
	for _, p := range m.periods {
		if p.ID == id {
			return p, nil
		}
	}
	return FiscalPeriod{}, ErrPeriodMissing
}

func (m *memoryStore) List(ctx context.Context, fiscalYear int) ([]FiscalPeriod, error) {
	return m.periods, nil
}

func (m *memoryStore) RangeConflict(ctx context.Context, start, end time.Time) (bool, error) {
	for _, p := range m.periods {
		if start.Before(p.EndDate) && end.After(p.StartDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) Insert(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error) {
	p := FiscalPeriod{
		ID:         int64(len(m.periods) + 1),
		FiscalYear: in.FiscalYear,
		PeriodNo:   in.PeriodNo,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		IsOpenGL:   !in.Closed,
		IsOpenBNK:  !in.Closed,
		IsOpenRM:   !in.Closed,
		IsOpenPM:   !in.Closed,
	}
	m.periods = append(m.periods, p)
	return p, nil
}

func (m *memoryStore) SetOpen(ctx context.Context, id int64, t shared.TransactionType, open bool) (FiscalPeriod, error) {
	for i := range m.periods {
		if m.periods[i].ID != id {
			continue
		}
		switch t {
		case shared.TransactionTypeManualGL:
			m.periods[i].IsOpenGL = open
		case shared.TransactionTypeBank:
			m.periods[i].IsOpenBNK = open
		case shared.TransactionTypeReceivable:
			m.periods[i].IsOpenRM = open
		case shared.TransactionTypePayable:
			m.periods[i].IsOpenPM = open
		}
		return m.periods[i], nil
	}
	return FiscalPeriod{}, ErrPeriodMissing
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIsOpenUsesModuleFlag(t *testing.T) {
	store := &memoryStore{}
	gate := NewGate(store, 1, nil)
	ctx := context.Background()
	period, err := gate.CreatePeriod(ctx, CreatePeriodInput{FiscalYear: 2025, PeriodNo: 1, StartDate: date(2025, 1, 1), EndDate: date(2025, 2, 1)})
	if err != nil {
		t.Fatalf("create period: %v", err)
	}
	if _, err := gate.ClosePeriod(ctx, period.ID, shared.TransactionTypeBank); err != nil {
		t.Fatalf("close period: %v", err)
	}

	open, err := gate.IsOpen(ctx, nil, shared.TransactionTypeManualGL, date(2025, 1, 15))
	if err != nil || !open {
		t.Fatalf("expected GL open, got %v %v", open, err)
	}
	open, err = gate.IsOpen(ctx, nil, shared.TransactionTypeBank, date(2025, 1, 15))
	if err != nil || open {
		t.Fatalf("expected BANK closed, got %v %v", open, err)
	}

	if _, err := gate.OpenPeriod(ctx, period.ID, shared.TransactionTypeBank); err != nil {
		t.Fatalf("open period: %v", err)
	}
	open, _ = gate.IsOpen(ctx, nil, shared.TransactionTypeBank, date(2025, 1, 15))
	if !open {
		t.Fatalf("expected BANK reopened")
	}
}

func TestIsOpenEndDateIsExclusive(t *testing.T) {
	store := &memoryStore{periods: []FiscalPeriod{{ID: 1, FiscalYear: 2025, StartDate: date(2025, 1, 1), EndDate: date(2025, 2, 1), IsOpenGL: true}}}
	gate := NewGate(store, 1, nil)
	if _, err := gate.IsOpen(context.Background(), nil, shared.TransactionTypeManualGL, date(2025, 2, 1)); !errors.Is(err, shared.ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}
	if open, err := gate.IsOpen(context.Background(), nil, shared.TransactionTypeManualGL, date(2025, 1, 31)); err != nil || !open {
		t.Fatalf("expected last day inside period, got %v %v", open, err)
	}
}

func TestCreatePeriodRejectsOverlap(t *testing.T) {
	store := &memoryStore{}
	gate := NewGate(store, 1, nil)
	ctx := context.Background()
	if _, err := gate.CreatePeriod(ctx, CreatePeriodInput{FiscalYear: 2025, PeriodNo: 1, StartDate: date(2025, 1, 1), EndDate: date(2025, 2, 1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := gate.CreatePeriod(ctx, CreatePeriodInput{FiscalYear: 2025, PeriodNo: 2, StartDate: date(2025, 1, 20), EndDate: date(2025, 3, 1)})
	if !errors.Is(err, shared.ErrPeriodOverlap) {
		t.Fatalf("expected ErrPeriodOverlap, got %v", err)
	}
	_, err = gate.CreatePeriod(ctx, CreatePeriodInput{FiscalYear: 2025, PeriodNo: 3, StartDate: date(2025, 3, 1), EndDate: date(2025, 3, 1)})
	if !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestFiscalYearOf(t *testing.T) {
	store := &memoryStore{periods: []FiscalPeriod{{ID: 1, FiscalYear: 2026, StartDate: date(2025, 7, 1), EndDate: date(2025, 8, 1)}}}
	gate := NewGate(store, 7, nil)
	year, err := gate.FiscalYearOf(context.Background(), nil, date(2025, 7, 10))
	if err != nil || year != 2026 {
		t.Fatalf("expected covering period year 2026, got %d %v", year, err)
	}
	year, err = gate.FiscalYearOf(context.Background(), nil, date(2025, 3, 10))
	if err != nil || year != 2024 {
		t.Fatalf("expected fallback year 2024, got %d %v", year, err)
	}
}

func TestToggleRejectsUnknownType(t *testing.T) {
	gate := NewGate(&memoryStore{}, 1, nil)
	if _, err := gate.ClosePeriod(context.Background(), 1, "CASH"); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
