package periods

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Store is the persistence surface the gate needs.
type Store interface {
	FindByDate(ctx context.Context, q db.Querier, date time.Time, lock bool) (FiscalPeriod, error)
	Get(ctx context.Context, id int64) (FiscalPeriod, error)
	List(ctx context.Context, fiscalYear int) ([]FiscalPeriod, error)
	RangeConflict(ctx context.Context, start, end time.Time) (bool, error)
	Insert(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error)
	SetOpen(ctx context.Context, id int64, t shared.TransactionType, open bool) (FiscalPeriod, error)
}

// Gate authorises postings against fiscal periods and administers their flags.
type Gate struct {
	store      Store
	startMonth int
	logger     *slog.Logger
}

// NewGate constructs the gate. startMonth is the first calendar month of the
// fiscal year, used only when no period covers a date.
func NewGate(store Store, startMonth int, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, startMonth: startMonth, logger: logger}
}

// IsOpen reports whether t may be posted on date. q is the posting transaction.
func (g *Gate) IsOpen(ctx context.Context, q db.Querier, t shared.TransactionType, date time.Time) (bool, error) {
	period, err := g.store.FindByDate(ctx, q, date, true)
	if err != nil {
		return false, err
	}
	return period.IsOpenFor(t)
}

// FiscalYearOf resolves the fiscal year of date from its covering period.
func (g *Gate) FiscalYearOf(ctx context.Context, q db.Querier, date time.Time) (int, error) {
	period, err := g.store.FindByDate(ctx, q, date, false)
	if err == nil {
		return period.FiscalYear, nil
	}
	if isNotFound(err) {
		return FiscalYearFor(date, g.startMonth), nil
	}
	return 0, err
}

// CreatePeriod inserts a new period after validating overlap.
func (g *Gate) CreatePeriod(ctx context.Context, in CreatePeriodInput) (FiscalPeriod, error) {
	if err := in.Validate(); err != nil {
		return FiscalPeriod{}, err
	}
	conflict, err := g.store.RangeConflict(ctx, in.StartDate, in.EndDate)
	if err != nil {
		return FiscalPeriod{}, err
	}
	if conflict {
		return FiscalPeriod{}, shared.ErrPeriodOverlap
	}
	return g.store.Insert(ctx, in)
}

// OpenPeriod sets the module flag for t to open.
func (g *Gate) OpenPeriod(ctx context.Context, periodID int64, t shared.TransactionType) (FiscalPeriod, error) {
	return g.toggle(ctx, periodID, t, true)
}

// ClosePeriod sets the module flag for t to closed.
func (g *Gate) ClosePeriod(ctx context.Context, periodID int64, t shared.TransactionType) (FiscalPeriod, error) {
	return g.toggle(ctx, periodID, t, false)
}

// Get loads a single period.
func (g *Gate) Get(ctx context.Context, periodID int64) (FiscalPeriod, error) {
	return g.store.Get(ctx, periodID)
}

// List returns periods for a fiscal year, all when fiscalYear is 0.
func (g *Gate) List(ctx context.Context, fiscalYear int) ([]FiscalPeriod, error) {
	return g.store.List(ctx, fiscalYear)
}

func (g *Gate) toggle(ctx context.Context, periodID int64, t shared.TransactionType, open bool) (FiscalPeriod, error) {
	if !t.Valid() {
		return FiscalPeriod{}, shared.ErrValidation
	}
	p, err := g.store.SetOpen(ctx, periodID, t, open)
	if err != nil {
		return FiscalPeriod{}, err
	}
	g.logger.Info("fiscal period flag changed",
		slog.Int64("period_id", periodID),
		slog.String("module", string(t)),
		slog.Bool("open", open))
	return p, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrPeriodNotFound)
}
