package periods

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

// FiscalPeriod represents a fiscal period window [StartDate, EndDate) with one
// open flag per posting module.
type FiscalPeriod struct {
	ID         int64
	FiscalYear int
	PeriodNo   int
	StartDate  time.Time
	EndDate    time.Time
	IsOpenGL   bool
	IsOpenBNK  bool
	IsOpenRM   bool
	IsOpenPM   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Contains reports whether date falls inside [StartDate, EndDate).
func (p FiscalPeriod) Contains(date time.Time) bool {
	d := truncateDate(date)
	return !d.Before(truncateDate(p.StartDate)) && d.Before(truncateDate(p.EndDate))
}

// IsOpenFor returns the flag designated by the transaction type.
func (p FiscalPeriod) IsOpenFor(t shared.TransactionType) (bool, error) {
	switch t {
	case shared.TransactionTypeManualGL:
		return p.IsOpenGL, nil
	case shared.TransactionTypeBank:
		return p.IsOpenBNK, nil
	case shared.TransactionTypeReceivable:
		return p.IsOpenRM, nil
	case shared.TransactionTypePayable:
		return p.IsOpenPM, nil
	default:
		return false, fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, t)
	}
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	FiscalYear int
	PeriodNo   int
	StartDate  time.Time
	EndDate    time.Time
	Closed     bool
}

// Validate ensures the create period input is coherent.
func (in CreatePeriodInput) Validate() error {
	if in.FiscalYear <= 0 {
		return fmt.Errorf("%w: fiscal year required", shared.ErrValidation)
	}
	if in.PeriodNo <= 0 {
		return fmt.Errorf("%w: period number required", shared.ErrValidation)
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return fmt.Errorf("%w: start and end date required", shared.ErrValidation)
	}
	if !in.StartDate.Before(in.EndDate) {
		return fmt.Errorf("%w: start date must be before end date", shared.ErrValidation)
	}
	return nil
}

// ErrPeriodMissing is returned by Get for an unknown id.
var ErrPeriodMissing = errors.New("periods: period not found")

// FiscalYearFor derives a fiscal year label from a calendar date when no period
// covers it. Years are labelled by the calendar year in which they start.
func FiscalYearFor(date time.Time, startMonth int) int {
	if startMonth < 1 || startMonth > 12 {
		startMonth = 1
	}
	if int(date.Month()) >= startMonth {
		return date.Year()
	}
	return date.Year() - 1
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
