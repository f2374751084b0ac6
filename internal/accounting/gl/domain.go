// Package gl implements the double-entry General Ledger transaction engine:
// draft creation, posting, reversal and the balance queries built on top.
package gl

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// Status enumerates header lifecycle states.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusPosted   Status = "POSTED"
	StatusReversed Status = "REVERSED"
)

// ParseStatus validates a status filter value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusDraft, StatusPosted, StatusReversed:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", shared.ErrValidation, raw)
}

// Header is the identifying part of a ledger transaction.
type Header struct {
	ID          string
	TenantID    string
	FiscalDate  time.Time
	FiscalYear  int
	Sequence    int64
	Type        shared.TransactionType
	Description string
	Status      Status
	IsBalanced  bool
	ReversalOf  *string
	ReversedBy  *string
	CreatedBy   string
	CreatedAt   time.Time
	PostedAt    *time.Time
	UpdatedAt   time.Time
}

// Mutable reports whether the header may still be edited or deleted.
func (h Header) Mutable() bool {
	return h.Status == StatusDraft
}

// Line is a single debit or credit against an account.
type Line struct {
	ID            uuid.UUID
	TransactionID string
	LineNo        int
	AccountID     string
	Description   string
	Debit         money.Decimal
	Credit        money.Decimal
}

// Transaction is the header together with its ordered lines.
type Transaction struct {
	Header Header
	Lines  []Line
}

// TotalDebit sums the debit side of every line.
func (t Transaction) TotalDebit() money.Decimal {
	total := money.Zero(t.scale())
	for _, l := range t.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// TotalCredit sums the credit side of every line.
func (t Transaction) TotalCredit() money.Decimal {
	total := money.Zero(t.scale())
	for _, l := range t.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// Balanced recomputes the debit/credit equality from the lines.
func (t Transaction) Balanced() bool {
	return len(t.Lines) > 0 && t.TotalDebit().Equal(t.TotalCredit())
}

func (t Transaction) scale() int32 {
	var scale int32
	for _, l := range t.Lines {
		if l.Debit.Scale() > scale {
			scale = l.Debit.Scale()
		}
		if l.Credit.Scale() > scale {
			scale = l.Credit.Scale()
		}
	}
	return scale
}

// LineInput is a requested line before validation.
type LineInput struct {
	AccountID   string
	Description string
	Debit       money.Decimal
	Credit      money.Decimal
}

// CreateInput captures a new draft transaction.
type CreateInput struct {
	TenantID       string
	FiscalDate     time.Time
	Type           shared.TransactionType
	Description    string
	CreatedBy      string
	IdempotencyKey string
	Lines          []LineInput
}

// validate performs every structural check that needs no storage and returns
// the lines re-expressed at the ledger scale.
func (in CreateInput) validate(scale int32) ([]LineInput, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", shared.ErrValidation, in.Type)
	}
	if in.FiscalDate.IsZero() {
		return nil, fmt.Errorf("%w: fiscal date required", shared.ErrValidation)
	}
	if len(in.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line required", shared.ErrValidation)
	}
	out := make([]LineInput, len(in.Lines))
	for i, line := range in.Lines {
		n := i + 1
		if strings.TrimSpace(line.AccountID) == "" {
			return nil, fmt.Errorf("%w: line %d: account required", shared.ErrValidation, n)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return nil, fmt.Errorf("%w: line %d: amounts must not be negative", shared.ErrValidation, n)
		}
		if line.Debit.IsZero() == line.Credit.IsZero() {
			return nil, fmt.Errorf("%w: line %d: exactly one of debit or credit must be non-zero", shared.ErrValidation, n)
		}
		debit, err := toLedgerScale(line.Debit, scale)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: debit %s", shared.ErrValidation, n, err)
		}
		credit, err := toLedgerScale(line.Credit, scale)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: credit %s", shared.ErrValidation, n, err)
		}
		out[i] = LineInput{
			AccountID:   strings.TrimSpace(line.AccountID),
			Description: strings.TrimSpace(line.Description),
			Debit:       debit,
			Credit:      credit,
		}
	}
	return out, nil
}

// toLedgerScale accepts amounts at or coarser than scale, and finer amounts
// only when the extra digits are zero.
func toLedgerScale(d money.Decimal, scale int32) (money.Decimal, error) {
	rescaled := d.WithScale(scale)
	if d.Scale() > scale && !rescaled.Equal(d) {
		return money.Decimal{}, fmt.Errorf("%s has more than %d decimal places", d, scale)
	}
	return rescaled, nil
}

func accountIDs(lines []LineInput) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.AccountID)
	}
	return ids
}

func sumLines(lines []LineInput, scale int32) (debit, credit money.Decimal) {
	debit, credit = money.Zero(scale), money.Zero(scale)
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// swapSides returns the reversing lines of an original transaction.
func swapSides(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{
			AccountID:   l.AccountID,
			Description: l.Description,
			Debit:       l.Credit,
			Credit:      l.Debit,
		})
	}
	return out
}

// ListFilter narrows ListTransactions.
type ListFilter struct {
	TenantID string
	Status   Status
	Type     shared.TransactionType
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

// ReversalDate selects the fiscal date given to a reversal.
type ReversalDate string

const (
	// ReversalDateOriginal books the reversal on the original's fiscal date.
	ReversalDateOriginal ReversalDate = "original"
	// ReversalDateToday books the reversal on the current date.
	ReversalDateToday ReversalDate = "today"
)

// ParseReversalDate validates a configured policy. Empty selects original.
func ParseReversalDate(raw string) (ReversalDate, error) {
	switch ReversalDate(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ReversalDateOriginal:
		return ReversalDateOriginal, nil
	case ReversalDateToday:
		return ReversalDateToday, nil
	}
	return "", fmt.Errorf("%w: unknown reversal date policy %q", shared.ErrValidation, raw)
}

// ReverseOptions tunes a single reversal.
type ReverseOptions struct {
	Reason string
	// Date overrides the configured policy when set.
	Date  *time.Time
	Actor string
}

func reversalDescription(original, reason string) string {
	if original == "" {
		return "(reversal: " + reason + ")"
	}
	return original + " (reversal: " + reason + ")"
}
