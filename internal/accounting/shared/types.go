package shared

import (
	"fmt"
	"strings"
)

// TransactionType is the closed set of ledger sources. It is mirrored into the
// gl_transaction_types lookup table; integrity.ReconcileTransactionTypes keeps
// both in step.
type TransactionType string

const (
	TransactionTypeManualGL   TransactionType = "MANUAL_GL"
	TransactionTypeBank       TransactionType = "BANK"
	TransactionTypeReceivable TransactionType = "RECEIVABLE"
	TransactionTypePayable    TransactionType = "PAYABLE"
)

// TransactionTypeInfo is the static metadata attached to a type.
type TransactionTypeInfo struct {
	Type       TransactionType
	Code       string
	PeriodFlag string
	Label      string
}

var transactionTypes = []TransactionTypeInfo{
	{Type: TransactionTypeManualGL, Code: "01", PeriodFlag: "is_open_gl", Label: "Manual GL"},
	{Type: TransactionTypeBank, Code: "02", PeriodFlag: "is_open_bnk", Label: "Bank"},
	{Type: TransactionTypeReceivable, Code: "03", PeriodFlag: "is_open_rm", Label: "Receivables"},
	{Type: TransactionTypePayable, Code: "04", PeriodFlag: "is_open_pm", Label: "Payables"},
}

// TransactionTypes lists every type in code order.
func TransactionTypes() []TransactionTypeInfo {
	out := make([]TransactionTypeInfo, len(transactionTypes))
	copy(out, transactionTypes)
	return out
}

// ParseTransactionType normalises and validates a type name.
func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := t.info(); !ok {
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrValidation, raw)
	}
	return t, nil
}

// TransactionTypeByCode resolves the two-digit identifier code.
func TransactionTypeByCode(code string) (TransactionType, bool) {
	for _, info := range transactionTypes {
		if info.Code == code {
			return info.Type, true
		}
	}
	return "", false
}

// Valid reports whether t is a member of the closed set.
func (t TransactionType) Valid() bool {
	_, ok := t.info()
	return ok
}

// Code returns the identifier code, empty for unknown types.
func (t TransactionType) Code() string {
	info, _ := t.info()
	return info.Code
}

// PeriodFlag returns the fiscal period column gating this type.
func (t TransactionType) PeriodFlag() string {
	info, _ := t.info()
	return info.PeriodFlag
}

func (t TransactionType) info() (TransactionTypeInfo, bool) {
	for _, info := range transactionTypes {
		if info.Type == t {
			return info, true
		}
	}
	return TransactionTypeInfo{}, false
}
