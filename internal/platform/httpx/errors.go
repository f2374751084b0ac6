// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

// Sentinel errors for the transport layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("malformed request")
)

type problemKind struct {
	target error
	status int
	title  string
}

var problemKinds = []problemKind{
	{shared.ErrTenantRequired, http.StatusBadRequest, "Tenant Required"},
	{shared.ErrValidation, http.StatusUnprocessableEntity, "Validation Failed"},
	{money.ErrInvalidAmount, http.StatusUnprocessableEntity, "Invalid Amount"},
	{money.ErrDivisionByZero, http.StatusUnprocessableEntity, "Division By Zero"},
	{ErrBadRequest, http.StatusBadRequest, "Bad Request"},
	{shared.ErrTransactionNotFound, http.StatusNotFound, "Transaction Not Found"},
	{shared.ErrPeriodNotFound, http.StatusUnprocessableEntity, "Fiscal Period Not Found"},
	{ErrNotFound, http.StatusNotFound, "Not Found"},
	{shared.ErrUnbalanced, http.StatusConflict, "Unbalanced Transaction"},
	{shared.ErrPeriodClosed, http.StatusConflict, "Period Closed"},
	{shared.ErrPeriodOverlap, http.StatusConflict, "Period Overlap"},
	{shared.ErrAlreadyPosted, http.StatusConflict, "Already Posted"},
	{shared.ErrAlreadyReversed, http.StatusConflict, "Already Reversed"},
	{shared.ErrNotPosted, http.StatusConflict, "Not Posted"},
	{shared.ErrImmutable, http.StatusConflict, "Immutable Transaction"},
	{shared.ErrDuplicateRequest, http.StatusConflict, "Duplicate Request"},
}

// StatusFor returns the HTTP status and title for err.
func StatusFor(err error) (int, string) {
	for _, kind := range problemKinds {
		if errors.Is(err, kind.target) {
			return kind.status, kind.title
		}
	}
	if db.IsSerializationFailure(err) {
		return http.StatusConflict, "Concurrent Update"
	}
	return http.StatusInternalServerError, "Internal Error"
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := StatusFor(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	Problem(w, status, title, detail)
}
