package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
)

func TestRespondErrorMapsLedgerErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: line 1", shared.ErrValidation), http.StatusUnprocessableEntity},
		{shared.ErrTransactionNotFound, http.StatusNotFound},
		{shared.ErrAlreadyPosted, http.StatusConflict},
		{shared.ErrPeriodClosed, http.StatusConflict},
		{shared.ErrTenantRequired, http.StatusBadRequest},
		{fmt.Errorf("post: %w", &pgconn.PgError{Code: "40001"}), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tc.status, body.Status)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("dial tcp: connection refused"))
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","extra":1}`))
	var target struct {
		Name string `json:"name"`
	}
	err := DecodeJSON(req, &target)
	assert.ErrorIs(t, err, ErrBadRequest)
}
