package gl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fixture) http.Handler {
	r := chi.NewRouter()
	r.Route("/gl", NewHandler(nil, f.engine).MountRoutes)
	return r
}

func do(t *testing.T, f *fixture, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(f.ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreatePostAndBalance(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := do(t, f, router, http.MethodPost, "/gl/transactions", `{
		"fiscal_date": "2025-03-10",
		"description": "Sale",
		"lines": [
			{"account_id": "1000", "debit": "1000.00", "credit": "0"},
			{"account_id": "4000", "debit": "0", "credit": "1000.00"}
		]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		Type       string `json:"type"`
		TotalDebit struct {
			Value string `json:"value"`
		} `json:"total_debit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "2025-01-000001", created.ID)
	require.Equal(t, "DRAFT", created.Status)
	require.Equal(t, "MANUAL_GL", created.Type)
	require.Equal(t, "1000.00", created.TotalDebit.Value)

	rec = do(t, f, router, http.MethodPost, "/gl/transactions/2025-01-000001/post", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, f, router, http.MethodPost, "/gl/transactions/2025-01-000001/post", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")

	rec = do(t, f, router, http.MethodGet, "/gl/accounts/1000/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		Balance struct {
			Value string `json:"value"`
		} `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, "1000.00", balance.Balance.Value)

	rec = do(t, f, router, http.MethodPost, "/gl/transactions/2025-01-000001/reverse", `{"reason":"correction"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, f, router, http.MethodGet, "/gl/trial-balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tb struct {
		Total struct {
			Value string `json:"value"`
		} `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tb))
	require.Equal(t, "0.00", tb.Total.Value)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)

	rec := do(t, f, router, http.MethodPost, "/gl/transactions", `{"fiscal_date":"10/03/2025","lines":[{"account_id":"1000","debit":"1"}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, f, router, http.MethodPost, "/gl/transactions", `{"fiscal_date":"2025-03-10","bogus":true,"lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, f, router, http.MethodPost, "/gl/transactions", `{"fiscal_date":"2025-03-10","lines":[{"account_id":"1000","debit":"1","credit":"1"}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, f, router, http.MethodGet, "/gl/transactions/2025-01-000042", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, f, router, http.MethodGet, "/gl/transactions?status=bogus", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, f, router, http.MethodPost, "/gl/transactions/2025-01-000001/reverse", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerListAndDelete(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(f)
	for i := 0; i < 3; i++ {
		_, err := f.engine.CreateTransaction(f.ctx, saleInput("5.00"))
		require.NoError(t, err)
	}

	rec := do(t, f, router, http.MethodGet, "/gl/transactions?per_page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Data       []map[string]any `json:"data"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Data, 2)
	require.Equal(t, 3, page.Pagination.Total)

	rec = do(t, f, router, http.MethodDelete, "/gl/transactions/2025-01-000002", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestParsePostedOnly(t *testing.T) {
	require.True(t, parsePostedOnly(""))
	require.True(t, parsePostedOnly("yes"))
	require.False(t, parsePostedOnly("false"))
	require.True(t, parsePostedOnly("1"))
}
