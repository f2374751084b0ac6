package audithttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	defaultExportLimit = 10
	exportWindow       = time.Minute
	transactionEntity  = "gl_transaction"
)

// MountRoutes mendaftarkan timeline, jejak per transaksi dan ekspor CSV.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/audit", h.handleTimeline)
	r.Get("/audit/transactions/{id}", h.handleEntity(transactionEntity))
	r.With(h.exportLimiter()).Get("/audit/export.csv", h.handleExport)
}

func (h *Handler) exportLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(h.exportLimit, exportWindow,
		httprate.WithKeyFuncs(exportKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(exportWindow.Seconds())))
			httpx.Problem(w, http.StatusTooManyRequests, "Export Rate Limited",
				"audit export allows "+strconv.Itoa(h.exportLimit)+" requests per minute")
		}),
	)
}

// exportKey buckets by tenant; requests without one fall back to the client IP.
func exportKey(r *http.Request) (string, error) {
	if tenant := strings.TrimSpace(shared.TenantFromContext(r.Context())); tenant != "" {
		return "tenant:" + tenant, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
