package gl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/sequences"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	common "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// tenantKey mirrors the composite (tenant_id, id) keys.
type tenantKey struct {
	tenant string
	id     string
}

// ledgerState is everything a unit of work may change.
type ledgerState struct {
	headers   map[tenantKey]Header
	lines     map[tenantKey][]Line
	sequences map[sequences.Key]int64
	keys      map[string]struct{}
	audits    []common.AuditLog
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		headers:   make(map[tenantKey]Header, len(s.headers)),
		lines:     make(map[tenantKey][]Line, len(s.lines)),
		sequences: make(map[sequences.Key]int64, len(s.sequences)),
		keys:      make(map[string]struct{}, len(s.keys)),
		audits:    append([]common.AuditLog(nil), s.audits...),
	}
	for k, v := range s.headers {
		out.headers[k] = v
	}
	for k, v := range s.lines {
		out.lines[k] = append([]Line(nil), v...)
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	for k := range s.keys {
		out.keys[k] = struct{}{}
	}
	return out
}

// memoryLedger is a serialising in-memory unit of work. A failed callback
// restores the snapshot taken when it started.
type memoryLedger struct {
	mu    sync.Mutex
	state ledgerState
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{state: ledgerState{
		headers:   map[tenantKey]Header{},
		lines:     map[tenantKey][]Line{},
		sequences: map[sequences.Key]int64{},
		keys:      map[string]struct{}{},
	}}
}

func (m *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(ctx, &memoryTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *memoryLedger) Get(_ context.Context, tenantID, id string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantKey{tenantID, id}
	h, ok := m.state.headers[key]
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", shared.ErrTransactionNotFound, id)
	}
	return Transaction{Header: h, Lines: append([]Line(nil), m.state.lines[key]...)}, nil
}

func (m *memoryLedger) List(_ context.Context, f ListFilter) ([]Header, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Header
	for _, h := range m.state.headers {
		switch {
		case h.TenantID != f.TenantID:
			continue
		case f.Status != "" && h.Status != f.Status:
			continue
		case f.Type != "" && h.Type != f.Type:
			continue
		case f.From != nil && h.FiscalDate.Before(*f.From):
			continue
		case f.To != nil && h.FiscalDate.After(*f.To):
			continue
		}
		matched = append(matched, h)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start > total {
		start = total
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *memoryLedger) header(id string) Header {
	return m.tenantHeader(tenantID, id)
}

func (m *memoryLedger) tenantHeader(tenant, id string) Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.headers[tenantKey{tenant, id}]
}

func (m *memoryLedger) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.state.audits))
	for _, a := range m.state.audits {
		out = append(out, a.Action)
	}
	return out
}

type memoryTx struct {
	state *ledgerState
}

func (t *memoryTx) Querier() db.Querier { return nil }

func (t *memoryTx) InsertHeader(_ context.Context, h Header) error {
	key := tenantKey{h.TenantID, h.ID}
	if _, exists := t.state.headers[key]; exists {
		return fmt.Errorf("duplicate header %s/%s", h.TenantID, h.ID)
	}
	if h.ReversalOf != nil {
		for k, other := range t.state.headers {
			if k.tenant == h.TenantID && other.ReversalOf != nil && *other.ReversalOf == *h.ReversalOf {
				return shared.ErrAlreadyReversed
			}
		}
	}
	t.state.headers[key] = h
	return nil
}

func (t *memoryTx) InsertLines(_ context.Context, tenantID string, lines []Line) error {
	for _, l := range lines {
		key := tenantKey{tenantID, l.TransactionID}
		if _, ok := t.state.headers[key]; !ok {
			return fmt.Errorf("line %d references missing header %s/%s", l.LineNo, tenantID, l.TransactionID)
		}
		t.state.lines[key] = append(t.state.lines[key], l)
	}
	return nil
}

func (t *memoryTx) GetForUpdate(_ context.Context, tenantID, id string) (Header, error) {
	h, ok := t.state.headers[tenantKey{tenantID, id}]
	if !ok {
		return Header{}, fmt.Errorf("%w: %s", shared.ErrTransactionNotFound, id)
	}
	return h, nil
}

func (t *memoryTx) Lines(_ context.Context, tenantID, id string) ([]Line, error) {
	return append([]Line(nil), t.state.lines[tenantKey{tenantID, id}]...), nil
}

func (t *memoryTx) UpdateDraft(_ context.Context, h Header) error {
	key := tenantKey{h.TenantID, h.ID}
	current, ok := t.state.headers[key]
	if !ok || current.Status != StatusDraft {
		return shared.ErrImmutable
	}
	t.state.headers[key] = h
	return nil
}

func (t *memoryTx) ReplaceLines(ctx context.Context, tenantID, id string, lines []Line) error {
	delete(t.state.lines, tenantKey{tenantID, id})
	return t.InsertLines(ctx, tenantID, lines)
}

func (t *memoryTx) MarkPosted(_ context.Context, tenantID, id string, at time.Time) error {
	key := tenantKey{tenantID, id}
	h, ok := t.state.headers[key]
	if !ok || h.Status != StatusDraft {
		return shared.ErrAlreadyPosted
	}
	h.Status = StatusPosted
	h.PostedAt = &at
	h.UpdatedAt = at
	t.state.headers[key] = h
	return nil
}

func (t *memoryTx) MarkReversed(_ context.Context, tenantID, id, reversedBy string, at time.Time) error {
	key := tenantKey{tenantID, id}
	h, ok := t.state.headers[key]
	if !ok || h.Status != StatusPosted || h.ReversedBy != nil {
		return shared.ErrAlreadyReversed
	}
	h.Status = StatusReversed
	h.ReversedBy = &reversedBy
	h.UpdatedAt = at
	t.state.headers[key] = h
	return nil
}

func (t *memoryTx) DeleteDraft(_ context.Context, tenantID, id string) error {
	key := tenantKey{tenantID, id}
	h, ok := t.state.headers[key]
	if !ok || h.Status != StatusDraft {
		return shared.ErrImmutable
	}
	delete(t.state.headers, key)
	delete(t.state.lines, key)
	return nil
}

// memorySequences allocates from the ledger state. It runs only inside
// memoryLedger.WithTx, which already holds the lock.
type memorySequences struct {
	ledger *memoryLedger
}

func (s memorySequences) NextNumber(_ context.Context, _ db.Querier, key sequences.Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	s.ledger.state.sequences[key]++
	return s.ledger.state.sequences[key], nil
}

type memoryIdempotency struct {
	ledger *memoryLedger
}

func (i memoryIdempotency) CheckAndInsert(_ context.Context, _ db.Querier, tenantID, module, key, _ string) error {
	k := tenantID + "|" + module + "|" + key
	if _, ok := i.ledger.state.keys[k]; ok {
		return common.ErrIdempotencyConflict
	}
	i.ledger.state.keys[k] = struct{}{}
	return nil
}

type memoryAudit struct {
	ledger *memoryLedger
}

func (a memoryAudit) Record(_ context.Context, _ db.Querier, log common.AuditLog) error {
	a.ledger.state.audits = append(a.ledger.state.audits, log)
	return nil
}

// memoryGate answers from a fixed set of periods.
type memoryGate struct {
	mu      sync.Mutex
	periods []periods.FiscalPeriod
}

func (g *memoryGate) IsOpen(_ context.Context, _ db.Querier, t shared.TransactionType, date time.Time) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.periods {
		if p.Contains(date) {
			return p.IsOpenFor(t)
		}
	}
	return false, fmt.Errorf("%w: %s", shared.ErrPeriodNotFound, date.Format(time.DateOnly))
}

func (g *memoryGate) FiscalYearOf(_ context.Context, _ db.Querier, date time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.periods {
		if p.Contains(date) {
			return p.FiscalYear, nil
		}
	}
	return periods.FiscalYearFor(date, 1), nil
}

func (g *memoryGate) close(t shared.TransactionType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.periods {
		switch t {
		case shared.TransactionTypeManualGL:
			g.periods[i].IsOpenGL = false
		case shared.TransactionTypeBank:
			g.periods[i].IsOpenBNK = false
		case shared.TransactionTypeReceivable:
			g.periods[i].IsOpenRM = false
		case shared.TransactionTypePayable:
			g.periods[i].IsOpenPM = false
		}
	}
}

// chartRepository backs the real account directory.
type chartRepository struct {
	accounts map[tenantKey]accounts.Account
}

func newChart(list ...accounts.Account) chartRepository {
	c := chartRepository{accounts: make(map[tenantKey]accounts.Account, len(list))}
	for _, a := range list {
		c.accounts[tenantKey{a.TenantID, a.ID}] = a
	}
	return c
}

func (c chartRepository) List(_ context.Context, tenantID string) ([]accounts.Account, error) {
	var out []accounts.Account
	for _, a := range c.accounts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c chartRepository) FindByIDs(_ context.Context, tenantID string, ids []string) ([]accounts.Account, error) {
	var out []accounts.Account
	for _, id := range ids {
		if a, ok := c.accounts[tenantKey{tenantID, id}]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (c chartRepository) Upsert(_ context.Context, a accounts.Account) error {
	c.accounts[tenantKey{a.TenantID, a.ID}] = a
	return nil
}

// memoryBalances aggregates the ledger state the way the SQL reader does.
type memoryBalances struct {
	ledger    *memoryLedger
	directory *accounts.Directory
	scale     int32
}

func (b memoryBalances) movements(q balances.Query, accountID string) []balances.Movement {
	b.ledger.mu.Lock()
	defer b.ledger.mu.Unlock()
	totals := map[string]*balances.Movement{}
	for key, h := range b.ledger.state.headers {
		if key.tenant != q.TenantID {
			continue
		}
		if !q.Start.IsZero() && h.FiscalDate.Before(q.Start) {
			continue
		}
		if !q.End.IsZero() && h.FiscalDate.After(q.End) {
			continue
		}
		if q.PostedOnly && h.Status == StatusDraft {
			continue
		}
		for _, l := range b.ledger.state.lines[key] {
			if accountID != "" && l.AccountID != accountID {
				continue
			}
			m, ok := totals[l.AccountID]
			if !ok {
				m = &balances.Movement{AccountID: l.AccountID, Debit: money.Zero(b.scale), Credit: money.Zero(b.scale)}
				totals[l.AccountID] = m
			}
			m.Debit = m.Debit.Add(l.Debit)
			m.Credit = m.Credit.Add(l.Credit)
		}
	}
	out := make([]balances.Movement, 0, len(totals))
	for _, m := range totals {
		out = append(out, *m)
	}
	return out
}

func (b memoryBalances) AccountBalance(ctx context.Context, q balances.Query, accountID string) (money.Decimal, error) {
	found, err := b.directory.Lookup(ctx, q.TenantID, []string{accountID})
	if err != nil {
		return money.Decimal{}, err
	}
	account, ok := found[accountID]
	if !ok {
		return money.Decimal{}, fmt.Errorf("%w: unknown account %q", shared.ErrValidation, accountID)
	}
	return balances.SignedBalance(b.movements(q, accountID), account.NormalSide(), b.scale), nil
}

func (b memoryBalances) TrialBalance(ctx context.Context, q balances.Query) ([]balances.Row, error) {
	moves := b.movements(q, "")
	ids := make([]string, 0, len(moves))
	for _, m := range moves {
		ids = append(ids, m.AccountID)
	}
	names, err := b.directory.Lookup(ctx, q.TenantID, ids)
	if err != nil {
		return nil, err
	}
	return balances.BuildTrialBalance(moves, names, b.scale), nil
}

type countingCache struct {
	mu      sync.Mutex
	tenants []string
}

func (c *countingCache) Invalidate(_ context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants = append(c.tenants, tenantID)
	return nil
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tenants)
}

type recordedMetric struct {
	operation string
	outcome   string
}

type recordingMetrics struct {
	mu   sync.Mutex
	seen []recordedMetric
}

func (r *recordingMetrics) ObserveGL(operation, outcome string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, recordedMetric{operation: operation, outcome: outcome})
}

func (r *recordingMetrics) outcomes(operation string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.seen {
		if m.operation == operation {
			out = append(out, m.outcome)
		}
	}
	return out
}
