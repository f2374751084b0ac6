package balances

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	rows  []Row
}

func (s *countingSource) AccountBalance(ctx context.Context, q Query, accountID string) (money.Decimal, error) {
	s.calls.Add(1)
	return money.MustNew("42.50", 2), nil
}

func (s *countingSource) TrialBalance(ctx context.Context, q Query) ([]Row, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.rows, nil
}

func newCache(t *testing.T, source Source) (*CachedReader, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedReader(source, client, time.Minute, nil), srv
}

func sampleRows() []Row {
	return []Row{
		{AccountID: "1000", Description: "Cash", Debit: money.MustNew("10", 2), Credit: money.Zero(2), Balance: money.MustNew("10", 2)},
		{AccountID: "4000", Description: "Sales", Debit: money.Zero(2), Credit: money.MustNew("10", 2), Balance: money.MustNew("-10", 2)},
	}
}

func TestCachedTrialBalanceHitsSourceOnce(t *testing.T) {
	source := &countingSource{rows: sampleRows()}
	cache, _ := newCache(t, source)
	q := Query{TenantID: "acme", PostedOnly: true}

	first, err := cache.TrialBalance(context.Background(), q)
	require.NoError(t, err)
	second, err := cache.TrialBalance(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), source.calls.Load())
	require.Len(t, second, 2)
	assert.True(t, first[1].Balance.Equal(second[1].Balance))
	assert.Equal(t, int32(2), second[1].Balance.Scale())
}

func TestInvalidateForcesReload(t *testing.T) {
	source := &countingSource{rows: sampleRows()}
	cache, _ := newCache(t, source)
	ctx := context.Background()
	q := Query{TenantID: "acme"}

	_, err := cache.AccountBalance(ctx, q, "1000")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "acme"))
	got, err := cache.AccountBalance(ctx, q, "1000")
	require.NoError(t, err)
	assert.Equal(t, "42.50", got.String())
	assert.Equal(t, int32(2), source.calls.Load())

	ver, err := cache.Version(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)
	other, err := cache.Version(ctx, "globex")
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestFailedInvalidateBypassesUntilBumped(t *testing.T) {
	source := &countingSource{rows: sampleRows()}
	cache, srv := newCache(t, source)
	ctx := context.Background()
	q := Query{TenantID: "acme"}

	_, err := cache.TrialBalance(ctx, q)
	require.NoError(t, err)

	srv.SetError("LOADING Redis is loading the dataset in memory")
	require.Error(t, cache.Invalidate(ctx, "acme"))
	assert.True(t, cache.Stale("acme"))
	assert.False(t, cache.Stale("globex"))
	_, err = cache.TrialBalance(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())

	srv.SetError("")
	_, err = cache.TrialBalance(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(3), source.calls.Load())
	assert.False(t, cache.Stale("acme"))
	ver, err := cache.Version(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)

	_, err = cache.TrialBalance(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(3), source.calls.Load())
}

func TestConcurrentMissesShareLoad(t *testing.T) {
	source := &countingSource{rows: sampleRows(), delay: 50 * time.Millisecond}
	cache, _ := newCache(t, source)
	q := Query{TenantID: "acme", PostedOnly: true}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.TrialBalance(context.Background(), q)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestNilClientPassesThrough(t *testing.T) {
	source := &countingSource{rows: sampleRows()}
	cache := NewCachedReader(source, nil, time.Minute, nil)
	_, err := cache.TrialBalance(context.Background(), Query{TenantID: "acme"})
	require.NoError(t, err)
	_, err = cache.TrialBalance(context.Background(), Query{TenantID: "acme"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
	assert.NoError(t, cache.Invalidate(context.Background(), "acme"))
}

type recordedLookups struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordedLookups) ObserveBalanceCache(kind, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, kind+"/"+result)
}

func TestRecorderSeesMissThenHit(t *testing.T) {
	source := &countingSource{rows: sampleRows()}
	cache, _ := newCache(t, source)
	rec := &recordedLookups{}
	cache.WithRecorder(rec)
	q := Query{TenantID: "acme"}

	_, err := cache.AccountBalance(context.Background(), q, "1000")
	require.NoError(t, err)
	_, err = cache.AccountBalance(context.Background(), q, "1000")
	require.NoError(t, err)
	_, err = cache.TrialBalance(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, []string{"account/miss", "account/hit", "trial/miss"}, rec.seen)

	bypass := &recordedLookups{}
	_, err = NewCachedReader(source, nil, time.Minute, nil).WithRecorder(bypass).TrialBalance(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"trial/" + CacheBypass}, bypass.seen)
}
