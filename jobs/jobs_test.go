package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type stubRunner struct {
	report integrity.Report
	err    error
	calls  int
}

func (s *stubRunner) Run(context.Context) (integrity.Report, error) {
	s.calls++
	return s.report, s.err
}

func violationCount(t *testing.T, registry *prometheus.Registry, check string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "odyssey_gl_integrity_violations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == "check" && pair.GetValue() == check {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func integrityTask(t *testing.T, payload GLIntegrityPayload) *asynq.Task {
	t.Helper()
	task, err := NewGLIntegrityTask(payload)
	require.NoError(t, err)
	require.Equal(t, TaskGLIntegrityCheck, task.Type())
	return task
}

func TestGLIntegrityJobRecordsViolations(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	runner := &stubRunner{report: integrity.Report{Violations: []integrity.Violation{
		{Check: integrity.CheckUnbalanced, Subject: "2025-01-000004", Count: 1},
		{Check: integrity.CheckOrphans, Subject: "line_header", Count: 3},
	}}}
	job := NewGLIntegrityJob(runner, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), integrityTask(t, GLIntegrityPayload{})))
	require.Equal(t, float64(1), violationCount(t, registry, integrity.CheckUnbalanced))
	require.Equal(t, float64(3), violationCount(t, registry, integrity.CheckOrphans))

	err := job.Handle(context.Background(), integrityTask(t, GLIntegrityPayload{FailOnViolation: true}))
	require.Error(t, err)
	require.Equal(t, 2, runner.calls)
}

func TestGLIntegrityJobSkipsNestedRun(t *testing.T) {
	runner := &stubRunner{err: integrity.ErrCheckInProgress}
	job := NewGLIntegrityJob(runner, nil, nil)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrityCheck, nil)))
}

func TestGLIntegrityJobPropagatesFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("db down")}
	job := NewGLIntegrityJob(runner, nil, nil)
	require.EqualError(t, job.Handle(context.Background(), asynq.NewTask(TaskGLIntegrityCheck, nil)), "db down")

	bad := asynq.NewTask(TaskGLIntegrityCheck, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, nil, nil).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 4, body.Pending)

	r = chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{err: errors.New("redis down")}, nil, nil).MountRoutes)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jobs/integrity", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubCleaner struct {
	retention time.Duration
	purged    int64
	err       error
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return s.purged, s.err
}

func TestIdempotencyCleanupJobEnforcesMinimumRetention(t *testing.T) {
	cleaner := &stubCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, nil, nil)

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, minRetention, cleaner.retention)

	task, err = NewIdempotencyCleanupTask(30 * 24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 30*24*time.Hour, cleaner.retention)
}

func TestIdempotencyCleanupJobCountsPurgedKeys(t *testing.T) {
	registry := prometheus.NewRegistry()
	job := NewIdempotencyCleanupJob(&stubCleaner{purged: 4}, nil, jobmetrics.NewMetrics(registry))
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	families, err := registry.Gather()
	require.NoError(t, err)
	var purged float64
	for _, f := range families {
		if f.GetName() == "odyssey_gl_idempotency_keys_purged_total" {
			purged = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.Equal(t, 4.0, purged)
}

func TestIdempotencyCleanupJobFailures(t *testing.T) {
	cleaner := &stubCleaner{err: errors.New("db down")}
	job := NewIdempotencyCleanupJob(cleaner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))

	bad := asynq.NewTask(TaskIdempotencyCleanup, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestLogTaskPassesThroughResult(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	boom := errors.New("boom")
	h := logTask(logger)(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))

	err := h.ProcessTask(context.Background(), asynq.NewTask(TaskGLIntegrityCheck, nil))
	require.ErrorIs(t, err, boom)
	require.Contains(t, buf.String(), "type=gl:integrity_check")
	require.Contains(t, buf.String(), "ok=false")
}

func TestReportFailureLogsTaskType(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := slog.New(slog.NewTextHandler(buf, nil))
	reportFailure(logger)(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil), asynq.SkipRetry)

	require.Contains(t, buf.String(), "ledger job failed")
	require.Contains(t, buf.String(), "type=gl:idempotency_cleanup")
	require.Contains(t, buf.String(), "final=true")
}
