package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityRunner executes one integrity pass.
type IntegrityRunner interface {
	Run(ctx context.Context) (integrity.Report, error)
}

// GLIntegrityJob runs the ledger integrity checks on a schedule.
type GLIntegrityJob struct {
	Checker IntegrityRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(checker IntegrityRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity check.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Checker == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskGLIntegrityCheck)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("job", TaskGLIntegrityCheck))
	report, err := j.Checker.Run(ctx)
	if errors.Is(err, integrity.ErrCheckInProgress) {
		logger.Warn("integrity check already running, skipping")
		return nil
	}
	if err != nil {
		resultErr = err
		logger.Error("integrity check failed", slog.Any("error", err))
		return resultErr
	}

	for _, v := range report.Violations {
		logger.Warn("ledger integrity violation",
			slog.String("check", v.Check),
			slog.String("subject", v.Subject),
			slog.Int("count", v.Count),
			slog.String("detail", v.Detail),
		)
	}
	for check, count := range report.Counts() {
		j.Metrics.AddViolations(check, count)
	}

	logger.Info("completed integrity check",
		slog.String("run_id", report.RunID.String()),
		slog.Int("violations", len(report.Violations)),
		slog.Duration("duration", time.Since(start)),
	)
	if payload.FailOnViolation && !report.Clean() {
		resultErr = fmt.Errorf("gl integrity: %d violations", len(report.Violations))
	}
	return resultErr
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
