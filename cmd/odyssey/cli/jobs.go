package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// ErrAlreadyQueued is returned when the same job was enqueued within the
// uniqueness window.
var ErrAlreadyQueued = errors.New("jobs cli: job already queued")

const uniqueWindow = time.Minute

// TriggerOptions selects a job and tunes its payload.
type TriggerOptions struct {
	Name            string
	FailOnViolation bool
	Retention       time.Duration
}

type jobSpec struct {
	retries int
	build   func(TriggerOptions) (*asynq.Task, error)
}

var jobSpecs = map[string]jobSpec{
	"integrity": {retries: 3, build: func(o TriggerOptions) (*asynq.Task, error) {
		return jobs.NewGLIntegrityTask(jobs.GLIntegrityPayload{FailOnViolation: o.FailOnViolation})
	}},
	"idempotency-cleanup": {retries: 1, build: func(o TriggerOptions) (*asynq.Task, error) {
		return jobs.NewIdempotencyCleanupTask(o.Retention)
	}},
}

// JobNames lists the names accepted by Trigger.
func JobNames() []string {
	names := make([]string, 0, len(jobSpecs))
	for name := range jobSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobsCLI enqueues ledger jobs and reads queue state.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI connects to the queue at redisAddr (host:port or redis:// URL).
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts, err := cache.QueueOptions(redisAddr)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: %w", err)
	}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases the client and the inspector.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Trigger enqueues one job on the default queue.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, spec, err := buildTask(opts)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(spec.retries), asynq.Unique(uniqueWindow))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, task.Type())
	}
	return info, err
}

func buildTask(opts TriggerOptions) (*asynq.Task, jobSpec, error) {
	name := strings.TrimSpace(opts.Name)
	switch name {
	case jobs.TaskGLIntegrityCheck:
		name = "integrity"
	case jobs.TaskIdempotencyCleanup:
		name = "idempotency-cleanup"
	}
	spec, ok := jobSpecs[name]
	if !ok {
		return nil, jobSpec{}, fmt.Errorf("jobs cli: unknown job %q (known: %s)", opts.Name, strings.Join(JobNames(), ", "))
	}
	task, err := spec.build(opts)
	return task, spec, err
}

// QueueStats is a snapshot of the default queue.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
	FailedDay int
}

// InspectQueue reads the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	if err := ctx.Err(); err != nil {
		return QueueStats{}, err
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, fmt.Errorf("jobs cli: queue info: %w", err)
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
		stats.FailedDay = info.Failed
	}
	return stats, nil
}
