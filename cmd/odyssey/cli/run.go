package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Commands lists the subcommands Run dispatches.
var Commands = []string{"trial-balance", "jobs"}

// Env carries the collaborators subcommands need.
type Env struct {
	Ledger    *LedgerCLI
	RedisAddr string
	Stdout    io.Writer
	Stderr    io.Writer
}

// IsCommand reports whether name is a known subcommand.
func IsCommand(name string) bool {
	for _, c := range Commands {
		if c == name {
			return true
		}
	}
	return false
}

// Run executes a subcommand and returns the process exit code.
func Run(ctx context.Context, args []string, env Env) int {
	if env.Stdout == nil {
		env.Stdout = os.Stdout
	}
	if env.Stderr == nil {
		env.Stderr = os.Stderr
	}
	if len(args) == 0 {
		_, _ = fmt.Fprintf(env.Stderr, "usage: odyssey <%s> [flags]\n", "trial-balance|jobs")
		return 2
	}
	switch args[0] {
	case "trial-balance":
		return runTrialBalance(ctx, args[1:], env)
	case "jobs":
		return runJobs(ctx, args[1:], env)
	default:
		_, _ = fmt.Fprintf(env.Stderr, "unknown command %q\n", args[0])
		return 2
	}
}

func runTrialBalance(ctx context.Context, args []string, env Env) int {
	fs := flag.NewFlagSet("trial-balance", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	opts := TrialBalanceOptions{Stdout: env.Stdout, Stderr: env.Stderr}
	fs.StringVar(&opts.TenantID, "tenant", "", "tenant identifier")
	fs.StringVar(&opts.From, "from", "", "first fiscal date, YYYY-MM-DD")
	fs.StringVar(&opts.To, "to", "", "last fiscal date, YYYY-MM-DD")
	fs.BoolVar(&opts.IncludeDrafts, "include-drafts", false, "include DRAFT transactions")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if env.Ledger == nil {
		_, _ = fmt.Fprintln(env.Stderr, "trial-balance: ledger not configured")
		return 1
	}
	return env.Ledger.TrialBalanceCommand(ctx, opts)
}

func runJobs(ctx context.Context, args []string, env Env) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	trigger := fs.String("trigger", "", "enqueue a job: "+strings.Join(JobNames(), "|"))
	strict := fs.Bool("fail-on-violation", false, "fail the integrity job when violations are found")
	retention := fs.Duration("retention", 0, "idempotency key retention for idempotency-cleanup")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	jc, err := NewJobsCLI(env.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(env.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer jc.Close()

	if *trigger != "" {
		info, err := jc.Trigger(ctx, TriggerOptions{Name: *trigger, FailOnViolation: *strict, Retention: *retention})
		if err != nil {
			_, _ = fmt.Fprintf(env.Stderr, "jobs: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(env.Stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	}
	stats, err := jc.InspectQueue(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(env.Stderr, "jobs: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(env.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d failed_today=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived, stats.FailedDay)
	return 0
}
