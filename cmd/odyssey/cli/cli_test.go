package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type stubSource struct {
	vm    reports.TrialBalanceViewModel
	err   error
	query balances.Query
}

func (s *stubSource) TrialBalance(ctx context.Context, q balances.Query) (reports.TrialBalanceViewModel, error) {
	s.query = q
	return s.vm, s.err
}

func amt(v string) money.Decimal { return money.MustNew(v, 2) }

func sampleViewModel(balanced bool) reports.TrialBalanceViewModel {
	credit := amt("1234.5")
	if !balanced {
		credit = amt("1000")
	}
	return reports.TrialBalanceViewModel{
		Filter:      reports.Filter{TenantID: "acme"},
		PeriodLabel: "All dates",
		Balanced:    balanced,
		Report: reports.TrialBalance{
			Groups: []reports.TrialBalanceGroup{{
				Key: "10",
				Accounts: []reports.TrialBalanceAccount{{
					Code: "1000", Name: "Cash",
					Opening: amt("0"), Debit: amt("1234.5"), Credit: amt("0"), Closing: amt("1234.5"),
				}},
				Opening: amt("0"), Debit: amt("1234.5"), Credit: amt("0"), Closing: amt("1234.5"),
			}},
			TotalOpening: amt("0"),
			TotalDebit:   amt("1234.5"),
			TotalCredit:  credit,
			TotalClosing: amt("0"),
		},
	}
}

func TestTrialBalanceCommandHuman(t *testing.T) {
	src := &stubSource{vm: sampleViewModel(true)}
	ledger, err := NewLedgerCLI(src)
	require.NoError(t, err)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	code := ledger.TrialBalanceCommand(context.Background(), TrialBalanceOptions{
		TenantID: "acme", From: "2025-01-01", To: "2025-03-31", Stdout: stdout, Stderr: stderr,
	})
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "1,234.50")
	assert.Contains(t, stdout.String(), "status: balanced")
	assert.Equal(t, "acme", src.query.TenantID)
	assert.True(t, src.query.PostedOnly)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), src.query.End)
}

func TestTrialBalanceCommandUnbalancedJSON(t *testing.T) {
	src := &stubSource{vm: sampleViewModel(false)}
	ledger, err := NewLedgerCLI(src)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := ledger.TrialBalanceCommand(context.Background(), TrialBalanceOptions{
		TenantID: "acme", IncludeDrafts: true, JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer),
	})
	assert.Equal(t, exitUnbalanced, code)
	assert.False(t, src.query.PostedOnly)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &decoded))
	assert.Equal(t, false, decoded["balanced"])
}

func TestTrialBalanceCommandErrors(t *testing.T) {
	ledger, err := NewLedgerCLI(&stubSource{err: errors.New("boom")})
	require.NoError(t, err)

	cases := map[string]TrialBalanceOptions{
		"missing tenant": {},
		"bad from":       {TenantID: "acme", From: "03/01/2025"},
		"bad to":         {TenantID: "acme", To: "2025-13-01"},
		"source error":   {TenantID: "acme"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			stderr := new(bytes.Buffer)
			opts.Stdout, opts.Stderr = new(bytes.Buffer), stderr
			assert.Equal(t, 1, ledger.TrialBalanceCommand(context.Background(), opts))
			assert.NotEmpty(t, stderr.String())
		})
	}

	_, err = NewLedgerCLI(nil)
	require.Error(t, err)
}

func TestAmountFormatting(t *testing.T) {
	ledger, err := NewLedgerCLI(&stubSource{})
	require.NoError(t, err)
	assert.Equal(t, "1,234,567.89", ledger.amount(money.MustNew("1234567.89", 2)))
	assert.Equal(t, "-12.00", ledger.amount(money.MustNew("-12", 2)))
	assert.Equal(t, "7", ledger.amount(money.MustNew("7", 0)))
}

func TestRunDispatch(t *testing.T) {
	stderr := new(bytes.Buffer)
	assert.Equal(t, 2, Run(context.Background(), nil, Env{Stderr: stderr}))
	assert.Equal(t, 2, Run(context.Background(), []string{"nope"}, Env{Stderr: stderr}))
	assert.Equal(t, 1, Run(context.Background(), []string{"trial-balance", "--tenant", "acme"}, Env{Stderr: stderr}))
	assert.True(t, IsCommand("jobs"))
	assert.False(t, IsCommand("serve"))

	ledger, err := NewLedgerCLI(&stubSource{vm: sampleViewModel(true)})
	require.NoError(t, err)
	stdout := new(bytes.Buffer)
	code := Run(context.Background(), []string{"trial-balance", "--tenant", "acme"}, Env{Ledger: ledger, Stdout: stdout, Stderr: stderr})
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Trial balance acme")
}

func TestBuildTask(t *testing.T) {
	task, spec, err := buildTask(TriggerOptions{Name: "integrity", FailOnViolation: true})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskGLIntegrityCheck, task.Type())
	assert.Equal(t, 3, spec.retries)
	assert.JSONEq(t, `{"fail_on_violation":true}`, string(task.Payload()))

	task, _, err = buildTask(TriggerOptions{Name: jobs.TaskIdempotencyCleanup, Retention: 48 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskIdempotencyCleanup, task.Type())
	assert.JSONEq(t, `{"retention":172800000000000}`, string(task.Payload()))

	_, _, err = buildTask(TriggerOptions{Name: "unknown"})
	require.ErrorContains(t, err, "idempotency-cleanup, integrity")
}

func TestNewJobsCLIRejectsEmptyAddress(t *testing.T) {
	_, err := NewJobsCLI("")
	require.Error(t, err)
}
