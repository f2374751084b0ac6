package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/balances"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

// exitUnbalanced is returned when the ledger does not net to zero.
const exitUnbalanced = 10

// TrialBalanceSource produces the grouped trial balance.
type TrialBalanceSource interface {
	TrialBalance(ctx context.Context, q balances.Query) (reports.TrialBalanceViewModel, error)
}

// LedgerCLI prints ledger reports for operators.
type LedgerCLI struct {
	source  TrialBalanceSource
	printer *message.Printer
}

// NewLedgerCLI constructs the helper.
func NewLedgerCLI(source TrialBalanceSource) (*LedgerCLI, error) {
	if source == nil {
		return nil, fmt.Errorf("ledger cli: source required")
	}
	return &LedgerCLI{source: source, printer: message.NewPrinter(language.English)}, nil
}

// TrialBalanceOptions defines the flags of the trial-balance command.
type TrialBalanceOptions struct {
	TenantID      string
	From          string
	To            string
	IncludeDrafts bool
	JSONOutput    bool
	Stdout        io.Writer
	Stderr        io.Writer
}

// TrialBalanceCommand prints the trial balance and returns the exit code.
func (c *LedgerCLI) TrialBalanceCommand(ctx context.Context, opts TrialBalanceOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if strings.TrimSpace(opts.TenantID) == "" {
		_, _ = fmt.Fprintln(opts.Stderr, "trial-balance: --tenant is required")
		return 1
	}
	start, err := parseDate(opts.From)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "trial-balance: invalid --from %q (expected YYYY-MM-DD)\n", opts.From)
		return 1
	}
	end, err := parseDate(opts.To)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "trial-balance: invalid --to %q (expected YYYY-MM-DD)\n", opts.To)
		return 1
	}
	vm, err := c.source.TrialBalance(ctx, balances.Query{
		TenantID:   strings.TrimSpace(opts.TenantID),
		Start:      start,
		End:        end,
		PostedOnly: !opts.IncludeDrafts,
	})
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "trial-balance: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(vm); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "trial-balance: encode json: %v\n", err)
			return 1
		}
	} else {
		c.render(opts.Stdout, vm)
	}
	if !vm.Balanced {
		return exitUnbalanced
	}
	return 0
}

func (c *LedgerCLI) render(w io.Writer, vm reports.TrialBalanceViewModel) {
	_, _ = fmt.Fprintf(w, "Trial balance %s (%s)\n", vm.Filter.TenantID, vm.PeriodLabel)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprintln(tw, "CODE\tNAME\tOPENING\tDEBIT\tCREDIT\tCLOSING\t")
	for _, grp := range vm.Report.Groups {
		for _, acc := range grp.Accounts {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", acc.Code, acc.Name,
				c.amount(acc.Opening), c.amount(acc.Debit), c.amount(acc.Credit), c.amount(acc.Closing))
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", grp.Key, "subtotal",
			c.amount(grp.Opening), c.amount(grp.Debit), c.amount(grp.Credit), c.amount(grp.Closing))
	}
	_, _ = fmt.Fprintf(tw, "\t%s\t%s\t%s\t%s\t%s\t\n", "TOTAL",
		c.amount(vm.Report.TotalOpening), c.amount(vm.Report.TotalDebit),
		c.amount(vm.Report.TotalCredit), c.amount(vm.Report.TotalClosing))
	_ = tw.Flush()
	if vm.Balanced {
		_, _ = fmt.Fprintln(w, "status: balanced")
		return
	}
	_, _ = fmt.Fprintln(w, "status: UNBALANCED")
}

// amount groups the integer digits without rounding the fraction.
func (c *LedgerCLI) amount(d money.Decimal) string {
	raw := d.String()
	sign := ""
	if strings.HasPrefix(raw, "-") {
		sign, raw = "-", raw[1:]
	}
	whole, frac, hasFrac := strings.Cut(raw, ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return sign + raw
	}
	out := sign + c.printer.Sprintf("%d", n)
	if hasFrac {
		out += "." + frac
	}
	return out
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, raw)
}
