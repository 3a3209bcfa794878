package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/alejandrodnm/disputebot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Publisher by printing to a terminal.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	table bool
}

// NewConsole creates a publisher that writes to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a publisher for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// PublishReport prints the payouts of a resolved dispute.
func (c *Console) PublishReport(_ context.Context, r domain.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.table {
		c.printFull(r)
	} else {
		c.printCompact(r)
	}
	return nil
}

// PublishFailure prints why a dispute could not be resolved.
func (c *Console) PublishFailure(_ context.Context, n domain.FailureNotice) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "[%s] %s/%s NOT RESOLVED (%s): %s | votes %d/%d | pool $%.2f/$%.2f\n",
		n.At.Format("15:04:05"), n.Scope, n.Name, n.Kind, n.Reason,
		n.SupportVotes, n.OpposeVotes, n.SupportPool, n.OpposePool)
	return nil
}

// printCompact prints one line per dispute.
func (c *Console) printCompact(r domain.Report) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s/%s resolved → votes %d:%d pool $%.2f",
		r.ResolvedAt.Format("15:04:05"), r.Scope, r.Name,
		r.SupportVotes, r.OpposeVotes, r.Pool())

	if len(r.Payouts) == 0 {
		sb.WriteString(" | no stakes")
	}
	for _, p := range r.Payouts {
		fmt.Fprintf(&sb, " | %s(%s) $%.2f→$%.2f", p.Participant, p.Side, p.Staked, p.Amount)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull prints a header and a payout table.
func (c *Console) printFull(r domain.Report) {
	fmt.Fprintf(c.out, "\n[%s] %s/%s resolved\n", r.ResolvedAt.Format("15:04:05"), r.Scope, r.Name)
	if r.Description != "" {
		fmt.Fprintf(c.out, "  %s\n", truncate(r.Description, 72))
	}
	fmt.Fprintf(c.out, "  Votes: support %d, oppose %d (%s)\n",
		r.SupportVotes, r.OpposeVotes, shareLabel(r.SupportVotes, r.OpposeVotes))
	fmt.Fprintf(c.out, "  Pool:  $%.2f (support $%.2f, oppose $%.2f)\n", r.Pool(), r.SupportPool, r.OpposePool)

	if len(r.Payouts) == 0 {
		fmt.Fprintln(c.out, "  No stakes were placed.")
		fmt.Fprintln(c.out)
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Participant", "Side", "Staked", "Payout", "Net")
	for i, p := range r.Payouts {
		table.Append(
			fmt.Sprintf("%d", i+1),
			p.Participant,
			p.Side.String(),
			fmt.Sprintf("$%.2f", p.Staked),
			fmt.Sprintf("$%.2f", p.Amount),
			fmt.Sprintf("%+.2f", p.Amount-p.Staked),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  Total paid: $%.2f\n\n", r.TotalPaid())
}

// --- helpers ---

func shareLabel(support, oppose int) string {
	n := support + oppose
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%% support", float64(support)/float64(n)*100)
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
