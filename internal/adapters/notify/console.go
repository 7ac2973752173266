package notify

// console.go - reportes de validación y de batch en la terminal.

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// Console implementa ports.ReportSink con tablas legibles.
type Console struct {
	out     io.Writer
	verbose bool // imprime todas las simulaciones, no solo las fallidas
}

// NewConsole crea un sink que escribe en stdout.
func NewConsole(verbose bool) *Console {
	return &Console{out: os.Stdout, verbose: verbose}
}

// NewConsoleWriter crea un sink para tests.
func NewConsoleWriter(w io.Writer, verbose bool) *Console {
	return &Console{out: w, verbose: verbose}
}

// PublishValidation imprime una fila por check y el veredicto, con los checks saltados.
func (c *Console) PublishValidation(_ context.Context, v domain.ValidationReport) error {
	fmt.Fprintf(c.out, "\n[%s] validation %s (%s)\n",
		v.CreatedAt.Local().Format("15:04:05"), v.Strategy, v.Duration.Round(time.Millisecond))

	summaries := map[string]string{
		domain.CheckBudget: fmt.Sprintf("peak %d / %d CU", v.Budget.PeakUnits, v.Budget.Limit),
		domain.CheckParity: fmt.Sprintf("%d samples, worst %d (%.2e)", v.Parity.Samples, v.Parity.WorstAbs, v.Parity.WorstRel),
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Check", "Status", "Probes", "Detail")
	for _, chk := range v.Checks() {
		table.Append(chk.Name, status(chk.CheckResult, v.Blocking(chk.Name)),
			fmt.Sprintf("%d", chk.Probes), detail(chk.CheckResult, summaries[chk.Name]))
	}
	table.Render()

	verdict := "PASSED"
	if !v.Passed() {
		verdict = "FAILED"
	}
	if skipped := v.Skipped(); len(skipped) > 0 {
		verdict += " (skipped: " + strings.Join(skipped, ", ") + ")"
	}
	fmt.Fprintf(c.out, "  verdict: %s\n", verdict)
	return nil
}

// PublishBatch imprime el agregado del batch y luego los fallos (o todo con verbose).
func (c *Console) PublishBatch(_ context.Context, b domain.BatchReport) error {
	fmt.Fprintf(c.out, "\n[%s] %s/%s: %d sims, %d ok, %d failed, avg edge %.4f (%s)\n",
		b.StartedAt.Local().Format("15:04:05"), b.Strategy, b.Form,
		b.Simulations, b.Succeeded, b.Failed, b.AvgEdge, b.Duration.Round(time.Millisecond))

	rows := b.Failures()
	if c.verbose {
		rows = b.Results
	}
	if len(rows) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Seed", "Sigma", "Rate", "Size", "Edge", "Trades", "Retail", "Arb", "Peak CU", "Error")
	for _, r := range rows {
		errText := ""
		if r.Err != nil {
			errText = truncate(r.Err.Error(), 60)
		}
		table.Append(
			fmt.Sprintf("%d", r.Seed),
			fmt.Sprintf("%.5f", r.Params.Sigma),
			fmt.Sprintf("%.3f", r.Params.ArrivalRate),
			fmt.Sprintf("%.2f", r.Params.MeanSize),
			fmt.Sprintf("%.4f", r.Edge),
			fmt.Sprintf("%d", r.SubmissionTrades),
			fmt.Sprintf("%d", r.RetailTrades),
			fmt.Sprintf("%d", r.ArbTrades),
			fmt.Sprintf("%d", r.PeakUnits),
			errText,
		)
	}
	table.Render()
	return nil
}

// status muestra un fallo no bloqueante como WARN.
func status(c domain.CheckResult, blocking bool) string {
	switch {
	case c.Skipped:
		return "SKIP"
	case c.Passed:
		return "PASS"
	case !blocking:
		return "WARN"
	default:
		return "FAIL"
	}
}

// detail prefiere la violación, luego el error, luego el resumen del check.
func detail(c domain.CheckResult, summary string) string {
	switch {
	case c.Violation != nil:
		return truncate(c.Violation.Detail+" ["+c.Violation.Inputs.String()+"]", 90)
	case c.Err != nil:
		return truncate(c.Err.Error(), 90)
	case c.Skipped:
		return "skipped: form unavailable"
	default:
		return summary
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
