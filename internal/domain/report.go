package domain

import (
	"math"
	"sort"
	"time"
)

// BackendForm nombra las dos formas de ejecución de una estrategia.
type BackendForm string

const (
	FormNative      BackendForm = "native"
	FormInterpreted BackendForm = "interpreted"
)

// Trace es la trayectoria completa de una simulación, grabada bajo demanda.
type Trace struct {
	Prices []float64
	Trades []TradeRecord
}

// SimResult es el resultado de una simulación.
type SimResult struct {
	Seed             uint64
	Params           SimParams
	Edge             float64
	SubmissionTrades int // trades of either kind on the submission
	RetailTrades     int // retail fills, both venues
	ArbTrades        int // arbitrage trades, both venues
	Steps            int // completed steps
	PeakUnits        uint64
	Err              error
	Trace            *Trace
}

// OK indica si la simulación terminó.
func (r SimResult) OK() bool { return r.Err == nil }

// BatchReport agrega un conjunto de simulaciones de una estrategia.
type BatchReport struct {
	ID          string
	Strategy    string
	Form        BackendForm
	Simulations int
	Succeeded   int
	Failed      int
	SuccessRate float64
	AvgEdge     float64
	Results     []SimResult
	StartedAt   time.Time
	Duration    time.Duration
}

// Failures devuelve las simulaciones fallidas ordenadas por seed.
func (b BatchReport) Failures() []SimResult {
	var out []SimResult
	for _, r := range b.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Summarize ordena los resultados por seed y rellena los campos agregados.
// Las simulaciones fallidas no entran en la media. Sin ningún éxito AvgEdge es 0.
func (b *BatchReport) Summarize() {
	sort.Slice(b.Results, func(i, j int) bool { return b.Results[i].Seed < b.Results[j].Seed })

	b.Simulations = len(b.Results)
	b.Succeeded, b.Failed = 0, 0
	sum := 0.0
	for _, r := range b.Results {
		if !r.OK() {
			b.Failed++
			continue
		}
		b.Succeeded++
		sum += r.Edge
	}
	b.AvgEdge = 0
	if b.Succeeded > 0 {
		b.AvgEdge = sum / float64(b.Succeeded)
	}
	b.SuccessRate = 0
	if b.Simulations > 0 {
		b.SuccessRate = float64(b.Succeeded) / float64(b.Simulations)
	}
}

// Violation es la primera prueba que rompió un check fallido.
type Violation struct {
	Inputs CallInputs
	Detail string
}

// CheckResult es el resultado de un check de validación.
type CheckResult struct {
	Passed    bool
	Skipped   bool
	Probes    int
	Violation *Violation
	Err       error
}

// BudgetResult añade la contabilidad de compute units a un check.
type BudgetResult struct {
	CheckResult
	PeakUnits uint64
	Limit     uint64
}

// ParityResult añade los deltas entre backends a un check.
type ParityResult struct {
	CheckResult
	Samples  int
	WorstAbs uint64
	WorstRel float64
}

// ValidationReport contiene los cuatro checks de validación independientes.
type ValidationReport struct {
	ID           string
	Strategy     string
	Monotonicity CheckResult
	Convexity    CheckResult
	Budget       BudgetResult
	Parity       ParityResult

	// ParityAdvisory: un fallo de paridad se reporta pero no rechaza.
	ParityAdvisory bool

	CreatedAt time.Time
	Duration  time.Duration
}

// Nombres de los checks, en el orden del reporte.
const (
	CheckMonotonicity = "monotonicity"
	CheckConvexity    = "convexity"
	CheckBudget       = "budget"
	CheckParity       = "parity"
)

// Checks devuelve los cuatro checks con su nombre, en el orden del reporte.
func (v ValidationReport) Checks() []NamedCheck {
	return []NamedCheck{
		{CheckMonotonicity, v.Monotonicity},
		{CheckConvexity, v.Convexity},
		{CheckBudget, v.Budget.CheckResult},
		{CheckParity, v.Parity.CheckResult},
	}
}

// NamedCheck asocia un resultado con el nombre de su check.
type NamedCheck struct {
	Name string
	CheckResult
}

// Blocking indica si un fallo del check nombrado rechaza el artifact.
func (v ValidationReport) Blocking(name string) bool {
	return name != CheckParity || !v.ParityAdvisory
}

// Passed indica si pasaron todos los checks bloqueantes que corrieron. Coincide con el
// veredicto que devuelve el harness de validación.
func (v ValidationReport) Passed() bool {
	for _, c := range v.Checks() {
		if v.Blocking(c.Name) && !c.Skipped && !c.Passed {
			return false
		}
	}
	return true
}

// Skipped devuelve los nombres de los checks que no corrieron.
func (v ValidationReport) Skipped() []string {
	var out []string
	for _, c := range v.Checks() {
		if c.Skipped {
			out = append(out, c.Name)
		}
	}
	return out
}

// RelDelta es |a-b| / max(a, b, 1).
func RelDelta(a, b uint64) (uint64, float64) {
	var abs uint64
	if a > b {
		abs = a - b
	} else {
		abs = b - a
	}
	den := math.Max(math.Max(float64(a), float64(b)), 1)
	return abs, float64(abs) / den
}

// ArtifactRef nombra una estrategia y, opcionalmente, dónde están sus formas compiladas.
type ArtifactRef struct {
	Name         string
	NativePlugin string // ruta a un plugin Go que exporta ComputeSwap
	BPFProgram   string // ruta a un objeto ELF sBPF
}
