package validate

// harness.go - validación de un artifact a base de pruebas.
//
// Los cuatro checks son independientes: cada uno crea sus propios backends y rellena su
// campo del reporte, así que corren en paralelo. Las pruebas son grids fijos y lotes con
// seed, de modo que un artifact siempre da el mismo reporte.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
)

// Config controla los grids de prueba y las tolerancias.
type Config struct {
	ReserveGrid []ReservePair
	Sizes       []float64

	RandomStates int    // estados splitmix64 de reservas/storage
	StateSalt    uint64 // se aplica con xor a la seed de cada estado

	ConvexityDelta float64 // incremento de tamaño del marginal, en unidades de input
	ConvexitySlack uint64  // subida marginal permitida, en unidades nano

	Budget uint64 // techo de cómputo por llamada

	ParitySamples  int
	ParitySeed     uint64
	ParityAbsTol   uint64
	ParityRelTol   float64
	ParityBlocking bool // un fallo de paridad rechaza el artifact
}

// DefaultConfig devuelve el set de pruebas base.
func DefaultConfig() Config {
	return Config{
		ReserveGrid: []ReservePair{
			{X: 100, Y: 10_000},
			{X: 1_000, Y: 100_000},
			{X: 10, Y: 1_000},
			{X: 50, Y: 20_000},
		},
		Sizes:          []float64{0.1, 0.5, 1, 2, 5, 10, 20, 50, 100, 200},
		RandomStates:   32,
		ConvexityDelta: 0.001,
		ConvexitySlack: 1,
		Budget:         100_000,
		ParitySamples:  256,
		ParitySeed:     0x5eed,
		ParityBlocking: true,
	}
}

// Harness corre los checks de validación contra un artifact a la vez.
type Harness struct {
	cfg Config
	log *slog.Logger
}

// New devuelve un harness. Los campos a cero toman el valor de DefaultConfig.
func New(cfg Config) *Harness {
	def := DefaultConfig()
	if len(cfg.ReserveGrid) == 0 {
		cfg.ReserveGrid = def.ReserveGrid
	}
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = def.Sizes
	}
	if cfg.ConvexityDelta <= 0 {
		cfg.ConvexityDelta = def.ConvexityDelta
	}
	if cfg.Budget == 0 {
		cfg.Budget = def.Budget
	}
	if cfg.ParitySamples <= 0 {
		cfg.ParitySamples = def.ParitySamples
	}
	return &Harness{cfg: cfg, log: slog.With("component", "validate")}
}

// Config devuelve la configuración efectiva.
func (h *Harness) Config() Config { return h.cfg }

// Validate corre todos los checks y devuelve el reporte. El error junta los fallos
// clasificados que rechazan el artifact; es nil si el artifact se puede simular.
// Con el contexto cancelado devuelve ctx.Err() y un reporte parcial.
func (h *Harness) Validate(ctx context.Context, a ports.Artifact) (domain.ValidationReport, error) {
	report := domain.ValidationReport{
		ID:             uuid.NewString(),
		Strategy:       a.Name(),
		ParityAdvisory: !h.cfg.ParityBlocking,
		CreatedAt:      time.Now(),
	}
	log := h.log.With("strategy", a.Name(), "report_id", report.ID)
	log.Info("validation starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		report.Monotonicity, err = h.monotonicity(gctx, a)
		return err
	})
	g.Go(func() (err error) {
		report.Convexity, err = h.convexity(gctx, a)
		return err
	})
	g.Go(func() (err error) {
		report.Budget, err = h.budget(gctx, a)
		return err
	})
	g.Go(func() (err error) {
		report.Parity, err = h.parity(gctx, a)
		return err
	})
	err := g.Wait()
	report.Duration = time.Since(report.CreatedAt)
	if err != nil {
		return report, err
	}

	verdict := h.verdict(report)
	log.Info("validation complete",
		"passed", verdict == nil,
		"monotonicity", status(report.Monotonicity),
		"convexity", status(report.Convexity),
		"budget", status(report.Budget.CheckResult),
		"peak_units", report.Budget.PeakUnits,
		"parity", status(report.Parity.CheckResult),
		"parity_worst_abs", report.Parity.WorstAbs,
		"skipped", report.Skipped(),
		"duration", report.Duration,
	)
	if !report.Parity.Skipped && !report.Parity.Passed && report.ParityAdvisory {
		log.Warn("parity mismatch is advisory", "err", report.Parity.Err)
	}
	return report, verdict
}

// verdict junta los errores de los checks fallidos que rechazan el artifact.
func (h *Harness) verdict(r domain.ValidationReport) error {
	var errs []error
	for _, c := range r.Checks() {
		if r.Blocking(c.Name) && !c.Skipped && !c.Passed {
			errs = append(errs, c.Err)
		}
	}
	return errors.Join(errs...)
}

func status(c domain.CheckResult) string {
	switch {
	case c.Skipped:
		return "skipped"
	case c.Passed:
		return "pass"
	default:
		return "fail"
	}
}

// probeBackend devuelve un backend nuevo para las pruebas: el interpretado si existe, si no el nativo.
func probeBackend(a ports.Artifact) (ports.Backend, error) {
	b, err := a.NewInterpreted()
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, domain.ErrFormUnavailable) {
		return nil, err
	}
	b, err = a.NewNative()
	if err != nil {
		return nil, fmt.Errorf("validate: %s: no usable backend: %w", a.Name(), err)
	}
	return b, nil
}

// failed registra err como fallo del check, con una violación si trae entradas.
func failed(c *domain.CheckResult, err error) {
	c.Passed = false
	c.Err = err
	var fe *domain.FaultError
	if errors.As(err, &fe) {
		c.Violation = &domain.Violation{Inputs: fe.Inputs, Detail: fe.Error()}
	}
}
