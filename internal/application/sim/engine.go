package sim

// engine.go - motor de Monte-Carlo: precio justo GBM, flujo retail ruteado entre los dos
// AMMs y arbitraje en cada paso. El edge de la estrategia se acumula por simulación.

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
)

// Config controla un batch de simulaciones.
type Config struct {
	Steps        int
	InitialPrice float64
	InitialX     float64
	InitialY     float64
	Mu           float64 // drift del GBM
	DT           float64
	SizeSigma    float64 // sigma log-normal del tamaño de las órdenes retail
	BuyProb      float64

	NormFeeBps        uint16  // se escribe en storage[0..2] del normalizer
	NormLiquidityMult float64 // escala las reservas iniciales del normalizer

	Hyper  domain.HyperRanges
	Arb    ArbConfig
	Router RouterConfig

	Workers        int  // simulaciones concurrentes (0 = min(8, NumCPU))
	Trace          bool // guarda el camino de precios y cada trade en el resultado
	Form           domain.BackendForm
	NormalizerForm domain.BackendForm
}

// DefaultConfig devuelve el mercado base.
func DefaultConfig() Config {
	return Config{
		Steps:             10_000,
		InitialPrice:      100,
		InitialX:          100,
		InitialY:          10_000,
		Mu:                0,
		DT:                1,
		SizeSigma:         1.2,
		BuyProb:           0.5,
		NormFeeBps:        30,
		NormLiquidityMult: 1,
		Hyper:             domain.DefaultHyperRanges(),
		Arb:               DefaultArbConfig(),
		Router:            DefaultRouterConfig(),
		Form:              domain.FormNative,
		NormalizerForm:    domain.FormNative,
	}
}

// DefaultWorkers es min(8, NumCPU).
func DefaultWorkers() int {
	return min(8, runtime.NumCPU())
}

// Engine corre simulaciones de una estrategia contra el normalizer.
type Engine struct {
	cfg      Config
	recorder ports.Recorder
	log      *slog.Logger
}

// New devuelve un engine. recorder puede ser nil.
func New(cfg Config, recorder ports.Recorder) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers()
	}
	if cfg.Form == "" {
		cfg.Form = domain.FormNative
	}
	if cfg.NormalizerForm == "" {
		cfg.NormalizerForm = domain.FormNative
	}
	if cfg.NormLiquidityMult <= 0 {
		cfg.NormLiquidityMult = 1
	}
	return &Engine{
		cfg:      cfg,
		recorder: recorder,
		log:      slog.With("component", "sim"),
	}
}

// Config devuelve la configuración efectiva.
func (e *Engine) Config() Config { return e.cfg }

// RunBatch corre una simulación por seed y las resume. Las fallidas se reportan pero
// no entran en la media. Si se cancela devuelve lo que terminó junto con ctx.Err().
func (e *Engine) RunBatch(ctx context.Context, sub, norm ports.Artifact, seeds domain.SeedSchedule) (domain.BatchReport, error) {
	report := domain.BatchReport{
		ID:        uuid.NewString(),
		Strategy:  sub.Name(),
		Form:      e.cfg.Form,
		StartedAt: time.Now(),
	}

	e.log.Info("batch starting",
		"batch_id", report.ID,
		"strategy", sub.Name(),
		"form", e.cfg.Form,
		"simulations", seeds.Count,
		"steps", e.cfg.Steps,
		"workers", e.cfg.Workers,
	)

	report.Results = e.runConcurrent(ctx, seeds.Seeds(), func(seed uint64) domain.SimResult {
		res := e.RunSimulation(sub, norm, seed)
		if e.recorder != nil {
			e.recorder.ObserveSimulation(sub.Name(), res)
		}
		return res
	})
	report.Summarize()
	report.Duration = time.Since(report.StartedAt)

	e.log.Info("batch complete",
		"batch_id", report.ID,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"avg_edge", report.AvgEdge,
		"duration", report.Duration,
	)
	return report, ctx.Err()
}

// RunSimulation corre una seed hasta el final. Cualquier fallo de la estrategia termina
// la simulación y queda en el Err del resultado.
func (e *Engine) RunSimulation(sub, norm ports.Artifact, seed uint64) (res domain.SimResult) {
	params := DrawParams(seed, e.cfg.Hyper)
	res = domain.SimResult{Seed: seed, Params: params}
	defer func() {
		if r := recover(); r != nil {
			res.Err = domain.NewExecutionFault("simulate", domain.CallInputs{Step: uint64(res.Steps)},
				domain.ErrTrap, fmt.Sprintf("panic: %v", r))
		}
	}()

	subAMM, normAMM, err := e.venues(sub, norm)
	if err != nil {
		res.Err = err
		return res
	}

	var trace *domain.Trace
	if e.cfg.Trace {
		trace = &domain.Trace{Prices: make([]float64, 0, e.cfg.Steps)}
		res.Trace = trace
	}

	price := NewGBM(newStream(seed, streamPrice), e.cfg.InitialPrice, e.cfg.Mu, params.Sigma, e.cfg.DT)
	retail := NewRetailTrader(newStream(seed, streamRetail), params.ArrivalRate, params.MeanSize, e.cfg.SizeSigma, e.cfg.BuyProb)
	arb := NewArbitrageur(e.cfg.Arb)
	router := NewRouter(e.cfg.Router)

	var edge domain.EdgeAccumulator
	record := func(t domain.TradeRecord) {
		edge.Add(t)
		switch t.Kind {
		case domain.KindRetail:
			res.RetailTrades++
		case domain.KindArbitrage:
			res.ArbTrades++
		}
		if trace != nil {
			trace.Trades = append(trace.Trades, t)
		}
	}

	var orders []RetailOrder
	for step := 0; step < e.cfg.Steps; step++ {
		subAMM.SetStep(uint64(step))
		normAMM.SetStep(uint64(step))

		fair := price.Step()
		if trace != nil {
			trace.Prices = append(trace.Prices, fair)
		}

		for _, amm := range []*AMM{subAMM, normAMM} {
			t, err := arb.Execute(amm, fair, step)
			if err != nil {
				return e.fail(res, edge, subAMM, err)
			}
			if t != nil {
				record(*t)
			}
		}

		orders = retail.Orders(orders[:0])
		for _, o := range orders {
			trades, err := router.Route(o, subAMM, normAMM, fair, step)
			for _, t := range trades {
				record(t)
			}
			if err != nil {
				return e.fail(res, edge, subAMM, err)
			}
		}
		res.Steps = step + 1
	}

	res.Edge = edge.Total()
	res.SubmissionTrades = edge.Trades()
	res.PeakUnits = subAMM.PeakUnits()
	return res
}

func (e *Engine) fail(res domain.SimResult, edge domain.EdgeAccumulator, sub *AMM, err error) domain.SimResult {
	res.Edge = edge.Total()
	res.SubmissionTrades = edge.Trades()
	res.PeakUnits = sub.PeakUnits()
	res.Err = err
	e.log.Debug("simulation failed", "seed", res.Seed, "step", res.Steps, "err", err)
	return res
}

// venues construye backends y reservas nuevos para una simulación.
func (e *Engine) venues(sub, norm ports.Artifact) (*AMM, *AMM, error) {
	subBackend, err := ports.NewBackend(sub, e.cfg.Form)
	if err != nil {
		return nil, nil, fmt.Errorf("sim: %s %s backend: %w", sub.Name(), e.cfg.Form, err)
	}
	normBackend, err := ports.NewBackend(norm, e.cfg.NormalizerForm)
	if err != nil {
		return nil, nil, fmt.Errorf("sim: %s %s backend: %w", norm.Name(), e.cfg.NormalizerForm, err)
	}

	subAMM := NewAMM(domain.VenueSubmission, subBackend, e.cfg.InitialX, e.cfg.InitialY)
	m := e.cfg.NormLiquidityMult
	normAMM := NewAMM(domain.VenueNormalizer, normBackend, e.cfg.InitialX*m, e.cfg.InitialY*m)

	var fee [2]byte
	binary.LittleEndian.PutUint16(fee[:], e.cfg.NormFeeBps)
	normAMM.SetInitialStorage(fee[:])
	return subAMM, normAMM, nil
}
