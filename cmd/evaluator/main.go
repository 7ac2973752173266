package main

// main.go - punto de entrada del evaluador: flags, config, logger y wiring de los
// adapters. Valida la estrategia, corre el batch y persiste los resultados.

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/propamm/config"
	"github.com/alejandrodnm/propamm/internal/adapters/artifact"
	"github.com/alejandrodnm/propamm/internal/adapters/metrics"
	"github.com/alejandrodnm/propamm/internal/adapters/notify"
	"github.com/alejandrodnm/propamm/internal/adapters/storage"
	"github.com/alejandrodnm/propamm/internal/application/evaluate"
	"github.com/alejandrodnm/propamm/internal/application/sim"
	"github.com/alejandrodnm/propamm/internal/application/validate"
	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run ejecuta el evaluador y devuelve el exit code: 0 ok, 1 error, 2 estrategia
// rechazada. Los defers corren antes de que main llame a os.Exit.
func run(args []string) int {
	fs := flag.NewFlagSet("evaluator", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.yaml", "path to config file")
	name := fs.String("strategy", "", "strategy name (overrides config)")
	plugin := fs.String("native-plugin", "", "Go plugin with the native form")
	program := fs.String("bpf", "", "sBPF ELF object with the interpreted form")
	form := fs.String("form", "", "submission backend form: native|interpreted (overrides config)")
	sims := fs.Int("sims", 0, "number of simulations (overrides config)")
	steps := fs.Int("steps", 0, "steps per simulation (overrides config)")
	validateOnly := fs.Bool("validate-only", false, "run the validation harness and exit")
	skipValidation := fs.Bool("skip-validation", false, "simulate without validating first")
	history := fs.Bool("history", false, "list stored batches for the strategy and exit")
	list := fs.Bool("list", false, "list built-in strategies and exit")
	noStore := fs.Bool("no-store", false, "do not persist results")
	verbose := fs.Bool("verbose", false, "set log level to debug")
	logFormat := fs.String("format", "", "log format: text|json (overrides config)")
	table := fs.Bool("table", false, "print every simulation, not only failures")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		return 1
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *name != "" {
		cfg.Strategy.Name = *name
	}
	if *plugin != "" {
		cfg.Strategy.NativePlugin = *plugin
	}
	if *program != "" {
		cfg.Strategy.BPFProgram = *program
	}
	if *form != "" {
		cfg.Simulation.Form = *form
	}
	if *sims > 0 {
		cfg.Simulation.Simulations = *sims
	}
	if *steps > 0 {
		cfg.Simulation.Steps = *steps
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid flags", "err", err)
		return 1
	}
	setupLogger(cfg.Log)

	registry, err := artifact.Builtins(cfg.Validation.BudgetCU)
	if err != nil {
		slog.Error("failed to load built-in strategies", "err", err)
		return 1
	}
	if *list {
		for _, n := range registry.Names() {
			fmt.Println(n)
		}
		return 0
	}

	slog.Info("propamm starting",
		"config", *configPath,
		"strategy", cfg.Strategy.Name,
		"form", cfg.Simulation.Form,
		"simulations", cfg.Simulation.Simulations,
		"steps", cfg.Simulation.Steps,
		"validate_only", *validateOnly,
		"skip_validation", *skipValidation,
	)

	var store ports.ResultStorage
	if !*noStore {
		s, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
		if err != nil {
			slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
			return 1
		}
		defer s.Close()
		store = s
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *history {
		if store == nil {
			slog.Error("history needs storage; drop -no-store")
			return 1
		}
		if err := printHistory(ctx, store, cfg.Strategy.Name); err != nil {
			slog.Error("history failed", "err", err)
			return 1
		}
		return 0
	}

	recorder := metrics.NewRecorder()
	svc := evaluate.New(
		evaluate.Config{
			Normalizer: domain.ArtifactRef{Name: cfg.Strategy.Normalizer},
			Seeds: domain.SeedSchedule{
				Start:  cfg.Simulation.SeedStart,
				Stride: cfg.Simulation.SeedStride,
				Count:  cfg.Simulation.Simulations,
			},
		},
		registry,
		validate.New(harnessConfig(cfg)),
		sim.New(engineConfig(cfg), recorder),
		store,
		recorder,
		notify.NewConsole(*table),
	)

	ref := domain.ArtifactRef{
		Name:         cfg.Strategy.Name,
		NativePlugin: cfg.Strategy.NativePlugin,
		BPFProgram:   cfg.Strategy.BPFProgram,
	}
	switch {
	case *validateOnly:
		_, err = svc.Validate(ctx, ref)
	case *skipValidation:
		_, err = svc.Simulate(ctx, ref)
	default:
		_, err = svc.Evaluate(ctx, ref)
	}

	if cfg.Metrics.Textfile != "" {
		if werr := recorder.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			slog.Warn("metrics error", "err", werr, "path", cfg.Metrics.Textfile)
		}
	}

	if err != nil {
		if errors.Is(err, evaluate.ErrRejected) {
			slog.Error("strategy rejected", "strategy", ref.Name, "err", err)
			return 2
		}
		slog.Error("evaluation failed", "err", err)
		return 1
	}
	slog.Info("propamm stopped cleanly")
	return 0
}

func engineConfig(cfg *config.Config) sim.Config {
	s, o := cfg.Simulation, cfg.Optimizer
	ec := sim.DefaultConfig()
	ec.Steps = s.Steps
	ec.InitialPrice = s.InitialPrice
	ec.InitialX = s.InitialX
	ec.InitialY = s.InitialY
	ec.Mu = s.Mu
	ec.DT = s.DT
	ec.SizeSigma = s.SizeSigma
	ec.BuyProb = *s.BuyProb
	ec.NormFeeBps = s.NormFeeBps
	ec.NormLiquidityMult = s.NormLiquidityMult
	ec.Hyper = domain.HyperRanges{
		Sigma:       domain.Range{Min: s.Sigma.Min, Max: s.Sigma.Max},
		ArrivalRate: domain.Range{Min: s.ArrivalRate.Min, Max: s.ArrivalRate.Max},
		MeanSize:    domain.Range{Min: s.MeanSize.Min, Max: s.MeanSize.Max},
	}
	ec.Arb = sim.ArbConfig{
		Band:       *o.ArbBand,
		Iterations: o.ArbIterations,
		Tolerance:  o.ArbTolerance,
		ProfitTol:  o.ArbProfitTol,
		MinProfit:  *o.ArbMinProfit,
		MinSize:    o.ArbMinSize,
	}
	ec.Router = sim.RouterConfig{
		GridPoints: o.RouterGridPoints,
		MinTrade:   o.RouterMinTrade,
		ShapeGuard: !o.DisableShapeGuard,
	}
	ec.Workers = s.Workers
	ec.Trace = s.Trace
	ec.Form = domain.BackendForm(s.Form)
	ec.NormalizerForm = domain.BackendForm(s.NormalizerForm)
	return ec
}

func harnessConfig(cfg *config.Config) validate.Config {
	v := cfg.Validation
	hc := validate.Config{
		Sizes:          v.Sizes,
		RandomStates:   v.RandomStates,
		ConvexityDelta: v.ConvexityDelta,
		ConvexitySlack: *v.ConvexitySlack,
		Budget:         v.BudgetCU,
		ParitySamples:  v.ParitySamples,
		ParitySeed:     v.ParitySeed,
		ParityAbsTol:   v.ParityAbsTol,
		ParityRelTol:   v.ParityRelTol,
		ParityBlocking: !v.ParityAdvisory,
	}
	for _, p := range v.ReserveGrid {
		hc.ReserveGrid = append(hc.ReserveGrid, validate.ReservePair{X: p.X, Y: p.Y})
	}
	return hc
}

func printHistory(ctx context.Context, store ports.ResultStorage, strategy string) error {
	batches, err := store.ListBatches(ctx, strategy, 20)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		slog.Info("no stored batches", "strategy", strategy)
		return nil
	}
	sink := notify.NewConsole(false)
	for _, b := range batches {
		if err := sink.PublishBatch(ctx, b); err != nil {
			return err
		}
	}
	if v, err := store.LatestValidation(ctx, strategy); err == nil {
		return sink.PublishValidation(ctx, v)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
