package evaluate

// service.go - caso de uso de evaluación: valida, simula, persiste y publica.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
	"github.com/alejandrodnm/propamm/internal/strategy"
)

// ErrRejected marca una estrategia que no pasó la validación. No se simula.
var ErrRejected = errors.New("submission rejected")

// Validator lo implementa *validate.Harness.
type Validator interface {
	Validate(ctx context.Context, a ports.Artifact) (domain.ValidationReport, error)
}

// Simulator lo implementa *sim.Engine.
type Simulator interface {
	RunBatch(ctx context.Context, sub, norm ports.Artifact, seeds domain.SeedSchedule) (domain.BatchReport, error)
}

// Config controla una evaluación.
type Config struct {
	Normalizer domain.ArtifactRef
	Seeds      domain.SeedSchedule
}

// DefaultConfig evalúa contra el normalizer incluido sobre 1000 seeds.
func DefaultConfig() Config {
	return Config{
		Normalizer: domain.ArtifactRef{Name: strategy.NameNormalizer},
		Seeds:      domain.DefaultSeeds(1000),
	}
}

// Result es el resultado de Evaluate. Batch es nil si la validación rechazó la estrategia.
type Result struct {
	Validation domain.ValidationReport
	Batch      *domain.BatchReport
}

// Service orquesta validación, simulación, persistencia y reporting.
type Service struct {
	cfg       Config
	artifacts ports.ArtifactProvider
	validator Validator
	simulator Simulator
	storage   ports.ResultStorage // opcional
	recorder  ports.Recorder      // opcional
	sinks     []ports.ReportSink
	log       *slog.Logger
}

// New crea un Service con sus dependencias inyectadas. storage y recorder pueden ser nil.
func New(
	cfg Config,
	artifacts ports.ArtifactProvider,
	validator Validator,
	simulator Simulator,
	storage ports.ResultStorage,
	recorder ports.Recorder,
	sinks ...ports.ReportSink,
) *Service {
	if cfg.Normalizer.Name == "" {
		cfg.Normalizer.Name = strategy.NameNormalizer
	}
	return &Service{
		cfg:       cfg,
		artifacts: artifacts,
		validator: validator,
		simulator: simulator,
		storage:   storage,
		recorder:  recorder,
		sinks:     sinks,
		log:       slog.With("component", "evaluate"),
	}
}

// Evaluate valida la estrategia y, si pasa, la simula contra el normalizer.
// El reporte de validación se publica en ambos casos.
func (s *Service) Evaluate(ctx context.Context, ref domain.ArtifactRef) (Result, error) {
	var res Result

	sub, err := s.artifacts.Load(ctx, ref)
	if err != nil {
		return res, fmt.Errorf("evaluate.Evaluate: load %q: %w", ref.Name, err)
	}
	norm, err := s.artifacts.Load(ctx, s.cfg.Normalizer)
	if err != nil {
		return res, fmt.Errorf("evaluate.Evaluate: load normalizer %q: %w", s.cfg.Normalizer.Name, err)
	}

	res.Validation, err = s.validate(ctx, sub)
	if err != nil {
		return res, err
	}

	batch, err := s.simulate(ctx, sub, norm)
	res.Batch = &batch
	return res, err
}

// Validate corre solo el harness de validación y publica su reporte.
func (s *Service) Validate(ctx context.Context, ref domain.ArtifactRef) (domain.ValidationReport, error) {
	sub, err := s.artifacts.Load(ctx, ref)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("evaluate.Validate: load %q: %w", ref.Name, err)
	}
	return s.validate(ctx, sub)
}

// Simulate corre un batch sin validar antes.
func (s *Service) Simulate(ctx context.Context, ref domain.ArtifactRef) (domain.BatchReport, error) {
	sub, err := s.artifacts.Load(ctx, ref)
	if err != nil {
		return domain.BatchReport{}, fmt.Errorf("evaluate.Simulate: load %q: %w", ref.Name, err)
	}
	norm, err := s.artifacts.Load(ctx, s.cfg.Normalizer)
	if err != nil {
		return domain.BatchReport{}, fmt.Errorf("evaluate.Simulate: load normalizer %q: %w", s.cfg.Normalizer.Name, err)
	}
	return s.simulate(ctx, sub, norm)
}

func (s *Service) validate(ctx context.Context, sub ports.Artifact) (domain.ValidationReport, error) {
	report, err := s.validator.Validate(ctx, sub)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return report, fmt.Errorf("evaluate: validate %s: %w", sub.Name(), ctxErr)
	}

	if s.recorder != nil {
		s.recorder.ObserveValidation(report)
	}
	if s.storage != nil {
		if serr := s.storage.SaveValidation(ctx, report); serr != nil {
			s.log.Warn("storage error", "err", serr, "report_id", report.ID)
		}
	}
	s.publish(ctx, func(ctx context.Context, sink ports.ReportSink) error {
		return sink.PublishValidation(ctx, report)
	})

	if err != nil {
		s.log.Info("submission rejected", "strategy", sub.Name(), "report_id", report.ID)
		return report, fmt.Errorf("evaluate: %s: %w: %w", sub.Name(), ErrRejected, err)
	}
	return report, nil
}

func (s *Service) simulate(ctx context.Context, sub, norm ports.Artifact) (domain.BatchReport, error) {
	batch, err := s.simulator.RunBatch(ctx, sub, norm, s.cfg.Seeds)
	if err != nil {
		// Cancelado: el batch parcial se devuelve pero no se guarda ni se publica.
		return batch, fmt.Errorf("evaluate: simulate %s: %w", sub.Name(), err)
	}

	if s.storage != nil {
		if serr := s.storage.SaveBatch(ctx, batch); serr != nil {
			s.log.Warn("storage error", "err", serr, "batch_id", batch.ID)
		}
	}
	s.publish(ctx, func(ctx context.Context, sink ports.ReportSink) error {
		return sink.PublishBatch(ctx, batch)
	})
	return batch, nil
}

// publish reparte a todos los sinks. Sus errores se loguean, nunca se devuelven.
func (s *Service) publish(ctx context.Context, fn func(context.Context, ports.ReportSink) error) {
	var g errgroup.Group
	for _, sink := range s.sinks {
		g.Go(func() error {
			if err := fn(ctx, sink); err != nil {
				s.log.Warn("notifier error", "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
