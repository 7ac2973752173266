package metrics_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/propamm/internal/adapters/metrics"
	"github.com/alejandrodnm/propamm/internal/domain"
)

func TestRecorder_ObserveSimulation(t *testing.T) {
	r := metrics.NewRecorder()

	r.ObserveSimulation("cp30", domain.SimResult{Seed: 1, Edge: 42, PeakUnits: 800})
	r.ObserveSimulation("cp30", domain.SimResult{Seed: 2, Edge: -5})
	r.ObserveSimulation("cp30", domain.SimResult{Seed: 3, Err: errors.New("boom")})

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, mf := range mfs {
		switch mf.GetName() {
		case "propamm_simulations_total":
			for _, m := range mf.GetMetric() {
				for _, l := range m.GetLabel() {
					if l.GetName() == "outcome" {
						counts[l.GetValue()] = m.GetCounter().GetValue()
					}
				}
			}
		case "propamm_simulation_edge":
			h := mf.GetMetric()[0].GetHistogram()
			assert.Equal(t, uint64(2), h.GetSampleCount())
			assert.InDelta(t, 37, h.GetSampleSum(), 1e-9)
		case "propamm_simulation_peak_compute_units":
			assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
	assert.Equal(t, map[string]float64{"ok": 2, "failed": 1}, counts)
}

func TestRecorder_ObserveValidation(t *testing.T) {
	r := metrics.NewRecorder()

	r.ObserveValidation(domain.ValidationReport{
		Strategy:     "cp30",
		Monotonicity: domain.CheckResult{Passed: true},
		Convexity:    domain.CheckResult{},
		Budget:       domain.BudgetResult{CheckResult: domain.CheckResult{Skipped: true}},
		Parity:       domain.ParityResult{CheckResult: domain.CheckResult{Passed: true}},
	})

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() == "propamm_validations_total" {
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
			continue
		}
		if mf.GetName() != "propamm_validation_check_passed" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "check" {
					got[l.GetValue()] = m.GetGauge().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"monotonicity": 1, "convexity": 0, "budget": -1, "parity": 1}, got)
}

func TestRecorder_ObserveValidation_AdvisoryParityPasses(t *testing.T) {
	r := metrics.NewRecorder()

	r.ObserveValidation(domain.ValidationReport{
		Strategy:       "cp30",
		ParityAdvisory: true,
		Monotonicity:   domain.CheckResult{Passed: true},
		Convexity:      domain.CheckResult{Passed: true},
		Budget:         domain.BudgetResult{CheckResult: domain.CheckResult{Passed: true}},
		Parity:         domain.ParityResult{CheckResult: domain.CheckResult{Err: domain.ErrParityViolation}},
	})

	mfs, err := r.Registry().Gather()
	require.NoError(t, err)
	verdicts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "propamm_validations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "verdict" {
					verdicts[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"passed": 1}, verdicts)
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := metrics.NewRecorder()
	r.ObserveSimulation("cp30", domain.SimResult{Edge: 1})

	path := filepath.Join(t.TempDir(), "propamm.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `propamm_simulations_total{outcome="ok",strategy="cp30"} 1`)
}
