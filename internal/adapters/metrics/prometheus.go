package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// Recorder implementa ports.Recorder sobre un registry privado de Prometheus.
type Recorder struct {
	registry    *prometheus.Registry
	simulations *prometheus.CounterVec
	edge        *prometheus.HistogramVec
	units       *prometheus.HistogramVec
	validations *prometheus.CounterVec
	checks      *prometheus.GaugeVec
}

// NewRecorder crea un recorder con todos los collectors registrados.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		simulations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propamm",
			Name:      "simulations_total",
			Help:      "Completed simulations by outcome.",
		}, []string{"strategy", "outcome"}),
		edge: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "propamm",
			Name:      "simulation_edge",
			Help:      "Edge of successful simulations.",
			Buckets:   []float64{-1000, -100, -10, 0, 10, 50, 100, 250, 500, 1000},
		}, []string{"strategy"}),
		units: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "propamm",
			Name:      "simulation_peak_compute_units",
			Help:      "Largest per-call compute units seen in a simulation.",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 11),
		}, []string{"strategy"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "propamm",
			Name:      "validations_total",
			Help:      "Validation runs by verdict.",
		}, []string{"strategy", "verdict"}),
		checks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "propamm",
			Name:      "validation_check_passed",
			Help:      "Latest check outcome: 1 passed, 0 failed, -1 skipped.",
		}, []string{"strategy", "check"}),
	}
	r.registry.MustRegister(r.simulations, r.edge, r.units, r.validations, r.checks)
	return r
}

// Registry expone el registry para scraping o tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) ObserveSimulation(strategy string, res domain.SimResult) {
	if !res.OK() {
		r.simulations.WithLabelValues(strategy, "failed").Inc()
		return
	}
	r.simulations.WithLabelValues(strategy, "ok").Inc()
	r.edge.WithLabelValues(strategy).Observe(res.Edge)
	if res.PeakUnits > 0 {
		r.units.WithLabelValues(strategy).Observe(float64(res.PeakUnits))
	}
}

func (r *Recorder) ObserveValidation(v domain.ValidationReport) {
	verdict := "passed"
	if !v.Passed() {
		verdict = "failed"
	}
	r.validations.WithLabelValues(v.Strategy, verdict).Inc()

	for _, c := range v.Checks() {
		val := 0.0
		switch {
		case c.Skipped:
			val = -1
		case c.Passed:
			val = 1
		}
		r.checks.WithLabelValues(v.Strategy, c.Name).Set(val)
	}
}

// WriteTextfile vuelca todas las métricas en formato texto, para el textfile collector
// de node_exporter.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics.WriteTextfile: %w", err)
	}
	return nil
}
