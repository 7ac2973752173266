package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/propamm/internal/adapters/artifact"
	"github.com/alejandrodnm/propamm/internal/adapters/native"
	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
	"github.com/alejandrodnm/propamm/internal/strategy"
)

func builtin(t *testing.T, name string) ports.Artifact {
	t.Helper()
	reg, err := artifact.Builtins(0)
	require.NoError(t, err)
	a, err := reg.Load(context.Background(), domain.ArtifactRef{Name: name})
	require.NoError(t, err)
	return a
}

func shortConfig(steps int) Config {
	cfg := DefaultConfig()
	cfg.Steps = steps
	return cfg
}

type countingRecorder struct {
	mu   sync.Mutex
	sims int
}

func (r *countingRecorder) ObserveSimulation(string, domain.SimResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sims++
}

func (r *countingRecorder) ObserveValidation(domain.ValidationReport) {}

// --- RunSimulation ---

func TestRunSimulation_Deterministic(t *testing.T) {
	cfg := shortConfig(300)
	cfg.Trace = true
	e := New(cfg, nil)
	sub, norm := builtin(t, strategy.NameCP30), builtin(t, strategy.NameNormalizer)

	a := e.RunSimulation(sub, norm, 7)
	b := e.RunSimulation(sub, norm, 7)
	require.NoError(t, a.Err)
	assert.Equal(t, a, b, "same seed, same trajectory")
	assert.Len(t, a.Trace.Prices, 300)
	assert.Equal(t, 300, a.Steps)

	c := e.RunSimulation(sub, norm, 8)
	assert.NotEqual(t, a.Trace.Prices, c.Trace.Prices)
}

func TestRunSimulation_EdgeIsSumOfSubmissionTrades(t *testing.T) {
	cfg := shortConfig(500)
	cfg.Trace = true
	e := New(cfg, nil)

	res := e.RunSimulation(builtin(t, strategy.NameCP30), builtin(t, strategy.NameNormalizer), 3)
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.Trace.Trades)

	sum, subTrades, retail, arbs := 0.0, 0, 0, 0
	for _, tr := range res.Trace.Trades {
		if tr.Kind == domain.KindRetail {
			retail++
		} else {
			arbs++
		}
		if tr.Venue != domain.VenueSubmission {
			continue
		}
		sum += tr.Edge
		subTrades++
		if tr.Kind == domain.KindArbitrage {
			assert.Less(t, tr.Edge, 0.0, "arbitrage always costs the AMM")
		}
	}
	assert.Equal(t, sum, res.Edge, "edge is the exact sum in execution order")
	assert.Equal(t, subTrades, res.SubmissionTrades)
	assert.Equal(t, retail, res.RetailTrades)
	assert.Equal(t, arbs, res.ArbTrades)
}

func TestRunSimulation_FormsAgree(t *testing.T) {
	sub, norm := builtin(t, strategy.NameCP30), builtin(t, strategy.NameNormalizer)

	nativeCfg := shortConfig(200)
	interpCfg := shortConfig(200)
	interpCfg.Form = domain.FormInterpreted
	interpCfg.NormalizerForm = domain.FormInterpreted

	a := New(nativeCfg, nil).RunSimulation(sub, norm, 11)
	b := New(interpCfg, nil).RunSimulation(sub, norm, 11)
	require.NoError(t, a.Err)
	require.NoError(t, b.Err)

	assert.Equal(t, a.Edge, b.Edge)
	assert.Equal(t, a.RetailTrades, b.RetailTrades)
	assert.Equal(t, a.ArbTrades, b.ArbTrades)
	assert.Zero(t, a.PeakUnits)
	assert.Positive(t, b.PeakUnits)
	assert.Less(t, b.PeakUnits, uint64(100_000))
}

func TestRunSimulation_StorageFreshPerSimulation(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64
	cp := strategy.FixedFeeSwap(30)
	s := strategy.Strategy{
		Name: "marker",
		Swap: func(data []byte) uint64 {
			mu.Lock()
			seen = append(seen, binary.LittleEndian.Uint64(data[domain.PriceStorageOffset:]))
			mu.Unlock()
			return cp(data)
		},
		AfterSwap: strategy.StepCounterAfterSwap,
	}
	sub := artifact.New("marker", &s, nil, 0)
	norm := builtin(t, strategy.NameNormalizer)
	e := New(shortConfig(200), nil)

	first := e.RunSimulation(sub, norm, 1)
	require.NoError(t, first.Err)
	require.Positive(t, first.SubmissionTrades)
	split := len(seen)

	second := e.RunSimulation(sub, norm, 2)
	require.NoError(t, second.Err)

	assert.Zero(t, seen[0])
	assert.Positive(t, seen[split-1], "marker persists across steps")
	assert.LessOrEqual(t, seen[split-1], uint64(first.SubmissionTrades))
	assert.Zero(t, seen[split], "next simulation starts from zeroed storage")
}

func TestRunSimulation_MissingForm(t *testing.T) {
	cfg := shortConfig(10)
	cfg.Form = domain.FormInterpreted
	res := New(cfg, nil).RunSimulation(builtin(t, strategy.NameLinear), builtin(t, strategy.NameNormalizer), 0)
	assert.ErrorIs(t, res.Err, domain.ErrFormUnavailable)
}

// --- RunBatch ---

func TestRunBatch_BudgetOverrunExcluded(t *testing.T) {
	cfg := shortConfig(50)
	cfg.Form = domain.FormInterpreted
	rec := &countingRecorder{}

	report, err := New(cfg, rec).RunBatch(context.Background(),
		builtin(t, artifact.NameBurner), builtin(t, strategy.NameNormalizer), domain.DefaultSeeds(4))
	require.NoError(t, err)

	assert.Equal(t, 4, report.Simulations)
	assert.Equal(t, 4, report.Failed)
	assert.Zero(t, report.SuccessRate)
	assert.Zero(t, report.AvgEdge)
	assert.Equal(t, 4, rec.sims)
	for _, r := range report.Results {
		assert.ErrorIs(t, r.Err, domain.ErrExecutionFault)
		assert.ErrorIs(t, r.Err, domain.ErrBudgetExceeded)
	}
}

func TestRunBatch_FaultFailsOnlyItsSimulation(t *testing.T) {
	var instances atomic.Int32
	cp := strategy.FixedFeeSwap(30)
	sub := &fakeArtifact{name: "flaky", newNative: func() (ports.Backend, error) {
		bad := instances.Add(1) == 3
		return native.New(strategy.Strategy{Name: "flaky", Swap: func(data []byte) uint64 {
			if bad {
				panic("boom")
			}
			return cp(data)
		}})
	}}

	cfg := shortConfig(100)
	cfg.Workers = 1
	seeds := domain.SeedSchedule{Start: 10, Stride: 5, Count: 5}
	report, err := New(cfg, nil).RunBatch(context.Background(), sub, builtin(t, strategy.NameNormalizer), seeds)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Simulations)
	assert.Equal(t, 4, report.Succeeded)
	assert.InDelta(t, 0.8, report.SuccessRate, 1e-12)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, uint64(20), failures[0].Seed)
	assert.ErrorIs(t, failures[0].Err, domain.ErrTrap)

	sum := 0.0
	for _, r := range report.Results {
		if r.OK() {
			sum += r.Edge
		}
	}
	assert.InDelta(t, sum/4, report.AvgEdge, 1e-9)
}

func TestRunBatch_WorkerCountDoesNotChangeResults(t *testing.T) {
	sub, norm := builtin(t, strategy.NameCP30), builtin(t, strategy.NameNormalizer)
	seeds := domain.SeedSchedule{Start: 100, Stride: 3, Count: 6}

	one := shortConfig(150)
	one.Workers = 1
	many := shortConfig(150)
	many.Workers = 4

	a, err := New(one, nil).RunBatch(context.Background(), sub, norm, seeds)
	require.NoError(t, err)
	b, err := New(many, nil).RunBatch(context.Background(), sub, norm, seeds)
	require.NoError(t, err)

	assert.Equal(t, a.Results, b.Results)
	assert.Equal(t, a.AvgEdge, b.AvgEdge)
	assert.NotEqual(t, a.ID, b.ID)
	for i, r := range a.Results {
		assert.Equal(t, seeds.Seeds()[i], r.Seed, "results are sorted by seed")
	}
}

func TestRunBatch_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(shortConfig(50), nil).RunBatch(ctx,
		builtin(t, strategy.NameCP30), builtin(t, strategy.NameNormalizer), domain.DefaultSeeds(50))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, report.Simulations, 50)
}

func TestNew_Defaults(t *testing.T) {
	e := New(Config{}, nil)
	cfg := e.Config()
	assert.Equal(t, DefaultWorkers(), cfg.Workers)
	assert.LessOrEqual(t, cfg.Workers, 8)
	assert.Equal(t, domain.FormNative, cfg.Form)
	assert.Equal(t, 1.0, cfg.NormLiquidityMult)
}

// Regression baseline over the full schedule. Slow, so opt-in.
func TestRunBatch_Baseline(t *testing.T) {
	if os.Getenv("PROPAMM_BASELINE") == "" {
		t.Skip("set PROPAMM_BASELINE=1 to run the 1000-seed baseline")
	}
	report, err := New(DefaultConfig(), nil).RunBatch(context.Background(),
		builtin(t, strategy.NameCP30), builtin(t, strategy.NameNormalizer), domain.DefaultSeeds(1000))
	require.NoError(t, err)
	require.Equal(t, 1000, report.Succeeded)
	t.Logf("cp30 average edge over seeds 0..999: %.4f", report.AvgEdge)
	assert.InDelta(t, 300, report.AvgEdge, 50)
}
