package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- nano ---

func TestToNano_KnownValues(t *testing.T) {
	assert.Equal(t, uint64(NanoScale), ToNano(1.0))
	assert.Equal(t, uint64(100*NanoScale), ToNano(100.0))
	assert.Equal(t, 1.0, FromNano(NanoScale))
}

func TestToNano_Truncates(t *testing.T) {
	assert.Equal(t, uint64(1), ToNano(1.9e-9))
	assert.Equal(t, uint64(0), ToNano(0.9e-9))
}

func TestToNano_Saturates(t *testing.T) {
	assert.Equal(t, uint64(0), ToNano(-5))
	assert.Equal(t, uint64(0), ToNano(math.NaN()))
	assert.Equal(t, uint64(math.MaxUint64), ToNano(math.Inf(1)))
	assert.Equal(t, uint64(math.MaxUint64), ToNano(1e20))
}

func TestNano_RoundTrip(t *testing.T) {
	v := 123.456789
	assert.InDelta(t, v, FromNano(ToNano(v)), 1e-9)
}

// --- call layout ---

func TestEncodePrice_Layout(t *testing.T) {
	var st Storage
	st[0], st[StorageSize-1] = 0xAB, 0xCD
	buf := make([]byte, PriceCallSize)

	err := EncodePrice(buf, PriceCall{Side: SideSell, Amount: 7, ReserveX: 8, ReserveY: 9}, &st)
	require.NoError(t, err)

	assert.Equal(t, byte(1), buf[0])
	assert.Equal(t, byte(7), buf[1])
	assert.Equal(t, byte(8), buf[9])
	assert.Equal(t, byte(9), buf[17])
	assert.Equal(t, byte(0xAB), buf[25])
	assert.Equal(t, byte(0xCD), buf[1048])
	assert.Len(t, buf, 1049)
}

func TestPrice_DecodeRoundTrip(t *testing.T) {
	var st Storage
	st[3] = 42
	in := PriceCall{Side: SideBuy, Amount: 123_456_789_000, ReserveX: 100 * NanoScale, ReserveY: 10_000 * NanoScale}
	buf := make([]byte, PriceCallSize)
	require.NoError(t, EncodePrice(buf, in, &st))

	out, view, err := DecodePrice(buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, byte(42), view[3])
	assert.Len(t, view, StorageSize)
}

func TestEncodeNotify_Layout(t *testing.T) {
	var st Storage
	st[0] = 0x11
	buf := make([]byte, NotifyCallSize)
	c := NotifyCall{Side: SideBuy, Input: 1, Output: 2, ReserveX: 3, ReserveY: 4, Step: 5}

	require.NoError(t, EncodeNotify(buf, c, &st))
	assert.Equal(t, byte(NotifyTag), buf[0])
	assert.Equal(t, byte(0), buf[1])
	assert.Equal(t, byte(1), buf[2])
	assert.Equal(t, byte(2), buf[10])
	assert.Equal(t, byte(3), buf[18])
	assert.Equal(t, byte(4), buf[26])
	assert.Equal(t, byte(5), buf[34])
	assert.Equal(t, byte(0x11), buf[42])
	assert.Len(t, buf, 1066)

	got, _, err := DecodeNotify(buf)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestDecode_Malformed(t *testing.T) {
	_, _, err := DecodePrice(make([]byte, 25))
	assert.ErrorIs(t, err, ErrMalformedInput)

	bad := make([]byte, PriceCallSize)
	bad[0] = 7
	_, _, err = DecodePrice(bad)
	assert.ErrorIs(t, err, ErrMalformedInput)

	notTagged := make([]byte, NotifyCallSize)
	_, _, err = DecodeNotify(notTagged)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestEncodePrice_RejectsUnknownSide(t *testing.T) {
	var st Storage
	err := EncodePrice(make([]byte, PriceCallSize), PriceCall{Side: 2}, &st)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

// --- errors ---

func TestFaultError_UnwrapsKindAndCause(t *testing.T) {
	in := CallInputs{Side: SideSell, Amount: 10, ReserveX: 1, ReserveY: 2}
	err := NewExecutionFault("price", in, ErrBudgetExceeded, "used 100001 units")

	assert.ErrorIs(t, err, ErrExecutionFault)
	assert.ErrorIs(t, err, ErrBudgetExceeded)
	assert.NotErrorIs(t, err, ErrPropertyViolation)
	assert.Equal(t, ErrExecutionFault, KindOf(err))

	var fe *FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, uint64(10), fe.Inputs.Amount)
	assert.Contains(t, err.Error(), "amount=10")
	assert.Contains(t, err.Error(), "compute budget exceeded")
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("boom")))
	assert.Nil(t, KindOf(nil))
}

// --- edge ---

func TestTradeEdge_Sign(t *testing.T) {
	// AMM sells 1 X for 99 Y at fair 100: sold below value.
	assert.InDelta(t, -1.0, TradeEdge(SideBuy, 99, 1, 100), 1e-12)
	// AMM sells 1 X for 101 Y: sold above value.
	assert.InDelta(t, 1.0, TradeEdge(SideBuy, 101, 1, 100), 1e-12)
	// AMM buys 1 X paying 101 Y: overpaid.
	assert.InDelta(t, -1.0, TradeEdge(SideSell, 1, 101, 100), 1e-12)
	assert.InDelta(t, 1.0, TradeEdge(SideSell, 1, 99, 100), 1e-12)
}

func TestEdgeAccumulator_IgnoresNormalizer(t *testing.T) {
	var acc EdgeAccumulator
	acc.Add(NewTrade(0, VenueSubmission, KindRetail, SideBuy, 101, 1, 100))
	acc.Add(NewTrade(0, VenueNormalizer, KindRetail, SideBuy, 150, 1, 100))
	acc.Add(NewTrade(1, VenueSubmission, KindArbitrage, SideSell, 1, 103, 100))

	assert.InDelta(t, -2.0, acc.Total(), 1e-12)
	assert.Equal(t, 2, acc.Trades())
}

// --- seeds and reports ---

func TestSeedSchedule_StartStride(t *testing.T) {
	assert.Equal(t, []uint64{0, 1, 2}, DefaultSeeds(3).Seeds())
	assert.Equal(t, []uint64{1000, 1007, 1014}, SeedSchedule{Start: 1000, Stride: 7, Count: 3}.Seeds())
	assert.Equal(t, []uint64{5, 6}, SeedSchedule{Start: 5, Count: 2}.Seeds())
	assert.Empty(t, SeedSchedule{}.Seeds())
}

func TestBatchReport_SummarizeExcludesFailures(t *testing.T) {
	b := BatchReport{Results: []SimResult{
		{Seed: 2, Edge: 30},
		{Seed: 0, Edge: 10},
		{Seed: 1, Edge: 999, Err: ErrExecutionFault},
	}}
	b.Summarize()

	assert.Equal(t, 3, b.Simulations)
	assert.Equal(t, 2, b.Succeeded)
	assert.Equal(t, 1, b.Failed)
	assert.InDelta(t, 20.0, b.AvgEdge, 1e-12)
	assert.InDelta(t, 2.0/3.0, b.SuccessRate, 1e-12)
	assert.Equal(t, uint64(0), b.Results[0].Seed)
	require.Len(t, b.Failures(), 1)
	assert.Equal(t, uint64(1), b.Failures()[0].Seed)
}

func TestBatchReport_AllFailed(t *testing.T) {
	b := BatchReport{Results: []SimResult{{Seed: 0, Err: ErrExecutionFault}}}
	b.Summarize()
	assert.Equal(t, 0.0, b.AvgEdge)
	assert.Equal(t, 0.0, b.SuccessRate)
}

func TestValidationReport_PassedIgnoresSkipped(t *testing.T) {
	v := ValidationReport{
		Monotonicity: CheckResult{Passed: true},
		Convexity:    CheckResult{Passed: true},
		Budget:       BudgetResult{CheckResult: CheckResult{Skipped: true}},
		Parity:       ParityResult{CheckResult: CheckResult{Skipped: true}},
	}
	assert.True(t, v.Passed())

	assert.Equal(t, []string{CheckBudget, CheckParity}, v.Skipped())

	v.Convexity.Passed = false
	assert.False(t, v.Passed())
}

func TestValidationReport_AdvisoryParityDoesNotFail(t *testing.T) {
	v := ValidationReport{
		Monotonicity: CheckResult{Passed: true},
		Convexity:    CheckResult{Passed: true},
		Budget:       BudgetResult{CheckResult: CheckResult{Passed: true}},
		Parity:       ParityResult{CheckResult: CheckResult{Err: ErrParityViolation}},
	}
	assert.False(t, v.Passed(), "blocking parity rejects")

	v.ParityAdvisory = true
	assert.True(t, v.Passed())
	assert.False(t, v.Blocking(CheckParity))
	assert.True(t, v.Blocking(CheckBudget))
	assert.Empty(t, v.Skipped())
}

func TestRelDelta(t *testing.T) {
	abs, rel := RelDelta(100, 90)
	assert.Equal(t, uint64(10), abs)
	assert.InDelta(t, 0.1, rel, 1e-12)

	abs, rel = RelDelta(0, 0)
	assert.Equal(t, uint64(0), abs)
	assert.Equal(t, 0.0, rel)
}

// --- curve shape ---

func TestCheckCurveShape_AcceptsConcave(t *testing.T) {
	var pts []CurvePoint
	for i := 1; i < 120; i++ {
		x := float64(i) * 0.25
		pts = append(pts, CurvePoint{In: x, Out: math.Log1p(x)})
	}
	assert.Empty(t, CheckCurveShape(pts, 1e-3))
}

func TestCheckCurveShape_AcceptsUnsortedDuplicates(t *testing.T) {
	pts := []CurvePoint{
		{6.4, 2.0014800}, {3.2, 1.4350845}, {1.6, 0.9555114}, {0.8, 0.5877866},
		{0.4, 0.3364722}, {0.2, 0.1823216}, {0.2, 0.1823216}, {0.1, 0.0953102},
	}
	assert.Empty(t, CheckCurveShape(pts, 1e-3))
}

func TestCheckCurveShape_AcceptsQuantizedStaircase(t *testing.T) {
	var pts []CurvePoint
	for i := 1; i < 300; i++ {
		x := float64(i) * 0.05
		pts = append(pts, CurvePoint{In: x, Out: math.Floor(math.Log1p(x)*1e6) / 1e6})
	}
	assert.Empty(t, CheckCurveShape(pts, 1e-3))
}

func TestCheckCurveShape_RejectsNonMonotone(t *testing.T) {
	pts := []CurvePoint{{0.1, 1.0}, {0.2, 1.1}, {0.3, 1.05}, {0.4, 1.2}}
	assert.Contains(t, CheckCurveShape(pts, 1e-3), "monotonicity")
}

func TestCheckCurveShape_RejectsNonConcave(t *testing.T) {
	pts := []CurvePoint{{0.1, 0.1}, {0.2, 0.18}, {0.3, 0.31}, {0.4, 0.45}}
	assert.Contains(t, CheckCurveShape(pts, 1e-3), "concavity")
}
