package strategy

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func priceData(t testing.TB, side domain.Side, in, rx, ry float64, st *domain.Storage) []byte {
	if st == nil {
		st = &domain.Storage{}
	}
	buf := make([]byte, domain.PriceCallSize)
	err := domain.EncodePrice(buf, domain.PriceCall{
		Side: side, Amount: domain.ToNano(in), ReserveX: domain.ToNano(rx), ReserveY: domain.ToNano(ry),
	}, st)
	require.NoError(t, err)
	return buf
}

func TestNormalizerSwap_MatchesFloatFormula(t *testing.T) {
	// Buy X with 10 Y at 100/10000, 30 bps.
	out := domain.FromNano(NormalizerSwap(priceData(t, domain.SideBuy, 10, 100, 10000, nil)))
	net := 10 * 0.997
	want := 100 - 100*10000/(10000+net)
	assert.InDelta(t, want, out, 1e-8)

	out = domain.FromNano(NormalizerSwap(priceData(t, domain.SideSell, 1, 100, 10000, nil)))
	want = 10000 - 100*10000/(100+0.997)
	assert.InDelta(t, want, out, 1e-6)
}

func TestNormalizerSwap_FeeFromStorage(t *testing.T) {
	withFee := func(bps uint16) uint64 {
		var st domain.Storage
		binary.LittleEndian.PutUint16(st[0:2], bps)
		return NormalizerSwap(priceData(t, domain.SideBuy, 10, 100, 10000, &st))
	}
	out0, out30, out100, out10 := withFee(0), withFee(30), withFee(100), withFee(10)

	assert.Equal(t, out30, out0, "zero storage means 30 bps")
	assert.Less(t, out100, out30)
	assert.Greater(t, out10, out30)
}

func TestConstantProduct_Edges(t *testing.T) {
	assert.Zero(t, ConstantProduct(0, 1, 0, 100, 30))
	assert.Zero(t, ConstantProduct(0, 1, 100, 0, 30))
	assert.Zero(t, ConstantProduct(2, 1, 100, 100, 30))
	assert.Zero(t, ConstantProduct(0, 1, 100, 100, 10_000))
	assert.Zero(t, ConstantProduct(0, math.MaxUint64, 100, math.MaxUint64, 30), "reserve overflow")
	assert.Zero(t, NormalizerSwap(make([]byte, 10)))
}

func TestStarter_HasHigherFee(t *testing.T) {
	data := priceData(t, domain.SideBuy, 10, 100, 10000, nil)
	assert.Less(t, FixedFeeSwap(StarterFeeBps)(data), FixedFeeSwap(30)(data))
}

func TestConstantProduct_MonotoneInSize(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rx := rapid.Uint64Range(domain.NanoScale, 1_000_000*domain.NanoScale).Draw(t, "rx")
		ry := rapid.Uint64Range(domain.NanoScale, 1_000_000*domain.NanoScale).Draw(t, "ry")
		a := rapid.Uint64Range(1, 100_000*domain.NanoScale).Draw(t, "a")
		b := rapid.Uint64Range(a, 200_000*domain.NanoScale).Draw(t, "b")
		side := byte(rapid.IntRange(0, 1).Draw(t, "side"))

		outA := ConstantProduct(side, a, rx, ry, 30)
		outB := ConstantProduct(side, b, rx, ry, 30)
		if outB < outA {
			t.Fatalf("output fell from %d to %d as input grew from %d to %d", outA, outB, a, b)
		}
		reserveOut := rx
		if side == 1 {
			reserveOut = ry
		}
		if outB >= reserveOut {
			t.Fatalf("output %d reached reserve %d", outB, reserveOut)
		}
	})
}

func TestNonMonotonicSwap_DropsPastThreshold(t *testing.T) {
	small := NonMonotonicSwap(priceData(t, domain.SideBuy, 50, 100, 10000, nil))
	large := NonMonotonicSwap(priceData(t, domain.SideBuy, 200, 100, 10000, nil))
	assert.Less(t, large, small)
}

func TestNonConvexSwap_MarginalRises(t *testing.T) {
	q := func(in float64) float64 {
		return domain.FromNano(NonConvexSwap(priceData(t, domain.SideBuy, in, 100, 10000, nil)))
	}
	m1 := q(10.001) - q(10)
	m2 := q(100.001) - q(100)
	assert.Greater(t, m2, m1)
}

func TestLinearSwap_ConstantRate(t *testing.T) {
	out := domain.FromNano(LinearSwap(priceData(t, domain.SideBuy, 100, 100, 10000, nil)))
	assert.InDelta(t, 100*0.01*0.997, out, 1e-8)
	capped := LinearSwap(priceData(t, domain.SideBuy, 1e9, 100, 10000, nil))
	assert.Equal(t, domain.ToNano(100), capped)
}

func TestStorageEcho(t *testing.T) {
	var st domain.Storage
	data := make([]byte, domain.NotifyCallSize)
	require.NoError(t, domain.EncodeNotify(data, domain.NotifyCall{Side: domain.SideBuy, Input: 777}, &st))

	scratch := st
	require.True(t, StorageEchoAfterSwap(data, scratch[:]))
	assert.Equal(t, uint64(777), StorageEchoSwap(priceData(t, domain.SideBuy, 1, 1, 1, &scratch)))
}

func TestStepCounterAfterSwap(t *testing.T) {
	var st domain.Storage
	data := make([]byte, domain.NotifyCallSize)
	for step := uint64(0); step < 3; step++ {
		require.NoError(t, domain.EncodeNotify(data, domain.NotifyCall{Side: domain.SideSell, Step: step}, &st))
		require.True(t, StepCounterAfterSwap(data, st[:]))
	}
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(st[0:8]))
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(st[8:16]))
}

func TestBuiltins_Registry(t *testing.T) {
	r := Builtins()
	s, ok := r.Get(NameCP30)
	require.True(t, ok)
	assert.Equal(t, NameCP30, s.Name)
	assert.NotNil(t, s.Swap)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Contains(t, r.Names(), NameNormalizer)
}
