package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/propamm/internal/domain"
)

func TestAMM_QuoteInvalidInputIsZero(t *testing.T) {
	fb := constantOutput(1)
	amm := NewAMM(domain.VenueSubmission, fb, 100, 10_000)

	for _, in := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		out, err := amm.QuoteBuyX(in)
		require.NoError(t, err)
		assert.Zero(t, out)
	}
	assert.Zero(t, fb.prices, "backend must not be called for invalid input")
}

func TestAMM_QuoteDegenerateReservesIsZero(t *testing.T) {
	fb := constantOutput(1)
	amm := NewAMM(domain.VenueSubmission, fb, MinReserve/2, 10_000)

	out, err := amm.QuoteBuyX(10)
	require.NoError(t, err)
	assert.Zero(t, out)
	assert.True(t, math.IsNaN(amm.SpotPrice()))
}

func TestAMM_OversizeQuoteIsZero(t *testing.T) {
	amm := NewAMM(domain.VenueSubmission, constantOutput(200), 100, 10_000)

	out, err := amm.QuoteBuyX(10)
	require.NoError(t, err)
	assert.Zero(t, out, "output above reserve_x is treated as no quote")
}

func TestAMM_ExecuteUpdatesReservesAndNotifies(t *testing.T) {
	fb := constantOutput(1)
	amm := NewAMM(domain.VenueSubmission, fb, 100, 10_000)
	amm.SetStep(42)

	out, err := amm.ExecuteBuyX(10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out)
	assert.Equal(t, 99.0, amm.ReserveX)
	assert.Equal(t, 10_010.0, amm.ReserveY)

	require.Len(t, fb.notifies, 1)
	n := fb.notifies[0]
	assert.Equal(t, domain.SideBuy, n.Side)
	assert.Equal(t, domain.ToNano(10), n.Input)
	assert.Equal(t, domain.ToNano(1), n.Output)
	assert.Equal(t, domain.ToNano(99), n.ReserveX, "notify carries post-trade reserves")
	assert.Equal(t, domain.ToNano(10_010), n.ReserveY)
	assert.Equal(t, uint64(42), n.Step)
}

func TestAMM_ExecuteSellX(t *testing.T) {
	fb := constantOutput(95)
	amm := NewAMM(domain.VenueNormalizer, fb, 100, 10_000)

	out, err := amm.ExecuteSellX(1)
	require.NoError(t, err)
	assert.Equal(t, 95.0, out)
	assert.Equal(t, 101.0, amm.ReserveX)
	assert.Equal(t, 9_905.0, amm.ReserveY)
	require.Len(t, fb.notifies, 1)
	assert.Equal(t, domain.SideSell, fb.notifies[0].Side)
}

func TestAMM_PriceFaultPropagates(t *testing.T) {
	fault := domain.NewExecutionFault("price", domain.CallInputs{}, domain.ErrTrap, "boom")
	fb := &fakeBackend{price: func(domain.PriceCall) (uint64, error) { return 0, fault }}
	amm := NewAMM(domain.VenueSubmission, fb, 100, 10_000)

	_, err := amm.ExecuteBuyX(10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExecutionFault))
	assert.Equal(t, 100.0, amm.ReserveX, "reserves untouched on a failed quote")
	assert.Empty(t, fb.notifies)
}

func TestAMM_NotifyFaultPropagates(t *testing.T) {
	fb := constantOutput(1)
	fb.notifyErr = domain.NewExecutionFault("notify", domain.CallInputs{}, domain.ErrTrap, "boom")
	amm := NewAMM(domain.VenueSubmission, fb, 100, 10_000)

	_, err := amm.ExecuteBuyX(10)
	assert.ErrorIs(t, err, domain.ErrExecutionFault)
}

func TestAMM_InitialStorageReachesBackend(t *testing.T) {
	amm := NewAMM(domain.VenueNormalizer, cpBackend(30), 100, 10_000)
	amm.SetInitialStorage([]byte{0x1e, 0x00})

	st := amm.Storage()
	assert.Equal(t, byte(30), st[0])
	assert.Zero(t, st[2])
}
