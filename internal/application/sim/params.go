package sim

import (
	"math/rand/v2"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// Cada propósito tiene su propio stream PCG: cambiar el número de sorteos retail nunca
// desplaza el camino de precios.
const (
	streamParams uint64 = 0x9e3779b97f4a7c15
	streamPrice  uint64 = 0xbf58476d1ce4e5b9
	streamRetail uint64 = 0x94d049bb133111eb
)

func newStream(seed, purpose uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, purpose))
}

// DrawParams sortea los hiperparámetros de la simulación para seed.
func DrawParams(seed uint64, ranges domain.HyperRanges) domain.SimParams {
	rng := newStream(seed, streamParams)
	return domain.SimParams{
		Seed:        seed,
		Sigma:       ranges.Sigma.At(rng.Float64()),
		ArrivalRate: ranges.ArrivalRate.At(rng.Float64()),
		MeanSize:    ranges.MeanSize.At(rng.Float64()),
	}
}
