package sim

import (
	"math"
	"math/rand/v2"
)

// poissonChunk acota lambda por pasada de Knuth para que exp(-lambda) no haga underflow.
const poissonChunk = 30.0

// RetailTrader genera flujo de órdenes no informado.
type RetailTrader struct {
	rng     *rand.Rand
	lambda  float64
	muLn    float64
	sigma   float64
	buyProb float64
}

// NewRetailTrader configura llegadas Poisson con tamaños log-normales de media meanSize.
func NewRetailTrader(rng *rand.Rand, arrivalRate, meanSize, sizeSigma, buyProb float64) *RetailTrader {
	sigma := math.Max(sizeSigma, 0.01)
	return &RetailTrader{
		rng:     rng,
		lambda:  math.Max(arrivalRate, 0.01),
		muLn:    math.Log(math.Max(meanSize, 0.01)) - 0.5*sigma*sigma,
		sigma:   sigma,
		buyProb: buyProb,
	}
}

// Orders añade a dst las órdenes de este paso.
func (r *RetailTrader) Orders(dst []RetailOrder) []RetailOrder {
	n := poisson(r.rng, r.lambda)
	for i := 0; i < n; i++ {
		size := math.Exp(r.muLn + r.sigma*r.rng.NormFloat64())
		buy := r.rng.Float64() < r.buyProb
		dst = append(dst, RetailOrder{Buy: buy, Size: size})
	}
	return dst
}

// poisson sortea con el método multiplicativo de Knuth, partiendo las tasas grandes.
func poisson(rng *rand.Rand, lambda float64) int {
	n := 0
	for lambda > 0 {
		l := math.Min(lambda, poissonChunk)
		lambda -= l
		limit := math.Exp(-l)
		p := rng.Float64()
		for p > limit {
			n++
			p *= rng.Float64()
		}
	}
	return n
}
