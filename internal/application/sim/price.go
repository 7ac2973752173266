package sim

import (
	"math"
	"math/rand/v2"
)

// PriceProcess es un movimiento browniano geométrico para el precio justo.
type PriceProcess struct {
	price float64
	drift float64
	vol   float64
	rng   *rand.Rand
}

// NewGBM devuelve un proceso que arranca en initial.
func NewGBM(rng *rand.Rand, initial, mu, sigma, dt float64) *PriceProcess {
	return &PriceProcess{
		price: initial,
		drift: (mu - 0.5*sigma*sigma) * dt,
		vol:   sigma * math.Sqrt(dt),
		rng:   rng,
	}
}

// Price devuelve el precio actual.
func (p *PriceProcess) Price() float64 { return p.price }

// Step avanza un periodo y devuelve el precio nuevo.
func (p *PriceProcess) Step() float64 {
	p.price *= math.Exp(p.drift + p.vol*p.rng.NormFloat64())
	return p.price
}
