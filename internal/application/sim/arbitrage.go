package sim

// arbitrage.go - arbitrajista informado que conoce el precio justo.
//
// Busca por bisección el tamaño óptimo sobre [0, reserva*0.5] con un marginal por
// diferencia finita.

import (
	"math"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// ArbConfig ajusta la bisección del arbitrajista.
type ArbConfig struct {
	Band       float64 // sin trade mientras spot esté dentro de fair*(1±Band)
	Iterations int
	Tolerance  float64 // corta cuando hi-lo <= Tolerance*hi; 0 = desactivado
	ProfitTol  float64 // corta cuando |profit marginal| por unidad de input <= ProfitTol; 0 = desactivado
	MinProfit  float64 // en Y, al precio justo
	MinSize    float64
}

// DefaultArbConfig devuelve la configuración base del arbitraje.
func DefaultArbConfig() ArbConfig {
	return ArbConfig{
		Band:       1e-4,
		Iterations: 12,
		MinProfit:  0.01,
		MinSize:    0.001,
	}
}

// Arbitrageur cierra la brecha entre el spot de un AMM y el precio justo.
type Arbitrageur struct {
	cfg ArbConfig
}

// NewArbitrageur devuelve un arbitrajista con cfg.
func NewArbitrageur(cfg ArbConfig) *Arbitrageur {
	return &Arbitrageur{cfg: cfg}
}

// Execute lleva amm hacia fair si es rentable. Devuelve nil si no hubo trade.
func (a *Arbitrageur) Execute(amm *AMM, fair float64, step int) (*domain.TradeRecord, error) {
	spot := amm.SpotPrice()
	switch {
	case spot < fair*(1-a.cfg.Band):
		return a.buyX(amm, fair, step)
	case spot > fair*(1+a.cfg.Band):
		return a.sellX(amm, fair, step)
	}
	return nil, nil
}

// bisect busca el mayor input cuyo output marginal sigue siendo rentable.
// profit mapea la tasa marginal de output al profit marginal por unidad de input.
func (a *Arbitrageur) bisect(hi float64, quote func(float64) (float64, error), profit func(marginal float64) float64) (float64, error) {
	lo := 0.0
	for i := 0; i < a.cfg.Iterations; i++ {
		if a.cfg.Tolerance > 0 && hi-lo <= a.cfg.Tolerance*hi {
			break
		}
		mid := (lo + hi) / 2
		eps := mid*0.001 + 0.001
		outLo, err := quote(mid)
		if err != nil {
			return 0, err
		}
		outHi, err := quote(mid + eps)
		if err != nil {
			return 0, err
		}
		p := profit((outHi - outLo) / eps)
		if p > 0 {
			lo = mid
		} else {
			hi = mid
		}
		if a.cfg.ProfitTol > 0 && math.Abs(p) <= a.cfg.ProfitTol {
			break
		}
	}
	return (lo + hi) / 2, nil
}

// buyX: spot por debajo de fair, el arbitrajista paga Y y se lleva X.
func (a *Arbitrageur) buyX(amm *AMM, fair float64, step int) (*domain.TradeRecord, error) {
	inY, err := a.bisect(amm.ReserveY*0.5, amm.QuoteBuyX, func(m float64) float64 { return m*fair - 1 })
	if err != nil || inY < a.cfg.MinSize {
		return nil, err
	}
	quoted, err := amm.QuoteBuyX(inY)
	if err != nil || quoted*fair-inY < a.cfg.MinProfit {
		return nil, err
	}
	outX, err := amm.ExecuteBuyX(inY)
	if err != nil || outX <= 0 {
		return nil, err
	}
	t := domain.NewTrade(step, amm.Venue, domain.KindArbitrage, domain.SideBuy, inY, outX, fair)
	return &t, nil
}

// sellX: spot por encima de fair, el arbitrajista paga X y se lleva Y.
func (a *Arbitrageur) sellX(amm *AMM, fair float64, step int) (*domain.TradeRecord, error) {
	inX, err := a.bisect(amm.ReserveX*0.5, amm.QuoteSellX, func(m float64) float64 { return m - fair })
	if err != nil || inX < a.cfg.MinSize {
		return nil, err
	}
	quoted, err := amm.QuoteSellX(inX)
	if err != nil || quoted-inX*fair < a.cfg.MinProfit {
		return nil, err
	}
	outY, err := amm.ExecuteSellX(inX)
	if err != nil || outY <= 0 {
		return nil, err
	}
	t := domain.NewTrade(step, amm.Venue, domain.KindArbitrage, domain.SideSell, inX, outY, fair)
	return &t, nil
}
