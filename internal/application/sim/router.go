package sim

import (
	"math"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// RouterConfig ajusta la búsqueda del reparto retail.
type RouterConfig struct {
	GridPoints int     // valores de alpha equiespaciados en [0, 1], mínimo 2
	MinTrade   float64 // las patas de este tamaño o menos cotizan cero y no se ejecutan
	ShapeGuard bool    // comprueba que los puntos muestreados sean monótonos y cóncavos
}

// DefaultRouterConfig devuelve la configuración base del router.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{GridPoints: 101, MinTrade: 0.001, ShapeGuard: true}
}

// RetailOrder es una orden no informada. Size siempre va en Y.
type RetailOrder struct {
	Buy  bool
	Size float64
}

type split struct {
	alpha   float64
	inSub   float64
	inNorm  float64
	outSub  float64
	outNorm float64
}

func (s split) score() float64 {
	total := s.outSub + s.outNorm
	if !finite(total) {
		return math.Inf(-1)
	}
	return total
}

// Router reparte las órdenes retail entre la estrategia y el normalizer para maximizar
// el output del trader.
type Router struct {
	cfg     RouterConfig
	samples []domain.CurvePoint
}

// NewRouter devuelve un router con cfg.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.GridPoints < 2 {
		cfg.GridPoints = 2
	}
	return &Router{cfg: cfg, samples: make([]domain.CurvePoint, 0, cfg.GridPoints)}
}

// Route llena order entre los dos venues y devuelve los trades ejecutados, primero el de
// la estrategia. Durante la búsqueda solo se llama a Price.
func (r *Router) Route(order RetailOrder, sub, norm *AMM, fair float64, step int) ([]domain.TradeRecord, error) {
	side := domain.SideBuy
	total := order.Size
	quote := (*AMM).QuoteBuyX
	execute := (*AMM).ExecuteBuyX
	if !order.Buy {
		side = domain.SideSell
		total = order.Size / fair
		quote = (*AMM).QuoteSellX
		execute = (*AMM).ExecuteSellX
	}
	if !finite(total) || total <= 0 {
		return nil, nil
	}

	best, err := r.search(total, sub, norm, quote)
	if err != nil {
		return nil, err
	}
	if r.cfg.ShapeGuard {
		if msg := domain.CheckCurveShape(r.samples, r.cfg.MinTrade); msg != "" {
			return nil, domain.NewPropertyViolation("route", domain.CallInputs{
				Side:     side,
				Amount:   domain.ToNano(total),
				ReserveX: domain.ToNano(sub.ReserveX),
				ReserveY: domain.ToNano(sub.ReserveY),
				Step:     uint64(step),
			}, msg)
		}
	}

	var trades []domain.TradeRecord
	legs := []struct {
		amm *AMM
		in  float64
		out float64
	}{
		{sub, best.inSub, best.outSub},
		{norm, best.inNorm, best.outNorm},
	}
	for _, leg := range legs {
		if leg.in <= r.cfg.MinTrade || leg.out <= 0 {
			continue
		}
		got, err := execute(leg.amm, leg.in)
		if err != nil {
			return trades, err
		}
		if got > 0 {
			trades = append(trades, domain.NewTrade(step, leg.amm.Venue, domain.KindRetail, side, leg.in, got, fair))
		}
	}
	return trades, nil
}

// search evalúa cada punto del grid y se queda con el mejor; en empate gana el alpha menor.
func (r *Router) search(total float64, sub, norm *AMM, quote func(*AMM, float64) (float64, error)) (split, error) {
	r.samples = r.samples[:0]
	n := r.cfg.GridPoints
	var best split
	bestScore := math.Inf(-1)
	for i := 0; i < n; i++ {
		alpha := float64(i) / float64(n-1)
		s := split{alpha: alpha, inSub: total * alpha, inNorm: total * (1 - alpha)}

		var err error
		if s.inSub > r.cfg.MinTrade {
			if s.outSub, err = quote(sub, s.inSub); err != nil {
				return split{}, err
			}
		}
		if s.inNorm > r.cfg.MinTrade {
			if s.outNorm, err = quote(norm, s.inNorm); err != nil {
				return split{}, err
			}
		}
		r.samples = append(r.samples, domain.CurvePoint{In: s.inSub, Out: s.outSub})

		if sc := s.score(); sc > bestScore || i == 0 {
			best, bestScore = s, sc
		}
	}
	return best, nil
}
