package domain

// TradeKind clasifica quién inició un trade.
type TradeKind string

const (
	KindRetail    TradeKind = "retail"
	KindArbitrage TradeKind = "arbitrage"
)

// Venue es el AMM contra el que se ejecutó un trade.
type Venue string

const (
	VenueSubmission Venue = "submission"
	VenueNormalizer Venue = "normalizer"
)

// TradeRecord es un swap ejecutado, visto desde el trader.
// Con SideBuy AmountIn es Y y AmountOut es X; con SideSell al revés.
type TradeRecord struct {
	Step      int
	Venue     Venue
	Kind      TradeKind
	Side      Side
	AmountIn  float64
	AmountOut float64
	FairPrice float64
	Edge      float64
}

// TradeEdge es el beneficio del AMM en un trade, valorado al precio justo.
//
//	trader buys X:  edge = y_in - x_out * fair
//	trader sells X: edge = x_in * fair - y_out
func TradeEdge(side Side, amountIn, amountOut, fair float64) float64 {
	if side == SideBuy {
		return amountIn - amountOut*fair
	}
	return amountIn*fair - amountOut
}

// NewTrade construye un registro con el edge ya calculado.
func NewTrade(step int, venue Venue, kind TradeKind, side Side, in, out, fair float64) TradeRecord {
	return TradeRecord{
		Step:      step,
		Venue:     venue,
		Kind:      kind,
		Side:      side,
		AmountIn:  in,
		AmountOut: out,
		FairPrice: fair,
		Edge:      TradeEdge(side, in, out, fair),
	}
}

// EdgeAccumulator suma el edge de los trades de la estrategia en orden de ejecución.
type EdgeAccumulator struct {
	total  float64
	trades int
}

// Add suma un trade al acumulado. Ignora los trades del normalizer.
func (a *EdgeAccumulator) Add(t TradeRecord) {
	if t.Venue != VenueSubmission {
		return
	}
	a.total += t.Edge
	a.trades++
}

func (a *EdgeAccumulator) Total() float64 { return a.total }
func (a *EdgeAccumulator) Trades() int    { return a.trades }
