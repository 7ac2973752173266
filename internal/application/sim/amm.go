package sim

// amm.go - envoltorio float alrededor del backend de una estrategia.
//
// Las reservas viven en float64. Cada llamada convierte a punto fijo 1e9 en la frontera.
// Una cotización no finita, no positiva o mayor que la reserva contraria cuenta como cero.
// Un trade ejecutado actualiza las reservas y después notifica a la estrategia con el
// estado post-trade.

import (
	"math"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
)

// MinReserve es la reserva mínima con la que se puede cotizar o dejar un AMM.
const MinReserve = 1e-12

// AMM es un venue: un backend con sus reservas y su storage.
// No es seguro para uso concurrente.
type AMM struct {
	Venue    domain.Venue
	ReserveX float64
	ReserveY float64

	backend ports.Backend
	storage domain.Storage
	step    uint64
	peak    uint64
}

// NewAMM devuelve un venue con el storage a cero.
func NewAMM(venue domain.Venue, backend ports.Backend, reserveX, reserveY float64) *AMM {
	return &AMM{Venue: venue, backend: backend, ReserveX: reserveX, ReserveY: reserveY}
}

// SetInitialStorage copia b al principio del storage.
func (a *AMM) SetInitialStorage(b []byte) {
	copy(a.storage[:], b)
}

// Storage devuelve una copia del storage actual.
func (a *AMM) Storage() domain.Storage { return a.storage }

// SetStep fija el step que se reporta a la estrategia en notify.
func (a *AMM) SetStep(step uint64) { a.step = step }

// PeakUnits devuelve el máximo de compute units visto en una llamada.
func (a *AMM) PeakUnits() uint64 { return a.peak }

// SpotPrice es reserve_y / reserve_x, NaN si el pool está degenerado.
func (a *AMM) SpotPrice() float64 {
	if a.ReserveX <= MinReserve || !finite(a.ReserveX) || !finite(a.ReserveY) {
		return math.NaN()
	}
	return a.ReserveY / a.ReserveX
}

func (a *AMM) quotable() bool {
	return a.ReserveX > MinReserve && a.ReserveY > MinReserve && finite(a.ReserveX) && finite(a.ReserveY)
}

func (a *AMM) price(side domain.Side, in, limit float64) (float64, error) {
	if in <= 0 || !finite(in) || !a.quotable() {
		return 0, nil
	}
	exec, err := a.backend.Price(domain.PriceCall{
		Side:     side,
		Amount:   domain.ToNano(in),
		ReserveX: domain.ToNano(a.ReserveX),
		ReserveY: domain.ToNano(a.ReserveY),
	}, &a.storage)
	a.peak = max(a.peak, exec.Units)
	if err != nil {
		return 0, err
	}
	out := domain.FromNano(exec.Output)
	if !finite(out) || out <= 0 || out > limit {
		return 0, nil
	}
	return out, nil
}

// QuoteBuyX cotiza el X que se recibe por inputY.
func (a *AMM) QuoteBuyX(inputY float64) (float64, error) {
	return a.price(domain.SideBuy, inputY, a.ReserveX)
}

// QuoteSellX cotiza el Y que se recibe por inputX.
func (a *AMM) QuoteSellX(inputX float64) (float64, error) {
	return a.price(domain.SideSell, inputX, a.ReserveY)
}

// ExecuteBuyX cambia inputY por X y devuelve el X pagado, 0 si no se ejecutó nada.
func (a *AMM) ExecuteBuyX(inputY float64) (float64, error) {
	outX, err := a.QuoteBuyX(inputY)
	if err != nil || outX <= 0 || outX >= a.ReserveX {
		return 0, err
	}
	newX, newY := a.ReserveX-outX, a.ReserveY+inputY
	if !a.commit(newX, newY) {
		return 0, nil
	}
	return outX, a.notify(domain.SideBuy, inputY, outX)
}

// ExecuteSellX cambia inputX por Y y devuelve el Y pagado, 0 si no se ejecutó nada.
func (a *AMM) ExecuteSellX(inputX float64) (float64, error) {
	outY, err := a.QuoteSellX(inputX)
	if err != nil || outY <= 0 || outY >= a.ReserveY {
		return 0, err
	}
	newX, newY := a.ReserveX+inputX, a.ReserveY-outY
	if !a.commit(newX, newY) {
		return 0, nil
	}
	return outY, a.notify(domain.SideSell, inputX, outY)
}

func (a *AMM) commit(newX, newY float64) bool {
	if newX <= MinReserve || newY <= MinReserve || !finite(newX) || !finite(newY) {
		return false
	}
	a.ReserveX, a.ReserveY = newX, newY
	return true
}

func (a *AMM) notify(side domain.Side, in, out float64) error {
	exec, err := a.backend.Notify(domain.NotifyCall{
		Side:     side,
		Input:    domain.ToNano(in),
		Output:   domain.ToNano(out),
		ReserveX: domain.ToNano(a.ReserveX),
		ReserveY: domain.ToNano(a.ReserveY),
		Step:     a.step,
	}, &a.storage)
	a.peak = max(a.peak, exec.Units)
	return err
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
