package validate

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
)

// ReservePair es un punto fijo de prueba.
type ReservePair struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// probeState es un par de reservas con el storage contra el que se prueba la estrategia.
type probeState struct {
	rx, ry  uint64
	seed    uint64
	storage domain.Storage
}

// finalizador splitmix64.
func mix(z uint64) uint64 {
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// randomStates deriva n estados reproducibles: reservas de 1 a 2001 X y de 1 a 200001 Y,
// y 32 bytes pseudoaleatorios de storage.
func randomStates(n int, salt uint64) []probeState {
	out := make([]probeState, n)
	for i := range out {
		seed := uint64(i) ^ salt
		s := probeState{
			rx:   1_000_000_000 + mix(seed^0x0123456789abcdef)%2_000_000_000_000,
			ry:   1_000_000_000 + mix(seed^0x0f0f0f0ff0f0f0f0)%200_000_000_000_000,
			seed: seed,
		}
		for j := 0; j < 32; j++ {
			s.storage[j] = byte(mix(seed + uint64(j)))
		}
		out[i] = s
	}
	return out
}

// curveInputs devuelve hasta diez inputs crecientes que cubren (0, reserveIn/5].
func curveInputs(reserveIn uint64) []uint64 {
	maxIn := max(reserveIn/5, 1_000_000)
	inputs := make([]uint64, 0, 10)
	for i := uint64(1); i <= 10; i++ {
		hi, lo := bits.Mul64(maxIn, i)
		amount, _ := bits.Div64(hi, lo, 10)
		amount = max(amount, 1_000_000)
		if n := len(inputs); n == 0 || inputs[n-1] != amount {
			inputs = append(inputs, amount)
		}
	}
	return inputs
}

func reserves(side domain.Side, rx, ry uint64) (in, out uint64) {
	if side == domain.SideBuy {
		return ry, rx
	}
	return rx, ry
}

// nano redondea en vez de truncar para que tamaños como 0.1 caigan en unidades exactas.
func nano(v float64) uint64 {
	if !(v > 0) || math.IsInf(v, 0) {
		return 0
	}
	return uint64(math.Round(v * domain.NanoScale))
}

func satAdd(a, b uint64) uint64 {
	s, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return s
}

func satSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func unitsDetail(used, limit uint64) string {
	return fmt.Sprintf("used %d units, limit %d", used, limit)
}

var sides = [...]domain.Side{domain.SideBuy, domain.SideSell}

// prober envuelve un backend y cuenta pruebas y el pico de unidades.
type prober struct {
	backend ports.Backend
	probes  int
	peak    uint64
	limit   uint64 // 0 desactiva el check
}

func (p *prober) price(side domain.Side, amount, rx, ry uint64, st *domain.Storage) (uint64, error) {
	call := domain.PriceCall{Side: side, Amount: amount, ReserveX: rx, ReserveY: ry}
	exec, err := p.backend.Price(call, st)
	p.probes++
	p.peak = max(p.peak, exec.Units)
	if err != nil {
		return 0, err
	}
	if p.limit > 0 && exec.Units > p.limit {
		return 0, domain.NewExecutionFault("price", call.Inputs(), domain.ErrBudgetExceeded,
			unitsDetail(exec.Units, p.limit))
	}
	return exec.Output, nil
}

func (p *prober) notify(call domain.NotifyCall, st *domain.Storage) error {
	exec, err := p.backend.Notify(call, st)
	p.probes++
	p.peak = max(p.peak, exec.Units)
	if err != nil {
		return err
	}
	if p.limit > 0 && exec.Units > p.limit {
		return domain.NewExecutionFault("notify", call.Inputs(), domain.ErrBudgetExceeded,
			unitsDetail(exec.Units, p.limit))
	}
	return nil
}

// exercise cotiza un trade sobre s, lo notifica y devuelve el estado post-trade.
func (p *prober) exercise(s probeState) (probeState, error) {
	side := domain.Side(s.seed & 1)
	amount := 1_000_000 + mix(s.seed^0xdeadbeef)%10_000_000_000
	out, err := p.price(side, amount, s.rx, s.ry, &s.storage)
	if err != nil {
		return s, err
	}
	post := s
	if side == domain.SideBuy {
		post.rx, post.ry = satSub(s.rx, out), satAdd(s.ry, amount)
	} else {
		post.rx, post.ry = satAdd(s.rx, amount), satSub(s.ry, out)
	}
	err = p.notify(domain.NotifyCall{
		Side: side, Input: amount, Output: out,
		ReserveX: post.rx, ReserveY: post.ry, Step: s.seed,
	}, &post.storage)
	post.rx, post.ry = max(post.rx, 1), max(post.ry, 1)
	return post, err
}
