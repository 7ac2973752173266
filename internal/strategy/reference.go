package strategy

import (
	"encoding/binary"
	"math"
	"math/bits"
)

// Nombres de las estrategias incluidas.
const (
	NameNormalizer   = "normalizer"
	NameCP30         = "cp30"
	NameStarter      = "starter"
	NameLinear       = "linear"
	NameNonMonotonic = "nonmonotonic"
	NameNonConvex    = "nonconvex"
	NameStorageEcho  = "echo"
	NameStepCounter  = "counter"
)

// LinearSwap cotiza al spot menos 30 bps sin impacto de precio, con tope en la reserva
// contraria. Monótona, con precio marginal constante.
func LinearSwap(data []byte) uint64 {
	side, in, rx, ry, ok := header(data)
	if !ok || rx == 0 || ry == 0 {
		return 0
	}
	reserveIn, reserveOut := rx, ry
	if side == 0 {
		reserveIn, reserveOut = ry, rx
	} else if side != 1 {
		return 0
	}
	hi, lo := bits.Mul64(in, reserveOut)
	if hi >= reserveIn {
		return reserveOut
	}
	q, _ := bits.Div64(hi, lo, reserveIn)
	hi, lo = bits.Mul64(q, bpsDenom-DefaultFeeBps)
	out, _ := bits.Div64(hi, lo, bpsDenom)
	return min(out, reserveOut)
}

// NonMonotonicSwap se comporta como producto constante hasta el 1% de la reserva de
// input; a partir de ahí paga menos cuanto más se envía.
func NonMonotonicSwap(data []byte) uint64 {
	side, in, rx, ry, ok := header(data)
	if !ok || rx == 0 || ry == 0 {
		return 0
	}
	reserveIn := rx
	if side == 0 {
		reserveIn = ry
	}
	threshold := reserveIn / 100
	if in <= threshold || threshold == 0 {
		return ConstantProduct(side, in, rx, ry, DefaultFeeBps)
	}
	atThreshold := ConstantProduct(side, threshold, rx, ry, DefaultFeeBps)
	hi, lo := bits.Mul64(atThreshold, threshold)
	q, _ := bits.Div64(hi, lo, in)
	return q
}

// NonConvexSwap mejora la tasa al crecer el tamaño: out = in * spot * 0.99 * (1 + in/reserve_in),
// con tope en la mitad de la reserva contraria.
func NonConvexSwap(data []byte) uint64 {
	side, in, rx, ry, ok := header(data)
	if !ok || rx == 0 || ry == 0 {
		return 0
	}
	fin, fx, fy := float64(in), float64(rx), float64(ry)
	reserveIn, reserveOut := fx, fy
	if side == 0 {
		reserveIn, reserveOut = fy, fx
	}
	out := fin * (reserveOut / reserveIn) * 0.99 * (1 + fin/reserveIn)
	out = math.Min(out, reserveOut/2)
	if math.IsNaN(out) || out <= 0 {
		return 0
	}
	return uint64(out)
}

// StorageEchoSwap devuelve storage[0..8] como output.
func StorageEchoSwap(data []byte) uint64 {
	if len(data) < minData+8 {
		return 0
	}
	return binary.LittleEndian.Uint64(data[minData : minData+8])
}

// StorageEchoAfterSwap guarda el input ejecutado en storage[0..8].
func StorageEchoAfterSwap(data []byte, storage []byte) bool {
	if len(data) < 10 || len(storage) < 8 {
		return false
	}
	copy(storage[0:8], data[2:10])
	return true
}

// StepCounterAfterSwap cuenta los trades en storage[0..8] y guarda el último step en [8..16].
func StepCounterAfterSwap(data []byte, storage []byte) bool {
	if len(data) < 42 || len(storage) < 16 {
		return false
	}
	n := binary.LittleEndian.Uint64(storage[0:8])
	binary.LittleEndian.PutUint64(storage[0:8], n+1)
	copy(storage[8:16], data[34:42])
	return true
}
