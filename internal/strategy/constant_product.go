package strategy

import (
	"encoding/binary"
	"math/bits"
)

const (
	// DefaultFeeBps es el fee del normalizer cuando storage[0..2] es cero.
	DefaultFeeBps = 30
	// StarterFeeBps corresponde a un factor de fee 950/1000.
	StarterFeeBps = 500

	bpsDenom = 10_000
	minData  = 25
)

// ConstantProduct cotiza un swap contra x*y = k con el fee descontado del input.
//
//	net      = in * (10000 - fee) / 10000
//	k        = rx * ry                         (128-bit)
//	output   = reserve_out - ceil(k / (reserve_in + net))   (saturating)
//
// Side 0 paga Y por X, side 1 paga X por Y. Cotizan 0 las reservas a cero, los fees
// de 10000 bps o más y el overflow de reservas.
func ConstantProduct(side byte, in, rx, ry uint64, feeBps uint64) uint64 {
	if rx == 0 || ry == 0 || feeBps >= bpsDenom {
		return 0
	}
	var reserveIn, reserveOut uint64
	switch side {
	case 0:
		reserveIn, reserveOut = ry, rx
	case 1:
		reserveIn, reserveOut = rx, ry
	default:
		return 0
	}

	hi, lo := bits.Mul64(in, bpsDenom-feeBps)
	net, _ := bits.Div64(hi, lo, bpsDenom)

	newIn, carry := bits.Add64(reserveIn, net, 0)
	if carry != 0 {
		return 0
	}

	khi, klo := bits.Mul64(rx, ry)
	if khi >= newIn {
		return 0
	}
	q, rem := bits.Div64(khi, klo, newIn)
	if rem != 0 {
		q++
	}
	if q >= reserveOut {
		return 0
	}
	return reserveOut - q
}

// FixedFeeSwap devuelve un SwapFunc de producto constante con fee fijo.
func FixedFeeSwap(feeBps uint64) SwapFunc {
	return func(data []byte) uint64 {
		side, in, rx, ry, ok := header(data)
		if !ok {
			return 0
		}
		return ConstantProduct(side, in, rx, ry, feeBps)
	}
}

// NormalizerSwap es el maker de referencia: producto constante con el fee leído de
// storage[0..2] como u16 en bps, 30 si es cero.
func NormalizerSwap(data []byte) uint64 {
	side, in, rx, ry, ok := header(data)
	if !ok {
		return 0
	}
	return ConstantProduct(side, in, rx, ry, feeFromStorage(data))
}

func feeFromStorage(data []byte) uint64 {
	if len(data) < minData+2 {
		return DefaultFeeBps
	}
	raw := binary.LittleEndian.Uint16(data[minData : minData+2])
	if raw == 0 {
		return DefaultFeeBps
	}
	return uint64(raw)
}

func header(data []byte) (side byte, in, rx, ry uint64, ok bool) {
	if len(data) < minData {
		return 0, 0, 0, 0, false
	}
	return data[0],
		binary.LittleEndian.Uint64(data[1:9]),
		binary.LittleEndian.Uint64(data[9:17]),
		binary.LittleEndian.Uint64(data[17:25]),
		true
}
