package domain

import "math"

// NanoScale es la escala de punto fijo de todo monto que cruza la frontera del backend.
const NanoScale = 1_000_000_000

const nanoScaleF64 = float64(NanoScale)

// ToNano convierte un monto float a punto fijo 1e9, truncando hacia cero.
// NaN y negativos dan 0; valores fuera del rango u64 saturan.
func ToNano(v float64) uint64 {
	scaled := v * nanoScaleF64
	switch {
	case math.IsNaN(scaled) || scaled <= 0:
		return 0
	case scaled >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(scaled)
}

// FromNano convierte un monto en punto fijo 1e9 de vuelta a float.
func FromNano(v uint64) float64 {
	return float64(v) / nanoScaleF64
}
