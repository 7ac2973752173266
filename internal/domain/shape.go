package domain

import (
	"fmt"
	"math"
	"sort"
)

// Tolerancias para las muestras float de la curva tomadas al rutear.
const (
	shapeXRelEps     = 1e-9
	shapeXAbsEps     = 1e-12
	shapeOutRelTol   = 1e-9
	shapeOutAbsTol   = 1e-9
	shapeSlopeRelTol = 1e-2
	shapeSlopeAbsTol = 1e-8
)

// CurvePoint es un par (input, output) muestreado de una curva de precio.
type CurvePoint struct {
	In  float64
	Out float64
}

// CheckCurveShape verifica que los puntos describan una curva no decreciente y cóncava.
// Ignora los puntos con input <= minInput, los no finitos y los outputs negativos.
// Fusiona inputs a menos de 1e-9 relativo y se queda con el output mayor.
// Devuelve "" si la forma es válida; si no, describe la primera violación.
func CheckCurveShape(points []CurvePoint, minInput float64) string {
	sorted := make([]CurvePoint, 0, len(points))
	for _, p := range points {
		if isFinite(p.In) && isFinite(p.Out) && p.In > minInput && p.Out >= 0 {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].In < sorted[j].In })

	cleaned := sorted[:0]
	for _, p := range sorted {
		if n := len(cleaned); n > 0 {
			prev := &cleaned[n-1]
			eps := math.Max(shapeXAbsEps, shapeXRelEps*math.Max(math.Max(math.Abs(prev.In), math.Abs(p.In)), 1))
			if math.Abs(p.In-prev.In) <= eps {
				if p.Out > prev.Out {
					prev.Out = p.Out
				}
				continue
			}
		}
		cleaned = append(cleaned, p)
	}

	for i := 1; i < len(cleaned); i++ {
		a, b := cleaned[i-1], cleaned[i]
		allowed := shapeOutAbsTol + shapeOutRelTol*math.Max(math.Max(math.Abs(a.Out), math.Abs(b.Out)), 1)
		if b.In > a.In && b.Out+allowed < a.Out {
			return fmt.Sprintf("monotonicity violated: input %.6f -> output %.6f, input %.6f -> output %.6f",
				a.In, a.Out, b.In, b.Out)
		}
	}

	havePrev := false
	prevSlope := 0.0
	for i := 1; i < len(cleaned); i++ {
		a, b := cleaned[i-1], cleaned[i]
		dx := b.In - a.In
		if dx <= shapeXAbsEps {
			continue
		}
		slope := (b.Out - a.Out) / dx
		if havePrev {
			scale := math.Max(math.Max(math.Abs(prevSlope), math.Abs(slope)), 1e-6)
			if slope > prevSlope+shapeSlopeAbsTol+shapeSlopeRelTol*scale {
				return fmt.Sprintf("concavity violated: slope rose from %.9f to %.9f between inputs %.6f and %.6f",
					prevSlope, slope, a.In, b.In)
			}
		}
		prevSlope = slope
		havePrev = true
	}
	return ""
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
