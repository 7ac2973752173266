package domain

// Range es un intervalo uniforme semiabierto [Min, Max).
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// At mapea u en [0,1) sobre el rango.
func (r Range) At(u float64) float64 { return r.Min + (r.Max-r.Min)*u }

// HyperRanges acota los hiperparámetros de cada simulación.
type HyperRanges struct {
	Sigma       Range
	ArrivalRate Range
	MeanSize    Range
}

// DefaultHyperRanges devuelve los rangos base.
func DefaultHyperRanges() HyperRanges {
	return HyperRanges{
		Sigma:       Range{Min: 0.000882, Max: 0.001008},
		ArrivalRate: Range{Min: 0.6, Max: 1.0},
		MeanSize:    Range{Min: 19, Max: 21},
	}
}

// SimParams se sortean una vez por simulación y se mantienen en todos sus pasos.
type SimParams struct {
	Seed        uint64
	Sigma       float64
	ArrivalRate float64
	MeanSize    float64
}

// SeedSchedule enumera las seeds como Start + i*Stride.
type SeedSchedule struct {
	Start  uint64
	Stride uint64
	Count  int
}

// DefaultSeeds es el schedule local 0..n-1.
func DefaultSeeds(n int) SeedSchedule {
	return SeedSchedule{Start: 0, Stride: 1, Count: n}
}

// Seeds expande el schedule. Un stride 0 cuenta como 1.
func (s SeedSchedule) Seeds() []uint64 {
	if s.Count <= 0 {
		return nil
	}
	stride := s.Stride
	if stride == 0 {
		stride = 1
	}
	out := make([]uint64, s.Count)
	for i := range out {
		out[i] = s.Start + uint64(i)*stride
	}
	return out
}
