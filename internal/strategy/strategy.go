package strategy

import "sort"

// SwapFunc cotiza un swap desde el layout crudo de price y devuelve el output en unidades 1e9.
type SwapFunc func(data []byte) uint64

// AfterSwapFunc recibe el layout crudo de notify y una copia escribible del storage.
// Devuelve true si la copia debe reemplazar el storage de la estrategia.
type AfterSwapFunc func(data []byte, storage []byte) bool

// Strategy es una estrategia de precio compilada de forma nativa.
type Strategy struct {
	Name      string
	Swap      SwapFunc
	AfterSwap AfterSwapFunc // nil: notify nunca actualiza el storage
}

// Registry contiene las estrategias nativas disponibles, indexadas por nombre.
type Registry map[string]Strategy

// NewRegistry crea un registry vacío.
func NewRegistry() Registry {
	return make(Registry)
}

// Register añade una estrategia al registry.
func (r Registry) Register(s Strategy) {
	r[s.Name] = s
}

// Get devuelve la estrategia registrada como name.
func (r Registry) Get(name string) (Strategy, bool) {
	s, ok := r[name]
	return s, ok
}

// Names lista las estrategias registradas en orden léxico.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Builtins devuelve un registry con todas las estrategias de referencia.
func Builtins() Registry {
	r := NewRegistry()
	r.Register(Strategy{Name: NameNormalizer, Swap: NormalizerSwap})
	r.Register(Strategy{Name: NameCP30, Swap: FixedFeeSwap(30)})
	r.Register(Strategy{Name: NameStarter, Swap: FixedFeeSwap(StarterFeeBps)})
	r.Register(Strategy{Name: NameLinear, Swap: LinearSwap})
	r.Register(Strategy{Name: NameNonMonotonic, Swap: NonMonotonicSwap})
	r.Register(Strategy{Name: NameNonConvex, Swap: NonConvexSwap})
	r.Register(Strategy{Name: NameStorageEcho, Swap: StorageEchoSwap, AfterSwap: StorageEchoAfterSwap})
	r.Register(Strategy{Name: NameStepCounter, Swap: FixedFeeSwap(30), AfterSwap: StepCounterAfterSwap})
	return r
}
