package native

import (
	"fmt"
	"plugin"

	"github.com/alejandrodnm/propamm/internal/strategy"
)

// Símbolos exportados que se buscan en el plugin de una estrategia.
const (
	SymbolSwap      = "ComputeSwap"
	SymbolAfterSwap = "AfterSwap"
)

// LoadPlugin abre un plugin Go compilado con -buildmode=plugin y enlaza sus entry points.
// ComputeSwap es obligatorio, AfterSwap es opcional.
func LoadPlugin(path, name string) (strategy.Strategy, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return strategy.Strategy{}, fmt.Errorf("native.LoadPlugin: open %q: %w", path, err)
	}

	sym, err := p.Lookup(SymbolSwap)
	if err != nil {
		return strategy.Strategy{}, fmt.Errorf("native.LoadPlugin: lookup %s: %w", SymbolSwap, err)
	}
	swap, err := asSwap(sym)
	if err != nil {
		return strategy.Strategy{}, fmt.Errorf("native.LoadPlugin: %w", err)
	}

	s := strategy.Strategy{Name: name, Swap: swap}
	if sym, err := p.Lookup(SymbolAfterSwap); err == nil {
		after, err := asAfterSwap(sym)
		if err != nil {
			return strategy.Strategy{}, fmt.Errorf("native.LoadPlugin: %w", err)
		}
		s.AfterSwap = after
	}
	return s, nil
}

func asSwap(sym plugin.Symbol) (strategy.SwapFunc, error) {
	switch f := sym.(type) {
	case func([]byte) uint64:
		return f, nil
	case *func([]byte) uint64:
		return *f, nil
	}
	return nil, fmt.Errorf("%s has type %T, want func([]byte) uint64", SymbolSwap, sym)
}

func asAfterSwap(sym plugin.Symbol) (strategy.AfterSwapFunc, error) {
	switch f := sym.(type) {
	case func([]byte, []byte) bool:
		return f, nil
	case *func([]byte, []byte) bool:
		return *f, nil
	}
	return nil, fmt.Errorf("%s has type %T, want func([]byte, []byte) bool", SymbolAfterSwap, sym)
}
