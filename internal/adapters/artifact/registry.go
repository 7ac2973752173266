package artifact

// registry.go - resuelve referencias de estrategia a artifacts.
//
// Las estrategias incluidas traen las dos formas cuando existe un programa bytecode. Una
// referencia con rutas se carga de disco; un nombre solo se busca en el registry.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alejandrodnm/propamm/internal/adapters/bpfvm"
	"github.com/alejandrodnm/propamm/internal/adapters/native"
	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
	"github.com/alejandrodnm/propamm/internal/strategy"
)

// NameBurner es el programa, solo interpretado, que siempre se pasa del budget.
const NameBurner = "burner"

// Artifact contiene las formas compiladas de una estrategia. Cualquiera puede faltar.
type Artifact struct {
	name    string
	native  *strategy.Strategy
	program *bpfvm.Program
	budget  uint64
	logger  *slog.Logger
}

// New construye un artifact. Un budget 0 usa bpfvm.DefaultBudget.
func New(name string, nat *strategy.Strategy, prog *bpfvm.Program, budget uint64) *Artifact {
	return &Artifact{
		name:    name,
		native:  nat,
		program: prog,
		budget:  budget,
		logger:  slog.With("component", "bpfvm", "strategy", name),
	}
}

// Name devuelve el nombre de la estrategia.
func (a *Artifact) Name() string { return a.name }

// HasForm indica si el artifact trae form.
func (a *Artifact) HasForm(form domain.BackendForm) bool {
	if form == domain.FormInterpreted {
		return a.program != nil
	}
	return a.native != nil
}

// NewNative devuelve un backend nativo nuevo.
func (a *Artifact) NewNative() (ports.Backend, error) {
	if a.native == nil {
		return nil, fmt.Errorf("artifact %q: %w: %s", a.name, domain.ErrFormUnavailable, domain.FormNative)
	}
	b, err := native.New(*a.native)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewInterpreted devuelve un backend medido nuevo.
func (a *Artifact) NewInterpreted() (ports.Backend, error) {
	if a.program == nil {
		return nil, fmt.Errorf("artifact %q: %w: %s", a.name, domain.ErrFormUnavailable, domain.FormInterpreted)
	}
	b, err := bpfvm.NewBackend(a.program, a.budget, bpfvm.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Registry implementa ports.ArtifactProvider.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]*Artifact
	budget uint64
}

// NewRegistry devuelve un registry vacío; los artifacts cargados de disco usan budget.
func NewRegistry(budget uint64) *Registry {
	return &Registry{items: make(map[string]*Artifact), budget: budget}
}

// Add registra a y reemplaza cualquier artifact con el mismo nombre.
func (r *Registry) Add(a *Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[a.name] = a
}

// Names lista los artifacts registrados en orden léxico.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for n := range r.items {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Load resuelve ref. Las rutas tienen prioridad sobre los nombres registrados; si en disco
// solo hay una forma, la otra no está disponible.
func (r *Registry) Load(ctx context.Context, ref domain.ArtifactRef) (ports.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.NativePlugin == "" && ref.BPFProgram == "" {
		r.mu.RLock()
		a, ok := r.items[ref.Name]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("artifact.Load: unknown strategy %q", ref.Name)
		}
		return a, nil
	}

	var nat *strategy.Strategy
	if ref.NativePlugin != "" {
		s, err := native.LoadPlugin(ref.NativePlugin, ref.Name)
		if err != nil {
			return nil, fmt.Errorf("artifact.Load: %w", err)
		}
		nat = &s
	}
	var prog *bpfvm.Program
	if ref.BPFProgram != "" {
		p, err := bpfvm.LoadELFFile(ref.BPFProgram, ref.Name)
		if err != nil {
			return nil, fmt.Errorf("artifact.Load: %w", err)
		}
		prog = p
	}
	a := New(ref.Name, nat, prog, r.budget)
	r.Add(a)
	return a, nil
}

// Builtins devuelve un registry precargado con las estrategias de referencia.
func Builtins(budget uint64) (*Registry, error) {
	r := NewRegistry(budget)
	natives := strategy.Builtins()

	programs := map[string]func() (*bpfvm.Program, error){
		strategy.NameNormalizer: func() (*bpfvm.Program, error) {
			return bpfvm.ConstantProduct(strategy.NameNormalizer, 0, true)
		},
		strategy.NameCP30: func() (*bpfvm.Program, error) {
			return bpfvm.ConstantProduct(strategy.NameCP30, strategy.DefaultFeeBps, false)
		},
		strategy.NameStarter: func() (*bpfvm.Program, error) {
			return bpfvm.ConstantProduct(strategy.NameStarter, strategy.StarterFeeBps, false)
		},
		strategy.NameStorageEcho: func() (*bpfvm.Program, error) { return bpfvm.StorageEcho(strategy.NameStorageEcho) },
		strategy.NameStepCounter: func() (*bpfvm.Program, error) { return bpfvm.StepCounter(strategy.NameStepCounter) },
		NameBurner:               func() (*bpfvm.Program, error) { return bpfvm.Burner(NameBurner) },
	}

	for _, name := range natives.Names() {
		s, _ := natives.Get(name)
		var prog *bpfvm.Program
		if build, ok := programs[name]; ok {
			p, err := build()
			if err != nil {
				return nil, fmt.Errorf("artifact.Builtins: %s: %w", name, err)
			}
			prog = p
		}
		r.Add(New(name, &s, prog, budget))
	}

	burner, err := programs[NameBurner]()
	if err != nil {
		return nil, fmt.Errorf("artifact.Builtins: %s: %w", NameBurner, err)
	}
	r.Add(New(NameBurner, nil, burner, budget))
	return r, nil
}
