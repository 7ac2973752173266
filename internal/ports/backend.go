package ports

import (
	"context"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// Backend invoca una estrategia compilada. Las dos formas de ejecución lo implementan
// y deben ser intercambiables: mismas entradas, mismas salidas. Cada instancia guarda
// buffers mutables y pertenece a una sola simulación o check a la vez.
type Backend interface {
	// Price cotiza un swap hipotético. Aquí el storage es de solo lectura.
	Price(call domain.PriceCall, storage *domain.Storage) (domain.Execution, error)

	// Notify informa de un swap ejecutado. La estrategia puede reemplazar el storage;
	// cualquier fallo lo deja como estaba.
	Notify(call domain.NotifyCall, storage *domain.Storage) (domain.Execution, error)

	// Form indica la forma de ejecución.
	Form() domain.BackendForm
}

// Artifact es una estrategia compilada disponible en una o ambas formas.
type Artifact interface {
	Name() string

	// NewNative devuelve un backend nativo nuevo, o domain.ErrFormUnavailable.
	NewNative() (Backend, error)

	// NewInterpreted devuelve un backend medido nuevo, o domain.ErrFormUnavailable.
	NewInterpreted() (Backend, error)
}

// ArtifactProvider resuelve referencias de estrategia a artifacts.
type ArtifactProvider interface {
	Load(ctx context.Context, ref domain.ArtifactRef) (Artifact, error)
}

// NewBackend devuelve un backend nuevo de la forma pedida.
func NewBackend(a Artifact, form domain.BackendForm) (Backend, error) {
	if form == domain.FormInterpreted {
		return a.NewInterpreted()
	}
	return a.NewNative()
}
