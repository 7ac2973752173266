package native

// backend.go - forma de ejecución nativa: funciones de la estrategia en el mismo proceso.
//
// Las llamadas nativas no se miden. Un panic dentro de la estrategia se recupera y se
// reporta como trap: una estrategia rota tumba su simulación, no el proceso.

import (
	"fmt"

	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/strategy"
)

// Backend implementa ports.Backend con llamadas directas.
// No es seguro para uso concurrente; cada simulación tiene su instancia.
type Backend struct {
	name      string
	swap      strategy.SwapFunc
	afterSwap strategy.AfterSwapFunc
	priceBuf  []byte
	notifyBuf []byte
	scratch   domain.Storage
}

// New envuelve una estrategia nativa.
func New(s strategy.Strategy) (*Backend, error) {
	if s.Swap == nil {
		return nil, fmt.Errorf("native.New: strategy %q has no swap function", s.Name)
	}
	return &Backend{
		name:      s.Name,
		swap:      s.Swap,
		afterSwap: s.AfterSwap,
		priceBuf:  make([]byte, domain.PriceCallSize),
		notifyBuf: make([]byte, domain.NotifyCallSize),
	}, nil
}

// Name devuelve el nombre de la estrategia.
func (b *Backend) Name() string { return b.name }

// Form indica la forma nativa.
func (b *Backend) Form() domain.BackendForm { return domain.FormNative }

// Price llama a la función de swap con el layout de price codificado.
func (b *Backend) Price(call domain.PriceCall, storage *domain.Storage) (exec domain.Execution, err error) {
	if err := domain.EncodePrice(b.priceBuf, call, storage); err != nil {
		return domain.Execution{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			exec = domain.Execution{}
			err = domain.NewExecutionFault("price", call.Inputs(), domain.ErrTrap, fmt.Sprint(r))
		}
	}()
	return domain.Execution{Output: b.swap(b.priceBuf)}, nil
}

// Notify llama a la función after-swap sobre una copia del storage y solo la confirma
// cuando la función indica un cambio.
func (b *Backend) Notify(call domain.NotifyCall, storage *domain.Storage) (exec domain.Execution, err error) {
	if err := domain.EncodeNotify(b.notifyBuf, call, storage); err != nil {
		return domain.Execution{}, err
	}
	if b.afterSwap == nil {
		return domain.Execution{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			exec = domain.Execution{}
			err = domain.NewExecutionFault("notify", call.Inputs(), domain.ErrTrap, fmt.Sprint(r))
		}
	}()
	b.scratch = *storage
	if b.afterSwap(b.notifyBuf, b.scratch[:]) {
		*storage = b.scratch
	}
	return domain.Execution{}, nil
}
