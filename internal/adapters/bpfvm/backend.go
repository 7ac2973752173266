package bpfvm

// backend.go - forma de ejecución interpretada.
//
// Cada llamada se mide contra el budget; ante cualquier fallo se descarta el resultado y
// el storage queda como estaba. Una llamada price debe dejar exactamente 8 bytes de
// return data y salir con r0 == 0.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// Backend implementa ports.Backend sobre una VM.
// No es seguro para uso concurrente; cada simulación tiene su instancia.
type Backend struct {
	vm        *VM
	priceBuf  []byte
	notifyBuf []byte
	peak      uint64
}

// Option configura un Backend.
type Option func(*Backend)

// WithLogger manda la salida de sol_log_ a logger en nivel debug.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) { b.vm.logger = logger }
}

// NewBackend devuelve un backend medido para prog. Un budget 0 usa DefaultBudget.
func NewBackend(prog *Program, budget uint64, opts ...Option) (*Backend, error) {
	if prog == nil {
		return nil, errors.New("bpfvm.NewBackend: nil program")
	}
	b := &Backend{
		vm:        NewVM(prog, budget, slog.Default()),
		priceBuf:  make([]byte, domain.PriceCallSize),
		notifyBuf: make([]byte, domain.NotifyCallSize),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name devuelve el nombre del programa.
func (b *Backend) Name() string { return b.vm.prog.Name }

// Form indica la forma interpretada.
func (b *Backend) Form() domain.BackendForm { return domain.FormInterpreted }

// Budget devuelve el techo de compute units por llamada.
func (b *Backend) Budget() uint64 { return b.vm.budget }

// PeakUnits devuelve el máximo de compute units visto hasta ahora.
func (b *Backend) PeakUnits() uint64 { return b.peak }

// Price corre el programa sobre el layout de price y decodifica los 8 bytes de return data.
func (b *Backend) Price(call domain.PriceCall, storage *domain.Storage) (domain.Execution, error) {
	if err := domain.EncodePrice(b.priceBuf, call, storage); err != nil {
		return domain.Execution{}, err
	}
	r0, err := b.vm.execute(b.priceBuf, false)
	units := b.observe()
	if err != nil {
		return domain.Execution{Units: units}, b.fault("price", call.Inputs(), err)
	}
	if r0 != 0 {
		return domain.Execution{Units: units}, domain.NewExecutionFault("price", call.Inputs(), domain.ErrTrap,
			fmt.Sprintf("exit code %d", r0))
	}
	if !b.vm.hasReturn || b.vm.returnLen != maxReturnData {
		return domain.Execution{Units: units}, domain.NewExecutionFault("price", call.Inputs(), domain.ErrReturnData,
			fmt.Sprintf("got %d bytes, want %d", b.vm.returnLen, maxReturnData))
	}
	return domain.Execution{
		Output: binary.LittleEndian.Uint64(b.vm.returnData[:]),
		Units:  units,
	}, nil
}

// Notify corre el programa sobre el layout de notify. El storage solo se reemplaza si el
// programa llamó a sol_set_storage y salió limpio.
func (b *Backend) Notify(call domain.NotifyCall, storage *domain.Storage) (domain.Execution, error) {
	if err := domain.EncodeNotify(b.notifyBuf, call, storage); err != nil {
		return domain.Execution{}, err
	}
	b.vm.pendingStorage = *storage
	r0, err := b.vm.execute(b.notifyBuf, true)
	units := b.observe()
	if err != nil {
		return domain.Execution{Units: units}, b.fault("notify", call.Inputs(), err)
	}
	if r0 != 0 {
		return domain.Execution{Units: units}, domain.NewExecutionFault("notify", call.Inputs(), domain.ErrTrap,
			fmt.Sprintf("exit code %d", r0))
	}
	if b.vm.storageSet {
		*storage = b.vm.pendingStorage
	}
	return domain.Execution{Units: units}, nil
}

func (b *Backend) observe() uint64 {
	u := min(b.vm.used, b.vm.budget+1)
	b.peak = max(b.peak, u)
	return u
}

// fault clasifica un error de la VM. Los de budget y return data conservan su causa;
// el resto es un trap.
func (b *Backend) fault(op string, in domain.CallInputs, err error) error {
	cause := domain.ErrTrap
	switch {
	case errors.Is(err, domain.ErrBudgetExceeded):
		cause = domain.ErrBudgetExceeded
	case errors.Is(err, domain.ErrReturnData):
		cause = domain.ErrReturnData
	}
	return domain.NewExecutionFault(op, in, cause, err.Error())
}
