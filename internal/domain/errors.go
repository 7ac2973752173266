package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Tipos de error. Todo fallo atribuible a la estrategia envuelve exactamente uno de estos.
var (
	ErrMalformedInput    = errors.New("malformed input")
	ErrExecutionFault    = errors.New("execution fault")
	ErrPropertyViolation = errors.New("property violation")
	ErrParityViolation   = errors.New("parity violation")
)

// Causas de un execution fault.
var (
	ErrBudgetExceeded = errors.New("compute budget exceeded")
	ErrTrap           = errors.New("trap")
	ErrReturnData     = errors.New("invalid return data")
	ErrNonFinite      = errors.New("non-finite result")
)

// ErrFormUnavailable lo devuelven los artifacts que no traen la forma pedida.
var ErrFormUnavailable = errors.New("backend form unavailable")

// CallInputs identifica la llamada que falló para poder reproducirla.
type CallInputs struct {
	Side     Side
	Amount   uint64
	Output   uint64
	ReserveX uint64
	ReserveY uint64
	Step     uint64
}

func (in CallInputs) String() string {
	return fmt.Sprintf("side=%s amount=%d output=%d rx=%d ry=%d step=%d",
		in.Side, in.Amount, in.Output, in.ReserveX, in.ReserveY, in.Step)
}

// FaultError es un fallo clasificado con las entradas que lo provocaron.
type FaultError struct {
	Kind   error // ErrMalformedInput | ErrExecutionFault | ErrPropertyViolation | ErrParityViolation
	Op     string
	Inputs CallInputs
	Detail string
	Err    error // causa subyacente, puede ser nil
}

func (e *FaultError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Op != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Op)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	sb.WriteString(" [")
	sb.WriteString(e.Inputs.String())
	sb.WriteString("]")
	return sb.String()
}

func (e *FaultError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewMalformedInput reporta una llamada rechazada antes de llegar a la estrategia.
func NewMalformedInput(op string, in CallInputs, detail string) *FaultError {
	return &FaultError{Kind: ErrMalformedInput, Op: op, Inputs: in, Detail: detail}
}

// NewExecutionFault reporta una llamada que hizo trap, se pasó de budget o devolvió basura.
func NewExecutionFault(op string, in CallInputs, cause error, detail string) *FaultError {
	return &FaultError{Kind: ErrExecutionFault, Op: op, Inputs: in, Err: cause, Detail: detail}
}

// NewPropertyViolation reporta un fallo de monotonía o convexidad.
func NewPropertyViolation(op string, in CallInputs, detail string) *FaultError {
	return &FaultError{Kind: ErrPropertyViolation, Op: op, Inputs: in, Detail: detail}
}

// NewParityViolation reporta una diferencia entre la forma nativa y la interpretada.
func NewParityViolation(op string, in CallInputs, detail string) *FaultError {
	return &FaultError{Kind: ErrParityViolation, Op: op, Inputs: in, Detail: detail}
}

var kinds = []error{ErrMalformedInput, ErrExecutionFault, ErrPropertyViolation, ErrParityViolation}

// KindOf devuelve el tipo de err en la taxonomía, o nil si no está clasificado.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindByName devuelve el tipo cuyo mensaje es name, o nil.
func KindByName(name string) error {
	for _, k := range kinds {
		if k.Error() == name {
			return k
		}
	}
	return nil
}
