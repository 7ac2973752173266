package domain

// call.go - layout binario compartido por las dos formas de ejecución.
//
// Price call (1049 bytes):
//   [0]       side (0 = buy X with Y input, 1 = sell X)
//   [1..9)    input amount  u64 LE, 1e9 scale
//   [9..17)   reserve_x     u64 LE
//   [17..25)  reserve_y     u64 LE
//   [25..1049) storage view (read-only)
//
// Notify call (1066 bytes):
//   [0]       tag = 2
//   [1]       side
//   [2..10)   input amount
//   [10..18)  output amount
//   [18..26)  post-trade reserve_x
//   [26..34)  post-trade reserve_y
//   [34..42)  step
//   [42..1066) storage (read/write)

import (
	"encoding/binary"
	"fmt"
)

const (
	StorageSize = 1024

	priceHeaderSize  = 25
	notifyHeaderSize = 42

	PriceCallSize  = priceHeaderSize + StorageSize
	NotifyCallSize = notifyHeaderSize + StorageSize

	// NotifyTag marca una notificación post-trade en el byte 0.
	NotifyTag = 2

	// PriceStorageOffset y NotifyStorageOffset ubican el storage en cada layout.
	PriceStorageOffset  = priceHeaderSize
	NotifyStorageOffset = notifyHeaderSize
)

// Side es el lado del trader en un swap.
type Side uint8

const (
	SideBuy  Side = 0 // trader pays Y, receives X
	SideSell Side = 1 // trader pays X, receives Y
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid indica si s es uno de los dos lados definidos.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Storage es el buffer de trabajo de la estrategia, uno por simulación.
type Storage [StorageSize]byte

// Reset pone el buffer a cero.
func (s *Storage) Reset() { *s = Storage{} }

// PriceCall pide a la estrategia el output de un swap hipotético.
type PriceCall struct {
	Side     Side
	Amount   uint64
	ReserveX uint64
	ReserveY uint64
}

// Inputs returns the call as fault context.
func (c PriceCall) Inputs() CallInputs {
	return CallInputs{Side: c.Side, Amount: c.Amount, ReserveX: c.ReserveX, ReserveY: c.ReserveY}
}

// NotifyCall informa a la estrategia de un swap ejecutado.
type NotifyCall struct {
	Side     Side
	Input    uint64
	Output   uint64
	ReserveX uint64
	ReserveY uint64
	Step     uint64
}

// Inputs returns the call as fault context.
func (c NotifyCall) Inputs() CallInputs {
	return CallInputs{
		Side: c.Side, Amount: c.Input, Output: c.Output,
		ReserveX: c.ReserveX, ReserveY: c.ReserveY, Step: c.Step,
	}
}

// Execution es el resultado de una llamada al backend.
type Execution struct {
	Output uint64
	Units  uint64 // metered compute units; 0 on the native form
}

// EncodePrice escribe el layout de price en dst, que debe tener PriceCallSize bytes.
func EncodePrice(dst []byte, c PriceCall, storage *Storage) error {
	if len(dst) < PriceCallSize {
		return NewMalformedInput("encode price", c.Inputs(),
			fmt.Sprintf("buffer is %d bytes, need %d", len(dst), PriceCallSize))
	}
	if !c.Side.Valid() {
		return NewMalformedInput("encode price", c.Inputs(), "unknown side")
	}
	dst[0] = byte(c.Side)
	binary.LittleEndian.PutUint64(dst[1:9], c.Amount)
	binary.LittleEndian.PutUint64(dst[9:17], c.ReserveX)
	binary.LittleEndian.PutUint64(dst[17:25], c.ReserveY)
	copy(dst[PriceStorageOffset:PriceCallSize], storage[:])
	return nil
}

// DecodePrice parsea un layout de price. El storage se devuelve como subslice de data.
func DecodePrice(data []byte) (PriceCall, []byte, error) {
	if len(data) != PriceCallSize {
		return PriceCall{}, nil, NewMalformedInput("decode price", CallInputs{},
			fmt.Sprintf("got %d bytes, want %d", len(data), PriceCallSize))
	}
	c := PriceCall{
		Side:     Side(data[0]),
		Amount:   binary.LittleEndian.Uint64(data[1:9]),
		ReserveX: binary.LittleEndian.Uint64(data[9:17]),
		ReserveY: binary.LittleEndian.Uint64(data[17:25]),
	}
	if !c.Side.Valid() {
		return PriceCall{}, nil, NewMalformedInput("decode price", c.Inputs(), "unknown side")
	}
	return c, data[PriceStorageOffset:PriceCallSize], nil
}

// EncodeNotify escribe el layout de notify en dst, que debe tener NotifyCallSize bytes.
func EncodeNotify(dst []byte, c NotifyCall, storage *Storage) error {
	if len(dst) < NotifyCallSize {
		return NewMalformedInput("encode notify", c.Inputs(),
			fmt.Sprintf("buffer is %d bytes, need %d", len(dst), NotifyCallSize))
	}
	if !c.Side.Valid() {
		return NewMalformedInput("encode notify", c.Inputs(), "unknown side")
	}
	dst[0] = NotifyTag
	dst[1] = byte(c.Side)
	binary.LittleEndian.PutUint64(dst[2:10], c.Input)
	binary.LittleEndian.PutUint64(dst[10:18], c.Output)
	binary.LittleEndian.PutUint64(dst[18:26], c.ReserveX)
	binary.LittleEndian.PutUint64(dst[26:34], c.ReserveY)
	binary.LittleEndian.PutUint64(dst[34:42], c.Step)
	copy(dst[NotifyStorageOffset:NotifyCallSize], storage[:])
	return nil
}

// DecodeNotify parsea un layout de notify. El storage se devuelve como subslice de data.
func DecodeNotify(data []byte) (NotifyCall, []byte, error) {
	if len(data) != NotifyCallSize {
		return NotifyCall{}, nil, NewMalformedInput("decode notify", CallInputs{},
			fmt.Sprintf("got %d bytes, want %d", len(data), NotifyCallSize))
	}
	if data[0] != NotifyTag {
		return NotifyCall{}, nil, NewMalformedInput("decode notify", CallInputs{},
			fmt.Sprintf("tag %d, want %d", data[0], NotifyTag))
	}
	c := NotifyCall{
		Side:     Side(data[1]),
		Input:    binary.LittleEndian.Uint64(data[2:10]),
		Output:   binary.LittleEndian.Uint64(data[10:18]),
		ReserveX: binary.LittleEndian.Uint64(data[18:26]),
		ReserveY: binary.LittleEndian.Uint64(data[26:34]),
		Step:     binary.LittleEndian.Uint64(data[34:42]),
	}
	if !c.Side.Valid() {
		return NotifyCall{}, nil, NewMalformedInput("decode notify", c.Inputs(), "unknown side")
	}
	return c, data[NotifyStorageOffset:NotifyCallSize], nil
}
