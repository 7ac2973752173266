package bpfvm

// isa.go - instruction set of the interpreter.
//
// Encoding is classic eBPF: 8 bytes per slot,
//   byte 0  opcode  (class | size/op | mode/source)
//   byte 1  dst (low nibble) | src (high nibble)
//   2..4    offset  int16 LE
//   4..8    imm     int32 LE
// lddw takes two slots, the second carrying the upper 32 bits in imm.
// Class 0x06 is reserved for the sBPF product/quotient/remainder (PQR) group
// used for 128-bit arithmetic.

import (
	"encoding/binary"
	"fmt"
)

// Instruction classes.
const (
	ClassLD    = 0x00
	ClassLDX   = 0x01
	ClassST    = 0x02
	ClassSTX   = 0x03
	ClassALU   = 0x04
	ClassJMP   = 0x05
	ClassPQR   = 0x06
	ClassALU64 = 0x07
)

// Memory access sizes and modes.
const (
	SizeW  = 0x00
	SizeH  = 0x08
	SizeB  = 0x10
	SizeDW = 0x18

	ModeIMM = 0x00
	ModeMEM = 0x60
)

// Source selector for ALU and JMP.
const (
	SrcK = 0x00
	SrcX = 0x08
)

// ALU operations.
const (
	AluAdd  = 0x00
	AluSub  = 0x10
	AluMul  = 0x20
	AluDiv  = 0x30
	AluOr   = 0x40
	AluAnd  = 0x50
	AluLsh  = 0x60
	AluRsh  = 0x70
	AluNeg  = 0x80
	AluMod  = 0x90
	AluXor  = 0xa0
	AluMov  = 0xb0
	AluArsh = 0xc0
	AluEnd  = 0xd0
)

// Jump operations.
const (
	JmpJA   = 0x00
	JmpJEQ  = 0x10
	JmpJGT  = 0x20
	JmpJGE  = 0x30
	JmpJSET = 0x40
	JmpJNE  = 0x50
	JmpJSGT = 0x60
	JmpJSGE = 0x70
	JmpCall = 0x80
	JmpExit = 0x90
	JmpJLT  = 0xa0
	JmpJLE  = 0xb0
	JmpJSLT = 0xc0
	JmpJSLE = 0xd0
)

// PQR operations. Bit 0x10 selects the 64-bit variant.
const (
	PqrWide  = 0x10
	PqrUHMul = 0x20
	PqrUDiv  = 0x40
	PqrURem  = 0x60
	PqrLMul  = 0x80
	PqrSHMul = 0xa0
	PqrSDiv  = 0xc0
	PqrSRem  = 0xe0
)

// Frequently used full opcodes.
const (
	OpLDDW  = ClassLD | SizeDW | ModeIMM // 0x18
	OpCall  = ClassJMP | JmpCall         // 0x85
	OpExit  = ClassJMP | JmpExit         // 0x95
	OpJA    = ClassJMP | JmpJA           // 0x05
	OpMov64 = ClassALU64 | AluMov | SrcK // 0xb7
)

// Call source values.
const (
	CallSyscall  = 0 // imm is a syscall hash
	CallInternal = 1 // imm is a relative slot offset
)

// SlotSize is the width of one encoded instruction slot.
const SlotSize = 8

// Reg is a register index, r0..r10.
type Reg uint8

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
)

const numRegs = 11

// Instruction is one decoded slot.
type Instruction struct {
	Op  uint8
	Dst Reg
	Src Reg
	Off int16
	Imm int32
}

func (ins Instruction) class() uint8 { return ins.Op & 0x07 }

func (ins Instruction) String() string {
	return fmt.Sprintf("op=%#02x dst=r%d src=r%d off=%d imm=%d", ins.Op, ins.Dst, ins.Src, ins.Off, ins.Imm)
}

// Encode appends the 8-byte slot encoding of ins.
func (ins Instruction) Encode(dst []byte) []byte {
	var b [SlotSize]byte
	b[0] = ins.Op
	b[1] = byte(ins.Dst&0x0f) | byte(ins.Src&0x0f)<<4
	binary.LittleEndian.PutUint16(b[2:4], uint16(ins.Off))
	binary.LittleEndian.PutUint32(b[4:8], uint32(ins.Imm))
	return append(dst, b[:]...)
}

// DecodeInstructions splits raw text into slots.
func DecodeInstructions(text []byte) ([]Instruction, error) {
	if len(text)%SlotSize != 0 {
		return nil, fmt.Errorf("bpfvm.DecodeInstructions: text length %d is not a multiple of %d", len(text), SlotSize)
	}
	out := make([]Instruction, len(text)/SlotSize)
	for i := range out {
		s := text[i*SlotSize : (i+1)*SlotSize]
		out[i] = Instruction{
			Op:  s[0],
			Dst: Reg(s[1] & 0x0f),
			Src: Reg(s[1] >> 4),
			Off: int16(binary.LittleEndian.Uint16(s[2:4])),
			Imm: int32(binary.LittleEndian.Uint32(s[4:8])),
		}
	}
	return out, nil
}

// EncodeInstructions is the inverse of DecodeInstructions.
func EncodeInstructions(text []Instruction) []byte {
	out := make([]byte, 0, len(text)*SlotSize)
	for _, ins := range text {
		out = ins.Encode(out)
	}
	return out
}
