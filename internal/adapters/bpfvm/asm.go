package bpfvm

import (
	"fmt"
)

// EntryLabel marks the entrypoint; without it execution starts at slot 0.
const EntryLabel = "entrypoint"

type fixup struct {
	pc    int
	label string
	call  bool
}

// Builder assembles a Program with symbolic labels.
type Builder struct {
	name   string
	text   []Instruction
	rodata []byte
	labels map[string]int
	fixups []fixup
	uniq   int
	err    error
}

// NewBuilder starts an empty program.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, labels: make(map[string]int)}
}

func (b *Builder) emit(ins Instruction) *Builder {
	b.text = append(b.text, ins)
	return b
}

// Label binds name to the next emitted slot.
func (b *Builder) Label(name string) *Builder {
	if _, dup := b.labels[name]; dup && b.err == nil {
		b.err = fmt.Errorf("bpfvm.Builder: duplicate label %q", name)
	}
	b.labels[name] = len(b.text)
	return b
}

// Unique returns a fresh label name with the given prefix.
func (b *Builder) Unique(prefix string) string {
	b.uniq++
	return fmt.Sprintf(".%s.%d", prefix, b.uniq)
}

// ROData appends data to the read-only image and returns its virtual address.
func (b *Builder) ROData(data []byte) uint64 {
	addr := MMProgramStart + uint64(len(b.rodata))
	b.rodata = append(b.rodata, data...)
	return addr
}

// Mov64 sets dst to a sign-extended immediate.
func (b *Builder) Mov64(dst Reg, imm int32) *Builder {
	return b.emit(Instruction{Op: OpMov64, Dst: dst, Imm: imm})
}

// MovReg copies src into dst.
func (b *Builder) MovReg(dst, src Reg) *Builder {
	return b.emit(Instruction{Op: ClassALU64 | AluMov | SrcX, Dst: dst, Src: src})
}

// LoadImm64 emits lddw.
func (b *Builder) LoadImm64(dst Reg, v uint64) *Builder {
	b.emit(Instruction{Op: OpLDDW, Dst: dst, Imm: int32(uint32(v))})
	return b.emit(Instruction{Imm: int32(uint32(v >> 32))})
}

// ALU64 emits a 64-bit ALU op with an immediate operand.
func (b *Builder) ALU64(op uint8, dst Reg, imm int32) *Builder {
	return b.emit(Instruction{Op: ClassALU64 | op | SrcK, Dst: dst, Imm: imm})
}

// ALU64Reg emits a 64-bit ALU op with a register operand.
func (b *Builder) ALU64Reg(op uint8, dst, src Reg) *Builder {
	return b.emit(Instruction{Op: ClassALU64 | op | SrcX, Dst: dst, Src: src})
}

// ALU32 emits a 32-bit ALU op with an immediate operand.
func (b *Builder) ALU32(op uint8, dst Reg, imm int32) *Builder {
	return b.emit(Instruction{Op: ClassALU | op | SrcK, Dst: dst, Imm: imm})
}

// ALU32Reg emits a 32-bit ALU op with a register operand.
func (b *Builder) ALU32Reg(op uint8, dst, src Reg) *Builder {
	return b.emit(Instruction{Op: ClassALU | op | SrcX, Dst: dst, Src: src})
}

// PQR64Reg emits a 64-bit product/quotient/remainder op with a register operand.
func (b *Builder) PQR64Reg(op uint8, dst, src Reg) *Builder {
	return b.emit(Instruction{Op: ClassPQR | PqrWide | op | SrcX, Dst: dst, Src: src})
}

// PQR64 emits a 64-bit product/quotient/remainder op with an immediate operand.
func (b *Builder) PQR64(op uint8, dst Reg, imm int32) *Builder {
	return b.emit(Instruction{Op: ClassPQR | PqrWide | op | SrcK, Dst: dst, Imm: imm})
}

// Load emits ldx{b,h,w,dw} dst, [src+off].
func (b *Builder) Load(size uint8, dst, src Reg, off int16) *Builder {
	return b.emit(Instruction{Op: ClassLDX | ModeMEM | size, Dst: dst, Src: src, Off: off})
}

// Store emits stx [dst+off], src.
func (b *Builder) Store(size uint8, dst Reg, off int16, src Reg) *Builder {
	return b.emit(Instruction{Op: ClassSTX | ModeMEM | size, Dst: dst, Src: src, Off: off})
}

// StoreImm emits st [dst+off], imm.
func (b *Builder) StoreImm(size uint8, dst Reg, off int16, imm int32) *Builder {
	return b.emit(Instruction{Op: ClassST | ModeMEM | size, Dst: dst, Off: off, Imm: imm})
}

// Jump emits a conditional jump comparing dst with an immediate.
func (b *Builder) Jump(op uint8, dst Reg, imm int32, label string) *Builder {
	b.fixups = append(b.fixups, fixup{pc: len(b.text), label: label})
	return b.emit(Instruction{Op: ClassJMP | op | SrcK, Dst: dst, Imm: imm})
}

// JumpReg emits a conditional jump comparing dst with src.
func (b *Builder) JumpReg(op uint8, dst, src Reg, label string) *Builder {
	b.fixups = append(b.fixups, fixup{pc: len(b.text), label: label})
	return b.emit(Instruction{Op: ClassJMP | op | SrcX, Dst: dst, Src: src})
}

// Ja emits an unconditional jump.
func (b *Builder) Ja(label string) *Builder {
	b.fixups = append(b.fixups, fixup{pc: len(b.text), label: label})
	return b.emit(Instruction{Op: OpJA})
}

// Call emits an internal call to label.
func (b *Builder) Call(label string) *Builder {
	b.fixups = append(b.fixups, fixup{pc: len(b.text), label: label, call: true})
	return b.emit(Instruction{Op: OpCall, Src: CallInternal})
}

// Syscall emits a call to the named syscall.
func (b *Builder) Syscall(name string) *Builder {
	return b.emit(Instruction{Op: OpCall, Src: CallSyscall, Imm: int32(SymbolHash(name))})
}

// Exit emits exit.
func (b *Builder) Exit() *Builder {
	return b.emit(Instruction{Op: OpExit})
}

// Return sets r0 and exits.
func (b *Builder) Return(code int32) *Builder {
	return b.Mov64(R0, code).Exit()
}

// Div128 emits a 64-round restoring division of hi:lo by d.
// On exit q holds the quotient and hi the remainder. Requires hi < d.
// cnt, t and u are clobbered; lo is consumed.
func (b *Builder) Div128(hi, lo, d, q, cnt, t, u Reg) *Builder {
	loop := b.Unique("div_loop")
	sub := b.Unique("div_sub")
	next := b.Unique("div_next")

	b.Mov64(q, 0).Mov64(cnt, 64)
	b.Label(loop)
	b.MovReg(t, hi).ALU64(AluRsh, t, 63)
	b.ALU64(AluLsh, hi, 1)
	b.MovReg(u, lo).ALU64(AluRsh, u, 63).ALU64Reg(AluOr, hi, u)
	b.ALU64(AluLsh, lo, 1)
	b.ALU64(AluLsh, q, 1)
	b.Jump(JmpJNE, t, 0, sub)
	b.JumpReg(JmpJLT, hi, d, next)
	b.Label(sub)
	b.ALU64Reg(AluSub, hi, d)
	b.ALU64(AluOr, q, 1)
	b.Label(next)
	b.ALU64(AluSub, cnt, 1)
	return b.Jump(JmpJNE, cnt, 0, loop)
}

// Build resolves labels and verifies the program.
func (b *Builder) Build() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	text := make([]Instruction, len(b.text))
	copy(text, b.text)
	for _, f := range b.fixups {
		target, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("bpfvm.Builder: undefined label %q", f.label)
		}
		rel := target - f.pc - 1
		if f.call {
			text[f.pc].Imm = int32(rel)
			continue
		}
		if rel < -1<<15 || rel >= 1<<15 {
			return nil, fmt.Errorf("bpfvm.Builder: jump to %q out of range", f.label)
		}
		text[f.pc].Off = int16(rel)
	}
	entry := 0
	if pc, ok := b.labels[EntryLabel]; ok {
		entry = pc
	}
	return NewProgram(b.name, text, b.rodata, entry)
}
