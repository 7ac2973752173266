package bpfvm

import "fmt"

// Program es bytecode verificado más su imagen de datos de solo lectura.
// Es inmutable una vez construido y se puede compartir entre VMs.
type Program struct {
	Name   string
	Text   []Instruction
	ROData []byte // mapped at MMProgramStart
	Entry  int    // slot index of the entrypoint
}

// NewProgram verifica text y devuelve un programa ejecutable.
func NewProgram(name string, text []Instruction, rodata []byte, entry int) (*Program, error) {
	p := &Program{Name: name, Text: text, ROData: rodata, Entry: entry}
	if err := Verify(p); err != nil {
		return nil, err
	}
	return p, nil
}

// VerifyError apunta al slot problemático.
type VerifyError struct {
	PC     int
	Ins    Instruction
	Reason string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify: pc %d (%s): %s", e.PC, e.Ins, e.Reason)
}

// Verify corre los checks estáticos que todo programa debe pasar antes de ejecutarse.
func Verify(p *Program) error {
	n := len(p.Text)
	if n == 0 {
		return &VerifyError{PC: 0, Reason: "empty program"}
	}
	if p.Entry < 0 || p.Entry >= n {
		return &VerifyError{PC: p.Entry, Reason: "entrypoint out of range"}
	}
	if last := p.Text[n-1]; last.Op != OpExit && last.Op != OpJA {
		return &VerifyError{PC: n - 1, Ins: last, Reason: "program must end with exit or ja"}
	}

	for pc := 0; pc < n; pc++ {
		ins := p.Text[pc]
		fail := func(reason string) error { return &VerifyError{PC: pc, Ins: ins, Reason: reason} }

		if ins.Src > R10 || ins.Dst > R10 {
			return fail("register out of range")
		}

		switch ins.class() {
		case ClassLD:
			if ins.Op != OpLDDW {
				return fail("unknown ld opcode")
			}
			if pc+1 >= n || p.Text[pc+1].Op != 0 {
				return fail("incomplete lddw")
			}
			if ins.Dst == R10 {
				return fail("write to r10")
			}
			pc++

		case ClassLDX:
			if ins.Op&0xe0 != ModeMEM {
				return fail("unknown ldx mode")
			}
			if ins.Dst == R10 {
				return fail("write to r10")
			}

		case ClassST, ClassSTX:
			if ins.Op&0xe0 != ModeMEM {
				return fail("unknown store mode")
			}

		case ClassALU, ClassALU64:
			if err := verifyALU(ins); err != "" {
				return fail(err)
			}

		case ClassPQR:
			if err := verifyPQR(ins); err != "" {
				return fail(err)
			}

		case ClassJMP:
			op := ins.Op & 0xf0
			switch op {
			case JmpExit:
				if ins.Op != OpExit {
					return fail("malformed exit")
				}
			case JmpCall:
				if ins.Op != OpCall {
					return fail("malformed call")
				}
				switch ins.Src {
				case CallInternal:
					target := pc + 1 + int(ins.Imm)
					if target < 0 || target >= n {
						return fail("call target out of range")
					}
				case CallSyscall:
					if _, ok := lookupSyscall(uint32(ins.Imm)); !ok {
						return fail(fmt.Sprintf("unknown syscall %#08x", uint32(ins.Imm)))
					}
				default:
					return fail("unknown call source")
				}
			case JmpJA, JmpJEQ, JmpJGT, JmpJGE, JmpJSET, JmpJNE, JmpJSGT, JmpJSGE,
				JmpJLT, JmpJLE, JmpJSLT, JmpJSLE:
				if op == JmpJA && ins.Op != OpJA {
					return fail("malformed ja")
				}
				target := pc + 1 + int(ins.Off)
				if target < 0 || target >= n {
					return fail("jump target out of range")
				}
			default:
				return fail("unknown jump opcode")
			}
		}
	}
	return nil
}

func verifyALU(ins Instruction) string {
	op := ins.Op & 0xf0
	wide := ins.class() == ClassALU64
	if ins.Dst == R10 {
		return "write to r10"
	}
	switch op {
	case AluAdd, AluSub, AluMul, AluOr, AluAnd, AluXor, AluMov:
	case AluDiv, AluMod:
		if ins.Op&SrcX == 0 && ins.Imm == 0 {
			return "division by zero"
		}
	case AluLsh, AluRsh, AluArsh:
		if ins.Op&SrcX == 0 {
			limit := int32(32)
			if wide {
				limit = 64
			}
			if ins.Imm < 0 || ins.Imm >= limit {
				return "shift out of range"
			}
		}
	case AluNeg:
		if ins.Op&SrcX != 0 {
			return "neg takes no source"
		}
	case AluEnd:
		if wide {
			return "byte swap is alu32 only"
		}
		if ins.Imm != 16 && ins.Imm != 32 && ins.Imm != 64 {
			return "byte swap width must be 16, 32 or 64"
		}
	default:
		return "unknown alu opcode"
	}
	return ""
}

func verifyPQR(ins Instruction) string {
	if ins.Dst == R10 {
		return "write to r10"
	}
	op := ins.Op & 0xe0
	wide := ins.Op&PqrWide != 0
	switch op {
	case PqrUHMul, PqrSHMul:
		if !wide {
			return "high multiply is 64-bit only"
		}
	case PqrUDiv, PqrURem, PqrSDiv, PqrSRem:
		if ins.Op&SrcX == 0 && ins.Imm == 0 {
			return "division by zero"
		}
	case PqrLMul:
	default:
		return "unknown pqr opcode"
	}
	return ""
}
