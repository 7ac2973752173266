package bpfvm

// vm.go - intérprete sBPF con medición: 1 unidad por instrucción más el coste fijo de
// cada syscall, frames de llamada interna con límite de profundidad.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// DefaultBudget es el techo de compute units de una llamada.
const DefaultBudget = 100_000

// Input region geometry: [num_accounts u64][data_len u64][data][program_id].
const (
	inputHeaderSize = 16
	programIDSize   = 32
	inputSize       = inputHeaderSize + domain.NotifyCallSize + programIDSize
)

var (
	errDivByZero = errors.New("division by zero")
	errOverflow  = errors.New("signed division overflow")
)

// ExecError es un fallo en tiempo de ejecución en un slot dado.
type ExecError struct {
	PC  int
	Err error
}

func (e *ExecError) Error() string { return fmt.Sprintf("pc %d: %v", e.PC, e.Err) }
func (e *ExecError) Unwrap() error { return e.Err }

type frame struct {
	saved [4]uint64 // r6..r9
	fp    uint64
	ret   int
}

// VM corre un Program sobre memoria privada. No es segura para uso concurrente.
type VM struct {
	prog   *Program
	mem    memory
	regs   [numRegs]uint64
	frames []frame
	budget uint64
	used   uint64

	stack []byte
	heap  []byte
	input []byte

	returnData [maxReturnData]byte
	returnLen  int
	hasReturn  bool

	storageWritable bool
	storageSet      bool
	pendingStorage  domain.Storage

	logger *slog.Logger
}

// NewVM mapea el rodata de prog y reserva las regiones de stack, heap e input.
func NewVM(prog *Program, budget uint64, logger *slog.Logger) *VM {
	if budget == 0 {
		budget = DefaultBudget
	}
	vm := &VM{
		prog:   prog,
		budget: budget,
		stack:  make([]byte, StackSize),
		heap:   make([]byte, HeapSize),
		input:  make([]byte, inputSize),
		frames: make([]frame, 0, MaxCallDepth),
		logger: logger,
	}
	vm.mem.regions[MMProgramStart>>regionShift] = region{data: prog.ROData}
	vm.mem.regions[MMStackStart>>regionShift] = region{data: vm.stack, writable: true}
	vm.mem.regions[MMHeapStart>>regionShift] = region{data: vm.heap, writable: true}
	vm.mem.regions[MMInputStart>>regionShift] = region{data: vm.input, writable: true}
	vm.mem.stackDirty = len(vm.stack)
	return vm
}

// Used devuelve las compute units que consumió la última llamada.
func (vm *VM) Used() uint64 { return vm.used }

// load places data in the input region behind the account header.
func (vm *VM) load(data []byte) {
	clear(vm.input)
	binary.LittleEndian.PutUint64(vm.input[8:16], uint64(len(data)))
	n := copy(vm.input[inputHeaderSize:], data)
	copy(vm.input[inputHeaderSize+n:], programID(vm.prog.Name))
}

func programID(name string) []byte {
	var id [programIDSize]byte
	copy(id[:], name)
	return id[:]
}

// execute corre una llamada. data es la llamada serializada; notify habilita escribir storage.
func (vm *VM) execute(data []byte, storageWritable bool) (uint64, error) {
	vm.mem.reset()
	vm.load(data)
	vm.regs = [numRegs]uint64{}
	vm.regs[R1] = MMInputStart
	vm.regs[R10] = MMStackStart + StackFrameSize
	vm.frames = vm.frames[:0]
	vm.used = 0
	vm.hasReturn = false
	vm.returnLen = 0
	vm.storageWritable = storageWritable
	vm.storageSet = false
	return vm.run()
}

func (vm *VM) consume(units uint64) error {
	vm.used += units
	if vm.used > vm.budget {
		return fmt.Errorf("%w: %d of %d units", domain.ErrBudgetExceeded, vm.used, vm.budget)
	}
	return nil
}

func (vm *VM) run() (uint64, error) {
	text := vm.prog.Text
	regs := &vm.regs
	pc := vm.prog.Entry

	for {
		if pc < 0 || pc >= len(text) {
			return 0, &ExecError{PC: pc, Err: errors.New("pc out of bounds")}
		}
		at := pc
		ins := text[pc]
		pc++
		if err := vm.consume(1); err != nil {
			return 0, &ExecError{PC: at, Err: err}
		}
		fault := func(err error) (uint64, error) { return 0, &ExecError{PC: at, Err: err} }

		switch ins.class() {
		case ClassLD:
			if ins.Op != OpLDDW || pc >= len(text) {
				return fault(errors.New("jump into lddw"))
			}
			regs[ins.Dst] = uint64(uint32(ins.Imm)) | uint64(uint32(text[pc].Imm))<<32
			pc++

		case ClassLDX:
			addr := regs[ins.Src] + uint64(int64(ins.Off))
			v, err := vm.loadMem(addr, accessSize(ins.Op))
			if err != nil {
				return fault(err)
			}
			regs[ins.Dst] = v

		case ClassST:
			addr := regs[ins.Dst] + uint64(int64(ins.Off))
			if err := vm.store(addr, accessSize(ins.Op), uint64(int64(ins.Imm))); err != nil {
				return fault(err)
			}

		case ClassSTX:
			addr := regs[ins.Dst] + uint64(int64(ins.Off))
			if err := vm.store(addr, accessSize(ins.Op), regs[ins.Src]); err != nil {
				return fault(err)
			}

		case ClassALU64:
			src := uint64(int64(ins.Imm))
			if ins.Op&SrcX != 0 {
				src = regs[ins.Src]
			}
			v, err := alu64(ins.Op&0xf0, regs[ins.Dst], src)
			if err != nil {
				return fault(err)
			}
			regs[ins.Dst] = v

		case ClassALU:
			src := uint32(ins.Imm)
			if ins.Op&SrcX != 0 {
				src = uint32(regs[ins.Src])
			}
			if ins.Op&0xf0 == AluEnd {
				regs[ins.Dst] = byteSwap(regs[ins.Dst], ins.Imm, ins.Op&SrcX != 0)
				break
			}
			v, err := alu32(ins.Op&0xf0, uint32(regs[ins.Dst]), src)
			if err != nil {
				return fault(err)
			}
			regs[ins.Dst] = uint64(v)

		case ClassPQR:
			v, err := pqr(ins, regs[ins.Dst], regs[ins.Src])
			if err != nil {
				return fault(err)
			}
			regs[ins.Dst] = v

		case ClassJMP:
			switch ins.Op & 0xf0 {
			case JmpExit:
				if len(vm.frames) == 0 {
					return regs[R0], nil
				}
				f := vm.frames[len(vm.frames)-1]
				vm.frames = vm.frames[:len(vm.frames)-1]
				copy(regs[R6:R10], f.saved[:])
				regs[R10] = f.fp
				pc = f.ret

			case JmpCall:
				if ins.Src == CallInternal {
					if len(vm.frames) >= MaxCallDepth-1 {
						return fault(errors.New("call depth exceeded"))
					}
					var f frame
					copy(f.saved[:], regs[R6:R10])
					f.fp = regs[R10]
					f.ret = pc
					vm.frames = append(vm.frames, f)
					regs[R10] += StackFrameSize
					pc += int(ins.Imm)
					break
				}
				sc, ok := lookupSyscall(uint32(ins.Imm))
				if !ok {
					return fault(fmt.Errorf("unknown syscall %#08x", uint32(ins.Imm)))
				}
				r0, err := sc.fn(vm, regs[R1], regs[R2], regs[R3], regs[R4], regs[R5])
				if err != nil {
					return fault(fmt.Errorf("%s: %w", sc.name, err))
				}
				regs[R0] = r0

			default:
				src := uint64(int64(ins.Imm))
				if ins.Op&SrcX != 0 {
					src = regs[ins.Src]
				}
				if branch(ins.Op&0xf0, regs[ins.Dst], src) {
					pc += int(ins.Off)
				}
			}

		default:
			return fault(fmt.Errorf("unknown opcode %#02x", ins.Op))
		}
	}
}

func accessSize(op uint8) uint64 {
	switch op & 0x18 {
	case SizeB:
		return 1
	case SizeH:
		return 2
	case SizeW:
		return 4
	default:
		return 8
	}
}

func (vm *VM) loadMem(addr, size uint64) (uint64, error) {
	b, err := vm.mem.translate(addr, size, false)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

func (vm *VM) store(addr, size, v uint64) error {
	b, err := vm.mem.translate(addr, size, true)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}

func alu64(op uint8, d, s uint64) (uint64, error) {
	switch op {
	case AluAdd:
		return d + s, nil
	case AluSub:
		return d - s, nil
	case AluMul:
		return d * s, nil
	case AluDiv:
		if s == 0 {
			return 0, errDivByZero
		}
		return d / s, nil
	case AluMod:
		if s == 0 {
			return 0, errDivByZero
		}
		return d % s, nil
	case AluOr:
		return d | s, nil
	case AluAnd:
		return d & s, nil
	case AluXor:
		return d ^ s, nil
	case AluLsh:
		return d << (s & 63), nil
	case AluRsh:
		return d >> (s & 63), nil
	case AluArsh:
		return uint64(int64(d) >> (s & 63)), nil
	case AluNeg:
		return -d, nil
	case AluMov:
		return s, nil
	}
	return 0, fmt.Errorf("unknown alu64 op %#02x", op)
}

func alu32(op uint8, d, s uint32) (uint32, error) {
	switch op {
	case AluAdd:
		return d + s, nil
	case AluSub:
		return d - s, nil
	case AluMul:
		return d * s, nil
	case AluDiv:
		if s == 0 {
			return 0, errDivByZero
		}
		return d / s, nil
	case AluMod:
		if s == 0 {
			return 0, errDivByZero
		}
		return d % s, nil
	case AluOr:
		return d | s, nil
	case AluAnd:
		return d & s, nil
	case AluXor:
		return d ^ s, nil
	case AluLsh:
		return d << (s & 31), nil
	case AluRsh:
		return d >> (s & 31), nil
	case AluArsh:
		return uint32(int32(d) >> (s & 31)), nil
	case AluNeg:
		return -d, nil
	case AluMov:
		return s, nil
	}
	return 0, fmt.Errorf("unknown alu32 op %#02x", op)
}

// byteSwap implements le/be conversion. The host layout is little-endian, so
// le only truncates.
func byteSwap(v uint64, width int32, toBig bool) uint64 {
	switch width {
	case 16:
		if toBig {
			return uint64(bits.ReverseBytes16(uint16(v)))
		}
		return uint64(uint16(v))
	case 32:
		if toBig {
			return uint64(bits.ReverseBytes32(uint32(v)))
		}
		return uint64(uint32(v))
	default:
		if toBig {
			return bits.ReverseBytes64(v)
		}
		return v
	}
}

func pqr(ins Instruction, d, rs uint64) (uint64, error) {
	wide := ins.Op&PqrWide != 0
	reg := ins.Op&SrcX != 0
	op := ins.Op & 0xe0

	if !wide {
		a := uint32(d)
		b := uint32(ins.Imm)
		if reg {
			b = uint32(rs)
		}
		switch op {
		case PqrLMul:
			return uint64(a * b), nil
		case PqrUDiv, PqrURem:
			if b == 0 {
				return 0, errDivByZero
			}
			if op == PqrUDiv {
				return uint64(a / b), nil
			}
			return uint64(a % b), nil
		case PqrSDiv, PqrSRem:
			sa, sb := int32(a), int32(b)
			if sb == 0 {
				return 0, errDivByZero
			}
			if sa == math.MinInt32 && sb == -1 {
				return 0, errOverflow
			}
			if op == PqrSDiv {
				return uint64(uint32(sa / sb)), nil
			}
			return uint64(uint32(sa % sb)), nil
		}
		return 0, fmt.Errorf("unknown pqr op %#02x", ins.Op)
	}

	// Unsigned immediates are zero-extended, signed ones sign-extended.
	u := uint64(uint32(ins.Imm))
	s := int64(ins.Imm)
	if reg {
		u, s = rs, int64(rs)
	}
	switch op {
	case PqrUHMul:
		hi, _ := bits.Mul64(d, u)
		return hi, nil
	case PqrSHMul:
		return uint64(mulHiSigned(int64(d), s)), nil
	case PqrLMul:
		return d * uint64(s), nil
	case PqrUDiv, PqrURem:
		if u == 0 {
			return 0, errDivByZero
		}
		if op == PqrUDiv {
			return d / u, nil
		}
		return d % u, nil
	case PqrSDiv, PqrSRem:
		sd := int64(d)
		if s == 0 {
			return 0, errDivByZero
		}
		if sd == math.MinInt64 && s == -1 {
			return 0, errOverflow
		}
		if op == PqrSDiv {
			return uint64(sd / s), nil
		}
		return uint64(sd % s), nil
	}
	return 0, fmt.Errorf("unknown pqr op %#02x", ins.Op)
}

// mulHiSigned returns the upper 64 bits of the 128-bit signed product.
func mulHiSigned(a, b int64) int64 {
	hi, _ := bits.Mul64(uint64(a), uint64(b))
	if a < 0 {
		hi -= uint64(b)
	}
	if b < 0 {
		hi -= uint64(a)
	}
	return int64(hi)
}

func branch(op uint8, d, s uint64) bool {
	switch op {
	case JmpJA:
		return true
	case JmpJEQ:
		return d == s
	case JmpJNE:
		return d != s
	case JmpJGT:
		return d > s
	case JmpJGE:
		return d >= s
	case JmpJLT:
		return d < s
	case JmpJLE:
		return d <= s
	case JmpJSET:
		return d&s != 0
	case JmpJSGT:
		return int64(d) > int64(s)
	case JmpJSGE:
		return int64(d) >= int64(s)
	case JmpJSLT:
		return int64(d) < int64(s)
	case JmpJSLE:
		return int64(d) <= int64(s)
	}
	return false
}
