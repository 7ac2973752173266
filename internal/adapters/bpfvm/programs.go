package bpfvm

// programs.go - estrategias de referencia en bytecode.
//
// Input layout seen by programs (r1 = MMInputStart):
//   +0   num_accounts (0)
//   +8   data length
//   +16  call data: price or notify layout
//   ...  program id
// Byte 16 distinguishes the calls: 0/1 is a price side, 2 is the notify tag.

import "github.com/alejandrodnm/propamm/internal/domain"

// Offsets relative to r1 at entry.
const (
	inData          = inputHeaderSize
	inSide          = inData
	inAmount        = inData + 1
	inReserveX      = inData + 9
	inReserveY      = inData + 17
	inPriceStorage  = inData + domain.PriceStorageOffset
	inNotifyInput   = inData + 2
	inNotifyStep    = inData + 34
	inNotifyStorage = inData + domain.NotifyStorageOffset
)

const (
	defaultFeeBps = 30
	bpsDenom      = 10_000
)

// ConstantProduct construye x*y=k con fee fijo, o con el fee leído de storage[0..2]
// (30 si es cero) cuando fromStorage está activo. Coincide bit a bit con la
// estrategia nativa.
func ConstantProduct(name string, feeBps int32, fromStorage bool) (*Program, error) {
	b := NewBuilder(name)
	b.Label(EntryLabel)
	b.Load(SizeB, R2, R1, inSide)
	b.Jump(JmpJEQ, R2, domain.NotifyTag, "notify")
	constantProductQuote(b, feeBps, fromStorage)
	b.Label("notify")
	b.Return(0)
	return b.Build()
}

// constantProductQuote emits the price path. Expects r1 = input, r2 = side.
func constantProductQuote(b *Builder, feeBps int32, fromStorage bool) {
	const (
		slotRX   = -8
		slotRY   = -16
		slotRIn  = -24
		slotROut = -32
		slotOut  = -40
	)

	b.Load(SizeDW, R3, R1, inAmount)
	b.Load(SizeDW, R4, R1, inReserveX)
	b.Load(SizeDW, R5, R1, inReserveY)
	if fromStorage {
		b.Load(SizeH, R6, R1, inPriceStorage)
		b.Jump(JmpJNE, R6, 0, "fee_ok")
		b.Mov64(R6, defaultFeeBps)
		b.Label("fee_ok")
	} else {
		b.Mov64(R6, feeBps)
	}
	b.Jump(JmpJEQ, R4, 0, "zero")
	b.Jump(JmpJEQ, R5, 0, "zero")
	b.Jump(JmpJGE, R6, bpsDenom, "zero")

	// r7 = reserve_in, r8 = reserve_out
	b.Jump(JmpJEQ, R2, int32(domain.SideBuy), "buy")
	b.Jump(JmpJNE, R2, int32(domain.SideSell), "zero")
	b.MovReg(R7, R4).MovReg(R8, R5).Ja("sides")
	b.Label("buy")
	b.MovReg(R7, R5).MovReg(R8, R4)
	b.Label("sides")
	b.Store(SizeDW, R10, slotRX, R4)
	b.Store(SizeDW, R10, slotRY, R5)
	b.Store(SizeDW, R10, slotRIn, R7)
	b.Store(SizeDW, R10, slotROut, R8)

	// net = in * (10000 - fee) / 10000
	b.Mov64(R9, bpsDenom).ALU64Reg(AluSub, R9, R6)
	b.MovReg(R0, R3).PQR64Reg(PqrUHMul, R0, R9)
	b.ALU64Reg(AluMul, R3, R9)
	b.Mov64(R4, bpsDenom)
	b.Div128(R0, R3, R4, R5, R6, R7, R8)

	// new_in = reserve_in + net, rejecting overflow
	b.Load(SizeDW, R9, R10, slotRIn)
	b.ALU64Reg(AluAdd, R9, R5)
	b.JumpReg(JmpJLT, R9, R5, "zero")

	// k = rx * ry as r1:r0
	b.Load(SizeDW, R0, R10, slotRX)
	b.Load(SizeDW, R3, R10, slotRY)
	b.MovReg(R1, R0).PQR64Reg(PqrUHMul, R1, R3)
	b.ALU64Reg(AluMul, R0, R3)
	b.JumpReg(JmpJGE, R1, R9, "zero")

	// q = ceil(k / new_in)
	b.Div128(R1, R0, R9, R5, R6, R7, R8)
	b.Jump(JmpJEQ, R1, 0, "exact")
	b.ALU64(AluAdd, R5, 1)
	b.Label("exact")

	b.Load(SizeDW, R8, R10, slotROut)
	b.JumpReg(JmpJGE, R5, R8, "zero")
	b.ALU64Reg(AluSub, R8, R5)
	b.Ja("out")

	b.Label("zero")
	b.Mov64(R8, 0)
	b.Label("out")
	b.Store(SizeDW, R10, slotOut, R8)
	b.MovReg(R1, R10).ALU64(AluAdd, R1, slotOut)
	b.Mov64(R2, 8)
	b.Syscall(SyscallSetReturnData)
	b.Return(0)
}

// StorageEcho cotiza storage[0..8] y en notify guarda ahí el input ejecutado.
func StorageEcho(name string) (*Program, error) {
	b := NewBuilder(name)
	b.Label(EntryLabel)
	b.Load(SizeB, R2, R1, inSide)
	b.Jump(JmpJEQ, R2, domain.NotifyTag, "notify")
	b.ALU64(AluAdd, R1, inPriceStorage)
	b.Mov64(R2, 8)
	b.Syscall(SyscallSetReturnData)
	b.Return(0)

	b.Label("notify")
	b.ALU64(AluAdd, R1, inNotifyInput)
	b.Mov64(R2, 8)
	b.Syscall(SyscallSetStorage)
	b.Return(0)
	return b.Build()
}

// StepCounter quotes like a 30 bps constant product; notify increments storage[0..8]
// and records the step in storage[8..16].
func StepCounter(name string) (*Program, error) {
	b := NewBuilder(name)
	b.Label(EntryLabel)
	b.Load(SizeB, R2, R1, inSide)
	b.Jump(JmpJEQ, R2, domain.NotifyTag, "notify")
	constantProductQuote(b, defaultFeeBps, false)

	b.Label("notify")
	b.Load(SizeDW, R3, R1, inNotifyStorage)
	b.ALU64(AluAdd, R3, 1)
	b.Store(SizeDW, R1, inNotifyStorage, R3)
	b.Load(SizeDW, R4, R1, inNotifyStep)
	b.Store(SizeDW, R1, inNotifyStorage+8, R4)
	b.ALU64(AluAdd, R1, inNotifyStorage)
	b.Mov64(R2, 16)
	b.Syscall(SyscallSetStorage)
	b.Return(0)
	return b.Build()
}

// Burner gira hasta agotar el budget de cómputo.
func Burner(name string) (*Program, error) {
	b := NewBuilder(name)
	b.Mov64(R1, 0)
	b.Label("spin")
	b.ALU64(AluAdd, R1, 1)
	b.Ja("spin")
	return b.Build()
}
