package bpfvm

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// --- verifier ---

func TestVerify_Rejects(t *testing.T) {
	exit := Instruction{Op: OpExit}
	cases := []struct {
		name   string
		text   []Instruction
		reason string
	}{
		{"empty", nil, "empty program"},
		{"no exit", []Instruction{{Op: OpMov64, Dst: R0}}, "must end with exit"},
		{"write r10", []Instruction{{Op: OpMov64, Dst: R10, Imm: 1}, exit}, "write to r10"},
		{"jump out", []Instruction{{Op: OpJA, Off: 5}, exit}, "jump target out of range"},
		{"call out", []Instruction{{Op: OpCall, Src: CallInternal, Imm: 40}, exit}, "call target out of range"},
		{"bad syscall", []Instruction{{Op: OpCall, Imm: 0x1234}, exit}, "unknown syscall"},
		{"div zero", []Instruction{{Op: ClassALU64 | AluDiv | SrcK, Dst: R1}, exit}, "division by zero"},
		{"udiv zero", []Instruction{{Op: ClassPQR | PqrWide | PqrUDiv | SrcK, Dst: R1}, exit}, "division by zero"},
		{"shift", []Instruction{{Op: ClassALU | AluLsh | SrcK, Dst: R1, Imm: 32}, exit}, "shift out of range"},
		{"half lddw", []Instruction{{Op: OpLDDW, Dst: R1}, exit}, "incomplete lddw"},
		{"narrow uhmul", []Instruction{{Op: ClassPQR | PqrUHMul | SrcK, Dst: R1, Imm: 2}, exit}, "64-bit only"},
		{"bad mode", []Instruction{{Op: ClassLDX | SizeDW, Dst: R1, Src: R2}, exit}, "unknown ldx mode"},
		{"register", []Instruction{{Op: OpMov64, Dst: 12}, exit}, "register out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProgram(tc.name, tc.text, nil, 0)
			var ve *VerifyError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Reason, tc.reason)
		})
	}
}

func TestBuilder_UndefinedLabel(t *testing.T) {
	b := NewBuilder("x")
	b.Ja("nowhere")
	_, err := b.Build()
	assert.ErrorContains(t, err, "undefined label")
}

func TestBuilder_DuplicateLabel(t *testing.T) {
	b := NewBuilder("x")
	b.Label("a").Label("a").Return(0)
	_, err := b.Build()
	assert.ErrorContains(t, err, "duplicate label")
}

func TestInstructions_EncodeDecode(t *testing.T) {
	p, err := ConstantProduct("cp30", 30, false)
	require.NoError(t, err)
	raw := EncodeInstructions(p.Text)
	assert.Len(t, raw, len(p.Text)*SlotSize)

	back, err := DecodeInstructions(raw)
	require.NoError(t, err)
	assert.Equal(t, p.Text, back)

	_, err = DecodeInstructions(raw[:5])
	assert.Error(t, err)
}

// --- ELF ---

func TestELF_RoundTrip(t *testing.T) {
	p, err := StepCounter("counter")
	require.NoError(t, err)

	image, err := WriteELF(p)
	require.NoError(t, err)

	loaded, err := LoadELF("counter", image)
	require.NoError(t, err)
	assert.Equal(t, p.Text, loaded.Text)
	assert.Equal(t, p.Entry, loaded.Entry)

	a, err := NewBackend(p, 0)
	require.NoError(t, err)
	b, err := NewBackend(loaded, 0)
	require.NoError(t, err)

	var st domain.Storage
	want, err := a.Price(cpCall(), &st)
	require.NoError(t, err)
	got, err := b.Price(cpCall(), &st)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestELF_RoundTripWithROData(t *testing.T) {
	b := NewBuilder("ro")
	addr := b.ROData([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	b.LoadImm64(R2, addr)
	b.Load(SizeDW, R3, R2, 0)
	returnR3(b)
	p, err := b.Build()
	require.NoError(t, err)

	image, err := WriteELF(p)
	require.NoError(t, err)
	loaded, err := LoadELF("ro", image)
	require.NoError(t, err)
	assert.Equal(t, p.ROData, loaded.ROData)

	be, err := NewBackend(loaded, 0)
	require.NoError(t, err)
	var st domain.Storage
	exec, err := be.Price(cpCall(), &st)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0807060504030201), exec.Output)
}

func TestELF_RejectsGarbage(t *testing.T) {
	_, err := LoadELF("junk", []byte("not an elf"))
	assert.Error(t, err)
}

// --- arithmetic ---

func TestMulHiSigned(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Int64().Draw(t, "a")
		b := rapid.Int64().Draw(t, "b")
		p := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
		want := new(big.Int).Rsh(p, 64).Int64()
		if got := mulHiSigned(a, b); got != want {
			t.Fatalf("mulHiSigned(%d, %d) = %d, want %d", a, b, got, want)
		}
	})
}

func TestDiv128_MatchesBig(t *testing.T) {
	b := NewBuilder("div")
	b.Load(SizeDW, R3, R1, inAmount)
	b.Load(SizeDW, R4, R1, inReserveX)
	b.Load(SizeDW, R9, R1, inReserveY)
	b.Div128(R3, R4, R9, R5, R6, R7, R8)
	b.MovReg(R3, R5)
	returnR3(b)
	p, err := b.Build()
	require.NoError(t, err)
	be, err := NewBackend(p, 0)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		d := rapid.Uint64Range(1, math.MaxUint64).Draw(t, "d")
		hi := rapid.Uint64Range(0, d-1).Draw(t, "hi")
		lo := rapid.Uint64().Draw(t, "lo")

		var st domain.Storage
		exec, err := be.Price(domain.PriceCall{Side: domain.SideBuy, Amount: hi, ReserveX: lo, ReserveY: d}, &st)
		if err != nil {
			t.Fatal(err)
		}
		n := new(big.Int).Lsh(new(big.Int).SetUint64(hi), 64)
		n.Or(n, new(big.Int).SetUint64(lo))
		q := n.Div(n, new(big.Int).SetUint64(d))
		if exec.Output != q.Uint64() {
			t.Fatalf("(%d:%d)/%d = %d, want %s", hi, lo, d, exec.Output, q)
		}
	})
}

func TestALU32_ZeroExtends(t *testing.T) {
	v, err := alu32(AluSub, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), v)

	_, err = alu32(AluMod, 1, 0)
	assert.ErrorIs(t, err, errDivByZero)
}

func TestPQR_Ops(t *testing.T) {
	pq := func(op uint8, d uint64, imm int32) uint64 {
		v, err := pqr(Instruction{Op: ClassPQR | PqrWide | op | SrcK, Imm: imm}, d, 0)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, uint64(1), pq(PqrUHMul, math.MaxUint64, 2))
	assert.Equal(t, uint64(14), pq(PqrUDiv, 100, 7))
	assert.Equal(t, uint64(2), pq(PqrURem, 100, 7))
	assert.Equal(t, uint64(300), pq(PqrLMul, 100, 3))
	assert.Equal(t, uint64(math.MaxUint64), pq(PqrSHMul, 1, -1))
	assert.Equal(t, uint64(2), pq(PqrSRem, 100, -7))

	_, err := pqr(Instruction{Op: ClassPQR | PqrWide | PqrSDiv | SrcX}, uint64(1)<<63, math.MaxUint64)
	assert.ErrorIs(t, err, errOverflow)
}

func TestByteSwap(t *testing.T) {
	assert.Equal(t, uint64(0x3412), byteSwap(0xffff1234, 16, true))
	assert.Equal(t, uint64(0x1234), byteSwap(0xffff1234, 16, false))
	assert.Equal(t, uint64(0x0807060504030201), byteSwap(0x0102030405060708, 64, true))
}

func TestSymbolHash_Stable(t *testing.T) {
	_, ok := lookupSyscall(SymbolHash(SyscallSetReturnData))
	assert.True(t, ok)
	assert.NotEqual(t, SymbolHash(SyscallMemcpy), SymbolHash(SyscallMemmove))
}
