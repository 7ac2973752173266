package bpfvm

import "fmt"

// Virtual address layout. The region index lives in the upper 32 bits.
const (
	MMProgramStart uint64 = 0x1_0000_0000
	MMStackStart   uint64 = 0x2_0000_0000
	MMHeapStart    uint64 = 0x3_0000_0000
	MMInputStart   uint64 = 0x4_0000_0000

	regionShift = 32
	offsetMask  = 1<<regionShift - 1
)

// Stack geometry: fixed-size frames, r10 points at the top of the current frame.
const (
	StackFrameSize = 4096
	MaxCallDepth   = 8
	StackSize      = StackFrameSize * MaxCallDepth
	HeapSize       = 32 * 1024
)

type region struct {
	data     []byte
	writable bool
}

// memory maps virtual addresses onto the VM's host buffers.
type memory struct {
	regions [5]region // indexed by vaddr >> 32; index 0 is unmapped

	// lowest stack offset written since the last reset
	stackDirty int
	heapDirty  bool
}

// AccessError is an out-of-bounds or permission fault.
type AccessError struct {
	Addr  uint64
	Len   uint64
	Write bool
}

func (e *AccessError) Error() string {
	kind := "load"
	if e.Write {
		kind = "store"
	}
	return fmt.Sprintf("access violation: %s of %d bytes at %#x", kind, e.Len, e.Addr)
}

// translate returns the host slice backing [addr, addr+n).
func (m *memory) translate(addr, n uint64, write bool) ([]byte, error) {
	idx := addr >> regionShift
	off := addr & offsetMask
	if idx == 0 || idx >= uint64(len(m.regions)) {
		return nil, &AccessError{Addr: addr, Len: n, Write: write}
	}
	r := &m.regions[idx]
	if write && !r.writable {
		return nil, &AccessError{Addr: addr, Len: n, Write: write}
	}
	end := off + n
	if end < off || end > uint64(len(r.data)) {
		return nil, &AccessError{Addr: addr, Len: n, Write: write}
	}
	if write {
		switch addr >> regionShift {
		case MMStackStart >> regionShift:
			m.stackDirty = min(m.stackDirty, int(off))
		case MMHeapStart >> regionShift:
			m.heapDirty = true
		}
	}
	return r.data[off:end], nil
}

// reset zeroes the stack and heap bytes touched by the previous call.
func (m *memory) reset() {
	stack := m.regions[MMStackStart>>regionShift].data
	if m.stackDirty < len(stack) {
		clear(stack[m.stackDirty:])
	}
	m.stackDirty = len(stack)
	if m.heapDirty {
		clear(m.regions[MMHeapStart>>regionShift].data)
		m.heapDirty = false
	}
}
