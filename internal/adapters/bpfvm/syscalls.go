package bpfvm

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/alejandrodnm/propamm/internal/domain"
)

// Nombres de los syscalls. Los programas los referencian por hash murmur3.
const (
	SyscallSetReturnData = "sol_set_return_data"
	SyscallLog           = "sol_log_"
	SyscallAbort         = "abort"
	SyscallSetStorage    = "sol_set_storage"
	SyscallMemcpy        = "sol_memcpy_"
	SyscallMemmove       = "sol_memmove_"
	SyscallMemset        = "sol_memset_"
	SyscallMemcmp        = "sol_memcmp_"
)

const (
	syscallBaseCost = 100
	memOpBaseCost   = 10
	memOpByteDiv    = 250 // one extra unit per 250 bytes moved
	maxLogLen       = 512
	maxReturnData   = 8
)

var errAborted = errors.New("program aborted")

type syscallFunc func(vm *VM, a1, a2, a3, a4, a5 uint64) (uint64, error)

type syscall struct {
	name string
	fn   syscallFunc
}

var syscalls = map[uint32]syscall{}

func register(name string, fn syscallFunc) {
	syscalls[SymbolHash(name)] = syscall{name: name, fn: fn}
}

func init() {
	register(SyscallSetReturnData, sysSetReturnData)
	register(SyscallLog, sysLog)
	register(SyscallAbort, sysAbort)
	register(SyscallSetStorage, sysSetStorage)
	register(SyscallMemcpy, sysMemcpy)
	register(SyscallMemmove, sysMemmove)
	register(SyscallMemset, sysMemset)
	register(SyscallMemcmp, sysMemcmp)
}

// SymbolHash es el hash murmur3 que identifica un syscall en el inmediato del call.
func SymbolHash(name string) uint32 {
	return murmur3.Sum32([]byte(name))
}

func lookupSyscall(hash uint32) (syscall, bool) {
	s, ok := syscalls[hash]
	return s, ok
}

// sol_set_return_data(addr, len)
func sysSetReturnData(vm *VM, addr, n, _, _, _ uint64) (uint64, error) {
	if err := vm.consume(syscallBaseCost); err != nil {
		return 0, err
	}
	if n > maxReturnData {
		return 0, fmt.Errorf("%w: %d bytes, at most %d", domain.ErrReturnData, n, maxReturnData)
	}
	src, err := vm.mem.translate(addr, n, false)
	if err != nil {
		return 0, err
	}
	vm.returnData = [maxReturnData]byte{}
	copy(vm.returnData[:], src)
	vm.returnLen = int(n)
	vm.hasReturn = true
	return 0, nil
}

// sol_log_(addr, len)
func sysLog(vm *VM, addr, n, _, _, _ uint64) (uint64, error) {
	if err := vm.consume(syscallBaseCost); err != nil {
		return 0, err
	}
	n = min(n, maxLogLen)
	msg, err := vm.mem.translate(addr, n, false)
	if err != nil {
		return 0, err
	}
	if vm.logger != nil {
		vm.logger.Debug("program log", "program", vm.prog.Name, "msg", string(msg))
	}
	return 0, nil
}

func sysAbort(*VM, uint64, uint64, uint64, uint64, uint64) (uint64, error) {
	return 0, errAborted
}

// sol_set_storage(addr, len) replaces storage[0..len) at the end of a successful notify.
func sysSetStorage(vm *VM, addr, n, _, _, _ uint64) (uint64, error) {
	if err := vm.consume(syscallBaseCost + n/memOpByteDiv); err != nil {
		return 0, err
	}
	if !vm.storageWritable {
		return 0, errors.New("storage is read-only during price calls")
	}
	if n > domain.StorageSize {
		return 0, fmt.Errorf("storage write of %d bytes exceeds %d", n, domain.StorageSize)
	}
	src, err := vm.mem.translate(addr, n, false)
	if err != nil {
		return 0, err
	}
	copy(vm.pendingStorage[:n], src)
	vm.storageSet = true
	return 0, nil
}

func memCost(vm *VM, n uint64) error {
	return vm.consume(memOpBaseCost + n/memOpByteDiv)
}

// sol_memcpy_(dst, src, n); regions must not overlap.
func sysMemcpy(vm *VM, dstAddr, srcAddr, n, _, _ uint64) (uint64, error) {
	if err := memCost(vm, n); err != nil {
		return 0, err
	}
	if overlaps(dstAddr, srcAddr, n) {
		return 0, errors.New("memcpy overlap")
	}
	return 0, vm.move(dstAddr, srcAddr, n)
}

// sol_memmove_(dst, src, n)
func sysMemmove(vm *VM, dstAddr, srcAddr, n, _, _ uint64) (uint64, error) {
	if err := memCost(vm, n); err != nil {
		return 0, err
	}
	return 0, vm.move(dstAddr, srcAddr, n)
}

// sol_memset_(dst, c, n)
func sysMemset(vm *VM, dstAddr, c, n, _, _ uint64) (uint64, error) {
	if err := memCost(vm, n); err != nil {
		return 0, err
	}
	dst, err := vm.mem.translate(dstAddr, n, true)
	if err != nil {
		return 0, err
	}
	for i := range dst {
		dst[i] = byte(c)
	}
	return 0, nil
}

// sol_memcmp_(a, b, n, result) writes an i32 comparison result to result.
func sysMemcmp(vm *VM, aAddr, bAddr, n, resAddr, _ uint64) (uint64, error) {
	if err := memCost(vm, n); err != nil {
		return 0, err
	}
	a, err := vm.mem.translate(aAddr, n, false)
	if err != nil {
		return 0, err
	}
	b, err := vm.mem.translate(bAddr, n, false)
	if err != nil {
		return 0, err
	}
	return 0, vm.store(resAddr, 4, uint64(uint32(int32(bytes.Compare(a, b)))))
}

func (vm *VM) move(dstAddr, srcAddr, n uint64) error {
	src, err := vm.mem.translate(srcAddr, n, false)
	if err != nil {
		return err
	}
	dst, err := vm.mem.translate(dstAddr, n, true)
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func overlaps(a, b, n uint64) bool {
	if a <= b {
		return b-a < n
	}
	return a-b < n
}
