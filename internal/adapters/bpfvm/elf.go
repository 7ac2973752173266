package bpfvm

// elf.go - carga y guarda programas como shared objects ELF64 (EM_BPF).
//
// Only .text and .rodata are mapped: .text becomes the instruction stream and
// .rodata is placed at MMProgramStart. Relocations in SHT_REL sections against
// .text are applied at load time:
//   R_BPF_64_64        lddw of a symbol address, rebased into the rodata region
//   R_BPF_64_RELATIVE  lddw of a section-relative address, rebased likewise
//   R_BPF_64_32        call: an undefined symbol becomes a syscall hash, a defined
//                      function becomes a relative internal call

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Relocation types used by BPF toolchains.
const (
	relBPF64_64       = 1
	relBPF64_Relative = 8
	relBPF64_32       = 10
)

// EMSBPF is the machine number some toolchains stamp on sBPF objects.
const EMSBPF elf.Machine = 263

// LoadELFFile lee y carga el programa de path con el nombre name.
func LoadELFFile(path, name string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bpfvm.LoadELFFile: read %q: %w", path, err)
	}
	return LoadELF(name, data)
}

// LoadELF parsea una imagen ELF, aplica las relocations y verifica el resultado.
func LoadELF(name string, image []byte) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("bpfvm.LoadELF: parse: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("bpfvm.LoadELF: want little-endian ELF64, got %s %s", f.Class, f.Data)
	}
	if f.Machine != elf.EM_BPF && f.Machine != EMSBPF {
		return nil, fmt.Errorf("bpfvm.LoadELF: unsupported machine %s", f.Machine)
	}

	textSec := f.Section(".text")
	if textSec == nil {
		return nil, fmt.Errorf("bpfvm.LoadELF: no .text section")
	}
	raw, err := textSec.Data()
	if err != nil {
		return nil, fmt.Errorf("bpfvm.LoadELF: read .text: %w", err)
	}
	text, err := DecodeInstructions(raw)
	if err != nil {
		return nil, fmt.Errorf("bpfvm.LoadELF: %w", err)
	}

	var rodata []byte
	var rodataAddr uint64
	if s := f.Section(".rodata"); s != nil {
		if rodata, err = s.Data(); err != nil {
			return nil, fmt.Errorf("bpfvm.LoadELF: read .rodata: %w", err)
		}
		rodataAddr = s.Addr
	}

	if err := applyRelocations(f, textSec, text, rodataAddr); err != nil {
		return nil, fmt.Errorf("bpfvm.LoadELF: %w", err)
	}

	if f.Entry < textSec.Addr || (f.Entry-textSec.Addr)%SlotSize != 0 {
		return nil, fmt.Errorf("bpfvm.LoadELF: entry %#x is not a slot in .text", f.Entry)
	}
	entry := int((f.Entry - textSec.Addr) / SlotSize)
	return NewProgram(name, text, rodata, entry)
}

func applyRelocations(f *elf.File, textSec *elf.Section, text []Instruction, rodataAddr uint64) error {
	for _, s := range f.Sections {
		if s.Type != elf.SHT_REL {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return fmt.Errorf("read %s: %w", s.Name, err)
		}
		syms, err := relocationSymbols(f, s)
		if err != nil {
			return err
		}

		var rel elf.Rel64
		r := bytes.NewReader(data)
		for r.Len() > 0 {
			if err := binary.Read(r, binary.LittleEndian, &rel); err != nil {
				return fmt.Errorf("read %s: %w", s.Name, err)
			}
			if rel.Off < textSec.Addr {
				continue
			}
			pc := int((rel.Off - textSec.Addr) / SlotSize)
			if pc >= len(text) {
				continue
			}
			symIdx := elf.R_SYM64(rel.Info)
			kind := elf.R_TYPE64(rel.Info)

			var sym *elf.Symbol
			if symIdx > 0 && int(symIdx) <= len(syms) {
				sym = &syms[symIdx-1]
			}

			switch kind {
			case relBPF64_64:
				if sym == nil || pc+1 >= len(text) {
					return fmt.Errorf("bad R_BPF_64_64 at %#x", rel.Off)
				}
				addr := sym.Value + uint64(uint32(text[pc].Imm))
				setImm64(text, pc, MMProgramStart+addr-rodataAddr)
			case relBPF64_Relative:
				if pc+1 >= len(text) {
					return fmt.Errorf("bad R_BPF_64_RELATIVE at %#x", rel.Off)
				}
				addr := uint64(uint32(text[pc].Imm)) | uint64(uint32(text[pc+1].Imm))<<32
				setImm64(text, pc, MMProgramStart+addr-rodataAddr)
			case relBPF64_32:
				if sym == nil {
					return fmt.Errorf("R_BPF_64_32 without symbol at %#x", rel.Off)
				}
				if sym.Section == elf.SHN_UNDEF {
					text[pc].Src = CallSyscall
					text[pc].Imm = int32(SymbolHash(sym.Name))
				} else {
					target := int((sym.Value - textSec.Addr) / SlotSize)
					text[pc].Src = CallInternal
					text[pc].Imm = int32(target - pc - 1)
				}
			default:
				return fmt.Errorf("unsupported relocation type %d at %#x", kind, rel.Off)
			}
		}
	}
	return nil
}

func relocationSymbols(f *elf.File, rel *elf.Section) ([]elf.Symbol, error) {
	if int(rel.Link) >= len(f.Sections) || rel.Link == 0 {
		return nil, nil
	}
	var (
		syms []elf.Symbol
		err  error
	)
	if f.Sections[rel.Link].Type == elf.SHT_DYNSYM {
		syms, err = f.DynamicSymbols()
	} else {
		syms, err = f.Symbols()
	}
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("read symbols: %w", err)
	}
	return syms, nil
}

func setImm64(text []Instruction, pc int, v uint64) {
	text[pc].Imm = int32(uint32(v))
	text[pc+1].Imm = int32(uint32(v >> 32))
}

// WriteELF serializa p como imagen ELF64 sin relocations que LoadELF acepta.
func WriteELF(p *Program) ([]byte, error) {
	const (
		ehdrSize = 64
		shdrSize = 64
	)
	text := EncodeInstructions(p.Text)
	shstr := []byte("\x00.text\x00.rodata\x00.shstrtab\x00")
	const (
		nameText   = 1
		nameROData = 7
		nameShstr  = 15
	)

	textOff := uint64(ehdrSize)
	rodataOff := textOff + uint64(len(text))
	shstrOff := rodataOff + uint64(len(p.ROData))
	shOff := align8(shstrOff + uint64(len(shstr)))
	rodataAddr := align8(uint64(len(text)))

	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(elf.EM_BPF),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     uint64(p.Entry) * SlotSize,
		Shoff:     shOff,
		Ehsize:    ehdrSize,
		Shentsize: shdrSize,
		Shnum:     4,
		Shstrndx:  3,
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	sections := []elf.Section64{
		{},
		{
			Name: nameText, Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:  0, Off: textOff, Size: uint64(len(text)), Addralign: SlotSize,
		},
		{
			Name: nameROData, Type: uint32(elf.SHT_PROGBITS),
			Flags: uint64(elf.SHF_ALLOC),
			Addr:  rodataAddr, Off: rodataOff, Size: uint64(len(p.ROData)), Addralign: 1,
		},
		{
			Name: nameShstr, Type: uint32(elf.SHT_STRTAB),
			Off: shstrOff, Size: uint64(len(shstr)), Addralign: 1,
		},
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("bpfvm.WriteELF: header: %w", err)
	}
	buf.Write(text)
	buf.Write(p.ROData)
	buf.Write(shstr)
	buf.Write(make([]byte, shOff-uint64(buf.Len())))
	if err := binary.Write(&buf, binary.LittleEndian, sections); err != nil {
		return nil, fmt.Errorf("bpfvm.WriteELF: section headers: %w", err)
	}
	return buf.Bytes(), nil
}

func align8(n uint64) uint64 { return (n + 7) &^ 7 }
