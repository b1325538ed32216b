package elf32_test

import (
	"encoding/binary"
	"testing"

	"github.com/krakenos/kernel/loader/elf32"
)

// builder assembles a minimal, hand-laid-out ELF32 image: one code section,
// one string table, one symbol table and one rela section, in that file
// order. It exists only to exercise the parser against a known-correct
// layout, not to be a general-purpose encoder.
type builder struct {
	shstrtab []byte
	strtab   []byte
	sections []rawSection
}

type rawSection struct {
	name         string
	nameOff      uint32
	typ          uint32
	flags        uint32
	addr         uint32
	data         []byte
	link, info   uint32
	entsize      uint32
}

func (b *builder) addShstrName(name string) uint32 {
	off := uint32(len(b.shstrtab))
	b.shstrtab = append(b.shstrtab, append([]byte(name), 0)...)
	return off
}

func (b *builder) addStrName(name string) uint32 {
	off := uint32(len(b.strtab))
	b.strtab = append(b.strtab, append([]byte(name), 0)...)
	return off
}

func buildImage(t *testing.T) ([]byte, map[string]int) {
	t.Helper()
	b := &builder{shstrtab: []byte{0}, strtab: []byte{0}}

	codeNameOff := b.addShstrName(".text")
	code := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x00, 0x11, 0x22, 0x33}
	codeSec := rawSection{name: ".text", nameOff: codeNameOff, typ: elf32.SHTProgBits,
		flags: elf32.SHFAlloc | elf32.SHFExecInstr, addr: 0x1000, data: code}

	entryNameOff := b.addStrName("demo_app_entry")
	globalNameOff := b.addStrName("host_log_write")
	symtab := make([]byte, 2*16)
	// symbol 0: demo_app_entry, defined at 0x1000 (start of .text), shndx=1 (the .text section index once laid out)
	binary.LittleEndian.PutUint32(symtab[0:4], entryNameOff)
	binary.LittleEndian.PutUint32(symtab[4:8], 0x1000)
	binary.LittleEndian.PutUint32(symtab[8:12], 0)
	symtab[12] = 0
	binary.LittleEndian.PutUint16(symtab[14:16], 1) // shndx = .text's section index

	// symbol 1: host_log_write, undefined (external)
	binary.LittleEndian.PutUint32(symtab[16:20], globalNameOff)
	binary.LittleEndian.PutUint32(symtab[20:24], 0)
	binary.LittleEndian.PutUint32(symtab[24:28], 0)
	symtab[28] = 0
	binary.LittleEndian.PutUint16(symtab[30:32], 0) // shndx = 0 -> undefined

	strtabNameOff := b.addShstrName(".strtab")
	symtabNameOff := b.addShstrName(".symtab")
	relaNameOff := b.addShstrName(".rela.text")

	rela := make([]byte, 12)
	binary.LittleEndian.PutUint32(rela[0:4], 0x1004) // relocation site: 4 bytes into .text
	info := (uint32(1) << 8) | elf32.RelGlobalData    // sym index 1 (host_log_write), type global-data
	binary.LittleEndian.PutUint32(rela[4:8], info)
	binary.LittleEndian.PutUint32(rela[8:12], 0)

	b.sections = []rawSection{
		{name: "", typ: elf32.SHTNull},
		codeSec,
		{name: ".strtab", nameOff: strtabNameOff, typ: elf32.SHTStrTab, data: b.strtab},
		{name: ".symtab", nameOff: symtabNameOff, typ: elf32.SHTSymTab, data: symtab, link: 2},
		{name: ".rela.text", nameOff: relaNameOff, typ: elf32.SHTRela, data: rela, info: 1},
	}

	// Layout: ehdr, then each section's raw bytes back to back, then
	// shstrtab bytes, then the section header table.
	const ehdrSize = 52
	const shdrSize = 40

	shstrtabSecIdx := len(b.sections) // appended after the declared sections
	allSections := append(append([]rawSection{}, b.sections...), rawSection{
		name: ".shstrtab", typ: elf32.SHTStrTab, data: b.shstrtab,
	})

	offsets := make([]uint32, len(allSections))
	cursor := uint32(ehdrSize)
	for i, s := range allSections {
		offsets[i] = cursor
		cursor += uint32(len(s.data))
	}
	shoff := cursor

	full := make([]byte, shoff+uint32(len(allSections))*shdrSize)
	copy(full[0:4], elf32.Magic[:])
	full[4] = 1 // 32-bit
	full[5] = 1 // little-endian
	binary.LittleEndian.PutUint16(full[16:18], elf32.ETDyn)
	binary.LittleEndian.PutUint16(full[18:20], 42) // machine
	binary.LittleEndian.PutUint32(full[24:28], 0x1000) // entry
	binary.LittleEndian.PutUint32(full[32:36], shoff)
	binary.LittleEndian.PutUint16(full[46:48], shdrSize)
	binary.LittleEndian.PutUint16(full[48:50], uint16(len(allSections)))
	binary.LittleEndian.PutUint16(full[50:52], uint16(shstrtabSecIdx))

	for i, s := range allSections {
		copy(full[offsets[i]:], s.data)
	}

	for i, s := range allSections {
		off := shoff + uint32(i)*shdrSize
		binary.LittleEndian.PutUint32(full[off+0:off+4], s.nameOff)
		binary.LittleEndian.PutUint32(full[off+4:off+8], s.typ)
		binary.LittleEndian.PutUint32(full[off+8:off+12], s.flags)
		binary.LittleEndian.PutUint32(full[off+12:off+16], s.addr)
		binary.LittleEndian.PutUint32(full[off+16:off+20], offsets[i])
		binary.LittleEndian.PutUint32(full[off+20:off+24], uint32(len(s.data)))
		binary.LittleEndian.PutUint32(full[off+24:off+28], s.link)
		binary.LittleEndian.PutUint32(full[off+28:off+32], s.info)
	}

	idx := map[string]int{
		"text":     1,
		"strtab":   2,
		"symtab":   3,
		"rela":     4,
		"shstrtab": shstrtabSecIdx,
	}
	return full, idx
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	_, err := elf32.ParseHeader([]byte("not an elf"))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestRoundTrip(t *testing.T) {
	img, idx := buildImage(t)

	h, err := elf32.ParseHeader(img)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Type != elf32.ETDyn {
		t.Fatalf("Type = %d, want ETDyn", h.Type)
	}

	sections, err := elf32.ParseSections(img, h)
	if err != nil {
		t.Fatalf("ParseSections: %v", err)
	}
	if sections[idx["text"]].Name != ".text" {
		t.Fatalf("text section name = %q", sections[idx["text"]].Name)
	}

	symtab := sections[idx["symtab"]]
	strtab := sections[idx["strtab"]]
	syms, err := elf32.ParseSymbols(img, symtab, strtab)
	if err != nil {
		t.Fatalf("ParseSymbols: %v", err)
	}
	if len(syms) != 2 || syms[0].Name != "demo_app_entry" || syms[1].Name != "host_log_write" {
		t.Fatalf("unexpected symbols: %+v", syms)
	}
	if !syms[1].IsUndefined() {
		t.Fatal("host_log_write should be undefined")
	}

	relas, err := elf32.ParseRelocations(img, sections[idx["rela"]])
	if err != nil {
		t.Fatalf("ParseRelocations: %v", err)
	}
	if len(relas) != 1 || relas[0].Type != elf32.RelGlobalData || relas[0].Sym != 1 {
		t.Fatalf("unexpected relocations: %+v", relas)
	}
}
