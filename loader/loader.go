// File: loader/loader.go
// Package loader implements the dynamic application loader (component
// C10): it parses a position-independent ELF32-shaped image, places its
// code/data/bss into placement regions, applies relocations against a
// mapping table, resolves external symbols against a host-exported table,
// and selects an entry point.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Jumping into freshly-loaded machine code is the host's job, not this
// package's: Go offers no safe way to execute an arbitrary byte buffer as
// code. Load validates, places, relocates and resolves exactly as the
// pipeline describes, and returns the selected entry as a resolved
// synthetic address plus, when the entry symbol's section landed in the
// code region, its byte offset within that region — what the host does
// with that information (machine-code dispatch on a real target, a Go
// callback shim in tests) is out of scope here.

package loader

import (
	"encoding/binary"
	"log"

	"github.com/krakenos/kernel/api"
	"github.com/krakenos/kernel/loader/elf32"
)

// SymbolResolver looks up an externally-referenced symbol name against the
// host API table (component C11). A miss returns ok=false.
type SymbolResolver func(name string) (addr uint32, ok bool)

// Config carries the synthetic base addresses used for bookkeeping and
// logging, plus the cache-coherence seam.
type Config struct {
	CodeBase uint32
	DataBase uint32
	BSSBase  uint32

	// ExpectedMachine is compared against the image's e_machine field;
	// a mismatch is fatal. Zero disables the check.
	ExpectedMachine uint16

	// CacheFlush is invoked once after every relocation has been applied,
	// with the final code region contents; execute-in-place loads, whose
	// code is never patched, skip it. A nil value is a no-op — most
	// hosts (this one included, on conventional CPU architectures) have
	// coherent instruction/data caches and need no explicit flush; the
	// seam exists for targets that do.
	CacheFlush func(code []byte) error

	Logger *log.Logger
}

// DefaultConfig uses placeholder synthetic base addresses distinct enough
// to make code/data/bss regions visually distinguishable in logs.
func DefaultConfig() Config {
	return Config{
		CodeBase: 0x40000000,
		DataBase: 0x3FC00000,
		BSSBase:  0x3FC80000,
		Logger:   log.Default(),
	}
}

// Options configures one Load call.
type Options struct {
	// ExecuteInPlace, when true, treats FlashCode as the resident,
	// read-only backing store for the code region instead of copying
	// section bytes into a freshly mapped region. Relocations that would
	// patch bytes inside it are detected and skipped.
	ExecuteInPlace bool
	FlashCode      []byte

	Resolve SymbolResolver
	Config  Config
}

type bucketKind int

const (
	bucketCode bucketKind = iota
	bucketData
	bucketBSS
)

type placement struct {
	sectionIndex int
	kind         bucketKind
	origAddr     uint32
	offset       uint32
	size         uint32
}

// MappingEntry is one resolver row built during the placement pass: the
// tuple (original image vaddr, loaded base, size) step 6 of the pipeline
// describes.
type MappingEntry struct {
	OriginalAddr uint32
	LoadedAddr   uint32
	Size         uint32
}

// LoadedImage is the handle returned by Load. Exactly one Unload call
// reverses it; repeated Unload calls are a no-op.
type LoadedImage struct {
	Code []byte
	Data []byte
	BSS  []byte

	CodeInFlash bool
	codeMapping *codeMapping

	Mapping []MappingEntry

	EntryAddr      uint32
	EntryOffset    int // offset into Code if the entry lands there, else -1
	ExitAddr       uint32
	HasExit        bool
	ManifestAddr   uint32
	HasManifest    bool

	UnresolvedSymbols []string

	instructionSlotCount int
	asmExpandCount       int
	skippedFlashRelocs   int
	unknownRelocs        int

	unloaded bool
}

// Load runs the full pipeline over image and returns a LoadedImage, or an
// error if any step fails fatally. Failure of any step unwinds every
// allocation made so far.
func Load(image []byte, opts Options) (*LoadedImage, error) {
	cfg := opts.Config
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	h, err := elf32.ParseHeader(image)
	if err != nil {
		return nil, api.NewFault(api.CodeAppInvalidManifest, "invalid image header").WithContext("cause", err.Error())
	}
	if cfg.ExpectedMachine != 0 && h.Machine != cfg.ExpectedMachine {
		return nil, api.NewFault(api.CodeAppInvalidManifest, "architecture mismatch").
			WithContext("image_machine", h.Machine).WithContext("host_machine", cfg.ExpectedMachine)
	}
	if h.Type != elf32.ETDyn {
		cfg.Logger.Printf("loader: image type %d is not the preferred position-independent type, accepting anyway", h.Type)
	}

	sections, err := elf32.ParseSections(image, h)
	if err != nil {
		return nil, api.NewFault(api.CodeAppInvalidManifest, "invalid section table").WithContext("cause", err.Error())
	}

	placements, codeSize, dataSize, bssSize := planPlacement(sections)

	li := &LoadedImage{EntryOffset: -1}

	if opts.ExecuteInPlace {
		if len(opts.FlashCode) < int(codeSize) {
			return nil, api.NewFault(api.CodeOutOfMemory, "flash window smaller than code footprint")
		}
		li.Code = opts.FlashCode[:codeSize]
		li.CodeInFlash = true
	} else {
		cm, err := mapCodeRegion(int(codeSize))
		if err != nil {
			return nil, api.NewFault(api.CodeOutOfMemory, "code region allocation failed").WithContext("cause", err.Error())
		}
		li.codeMapping = cm
		li.Code = cm.bytes()
	}
	li.Data = make([]byte, dataSize)
	li.BSS = make([]byte, bssSize)

	for _, p := range placements {
		if p.kind == bucketCode && li.CodeInFlash {
			continue // already resident at the host-provided flash address
		}
		sec := sections[p.sectionIndex]
		src := sec.Bytes(image)
		if src == nil {
			continue // bss or empty: already zeroed
		}
		dst := li.bucketBuf(p.kind)
		copy(dst[p.offset:p.offset+p.size], src)
	}

	li.Mapping = buildMapping(placements, cfg)

	symbols, symSectionIdx := parseAllSymbols(image, sections)

	if err := li.applyRelocations(image, sections, placements, symbols, opts.Resolve, cfg); err != nil {
		li.unwind()
		return nil, err
	}

	if !opts.ExecuteInPlace && cfg.CacheFlush != nil {
		if err := cfg.CacheFlush(li.Code); err != nil {
			li.unwind()
			return nil, api.NewFault(api.CodeInvalidArgument, "cache flush failed").WithContext("cause", err.Error())
		}
	}
	if !opts.ExecuteInPlace {
		if err := li.codeMapping.makeExecutable(); err != nil {
			li.unwind()
			return nil, api.NewFault(api.CodeOutOfMemory, "failed to make code region executable").WithContext("cause", err.Error())
		}
	}

	li.selectEntryPoints(h, placements, symbols, symSectionIdx, cfg)

	return li, nil
}

// LoadResult is Load wrapped in api.Result, for callers composing the
// pipeline's outcome through the same Result/error-value contract the rest
// of this package's async seams (api.Cancelable, api.Scheduler) use rather
// than a bare (value, error) pair.
func LoadResult(image []byte, opts Options) api.Result[*LoadedImage] {
	li, err := Load(image, opts)
	return api.Result[*LoadedImage]{Value: li, Err: err}
}

func planPlacement(sections []elf32.Section) (placements []placement, codeSize, dataSize, bssSize uint32) {
	for i, s := range sections {
		if s.Flags&elf32.SHFAlloc == 0 {
			continue
		}
		var kind bucketKind
		var base *uint32
		switch {
		case s.Flags&elf32.SHFExecInstr != 0:
			kind, base = bucketCode, &codeSize
		case s.Type == elf32.SHTNoBits:
			kind, base = bucketBSS, &bssSize
		default:
			kind, base = bucketData, &dataSize
		}
		off := *base
		*base += s.Size
		placements = append(placements, placement{
			sectionIndex: i,
			kind:         kind,
			origAddr:     s.Addr,
			offset:       off,
			size:         s.Size,
		})
	}
	return placements, codeSize, dataSize, bssSize
}

func buildMapping(placements []placement, cfg Config) []MappingEntry {
	out := make([]MappingEntry, 0, len(placements))
	for _, p := range placements {
		out = append(out, MappingEntry{
			OriginalAddr: p.origAddr,
			LoadedAddr:   bucketBase(p.kind, cfg) + p.offset,
			Size:         p.size,
		})
	}
	return out
}

func bucketBase(kind bucketKind, cfg Config) uint32 {
	switch kind {
	case bucketCode:
		return cfg.CodeBase
	case bucketData:
		return cfg.DataBase
	default:
		return cfg.BSSBase
	}
}

func (li *LoadedImage) bucketBuf(kind bucketKind) []byte {
	switch kind {
	case bucketCode:
		return li.Code
	case bucketData:
		return li.Data
	default:
		return li.BSS
	}
}

// resolveAddr translates a virtual address from the image's own address
// space into the synthetic loaded address recorded in the mapping table.
func (li *LoadedImage) resolveAddr(vaddr uint32) (uint32, bool) {
	for _, m := range li.Mapping {
		if vaddr >= m.OriginalAddr && vaddr < m.OriginalAddr+m.Size {
			return m.LoadedAddr + (vaddr - m.OriginalAddr), true
		}
	}
	return 0, false
}

// placementsContaining finds the placement whose section covers vaddr, used to
// locate the physical write site for a relocation target.
func placementsContaining(placements []placement, vaddr uint32) (placement, bool) {
	for _, p := range placements {
		if vaddr >= p.origAddr && vaddr < p.origAddr+p.size {
			return p, true
		}
	}
	return placement{}, false
}

func parseAllSymbols(image []byte, sections []elf32.Section) (syms []elf32.Symbol, symSectionIdx int) {
	symSectionIdx = -1
	for i, s := range sections {
		if s.Type != elf32.SHTSymTab && s.Type != elf32.SHTDynSym {
			continue
		}
		if int(s.Link) >= len(sections) {
			continue
		}
		strtab := sections[s.Link]
		parsed, err := elf32.ParseSymbols(image, s, strtab)
		if err != nil {
			continue
		}
		syms = parsed
		symSectionIdx = i
		break // the image carries at most one symbol table of interest
	}
	return syms, symSectionIdx
}

func (li *LoadedImage) applyRelocations(image []byte, sections []elf32.Section, placements []placement, symbols []elf32.Symbol, resolve SymbolResolver, cfg Config) error {
	for _, sh := range sections {
		if sh.Type != elf32.SHTRela {
			continue
		}
		relas, err := elf32.ParseRelocations(image, sh)
		if err != nil {
			return api.NewFault(api.CodeAppInvalidManifest, "invalid relocation section").WithContext("cause", err.Error())
		}
		for _, r := range relas {
			li.applyOne(r, placements, symbols, resolve, cfg)
		}
	}
	return nil
}

func (li *LoadedImage) applyOne(r elf32.Rela, placements []placement, symbols []elf32.Symbol, resolve SymbolResolver, cfg Config) {
	target, ok := placementsContaining(placements, r.Offset)
	if !ok {
		cfg.Logger.Printf("loader: relocation at 0x%x targets no placed section, skipping", r.Offset)
		return
	}
	if target.kind == bucketCode && li.CodeInFlash {
		li.skippedFlashRelocs++
		return
	}

	siteOff := target.offset + (r.Offset - target.origAddr)
	buf := li.bucketBuf(target.kind)
	if int(siteOff)+4 > len(buf) {
		cfg.Logger.Printf("loader: relocation site 0x%x out of bounds", r.Offset)
		return
	}
	site := buf[siteOff : siteOff+4]

	switch r.Type {
	case elf32.RelAbsolute, elf32.RelRelative:
		var vaddr uint32
		if r.Addend != 0 {
			vaddr = uint32(r.Addend)
		} else {
			vaddr = binary.LittleEndian.Uint32(site)
		}
		if resolved, ok := li.resolveAddr(vaddr); ok {
			binary.LittleEndian.PutUint32(site, resolved)
		} else {
			binary.LittleEndian.PutUint32(site, vaddr)
		}

	case elf32.RelGlobalData:
		if int(r.Sym) >= len(symbols) {
			li.UnresolvedSymbols = append(li.UnresolvedSymbols, "<invalid symbol index>")
			return
		}
		sym := symbols[r.Sym]
		if sym.IsUndefined() {
			if resolve == nil {
				li.UnresolvedSymbols = append(li.UnresolvedSymbols, sym.Name)
				return
			}
			addr, ok := resolve(sym.Name)
			if !ok {
				li.UnresolvedSymbols = append(li.UnresolvedSymbols, sym.Name)
				return
			}
			binary.LittleEndian.PutUint32(site, addr)
			return
		}
		if resolved, ok := li.resolveAddr(sym.Value); ok {
			binary.LittleEndian.PutUint32(site, resolved)
		}

	case elf32.RelInstructionSlot:
		li.instructionSlotCount++
	case elf32.RelAsmExpand:
		li.asmExpandCount++
	default:
		li.unknownRelocs++
		cfg.Logger.Printf("loader: unknown relocation type %d at 0x%x, skipping", r.Type, r.Offset)
	}
}

func (li *LoadedImage) selectEntryPoints(h elf32.Header, placements []placement, symbols []elf32.Symbol, symSectionIdx int, cfg Config) {
	find := func(suffix string) (elf32.Symbol, bool) {
		for _, s := range symbols {
			if s.IsUndefined() || s.Name == "" {
				continue
			}
			if len(s.Name) >= len(suffix) && s.Name[len(s.Name)-len(suffix):] == suffix {
				return s, true
			}
		}
		return elf32.Symbol{}, false
	}

	if sym, ok := find("_app_entry"); ok {
		li.EntryAddr, _ = li.resolveAddr(sym.Value)
		li.EntryOffset = li.codeOffsetOf(sym.Value, placements)
	} else if addr, ok := li.resolveAddr(h.Entry); ok {
		li.EntryAddr = addr
		li.EntryOffset = li.codeOffsetOf(h.Entry, placements)
	} else {
		li.EntryAddr = cfg.CodeBase
		li.EntryOffset = 0
	}

	if sym, ok := find("_app_exit"); ok {
		li.ExitAddr, _ = li.resolveAddr(sym.Value)
		li.HasExit = true
	}
	if sym, ok := find("_app_manifest"); ok {
		li.ManifestAddr, _ = li.resolveAddr(sym.Value)
		li.HasManifest = true
	}
}

func (li *LoadedImage) codeOffsetOf(vaddr uint32, placements []placement) int {
	p, ok := placementsContaining(placements, vaddr)
	if !ok || p.kind != bucketCode {
		return -1
	}
	return int(p.offset + (vaddr - p.origAddr))
}

func (li *LoadedImage) unwind() {
	if li.codeMapping != nil {
		_ = li.codeMapping.unmap()
		li.codeMapping = nil
	}
	li.Code, li.Data, li.BSS = nil, nil, nil
}

// Unload reverses every allocation Load made. Idempotent: a second call is
// a no-op.
func (li *LoadedImage) Unload() error {
	if li.unloaded {
		return nil
	}
	li.unloaded = true
	if li.codeMapping != nil {
		if err := li.codeMapping.unmap(); err != nil {
			return api.NewFault(api.CodeInvalidArgument, "unmap failed").WithContext("cause", err.Error())
		}
		li.codeMapping = nil
	}
	li.Code, li.Data, li.BSS = nil, nil, nil
	return nil
}
