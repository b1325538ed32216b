//go:build linux

// File: loader/mmap_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Code-region mapping on linux: golang.org/x/sys/unix gives us the
// writable-then-executable alias transition described for code placement —
// pages start PROT_READ|PROT_WRITE so relocations can patch them, then
// Mprotect flips them to PROT_READ|PROT_EXEC once patching is done.

package loader

import "golang.org/x/sys/unix"

type codeMapping struct {
	writable []byte
}

func mapCodeRegion(size int) (*codeMapping, error) {
	if size == 0 {
		return &codeMapping{}, nil
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	return &codeMapping{writable: buf}, nil
}

func (m *codeMapping) bytes() []byte {
	return m.writable
}

func (m *codeMapping) makeExecutable() error {
	if len(m.writable) == 0 {
		return nil
	}
	return unix.Mprotect(m.writable, unix.PROT_READ|unix.PROT_EXEC)
}

func (m *codeMapping) unmap() error {
	if len(m.writable) == 0 {
		return nil
	}
	return unix.Munmap(m.writable)
}
