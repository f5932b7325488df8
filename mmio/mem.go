// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

package mmio

import (
	"errors"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrClosed indicates the register window has been unmapped.
var ErrClosed = errors.New("registers unmapped")

// regs is a memory mapped register window.
type regs struct {
	// mu covers read/modify/write access to the mem block.
	// Individual reads and writes skip the lock on the assumption that
	// register accesses are atomic.
	mu   sync.Mutex
	mem  []uint32
	mem8 []byte
}

// mapRegs maps length bytes of the file, from offset, as 32 bit registers.
func mapRegs(path string, offset int64, length int) (*regs, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	mem8, err := unix.Mmap(
		int(file.Fd()),
		offset,
		length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	mem := unsafe.Slice((*uint32)(unsafe.Pointer(&mem8[0])), len(mem8)/4)
	return &regs{mem: mem, mem8: mem8}, nil
}

func (r *regs) read(off int) uint32 {
	return r.mem[off]
}

func (r *regs) write(off int, v uint32) {
	r.mem[off] = v
}

// modify replaces the bits of the register selected by mask.
func (r *regs) modify(off int, mask, v uint32) {
	r.mu.Lock()
	r.mem[off] = r.mem[off]&^mask | v&mask
	r.mu.Unlock()
}

func (r *regs) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem8 == nil {
		return ErrClosed
	}
	r.mem = nil
	err := unix.Munmap(r.mem8)
	r.mem8 = nil
	return err
}
