// This file is part of Coreguest.
//
// Coreguest is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Coreguest is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Coreguest.  If not, see <https://www.gnu.org/licenses/>.

// Package cpustack implements the guest stack-frame push/pop helpers,
// parameterized over the four CPU kinds that can own a guest stack.
package cpustack

import "github.com/coreguest/vmem/vmerrors"

// Kind identifies which CPU architecture a Context belongs to. Each
// kind has its own stack-pointer register, minimum stack alignment, and
// (for SPU) an address translation through local store.
type Kind int

const (
	PPU Kind = iota
	SPU
	RawSPU
	ARMv7
)

func (k Kind) String() string {
	switch k {
	case PPU:
		return "PPU"
	case SPU:
		return "SPU"
	case RawSPU:
		return "RAW_SPU"
	case ARMv7:
		return "ARMv7"
	default:
		return "unknown"
	}
}

// minAlign is the minimum stack-frame alignment per CPU kind: 8 bytes
// for PPU, 16 for SPU, 4 for ARMv7.
func (k Kind) minAlign() uint32 {
	switch k {
	case PPU:
		return 8
	case SPU, RawSPU:
		return 16
	case ARMv7:
		return 4
	default:
		return 0
	}
}

// Context is the capability a CPU model must expose for the stack
// helpers to operate on it: its kind, read/write access to its stack
// pointer translated to a 32-bit guest address, its stack base, and
// (for SPU/RAW_SPU) the local-store offset stack-pointer values are
// relative to.
type Context interface {
	Kind() Kind
	StackPointer() uint32
	SetStackPointer(addr uint32)
	StackBase() uint32
	LocalStoreBase() uint32 // only meaningful for SPU/RAW_SPU
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

func translate(cpu Context, guestLocalSP uint32) uint32 {
	switch cpu.Kind() {
	case SPU, RawSPU:
		return cpu.LocalStoreBase() + guestLocalSP
	default:
		return guestLocalSP
	}
}

func untranslate(cpu Context, addr uint32) uint32 {
	switch cpu.Kind() {
	case SPU, RawSPU:
		return addr - cpu.LocalStoreBase()
	default:
		return addr
	}
}

// Push reserves size bytes (rounded up to the CPU kind's minimum
// alignment, then down-aligned to align) below the current stack
// pointer, writes the old stack pointer to oldPos, moves the stack
// pointer to the new, lower address, and returns that address as seen
// in the guest address space (for SPU/RAW_SPU the register holds a
// local-store-relative value; the return value is translated through
// the local-store base). Underflow past the CPU's stack base is fatal;
// it means the emulated guest corrupted its own stack accounting.
func Push(cpu Context, size, align uint32, oldPos *uint32) (uint32, error) {
	switch cpu.Kind() {
	case PPU, SPU, RawSPU, ARMv7:
	default:
		return 0, vmerrors.New(vmerrors.InvalidThreadType, cpu.Kind())
	}
	if align == 0 || align&(align-1) != 0 {
		return 0, vmerrors.New(vmerrors.InvalidAlignment, size, align)
	}

	sp := cpu.StackPointer()
	addr := translate(cpu, sp)
	*oldPos = sp

	reserve := alignUp(size, cpu.Kind().minAlign())
	if reserve > addr {
		return 0, vmerrors.New(vmerrors.StackOverflow, size, align, sp, cpu.StackBase())
	}
	newAddr := addr - reserve
	newAddr &^= align - 1

	if newAddr < cpu.StackBase() {
		return 0, vmerrors.New(vmerrors.StackOverflow, size, align, sp, cpu.StackBase())
	}

	cpu.SetStackPointer(untranslate(cpu, newAddr))
	return newAddr, nil
}

// Pop verifies the CPU's current stack pointer, translated to a guest
// address for SPU/RAW_SPU, equals addr, then restores the stack pointer
// to oldPos. A mismatch means the guest popped a frame it never pushed,
// or popped frames out of order, and is a fatal stack inconsistency.
func Pop(cpu Context, addr, oldPos uint32) error {
	sp := cpu.StackPointer()
	if translate(cpu, sp) != addr {
		return vmerrors.New(vmerrors.StackInconsistency, addr, sp, oldPos)
	}
	cpu.SetStackPointer(oldPos)
	return nil
}
