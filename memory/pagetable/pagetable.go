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

// Package pagetable implements the flat, page-granular permission table
// covering the entire 4GiB guest address space: one independently atomic
// entry per 4KiB page.
package pagetable

import (
	"sync/atomic"

	"github.com/coreguest/vmem/memory/hostmem"
	"github.com/coreguest/vmem/memory/pageflags"
	"github.com/coreguest/vmem/vmerrors"
	"github.com/coreguest/vmem/vmlog"
)

// PageSize and PageShift mirror hostmem's fixed 4KiB guest page.
const (
	PageSize  = hostmem.PageSize
	PageShift = 12
)

// NumPages is the number of 4KiB pages covering the full 4GiB guest
// address space: 2^32 / 2^12 = 2^20.
const NumPages = hostmem.Size / PageSize

// Table is the flat page-flags array. The zero value is not usable;
// construct with New.
//
// Go has no atomic byte type, so each page's one byte of flags is held
// in the low byte of an atomic.Uint32 entry. This costs 4MiB instead of
// 1MiB for the whole table in exchange for every read and write being a
// genuine lock-free atomic operation without any manual alignment
// bookkeeping.
type Table struct {
	entries [NumPages]atomic.Uint32
}

// New allocates a zeroed page table: every page starts unmapped.
func New() *Table {
	return &Table{}
}

func pageIndex(addr uint32) uint32 {
	return addr >> PageShift
}

// pageRange returns the inclusive [first, last] page indices covered by
// [addr, addr+size), or ok=false if size is zero or the range wraps past
// the top of the 32-bit address space.
func pageRange(addr, size uint32) (first, last uint32, ok bool) {
	if size == 0 {
		return 0, 0, false
	}
	end := addr + size - 1
	if end < addr {
		return 0, 0, false
	}
	return pageIndex(addr), pageIndex(end), true
}

// Load returns the current flags of the page containing addr.
func (t *Table) Load(addr uint32) pageflags.Flags {
	return pageflags.Flags(t.entries[pageIndex(addr)].Load())
}

// IsAllocated reports whether every page in [addr, addr+size) is
// currently mapped and the range does not wrap.
func (t *Table) IsAllocated(addr, size uint32) bool {
	first, last, ok := pageRange(addr, size)
	if !ok {
		return false
	}
	for i := first; i <= last; i++ {
		if pageflags.Flags(t.entries[i].Load())&pageflags.Allocated != pageflags.Allocated {
			return false
		}
	}
	return true
}

// IsFree reports whether every page in [addr, addr+size) is currently
// unmapped (flags == 0).
func (t *Table) IsFree(addr, size uint32) bool {
	first, last, ok := pageRange(addr, size)
	if !ok {
		return false
	}
	for i := first; i <= last; i++ {
		if t.entries[i].Load() != 0 {
			return false
		}
	}
	return true
}

// breakFunc is called once per page about to change state, so the
// reservation engine can invalidate any reservation that lies on it.
// addr is the page-aligned base address of the page.
type breakFunc func(addr uint32)

// MapPages commits hostmem.Backing pages for [addr, addr+size) and marks
// them with flags|Allocated. Every covered page must currently be
// unmapped; any other state is a concurrent-modification bug and is
// fatal.
func (t *Table) MapPages(addr, size uint32, flags pageflags.Flags, backing *hostmem.Backing) error {
	first, last, ok := pageRange(addr, size)
	if !ok {
		return vmerrors.New(vmerrors.InvalidArguments, addr, size)
	}

	for i := first; i <= last; i++ {
		if t.entries[i].Load() != 0 {
			return vmerrors.New(vmerrors.MemoryAlreadyMapped, addr, size, i*PageSize)
		}
	}

	if err := backing.Protect(&backing.Priv, addr, size, hostmem.ProtReadWrite); err != nil {
		return err
	}
	if err := backing.Protect(&backing.User, addr, size, userProt(flags)); err != nil {
		return err
	}

	committed := flags | pageflags.Allocated
	for i := first; i <= last; i++ {
		if !t.entries[i].CompareAndSwap(0, uint32(committed)) {
			vmlog.Logf("vmem.pagetable", "page %#08x mutated outside the allocator during map", i*PageSize)
			vmerrors.Panic(vmerrors.ConcurrentPageAccess, i*PageSize)
		}
	}

	backing.Zero(addr, size)
	return nil
}

// UnmapPages breaks any reservation overlapping each covered page (via
// brk), clears every page's flags, and decommits both host views. Every
// covered page must currently be allocated.
func (t *Table) UnmapPages(addr, size uint32, brk breakFunc, backing *hostmem.Backing) error {
	first, last, ok := pageRange(addr, size)
	if !ok {
		return vmerrors.New(vmerrors.InvalidArguments, addr, size)
	}

	for i := first; i <= last; i++ {
		if pageflags.Flags(t.entries[i].Load())&pageflags.Allocated == 0 {
			return vmerrors.New(vmerrors.MemoryNotMapped, addr, size, i*PageSize)
		}
	}

	for i := first; i <= last; i++ {
		brk(i * PageSize)
		old := pageflags.Flags(t.entries[i].Swap(0))
		if old&pageflags.Allocated == 0 {
			vmlog.Logf("vmem.pagetable", "page %#08x mutated outside the allocator during unmap", i*PageSize)
			vmerrors.Panic(vmerrors.ConcurrentPageAccess, i*PageSize)
		}
	}

	if err := backing.Protect(&backing.User, addr, size, hostmem.ProtNone); err != nil {
		return err
	}
	return backing.Protect(&backing.Priv, addr, size, hostmem.ProtNone)
}

// Protect applies a test-set-clear update to every page in the range.
// It must be called with the reservation mutex held by the caller. It
// first verifies every covered
// page matches test|Allocated, returning false without side effects if
// any does not. It then applies set/clear to each page (bits present in
// both are toggled rather than net-cleared), breaking any reservation on
// the page first, and reprotects the user view whenever the visible
// (Readable|Writable) bits actually changed.
func (t *Table) Protect(addr, size uint32, test, set, clear pageflags.Flags, brk breakFunc, backing *hostmem.Backing) (bool, error) {
	first, last, ok := pageRange(addr, size)
	if !ok {
		return false, vmerrors.New(vmerrors.InvalidArguments, addr, size)
	}

	want := test | pageflags.Allocated
	for i := first; i <= last; i++ {
		if pageflags.Flags(t.entries[i].Load())&want != want {
			return false, nil
		}
	}

	toggle := set & clear
	pureSet := set &^ toggle
	pureClear := clear &^ toggle

	for i := first; i <= last; i++ {
		pageAddr := i * PageSize
		brk(pageAddr)

		old := pageflags.Flags(t.entries[i].Load())
		next := (old | pureSet) &^ pureClear
		next ^= toggle
		t.entries[i].Store(uint32(next))

		if old&pageflags.Visible != next&pageflags.Visible {
			if err := backing.Protect(&backing.User, pageAddr, PageSize, userProt(next)); err != nil {
				return false, err
			}
		}
	}

	return true, nil
}

// userProt translates page flags into the protection level the user
// view should show for a page with those flags.
func userProt(flags pageflags.Flags) hostmem.Prot {
	switch {
	case flags.Has(pageflags.Writable):
		return hostmem.ProtReadWrite
	case flags.Has(pageflags.Readable):
		return hostmem.ProtRead
	default:
		return hostmem.ProtNone
	}
}
