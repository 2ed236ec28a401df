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

// Package block implements the per-region allocator: each block owns an
// ordered map of live allocations inside a fixed guest-address range,
// and serializes its own mutations behind a per-block mutex.
package block

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coreguest/vmem/memory/hostmem"
	"github.com/coreguest/vmem/memory/pageflags"
	"github.com/coreguest/vmem/memory/pagetable"
	"github.com/coreguest/vmem/vmerrors"
	"github.com/coreguest/vmem/vmlog"
)

const pageSize = pagetable.PageSize

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

func isPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// Block is one named, non-overlapping region of the guest address space.
// The zero value is not usable; construct with New.
type Block struct {
	base  uint32
	size  uint32
	flags pageflags.Flags

	table   *pagetable.Table
	backing *hostmem.Backing

	mu     sync.Mutex
	used   atomic.Uint32
	allocs map[uint32]uint32 // addr -> size, ordered by scanning keys
}

// New creates a block spanning [base, base+size) backed by table and
// backing. flags are the default page flags new allocations in this
// block receive.
func New(base, size uint32, flags pageflags.Flags, table *pagetable.Table, backing *hostmem.Backing) *Block {
	return &Block{
		base:    base,
		size:    size,
		flags:   flags,
		table:   table,
		backing: backing,
		allocs:  make(map[uint32]uint32),
	}
}

// Base returns the block's starting guest address.
func (b *Block) Base() uint32 { return b.base }

// Size returns the block's total capacity in bytes.
func (b *Block) Size() uint32 { return b.size }

// Flags returns the default page flags this block allocates with.
func (b *Block) Flags() pageflags.Flags { return b.flags }

// Used returns the number of bytes currently allocated within the block.
func (b *Block) Used() uint32 { return b.used.Load() }

// Contains reports whether addr falls within the block's range.
func (b *Block) Contains(addr uint32) bool {
	return addr >= b.base && addr < b.base+b.size
}

// Alloc finds the first address at or after base, aligned to align,
// with room for size bytes that does not collide with an existing
// allocation or any already-mapped page. It returns 0 if no such
// address exists within the block.
func (b *Block) Alloc(size, align uint32) (uint32, error) {
	if size == 0 || !isPowerOfTwo(align) || align < pageSize {
		return 0, vmerrors.New(vmerrors.InvalidAlignment, size, align)
	}
	size = alignUp(size, pageSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	for addr := alignUp(b.base, align); addr+size <= b.base+b.size && addr+size > addr; addr += align {
		if b.used.Load()+size > b.size {
			break
		}
		if ok, err := b.tryAllocLocked(addr, size); err != nil {
			return 0, err
		} else if ok {
			return addr, nil
		}
	}

	vmlog.Logf("vmem.block", "alloc failed: base=%#08x size=%#x align=%#x used=%#x of %#x",
		b.base, size, align, b.used.Load(), b.size)
	return 0, nil
}

// Falloc allocates exactly at addr, failing if the range is out of
// bounds, already recorded, or any covered page is already mapped.
func (b *Block) Falloc(addr, size uint32) (bool, error) {
	if size == 0 {
		return false, vmerrors.New(vmerrors.InvalidArguments, addr, size)
	}
	size = alignUp(size, pageSize)
	if addr < b.base || addr+size > b.base+b.size || addr+size < addr {
		return false, vmerrors.New(vmerrors.InvalidLocation, "falloc", addr)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryAllocLocked(addr, size)
}

// tryAllocLocked is the single-attempt step shared by Alloc and Falloc:
// checks every covered
// page is free, reserves capacity, maps the pages, and records the
// allocation. Must be called with b.mu held.
func (b *Block) tryAllocLocked(addr, size uint32) (bool, error) {
	if !b.table.IsFree(addr, size) {
		return false, nil
	}

	for {
		cur := b.used.Load()
		next := cur + size
		if next > b.size || next < cur {
			return false, nil
		}
		if b.used.CompareAndSwap(cur, next) {
			break
		}
	}

	if err := b.table.MapPages(addr, size, b.flags, b.backing); err != nil {
		reverted := b.used.Add(^(size - 1))
		if reverted > b.size {
			vmerrors.Panic(vmerrors.UnexpectedUsedAmount, reverted)
		}
		return false, err
	}

	b.allocs[addr] = size
	return true, nil
}

// breakAndNotify is supplied by the owning context and plugs unmap into
// the reservation engine's break/notify path: it must break any
// reservation overlapping [addr, addr+size), one page.
type breakAndNotify func(addr, size uint32)

// Dealloc removes the allocation at addr, if any, unmapping its pages
// while the caller holds the reservation mutex (the brk hook is invoked
// once per page, matching pagetable.UnmapPages's breakFunc).
func (b *Block) Dealloc(addr uint32, brk breakAndNotify) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size, ok := b.allocs[addr]
	if !ok {
		return false, nil
	}
	delete(b.allocs, addr)

	if err := b.table.UnmapPages(addr, size, func(pageAddr uint32) {
		brk(pageAddr, pageSize)
	}, b.backing); err != nil {
		return false, err
	}

	reverted := b.used.Add(^(size - 1))
	if reverted > b.size {
		vmerrors.Panic(vmerrors.UnexpectedUsedAmount, reverted)
	}
	return true, nil
}

// Allocations returns a snapshot of (addr, size) pairs currently live in
// this block, sorted by address, for diagnostics.
func (b *Block) Allocations() []AllocInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]AllocInfo, 0, len(b.allocs))
	for addr, size := range b.allocs {
		out = append(out, AllocInfo{Addr: addr, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// AllocInfo describes one live allocation, for diagnostics.
type AllocInfo struct {
	Addr uint32
	Size uint32
}
