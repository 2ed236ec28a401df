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

package block

import (
	"testing"

	"github.com/coreguest/vmem/memory/hostmem"
	"github.com/coreguest/vmem/memory/pageflags"
	"github.com/coreguest/vmem/memory/pagetable"
)

func newTestBlock(t *testing.T, base, size uint32) *Block {
	t.Helper()
	backing, err := hostmem.New()
	if err != nil {
		t.Fatalf("hostmem.New: %v", err)
	}
	t.Cleanup(func() { backing.Close() })
	table := pagetable.New()
	return New(base, size, pageflags.Readable|pageflags.Writable, table, backing)
}

func TestAllocFindsFirstFit(t *testing.T) {
	b := newTestBlock(t, 0x1_0000, 0x10000)

	addr, err := b.Alloc(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if addr != 0x1_0000 {
		t.Fatalf("Alloc returned %#x, want %#x", addr, 0x1_0000)
	}
	if b.Used() != 0x1000 {
		t.Fatalf("Used() = %#x, want %#x", b.Used(), 0x1000)
	}

	addr2, err := b.Alloc(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if addr2 != addr+0x1000 {
		t.Fatalf("Alloc returned %#x, want %#x", addr2, addr+0x1000)
	}
}

func TestFallocRejectsCollision(t *testing.T) {
	b := newTestBlock(t, 0x2_0000, 0x10000)

	ok, err := b.Falloc(0x2_0000, 0x1000)
	if err != nil || !ok {
		t.Fatalf("Falloc first = %v, %v", ok, err)
	}

	ok, err = b.Falloc(0x2_0000, 0x1000)
	if err != nil {
		t.Fatalf("Falloc second: %v", err)
	}
	if ok {
		t.Fatal("Falloc succeeded over an existing allocation")
	}
}

func TestFallocRejectsOutOfBounds(t *testing.T) {
	b := newTestBlock(t, 0x3_0000, 0x1000)

	if _, err := b.Falloc(0x4_0000, 0x1000); err == nil {
		t.Fatal("Falloc accepted an out-of-range address")
	}
}

func TestDeallocFreesCapacity(t *testing.T) {
	b := newTestBlock(t, 0x5_0000, 0x10000)

	addr, err := b.Alloc(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	ok, err := b.Dealloc(addr, func(uint32, uint32) {})
	if err != nil || !ok {
		t.Fatalf("Dealloc = %v, %v", ok, err)
	}
	if b.Used() != 0 {
		t.Fatalf("Used() after Dealloc = %#x, want 0", b.Used())
	}

	ok, err = b.Dealloc(addr, func(uint32, uint32) {})
	if err != nil {
		t.Fatalf("Dealloc second: %v", err)
	}
	if ok {
		t.Fatal("Dealloc succeeded on an already-freed address")
	}
}

func TestAllocStopsAtCapacity(t *testing.T) {
	b := newTestBlock(t, 0x6_0000, 0x2000)

	if _, err := b.Alloc(0x1000, 0x1000); err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	if _, err := b.Alloc(0x1000, 0x1000); err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}

	addr, err := b.Alloc(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("Alloc 3: %v", err)
	}
	if addr != 0 {
		t.Fatalf("Alloc 3 returned %#x, want 0 (capacity exhausted)", addr)
	}
}
