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

package vmem

import (
	"testing"
	"time"

	"github.com/coreguest/vmem/memory/pageflags"
	"github.com/coreguest/vmem/memory/profile"
	"github.com/coreguest/vmem/memory/threadid"
)

func newTestContext(t *testing.T) (*Context, *threadid.ID) {
	t.Helper()
	c, err := Init(profile.PS3Name)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, threadid.New()
}

func TestAllocReturnsAddressInsideMain(t *testing.T) {
	c, th := newTestContext(t)

	addr, err := c.Alloc(th, profile.Main, 0x2000, 4096)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if addr < 0x00010000 || addr >= 0x20000000 {
		t.Fatalf("addr %#x outside the main block", addr)
	}
	if addr%4096 != 0 {
		t.Fatalf("addr %#x not page-aligned", addr)
	}
	if !c.CheckAddr(addr, 0x2000) {
		t.Fatal("CheckAddr false right after Alloc")
	}

	blk := c.Get(th, profile.Main, 0)
	if got := blk.Used(); got != 0x2000 {
		t.Fatalf("Used() = %#x, want 0x2000", got)
	}

	if ok, err := c.Dealloc(th, addr, profile.Main); err != nil || !ok {
		t.Fatalf("Dealloc = %v, %v", ok, err)
	}
	if got := blk.Used(); got != 0 {
		t.Fatalf("Used() after Dealloc = %#x, want 0", got)
	}
}

func TestFallocRejectsOverlap(t *testing.T) {
	c, th := newTestContext(t)

	const addr = 0x20100000
	if ok, err := c.Falloc(th, addr, 0x10000, profile.User); err != nil || !ok {
		t.Fatalf("first Falloc = %v, %v", ok, err)
	}
	if ok, err := c.Falloc(th, addr, 0x1000, profile.User); err != nil || ok {
		t.Fatalf("second Falloc = %v, %v, want false, nil", ok, err)
	}
}

func TestConcurrentOpBreaksReservation(t *testing.T) {
	c, th1 := newTestContext(t)
	th2 := threadid.New()

	addr, err := c.Alloc(th1, profile.Main, 0x1000, 4096)
	if err != nil || addr == 0 {
		t.Fatalf("Alloc: %v (addr=%#x)", err, addr)
	}

	buf := make([]byte, 128)
	if err := c.ReservationAcquire(th1, buf, addr, 128); err != nil {
		t.Fatalf("ReservationAcquire: %v", err)
	}

	if err := c.ReservationOp(th2, addr, 128, func(mem []byte) { mem[0] = 1 }); err != nil {
		t.Fatalf("ReservationOp: %v", err)
	}

	if c.ReservationUpdate(th1, addr, make([]byte, 128), 128) {
		t.Fatal("ReservationUpdate succeeded after a concurrent Op broke the reservation")
	}
}

func TestWaiterWakesOnMatchingWrite(t *testing.T) {
	c, th1 := newTestContext(t)
	th2 := threadid.New()

	addr, err := c.Alloc(th1, profile.Main, 0x1000, 4096)
	if err != nil || addr == 0 {
		t.Fatalf("Alloc: %v (addr=%#x)", err, addr)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Wait(th1, addr, 128, func() (bool, error) {
			return c.backing.Priv.Slice(addr, 1)[0] == 0xFF, nil
		})
	}()

	time.Sleep(5 * time.Millisecond)

	if err := c.ReservationOp(th2, addr, 128, func(mem []byte) { mem[0] = 0xFF }); err != nil {
		t.Fatalf("ReservationOp: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestPageProtectClearingWritableBlocksAcquire(t *testing.T) {
	c, th := newTestContext(t)

	addr, err := c.Alloc(th, profile.Main, 0x1000, 4096)
	if err != nil || addr == 0 {
		t.Fatalf("Alloc: %v (addr=%#x)", err, addr)
	}

	ok, err := c.PageProtect(th, addr, 0x1000, pageflags.Readable, 0, pageflags.Writable)
	if err != nil || !ok {
		t.Fatalf("PageProtect = %v, %v", ok, err)
	}

	buf := make([]byte, 4)
	if err := c.ReservationAcquire(th, buf, addr, 4); err == nil {
		t.Fatal("ReservationAcquire succeeded on a page with WRITABLE cleared")
	}
}

func TestMapThenUnmapClearsPageTable(t *testing.T) {
	c, th := newTestContext(t)

	const addr = 0x30000000
	const size = 0x1000
	blk, err := c.Map(th, addr, size, pageflags.Readable|pageflags.Writable)
	if err != nil || blk == nil {
		t.Fatalf("Map = %v, %v", blk, err)
	}
	if !c.table.IsFree(addr, size) {
		t.Fatal("Map must not pre-commit pages; only Alloc/Falloc inside the block does")
	}

	got, err := c.Unmap(th, addr)
	if err != nil || got == nil {
		t.Fatalf("Unmap = %v, %v", got, err)
	}
}

func TestSnapshotReflectsReservationActivity(t *testing.T) {
	c, th := newTestContext(t)

	addr, err := c.Alloc(th, profile.Main, 0x1000, 4096)
	if err != nil || addr == 0 {
		t.Fatalf("Alloc: %v (addr=%#x)", err, addr)
	}

	buf := make([]byte, 4)
	if err := c.ReservationAcquire(th, buf, addr, 4); err != nil {
		t.Fatalf("ReservationAcquire: %v", err)
	}
	if !c.ReservationUpdate(th, addr, []byte{1, 2, 3, 4}, 4) {
		t.Fatal("ReservationUpdate failed on a fresh reservation")
	}

	snap := c.Snapshot()
	if snap.ReservationAcquires != 1 {
		t.Fatalf("ReservationAcquires = %d, want 1", snap.ReservationAcquires)
	}
	if snap.ReservationUpdates != 1 {
		t.Fatalf("ReservationUpdates = %d, want 1", snap.ReservationUpdates)
	}
	if snap.WaiterCapacity == 0 {
		t.Fatal("WaiterCapacity = 0")
	}

	var mainUsed uint32
	for _, b := range snap.Blocks {
		if b.Location == "main" {
			mainUsed = b.Used
		}
	}
	if mainUsed != 0x1000 {
		t.Fatalf("main block Used in snapshot = %#x, want 0x1000", mainUsed)
	}
}
