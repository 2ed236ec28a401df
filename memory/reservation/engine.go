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

// Package reservation implements the load-linked/store-conditional
// engine: a single global reservation slot, protected by a custom
// self-identifying mutex, whose acquisition and release are expressed
// as host page-protection changes rather than a shadow copy; making the
// reserved page read-only means a conflicting write by any thread is
// detectable, no matter which code path performed it.
package reservation

import (
	"math/bits"
	"sync/atomic"

	"github.com/coreguest/vmem/memory/hostmem"
	"github.com/coreguest/vmem/memory/pageflags"
	"github.com/coreguest/vmem/memory/pagetable"
	"github.com/coreguest/vmem/memory/threadid"
	"github.com/coreguest/vmem/memory/waiter"
	"github.com/coreguest/vmem/vmerrors"
	"github.com/coreguest/vmem/vmlog"
)

func pageBase(addr uint32) uint32 {
	return addr &^ (pagetable.PageSize - 1)
}

func overlaps(aAddr, aSize, bAddr, bSize uint32) bool {
	return aAddr < bAddr+bSize && bAddr < aAddr+aSize
}

func noopBreak(uint32) {}

// Engine owns the single global reservation slot and the mutex guarding
// it. The zero value is not usable; construct with New.
type Engine struct {
	mu      *mutex
	table   *pagetable.Table
	backing *hostmem.Backing
	waiters *waiter.Registry

	owner atomic.Pointer[threadid.ID]
	addr  atomic.Uint32
	size  atomic.Uint32
	flags atomic.Uint32 // page flags as they stood before the reservation touched them

	acquireCount atomic.Uint64
	updateCount  atomic.Uint64
	breakCount   atomic.Uint64
	opCount      atomic.Uint64
}

// New creates a reservation engine over table/backing, notifying through
// waiters whenever a reservation is broken or a store-conditional
// commits.
func New(table *pagetable.Table, backing *hostmem.Backing, waiters *waiter.Registry) *Engine {
	return &Engine{mu: newMutex(), table: table, backing: backing, waiters: waiters}
}

// validateRange enforces the reservation shape: size is a power of two
// no larger than a page and addr is aligned to size, which also keeps
// the range inside a single page.
func (e *Engine) validateRange(addr, size uint32) error {
	if size == 0 || size > pagetable.PageSize || bits.OnesCount32(size) != 1 {
		return vmerrors.New(vmerrors.InvalidAlignment, size, pagetable.PageSize)
	}
	if addr&(size-1) != 0 {
		return vmerrors.New(vmerrors.InvalidArguments, addr, size)
	}
	return nil
}

// restoreLocked reprotects the reservation's page back to savedFlags'
// visible bits and clears the slot. Must be called with the mutex held.
func (e *Engine) restoreLocked(savedFlags pageflags.Flags) {
	addr := e.addr.Load()
	page := pageBase(addr)
	e.table.Protect(page, pagetable.PageSize, pageflags.Allocated, savedFlags&pageflags.Visible, pageflags.None, noopBreak, e.backing)

	e.owner.Store(nil)
	e.addr.Store(0)
	e.size.Store(0)
	e.flags.Store(0)
}

// breakLocked breaks whatever reservation is currently held, if any,
// returning the (addr, size) that should be notified once the mutex is
// released, and whether there was anything to break at all.
func (e *Engine) breakLocked(th *threadid.ID) (addr, size uint32, broke bool) {
	if e.owner.Load() == nil {
		return 0, 0, false
	}
	addr, size = e.addr.Load(), e.size.Load()
	e.restoreLocked(pageflags.Flags(e.flags.Load()))
	th.DidBreakReservation = true
	return addr, size, true
}

// Acquire is the load-linked step: it validates the target page, breaks
// whatever reservation is currently held (by any thread, on any page),
// switches the target page read-only, publishes the new slot, and
// copies size bytes from the guest into dst.
func (e *Engine) Acquire(th *threadid.ID, dst []byte, addr, size uint32) error {
	if err := e.validateRange(addr, size); err != nil {
		return err
	}

	e.mu.Lock(th)

	flags := e.table.Load(addr)
	if e.owner.Load() != nil && pageBase(e.addr.Load()) == pageBase(addr) {
		// the held reservation has cleared Writable on this page; validate
		// against the flags it saved instead.
		flags = pageflags.Flags(e.flags.Load())
	}
	if !flags.Has(pageflags.Writable|pageflags.Allocated) || flags.Has(pageflags.NoReservations) {
		e.mu.Unlock(th)
		return vmerrors.New(vmerrors.InvalidPageFlags, addr, size, uint32(flags))
	}

	brokenAddr, brokenSize, broke := e.breakLocked(th)

	page := pageBase(addr)
	if _, err := e.table.Protect(page, pagetable.PageSize, pageflags.Allocated, pageflags.None, pageflags.Writable, noopBreak, e.backing); err != nil {
		e.mu.Unlock(th)
		if broke {
			e.waiters.NotifyAt(brokenAddr, brokenSize)
		}
		return err
	}

	e.flags.Store(uint32(flags))
	e.addr.Store(addr)
	e.size.Store(size)
	e.owner.Store(th) // publish; sync/atomic gives this the release/acquire pairing the barrier note calls for

	copy(dst, e.backing.User.Slice(addr, size))

	e.mu.Unlock(th)
	if broke {
		e.waiters.NotifyAt(brokenAddr, brokenSize)
	}
	e.acquireCount.Add(1)
	vmlog.Logf("vmem.reservation", "acquire addr=%#x size=%#x", addr, size)
	return nil
}

// Update is the store-conditional step. It succeeds only if th currently
// owns a reservation at exactly (addr, size); on success it writes data
// through the privileged view, breaks the reservation, and notifies.
func (e *Engine) Update(th *threadid.ID, addr uint32, data []byte, size uint32) bool {
	e.mu.Lock(th)

	if e.owner.Load() != th || e.addr.Load() != addr || e.size.Load() != size {
		e.mu.Unlock(th)
		return false
	}

	savedFlags := pageflags.Flags(e.flags.Load())
	page := pageBase(addr)
	e.table.Protect(page, pagetable.PageSize, pageflags.Allocated, pageflags.None, savedFlags&pageflags.Visible, noopBreak, e.backing)

	copy(e.backing.Priv.Slice(addr, size), data)

	e.restoreLocked(savedFlags)
	th.DidBreakReservation = true

	e.mu.Unlock(th)
	e.waiters.NotifyAt(addr, size)
	e.updateCount.Add(1)
	vmlog.Logf("vmem.reservation", "update addr=%#x size=%#x", addr, size)
	return true
}

// Break clears the current reservation if it lies on the same page as
// addr, restoring the page's original protection and notifying waiters
// over the range that was just released.
func (e *Engine) Break(th *threadid.ID, addr uint32) {
	e.mu.Lock(th)

	if e.owner.Load() == nil || pageBase(e.addr.Load()) != pageBase(addr) {
		e.mu.Unlock(th)
		return
	}

	prevAddr, prevSize, _ := e.breakLocked(th)
	e.mu.Unlock(th)
	e.waiters.NotifyAt(prevAddr, prevSize)
	e.breakCount.Add(1)
}

// Query implements the page-fault fast path: if addr is unmapped it
// returns false outright. If isWriting and the current reservation lies
// on the same page, callback is invoked; if it reports the native write
// should proceed and the write range actually overlaps the reservation,
// the reservation is broken and waiters over it are notified.
func (e *Engine) Query(th *threadid.ID, addr, size uint32, isWriting bool, callback func() bool) bool {
	flags := e.table.Load(addr)
	if !flags.Has(pageflags.Allocated) {
		return false
	}

	if isWriting && e.owner.Load() != nil && pageBase(e.addr.Load()) == pageBase(addr) {
		if callback() {
			resAddr, resSize := e.addr.Load(), e.size.Load()
			if overlaps(addr, size, resAddr, resSize) {
				e.Break(th, addr)
			}
		}
	}
	return true
}

// Op performs an arbitrary guest-atomic read-modify-write: it breaks any
// prior reservation, claims the slot for th, flips the target page to
// no-access, runs proc against the privileged view, then breaks its own
// slot and notifies.
func (e *Engine) Op(th *threadid.ID, addr, size uint32, proc func(mem []byte)) error {
	if err := e.validateRange(addr, size); err != nil {
		return err
	}

	flags := e.table.Load(addr)
	if !flags.Has(pageflags.Allocated) {
		return vmerrors.New(vmerrors.InvalidLocation, "op", addr)
	}

	e.mu.Lock(th)

	brokenAddr, brokenSize, broke := e.breakLocked(th)
	flags = e.table.Load(addr) // a reservation broken just now may have restored Writable

	page := pageBase(addr)
	e.table.Protect(page, pagetable.PageSize, pageflags.Allocated, pageflags.None, flags&pageflags.Visible, noopBreak, e.backing)

	e.owner.Store(th)
	e.addr.Store(addr)
	e.size.Store(size)
	e.flags.Store(uint32(flags))

	proc(e.backing.Priv.Slice(addr, size))

	e.restoreLocked(flags)
	th.DidBreakReservation = true

	e.mu.Unlock(th)
	if broke {
		e.waiters.NotifyAt(brokenAddr, brokenSize)
	}
	e.waiters.NotifyAt(addr, size)
	e.opCount.Add(1)
	return nil
}

// Lock acquires the reservation mutex on th's behalf. Exposed so the
// owning Context can extend the critical section to cover global
// block-list mutations, which are guarded by this same mutex.
func (e *Engine) Lock(th *threadid.ID) { e.mu.Lock(th) }

// Unlock releases the reservation mutex on th's behalf.
func (e *Engine) Unlock(th *threadid.ID) { e.mu.Unlock(th) }

// BreakAlreadyLocked is Break's body for callers that already hold the
// reservation mutex, such as the block allocator's dealloc-under-unmap
// path. It returns the range to notify and whether anything was
// actually broken; the caller notifies after it releases the mutex.
func (e *Engine) BreakAlreadyLocked(th *threadid.ID, addr uint32) (notifyAddr, notifySize uint32, broke bool) {
	if e.owner.Load() == nil || pageBase(e.addr.Load()) != pageBase(addr) {
		return 0, 0, false
	}
	return e.breakLocked(th)
}

// Counters returns the monotonic lifetime counts of each reservation
// operation, for diagnostics.
func (e *Engine) Counters() (acquire, update, brk, op uint64) {
	return e.acquireCount.Load(), e.updateCount.Load(), e.breakCount.Load(), e.opCount.Load()
}

// Test is a lock-free check of whether th currently owns the
// reservation. Correctness where it matters is re-checked under the
// mutex inside Update and Op; this is for fast-path skip checks only.
func (e *Engine) Test(th *threadid.ID) bool {
	return e.owner.Load() == th
}

// Free releases th's reservation, if it holds one.
func (e *Engine) Free(th *threadid.ID) {
	if e.owner.Load() != th {
		return
	}
	e.Break(th, e.addr.Load())
}
