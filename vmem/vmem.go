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

// Package vmem is the console-emulator virtual memory core: a single
// 4GiB guest address space backed by page-granular protection changes,
// a reservation-based load-linked/store-conditional protocol, and a
// bounded waiter registry, wired together behind one Context per
// emulated machine.
package vmem

import (
	"runtime"
	"time"

	"github.com/coreguest/vmem/memory/block"
	"github.com/coreguest/vmem/memory/hostmem"
	"github.com/coreguest/vmem/memory/pageflags"
	"github.com/coreguest/vmem/memory/pagetable"
	"github.com/coreguest/vmem/memory/profile"
	"github.com/coreguest/vmem/memory/reservation"
	"github.com/coreguest/vmem/memory/threadid"
	"github.com/coreguest/vmem/memory/waiter"
	"github.com/coreguest/vmem/vmem/diag"
	"github.com/coreguest/vmem/vmerrors"
	"github.com/coreguest/vmem/vmlog"
	"github.com/coreguest/vmem/vmprefs"
)

// namedBlock pairs a block with the fixed Location it was created under,
// or profile.Any for one created dynamically by Map.
type namedBlock struct {
	loc profile.Location
	blk *block.Block
}

// Context owns one complete guest address space: the host backing, page
// table, global block list, reservation engine, and waiter registry. The
// zero value is not usable; construct with Init.
type Context struct {
	profile profile.Name
	table   *pagetable.Table
	backing *hostmem.Backing
	waiters *waiter.Registry
	engine  *reservation.Engine

	blocks []namedBlock

	bootThread *threadid.ID

	pollStop chan struct{}
	pollDone chan struct{}
}

// Init creates a Context for the given guest address-space profile,
// populating its fixed blocks and starting the background waiter
// poller.
func Init(name profile.Name) (*Context, error) {
	layout := profile.Layout(name)
	if layout == nil {
		return nil, vmerrors.New(vmerrors.InvalidLocation, "init", name)
	}

	backing, err := hostmem.New()
	if err != nil {
		return nil, err
	}

	prefs := vmprefs.Default()
	c := &Context{
		profile:    name,
		table:      pagetable.New(),
		backing:    backing,
		waiters:    waiter.New(prefs.WaiterCapacity.Get()),
		bootThread: threadid.New(),
		pollStop:   make(chan struct{}),
		pollDone:   make(chan struct{}),
	}
	c.engine = reservation.New(c.table, c.backing, c.waiters)

	for _, bl := range layout {
		if err := c.mapFixed(bl.Location, bl.Base, bl.Size, bl.Flags); err != nil {
			backing.Close()
			return nil, err
		}
	}

	c.startPoller(prefs.PollInterval.Get())
	vmlog.Logf("vmem", "initialized profile=%s", name)
	return c, nil
}

func (c *Context) mapFixed(loc profile.Location, base, size uint32, flags pageflags.Flags) error {
	blk := block.New(base, size, flags, c.table, c.backing)
	c.blocks = append(c.blocks, namedBlock{loc: loc, blk: blk})
	return nil
}

// Close stops the background poller and releases the host backing. It
// must be called exactly once, when the Context is no longer needed.
func (c *Context) Close() error {
	close(c.pollStop)
	<-c.pollDone
	return c.backing.Close()
}

func (c *Context) findLocked(location profile.Location, addr uint32) *block.Block {
	if location == profile.Any {
		for _, nb := range c.blocks {
			if nb.blk.Contains(addr) {
				return nb.blk
			}
		}
		return nil
	}
	for _, nb := range c.blocks {
		if nb.loc == location {
			return nb.blk
		}
	}
	return nil
}

func (c *Context) find(th *threadid.ID, location profile.Location, addr uint32) *block.Block {
	c.engine.Lock(th)
	defer c.engine.Unlock(th)
	return c.findLocked(location, addr)
}

// Alloc finds room for size bytes (aligned to align) inside the named
// block and returns the chosen address, or 0 if no room was found.
func (c *Context) Alloc(th *threadid.ID, location profile.Location, size, align uint32) (uint32, error) {
	defer logFatal()

	blk := c.find(th, location, 0)
	if blk == nil {
		return 0, vmerrors.New(vmerrors.InvalidLocation, "alloc", location)
	}
	return blk.Alloc(size, align)
}

// Falloc allocates exactly at addr inside the named block.
func (c *Context) Falloc(th *threadid.ID, addr, size uint32, location profile.Location) (bool, error) {
	defer logFatal()

	blk := c.find(th, location, addr)
	if blk == nil {
		return false, vmerrors.New(vmerrors.InvalidLocation, "falloc", location)
	}
	return blk.Falloc(addr, size)
}

// Dealloc releases the allocation at addr inside the named block. The
// unmap step runs under the reservation mutex so it interlocks with the
// reservation engine.
func (c *Context) Dealloc(th *threadid.ID, addr uint32, location profile.Location) (bool, error) {
	defer logFatal()
	c.engine.Lock(th)

	blk := c.findLocked(location, addr)
	if blk == nil {
		c.engine.Unlock(th)
		return false, nil
	}

	var notifyAddr, notifySize uint32
	broke := false
	ok, err := blk.Dealloc(addr, func(pageAddr, pageSize uint32) {
		if a, s, b := c.engine.BreakAlreadyLocked(th, pageAddr); b {
			notifyAddr, notifySize, broke = a, s, true
		}
	})

	c.engine.Unlock(th)
	if broke {
		c.waiters.NotifyAt(notifyAddr, notifySize)
	}
	return ok, err
}

// Map creates a new, dynamically-located block spanning [addr, addr+size)
// with the given default page flags. It returns nil, nil (a benign
// failure, not an error) if the range overlaps an existing block or any
// covered page is already mapped.
func (c *Context) Map(th *threadid.ID, addr, size uint32, flags pageflags.Flags) (*block.Block, error) {
	defer logFatal()

	if size == 0 || addr%pagetable.PageSize != 0 || size%pagetable.PageSize != 0 {
		return nil, vmerrors.New(vmerrors.InvalidArguments, addr, size)
	}

	c.engine.Lock(th)
	defer c.engine.Unlock(th)

	for _, nb := range c.blocks {
		if overlaps(addr, size, nb.blk.Base(), nb.blk.Size()) {
			return nil, nil
		}
	}
	if !c.table.IsFree(addr, size) {
		return nil, nil
	}

	blk := block.New(addr, size, flags, c.table, c.backing)
	c.blocks = append(c.blocks, namedBlock{loc: profile.Any, blk: blk})
	return blk, nil
}

// Unmap removes and returns the block whose base equals addr, unmapping
// every page still held by a live allocation inside it first.
func (c *Context) Unmap(th *threadid.ID, addr uint32) (*block.Block, error) {
	defer logFatal()
	c.engine.Lock(th)

	idx := -1
	for i, nb := range c.blocks {
		if nb.blk.Base() == addr {
			idx = i
			break
		}
	}
	if idx == -1 {
		c.engine.Unlock(th)
		return nil, nil
	}
	blk := c.blocks[idx].blk

	var notifyAddr, notifySize uint32
	broke := false
	for _, a := range blk.Allocations() {
		if _, err := blk.Dealloc(a.Addr, func(pageAddr, pageSize uint32) {
			if x, s, b := c.engine.BreakAlreadyLocked(th, pageAddr); b {
				notifyAddr, notifySize, broke = x, s, true
			}
		}); err != nil {
			c.engine.Unlock(th)
			return nil, err
		}
	}

	c.blocks = append(c.blocks[:idx], c.blocks[idx+1:]...)
	c.engine.Unlock(th)
	if broke {
		c.waiters.NotifyAt(notifyAddr, notifySize)
	}
	return blk, nil
}

// Get returns the block at the given fixed location, or (if location is
// profile.Any) the block containing addr.
func (c *Context) Get(th *threadid.ID, location profile.Location, addr uint32) *block.Block {
	return c.find(th, location, addr)
}

// PageProtect verifies, under the reservation mutex, that every covered
// page matches test|Allocated and applies set/clear, breaking any
// reservation it touches along the way.
func (c *Context) PageProtect(th *threadid.ID, addr, size uint32, test, set, clear pageflags.Flags) (bool, error) {
	defer logFatal()
	c.engine.Lock(th)

	var notifyAddr, notifySize uint32
	broke := false
	ok, err := c.table.Protect(addr, size, test, set, clear, func(pageAddr uint32) {
		if a, s, b := c.engine.BreakAlreadyLocked(th, pageAddr); b {
			notifyAddr, notifySize, broke = a, s, true
		}
	}, c.backing)

	c.engine.Unlock(th)
	if broke {
		c.waiters.NotifyAt(notifyAddr, notifySize)
	}
	return ok, err
}

// CheckAddr reports whether every page covering [addr, addr+size) is
// currently allocated.
func (c *Context) CheckAddr(addr, size uint32) bool {
	return c.table.IsAllocated(addr, size)
}

// Snapshot takes a point-in-time copy of the core's internal counters
// for optional diagnostics (vmem/diag/live, vmem/diag/graph). The
// reservation counters are read atomically, the block list is copied
// under the reservation mutex, and waiter occupancy is read under the
// registry mutex. It never gates correctness and may be called
// concurrently with any other Context method.
func (c *Context) Snapshot() diag.Stats {
	acquire, update, brk, op := c.engine.Counters()

	th := threadid.New()
	c.engine.Lock(th)
	blocks := make([]diag.BlockStats, 0, len(c.blocks))
	for _, nb := range c.blocks {
		blocks = append(blocks, diag.BlockStats{
			Location: nb.loc.String(),
			Base:     nb.blk.Base(),
			Capacity: nb.blk.Size(),
			Used:     nb.blk.Used(),
		})
	}
	c.engine.Unlock(th)

	return diag.Stats{
		ReservationAcquires: acquire,
		ReservationUpdates:  update,
		ReservationBreaks:   brk,
		ReservationOps:      op,
		WaiterOccupancy:     c.waiters.Occupancy(),
		WaiterCapacity:      c.waiters.Capacity(),
		Blocks:              blocks,
	}
}

// Acquire, Update, Break, Query, Test, Free, Op, and NotifyAt forward
// directly to the reservation engine and waiter registry; Context exists
// above them only to own their shared table/backing and the block list.

func (c *Context) ReservationAcquire(th *threadid.ID, dst []byte, addr, size uint32) error {
	defer logFatal()
	return c.engine.Acquire(th, dst, addr, size)
}

func (c *Context) ReservationUpdate(th *threadid.ID, addr uint32, data []byte, size uint32) bool {
	defer logFatal()
	return c.engine.Update(th, addr, data, size)
}

func (c *Context) ReservationBreak(th *threadid.ID, addr uint32) {
	defer logFatal()
	c.engine.Break(th, addr)
}

func (c *Context) ReservationQuery(th *threadid.ID, addr, size uint32, isWriting bool, callback func() bool) bool {
	return c.engine.Query(th, addr, size, isWriting, callback)
}

func (c *Context) ReservationTest(th *threadid.ID) bool {
	return c.engine.Test(th)
}

func (c *Context) ReservationFree(th *threadid.ID) {
	defer logFatal()
	c.engine.Free(th)
}

func (c *Context) ReservationOp(th *threadid.ID, addr, size uint32, proc func([]byte)) error {
	defer logFatal()
	return c.engine.Op(th, addr, size, proc)
}

// NotifyAt wakes waiters whose range overlaps [addr, addr+size).
func (c *Context) NotifyAt(addr, size uint32) {
	c.waiters.NotifyAt(addr, size)
}

// Wait blocks th on a predicate evaluated against [addr, addr+size).
func (c *Context) Wait(th *threadid.ID, addr, size uint32, pred waiter.Pred) error {
	return c.waiters.Wait(th, addr, size, pred, c.isStopped)
}

// startPoller launches the background safety-net sweep: while the
// Context has not been closed, it repeatedly calls NotifyAll, yielding
// between sweeps whenever some waiter's predicate did not fire, then
// sleeping interval between full sweeps. Every mutator already calls
// NotifyAt on the fast path; this loop only catches predicates that
// depend on state the reservation mutex doesn't guard.
func (c *Context) startPoller(interval time.Duration) {
	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-c.pollStop:
				return
			default:
			}

			for !c.waiters.NotifyAll() && !c.isStopped() {
				runtime.Gosched()
			}

			select {
			case <-c.pollStop:
				return
			case <-time.After(interval):
			}
		}
	}()
}

func overlaps(aAddr, aSize, bAddr, bSize uint32) bool {
	return aAddr < bAddr+bSize && bAddr < aAddr+aSize
}

// logFatal is deferred by every mutating entry point. A fatal
// vmerrors.Error panicking its way out of a subsystem is logged once
// here, at the public boundary, and then re-panicked; it is never
// swallowed.
func logFatal() {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(vmerrors.Error); ok && e.Fatal() {
		vmlog.Logf("vmem.fatal", "%v", e)
	}
	panic(r)
}

// isStopped implements the emulator-status check consulted by every
// scoped wait and the background poller: once Close is requested, both
// stop observing further progress.
func (c *Context) isStopped() bool {
	select {
	case <-c.pollStop:
		return true
	default:
		return false
	}
}
