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

// Package waiter implements the bounded table of pending waits on guest
// address ranges. A wait is expressed as a predicate re-evaluated
// whenever a write might satisfy it; the reservation engine and the
// block/page-table mutators call NotifyAt after any write that could
// change a waited-on range, and a background poller sweeps the whole
// table periodically as a safety net.
package waiter

import (
	"math/bits"
	"sync"

	"github.com/coreguest/vmem/memory/threadid"
	"github.com/coreguest/vmem/vmerrors"
	"github.com/coreguest/vmem/vmlog"
)

// Pred is a waiter predicate. It returns (true, nil) when the condition
// being waited for has become true, (false, nil) when it is still
// pending, and (_, err) when evaluating it failed; the failure is
// captured and re-surfaced to the waiting thread, never to whichever
// thread happened to be notifying at the time.
type Pred func() (bool, error)

type slot struct {
	thread *threadid.ID
	addr   uint32
	mask   uint32
	pred   Pred
}

func (s *slot) inUse() bool { return s.thread != nil }

// Registry is the bounded waiter table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  int // lowest index worth probing for a free slot
	max   int // one past the highest in-use index
}

// New creates a Registry with the given capacity. Exceeding capacity
// live waiters at once is a fatal invariant violation: it means far
// more guest CPU threads are blocked simultaneously than this core was
// configured to expect.
func New(capacity int) *Registry {
	return &Registry{slots: make([]slot, capacity)}
}

func validateRange(addr, size uint32) (mask uint32, ok bool) {
	if size == 0 || size > 4096 || bits.OnesCount32(size) != 1 {
		return 0, false
	}
	if addr&(size-1) != 0 {
		return 0, false
	}
	return ^(size - 1), true
}

// add finds or appends a slot for (th, addr, size, pred) and returns
// with th's personal mutex held; the caller (Wait) is responsible for
// unlocking it.
func (r *Registry) add(th *threadid.ID, addr, size uint32, pred Pred) (int, error) {
	mask, ok := validateRange(addr, size)
	if !ok {
		return 0, vmerrors.New(vmerrors.InvalidArguments, addr, size)
	}

	r.mu.Lock()
	th.Mu.Lock()

	idx := -1
	for i := r.free; i < r.max; i++ {
		if !r.slots[i].inUse() {
			idx = i
			r.free = i + 1
			break
		}
	}
	if idx == -1 {
		if r.max >= len(r.slots) {
			th.Mu.Unlock()
			r.mu.Unlock()
			return 0, vmerrors.New(vmerrors.WaiterListFull, r.max)
		}
		idx = r.max
		r.max++
		r.free = r.max
		if r.max > len(r.slots)*3/4 {
			vmlog.Logf("vmem.waiter", "high water: %d of %d slots in use", r.max, len(r.slots))
		}
	}

	r.slots[idx] = slot{thread: th, addr: addr, mask: mask, pred: pred}
	r.mu.Unlock()

	return idx, nil
}

// remove clears slot idx and contracts the free/max cursors. Must be
// called without th's personal mutex held, to respect the registry ->
// thread lock order.
func (r *Registry) remove(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[idx].thread = nil
	if idx < r.free {
		r.free = idx
	}
	for r.max > 0 && !r.slots[r.max-1].inUse() {
		r.max--
	}
}

// tryNotify evaluates slot idx's predicate under its thread's personal
// mutex. Must be called with r.mu already held by the caller (NotifyAt,
// NotifyAll), respecting the registry -> thread lock order.
func (r *Registry) tryNotify(idx int) bool {
	s := &r.slots[idx]
	th := s.thread

	th.Mu.Lock()
	defer th.Mu.Unlock()

	if s.pred == nil {
		return false
	}

	ok, err := s.pred()
	switch {
	case err != nil:
		captured := err
		s.pred = func() (bool, error) { return false, captured }
	case ok:
		s.pred = nil
	default:
		return false
	}

	s.addr = 0
	s.mask = ^uint32(0)
	th.CV.Signal()
	return true
}

// NotifyAt wakes every waiter whose range overlaps [addr, addr+size)
// modulo their respective power-of-two masks, provided their predicate
// returns true.
func (r *Registry) NotifyAt(addr, size uint32) {
	mask := ^(size - 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.max; i++ {
		s := &r.slots[i]
		if s.inUse() && (s.addr^addr)&(mask&s.mask) == 0 {
			r.tryNotify(i)
		}
	}
}

// NotifyAll evaluates every armed waiter's predicate and returns true
// iff every one of them fired. Used by the background poller.
func (r *Registry) NotifyAll() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiters, signaled := 0, 0
	for i := 0; i < r.max; i++ {
		s := &r.slots[i]
		if s.inUse() && s.pred != nil {
			waiters++
			if r.tryNotify(i) {
				signaled++
			}
		}
	}
	return waiters == signaled
}

// Capacity returns the fixed number of waiter slots the registry was
// constructed with. It never changes after New, so it needs no locking.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// Occupancy returns the number of currently in-use waiter slots, for
// diagnostics only.
func (r *Registry) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := 0; i < r.max; i++ {
		if r.slots[i].inUse() {
			n++
		}
	}
	return n
}

// Wait is the scoped wait: it adds a waiter for (th, addr, size)
// evaluating pred, blocks until pred reports ready or fails, consulting
// stopped() on every wakeup so the wait loop exits once the emulation
// has stopped, and always removes the slot on the way out.
func (r *Registry) Wait(th *threadid.ID, addr, size uint32, pred Pred, stopped func() bool) error {
	idx, err := r.add(th, addr, size, pred)
	if err != nil {
		return err
	}

	defer func() {
		s := &r.slots[idx]
		s.addr = 0
		s.mask = ^uint32(0)
		s.pred = nil
		th.Mu.Unlock()
		r.remove(idx)
	}()

	for {
		s := &r.slots[idx]
		if s.pred == nil {
			return nil
		}

		ok, werr := s.pred()
		if werr != nil {
			return werr
		}
		if ok {
			s.pred = nil
			return nil
		}
		if stopped() {
			return nil
		}

		th.CV.Wait()
	}
}
