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

package reservation

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreguest/vmem/memory/threadid"
	"github.com/coreguest/vmem/vmerrors"
)

// mutex is the self-identifying reservation mutex: acquisition is a CAS
// loop against an owner slot, falling back to an auxiliary OS
// mutex/condvar pair with a 1ms-per-iteration timeout under contention.
// Re-entry by the current owner is a deadlock, and releasing from a
// goroutine that isn't the recorded owner is a lost-lock invariant
// violation; both are fatal.
type mutex struct {
	owner atomic.Pointer[threadid.ID]

	auxMu sync.Mutex
	auxCV *sync.Cond
}

// retryInterval is how long a contended acquisition waits between CAS
// retries. It is small enough that the common case (owner releases
// almost immediately) doesn't add latency, and large enough not to spin.
const retryInterval = time.Millisecond

func newMutex() *mutex {
	m := &mutex{}
	m.auxCV = sync.NewCond(&m.auxMu)
	return m
}

// Lock acquires the mutex on behalf of th, panicking with a Deadlock
// error if th already owns it.
func (m *mutex) Lock(th *threadid.ID) {
	if m.owner.Load() == th {
		vmerrors.Panic(vmerrors.Deadlock)
	}

	if m.owner.CompareAndSwap(nil, th) {
		return
	}

	for {
		m.auxMu.Lock()
		if m.owner.CompareAndSwap(nil, th) {
			m.auxMu.Unlock()
			return
		}
		waitWithTimeout(m.auxCV, retryInterval)
		m.auxMu.Unlock()

		if m.owner.CompareAndSwap(nil, th) {
			return
		}
	}
}

// Unlock releases the mutex on behalf of th and wakes one waiter.
// Releasing a mutex the caller does not own is a fatal LostLock.
func (m *mutex) Unlock(th *threadid.ID) {
	if !m.owner.CompareAndSwap(th, nil) {
		vmerrors.Panic(vmerrors.LostLock)
	}

	m.auxMu.Lock()
	m.auxCV.Signal()
	m.auxMu.Unlock()
}

// Owner returns the current owner, or nil if unowned. This is a plain
// atomic load with no synchronization against concurrent Lock/Unlock;
// callers outside the mutex (e.g. Engine.Test) accept a possibly-stale
// result, re-validating under the mutex wherever correctness depends
// on it.
func (m *mutex) Owner() *threadid.ID {
	return m.owner.Load()
}

// waitWithTimeout waits on cv for at most d. sync.Cond has no native
// timed wait, so the timeout is implemented by waking the condition
// variable from a timer goroutine after d if nobody else signals first.
// cv's underlying Locker must already be held by the caller.
func waitWithTimeout(cv *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, cv.Signal)
	defer timer.Stop()
	cv.Wait()
}
