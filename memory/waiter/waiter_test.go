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

package waiter

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/coreguest/vmem/memory/threadid"
)

func neverStopped() bool { return false }

func TestWaitReturnsImmediatelyWhenPredTrue(t *testing.T) {
	r := New(16)
	th := threadid.New()

	err := r.Wait(th, 0x1000, 4, func() (bool, error) { return true, nil }, neverStopped)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := r.Occupancy(); got != 0 {
		t.Fatalf("Occupancy() = %d after Wait returned, want 0", got)
	}
}

func TestWaitPropagatesPredicateError(t *testing.T) {
	r := New(16)
	th := threadid.New()

	boom := errBoom{}
	err := r.Wait(th, 0x1000, 4, func() (bool, error) { return false, boom }, neverStopped)
	if err != boom {
		t.Fatalf("Wait err = %v, want %v", err, boom)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestNotifyAtWakesMatchingWaiter(t *testing.T) {
	r := New(16)
	th := threadid.New()

	ready := make(chan struct{})
	done := make(chan error, 1)
	var fired atomic.Bool

	go func() {
		close(ready)
		done <- r.Wait(th, 0x2000, 4, func() (bool, error) {
			return fired.Load(), nil
		}, neverStopped)
	}()

	<-ready
	// give the waiting goroutine a chance to register before notifying.
	time.Sleep(10 * time.Millisecond)

	fired.Store(true)
	r.NotifyAt(0x2000, 4)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("NotifyAt did not wake the waiter in time")
	}
}

func TestConcurrentWaitsReturnAndFreeTheirSlots(t *testing.T) {
	r := New(16)
	th1 := threadid.New()
	th2 := threadid.New()

	readyCount := make(chan struct{}, 2)
	done := make(chan error, 2)

	go func() {
		readyCount <- struct{}{}
		done <- r.Wait(th1, 0x3000, 4, func() (bool, error) { return true, nil }, neverStopped)
	}()
	go func() {
		readyCount <- struct{}{}
		done <- r.Wait(th2, 0x4000, 4, func() (bool, error) { return false, nil }, func() bool { return true })
	}()

	<-readyCount
	<-readyCount
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if got := r.Occupancy(); got != 0 {
		t.Fatalf("Occupancy() = %d, want 0", got)
	}
}

func TestAddFailsWhenCapacityExceeded(t *testing.T) {
	r := New(1)
	th1 := threadid.New()
	th2 := threadid.New()

	done := make(chan struct{})
	go func() {
		r.Wait(th1, 0x5000, 4, func() (bool, error) { return false, nil }, func() bool {
			<-done
			return true
		})
	}()

	time.Sleep(10 * time.Millisecond)
	err := r.Wait(th2, 0x6000, 4, func() (bool, error) { return true, nil }, neverStopped)
	close(done)

	if err == nil {
		t.Fatal("Wait succeeded past registry capacity")
	}
}
