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

// Package threadid gives every emulated guest CPU thread an opaque,
// pointer-comparable identity. The reservation engine and waiter registry
// use this identity to answer "does this thread own the current
// reservation" and "which thread is blocked on this waiter slot" without
// ever inspecting the thread's contents.
package threadid

import "sync"

// ID is an opaque thread identity. Two IDs are the same thread iff they
// are the same pointer; nothing else about an ID is part of its contract
// from the outside. It also carries the per-thread mutex and condition
// variable a scoped wait blocks on: these belong to the
// thread, not to any one waiter slot, because the same thread may create
// and destroy many waiter slots over its lifetime.
//
// DidBreakReservation mirrors the reservation engine's thread-local "did
// this call just break a reservation" flag. It is written only by the
// goroutine that owns this ID, synchronously inside the reservation
// engine call that goroutine is making, so it needs no synchronization of
// its own.
type ID struct {
	DidBreakReservation bool

	Mu sync.Mutex
	CV *sync.Cond
}

// New allocates a fresh thread identity. Callers (typically one per
// emulated guest CPU) should call this once and reuse the result for the
// lifetime of the thread.
func New() *ID {
	id := &ID{}
	id.CV = sync.NewCond(&id.Mu)
	return id
}
