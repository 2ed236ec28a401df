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

// Package vmprefs holds the tunable parameters of the vmem core: the
// background poller interval and the waiter table capacity. vmem.Init
// reads both once from a fresh Default(); a Preferences value created or
// changed elsewhere is not consulted by Init.
//
// Each value is a small atomic wrapper rather than a plain struct field,
// so it can be read and set from different goroutines without further
// locking.
package vmprefs

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Int is an atomically-set integer preference.
type Int struct {
	value atomic.Int64
}

// NewInt creates an Int preference with the given default.
func NewInt(def int) *Int {
	v := &Int{}
	v.value.Store(int64(def))
	return v
}

// Get returns the current value.
func (p *Int) Get() int {
	return int(p.value.Load())
}

// Set stores a new value.
func (p *Int) Set(v int) {
	p.value.Store(int64(v))
}

func (p *Int) String() string {
	return fmt.Sprintf("%d", p.Get())
}

// Duration is an atomically-set time.Duration preference.
type Duration struct {
	value atomic.Int64
}

// NewDuration creates a Duration preference with the given default.
func NewDuration(def time.Duration) *Duration {
	v := &Duration{}
	v.value.Store(int64(def))
	return v
}

// Get returns the current value.
func (p *Duration) Get() time.Duration {
	return time.Duration(p.value.Load())
}

// Set stores a new value.
func (p *Duration) Set(v time.Duration) {
	p.value.Store(int64(v))
}

func (p *Duration) String() string {
	return p.Get().String()
}

// Preferences holds every tunable consulted by the vmem core. The zero
// value is not usable; construct with Default().
type Preferences struct {
	// PollInterval is the sleep between background poller sweeps of the
	// waiter registry. The poller is a safety net, not the primary
	// notification path, so lengthening this only delays recovery from a
	// predicate that depends on state the reservation mutex doesn't guard.
	PollInterval *Duration

	// WaiterCapacity bounds the waiter registry. Exceeding it is a fatal
	// invariant violation (too many CPU threads blocked at once almost
	// always indicates a caller bug).
	WaiterCapacity *Int
}

// Default returns Preferences holding the built-in defaults. vmem.Init
// calls it to obtain its poller interval and waiter capacity.
func Default() *Preferences {
	return &Preferences{
		PollInterval:   NewDuration(time.Millisecond),
		WaiterCapacity: NewInt(1024),
	}
}
