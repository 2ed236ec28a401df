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

package vmerrors

// List of error numbers used by the vmem core.
const (
	// argument validation
	InvalidArguments Errno = iota
	InvalidAlignment
	InvalidLocation
	InvalidPageFlags
	InvalidThreadType

	// invariant violations
	Deadlock
	LostLock
	MemoryAlreadyMapped
	MemoryNotMapped
	ConcurrentPageAccess
	WaiterListFull
	UnexpectedUsedAmount
	SystemFailure
	StackOverflow
	StackInconsistency
)

// fatal classifies each Errno as a fatal invariant/argument-validation
// failure (true) or a benign, recoverable condition (false). Benign
// failures in this core are represented as plain bool/zero-value returns,
// never as an Error, so every Errno defined above is fatal; the table is
// kept explicit rather than implicit so a future benign errno added here
// does not silently inherit "fatal" by omission.
var fatal = map[Errno]bool{
	InvalidArguments:     true,
	InvalidAlignment:     true,
	InvalidLocation:      true,
	InvalidPageFlags:     true,
	InvalidThreadType:    true,
	Deadlock:             true,
	LostLock:             true,
	MemoryAlreadyMapped:  true,
	MemoryNotMapped:      true,
	ConcurrentPageAccess: true,
	WaiterListFull:       true,
	UnexpectedUsedAmount: true,
	SystemFailure:        true,
	StackOverflow:        true,
	StackInconsistency:   true,
}
