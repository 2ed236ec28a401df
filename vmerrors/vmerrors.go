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

// Package vmerrors is a helper package for the error type used throughout
// the vmem core. It defines the Error type, an implementation of the error
// interface, that normalises formatted output of error messages and
// classifies each errno as fatal (an invariant violation or a caller bug,
// meant to abort the operation) or benign. Every errno currently defined
// is fatal; benign, recoverable conditions such as "store-conditional
// lost" or "out of space" are reported as plain bool or zero-value
// returns, not as an Error.
//
// Fatal errors are never meant to be swallowed. Argument-validation and
// OS failures are returned as an Error; invariant violations that would
// leave the core corrupt are raised with Panic. The mutating vmem.Context
// entry points recover such a panic at the boundary, log it, and
// re-panic.
package vmerrors

import "fmt"

// Errno identifies a specific kind of error.
type Errno int

// Values holds the formatting arguments for an Error.
type Values []interface{}

// Error is the error type used by the vmem core.
type Error struct {
	Errno  Errno
	Values Values
}

// New creates a vmem Error for the given errno.
func New(errno Errno, values ...interface{}) Error {
	return Error{Errno: errno, Values: values}
}

func (e Error) Error() string {
	return fmt.Sprintf(messages[e.Errno], e.Values...)
}

// Fatal reports whether this errno represents an invariant violation or
// argument-validation bug that must abort the operation, as opposed to a
// benign, recoverable condition.
func (e Error) Fatal() bool {
	return fatal[e.Errno]
}

// Panic panics with a newly constructed Error. Used at the point an
// invariant violation or argument-validation failure is detected deep
// inside a subsystem.
func Panic(errno Errno, values ...interface{}) {
	panic(New(errno, values...))
}
