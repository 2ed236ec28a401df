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

package vmerrors_test

import (
	"testing"

	"github.com/coreguest/vmem/vmerrors"
)

func TestError(t *testing.T) {
	e := vmerrors.New(vmerrors.InvalidArguments, uint32(0x1001), uint32(3))
	want := "invalid arguments (addr=0x00001001, size=0x3)"
	if e.Error() != want {
		t.Errorf("unexpected error message: got %q want %q", e.Error(), want)
	}

	if !e.Fatal() {
		t.Errorf("expected InvalidArguments to be fatal")
	}
}

func TestPanicCarriesError(t *testing.T) {
	defer func() {
		r := recover()
		e, ok := r.(vmerrors.Error)
		if !ok {
			t.Fatalf("expected panic value to be a vmerrors.Error, got %T", r)
		}
		if e.Errno != vmerrors.Deadlock {
			t.Errorf("unexpected errno: %v", e.Errno)
		}
	}()

	vmerrors.Panic(vmerrors.Deadlock)
}
