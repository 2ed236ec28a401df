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

//go:build !unix

package hostmem

import "fmt"

// New is unimplemented on non-unix hosts in this tree. The equivalent
// dual-view file mapping on Windows is CreateFileMapping plus two
// MapViewOfFile calls over the same mapping handle; until that is wired
// up, initialization fails loudly rather than degrading to a single
// view.
func New() (*Backing, error) {
	return nil, fmt.Errorf("hostmem: no dual-view host backing implementation for this platform")
}

func protect(b []byte, prot Prot) error {
	return fmt.Errorf("hostmem: protect unimplemented on this platform")
}
