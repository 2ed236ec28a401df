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

//go:build memviz
// +build memviz

package graph

import (
	"io"

	"github.com/bradleyjkemp/memviz"

	"github.com/coreguest/vmem/vmem/diag"
)

// Dump renders a Graphviz description of src's current snapshot to w,
// following memviz's usual memviz.Map(w, &root) calling convention.
func Dump(w io.Writer, src diag.Snapshotter) {
	snap := src.Snapshot()
	memviz.Map(w, &snap)
}
