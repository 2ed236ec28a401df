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

// Package graph is an optional package that will be built only when the
// +memviz build constraint is present.
//
//	It renders a point-in-time Graphviz dump of a diag.Stats snapshot
//	(the block list and its usage, and the waiter table's occupancy)
//	using github.com/bradleyjkemp/memviz, for visual debugging of the
//	vmem core's allocator state.
package graph
