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

// Package diag holds the vmem core's observational counters:
// reservation operation counts, waiter table occupancy, and per-block
// usage. A Stats value is a
// point-in-time copy of the counters owned by those subsystems; taking
// one never gates correctness, and a Stats value is safe to read from
// any goroutine at any time.
package diag

// BlockStats reports one named block's occupancy at the moment Stats was
// taken.
type BlockStats struct {
	Location string
	Base     uint32
	Capacity uint32
	Used     uint32
}

// Stats is a point-in-time snapshot of the vmem core's internal counters,
// for optional diagnostics tooling (diag/live, diag/graph). Nothing in
// the core reads a Stats value back; it exists purely to be observed.
type Stats struct {
	ReservationAcquires uint64
	ReservationUpdates  uint64
	ReservationBreaks   uint64
	ReservationOps      uint64

	WaiterOccupancy int
	WaiterCapacity  int

	Blocks []BlockStats
}

// Snapshotter is implemented by vmem.Context. It lives here, rather than
// being a concrete dependency of this package on vmem, so that diag has
// no import of the core it observes: vmem depends on diag, not the other
// way around.
type Snapshotter interface {
	Snapshot() Stats
}
