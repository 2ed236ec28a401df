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

package diag

import "testing"

type fakeSource struct{ stats Stats }

func (f fakeSource) Snapshot() Stats { return f.stats }

func TestSnapshotterInterfaceIsSatisfiable(t *testing.T) {
	var s Snapshotter = fakeSource{stats: Stats{ReservationAcquires: 3}}
	if got := s.Snapshot().ReservationAcquires; got != 3 {
		t.Fatalf("Snapshot().ReservationAcquires = %d, want 3", got)
	}
}
