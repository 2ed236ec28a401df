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

//go:build statsview
// +build statsview

package live

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"

	"github.com/coreguest/vmem/vmem/diag"
	"github.com/coreguest/vmem/vmlog"
)

// Address is the local HTTP address the live dashboard listens on.
const Address = "localhost:12601"
const url = "/debug/statsview"

// Launch starts the statsview HTTP server in its own goroutine and a
// second goroutine that periodically logs a diag.Stats snapshot of src
// at the "vmem.diag" tag through vmlog, alongside statsview's own
// runtime metrics.
func Launch(src diag.Snapshotter, output io.Writer) {
	go func() {
		viewer.SetConfiguration(viewer.WithAddr(Address))
		mgr := statsview.New()
		mgr.Start()
	}()

	go func() {
		for range time.Tick(time.Second) {
			s := src.Snapshot()
			vmlog.Logf("vmem.diag", "reservations acquire=%d update=%d break=%d op=%d waiters=%d/%d",
				s.ReservationAcquires, s.ReservationUpdates, s.ReservationBreaks, s.ReservationOps,
				s.WaiterOccupancy, s.WaiterCapacity)
		}
	}()

	output.Write([]byte(fmt.Sprintf("live vmem diagnostics available at %s%s\n", Address, url)))
}

// Available reports whether a live dashboard is available to launch.
func Available() bool {
	return true
}
