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

// Package live is an optional package that will be built only when the
// +statsview build constraint is present.
//
//	It starts a local HTTP server with the standard go-echarts/statsview
//	runtime dashboard, and logs the vmem core's reservation counters and
//	waiter occupancy once a second through vmlog at the "vmem.diag" tag.
//	The dashboard shows only statsview's runtime metrics; the vmem
//	counters do not appear on it, and per-block usage is not reported.
//
//	After launch, the runtime dashboard is viewable at:
//
//		localhost:12601/debug/statsview
package live
