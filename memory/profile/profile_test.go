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

package profile

import "testing"

func TestPS3LayoutIsBitExact(t *testing.T) {
	want := map[Location][2]uint32{
		Main:  {0x00010000, 0x1FFF0000},
		User:  {0x20000000, 0x10000000},
		Video: {0xC0000000, 0x10000000},
		Stack: {0xD0000000, 0x10000000},
		SPU:   {0xE0000000, 0x20000000},
	}
	checkLayout(t, PS3, want)
}

func TestPSVLayoutIsBitExact(t *testing.T) {
	want := map[Location][2]uint32{
		Main: {0x81000000, 0x10000000},
		User: {0x91000000, 0x2F000000},
	}
	checkLayout(t, PSV, want)
}

func TestPSPLayoutIsBitExact(t *testing.T) {
	want := map[Location][2]uint32{
		Main:       {0x08000000, 0x02000000},
		User:       {0x08800000, 0x01800000},
		VRAM:       {0x04000000, 0x00200000},
		Scratchpad: {0x00010000, 0x00004000},
		Kernel:     {0x88000000, 0x00800000},
	}
	checkLayout(t, PSP, want)
}

func checkLayout(t *testing.T, layout []BlockLayout, want map[Location][2]uint32) {
	t.Helper()
	if len(layout) != len(want) {
		t.Fatalf("layout has %d blocks, want %d", len(layout), len(want))
	}
	for _, bl := range layout {
		w, ok := want[bl.Location]
		if !ok {
			t.Fatalf("unexpected location %v in layout", bl.Location)
		}
		if bl.Base != w[0] || bl.Size != w[1] {
			t.Fatalf("location %v = (base=%#08x, size=%#08x), want (%#08x, %#08x)", bl.Location, bl.Base, bl.Size, w[0], w[1])
		}
	}
}

func TestLayoutUnknownProfileReturnsNil(t *testing.T) {
	if Layout("nonexistent") != nil {
		t.Fatal("Layout of an unknown profile name should return nil")
	}
}
