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

// Package profile holds the fixed guest address-space layouts, one per
// supported console.
// Each profile is an ordered list of named, fixed-location blocks
// created once at Context.Init and never moved; the literal addresses
// below come directly from the console they model and must be
// preserved bit-exactly.
package profile

import "github.com/coreguest/vmem/memory/pageflags"

// Location names one of a profile's fixed blocks.
type Location int

// The block indices a profile may define. Not every profile uses every
// location: ps3 uses Main, User, Video, Stack and SPU; psv only Main and
// User; psp uses Main, User, VRAM, Scratchpad and Kernel.
const (
	Main Location = iota
	User
	Video
	Stack
	SPU
	VRAM
	Scratchpad
	Kernel

	// Any tells Context.Get to find the block containing an address
	// rather than looking one up by name.
	Any Location = -1
)

func (l Location) String() string {
	switch l {
	case Main:
		return "main"
	case User:
		return "user"
	case Video:
		return "video"
	case Stack:
		return "stack"
	case SPU:
		return "spu"
	case VRAM:
		return "vram"
	case Scratchpad:
		return "scratchpad"
	case Kernel:
		return "kernel"
	case Any:
		return "any"
	default:
		return "unknown"
	}
}

// BlockLayout is one fixed block of a guest address-space profile.
type BlockLayout struct {
	Location Location
	Base     uint32
	Size     uint32
	Flags    pageflags.Flags
}

const rw = pageflags.Readable | pageflags.Writable

// PS3 is the PlayStation 3 guest address-space layout.
var PS3 = []BlockLayout{
	{Main, 0x00010000, 0x1FFF0000, rw},
	{User, 0x20000000, 0x10000000, rw},
	{Video, 0xC0000000, 0x10000000, rw},
	{Stack, 0xD0000000, 0x10000000, rw},
	{SPU, 0xE0000000, 0x20000000, rw},
}

// PSV is the PlayStation Vita guest address-space layout. It has only
// Main and User blocks.
var PSV = []BlockLayout{
	{Main, 0x81000000, 0x10000000, rw},
	{User, 0x91000000, 0x2F000000, rw},
}

// PSP is the PlayStation Portable guest address-space layout. It has no
// Video, Stack or SPU block, and adds VRAM, Scratchpad and Kernel blocks
// absent from the other two profiles.
var PSP = []BlockLayout{
	{Main, 0x08000000, 0x02000000, rw},
	{User, 0x08800000, 0x01800000, rw},
	{VRAM, 0x04000000, 0x00200000, rw},
	{Scratchpad, 0x00010000, 0x00004000, rw},
	{Kernel, 0x88000000, 0x00800000, rw},
}

// Name identifies which fixed layout a Context was initialized with.
type Name string

const (
	PS3Name Name = "ps3"
	PSVName Name = "psv"
	PSPName Name = "psp"
)

// Layout returns the fixed block list for name, or nil if name is not
// one of the known profiles.
func Layout(name Name) []BlockLayout {
	switch name {
	case PS3Name:
		return PS3
	case PSVName:
		return PSV
	case PSPName:
		return PSP
	default:
		return nil
	}
}
