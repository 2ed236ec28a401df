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

// Package hostmem owns the two host OS mappings that back the entire
// guest address space: a "user view" whose per-page protection mirrors
// guest page flags, and a "privileged view" of the same physical storage
// that is always readable/writable. The reservation engine flips
// protection on the user view to implement load-linked/store-conditional;
// every other write goes through the privileged view so it is never
// blocked by a reservation the writer doesn't own.
package hostmem

import "github.com/coreguest/vmem/vmerrors"

// Size is the size in bytes of the guest address space: exactly 2^32,
// i.e. the full range of a 32-bit guest address.
const Size = 1 << 32

// PageSize is the fixed guest page size.
const PageSize = 4096

// Prot is a host page protection level.
type Prot int

// The three protection levels a guest page can have on the user view.
// The privileged view only ever uses ProtNone (decommitted) or
// ProtReadWrite (committed); it never becomes read-only.
const (
	ProtNone Prot = iota
	ProtRead
	ProtReadWrite
)

// View is one 4GiB host mapping of the guest address space.
type View struct {
	mem []byte
}

// Slice returns the host bytes backing guest range [addr, addr+size).
// Callers must already know the range does not wrap past 2^32; hostmem
// performs no guest-level validation, that is the page table's job.
func (v *View) Slice(addr, size uint32) []byte {
	lo := uint64(addr)
	hi := lo + uint64(size)
	return v.mem[lo:hi]
}

// Backing is the pair of host views over one guest address space.
type Backing struct {
	User View
	Priv View

	close func() error
}

// Close releases both host mappings and the anonymous object backing
// them. It is idempotent-unsafe like most OS resource teardown: call it
// exactly once, at process shutdown.
func (b *Backing) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Protect changes the host protection of guest range [addr, addr+size)
// on the given view. addr and size must already be page-aligned; this is
// enforced by every caller (the page table and the reservation engine),
// never by hostmem itself.
func (b *Backing) Protect(v *View, addr, size uint32, prot Prot) error {
	if err := protect(v.Slice(addr, size), prot); err != nil {
		return vmerrors.New(vmerrors.SystemFailure, addr, size)
	}
	return nil
}

// Zero clears guest range [addr, addr+size) on the privileged view. Used
// when a page transitions from unmapped to mapped, matching the "memset
// priv_addr" step of a fresh page mapping.
func (b *Backing) Zero(addr, size uint32) {
	buf := b.Priv.Slice(addr, size)
	for i := range buf {
		buf[i] = 0
	}
}
