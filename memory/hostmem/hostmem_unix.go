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

//go:build unix

package hostmem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// New reserves two independent 4GiB mappings of one shared anonymous
// object. Both mappings start fully inaccessible (PROT_NONE); pages are
// promoted individually as the block allocator maps them.
//
// Reserving the full address range up front with PROT_NONE keeps the
// two 4GiB views from colliding with anything else in the process;
// protection is then committed page by page as the guest address space
// is populated.
func New() (*Backing, error) {
	fd, err := anonObject()
	if err != nil {
		return nil, err
	}

	if err := unix.Ftruncate(fd, Size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostmem: ftruncate: %w", err)
	}

	user, err := unix.Mmap(fd, 0, Size, unix.PROT_NONE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("hostmem: mmap (user view): %w", err)
	}

	priv, err := unix.Mmap(fd, 0, Size, unix.PROT_NONE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(user)
		unix.Close(fd)
		return nil, fmt.Errorf("hostmem: mmap (privileged view): %w", err)
	}

	// the mapping keeps the backing object alive; the descriptor itself
	// is no longer needed once both views exist.
	unix.Close(fd)

	b := &Backing{
		User: View{mem: user},
		Priv: View{mem: priv},
	}
	b.close = func() error {
		err1 := unix.Munmap(b.User.mem)
		err2 := unix.Munmap(b.Priv.mem)
		if err1 != nil {
			return err1
		}
		return err2
	}
	return b, nil
}

// anonObject creates an anonymous, shareable file descriptor of
// indeterminate (to-be-truncated) size. memfd_create is tried first
// (Linux); platforms without it fall back to an unlinked regular file.
func anonObject() (int, error) {
	fd, err := unix.MemfdCreate("vmem-guest", 0)
	if err == nil {
		return fd, nil
	}

	f, err := os.CreateTemp("", "vmem-guest-*")
	if err != nil {
		return -1, fmt.Errorf("hostmem: create anonymous backing: %w", err)
	}
	name := f.Name()
	fd = int(f.Fd())

	// keep a dup of the fd so the *os.File can be closed; the dup is
	// managed with raw unix syscalls from here on.
	if err := unix.Unlink(name); err != nil {
		f.Close()
		return -1, fmt.Errorf("hostmem: unlink anonymous backing: %w", err)
	}

	dupFd, err := unix.Dup(fd)
	f.Close()
	if err != nil {
		return -1, fmt.Errorf("hostmem: dup anonymous backing: %w", err)
	}
	return dupFd, nil
}

func protect(b []byte, prot Prot) error {
	var p int
	switch prot {
	case ProtNone:
		p = unix.PROT_NONE
	case ProtRead:
		p = unix.PROT_READ
	case ProtReadWrite:
		p = unix.PROT_READ | unix.PROT_WRITE
	}
	return unix.Mprotect(b, p)
}
