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

package vmerrors

var messages = map[Errno]string{
	InvalidArguments:  "invalid arguments (addr=%#08x, size=%#x)",
	InvalidAlignment:  "invalid alignment (size=%#x, align=%#x)",
	InvalidLocation:   "invalid memory location (%s, %v)",
	InvalidPageFlags:  "invalid page flags (addr=%#08x, size=%#x, flags=%#02x)",
	InvalidThreadType: "invalid thread type (%v)",

	Deadlock:             "deadlock: thread already owns the reservation mutex",
	LostLock:             "lost lock: reservation mutex owner mismatch on unlock",
	MemoryAlreadyMapped:  "memory already mapped (addr=%#08x, size=%#x, current_addr=%#08x)",
	MemoryNotMapped:      "memory not mapped (addr=%#08x, size=%#x, current_addr=%#08x)",
	ConcurrentPageAccess: "concurrent access to page table outside the allocator (current_addr=%#08x)",
	WaiterListFull:       "waiter list limit broken (%d)",
	UnexpectedUsedAmount: "unexpected memory amount used (%#x)",
	SystemFailure:        "system failure (addr=%#08x, size=%#x)",
	StackOverflow:        "stack overflow (size=%#x, align=%#x, sp=%#08x, stack=%#08x)",
	StackInconsistency:   "stack inconsistency (addr=%#08x, sp=%#08x, old_pos=%#08x)",
}
