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

// Package vmlog is the central logging facility for the vmem core. Every
// subsystem (page table, block allocator, reservation engine, waiter
// registry) logs through the package-level Logf function at a tag
// identifying the subsystem, e.g. "vmem.reservation".
//
// The log is a bounded ring of Entry values. Consecutive identical entries
// are collapsed into a single entry with a repeat counter, so a hot loop
// logging the same warning doesn't flood the buffer.
package vmlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a single line in the log.
type Entry struct {
	Timestamp time.Time
	Tag       string
	Detail    string
	repeated  int
}

func (e *Entry) String() string {
	s := strings.Builder{}
	s.WriteString(fmt.Sprintf("%s: %s", e.Tag, e.Detail))
	if e.repeated > 0 {
		s.WriteString(fmt.Sprintf(" (repeat x%d)", e.repeated+1))
	}
	s.WriteString("\n")
	return s.String()
}

type logger struct {
	mu         sync.Mutex
	maxEntries int
	entries    []Entry

	echo   io.Writer
	tsAtom atomic.Value // time.Time
}

func newLogger(maxEntries int) *logger {
	l := &logger{maxEntries: maxEntries}
	l.tsAtom.Store(time.Time{})
	return l
}

func (l *logger) logf(tag, format string, args ...interface{}) {
	detail := fmt.Sprintf(format, args...)
	tag = strings.ReplaceAll(tag, "\n", "")
	detail = strings.ReplaceAll(detail, "\n", "")

	l.mu.Lock()
	var e *Entry
	if n := len(l.entries); n > 0 {
		e = &l.entries[n-1]
	}

	if e == nil || e.Detail != detail || e.Tag != tag {
		l.entries = append(l.entries, Entry{Timestamp: time.Now(), Tag: tag, Detail: detail})
		e = &l.entries[len(l.entries)-1]
	} else {
		e.repeated++
		e.Timestamp = time.Now()
	}

	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}

	l.tsAtom.Store(e.Timestamp)
	echo := l.echo
	line := e.String()
	l.mu.Unlock()

	if echo != nil {
		io.WriteString(echo, line)
	}
}

func (l *logger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

func (l *logger) write(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		io.WriteString(output, e.String())
	}
}

func (l *logger) tail(output io.Writer, number int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if number > len(l.entries) {
		number = len(l.entries)
	}
	for _, e := range l.entries[len(l.entries)-number:] {
		io.WriteString(output, e.String())
	}
}

func (l *logger) setEcho(output io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = output
}

// maxCentral is the maximum number of entries retained by the central log.
const maxCentral = 512

var central = newLogger(maxCentral)

// Logf adds a formatted entry to the central log under tag.
func Logf(tag, format string, args ...interface{}) {
	central.logf(tag, format, args...)
}

// Clear removes all entries from the central log.
func Clear() {
	central.clear()
}

// Write writes the full contents of the central log to output.
func Write(output io.Writer) {
	central.write(output)
}

// Tail writes the last number entries to output.
func Tail(output io.Writer, number int) {
	central.tail(output, number)
}

// SetEcho causes every future log entry to also be written to output.
// Passing nil disables echoing. Useful during development; the default
// (disabled) is appropriate for production embeddings of the core.
func SetEcho(output io.Writer) {
	central.setEcho(output)
}

// EchoToStderr is a convenience equivalent to SetEcho(os.Stderr).
func EchoToStderr() {
	SetEcho(os.Stderr)
}
