// Package ustring interns strings so that equal contents share one
// canonical record. Interned handles compare with == in constant time,
// which is what format names and metadata keys are used for.
//
// A Table only grows. Nothing is ever evicted, since the vocabulary of
// names in practice is small and bounded.
package ustring

import (
	"encoding/binary"
	"sync"

	"github.com/zeebo/blake3"
)

type rep struct {
	s    string
	hash uint64
}

// String is an interned string handle. The zero value is the canonical
// empty string in every table.
type String struct {
	r *rep
}

// Table is an interning table.
type Table struct {
	mu      sync.Mutex
	entries map[string]*rep
	bytes   int
	lookups uint64
}

// Stats describes the contents of a Table.
type Stats struct {
	Unique  int
	Bytes   int
	Lookups uint64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*rep)}
}

var defaultTable = NewTable()

// Default returns the process-wide table used by New and FromBytes.
func Default() *Table { return defaultTable }

// InternString returns the canonical handle for s.
func (t *Table) InternString(s string) String {
	if s == "" {
		return String{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookups++
	if r, ok := t.entries[s]; ok {
		return String{r}
	}
	r := &rep{s: s, hash: hashOf(s)}
	t.entries[s] = r
	t.bytes += len(s)
	return String{r}
}

// Intern returns the canonical handle for the contents of b. Nil and empty
// input both yield the empty string.
func (t *Table) Intern(b []byte) String {
	if len(b) == 0 {
		return String{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookups++
	// map lookup with string(b) does not allocate
	if r, ok := t.entries[string(b)]; ok {
		return String{r}
	}
	s := string(b)
	r := &rep{s: s, hash: hashOf(s)}
	t.entries[s] = r
	t.bytes += len(s)
	return String{r}
}

// Stats returns a snapshot of the table's size.
func (t *Table) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Unique: len(t.entries), Bytes: t.bytes, Lookups: t.lookups}
}

// New interns s in the default table.
func New(s string) String { return defaultTable.InternString(s) }

// FromBytes interns b in the default table.
func FromBytes(b []byte) String { return defaultTable.Intern(b) }

func hashOf(s string) uint64 {
	sum := blake3.Sum256([]byte(s))
	return binary.LittleEndian.Uint64(sum[:8])
}

// String returns the contents.
func (s String) String() string {
	if s.r == nil {
		return ""
	}
	return s.r.s
}

// Len returns the length in bytes.
func (s String) Len() int {
	if s.r == nil {
		return 0
	}
	return len(s.r.s)
}

// Empty reports whether s is the empty string.
func (s String) Empty() bool { return s.r == nil }

// Hash returns a 64-bit hash of the contents, computed once at interning.
func (s String) Hash() uint64 {
	if s.r == nil {
		return 0
	}
	return s.r.hash
}

// Equal compares the contents of s with a plain string.
func (s String) Equal(v string) bool { return s.String() == v }

// MarshalText implements encoding.TextMarshaler.
func (s String) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText interns text into the default table.
func (s *String) UnmarshalText(text []byte) error {
	*s = FromBytes(text)
	return nil
}
