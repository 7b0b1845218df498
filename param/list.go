package param

import (
	"iter"
	"strings"

	"github.com/logicossoftware/go-imageio/typedesc"
	"github.com/logicossoftware/go-imageio/ustring"
)

// List is an ordered sequence of Values. Names may repeat; lookups by name
// return the most recently appended match.
type List struct {
	vals []Value
}

// Len returns the number of values.
func (l *List) Len() int { return len(l.vals) }

// At returns the i'th value in insertion order.
func (l *List) At(i int) *Value { return &l.vals[i] }

// Append adds v at the end.
func (l *List) Append(v Value) { l.vals = append(l.vals, v) }

// Set replaces the active value named v.Name() or appends v if there is
// none. The replaced value is cleared.
func (l *List) Set(v Value) {
	if i := l.index(v.name, nil); i >= 0 {
		l.vals[i].Clear()
		l.vals[i] = v
		return
	}
	l.Append(v)
}

// Find returns the active value with the given name.
func (l *List) Find(name string) (*Value, bool) {
	i := l.index(ustring.New(name), nil)
	if i < 0 {
		return nil, false
	}
	return &l.vals[i], true
}

// FindType is Find restricted to values whose type is equivalent to t.
func (l *List) FindType(name string, t typedesc.TypeDesc) (*Value, bool) {
	i := l.index(ustring.New(name), &t)
	if i < 0 {
		return nil, false
	}
	return &l.vals[i], true
}

// FindFold is Find with case-insensitive name matching.
func (l *List) FindFold(name string) (*Value, bool) {
	for i := len(l.vals) - 1; i >= 0; i-- {
		if strings.EqualFold(l.vals[i].name.String(), name) {
			return &l.vals[i], true
		}
	}
	return nil, false
}

func (l *List) index(name ustring.String, t *typedesc.TypeDesc) int {
	for i := len(l.vals) - 1; i >= 0; i-- {
		if l.vals[i].name != name {
			continue
		}
		if t != nil && !l.vals[i].typ.Equivalent(*t) {
			continue
		}
		return i
	}
	return -1
}

// Remove deletes every value with the given name and reports how many
// were removed.
func (l *List) Remove(name string) int {
	key := ustring.New(name)
	kept := l.vals[:0]
	n := 0
	for i := range l.vals {
		if l.vals[i].name == key {
			l.vals[i].Clear()
			n++
			continue
		}
		kept = append(kept, l.vals[i])
	}
	clear(l.vals[len(kept):])
	l.vals = kept
	return n
}

// All iterates over the values in insertion order.
func (l *List) All() iter.Seq2[int, *Value] {
	return func(yield func(int, *Value) bool) {
		for i := range l.vals {
			if !yield(i, &l.vals[i]) {
				return
			}
		}
	}
}

// Clone returns a deep copy of the list.
func (l *List) Clone() List {
	out := List{vals: make([]Value, len(l.vals))}
	for i := range l.vals {
		out.vals[i] = l.vals[i].Clone()
	}
	return out
}

// Clear releases every value and empties the list.
func (l *List) Clear() {
	for i := range l.vals {
		l.vals[i].Clear()
	}
	l.vals = nil
}

// GetInt returns the named integer value converted to int, or def.
func (l *List) GetInt(name string, def int) int {
	if v, ok := l.Find(name); ok {
		if x, ok := v.AsInt(); ok {
			return int(x)
		}
	}
	return def
}

// GetFloat returns the named numeric value converted to float64, or def.
func (l *List) GetFloat(name string, def float64) float64 {
	if v, ok := l.Find(name); ok {
		if x, ok := v.AsFloat(); ok {
			return x
		}
	}
	return def
}

// GetString returns the named string value, or def.
func (l *List) GetString(name string, def string) string {
	if v, ok := l.Find(name); ok {
		if s, ok := v.Str(); ok {
			return s
		}
	}
	return def
}

// SetInt, SetFloat and SetString are shorthands for Set.
func (l *List) SetInt(name string, x int32)     { l.Set(FromInt(name, x)) }
func (l *List) SetFloat(name string, x float32) { l.Set(FromFloat(name, x)) }
func (l *List) SetString(name, s string)        { l.Set(FromString(name, s)) }
