// Package param implements named, type-erased values and ordered lists of
// them. They carry image metadata and codec configuration between callers
// and format implementations.
//
// A Value stores count instances of a typedesc.TypeDesc. Small payloads
// live inline in the Value itself. Larger payloads either own a buffer
// obtained from an Allocator or borrow the caller's slice without copying;
// a borrowed slice must stay valid for as long as the Value is used.
package param

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/logicossoftware/go-imageio/typedesc"
	"github.com/logicossoftware/go-imageio/ustring"
	"github.com/x448/float16"
)

// InlineCapacity is the largest payload, in bytes, stored inside a Value.
const InlineCapacity = 16

var (
	ErrShortBuffer = errors.New("param: source buffer too small")
	ErrBadType     = errors.New("param: unusable type")
)

// Storage tells where a Value's bytes live.
type Storage uint8

const (
	Inline Storage = iota
	Owned
	Borrowed
)

func (s Storage) String() string {
	switch s {
	case Inline:
		return "inline"
	case Owned:
		return "owned"
	case Borrowed:
		return "borrowed"
	}
	return fmt.Sprintf("storage(%d)", uint8(s))
}

// Allocator provides heap buffers for owned payloads.
type Allocator interface {
	Alloc(n int) []byte
	Free(b []byte)
}

type heapAllocator struct{}

func (heapAllocator) Alloc(n int) []byte { return make([]byte, n) }
func (heapAllocator) Free([]byte)        {}

// HeapAllocator is the default Allocator backed by the Go heap.
var HeapAllocator Allocator = heapAllocator{}

// Value is a named, typed, type-erased payload.
//
// Values holding an owned buffer must be released with Clear when the
// owner is done with them. Assigning a Value copies the handle, not the
// payload; use Clone for an independent copy.
type Value struct {
	name    ustring.String
	typ     typedesc.TypeDesc
	count   int
	storage Storage
	inline  [InlineCapacity]byte
	ext     []byte
	strs    []ustring.String
	alloc   Allocator
}

// Option configures New.
type Option func(*Value)

// WithAllocator sets the allocator used for owned payloads.
func WithAllocator(a Allocator) Option {
	return func(v *Value) {
		if a != nil {
			v.alloc = a
		}
	}
}

// New builds a Value of count instances of t from src.
//
// Payloads of at most InlineCapacity bytes are always copied inline. Larger
// ones are copied into an owned buffer when copyRequested is true, and
// otherwise borrowed from src. A nil src yields zeroed storage, which is
// never borrowed.
func New(name string, t typedesc.TypeDesc, count int, src []byte, copyRequested bool, opts ...Option) (Value, error) {
	v := Value{name: ustring.New(name), typ: t, count: count, alloc: HeapAllocator}
	for _, o := range opts {
		o(&v)
	}
	if t.IsUnknown() || t.IsUnsizedArray() || count < 1 {
		return Value{}, fmt.Errorf("%w: %s x %d", ErrBadType, t, count)
	}
	if t.Base == typedesc.String {
		return Value{}, fmt.Errorf("%w: string values are built with Strings", ErrBadType)
	}
	n := count * t.Size()
	if src != nil && len(src) < n {
		return Value{}, fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, n, len(src))
	}
	switch {
	case n <= InlineCapacity:
		v.storage = Inline
		copy(v.inline[:n], src)
	case copyRequested || src == nil:
		v.storage = Owned
		v.ext = v.alloc.Alloc(n)
		copy(v.ext, src)
	default:
		v.storage = Borrowed
		v.ext = src[:n:n]
	}
	return v, nil
}

// Name returns the interned name.
func (v *Value) Name() ustring.String { return v.name }

// Type returns the type of each instance.
func (v *Value) Type() typedesc.TypeDesc { return v.typ }

// Count returns the number of instances.
func (v *Value) Count() int { return v.count }

// Storage reports where the payload lives.
func (v *Value) Storage() Storage { return v.storage }

// Size returns the payload size in bytes.
func (v *Value) Size() int {
	if v.typ.Base == typedesc.String {
		return len(v.strs) * v.typ.BaseSize()
	}
	return v.count * v.typ.Size()
}

// Data returns the stored bytes. For a borrowed Value this is the caller's
// slice itself. String values have no byte payload.
func (v *Value) Data() []byte {
	switch v.storage {
	case Inline:
		n := v.Size()
		if v.typ.Base == typedesc.String {
			return nil
		}
		return v.inline[:n:n]
	default:
		return v.ext
	}
}

// Clear releases the payload and resets v to the zero Value. Only owned
// buffers go back to the allocator.
func (v *Value) Clear() {
	if v.storage == Owned && v.ext != nil && v.alloc != nil {
		v.alloc.Free(v.ext)
	}
	*v = Value{}
}

// Clone returns an independent copy. Owned payloads are duplicated;
// borrowed ones keep borrowing the same bytes.
func (v *Value) Clone() Value {
	c := *v
	switch v.storage {
	case Owned:
		c.ext = c.alloc.Alloc(len(v.ext))
		copy(c.ext, v.ext)
	}
	if v.strs != nil {
		c.strs = append([]ustring.String(nil), v.strs...)
	}
	return c
}

// baseValues returns the number of base-type values in the whole payload.
func (v *Value) baseValues() int { return v.count * v.typ.BaseValues() }

// matches reports whether v holds exactly count instances of t, up to
// equivalence.
func (v *Value) matches(t typedesc.TypeDesc, count int) bool {
	return v.typ.Equivalent(t) && v.count == count
}

// Int returns the value of a single int.
func (v *Value) Int() (int32, bool) {
	if !v.matches(typedesc.TypeInt, 1) {
		return 0, false
	}
	return int32(binary.NativeEndian.Uint32(v.Data())), true
}

// Float returns the value of a single float.
func (v *Value) Float() (float32, bool) {
	if !v.matches(typedesc.TypeFloat, 1) {
		return 0, false
	}
	return math.Float32frombits(binary.NativeEndian.Uint32(v.Data())), true
}

// Str returns the value of a single string.
func (v *Value) Str() (string, bool) {
	if !v.matches(typedesc.TypeString, 1) || len(v.strs) != 1 {
		return "", false
	}
	return v.strs[0].String(), true
}

// Ints returns every base value of an int32-based payload.
func (v *Value) Ints() ([]int32, bool) {
	if v.typ.Base != typedesc.Int32 {
		return nil, false
	}
	d := v.Data()
	out := make([]int32, v.baseValues())
	for i := range out {
		out[i] = int32(binary.NativeEndian.Uint32(d[4*i:]))
	}
	return out, true
}

// Floats returns every base value of a float-based payload.
func (v *Value) Floats() ([]float32, bool) {
	if v.typ.Base != typedesc.Float {
		return nil, false
	}
	d := v.Data()
	out := make([]float32, v.baseValues())
	for i := range out {
		out[i] = math.Float32frombits(binary.NativeEndian.Uint32(d[4*i:]))
	}
	return out, true
}

// Strings returns every string of a string-based payload.
func (v *Value) Strings() ([]string, bool) {
	if v.typ.Base != typedesc.String {
		return nil, false
	}
	out := make([]string, len(v.strs))
	for i, s := range v.strs {
		out[i] = s.String()
	}
	return out, true
}

// Bytes returns the payload of a uint8-based value.
func (v *Value) Bytes() ([]byte, bool) {
	if v.typ.Base != typedesc.Uint8 {
		return nil, false
	}
	return v.Data(), true
}

// AsInt converts a single integer of any width to int64.
func (v *Value) AsInt() (int64, bool) {
	if v.baseValues() != 1 || !v.typ.Base.IsInteger() {
		return 0, false
	}
	d, ne := v.Data(), binary.NativeEndian
	switch v.typ.Base {
	case typedesc.Uint64:
		return int64(ne.Uint64(d)), true
	case typedesc.Int64:
		return int64(ne.Uint64(d)), true
	}
	x, _ := numberAt(v.typ.Base, d, 0)
	return int64(x), true
}

// AsFloat converts a single numeric value of any base type to float64.
func (v *Value) AsFloat() (float64, bool) {
	if v.baseValues() != 1 || !(v.typ.Base.IsInteger() || v.typ.Base.IsFloat()) {
		return 0, false
	}
	x, _ := numberAt(v.typ.Base, v.Data(), 0)
	return x, true
}

// numberAt decodes base value i of d as float64.
func numberAt(b typedesc.BaseType, d []byte, i int) (float64, bool) {
	ne := binary.NativeEndian
	switch b {
	case typedesc.Uint8:
		return float64(d[i]), true
	case typedesc.Int8:
		return float64(int8(d[i])), true
	case typedesc.Uint16:
		return float64(ne.Uint16(d[2*i:])), true
	case typedesc.Int16:
		return float64(int16(ne.Uint16(d[2*i:]))), true
	case typedesc.Uint32:
		return float64(ne.Uint32(d[4*i:])), true
	case typedesc.Int32:
		return float64(int32(ne.Uint32(d[4*i:]))), true
	case typedesc.Uint64:
		return float64(ne.Uint64(d[8*i:])), true
	case typedesc.Int64:
		return float64(int64(ne.Uint64(d[8*i:]))), true
	case typedesc.Half:
		return float64(float16.Frombits(ne.Uint16(d[2*i:])).Float32()), true
	case typedesc.Float:
		return float64(math.Float32frombits(ne.Uint32(d[4*i:]))), true
	case typedesc.Double:
		return math.Float64frombits(ne.Uint64(d[8*i:])), true
	}
	return 0, false
}
