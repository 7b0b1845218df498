package param

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/logicossoftware/go-imageio/typedesc"
	"github.com/logicossoftware/go-imageio/ustring"
	"github.com/x448/float16"
)

// Strings builds a string-based Value. len(vals) must be a multiple of the
// number of base values in t.
func Strings(name string, t typedesc.TypeDesc, vals ...string) (Value, error) {
	if t.Base != typedesc.String || t.IsUnsizedArray() {
		return Value{}, fmt.Errorf("%w: %s is not a string type", ErrBadType, t)
	}
	per := t.BaseValues()
	if len(vals) == 0 || len(vals)%per != 0 {
		return Value{}, fmt.Errorf("%w: %d strings for type %s", ErrShortBuffer, len(vals), t)
	}
	v := Value{name: ustring.New(name), typ: t, count: len(vals) / per, storage: Inline, alloc: HeapAllocator}
	v.strs = make([]ustring.String, len(vals))
	for i, s := range vals {
		v.strs[i] = ustring.New(s)
	}
	return v, nil
}

// FromString returns a single string Value.
func FromString(name, s string) Value {
	v, _ := Strings(name, typedesc.TypeString, s)
	return v
}

// FromInt returns a single int Value.
func FromInt(name string, x int32) Value {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], uint32(x))
	v, _ := New(name, typedesc.TypeInt, 1, b[:], true)
	return v
}

// FromFloat returns a single float Value.
func FromFloat(name string, x float32) Value {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], math.Float32bits(x))
	v, _ := New(name, typedesc.TypeFloat, 1, b[:], true)
	return v
}

// FromInts returns a Value of type t built from int32 base values.
func FromInts(name string, t typedesc.TypeDesc, xs ...int32) (Value, error) {
	if t.Base != typedesc.Int32 {
		return Value{}, fmt.Errorf("%w: %s is not int based", ErrBadType, t)
	}
	b := make([]byte, 4*len(xs))
	for i, x := range xs {
		binary.NativeEndian.PutUint32(b[4*i:], uint32(x))
	}
	return fromBase(name, t, b)
}

// FromFloats returns a Value of type t built from float32 base values.
func FromFloats(name string, t typedesc.TypeDesc, xs ...float32) (Value, error) {
	if t.Base != typedesc.Float {
		return Value{}, fmt.Errorf("%w: %s is not float based", ErrBadType, t)
	}
	b := make([]byte, 4*len(xs))
	for i, x := range xs {
		binary.NativeEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return fromBase(name, t, b)
}

// FromBytes returns a uint8[len(b)] Value, such as an ICC profile blob.
func FromBytes(name string, b []byte, copyRequested bool) (Value, error) {
	return New(name, typedesc.NewArray(typedesc.Uint8, len(b)), 1, b, copyRequested)
}

func fromBase(name string, t typedesc.TypeDesc, b []byte) (Value, error) {
	if t.Size() == 0 || len(b) == 0 || len(b)%t.Size() != 0 {
		return Value{}, fmt.Errorf("%w: %d bytes for type %s", ErrShortBuffer, len(b), t)
	}
	return New(name, t, len(b)/t.Size(), b, true)
}

// Format renders the payload as text: comma separated base values, strings
// quoted, rationals as n/d.
func (v *Value) Format() string {
	b := v.typ.Base
	if b == typedesc.String {
		parts := make([]string, len(v.strs))
		for i, s := range v.strs {
			parts[i] = strconv.Quote(s.String())
		}
		return strings.Join(parts, ", ")
	}
	d := v.Data()
	n := v.baseValues()
	if v.typ.VecSemantics == typedesc.Rational && v.typ.Aggregate == typedesc.Vec2 && b.IsInteger() {
		parts := make([]string, 0, n/2)
		for i := 0; i+1 < n; i += 2 {
			num, _ := numberAt(b, d, i)
			den, _ := numberAt(b, d, i+1)
			parts = append(parts, fmt.Sprintf("%d/%d", int64(num), int64(den)))
		}
		return strings.Join(parts, ", ")
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		switch {
		case b == typedesc.Pointer:
			parts[i] = fmt.Sprintf("%#x", pointerAt(d, i))
		case b == typedesc.Half:
			parts[i] = strconv.FormatFloat(float64(float16.Frombits(binary.NativeEndian.Uint16(d[2*i:])).Float32()), 'g', -1, 32)
		case b == typedesc.Float:
			x, _ := numberAt(b, d, i)
			parts[i] = strconv.FormatFloat(x, 'g', -1, 32)
		case b == typedesc.Double:
			x, _ := numberAt(b, d, i)
			parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
		case b == typedesc.Uint64:
			parts[i] = strconv.FormatUint(binary.NativeEndian.Uint64(d[8*i:]), 10)
		case b == typedesc.Int64:
			parts[i] = strconv.FormatInt(int64(binary.NativeEndian.Uint64(d[8*i:])), 10)
		default:
			x, _ := numberAt(b, d, i)
			parts[i] = strconv.FormatInt(int64(x), 10)
		}
	}
	return strings.Join(parts, ", ")
}

func pointerAt(d []byte, i int) uint64 {
	if typedesc.Pointer.Size() == 8 {
		return binary.NativeEndian.Uint64(d[8*i:])
	}
	return uint64(binary.NativeEndian.Uint32(d[4*i:]))
}
