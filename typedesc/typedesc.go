// Package typedesc describes the type of pixel and metadata values.
//
// A TypeDesc is a small comparable value made of a base type (the C data
// type at its heart), an aggregate shape (scalar, vector or matrix), an
// optional vector semantic hint (color, point, normal, ...) and an array
// length. It is used everywhere a value's layout has to travel alongside
// opaque bytes: pixel formats, attribute values, plugin wire specs.
//
// The textual form accepted by [Parse] and produced by [TypeDesc.String]
// is
//
//	[keyword] [basetype] ["[" [N] "]"]
//
// for example "float", "color", "vec3 half", "matrix33 double", "int[4]"
// and "float[]" (an unsized array).
package typedesc

import "unsafe"

// BaseType is the scalar data type underlying a TypeDesc.
type BaseType uint8

const (
	Unknown BaseType = iota
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	Half
	Float
	Double
	String
	Pointer
	lastBase
)

// Aggregate is the shape of a single element. Its numeric value is the
// number of base-type components in the element.
type Aggregate uint8

const (
	Scalar   Aggregate = 1
	Vec2     Aggregate = 2
	Vec3     Aggregate = 3
	Vec4     Aggregate = 4
	Matrix33 Aggregate = 9
	Matrix44 Aggregate = 16
)

// VecSemantics is an informational hint about what an aggregate means.
// It never affects size or equivalence.
type VecSemantics uint8

const (
	NoXform VecSemantics = iota
	Color
	Point
	Vector
	Normal
	Rational
)

// TypeDesc describes the layout of one value.
//
// ArrayLen is 0 for a non-array, -1 for an array of unspecified length and
// N > 0 for an array of exactly N elements. An unsized array describes a
// shape; it is never the type of a concretely sized stored value.
//
// A zero Aggregate means Scalar. Go == compares the fields as they are, so
// a struct literal that leaves Aggregate unset should be compared through
// Canonical, Compare or Equivalent.
type TypeDesc struct {
	Base         BaseType
	Aggregate    Aggregate
	VecSemantics VecSemantics
	ArrayLen     int
}

// New returns a scalar, non-array TypeDesc of base type b.
func New(b BaseType) TypeDesc {
	return TypeDesc{Base: b, Aggregate: Scalar}
}

// NewArray returns a scalar array of n elements of base type b.
func NewArray(b BaseType, n int) TypeDesc {
	return TypeDesc{Base: b, Aggregate: Scalar, ArrayLen: n}
}

// NewAggregate returns an aggregate TypeDesc with the given semantics.
func NewAggregate(b BaseType, agg Aggregate, sem VecSemantics) TypeDesc {
	return TypeDesc{Base: b, Aggregate: agg, VecSemantics: sem}
}

var (
	TypeUnknown  = TypeDesc{}
	TypeUInt8    = New(Uint8)
	TypeInt8     = New(Int8)
	TypeUInt16   = New(Uint16)
	TypeInt16    = New(Int16)
	TypeUInt     = New(Uint32)
	TypeInt      = New(Int32)
	TypeUInt64   = New(Uint64)
	TypeInt64    = New(Int64)
	TypeHalf     = New(Half)
	TypeFloat    = New(Float)
	TypeDouble   = New(Double)
	TypeString   = New(String)
	TypePointer  = New(Pointer)
	TypeColor    = NewAggregate(Float, Vec3, Color)
	TypePoint    = NewAggregate(Float, Vec3, Point)
	TypeVector   = NewAggregate(Float, Vec3, Vector)
	TypeNormal   = NewAggregate(Float, Vec3, Normal)
	TypeFloat2   = NewAggregate(Float, Vec2, NoXform)
	TypeFloat4   = NewAggregate(Float, Vec4, NoXform)
	TypeMatrix33 = NewAggregate(Float, Matrix33, NoXform)
	TypeMatrix44 = NewAggregate(Float, Matrix44, NoXform)
	TypeMatrix   = TypeMatrix44
	TypeRational = NewAggregate(Int32, Vec2, Rational)
)

var baseSizes = [lastBase]int{
	Unknown: 0,
	Uint8:   1,
	Int8:    1,
	Uint16:  2,
	Int16:   2,
	Uint32:  4,
	Int32:   4,
	Uint64:  8,
	Int64:   8,
	Half:    2,
	Float:   4,
	Double:  8,
	String:  int(unsafe.Sizeof(uintptr(0))),
	Pointer: int(unsafe.Sizeof(uintptr(0))),
}

// Size returns the size in bytes of one value of base type b.
func (b BaseType) Size() int {
	if b >= lastBase {
		return 0
	}
	return baseSizes[b]
}

// IsFloat reports whether b is a floating point type.
func (b BaseType) IsFloat() bool {
	return b == Half || b == Float || b == Double
}

// IsSigned reports whether b can represent negative values.
func (b BaseType) IsSigned() bool {
	switch b {
	case Int8, Int16, Int32, Int64, Half, Float, Double:
		return true
	}
	return false
}

// IsInteger reports whether b is one of the integer types.
func (b BaseType) IsInteger() bool {
	return b >= Uint8 && b <= Int64
}

func (b BaseType) String() string {
	if b >= lastBase {
		return baseNames[Unknown]
	}
	return baseNames[b]
}

// Components returns the number of base-type values in one element.
func (a Aggregate) Components() int {
	if a == 0 {
		return 1
	}
	return int(a)
}

// BaseSize returns the size in bytes of the base type.
func (t TypeDesc) BaseSize() int { return t.Base.Size() }

// ElementSize returns the size of one element, ignoring array-ness.
func (t TypeDesc) ElementSize() int {
	return t.Aggregate.Components() * t.Base.Size()
}

// NumElements returns the array length, or 1 if t is not a sized array.
func (t TypeDesc) NumElements() int {
	if t.ArrayLen >= 1 {
		return t.ArrayLen
	}
	return 1
}

// Size returns the size in bytes of a whole value of type t.
func (t TypeDesc) Size() int {
	return t.ElementSize() * t.NumElements()
}

// BaseValues returns the number of base-type values in a whole value.
func (t TypeDesc) BaseValues() int {
	return t.NumElements() * t.Aggregate.Components()
}

// ElementType returns t with array-ness removed.
func (t TypeDesc) ElementType() TypeDesc {
	t.ArrayLen = 0
	return t
}

// Unarray strips array-ness in place.
func (t *TypeDesc) Unarray() { t.ArrayLen = 0 }

// IsArray reports whether t is an array, sized or not.
func (t TypeDesc) IsArray() bool { return t.ArrayLen != 0 }

// IsUnsizedArray reports whether t is an array of unspecified length.
func (t TypeDesc) IsUnsizedArray() bool { return t.ArrayLen < 0 }

// IsSizedArray reports whether t is an array of known length.
func (t TypeDesc) IsSizedArray() bool { return t.ArrayLen > 0 }

// IsUnknown reports whether t failed to describe anything.
func (t TypeDesc) IsUnknown() bool { return t.Base == Unknown }

// Equivalent compares base type, aggregate and array length, ignoring the
// vector semantics hint.
func (t TypeDesc) Equivalent(o TypeDesc) bool {
	return t.Base == o.Base && t.Aggregate.Components() == o.Aggregate.Components() && t.ArrayLen == o.ArrayLen
}

// Canonical returns t with a zero Aggregate spelled as Scalar, the form
// Parse and the constructors produce.
func (t TypeDesc) Canonical() TypeDesc {
	if t.Aggregate == 0 {
		t.Aggregate = Scalar
	}
	return t
}

// Is reports whether t is the non-array scalar of base type b.
func (t TypeDesc) Is(b BaseType) bool {
	return t.Base == b && t.Aggregate.Components() == 1 && t.ArrayLen == 0
}

// Compare orders descriptors lexicographically over
// (Base, Aggregate, ArrayLen, VecSemantics). It returns -1, 0 or +1.
func Compare(a, b TypeDesc) int {
	a, b = a.Canonical(), b.Canonical()
	switch {
	case a.Base != b.Base:
		return sign(int(a.Base) - int(b.Base))
	case a.Aggregate != b.Aggregate:
		return sign(int(a.Aggregate) - int(b.Aggregate))
	case a.ArrayLen != b.ArrayLen:
		return sign(a.ArrayLen - b.ArrayLen)
	default:
		return sign(int(a.VecSemantics) - int(b.VecSemantics))
	}
}

// Less reports whether a sorts before b under Compare.
func Less(a, b TypeDesc) bool { return Compare(a, b) < 0 }

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
