package typedesc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse is returned by Parse for text that does not describe a type.
var ErrParse = errors.New("typedesc: cannot parse type")

var baseNames = [lastBase]string{
	Unknown: "unknown",
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint",
	Int32:   "int",
	Uint64:  "uint64",
	Int64:   "int64",
	Half:    "half",
	Float:   "float",
	Double:  "double",
	String:  "string",
	Pointer: "pointer",
}

var baseByName = map[string]BaseType{
	"uint8":     Uint8,
	"uchar":     Uint8,
	"int8":      Int8,
	"char":      Int8,
	"uint16":    Uint16,
	"ushort":    Uint16,
	"int16":     Int16,
	"short":     Int16,
	"uint":      Uint32,
	"uint32":    Uint32,
	"int":       Int32,
	"int32":     Int32,
	"uint64":    Uint64,
	"ulonglong": Uint64,
	"int64":     Int64,
	"longlong":  Int64,
	"half":      Half,
	"float":     Float,
	"double":    Double,
	"string":    String,
	"pointer":   Pointer,
	"ptr":       Pointer,
}

type keyword struct {
	agg  Aggregate
	sem  VecSemantics
	base BaseType
}

var keywords = map[string]keyword{
	"vec2":     {Vec2, NoXform, Float},
	"vec3":     {Vec3, NoXform, Float},
	"vec4":     {Vec4, NoXform, Float},
	"matrix33": {Matrix33, NoXform, Float},
	"matrix44": {Matrix44, NoXform, Float},
	"matrix":   {Matrix44, NoXform, Float},
	"color":    {Vec3, Color, Float},
	"color2":   {Vec2, Color, Float},
	"color4":   {Vec4, Color, Float},
	"point":    {Vec3, Point, Float},
	"point2":   {Vec2, Point, Float},
	"point4":   {Vec4, Point, Float},
	"vector":   {Vec3, Vector, Float},
	"vector2":  {Vec2, Vector, Float},
	"vector4":  {Vec4, Vector, Float},
	"normal":   {Vec3, Normal, Float},
	"normal2":  {Vec2, Normal, Float},
	"normal4":  {Vec4, Normal, Float},
	"rational": {Vec2, Rational, Int32},
}

// keywordFor returns the keyword String prints for an aggregate/semantics
// pair, and the base type the keyword implies. Pairs with no keyword of
// their own fall back to the plain vecN/matrix spelling.
func keywordFor(agg Aggregate, sem VecSemantics) (string, BaseType) {
	var suffix string
	switch agg {
	case Vec2:
		suffix = "2"
	case Vec3:
	case Vec4:
		suffix = "4"
	case Matrix33:
		return "matrix33", Float
	case Matrix44:
		return "matrix", Float
	default:
		return "", Unknown
	}
	switch sem {
	case Color:
		return "color" + suffix, Float
	case Point:
		return "point" + suffix, Float
	case Vector:
		return "vector" + suffix, Float
	case Normal:
		return "normal" + suffix, Float
	case Rational:
		if agg == Vec2 {
			return "rational", Int32
		}
	}
	return "vec" + strconv.Itoa(agg.Components()), Float
}

// String returns the textual form of t. Parse(t.String()) == t for every
// descriptor whose semantics are expressible by a keyword.
func (t TypeDesc) String() string {
	t = t.Canonical()
	var b strings.Builder
	kw, def := keywordFor(t.Aggregate, t.VecSemantics)
	switch {
	case kw == "":
		b.WriteString(t.Base.String())
	case t.Base == def:
		b.WriteString(kw)
	default:
		b.WriteString(kw)
		b.WriteByte(' ')
		b.WriteString(t.Base.String())
	}
	switch {
	case t.ArrayLen < 0:
		b.WriteString("[]")
	case t.ArrayLen > 0:
		fmt.Fprintf(&b, "[%d]", t.ArrayLen)
	}
	return b.String()
}

// Parse reads the textual form of a type descriptor.
func Parse(s string) (TypeDesc, error) {
	text := strings.TrimSpace(s)
	arrayLen := 0
	if strings.HasSuffix(text, "]") {
		open := strings.LastIndexByte(text, '[')
		if open < 0 {
			return TypeUnknown, fmt.Errorf("%w: %q: unbalanced brackets", ErrParse, s)
		}
		inner := strings.TrimSpace(text[open+1 : len(text)-1])
		if inner == "" {
			arrayLen = -1
		} else {
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 {
				return TypeUnknown, fmt.Errorf("%w: %q: bad array length", ErrParse, s)
			}
			arrayLen = n
		}
		text = strings.TrimSpace(text[:open])
	}

	fields := strings.Fields(text)
	var t TypeDesc
	switch len(fields) {
	case 1:
		if kw, ok := keywords[fields[0]]; ok {
			t = TypeDesc{Base: kw.base, Aggregate: kw.agg, VecSemantics: kw.sem}
		} else if b, ok := baseByName[fields[0]]; ok {
			t = New(b)
		} else {
			return TypeUnknown, fmt.Errorf("%w: %q", ErrParse, s)
		}
	case 2:
		kw, ok := keywords[fields[0]]
		if !ok {
			return TypeUnknown, fmt.Errorf("%w: %q: unknown aggregate %q", ErrParse, s, fields[0])
		}
		b, ok := baseByName[fields[1]]
		if !ok {
			return TypeUnknown, fmt.Errorf("%w: %q: unknown base type %q", ErrParse, s, fields[1])
		}
		t = TypeDesc{Base: b, Aggregate: kw.agg, VecSemantics: kw.sem}
	default:
		return TypeUnknown, fmt.Errorf("%w: %q", ErrParse, s)
	}
	t.ArrayLen = arrayLen
	return t, nil
}

// FromString is Parse without the error: unparseable text yields
// TypeUnknown, which callers test with IsUnknown.
func FromString(s string) TypeDesc {
	t, err := Parse(s)
	if err != nil {
		return TypeUnknown
	}
	return t
}

// MarshalText implements encoding.TextMarshaler.
func (t TypeDesc) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TypeDesc) UnmarshalText(text []byte) error {
	if string(text) == baseNames[Unknown] {
		*t = TypeUnknown
		return nil
	}
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
