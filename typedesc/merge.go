package typedesc

// widthRank positions the unsigned and floating point types on one line.
// Signed integers share the rank of their unsigned counterpart.
var widthRank = [lastBase]int{
	Uint8:  1,
	Int8:   1,
	Uint16: 2,
	Int16:  2,
	Uint32: 3,
	Int32:  3,
	Uint64: 4,
	Int64:  4,
	Half:   5,
	Float:  6,
	Double: 7,
}

func signedOfSize(n int) BaseType {
	switch n {
	case 1:
		return Int8
	case 2:
		return Int16
	case 4:
		return Int32
	case 8:
		return Int64
	}
	return Unknown
}

// MergeBaseType returns a base type able to hold values of both a and b
// without loss of range. Strings, pointers and unknown types merge only
// with themselves; any other pairing with them yields Unknown.
func MergeBaseType(a, b BaseType) BaseType {
	if a == b {
		return a
	}
	if a >= lastBase || b >= lastBase || widthRank[a] == 0 || widthRank[b] == 0 {
		return Unknown
	}
	sa, sb := a.IsSigned() && a.IsInteger(), b.IsSigned() && b.IsInteger()
	switch {
	case sa && sb:
		if a.Size() >= b.Size() {
			return a
		}
		return b
	case sa && b.IsInteger():
		return mergeMixedSign(a, b)
	case sb && a.IsInteger():
		return mergeMixedSign(b, a)
	}
	if widthRank[a] >= widthRank[b] {
		return a
	}
	return b
}

func mergeMixedSign(signed, unsigned BaseType) BaseType {
	n := max(signed.Size(), 2*unsigned.Size())
	if t := signedOfSize(n); t != Unknown {
		return t
	}
	return Float
}

// Merge returns MergeBaseType over the base types of a and b.
func Merge(a, b TypeDesc) BaseType {
	return MergeBaseType(a.Base, b.Base)
}
