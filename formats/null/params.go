package null

import (
	"fmt"
	"strconv"
	"strings"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// parseRes reads "W", "WxH" or "WxHxD". A lone W means a square image.
func parseRes(s string) (w, h, d int, err error) {
	parts := strings.Split(s, "x")
	if len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("%w: resolution %q", imageio.ErrInvalidSpec, s)
	}
	dims := []int{0, 0, 1}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return 0, 0, 0, fmt.Errorf("%w: resolution %q", imageio.ErrInvalidSpec, s)
		}
		dims[i] = n
	}
	if len(parts) == 1 {
		dims[1] = dims[0]
	}
	return dims[0], dims[1], dims[2], nil
}

func parseFloats(s string) ([]float32, error) {
	var out []float32
	for _, f := range strings.Split(s, ",") {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: pixel value %q", imageio.ErrInvalidSpec, f)
		}
		out = append(out, float32(x))
	}
	return out, nil
}

// splitType removes a leading type name, as in "float[2] scale".
func splitType(s string) (typedesc.TypeDesc, string) {
	fields := strings.Fields(s)
	for n := min(len(fields)-1, 2); n >= 1; n-- {
		if t, err := typedesc.Parse(strings.Join(fields[:n], " ")); err == nil {
			return t, strings.Join(fields[n:], " ")
		}
	}
	return typedesc.TypeUnknown, s
}

func unquote(s string) (string, bool) {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1], true
	}
	return s, false
}

// parseParam adds an arbitrary REST argument as an attribute. The type
// comes from a type name prefixed to the key or the value, or else from
// the look of the value: quoted text is a string, then int, then float.
func parseParam(name, val string, l *param.List) error {
	t, rest := splitType(name)
	if !t.IsUnknown() {
		name = rest
	} else if t, rest = splitType(val); !t.IsUnknown() {
		val = rest
	}
	if t.IsUnknown() {
		if s, ok := unquote(val); ok {
			t, val = typedesc.TypeString, s
		} else if _, err := strconv.Atoi(val); err == nil {
			t = typedesc.TypeInt
		} else if _, err := strconv.ParseFloat(val, 32); err == nil {
			t = typedesc.TypeFloat
		} else {
			t = typedesc.TypeString
		}
	}
	n := t.BaseValues()
	items := strings.Split(val, ",")
	if t.Base == typedesc.String && n == 1 {
		items = []string{val}
	}
	for len(items) < n {
		items = append(items, "")
	}
	items = items[:n]

	var v param.Value
	var err error
	switch t.Base {
	case typedesc.Int32:
		xs := make([]int32, n)
		for i, s := range items {
			x, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
			xs[i] = int32(x)
		}
		v, err = param.FromInts(name, t, xs...)
	case typedesc.Float:
		xs := make([]float32, n)
		for i, s := range items {
			x, _ := strconv.ParseFloat(strings.TrimSpace(s), 32)
			xs[i] = float32(x)
		}
		v, err = param.FromFloats(name, t, xs...)
	case typedesc.String:
		for i, s := range items {
			items[i], _ = unquote(strings.TrimSpace(s))
		}
		v, err = param.Strings(name, t, items...)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: argument %s: %v", imageio.ErrInvalidSpec, name, err)
	}
	l.Set(v)
	return nil
}

// flag reads a switch given as a number or, from REST arguments, as text.
func flag(l *param.List, name string) bool {
	v, ok := l.Find(name)
	if !ok {
		return false
	}
	if n, ok := v.AsInt(); ok {
		return n != 0
	}
	if s, ok := v.Str(); ok {
		n, err := strconv.Atoi(s)
		return err == nil && n != 0
	}
	return false
}
