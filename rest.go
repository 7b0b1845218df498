package imageio

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/logicossoftware/go-imageio/param"
)

// SplitREST separates REST-style arguments from a filename:
// "tex.null?RES=64x64&TYPE=half" yields "tex.null" and a list holding the
// string attributes RES and TYPE. Keys and values are URL-unescaped.
func SplitREST(filename string) (string, param.List, error) {
	var args param.List
	base, query, found := strings.Cut(filename, "?")
	if !found {
		return filename, args, nil
	}
	if base == "" {
		return "", args, fmt.Errorf("%w: %q has no file name", ErrInvalidFile, filename)
	}
	if query == "" {
		return base, args, nil
	}
	for _, kv := range strings.Split(query, "&") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return "", param.List{}, fmt.Errorf("%w: malformed argument %q in %q", ErrInvalidFile, kv, filename)
		}
		uk, err := url.QueryUnescape(k)
		if err != nil {
			return "", param.List{}, fmt.Errorf("%w: argument %q: %v", ErrInvalidFile, kv, err)
		}
		uv, err := url.QueryUnescape(v)
		if err != nil {
			return "", param.List{}, fmt.Errorf("%w: argument %q: %v", ErrInvalidFile, kv, err)
		}
		args.SetString(uk, uv)
	}
	return base, args, nil
}
