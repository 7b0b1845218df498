// Package attrcodec stores image specs and their attributes as CBOR for
// file formats that keep metadata on disk.
//
// Numeric attribute payloads are written little-endian regardless of the
// host. Pointer attributes are process local and are not stored.
package attrcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// ErrCorrupt reports a metadata block that does not decode.
var ErrCorrupt = errors.New("attrcodec: corrupt metadata")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	opts := cbor.CoreDetEncOptions()
	opts.TextMarshaler = cbor.TextMarshalerTextString
	if encMode, err = opts.EncMode(); err != nil {
		panic("attrcodec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		TextUnmarshaler:  cbor.TextUnmarshalerTextString,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("attrcodec: CBOR decoder initialization failed: " + err.Error())
	}
}

type specRecord struct {
	X              int                 `cbor:"1,keyasint,omitempty"`
	Y              int                 `cbor:"2,keyasint,omitempty"`
	Z              int                 `cbor:"3,keyasint,omitempty"`
	Width          int                 `cbor:"4,keyasint"`
	Height         int                 `cbor:"5,keyasint"`
	Depth          int                 `cbor:"6,keyasint"`
	FullX          int                 `cbor:"7,keyasint,omitempty"`
	FullY          int                 `cbor:"8,keyasint,omitempty"`
	FullZ          int                 `cbor:"9,keyasint,omitempty"`
	FullWidth      int                 `cbor:"10,keyasint"`
	FullHeight     int                 `cbor:"11,keyasint"`
	FullDepth      int                 `cbor:"12,keyasint"`
	TileWidth      int                 `cbor:"13,keyasint,omitempty"`
	TileHeight     int                 `cbor:"14,keyasint,omitempty"`
	TileDepth      int                 `cbor:"15,keyasint,omitempty"`
	NChannels      int                 `cbor:"16,keyasint"`
	Format         typedesc.TypeDesc   `cbor:"17,keyasint"`
	ChannelFormats []typedesc.TypeDesc `cbor:"18,keyasint,omitempty"`
	ChannelNames   []string            `cbor:"19,keyasint,omitempty"`
	AlphaChannel   int                 `cbor:"20,keyasint"`
	ZChannel       int                 `cbor:"21,keyasint"`
	Deep           bool                `cbor:"22,keyasint,omitempty"`
	Attributes     []attrRecord        `cbor:"23,keyasint,omitempty"`
}

type attrRecord struct {
	Name    string            `cbor:"1,keyasint"`
	Type    typedesc.TypeDesc `cbor:"2,keyasint"`
	Count   int               `cbor:"3,keyasint"`
	Data    []byte            `cbor:"4,keyasint,omitempty"`
	Strings []string          `cbor:"5,keyasint,omitempty"`
}

// EncodeSpec returns the CBOR form of s.
func EncodeSpec(s *imageio.ImageSpec) ([]byte, error) {
	rec := specRecord{
		X: s.X, Y: s.Y, Z: s.Z,
		Width: s.Width, Height: s.Height, Depth: s.Depth,
		FullX: s.FullX, FullY: s.FullY, FullZ: s.FullZ,
		FullWidth: s.FullWidth, FullHeight: s.FullHeight, FullDepth: s.FullDepth,
		TileWidth: s.TileWidth, TileHeight: s.TileHeight, TileDepth: s.TileDepth,
		NChannels:      s.NChannels,
		Format:         s.Format,
		ChannelFormats: s.ChannelFormats,
		ChannelNames:   s.ChannelNames,
		AlphaChannel:   s.AlphaChannel,
		ZChannel:       s.ZChannel,
		Deep:           s.Deep,
		Attributes:     encodeAttrs(&s.Attributes),
	}
	return encMode.Marshal(rec)
}

// DecodeSpec parses the output of EncodeSpec.
func DecodeSpec(b []byte) (imageio.ImageSpec, error) {
	var rec specRecord
	if err := decMode.Unmarshal(b, &rec); err != nil {
		return imageio.ImageSpec{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	attrs, err := decodeAttrs(rec.Attributes)
	if err != nil {
		return imageio.ImageSpec{}, err
	}
	return imageio.ImageSpec{
		X: rec.X, Y: rec.Y, Z: rec.Z,
		Width: rec.Width, Height: rec.Height, Depth: rec.Depth,
		FullX: rec.FullX, FullY: rec.FullY, FullZ: rec.FullZ,
		FullWidth: rec.FullWidth, FullHeight: rec.FullHeight, FullDepth: rec.FullDepth,
		TileWidth: rec.TileWidth, TileHeight: rec.TileHeight, TileDepth: rec.TileDepth,
		NChannels:      rec.NChannels,
		Format:         rec.Format,
		ChannelFormats: rec.ChannelFormats,
		ChannelNames:   rec.ChannelNames,
		AlphaChannel:   rec.AlphaChannel,
		ZChannel:       rec.ZChannel,
		Deep:           rec.Deep,
		Attributes:     attrs,
	}, nil
}

// EncodeAttributes returns the CBOR form of an attribute list alone.
func EncodeAttributes(l *param.List) ([]byte, error) {
	return encMode.Marshal(encodeAttrs(l))
}

// DecodeAttributes parses the output of EncodeAttributes.
func DecodeAttributes(b []byte) (param.List, error) {
	var recs []attrRecord
	if err := decMode.Unmarshal(b, &recs); err != nil {
		return param.List{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return decodeAttrs(recs)
}

func encodeAttrs(l *param.List) []attrRecord {
	var out []attrRecord
	for _, v := range l.All() {
		t := v.Type()
		if t.Base == typedesc.Pointer {
			continue
		}
		rec := attrRecord{Name: v.Name().String(), Type: t, Count: v.Count()}
		if ss, ok := v.Strings(); ok {
			rec.Strings = ss
		} else {
			rec.Data = SwapLittle(append([]byte(nil), v.Data()...), t.BaseSize())
		}
		out = append(out, rec)
	}
	return out
}

func decodeAttrs(recs []attrRecord) (param.List, error) {
	var l param.List
	for _, rec := range recs {
		var v param.Value
		var err error
		switch rec.Type.Base {
		case typedesc.String:
			v, err = param.Strings(rec.Name, rec.Type, rec.Strings...)
		case typedesc.Pointer:
			continue
		default:
			data := SwapLittle(append([]byte(nil), rec.Data...), rec.Type.BaseSize())
			v, err = param.New(rec.Name, rec.Type, rec.Count, data, true)
		}
		if err != nil {
			l.Clear()
			return param.List{}, fmt.Errorf("%w: attribute %q: %v", ErrCorrupt, rec.Name, err)
		}
		l.Append(v)
	}
	return l, nil
}

var littleHost = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// LittleHost reports whether the host byte order is little-endian.
func LittleHost() bool { return littleHost }

// SwapLittle converts b, a run of size-byte values, between host order
// and little-endian, in place. It is a no-op on little-endian hosts.
func SwapLittle(b []byte, size int) []byte {
	if littleHost || size < 2 {
		return b
	}
	for i := 0; i+size <= len(b); i += size {
		v := b[i : i+size]
		for j, k := 0, size-1; j < k; j, k = j+1, k-1 {
			v[j], v[k] = v[k], v[j]
		}
	}
	return b
}
