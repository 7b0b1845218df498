package imageio

import (
	"encoding/json"
	"fmt"

	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// JSON forms used across the plugin ABI. Attribute payloads travel as
// native-endian bytes since both sides share one process.

type specWire struct {
	X              int                 `json:"x"`
	Y              int                 `json:"y"`
	Z              int                 `json:"z"`
	Width          int                 `json:"width"`
	Height         int                 `json:"height"`
	Depth          int                 `json:"depth"`
	FullX          int                 `json:"full_x"`
	FullY          int                 `json:"full_y"`
	FullZ          int                 `json:"full_z"`
	FullWidth      int                 `json:"full_width"`
	FullHeight     int                 `json:"full_height"`
	FullDepth      int                 `json:"full_depth"`
	TileWidth      int                 `json:"tile_width,omitempty"`
	TileHeight     int                 `json:"tile_height,omitempty"`
	TileDepth      int                 `json:"tile_depth,omitempty"`
	NChannels      int                 `json:"nchannels"`
	Format         typedesc.TypeDesc   `json:"format"`
	ChannelFormats []typedesc.TypeDesc `json:"channelformats,omitempty"`
	ChannelNames   []string            `json:"channelnames,omitempty"`
	AlphaChannel   int                 `json:"alpha_channel"`
	ZChannel       int                 `json:"z_channel"`
	Deep           bool                `json:"deep,omitempty"`
	Attributes     []attrWire          `json:"attributes,omitempty"`
}

type attrWire struct {
	Name    string            `json:"name"`
	Type    typedesc.TypeDesc `json:"type"`
	Count   int               `json:"count"`
	Data    []byte            `json:"data,omitempty"`
	Strings []string          `json:"strings,omitempty"`
}

func attrsToWire(l *param.List) []attrWire {
	out := make([]attrWire, 0, l.Len())
	for _, v := range l.All() {
		w := attrWire{Name: v.Name().String(), Type: v.Type(), Count: v.Count()}
		if ss, ok := v.Strings(); ok {
			w.Strings = ss
		} else {
			w.Data = v.Data()
		}
		out = append(out, w)
	}
	return out
}

func attrsFromWire(ws []attrWire) (param.List, error) {
	var l param.List
	for _, w := range ws {
		var v param.Value
		var err error
		if w.Type.Base == typedesc.String {
			v, err = param.Strings(w.Name, w.Type, w.Strings...)
		} else {
			v, err = param.New(w.Name, w.Type, w.Count, w.Data, true)
		}
		if err != nil {
			return param.List{}, fmt.Errorf("attribute %q: %w", w.Name, err)
		}
		l.Append(v)
	}
	return l, nil
}

// MarshalJSON implements json.Marshaler.
func (s ImageSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(specWire{
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
		Attributes:     attrsToWire(&s.Attributes),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *ImageSpec) UnmarshalJSON(b []byte) error {
	var w specWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: spec json: %v", ErrInvalidSpec, err)
	}
	attrs, err := attrsFromWire(w.Attributes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	*s = ImageSpec{
		X: w.X, Y: w.Y, Z: w.Z,
		Width: w.Width, Height: w.Height, Depth: w.Depth,
		FullX: w.FullX, FullY: w.FullY, FullZ: w.FullZ,
		FullWidth: w.FullWidth, FullHeight: w.FullHeight, FullDepth: w.FullDepth,
		TileWidth: w.TileWidth, TileHeight: w.TileHeight, TileDepth: w.TileDepth,
		NChannels:      w.NChannels,
		Format:         w.Format,
		ChannelFormats: w.ChannelFormats,
		ChannelNames:   w.ChannelNames,
		AlphaChannel:   w.AlphaChannel,
		ZChannel:       w.ZChannel,
		Deep:           w.Deep,
		Attributes:     attrs,
	}
	return nil
}

// AttributesToJSON encodes a list in the form plugins receive as config.
func AttributesToJSON(l *param.List) ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(attrsToWire(l))
}

// AttributesFromJSON decodes the output of AttributesToJSON.
func AttributesFromJSON(b []byte) (param.List, error) {
	var ws []attrWire
	if len(b) == 0 {
		return param.List{}, nil
	}
	if err := json.Unmarshal(b, &ws); err != nil {
		return param.List{}, fmt.Errorf("%w: attribute json: %v", ErrInvalidSpec, err)
	}
	return attrsFromWire(ws)
}
