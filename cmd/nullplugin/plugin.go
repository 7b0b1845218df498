package main

import (
	"encoding/json"
	"fmt"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/formats/null"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// instance is one reader or writer created through the C ABI. Calls
// return 1 on success and 0 on failure, keeping the message for geterror.
type instance struct {
	r    *null.Reader
	w    *null.Writer
	spec imageio.ImageSpec
	err  string
}

func newInput() *instance  { return &instance{r: &null.Reader{}} }
func newOutput() *instance { return &instance{w: &null.Writer{}} }

func (in *instance) result(err error) int32 {
	if err != nil {
		in.err = err.Error()
		return 0
	}
	return 1
}

// takeError returns and clears the last failure message.
func (in *instance) takeError() string {
	e := in.err
	in.err = ""
	return e
}

func (in *instance) supports(feature string) bool {
	if in.r != nil {
		return in.r.Supports(feature)
	}
	return in.w.Supports(feature)
}

func (in *instance) close() int32 {
	if in.r != nil {
		return in.result(in.r.Close())
	}
	return in.result(in.w.Close())
}

func (in *instance) open(name, configJSON string) int32 {
	if in.r == nil {
		return in.result(fmt.Errorf("%w: not a reader", imageio.ErrState))
	}
	cfg, err := imageio.AttributesFromJSON([]byte(configJSON))
	if err != nil {
		return in.result(err)
	}
	spec, err := in.r.Open(name, &cfg)
	if err != nil {
		return in.result(err)
	}
	in.spec = spec
	return 1
}

func (in *instance) specJSON() string {
	b, err := json.Marshal(in.spec)
	if err != nil {
		in.err = err.Error()
		return ""
	}
	return string(b)
}

func (in *instance) checkBuffer(buf []byte, need int) error {
	if len(buf) < need {
		return fmt.Errorf("%w: %d bytes, need %d", imageio.ErrBufferSize, len(buf), need)
	}
	return nil
}

func (in *instance) readScanline(y, z int, buf []byte) int32 {
	if in.r == nil {
		return in.result(fmt.Errorf("%w: not a reader", imageio.ErrState))
	}
	if err := in.checkBuffer(buf, in.spec.ScanlineBytes(typedesc.TypeUnknown)); err != nil {
		return in.result(err)
	}
	return in.result(in.r.ReadNativeScanline(y, z, buf))
}

func (in *instance) readTile(x, y, z int, buf []byte) int32 {
	if in.r == nil {
		return in.result(fmt.Errorf("%w: not a reader", imageio.ErrState))
	}
	if err := in.checkBuffer(buf, in.spec.TileBytes(typedesc.TypeUnknown)); err != nil {
		return in.result(err)
	}
	return in.result(in.r.ReadNativeTile(x, y, z, buf))
}

func (in *instance) openOutput(name, specJSON string, mode int32) int32 {
	if in.w == nil {
		return in.result(fmt.Errorf("%w: not a writer", imageio.ErrState))
	}
	var spec imageio.ImageSpec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return in.result(fmt.Errorf("%w: %v", imageio.ErrInvalidSpec, err))
	}
	spec, err := in.w.Open(name, spec, imageio.OpenMode(mode))
	if err != nil {
		return in.result(err)
	}
	in.spec = spec
	return 1
}

func (in *instance) writeScanline(y, z int, _ []byte) int32 {
	if in.w == nil {
		return in.result(fmt.Errorf("%w: not a writer", imageio.ErrState))
	}
	return in.result(in.w.WriteNativeScanline(y, z, nil))
}

func (in *instance) writeTile(x, y, z int, _ []byte) int32 {
	if in.w == nil {
		return in.result(fmt.Errorf("%w: not a writer", imageio.ErrState))
	}
	return in.result(in.w.WriteNativeTile(x, y, z, nil))
}
