package imageio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/logicossoftware/go-imageio/typedesc"
	"github.com/x448/float16"
)

var ne = binary.NativeEndian

// ConvertPixels converts n base values from src in srcFormat to dst in
// dstFormat. Integer values are normalized: the full range of an unsigned
// type maps to [0,1] and of a signed type to [-1,1]. Out of range values
// clamp.
func ConvertPixels(dst []byte, dstFormat typedesc.TypeDesc, src []byte, srcFormat typedesc.TypeDesc, n int) error {
	sb, db := srcFormat.Base, dstFormat.Base
	if !numeric(sb) || !numeric(db) {
		return fmt.Errorf("%w: cannot convert %s to %s", ErrInvalidSpec, srcFormat, dstFormat)
	}
	ss, ds := sb.Size(), db.Size()
	if len(src) < n*ss || len(dst) < n*ds {
		return fmt.Errorf("%w: converting %d values", ErrBufferSize, n)
	}
	if sb == db {
		copy(dst[:n*ds], src[:n*ss])
		return nil
	}
	for i := 0; i < n; i++ {
		storeNormalized(db, dst[i*ds:], loadNormalized(sb, src[i*ss:]))
	}
	return nil
}

func numeric(b typedesc.BaseType) bool { return b.IsInteger() || b.IsFloat() }

func maxOf(b typedesc.BaseType) float64 {
	switch b {
	case typedesc.Uint8:
		return math.MaxUint8
	case typedesc.Int8:
		return math.MaxInt8
	case typedesc.Uint16:
		return math.MaxUint16
	case typedesc.Int16:
		return math.MaxInt16
	case typedesc.Uint32:
		return math.MaxUint32
	case typedesc.Int32:
		return math.MaxInt32
	case typedesc.Uint64:
		return math.MaxUint64
	case typedesc.Int64:
		return math.MaxInt64
	}
	return 1
}

func loadNormalized(b typedesc.BaseType, p []byte) float64 {
	switch b {
	case typedesc.Uint8:
		return float64(p[0]) / maxOf(b)
	case typedesc.Int8:
		return math.Max(float64(int8(p[0]))/maxOf(b), -1)
	case typedesc.Uint16:
		return float64(ne.Uint16(p)) / maxOf(b)
	case typedesc.Int16:
		return math.Max(float64(int16(ne.Uint16(p)))/maxOf(b), -1)
	case typedesc.Uint32:
		return float64(ne.Uint32(p)) / maxOf(b)
	case typedesc.Int32:
		return math.Max(float64(int32(ne.Uint32(p)))/maxOf(b), -1)
	case typedesc.Uint64:
		return float64(ne.Uint64(p)) / maxOf(b)
	case typedesc.Int64:
		return math.Max(float64(int64(ne.Uint64(p)))/maxOf(b), -1)
	case typedesc.Half:
		return float64(float16.Frombits(ne.Uint16(p)).Float32())
	case typedesc.Float:
		return float64(math.Float32frombits(ne.Uint32(p)))
	case typedesc.Double:
		return math.Float64frombits(ne.Uint64(p))
	}
	return 0
}

func quantize(v float64, b typedesc.BaseType) float64 {
	lo := 0.0
	if b.IsSigned() {
		lo = -1
	}
	if math.IsNaN(v) {
		v = 0
	}
	v = math.Min(math.Max(v, lo), 1)
	return math.Round(v * maxOf(b))
}

func storeNormalized(b typedesc.BaseType, p []byte, v float64) {
	switch b {
	case typedesc.Uint8:
		p[0] = uint8(quantize(v, b))
	case typedesc.Int8:
		p[0] = uint8(int8(quantize(v, b)))
	case typedesc.Uint16:
		ne.PutUint16(p, uint16(quantize(v, b)))
	case typedesc.Int16:
		ne.PutUint16(p, uint16(int16(quantize(v, b))))
	case typedesc.Uint32:
		ne.PutUint32(p, uint32(quantize(v, b)))
	case typedesc.Int32:
		ne.PutUint32(p, uint32(int32(quantize(v, b))))
	case typedesc.Uint64:
		q := quantize(v, b)
		if q >= math.MaxUint64 {
			ne.PutUint64(p, math.MaxUint64)
		} else {
			ne.PutUint64(p, uint64(q))
		}
	case typedesc.Int64:
		q := quantize(v, b)
		switch {
		case q >= math.MaxInt64:
			ne.PutUint64(p, math.MaxInt64)
		default:
			ne.PutUint64(p, uint64(int64(q)))
		}
	case typedesc.Half:
		ne.PutUint16(p, float16.Fromfloat32(float32(v)).Bits())
	case typedesc.Float:
		ne.PutUint32(p, math.Float32bits(float32(v)))
	case typedesc.Double:
		ne.PutUint64(p, math.Float64bits(v))
	}
}

// convertNative converts npixels pixels between the native layout of s and
// format, in either direction.
func convertNative(s *ImageSpec, dst []byte, src []byte, format typedesc.TypeDesc, npixels int, toNative bool) error {
	if len(s.ChannelFormats) == 0 {
		n := npixels * s.NChannels
		if toNative {
			return ConvertPixels(dst, s.Format, src, format, n)
		}
		return ConvertPixels(dst, format, src, s.Format, n)
	}
	fs := format.Size()
	nativeOff := 0
	userOff := 0
	for p := 0; p < npixels; p++ {
		for c := 0; c < s.NChannels; c++ {
			cf := s.ChannelFormat(c)
			var err error
			if toNative {
				err = ConvertPixels(dst[nativeOff:], cf, src[userOff:], format, 1)
			} else {
				err = ConvertPixels(dst[userOff:], format, src[nativeOff:], cf, 1)
			}
			if err != nil {
				return err
			}
			nativeOff += cf.Size()
			userOff += fs
		}
	}
	return nil
}
