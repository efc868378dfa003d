// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupportedFormat is returned for sample types the pipeline cannot
// normalize or the capture driver cannot open.
var ErrUnsupportedFormat = errors.New("unsupported sample format")

// SampleFormat is the native representation of captured samples.
type SampleFormat int

const (
	FormatFloat32 SampleFormat = iota
	FormatFloat64
	FormatInt8
	FormatInt16
	FormatInt32
	FormatInt64
	FormatUint8
	FormatUint16
	FormatUint32
	FormatUint64
)

var formatNames = [...]string{
	FormatFloat32: "float32",
	FormatFloat64: "float64",
	FormatInt8:    "int8",
	FormatInt16:   "int16",
	FormatInt32:   "int32",
	FormatInt64:   "int64",
	FormatUint8:   "uint8",
	FormatUint16:  "uint16",
	FormatUint32:  "uint32",
	FormatUint64:  "uint64",
}

func (f SampleFormat) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("SampleFormat(%d)", int(f))
	}
	return formatNames[f]
}

// ParseSampleFormat converts a name such as "int16" to a SampleFormat.
func ParseSampleFormat(name string) (SampleFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return FormatFloat32, nil
	}
	for i, n := range formatNames {
		if n == name {
			return SampleFormat(i), nil
		}
	}
	return FormatFloat32, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// Capturable reports whether PortAudio can deliver samples in this format.
func (f SampleFormat) Capturable() bool {
	switch f {
	case FormatFloat32, FormatInt8, FormatInt16, FormatInt32, FormatUint8:
		return true
	}
	return false
}

// Sample is any native sample type the pipeline accepts.
type Sample interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// scaling returns the mid-scale offset and the factor that maps a sample of
// this format to [-1, 1).
func (f SampleFormat) scaling() (offset, scale float64) {
	switch f {
	case FormatInt8:
		return 0, 1.0 / (1 << 7)
	case FormatInt16:
		return 0, 1.0 / (1 << 15)
	case FormatInt32:
		return 0, 1.0 / (1 << 31)
	case FormatInt64:
		return 0, 1.0 / (1 << 63)
	case FormatUint8:
		return 1 << 7, 1.0 / (1 << 7)
	case FormatUint16:
		return 1 << 15, 1.0 / (1 << 15)
	case FormatUint32:
		return 1 << 31, 1.0 / (1 << 31)
	case FormatUint64:
		return 1 << 63, 1.0 / (1 << 63)
	default:
		return 0, 1
	}
}

// normalize writes one channel of interleaved src into dst as float32 in
// [-1, 1] and returns the number of samples written. It does not allocate.
func normalize[T Sample](dst []float32, src []T, format SampleFormat, channels int) int {
	if channels < 1 {
		channels = 1
	}
	offset, scale := format.scaling()

	n := 0
	for i := 0; i < len(src) && n < len(dst); i += channels {
		v := (float64(src[i]) - offset) * scale
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		case math.IsNaN(v):
			v = 0
		}
		dst[n] = float32(v)
		n++
	}
	return n
}

// Normalize converts src, a slice of any supported native sample type, into
// dst. Integer formats are divided by their full-scale value, unsigned
// formats are first centred on mid-scale, and floating-point input is
// clamped to [-1, 1]. It returns the number of samples written, at most
// min(len(dst), len(src)).
func Normalize(dst []float32, src any) (int, error) {
	switch s := src.(type) {
	case []float32:
		return normalize(dst, s, FormatFloat32, 1), nil
	case []float64:
		return normalize(dst, s, FormatFloat64, 1), nil
	case []int8:
		return normalize(dst, s, FormatInt8, 1), nil
	case []int16:
		return normalize(dst, s, FormatInt16, 1), nil
	case []int32:
		return normalize(dst, s, FormatInt32, 1), nil
	case []int64:
		return normalize(dst, s, FormatInt64, 1), nil
	case []uint8:
		return normalize(dst, s, FormatUint8, 1), nil
	case []uint16:
		return normalize(dst, s, FormatUint16, 1), nil
	case []uint32:
		return normalize(dst, s, FormatUint32, 1), nil
	case []uint64:
		return normalize(dst, s, FormatUint64, 1), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedFormat, src)
	}
}

// FormatOf returns the SampleFormat of a native sample slice.
func FormatOf(src any) (SampleFormat, error) {
	switch src.(type) {
	case []float32:
		return FormatFloat32, nil
	case []float64:
		return FormatFloat64, nil
	case []int8:
		return FormatInt8, nil
	case []int16:
		return FormatInt16, nil
	case []int32:
		return FormatInt32, nil
	case []int64:
		return FormatInt64, nil
	case []uint8:
		return FormatUint8, nil
	case []uint16:
		return FormatUint16, nil
	case []uint32:
		return FormatUint32, nil
	case []uint64:
		return FormatUint64, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnsupportedFormat, src)
	}
}
