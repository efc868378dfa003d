// SPDX-License-Identifier: MIT
/*
Package recording writes captured audio to an uncompressed WAV file.

A Sink moves through two states, open and finalized. Finalize writes the
container header lengths, syncs and closes the file, and runs exactly once.
Owners defer Close so that a session ending abnormally still leaves either a
valid file (something was written) or no file at all (nothing was).

Every method takes the sink's mutex, so concurrent writers never interleave
samples within one call.
*/
package recording

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"karaoke/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var (
	// ErrIO marks a failure of the underlying file.
	ErrIO = errors.New("recording I/O error")
	// ErrFormat marks a Spec the WAV container cannot represent.
	ErrFormat = errors.New("unsupported recording format")
	// ErrClosedSink is returned by any call after Finalize.
	ErrClosedSink = errors.New("recording sink is closed")
)

// wavFormatPCM is the WAVE_FORMAT_PCM tag.
const wavFormatPCM = 1

// Spec describes the PCM layout of a recording.
type Spec struct {
	Channels   int
	SampleRate int
	BitDepth   int
}

// DefaultSpec is mono, 44100 Hz, 16-bit signed PCM.
func DefaultSpec() Spec {
	return Spec{Channels: 1, SampleRate: 44100, BitDepth: 16}
}

// Validate reports whether the WAV container can hold s.
func (s Spec) Validate() error {
	if s.Channels < 1 || s.Channels > math.MaxUint16 {
		return fmt.Errorf("%w: channels must be in [1, %d], got %d", ErrFormat, math.MaxUint16, s.Channels)
	}
	if s.SampleRate <= 0 || s.SampleRate > math.MaxUint32 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrFormat, s.SampleRate)
	}
	switch s.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth must be 8, 16, 24 or 32, got %d", ErrFormat, s.BitDepth)
	}
	return nil
}

// maxAmplitude returns the largest positive sample value, 2^(bits-1)-1.
func (s Spec) maxAmplitude() float64 {
	return float64(int64(1)<<(s.BitDepth-1) - 1)
}

// Sink is a single WAV file being recorded.
type Sink struct {
	mu        sync.Mutex
	path      string
	spec      Spec
	file      *os.File
	enc       *wav.Encoder
	buf       *audio.IntBuffer // Reused conversion buffer.
	frames    int64
	finalized bool
}

// Open creates the file at path, including missing parent directories.
func Open(path string, spec Spec) (*Sink, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty output path", ErrIO)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory %s: %w", ErrIO, dir, err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	log.Debugf("Recording: Opened %s (%d ch, %d Hz, %d-bit)", path, spec.Channels, spec.SampleRate, spec.BitDepth)

	return &Sink{
		path: path,
		spec: spec,
		file: file,
		enc:  wav.NewEncoder(file, spec.SampleRate, spec.BitDepth, spec.Channels, wavFormatPCM),
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: spec.Channels,
				SampleRate:  spec.SampleRate,
			},
			SourceBitDepth: spec.BitDepth,
		},
	}, nil
}

// Write appends interleaved samples in [-1, 1]. Each sample is scaled by the
// maximum amplitude of the bit depth and truncated toward zero; values
// outside the range are clamped. A failing write finalizes what was already
// recorded (or removes the file if nothing was) and returns ErrIO.
func (s *Sink) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrClosedSink
	}
	if len(samples) == 0 {
		return nil
	}
	if len(samples)%s.spec.Channels != 0 {
		return fmt.Errorf("%w: %d samples is not a whole number of %d-channel frames", ErrFormat, len(samples), s.spec.Channels)
	}

	s.buf.Data = s.convert(s.buf.Data[:0], samples)
	if err := s.enc.Write(s.buf); err != nil {
		writeErr := fmt.Errorf("%w: write %s: %w", ErrIO, s.path, err)
		if cerr := s.abortLocked(); cerr != nil {
			return errors.Join(writeErr, cerr)
		}
		return writeErr
	}
	s.frames += int64(len(samples) / s.spec.Channels)
	return nil
}

// convert appends the PCM integer form of samples to dst.
func (s *Sink) convert(dst []int, samples []float32) []int {
	maxAmp := s.spec.maxAmplitude()
	minAmp := -maxAmp - 1
	for _, sample := range samples {
		v := float64(sample) * maxAmp
		switch {
		case math.IsNaN(v):
			v = 0
		case v > maxAmp:
			v = maxAmp
		case v < minAmp:
			v = minAmp
		}
		iv := int(v) // Truncates toward zero.
		if s.spec.BitDepth == 8 {
			// 8-bit WAV is unsigned with 128 as silence.
			iv += 128
		}
		dst = append(dst, iv)
	}
	return dst
}

// Finalize writes the header lengths, syncs and closes the file. It runs
// once; every later call returns ErrClosedSink.
func (s *Sink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrClosedSink
	}
	return s.finalizeLocked()
}

// Close finalizes the sink if samples were written and removes the file if
// none were. It is a no-op after Finalize and safe to call repeatedly.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil
	}
	if s.frames > 0 {
		return s.finalizeLocked()
	}
	return s.discardLocked()
}

func (s *Sink) finalizeLocked() error {
	s.finalized = true

	var errs []error
	if s.frames == 0 {
		// The encoder writes its header lazily; force an empty data chunk so
		// the file is still a valid WAV.
		s.buf.Data = s.buf.Data[:0]
		if err := s.enc.Write(s.buf); err != nil {
			errs = append(errs, fmt.Errorf("%w: write header: %w", ErrIO, err))
		}
	}
	if err := s.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: finalize header: %w", ErrIO, err))
	}
	if err := s.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("%w: sync: %w", ErrIO, err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %w", ErrIO, err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Debugf("Recording: Finalized %s (%d frames)", s.path, s.frames)
	return nil
}

func (s *Sink) discardLocked() error {
	s.finalized = true

	closeErr := s.file.Close()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove empty recording: %w", ErrIO, err)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: close: %w", ErrIO, closeErr)
	}
	log.Debugf("Recording: Removed empty %s", s.path)
	return nil
}

// abortLocked ends the sink after a failed write.
func (s *Sink) abortLocked() error {
	if s.frames > 0 {
		if err := s.finalizeLocked(); err == nil {
			return nil
		}
	}
	if !s.finalized {
		return s.discardLocked()
	}
	// Finalizing failed, so the file cannot be trusted.
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove partial recording: %w", ErrIO, err)
	}
	return nil
}

// Frames returns the number of frames written so far.
func (s *Sink) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Path returns the output path.
func (s *Sink) Path() string { return s.path }

// Spec returns the PCM layout.
func (s *Sink) Spec() Spec { return s.spec }

// Finalized reports whether the sink has been finalized or discarded.
func (s *Sink) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}
