// SPDX-License-Identifier: MIT
package recording

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decode reads a finished recording back into PCM integers.
func decode(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	d := wav.NewDecoder(f)
	require.True(t, d.IsValidFile(), "%s is not a valid WAV file", path)
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	return d, buf.Data
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		desc    string
		spec    Spec
		wantErr bool
	}{
		{"default", DefaultSpec(), false},
		{"stereo 24-bit", Spec{Channels: 2, SampleRate: 48000, BitDepth: 24}, false},
		{"8-bit", Spec{Channels: 1, SampleRate: 8000, BitDepth: 8}, false},
		{"zero channels", Spec{Channels: 0, SampleRate: 44100, BitDepth: 16}, true},
		{"zero rate", Spec{Channels: 1, SampleRate: 0, BitDepth: 16}, true},
		{"12-bit", Spec{Channels: 1, SampleRate: 44100, BitDepth: 12}, true},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrFormat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "bad.wav"), Spec{Channels: 1, SampleRate: 44100, BitDepth: 12})
	assert.ErrorIs(t, err, ErrFormat)
	assert.NoFileExists(t, filepath.Join(dir, "bad.wav"), "format errors must not create a file")

	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	_, err = Open(filepath.Join(blocker, "take.wav"), DefaultSpec())
	assert.ErrorIs(t, err, ErrIO)

	_, err = Open("", DefaultSpec())
	assert.ErrorIs(t, err, ErrIO)
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "take.wav")
	s, err := Open(path, DefaultSpec())
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Write([]float32{0.5}))
	require.NoError(t, s.Finalize())
	assert.FileExists(t, path)
}

func TestWriteFinalizeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.wav")
	s, err := Open(path, DefaultSpec())
	require.NoError(t, err)

	require.NoError(t, s.Write([]float32{0, 0.5, -0.5, 1, -1}))
	require.NoError(t, s.Write([]float32{1.5, -1.5, 0.99999}))
	assert.Equal(t, int64(8), s.Frames())
	require.NoError(t, s.Finalize())
	assert.True(t, s.Finalized())

	d, data := decode(t, path)
	assert.Equal(t, uint32(44100), d.SampleRate)
	assert.Equal(t, uint16(16), d.BitDepth)
	assert.Equal(t, uint16(1), d.NumChans)

	// Scale by 32767, truncate toward zero, clamp out-of-range input.
	assert.Equal(t, []int{0, 16383, -16383, 32767, -32767, 32767, -32768, 32766}, data)
}

func TestWriteBitDepths(t *testing.T) {
	tests := []struct {
		bits int
		want []int
	}{
		{8, []int{128, 128 + 63, 128 - 63, 255, 0}},
		{24, []int{0, 4194303, -4194303, 8388607, -8388608}},
		{32, []int{0, 1073741823, -1073741823, 2147483647, -2147483648}},
	}
	for _, tt := range tests {
		path := filepath.Join(t.TempDir(), "depth.wav")
		s, err := Open(path, Spec{Channels: 1, SampleRate: 8000, BitDepth: tt.bits})
		require.NoError(t, err)
		require.NoError(t, s.Write([]float32{0, 0.5, -0.5, 2, -2}))
		require.NoError(t, s.Finalize())

		d, data := decode(t, path)
		assert.Equal(t, uint16(tt.bits), d.BitDepth)
		assert.Equal(t, tt.want, data, "%d-bit", tt.bits)
	}
}

func TestWriteInterleaved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	s, err := Open(path, Spec{Channels: 2, SampleRate: 44100, BitDepth: 16})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Write([]float32{0.1, 0.2, 0.3}), ErrFormat)
	require.NoError(t, s.Write([]float32{0.1, 0.2, 0.3, 0.4}))
	assert.Equal(t, int64(2), s.Frames())
	require.NoError(t, s.Finalize())

	d, data := decode(t, path)
	assert.Equal(t, uint16(2), d.NumChans)
	assert.Len(t, data, 4)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "once.wav")
	s, err := Open(path, DefaultSpec())
	require.NoError(t, err)
	require.NoError(t, s.Write([]float32{0.25}))

	require.NoError(t, s.Finalize())
	assert.ErrorIs(t, s.Finalize(), ErrClosedSink)
	assert.ErrorIs(t, s.Write([]float32{0.25}), ErrClosedSink)
	assert.NoError(t, s.Close(), "Close after Finalize is a no-op")

	_, data := decode(t, path)
	assert.Equal(t, []int{8191}, data)
}

func TestFinalizeEmptyIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wav")
	s, err := Open(path, DefaultSpec())
	require.NoError(t, err)
	require.NoError(t, s.Finalize())

	_, data := decode(t, path)
	assert.Empty(t, data)
}

func TestCloseWithoutFinalize(t *testing.T) {
	t.Run("nothing written leaves no file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "none.wav")
		s, err := Open(path, DefaultSpec())
		require.NoError(t, err)
		require.NoError(t, s.Write(nil))

		require.NoError(t, s.Close())
		assert.NoFileExists(t, path)
		assert.NoError(t, s.Close())
		assert.ErrorIs(t, s.Write([]float32{0.1}), ErrClosedSink)
	})

	t.Run("written data leaves a valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "some.wav")
		s, err := Open(path, DefaultSpec())
		require.NoError(t, err)
		require.NoError(t, s.Write([]float32{0.1, 0.2, 0.3}))

		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
		assert.ErrorIs(t, s.Finalize(), ErrClosedSink)

		_, data := decode(t, path)
		assert.Len(t, data, 3)
	})
}

func TestWriteFailure(t *testing.T) {
	t.Run("before any data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.wav")
		s, err := Open(path, DefaultSpec())
		require.NoError(t, err)

		s.file.Close() // Simulate the device going away.
		err = s.Write([]float32{0.5})
		assert.ErrorIs(t, err, ErrIO)
		assert.NoFileExists(t, path)
		assert.ErrorIs(t, s.Write([]float32{0.5}), ErrClosedSink)
	})

	t.Run("after data", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broken.wav")
		s, err := Open(path, DefaultSpec())
		require.NoError(t, err)
		require.NoError(t, s.Write([]float32{0.5}))

		s.file.Close()
		err = s.Write([]float32{0.5})
		assert.True(t, errors.Is(err, ErrIO))
		assert.NoFileExists(t, path, "an unfinalizable file must not be left behind")
		assert.True(t, s.Finalized())
	})
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.wav")
	s, err := Open(path, DefaultSpec())
	require.NoError(t, err)

	const writers, chunks, chunkLen = 4, 50, 64
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := make([]float32, chunkLen)
			for i := range chunk {
				chunk[i] = float32(w+1) / 10
			}
			for range chunks {
				if err := s.Write(chunk); err != nil {
					t.Errorf("write: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Finalize())

	_, data := decode(t, path)
	require.Len(t, data, writers*chunks*chunkLen)

	// Each chunk must be contiguous: no writer interleaves inside another's call.
	for start := 0; start < len(data); start += chunkLen {
		for i := start + 1; i < start+chunkLen; i++ {
			if data[i] != data[start] {
				t.Fatalf("chunk at %d interleaved: %d vs %d", start, data[i], data[start])
			}
		}
	}
}

func BenchmarkWrite(b *testing.B) {
	s, err := Open(filepath.Join(b.TempDir(), "bench.wav"), DefaultSpec())
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	chunk := make([]float32, 1024)
	for i := range chunk {
		chunk[i] = float32(i%200)/100 - 1
	}

	b.ReportAllocs()
	for b.Loop() {
		if err := s.Write(chunk); err != nil {
			b.Fatal(err)
		}
	}
}
