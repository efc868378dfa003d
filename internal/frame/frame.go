// SPDX-License-Identifier: MIT
/*
Package frame carries captured audio from the real-time callback to the
analysis goroutine.

A Frame is filled by the capture side and treated as immutable once pushed.
The Queue between the two sides is a bounded, lock-free ring with a
drop-oldest overflow policy so that a slow analysis pass never stalls the
callback and pitch output never lags by more than the queue capacity.

Thread Safety:
  - Exactly one producer (Push, Acquire) and one consumer (Pop, Release)
  - No locks, no syscalls; steady-state Push/Acquire do not allocate
*/
package frame

import (
	"errors"
	"time"
)

// ErrOverrun is reported when a push had to evict the oldest queued frame.
// Overruns are counted and logged, never fatal.
var ErrOverrun = errors.New("frame queue overrun")

// Frame is one hardware buffer of normalized samples in [-1, 1].
type Frame struct {
	Samples    []float32 // Interleaved when Channels > 1.
	SampleRate float64   // Source sample rate in Hz.
	Channels   int       // Interleaved channel count.
	Captured   time.Time // Time the callback produced the frame.
	Seq        uint64    // Capture sequence number, gaps indicate drops.
}

// Len returns the number of samples per channel.
func (f *Frame) Len() int {
	if f.Channels <= 1 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Channels
}

// Duration returns the wall-clock length of the frame.
func (f *Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(f.Len()) / f.SampleRate * float64(time.Second))
}

// reset resizes the sample buffer to n, reusing its backing array when it
// is large enough.
func (f *Frame) reset(n int) {
	if cap(f.Samples) >= n {
		f.Samples = f.Samples[:n]
	} else {
		f.Samples = make([]float32, n)
	}
	f.SampleRate = 0
	f.Channels = 0
	f.Captured = time.Time{}
	f.Seq = 0
}
