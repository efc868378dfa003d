// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// Gate is a peak-level noise gate. Frames whose absolute peak does not exceed
// the threshold are considered closed and skip pitch detection; they are
// still recorded. Safe for concurrent use: the tuner adjusts the threshold
// while the analysis goroutine reads it.
type Gate struct {
	enabled   atomic.Bool
	threshold atomic.Uint32 // float32 bits, 0.0-1.0
}

// NewGate returns a gate with the given threshold. A zero threshold leaves
// the gate disabled.
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.SetThreshold(threshold)
	g.enabled.Store(threshold > 0)
	return g
}

// Enable turns the gate on at its current threshold.
func (g *Gate) Enable() {
	g.enabled.Store(true)
}

// Disable lets every frame through.
func (g *Gate) Disable() {
	g.enabled.Store(false)
}

// Enabled reports whether the gate filters frames.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// SetThreshold adjusts the noise gate threshold.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}

	g.threshold.Store(math.Float32bits(float32(threshold)))
}

// Threshold returns the current noise gate threshold as a float64.
// The value is in the range of 0.0-1.0 where 0=always open, 1=always closed.
func (g *Gate) Threshold() float64 {
	return float64(math.Float32frombits(g.threshold.Load()))
}

// Open reports whether samples pass the gate. A disabled gate is always open.
func (g *Gate) Open(samples []float32) bool {
	if g == nil || !g.enabled.Load() {
		return true
	}
	return Peak(samples) > float32(g.Threshold())
}

// Peak returns the largest absolute sample value.
func Peak(samples []float32) float32 {
	var peak float32
	for _, s := range samples {
		// Clearing the sign bit is abs without a branch.
		a := math.Float32frombits(math.Float32bits(s) &^ (1 << 31))
		if a > peak {
			peak = a
		}
	}
	return peak
}

// RMS returns the root mean square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquare float64
	for _, s := range samples {
		sumSquare += float64(s) * float64(s)
	}
	return math.Sqrt(sumSquare / float64(len(samples)))
}
