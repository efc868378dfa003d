// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"strconv"
	"sync"
	"testing"

	"karaoke/pkg/utils"
)

var (
	quietBuffer = utils.GenerateSineWave(1024, 44100, 440, 0.001)
	loudBuffer  = utils.GenerateSineWave(1024, 44100, 440, 0.9)
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestGateEnableHotPath(t *testing.T) {
	gate := NewGate(0)

	if gate.Enabled() {
		t.Error("Gate should be disabled initially")
	}

	gate.Enable()
	if !gate.Enabled() {
		t.Error("Gate should be enabled after Enable()")
	}

	gate.Disable()
	if gate.Enabled() {
		t.Error("Gate should be disabled after Disable()")
	}

	gate.Enable()
	gate.Enable() // Multiple calls should be idempotent
	if !gate.Enabled() {
		t.Error("Gate should remain enabled after multiple Enable()")
	}

	if !NewGate(0.2).Enabled() {
		t.Error("A positive threshold should enable the gate")
	}
}

func TestGateThresholdBoundaries(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{-0.1, 0.0}, // Below min
		{0.0, 0.0},  // Minimum
		{0.5, 0.5},  // Middle
		{1.0, 1.0},  // Maximum
		{1.5, 1.0},  // Above max
		{math.NaN(), 0.0},
	}

	gate := NewGate(0)
	for _, tt := range tests {
		t.Run(formatFloat(tt.input), func(t *testing.T) {
			gate.SetThreshold(tt.input)
			if got := gate.Threshold(); math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("Gate threshold conversion: got %.3f, want %.3f", got, tt.expected)
			}
		})
	}
}

func TestGateOpen(t *testing.T) {
	tests := []struct {
		desc      string
		buffer    []float32
		enabled   bool
		threshold float64
		open      bool
	}{
		{"Gate disabled/Quiet signal", quietBuffer, false, 0.1, true},
		{"Gate disabled/Loud signal", loudBuffer, false, 0.1, true},
		{"Gate enabled/Quiet signal/Low threshold", quietBuffer, true, 0.0001, true},
		{"Gate enabled/Quiet signal/Mid threshold", quietBuffer, true, 0.1, false},
		{"Gate enabled/Loud signal/Mid threshold", loudBuffer, true, 0.1, true},
		{"Gate enabled/Loud signal/High threshold", loudBuffer, true, 0.999, false},
		{"Gate enabled/Silence", make([]float32, 64), true, 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			gate := NewGate(tt.threshold)
			if tt.enabled {
				gate.Enable()
			} else {
				gate.Disable()
			}
			if got := gate.Open(tt.buffer); got != tt.open {
				t.Errorf("Open() = %v, want %v (peak %.4f, threshold %.4f)", got, tt.open, Peak(tt.buffer), gate.Threshold())
			}
		})
	}

	var nilGate *Gate
	if !nilGate.Open(quietBuffer) {
		t.Error("nil gate must be open")
	}
}

func TestPeakAndRMS(t *testing.T) {
	samples := []float32{0.25, -0.75, 0.5, -0.1}
	if got := Peak(samples); got != 0.75 {
		t.Errorf("Peak = %v, want 0.75", got)
	}
	if Peak(nil) != 0 || RMS(nil) != 0 {
		t.Error("empty buffers should have zero level")
	}

	square := []float32{0.5, -0.5, 0.5, -0.5}
	if got := RMS(square); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
}

func TestGateConcurrentThreshold(t *testing.T) {
	gate := NewGate(0.5)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			gate.SetThreshold(float64(i%10) / 10)
		}
	}()
	go func() {
		defer wg.Done()
		for range 1000 {
			gate.Open(loudBuffer)
		}
	}()
	wg.Wait()
}

func TestGateNoAllocsHotPath(t *testing.T) {
	gate := NewGate(0.1)
	allocs := testing.AllocsPerRun(100, func() {
		_ = gate.Open(loudBuffer)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in gate hot path, got %.1f", allocs)
	}
}

func BenchmarkGateProcessingHotPath(b *testing.B) {
	benchmarks := []struct {
		name      string
		buffer    []float32
		threshold float64
	}{
		{"Quiet signal/Low threshold", quietBuffer, 0.0001},
		{"Loud signal/High threshold", loudBuffer, 0.999},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			gate := NewGate(bm.threshold)
			b.ReportAllocs()
			for b.Loop() {
				_ = gate.Open(bm.buffer)
			}
		})
	}
}
