// SPDX-License-Identifier: MIT
/*
Package analysis turns one captured frame into a magnitude spectrum.

Each pass windows the frame (Hamming by default), runs a forward complex FFT
of the configured size and suppresses low-energy bins in the lower half of
the spectrum so that background noise does not win the peak search.
*/
package analysis

import (
	"fmt"
	"math/cmplx"

	"karaoke/internal/config"
	"karaoke/internal/frame"
	"karaoke/internal/log"
	"karaoke/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum is the result of one analysis pass. Bins and Magnitudes have Size
// entries; only the first Size/2 are meaningful for a real input signal.
//
// A Spectrum is owned by the Analyzer that produced it and is overwritten by
// the next Analyze call.
type Spectrum struct {
	Bins       []complex128
	Magnitudes []float64
	SampleRate float64
	Size       int
}

// FrequencyForBin returns the center frequency (Hz) for a given FFT bin index.
func (s *Spectrum) FrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= s.Size {
		return 0
	}
	return float64(bin) * BinSize(s.SampleRate, s.Size)
}

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input  []complex128 // Windowed, zero-padded input.
	window []float64    // Pre-calculated window coefficients.
}

// Analyzer performs windowing, FFT and magnitude thresholding. It is not safe
// for concurrent use; the session runs one per analysis goroutine.
type Analyzer struct {
	fft        *fourier.CmplxFFT
	fftSize    int
	threshold  float64
	windowType WindowFunc
	workspace  fftWorkspace
	spectrum   Spectrum
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithThreshold sets the magnitude at or below which lower-half bins are
// zeroed.
func WithThreshold(threshold float64) Option {
	return func(a *Analyzer) { a.threshold = threshold }
}

// WithWindow selects the window function.
func WithWindow(w WindowFunc) Option {
	return func(a *Analyzer) { a.windowType = w }
}

// Compile-time check.
var _ Processor = (*Analyzer)(nil)

// NewAnalyzer creates an analyzer for fftSize points. fftSize must be a power
// of two of at least 2.
func NewAnalyzer(fftSize int, opts ...Option) (*Analyzer, error) {
	if fftSize < 2 || !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("%w: fft size must be a power of 2, got %d", config.ErrConfiguration, fftSize)
	}

	a := &Analyzer{
		fftSize:    fftSize,
		threshold:  config.DefaultMagnitudeThreshold,
		windowType: Hamming,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.threshold < 0 {
		return nil, fmt.Errorf("%w: magnitude threshold must not be negative, got %f", config.ErrConfiguration, a.threshold)
	}

	a.fft = fourier.NewCmplxFFT(fftSize)
	a.workspace = fftWorkspace{
		input:  make([]complex128, fftSize),
		window: make([]float64, fftSize),
	}
	applyWindow(a.workspace.window, a.windowType)
	a.spectrum = Spectrum{
		Bins:       make([]complex128, fftSize),
		Magnitudes: make([]float64, fftSize),
		Size:       fftSize,
	}

	log.Debugf("Analysis: Initializing Analyzer (Size: %d, Window: %v, Threshold: %.2f)", fftSize, a.windowType, a.threshold)

	return a, nil
}

// Analyze windows f, transforms it and returns the thresholded spectrum.
// Frames shorter than the FFT size are zero-padded, longer ones truncated.
// Interleaved frames are analyzed on their first channel.
func (a *Analyzer) Analyze(f *frame.Frame) *Spectrum {
	n := a.fftSize
	in := a.workspace.input
	win := a.workspace.window

	var samples []float32
	stride := 1
	if f != nil {
		samples = f.Samples
		if f.Channels > 1 {
			stride = f.Channels
		}
		a.spectrum.SampleRate = f.SampleRate
	}

	// --- 1. Window & zero-pad ---
	for i := range n {
		j := i * stride
		if j < len(samples) {
			in[i] = complex(float64(samples[j])*win[i], 0)
		} else {
			in[i] = 0
		}
	}

	// --- 2. FFT ---
	bins := a.fft.Coefficients(a.spectrum.Bins, in)

	// --- 3. Threshold the lower half in the complex domain ---
	mags := a.spectrum.Magnitudes
	half := n / 2
	for i := range half {
		if cmplx.Abs(bins[i]) <= a.threshold {
			bins[i] = 0
		}
	}

	// --- 4. Magnitudes of the thresholded bins ---
	for i, c := range bins {
		mags[i] = cmplx.Abs(c)
	}

	return &a.spectrum
}

// FFTSize returns the configured FFT size.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// Threshold returns the configured magnitude threshold.
func (a *Analyzer) Threshold() float64 { return a.threshold }

// WindowType returns the configured window function.
func (a *Analyzer) WindowType() WindowFunc { return a.windowType }
