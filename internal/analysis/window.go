// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"strings"

	"karaoke/internal/config"

	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
	Rectangular
	BlackmanHarris
	FlatTop
	Sine
	Triangular
)

var windowNames = [...]string{
	BartlettHann:    "BartlettHann",
	Blackman:        "Blackman",
	BlackmanNuttall: "BlackmanNuttall",
	Hann:            "Hann",
	Hamming:         "Hamming",
	Lanczos:         "Lanczos",
	Nuttall:         "Nuttall",
	Rectangular:     "Rectangular",
	BlackmanHarris:  "BlackmanHarris",
	FlatTop:         "FlatTop",
	Sine:            "Sine",
	Triangular:      "Triangular",
}

func (w WindowFunc) String() string {
	if w < 0 || int(w) >= len(windowNames) {
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
	return windowNames[w]
}

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc.
// Unknown names return Hamming and an error wrapping config.ErrConfiguration.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "", "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	case "rectangular", "none":
		return Rectangular, nil
	case "blackmanharris":
		return BlackmanHarris, nil
	case "flattop":
		return FlatTop, nil
	case "sine":
		return Sine, nil
	case "triangular", "bartlett":
		return Triangular, nil
	default:
		return Hamming, fmt.Errorf("%w: unknown FFT window function name: '%s'", config.ErrConfiguration, name)
	}
}

// Window returns the n Hamming coefficients 0.54 - 0.46*cos(2*pi*i/(n-1)).
func Window(n int) []float64 {
	coeffs := make([]float64, n)
	applyWindow(coeffs, Hamming)
	return coeffs
}

// BinSize returns the frequency width of one FFT bin in Hz.
func BinSize(sampleRate float64, fftSize int) float64 {
	if fftSize <= 0 {
		return 0
	}
	return sampleRate / float64(fftSize)
}

// applyWindow fills coeffs with the selected window. A single coefficient is
// always 1 since the symmetric formulas divide by n-1.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// The gonum window funcs scale in place, so start from ones.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	if len(coeffs) < 2 {
		return
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	case Rectangular:
		window.Rectangular(coeffs)
	case BlackmanHarris:
		window.BlackmanHarris(coeffs)
	case FlatTop:
		window.FlatTop(coeffs)
	case Sine:
		window.Sine(coeffs)
	case Triangular:
		window.Triangular(coeffs)
	default:
		hamming(coeffs)
	}
}

// hamming scales coeffs (all ones) to the classic 0.54/0.46 Hamming window.
// gonum's Hamming uses the 25/46 variant, so it is derived from Hann instead:
// 0.54 - 0.46*cos(x) == 0.08 + 0.92*(0.5 - 0.5*cos(x)).
func hamming(coeffs []float64) {
	window.Hann(coeffs)
	for i, w := range coeffs {
		coeffs[i] = 0.08 + 0.92*w
	}
}
