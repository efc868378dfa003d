// SPDX-License-Identifier: MIT
package analysis

import "karaoke/internal/frame"

// Processor is the standard interface for components that turn a captured
// frame into a spectrum. The session depends on this rather than on
// *Analyzer so alternate analyzers can be injected.
type Processor interface {
	// Analyze must not retain f after returning. The returned Spectrum is
	// only valid until the next call.
	Analyze(f *frame.Frame) *Spectrum
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(f *frame.Frame) *Spectrum

// Analyze calls fn(f).
func (fn ProcessorFunc) Analyze(f *frame.Frame) *Spectrum { return fn(f) }
