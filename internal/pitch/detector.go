// SPDX-License-Identifier: MIT
package pitch

import (
	"fmt"
	"time"

	"karaoke/internal/analysis"
	"karaoke/internal/config"
)

// NoteEvent reports the dominant pitch of one analyzed frame.
type NoteEvent struct {
	Frequency float64   `json:"frequency"` // Dominant frequency in Hz (bin resolution).
	Magnitude float64   `json:"magnitude"` // Magnitude of the winning bin.
	Note      string    `json:"note"`      // Nearest NoteTable label.
	Cents     float64   `json:"cents"`     // Offset of Frequency from the note, positive when sharp.
	Bin       int       `json:"bin"`       // Winning FFT bin.
	Timestamp time.Time `json:"timestamp"` // Detection time.
}

// Detector finds the strongest bin below Nyquist and labels it.
type Detector struct {
	table      *NoteTable
	confidence float64
	now        func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithConfidence sets the minimum winning magnitude for an event.
func WithConfidence(threshold float64) DetectorOption {
	return func(d *Detector) { d.confidence = threshold }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector returns a detector over table. A nil or empty table is a
// configuration error.
func NewDetector(table *NoteTable, opts ...DetectorOption) (*Detector, error) {
	if table.Len() == 0 {
		return nil, fmt.Errorf("%w: pitch detector needs a non-empty note table", config.ErrConfiguration)
	}
	d := &Detector{
		table:      table,
		confidence: config.DefaultConfidenceThreshold,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.confidence < 0 {
		return nil, fmt.Errorf("%w: confidence threshold must not be negative, got %f", config.ErrConfiguration, d.confidence)
	}
	return d, nil
}

// Detect returns the event for spec, or false when the strongest bin below
// fftSize/2 is under the confidence threshold. Ties resolve to the lowest
// bin. Detect has no side effects.
func (d *Detector) Detect(spec *analysis.Spectrum, sampleRate float64, fftSize int) (NoteEvent, bool) {
	if spec == nil || sampleRate <= 0 || fftSize < 2 {
		return NoteEvent{}, false
	}

	mags := spec.Magnitudes
	end := min(fftSize/2, len(mags))
	if end == 0 {
		return NoteEvent{}, false
	}

	peakBin := 0
	peak := mags[0]
	for bin := 1; bin < end; bin++ {
		if mags[bin] > peak {
			peak = mags[bin]
			peakBin = bin
		}
	}

	if peak < d.confidence || peak == 0 {
		return NoteEvent{}, false
	}

	freq := float64(peakBin) * analysis.BinSize(sampleRate, fftSize)
	note, ok := d.table.Nearest(freq)
	if !ok {
		return NoteEvent{}, false
	}

	return NoteEvent{
		Frequency: freq,
		Magnitude: peak,
		Note:      note.Name,
		Cents:     Cents(freq, note.Frequency),
		Bin:       peakBin,
		Timestamp: d.now(),
	}, true
}

// Table returns the detector's note table.
func (d *Detector) Table() *NoteTable { return d.table }

// Confidence returns the minimum winning magnitude.
func (d *Detector) Confidence() float64 { return d.confidence }
