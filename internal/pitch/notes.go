// SPDX-License-Identifier: MIT
/*
Package pitch resolves the dominant peak of a spectrum to a musical note.

The NoteTable is immutable once built and may be shared by any number of
goroutines without synchronization. The Detector itself holds no mutable
state, so one instance can also be shared.
*/
package pitch

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"karaoke/internal/config"
)

// Reference tuning.
const (
	ConcertA     = 440.0 // A4 in Hz.
	concertAMIDI = 69

	lowestMIDI  = 48 // C3
	highestMIDI = 79 // G5
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Note is one labelled entry of a NoteTable.
type Note struct {
	Name      string  // e.g. "A4", "C#3".
	Frequency float64 // Canonical frequency in Hz.
}

// NoteTable maps note labels to canonical frequencies. Entries are kept
// sorted by frequency.
type NoteTable struct {
	notes []Note
}

// DefaultNoteTable returns the process-wide C3-G5 table in A4 = 440 Hz equal
// temperament. It is built on first use.
var DefaultNoteTable = sync.OnceValue(func() *NoteTable {
	notes := make([]Note, 0, highestMIDI-lowestMIDI+1)
	for midi := lowestMIDI; midi <= highestMIDI; midi++ {
		notes = append(notes, Note{Name: midiName(midi), Frequency: midiFrequency(midi)})
	}
	return &NoteTable{notes: notes}
})

// NewNoteTable builds a table from label/frequency pairs. An empty table or
// a non-positive frequency is a configuration error.
func NewNoteTable(entries map[string]float64) (*NoteTable, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: note table is empty", config.ErrConfiguration)
	}

	notes := make([]Note, 0, len(entries))
	for name, hz := range entries {
		if !(hz > 0) || math.IsInf(hz, 0) {
			return nil, fmt.Errorf("%w: note %q has invalid frequency %v", config.ErrConfiguration, name, hz)
		}
		notes = append(notes, Note{Name: name, Frequency: hz})
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Frequency == notes[j].Frequency {
			return notes[i].Name < notes[j].Name
		}
		return notes[i].Frequency < notes[j].Frequency
	})
	return &NoteTable{notes: notes}, nil
}

// Len returns the number of entries.
func (t *NoteTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.notes)
}

// Notes returns a copy of the entries in ascending frequency order.
func (t *NoteTable) Notes() []Note {
	if t == nil {
		return nil
	}
	out := make([]Note, len(t.notes))
	copy(out, t.notes)
	return out
}

// Lookup returns the frequency for a label.
func (t *NoteTable) Lookup(name string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	for _, n := range t.notes {
		if n.Name == name {
			return n.Frequency, true
		}
	}
	return 0, false
}

// Nearest returns the entry with the smallest absolute frequency difference
// to hz. An exact tie between two neighbours resolves to the lower one.
func (t *NoteTable) Nearest(hz float64) (Note, bool) {
	if t.Len() == 0 || math.IsNaN(hz) {
		return Note{}, false
	}

	notes := t.notes
	i := sort.Search(len(notes), func(i int) bool { return notes[i].Frequency >= hz })
	switch {
	case i == 0:
		return notes[0], true
	case i == len(notes):
		return notes[len(notes)-1], true
	}

	lower, upper := notes[i-1], notes[i]
	if upper.Frequency-hz < hz-lower.Frequency {
		return upper, true
	}
	return lower, true
}

// Cents returns the offset of hz from ref in cents, positive when sharp.
func Cents(hz, ref float64) float64 {
	if hz <= 0 || ref <= 0 {
		return 0
	}
	return 1200 * math.Log2(hz/ref)
}

func midiFrequency(midi int) float64 {
	return ConcertA * math.Pow(2, float64(midi-concertAMIDI)/12)
}

func midiName(midi int) string {
	return fmt.Sprintf("%s%d", noteNames[midi%12], midi/12-1)
}
