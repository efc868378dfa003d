// SPDX-License-Identifier: MIT
/*
Package transport publishes NoteEvents to observers outside the analysis
goroutine: the log, WebSocket clients and UDP listeners.

Send is called from the analysis loop once per detected note, so
implementations must not block on slow peers. A transport that cannot keep
up drops events rather than delaying analysis.
*/
package transport

import (
	"errors"
	"sync"

	"karaoke/internal/log"
	"karaoke/internal/pitch"
)

// Transport receives note events. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ev pitch.NoteEvent) error
	Close() error
}

// Func adapts a plain function to a Transport with a no-op Close.
type Func func(ev pitch.NoteEvent) error

// Send calls f(ev).
func (f Func) Send(ev pitch.NoteEvent) error { return f(ev) }

// Close does nothing.
func (f Func) Close() error { return nil }

// Fanout delivers every event to each of its transports. A failing
// transport does not prevent delivery to the others.
type Fanout struct {
	mu         sync.RWMutex
	transports []Transport
	closed     bool
}

// NewFanout returns a Fanout over the non-nil transports.
func NewFanout(transports ...Transport) *Fanout {
	f := &Fanout{}
	for _, t := range transports {
		if t != nil {
			f.transports = append(f.transports, t)
		}
	}
	return f
}

// Add registers another transport. It is ignored after Close.
func (f *Fanout) Add(t Transport) {
	if t == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.transports = append(f.transports, t)
	}
}

// Len returns the number of registered transports.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.transports)
}

// Send delivers ev to every transport and joins their errors.
func (f *Fanout) Send(ev pitch.NoteEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil
	}
	var errs []error
	for _, t := range f.transports {
		if err := t.Send(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every transport once.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for _, t := range f.transports {
		if err := t.Close(); err != nil {
			log.Warnf("Transport: close %T: %v", t, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Transport = Func(nil)
	_ Transport = (*Fanout)(nil)
)
