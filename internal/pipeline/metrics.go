// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all session metrics.
const meterName = "karaoke/internal/pipeline"

// Metrics holds the session instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// FramesAnalyzed counts frames that went through the analyzer.
	FramesAnalyzed metric.Int64Counter

	// FramesDropped counts frames evicted from the queue by overruns.
	FramesDropped metric.Int64Counter

	// FramesGated counts frames the noise gate kept from the analyzer.
	FramesGated metric.Int64Counter

	// NoteEvents counts detections. Use with attribute.String("note", ...).
	NoteEvents metric.Int64Counter

	// SamplesRecorded counts samples handed to the recording sink.
	SamplesRecorded metric.Int64Counter

	// Errors counts session faults. Use with attribute.String("kind", ...).
	Errors metric.Int64Counter

	// AnalysisDuration tracks analyze plus detect time per frame.
	AnalysisDuration metric.Float64Histogram

	// ActiveSessions tracks running sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// analysisBuckets are in seconds; a 1024-sample frame at 44.1 kHz lasts
// about 23ms.
var analysisBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesAnalyzed, err = m.Int64Counter("karaoke.frames.analyzed",
		metric.WithDescription("Frames passed through spectral analysis."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("karaoke.frames.dropped",
		metric.WithDescription("Frames evicted by queue overruns."),
	); err != nil {
		return nil, err
	}
	if met.FramesGated, err = m.Int64Counter("karaoke.frames.gated",
		metric.WithDescription("Frames below the noise gate."),
	); err != nil {
		return nil, err
	}
	if met.NoteEvents, err = m.Int64Counter("karaoke.note.events",
		metric.WithDescription("Detected notes by label."),
	); err != nil {
		return nil, err
	}
	if met.SamplesRecorded, err = m.Int64Counter("karaoke.samples.recorded",
		metric.WithDescription("Samples written to the recording."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("karaoke.errors",
		metric.WithDescription("Session faults by kind."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("karaoke.analysis.duration",
		metric.WithDescription("Time to analyze one frame and detect its pitch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("karaoke.active_sessions",
		metric.WithDescription("Number of running sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a shared instance on the global meter provider.
// Call it after InitProvider so the instruments reach the exporter.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("pipeline: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordNote counts one detection of note.
func (m *Metrics) RecordNote(ctx context.Context, note string) {
	m.NoteEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("note", note)))
}

// RecordError counts one fault of the given kind ("stream", "sink",
// "transport").
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
