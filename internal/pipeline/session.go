// SPDX-License-Identifier: MIT
/*
Package pipeline runs one pitch tracking session: frames flow from a capture
source through the queue to the analysis goroutine, which detects notes,
publishes them and appends the audio to the recording.

Lifecycle:
  - New validates everything and touches no device or file
  - Start opens the recording, starts the source and the analysis loop
  - Stop (or ctx cancellation, or the max duration) ends capture, drains the
    queue and finalizes the recording exactly once
  - A stream fault ends the session the same way and is returned by Wait

Overruns are counted and logged, never fatal. A recording failure stops the
session; the file is left finalized or removed by the sink.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"karaoke/internal/analysis"
	"karaoke/internal/audio"
	"karaoke/internal/config"
	"karaoke/internal/frame"
	"karaoke/internal/log"
	"karaoke/internal/pitch"
	"karaoke/internal/recording"
	"karaoke/internal/transport"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrNotStarted is returned by Wait on a session that never started.
	ErrNotStarted = errors.New("session not started")
)

// overrunLogInterval rate-limits queue overrun warnings.
const overrunLogInterval = time.Second

// Source produces frames into the session queue. audio.Capture is the
// production implementation.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Errors() <-chan error
}

// SourceFactory builds the source once the session queue exists.
type SourceFactory func(queue *frame.Queue) (Source, error)

// Recorder receives the session audio. *recording.Sink implements it.
type Recorder interface {
	Write(samples []float32) error
	Close() error
	Frames() int64
}

// RecorderFactory opens the recording at path when the session starts.
type RecorderFactory func(path string, spec recording.Spec) (Recorder, error)

func openSink(path string, spec recording.Spec) (Recorder, error) {
	sink, err := recording.Open(path, spec)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Deps are the collaborators of a session. Every field is optional.
type Deps struct {
	// Source feeds the queue. Without one, frames arrive only via Ingest.
	Source SourceFactory

	// Processor replaces the configured Analyzer. Its spectra must have
	// cfg.Analysis.FFTSize bins.
	Processor analysis.Processor

	// Recorder defaults to a WAV sink.
	Recorder RecorderFactory

	// Transport receives every note event.
	Transport transport.Transport

	// Metrics defaults to a no-op meter.
	Metrics *Metrics

	// Gate defaults to one built from analysis.gate_threshold.
	Gate *audio.Gate

	// Clock stamps note events and generated file names.
	Clock func() time.Time
}

// Stats is a snapshot of session counters.
type Stats struct {
	Frames  uint64 // Frames analyzed.
	Gated   uint64 // Frames skipped by the gate.
	Notes   uint64 // Note events emitted.
	Dropped uint64 // Frames lost to overruns.
	Samples int64  // Frames written to the recording.
}

// Session is one capture/analysis/recording run.
type Session struct {
	id        string
	cfg       config.Config
	queue     *frame.Queue
	analyzer  *analysis.Analyzer
	processor analysis.Processor
	detector  *pitch.Detector
	gate      *audio.Gate
	transport transport.Transport
	metrics   *Metrics
	now       func() time.Time
	source    Source
	newSource SourceFactory

	recordSpec recording.Spec
	recordPath string
	openSink   RecorderFactory
	sink       Recorder
	sinkFailed bool // Analysis goroutine, then finisher.

	ingestSeq uint64 // Ingest is the producer when there is no source.

	frames atomic.Uint64
	gated  atomic.Uint64
	notes  atomic.Uint64

	lastDropped   uint64
	lastOverrunAt time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	errs    chan error
	err     error
}

// New validates cfg and builds the session. Every failure wraps
// config.ErrConfiguration (or recording.ErrFormat for the WAV layout) and
// happens before any audio or file I/O.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", config.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	queue, err := frame.NewQueue(cfg.Audio.QueueCapacity)
	if err != nil {
		return nil, err
	}

	window, err := analysis.ParseWindowFunc(cfg.Analysis.Window)
	if err != nil {
		return nil, err
	}
	analyzer, err := analysis.NewAnalyzer(cfg.Analysis.FFTSize,
		analysis.WithThreshold(cfg.Analysis.MagnitudeThreshold),
		analysis.WithWindow(window),
	)
	if err != nil {
		return nil, err
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	detector, err := pitch.NewDetector(pitch.DefaultNoteTable(),
		pitch.WithConfidence(cfg.Analysis.ConfidenceThreshold),
		pitch.WithClock(now),
	)
	if err != nil {
		return nil, err
	}

	spec := recording.Spec{
		Channels:   1,
		SampleRate: int(cfg.Audio.SampleRate),
		BitDepth:   cfg.Recording.BitDepth,
	}
	if cfg.Recording.Enabled {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}

	metrics := deps.Metrics
	if metrics == nil {
		if metrics, err = NewMetrics(noop.NewMeterProvider()); err != nil {
			return nil, err
		}
	}
	var processor analysis.Processor = analyzer
	if deps.Processor != nil {
		processor = deps.Processor
	}
	opener := deps.Recorder
	if opener == nil {
		opener = openSink
	}
	gate := deps.Gate
	if gate == nil {
		gate = audio.NewGate(cfg.Analysis.GateThreshold)
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        *cfg,
		queue:      queue,
		analyzer:   analyzer,
		processor:  processor,
		detector:   detector,
		gate:       gate,
		transport:  deps.Transport,
		metrics:    metrics,
		now:        now,
		newSource:  deps.Source,
		recordSpec: spec,
		openSink:   opener,
		done:       make(chan struct{}),
		errs:       make(chan error, 1),
	}
	return s, nil
}

// outputPath is the configured file, or a name in the output directory
// stamped with the start time.
func (s *Session) outputPath() string {
	if s.cfg.Recording.OutputFile != "" {
		return s.cfg.Recording.OutputFile
	}
	name := fmt.Sprintf("recording-%s-%s.%s",
		s.now().UTC().Format("20060102-150405"), s.id[:8], config.DefaultFormat)
	return filepath.Join(s.cfg.Recording.OutputDir, name)
}

// ID identifies the session in logs and file names.
func (s *Session) ID() string { return s.id }

// RecordingPath is the WAV file of the session. It is empty before Start and
// when recording is off.
func (s *Session) RecordingPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordPath
}

// Gate exposes the noise gate for live threshold changes.
func (s *Session) Gate() *audio.Gate { return s.gate }

// Queue exposes the frame queue for sources built outside the session.
func (s *Session) Queue() *frame.Queue { return s.queue }

// Start opens the recording, starts the source and launches the analysis
// loop. The session runs until ctx is done, Stop is called, the configured
// max duration elapses or the source fails.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	if s.newSource != nil {
		src, err := s.newSource(s.queue)
		if err != nil {
			return err
		}
		s.source = src
	}

	if s.cfg.Recording.Enabled {
		path := s.outputPath()
		sink, err := s.openSink(path, s.recordSpec)
		if err != nil {
			return err
		}
		s.recordPath = path
		s.sink = sink
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if d := s.cfg.Recording.MaxDurationValue(); d > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	if s.source != nil {
		if err := s.source.Start(runCtx); err != nil {
			cancel()
			if s.sink != nil {
				s.sink.Close()
				s.sink, s.recordPath = nil, ""
			}
			return err
		}
	}

	s.started = true
	s.cancel = cancel
	s.metrics.ActiveSessions.Add(ctx, 1)

	log.Component("session").Info().
		Str("id", s.id).
		Str("recording", s.recordPath).
		Int("fft_size", s.analyzer.FFTSize()).
		Str("window", s.analyzer.WindowType().String()).
		Msg("Session started")

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.analyze(gctx) })
	if s.source != nil {
		g.Go(func() error { return s.watch(gctx) })
	}

	go s.finish(g)
	return nil
}

// watch turns the first source fault into the session error.
func (s *Session) watch(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.source.Errors():
		s.metrics.RecordError(context.WithoutCancel(ctx), "stream")
		return fmt.Errorf("session %s: %w", s.id[:8], err)
	}
}

// analyze is the consumer loop. It returns nil when the run context ends and
// an error only when the recording fails.
func (s *Session) analyze(ctx context.Context) error {
	for {
		f, err := s.queue.Wait(ctx)
		if err != nil {
			return nil
		}
		if err := s.process(ctx, f); err != nil {
			return err
		}
	}
}

// finish waits for the loops, stops the source, drains what it delivered
// and finalizes the recording.
func (s *Session) finish(g *errgroup.Group) {
	err := g.Wait()
	ctx := context.Background()

	if s.source != nil {
		if stopErr := s.source.Stop(); stopErr != nil {
			log.Warnf("Session: stopping source: %v", stopErr)
		}
	}

	if drainErr := s.drain(ctx); drainErr != nil && err == nil {
		err = drainErr
	}

	if s.sink != nil {
		if closeErr := s.sink.Close(); closeErr != nil {
			s.metrics.RecordError(ctx, "sink")
			err = errors.Join(err, fmt.Errorf("recording: %w", closeErr))
		}
	}
	s.metrics.ActiveSessions.Add(ctx, -1)

	st := s.Stats()
	logger := log.Component("session")
	ev := logger.Info()
	if err != nil {
		ev = logger.Error().Err(err)
	}
	ev.Str("id", s.id).
		Uint64("frames", st.Frames).
		Uint64("notes", st.Notes).
		Uint64("dropped", st.Dropped).
		Int64("recorded", st.Samples).
		Msg("Session ended")

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	if err != nil {
		s.errs <- err
	}
	close(s.errs)
	close(s.done)
}

// drain processes frames left in the queue after capture stopped.
func (s *Session) drain(ctx context.Context) error {
	var err error
	for {
		f, ok := s.queue.Pop()
		if !ok {
			return err
		}
		if perr := s.process(ctx, f); perr != nil && err == nil {
			err = perr
		}
	}
}

func (s *Session) process(ctx context.Context, f *frame.Frame) error {
	defer s.queue.Release(f)
	ctx = context.WithoutCancel(ctx)
	s.checkOverruns(ctx)

	sampleRate := f.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.cfg.Audio.SampleRate
	}

	if s.gate.Open(f.Samples) {
		start := time.Now()
		spec := s.processor.Analyze(f)
		ev, ok := s.detector.Detect(spec, sampleRate, s.analyzer.FFTSize())
		s.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
		s.metrics.FramesAnalyzed.Add(ctx, 1)
		s.frames.Add(1)
		if ok {
			s.notes.Add(1)
			s.metrics.RecordNote(ctx, ev.Note)
			s.publish(ctx, ev)
		}
	} else {
		s.gated.Add(1)
		s.metrics.FramesGated.Add(ctx, 1)
	}

	if s.sink == nil || s.sinkFailed {
		return nil
	}
	samples := f.Samples
	if f.Channels > 1 {
		// Sources deliver mono; keep the first channel of anything else.
		samples = firstChannel(samples, f.Channels)
	}
	if err := s.sink.Write(samples); err != nil {
		s.sinkFailed = true
		s.metrics.RecordError(ctx, "sink")
		return fmt.Errorf("recording: %w", err)
	}
	s.metrics.SamplesRecorded.Add(ctx, int64(len(samples)))
	return nil
}

func (s *Session) publish(ctx context.Context, ev pitch.NoteEvent) {
	if s.transport == nil {
		return
	}
	if err := s.transport.Send(ev); err != nil {
		s.metrics.RecordError(ctx, "transport")
		log.Debugf("Session: publishing %s: %v", ev.Note, err)
	}
}

func (s *Session) checkOverruns(ctx context.Context) {
	dropped := s.queue.Dropped()
	if dropped == s.lastDropped {
		return
	}
	delta := dropped - s.lastDropped
	s.lastDropped = dropped
	s.metrics.FramesDropped.Add(ctx, int64(delta))

	if now := time.Now(); now.Sub(s.lastOverrunAt) >= overrunLogInterval {
		s.lastOverrunAt = now
		log.Warnf("Session: %v, %d frames dropped so far", frame.ErrOverrun, dropped)
	}
}

func firstChannel(samples []float32, channels int) []float32 {
	out := make([]float32, 0, len(samples)/channels)
	for i := 0; i+channels <= len(samples); i += channels {
		out = append(out, samples[i])
	}
	return out
}

// Ingest pushes samples as one mono frame. It stands in for a capture source
// and must not be used alongside one. It returns false when the push evicted
// an older frame.
func (s *Session) Ingest(samples []float32) bool {
	f := s.queue.Acquire(len(samples))
	copy(f.Samples, samples)
	f.SampleRate = s.cfg.Audio.SampleRate
	f.Channels = 1
	f.Captured = time.Now()
	f.Seq = s.ingestSeq
	s.ingestSeq++
	return s.queue.Push(f)
}

// Stop ends the session and waits until the recording is finalized. It
// returns the session error, like Wait.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	return s.Wait()
}

// Wait blocks until the session has ended and returns its error. A session
// that ends by cancellation or max duration returns nil.
func (s *Session) Wait() error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Errors delivers the terminal session error, if any, and is closed when
// the session ends.
func (s *Session) Errors() <-chan error { return s.errs }

// Stats returns the current counters.
func (s *Session) Stats() Stats {
	st := Stats{
		Frames:  s.frames.Load(),
		Gated:   s.gated.Load(),
		Notes:   s.notes.Load(),
		Dropped: s.queue.Dropped(),
	}
	if s.sink != nil {
		st.Samples = s.sink.Frames()
	}
	return st
}
