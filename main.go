package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"karaoke/cmd"
	"karaoke/internal/audio"
	"karaoke/internal/config"
	"karaoke/internal/frame"
	"karaoke/internal/log"
	"karaoke/internal/pipeline"
	"karaoke/internal/transport"
	"karaoke/internal/transport/udp"
	"karaoke/internal/tui"
	"karaoke/pkg/build"

	"golang.org/x/sync/errgroup"
)

// main is the entry point. The program flow is divided into three phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and configuration
//   - Initialize PortAudio
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Start the capture stream and analysis session
//   - Publish note events to the log, tuner, WebSocket and UDP outputs
//   - Serve metrics
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals, session faults and the max duration
//   - Drain the queue and finalize the recording
//   - Close outputs
func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	if err := build.Initialize(false); err != nil {
		return err
	}

	opts, err := cmd.ParseArgs(args, os.Stdout)
	if err != nil {
		return err
	}
	if opts == nil {
		return nil // Help or --version.
	}
	if opts.Command == cmd.CommandVersion {
		fmt.Println(build.GetBuildFlags().Name, build.GetBuildFlags())
		return nil
	}

	cfg := opts.Config
	configureLogging(cfg)

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := audio.Terminate(); err != nil {
			log.Warnf("PortAudio terminate: %v", err)
		}
	}()

	if opts.Command == cmd.CommandList {
		return audio.ListDevices(os.Stdout)
	}

	if opts.Pick {
		sel, err := tui.PickDevice()
		if err != nil {
			return err
		}
		if sel == nil {
			return nil
		}
		cfg.Audio.InputDevice = sel.Device.ID
		cfg.Audio.SampleRate = sel.SampleRate
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSession(ctx, stop, cfg)
}

func configureLogging(cfg *config.Config) {
	level, ok := log.ParseLevel(cfg.LogLevel)
	if !ok && cfg.LogLevel != "" {
		log.Warnf("Unknown log level %q, using %s", cfg.LogLevel, level)
	}
	if cfg.Debug {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	if cfg.TUI && !cfg.Debug {
		// The tuner owns the terminal.
		log.SetOutput(io.Discard)
	}
}

func runSession(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	// ==================== CONCURRENT PHASE (Hot Path) ====================

	var metrics *pipeline.Metrics
	var provider *pipeline.Provider
	if cfg.Metrics.Enabled {
		var err error
		if provider, err = pipeline.InitProvider(); err != nil {
			return err
		}
		metrics = pipeline.DefaultMetrics()
	}

	shutdownProvider := func() error {
		if provider == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return provider.Shutdown(ctx)
	}

	outputs, feed, err := buildTransports(cfg)
	if err != nil {
		return errors.Join(err, shutdownProvider())
	}

	session, err := pipeline.New(cfg, pipeline.Deps{
		Source: func(q *frame.Queue) (pipeline.Source, error) {
			return audio.NewCapture(cfg.Audio, q)
		},
		Transport: outputs,
		Metrics:   metrics,
	})
	if err != nil {
		return errors.Join(err, outputs.Close(), shutdownProvider())
	}

	// CRITICAL: Start of real-time audio processing
	if err := session.Start(ctx); err != nil {
		return errors.Join(err, outputs.Close(), shutdownProvider())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-session.Done()
		// A session that ended on its own (fault or max duration) takes the
		// tuner and metrics server down with it.
		cancel()
		if feed != nil {
			feed.Close()
		}
		return session.Wait()
	})

	g.Go(func() error {
		<-gctx.Done()
		session.Stop()
		return nil
	})

	if provider != nil {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Addr, provider.Handler()) })
	}

	if feed != nil {
		title := fmt.Sprintf("%s  %s", build.GetBuildFlags().Name, session.RecordingPath())
		g.Go(func() error {
			err := tui.RunTuner(tui.NewTunerModel(title, feed, session.Gate()))
			cancel()
			return err
		})
	} else {
		log.Infof("Listening. Press Ctrl+C to stop.")
	}

	err = g.Wait()

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	errs := []error{err, outputs.Close(), shutdownProvider()}

	if path := session.RecordingPath(); path != "" {
		if st := session.Stats(); st.Samples > 0 {
			fmt.Printf("\nRecording saved to: %s (%.1fs)\n", path, float64(st.Samples)/cfg.Audio.SampleRate)
		}
	}
	return errors.Join(errs...)
}

// buildTransports assembles the configured note outputs. feed is non-nil
// when the tuner is enabled.
func buildTransports(cfg *config.Config) (*transport.Fanout, *tui.Feed, error) {
	outputs := transport.NewFanout()
	var feed *tui.Feed

	if cfg.TUI {
		feed = tui.NewFeed(16)
		outputs.Add(feed)
	} else {
		outputs.Add(transport.NewLoggingTransport())
	}

	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport()
		if _, err := ws.ListenAndServe(cfg.Transport.WebSocketAddr); err != nil {
			ws.Close()
			outputs.Close()
			return nil, nil, err
		}
		outputs.Add(ws)
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			outputs.Close()
			return nil, nil, err
		}
		pub, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender)
		if err != nil {
			sender.Close()
			outputs.Close()
			return nil, nil, err
		}
		pub.Start()
		outputs.Add(pub)
	}

	return outputs, feed, nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	log.Infof("Serving metrics on http://%s/metrics", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
