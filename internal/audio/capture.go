// SPDX-License-Identifier: MIT
/*
Package audio owns the hardware side of the pipeline:
- PortAudio input streams in any native sample format
- Normalization of native samples to float32 in [-1, 1]
- Device discovery for the list command
- A lock-free peak noise gate

Thread Safety:
- The stream callback only normalizes into a recycled frame and pushes it
- No locks, logging or allocation on the callback once the pool is warm
- Stream faults are reported on a channel read by the control context
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"karaoke/internal/config"
	"karaoke/internal/frame"
	"karaoke/internal/log"

	"github.com/gordonklaus/portaudio"
)

// ErrStream marks a fault of a running input stream.
var ErrStream = errors.New("audio stream error")

// A stream that goes stallPeriods buffers (and at least minStallTimeout)
// without a callback is reported as failed.
const (
	minStallTimeout = time.Second
	stallPeriods    = 4
)

// Capture runs a PortAudio input stream and feeds a frame.Queue.
type Capture struct {
	cfg      config.AudioConfig
	format   SampleFormat
	queue    *frame.Queue
	device   *portaudio.DeviceInfo
	latency  time.Duration
	stream   *portaudio.Stream
	channels int

	seq          uint64       // Callback-owned.
	lastCallback atomic.Int64 // UnixNano of the most recent callback.
	callbacks    atomic.Uint64
	overflows    atomic.Uint64

	errs     chan error
	errOnce  sync.Once
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCapture resolves the configured input device. PortAudio must already be
// initialized. Device problems wrap ErrDevice; an unsupported sample format
// wraps ErrUnsupportedFormat.
func NewCapture(cfg config.AudioConfig, queue *frame.Queue) (*Capture, error) {
	if queue == nil {
		return nil, fmt.Errorf("%w: capture needs a frame queue", config.ErrConfiguration)
	}
	format, err := ParseSampleFormat(cfg.SampleFormat)
	if err != nil {
		return nil, err
	}
	if !format.Capturable() {
		return nil, fmt.Errorf("%w: PortAudio cannot capture %s", ErrUnsupportedFormat, format)
	}

	device, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	if cfg.InputChannels > device.MaxInputChannels {
		return nil, fmt.Errorf("%w: %s supports %d input channels, %d requested",
			ErrDevice, device.Name, device.MaxInputChannels, cfg.InputChannels)
	}

	c := &Capture{
		cfg:      cfg,
		format:   format,
		queue:    queue,
		device:   device,
		channels: max(cfg.InputChannels, 1),
		errs:     make(chan error, 1),
		stop:     make(chan struct{}),
	}
	if cfg.LowLatency {
		c.latency = device.DefaultLowInputLatency
	} else {
		c.latency = device.DefaultHighInputLatency
	}
	return c, nil
}

// Start opens and starts the input stream. A watchdog reports ErrStream if
// callbacks stop arriving while the stream should be running.
func (c *Capture) Start(ctx context.Context) error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: c.channels,
			Device:   c.device,
			Latency:  c.latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: c.cfg.FramesPerBuffer,
		SampleRate:      c.cfg.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, c.callback())
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrDevice, c.device.Name, err)
	}
	c.stream = stream

	c.lastCallback.Store(time.Now().UnixNano())
	if err := c.stream.Start(); err != nil {
		c.stream.Close()
		c.stream = nil
		return fmt.Errorf("%w: start: %w", ErrStream, err)
	}

	log.Infof("Audio: Capturing from %s (%d ch, %.0f Hz, %d frames, %s, latency %v)",
		c.device.Name, c.channels, c.cfg.SampleRate, c.cfg.FramesPerBuffer, c.format, c.latency)

	c.wg.Add(1)
	go c.watch(ctx)
	return nil
}

// Stop stops and closes the stream. Safe to call more than once.
func (c *Capture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()

		if c.stream == nil {
			return
		}
		if stopErr := c.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("%w: stop: %w", ErrStream, stopErr)
		}
		if closeErr := c.stream.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close: %w", ErrStream, closeErr))
		}
		c.stream = nil
	})
	return err
}

// Errors delivers at most one asynchronous stream fault.
func (c *Capture) Errors() <-chan error { return c.errs }

// Callbacks returns the number of buffers delivered by the driver.
func (c *Capture) Callbacks() uint64 { return c.callbacks.Load() }

// Overflows returns the number of buffers the driver flagged as overflowed.
func (c *Capture) Overflows() uint64 { return c.overflows.Load() }

// Device returns the resolved input device.
func (c *Capture) Device() Device {
	defaultInput, _ := paLibDefaultInputDeviceFunc()
	return newDevice(c.cfg.InputDevice, c.device, defaultInput)
}

// Format returns the native sample format of the stream.
func (c *Capture) Format() SampleFormat { return c.format }

func (c *Capture) report(err error) {
	c.errOnce.Do(func() {
		c.errs <- err
	})
}

// stallTimeout is four buffer periods, at least minStallTimeout.
func (c *Capture) stallTimeout() time.Duration {
	period := time.Duration(float64(c.cfg.FramesPerBuffer) / c.cfg.SampleRate * float64(time.Second))
	return max(stallPeriods*period, minStallTimeout)
}

func (c *Capture) watch(ctx context.Context) {
	defer c.wg.Done()

	timeout := c.stallTimeout()
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case now := <-ticker.C:
			last := time.Unix(0, c.lastCallback.Load())
			if silent := now.Sub(last); silent > timeout {
				c.report(fmt.Errorf("%w: no input for %v", ErrStream, silent.Round(time.Millisecond)))
				return
			}
		}
	}
}

// callback returns the stream callback for the configured native format.
func (c *Capture) callback() any {
	switch c.format {
	case FormatInt8:
		return func(in []int8, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			deliver(c, in, flags)
		}
	case FormatInt16:
		return func(in []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			deliver(c, in, flags)
		}
	case FormatInt32:
		return func(in []int32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			deliver(c, in, flags)
		}
	case FormatUint8:
		return func(in []uint8, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			deliver(c, in, flags)
		}
	default:
		return func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			deliver(c, in, flags)
		}
	}
}

// deliver is the real-time hot path: normalize the first channel into a
// recycled frame and push it. No locks, no logging, no I/O.
func deliver[T Sample](c *Capture, in []T, flags portaudio.StreamCallbackFlags) {
	now := time.Now()
	c.lastCallback.Store(now.UnixNano())
	c.callbacks.Add(1)
	if flags&portaudio.InputOverflow != 0 {
		c.overflows.Add(1)
	}

	f := c.queue.Acquire(len(in) / c.channels)
	n := normalize(f.Samples, in, c.format, c.channels)
	f.Samples = f.Samples[:n]
	f.SampleRate = c.cfg.SampleRate
	f.Channels = 1
	f.Captured = now
	f.Seq = c.seq
	c.seq++

	c.queue.Push(f)
}
