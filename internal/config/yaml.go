// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"karaoke/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`             // Enable debug logging.
	LogLevel  string          `yaml:"log_level"`         // Logging level (e.g., "debug", "info", "warn", "error").
	Command   string          `yaml:"command,omitempty"` // One-off command instead of a session (e.g., "list").
	Audio     AudioConfig     `yaml:"audio"`             // Capture settings.
	Analysis  AnalysisConfig  `yaml:"analysis"`          // Spectral analysis and pitch detection.
	Recording RecordingConfig `yaml:"recording"`         // WAV recording settings.
	Transport TransportConfig `yaml:"transport"`         // NoteEvent observers.
	Metrics   MetricsConfig   `yaml:"metrics"`           // Prometheus endpoint.
	TUI       bool            `yaml:"tui"`               // Show the live tuner instead of log lines.
}

// AudioConfig holds settings related to audio input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz, fixed for the session.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per hardware callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Channels captured; analysis uses the first.
	QueueCapacity   int     `yaml:"queue_capacity"`    // Frames buffered between capture and analysis.
	SampleFormat    string  `yaml:"sample_format"`     // Native stream format: float32, int32, int16, int8 or uint8.
}

// AnalysisConfig holds the spectral analyzer and pitch detector settings.
type AnalysisConfig struct {
	FFTSize             int     `yaml:"fft_size"`             // Power of two.
	Window              string  `yaml:"window"`               // Window function name (e.g., "Hamming", "Hann").
	MagnitudeThreshold  float64 `yaml:"magnitude_threshold"`  // Bins at or below are zeroed.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"` // Peaks below produce no event.
	GateThreshold       float64 `yaml:"gate_threshold"`       // Peak level (0-1) below which frames skip detection, 0 disables.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled     bool   `yaml:"enabled"`              // Enable audio recording to file.
	OutputDir   string `yaml:"output_dir"`           // Directory for generated file names.
	OutputFile  string `yaml:"output_file"`          // Explicit output path; overrides OutputDir.
	Format      string `yaml:"format"`               // File format for recordings (wav only).
	BitDepth    int    `yaml:"bit_depth"`            // 8, 16, 24 or 32.
	MaxDuration int    `yaml:"max_duration_seconds"` // Session length bound in seconds (0 for unlimited).
}

// TransportConfig holds settings related to publishing note events.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Broadcast events to WebSocket clients.
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address for the WebSocket server.
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send note packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port for UDP packets (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultChannels,
			QueueCapacity:   DefaultQueueCapacity,
			SampleFormat:    DefaultSampleFormat,
		},
		Analysis: AnalysisConfig{
			FFTSize:             DefaultFFTSize,
			Window:              DefaultWindow,
			MagnitudeThreshold:  DefaultMagnitudeThreshold,
			ConfidenceThreshold: DefaultConfidenceThreshold,
			GateThreshold:       DefaultGateThreshold,
		},
		Recording: RecordingConfig{
			Enabled:    DefaultRecordInputStream,
			OutputDir:  DefaultOutputDir,
			OutputFile: DefaultOutputFile,
			Format:     DefaultFormat,
			BitDepth:   DefaultBitDepth,
		},
		Transport: TransportConfig{
			WebSocketAddr:    DefaultWebSocketAddr,
			UDPTargetAddress: DefaultUDPTargetAddress,
			UDPSendInterval:  33 * time.Millisecond, // Default ~30Hz.
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"config.yaml",
			"karaoke.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks every value a session depends on. All failures wrap
// ErrConfiguration.
func (c *Config) Validate() error {
	a := c.Audio
	if a.InputDevice < MinDeviceID {
		return fmt.Errorf("%w: audio.input_device %d is below %d", ErrConfiguration, a.InputDevice, MinDeviceID)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: audio.sample_rate %.0f outside [%d, %d]", ErrConfiguration, a.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if a.FramesPerBuffer <= 0 || a.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("%w: audio.frames_per_buffer %d outside [1, %d]", ErrConfiguration, a.FramesPerBuffer, MaxBufferFrames)
	}
	if a.InputChannels < 1 {
		return fmt.Errorf("%w: audio.input_channels must be at least 1", ErrConfiguration)
	}
	if a.QueueCapacity < 1 || a.QueueCapacity > MaxQueueCapacity {
		return fmt.Errorf("%w: audio.queue_capacity %d outside [1, %d]", ErrConfiguration, a.QueueCapacity, MaxQueueCapacity)
	}
	switch a.SampleFormat {
	case "", "float32", "int32", "int16", "int8", "uint8":
	default:
		return fmt.Errorf("%w: audio.sample_format %q cannot be captured", ErrConfiguration, a.SampleFormat)
	}

	an := c.Analysis
	if !bitint.IsPowerOfTwo(an.FFTSize) || an.FFTSize > MaxFFTSize {
		return fmt.Errorf("%w: analysis.fft_size %d must be a power of two <= %d", ErrConfiguration, an.FFTSize, MaxFFTSize)
	}
	if an.MagnitudeThreshold < 0 || an.ConfidenceThreshold < 0 {
		return fmt.Errorf("%w: analysis thresholds must not be negative", ErrConfiguration)
	}
	if an.GateThreshold < 0 || an.GateThreshold > 1 {
		return fmt.Errorf("%w: analysis.gate_threshold %.3f outside [0, 1]", ErrConfiguration, an.GateThreshold)
	}

	r := c.Recording
	if r.Enabled {
		if r.Format != "" && r.Format != DefaultFormat {
			return fmt.Errorf("%w: recording.format %q is not supported", ErrConfiguration, r.Format)
		}
		switch r.BitDepth {
		case 8, 16, 24, 32:
		default:
			return fmt.Errorf("%w: recording.bit_depth %d must be 8, 16, 24 or 32", ErrConfiguration, r.BitDepth)
		}
		if r.MaxDuration < 0 {
			return fmt.Errorf("%w: recording.max_duration_seconds must not be negative", ErrConfiguration)
		}
	}

	t := c.Transport
	if t.WebSocketEnabled && t.WebSocketAddr == "" {
		return fmt.Errorf("%w: transport.websocket_addr must be set when WebSocket is enabled", ErrConfiguration)
	}
	if t.UDPEnabled {
		if t.UDPTargetAddress == "" {
			return fmt.Errorf("%w: transport.udp_target_address must be set when UDP is enabled", ErrConfiguration)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must be positive when UDP is enabled", ErrConfiguration)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr must be set when metrics are enabled", ErrConfiguration)
	}

	return nil
}

// MaxDurationValue returns the session bound as a duration, zero when unlimited.
func (r RecordingConfig) MaxDurationValue() time.Duration {
	return time.Duration(r.MaxDuration) * time.Second
}

// applyEnvOverrides applies ENV_* variables on top of file values. Unparseable
// values are ignored.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok && val != "" {
		cfg.LogLevel = val
	}

	// ENV_AUDIO_{...}

	// ENV_AUDIO_DEVICE
	if val, ok := os.LookupEnv("ENV_AUDIO_DEVICE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Audio.InputDevice = iVal
		}
	}
	// ENV_AUDIO_SAMPLE_RATE
	if val, ok := os.LookupEnv("ENV_AUDIO_SAMPLE_RATE"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Audio.SampleRate = fVal
		}
	}

	// ENV_ANALYSIS_FFT_SIZE
	if val, ok := os.LookupEnv("ENV_ANALYSIS_FFT_SIZE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Analysis.FFTSize = iVal
		}
	}

	// ENV_RECORDING_OUTPUT_FILE
	if val, ok := os.LookupEnv("ENV_RECORDING_OUTPUT_FILE"); ok {
		cfg.Recording.OutputFile = val
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
		}
	}
}
