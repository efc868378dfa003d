package config

import "errors"

// ErrConfiguration marks a configuration that cannot start a session: an FFT
// size that is not a power of two, an empty note table, a zero-capacity
// queue. It is always reported before any audio I/O begins.
var ErrConfiguration = errors.New("configuration error")

// Core configuration constants that define the boundaries and defaults
// for the pitch tracking pipeline.
const (
	// Audio capture.
	DefaultDeviceID        = MinDeviceID // System default input device
	DefaultChannels        = 1           // Mono capture
	DefaultSampleRate      = 44100       // CD-quality audio
	DefaultFramesPerBuffer = 1024        // One analysis window per callback
	DefaultLowLatency      = false       // Standard latency mode
	DefaultQueueCapacity   = 4           // Hardware buffers in flight
	DefaultSampleFormat    = "float32"   // Native PortAudio format

	// Spectral analysis.
	DefaultFFTSize             = 1024
	DefaultWindow              = "Hamming"
	DefaultMagnitudeThreshold  = 3.0
	DefaultConfidenceThreshold = 1.0
	DefaultGateThreshold       = 0.0 // Gate disabled

	// Recording.
	DefaultRecordInputStream = true
	DefaultOutputDir         = "./recordings"
	DefaultOutputFile        = "" // Auto-generated filename
	DefaultFormat            = "wav"
	DefaultBitDepth          = 16

	// Transport.
	DefaultWebSocketAddr    = "127.0.0.1:8080"
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultMetricsAddr      = "127.0.0.1:9464"

	// Hardware and processing limits.
	MinDeviceID      = -1     // -1 represents system default device
	MinSampleRate    = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate    = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames  = 8192   // Maximum frames per buffer (power of 2)
	MaxFFTSize       = 32768  // Largest analysis window
	MaxQueueCapacity = 64     // Frames; beyond this pitch output goes stale
)
