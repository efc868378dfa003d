package cmd

import (
	"fmt"
	"io"
	"time"

	"karaoke/internal/config"
	"karaoke/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected on the command line.
const (
	CommandRun     = "run"
	CommandList    = "list"
	CommandVersion = "version"
)

// Options is the parsed command line.
type Options struct {
	Command    string
	ConfigPath string
	Config     *config.Config
	Pick       bool // Choose the device interactively before running.
}

// flagValues holds raw flag values; only flags the user set are applied on
// top of the loaded configuration.
type flagValues struct {
	deviceID        int
	channels        int
	sampleRate      float64
	framesPerBuffer int
	lowLatency      bool
	sampleFormat    string
	fftSize         int
	window          string
	threshold       float64
	confidence      float64
	gate            float64
	record          bool
	output          string
	outputDir       string
	bitDepth        int
	duration        time.Duration
	websocket       string
	udp             string
	metrics         string
	tui             bool
	verbose         bool
	logLevel        string
}

// ParseArgs parses args (without the program name) into Options. Help and
// version output go to out; a nil Options with a nil error means the
// command line only asked for help.
func ParseArgs(args []string, out io.Writer) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	opts := &Options{Command: CommandRun}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Command = CommandRun
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			opts.Command = CommandList
		},
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			opts.Command = CommandVersion
		},
	}
	rootCmd.AddCommand(listCmd, versionCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "C", "",
		"Path to a YAML config file (default: ./config.yaml or ./karaoke.yaml if present)")

	// Audio Device Configuration
	pf.IntVarP(&fv.deviceID, "device", "d", config.DefaultDeviceID,
		"Specify input device ID. Use 'list' command to see available devices.")
	pf.IntVarP(&fv.channels, "channels", "c", config.DefaultChannels,
		"Number of channels to capture; analysis and recording use the first")
	pf.Float64VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&fv.framesPerBuffer, "frames-per-buffer", "b", config.DefaultFramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVarP(&fv.lowLatency, "low-latency", "l", config.DefaultLowLatency,
		"Use low latency mode for real-time processing")
	pf.StringVar(&fv.sampleFormat, "sample-format", config.DefaultSampleFormat,
		"Native stream format: float32, int32, int16, int8 or uint8")
	pf.BoolVar(&opts.Pick, "pick", false,
		"Choose the input device and sample rate interactively")

	// Analysis Configuration
	pf.IntVar(&fv.fftSize, "fft-size", config.DefaultFFTSize,
		"FFT size, a power of two")
	pf.StringVar(&fv.window, "window", config.DefaultWindow,
		"Window function (Hamming, Hann, Blackman, ...)")
	pf.Float64Var(&fv.threshold, "threshold", config.DefaultMagnitudeThreshold,
		"Magnitude at or below which bins are zeroed")
	pf.Float64Var(&fv.confidence, "confidence", config.DefaultConfidenceThreshold,
		"Minimum peak magnitude for a note event")
	pf.Float64VarP(&fv.gate, "gate", "g", config.DefaultGateThreshold,
		"Noise gate peak level between 0 and 1 (0 disables)")

	// Recording Configuration
	pf.BoolVarP(&fv.record, "record", "r", config.DefaultRecordInputStream,
		"Record audio from the specified input device")
	pf.StringVarP(&fv.output, "output", "o", config.DefaultOutputFile,
		"Output file name. Default is recording-YYYYMMDD-HHMMSS-<id>.wav in the output directory")
	pf.StringVar(&fv.outputDir, "output-dir", config.DefaultOutputDir,
		"Directory for generated recording names")
	pf.IntVar(&fv.bitDepth, "bit-depth", config.DefaultBitDepth,
		"Recording bit depth: 8, 16, 24 or 32")
	pf.DurationVarP(&fv.duration, "duration", "t", 0,
		"Stop the session after this long (whole seconds, 0 for unlimited)")

	// Outputs
	pf.StringVar(&fv.websocket, "websocket", "",
		"Broadcast note events to WebSocket clients on this address (e.g. 127.0.0.1:8080)")
	pf.StringVar(&fv.udp, "udp", "",
		"Send note packets to this UDP address (e.g. 127.0.0.1:9090)")
	pf.StringVar(&fv.metrics, "metrics", "",
		"Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	pf.BoolVar(&fv.tui, "tui", false,
		"Show the live tuner instead of log lines")

	// Debug Configuration
	pf.BoolVarP(&fv.verbose, "verbose", "v", false,
		"Show verbose output")
	pf.StringVar(&fv.logLevel, "log-level", "",
		"Logging level: debug, info, warn or error")

	rootCmd.SetArgs(args)
	executed, err := rootCmd.ExecuteC()
	if err != nil {
		return nil, err
	}
	if help, _ := executed.Flags().GetBool("help"); help {
		return nil, nil
	}
	if v, _ := executed.Flags().GetBool("version"); v {
		return nil, nil
	}
	if opts.Command == CommandVersion {
		return opts, nil
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	fv.apply(cfg, func(name string) bool { return executed.Flags().Changed(name) })
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	opts.Config = cfg
	return opts, nil
}

// apply copies every changed flag into cfg.
func (fv *flagValues) apply(cfg *config.Config, changed func(string) bool) {
	if changed("device") {
		cfg.Audio.InputDevice = fv.deviceID
	}
	if changed("channels") {
		cfg.Audio.InputChannels = fv.channels
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = fv.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = fv.framesPerBuffer
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = fv.lowLatency
	}
	if changed("sample-format") {
		cfg.Audio.SampleFormat = fv.sampleFormat
	}
	if changed("fft-size") {
		cfg.Analysis.FFTSize = fv.fftSize
	}
	if changed("window") {
		cfg.Analysis.Window = fv.window
	}
	if changed("threshold") {
		cfg.Analysis.MagnitudeThreshold = fv.threshold
	}
	if changed("confidence") {
		cfg.Analysis.ConfidenceThreshold = fv.confidence
	}
	if changed("gate") {
		cfg.Analysis.GateThreshold = fv.gate
	}
	if changed("record") {
		cfg.Recording.Enabled = fv.record
	}
	if changed("output") {
		cfg.Recording.OutputFile = fv.output
	}
	if changed("output-dir") {
		cfg.Recording.OutputDir = fv.outputDir
	}
	if changed("bit-depth") {
		cfg.Recording.BitDepth = fv.bitDepth
	}
	if changed("duration") {
		cfg.Recording.MaxDuration = int(fv.duration.Round(time.Second) / time.Second)
	}
	if changed("websocket") {
		cfg.Transport.WebSocketEnabled = fv.websocket != ""
		cfg.Transport.WebSocketAddr = fv.websocket
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = fv.udp != ""
		cfg.Transport.UDPTargetAddress = fv.udp
	}
	if changed("metrics") {
		cfg.Metrics.Enabled = fv.metrics != ""
		cfg.Metrics.Addr = fv.metrics
	}
	if changed("tui") {
		cfg.TUI = fv.tui
	}
	if changed("verbose") {
		cfg.Debug = fv.verbose
	}
	if changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
}
