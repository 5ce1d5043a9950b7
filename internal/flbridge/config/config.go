// Package config assembles the FL Bridge Core's runtime configuration from
// built-in defaults, environment variables, and CLI flags, each layer
// overriding the last.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

const envPrefix = "FLBRIDGE_"

// Config holds the bridge's assembled runtime settings.
type Config struct {
	InPortName  string
	OutPortName string

	RenderDir       string
	RenderExtension string
	PresetDir       string

	InteractiveTimeout time.Duration
	DiscoveryTimeout   time.Duration
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration

	MaxPayloadPerFrame  int
	MaxAccumulatorBytes int

	LogLevel string

	HookStdioFormat string
	HookTimeout     string
	HookConcurrency int
}

// Defaults returns the built-in configuration defaults.
func Defaults() Config {
	return Config{
		InPortName:          "FL Bridge In",
		OutPortName:         "FL Bridge Out",
		RenderDir:           "renders",
		RenderExtension:     ".wav",
		PresetDir:           "",
		InteractiveTimeout:  5 * time.Second,
		DiscoveryTimeout:    60 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		HeartbeatTimeout:    5 * time.Second,
		MaxPayloadPerFrame:  1800,
		MaxAccumulatorBytes: 2 << 20,
		LogLevel:            "info",
		HookStdioFormat:     "",
		HookTimeout:         "30s",
		HookConcurrency:     10,
	}
}

// FlagSet registers flags for cfg onto fs so the caller can parse os.Args.
// cfg should already hold the environment-variable-resolved values; flags
// registered this way take precedence over them once fs.Parse runs.
func FlagSet(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.InPortName, "in-port", cfg.InPortName, "MIDI input port name (host responses)")
	fs.StringVar(&cfg.OutPortName, "out-port", cfg.OutPortName, "MIDI output port name (bridge requests)")
	fs.StringVar(&cfg.RenderDir, "render-dir", cfg.RenderDir, "directory watched for rendered audio files")
	fs.StringVar(&cfg.RenderExtension, "render-ext", cfg.RenderExtension, "file extension identifying a render artifact")
	fs.StringVar(&cfg.PresetDir, "preset-dir", cfg.PresetDir, "optional directory of saved plugin presets")
	fs.DurationVar(&cfg.InteractiveTimeout, "interactive-timeout", cfg.InteractiveTimeout, "interactive command timeout; parsed but not applied: commands use the executor's built-in 5s default")
	fs.DurationVar(&cfg.DiscoveryTimeout, "discovery-timeout", cfg.DiscoveryTimeout, "upper bound on the discover subcommand's wait; plugins.discover itself still times out after the executor's built-in 60s")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "interval between liveness probes")
	fs.DurationVar(&cfg.HeartbeatTimeout, "heartbeat-timeout", cfg.HeartbeatTimeout, "per-probe liveness timeout")
	fs.IntVar(&cfg.MaxPayloadPerFrame, "max-frame-payload", cfg.MaxPayloadPerFrame, "max base64 payload bytes per SysEx frame")
	fs.IntVar(&cfg.MaxAccumulatorBytes, "max-accumulator-bytes", cfg.MaxAccumulatorBytes, "max bytes buffered per client while reassembling a chunked message")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug|info|warn|error")
	fs.StringVar(&cfg.HookStdioFormat, "hook-stdio-format", cfg.HookStdioFormat, "enable structured stdio hook output: json|env (empty disables)")
	fs.StringVar(&cfg.HookTimeout, "hook-timeout", cfg.HookTimeout, "timeout for a single hook execution")
	fs.IntVar(&cfg.HookConcurrency, "hook-concurrency", cfg.HookConcurrency, "maximum concurrent hook executions")
}

// FromEnvironment overlays environment variables (FLBRIDGE_*) onto cfg,
// returning the result. Call before FlagSet/fs.Parse so flags retain the
// highest precedence.
func FromEnvironment(cfg Config) Config {
	if v, ok := lookupEnv("IN_PORT"); ok {
		cfg.InPortName = v
	}
	if v, ok := lookupEnv("OUT_PORT"); ok {
		cfg.OutPortName = v
	}
	if v, ok := lookupEnv("RENDER_DIR"); ok {
		cfg.RenderDir = v
	}
	if v, ok := lookupEnv("RENDER_EXT"); ok {
		cfg.RenderExtension = v
	}
	if v, ok := lookupEnv("PRESET_DIR"); ok {
		cfg.PresetDir = v
	}
	if v, ok := lookupDuration("INTERACTIVE_TIMEOUT"); ok {
		cfg.InteractiveTimeout = v
	}
	if v, ok := lookupDuration("DISCOVERY_TIMEOUT"); ok {
		cfg.DiscoveryTimeout = v
	}
	if v, ok := lookupDuration("HEARTBEAT_INTERVAL"); ok {
		cfg.HeartbeatInterval = v
	}
	if v, ok := lookupDuration("HEARTBEAT_TIMEOUT"); ok {
		cfg.HeartbeatTimeout = v
	}
	if v, ok := lookupInt("MAX_FRAME_PAYLOAD"); ok {
		cfg.MaxPayloadPerFrame = v
	}
	if v, ok := lookupInt("MAX_ACCUMULATOR_BYTES"); ok {
		cfg.MaxAccumulatorBytes = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("HOOK_STDIO_FORMAT"); ok {
		cfg.HookStdioFormat = v
	}
	if v, ok := lookupEnv("HOOK_TIMEOUT"); ok {
		cfg.HookTimeout = v
	}
	if v, ok := lookupInt("HOOK_CONCURRENCY"); ok {
		cfg.HookConcurrency = v
	}
	return cfg
}

func lookupEnv(suffix string) (string, bool) {
	v := os.Getenv(envPrefix + suffix)
	return v, v != ""
}

func lookupDuration(suffix string) (time.Duration, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func lookupInt(suffix string) (int, bool) {
	v, ok := lookupEnv(suffix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks cfg for internally inconsistent values.
func (c Config) Validate() error {
	if c.InPortName == "" || c.OutPortName == "" {
		return fmt.Errorf("config: in-port and out-port names must be set")
	}
	if c.MaxPayloadPerFrame <= 0 || c.MaxPayloadPerFrame > 65536 {
		return fmt.Errorf("config: max-frame-payload must be between 1 and 65536")
	}
	if c.MaxAccumulatorBytes <= 0 {
		return fmt.Errorf("config: max-accumulator-bytes must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log-level %q", c.LogLevel)
	}
	if c.HookStdioFormat != "" && c.HookStdioFormat != "json" && c.HookStdioFormat != "env" {
		return fmt.Errorf("config: invalid hook-stdio-format %q", c.HookStdioFormat)
	}
	if _, err := time.ParseDuration(c.HookTimeout); err != nil {
		return fmt.Errorf("config: invalid hook-timeout %q: %w", c.HookTimeout, err)
	}
	if c.HookConcurrency < 1 || c.HookConcurrency > 100 {
		return fmt.Errorf("config: hook-concurrency must be between 1 and 100")
	}
	return nil
}

// Load resolves defaults, then environment overrides, then CLI flags parsed
// from args, returning the final Config.
func Load(args []string) (Config, error) {
	cfg := FromEnvironment(Defaults())

	fs := pflag.NewFlagSet("flbridge", pflag.ContinueOnError)
	FlagSet(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
