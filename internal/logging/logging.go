// Package logging provides the bridge's global structured logger: a
// single-process singleton backed by zap, with a JSON production encoder,
// a runtime-adjustable atomic level, and precedence flag > environment
// variable > default for the initial level.
package logging

import (
	"flag"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// envLogLevel is the environment variable consulted for the initial level.
const envLogLevel = "FLBRIDGE_LOG_LEVEL"

var (
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	global      *zap.SugaredLogger
	initOnce    sync.Once

	flagLevel = flag.String("log.level", "", "log level (debug, info, warn, error)")
)

// Init initializes the global logger. Safe to call multiple times; only the
// first call builds the logger, subsequent calls are no-ops (use SetLevel to
// change behavior at runtime).
func Init() {
	initOnce.Do(func() {
		lvl := detectLevel()
		atomicLevel.SetLevel(lvl)
		cfg := zap.NewProductionConfig()
		cfg.Level = atomicLevel
		cfg.EncoderConfig.TimeKey = "ts"
		logger, err := cfg.Build()
		if err != nil {
			// Fall back to a minimal logger rather than panic; logging must never
			// take down the bridge.
			logger = zap.NewNop()
		}
		global = logger.Sugar()
	})
}

func detectLevel() zapcore.Level {
	if *flagLevel == "" {
		for _, arg := range os.Args[1:] {
			if strings.HasPrefix(arg, "-log.level=") {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) == 2 {
					*flagLevel = parts[1]
				}
			}
		}
	}
	if f := strings.TrimSpace(*flagLevel); f != "" {
		if lvl, ok := parseLevel(f); ok {
			return lvl
		}
	}
	if env := os.Getenv(envLogLevel); env != "" {
		if lvl, ok := parseLevel(env); ok {
			return lvl
		}
	}
	return zapcore.InfoLevel
}

func parseLevel(s string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info", "":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error", "err":
		return zapcore.ErrorLevel, true
	}
	return 0, false
}

// SetLevel changes the runtime log level.
func SetLevel(level string) error {
	Init()
	lvl, ok := parseLevel(level)
	if !ok {
		return &invalidLevelError{level: level}
	}
	atomicLevel.SetLevel(lvl)
	return nil
}

type invalidLevelError struct{ level string }

func (e *invalidLevelError) Error() string { return "invalid log level: " + e.level }

// Level returns the current runtime level as a string.
func Level() string { Init(); return atomicLevel.Level().String() }

// UseCore swaps the underlying zapcore.Core (intended for tests that want to
// observe emitted entries). Retains the current level.
func UseCore(core zapcore.Core) {
	Init()
	global = zap.New(core).Sugar()
}

// Logger returns the global logger (ensures Init was called).
func Logger() *zap.SugaredLogger { Init(); return global }

func Debug(msg string, args ...any) { Logger().Debugw(msg, args...) }
func Info(msg string, args ...any)  { Logger().Infow(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warnw(msg, args...) }
func Error(msg string, args ...any) { Logger().Errorw(msg, args...) }

// WithConnection attaches connection identity fields.
func WithConnection(l *zap.SugaredLogger, connID string) *zap.SugaredLogger {
	return l.With("conn_id", connID)
}

// WithCorrelation attaches request correlation fields.
func WithCorrelation(l *zap.SugaredLogger, correlationID uint32, command string) *zap.SugaredLogger {
	return l.With("correlation_id", correlationID, "command", command)
}

// WithAddress attaches plugin address fields.
func WithAddress(l *zap.SugaredLogger, ownerIndex, slotIndex int) *zap.SugaredLogger {
	return l.With("owner_index", ownerIndex, "slot_index", slotIndex)
}
