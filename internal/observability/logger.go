// Package observability holds the process-wide loggers and job metrics.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLILogger writes human-oriented console output to stderr.
	CLILogger = zap.NewNop()

	// ServerLogger writes structured logs for the HTTP server and the job
	// runner.
	ServerLogger = zap.NewNop()
)

// LogOptions configures a logger.
type LogOptions struct {
	Level string

	// Profile is STRUCTURED (JSON) or CONSOLE.
	Profile string

	// File, when set, receives a copy of every entry with size-based
	// rotation.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// InitCLILogger configures CLILogger. verbose lowers the level to debug.
func InitCLILogger(name string, verbose bool) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.CallerKey = ""
	encCfg.NameKey = ""
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	CLILogger = zap.New(core).Named(name)
}

// InitServerLogger configures ServerLogger from opts.
func InitServerLogger(name string, opts LogOptions) error {
	logger, err := NewLogger(name, opts)
	if err != nil {
		return err
	}
	ServerLogger = logger
	return nil
}

// NewLogger builds a logger writing to stderr and, optionally, a rotated
// file.
func NewLogger(name string, opts LogOptions) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var enc zapcore.Encoder
	switch strings.ToUpper(opts.Profile) {
	case "", "STRUCTURED":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	case "CONSOLE", "SIMPLE":
		encCfg := zap.NewDevelopmentEncoderConfig()
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown logging profile %q", opts.Profile)
	}

	cores := []zapcore.Core{zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level)}
	if opts.File != "" {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(newRotator(opts)), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named(name), nil
}

func newRotator(opts LogOptions) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

func parseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Sync flushes both loggers. Errors from syncing stderr are ignored.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}
