// Package observability builds the process logger from configuration.
package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/najoast/relay/config"
)

// ParseLevel maps a configured level onto zap. Unknown levels are Info.
func ParseLevel(l config.LogLevel) zapcore.Level {
	switch strings.ToLower(string(l)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetupLogger builds a zap.Logger from c. The returned level controls every
// output and can be changed at runtime, for example on config reload. The
// caller should defer logger.Sync().
func SetupLogger(c config.LogConfig, development bool) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	var encoder zapcore.Encoder
	if strings.ToLower(c.Format) == config.LogFormatJSON {
		encoder = zapcore.NewJSONEncoder(encoderConfig(development, false))
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig(development, c.Color))
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	cores := make([]zapcore.Core, 0, len(outputs))
	for _, out := range outputs {
		ws, err := writerFor(out, c.Rotation)
		if err != nil {
			return nil, level, err
		}
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if development {
		opts = append(opts, zap.Development())
	}
	if len(c.Fields) > 0 {
		opts = append(opts, zap.Fields(staticFields(c.Fields)...))
	}

	return zap.New(zapcore.NewTee(cores...), opts...), level, nil
}

// InstallGlobals makes logger the zap global logger and redirects the
// standard library log package to it. The returned function undoes both.
func InstallGlobals(logger *zap.Logger) func() {
	undoGlobals := zap.ReplaceGlobals(logger)
	undoStdLog, err := zap.RedirectStdLogAt(logger, zap.InfoLevel)
	if err != nil {
		undoStdLog = zap.RedirectStdLog(logger)
	}
	return func() {
		undoStdLog()
		undoGlobals()
	}
}

func writerFor(out string, rot config.LogRotationConfig) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}

	if rot.Enabled {
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   out,
			MaxSize:    max(rot.MaxSize, 1),
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAge,
			Compress:   rot.Compress,
		}), nil
	}

	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", out, err)
	}
	return zapcore.Lock(f), nil
}

func encoderConfig(development, color bool) zapcore.EncoderConfig {
	var cfg zapcore.EncoderConfig
	if development {
		cfg = zap.NewDevelopmentEncoderConfig()
	} else {
		cfg = zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if color {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

func staticFields(fields map[string]string) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, len(keys))
	for i, k := range keys {
		out[i] = zap.String(k, fields[k])
	}
	return out
}
