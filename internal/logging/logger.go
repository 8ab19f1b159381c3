package logging

import (
	"encoding/hex"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/muurk/pulsemeter/internal/meter"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "PULSEMETER_LOG_LEVEL"

// Initialize creates a new logger with the specified level writing to stderr.
// If level is empty, it checks PULSEMETER_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	return InitializeTo(level, "stderr")
}

// InitializeTo is Initialize with an explicit output, a file path or
// "stdout"/"stderr". The watch view uses it to keep logs off the terminal.
func InitializeTo(level, output string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		logger = zap.NewNop()
		return nil
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{output},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	if output != "stdout" && output != "stderr" {
		// No escape codes in files
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	var err error
	logger, err = config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		// Unknown level - use info as default when explicitly set to something
		return zapcore.InfoLevel
	}
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger
}

// Named returns a child of the global logger for one component or meter.
func Named(name string) *zap.Logger {
	return GetLogger().Named(name)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// LogConnection logs a connection event of a meter. Target must not carry
// a password; pass a redacted URL.
func LogConnection(meterName, target, event string) {
	Info("Connection event",
		zap.String("meter", meterName),
		zap.String("target", target),
		zap.String("event", event),
	)
}

// LogSnapshot logs a published snapshot at debug level.
func LogSnapshot(meterName string, snap meter.Snapshot) {
	if !GetLogger().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	fields := []zap.Field{
		zap.String("meter", meterName),
		zap.Time("timestamp", snap.Timestamp),
		zap.Int("channels", len(snap.Values)+len(snap.Text)),
	}
	if snap.HasPower {
		fields = append(fields, zap.Float64("power", snap.Power))
	}
	if snap.HasGap {
		fields = append(fields, zap.Float64("gap", snap.Gap))
	}
	Debug("Snapshot", fields...)
}

// LogRawBytes logs raw bytes (useful for debugging protocol issues)
func LogRawBytes(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes for logging
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > 256 {
		data = data[:256]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
