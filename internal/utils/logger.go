package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes every entry to a timestamped file and to the console.
type Logger struct {
	z    *zap.SugaredLogger
	file *os.File
}

// NewLogger creates dir if needed and opens tracker_<timestamp>.log inside it.
func NewLogger(dir, level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("tracker_%s.log", timestamp))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	consoleEnc.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(file), lvl),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stdout), lvl),
	)

	return &Logger{z: zap.New(core).Sugar(), file: file}, nil
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// NewLoggerFromZap wraps an existing zap logger, e.g. one built by zaptest.
func NewLoggerFromZap(z *zap.Logger) *Logger {
	return &Logger{z: z.Sugar()}
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.z.Infof(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	// chromedp reports every cookie event it cannot decode
	if strings.Contains(format, "could not unmarshal event") {
		return
	}
	l.z.Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.z.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.z.Errorf(format, args...)
}

// Fatal logs and exits with status 1.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.z.Errorf(format, args...)
	l.Close()
	os.Exit(1)
}

// With returns a logger that adds key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{z: l.z.With(keysAndValues...)}
}

// Zap exposes the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.z.Desugar()
}

func (l *Logger) Close() error {
	_ = l.z.Sync()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
