// Package logger wraps zap for structured logging.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu      sync.Mutex
	log     *zap.Logger
	once    sync.Once
	level   = zap.NewAtomicLevelAt(zap.InfoLevel)
	logFile = "" // No file logging by default
)

// SetLogPath sets the file logs are appended to in addition to the console.
// An empty path disables file logging. Takes effect on initialization.
func SetLogPath(path string) {
	mu.Lock()
	defer mu.Unlock()
	logFile = path
}

// SetLevel changes the minimum level of the logger, also after
// initialization. Unknown level names are rejected.
func SetLevel(name string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// InitLogger initializes the Zap logger with structured logging. Console
// output goes to stderr so command output on stdout stays machine-readable.
func InitLogger() {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		consoleEncoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level)}

		if logFile != "" {
			file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
			if err == nil {
				fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
				cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(file), level))
			}
		}

		log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	})
}

// GetLogger provides access to the initialized logger.
func GetLogger() *zap.Logger {
	InitLogger()
	return log
}

// Sync ensures buffered logs are written before the application exits.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

// ResetLogger drops the current logger so the next call initializes a new
// one. Used by tests that change the log path.
func ResetLogger() {
	Sync()
	log = nil
	once = sync.Once{}
	level.SetLevel(zap.InfoLevel)
}
