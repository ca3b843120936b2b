package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// TestInitLogger ensures that the logger initializes properly.
func TestInitLogger(t *testing.T) {
	ResetLogger()
	logPath := filepath.Join(t.TempDir(), "tabdelta.log")
	SetLogPath(logPath)
	defer SetLogPath("")

	InitLogger()
	if log == nil {
		t.Fatal("Expected logger to be initialized, but got nil")
	}
	log.Info("Test log message")

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Fatal("Log file was not created")
	}
}

// TestGetLogger ensures that GetLogger returns a non-nil instance.
func TestGetLogger(t *testing.T) {
	ResetLogger()

	logger := GetLogger()
	if logger == nil {
		t.Fatal("Expected non-nil logger instance, but got nil")
	}
	if GetLogger() != logger {
		t.Fatal("Expected GetLogger to return the same instance")
	}
}

// TestLogOutput checks that messages reach the log file.
func TestLogOutput(t *testing.T) {
	ResetLogger()
	logPath := filepath.Join(t.TempDir(), "tabdelta.log")
	SetLogPath(logPath)
	defer SetLogPath("")

	GetLogger().Info("Writing to log file")
	Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !bytes.Contains(data, []byte("Writing to log file")) {
		t.Fatal("Expected log message not found in log file")
	}
}

// TestSetLevel checks that messages below the level are dropped.
func TestSetLevel(t *testing.T) {
	ResetLogger()
	defer ResetLogger()
	logPath := filepath.Join(t.TempDir(), "tabdelta.log")
	SetLogPath(logPath)
	defer SetLogPath("")

	if err := SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	GetLogger().Info("hidden message")
	GetLogger().Warn("visible message")

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	GetLogger().Debug("debug message")
	Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if bytes.Contains(data, []byte("hidden message")) {
		t.Fatal("Info message logged at warn level")
	}
	if !bytes.Contains(data, []byte("visible message")) || !bytes.Contains(data, []byte("debug message")) {
		t.Fatal("Expected log messages not found in log file")
	}

	if err := SetLevel("loud"); err == nil {
		t.Fatal("Expected error for unknown level")
	}
}
