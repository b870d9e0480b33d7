package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_ConsoleOnly(t *testing.T) {
	log, err := New(Config{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug level must be enabled")
	}
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "chatty", Format: "console"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug must be suppressed after level fallback")
	}
	if !log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info must be enabled after level fallback")
	}
}

func TestNew_FileSinkWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	log, err := New(Config{
		Level:  "info",
		Format: "json",
		File:   FileConfig{Enabled: true, Path: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	log.Info("hello from the file sink")
	_ = log.Sync()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("log file is empty")
	}
}
