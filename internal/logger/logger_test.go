package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, WARNING)

	l.Info("hidden")
	l.Warnf("visible %d", 1)
	l.Errorf("visible %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("expected INFO message to be filtered")
	}
	if !strings.Contains(out, "[WARNING] visible 1") {
		t.Errorf("expected warning line, got %q", out)
	}
	if !strings.Contains(out, "[ERROR] visible 2") {
		t.Errorf("expected error line, got %q", out)
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, ERROR)

	l.Debug("before")
	l.SetLevel(DEBUG)
	l.Debug("after")

	if strings.Contains(buf.String(), "before") {
		t.Error("expected debug message before SetLevel to be dropped")
	}
	if !strings.Contains(buf.String(), "[DEBUG] after") {
		t.Error("expected debug message after SetLevel")
	}
	if l.Level() != DEBUG {
		t.Errorf("expected level DEBUG, got %s", l.Level())
	}
}

func TestInitializeWritesFile(t *testing.T) {
	dir := t.TempDir()
	l := New(&bytes.Buffer{}, INFO)

	if err := l.Initialize(dir, INFO); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	l.Info("rotated line")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "[INFO] rotated line") {
		t.Errorf("expected log file to contain line, got %q", string(data))
	}
}

func TestLevelString(t *testing.T) {
	if CRITICAL.String() != "CRITICAL" {
		t.Errorf("unexpected name %s", CRITICAL.String())
	}
	if LogLevel(42).String() != "LEVEL(42)" {
		t.Errorf("unexpected name %s", LogLevel(42).String())
	}
}
