package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{" error ", zapcore.ErrorLevel, false},
		{"verbose", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err=%v, wantErr=%v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit_WritesToFile(t *testing.T) {
	prevZ, prevL := Z, L
	t.Cleanup(func() { Z, L = prevZ, prevL })

	path := filepath.Join(t.TempDir(), "logs", "voiceform.log")
	if err := Init(Config{Level: "debug", File: path, Quiet: true}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	Infof("[test] hello %s", "file")
	Debugf("[test] debug line")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[test] hello file") {
		t.Errorf("log file missing info line:\n%s", data)
	}
	if !strings.Contains(string(data), "[test] debug line") {
		t.Errorf("log file missing debug line:\n%s", data)
	}
}

func TestInit_RejectsBadLevel(t *testing.T) {
	if err := Init(Config{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
