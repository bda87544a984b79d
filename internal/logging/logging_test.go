package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, error %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestNewWithWriters_Fanout(t *testing.T) {
	var out, errOut bytes.Buffer
	logger, err := NewWithWriters("info", "text", &out, &errOut)
	if err != nil {
		t.Fatalf("NewWithWriters: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("hello", slog.String("component", "test"))
	logger.Error("boom")

	if strings.Contains(out.String(), "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(out.String(), "msg=hello component=test") {
		t.Errorf("stdout = %q, want the info line", out.String())
	}
	if strings.Contains(errOut.String(), "hello") {
		t.Error("info line duplicated to stderr")
	}
	if !strings.Contains(errOut.String(), `"msg":"boom"`) {
		t.Errorf("stderr = %q, want the error as JSON", errOut.String())
	}
}

func TestNewWithWriters_JSON(t *testing.T) {
	var out bytes.Buffer
	logger, err := NewWithWriters("debug", "json", &out, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewWithWriters: %v", err)
	}
	logger.Debug("x")
	if !strings.HasPrefix(out.String(), "{") {
		t.Errorf("stdout = %q, want JSON", out.String())
	}
}

func TestNewWithWriters_BadInput(t *testing.T) {
	if _, err := NewWithWriters("loud", "text", &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if _, err := NewWithWriters("info", "xml", &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
