package logx

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	// Must not panic.
	l.Info("dropped", String("k", "v"))
	l.With(Int("n", 1)).Error("also dropped", Err(nil))
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()

	l := Nop()
	if l.IsZero() {
		t.Fatal("Nop() logger should not be the zero value")
	}
	l.Warn("goes nowhere")
}

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.With(String("comp", "test")).Info("hello",
		Int("count", 3), Bool("ok", true), Duration("took", 5*time.Millisecond))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	var rec map[string]any
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("log file is empty")
	}
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, sc.Text())
	}
	if rec["message"] != "hello" {
		t.Fatalf("message = %v, want hello", rec["message"])
	}
	if rec["comp"] != "test" {
		t.Fatalf("comp = %v, want test (With field missing)", rec["comp"])
	}
	if rec["count"] != float64(3) {
		t.Fatalf("count = %v, want 3", rec["count"])
	}
	caller, _ := rec["caller"].(string)
	if !strings.HasPrefix(caller, "logging_test.go:") {
		t.Fatalf("caller = %q, want short file:line from this test", caller)
	}
}

func TestApplySwitchesLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("filtered out")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	log.Info("now visible")
	_ = svc.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "filtered out") {
		t.Fatal("info line logged while level was error")
	}
	if !strings.Contains(string(data), "now visible") {
		t.Fatal("info line missing after Apply lowered the level")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{" WARN ", "warn"},
		{"warning", "warn"},
		{"off", "disabled"},
		{"bogus", "info"},
		{"", "info"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			if got := parseLevel(tt.in, 1).String(); got != tt.want {
				t.Fatalf("parseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
