package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	SetLevel(LevelWarn)
	defer SetLevel(LevelInfo)

	Debug("debug line")
	Info("info line")
	Warn("warn line", "pivot", "2024-06-15")
	Error("error line", errors.New("boom"), "status", 502)

	out := buf.String()
	if strings.Contains(out, "debug line") || strings.Contains(out, "info line") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "[WARN] warn line pivot=2024-06-15") {
		t.Fatalf("missing warn line in %q", out)
	}
	if !strings.Contains(out, "[ERROR] error line err=boom status=502") {
		t.Fatalf("missing error line in %q", out)
	}
}

func TestFormatKVsQuotesAndOddArgs(t *testing.T) {
	got := formatKVs("subject", "team lunch", "count", 2, "dangling")
	want := ` subject="team lunch" count=2`
	if got != want {
		t.Fatalf("formatKVs = %q, want %q", got, want)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Errorf("ParseLevel(verbose) should report unknown")
	}
}
