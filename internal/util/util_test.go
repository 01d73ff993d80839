package util

import (
	"log/slog"
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("req")
	b := NewID("req")
	if a == b {
		t.Fatal("expected unique ids")
	}
	if !strings.HasPrefix(a, "req_") || len(a) != len("req_")+32 {
		t.Fatalf("unexpected id %q", a)
	}
	if bare := NewID(""); len(bare) != 32 || strings.Contains(bare, "_") {
		t.Fatalf("unexpected bare id %q", bare)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
