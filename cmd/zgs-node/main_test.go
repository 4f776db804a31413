package main

import (
	"log/slog"
	"testing"
)

func TestVerbosityToLevel(t *testing.T) {
	tests := []struct {
		verbosity int
		want      slog.Level
	}{
		{-1, slog.LevelError},
		{0, slog.LevelError},
		{1, slog.LevelWarn},
		{2, slog.LevelInfo},
		{3, slog.LevelDebug},
		{100, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := verbosityToLevel(tt.verbosity); got != tt.want {
			t.Errorf("verbosityToLevel(%d) = %v, want %v", tt.verbosity, got, tt.want)
		}
	}
}
