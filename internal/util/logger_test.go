package util

import (
	"log/slog"
	"testing"
)

func TestConfigure(t *testing.T) {
	defer Configure("embedsrv=trace,gin=debug,reject=trace")

	Configure("embedsrv=warn,gin=debug")
	if got := level.Level(); got != slog.LevelWarn {
		t.Errorf("expected LevelWarn, got %v", got)
	}

	Configure("embedsrv=trace")
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("expected trace to map to LevelDebug, got %v", got)
	}

	Configure("gin=error")
	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("expected unrelated components to be ignored, got %v", got)
	}
}
