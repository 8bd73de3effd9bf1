package util

import (
	"log/slog"
	"os"
	"strings"
)

var Logger *slog.Logger

var level = new(slog.LevelVar)

func init() {
	level.Set(slog.LevelDebug)

	Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	slog.SetDefault(Logger) // Optionally set as default for global slog functions like slog.Info()
}

// Configure applies a log.filter string from embedsrv.yml, e.g.
// "embedsrv=trace,gin=debug,reject=trace", to the global logger's
// level. Only the "embedsrv" component is honored; the other
// components name log targets this server doesn't split out. "trace"
// maps to slog.LevelDebug, since slog has no level below it.
func Configure(filter string) {
	for _, entry := range strings.Split(filter, ",") {
		component, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || component != "embedsrv" {
			continue
		}
		if lvl, ok := parseLevel(value); ok {
			level.Set(lvl)
		}
	}
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return 0, false
	}
}

// Example of how to use it from other packages:
// import "github.com/embedsrv/embedsrv/internal/util"
// ...
// util.Logger.Info("Something happened", "key", "value")
// or if SetDefault was called:
// slog.Info("Something happened", "key", "value")
