package app

import (
	"log/slog"
	"os"
	"strings"
)

// newLogger builds the process-wide logger. Development runs get a
// human-readable text handler at debug level; everything else emits JSON
// for aggregation. Every record carries the service tag so the bot's lines
// are separable from whatever else shares the log stream.
func newLogger(env string) *slog.Logger {
	var handler slog.Handler
	if strings.EqualFold(env, "development") {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.New(handler).With(slog.String("service", "cakeday"))
}
