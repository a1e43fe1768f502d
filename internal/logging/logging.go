package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a text logger on stdout, teed into path when set. If the file
// cannot be opened the logger falls back to stdout and says so.
func New(level, path string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	if path == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nopCloser{}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l := slog.New(slog.NewTextHandler(os.Stdout, opts))
		l.Error("failed to open log file", "path", path, "err", err)
		return l, nopCloser{}
	}
	l := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, f), opts))
	l.Info("logger initialized", "file", path)
	return l, f
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
