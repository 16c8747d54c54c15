// Package obslog builds the module's root slog.Logger and owns its field
// conventions: components get a "component" attribute via WithComponent,
// and everything scoped to one managed device goes through WithDevice so
// every record carries the device's "ip". Worker code adds "reconnect"
// when a device connects.
package obslog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the root logger's behavior.
type Options struct {
	// Level is debug, info, warn or error; anything else means info.
	Level string
	// Format is "text" or "json"; anything else means json.
	Format string
	// File, when set, appends a copy of every record to that path in
	// addition to stdout.
	File string
}

// New creates the root logger. A log file that cannot be opened degrades
// to stdout-only logging rather than failing startup. The returned closer
// releases the file and is a no-op when no file is in play.
func New(opts Options) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
		lvl = slog.LevelInfo
	}

	w, closer := sink(opts.File)

	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(h), closer
}

// WithComponent scopes a logger to one named component of the module
// (registry, housekeep, ...).
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}

// WithDevice scopes a logger to one managed device; every record carries
// the device's address.
func WithDevice(logger *slog.Logger, ip string) *slog.Logger {
	return logger.With("component", "device", "ip", ip)
}

// sink picks the destination: stdout alone, or stdout plus the append-only
// file. Open failures are reported once through a bootstrap stderr logger.
func sink(path string) (io.Writer, io.Closer) {
	if path == "" {
		return os.Stdout, nopCloser{}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		boot := slog.New(slog.NewTextHandler(os.Stderr, nil))
		boot.Warn("log file unavailable, keeping stdout only", "path", path, "error", err)
		return os.Stdout, nopCloser{}
	}
	return io.MultiWriter(os.Stdout, f), f
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
