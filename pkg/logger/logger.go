// Package logger owns the process wide slog loggers: the application logger
// returned by L and Named, and the audit logger that records privileged API
// calls.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	Outputs   []string `yaml:"outputs"`
	AddSource bool     `yaml:"add_source"`
	// Rotation applies to every output that is a file path.
	Rotation Rotation    `yaml:"rotation"`
	Audit    AuditConfig `yaml:"audit"`
}

// AuditConfig controls the audit log. Authenticated API calls and permission
// changes are written here when enabled; otherwise they go to the application
// logger.
type AuditConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Path     string   `yaml:"path"`
	Rotation Rotation `yaml:",inline"`
}

var (
	mu          sync.RWMutex
	level       = new(slog.LevelVar)
	appLogger   *slog.Logger
	auditLogger *slog.Logger
	closers     []io.Closer
)

// Init builds the loggers from cfg and installs the application logger as the
// slog default. Calling it again replaces the previous loggers and closes
// their files.
func Init(cfg Config) error {
	if err := SetLevel(cfg.Level); err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}

	var opened []io.Closer
	writer, err := openOutputs(cfg.Outputs, cfg.Rotation, &opened)
	if err != nil {
		closeAll(opened)
		return err
	}
	app := slog.New(newHandler(cfg.Format, writer, opts))

	audit := app
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(opened)
			return errors.New("audit log path cannot be empty when enabled")
		}
		rotating, err := newRotatingWriter(cfg.Audit.Path, cfg.Audit.Rotation)
		if err != nil {
			closeAll(opened)
			return err
		}
		opened = append(opened, rotating)
		audit = slog.New(slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	mu.Lock()
	previous := closers
	appLogger, auditLogger, closers = app, audit, opened
	mu.Unlock()

	slog.SetDefault(app)
	closeAll(previous)
	return nil
}

// SetLevel changes the minimum level of the application logger at runtime.
// An empty name means info.
func SetLevel(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		level.Set(slog.LevelInfo)
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level %q", name)
	}
	return nil
}

func openOutputs(outputs []string, rotation Rotation, opened *[]io.Closer) (io.Writer, error) {
	if len(outputs) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		switch strings.ToLower(strings.TrimSpace(out)) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			file, err := newRotatingWriter(out, rotation)
			if err != nil {
				return nil, fmt.Errorf("open log output %s: %w", out, err)
			}
			*opened = append(*opened, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func closeAll(list []io.Closer) error {
	var err error
	for _, c := range list {
		err = errors.Join(err, c.Close())
	}
	return err
}

// L returns the application logger, falling back to stdout JSON when Init
// was never called.
func L() *slog.Logger {
	mu.RLock()
	l := appLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if appLogger == nil {
		appLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return appLogger
}

// Audit returns the audit logger.
func Audit() *slog.Logger {
	mu.RLock()
	l := auditLogger
	mu.RUnlock()
	if l == nil {
		return L()
	}
	return l
}

// Named returns a child logger tagged with the provided component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync closes the log files opened by Init. Later writes reopen them.
func Sync() error {
	mu.Lock()
	list := closers
	closers = nil
	mu.Unlock()
	return closeAll(list)
}
