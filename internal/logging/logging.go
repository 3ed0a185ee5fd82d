// Package logging configures the process-wide structured logger. One
// evaluation run gets one ULID, and every record can fan out to an
// interactive console, a per-run JSON audit file, and an alert webhook.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/execgate/execgate/internal/safefileio"
	"github.com/execgate/execgate/internal/terminal"
)

const (
	logDirPerm  = 0o750
	logFilePerm = 0o600

	// schemaVersion identifies the JSON record layout written to run logs.
	schemaVersion = 1
)

// ErrEmptyLogDirectory is returned when a run log is requested without a
// directory to put it in.
var ErrEmptyLogDirectory = errors.New("log directory cannot be empty")

// Config controls Setup.
type Config struct {
	// Level is the minimum level for all handlers.
	Level slog.Level

	// Quiet suppresses console logging. The run log and webhook still apply.
	Quiet bool

	// JSONConsole forces machine-readable console output even on a TTY.
	JSONConsole bool

	// LogDir, when set, receives one auto-named JSON log file per run.
	LogDir string

	// RunID tags every record of this evaluation run.
	RunID string

	// WebhookURL, when set, receives records carrying alert=true.
	WebhookURL string

	// Console is the console destination. Defaults to os.Stderr.
	Console io.Writer

	// Terminal controls interactivity and color detection.
	Terminal terminal.Options
}

// Setup installs the process-wide default logger. Interactive sessions get
// compact colored text on the console and everything else gets JSON, so the
// same binary reads well on a terminal and parses well in a pipeline.
func Setup(cfg Config) error {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	caps := terminal.NewCapabilities(cfg.Terminal)

	var handlers []slog.Handler
	if !cfg.Quiet {
		if cfg.JSONConsole || !caps.IsInteractive() {
			handlers = append(handlers, slog.NewJSONHandler(console, &slog.HandlerOptions{Level: cfg.Level}))
		} else {
			handlers = append(handlers, NewConsoleHandler(console, cfg.Level, caps.SupportsColor()))
		}
	}

	if cfg.LogDir != "" {
		fileHandler, err := newRunLogHandler(cfg.LogDir, cfg.RunID, cfg.Level)
		if err != nil {
			return err
		}
		handlers = append(handlers, fileHandler)
	}

	if cfg.WebhookURL != "" {
		webhook, err := NewWebhookHandler(cfg.WebhookURL, cfg.RunID)
		if err != nil {
			return err
		}
		handlers = append(handlers, webhook)
	}

	if len(handlers) == 0 {
		slog.SetDefault(slog.New(discardHandler{}))
		return nil
	}
	slog.SetDefault(slog.New(NewMultiHandler(handlers...)))
	return nil
}

// discardHandler is slog.DiscardHandler for toolchains that predate it
// (added in Go 1.24): disabled at every level, drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// newRunLogHandler creates the per-run JSON file handler. The descriptor
// stays open for the life of the process.
func newRunLogHandler(dir, runID string, level slog.Level) (slog.Handler, error) {
	if err := validateLogDir(dir); err != nil {
		return nil, err
	}

	file, err := safefileio.SafeCreateFile(runLogPath(dir, runID, time.Now()), logFilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	hostname, _ := os.Hostname()
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}).WithAttrs([]slog.Attr{
		slog.String("hostname", hostname),
		slog.Int("pid", os.Getpid()),
		slog.Int("schema_version", schemaVersion),
		slog.String("run_id", runID),
	})
	return handler, nil
}

// runLogPath builds dir/hostname_timestamp_runid.json. Hostname and run ID
// keep concurrent runs on shared log directories from colliding.
func runLogPath(dir, runID string, now time.Time) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	timestamp := now.UTC().Format("20060102T150405Z")
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.json", hostname, timestamp, runID))
}

// validateLogDir ensures the log directory exists and is writable before the
// run starts, so a misconfigured path fails up front instead of mid-run.
func validateLogDir(dir string) error {
	if dir == "" {
		return ErrEmptyLogDirectory
	}
	if err := os.MkdirAll(dir, logDirPerm); err != nil {
		return fmt.Errorf("cannot create log directory %s: %w", dir, err)
	}

	probe := filepath.Join(dir, ".write_test")
	f, err := safefileio.SafeCreateFile(probe, logFilePerm)
	if err != nil {
		return fmt.Errorf("cannot write to log directory %s: %w", dir, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close probe file: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove probe file: %w", err)
	}
	return nil
}
