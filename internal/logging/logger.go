// Package logging builds the zerolog loggers shared by the sync daemon and
// the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"pharmsync/internal/config"
	"pharmsync/internal/models"

	"github.com/rs/zerolog"
)

// New constructs the base logger from config. Empty fields mean json, info
// level and stdout. Durations are written as integer milliseconds.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	output, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}
	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	host, _ := os.Hostname()
	base := zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Str("host", host).
		Logger()

	return &base, closer, nil
}

func parseLevel(raw string) zerolog.Level {
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw))); err == nil && parsed != zerolog.NoLevel {
		return parsed
	}
	return zerolog.InfoLevel
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return file, file, nil
	default:
		return os.Stdout, nil, nil
	}
}

// ForPass tags log lines of one scheduling pass.
func ForPass(l *zerolog.Logger, backend *models.Backend, entity models.EntityType) zerolog.Logger {
	return l.With().
		Int64("backend_id", backend.ID).
		Str("backend", backend.Name).
		Str("entity", string(entity)).
		Logger()
}

// ForTask tags log lines of one import task.
func ForTask(l *zerolog.Logger, task *models.ImportTask) zerolog.Logger {
	ctx := l.With().
		Int64("task_id", task.ID).
		Int64("backend_id", task.BackendID).
		Str("entity", string(task.Entity)).
		Str("remote_id", task.RemoteID)
	if task.Force {
		ctx = ctx.Bool("force", true)
	}
	return ctx.Logger()
}
