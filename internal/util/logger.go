// Package util provides logging setup and host information helpers.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the name of the active log file inside the log directory.
const LogFileName = "multisnake.log"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Console:    true,
	}
}

var activeFile *lumberjack.Logger

// InitLogger initializes the zerolog global logger. JSON lines go to a size
// rotated file; a human-readable copy goes to stdout when Console is set.
// Calling it again replaces the previous outputs.
func InitLogger(cfg LogConfig) error {
	// Parse log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure time format
	zerolog.TimeFieldFormat = time.RFC3339

	// Create log directory
	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	if cfg.MaxSizeMB < 1 {
		cfg.MaxSizeMB = 1
	}
	logFilePath := filepath.Join(cfg.Directory, LogFileName)
	file := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.MaxSizeMB, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays, // days
	}

	// File writer (JSON format for machine parsing)
	writers := []io.Writer{file}

	// Console writer (human-readable format)
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "multisnake").
		Caller().
		Logger()

	if activeFile != nil {
		activeFile.Close()
	}
	activeFile = file

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	return nil
}

// CloseLogger flushes and closes the log file.
func CloseLogger() error {
	if activeFile == nil {
		return nil
	}
	err := activeFile.Close()
	activeFile = nil
	return err
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
