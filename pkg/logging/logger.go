// Package logging configures zerolog for the Warcraft Logs client and proxy.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Format selects the log encoding.
type Format string

const (
	// FormatJSON writes one JSON object per line.
	FormatJSON Format = "json"

	// FormatConsole writes human-readable colored lines.
	FormatConsole Format = "console"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string

	// Format is json (default) or console.
	Format Format

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
// An unknown level is an error; the global logger is left unchanged.
func Setup(cfg Config) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return log.Logger, err
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	switch cfg.Format {
	case "", FormatJSON:
	case FormatConsole:
		output = zerolog.ConsoleWriter{Out: output}
	default:
		return log.Logger, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger, nil
}

// ParseLevel converts a level name to a zerolog level. The empty string is info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	}

	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow
//   - Cache hit/miss and cache writes (cache_key)
//   - Each loaded page cursor and page count
//   - Retry scheduling (attempt, backoff)
//
// Info: normal operation events
//   - Request succeeded after retry
//   - Server startup/shutdown
//
// Warn: conditions that don't prevent a result
//   - Retryable status or network failure
//   - Retry attempts exhausted
//   - Cache write failure (result still returned)
//   - 429 cooldown started, circuit breaker state change
//
// Error: conditions requiring attention
//   - Proxy request failed
//   - Configuration errors
//
// Context Fields:
//   - component: wcl-client, wcl-transport, wcl-proxy
//   - operation: events, rankings, zones, ...
//   - endpoint: resolved endpoint path (never the full URL, it carries api_key)
//   - status_code: HTTP status code
//   - attempt, backoff: retry progress
//   - cache_key: query cache key
//   - pages, cursor: pagination progress
