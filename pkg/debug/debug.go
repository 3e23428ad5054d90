// Package debug provides category-based debug logging for parley.
//
// Categories select WHAT to debug and come from PARLEY_DEBUG or the config
// file. The level selects HOW MUCH detail and comes from PARLEY_LOG_LEVEL
// or the config file. The environment always wins.
//
//	debug.Log("runs", "polling", "run_id", runID, "status", status)
//	if debug.Enabled("stream") { /* expensive formatting */ }
//
// Categories: completion, engine, stream, tools, runs, agents, mcp,
// storage, notify, auth, transport, config, all.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
const LevelTrace = slog.LevelDebug - 4

const (
	envCategories = "PARLEY_DEBUG"
	envLevel      = "PARLEY_LOG_LEVEL"
	envFormat     = "PARLEY_LOG_FORMAT"
)

// categories holds the set of enabled debug categories. It is written by
// Init at startup and read-only afterwards.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv(envCategories))
}

// Settings holds the logging configuration from the config file.
type Settings struct {
	Categories string
	Level      string
	// Format is "text" (default) or "json".
	Format string
}

// Init installs the default slog logger and the enabled categories.
// Environment variables override the given settings.
func Init(s Settings) {
	InitTo(os.Stderr, s)
}

// InitTo is Init with an explicit output.
func InitTo(w io.Writer, s Settings) {
	categories = parseCategories(firstNonEmpty(os.Getenv(envCategories), s.Categories))

	opts := &slog.HandlerOptions{
		Level: ParseLevel(firstNonEmpty(os.Getenv(envLevel), s.Level)),
	}
	var h slog.Handler
	if strings.EqualFold(firstNonEmpty(os.Getenv(envFormat), s.Format), "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category. It is a no-op when
// the category is disabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories, for status reporting.
func Categories() []string {
	var result []string
	for k := range categories {
		result = append(result, k)
	}
	return result
}

// Truncate returns s cut to maxLen bytes, with "..." appended if cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
