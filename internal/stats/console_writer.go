package stats

import (
	"sort"

	"github.com/rs/zerolog"
)

// ConsoleWriter logs summaries as structured log lines
type ConsoleWriter struct {
	id       string
	logger   zerolog.Logger
	logLevel zerolog.Level
	filter   map[string]bool // If non-nil, only log these metrics
}

// NewConsoleWriter creates a writer that logs at logLevel
func NewConsoleWriter(id string, logger zerolog.Logger, logLevel zerolog.Level) *ConsoleWriter {
	return &ConsoleWriter{
		id:       id,
		logger:   logger.With().Str("writer", "console").Logger(),
		logLevel: logLevel,
	}
}

// ID returns the writer's unique identifier
func (w *ConsoleWriter) ID() string {
	return w.id
}

// SetFilter restricts which metrics are logged (empty means all)
func (w *ConsoleWriter) SetFilter(names []string) {
	if len(names) == 0 {
		w.filter = nil
		return
	}

	w.filter = make(map[string]bool)
	for _, name := range names {
		w.filter[name] = true
	}
}

// Write logs one line per metric
func (w *ConsoleWriter) Write(category string, step int, values map[string]Summary) {
	names := make([]string, 0, len(values))
	for name := range values {
		if w.filter == nil || w.filter[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		summary := values[name]
		w.logger.WithLevel(w.logLevel).
			Str("category", category).
			Int("step", step).
			Str("metric", name).
			Float64("mean", summary.Mean).
			Float64("std", summary.Std).
			Int("count", summary.Count).
			Msg("Stats")
	}
}
