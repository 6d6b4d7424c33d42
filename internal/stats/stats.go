package stats

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// Metric names recorded by the trajectory pipeline
const (
	PolicyEntropy               = "Policy/Entropy"
	PolicyLearningRate          = "Policy/Learning Rate"
	EnvironmentCumulativeReward = "Environment/Cumulative Reward"
	EnvironmentEpisodeLength    = "Environment/Episode Length"
)

// Recorder is the sink for scalar statistics
type Recorder interface {
	AddStat(name string, value float64)
}

// Summary aggregates every value recorded for one metric since the last write
type Summary struct {
	Mean  float64
	Std   float64
	Count int
}

// Writer receives aggregated summaries when a reporter is flushed
type Writer interface {
	ID() string
	Write(category string, step int, values map[string]Summary)
}

// Reporter collects statistics for one category (usually a behavior group)
// and periodically hands summaries to its writers
type Reporter struct {
	mu       sync.RWMutex
	category string
	values   map[string][]float64
	writers  map[string]Writer
	logger   zerolog.Logger
}

// NewReporter creates a reporter for category
func NewReporter(category string, logger zerolog.Logger) *Reporter {
	return &Reporter{
		category: category,
		values:   make(map[string][]float64),
		writers:  make(map[string]Writer),
		logger:   logger.With().Str("component", "stats_reporter").Str("category", category).Logger(),
	}
}

// AddWriter registers a writer, replacing any writer with the same ID
func (r *Reporter) AddWriter(w Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writers[w.ID()] = w
	r.logger.Debug().
		Str("writer_id", w.ID()).
		Msg("Stats writer added")
}

// RemoveWriter unregisters a writer
func (r *Reporter) RemoveWriter(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, id)
}

// AddStat records one occurrence of a metric
func (r *Reporter) AddStat(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = append(r.values[name], value)
}

// Summary aggregates the values recorded for name without clearing them
func (r *Reporter) Summary(name string) Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return summarize(r.values[name])
}

// WriteStats summarizes everything recorded so far, hands it to every
// writer and clears the recorded values
func (r *Reporter) WriteStats(step int) map[string]Summary {
	r.mu.Lock()
	summaries := make(map[string]Summary, len(r.values))
	for name, values := range r.values {
		if len(values) == 0 {
			continue
		}
		summaries[name] = summarize(values)
	}
	r.values = make(map[string][]float64)

	writers := make([]Writer, 0, len(r.writers))
	for _, w := range r.writers {
		writers = append(writers, w)
	}
	r.mu.Unlock()

	sort.Slice(writers, func(i, j int) bool { return writers[i].ID() < writers[j].ID() })
	for _, w := range writers {
		// A misbehaving writer must not stop the others
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error().
						Str("writer_id", w.ID()).
						Interface("panic", rec).
						Msg("Stats writer panicked")
				}
			}()
			w.Write(r.category, step, summaries)
		}()
	}

	return summaries
}

// Category returns the reporter's category
func (r *Reporter) Category() string {
	return r.category
}

func summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Summary{
		Mean:  mean,
		Std:   std,
		Count: len(values),
	}
}
