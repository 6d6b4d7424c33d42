package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DepthSource is anything that can report how many items are waiting
type DepthSource interface {
	Len() int
	BehaviorID() string
}

// QueueMonitor tracks the depth of handoff queues. A consumer that stops
// draining makes a queue grow without bound, so depth is the signal to watch.
type QueueMonitor struct {
	mu             sync.RWMutex
	sources        map[string]DepthSource
	current        map[string]int
	peak           map[string]int
	checkInterval  time.Duration
	alertThreshold int
	alertCooldown  time.Duration
	lastAlert      map[string]time.Time
	logger         zerolog.Logger

	now func() time.Time
}

// NewQueueMonitor creates a monitor that checks every checkInterval and warns
// once a queue holds more than alertThreshold items
func NewQueueMonitor(checkInterval time.Duration, alertThreshold int, alertCooldown time.Duration, logger zerolog.Logger) *QueueMonitor {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	return &QueueMonitor{
		sources:        make(map[string]DepthSource),
		current:        make(map[string]int),
		peak:           make(map[string]int),
		lastAlert:      make(map[string]time.Time),
		checkInterval:  checkInterval,
		alertThreshold: alertThreshold,
		alertCooldown:  alertCooldown,
		logger:         logger.With().Str("component", "queue_monitor").Logger(),
		now:            time.Now,
	}
}

// Register adds a queue under name
func (m *QueueMonitor) Register(name string, source DepthSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = source
}

// Run checks queues until ctx is cancelled
func (m *QueueMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.Info().
		Dur("check_interval", m.checkInterval).
		Int("alert_threshold", m.alertThreshold).
		Msg("Started queue monitoring")

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-ctx.Done():
			return nil
		}
	}
}

// Check samples every registered queue once and returns how many alerts fired
func (m *QueueMonitor) Check() int {
	now := m.now()
	type alert struct {
		name       string
		behaviorID string
		depth      int
	}
	var alerts []alert

	m.mu.Lock()
	for name, source := range m.sources {
		depth := source.Len()
		m.current[name] = depth
		if depth > m.peak[name] {
			m.peak[name] = depth
		}

		m.logger.Debug().
			Str("queue", name).
			Str("behavior_id", source.BehaviorID()).
			Int("depth", depth).
			Int("peak", m.peak[name]).
			Msg("Queue metrics")

		if depth > m.alertThreshold && now.Sub(m.lastAlert[name]) >= m.alertCooldown {
			m.lastAlert[name] = now
			alerts = append(alerts, alert{name: name, behaviorID: source.BehaviorID(), depth: depth})
		}
	}
	m.mu.Unlock()

	for _, a := range alerts {
		m.logger.Warn().
			Str("queue", a.name).
			Str("behavior_id", a.behaviorID).
			Int("depth", a.depth).
			Int("threshold", m.alertThreshold).
			Msg("Queue depth above threshold - consumer may have stalled")
	}

	return len(alerts)
}

// GetMetrics returns the latest depth samples
func (m *QueueMonitor) GetMetrics() QueueMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return QueueMetrics{
		Current: copyMap(m.current),
		Peak:    copyMap(m.peak),
	}
}

// QueueMetrics contains queue depth statistics keyed by queue name
type QueueMetrics struct {
	Current map[string]int `json:"current"`
	Peak    map[string]int `json:"peak"`
}

func copyMap(m map[string]int) map[string]int {
	result := make(map[string]int, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
