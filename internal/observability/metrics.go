package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a small in-process counter set covering the pipeline's moving
// parts. Snapshot feeds the HTTP metrics endpoint.
type Metrics struct {
	stagesStarted   atomic.Int64
	stagesSucceeded atomic.Int64
	stagesFailed    atomic.Int64
	retries         atomic.Int64
	watchdogActions atomic.Int64
	gatesRan        atomic.Int64

	mu             sync.Mutex
	stageDurations map[string]*durationAgg
}

type durationAgg struct {
	count int64
	total time.Duration
	max   time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{stageDurations: map[string]*durationAgg{}}
}

func (m *Metrics) StageStarted()   { m.stagesStarted.Add(1) }
func (m *Metrics) StageSucceeded() { m.stagesSucceeded.Add(1) }
func (m *Metrics) StageFailed()    { m.stagesFailed.Add(1) }
func (m *Metrics) RetryScheduled() { m.retries.Add(1) }
func (m *Metrics) WatchdogActed()  { m.watchdogActions.Add(1) }
func (m *Metrics) GatesRan()       { m.gatesRan.Add(1) }

func (m *Metrics) ObserveStageDuration(stage string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agg, ok := m.stageDurations[stage]
	if !ok {
		agg = &durationAgg{}
		m.stageDurations[stage] = agg
	}
	agg.count++
	agg.total += d
	if d > agg.max {
		agg.max = d
	}
}

func (m *Metrics) Snapshot() map[string]any {
	out := map[string]any{
		"stages_started":   m.stagesStarted.Load(),
		"stages_succeeded": m.stagesSucceeded.Load(),
		"stages_failed":    m.stagesFailed.Load(),
		"retries":          m.retries.Load(),
		"watchdog_actions": m.watchdogActions.Load(),
		"gates_ran":        m.gatesRan.Load(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	durations := map[string]any{}
	for stage, agg := range m.stageDurations {
		avg := time.Duration(0)
		if agg.count > 0 {
			avg = agg.total / time.Duration(agg.count)
		}
		durations[stage] = map[string]any{
			"count":  agg.count,
			"avg_ms": avg.Milliseconds(),
			"max_ms": agg.max.Milliseconds(),
		}
	}
	out["stage_durations"] = durations
	return out
}
