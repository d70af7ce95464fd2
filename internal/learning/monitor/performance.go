package monitor

import (
	"math"
	"sync"
	"time"

	"autoforge/internal/config"
	"autoforge/internal/learning/evaluation"
)

// Observation 一次线上指标观测
type Observation struct {
	Value float64   `json:"value"`
	Time  time.Time `json:"time"`
}

// PerformanceStatus 当前表现相对基线的比较
type PerformanceStatus struct {
	Metric      string  `json:"metric"`
	Baseline    float64 `json:"baseline"`
	Current     float64 `json:"current"`
	Degradation float64 `json:"degradation"`
	Alert       bool    `json:"alert"`
	// Ready 观测数尚不足以建立基线时为 false
	Ready bool `json:"ready"`
}

// PerformanceTracker 跟踪线上准确率或 R², 与前几次观测的平均值比较
type PerformanceTracker struct {
	mu          sync.Mutex
	metric      string
	window      int
	degradation float64
	history     []Observation
}

// NewPerformanceTracker creates a tracker; the baseline is the mean of the first
// PerformanceBaseline observations
func NewPerformanceTracker(metric string, th config.Thresholds) *PerformanceTracker {
	window := th.PerformanceBaseline
	if window < 1 {
		window = 1
	}
	return &PerformanceTracker{metric: metric, window: window, degradation: th.PerformanceDegradation}
}

// Record appends an observation and returns the comparison against the baseline
func (t *PerformanceTracker) Record(value float64, at time.Time) PerformanceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, Observation{Value: value, Time: at})

	status := PerformanceStatus{Metric: t.metric, Current: value}
	if len(t.history) <= t.window {
		return status
	}
	base := 0.0
	for _, o := range t.history[:t.window] {
		base += o.Value
	}
	base /= float64(t.window)
	status.Baseline, status.Ready = base, true

	if base != 0 {
		diff := base - value
		if !evaluation.HigherIsBetter(t.metric) {
			diff = -diff
		}
		status.Degradation = diff / math.Abs(base)
	}
	status.Alert = status.Degradation > t.degradation
	return status
}

// History returns a copy of the observations
func (t *PerformanceTracker) History() []Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Observation(nil), t.history...)
}
