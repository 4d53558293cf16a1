// File: internal/stats/aggregator.go
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Aggregator counts bypass outcomes across all runs of the process. It is safe for concurrent
// use; construct one per service and pass it to whoever finishes runs.
type Aggregator struct {
	startedAt  time.Time
	totalRuns  atomic.Int64
	detections atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
}

// Snapshot is a consistent-enough copy of the counters for reporting.
type Snapshot struct {
	TotalRuns   int64         `json:"totalRuns"`
	Detections  int64         `json:"detections"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	SuccessRate float64       `json:"successRate"`
	Uptime      time.Duration `json:"-"`
}

// NewAggregator returns an Aggregator with zeroed counters.
func NewAggregator() *Aggregator {
	return &Aggregator{startedAt: time.Now()}
}

// RecordRun counts one finished run. succeeded is only consulted when detected is true; a nil
// value counts as a failure.
func (a *Aggregator) RecordRun(detected bool, succeeded *bool) {
	a.totalRuns.Add(1)
	if !detected {
		return
	}
	a.detections.Add(1)
	if succeeded != nil && *succeeded {
		a.successes.Add(1)
	} else {
		a.failures.Add(1)
	}
}

// SuccessRate is successes per detection as a percentage, 100 when nothing was detected yet.
func (a *Aggregator) SuccessRate() float64 {
	return rate(a.successes.Load(), a.detections.Load())
}

func rate(successes, detections int64) float64 {
	if detections == 0 {
		return 100
	}
	return float64(successes) / float64(detections) * 100
}

// Snapshot copies the current counters.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		TotalRuns:  a.totalRuns.Load(),
		Detections: a.detections.Load(),
		Successes:  a.successes.Load(),
		Failures:   a.failures.Load(),
		Uptime:     time.Since(a.startedAt),
	}
	s.SuccessRate = rate(s.Successes, s.Detections)
	return s
}

// Reset zeroes every counter. The uptime clock keeps running.
func (a *Aggregator) Reset() {
	a.totalRuns.Store(0)
	a.detections.Store(0)
	a.successes.Store(0)
	a.failures.Store(0)
}

// Bool returns a pointer to b, for RecordRun call sites.
func Bool(b bool) *bool { return &b }

// FormatUptime renders d as "3d 4h 5m 6s", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
