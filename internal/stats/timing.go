// File: internal/stats/timing.go
package stats

import (
	"fmt"
	"sync"
	"time"
)

// Checkpoint names recorded during one bypass run.
const (
	CheckpointInit            = "init"
	CheckpointContextReady    = "contextReady"
	CheckpointNavigated       = "navigated"
	CheckpointDetected        = "detected"
	CheckpointBypassed        = "bypassed"
	CheckpointScreenshotTaken = "screenshotTaken"
	CheckpointTotal           = "total"
)

var knownCheckpoints = map[string]bool{
	CheckpointInit:            true,
	CheckpointContextReady:    true,
	CheckpointNavigated:       true,
	CheckpointDetected:        true,
	CheckpointBypassed:        true,
	CheckpointScreenshotTaken: true,
	CheckpointTotal:           true,
}

// Mark is one recorded checkpoint.
type Mark struct {
	Name      string `json:"name"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// Timing records elapsed milliseconds at named checkpoints of a single run. Each checkpoint is
// recorded at most once and "total" closes the recorder.
type Timing struct {
	mu     sync.Mutex
	start  time.Time
	marks  []Mark
	seen   map[string]bool
	closed bool
	now    func() time.Time
}

// NewTiming starts the clock.
func NewTiming() *Timing {
	return newTimingWithClock(time.Now)
}

func newTimingWithClock(now func() time.Time) *Timing {
	return &Timing{start: now(), seen: make(map[string]bool), now: now}
}

// Mark records name at the current elapsed time.
func (t *Timing) Mark(name string) error {
	if !knownCheckpoints[name] {
		return fmt.Errorf("unknown timing checkpoint %q", name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("timing checkpoint %q recorded after total", name)
	}
	if t.seen[name] {
		return fmt.Errorf("timing checkpoint %q already recorded", name)
	}

	elapsed := t.now().Sub(t.start).Milliseconds()
	// The clock is monotonic, but keep the sequence non-decreasing even for injected clocks.
	if n := len(t.marks); n > 0 && elapsed < t.marks[n-1].ElapsedMs {
		elapsed = t.marks[n-1].ElapsedMs
	}
	t.marks = append(t.marks, Mark{Name: name, ElapsedMs: elapsed})
	t.seen[name] = true
	if name == CheckpointTotal {
		t.closed = true
	}
	return nil
}

// Finish records "total" unless it is already there and returns the snapshot.
func (t *Timing) Finish() []Mark {
	_ = t.Mark(CheckpointTotal)
	return t.Snapshot()
}

// Snapshot returns the checkpoints in insertion order.
func (t *Timing) Snapshot() []Mark {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Mark, len(t.marks))
	copy(out, t.marks)
	return out
}

// Map returns the checkpoints keyed by name, for JSON payloads.
func (t *Timing) Map() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.marks))
	for _, m := range t.marks {
		out[m.Name] = m.ElapsedMs
	}
	return out
}
