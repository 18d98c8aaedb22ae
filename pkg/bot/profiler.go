// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package bot

import (
	"sync"
	"time"
)

// CheckpointStats is the timing of one named step of the loop. Each sample
// is the time since the previous checkpoint (or the loop start).
type CheckpointStats struct {
	Name  string
	Count int
	Total time.Duration
	Max   time.Duration
}

// Mean returns the average step time
func (c CheckpointStats) Mean() time.Duration {
	if c.Count == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Count)
}

// Profiler times the steps of each engine loop iteration
type Profiler struct {
	mu    sync.Mutex
	now   func() time.Time
	last  time.Time
	start time.Time
	stats map[string]*CheckpointStats
	order []string
	loop  CheckpointStats
}

// NewProfiler creates a profiler reading time from now
func NewProfiler(now func() time.Time) *Profiler {
	if now == nil {
		now = time.Now
	}
	return &Profiler{now: now, stats: map[string]*CheckpointStats{}, loop: CheckpointStats{Name: "loop"}}
}

// StartLoop marks the start of an iteration
func (p *Profiler) StartLoop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = p.now()
	p.last = p.start
}

// Checkpoint records the time since the previous checkpoint under name
func (p *Profiler) Checkpoint(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	s, ok := p.stats[name]
	if !ok {
		s = &CheckpointStats{Name: name}
		p.stats[name] = s
		p.order = append(p.order, name)
	}
	observe(s, now.Sub(p.last))
	p.last = now
}

// EndLoop records the whole iteration time
func (p *Profiler) EndLoop() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.now().Sub(p.start)
	observe(&p.loop, d)
	return d
}

func observe(s *CheckpointStats, d time.Duration) {
	s.Count++
	s.Total += d
	if d > s.Max {
		s.Max = d
	}
}

// Snapshot returns the checkpoints in first-seen order followed by the loop
func (p *Profiler) Snapshot() []CheckpointStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CheckpointStats, 0, len(p.order)+1)
	for _, name := range p.order {
		out = append(out, *p.stats[name])
	}
	return append(out, p.loop)
}

// Clear drops every aggregate
func (p *Profiler) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = map[string]*CheckpointStats{}
	p.order = nil
	p.loop = CheckpointStats{Name: "loop"}
}
