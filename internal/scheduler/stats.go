package scheduler

import "sync/atomic"

type statCounters struct {
	ticks            atomic.Uint64
	starvedTicks     atomic.Uint64
	cycles           atomic.Uint64
	lastCycleTicks   atomic.Uint64
	lastDetections   atomic.Uint64
	readbackTimeouts atomic.Uint64
	configChanges    atomic.Uint64
}

// Stats is a snapshot of the loop counters, safe to read from any
// goroutine.
type Stats struct {
	Ticks            uint64 `json:"ticks"`
	StarvedTicks     uint64 `json:"starved_ticks"`
	Cycles           uint64 `json:"cycles"`
	LastCycleTicks   uint64 `json:"last_cycle_ticks"`
	LastDetections   uint64 `json:"last_detections"`
	ReadbackTimeouts uint64 `json:"readback_timeouts"`
	ConfigChanges    uint64 `json:"config_changes"`
	State            string `json:"state"`
}

// Stats snapshots the counters and the current state.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:            s.stats.ticks.Load(),
		StarvedTicks:     s.stats.starvedTicks.Load(),
		Cycles:           s.stats.cycles.Load(),
		LastCycleTicks:   s.stats.lastCycleTicks.Load(),
		LastDetections:   s.stats.lastDetections.Load(),
		ReadbackTimeouts: s.stats.readbackTimeouts.Load(),
		ConfigChanges:    s.stats.configChanges.Load(),
		State:            s.State().String(),
	}
}
