// Package settings holds the live-tunable performance parameters shared
// between the control plane and the detection scheduler.
package settings

import (
	"errors"
	"log/slog"
	"sync"
)

/// LayerBudgetUnbounded disables per-tick slicing: the whole network runs
// to completion within a single tick.
const LayerBudgetUnbounded = -1

// Execution mode and threshold quality values understood by the store.
const (
	ModeLow  = "low"
	ModeHigh = "high"
	ModeFull = "full"

	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// Property names accepted by HandleChange.
const (
	PropExecutionMode = "ExecutionMode"
	PropThreshold     = "Threshold"
)

const (
	budgetLow  = 4
	budgetHigh = 16

	thresholdLow    = 0.1
	thresholdMedium = 0.3
	thresholdHigh   = 0.6
)

var (
	ErrEmptySubscriberID     = errors.New("settings: empty subscriber id")
	ErrDuplicateSubscriberID = errors.New("settings: duplicate subscriber id")
)

// ValidExecutionMode reports whether mode is one the store understands.
func ValidExecutionMode(mode string) bool {
	switch mode {
	case ModeLow, ModeHigh, ModeFull:
		return true
	}
	return false
}

// ValidThresholdQuality reports whether quality is one the store
// understands.
func ValidThresholdQuality(quality string) bool {
	switch quality {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// Params is the snapshot read by the scheduler at the start of each
// relevant step. Never cached across ticks.
type Params struct {
	// LayerBudget is the maximum number of network layers advanced per
	// tick, or LayerBudgetUnbounded.
	LayerBudget int

	// Threshold is the confidence cutoff applied when decoding, in [0,1].
	Threshold float64

	// ExecutionMode and Quality name the discrete settings the numeric
	// values were derived from.
	ExecutionMode string
	Quality       string
}

// Store owns the Params and notifies subscribers when they change.
//
// Thread-safety: all methods are safe for concurrent use. Subscriber
// callbacks run synchronously on the goroutine that applied the change
// (usually the control plane), so they must return quickly and must not
// call back into the Store.
type Store struct {
	mu     sync.RWMutex
	params Params
	subs   map[string]func(Params)
}

// NewStore creates a store with parameters derived from the initial
// execution mode and threshold quality. Unrecognized initial values fall
// back to high/medium.
func NewStore(executionMode, thresholdQuality string) *Store {
	s := &Store{
		params: Params{
			LayerBudget:   budgetHigh,
			Threshold:     thresholdMedium,
			ExecutionMode: ModeHigh,
			Quality:       QualityMedium,
		},
		subs: make(map[string]func(Params)),
	}
	s.SetExecutionMode(executionMode)
	s.SetThresholdQuality(thresholdQuality)
	return s
}

// Params returns the current parameter snapshot.
func (s *Store) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Subscribe registers fn to be called with the new Params after every
// effective change. The id must be unique among live subscribers.
func (s *Store) Subscribe(id string, fn func(Params)) error {
	if id == "" {
		return ErrEmptySubscriberID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[id]; exists {
		return ErrDuplicateSubscriberID
	}
	s.subs[id] = fn
	return nil
}

// Unsubscribe removes a subscriber. Unknown ids are ignored, so teardown
// paths may call it more than once.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// HandleChange applies a named property change. Unknown properties and
// unrecognized values leave the current parameters untouched.
func (s *Store) HandleChange(property, value string) {
	switch property {
	case PropExecutionMode:
		s.SetExecutionMode(value)
	case PropThreshold:
		s.SetThresholdQuality(value)
	default:
		slog.Warn("ignoring unknown settings property", "property", property)
	}
}

// SetExecutionMode recomputes the layer budget from a discrete mode.
// Unrecognized modes keep the previous budget.
func (s *Store) SetExecutionMode(mode string) {
	var budget int
	switch mode {
	case ModeLow:
		budget = budgetLow
	case ModeHigh:
		budget = budgetHigh
	case ModeFull:
		budget = LayerBudgetUnbounded
	default:
		slog.Warn("ignoring unrecognized execution mode", "mode", mode)
		return
	}

	s.apply(func(p *Params) {
		p.LayerBudget = budget
		p.ExecutionMode = mode
	})
}

// SetThresholdQuality recomputes the confidence threshold from a
// discrete quality. Unrecognized qualities keep the previous threshold.
func (s *Store) SetThresholdQuality(quality string) {
	var threshold float64
	switch quality {
	case QualityLow:
		threshold = thresholdLow
	case QualityMedium:
		threshold = thresholdMedium
	case QualityHigh:
		threshold = thresholdHigh
	default:
		slog.Warn("ignoring unrecognized threshold quality", "quality", quality)
		return
	}

	s.apply(func(p *Params) {
		p.Threshold = threshold
		p.Quality = quality
	})
}

// apply mutates the params under lock and, when they actually changed,
// notifies subscribers outside the lock.
func (s *Store) apply(mutate func(*Params)) {
	s.mu.Lock()
	before := s.params
	mutate(&s.params)
	after := s.params
	var fns []func(Params)
	if after != before {
		fns = make([]func(Params), 0, len(s.subs))
		for _, fn := range s.subs {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	if fns == nil {
		return
	}
	slog.Debug("performance parameters changed",
		"execution_mode", after.ExecutionMode,
		"layer_budget", after.LayerBudget,
		"quality", after.Quality,
		"threshold", after.Threshold,
	)
	for _, fn := range fns {
		fn(after)
	}
}
