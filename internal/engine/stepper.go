package engine

import (
	"fmt"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

type stepPhase int

const (
	phaseNotStarted stepPhase = iota
	phaseInProgress
	phaseDone
)

// Stepper drives one inference pass under a per-call layer budget.
//
// Contract: the first Run submits the input and obtains the execution;
// each Run advances at most budget layers and stops early when the pass
// completes; once Run has reported done, calling Run again is a
// programmer error and panics. A negative budget is the unbounded
// sentinel and drives the pass to completion within the call; a zero
// budget performs no work.
//
// Not thread-safe: a Stepper belongs to the tick thread that created it.
type Stepper struct {
	backend Backend
	input   *types.Tensor
	exec    Execution
	phase   stepPhase
}

// NewStepper prepares a stepper for one pass over input. Submission is
// deferred to the first Run.
func NewStepper(backend Backend, input *types.Tensor) *Stepper {
	return &Stepper{backend: backend, input: input}
}

// Run advances the pass by at most budget layers. done reports that the
// pass completed during this call.
func (s *Stepper) Run(budget int) (done bool, err error) {
	switch s.phase {
	case phaseNotStarted:
		exec, err := s.backend.Submit(s.input)
		if err != nil {
			return false, fmt.Errorf("submitting pass: %w", err)
		}
		s.exec = exec
		s.phase = phaseInProgress
	case phaseInProgress:
	case phaseDone:
		panic("engine: stepper resumed after completion")
	default:
		panic(fmt.Sprintf("engine: stepper in unknown phase %d", s.phase))
	}

	// Stop on whichever comes first: budget exhausted or no more work.
	for n := 0; budget < 0 || n < budget; n++ {
		more, err := s.exec.Step()
		if err != nil {
			return false, fmt.Errorf("stepping pass: %w", err)
		}
		if !more {
			s.phase = phaseDone
			s.exec = nil
			return true, nil
		}
	}
	return false, nil
}

// Done reports whether the pass has completed.
func (s *Stepper) Done() bool { return s.phase == phaseDone }
