package engine

import (
	"errors"
	"testing"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// fakeExec finishes after a fixed number of steps and counts every call.
type fakeExec struct {
	layers int
	steps  int
}

func (e *fakeExec) Step() (bool, error) {
	e.steps++
	return e.steps < e.layers, nil
}

type fakeBackend struct {
	submits   int
	submitErr error
	exec      *fakeExec
}

func (b *fakeBackend) Submit(*types.Tensor) (Execution, error) {
	b.submits++
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return b.exec, nil
}
func (b *fakeBackend) PeekResult() (*types.Tensor, error)        { return nil, ErrNoResult }
func (b *fakeBackend) AsyncReadback(*types.Tensor, func()) error { return nil }
func (b *fakeBackend) Close() error                              { return nil }

func input(t *testing.T) *types.Tensor {
	t.Helper()
	return types.NewTensor([]int{1, 1}, []float32{0})
}

// For every budget B >= 1 no single Run call makes more than B step
// calls, and the pass still completes across calls.
func TestStepperBudgetBound(t *testing.T) {
	for budget := 1; budget <= 5; budget++ {
		exec := &fakeExec{layers: 11}
		s := NewStepper(&fakeBackend{exec: exec}, input(t))

		prev := 0
		for run := 0; ; run++ {
			done, err := s.Run(budget)
			if err != nil {
				t.Fatalf("budget %d: Run failed: %v", budget, err)
			}
			if used := exec.steps - prev; used > budget {
				t.Fatalf("budget %d: run %d used %d steps", budget, run, used)
			}
			prev = exec.steps
			if done {
				break
			}
			if run > 20 {
				t.Fatalf("budget %d: pass never completed", budget)
			}
		}
		if exec.steps != 11 {
			t.Fatalf("budget %d: total steps = %d, want 11", budget, exec.steps)
		}
	}
}

// The budget is never overrun even when the pass would finish on the
// very next sub-step.
func TestStepperStopsAtBudgetBeforeFinalStep(t *testing.T) {
	exec := &fakeExec{layers: 5}
	s := NewStepper(&fakeBackend{exec: exec}, input(t))

	done, err := s.Run(4)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if done {
		t.Fatal("pass should not be done after 4 of 5 layers")
	}
	if exec.steps != 4 {
		t.Fatalf("steps = %d, want exactly 4", exec.steps)
	}

	done, err = s.Run(4)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !done || exec.steps != 5 {
		t.Fatalf("done=%v steps=%d, want done after 5", done, exec.steps)
	}
}

// A negative budget is the unbounded sentinel: the whole pass runs in
// one call.
func TestStepperUnboundedBudget(t *testing.T) {
	exec := &fakeExec{layers: 37}
	s := NewStepper(&fakeBackend{exec: exec}, input(t))

	done, err := s.Run(-1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !done {
		t.Fatal("unbounded run should complete the pass")
	}
	if exec.steps != 37 {
		t.Fatalf("steps = %d, want 37", exec.steps)
	}
}

func TestStepperZeroBudgetDoesNoWork(t *testing.T) {
	exec := &fakeExec{layers: 3}
	s := NewStepper(&fakeBackend{exec: exec}, input(t))

	done, err := s.Run(0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if done || exec.steps != 0 {
		t.Fatalf("done=%v steps=%d, want idle run", done, exec.steps)
	}
}

// Submission is lazy and happens exactly once.
func TestStepperSubmitsOnFirstRunOnly(t *testing.T) {
	b := &fakeBackend{exec: &fakeExec{layers: 6}}
	s := NewStepper(b, input(t))
	if b.submits != 0 {
		t.Fatal("NewStepper must not submit")
	}

	if _, err := s.Run(2); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := s.Run(2); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if b.submits != 1 {
		t.Fatalf("submits = %d, want 1", b.submits)
	}
}

// A failed submit leaves the stepper unstarted so the next tick retries.
func TestStepperSubmitFailureIsRetriable(t *testing.T) {
	b := &fakeBackend{exec: &fakeExec{layers: 2}, submitErr: errors.New("device busy")}
	s := NewStepper(b, input(t))

	if _, err := s.Run(1); err == nil {
		t.Fatal("Run should surface the submit error")
	}

	b.submitErr = nil
	done, err := s.Run(-1)
	if err != nil {
		t.Fatalf("retry Run failed: %v", err)
	}
	if !done {
		t.Fatal("retry should complete the pass")
	}
	if b.submits != 2 {
		t.Fatalf("submits = %d, want 2", b.submits)
	}
}

// Resuming a completed stepper is a contract violation.
func TestStepperRunAfterDonePanics(t *testing.T) {
	s := NewStepper(&fakeBackend{exec: &fakeExec{layers: 1}}, input(t))
	if done, err := s.Run(-1); err != nil || !done {
		t.Fatalf("setup run: done=%v err=%v", done, err)
	}
	if !s.Done() {
		t.Fatal("stepper should report done")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Run after completion should panic")
		}
	}()
	_, _ = s.Run(1)
}
