// Package engine abstracts the compute device that runs the detector
// network. A backend executes one inference pass at a time as a
// resumable computation: the pass is advanced layer by layer so the
// caller can slice it across loop ticks, and the result is transferred
// to host memory through an asynchronous readback.
package engine

import (
	"errors"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

var (
	ErrBackendClosed     = errors.New("engine: backend closed")
	ErrExecutionInFlight = errors.New("engine: execution already in flight")
	ErrExecutionDone     = errors.New("engine: execution already completed")
	ErrNoResult          = errors.New("engine: no completed execution to read")
)

// Execution is one resumable inference pass.
type Execution interface {
	// Step advances the pass by one layer. more reports whether layers
	// remain. Stepping a finished pass returns ErrExecutionDone.
	Step() (more bool, err error)
}

// Backend is the compute device. Implementations are driven from the
// single tick thread; only the readback completion crosses goroutines.
type Backend interface {
	// Submit begins a new pass over input. At most one pass may be in
	// flight; submitting while one is unfinished returns
	// ErrExecutionInFlight.
	Submit(input *types.Tensor) (Execution, error)

	// PeekResult returns the device-side output tensor of the pass that
	// last ran to completion. The tensor is not host-readable until an
	// AsyncReadback for it completes.
	PeekResult() (*types.Tensor, error)

	// AsyncReadback transfers out to host memory. onComplete fires
	// exactly once per successful request, possibly on another
	// goroutine, after out has become host-readable. Requests are not
	// cancellable.
	AsyncReadback(out *types.Tensor, onComplete func()) error

	// Close disposes the backend. Idempotent. A readback still pending
	// at Close may complete or be dropped; either way its callback must
	// remain safe to run.
	Close() error
}
