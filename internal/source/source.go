// Package source provides the per-cycle detection source the frame
// scheduler drives: live inference on a compute backend, or a synthetic
// generator for development without one. The variant is chosen once at
// startup; afterwards the scheduler sees only this interface.
package source

import (
	"errors"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

var (
	ErrNoCycle         = errors.New("source: no cycle in progress")
	ErrNoOutput        = errors.New("source: no output available")
	ErrReadbackPending = errors.New("source: readback already requested this cycle")
)

// Source produces one detection list per scheduler cycle.
//
// Per-cycle protocol: Begin binds the cycle's input tensor; Advance is
// called once per tick until it reports done; BeginReadback starts
// result retrieval; Detections yields the final list. Close ends the
// source's lifetime and is idempotent.
type Source interface {
	// Begin starts a new cycle over input, discarding anything left
	// from the previous cycle.
	Begin(input *types.Tensor) error

	// Advance drives inference by at most budget layers this call; a
	// negative budget is unbounded. done reports the pass completed.
	Advance(budget int) (done bool, err error)

	// BeginReadback starts result retrieval. When immediate is true the
	// result is already available and onDone is never invoked.
	// Otherwise onDone fires exactly once, possibly on another
	// goroutine, once the result is host-readable.
	BeginReadback(onDone func()) (immediate bool, err error)

	// Detections returns the cycle's detection list at the given
	// confidence threshold.
	Detections(threshold float64) ([]types.Detection, error)

	// Close releases backend resources. Idempotent.
	Close() error
}
