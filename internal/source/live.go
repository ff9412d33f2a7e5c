package source

import (
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/decode"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/engine"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// Live runs real inference on a compute backend. It owns the backend
// handle, the per-cycle stepper and the output tensor; at most one of
// each exists at any instant.
type Live struct {
	backend engine.Backend
	decoder decode.Decoder

	stepper           *engine.Stepper
	output            *types.Tensor
	readbackRequested bool
}

// NewLive creates a live source over backend, decoding results with
// decoder.
func NewLive(backend engine.Backend, decoder decode.Decoder) *Live {
	return &Live{backend: backend, decoder: decoder}
}

/// Begin starts a cycle: the previous cycle's output tensor is released
// and a fresh stepper is prepared. Submission happens lazily on the
// first Advance.
func (l *Live) Begin(input *types.Tensor) error {
	if l.output != nil {
		l.output.Release()
		l.output = nil
	}
	l.readbackRequested = false
	l.stepper = engine.NewStepper(l.backend, input)
	return nil
}

// Advance runs the stepper under the tick's budget. The execution
// handle is discarded as soon as the pass completes.
func (l *Live) Advance(budget int) (bool, error) {
	if l.stepper == nil {
		return false, ErrNoCycle
	}
	done, err := l.stepper.Run(budget)
	if err != nil {
		return false, err
	}
	if done {
		l.stepper = nil
	}
	return done, nil
}

// BeginReadback peeks the device output and registers the asynchronous
/// readback. Never immediate: the caller parks until onDone fires. A
// failed request leaves the cycle ready for a retry; a successful one
// must not be repeated within the cycle.
func (l *Live) BeginReadback(onDone func()) (bool, error) {
	if l.readbackRequested {
		return false, ErrReadbackPending
	}

	out, err := l.backend.PeekResult()
	if err != nil {
		return false, err
	}
	if err := l.backend.AsyncReadback(out, onDone); err != nil {
		out.Release()
		return false, err
	}

	l.output = out
	l.readbackRequested = true
	return false, nil
}

// Detections decodes the cycle's output at the given threshold. The
// output must have become host-readable first; decoding earlier is a
// programmer error.
func (l *Live) Detections(threshold float64) ([]types.Detection, error) {
	if l.output == nil {
		return nil, ErrNoOutput
	}
	if !l.output.HostReadable() {
		panic("source: decoding output before readback completed")
	}
	return l.decoder.Decode(l.output, threshold)
}

// Close releases the output tensor and disposes the backend.
func (l *Live) Close() error {
	if l.output != nil {
		l.output.Release()
		l.output = nil
	}
	l.stepper = nil
	return l.backend.Close()
}
