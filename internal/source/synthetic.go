package source

import (
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// Fabricated detection shape: a fixed-size box centered in the model
// input, always the same confidence and class.
const (
	syntheticBoxSize    = 100
	syntheticConfidence = 0.95
	syntheticClass      = 0
)

// Synthetic is a stateless source that fabricates one deterministic
// detection per cycle. It needs no backend and completes every stage
// immediately, which makes the whole loop runnable on hardware without
// a usable compute device.
type Synthetic struct {
	inputWidth  int
	inputHeight int
	label       string
}

// NewSynthetic creates a synthetic source for the given model input
// resolution. When labels are configured the fabricated detection
// carries the class-0 label.
func NewSynthetic(inputWidth, inputHeight int, labels []string) *Synthetic {
	label := ""
	if len(labels) > syntheticClass {
		label = labels[syntheticClass]
	}
	return &Synthetic{
		inputWidth:  inputWidth,
		inputHeight: inputHeight,
		label:       label,
	}
}

// Begin accepts the input tensor and ignores it.
func (s *Synthetic) Begin(*types.Tensor) error { return nil }

// Advance completes instantly regardless of budget.
func (s *Synthetic) Advance(int) (bool, error) { return true, nil }

// BeginReadback reports immediate availability; onDone is never called.
func (s *Synthetic) BeginReadback(func()) (bool, error) { return true, nil }

// Detections fabricates the fixed centered box. The threshold does not
// apply: the list is fabricated, not decoded.
func (s *Synthetic) Detections(float64) ([]types.Detection, error) {
	cx := float64(s.inputWidth) / 2
	cy := float64(s.inputHeight) / 2
	half := float64(syntheticBoxSize) / 2
	return []types.Detection{{
		X1:         cx - half,
		Y1:         cy - half,
		X2:         cx + half,
		Y2:         cy + half,
		Confidence: syntheticConfidence,
		Class:      syntheticClass,
		Label:      s.label,
	}}, nil
}

// Close has nothing to release.
func (s *Synthetic) Close() error { return nil }
