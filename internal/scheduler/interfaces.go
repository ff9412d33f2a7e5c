package scheduler

import (
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/settings"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// ImageSource hands out captured frames. Grab never blocks: when no
// frame is available yet it returns ok=false and the loop tries again
// next tick.
type ImageSource interface {
	Grab() (*types.Frame, bool)
	Stop() error
}

// Rescaler converts a captured frame to the model input resolution.
// Implementations may return the input frame unchanged when it already
// matches; frames are immutable so sharing is safe.
type Rescaler interface {
	Rescale(f *types.Frame, width, height int) (*types.Frame, error)
}

// DebugSink receives every completed cycle for local inspection.
type DebugSink interface {
	ShowDebugInformation(res *Result)
}

// RecognitionSink receives every completed cycle for publication.
// Implementations must not block the loop.
type RecognitionSink interface {
	ShowRecognitions(res *Result)
}

// ParamSource exposes the live-tunable execution parameters. Satisfied
// by settings.Store.
type ParamSource interface {
	Params() settings.Params
	Subscribe(id string, fn func(settings.Params)) error
	Unsubscribe(id string)
}

// Result is what a completed cycle hands to the consumers. The frame
// and detections may be retained; frames are immutable.
type Result struct {
	TraceID    string
	Seq        uint64
	CapturedAt time.Time
	Pose       types.Pose
	Frame      *types.Frame
	Detections []types.Detection
	Threshold  float64
	CycleTicks int
	Elapsed    time.Duration
}
