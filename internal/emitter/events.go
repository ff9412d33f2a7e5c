package emitter

import (
	"encoding/json"
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/scheduler"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// RecognitionEvent is the wire shape of one completed cycle.
type RecognitionEvent struct {
	InstanceID string            `json:"instance_id"`
	EventType  string            `json:"event_type"`
	TraceID    string            `json:"trace_id"`
	Seq        uint64            `json:"seq"`
	Timestamp  string            `json:"timestamp"`
	Pose       types.Pose        `json:"pose"`
	Threshold  float64           `json:"threshold"`
	CycleTicks int               `json:"cycle_ticks"`
	ElapsedMS  float64           `json:"elapsed_ms"`
	Detections []types.Detection `json:"detections"`
}

// NewRecognitionEvent builds the event for a cycle result. The capture
// timestamp travels with the event, not the publish time.
func NewRecognitionEvent(instanceID string, res *scheduler.Result) *RecognitionEvent {
	return &RecognitionEvent{
		InstanceID: instanceID,
		EventType:  "recognitions",
		TraceID:    res.TraceID,
		Seq:        res.Seq,
		Timestamp:  res.CapturedAt.UTC().Format(time.RFC3339Nano),
		Pose:       res.Pose,
		Threshold:  res.Threshold,
		CycleTicks: res.CycleTicks,
		ElapsedMS:  float64(res.Elapsed) / float64(time.Millisecond),
		Detections: res.Detections,
	}
}

// ToJSON marshals the event for publishing.
func (e *RecognitionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
