// Package decode turns raw detector output tensors into typed
// detections.
package decode

import (
	"fmt"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// Decoder converts a host-readable output tensor into a detection list,
// dropping predictions below the confidence threshold.
type Decoder interface {
	Decode(out *types.Tensor, threshold float64) ([]types.Detection, error)
}

// YOLO decodes the flat YOLO-style layout [1, N, 5+C] (or [N, 5+C]):
// each row is cx, cy, w, h, objectness followed by C class scores. A
// row's confidence is objectness times its best class score.
type YOLO struct {
	inputWidth  int
	inputHeight int
	classes     int
	labels      []string
}

// NewYOLO creates a decoder for the given model geometry. labels may be
// nil; when present it must be index-aligned with the class count.
func NewYOLO(inputWidth, inputHeight, classes int, labels []string) *YOLO {
	return &YOLO{
		inputWidth:  inputWidth,
		inputHeight: inputHeight,
		classes:     classes,
		labels:      labels,
	}
}

// Decode reads every prediction row and keeps those at or above the
// threshold, converted to corner form and clamped to the model area.
// The tensor must be host-readable.
func (d *YOLO) Decode(out *types.Tensor, threshold float64) ([]types.Detection, error) {
	shape := out.Shape()
	var rows, stride int
	switch len(shape) {
	case 3:
		rows, stride = shape[1], shape[2]
	case 2:
		rows, stride = shape[0], shape[1]
	default:
		return nil, fmt.Errorf("decode: unsupported output shape %v", shape)
	}
	if stride != 5+d.classes {
		return nil, fmt.Errorf("decode: row stride %d does not match %d classes", stride, d.classes)
	}

	data := out.Data()
	dets := make([]types.Detection, 0, 4)
	for r := 0; r < rows; r++ {
		row := data[r*stride : (r+1)*stride]
		obj := float64(row[4])
		if obj <= 0 {
			continue
		}

		bestClass, bestScore := 0, 0.0
		for c := 0; c < d.classes; c++ {
			if s := float64(row[5+c]); s > bestScore {
				bestScore, bestClass = s, c
			}
		}

		score := obj * bestScore
		if score < threshold {
			continue
		}

		cx, cy := float64(row[0]), float64(row[1])
		w, h := float64(row[2]), float64(row[3])
		det := types.Detection{
			X1:         cx - w/2,
			Y1:         cy - h/2,
			X2:         cx + w/2,
			Y2:         cy + h/2,
			Confidence: score,
			Class:      bestClass,
			Label:      d.label(bestClass),
		}
		dets = append(dets, det.Clamp(float64(d.inputWidth), float64(d.inputHeight)))
	}
	return dets, nil
}

func (d *YOLO) label(class int) string {
	if class >= 0 && class < len(d.labels) {
		return d.labels[class]
	}
	return ""
}
