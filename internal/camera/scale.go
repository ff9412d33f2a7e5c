package camera

import (
	"fmt"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// CropScaler converts captured frames to the model input resolution:
// a center crop to the target aspect ratio followed by nearest-neighbor
// resampling. Frames already at the target size pass through unchanged.
type CropScaler struct{}

// Rescale produces a width x height frame carrying the capture's
// metadata. The input frame is never modified.
func (CropScaler) Rescale(f *types.Frame, width, height int) (*types.Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("camera: target size %dx%d must be positive", width, height)
	}
	if len(f.Data) != f.Width*f.Height*3 {
		return nil, fmt.Errorf("camera: frame seq %d has %d bytes, want %d for %dx%d",
			f.Seq, len(f.Data), f.Width*f.Height*3, f.Width, f.Height)
	}
	if f.Width == width && f.Height == height {
		return f, nil
	}

	// Center crop to the target aspect ratio.
	cropW, cropH := f.Width, f.Height
	if f.Width*height > width*f.Height {
		cropW = f.Height * width / height
	} else {
		cropH = f.Width * height / width
	}
	cropX := (f.Width - cropW) / 2
	cropY := (f.Height - cropH) / 2

	data := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		sy := cropY + y*cropH/height
		srcRow := sy * f.Width * 3
		dstRow := y * width * 3
		for x := 0; x < width; x++ {
			sx := cropX + x*cropW/width
			si := srcRow + sx*3
			di := dstRow + x*3
			data[di] = f.Data[si]
			data[di+1] = f.Data[si+1]
			data[di+2] = f.Data[si+2]
		}
	}

	return &types.Frame{
		Data:      data,
		Width:     width,
		Height:    height,
		Seq:       f.Seq,
		TraceID:   f.TraceID,
		Timestamp: f.Timestamp,
		Pose:      f.Pose,
	}, nil
}
