package sink

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/scheduler"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

var outlineColor = color.RGBA{R: 0, G: 220, B: 60, A: 255}

// Debug is the local inspection consumer: a per-cycle log summary and,
// when a dump directory is configured, an annotated PNG of the model
// input every Nth cycle with the detections outlined.
//
// Thread-safe, though the loop calls it from one goroutine.
type Debug struct {
	dir   string
	every uint64
	log   *slog.Logger

	cycles atomic.Uint64
	saved  atomic.Uint64
	failed atomic.Uint64
}

// NewDebug creates the consumer. An empty dir disables frame dumps;
// every <= 0 falls back to 30.
func NewDebug(dir string, every int, log *slog.Logger) (*Debug, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &Debug{dir: dir, log: log}
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sink: create dump directory: %w", err)
		}
		if every <= 0 {
			every = 30
		}
		d.every = uint64(every)
	}
	return d, nil
}

// ShowDebugInformation logs the cycle and dumps the annotated frame
// when due. Dump failures are logged and counted, never propagated;
// debugging must not disturb the loop.
func (d *Debug) ShowDebugInformation(res *scheduler.Result) {
	n := d.cycles.Add(1)

	d.log.Debug("cycle completed",
		"trace_id", res.TraceID,
		"seq", res.Seq,
		"detections", len(res.Detections),
		"threshold", res.Threshold,
		"ticks", res.CycleTicks,
		"elapsed", res.Elapsed,
	)
	for _, det := range res.Detections {
		d.log.Debug("detection",
			"trace_id", res.TraceID,
			"label", det.Label,
			"class", det.Class,
			"confidence", det.Confidence,
			"box", fmt.Sprintf("(%.0f,%.0f)-(%.0f,%.0f)", det.X1, det.Y1, det.X2, det.Y2),
		)
	}

	if d.every == 0 || n%d.every != 0 || res.Frame == nil {
		return
	}
	if err := d.dump(res); err != nil {
		d.failed.Add(1)
		d.log.Warn("frame dump failed", "trace_id", res.TraceID, "error", err)
		return
	}
	d.saved.Add(1)
}

// Stats returns how many frames were dumped and how many dumps failed.
func (d *Debug) Stats() (saved, failed uint64) {
	return d.saved.Load(), d.failed.Load()
}

func (d *Debug) dump(res *scheduler.Result) error {
	img, err := rgbaFromFrame(res.Frame)
	if err != nil {
		return err
	}
	for _, det := range res.Detections {
		outline(img, det)
	}

	name := fmt.Sprintf("frame_%06d_%s.png", res.Seq, res.CapturedAt.Format("20060102_150405.000"))
	file, err := os.Create(filepath.Join(d.dir, name))
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("png encode: %w", err)
	}
	return nil
}

// rgbaFromFrame converts packed RGB bytes to an image.RGBA.
func rgbaFromFrame(f *types.Frame) (*image.RGBA, error) {
	expected := f.Width * f.Height * 3
	if len(f.Data) != expected {
		return nil, fmt.Errorf("frame seq %d has %d bytes, want %d", f.Seq, len(f.Data), expected)
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i := 0; i < f.Width*f.Height; i++ {
		img.Pix[i*4+0] = f.Data[i*3+0]
		img.Pix[i*4+1] = f.Data[i*3+1]
		img.Pix[i*4+2] = f.Data[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img, nil
}

// outline draws the detection's bounding box border, clipped to the
// image.
func outline(img *image.RGBA, det types.Detection) {
	b := img.Bounds()
	x1, y1 := clip(int(det.X1), b.Max.X-1), clip(int(det.Y1), b.Max.Y-1)
	x2, y2 := clip(int(det.X2), b.Max.X-1), clip(int(det.Y2), b.Max.Y-1)
	if x2 <= x1 || y2 <= y1 {
		return
	}
	for x := x1; x <= x2; x++ {
		img.SetRGBA(x, y1, outlineColor)
		img.SetRGBA(x, y2, outlineColor)
	}
	for y := y1; y <= y2; y++ {
		img.SetRGBA(x1, y, outlineColor)
		img.SetRGBA(x2, y, outlineColor)
	}
}

func clip(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
