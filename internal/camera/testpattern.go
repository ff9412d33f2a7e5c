package camera

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// TestPattern is a pull-based synthetic camera: a bright box marching
// across a shaded background, with the viewer pose orbiting the scene.
// It needs no capture hardware, which makes the full loop runnable in
// CI and on development machines.
type TestPattern struct {
	width    int
	height   int
	interval time.Duration

	seq     uint64
	last    time.Time
	stopped bool
}

// NewTestPattern creates a generator at the given geometry. fps bounds
// how often Grab yields a fresh frame; fps <= 0 disables pacing so
// every Grab produces one.
func NewTestPattern(width, height, fps int) *TestPattern {
	p := &TestPattern{width: width, height: height}
	if fps > 0 {
		p.interval = time.Second / time.Duration(fps)
	}
	return p
}

// Grab renders the next frame when the pacing interval has elapsed.
func (p *TestPattern) Grab() (*types.Frame, bool) {
	if p.stopped {
		return nil, false
	}
	now := time.Now()
	if p.interval > 0 && !p.last.IsZero() && now.Sub(p.last) < p.interval {
		return nil, false
	}
	p.last = now
	p.seq++

	return &types.Frame{
		Data:      p.render(p.seq),
		Width:     p.width,
		Height:    p.height,
		Seq:       p.seq,
		TraceID:   uuid.NewString(),
		Timestamp: now,
		Pose:      p.poseAt(p.seq),
	}, true
}

// Stop ends the stream. Further Grab calls yield nothing.
func (p *TestPattern) Stop() error {
	p.stopped = true
	return nil
}

// render paints a shaded background with a bright box whose position
// advances with the sequence number.
func (p *TestPattern) render(seq uint64) []byte {
	data := make([]byte, p.width*p.height*3)

	boxW := p.width / 8
	boxH := p.height / 8
	span := p.width - boxW
	if span < 1 {
		span = 1
	}
	boxX := int(seq*8) % span
	boxY := (p.height - boxH) / 2

	for y := 0; y < p.height; y++ {
		shade := byte(32 + (y*64)/p.height)
		row := y * p.width * 3
		for x := 0; x < p.width; x++ {
			i := row + x*3
			if x >= boxX && x < boxX+boxW && y >= boxY && y < boxY+boxH {
				data[i] = 255
				data[i+1] = 255
				data[i+2] = 255
			} else {
				data[i] = shade
				data[i+1] = shade
				data[i+2] = 64
			}
		}
	}
	return data
}

// poseAt orbits the viewer around the scene at eye height, facing
// inward via a yaw-only orientation.
func (p *TestPattern) poseAt(seq uint64) types.Pose {
	angle := float64(seq) * (2 * math.Pi / 360)
	return types.Pose{
		Position: types.Vec3{
			X: 2 * math.Cos(angle),
			Y: 1.6,
			Z: 2 * math.Sin(angle),
		},
		Orientation: types.Quat{
			Y: math.Sin(angle / 2),
			W: math.Cos(angle / 2),
		},
	}
}
