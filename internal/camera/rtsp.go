package camera

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// RTSPConfig describes an RTSP capture.
type RTSPConfig struct {
	URL       string
	Width     int
	Height    int
	FPS       int
	LatencyMS int

	// Pose is the fixed mount pose stamped on every frame. A mounted
	// camera does not move, so the pose is configuration, not capture
	// data.
	Pose types.Pose
}

// RTSP captures frames from an RTSP stream through a GStreamer
// pipeline:
//
//	rtspsrc → rtph264depay → avdec_h264 → videoconvert → videoscale →
//	videorate → capsfilter → appsink
//
// The appsink keeps only the newest buffer and the holder keeps only
// the newest frame, so a slow consumer sees fresh frames, never a
// backlog.
type RTSP struct {
	cfg RTSPConfig

	pipeline *gst.Pipeline
	sink     *app.Sink
	src      *gst.Element
	depay    *gst.Element

	mu     sync.Mutex
	latest *types.Frame

	seq         atomic.Uint64
	received    atomic.Uint64
	overwritten atomic.Uint64
	stopped     atomic.Bool
}

// NewRTSP builds the capture pipeline without starting it.
func NewRTSP(cfg RTSPConfig) (*RTSP, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("camera: rtsp url is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("camera: capture size %dx%d must be positive", cfg.Width, cfg.Height)
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("camera: create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("camera: create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", cfg.URL)
	rtspsrc.SetProperty("protocols", 4) // TCP only
	latency := cfg.LatencyMS
	if latency <= 0 {
		latency = 200
	}
	rtspsrc.SetProperty("latency", latency)

	depay, err := gst.NewElement("rtph264depay")
	if err != nil {
		return nil, fmt.Errorf("camera: create rtph264depay: %w", err)
	}
	depay.SetProperty("request-keyframe", true)

	decoder, err := gst.NewElement("avdec_h264")
	if err != nil {
		return nil, fmt.Errorf("camera: create avdec_h264: %w", err)
	}
	decoder.SetProperty("max-threads", 0)
	decoder.SetProperty("output-corrupt", false)

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("camera: create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("camera: create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("camera: create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("camera: create capsfilter: %w", err)
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		cfg.Width, cfg.Height, fps,
	)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("camera: create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)
	appsink.SetProperty("qos", true)

	pipeline.AddMany(rtspsrc, depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(depay, decoder, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("camera: link pipeline elements: %w", err)
	}

	return &RTSP{
		cfg:      cfg,
		pipeline: pipeline,
		sink:     appsink,
		src:      rtspsrc,
		depay:    depay,
	}, nil
}

// Start wires the callbacks and sets the pipeline playing. Frames
// arrive once the stream negotiates; until then Grab yields nothing.
func (r *RTSP) Start() error {
	r.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: r.onSample,
	})

	// rtspsrc pads are dynamic, linked when the stream appears.
	r.src.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		sinkPad := r.depay.GetStaticPad("sink")
		if sinkPad == nil {
			slog.Error("camera: depayloader has no sink pad")
			return
		}
		if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
			slog.Error("camera: pad link failed", "pad", srcPad.GetName(), "ret", ret)
		}
	})

	if err := r.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("camera: start pipeline: %w", err)
	}
	slog.Info("camera: rtsp capture started",
		"url", r.cfg.URL,
		"size", fmt.Sprintf("%dx%d", r.cfg.Width, r.cfg.Height),
		"fps", r.cfg.FPS,
	)
	return nil
}

func (r *RTSP) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("camera: pull sample failed, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("camera: sample without buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("camera: empty buffer received")
		return gst.FlowOK
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	buffer.Unmap()

	frame := &types.Frame{
		Data:      copied,
		Width:     r.cfg.Width,
		Height:    r.cfg.Height,
		Seq:       r.seq.Add(1),
		TraceID:   uuid.NewString(),
		Timestamp: time.Now(),
		Pose:      r.cfg.Pose,
	}
	r.received.Add(1)

	r.mu.Lock()
	if r.latest != nil {
		r.overwritten.Add(1)
	}
	r.latest = frame
	r.mu.Unlock()
	return gst.FlowOK
}

// Grab takes the newest frame, leaving the holder empty so each frame
// is processed at most once.
func (r *RTSP) Grab() (*types.Frame, bool) {
	if r.stopped.Load() {
		return nil, false
	}
	r.mu.Lock()
	frame := r.latest
	r.latest = nil
	r.mu.Unlock()
	return frame, frame != nil
}

// Stop tears the pipeline down. Safe to call more than once.
func (r *RTSP) Stop() error {
	if r.stopped.Swap(true) {
		return nil
	}
	if err := r.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("camera: stop pipeline: %w", err)
	}
	slog.Info("camera: rtsp capture stopped",
		"received", r.received.Load(),
		"overwritten", r.overwritten.Load(),
	)
	return nil
}
