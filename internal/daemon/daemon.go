package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/camera"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/config"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/control"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/decode"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/emitter"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/engine"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/scheduler"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/settings"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/sink"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/source"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// Daemon is the main service orchestrator. It wires the camera, the
// detection source, the scheduler and the MQTT planes from one
// configuration, then drives the scheduler at the configured tick rate.
type Daemon struct {
	cfg *config.Config

	// Core components
	store  *settings.Store
	images scheduler.ImageSource
	rtsp   *camera.RTSP // non-nil when the camera source is rtsp
	proc   *engine.Proc // non-nil when the engine backend is process
	sched  *scheduler.Scheduler
	debug  *sink.Debug
	recog  *emitter.Recognitions
	broker *emitter.MQTT // nil when mqtt is disabled
	ctl    *control.Handler

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	isRunning bool
	cancelRun context.CancelFunc // for the MQTT shutdown command
}

// New builds a daemon from a validated configuration. Components that
// touch the outside world (camera pipeline, model runner, broker) are
// constructed here but not started until Run.
func New(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{
		cfg:   cfg,
		store: settings.NewStore(cfg.Detector.ExecutionMode, cfg.Detector.ThresholdQuality),
	}

	if err := d.initCamera(); err != nil {
		return nil, err
	}

	src, err := d.initSource()
	if err != nil {
		return nil, err
	}

	d.debug, err = sink.NewDebug(cfg.Debug.DumpDir, cfg.Debug.DumpEvery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create debug sink: %w", err)
	}

	if cfg.MQTT.Enabled {
		d.broker = emitter.NewMQTT(cfg.MQTT.Broker, fmt.Sprintf("holoyolo-%s", cfg.InstanceID))
		d.recog = emitter.NewRecognitions(d.broker, cfg.MQTT.Topics.Recognitions,
			cfg.MQTT.QoS["recognitions"], cfg.InstanceID, nil)
	} else {
		d.recog = emitter.NewRecognitions(nil, "", 0, cfg.InstanceID, nil)
	}

	d.sched, err = scheduler.New(scheduler.Options{
		Source:          src,
		Images:          d.images,
		Scaler:          camera.CropScaler{},
		Params:          d.store,
		Debug:           d.debug,
		Recog:           d.recog,
		InputWidth:      cfg.Model.InputWidth,
		InputHeight:     cfg.Model.InputHeight,
		ReadbackTimeout: time.Duration(cfg.Engine.ReadbackTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	slog.Info("daemon configured",
		"instance_id", cfg.InstanceID,
		"camera", cfg.Camera.Source,
		"detector", cfg.Detector.Source,
		"backend", cfg.Engine.Backend,
		"mqtt_enabled", cfg.MQTT.Enabled,
	)
	return d, nil
}

// initCamera selects the image source from the configuration.
func (d *Daemon) initCamera() error {
	switch d.cfg.Camera.Source {
	case "rtsp":
		r, err := camera.NewRTSP(camera.RTSPConfig{
			URL:       d.cfg.Camera.RTSPURL,
			Width:     d.cfg.Camera.Width,
			Height:    d.cfg.Camera.Height,
			FPS:       d.cfg.Camera.FPS,
			LatencyMS: d.cfg.Camera.LatencyMS,
			Pose:      mountPose(d.cfg.Camera.Pose),
		})
		if err != nil {
			return fmt.Errorf("failed to create rtsp camera: %w", err)
		}
		d.rtsp = r
		d.images = r
		slog.Info("using rtsp camera", "url", d.cfg.Camera.RTSPURL)
	case "test_pattern":
		d.images = camera.NewTestPattern(d.cfg.Camera.Width, d.cfg.Camera.Height, d.cfg.Camera.FPS)
		slog.Info("using test pattern camera",
			"width", d.cfg.Camera.Width,
			"height", d.cfg.Camera.Height,
			"fps", d.cfg.Camera.FPS,
		)
	default:
		return fmt.Errorf("unknown camera source %q", d.cfg.Camera.Source)
	}
	return nil
}

// initSource selects the detection source. The live source needs a
// compute backend; the synthetic one fabricates detections on its own.
func (d *Daemon) initSource() (source.Source, error) {
	model := d.cfg.Model

	switch d.cfg.Detector.Source {
	case "synthetic":
		slog.Info("using synthetic detection source")
		return source.NewSynthetic(model.InputWidth, model.InputHeight, model.Labels), nil
	case "live":
		backend, err := d.initBackend()
		if err != nil {
			return nil, err
		}
		decoder := decode.NewYOLO(model.InputWidth, model.InputHeight, model.Classes, model.Labels)
		return source.NewLive(backend, decoder), nil
	default:
		return nil, fmt.Errorf("unknown detector source %q", d.cfg.Detector.Source)
	}
}

func (d *Daemon) initBackend() (engine.Backend, error) {
	model := d.cfg.Model

	switch d.cfg.Engine.Backend {
	case "sim":
		sim := d.cfg.Engine.Sim
		slog.Info("using simulated engine backend",
			"layers", sim.Layers,
			"readback_delay_ms", sim.ReadbackDelayMS,
		)
		return engine.NewSim(engine.SimConfig{
			Layers:        sim.Layers,
			StepDelay:     time.Duration(sim.StepDelayUS) * time.Microsecond,
			ReadbackDelay: time.Duration(sim.ReadbackDelayMS) * time.Millisecond,
			InputWidth:    model.InputWidth,
			InputHeight:   model.InputHeight,
			Classes:       model.Classes,
		}), nil
	case "process":
		proc := d.cfg.Engine.Process
		p, err := engine.NewProc(engine.ProcConfig{
			Command:        proc.Command,
			Args:           proc.Args,
			ModelPath:      proc.ModelPath,
			InputWidth:     model.InputWidth,
			InputHeight:    model.InputHeight,
			StartTimeout:   time.Duration(proc.StartTimeoutMS) * time.Millisecond,
			RequestTimeout: time.Duration(proc.RequestTimeoutMS) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create process backend: %w", err)
		}
		d.proc = p
		slog.Info("using process engine backend", "command", proc.Command)
		return p, nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q", d.cfg.Engine.Backend)
	}
}

// Run starts every component and drives the scheduler until the context
// is cancelled or a shutdown command arrives.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.isRunning {
		d.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	d.isRunning = true
	d.started = time.Now()
	d.mu.Unlock()

	// Cancellable so the MQTT shutdown command can stop the loop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancelRun = cancel
	d.mu.Unlock()

	slog.Info("holoyolo service starting", "instance_id", d.cfg.InstanceID)

	if d.rtsp != nil {
		if err := d.rtsp.Start(); err != nil {
			return fmt.Errorf("failed to start rtsp camera: %w", err)
		}
	}

	if d.proc != nil {
		if err := d.proc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start model runner: %w", err)
		}
	}

	if d.broker != nil {
		if err := d.broker.Connect(); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		d.ctl = control.NewHandler(d.cfg.MQTT, d.broker.Client, control.Callbacks{
			OnGetStatus:           d.status,
			OnSetExecutionMode:    d.setExecutionMode,
			OnSetThresholdQuality: d.setThresholdQuality,
			OnShutdown:            d.shutdownViaControl,
		})
		if err := d.ctl.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}

	interval := time.Second / time.Duration(d.cfg.Loop.TickHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("holoyolo service running",
		"tick_hz", d.cfg.Loop.TickHz,
		"input", fmt.Sprintf("%dx%d", d.cfg.Model.InputWidth, d.cfg.Model.InputHeight),
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("holoyolo service run loop exiting")
			return nil
		case <-ticker.C:
			if d.paused() {
				continue
			}
			d.sched.Advance()
		}
	}
}

// Shutdown tears the components down in dependency order. The context
// bounds how long the teardown may take.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	slog.Info("shutting down holoyolo service")

	done := make(chan struct{})
	go func() {
		defer close(done)

		// Stop accepting commands first, then flush the publisher, then
		// close the scheduler (which stops the camera and the backend).
		if d.ctl != nil {
			if err := d.ctl.Stop(); err != nil {
				slog.Error("failed to stop control handler", "error", err)
			}
		}

		d.recog.Stop()
		d.sched.Close()

		if d.broker != nil {
			if err := d.broker.Disconnect(); err != nil {
				slog.Error("failed to disconnect mqtt", "error", err)
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Error("shutdown timed out", "error", ctx.Err())
		return ctx.Err()
	}

	d.mu.Lock()
	uptime := time.Since(d.started)
	d.isRunning = false
	d.mu.Unlock()

	slog.Info("holoyolo service shutdown complete", "uptime", uptime)
	return nil
}

func (d *Daemon) paused() bool {
	return d.ctl != nil && d.ctl.IsPaused()
}

// mountPose converts the configured camera mounting pose. An all-zero
// quaternion means the orientation was omitted and defaults to identity.
func mountPose(p config.PoseConfig) types.Pose {
	pose := types.Pose{
		Position:    types.Vec3{X: p.X, Y: p.Y, Z: p.Z},
		Orientation: types.Quat{X: p.QX, Y: p.QY, Z: p.QZ, W: p.QW},
	}
	if pose.Orientation == (types.Quat{}) {
		pose.Orientation = types.Quat{W: 1}
	}
	return pose
}
