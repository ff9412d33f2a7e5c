package daemon

import (
	"fmt"
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/settings"
)

// status builds the get_status response payload.
func (d *Daemon) status() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()

	params := d.store.Params()
	sched := d.sched.Stats()
	saved, failed := d.debug.Stats()
	recog := d.recog.Stats()

	status := map[string]any{
		"instance_id": d.cfg.InstanceID,
		"uptime_s":    time.Since(d.started).Seconds(),
		"running":     d.isRunning,
		"paused":      d.ctl != nil && d.ctl.IsPaused(),
		"params": map[string]any{
			"execution_mode":    params.ExecutionMode,
			"layer_budget":      params.LayerBudget,
			"threshold_quality": params.Quality,
			"threshold":         params.Threshold,
		},
		"scheduler": map[string]any{
			"state":             sched.State,
			"ticks":             sched.Ticks,
			"starved_ticks":     sched.StarvedTicks,
			"cycles":            sched.Cycles,
			"last_cycle_ticks":  sched.LastCycleTicks,
			"last_detections":   sched.LastDetections,
			"readback_timeouts": sched.ReadbackTimeouts,
			"config_changes":    sched.ConfigChanges,
		},
		"recognitions": map[string]any{
			"published": recog.Published,
			"dropped":   recog.Dropped,
			"failures":  recog.Failures,
		},
		"debug": map[string]any{
			"frames_saved":  saved,
			"dump_failures": failed,
		},
		"config": map[string]any{
			"tick_hz":  d.cfg.Loop.TickHz,
			"camera":   d.cfg.Camera.Source,
			"detector": d.cfg.Detector.Source,
			"backend":  d.cfg.Engine.Backend,
			"input":    fmt.Sprintf("%dx%d", d.cfg.Model.InputWidth, d.cfg.Model.InputHeight),
		},
	}

	if d.broker != nil {
		broker := d.broker.Stats()
		status["emitter"] = map[string]any{
			"connected": broker.Connected,
			"published": broker.Published,
			"errors":    broker.Errors,
		}
	}

	return status
}

// setExecutionMode applies a live layer budget change.
func (d *Daemon) setExecutionMode(mode string) error {
	if !settings.ValidExecutionMode(mode) {
		return fmt.Errorf("unknown execution mode %q (want low, high or full)", mode)
	}
	d.store.SetExecutionMode(mode)
	return nil
}

// setThresholdQuality applies a live detection threshold change.
func (d *Daemon) setThresholdQuality(quality string) error {
	if !settings.ValidThresholdQuality(quality) {
		return fmt.Errorf("unknown threshold quality %q (want low, medium or high)", quality)
	}
	d.store.SetThresholdQuality(quality)
	return nil
}

// shutdownViaControl stops the run loop in response to the MQTT
// shutdown command. Main handles the graceful teardown after Run exits.
func (d *Daemon) shutdownViaControl() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.isRunning {
		return fmt.Errorf("service not running")
	}
	if d.cancelRun == nil {
		return fmt.Errorf("shutdown not available")
	}

	d.cancelRun()
	return nil
}
