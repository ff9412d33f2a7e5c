package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		InstanceID: "test-daemon",
		Loop:       config.LoopConfig{TickHz: 200},
		Camera:     config.CameraConfig{Source: "test_pattern", Width: 64, Height: 48},
		Model:      config.ModelConfig{InputWidth: 32, InputHeight: 32, Classes: 2},
		Detector:   config.DetectorConfig{Source: "synthetic"},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestNewWiresSyntheticPipeline(t *testing.T) {
	d, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status := d.status()
	if got := status["instance_id"]; got != "test-daemon" {
		t.Errorf("instance_id = %v, want test-daemon", got)
	}
	if got := status["running"]; got != false {
		t.Errorf("running = %v before Run", got)
	}
	cfgBlock, ok := status["config"].(map[string]any)
	if !ok {
		t.Fatalf("status has no config block: %v", status)
	}
	if got := cfgBlock["camera"]; got != "test_pattern" {
		t.Errorf("config.camera = %v, want test_pattern", got)
	}
	if _, ok := status["emitter"]; ok {
		t.Error("emitter stats reported with mqtt disabled")
	}
}

func TestNewRejectsUnknownCameraSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Camera.Source = "v4l2"
	if _, err := New(cfg); err == nil {
		t.Fatal("New accepted unknown camera source")
	}
}

func TestNewRejectsUnknownDetectorSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detector.Source = "remote"
	if _, err := New(cfg); err == nil {
		t.Fatal("New accepted unknown detector source")
	}
}

func TestNewRejectsUnknownEngineBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detector.Source = "live"
	cfg.Engine.Backend = "cuda"
	if _, err := New(cfg); err == nil {
		t.Fatal("New accepted unknown engine backend")
	}
}

func TestSetExecutionModeValidatesBeforeApplying(t *testing.T) {
	d, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.setExecutionMode("turbo"); err == nil {
		t.Error("accepted unknown execution mode")
	}
	if got := d.store.Params().ExecutionMode; got != "high" {
		t.Errorf("mode changed to %q by a rejected command", got)
	}

	if err := d.setExecutionMode("low"); err != nil {
		t.Fatalf("setExecutionMode(low): %v", err)
	}
	if got := d.store.Params().LayerBudget; got != 4 {
		t.Errorf("layer budget = %d after low mode, want 4", got)
	}
}

func TestSetThresholdQualityValidatesBeforeApplying(t *testing.T) {
	d, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := d.setThresholdQuality("ultra"); err == nil {
		t.Error("accepted unknown threshold quality")
	}
	if err := d.setThresholdQuality("high"); err != nil {
		t.Fatalf("setThresholdQuality(high): %v", err)
	}
	if got := d.store.Params().Threshold; got != 0.6 {
		t.Errorf("threshold = %v after high quality, want 0.6", got)
	}
}

func TestShutdownViaControlRequiresRunning(t *testing.T) {
	d, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.shutdownViaControl(); err == nil {
		t.Fatal("shutdown command accepted before Run")
	}
}

func TestRunAdvancesCyclesUntilShutdown(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() { errChan <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for d.sched.Stats().Cycles == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no detection cycle completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := d.Run(ctx); err == nil {
		t.Error("second Run did not report already running")
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit on context cancel")
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestMountPoseDefaultsToIdentity(t *testing.T) {
	pose := mountPose(config.PoseConfig{X: 1, Y: 2, Z: 3})
	if pose.Position.X != 1 || pose.Position.Y != 2 || pose.Position.Z != 3 {
		t.Errorf("position = %+v", pose.Position)
	}
	if pose.Orientation.W != 1 || pose.Orientation.X != 0 {
		t.Errorf("omitted orientation = %+v, want identity", pose.Orientation)
	}

	pose = mountPose(config.PoseConfig{QX: 0, QY: 1, QZ: 0, QW: 0})
	if pose.Orientation.Y != 1 || pose.Orientation.W != 0 {
		t.Errorf("explicit orientation = %+v, want Y=1", pose.Orientation)
	}
}
