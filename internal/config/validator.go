package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks if the configuration is valid and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.LogLevel {
	case "":
		cfg.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug/info/warn/error, got %q", cfg.LogLevel)
	}

	// Validate loop config
	if cfg.Loop.TickHz == 0 {
		cfg.Loop.TickHz = 30 // default
	}
	if cfg.Loop.TickHz < 0 {
		return fmt.Errorf("loop.tick_hz must be > 0")
	}

	if err := validateCamera(cfg); err != nil {
		return err
	}
	if err := validateModel(cfg); err != nil {
		return err
	}
	if err := validateEngine(cfg); err != nil {
		return err
	}
	if err := validateDetector(cfg); err != nil {
		return err
	}
	if err := validateMQTT(cfg); err != nil {
		return err
	}

	if cfg.Debug.DumpEvery <= 0 {
		cfg.Debug.DumpEvery = 30 // default
	}

	return nil
}

func validateCamera(cfg *Config) error {
	switch cfg.Camera.Source {
	case "":
		cfg.Camera.Source = "test_pattern" // default
	case "test_pattern":
	case "rtsp":
		if cfg.Camera.RTSPURL == "" {
			return fmt.Errorf("camera.rtsp_url is required when camera.source is rtsp")
		}
	default:
		return fmt.Errorf("camera.source must be test_pattern or rtsp, got %q", cfg.Camera.Source)
	}

	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 1280
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 720
	}
	if cfg.Camera.Width < 0 || cfg.Camera.Height < 0 {
		return fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.FPS < 0 {
		return fmt.Errorf("camera.fps must be > 0")
	}
	if cfg.Camera.LatencyMS == 0 {
		cfg.Camera.LatencyMS = 200
	}

	// All-zero quaternion means "not configured": use identity
	p := &cfg.Camera.Pose
	if p.QX == 0 && p.QY == 0 && p.QZ == 0 && p.QW == 0 {
		p.QW = 1
	}

	return nil
}

func validateModel(cfg *Config) error {
	if cfg.Model.InputWidth == 0 {
		cfg.Model.InputWidth = 640
	}
	if cfg.Model.InputHeight == 0 {
		cfg.Model.InputHeight = 640
	}
	if cfg.Model.InputWidth < 0 || cfg.Model.InputHeight < 0 {
		return fmt.Errorf("model.input_width and model.input_height must be > 0")
	}
	if cfg.Model.Classes == 0 {
		cfg.Model.Classes = 80
	}
	if cfg.Model.Classes < 0 {
		return fmt.Errorf("model.classes must be > 0")
	}
	if len(cfg.Model.Labels) > 0 && len(cfg.Model.Labels) != cfg.Model.Classes {
		return fmt.Errorf("model.labels must have %d entries to match model.classes, got %d",
			cfg.Model.Classes, len(cfg.Model.Labels))
	}
	return nil
}

func validateEngine(cfg *Config) error {
	switch cfg.Engine.Backend {
	case "":
		cfg.Engine.Backend = "sim" // default
	case "sim":
	case "process":
		if cfg.Engine.Process.Command == "" {
			return fmt.Errorf("engine.process.command is required when engine.backend is process")
		}
	default:
		return fmt.Errorf("engine.backend must be sim or process, got %q", cfg.Engine.Backend)
	}

	if cfg.Engine.ReadbackTimeoutMS == 0 {
		cfg.Engine.ReadbackTimeoutMS = 2000 // default
	}
	if cfg.Engine.ReadbackTimeoutMS < 0 {
		cfg.Engine.ReadbackTimeoutMS = 0 // negative disables, normalized to 0
	}

	if cfg.Engine.Sim.Layers == 0 {
		cfg.Engine.Sim.Layers = 24
	}
	if cfg.Engine.Sim.Layers < 0 {
		return fmt.Errorf("engine.sim.layers must be > 0")
	}
	if cfg.Engine.Sim.ReadbackDelayMS == 0 {
		cfg.Engine.Sim.ReadbackDelayMS = 5
	}

	if cfg.Engine.Process.StartTimeoutMS <= 0 {
		cfg.Engine.Process.StartTimeoutMS = 10000
	}
	if cfg.Engine.Process.RequestTimeoutMS <= 0 {
		cfg.Engine.Process.RequestTimeoutMS = 1000
	}

	return nil
}

func validateDetector(cfg *Config) error {
	switch cfg.Detector.Source {
	case "":
		cfg.Detector.Source = "live" // default
	case "live", "synthetic":
	default:
		return fmt.Errorf("detector.source must be live or synthetic, got %q", cfg.Detector.Source)
	}

	switch cfg.Detector.ExecutionMode {
	case "":
		cfg.Detector.ExecutionMode = "high" // default
	case "low", "high", "full":
	default:
		return fmt.Errorf("detector.execution_mode must be low/high/full, got %q", cfg.Detector.ExecutionMode)
	}

	switch cfg.Detector.ThresholdQuality {
	case "":
		cfg.Detector.ThresholdQuality = "medium" // default
	case "low", "medium", "high":
	default:
		return fmt.Errorf("detector.threshold_quality must be low/medium/high, got %q", cfg.Detector.ThresholdQuality)
	}

	return nil
}

func validateMQTT(cfg *Config) error {
	if !cfg.MQTT.Enabled {
		return nil
	}

	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt.enabled is true")
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("holo/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Recognitions == "" {
		cfg.MQTT.Topics.Recognitions = fmt.Sprintf("holo/recognitions/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("holo/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":      1,
			"recognitions": 0,
			"health":       0,
		}
	}

	return nil
}
