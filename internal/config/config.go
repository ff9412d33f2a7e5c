package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete holoyolod configuration
type Config struct {
	InstanceID string         `yaml:"instance_id"`
	LogLevel   string         `yaml:"log_level"` // debug, info, warn, error (default: info)
	Loop       LoopConfig     `yaml:"loop"`
	Camera     CameraConfig   `yaml:"camera"`
	Model      ModelConfig    `yaml:"model"`
	Engine     EngineConfig   `yaml:"engine"`
	Detector   DetectorConfig `yaml:"detector"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
	Debug      DebugConfig    `yaml:"debug"`
}

// LoopConfig contains the real-time loop settings
type LoopConfig struct {
	TickHz int `yaml:"tick_hz"` // scheduler ticks per second (default: 30)
}

// CameraConfig contains image source settings
type CameraConfig struct {
	Source    string     `yaml:"source"`     // test_pattern, rtsp
	RTSPURL   string     `yaml:"rtsp_url"`   // required when source is rtsp
	Width     int        `yaml:"width"`      // native capture width (default: 1280)
	Height    int        `yaml:"height"`     // native capture height (default: 720)
	FPS       int        `yaml:"fps"`        // capture rate (default: 30)
	LatencyMS int        `yaml:"latency_ms"` // rtspsrc jitter buffer (default: 200)
	Pose      PoseConfig `yaml:"pose"`       // static mounting pose
}

// PoseConfig is the fixed camera mounting pose. Orientation defaults to
// identity when all quaternion components are zero.
type PoseConfig struct {
	X  float64 `yaml:"x"`
	Y  float64 `yaml:"y"`
	Z  float64 `yaml:"z"`
	QX float64 `yaml:"qx"`
	QY float64 `yaml:"qy"`
	QZ float64 `yaml:"qz"`
	QW float64 `yaml:"qw"`
}

// ModelConfig describes the detector model's input and classes
type ModelConfig struct {
	InputWidth  int      `yaml:"input_width"`  // default: 640
	InputHeight int      `yaml:"input_height"` // default: 640
	Classes     int      `yaml:"classes"`      // default: 80
	Labels      []string `yaml:"labels"`       // optional class names, index-aligned
}

// EngineConfig selects and tunes the compute backend
type EngineConfig struct {
	Backend           string        `yaml:"backend"`             // sim, process
	ReadbackTimeoutMS int           `yaml:"readback_timeout_ms"` // 0 disables (default: 2000)
	Sim               SimConfig     `yaml:"sim"`
	Process           ProcessConfig `yaml:"process"`
}

// SimConfig tunes the in-process simulated backend
type SimConfig struct {
	Layers          int `yaml:"layers"`            // simulated network depth (default: 24)
	StepDelayUS     int `yaml:"step_delay_us"`     // per-layer busy cost (default: 0)
	ReadbackDelayMS int `yaml:"readback_delay_ms"` // async readback latency (default: 5)
}

// ProcessConfig tunes the subprocess model-runner backend
type ProcessConfig struct {
	Command          string   `yaml:"command"` // model runner executable
	Args             []string `yaml:"args"`
	ModelPath        string   `yaml:"model_path"`
	StartTimeoutMS   int      `yaml:"start_timeout_ms"`   // wait for the ready frame (default: 10000)
	RequestTimeoutMS int      `yaml:"request_timeout_ms"` // per-request reply wait (default: 1000)
}

// DetectorConfig selects the detection source and initial tuning
type DetectorConfig struct {
	Source           string `yaml:"source"`            // live, synthetic
	ExecutionMode    string `yaml:"execution_mode"`    // low, high, full (default: high)
	ThresholdQuality string `yaml:"threshold_quality"` // low, medium, high (default: medium)
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled bool            `yaml:"enabled"`
	Broker  string          `yaml:"broker"`
	Topics  MQTTTopics      `yaml:"topics"`
	QoS     map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control      string `yaml:"control"`
	Recognitions string `yaml:"recognitions"`
	Health       string `yaml:"health"`
}

// DebugConfig controls the debug consumer's frame dumps
type DebugConfig struct {
	DumpDir   string `yaml:"dump_dir"`   // empty disables PNG dumps
	DumpEvery int    `yaml:"dump_every"` // dump every Nth cycle (default: 30)
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
