// Package control is the MQTT command plane: JSON commands arrive on
// the control topic, responses go out on the health topic. Commands are
// queued and handled off the MQTT callback goroutine; a full queue
// drops, it never blocks the broker client.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/config"
)

// Command is a control plane request.
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response acknowledges a command.
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Callbacks are the hooks commands invoke. Nil hooks answer with a
// "not implemented" error, except pause and resume, which always flip
// the handler's pause flag.
type Callbacks struct {
	OnGetStatus           func() map[string]any
	OnSetExecutionMode    func(mode string) error
	OnSetThresholdQuality func(quality string) error
	OnPause               func() error
	OnResume              func() error
	OnShutdown            func() error
}

// Handler subscribes to the control topic and dispatches commands.
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	commands  chan Command
	callbacks Callbacks

	// shutdownDelay leaves the shutdown ack time to reach the broker
	// before teardown starts closing the connection.
	shutdownDelay time.Duration

	mu       sync.RWMutex
	isPaused bool
}

// NewHandler creates a handler bound to the given broker client.
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks Callbacks) *Handler {
	return &Handler{
		cfg:           cfg,
		client:        client,
		commands:      make(chan Command, 10),
		callbacks:     callbacks,
		shutdownDelay: 500 * time.Millisecond,
	}
}

// Start subscribes to the control topic and begins processing.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	go h.processCommands(ctx)

	slog.Info("control plane handler started")
	return nil
}

// Stop unsubscribes and ends command processing.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.Wait()
	}
	close(h.commands)
	slog.Info("control plane handler stopped")
	return nil
}

// IsPaused reports whether detection is paused. The loop polls this
// each tick.
func (h *Handler) IsPaused() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.isPaused
}

func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			resp, after := h.dispatch(cmd)
			h.sendResponse(resp)
			if after != nil {
				after()
			}
		}
	}
}

// dispatch maps one command to its response. The returned func, when
// not nil, runs after the response is sent; shutdown uses it so the
// ack leaves before teardown begins.
func (h *Handler) dispatch(cmd Command) (Response, func()) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "set_execution_mode":
		mode, ok := cmd.Params["mode"].(string)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'mode' parameter (expected string: low/high/full)"
			break
		}
		if h.callbacks.OnSetExecutionMode == nil {
			resp.Status = "error"
			resp.Error = "set_execution_mode not implemented"
			break
		}
		if err := h.callbacks.OnSetExecutionMode(mode); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"execution_mode": mode}

	case "set_threshold_quality":
		quality, ok := cmd.Params["quality"].(string)
		if !ok {
			resp.Status = "error"
			resp.Error = "missing or invalid 'quality' parameter (expected string: low/medium/high)"
			break
		}
		if h.callbacks.OnSetThresholdQuality == nil {
			resp.Status = "error"
			resp.Error = "set_threshold_quality not implemented"
			break
		}
		if err := h.callbacks.OnSetThresholdQuality(quality); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]any{"threshold_quality": quality}

	case "pause":
		if h.callbacks.OnPause != nil {
			if err := h.callbacks.OnPause(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
				break
			}
		}
		h.mu.Lock()
		h.isPaused = true
		h.mu.Unlock()
		resp.Status = "paused"
		resp.Data = map[string]any{"detection_active": false}

	case "resume":
		if h.callbacks.OnResume != nil {
			if err := h.callbacks.OnResume(); err != nil {
				resp.Status = "error"
				resp.Error = err.Error()
				break
			}
		}
		h.mu.Lock()
		h.isPaused = false
		h.mu.Unlock()
		resp.Status = "success"
		resp.Data = map[string]any{"detection_active": true}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		slog.Warn("shutdown command received via control plane")
		resp.Status = "success"
		resp.Data = map[string]any{"shutdown_initiated": true}
		delay := h.shutdownDelay
		return resp, func() {
			go func() {
				time.Sleep(delay)
				if err := h.callbacks.OnShutdown(); err != nil {
					slog.Error("shutdown callback failed", "error", err)
				}
			}()
		}

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp, nil
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Health, h.cfg.QoS["health"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
