package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// SimConfig tunes the simulated backend.
type SimConfig struct {
	Layers        int           // network depth, > 0
	StepDelay     time.Duration // busy cost per layer, 0 for tests
	ReadbackDelay time.Duration // device-to-host latency
	InputWidth    int
	InputHeight   int
	Classes       int
}

// simRows is the number of prediction rows in the simulated output.
const simRows = 8

// Sim is an in-process compute backend that mimics a sliced device
// inference: a fixed number of layer steps, then a deterministic output
// tensor delivered through a genuinely asynchronous readback.
//
// The output always contains one strong centered prediction (objectness
// 0.9, class 0) and one weak off-center prediction (score 0.2, class 1),
// so decoding is reproducible and threshold-sensitive.
type Sim struct {
	cfg SimConfig

	mu     sync.Mutex
	cur    *simExec
	closed bool

	submits   atomic.Uint64
	readbacks atomic.Uint64
}

// NewSim creates a simulated backend.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Layers <= 0 {
		cfg.Layers = 24
	}
	return &Sim{cfg: cfg}
}

type simExec struct {
	sim       *Sim
	remaining int
	done      bool
}

func (e *simExec) Step() (bool, error) {
	if e.done {
		return false, ErrExecutionDone
	}
	if e.sim.cfg.StepDelay > 0 {
		time.Sleep(e.sim.cfg.StepDelay)
	}
	e.remaining--
	if e.remaining <= 0 {
		e.done = true
		return false, nil
	}
	return true, nil
}

// Submit begins a simulated pass of cfg.Layers steps.
func (s *Sim) Submit(input *types.Tensor) (Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrBackendClosed
	}
	if s.cur != nil && !s.cur.done {
		return nil, ErrExecutionInFlight
	}
	s.cur = &simExec{sim: s, remaining: s.cfg.Layers}
	s.submits.Add(1)
	return s.cur, nil
}

// PeekResult returns a device-side output tensor for the completed pass.
func (s *Sim) PeekResult() (*types.Tensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrBackendClosed
	}
	if s.cur == nil || !s.cur.done {
		return nil, ErrNoResult
	}
	return types.NewDeviceTensor([]int{1, simRows, 5 + s.cfg.Classes}), nil
}

// AsyncReadback fills out with the deterministic result after the
// configured delay and then invokes onComplete, on its own goroutine.
func (s *Sim) AsyncReadback(out *types.Tensor, onComplete func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrBackendClosed
	}
	s.readbacks.Add(1)
	s.mu.Unlock()

	go func() {
		if s.cfg.ReadbackDelay > 0 {
			time.Sleep(s.cfg.ReadbackDelay)
		}
		out.CompleteReadback(s.makeOutput())
		onComplete()
	}()
	return nil
}

// Close disposes the backend. A readback goroutine still in flight will
// finish against its own tensor; that is harmless after teardown.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	slog.Debug("sim backend closed",
		"submits", s.submits.Load(),
		"readbacks", s.readbacks.Load(),
	)
	return nil
}

// makeOutput builds the flat [1, simRows, 5+classes] prediction block.
// Row layout: cx, cy, w, h, objectness, class scores.
func (s *Sim) makeOutput() []float32 {
	w := float32(s.cfg.InputWidth)
	h := float32(s.cfg.InputHeight)
	stride := 5 + s.cfg.Classes
	data := make([]float32, simRows*stride)

	// Strong centered prediction: score 0.9 * 1.0, class 0.
	data[0] = w / 2
	data[1] = h / 2
	data[2] = w / 4
	data[3] = h / 4
	data[4] = 0.9
	data[5] = 1.0

	// Weak off-center prediction: score 0.5 * 0.4 = 0.2, class 1.
	row := stride
	data[row+0] = w / 4
	data[row+1] = h / 4
	data[row+2] = w / 8
	data[row+3] = h / 8
	data[row+4] = 0.5
	if s.cfg.Classes > 1 {
		data[row+6] = 0.4
	} else {
		data[row+5] = 0.4
	}

	return data
}
