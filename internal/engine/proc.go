package engine

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// ProcConfig configures the subprocess backend.
type ProcConfig struct {
	Command        string // model runner executable
	Args           []string
	ModelPath      string
	InputWidth     int
	InputHeight    int
	StartTimeout   time.Duration // wait for the ready frame
	RequestTimeout time.Duration // per-request reply wait
}

// wireMsg is one framed message in either direction. Frames are msgpack
// payloads preceded by a 4-byte big-endian length so both sides can find
// message boundaries in the stream.
//
// Requests:  load, submit{id,shape,data}, step{id}, peek{id}, readback{id}
// Replies:   ready{layers}, submitted{id}, stepped{id,more},
//            output{id,shape}, readback_done{id,data}, error{message}
type wireMsg struct {
	Op          string `msgpack:"op"`
	ID          uint64 `msgpack:"id,omitempty"`
	Shape       []int  `msgpack:"shape,omitempty"`
	Data        []byte `msgpack:"data,omitempty"` // float32 little-endian
	More        bool   `msgpack:"more,omitempty"`
	Layers      int    `msgpack:"layers,omitempty"`
	ModelPath   string `msgpack:"model_path,omitempty"`
	InputWidth  int    `msgpack:"input_width,omitempty"`
	InputHeight int    `msgpack:"input_height,omitempty"`
	Message     string `msgpack:"message,omitempty"`
}

// maxWireFrame bounds a single reply frame; a 640x640 float32 output is
// well under this.
const maxWireFrame = 64 << 20

// Proc drives an external model-runner process over stdin/stdout.
// Synchronous requests (submit, step, peek) wait for their reply; the
// readback reply arrives whenever the runner finishes the transfer and
// is routed to the registered completion callback.
type Proc struct {
	cfg ProcConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	isActive atomic.Bool
	nextID   atomic.Uint64
	layers   int

	writeMu sync.Mutex
	replies chan wireMsg

	// in-flight bookkeeping, tick thread only
	inFlight bool
	curID    uint64

	readbackMu sync.Mutex
	rbTensor   *types.Tensor
	rbDone     func()
}

// NewProc creates the backend without starting the process.
func NewProc(cfg ProcConfig) (*Proc, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("engine: process command is required")
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Second
	}
	return &Proc{
		cfg:     cfg,
		replies: make(chan wireMsg, 4),
	}, nil
}

// Start spawns the runner, waits for its ready frame and leaves the
// reader goroutines running.
func (p *Proc) Start(ctx context.Context) error {
	if p.isActive.Load() {
		return fmt.Errorf("engine: process backend already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.cmd = exec.CommandContext(p.ctx, p.cfg.Command, p.cfg.Args...)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("creating stdin pipe: %w", err)
	}
	p.stdin = stdin

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	p.stdout = stdout

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}
	p.stderr = stderr

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("starting model runner: %w", err)
	}

	slog.Info("model runner spawned",
		"command", p.cfg.Command,
		"pid", p.cmd.Process.Pid,
	)

	p.wg.Add(3)
	go p.readLoop()
	go p.logStderr()
	go p.waitProcess()

	p.isActive.Store(true)

	if err := p.send(wireMsg{
		Op:          "load",
		ModelPath:   p.cfg.ModelPath,
		InputWidth:  p.cfg.InputWidth,
		InputHeight: p.cfg.InputHeight,
	}); err != nil {
		p.Close()
		return fmt.Errorf("sending load request: %w", err)
	}

	ready, err := p.await("ready", p.cfg.StartTimeout)
	if err != nil {
		p.Close()
		return fmt.Errorf("waiting for model runner: %w", err)
	}
	p.layers = ready.Layers

	slog.Info("model runner ready",
		"model", p.cfg.ModelPath,
		"layers", p.layers,
	)
	return nil
}

// Submit sends the input tensor and returns the remote execution.
func (p *Proc) Submit(input *types.Tensor) (Execution, error) {
	if !p.isActive.Load() {
		return nil, ErrBackendClosed
	}
	if p.inFlight {
		return nil, ErrExecutionInFlight
	}

	id := p.nextID.Add(1)
	if err := p.send(wireMsg{
		Op:    "submit",
		ID:    id,
		Shape: input.Shape(),
		Data:  floatsToBytes(input.Data()),
	}); err != nil {
		return nil, err
	}
	if _, err := p.await("submitted", p.cfg.RequestTimeout); err != nil {
		return nil, err
	}

	p.inFlight = true
	p.curID = id
	return &procExec{p: p, id: id}, nil
}

type procExec struct {
	p    *Proc
	id   uint64
	done bool
}

func (e *procExec) Step() (bool, error) {
	if e.done {
		return false, ErrExecutionDone
	}
	if !e.p.isActive.Load() {
		return false, ErrBackendClosed
	}

	if err := e.p.send(wireMsg{Op: "step", ID: e.id}); err != nil {
		return false, err
	}
	reply, err := e.p.await("stepped", e.p.cfg.RequestTimeout)
	if err != nil {
		return false, err
	}
	if !reply.More {
		e.done = true
		e.p.inFlight = false
	}
	return reply.More, nil
}

// PeekResult asks the runner for the output descriptor of the completed
// pass. Data stays on the runner side until the readback.
func (p *Proc) PeekResult() (*types.Tensor, error) {
	if !p.isActive.Load() {
		return nil, ErrBackendClosed
	}

	if err := p.send(wireMsg{Op: "peek", ID: p.curID}); err != nil {
		return nil, err
	}
	reply, err := p.await("output", p.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if len(reply.Shape) == 0 {
		return nil, fmt.Errorf("engine: runner returned output without a shape")
	}
	return types.NewDeviceTensor(reply.Shape), nil
}

// AsyncReadback requests the transfer; the read loop completes out and
// fires onComplete when readback_done arrives.
func (p *Proc) AsyncReadback(out *types.Tensor, onComplete func()) error {
	if !p.isActive.Load() {
		return ErrBackendClosed
	}

	p.readbackMu.Lock()
	if p.rbDone != nil {
		p.readbackMu.Unlock()
		return fmt.Errorf("engine: readback already pending")
	}
	p.rbTensor = out
	p.rbDone = onComplete
	p.readbackMu.Unlock()

	if err := p.send(wireMsg{Op: "readback", ID: p.curID}); err != nil {
		p.readbackMu.Lock()
		p.rbTensor = nil
		p.rbDone = nil
		p.readbackMu.Unlock()
		return err
	}
	return nil
}

// Close stops the runner. A readback pending at Close never completes;
// the caller's deadline handling covers that.
func (p *Proc) Close() error {
	if !p.isActive.Swap(false) {
		return nil
	}

	slog.Info("stopping model runner", "pid", p.cmd.Process.Pid)

	if p.cancel != nil {
		p.cancel()
	}
	if p.stdin != nil {
		p.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		slog.Warn("model runner stop timeout, force killing")
		if p.cmd != nil && p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill model runner", "error", err)
			}
		}
	}
	return nil
}

// send writes one framed request to the runner's stdin. The write runs
// on its own goroutine so a hung runner cannot stall the tick thread.
func (p *Proc) send(msg wireMsg) error {
	payload, err := marshalWireMsg(msg)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", msg.Op, err)
	}

	errCh := make(chan error, 1)
	go func() {
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		errCh <- writeWireFrame(p.stdin, payload)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("writing %s request: %w", msg.Op, err)
		}
		return nil
	case <-time.After(p.cfg.RequestTimeout):
		return fmt.Errorf("engine: stdin write timeout on %s (runner may be hung)", msg.Op)
	case <-p.ctx.Done():
		return fmt.Errorf("engine: backend stopping during %s", msg.Op)
	}
}

// await takes the next synchronous reply and checks its op.
func (p *Proc) await(op string, timeout time.Duration) (wireMsg, error) {
	select {
	case reply := <-p.replies:
		if reply.Op == "error" {
			return wireMsg{}, fmt.Errorf("engine: runner error: %s", reply.Message)
		}
		if reply.Op != op {
			return wireMsg{}, fmt.Errorf("engine: runner sent %q while waiting for %q", reply.Op, op)
		}
		return reply, nil
	case <-time.After(timeout):
		return wireMsg{}, fmt.Errorf("engine: timed out waiting for %s reply", op)
	case <-p.ctx.Done():
		return wireMsg{}, fmt.Errorf("engine: backend stopping while waiting for %s", op)
	}
}

// readLoop decodes frames from the runner's stdout and routes them:
// readback completions to the registered callback, everything else to
// the synchronous reply channel.
func (p *Proc) readLoop() {
	defer p.wg.Done()

	for {
		msg, err := readWireFrame(p.stdout)
		if err != nil {
			if err == io.EOF {
				slog.Debug("model runner stdout closed")
			} else {
				slog.Error("failed to read model runner reply", "error", err)
			}
			return
		}

		if msg.Op == "readback_done" {
			p.deliverReadback(msg)
			continue
		}

		select {
		case p.replies <- msg:
		default:
			slog.Warn("dropping unexpected runner reply", "op", msg.Op)
		}
	}
}

func (p *Proc) deliverReadback(msg wireMsg) {
	p.readbackMu.Lock()
	tensor, done := p.rbTensor, p.rbDone
	p.rbTensor, p.rbDone = nil, nil
	p.readbackMu.Unlock()

	if done == nil {
		slog.Warn("readback completion with no pending request", "id", msg.ID)
		return
	}
	tensor.CompleteReadback(bytesToFloats(msg.Data))
	done()
}

// logStderr maps runner log lines onto slog levels.
func (p *Proc) logStderr() {
	defer p.wg.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("model runner error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("model runner warning", "log", line)
		default:
			slog.Debug("model runner log", "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("error reading model runner stderr", "error", err)
	}
}

// waitProcess reaps the runner so it cannot linger as a zombie.
func (p *Proc) waitProcess() {
	defer p.wg.Done()

	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	err := p.cmd.Wait()
	if err != nil {
		select {
		case <-p.ctx.Done():
			slog.Debug("model runner exited (shutdown)", "pid", p.cmd.Process.Pid)
		default:
			slog.Error("model runner exited unexpectedly", "pid", p.cmd.Process.Pid, "error", err)
		}
		return
	}
	slog.Info("model runner exited cleanly", "pid", p.cmd.Process.Pid)
}

func marshalWireMsg(msg wireMsg) ([]byte, error) {
	return msgpack.Marshal(msg)
}

// writeWireFrame writes a 4-byte big-endian length prefix and the payload.
func writeWireFrame(w io.Writer, payload []byte) error {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("writing length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

// readWireFrame reads one length-prefixed msgpack message.
func readWireFrame(r io.Reader) (wireMsg, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return wireMsg{}, err
	}
	n := binary.BigEndian.Uint32(prefix)
	if n == 0 || n > maxWireFrame {
		return wireMsg{}, fmt.Errorf("engine: invalid frame length %d", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return wireMsg{}, fmt.Errorf("reading %d byte frame: %w", n, err)
	}

	var msg wireMsg
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return wireMsg{}, fmt.Errorf("unmarshaling frame: %w", err)
	}
	return msg, nil
}

// floatsToBytes packs float32 values little-endian.
func floatsToBytes(vals []float32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloats unpacks little-endian float32 values.
func bytesToFloats(buf []byte) []float32 {
	vals := make([]float32, len(buf)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vals
}
