// Package scheduler slices one object detection pass across fixed-rate
// loop ticks. Each tick advances a five-state cycle by at most one
// state's worth of work, so a frame-rate loop keeps its deadline while
// the network executes over many ticks in the background.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/settings"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/source"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// State is the cycle position. Exactly one state's work runs per tick.
type State int

const (
	// StatePreProcessing captures a frame, samples the pose and builds
	// the input tensor.
	StatePreProcessing State = iota
	// StateExecuting steps the network under the tick's layer budget.
	StateExecuting
	// StateReadOutput requests the asynchronous device-to-host copy.
	StateReadOutput
	// StatePostProcessing decodes the output and feeds the consumers.
	StatePostProcessing
	// StateIdle waits for the readback completion callback.
	StateIdle
)

func (s State) String() string {
	switch s {
	case StatePreProcessing:
		return "PreProcessing"
	case StateExecuting:
		return "Executing"
	case StateReadOutput:
		return "ReadOutput"
	case StatePostProcessing:
		return "PostProcessing"
	case StateIdle:
		return "Idle"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const settingsSubscriberID = "scheduler"

// Options wires a Scheduler. Source, Images, Scaler and Params are
// required; the sinks are optional.
type Options struct {
	Source source.Source
	Images ImageSource
	Scaler Rescaler
	Params ParamSource
	Debug  DebugSink
	Recog  RecognitionSink
	Log    *slog.Logger

	InputWidth  int
	InputHeight int

	// ReadbackTimeout bounds the Idle park. Zero disables the deadline.
	ReadbackTimeout time.Duration
}

// Scheduler drives the tick cycle. Advance and Close are called from
// the loop goroutine; the readback completion callback arrives from a
// backend goroutine, so the state word and its generation are guarded
// together.
type Scheduler struct {
	src    source.Source
	images ImageSource
	scaler Rescaler
	params ParamSource
	debug  DebugSink
	recog  RecognitionSink
	log    *slog.Logger

	inputWidth      int
	inputHeight     int
	readbackTimeout time.Duration

	// mu guards state, gen and readbackStarted. gen invalidates stale
	// readback callbacks: it changes when a cycle begins, when the
	// readback deadline restarts the cycle, and on Close.
	mu              sync.Mutex
	state           State
	gen             uint64
	readbackStarted time.Time

	// Cycle context. Touched only from the loop goroutine.
	input      *types.Frame
	tensor     *types.Tensor
	pose       types.Pose
	traceID    string
	cycleStart time.Time
	cycleTicks int

	stats statCounters

	closeOnce sync.Once
	closed    bool
}

// New builds a Scheduler parked in PreProcessing and subscribes it to
// parameter changes.
func New(opts Options) (*Scheduler, error) {
	if opts.Source == nil || opts.Images == nil || opts.Scaler == nil || opts.Params == nil {
		return nil, fmt.Errorf("scheduler: source, images, scaler and params are required")
	}
	if opts.InputWidth <= 0 || opts.InputHeight <= 0 {
		return nil, fmt.Errorf("scheduler: model input size %dx%d must be positive", opts.InputWidth, opts.InputHeight)
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		src:             opts.Source,
		images:          opts.Images,
		scaler:          opts.Scaler,
		params:          opts.Params,
		debug:           opts.Debug,
		recog:           opts.Recog,
		log:             log,
		inputWidth:      opts.InputWidth,
		inputHeight:     opts.InputHeight,
		readbackTimeout: opts.ReadbackTimeout,
		state:           StatePreProcessing,
	}
	if err := s.params.Subscribe(settingsSubscriberID, s.onParamsChanged); err != nil {
		return nil, fmt.Errorf("scheduler: subscribe to settings: %w", err)
	}
	return s, nil
}

func (s *Scheduler) onParamsChanged(p settings.Params) {
	s.stats.configChanges.Add(1)
	s.log.Info("execution parameters changed",
		"mode", p.ExecutionMode,
		"layer_budget", p.LayerBudget,
		"quality", p.Quality,
		"threshold", p.Threshold,
	)
}

// Advance runs exactly one tick: the work of the current state, no
// more. An unrecognized state is a corrupted scheduler and panics.
func (s *Scheduler) Advance() {
	st, open := s.tickState()
	if !open {
		return
	}
	s.stats.ticks.Add(1)
	if st != StatePreProcessing {
		s.cycleTicks++
	}

	switch st {
	case StatePreProcessing:
		s.preProcess()
	case StateExecuting:
		s.execute()
	case StateReadOutput:
		s.readOutput()
	case StatePostProcessing:
		s.postProcess()
	case StateIdle:
		s.idle()
	default:
		panic(fmt.Sprintf("scheduler: unrecognized state %d", int(st)))
	}
}

// preProcess starts a cycle: grab a frame, sample its pose, build the
// input tensor and hand it to the source. Without a frame the loop
// stays here and tries again next tick.
func (s *Scheduler) preProcess() {
	frame, ok := s.images.Grab()
	if !ok {
		s.stats.starvedTicks.Add(1)
		return
	}

	// The previous cycle's input is released before a new one exists.
	if s.tensor != nil {
		s.tensor.Release()
		s.tensor = nil
	}

	scaled, err := s.scaler.Rescale(frame, s.inputWidth, s.inputHeight)
	if err != nil {
		s.log.Error("frame rescale failed", "seq", frame.Seq, "error", err)
		return
	}

	tensor := types.TensorFromFrame(scaled)
	if err := s.src.Begin(tensor); err != nil {
		tensor.Release()
		s.log.Error("cycle begin failed", "seq", frame.Seq, "error", err)
		return
	}

	s.input = scaled
	s.tensor = tensor
	s.pose = frame.Pose
	s.traceID = frame.TraceID
	if s.traceID == "" {
		s.traceID = uuid.NewString()
	}
	s.cycleStart = time.Now()
	s.cycleTicks = 1

	s.beginCycle(StateExecuting)
	s.log.Debug("cycle started", "trace_id", s.traceID, "seq", frame.Seq)
}

// execute steps the network under the layer budget read fresh from the
// store, so a mode change lands on the very next tick.
func (s *Scheduler) execute() {
	budget := s.params.Params().LayerBudget
	done, err := s.src.Advance(budget)
	if err != nil {
		s.log.Error("execution step failed", "trace_id", s.traceID, "error", err)
		return
	}
	if done {
		s.setState(StateReadOutput)
	}
}

// readOutput parks the cycle in Idle first and only then registers the
// completion callback, so a callback firing mid-registration already
// finds the state it is allowed to swap.
func (s *Scheduler) readOutput() {
	g := s.park()
	immediate, err := s.src.BeginReadback(func() { s.completeReadback(g) })
	if err != nil {
		s.unpark(g, StateReadOutput)
		s.log.Warn("readback request failed", "trace_id", s.traceID, "error", err)
		return
	}
	if immediate {
		s.unpark(g, StatePostProcessing)
	}
}

// idle checks the readback deadline. On expiry the transfer is
// abandoned, its callback is invalidated and the cycle restarts.
func (s *Scheduler) idle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		// The callback completed between dispatch and now.
		return
	}
	if s.readbackTimeout <= 0 || time.Since(s.readbackStarted) < s.readbackTimeout {
		return
	}
	s.gen++
	s.state = StatePreProcessing
	s.stats.readbackTimeouts.Add(1)
	s.log.Warn("readback deadline exceeded, restarting cycle",
		"trace_id", s.traceID,
		"timeout", s.readbackTimeout,
	)
}

// postProcess decodes at the threshold read fresh from the store and
// feeds both consumers, then wraps the cycle.
func (s *Scheduler) postProcess() {
	threshold := s.params.Params().Threshold
	dets, err := s.src.Detections(threshold)
	if err != nil {
		s.log.Error("output decode failed", "trace_id", s.traceID, "error", err)
		s.setState(StatePreProcessing)
		return
	}

	res := &Result{
		TraceID:    s.traceID,
		Seq:        s.input.Seq,
		CapturedAt: s.input.Timestamp,
		Pose:       s.pose,
		Frame:      s.input,
		Detections: dets,
		Threshold:  threshold,
		CycleTicks: s.cycleTicks,
		Elapsed:    time.Since(s.cycleStart),
	}
	if s.debug != nil {
		s.debug.ShowDebugInformation(res)
	}
	if s.recog != nil {
		s.recog.ShowRecognitions(res)
	}

	s.stats.cycles.Add(1)
	s.stats.lastDetections.Store(uint64(len(dets)))
	s.stats.lastCycleTicks.Store(uint64(s.cycleTicks))
	s.log.Debug("cycle completed",
		"trace_id", s.traceID,
		"detections", len(dets),
		"ticks", s.cycleTicks,
		"elapsed", res.Elapsed,
	)
	s.setState(StatePreProcessing)
}

// Close tears the scheduler down: unsubscribe from settings, stop the
// image source, release the input tensor, then close the detection
// source, which disposes the backend and any output tensor. Safe to
// call more than once; a readback callback arriving afterwards is a
// no-op.
func (s *Scheduler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.gen++
		s.mu.Unlock()

		s.params.Unsubscribe(settingsSubscriberID)
		if stopErr := s.images.Stop(); stopErr != nil {
			s.log.Warn("image source stop failed", "error", stopErr)
		}
		if s.tensor != nil {
			s.tensor.Release()
			s.tensor = nil
		}
		err = s.src.Close()
		s.log.Info("scheduler closed",
			"ticks", s.stats.ticks.Load(),
			"cycles", s.stats.cycles.Load(),
		)
	})
	return err
}

// State reports the current cycle position.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// tickState reads the dispatch state, reporting open=false once closed.
func (s *Scheduler) tickState() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, !s.closed
}

func (s *Scheduler) setState(to State) {
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
}

// beginCycle advances the generation so callbacks from earlier cycles
// can never touch this one, then enters the given state.
func (s *Scheduler) beginCycle(to State) {
	s.mu.Lock()
	s.gen++
	s.state = to
	s.mu.Unlock()
}

// park enters Idle, stamps the deadline clock and returns the
// generation the readback callback must present.
func (s *Scheduler) park() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateIdle
	s.readbackStarted = time.Now()
	return s.gen
}

// unpark leaves Idle again on the request path, where no callback has
// been registered. The guard mirrors completeReadback for symmetry.
func (s *Scheduler) unpark(g uint64, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g || s.state != StateIdle {
		return
	}
	s.state = to
}

// completeReadback is the transfer completion callback. It transitions
// Idle to PostProcessing only while the registering cycle is still the
// live one; after a deadline restart or Close it does nothing.
func (s *Scheduler) completeReadback(g uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g || s.state != StateIdle {
		return
	}
	s.state = StatePostProcessing
}
