package source

import (
	"errors"
	"testing"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/engine"
	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/types"
)

// scriptBackend is a hand-driven backend: steps finish after layers
// calls, readback callbacks are captured so the test decides when the
// "device" completes.
type scriptBackend struct {
	layers int

	submits   int
	peeks     int
	readbacks int
	closes    int

	peekErr     error
	readbackErr error

	out      *types.Tensor
	pending  []func()
	stepsRun int
}

type scriptExec struct {
	b    *scriptBackend
	left int
}

func (e *scriptExec) Step() (bool, error) {
	e.b.stepsRun++
	e.left--
	return e.left > 0, nil
}

func (b *scriptBackend) Submit(*types.Tensor) (engine.Execution, error) {
	b.submits++
	return &scriptExec{b: b, left: b.layers}, nil
}

func (b *scriptBackend) PeekResult() (*types.Tensor, error) {
	b.peeks++
	if b.peekErr != nil {
		return nil, b.peekErr
	}
	b.out = types.NewDeviceTensor([]int{1, 1, 6})
	return b.out, nil
}

func (b *scriptBackend) AsyncReadback(out *types.Tensor, onComplete func()) error {
	b.readbacks++
	if b.readbackErr != nil {
		return b.readbackErr
	}
	b.pending = append(b.pending, func() {
		out.CompleteReadback(make([]float32, 6))
		onComplete()
	})
	return nil
}

func (b *scriptBackend) Close() error {
	b.closes++
	return nil
}

// complete fires the oldest captured readback.
func (b *scriptBackend) complete(t *testing.T) {
	t.Helper()
	if len(b.pending) == 0 {
		t.Fatal("no pending readback to complete")
	}
	fire := b.pending[0]
	b.pending = b.pending[1:]
	fire()
}

type fakeDecoder struct {
	calls     int
	threshold float64
	dets      []types.Detection
}

func (d *fakeDecoder) Decode(out *types.Tensor, threshold float64) ([]types.Detection, error) {
	d.calls++
	d.threshold = threshold
	return d.dets, nil
}

func liveInput(t *testing.T) *types.Tensor {
	t.Helper()
	return types.NewTensor([]int{1, 1}, []float32{0})
}

// One full cycle: budget-sliced advance, parked readback, decode after
// the device completes.
func TestLiveCycle(t *testing.T) {
	b := &scriptBackend{layers: 5}
	dec := &fakeDecoder{dets: []types.Detection{{Class: 2, Confidence: 0.7}}}
	l := NewLive(b, dec)

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	ticks := 0
	for {
		ticks++
		done, err := l.Advance(2)
		if err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
		if done {
			break
		}
		if ticks > 10 {
			t.Fatal("pass never completed")
		}
	}
	if ticks != 3 {
		t.Fatalf("5 layers at budget 2 took %d ticks, want 3", ticks)
	}

	fired := false
	immediate, err := l.BeginReadback(func() { fired = true })
	if err != nil {
		t.Fatalf("BeginReadback failed: %v", err)
	}
	if immediate {
		t.Fatal("live readback must never be immediate")
	}

	b.complete(t)
	if !fired {
		t.Fatal("onDone did not fire")
	}

	dets, err := l.Detections(0.3)
	if err != nil {
		t.Fatalf("Detections failed: %v", err)
	}
	if len(dets) != 1 || dets[0].Class != 2 {
		t.Fatalf("detections = %+v", dets)
	}
	if dec.threshold != 0.3 {
		t.Fatalf("decoder threshold = %v, want 0.3", dec.threshold)
	}
}

func TestLiveAdvanceWithoutBegin(t *testing.T) {
	l := NewLive(&scriptBackend{layers: 1}, &fakeDecoder{})
	if _, err := l.Advance(1); err != ErrNoCycle {
		t.Fatalf("Advance before Begin = %v, want ErrNoCycle", err)
	}
}

// The readback is requested at most once per cycle stay in ReadOutput.
func TestLiveReadbackSingleFlight(t *testing.T) {
	b := &scriptBackend{layers: 1}
	l := NewLive(b, &fakeDecoder{})

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := l.Advance(-1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := l.BeginReadback(func() {}); err != nil {
		t.Fatalf("BeginReadback failed: %v", err)
	}

	if _, err := l.BeginReadback(func() {}); err != ErrReadbackPending {
		t.Fatalf("second BeginReadback = %v, want ErrReadbackPending", err)
	}
	if b.readbacks != 1 {
		t.Fatalf("backend saw %d readback requests, want 1", b.readbacks)
	}
}

// A failed readback request does not consume the cycle's single flight;
// the next tick may retry.
func TestLiveReadbackRequestErrorIsRetriable(t *testing.T) {
	b := &scriptBackend{layers: 1, peekErr: errors.New("device lost")}
	l := NewLive(b, &fakeDecoder{})

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := l.Advance(-1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	if _, err := l.BeginReadback(func() {}); err == nil {
		t.Fatal("BeginReadback should surface the peek error")
	}

	b.peekErr = nil
	if _, err := l.BeginReadback(func() {}); err != nil {
		t.Fatalf("retry BeginReadback failed: %v", err)
	}
}

// A transfer that fails to start releases the peeked tensor.
func TestLiveReadbackStartFailureReleasesOutput(t *testing.T) {
	b := &scriptBackend{layers: 1, readbackErr: errors.New("dma queue full")}
	l := NewLive(b, &fakeDecoder{})

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := l.Advance(-1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := l.BeginReadback(func() {}); err == nil {
		t.Fatal("BeginReadback should surface the readback error")
	}
	if !b.out.Released() {
		t.Fatal("peeked tensor should be released after a failed request")
	}
}

// Starting the next cycle releases the previous cycle's output tensor.
func TestLiveBeginReleasesPreviousOutput(t *testing.T) {
	b := &scriptBackend{layers: 1}
	l := NewLive(b, &fakeDecoder{})

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := l.Advance(-1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := l.BeginReadback(func() {}); err != nil {
		t.Fatalf("BeginReadback failed: %v", err)
	}
	b.complete(t)
	first := b.out

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}
	if !first.Released() {
		t.Fatal("previous output should be released when the next cycle begins")
	}
}

// Decoding before the readback completed is a programmer error.
func TestLiveDetectionsBeforeReadbackPanics(t *testing.T) {
	b := &scriptBackend{layers: 1}
	l := NewLive(b, &fakeDecoder{})

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := l.Advance(-1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := l.BeginReadback(func() {}); err != nil {
		t.Fatalf("BeginReadback failed: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("Detections before readback completion should panic")
		}
	}()
	_, _ = l.Detections(0.3)
}

func TestLiveDetectionsWithoutOutput(t *testing.T) {
	l := NewLive(&scriptBackend{layers: 1}, &fakeDecoder{})
	if _, err := l.Detections(0.3); err != ErrNoOutput {
		t.Fatalf("Detections without output = %v, want ErrNoOutput", err)
	}
}

// Close releases the output, disposes the backend and stays safe on a
// second call.
func TestLiveClose(t *testing.T) {
	b := &scriptBackend{layers: 1}
	l := NewLive(b, &fakeDecoder{})

	if err := l.Begin(liveInput(t)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := l.Advance(-1); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := l.BeginReadback(func() {}); err != nil {
		t.Fatalf("BeginReadback failed: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !b.out.Released() {
		t.Fatal("output should be released on Close")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if b.closes != 2 {
		t.Fatalf("backend Close calls = %d, want 2 (backend handles idempotence)", b.closes)
	}
}
