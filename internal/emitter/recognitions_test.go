package emitter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/scheduler"
)

// gatedPub blocks each Publish until the test releases it, which makes
// the latest-wins overwrite deterministic.
type gatedPub struct {
	connected bool
	entered   chan struct{}
	gate      chan struct{}
	err       error

	mu     sync.Mutex
	topics []string
	sent   [][]byte
}

func newGatedPub() *gatedPub {
	return &gatedPub{
		connected: true,
		entered:   make(chan struct{}, 8),
		gate:      make(chan struct{}),
	}
}

func (g *gatedPub) Publish(topic string, qos byte, payload []byte) error {
	g.entered <- struct{}{}
	<-g.gate
	if g.err != nil {
		return g.err
	}
	g.mu.Lock()
	g.topics = append(g.topics, topic)
	g.sent = append(g.sent, payload)
	g.mu.Unlock()
	return nil
}

func (g *gatedPub) Connected() bool { return g.connected }

func (g *gatedPub) sentTraces(t *testing.T) []string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	var traces []string
	for _, payload := range g.sent {
		var ev RecognitionEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("published payload is not an event: %v", err)
		}
		traces = append(traces, ev.TraceID)
	}
	return traces
}

func waitEntered(t *testing.T, g *gatedPub) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher goroutine never reached Publish")
	}
}

func waitPublished(t *testing.T, r *Recognitions, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Stats().Published == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("published = %d, want %d", r.Stats().Published, want)
}

func result(trace string) *scheduler.Result {
	return &scheduler.Result{TraceID: trace, CapturedAt: time.Now()}
}

func TestRecognitionsPublishesEvents(t *testing.T) {
	pub := newGatedPub()
	r := NewRecognitions(pub, "holo/recognitions/holo-01", 0, "holo-01", nil)
	defer r.Stop()

	r.ShowRecognitions(result("a"))
	waitEntered(t, pub)
	pub.gate <- struct{}{}
	waitPublished(t, r, 1)

	if traces := pub.sentTraces(t); len(traces) != 1 || traces[0] != "a" {
		t.Fatalf("published traces = %v, want [a]", traces)
	}
	pub.mu.Lock()
	topic := pub.topics[0]
	pub.mu.Unlock()
	if topic != "holo/recognitions/holo-01" {
		t.Fatalf("topic = %q", topic)
	}
}

// While one event is in flight, newer events overwrite each other: only
// the newest goes out, the middle one is dropped.
func TestRecognitionsLatestWins(t *testing.T) {
	pub := newGatedPub()
	r := NewRecognitions(pub, "t", 0, "holo-01", nil)
	defer r.Stop()

	r.ShowRecognitions(result("first"))
	waitEntered(t, pub) // goroutine holds "first" in Publish

	r.ShowRecognitions(result("second"))
	r.ShowRecognitions(result("third")) // overwrites "second"

	pub.gate <- struct{}{} // release "first"
	waitEntered(t, pub)    // goroutine picked up "third"
	pub.gate <- struct{}{}
	waitPublished(t, r, 2)

	traces := pub.sentTraces(t)
	if len(traces) != 2 || traces[0] != "first" || traces[1] != "third" {
		t.Fatalf("published traces = %v, want [first third]", traces)
	}
	if got := r.Stats().Dropped; got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestRecognitionsDisconnectedDegradesToLog(t *testing.T) {
	pub := newGatedPub()
	pub.connected = false
	r := NewRecognitions(pub, "t", 0, "holo-01", nil)
	defer r.Stop()

	r.ShowRecognitions(result("a"))

	select {
	case <-pub.entered:
		t.Fatal("disconnected publisher must not be called")
	case <-time.After(50 * time.Millisecond):
	}
	if s := r.Stats(); s.Published != 0 || s.Dropped != 0 {
		t.Fatalf("stats = %+v, want all zero", s)
	}
}

func TestRecognitionsNilPublisher(t *testing.T) {
	r := NewRecognitions(nil, "", 0, "holo-01", nil)
	r.ShowRecognitions(result("a"))
	r.Stop()
	r.Stop()
}

func TestRecognitionsPublishFailureKeepsGoing(t *testing.T) {
	pub := newGatedPub()
	pub.err = errors.New("broker gone")
	r := NewRecognitions(pub, "t", 0, "holo-01", nil)
	defer r.Stop()

	r.ShowRecognitions(result("a"))
	waitEntered(t, pub)
	pub.gate <- struct{}{}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && r.Stats().Failures == 0 {
		time.Sleep(time.Millisecond)
	}
	if got := r.Stats().Failures; got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}

	pub.err = nil
	r.ShowRecognitions(result("b"))
	waitEntered(t, pub)
	pub.gate <- struct{}{}
	waitPublished(t, r, 1)

	if traces := pub.sentTraces(t); len(traces) != 1 || traces[0] != "b" {
		t.Fatalf("published traces = %v, want [b]", traces)
	}
}

func TestRecognitionsStopEndsLoop(t *testing.T) {
	pub := newGatedPub()
	r := NewRecognitions(pub, "t", 0, "holo-01", nil)
	r.Stop()

	r.ShowRecognitions(result("late"))
	select {
	case <-pub.entered:
		t.Fatal("publisher must not run after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}
