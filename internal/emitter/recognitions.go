package emitter

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/inference-asia/HoloLens-YOLO-Object-Detection/internal/scheduler"
)

// Publisher is what the recognition consumer needs from the broker
// layer.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
	Connected() bool
}

// Recognitions is the publishing consumer. The loop's call marshals the
// event and drops it into a single-slot mailbox; a publisher goroutine
// does the broker round trip. A new event lands before the previous one
// went out, the previous one is overwritten: the newest result wins,
// nothing queues, the loop never blocks on the network.
//
// Without a broker, or while disconnected, events degrade to a debug
// log line.
type Recognitions struct {
	pub        Publisher
	topic      string
	qos        byte
	instanceID string
	log        *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	slot     []byte
	slotInfo string
	stopped  bool
	wg       sync.WaitGroup

	published atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
}

// NewRecognitions creates the consumer and starts its publisher
// goroutine. A nil Publisher disables publishing entirely.
func NewRecognitions(pub Publisher, topic string, qos byte, instanceID string, log *slog.Logger) *Recognitions {
	if log == nil {
		log = slog.Default()
	}
	r := &Recognitions{
		pub:        pub,
		topic:      topic,
		qos:        qos,
		instanceID: instanceID,
		log:        log,
	}
	r.cond = sync.NewCond(&r.mu)
	if pub != nil {
		r.wg.Add(1)
		go r.publishLoop()
	}
	return r
}

// ShowRecognitions marshals the cycle result and hands it to the
// publisher goroutine. Never blocks.
func (r *Recognitions) ShowRecognitions(res *scheduler.Result) {
	event := NewRecognitionEvent(r.instanceID, res)
	payload, err := event.ToJSON()
	if err != nil {
		r.failures.Add(1)
		r.log.Error("recognition event marshal failed", "trace_id", res.TraceID, "error", err)
		return
	}

	if r.pub == nil || !r.pub.Connected() {
		r.log.Debug("recognitions (local only)",
			"trace_id", res.TraceID,
			"detections", len(res.Detections),
		)
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.slot != nil {
		r.dropped.Add(1)
		r.log.Debug("recognition event overwritten", "trace_id", r.slotInfo)
	}
	r.slot = payload
	r.slotInfo = res.TraceID
	r.cond.Signal()
	r.mu.Unlock()
}

func (r *Recognitions) publishLoop() {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		for r.slot == nil && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped {
			r.mu.Unlock()
			return
		}
		payload := r.slot
		trace := r.slotInfo
		r.slot = nil
		r.mu.Unlock()

		if err := r.pub.Publish(r.topic, r.qos, payload); err != nil {
			r.failures.Add(1)
			r.log.Warn("recognition publish failed", "trace_id", trace, "error", err)
			continue
		}
		r.published.Add(1)
	}
}

// Stop ends the publisher goroutine. A pending unpublished event is
// dropped. Idempotent.
func (r *Recognitions) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.cond.Broadcast()
	r.mu.Unlock()
	r.wg.Wait()

	r.log.Info("recognition publisher stopped",
		"published", r.published.Load(),
		"dropped", r.dropped.Load(),
		"failures", r.failures.Load(),
	)
}

// RecognitionStats is a snapshot of the consumer counters.
type RecognitionStats struct {
	Published uint64
	Dropped   uint64
	Failures  uint64
}

// Stats snapshots the counters.
func (r *Recognitions) Stats() RecognitionStats {
	return RecognitionStats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failures:  r.failures.Load(),
	}
}
