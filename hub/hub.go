// Package hub fans classified alerts out to filtered subscribers.
//
// Delivery is guaranteed-lossy under overload: each subscriber owns a bounded
// DropOldest queue, so a slow websocket viewer sheds its own oldest alerts
// and never blocks the publisher or its peers. The store remains the
// lossless history; the hub is only the live edge.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/errors"
	"github.com/aoi-validoku/p2000/metric"
	"github.com/aoi-validoku/p2000/pkg/buffer"
)

// DefaultQueueSize bounds each subscriber's outbound queue.
const DefaultQueueSize = 256

// Config controls hub behavior.
type Config struct {
	QueueSize int // per-subscriber queue capacity, default 256
}

// Hub is the alert broadcast registry. Safe for concurrent use.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	subscriberGauge prometheus.Gauge
	publishedTotal  prometheus.Counter
	droppedTotal    prometheus.Counter
}

// New creates a hub. A nil registry disables metrics.
func New(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	h := &Hub{
		logger:      logger.With("component", "hub"),
		queueSize:   cfg.QueueSize,
		subscribers: make(map[string]*Subscriber),
	}

	if registry != nil {
		h.subscriberGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2000", Subsystem: "hub", Name: "subscribers",
			Help: "Active subscribers",
		})
		h.publishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2000", Subsystem: "hub", Name: "published_total",
			Help: "Alerts published to the hub",
		})
		h.droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "p2000", Subsystem: "hub", Name: "dropped_total",
			Help: "Alerts dropped from subscriber queues by backpressure",
		})
		if err := registry.RegisterGauge("hub", "subscribers", h.subscriberGauge); err != nil {
			return nil, err
		}
		for name, c := range map[string]prometheus.Counter{
			"published_total": h.publishedTotal,
			"dropped_total":   h.droppedTotal,
		} {
			if err := registry.RegisterCounter("hub", name, c); err != nil {
				return nil, err
			}
		}
	}

	return h, nil
}

// Subscriber is one registered alert consumer.
type Subscriber struct {
	id     string
	filter alert.Filter
	queue  buffer.Buffer[alert.Alert]

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string {
	return s.id
}

// Dropped returns how many alerts backpressure has shed from this
// subscriber's queue.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Next blocks until an alert is queued, the subscriber is unsubscribed, or
// ctx is cancelled. The boolean is false when no more alerts will arrive.
// Alerts already queued at unsubscribe time are still drained.
func (s *Subscriber) Next(ctx context.Context) (alert.Alert, bool) {
	for {
		if a, ok := s.queue.Read(); ok {
			return a, true
		}

		select {
		case <-ctx.Done():
			return alert.Alert{}, false
		case <-s.done:
			a, ok := s.queue.Read()
			return a, ok
		case <-s.notify:
		}
	}
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.queue.Close()
	})
}

// Subscribe registers a new consumer with the given filter. A nil filter
// receives everything.
func (h *Hub) Subscribe(f alert.Filter) (*Subscriber, error) {
	if f == nil {
		f = alert.MatchAll()
	}

	sub := &Subscriber{
		id:     uuid.NewString(),
		filter: f,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	queue, err := buffer.NewCircularBuffer(h.queueSize,
		buffer.WithOverflowPolicy[alert.Alert](buffer.DropOldest),
		buffer.WithDropCallback[alert.Alert](func(dropped alert.Alert) {
			sub.dropped.Add(1)
			if h.droppedTotal != nil {
				h.droppedTotal.Inc()
			}
			h.logger.Debug("subscriber queue overflow, oldest alert dropped",
				"subscriber", sub.id, "alert_id", dropped.ID)
		}))
	if err != nil {
		return nil, errors.Wrap(err, "Hub", "Subscribe", "create subscriber queue")
	}
	sub.queue = queue

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.ErrShuttingDown
	}
	h.subscribers[sub.id] = sub
	h.setGauge(len(h.subscribers))

	return sub, nil
}

// Unsubscribe removes a subscriber and releases its queue. Idempotent;
// unknown ids are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.setGauge(len(h.subscribers))
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Publish delivers the alert to every subscriber whose filter matches. Never
// blocks: full queues shed their oldest entry instead.
func (h *Hub) Publish(a alert.Alert) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	if h.publishedTotal != nil {
		h.publishedTotal.Inc()
	}

	for _, sub := range subs {
		if !sub.filter(a) {
			continue
		}
		if err := sub.queue.Write(a); err != nil {
			// Queue closed by a concurrent unsubscribe.
			continue
		}
		select {
		case sub.notify <- struct{}{}:
		default:
		}
	}
}

// Count returns the number of active subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close unsubscribes everyone and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]*Subscriber)
	h.closed = true
	h.setGauge(0)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) setGauge(n int) {
	if h.subscriberGauge != nil {
		h.subscriberGauge.Set(float64(n))
	}
}
