package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes how a Hub delivers run events.
type Config struct {
	// BufferSize bounds the queue between Emit and the delivery goroutine.
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch after this long.
	MaxBatchWait time.Duration
	// SinkTimeout bounds a single Consume call.
	SinkTimeout time.Duration
	// BaseContext is the parent of every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
	// RunID and Now stamp events that arrive without them.
	RunID string
	Now   func() time.Time
	// Synchronous delivers inside Emit, so dataset and item log lines keep the
	// order the orchestrator produced them in.
	Synchronous bool
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnInterval      = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub stamps run events and hands them to the log, metrics and Pub/Sub sinks
// of one archiver run. Emit is safe for concurrent use and never blocks in
// batched mode; a full queue drops the event.
type Hub struct {
	cfg   Config
	sinks []Sink
	queue chan Event
	stop  chan struct{}
	done  chan struct{}

	dropWarn rate.Sometimes
	dropped  atomic.Int64
	closed   atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
	deliverMu sync.Mutex
}

// NewHub returns a Hub delivering to sinks. Unless cfg.Synchronous is set a
// goroutine batches events until Close.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		queue:    make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		dropWarn: rate.Sometimes{Interval: dropWarnInterval},
	}
	if cfg.Synchronous {
		close(h.done)
		return h
	}
	go h.loop()
	return h
}

// RunID is the identifier stamped on events emitted without one.
func (h *Hub) RunID() string {
	if h == nil {
		return ""
	}
	return h.cfg.RunID
}

// Dropped reports events lost to a full queue since the last drop warning.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.dropped.Load()
}

// Emit stamps evt with the run id and time and delivers or queues it. Invalid
// events and events emitted after Close are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	evt, ok := h.stamp(evt)
	if !ok {
		return
	}
	if h.cfg.Synchronous {
		h.deliverMu.Lock()
		h.deliver([]Event{evt})
		h.deliverMu.Unlock()
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.cfg.Logger.Warn("progress queue full, events dropped",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.String("run_id", h.cfg.RunID),
			)
		})
	}
}

func (h *Hub) stamp(evt Event) (Event, bool) {
	if evt.TS.IsZero() {
		evt.TS = h.cfg.Now()
	}
	if evt.RunID == "" {
		evt.RunID = h.cfg.RunID
	}
	if err := evt.Validate(); err != nil {
		h.cfg.Logger.Debug("progress event rejected",
			zap.String("stage", string(evt.Stage)),
			zap.String("dataset", evt.Dataset),
			zap.Error(err),
		)
		return evt, false
	}
	return evt, true
}

// Close flushes queued events, closes every sink and waits for delivery to
// finish or ctx to expire. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
		if h.cfg.Synchronous {
			h.deliverMu.Lock()
			h.closeSinks()
			h.deliverMu.Unlock()
		}
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	b := newBatch(h.cfg.MaxBatchEvents, h.cfg.MaxBatchWait)
	for {
		select {
		case evt := <-h.queue:
			if b.add(evt) {
				h.deliver(b.take())
			}
		case <-b.timer.C:
			b.armed = false
			h.deliver(b.take())
		case <-h.stop:
			b.disarm()
			h.drain(b)
			h.closeSinks()
			return
		}
	}
}

// drain delivers whatever is still queued once stop is closed.
func (h *Hub) drain(b *batch) {
	for {
		select {
		case evt := <-h.queue:
			if b.add(evt) {
				h.deliver(b.take())
			}
		default:
			h.deliver(b.take())
			return
		}
	}
}

func (h *Hub) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, events); err != nil {
			h.cfg.Logger.Warn("progress sink failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.cfg.Logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batch accumulates events between flushes. The timer runs only while the
// batch is non-empty.
type batch struct {
	events []Event
	limit  int
	wait   time.Duration
	timer  *time.Timer
	armed  bool
}

func newBatch(limit int, wait time.Duration) *batch {
	t := time.NewTimer(wait)
	t.Stop()
	return &batch{events: make([]Event, 0, limit), limit: limit, wait: wait, timer: t}
}

// add appends evt and reports whether the batch is full.
func (b *batch) add(evt Event) bool {
	b.events = append(b.events, evt)
	if len(b.events) >= b.limit {
		return true
	}
	if !b.armed {
		b.timer.Reset(b.wait)
		b.armed = true
	}
	return false
}

// take returns a copy of the pending events and resets the batch.
func (b *batch) take() []Event {
	b.disarm()
	if len(b.events) == 0 {
		return nil
	}
	out := append([]Event(nil), b.events...)
	b.events = b.events[:0]
	return out
}

func (b *batch) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}
