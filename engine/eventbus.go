package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"wellnesskit/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// anyType subscribes a handler to every notification type.
const anyType core.NotificationType = "*"

type Handler func(context.Context, core.Notification)

type subscription struct {
	id  int64
	typ core.NotificationType
	fn  Handler
}

// EventBus fans notifications out to subscribers, either inline or through a
// bounded queue drained by worker goroutines.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.NotificationType]map[int64]subscription
	nextID  int64
	queue   chan core.Notification
	workers int
	dropped atomic.Int64
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

type BusOption func(*EventBus)

// WithQueueSize sets the async queue capacity.
func WithQueueSize(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.queue = make(chan core.Notification, n)
		}
	}
}

func WithWorkers(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithBusLogger(l *slog.Logger) BusOption { return func(e *EventBus) { e.logger = l } }

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		mode:    mode,
		subs:    make(map[core.NotificationType]map[int64]subscription),
		queue:   make(chan core.Notification, 2048),
		workers: 4,
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(eb)
	}
	if mode == DispatchAsync {
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case n := <-e.queue:
					e.deliver(context.Background(), n)
				case <-e.ctx.Done():
					return
				}
			}
		}()
	}
}

// Close stops async workers and waits for in-flight deliveries.
func (e *EventBus) Close() {
	e.cancel()
	e.wg.Wait()
}

// Subscribe registers a handler for one notification type. Returns an
// unsubscribe func.
func (e *EventBus) Subscribe(typ core.NotificationType, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, typ: typ, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// SubscribeAll registers a handler for every notification type.
func (e *EventBus) SubscribeAll(handler Handler) func() {
	return e.Subscribe(anyType, handler)
}

// Publish delivers n to subscribers. In async mode a full queue drops n.
func (e *EventBus) Publish(ctx context.Context, n core.Notification) {
	if e.mode == DispatchAsync {
		select {
		case e.queue <- n:
		default:
			e.dropped.Add(1)
			e.logger.Warn("notification dropped", "type", n.Type, "user_id", n.UserID)
		}
		return
	}
	e.deliver(ctx, n)
}

// Dropped counts notifications discarded because the async queue was full.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

func (e *EventBus) deliver(ctx context.Context, n core.Notification) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.subs[n.Type])+len(e.subs[anyType]))
	for _, s := range e.subs[n.Type] {
		handlers = append(handlers, s.fn)
	}
	for _, s := range e.subs[anyType] {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		e.safeCall(ctx, h, n)
	}
}

func (e *EventBus) safeCall(ctx context.Context, h Handler, n core.Notification) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notification handler panicked", "type", n.Type, "panic", r)
		}
	}()
	h(ctx, n)
}
