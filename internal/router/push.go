package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/remote-input/internal/wire"
)

// Handler handles one unsolicited message.
type Handler func(env wire.Envelope)

// PushRouter delivers unsolicited messages to handlers registered by type.
//
// HandlePush only enqueues, so a slow handler never stalls the connection's read loop.
// Messages are delivered in arrival order on a single goroutine.
type PushRouter struct {
	logger *slog.Logger
	queue  *Queue[wire.Envelope]

	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received atomic.Int64
	routed   atomic.Int64
	unknown  atomic.Int64
	dropped  atomic.Int64
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	UnknownMessages  int64
	Dropped          int64
	Closed           bool // No longer accepting pushes
	Queue            QueueStats
}

// NewPushRouter creates a router with no handlers.
func NewPushRouter(logger *slog.Logger) *PushRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushRouter{
		logger:   logger,
		queue:    NewQueue[wire.Envelope](64),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h for msgType, replacing any previous handler.
func (r *PushRouter) Handle(msgType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[msgType] = h
}

// HandleUnknown registers a handler for types with no specific handler.
func (r *PushRouter) HandleUnknown(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// HandlePush enqueues a message for delivery.
func (r *PushRouter) HandlePush(env wire.Envelope) {
	r.received.Add(1)
	if !r.queue.Push(env) {
		r.dropped.Add(1)
		r.logger.Debug("push router stopped, dropping message", "type", env.Type)
	}
}

// Start begins delivering messages.
func (r *PushRouter) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	// Pop blocks on a condition variable; closing the queue is what wakes it.
	go func() {
		<-ctx.Done()
		r.queue.Close()
	}()

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("push router started")
	return nil
}

// Stop gracefully shuts down the router after delivering what is queued.
func (r *PushRouter) Stop(ctx context.Context) error {
	r.logger.Info("stopping push router")

	if r.cancel != nil {
		r.cancel()
	}
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("push router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("push router stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (r *PushRouter) Stats() RouterStats {
	return RouterStats{
		MessagesReceived: r.received.Load(),
		MessagesRouted:   r.routed.Load(),
		UnknownMessages:  r.unknown.Load(),
		Dropped:          r.dropped.Load(),
		Closed:           r.queue.Closed(),
		Queue:            r.queue.Stats(),
	}
}

// routeLoop is the delivery goroutine.
func (r *PushRouter) routeLoop() {
	defer r.wg.Done()

	for {
		env, ok := r.queue.Pop()
		if !ok {
			return
		}
		r.route(env)
	}
}

// route delivers a single message.
func (r *PushRouter) route(env wire.Envelope) {
	r.mu.RLock()
	h, ok := r.handlers[env.Type]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		r.unknown.Add(1)
		if fallback == nil {
			r.logger.Debug("skipping message type", "type", env.Type)
			return
		}
		h = fallback
	}

	h(env)
	r.routed.Add(1)
}
