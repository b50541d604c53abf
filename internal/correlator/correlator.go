// Package correlator matches outgoing requests to asynchronous replies by request id.
//
// Each registered request completes exactly once: resolved by a reply, rejected by an
// error reply or connection loss, or timed out by its own deadline timer.
package correlator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Errors
var (
	ErrTimeout     = errors.New("request timeout")
	ErrDuplicateID = errors.New("duplicate request id")
)

// DefaultTimeout is the per-request reply deadline.
const DefaultTimeout = 5 * time.Second

// Pending is the handle for a registered request.
type Pending struct {
	id       string
	deadline time.Time
	done     chan struct{}
	timer    *time.Timer

	// Set once before done is closed.
	data map[string]any
	err  error
}

// ID returns the request id.
func (p *Pending) ID() string {
	return p.id
}

// Deadline returns the reply deadline.
func (p *Pending) Deadline() time.Time {
	return p.deadline
}

// Done is closed when the request completes.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. Only meaningful after Done is closed.
func (p *Pending) Result() (map[string]any, error) {
	return p.data, p.err
}

// Wait blocks until the request completes or ctx is done. Cancelling ctx does not
// complete the request; the caller should Reject it to release the entry early.
func (p *Pending) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-p.done:
		return p.data, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Correlator owns all in-flight requests.
type Correlator struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*Pending

	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates an empty Correlator.
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		logger:    logger,
		pending:   make(map[string]*Pending),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// Register stores a request and arms its deadline timer. Registering an id that is
// already in flight returns a handle that is rejected with ErrDuplicateID; the original
// entry is untouched.
func (c *Correlator) Register(id string, deadline time.Time) *Pending {
	p := &Pending{
		id:       id,
		deadline: deadline,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		p.err = ErrDuplicateID
		close(p.done)
		return p
	}

	c.pending[id] = p

	wait := deadline.Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	p.timer = c.afterFunc(wait, func() { c.expire(p) })

	return p
}

// Resolve completes a request with reply data. It reports whether the id was pending.
func (c *Correlator) Resolve(id string, data map[string]any) bool {
	p := c.take(id)
	if p == nil {
		c.logger.Debug("reply for unknown request", "request_id", id)
		return false
	}
	p.complete(data, nil)
	return true
}

// Reject completes a request with an error. It reports whether the id was pending.
func (c *Correlator) Reject(id string, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.complete(nil, err)
	return true
}

// ExpireNow rejects every request whose deadline has passed and returns how many.
func (c *Correlator) ExpireNow() int {
	now := c.now()

	c.mu.Lock()
	var expired []*Pending
	for id, p := range c.pending {
		if !now.Before(p.deadline) {
			delete(c.pending, id)
			expired = append(expired, p)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		p.complete(nil, ErrTimeout)
	}
	if len(expired) > 0 {
		c.logger.Debug("expired pending requests", "count", len(expired))
	}
	return len(expired)
}

// RejectAll rejects every in-flight request with err.
func (c *Correlator) RejectAll(err error) int {
	c.mu.Lock()
	all := c.pending
	c.pending = make(map[string]*Pending)
	c.mu.Unlock()

	for _, p := range all {
		p.complete(nil, err)
	}
	return len(all)
}

// Len returns the number of in-flight requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the pending entry for id.
func (c *Correlator) take(id string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// expire is the deadline timer callback.
func (c *Correlator) expire(p *Pending) {
	c.mu.Lock()
	current, ok := c.pending[p.id]
	if !ok || current != p {
		c.mu.Unlock()
		return
	}
	delete(c.pending, p.id)
	c.mu.Unlock()

	c.logger.Debug("request timed out", "request_id", p.id)
	p.complete(nil, ErrTimeout)
}

// complete is called exactly once, after the entry has been removed from the map.
func (p *Pending) complete(data map[string]any, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.data = data
	p.err = err
	close(p.done)
}
