package textstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
)

// ErrSubscriptionClosed is reported when a transport closes its event
// channel without sending a complete or error event
var ErrSubscriptionClosed = errors.New("subscription closed without terminal event")

// ErrStreamFailed replaces an error event that carries no cause
var ErrStreamFailed = errors.New("stream failed")

// Subscription is one open stream on a transport
type Subscription interface {
	Events() <-chan entities.StreamEvent
	Close() error
}

// Transport opens subscriptions. lastEventID is the resumption cursor; the
// controller passes the session id so the server can correlate and replay.
type Transport[I any] interface {
	Subscribe(ctx context.Context, input I, lastEventID string) (Subscription, error)
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc[I any] func(ctx context.Context, input I, lastEventID string) (Subscription, error)

// Subscribe calls f
func (f TransportFunc[I]) Subscribe(ctx context.Context, input I, lastEventID string) (Subscription, error) {
	return f(ctx, input, lastEventID)
}

// Hooks receive the lifecycle of each session. OnStart, OnRelease and
// OnChunk run with the controller lock held and must not call back into the
// controller. OnComplete and OnError run after the session was cleared.
type Hooks struct {
	OnStart    func(sessionID string)
	OnRelease  func(sessionID string)
	OnChunk    func(sessionID, chunk string)
	OnComplete func(sessionID string)
	OnError    func(sessionID string, err error)
}

// Options configures a Controller
type Options[I any] struct {
	Transport    Transport[I]
	BuildInput   func(sessionID string) I
	Hooks        Hooks
	NewSessionID func() string
	Logger       *zap.Logger
}

// Controller drives at most one text stream at a time. Starting a new
// stream implicitly stops the previous one, and events of a stopped session
// never reach the hooks.
type Controller[I any] struct {
	transport  Transport[I]
	buildInput func(string) I
	hooks      Hooks
	newID      func() string
	logger     *zap.Logger

	mu         sync.Mutex
	session    entities.StreamSession
	cancel     context.CancelFunc
	firstChunk bool
}

// New creates a controller in the inert state
func New[I any](opts Options[I]) *Controller[I] {
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Controller[I]{
		transport:  opts.Transport,
		buildInput: opts.BuildInput,
		hooks:      opts.Hooks,
		newID:      opts.NewSessionID,
		logger:     opts.Logger,
	}
}

// Start opens a fresh session built by BuildInput and returns its id
func (c *Controller[I]) Start() string {
	return c.start(c.buildInput)
}

// StartWith opens a fresh session whose input is built by build instead of
// BuildInput, for this session only
func (c *Controller[I]) StartWith(build func(sessionID string) I) string {
	return c.start(build)
}

func (c *Controller[I]) start(build func(string) I) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.releaseLocked()

	id := c.newID()
	ctx, cancel := context.WithCancel(context.Background())
	c.session = entities.StreamSession{ID: id}
	c.cancel = cancel
	c.firstChunk = false

	input := build(id)
	if c.hooks.OnStart != nil {
		c.hooks.OnStart(id)
	}
	c.logger.Debug("Text stream started", zap.String("sessionID", id))

	go c.run(ctx, id, input)
	return id
}

// Stop clears the current session and aborts its subscription. Stopping an
// inert controller does nothing.
func (c *Controller[I]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id := c.session.ID; c.releaseLocked() {
		c.logger.Debug("Text stream stopped", zap.String("sessionID", id))
	}
}

// IsStreaming reports whether a session is active
func (c *Controller[I]) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Active()
}

// FirstChunkReceived reports whether the current session delivered a chunk
func (c *Controller[I]) FirstChunkReceived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstChunk
}

// SessionID returns the active session id or ""
func (c *Controller[I]) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ID
}

func (c *Controller[I]) releaseLocked() bool {
	if !c.session.Active() {
		return false
	}
	id := c.session.ID
	c.session = entities.StreamSession{}
	c.cancel()
	c.cancel = nil
	if c.hooks.OnRelease != nil {
		c.hooks.OnRelease(id)
	}
	return true
}

func (c *Controller[I]) run(ctx context.Context, id string, input I) {
	sub, err := c.transport.Subscribe(ctx, input, id)
	if err != nil {
		c.finish(id, fmt.Errorf("subscribe: %w", err))
		return
	}
	defer func() {
		if err := sub.Close(); err != nil {
			c.logger.Debug("Failed to close subscription", zap.String("sessionID", id), zap.Error(err))
		}
	}()

	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.finish(id, ErrSubscriptionClosed)
				return
			}
			if ev.SessionID() != id {
				c.logger.Debug("Dropping event of foreign session",
					zap.String("sessionID", id),
					zap.String("eventSessionID", ev.SessionID()))
				continue
			}
			switch e := ev.(type) {
			case entities.ChunkEvent:
				c.deliver(id, e.Data)
			case entities.CompleteEvent:
				c.finish(id, nil)
				return
			case entities.ErrorEvent:
				cause := e.Cause
				if cause == nil {
					cause = ErrStreamFailed
				}
				c.finish(id, cause)
				return
			}
		}
	}
}

func (c *Controller[I]) deliver(id, chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID != id {
		c.logger.Debug("Dropping stale chunk", zap.String("sessionID", id))
		return
	}
	c.firstChunk = true
	if c.hooks.OnChunk != nil {
		c.hooks.OnChunk(id, chunk)
	}
}

// finish clears the session before any terminal callback runs
func (c *Controller[I]) finish(id string, err error) {
	c.mu.Lock()
	if c.session.ID != id {
		c.mu.Unlock()
		return
	}
	c.releaseLocked()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Text stream failed", zap.String("sessionID", id), zap.Error(err))
		if c.hooks.OnError != nil {
			c.hooks.OnError(id, err)
		}
		return
	}
	c.logger.Debug("Text stream completed", zap.String("sessionID", id))
	if c.hooks.OnComplete != nil {
		c.hooks.OnComplete(id)
	}
}
