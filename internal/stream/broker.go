package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/metrics"
)

var (
	// ErrSessionNotFound is returned when resuming a session that does not
	// exist or belongs to another user
	ErrSessionNotFound = errors.New("stream session not found")
	// ErrInvalidEventID is returned for a malformed or empty resumption cursor
	ErrInvalidEventID = errors.New("invalid last event id")
	// ErrStreamTooLong ends a stream that exceeded the event limit
	ErrStreamTooLong = errors.New("stream exceeded event limit")
)

// BrokerConfig bounds the sessions a Broker keeps
type BrokerConfig struct {
	// ReplayTTL is how long a finished session stays resumable
	ReplayTTL time.Duration
	// MaxDuration is the deadline of every producer
	MaxDuration time.Duration
	// MaxEvents caps the replay log of one session
	MaxEvents int
}

// ValidateBrokerConfig fills in defaults
func ValidateBrokerConfig(config *BrokerConfig, logger *zap.Logger) {
	if config.ReplayTTL <= 0 {
		config.ReplayTTL = 5 * time.Minute
		logger.Info("Stream replay TTL not specified, using default", zap.Duration("replayTTL", config.ReplayTTL))
	}
	if config.MaxDuration <= 0 {
		config.MaxDuration = 2 * time.Minute
		logger.Info("Stream max duration not specified, using default", zap.Duration("maxDuration", config.MaxDuration))
	}
	if config.MaxEvents <= 0 {
		config.MaxEvents = 4096
	}
}

type session struct {
	id        string
	owner     string
	procedure entities.Procedure
	cancel    context.CancelFunc

	mu         sync.Mutex
	events     []entities.StreamEvent
	notify     chan struct{}
	done       bool
	finishedAt time.Time
}

func (s *session) append(ev entities.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.events = append(s.events, ev)
	if entities.IsTerminal(ev) {
		s.done = true
		s.finishedAt = time.Now()
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

// Broker runs producers and keeps a per-session replay log, so a subscriber
// can reconnect and resume from its last event id
type Broker struct {
	registry *Registry
	config   BrokerConfig
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewBroker creates a broker over registry. m may be nil.
func NewBroker(registry *Registry, config BrokerConfig, m *metrics.Metrics, logger *zap.Logger) *Broker {
	ValidateBrokerConfig(&config, logger)
	return &Broker{
		registry: registry,
		config:   config,
		metrics:  m,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Subscribe resumes the session named by lastEventID, or opens it by running
// req's procedure when it does not exist yet and the cursor carries no
// sequence number. Resuming an unknown session past its start fails with
// ErrSessionNotFound. The returned channel replays
// every event after the cursor, follows live events and closes after the
// terminal event or when ctx is done.
func (b *Broker) Subscribe(ctx context.Context, owner, lastEventID string, req entities.StreamRequest) (<-chan entities.StreamEvent, error) {
	sessionID, afterSeq, err := entities.ParseEventID(lastEventID)
	if err != nil || sessionID == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventID, lastEventID)
	}

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if ok && s.owner != owner {
		b.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if !ok {
		// a cursor past the start names events of a session this broker no
		// longer holds; a fresh producer would not reproduce them
		if req.Procedure == "" || afterSeq > 0 {
			b.mu.Unlock()
			b.logger.Debug("Stream session not held",
				zap.String("sessionID", sessionID),
				zap.Int("afterSeq", afterSeq))
			return nil, ErrSessionNotFound
		}
		producer, err := b.registry.Lookup(req.Procedure)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		s = b.openLocked(sessionID, owner, req, producer)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Debug("Resuming stream session",
			zap.String("sessionID", sessionID),
			zap.Int("afterSeq", afterSeq))
	}
	return b.attach(ctx, s, afterSeq), nil
}

// Cancel aborts the producer of a session. Cancelling a finished session
// does nothing.
func (b *Broker) Cancel(owner, sessionID string) error {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok || s.owner != owner {
		return ErrSessionNotFound
	}
	s.cancel()
	return nil
}

// Sessions returns how many sessions are held, finished ones included
func (b *Broker) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Expire drops finished sessions older than the replay TTL and returns how
// many were removed
func (b *Broker) Expire(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, s := range b.sessions {
		s.mu.Lock()
		expired := s.done && now.Sub(s.finishedAt) >= b.config.ReplayTTL
		s.mu.Unlock()
		if expired {
			delete(b.sessions, id)
			removed++
		}
	}
	return removed
}

// Shutdown cancels every running producer
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sessions {
		s.cancel()
	}
}

func (b *Broker) openLocked(sessionID, owner string, req entities.StreamRequest, producer Producer) *session {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.MaxDuration)
	s := &session{
		id:        sessionID,
		owner:     owner,
		procedure: req.Procedure,
		cancel:    cancel,
		notify:    make(chan struct{}),
	}
	b.sessions[sessionID] = s

	b.logger.Info("Opening stream session",
		zap.String("sessionID", sessionID),
		zap.String("procedure", string(req.Procedure)),
		zap.String("userID", owner))
	b.metrics.StreamStarted(string(req.Procedure))

	go b.produce(ctx, s, producer, req.Input)
	return s
}

func (b *Broker) produce(ctx context.Context, s *session, producer Producer, input entities.GenerationRequest) {
	defer s.cancel()

	seq := 0
	fail := func(err error) {
		seq++
		s.append(entities.ErrorEvent{Session: s.id, Sequence: seq, Cause: err})
		b.metrics.StreamFinished(string(s.procedure), metrics.OutcomeError)
		b.logger.Warn("Stream session failed",
			zap.String("sessionID", s.id),
			zap.String("procedure", string(s.procedure)),
			zap.Int("chunks", seq-1),
			zap.Error(err))
	}

	chunks, err := producer(ctx, input)
	if err != nil {
		fail(err)
		return
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			fail(chunk.Err)
			return
		}
		if seq+1 >= b.config.MaxEvents {
			s.cancel()
			fail(ErrStreamTooLong)
			return
		}
		seq++
		s.append(entities.ChunkEvent{Session: s.id, Sequence: seq, Data: chunk.Text})
		b.metrics.StreamChunk(string(s.procedure))
	}

	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	seq++
	s.append(entities.CompleteEvent{Session: s.id, Sequence: seq})
	b.metrics.StreamFinished(string(s.procedure), metrics.OutcomeComplete)
	b.logger.Info("Stream session completed",
		zap.String("sessionID", s.id),
		zap.String("procedure", string(s.procedure)),
		zap.Int("chunks", seq-1))
}

// attach follows s from the event after afterSeq. Event n sits at index n-1.
func (b *Broker) attach(ctx context.Context, s *session, afterSeq int) <-chan entities.StreamEvent {
	out := make(chan entities.StreamEvent, 16)
	go func() {
		defer close(out)
		next := afterSeq
		for {
			s.mu.Lock()
			var pending []entities.StreamEvent
			if next < len(s.events) {
				pending = s.events[next:]
			}
			notify, done := s.notify, s.done
			s.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- ev:
					next = ev.Seq()
				case <-ctx.Done():
					return
				}
				if entities.IsTerminal(ev) {
					return
				}
			}
			if done && len(pending) == 0 {
				return
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
