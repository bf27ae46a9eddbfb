package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/internal/metrics"
)

const testProcedure entities.Procedure = "test.fragments"

// gatedProducer emits fragments, waiting for a release before each one
func gatedProducer(fragments []string, gate chan struct{}, failWith error) Producer {
	return func(ctx context.Context, in entities.GenerationRequest) (<-chan repositories.TextChunk, error) {
		out := make(chan repositories.TextChunk)
		go func() {
			defer close(out)
			for _, f := range fragments {
				if gate != nil {
					select {
					case <-gate:
					case <-ctx.Done():
						return
					}
				}
				select {
				case out <- repositories.TextChunk{Text: f}:
				case <-ctx.Done():
					return
				}
			}
			if failWith != nil {
				out <- repositories.TextChunk{Err: failWith}
			}
		}()
		return out, nil
	}
}

func newBroker(t *testing.T, producer Producer, config BrokerConfig) *Broker {
	registry := NewRegistry()
	registry.Register(testProcedure, producer)
	b := NewBroker(registry, config, metrics.New(), zaptest.NewLogger(t))
	t.Cleanup(b.Shutdown)
	return b
}

func drain(t *testing.T, events <-chan entities.StreamEvent) []entities.StreamEvent {
	t.Helper()
	var out []entities.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return out
		}
	}
}

func request() entities.StreamRequest {
	return entities.StreamRequest{Procedure: testProcedure, Input: entities.GenerationRequest{SubjectID: "p1"}}
}

func TestBroker_StreamsInOrder(t *testing.T) {
	b := newBroker(t, gatedProducer([]string{"A", "B", "C"}, nil, nil), BrokerConfig{})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, entities.ChunkEvent{Session: "s1", Sequence: 1, Data: "A"}, got[0])
	assert.Equal(t, entities.ChunkEvent{Session: "s1", Sequence: 2, Data: "B"}, got[1])
	assert.Equal(t, entities.ChunkEvent{Session: "s1", Sequence: 3, Data: "C"}, got[2])
	assert.Equal(t, entities.CompleteEvent{Session: "s1", Sequence: 4}, got[3])
}

func TestBroker_ProviderFailureIsSingleTerminalEvent(t *testing.T) {
	b := newBroker(t, gatedProducer([]string{"partial"}, nil, errors.New("quota")), BrokerConfig{})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].(entities.ChunkEvent).Data)
	failure, ok := got[1].(entities.ErrorEvent)
	require.True(t, ok)
	assert.EqualError(t, failure.Cause, "quota")
}

func TestBroker_ResumeFromLastEventID(t *testing.T) {
	gate := make(chan struct{})
	b := newBroker(t, gatedProducer([]string{"A", "B", "C"}, gate, nil), BrokerConfig{})

	ctx, disconnect := context.WithCancel(context.Background())
	events, err := b.Subscribe(ctx, "u1", "s1", request())
	require.NoError(t, err)

	gate <- struct{}{}
	first := <-events
	assert.Equal(t, "s1:1", entities.EventID(first))
	disconnect()

	gate <- struct{}{}
	gate <- struct{}{}

	resumed, err := b.Subscribe(context.Background(), "u1", entities.EventID(first), entities.StreamRequest{})
	require.NoError(t, err)
	got := drain(t, resumed)
	require.Len(t, got, 3)
	assert.Equal(t, "B", got[0].(entities.ChunkEvent).Data)
	assert.Equal(t, "C", got[1].(entities.ChunkEvent).Data)
	assert.IsType(t, entities.CompleteEvent{}, got[2])
}

func TestBroker_ReplayAfterCompletion(t *testing.T) {
	b := newBroker(t, gatedProducer([]string{"A", "B"}, nil, nil), BrokerConfig{})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)
	drain(t, events)

	replay, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)
	assert.Len(t, drain(t, replay), 3)

	tail, err := b.Subscribe(context.Background(), "u1", "s1:3", request())
	require.NoError(t, err)
	assert.Empty(t, drain(t, tail))
}

func TestBroker_SessionsAreOwned(t *testing.T) {
	b := newBroker(t, gatedProducer([]string{"A"}, nil, nil), BrokerConfig{})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)
	drain(t, events)

	_, err = b.Subscribe(context.Background(), "intruder", "s1", request())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, b.Cancel("intruder", "s1"), ErrSessionNotFound)
}

func TestBroker_RejectsBadRequests(t *testing.T) {
	b := newBroker(t, gatedProducer(nil, nil, nil), BrokerConfig{})

	_, err := b.Subscribe(context.Background(), "u1", "", request())
	assert.ErrorIs(t, err, ErrInvalidEventID)

	_, err = b.Subscribe(context.Background(), "u1", "s1", entities.StreamRequest{Procedure: "nope"})
	assert.ErrorIs(t, err, ErrUnknownProcedure)

	_, err = b.Subscribe(context.Background(), "u1", "missing:4", entities.StreamRequest{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBroker_ResumeOfUnknownSessionDoesNotRestart(t *testing.T) {
	b := newBroker(t, gatedProducer([]string{"A", "B", "C"}, nil, nil), BrokerConfig{})

	_, err := b.Subscribe(context.Background(), "u1", "gone-session:2", request())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, b.Sessions(), "no producer may start under a resumed id")

	// the same id without a sequence opens a full stream
	events, err := b.Subscribe(context.Background(), "u1", "gone-session", request())
	require.NoError(t, err)
	got := drain(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, "A", got[0].(entities.ChunkEvent).Data)
}

func TestBroker_ResumeAfterExpiryFails(t *testing.T) {
	b := newBroker(t, gatedProducer([]string{"A", "B"}, nil, nil), BrokerConfig{ReplayTTL: time.Minute})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)
	drain(t, events)
	require.Equal(t, 1, b.Expire(time.Now().Add(2*time.Minute)))

	_, err = b.Subscribe(context.Background(), "u1", "s1:1", request())
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestBroker_CancelAbortsProducer(t *testing.T) {
	gate := make(chan struct{})
	b := newBroker(t, gatedProducer([]string{"A", "B"}, gate, nil), BrokerConfig{})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)
	require.NoError(t, b.Cancel("u1", "s1"))

	got := drain(t, events)
	require.Len(t, got, 1)
	failure := got[0].(entities.ErrorEvent)
	assert.ErrorIs(t, failure.Cause, context.Canceled)
	assert.Equal(t, CodeCancelled, EncodeEvent(failure).Error.Code)
}

func TestBroker_MaxDuration(t *testing.T) {
	gate := make(chan struct{})
	b := newBroker(t, gatedProducer([]string{"A"}, gate, nil), BrokerConfig{MaxDuration: 20 * time.Millisecond})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].(entities.ErrorEvent).Cause, context.DeadlineExceeded)
}

func TestBroker_MaxEvents(t *testing.T) {
	b := newBroker(t, gatedProducer([]string{"A", "B", "C", "D"}, nil, nil), BrokerConfig{MaxEvents: 3})

	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)

	got := drain(t, events)
	require.Len(t, got, 3)
	assert.ErrorIs(t, got[2].(entities.ErrorEvent).Cause, ErrStreamTooLong)
}

func TestBroker_ExpireFinishedSessions(t *testing.T) {
	gate := make(chan struct{})
	b := newBroker(t, gatedProducer([]string{"A"}, gate, nil), BrokerConfig{ReplayTTL: time.Minute})

	events, err := b.Subscribe(context.Background(), "u1", "running", request())
	require.NoError(t, err)

	done := newBroker(t, gatedProducer(nil, nil, nil), BrokerConfig{ReplayTTL: time.Minute})
	finished, err := done.Subscribe(context.Background(), "u1", "finished", request())
	require.NoError(t, err)
	drain(t, finished)

	assert.Zero(t, b.Expire(time.Now().Add(time.Hour)), "running sessions are kept")
	assert.Zero(t, done.Expire(time.Now()))
	assert.Equal(t, 1, done.Expire(time.Now().Add(2*time.Minute)))
	assert.Zero(t, done.Sessions())

	gate <- struct{}{}
	drain(t, events)
}

func TestCleanupService_Expires(t *testing.T) {
	b := newBroker(t, gatedProducer(nil, nil, nil), BrokerConfig{ReplayTTL: time.Millisecond})
	events, err := b.Subscribe(context.Background(), "u1", "s1", request())
	require.NoError(t, err)
	drain(t, events)

	svc := NewCleanupService(b, 5*time.Millisecond, zaptest.NewLogger(t))
	svc.Start()
	defer svc.Stop()

	require.Eventually(t, func() bool { return b.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestLocalTransport_CloseCancels(t *testing.T) {
	gate := make(chan struct{})
	b := newBroker(t, gatedProducer([]string{"A", "B"}, gate, nil), BrokerConfig{})
	transport := LocalTransport{Broker: b, Owner: "u1"}

	sub, err := transport.Subscribe(context.Background(), request(), "s1")
	require.NoError(t, err)
	gate <- struct{}{}
	assert.Equal(t, "A", (<-sub.Events()).(entities.ChunkEvent).Data)
	require.NoError(t, sub.Close())

	replay, err := b.Subscribe(context.Background(), "u1", "s1:1", entities.StreamRequest{})
	require.NoError(t, err)
	got := drain(t, replay)
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].(entities.ErrorEvent).Cause, context.Canceled)
}
