package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/internal/stream"
)

const testProcedure entities.Procedure = "test.fragments"

// gated emits fragments one per release of gate, or all at once when gate is nil
func gated(fragments []string, gate chan struct{}) stream.Producer {
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
		}()
		return out, nil
	}
}

type testServer struct {
	hub    *Hub
	broker *stream.Broker
	url    string
}

func setupTestServer(t *testing.T, producer stream.Producer) *testServer {
	logger := zap.NewNop()
	registry := stream.NewRegistry()
	registry.Register(testProcedure, producer)
	broker := stream.NewBroker(registry, stream.BrokerConfig{}, nil, logger)
	t.Cleanup(broker.Shutdown)

	hub := NewHub(broker, logger)
	go hub.Run()

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocketWithAuth(hub, c, c.QueryParam("user"), logger)
	})
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &testServer{
		hub:    hub,
		broker: broker,
		url:    "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user=",
	}
}

func (s *testServer) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+user, nil)
	if err != nil {
		t.Fatalf("WebSocket connection failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

func subscribe(sessionID, lastEventID string) map[string]interface{} {
	return map[string]interface{}{
		"type":          "subscribe",
		"session_id":    sessionID,
		"last_event_id": lastEventID,
		"procedure":     string(testProcedure),
		"input":         map[string]string{"subject_id": "p1"},
	}
}

func TestHub_SubscribeStreamsEvents(t *testing.T) {
	server := setupTestServer(t, gated([]string{"Hi, ", "we need roofing work."}, nil))
	conn := server.dial(t, "u1")

	if err := conn.WriteJSON(subscribe("s1", "")); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	var text string
	for i := 0; i < 3; i++ {
		msg := readMessage(t, conn)
		if msg["type"] != "event" || msg["session_id"] != "s1" {
			t.Fatalf("Unexpected message %v", msg)
		}
		switch msg["id"] {
		case "chunk":
			text += msg["data"].(string)
		case "complete":
			if i != 2 {
				t.Errorf("complete arrived early at %d", i)
			}
		default:
			t.Errorf("Unexpected event kind %v", msg["id"])
		}
	}
	if text != "Hi, we need roofing work." {
		t.Errorf("Expected streamed text, got %q", text)
	}
}

func TestHub_PingAndInvalidMessages(t *testing.T) {
	server := setupTestServer(t, gated(nil, nil))
	conn := server.dial(t, "u1")

	conn.WriteJSON(map[string]string{"type": "ping", "data": "test-ping"})
	if msg := readMessage(t, conn); msg["type"] != "pong" || msg["data"] != "test-ping" {
		t.Errorf("Expected pong, got %v", msg)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{invalid json}`))
	if msg := readMessage(t, conn); msg["type"] != "error" || msg["error_code"] != stream.CodeBadRequest {
		t.Errorf("Expected error message, got %v", msg)
	}
}

func TestHub_UnknownProcedureIsErrorEvent(t *testing.T) {
	server := setupTestServer(t, gated(nil, nil))
	conn := server.dial(t, "u1")

	msg := subscribe("s1", "")
	msg["procedure"] = "nope"
	conn.WriteJSON(msg)

	reply := readMessage(t, conn)
	if reply["type"] != "event" || reply["id"] != "error" {
		t.Fatalf("Expected error event, got %v", reply)
	}
	remote := reply["error"].(map[string]interface{})
	if remote["code"] != stream.CodeBadRequest {
		t.Errorf("Expected BAD_REQUEST, got %v", remote["code"])
	}
}

func TestHub_UnsubscribeCancelsProducer(t *testing.T) {
	gate := make(chan struct{})
	server := setupTestServer(t, gated([]string{"A", "B"}, gate))
	conn := server.dial(t, "u1")

	conn.WriteJSON(subscribe("s1", ""))
	gate <- struct{}{}
	if msg := readMessage(t, conn); msg["data"] != "A" {
		t.Fatalf("Expected first chunk, got %v", msg)
	}

	conn.WriteJSON(map[string]string{"type": "unsubscribe", "session_id": "s1"})

	// a resumed subscription sees the cancellation as the terminal event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		events, err := server.broker.Subscribe(context.Background(), "u1", "s1:1", entities.StreamRequest{})
		if err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		select {
		case ev := <-events:
			failure, ok := ev.(entities.ErrorEvent)
			if !ok {
				t.Fatalf("Expected error event, got %#v", ev)
			}
			if stream.ErrorCode(failure.Cause) != stream.CodeCancelled {
				t.Errorf("Expected cancellation, got %v", failure.Cause)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("producer was not cancelled")
}

func TestHub_ResumeOnNewConnection(t *testing.T) {
	gate := make(chan struct{})
	server := setupTestServer(t, gated([]string{"A", "B"}, gate))

	first := server.dial(t, "u1")
	first.WriteJSON(subscribe("s1", ""))
	gate <- struct{}{}
	if msg := readMessage(t, first); msg["event_id"] != "s1:1" {
		t.Fatalf("Expected s1:1, got %v", msg)
	}
	first.Close()

	gate <- struct{}{}

	second := server.dial(t, "u1")
	second.WriteJSON(subscribe("s1", "s1:1"))
	if msg := readMessage(t, second); msg["data"] != "B" {
		t.Errorf("Expected resumed chunk B, got %v", msg)
	}
	if msg := readMessage(t, second); msg["id"] != "complete" {
		t.Errorf("Expected complete, got %v", msg)
	}

	intruder := server.dial(t, "u2")
	intruder.WriteJSON(subscribe("s1", "s1:1"))
	reply := readMessage(t, intruder)
	if reply["id"] != "error" {
		t.Errorf("Expected error event for another user's session, got %v", reply)
	}
}

func TestHub_ClientRegistration(t *testing.T) {
	server := setupTestServer(t, gated(nil, nil))

	conns := make([]*websocket.Conn, 5)
	for i := range conns {
		conns[i] = server.dial(t, "u1")
	}

	waitFor(t, func() bool { return server.hub.ClientCount() == len(conns) })

	for _, conn := range conns {
		conn.Close()
	}
	waitFor(t, func() bool { return server.hub.ClientCount() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
