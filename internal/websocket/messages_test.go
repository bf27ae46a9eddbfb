package websocket

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/stream"
)

func TestMessageValidator_ValidateSubscribe(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{
			name: "valid subscribe",
			message: `{
				"type": "subscribe",
				"session_id": "s1",
				"procedure": "proposalRequest.generateOutline",
				"input": {"subject_id": "p1"}
			}`,
			wantErr: false,
		},
		{
			name: "resume with cursor",
			message: `{
				"type": "subscribe",
				"session_id": "s1",
				"last_event_id": "s1:4"
			}`,
			wantErr: false,
		},
		{
			name: "missing session_id",
			message: `{
				"type": "subscribe",
				"procedure": "proposalRequest.generateOutline"
			}`,
			wantErr: true,
		},
		{
			name: "cursor of another session",
			message: `{
				"type": "subscribe",
				"session_id": "s1",
				"last_event_id": "s2:4"
			}`,
			wantErr: true,
		},
		{
			name: "malformed cursor",
			message: `{
				"type": "subscribe",
				"session_id": "s1",
				"last_event_id": "s1:x"
			}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeMessage_Cursor(t *testing.T) {
	msg := SubscribeMessage{SessionID: "s1"}
	if msg.Cursor() != "s1" {
		t.Errorf("Expected cursor s1, got %s", msg.Cursor())
	}
	msg.LastEventID = "s1:3"
	if msg.Cursor() != "s1:3" {
		t.Errorf("Expected cursor s1:3, got %s", msg.Cursor())
	}
}

func TestMessageValidator_ValidateUnsubscribe(t *testing.T) {
	validator := NewMessageValidator()

	result, err := validator.ValidateMessage([]byte(`{"type": "unsubscribe", "session_id": "s1"}`))
	if err != nil {
		t.Fatalf("ValidateMessage() error = %v", err)
	}
	if msg, ok := result.(*UnsubscribeMessage); !ok || msg.SessionID != "s1" {
		t.Errorf("Expected *UnsubscribeMessage for s1, got %#v", result)
	}

	if _, err := validator.ValidateMessage([]byte(`{"type": "unsubscribe"}`)); err == nil {
		t.Error("Expected error for unsubscribe without session_id")
	}
}

func TestMessageValidator_ValidatePing(t *testing.T) {
	validator := NewMessageValidator()

	message := `{
		"type": "ping",
		"data": "test-ping"
	}`

	result, err := validator.ValidateMessage([]byte(message))
	if err != nil {
		t.Errorf("ValidateMessage() error = %v", err)
	}

	pingMsg, ok := result.(*PingMessage)
	if !ok {
		t.Fatalf("Expected *PingMessage, got %T", result)
	}

	if pingMsg.Data != "test-ping" {
		t.Errorf("Expected data 'test-ping', got '%s'", pingMsg.Data)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	errorMsg := CreateErrorMessage("BAD_REQUEST", "invalid message", "session_id is required")

	if errorMsg.Type != MessageTypeError {
		t.Errorf("Expected type %s, got %s", MessageTypeError, errorMsg.Type)
	}
	if errorMsg.Code != "BAD_REQUEST" {
		t.Errorf("Expected code BAD_REQUEST, got %s", errorMsg.Code)
	}

	timestamp, err := time.Parse(time.RFC3339, errorMsg.Timestamp)
	if err != nil {
		t.Errorf("Invalid timestamp format: %v", err)
	}
	if time.Since(timestamp) > time.Second {
		t.Errorf("Timestamp is not recent: %s", errorMsg.Timestamp)
	}
}

func TestCreatePongMessage(t *testing.T) {
	pongMsg := CreatePongMessage("test-pong-data")

	if pongMsg.Type != MessageTypePong {
		t.Errorf("Expected type %s, got %s", MessageTypePong, pongMsg.Type)
	}
	if pongMsg.Data != "test-pong-data" {
		t.Errorf("Expected data test-pong-data, got %s", pongMsg.Data)
	}
}

func TestEventMessage_WireShape(t *testing.T) {
	data, err := json.Marshal(CreateEventMessage(entities.ChunkEvent{Session: "s1", Sequence: 2, Data: "Hi, "}))
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	expected := map[string]interface{}{
		"type":       "event",
		"id":         "chunk",
		"event_id":   "s1:2",
		"session_id": "s1",
		"seq":        float64(2),
		"data":       "Hi, ",
	}
	for key, want := range expected {
		if result[key] != want {
			t.Errorf("Expected %s=%v, got %v", key, want, result[key])
		}
	}

	var decoded EventMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode event message: %v", err)
	}
	ev, err := stream.DecodeEvent(decoded.Frame)
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if chunk, ok := ev.(entities.ChunkEvent); !ok || chunk.Data != "Hi, " {
		t.Errorf("Expected chunk 'Hi, ', got %#v", ev)
	}
}

func TestMessageValidator_InvalidJSON(t *testing.T) {
	validator := NewMessageValidator()

	invalidMessages := []string{
		`{invalid json}`,
		`{"type": "subscribe", "session_id":}`,
		``,
		`null`,
		`{"type": }`,
	}

	for i, msg := range invalidMessages {
		t.Run(fmt.Sprintf("invalid_json_%d", i), func(t *testing.T) {
			_, err := validator.ValidateMessage([]byte(msg))
			if err == nil {
				t.Errorf("Expected error for invalid JSON, got nil")
			}
		})
	}
}

func TestMessageValidator_UnsupportedMessageType(t *testing.T) {
	validator := NewMessageValidator()

	message := `{
		"type": "audio_chunk",
		"data": "some data"
	}`

	_, err := validator.ValidateMessage([]byte(message))
	if err == nil {
		t.Errorf("Expected error for unsupported message type, got nil")
	}
}

func BenchmarkMessageValidation(b *testing.B) {
	validator := NewMessageValidator()
	subscribe := []byte(`{
		"type": "subscribe",
		"session_id": "s1",
		"procedure": "proposalRequest.generateOutline",
		"input": {"subject_id": "p1"}
	}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := validator.ValidateMessage(subscribe); err != nil {
			b.Fatal(err)
		}
	}
}
