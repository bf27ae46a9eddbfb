package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/internal/stream"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeEvent       MessageType = "event"
	MessageTypeError       MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
}

// SubscribeMessage opens or resumes a text stream. LastEventID defaults to
// SessionID, which replays the session from its first event.
type SubscribeMessage struct {
	BaseMessage
	SessionID   string                     `json:"session_id"`
	LastEventID string                     `json:"last_event_id,omitempty"`
	Procedure   entities.Procedure         `json:"procedure,omitempty"`
	Input       entities.GenerationRequest `json:"input"`
}

// Cursor returns the resumption cursor of the subscription
func (m *SubscribeMessage) Cursor() string {
	if m.LastEventID != "" {
		return m.LastEventID
	}
	return m.SessionID
}

// Request returns the stream request carried by the message
func (m *SubscribeMessage) Request() entities.StreamRequest {
	return entities.StreamRequest{Procedure: m.Procedure, Input: m.Input}
}

// UnsubscribeMessage stops a text stream and cancels its producer
type UnsubscribeMessage struct {
	BaseMessage
	SessionID string `json:"session_id"`
}

// PingMessage represents a ping message for connection health check
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// PongMessage represents a pong response
type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// EventMessage carries one stream event to the client
type EventMessage struct {
	BaseMessage
	stream.Frame
}

// ErrorMessage reports a malformed client message. Stream failures travel as
// error events instead.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageValidator provides validation for WebSocket messages
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage validates an incoming message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeSubscribe:
		var msg SubscribeMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid subscribe message: %w", err)
		}
		if err := v.validateSubscribe(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeUnsubscribe:
		var msg UnsubscribeMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid unsubscribe message: %w", err)
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("session_id is required")
		}
		return &msg, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateSubscribe(msg *SubscribeMessage) error {
	if msg.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if msg.LastEventID == "" {
		return nil
	}
	session, _, err := entities.ParseEventID(msg.LastEventID)
	if err != nil {
		return err
	}
	if session != msg.SessionID {
		return fmt.Errorf("last_event_id belongs to another session")
	}
	return nil
}

// CreateEventMessage wraps a stream event for the wire
func CreateEventMessage(ev entities.StreamEvent) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{Type: MessageTypeEvent},
		Frame:       stream.EncodeEvent(ev),
	}
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypePong,
			Timestamp: time.Now().Format(time.RFC3339),
		},
		Data: data,
	}
}
