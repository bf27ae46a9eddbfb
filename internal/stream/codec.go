package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/usecase"
)

// Wire discriminators of an event
const (
	KindChunk    = "chunk"
	KindComplete = "complete"
	KindError    = "error"
)

// Error codes carried by error frames
const (
	CodeNotFound         = "NOT_FOUND"
	CodeBadRequest       = "BAD_REQUEST"
	CodeCancelled        = "CANCELLED"
	CodeDeadlineExceeded = "DEADLINE_EXCEEDED"
	CodeInternal         = "INTERNAL"
)

// Frame is the transport form of a stream event, shared by the WebSocket
// and SSE transports
type Frame struct {
	ID        string       `json:"id"`
	EventID   string       `json:"event_id"`
	SessionID string       `json:"session_id"`
	Seq       int          `json:"seq"`
	Data      string       `json:"data,omitempty"`
	Error     *RemoteError `json:"error,omitempty"`
}

// RemoteError is a stream failure as seen across the wire
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EncodeEvent converts an event to its wire frame
func EncodeEvent(ev entities.StreamEvent) Frame {
	frame := Frame{
		EventID:   entities.EventID(ev),
		SessionID: ev.SessionID(),
		Seq:       ev.Seq(),
	}
	switch e := ev.(type) {
	case entities.ChunkEvent:
		frame.ID = KindChunk
		frame.Data = e.Data
	case entities.CompleteEvent:
		frame.ID = KindComplete
	case entities.ErrorEvent:
		frame.ID = KindError
		frame.Error = ToRemoteError(e.Cause)
	}
	return frame
}

// DecodeEvent converts a wire frame back into an event. Error frames carry a
// *RemoteError cause.
func DecodeEvent(f Frame) (entities.StreamEvent, error) {
	switch f.ID {
	case KindChunk:
		return entities.ChunkEvent{Session: f.SessionID, Sequence: f.Seq, Data: f.Data}, nil
	case KindComplete:
		return entities.CompleteEvent{Session: f.SessionID, Sequence: f.Seq}, nil
	case KindError:
		cause := f.Error
		if cause == nil {
			cause = &RemoteError{Code: CodeInternal, Message: "stream failed"}
		}
		return entities.ErrorEvent{Session: f.SessionID, Sequence: f.Seq, Cause: cause}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", f.ID)
	}
}

// ToRemoteError classifies err into a wire error
func ToRemoteError(err error) *RemoteError {
	if err == nil {
		return &RemoteError{Code: CodeInternal, Message: "stream failed"}
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	return &RemoteError{Code: ErrorCode(err), Message: err.Error()}
}

// ErrorCode maps an error to its wire code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, repositories.ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnknownProcedure),
		errors.Is(err, ErrInvalidEventID),
		errors.Is(err, usecase.ErrEmptyInstruction),
		errors.Is(err, usecase.ErrInvalidProposal):
		return CodeBadRequest
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrStreamTooLong):
		return CodeDeadlineExceeded
	default:
		return CodeInternal
	}
}
