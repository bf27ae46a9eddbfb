package entities

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamSession identifies one text stream. The zero value means no stream
// is active.
type StreamSession struct {
	ID string
}

// Active reports whether the session refers to a running stream
func (s StreamSession) Active() bool {
	return s.ID != ""
}

// StreamEvent is one ordered event of a text stream. The set of
// implementations is closed: ChunkEvent, CompleteEvent and ErrorEvent.
type StreamEvent interface {
	SessionID() string
	Seq() int
	isStreamEvent()
}

// ChunkEvent carries the next fragment of generated text
type ChunkEvent struct {
	Session  string
	Sequence int
	Data     string
}

// CompleteEvent marks the successful end of a stream
type CompleteEvent struct {
	Session  string
	Sequence int
}

// ErrorEvent marks the failed end of a stream
type ErrorEvent struct {
	Session  string
	Sequence int
	Cause    error
}

func (e ChunkEvent) SessionID() string    { return e.Session }
func (e ChunkEvent) Seq() int             { return e.Sequence }
func (ChunkEvent) isStreamEvent()         {}
func (e CompleteEvent) SessionID() string { return e.Session }
func (e CompleteEvent) Seq() int          { return e.Sequence }
func (CompleteEvent) isStreamEvent()      {}
func (e ErrorEvent) SessionID() string    { return e.Session }
func (e ErrorEvent) Seq() int             { return e.Sequence }
func (ErrorEvent) isStreamEvent()         {}

// IsTerminal reports whether ev ends its stream
func IsTerminal(ev StreamEvent) bool {
	switch ev.(type) {
	case CompleteEvent, ErrorEvent:
		return true
	default:
		return false
	}
}

// EventID formats the resumption cursor of an event as "<session>:<seq>"
func EventID(ev StreamEvent) string {
	return fmt.Sprintf("%s:%d", ev.SessionID(), ev.Seq())
}

// ParseEventID splits a resumption cursor. A bare session id is accepted and
// yields sequence 0, meaning "from the beginning".
func ParseEventID(id string) (session string, seq int, err error) {
	idx := strings.LastIndex(id, ":")
	if idx < 0 {
		return id, 0, nil
	}
	seq, err = strconv.Atoi(id[idx+1:])
	if err != nil || seq < 0 {
		return "", 0, fmt.Errorf("invalid event id %q", id)
	}
	return id[:idx], seq, nil
}

// Procedure names a server-side generator a stream can subscribe to
type Procedure string

const (
	ProcedureGenerateOutline  Procedure = "proposalRequest.generateOutline"
	ProcedureEditOutline      Procedure = "proposalRequest.generateOutlineForIntent"
	ProcedureGenerateProposal Procedure = "proposal.generateOutline"
)

// GenerationRequest is the domain input of a generator. SubjectID is a
// project id or proposal request id depending on the procedure.
type GenerationRequest struct {
	SubjectID    string `json:"subject_id"`
	ExistingText string `json:"existing_text,omitempty"`
	Instruction  string `json:"instruction,omitempty"`
}

// StreamRequest is what a text stream controller hands to its transport
type StreamRequest struct {
	Procedure Procedure         `json:"procedure"`
	Input     GenerationRequest `json:"input"`
}
