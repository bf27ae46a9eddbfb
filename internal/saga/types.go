package saga

import (
	"context"
	"time"
)

// State represents the current state of a saga execution
type State string

const (
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateCompensated State = "compensated"
)

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateCompleted   StepState = "completed"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
)

// Data holds the values steps share during one execution
type Data map[string]any

// Step represents a single step in a saga. Compensate undoes a completed
// Execute and is only called when a later step fails.
type Step interface {
	ID() string
	Execute(ctx context.Context, data Data) error
	Compensate(ctx context.Context, data Data) error
}

// Definition names an ordered list of steps
type Definition struct {
	ID      string
	Steps   []Step
	Timeout time.Duration
}

// Instance is the record of one execution
type Instance struct {
	ID          string          `json:"id"`
	Definition  string          `json:"definition"`
	State       State           `json:"state"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID    string    `json:"id"`
	State StepState `json:"state"`
	Error string    `json:"error,omitempty"`
}

// Event represents an event in the saga lifecycle
type Event struct {
	SagaID     string
	Definition string
	StepID     string
	Type       string
	Timestamp  time.Time
}

// Event types
const (
	EventSagaStarted     = "saga_started"
	EventSagaCompleted   = "saga_completed"
	EventSagaCompensated = "saga_compensated"
	EventStepCompleted   = "step_completed"
	EventStepFailed      = "step_failed"
	EventStepCompensated = "step_compensated"
)
