package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager runs registered sagas, compensating completed steps in reverse
// order when a step fails
type Manager struct {
	logger      *zap.Logger
	definitions map[string]Definition
	observers   []func(Event)
	mu          sync.RWMutex
}

// NewManager creates a new saga manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:      logger,
		definitions: make(map[string]Definition),
	}
}

// Register registers a saga definition
func (m *Manager) Register(def Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID] = def
	m.logger.Info("Saga definition registered", zap.String("id", def.ID))
}

// Observe adds a callback invoked synchronously for every lifecycle event
func (m *Manager) Observe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Run executes a saga to completion. When a step fails the returned error
// wraps the step error and the instance state is StateCompensated.
func (m *Manager) Run(ctx context.Context, definitionID string, data Data) (*Instance, error) {
	m.mu.RLock()
	def, exists := m.definitions[definitionID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("saga definition not found: %s", definitionID)
	}

	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	instance := &Instance{
		ID:         uuid.NewString(),
		Definition: def.ID,
		State:      StateRunning,
		Steps:      make([]StepExecution, len(def.Steps)),
		StartedAt:  time.Now(),
	}
	for i, step := range def.Steps {
		instance.Steps[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}
	m.emit(instance, "", EventSagaStarted)

	for i, step := range def.Steps {
		if err := step.Execute(ctx, data); err != nil {
			instance.Steps[i].State = StepStateFailed
			instance.Steps[i].Error = err.Error()
			instance.Error = err.Error()
			m.emit(instance, step.ID(), EventStepFailed)

			m.logger.Error("Step failed",
				zap.String("sagaID", instance.ID),
				zap.String("stepID", step.ID()),
				zap.Error(err))

			m.compensate(ctx, instance, def, data, i-1)
			return instance, fmt.Errorf("saga %s step %s: %w", def.ID, step.ID(), err)
		}

		instance.Steps[i].State = StepStateCompleted
		m.emit(instance, step.ID(), EventStepCompleted)
	}

	now := time.Now()
	instance.State = StateCompleted
	instance.CompletedAt = &now
	m.emit(instance, "", EventSagaCompleted)

	m.logger.Info("Saga completed",
		zap.String("sagaID", instance.ID),
		zap.String("definition", def.ID),
		zap.Duration("elapsed", now.Sub(instance.StartedAt)))
	return instance, nil
}

// compensate undoes steps [0, last] in reverse order. Compensation uses a
// context detached from the caller's cancellation so cleanup still runs when
// the request was cancelled.
func (m *Manager) compensate(ctx context.Context, instance *Instance, def Definition, data Data, last int) {
	cleanupCtx := context.WithoutCancel(ctx)

	for i := last; i >= 0; i-- {
		step := def.Steps[i]
		if err := step.Compensate(cleanupCtx, data); err != nil {
			m.logger.Error("Compensation failed",
				zap.String("sagaID", instance.ID),
				zap.String("stepID", step.ID()),
				zap.Error(err))
			continue
		}
		instance.Steps[i].State = StepStateCompensated
		m.emit(instance, step.ID(), EventStepCompensated)
	}

	now := time.Now()
	instance.State = StateCompensated
	instance.CompletedAt = &now
	m.emit(instance, "", EventSagaCompensated)

	m.logger.Info("Saga compensated", zap.String("sagaID", instance.ID))
}

func (m *Manager) emit(instance *Instance, stepID, eventType string) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()

	event := Event{
		SagaID:     instance.ID,
		Definition: instance.Definition,
		StepID:     stepID,
		Type:       eventType,
		Timestamp:  time.Now(),
	}
	for _, fn := range observers {
		fn(event)
	}
}
