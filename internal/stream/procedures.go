package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

// ErrUnknownProcedure is returned for a procedure nobody registered
var ErrUnknownProcedure = errors.New("unknown procedure")

// Producer opens a lazy, finite sequence of text fragments. A fragment with
// a non-nil Err ends the sequence.
type Producer func(ctx context.Context, input entities.GenerationRequest) (<-chan repositories.TextChunk, error)

// Generator is the set of server-side generators behind the procedures
type Generator interface {
	GenerateOutline(ctx context.Context, projectID string) (<-chan repositories.TextChunk, error)
	GenerateDescription(ctx context.Context, requestID string) (<-chan repositories.TextChunk, error)
	EditDescription(ctx context.Context, projectID, existing, instruction string) (<-chan repositories.TextChunk, error)
}

// Registry maps procedure names to producers
type Registry struct {
	producers map[entities.Procedure]Producer
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{producers: make(map[entities.Procedure]Producer)}
}

// NewGeneratorRegistry registers the three composer procedures on gen
func NewGeneratorRegistry(gen Generator) *Registry {
	r := NewRegistry()
	r.Register(entities.ProcedureGenerateOutline, func(ctx context.Context, in entities.GenerationRequest) (<-chan repositories.TextChunk, error) {
		return gen.GenerateOutline(ctx, in.SubjectID)
	})
	r.Register(entities.ProcedureEditOutline, func(ctx context.Context, in entities.GenerationRequest) (<-chan repositories.TextChunk, error) {
		return gen.EditDescription(ctx, in.SubjectID, in.ExistingText, in.Instruction)
	})
	r.Register(entities.ProcedureGenerateProposal, func(ctx context.Context, in entities.GenerationRequest) (<-chan repositories.TextChunk, error) {
		return gen.GenerateDescription(ctx, in.SubjectID)
	})
	return r
}

// Register binds procedure to producer, replacing any previous binding
func (r *Registry) Register(procedure entities.Procedure, producer Producer) {
	r.producers[procedure] = producer
}

// Lookup returns the producer of procedure
func (r *Registry) Lookup(procedure entities.Procedure) (Producer, error) {
	producer, ok := r.producers[procedure]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcedure, procedure)
	}
	return producer, nil
}

// Procedures lists the registered procedure names, sorted
func (r *Registry) Procedures() []entities.Procedure {
	out := make([]entities.Procedure, 0, len(r.producers))
	for p := range r.producers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
