package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/repositories"
)

const (
	outlineTemperature  = 0.1
	proposalTemperature = 0.3
)

// ErrEmptyInstruction is returned when an edit is requested without an instruction
var ErrEmptyInstruction = errors.New("instruction is required")

// GenerationService produces streamed text for the composer procedures
type GenerationService struct {
	llm      repositories.LargeLanguageModel
	projects repositories.ProjectRepository
	requests repositories.ProposalRequestRepository
	logger   *zap.Logger
}

// NewGenerationService creates a new generation service
func NewGenerationService(
	llm repositories.LargeLanguageModel,
	projects repositories.ProjectRepository,
	requests repositories.ProposalRequestRepository,
	logger *zap.Logger,
) *GenerationService {
	return &GenerationService{
		llm:      llm,
		projects: projects,
		requests: requests,
		logger:   logger,
	}
}

// GenerateOutline streams a proposal request message for a project
func (s *GenerationService) GenerateOutline(ctx context.Context, projectID string) (<-chan repositories.TextChunk, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}

	s.logger.Info("Generating proposal request outline",
		zap.String("projectID", projectID))

	return s.llm.StreamText(ctx, repositories.Prompt{
		User:        outlinePrompt(project),
		Temperature: outlineTemperature,
	})
}

// GenerateDescription streams a contractor proposal answering a proposal request
func (s *GenerationService) GenerateDescription(ctx context.Context, proposalRequestID string) (<-chan repositories.TextChunk, error) {
	request, err := s.requests.GetByID(ctx, proposalRequestID)
	if err != nil {
		return nil, fmt.Errorf("proposal request %s: %w", proposalRequestID, err)
	}

	s.logger.Info("Generating proposal description",
		zap.String("proposalRequestID", proposalRequestID))

	return s.llm.StreamText(ctx, repositories.Prompt{
		User:        proposalPrompt(request),
		Temperature: proposalTemperature,
	})
}

// EditDescription streams a full rewrite of existing text following a spoken
// instruction. The caller replaces its field with the streamed output.
func (s *GenerationService) EditDescription(ctx context.Context, projectID, existing, instruction string) (<-chan repositories.TextChunk, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, ErrEmptyInstruction
	}

	s.logger.Info("Editing description",
		zap.String("projectID", projectID),
		zap.Int("existingLength", len(existing)))

	return s.llm.StreamText(ctx, repositories.Prompt{
		User:        editPrompt(existing, instruction),
		Temperature: outlineTemperature,
	})
}
