package submission

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/internal/saga"
)

const (
	DefinitionID   = "proposal_request_submission"
	defaultTimeout = 60 * time.Second
)

// ErrInvalidRequest wraps validation failures of a submitted request
var ErrInvalidRequest = errors.New("invalid proposal request")

// Input is what a client submits
type Input struct {
	UserID      string `json:"-"`
	ProjectID   string `json:"project_id"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

// Service submits proposal requests: create, classify, save classification.
// A failure after creation removes the created request.
type Service struct {
	manager  *saga.Manager
	projects repositories.ProjectRepository
	logger   *zap.Logger
}

// NewService registers the submission saga on the manager
func NewService(
	manager *saga.Manager,
	requests repositories.ProposalRequestRepository,
	projects repositories.ProjectRepository,
	classifier Classifier,
	logger *zap.Logger,
) *Service {
	manager.Register(saga.Definition{
		ID:      DefinitionID,
		Timeout: defaultTimeout,
		Steps: []saga.Step{
			&createRequestStep{repo: requests, logger: logger},
			&classifyStep{classifier: classifier},
			&saveClassificationStep{repo: requests},
		},
	})

	return &Service{
		manager:  manager,
		projects: projects,
		logger:   logger,
	}
}

// Submit creates and classifies a proposal request
func (s *Service) Submit(ctx context.Context, input Input) (*entities.ProposalRequest, error) {
	if _, err := s.projects.GetByID(ctx, input.ProjectID); err != nil {
		return nil, err
	}

	request := &entities.ProposalRequest{
		UserID:      input.UserID,
		ProjectID:   input.ProjectID,
		Email:       input.Email,
		Description: input.Description,
	}

	instance, err := s.manager.Run(ctx, DefinitionID, saga.Data{DataKeyRequest: request})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Proposal request submitted",
		zap.String("proposalRequestID", request.ID),
		zap.String("sagaID", instance.ID),
		zap.Int("specialties", len(request.MatchedSpecialties(0))))
	return request, nil
}
