package submission

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
	"github.com/satriahrh/bidstream/internal/saga"
)

// Data keys for the submission saga
const (
	DataKeyRequest        = "proposal_request"
	DataKeyClassification = "classification"
)

// Classifier produces the specialty classification of a proposal request
type Classifier interface {
	Classify(ctx context.Context, request *entities.ProposalRequest) ([]entities.SpecialtyMatch, error)
}

func requestFrom(data saga.Data) (*entities.ProposalRequest, error) {
	request, ok := data[DataKeyRequest].(*entities.ProposalRequest)
	if !ok || request == nil {
		return nil, errors.New("proposal request missing from saga data")
	}
	return request, nil
}

// createRequestStep persists the request; compensation deletes it
type createRequestStep struct {
	repo   repositories.ProposalRequestRepository
	logger *zap.Logger
}

func (s *createRequestStep) ID() string { return "create_request" }

func (s *createRequestStep) Execute(ctx context.Context, data saga.Data) error {
	request, err := requestFrom(data)
	if err != nil {
		return err
	}
	if err := request.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s.repo.Create(ctx, request)
}

func (s *createRequestStep) Compensate(ctx context.Context, data saga.Data) error {
	request, err := requestFrom(data)
	if err != nil {
		return err
	}
	s.logger.Info("Removing proposal request after failed submission",
		zap.String("proposalRequestID", request.ID))
	return s.repo.Delete(ctx, request.ID)
}

// classifyStep asks the classifier which specialties the request needs
type classifyStep struct {
	classifier Classifier
}

func (s *classifyStep) ID() string { return "classify_request" }

func (s *classifyStep) Execute(ctx context.Context, data saga.Data) error {
	request, err := requestFrom(data)
	if err != nil {
		return err
	}
	matches, err := s.classifier.Classify(ctx, request)
	if err != nil {
		return err
	}
	data[DataKeyClassification] = matches
	return nil
}

func (s *classifyStep) Compensate(ctx context.Context, data saga.Data) error {
	delete(data, DataKeyClassification)
	return nil
}

// saveClassificationStep stores the classification on the request
type saveClassificationStep struct {
	repo repositories.ProposalRequestRepository
}

func (s *saveClassificationStep) ID() string { return "save_classification" }

func (s *saveClassificationStep) Execute(ctx context.Context, data saga.Data) error {
	request, err := requestFrom(data)
	if err != nil {
		return err
	}
	matches, _ := data[DataKeyClassification].([]entities.SpecialtyMatch)
	if err := s.repo.SaveClassification(ctx, request.ID, matches); err != nil {
		return err
	}
	request.Classification = matches
	return nil
}

func (s *saveClassificationStep) Compensate(ctx context.Context, data saga.Data) error {
	return nil
}
