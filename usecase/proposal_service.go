package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

// ErrInvalidProposal wraps validation failures of a submitted proposal
var ErrInvalidProposal = errors.New("invalid proposal")

// ProposalInput is what a contractor submits in answer to a proposal request
type ProposalInput struct {
	ProposalRequestID string `json:"proposal_request_id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
}

// ProposalService stores contractor proposals and decides who may read them
type ProposalService struct {
	proposals repositories.ProposalRepository
	requests  repositories.ProposalRequestRepository
	logger    *zap.Logger
}

// NewProposalService creates a new proposal service
func NewProposalService(proposals repositories.ProposalRepository, requests repositories.ProposalRequestRepository, logger *zap.Logger) *ProposalService {
	return &ProposalService{
		proposals: proposals,
		requests:  requests,
		logger:    logger,
	}
}

// Create stores a proposal by userID answering an existing proposal request
func (s *ProposalService) Create(ctx context.Context, userID string, input ProposalInput) (*entities.Proposal, error) {
	proposal := &entities.Proposal{
		UserID:            userID,
		ProposalRequestID: input.ProposalRequestID,
		Title:             input.Title,
		Description:       input.Description,
	}
	if err := proposal.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}

	if _, err := s.requests.GetByID(ctx, input.ProposalRequestID); err != nil {
		return nil, fmt.Errorf("proposal request %s: %w", input.ProposalRequestID, err)
	}

	if err := s.proposals.Create(ctx, proposal); err != nil {
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}

	s.logger.Info("Proposal created",
		zap.String("proposalID", proposal.ID),
		zap.String("proposalRequestID", proposal.ProposalRequestID),
		zap.String("userID", userID))
	return proposal, nil
}

// Get returns a proposal to its author or to the client who owns the
// request it answers. Anyone else gets repositories.ErrNotFound.
func (s *ProposalService) Get(ctx context.Context, viewerID, id string) (*entities.Proposal, error) {
	proposal, err := s.proposals.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if proposal.UserID == viewerID {
		return proposal, nil
	}

	request, err := s.requests.GetByID(ctx, proposal.ProposalRequestID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, repositories.ErrNotFound
		}
		return nil, err
	}
	if request.UserID != viewerID {
		return nil, repositories.ErrNotFound
	}
	return proposal, nil
}

// List returns the proposals userID wrote, newest first
func (s *ProposalService) List(ctx context.Context, userID string) ([]*entities.Proposal, error) {
	return s.proposals.ListByUser(ctx, userID)
}
