package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/bidstream/domain/entities"
)

// ErrNotFound is returned by repositories when the requested record does not exist
var ErrNotFound = errors.New("not found")

// UserRepository defines data access methods for users
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entities.User, error)
	List(ctx context.Context) ([]*entities.User, error)
}

// ProjectRepository defines data access methods for projects
type ProjectRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Project, error)
	List(ctx context.Context) ([]*entities.Project, error)
}

// ProposalRequestRepository defines data access methods for proposal requests
type ProposalRequestRepository interface {
	Create(ctx context.Context, request *entities.ProposalRequest) error
	GetByID(ctx context.Context, id string) (*entities.ProposalRequest, error)
	SaveClassification(ctx context.Context, id string, classification []entities.SpecialtyMatch) error
	Delete(ctx context.Context, id string) error
	// ListMatching returns requests whose classification marks any of the
	// given specialties as matching
	ListMatching(ctx context.Context, specialties []string) ([]*entities.ProposalRequest, error)
}

// ProposalRepository defines data access methods for contractor proposals
type ProposalRepository interface {
	Create(ctx context.Context, proposal *entities.Proposal) error
	GetByID(ctx context.Context, id string) (*entities.Proposal, error)
	// ListByUser returns the author's proposals, newest first
	ListByUser(ctx context.Context, userID string) ([]*entities.Proposal, error)
}

// IntentStore holds the most recent voice intent result per user so every
// open workspace of that user can observe it
type IntentStore interface {
	Save(ctx context.Context, userID string, result entities.VoiceIntentResult) error
	Last(ctx context.Context, userID string) (*entities.VoiceIntentResult, error)
	Clear(ctx context.Context, userID string) error
}
