package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

// ProposalRepository keeps contractor proposals in process memory
type ProposalRepository struct {
	mu        sync.RWMutex
	proposals map[string]*entities.Proposal
}

// NewProposalRepository creates an empty repository
func NewProposalRepository() *ProposalRepository {
	return &ProposalRepository{
		proposals: make(map[string]*entities.Proposal),
	}
}

// Create implements repositories.ProposalRepository
func (r *ProposalRepository) Create(ctx context.Context, proposal *entities.Proposal) error {
	if proposal == nil {
		return errors.New("proposal cannot be nil")
	}

	if proposal.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		proposal.ID = id.String()
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.proposals[proposal.ID]; exists {
		return errors.New("proposal already exists")
	}
	copied := *proposal
	r.proposals[proposal.ID] = &copied
	return nil
}

// GetByID implements repositories.ProposalRepository
func (r *ProposalRepository) GetByID(ctx context.Context, id string) (*entities.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	proposal, ok := r.proposals[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *proposal
	return &copied, nil
}

// ListByUser implements repositories.ProposalRepository
func (r *ProposalRepository) ListByUser(ctx context.Context, userID string) ([]*entities.Proposal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.Proposal
	for _, proposal := range r.proposals {
		if proposal.UserID == userID {
			copied := *proposal
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
