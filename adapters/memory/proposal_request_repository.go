package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

// ProposalRequestRepository keeps proposal requests in process memory
type ProposalRequestRepository struct {
	mu       sync.RWMutex
	requests map[string]*entities.ProposalRequest
}

// NewProposalRequestRepository creates an empty repository
func NewProposalRequestRepository() *ProposalRequestRepository {
	return &ProposalRequestRepository{
		requests: make(map[string]*entities.ProposalRequest),
	}
}

// Create implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) Create(ctx context.Context, request *entities.ProposalRequest) error {
	if request == nil {
		return errors.New("proposal request cannot be nil")
	}

	if request.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		request.ID = id.String()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[request.ID]; exists {
		return errors.New("proposal request already exists")
	}
	r.requests[request.ID] = clone(request)
	return nil
}

// GetByID implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) GetByID(ctx context.Context, id string) (*entities.ProposalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	request, ok := r.requests[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return clone(request), nil
}

// SaveClassification implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) SaveClassification(ctx context.Context, id string, classification []entities.SpecialtyMatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.requests[id]
	if !ok {
		return repositories.ErrNotFound
	}
	now := time.Now()
	request.Classification = append([]entities.SpecialtyMatch(nil), classification...)
	request.UpdatedAt = &now
	return nil
}

// Delete implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.requests[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.requests, id)
	return nil
}

// ListMatching implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) ListMatching(ctx context.Context, specialties []string) ([]*entities.ProposalRequest, error) {
	wanted := make(map[string]bool, len(specialties))
	for _, s := range specialties {
		wanted[strings.ToLower(s)] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*entities.ProposalRequest
	for _, request := range r.requests {
		for _, m := range request.Classification {
			if m.Matches && wanted[strings.ToLower(m.Specialty)] {
				out = append(out, clone(request))
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func clone(request *entities.ProposalRequest) *entities.ProposalRequest {
	copied := *request
	copied.Classification = append([]entities.SpecialtyMatch(nil), request.Classification...)
	if request.UpdatedAt != nil {
		t := *request.UpdatedAt
		copied.UpdatedAt = &t
	}
	return &copied
}
