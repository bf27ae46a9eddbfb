package memory

import (
	"context"
	"sync"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

// UserRepository is a read-only in-memory user catalogue
type UserRepository struct {
	mu    sync.RWMutex
	order []string
	users map[string]*entities.User
}

// NewUserRepository creates a user repository holding the given users
func NewUserRepository(users []*entities.User) *UserRepository {
	r := &UserRepository{users: make(map[string]*entities.User, len(users))}
	for _, u := range users {
		r.order = append(r.order, u.ID)
		r.users[u.ID] = u
	}
	return r
}

// GetByID implements repositories.UserRepository
func (r *UserRepository) GetByID(ctx context.Context, id string) (*entities.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

// List implements repositories.UserRepository
func (r *UserRepository) List(ctx context.Context) ([]*entities.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.User, 0, len(r.order))
	for _, id := range r.order {
		copied := *r.users[id]
		out = append(out, &copied)
	}
	return out, nil
}

// ProjectRepository is a read-only in-memory project catalogue
type ProjectRepository struct {
	mu       sync.RWMutex
	order    []string
	projects map[string]*entities.Project
}

// NewProjectRepository creates a project repository holding the given projects
func NewProjectRepository(projects []*entities.Project) *ProjectRepository {
	r := &ProjectRepository{projects: make(map[string]*entities.Project, len(projects))}
	for _, p := range projects {
		r.order = append(r.order, p.ID)
		r.projects[p.ID] = p
	}
	return r
}

// GetByID implements repositories.ProjectRepository
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*entities.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	project, ok := r.projects[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *project
	return &copied, nil
}

// List implements repositories.ProjectRepository
func (r *ProjectRepository) List(ctx context.Context) ([]*entities.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entities.Project, 0, len(r.order))
	for _, id := range r.order {
		copied := *r.projects[id]
		out = append(out, &copied)
	}
	return out, nil
}
