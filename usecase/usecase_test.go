package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/satriahrh/bidstream/adapters/llm"
	"github.com/satriahrh/bidstream/adapters/memory"
	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

func collect(t *testing.T, chunks <-chan repositories.TextChunk) (string, error) {
	t.Helper()
	var b strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return b.String(), chunk.Err
		}
		b.WriteString(chunk.Text)
	}
	return b.String(), nil
}

type fixture struct {
	llm      *llm.MockLLM
	users    *memory.UserRepository
	projects *memory.ProjectRepository
	requests *memory.ProposalRequestRepository
}

func newFixture() *fixture {
	return &fixture{
		llm:      &llm.MockLLM{},
		users:    memory.NewUserRepository(memory.SeedUsers()),
		projects: memory.NewProjectRepository(memory.SeedProjects()),
		requests: memory.NewProposalRequestRepository(),
	}
}

func (f *fixture) createRequest(t *testing.T, description string, classification []entities.SpecialtyMatch) *entities.ProposalRequest {
	t.Helper()
	req := &entities.ProposalRequest{
		UserID:         memory.SeedClientID,
		ProjectID:      memory.SeedProjectID,
		Email:          "client@example.com",
		Description:    description,
		Classification: classification,
	}
	if err := f.requests.Create(context.Background(), req); err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	return req
}

func firstPrompt(t *testing.T, m *llm.MockLLM) repositories.Prompt {
	t.Helper()
	prompts := m.Prompts()
	if len(prompts) == 0 {
		t.Fatal("Expected the model to be called")
	}
	return prompts[0]
}
