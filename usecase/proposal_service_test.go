package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/bidstream/adapters/memory"
	"github.com/satriahrh/bidstream/domain/repositories"
)

func TestProposalService_CreateAndRead(t *testing.T) {
	f := newFixture()
	request := f.createRequest(t, "Hi, we need roofing work.", nil)
	svc := NewProposalService(memory.NewProposalRepository(), f.requests, zaptest.NewLogger(t))
	ctx := context.Background()

	proposal, err := svc.Create(ctx, memory.SeedContractorID, ProposalInput{
		ProposalRequestID: request.ID,
		Title:             "Roof replacement",
		Description:       "We can start Monday.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, proposal.ID)
	assert.Equal(t, memory.SeedContractorID, proposal.UserID)

	// the author and the request's client can read it
	got, err := svc.Get(ctx, memory.SeedContractorID, proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, "We can start Monday.", got.Description)
	_, err = svc.Get(ctx, memory.SeedClientID, proposal.ID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, "stranger", proposal.ID)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	mine, err := svc.List(ctx, memory.SeedContractorID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestProposalService_CreateRejects(t *testing.T) {
	f := newFixture()
	request := f.createRequest(t, "Hi, we need roofing work.", nil)
	svc := NewProposalService(memory.NewProposalRepository(), f.requests, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := svc.Create(ctx, memory.SeedContractorID, ProposalInput{ProposalRequestID: request.ID, Title: "Roof", Description: "  "})
	assert.ErrorIs(t, err, ErrInvalidProposal)

	_, err = svc.Create(ctx, memory.SeedContractorID, ProposalInput{ProposalRequestID: request.ID, Description: "Text"})
	assert.ErrorIs(t, err, ErrInvalidProposal)

	_, err = svc.Create(ctx, memory.SeedContractorID, ProposalInput{ProposalRequestID: "missing", Title: "Roof", Description: "Text"})
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}
