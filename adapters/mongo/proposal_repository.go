package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

const proposalsCollection = "proposals"

// ProposalRepository stores contractor proposals in MongoDB
type ProposalRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.ProposalRepository = (*ProposalRepository)(nil)

// NewProposalRepository creates a new MongoDB proposal repository
func NewProposalRepository(db *mongo.Database, logger *zap.Logger) *ProposalRepository {
	return &ProposalRepository{
		collection: db.Collection(proposalsCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the author and request lookup indexes
func (r *ProposalRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "proposal_request_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create proposal indexes: %w", err)
	}
	return nil
}

// Create implements repositories.ProposalRepository
func (r *ProposalRepository) Create(ctx context.Context, proposal *entities.Proposal) error {
	if proposal == nil {
		return errors.New("proposal cannot be nil")
	}

	if proposal.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate proposal id: %w", err)
		}
		proposal.ID = id.String()
	}
	if proposal.CreatedAt.IsZero() {
		proposal.CreatedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, proposal); err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}

	r.logger.Debug("Proposal created",
		zap.String("proposalID", proposal.ID),
		zap.String("proposalRequestID", proposal.ProposalRequestID))
	return nil
}

// GetByID implements repositories.ProposalRepository
func (r *ProposalRepository) GetByID(ctx context.Context, id string) (*entities.Proposal, error) {
	var proposal entities.Proposal
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&proposal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get proposal %s: %w", id, err)
	}
	return &proposal, nil
}

// ListByUser implements repositories.ProposalRepository
func (r *ProposalRepository) ListByUser(ctx context.Context, userID string) ([]*entities.Proposal, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query proposals: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*entities.Proposal
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode proposals: %w", err)
	}
	return out, nil
}
