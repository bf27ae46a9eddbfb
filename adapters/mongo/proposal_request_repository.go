package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

const proposalRequestsCollection = "proposal_requests"

// ProposalRequestRepository stores proposal requests in MongoDB
type ProposalRequestRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.ProposalRequestRepository = (*ProposalRequestRepository)(nil)

// NewProposalRequestRepository creates a new MongoDB proposal request repository
func NewProposalRequestRepository(db *mongo.Database, logger *zap.Logger) *ProposalRequestRepository {
	return &ProposalRequestRepository{
		collection: db.Collection(proposalRequestsCollection),
		logger:     logger,
	}
}

// EnsureIndexes creates the indexes used by lookups and matching queries
func (r *ProposalRequestRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "project_id", Value: 1}}},
		{Keys: bson.D{{Key: "classification.specialty", Value: 1}, {Key: "classification.matches", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create proposal request indexes: %w", err)
	}
	return nil
}

// Create implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) Create(ctx context.Context, request *entities.ProposalRequest) error {
	if request == nil {
		return errors.New("proposal request cannot be nil")
	}

	if request.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate proposal request id: %w", err)
		}
		request.ID = id.String()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now()
	}
	if request.Classification == nil {
		request.Classification = []entities.SpecialtyMatch{}
	}

	if _, err := r.collection.InsertOne(ctx, request); err != nil {
		return fmt.Errorf("failed to create proposal request: %w", err)
	}

	r.logger.Debug("Proposal request created",
		zap.String("proposalRequestID", request.ID),
		zap.String("projectID", request.ProjectID))
	return nil
}

// GetByID implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) GetByID(ctx context.Context, id string) (*entities.ProposalRequest, error) {
	var request entities.ProposalRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&request)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get proposal request %s: %w", id, err)
	}
	return &request, nil
}

// SaveClassification implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) SaveClassification(ctx context.Context, id string, classification []entities.SpecialtyMatch) error {
	if classification == nil {
		classification = []entities.SpecialtyMatch{}
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"classification": classification,
			"updated_at":     time.Now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to save classification: %w", err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// Delete implements repositories.ProposalRequestRepository
func (r *ProposalRequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete proposal request: %w", err)
	}
	if result.DeletedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// ListMatching implements repositories.ProposalRequestRepository. Specialty
// labels are stored lowercase by the classifier, so the filter lowercases too.
func (r *ProposalRequestRepository) ListMatching(ctx context.Context, specialties []string) ([]*entities.ProposalRequest, error) {
	if len(specialties) == 0 {
		return nil, nil
	}

	normalized := make([]string, 0, len(specialties))
	for _, s := range specialties {
		normalized = append(normalized, strings.ToLower(s))
	}

	filter := bson.M{
		"classification": bson.M{
			"$elemMatch": bson.M{
				"matches":   true,
				"specialty": bson.M{"$in": normalized},
			},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching proposal requests: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*entities.ProposalRequest
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode matching proposal requests: %w", err)
	}
	return out, nil
}
