package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

const (
	DefaultMinConfidence      = 0.6
	DefaultExplicitConfidence = 0.9
)

// ErrUnparseableClassification is returned when the model reply is not a
// specialty list
var ErrUnparseableClassification = errors.New("classification reply is not a specialty list")

// ContractorMatch is a contractor whose specialties fit a proposal request
type ContractorMatch struct {
	Contractor         *entities.User            `json:"contractor"`
	MatchedSpecialties []entities.SpecialtyMatch `json:"matched_specialties"`
	AverageConfidence  float64                   `json:"average_confidence"`
	// Explicit is set when the average confidence reaches the explicit-mention threshold
	Explicit bool `json:"explicit"`
}

// MatchingProposalRequest is a proposal request relevant to a contractor
type MatchingProposalRequest struct {
	Request            *entities.ProposalRequest `json:"proposal_request"`
	Project            *entities.Project         `json:"project"`
	MatchedSpecialties []entities.SpecialtyMatch `json:"matched_specialties"`
}

// ClassificationService matches proposal requests to contractor specialties
type ClassificationService struct {
	llm                repositories.LargeLanguageModel
	users              repositories.UserRepository
	projects           repositories.ProjectRepository
	requests           repositories.ProposalRequestRepository
	minConfidence      float64
	explicitConfidence float64
	logger             *zap.Logger
}

// ClassificationConfig holds the confidence thresholds
type ClassificationConfig struct {
	MinConfidence      float64
	ExplicitConfidence float64
}

// NewClassificationService creates a new classification service
func NewClassificationService(
	llm repositories.LargeLanguageModel,
	users repositories.UserRepository,
	projects repositories.ProjectRepository,
	requests repositories.ProposalRequestRepository,
	config ClassificationConfig,
	logger *zap.Logger,
) *ClassificationService {
	if config.MinConfidence <= 0 {
		config.MinConfidence = DefaultMinConfidence
	}
	if config.ExplicitConfidence <= 0 {
		config.ExplicitConfidence = DefaultExplicitConfidence
	}
	return &ClassificationService{
		llm:                llm,
		users:              users,
		projects:           projects,
		requests:           requests,
		minConfidence:      config.MinConfidence,
		explicitConfidence: config.ExplicitConfidence,
		logger:             logger,
	}
}

// Catalogue returns the distinct lowercase specialties offered by any user,
// in order of first appearance
func (s *ClassificationService) Catalogue(ctx context.Context) ([]string, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	seen := make(map[string]bool)
	var catalogue []string
	for _, u := range users {
		for _, specialty := range u.Specialties {
			label := strings.ToLower(strings.TrimSpace(specialty))
			if label == "" || seen[label] {
				continue
			}
			seen[label] = true
			catalogue = append(catalogue, label)
		}
	}
	return catalogue, nil
}

// Classify asks the model which catalogue specialties the request needs.
// The result holds exactly one entry per catalogue label with confidence in [0, 1].
func (s *ClassificationService) Classify(ctx context.Context, request *entities.ProposalRequest) ([]entities.SpecialtyMatch, error) {
	catalogue, err := s.Catalogue(ctx)
	if err != nil {
		return nil, err
	}
	if len(catalogue) == 0 {
		return []entities.SpecialtyMatch{}, nil
	}

	var project *entities.Project
	if request.ProjectID != "" {
		project, err = s.projects.GetByID(ctx, request.ProjectID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
	}

	reply, err := s.llm.Generate(ctx, repositories.Prompt{
		User: classificationPrompt(request, project, catalogue),
		JSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("classification request failed: %w", err)
	}

	parsed, err := parseMatches(reply)
	if err != nil {
		s.logger.Warn("Unparseable classification reply",
			zap.String("proposalRequestID", request.ID),
			zap.Error(err))
		return nil, err
	}

	matches := normalizeMatches(parsed, catalogue)
	s.logger.Info("Proposal request classified",
		zap.String("proposalRequestID", request.ID),
		zap.Int("specialties", len(matches)))
	return matches, nil
}

// MatchingContractors returns contractors whose specialties match the
// request, best average confidence first. The stored classification is used
// when present.
func (s *ClassificationService) MatchingContractors(ctx context.Context, request *entities.ProposalRequest) ([]ContractorMatch, error) {
	classification := request.Classification
	if len(classification) == 0 {
		var err error
		classification, err = s.Classify(ctx, request)
		if err != nil {
			return nil, err
		}
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var out []ContractorMatch
	for _, u := range users {
		if u.Role != entities.RoleContractor {
			continue
		}

		var matched []entities.SpecialtyMatch
		var sum float64
		for _, m := range classification {
			if m.Matches && m.Confidence >= s.minConfidence && u.HasSpecialty(m.Specialty) {
				matched = append(matched, m)
				sum += m.Confidence
			}
		}
		if len(matched) == 0 {
			continue
		}

		avg := sum / float64(len(matched))
		out = append(out, ContractorMatch{
			Contractor:         u,
			MatchedSpecialties: matched,
			AverageConfidence:  avg,
			Explicit:           avg >= s.explicitConfidence,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AverageConfidence > out[j].AverageConfidence
	})
	return out, nil
}

// MatchingProposalRequests returns the proposal requests whose classification
// matches any specialty of the given contractor
func (s *ClassificationService) MatchingProposalRequests(ctx context.Context, userID string) ([]MatchingProposalRequest, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	if len(user.Specialties) == 0 {
		return []MatchingProposalRequest{}, nil
	}

	requests, err := s.requests.ListMatching(ctx, user.Specialties)
	if err != nil {
		return nil, err
	}

	out := make([]MatchingProposalRequest, 0, len(requests))
	for _, request := range requests {
		project, err := s.projects.GetByID(ctx, request.ProjectID)
		if err != nil {
			// Requests for unknown projects are not shown
			continue
		}

		var matched []entities.SpecialtyMatch
		for _, m := range request.Classification {
			if m.Matches && user.HasSpecialty(m.Specialty) {
				matched = append(matched, m)
			}
		}
		if len(matched) == 0 {
			continue
		}

		out = append(out, MatchingProposalRequest{
			Request:            request,
			Project:            project,
			MatchedSpecialties: matched,
		})
	}
	return out, nil
}

// parseMatches accepts a bare JSON array, an array inside a markdown fence,
// or an object wrapping the array under a single key
func parseMatches(reply string) ([]entities.SpecialtyMatch, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var matches []entities.SpecialtyMatch
	if err := json.Unmarshal([]byte(text), &matches); err == nil {
		return matches, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
		return nil, ErrUnparseableClassification
	}
	for _, raw := range wrapped {
		if err := json.Unmarshal(raw, &matches); err == nil {
			return matches, nil
		}
	}
	return nil, ErrUnparseableClassification
}

// normalizeMatches keeps exactly one entry per catalogue label. Labels the
// model skipped are reported as not matching, unknown labels are dropped.
func normalizeMatches(parsed []entities.SpecialtyMatch, catalogue []string) []entities.SpecialtyMatch {
	byLabel := make(map[string]entities.SpecialtyMatch, len(parsed))
	for _, m := range parsed {
		label := strings.ToLower(strings.TrimSpace(m.Specialty))
		if _, dup := byLabel[label]; dup {
			continue
		}
		byLabel[label] = m
	}

	out := make([]entities.SpecialtyMatch, 0, len(catalogue))
	for _, label := range catalogue {
		m, ok := byLabel[label]
		if !ok {
			out = append(out, entities.SpecialtyMatch{Specialty: label})
			continue
		}
		out = append(out, entities.SpecialtyMatch{
			Specialty:  label,
			Matches:    m.Matches,
			Confidence: clamp(m.Confidence),
		})
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
