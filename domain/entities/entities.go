package entities

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// Role identifies which side of the marketplace a user acts on
type Role string

const (
	RoleClient     Role = "client"
	RoleContractor Role = "contractor"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleContractor
}

// User represents a client or contractor account
type User struct {
	ID          string   `json:"id" bson:"_id"`
	Name        string   `json:"name" bson:"name"`
	Email       string   `json:"email" bson:"email"`
	Role        Role     `json:"role" bson:"role"`
	Specialties []string `json:"specialties,omitempty" bson:"specialties,omitempty"`
}

// Section is one named part of a project scope
type Section struct {
	Name        string `json:"name" bson:"name"`
	Description string `json:"description" bson:"description"`
}

// Project represents a client's construction project
type Project struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Status    string    `json:"status" bson:"status"`
	Contracts int       `json:"contracts" bson:"contracts"`
	Value     string    `json:"value" bson:"value"`
	Progress  int       `json:"progress" bson:"progress"`
	OwnerID   string    `json:"owner_id" bson:"owner_id"`
	StartDate string    `json:"start_date" bson:"start_date"`
	EndDate   string    `json:"end_date" bson:"end_date"`
	Sections  []Section `json:"sections" bson:"sections"`
}

// ProposalRequest is a client's request for contractor proposals on a project
type ProposalRequest struct {
	ID             string           `json:"id" bson:"_id"`
	UserID         string           `json:"user_id" bson:"user_id"`
	ProjectID      string           `json:"project_id" bson:"project_id"`
	Email          string           `json:"email" bson:"email"`
	Description    string           `json:"description" bson:"description"`
	Classification []SpecialtyMatch `json:"classification" bson:"classification"`
	CreatedAt      time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt      *time.Time       `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
}

// Proposal is a contractor's answer to a proposal request
type Proposal struct {
	ID                string    `json:"id" bson:"_id"`
	UserID            string    `json:"user_id" bson:"user_id"`
	ProposalRequestID string    `json:"proposal_request_id" bson:"proposal_request_id"`
	Title             string    `json:"title" bson:"title"`
	Description       string    `json:"description" bson:"description"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
}

// SpecialtyMatch is the classifier verdict for one specialty label
type SpecialtyMatch struct {
	Specialty  string  `json:"specialty" bson:"specialty"`
	Matches    bool    `json:"matches" bson:"matches"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

// Domain validation methods
func (u *User) Validate() error {
	if u.Name == "" {
		return errors.New("name is required")
	}
	if u.Email == "" {
		return errors.New("email is required")
	}
	if !u.Role.Valid() {
		return errors.New("role must be client or contractor")
	}
	return nil
}

func (p *ProposalRequest) Validate() error {
	if p.ProjectID == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return errors.New("description is required")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return errors.New("email is invalid")
	}
	return nil
}

func (p *Proposal) Validate() error {
	if p.ProposalRequestID == "" {
		return errors.New("proposal request id is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return errors.New("description is required")
	}
	return nil
}

// MatchedSpecialties returns the labels the classifier marked as matching
// with at least minConfidence.
func (p *ProposalRequest) MatchedSpecialties(minConfidence float64) []string {
	var out []string
	for _, m := range p.Classification {
		if m.Matches && m.Confidence >= minConfidence {
			out = append(out, m.Specialty)
		}
	}
	return out
}

// HasSpecialty reports whether the user lists the given specialty, case-insensitively
func (u *User) HasSpecialty(specialty string) bool {
	for _, s := range u.Specialties {
		if strings.EqualFold(s, specialty) {
			return true
		}
	}
	return false
}
