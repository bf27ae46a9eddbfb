package memory

import "github.com/satriahrh/bidstream/domain/entities"

const (
	SeedClientID     = "d22f302e-4231-466b-a0f7-dd75c4920869"
	SeedContractorID = "7b0bda3c-0a0b-4498-8eed-810262f56d98"
	SeedProjectID    = "52f9f1be-61c4-43e1-8d90-3c0540558b6e"
)

// SeedUsers returns the demo client and roofing contractor
func SeedUsers() []*entities.User {
	return []*entities.User{
		{
			ID:    SeedClientID,
			Name:  "Client",
			Email: "client@example.com",
			Role:  entities.RoleClient,
		},
		{
			ID:          SeedContractorID,
			Name:        "Roofing Contractor",
			Email:       "roofing@example.com",
			Role:        entities.RoleContractor,
			Specialties: []string{"roofing"},
		},
	}
}

// SeedProjects returns the demo projects owned by the seed client
func SeedProjects() []*entities.Project {
	return []*entities.Project{
		{
			ID:        SeedProjectID,
			Name:      "Downtown Office Complex",
			Status:    "active",
			Contracts: 3,
			Value:     "$2.5M",
			Progress:  65,
			OwnerID:   SeedClientID,
			StartDate: "2026-01-01",
			EndDate:   "2026-08-01",
			Sections: []entities.Section{
				{Name: "Roofing", Description: "Replace roof membrane, 40,000 sq ft, energy-efficient materials preferred"},
				{Name: "Electrical", Description: "Upgrade electrical system, 100,000 sq ft, 200 kW load capacity"},
			},
		},
		{
			ID:        "1c5dc0ba-77d7-41e8-b5e6-cc1fbebe80d2",
			Name:      "Riverside Apartments",
			Status:    "pending",
			Contracts: 1,
			Value:     "$1.8M",
			OwnerID:   SeedClientID,
			StartDate: "2026-01-01",
			EndDate:   "2026-08-01",
			Sections: []entities.Section{
				{Name: "Plumbing", Description: "Replace plumbing system, 100,000 sq ft, 200 kW load capacity"},
				{Name: "Flooring", Description: "New flooring for the apartments, 450,000 sq ft"},
			},
		},
		{
			ID:        "7d2ad74a-d815-4a58-8e62-f437988097e3",
			Name:      "Tech Campus Phase 2",
			Status:    "pending",
			Contracts: 5,
			Value:     "$4.2M",
			Progress:  40,
			OwnerID:   SeedClientID,
			StartDate: "2026-01-01",
			EndDate:   "2026-08-01",
			Sections: []entities.Section{
				{Name: "HVAC", Description: "Install HVAC system, 100,000 sq ft, 200 kW load capacity"},
			},
		},
	}
}
