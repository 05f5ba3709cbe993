package models

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// TechnicianProfile is the matcher's read model of a technician: declared
// trades, home zone, and urgency response class. Profile identity fields
// are owned by the external profile service.
type TechnicianProfile struct {
	UserID            string         `db:"user_id" json:"user_id"`
	FullName          string         `db:"full_name" json:"full_name"`
	Email             string         `db:"email" json:"email"`
	Company           *string        `db:"company" json:"company,omitempty"`
	Specialties       pq.StringArray `db:"specialties" json:"specialties"`
	Zone              string         `db:"zone" json:"zone"`
	ResponseTimeHours int            `db:"response_time_hours" json:"response_time_hours"`
	Active            bool           `db:"active" json:"active"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// HasSpecialty reports whether the declared trade set covers the domain.
func (p TechnicianProfile) HasSpecialty(domain string) bool {
	for _, s := range p.Specialties {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(domain)) {
			return true
		}
	}
	return false
}

// TechnicianFilter narrows technician searches.
type TechnicianFilter struct {
	Domain   string
	Zone     string
	Search   string
	Page     int
	PageSize int
}
