package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/rofex/intervention-api/internal/models"
)

const technicianColumns = "user_id, full_name, email, company, specialties, zone, response_time_hours, active, created_at, updated_at"

// TechnicianRepository reads technician profiles. Profile identity is owned
// by the external profile service; the engine only consumes it.
type TechnicianRepository struct {
	db *sqlx.DB
}

// NewTechnicianRepository constructs a TechnicianRepository.
func NewTechnicianRepository(db *sqlx.DB) *TechnicianRepository {
	return &TechnicianRepository{db: db}
}

// FindByID fetches a technician profile.
func (r *TechnicianRepository) FindByID(ctx context.Context, userID string) (*models.TechnicianProfile, error) {
	query := fmt.Sprintf("SELECT %s FROM technician_profiles WHERE user_id = $1", technicianColumns)
	var profile models.TechnicianProfile
	if err := r.db.GetContext(ctx, &profile, query, userID); err != nil {
		return nil, err
	}
	return &profile, nil
}

// List returns technician profiles matching filters along with total count.
func (r *TechnicianRepository) List(ctx context.Context, filter models.TechnicianFilter) ([]models.TechnicianProfile, int, error) {
	base := "FROM technician_profiles WHERE active = TRUE"
	var conditions []string
	var args []interface{}

	if filter.Domain != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(specialties) s WHERE LOWER(s) = LOWER($%d))", len(args)+1))
		args = append(args, filter.Domain)
	}
	if filter.Zone != "" {
		conditions = append(conditions, fmt.Sprintf("(zone = $%d OR zone = 'any')", len(args)+1))
		args = append(args, filter.Zone)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(COALESCE(company, '')) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, search)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY full_name ASC LIMIT %d OFFSET %d", technicianColumns, base, size, offset)
	var profiles []models.TechnicianProfile
	if err := r.db.SelectContext(ctx, &profiles, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list technicians: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count technicians: %w", err)
	}

	return profiles, total, nil
}

// ListByDomain returns every active technician declaring the domain,
// ordered by id for reproducible matching input.
func (r *TechnicianRepository) ListByDomain(ctx context.Context, domain string) ([]models.TechnicianProfile, error) {
	query := fmt.Sprintf(`SELECT %s FROM technician_profiles
		WHERE active = TRUE
		AND EXISTS (SELECT 1 FROM unnest(specialties) s WHERE LOWER(s) = LOWER($1))
		ORDER BY user_id ASC`, technicianColumns)
	var profiles []models.TechnicianProfile
	if err := r.db.SelectContext(ctx, &profiles, query, domain); err != nil {
		return nil, fmt.Errorf("list technicians by domain: %w", err)
	}
	return profiles, nil
}
