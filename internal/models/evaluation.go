package models

import "time"

// Evaluation is a client's score for a completed intervention. Immutable
// once created; at most one per (intervention, author) pair.
type Evaluation struct {
	ID             string    `db:"id" json:"id"`
	InterventionID string    `db:"intervention_id" json:"intervention_id"`
	AuthorID       string    `db:"author_id" json:"author_id"`
	TechnicianID   string    `db:"technician_id" json:"technician_id"`
	Score          int       `db:"score" json:"score"`
	Comment        *string   `db:"comment" json:"comment,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// TechnicianRatingSnapshot is the derived running rating for a technician.
// It is recomputable from the evaluation set at any time and is never
// mutated outside the incremental upsert.
type TechnicianRatingSnapshot struct {
	TechnicianID string    `db:"technician_id" json:"technician_id"`
	MeanScore    float64   `db:"mean_score" json:"mean_score"`
	SampleCount  int       `db:"sample_count" json:"sample_count"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
