package models

import (
	"time"
)

// InterventionStatus enumerates the lifecycle states of a request.
type InterventionStatus string

const (
	StatusPending    InterventionStatus = "pending"
	StatusAccepted   InterventionStatus = "accepted"
	StatusInProgress InterventionStatus = "in_progress"
	StatusCompleted  InterventionStatus = "completed"
	StatusRefused    InterventionStatus = "refused"
)

// InterventionKind enumerates the supported intervention types.
type InterventionKind string

const (
	KindPreventive       InterventionKind = "preventive"
	KindCorrective       InterventionKind = "corrective"
	KindRegulatory       InterventionKind = "regulatory"
	KindSpecializedWorks InterventionKind = "specialized_works"
)

// RefusalReason distinguishes how a request reached the refused state.
type RefusalReason string

const (
	RefusalDeclined  RefusalReason = "declined"
	RefusalCancelled RefusalReason = "cancelled"
	RefusalExpired   RefusalReason = "expired"
	RefusalAdmin     RefusalReason = "admin"
)

// transitions lists the legal lifecycle edges. The administrative
// accepted/in_progress -> refused override is included; callers log it
// separately from organic refusals via RefusalReason.
var transitions = map[InterventionStatus][]InterventionStatus{
	StatusPending:    {StatusAccepted, StatusRefused},
	StatusAccepted:   {StatusInProgress, StatusRefused},
	StatusInProgress: {StatusCompleted, StatusRefused},
	StatusCompleted:  {},
	StatusRefused:    {},
}

// CanTransitionTo reports whether the edge s -> to is legal.
func (s InterventionStatus) CanTransitionTo(to InterventionStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s InterventionStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Assigned reports whether the status requires a bound technician.
func (s InterventionStatus) Assigned() bool {
	return s == StatusAccepted || s == StatusInProgress || s == StatusCompleted
}

// ValidKind reports whether k is a known intervention kind.
func ValidKind(k InterventionKind) bool {
	switch k {
	case KindPreventive, KindCorrective, KindRegulatory, KindSpecializedWorks:
		return true
	}
	return false
}

// Intervention is the request record. Rows are never deleted; they are
// retained for audit and rating history.
type Intervention struct {
	ID            string             `db:"id" json:"id"`
	ClientID      string             `db:"client_id" json:"client_id"`
	TechnicianID  *string            `db:"technician_id" json:"technician_id,omitempty"`
	Kind          InterventionKind   `db:"kind" json:"kind"`
	Domain        string             `db:"domain" json:"domain"`
	Equipment     *string            `db:"equipment" json:"equipment,omitempty"`
	Address       string             `db:"address" json:"address"`
	Zone          string             `db:"zone" json:"zone"`
	DesiredDate   time.Time          `db:"desired_date" json:"desired_date"`
	Urgent        bool               `db:"urgent" json:"urgent"`
	Description   *string            `db:"description" json:"description,omitempty"`
	Status        InterventionStatus `db:"status" json:"status"`
	RefusalReason *RefusalReason     `db:"refusal_reason" json:"refusal_reason,omitempty"`
	ReportURL     *string            `db:"report_url" json:"report_url,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// InterventionFilter narrows list queries.
type InterventionFilter struct {
	ClientID     string
	TechnicianID string
	Status       InterventionStatus
	Urgent       *bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// ResponseDecision is a technician's answer to a pending request.
type ResponseDecision string

const (
	DecisionAccept  ResponseDecision = "accept"
	DecisionDecline ResponseDecision = "decline"
)

// AssignmentResult reports the outcome of a technician response.
type AssignmentResult struct {
	InterventionID string             `json:"intervention_id"`
	TechnicianID   string             `json:"technician_id"`
	Decision       ResponseDecision   `json:"decision"`
	Won            bool               `json:"won"`
	Reason         string             `json:"reason,omitempty"`
	Status         InterventionStatus `json:"status"`
}

// Candidate is a ranked technician eligible for a request.
type Candidate struct {
	TechnicianID      string  `json:"technician_id"`
	FullName          string  `json:"full_name"`
	MeanScore         float64 `json:"mean_score"`
	SampleCount       int     `json:"sample_count"`
	ResponseTimeHours int     `json:"response_time_hours"`
}
