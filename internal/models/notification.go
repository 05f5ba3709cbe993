package models

import (
	"fmt"
	"time"
)

// NotificationKind tags the lifecycle event a notification carries.
type NotificationKind string

const (
	NotifyNewRequest NotificationKind = "new_request"
	NotifyAccepted   NotificationKind = "accepted"
	NotifyRefused    NotificationKind = "refused"
	NotifyCompleted  NotificationKind = "completed"
)

// Notification is the persisted in-app notification row. Only the recipient
// mutates it, by marking it read.
type Notification struct {
	ID             string           `db:"id" json:"id"`
	UserID         string           `db:"user_id" json:"user_id"`
	Kind           NotificationKind `db:"kind" json:"kind"`
	InterventionID string           `db:"intervention_id" json:"intervention_id"`
	Title          string           `db:"title" json:"title"`
	Message        string           `db:"message" json:"message"`
	Read           bool             `db:"read" json:"read"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// NotificationPayload is the tagged union of per-kind event data. Each
// variant carries only its relevant fields and renders its own copy.
type NotificationPayload interface {
	Kind() NotificationKind
	Render() (title, body string)
}

// NewRequestPayload announces a fresh request to a candidate technician.
type NewRequestPayload struct {
	ClientName  string
	Company     string
	RequestKind InterventionKind
	Domain      string
	Address     string
	DesiredDate time.Time
	Urgent      bool
}

func (p NewRequestPayload) Kind() NotificationKind { return NotifyNewRequest }

func (p NewRequestPayload) Render() (string, string) {
	client := p.ClientName
	if p.Company != "" {
		client = p.Company
	}
	if client == "" {
		client = "A client"
	}
	title := "New intervention request"
	if p.Urgent {
		title = "Urgent intervention request"
	}
	body := fmt.Sprintf("%s requested a %s intervention (%s) at %s on %s.",
		client, p.RequestKind, p.Domain, p.Address, p.DesiredDate.Format("2006-01-02 15:04"))
	return title, body
}

// AcceptedPayload informs the client that a technician took the request.
type AcceptedPayload struct {
	TechnicianName string
}

func (p AcceptedPayload) Kind() NotificationKind { return NotifyAccepted }

func (p AcceptedPayload) Render() (string, string) {
	return "Request accepted", fmt.Sprintf("%s accepted your intervention request.", p.TechnicianName)
}

// RefusedPayload informs the client that the request reached the refused state.
type RefusedPayload struct {
	Reason RefusalReason
}

func (p RefusedPayload) Kind() NotificationKind { return NotifyRefused }

func (p RefusedPayload) Render() (string, string) {
	var body string
	switch p.Reason {
	case RefusalCancelled:
		body = "Your intervention request was cancelled."
	case RefusalExpired:
		body = "Your intervention request expired without a response."
	case RefusalAdmin:
		body = "Your intervention request was closed by an administrator."
	default:
		body = "No technician is available for your intervention request."
	}
	return "Request refused", body
}

// CompletedPayload informs the client that the work is done.
type CompletedPayload struct {
	TechnicianName string
}

func (p CompletedPayload) Kind() NotificationKind { return NotifyCompleted }

func (p CompletedPayload) Render() (string, string) {
	return "Intervention completed", fmt.Sprintf("%s marked your intervention as completed. You can now rate the work.", p.TechnicianName)
}
