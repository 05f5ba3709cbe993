package models

import "time"

// PaymentStatus records where the payment stands. No processing happens
// here; the engine only records the status reported by the payment surface.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentMethod enumerates how the client paid.
type PaymentMethod string

const (
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
)

// Payment is the recorded payment state for one intervention.
type Payment struct {
	ID             string         `db:"id" json:"id"`
	InterventionID string         `db:"intervention_id" json:"intervention_id"`
	Amount         float64        `db:"amount" json:"amount"`
	Method         *PaymentMethod `db:"method" json:"method,omitempty"`
	Status         PaymentStatus  `db:"status" json:"status"`
	PaidAt         *time.Time     `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
