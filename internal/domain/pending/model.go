package pending

import (
	"time"

	"github.com/google/uuid"
)

// Item states. Processed items are bound to a POS order line; the refund
// path is the only way back to pending.
const (
	StatePending   = "pending"
	StateProcessed = "processed"
	StateCancelled = "cancelled"
)

// Item is a billable staging row awaiting the cash register. It is owned by
// its encounter and cascade-deleted with it.
type Item struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	EncounterID    uuid.UUID  `json:"encounter_id" db:"encounter_id"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty" db:"appointment_id"`
	BillingPartyID uuid.UUID  `json:"billing_party_id" db:"billing_party_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty" db:"patient_id"`
	Product        string     `json:"product" db:"product"`
	Qty            float64    `json:"qty" db:"qty"`
	UnitPrice      float64    `json:"unit_price" db:"unit_price"`
	DiscountPct    float64    `json:"discount_pct" db:"discount_pct"`
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty" db:"practitioner_id"`
	CommissionPct  float64    `json:"commission_pct" db:"commission_pct"`
	State          string     `json:"state" db:"state"`
	PosLineID      *uuid.UUID `json:"pos_line_id,omitempty" db:"pos_line_id"`
	Notes          *string    `json:"notes,omitempty" db:"notes"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Subtotal is the discounted pre-tax line value.
func (i *Item) Subtotal() float64 {
	return i.Qty * i.UnitPrice * (1 - i.DiscountPct/100)
}
