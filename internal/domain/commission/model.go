package commission

import (
	"time"

	"github.com/google/uuid"
)

// Commission states. Paid lines never return to draft or confirmed; the
// cancel arc from the refund path is the only exit.
const (
	StateDraft     = "draft"
	StateConfirmed = "confirmed"
	StatePaid      = "paid"
	StateCancelled = "cancelled"
)

// Line is the payroll accrual for a practitioner on a single register line.
// At most one exists per POS line.
type Line struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	PosLineID     uuid.UUID  `json:"pos_line_id" db:"pos_line_id"`
	PosOrderID    uuid.UUID  `json:"pos_order_id" db:"pos_order_id"`
	SessionRef    *string    `json:"session_ref,omitempty" db:"session_ref"`
	Product       string     `json:"product" db:"product"`
	ProviderID    uuid.UUID  `json:"provider_id" db:"provider_id"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty" db:"patient_id"`
	RatePct       float64    `json:"rate_pct" db:"rate_pct"`
	Base          float64    `json:"base" db:"base"`
	Amount        float64    `json:"amount" db:"amount"`
	Currency      string     `json:"currency" db:"currency"`
	EffectiveDate time.Time  `json:"effective_date" db:"effective_date"`
	State         string     `json:"state" db:"state"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
