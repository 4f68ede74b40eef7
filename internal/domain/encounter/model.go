package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Encounter states. An encounter reaches done when its last queued billing
// item is processed at the register; a refund can send it back.
const (
	StateInProgress = "in_progress"
	StateDone       = "done"
	StateCancelled  = "cancelled"
)

// Encounter is the daily clinical record for a billing party. At most one
// exists per (billing party, date).
type Encounter struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Name           string     `json:"name" db:"name"`
	BillingPartyID uuid.UUID  `json:"billing_party_id" db:"billing_party_id"`
	Date           time.Time  `json:"date" db:"encounter_date"`
	State          string     `json:"state" db:"state"`
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty" db:"practitioner_id"`
	RoomID         *uuid.UUID `json:"room_id,omitempty" db:"room_id"`

	// Narrative fields are stored verbatim and never interpreted.
	ChiefComplaint *string `json:"chief_complaint,omitempty" db:"chief_complaint"`
	Subjective     *string `json:"subjective,omitempty" db:"subjective"`
	Objective      *string `json:"objective,omitempty" db:"objective"`
	Assessment     *string `json:"assessment,omitempty" db:"assessment"`
	Plan           *string `json:"plan,omitempty" db:"plan"`
	Diagnoses      *string `json:"diagnoses,omitempty" db:"diagnoses"`
	Procedures     *string `json:"procedures,omitempty" db:"procedures"`
	Prescriptions  *string `json:"prescriptions,omitempty" db:"prescriptions"`
	LabNotes       *string `json:"lab_notes,omitempty" db:"lab_notes"`
	RadiologyNotes *string `json:"radiology_notes,omitempty" db:"radiology_notes"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ServiceLine records a clinical item performed inside an encounter. It is
// authoritative for what the patient received; billing goes through the
// pending queue.
type ServiceLine struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	EncounterID    uuid.UUID  `json:"encounter_id" db:"encounter_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty" db:"patient_id"`
	Product        string     `json:"product" db:"product"`
	Description    *string    `json:"description,omitempty" db:"description"`
	Qty            float64    `json:"qty" db:"qty"`
	UnitPrice      float64    `json:"unit_price" db:"unit_price"`
	DiscountPct    float64    `json:"discount_pct" db:"discount_pct"`
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty" db:"practitioner_id"`
	CommissionPct  float64    `json:"commission_pct" db:"commission_pct"`
	Notes          *string    `json:"notes,omitempty" db:"notes"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Subtotal is the discounted pre-tax line value.
func (l *ServiceLine) Subtotal() float64 {
	return l.Qty * l.UnitPrice * (1 - l.DiscountPct/100)
}

// DailySummary aggregates one day's activity for reporting.
type DailySummary struct {
	Date       time.Time `json:"date"`
	Total      int       `json:"total"`
	InProgress int       `json:"in_progress"`
	Done       int       `json:"done"`
	Cancelled  int       `json:"cancelled"`
}

// Day truncates a timestamp to its UTC calendar date, the encounter key.
func Day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
