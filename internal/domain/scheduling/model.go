package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Appointment status lattice. Terminal states are billed, both cancelled
// variants and no_show.
const (
	StatusDraft              = "draft"
	StatusConfirmed          = "confirmed"
	StatusCheckedIn          = "checked_in"
	StatusInProgress         = "in_progress"
	StatusCompleted          = "completed"
	StatusBilled             = "billed"
	StatusCancelledByPatient = "cancelled_by_patient"
	StatusCancelledByClinic  = "cancelled_by_clinic"
	StatusNoShow             = "no_show"
)

// Resource types.
const (
	ResourcePractitioner = "practitioner"
	ResourceRoom         = "room"
)

// Cancellation blame, used to pick the cancel arc.
const (
	BlamePatient = "patient"
	BlameClinic  = "clinic"
)

// Resource is a bookable entity: a practitioner backed by an employee party,
// or a room backed by a treatment room record.
type Resource struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Type       string     `json:"type" db:"resource_type"`
	EmployeeID *uuid.UUID `json:"employee_id,omitempty" db:"employee_id"`
	RoomID     *uuid.UUID `json:"room_id,omitempty" db:"room_id"`
	Active     bool       `json:"active" db:"active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// TreatmentRoom carries the physical-room attributes behind a room resource.
type TreatmentRoom struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	Name               string    `json:"name" db:"name"`
	RoomType           *string   `json:"room_type,omitempty" db:"room_type"`
	Capacity           int       `json:"capacity" db:"capacity"`
	DefaultDurationMin int       `json:"default_duration_min" db:"default_duration_min"`
	Active             bool      `json:"active" db:"active"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// AppointmentType classifies bookings and supplies the default duration.
type AppointmentType struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	DurationMin int       `json:"duration_min" db:"duration_min"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Appointment is a status-bearing calendar event on exactly one practitioner
// and at most one room.
type Appointment struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	Name               string      `json:"name" db:"name"`
	TypeID             uuid.UUID   `json:"type_id" db:"type_id"`
	Status             string      `json:"status" db:"status"`
	Start              time.Time   `json:"start" db:"start_at"`
	Stop               time.Time   `json:"stop" db:"stop_at"`
	PractitionerID     uuid.UUID   `json:"practitioner_id" db:"practitioner_id"`
	RoomID             *uuid.UUID  `json:"room_id,omitempty" db:"room_id"`
	BillingPartyID     *uuid.UUID  `json:"billing_party_id,omitempty" db:"billing_party_id"`
	PatientIDs         []uuid.UUID `json:"patient_ids"`
	Reason             *string     `json:"reason,omitempty" db:"reason"`
	WalkIn             bool        `json:"walk_in" db:"walk_in"`
	CancellationReason *string     `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	// EncounterID is a weak back-reference, nulled when the encounter goes.
	EncounterID  *uuid.UUID `json:"encounter_id,omitempty" db:"encounter_id"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty" db:"checked_in_at"`
	CheckedOutAt *time.Time `json:"checked_out_at,omitempty" db:"checked_out_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the appointment can no longer move.
func (a *Appointment) Terminal() bool {
	switch a.Status {
	case StatusBilled, StatusCancelledByPatient, StatusCancelledByClinic, StatusNoShow:
		return true
	}
	return false
}

// Slot is an open interval offered to bookers.
type Slot struct {
	Start          time.Time  `json:"start"`
	Stop           time.Time  `json:"stop"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Practitioner   string     `json:"practitioner"`
	RoomID         *uuid.UUID `json:"room_id,omitempty"`
}

// Overlaps reports whether two [start, stop) intervals intersect.
func Overlaps(aStart, aStop, bStart, bStop time.Time) bool {
	return aStart.Before(bStop) && bStart.Before(aStop)
}
