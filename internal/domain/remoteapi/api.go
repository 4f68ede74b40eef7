// Package remoteapi is the public booking surface for owner-facing apps.
// Every response is HTTP 200: failures travel as {"error": msg} so that
// lightweight clients handle exactly one response shape.
package remoteapi

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultSlotMinutes is the server-derived appointment length when the
// caller sends no stop time.
const DefaultSlotMinutes = 30

// Slot is one bookable interval.
type Slot struct {
	Start        time.Time `json:"start"`
	Stop         time.Time `json:"stop"`
	Practitioner string    `json:"practitioner"`
	Location     string    `json:"location,omitempty"`
}

// SlotFinder lists open intervals for an appointment type.
type SlotFinder interface {
	AvailableSlots(ctx context.Context, typeID uuid.UUID, dateFrom, dateTo time.Time, practitionerID *uuid.UUID) ([]Slot, error)
}

// BookParams is a booking request already validated at the boundary.
type BookParams struct {
	TypeID         uuid.UUID
	Start          time.Time
	Stop           time.Time
	PetIDs         []uuid.UUID
	PractitionerID uuid.UUID
	RoomID         *uuid.UUID
	Reason         string
}

// Booked is the public slice of a created appointment.
type Booked struct {
	ID     uuid.UUID `json:"appointment_id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

// Booker creates draft appointments.
type Booker interface {
	Book(ctx context.Context, params BookParams) (*Booked, error)
}

// PetSummary is the public slice of a patient record.
type PetSummary struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Species string    `json:"species,omitempty"`
	Breed   string    `json:"breed,omitempty"`
}

// VisitSummary is one historical encounter as shown to the owner.
type VisitSummary struct {
	Name           string     `json:"name"`
	DateStart      time.Time  `json:"date_start"`
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty"`
	State          string     `json:"state"`
	ChiefComplaint *string    `json:"chief_complaint,omitempty"`
	Diagnosis      *string    `json:"diagnosis,omitempty"`
	Plan           *string    `json:"plan,omitempty"`
}

// HistoryReader loads a pet and its visit history.
type HistoryReader interface {
	PetHistory(ctx context.Context, petID uuid.UUID) (*PetSummary, []VisitSummary, error)
}

// PendingLine is one unbilled item on an owner's statement.
type PendingLine struct {
	Product  string  `json:"product"`
	Qty      float64 `json:"qty"`
	Subtotal float64 `json:"subtotal"`
	State    string  `json:"state"`
}

// PendingReader loads an owner's outstanding items.
type PendingReader interface {
	OwnerStatement(ctx context.Context, ownerID uuid.UUID) ([]PendingLine, float64, error)
}
