package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines data access for encounters and their service lines.
type Repository interface {
	// CreateIfAbsent inserts the encounter unless one already exists for its
	// (billing party, date) key, reporting whether the insert won.
	CreateIfAbsent(ctx context.Context, enc *Encounter) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	GetByPartyDate(ctx context.Context, billingPartyID uuid.UUID, date time.Time) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByParty(ctx context.Context, billingPartyID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error)
	ListByDate(ctx context.Context, date time.Time) ([]*Encounter, error)

	// SetState is a compare-and-set on the state column.
	SetState(ctx context.Context, id uuid.UUID, from, to string) (bool, error)

	AddPatient(ctx context.Context, encounterID, patientID uuid.UUID) error
	ListPatients(ctx context.Context, encounterID uuid.UUID) ([]uuid.UUID, error)

	AttachAppointment(ctx context.Context, encounterID, appointmentID uuid.UUID) error
	ListAppointments(ctx context.Context, encounterID uuid.UUID) ([]uuid.UUID, error)

	AddServiceLine(ctx context.Context, line *ServiceLine) error
	ListServiceLines(ctx context.Context, encounterID uuid.UUID) ([]*ServiceLine, error)
	CountServiceLines(ctx context.Context, encounterID uuid.UUID) (int, error)
}
