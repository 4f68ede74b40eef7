package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines data access for resources, rooms, appointment types and
// appointments.
type Repository interface {
	CreateResource(ctx context.Context, res *Resource) error
	GetResource(ctx context.Context, id uuid.UUID) (*Resource, error)
	ListResources(ctx context.Context, resourceType string) ([]*Resource, error)

	CreateRoom(ctx context.Context, room *TreatmentRoom) error
	GetRoom(ctx context.Context, id uuid.UUID) (*TreatmentRoom, error)
	ListRooms(ctx context.Context) ([]*TreatmentRoom, error)

	CreateType(ctx context.Context, t *AppointmentType) error
	GetType(ctx context.Context, id uuid.UUID) (*AppointmentType, error)
	ListTypes(ctx context.Context) ([]*AppointmentType, error)

	Create(ctx context.Context, appt *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, appt *Appointment) error
	List(ctx context.Context, limit, offset int) ([]*Appointment, int, error)
	ListByDay(ctx context.Context, day time.Time) ([]*Appointment, error)
	// ListBetween returns non-cancelled appointments intersecting the window,
	// optionally narrowed to one practitioner.
	ListBetween(ctx context.Context, start, stop time.Time, practitionerID *uuid.UUID) ([]*Appointment, error)

	// SetStatus is a compare-and-set on the status column.
	SetStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	SetEncounter(ctx context.Context, id uuid.UUID, encounterID *uuid.UUID) error

	// FindRoomConflict returns the earliest-created non-cancelled appointment
	// occupying the room during [start, stop), or nil.
	FindRoomConflict(ctx context.Context, roomID uuid.UUID, start, stop time.Time, exclude uuid.UUID) (*Appointment, error)
}
