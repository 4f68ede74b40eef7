package pending

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines data access for pending billing items. The state
// transition methods are compare-and-set: they report whether the row was in
// the expected state and actually moved.
type Repository interface {
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id uuid.UUID) (*Item, error)
	GetByPosLine(ctx context.Context, posLineID uuid.UUID) (*Item, error)
	Update(ctx context.Context, item *Item) error
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Item, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, state string) ([]*Item, error)
	ListByState(ctx context.Context, state string, limit int) ([]*Item, error)
	CountByEncounter(ctx context.Context, encounterID uuid.UUID, state string) (int, error)

	// MarkProcessed moves pending → processed and binds the POS line.
	MarkProcessed(ctx context.Context, id, posLineID uuid.UUID) (bool, error)
	// ResetFromRefund moves processed or cancelled → pending and clears the
	// POS line pointer.
	ResetFromRefund(ctx context.Context, id uuid.UUID) (bool, error)
	// CancelPending moves pending → cancelled.
	CancelPending(ctx context.Context, id uuid.UUID) (bool, error)
	// CancelProcessedUnlinked moves processed → cancelled, but only when no
	// POS line is bound.
	CancelProcessedUnlinked(ctx context.Context, id uuid.UUID) (bool, error)
	CancelAllPending(ctx context.Context, encounterID uuid.UUID) (int, error)
}
