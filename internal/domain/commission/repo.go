package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines data access for commission lines.
type Repository interface {
	// CreateIfAbsent inserts the line unless one already exists for its POS
	// line, reporting whether the insert won.
	CreateIfAbsent(ctx context.Context, line *Line) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Line, error)
	GetByPosLine(ctx context.Context, posLineID uuid.UUID) (*Line, error)
	List(ctx context.Context, limit, offset int) ([]*Line, int, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, limit, offset int) ([]*Line, int, error)
	// SetState is a compare-and-set on the state column.
	SetState(ctx context.Context, id uuid.UUID, from, to string) (bool, error)
	// Cancel moves any non-cancelled line to cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}
