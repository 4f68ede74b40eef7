package party

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines data access for parties and partner types.
type Repository interface {
	CreateType(ctx context.Context, t *PartnerType) error
	GetType(ctx context.Context, id uuid.UUID) (*PartnerType, error)
	GetTypeByName(ctx context.Context, name string) (*PartnerType, error)
	ListTypes(ctx context.Context) ([]*PartnerType, error)

	Create(ctx context.Context, p *Party) error
	GetByID(ctx context.Context, id uuid.UUID) (*Party, error)
	Update(ctx context.Context, p *Party) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, query string, limit, offset int) ([]*Party, int, error)
	ListActive(ctx context.Context, limit, offset int) ([]*Party, int, error)
	ListByType(ctx context.Context, typeID uuid.UUID, limit, offset int) ([]*Party, int, error)
	ListPets(ctx context.Context, ownerID uuid.UUID) ([]*Party, error)
	FindByMobile(ctx context.Context, mobile string, exclude uuid.UUID) ([]*Party, error)
	// Referenced reports whether any appointment, encounter or order points
	// at the party. Referenced parties are retired by deactivation, never
	// deleted.
	Referenced(ctx context.Context, id uuid.UUID) (bool, error)
}
