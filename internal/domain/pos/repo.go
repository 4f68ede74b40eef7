package pos

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]*Order, int, error)

	// SetOrderState is a compare-and-set on the order's state column.
	SetOrderState(ctx context.Context, id uuid.UUID, from, to string) (bool, error)

	// UpdateLineRefs writes the clinical references onto a persisted line.
	UpdateLineRefs(ctx context.Context, line *OrderLine) error

	// AppendNote adds an operator-visible annotation to an order.
	AppendNote(ctx context.Context, orderID uuid.UUID, note string) error

	// RefundedLineIDs returns the ids of the order's lines that already have
	// a reversal line on some refund order.
	RefundedLineIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error)

	GetLine(ctx context.Context, id uuid.UUID) (*OrderLine, error)
}
