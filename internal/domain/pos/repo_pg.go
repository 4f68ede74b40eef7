package pos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const orderCols = `id, name, session_ref, cashier_id, state, total, currency, refund_of_id,
	notes, created_at, updated_at`

const lineCols = `id, order_id, uid, product, qty, unit_price, discount_pct,
	pending_item_id, patient_id, provider_id, commission_pct, refunded_line_id`

func (r *repoPG) CreateOrder(ctx context.Context, order *Order) error {
	order.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pos_order (id, name, session_ref, cashier_id, state, total, currency, refund_of_id, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		order.ID, order.Name, order.SessionRef, order.CashierID, order.State,
		order.Total, order.Currency, order.RefundOfID, order.Notes,
	)
	if err != nil {
		return err
	}
	for _, line := range order.Lines {
		line.ID = uuid.New()
		line.OrderID = order.ID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO pos_order_line (id, order_id, uid, product, qty, unit_price, discount_pct,
				pending_item_id, patient_id, provider_id, commission_pct, refunded_line_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			line.ID, line.OrderID, line.UID, line.Product, line.Qty, line.UnitPrice, line.DiscountPct,
			line.PendingItemID, line.PatientID, line.ProviderID, line.CommissionPct, line.RefundedLineID,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM pos_order WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineCols+` FROM pos_order_line WHERE order_id = $1 ORDER BY uid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		order.Lines = append(order.Lines, line)
	}
	return order, rows.Err()
}

func (r *repoPG) ListOrders(ctx context.Context, limit, offset int) ([]*Order, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pos_order`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+orderCols+` FROM pos_order ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	return orders, total, rows.Err()
}

func (r *repoPG) SetOrderState(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE pos_order SET state = $3, updated_at = NOW() WHERE id = $1 AND state = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) UpdateLineRefs(ctx context.Context, line *OrderLine) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pos_order_line SET pending_item_id=$2, patient_id=$3, provider_id=$4, commission_pct=$5
		WHERE id = $1`,
		line.ID, line.PendingItemID, line.PatientID, line.ProviderID, line.CommissionPct,
	)
	return err
}

func (r *repoPG) AppendNote(ctx context.Context, orderID uuid.UUID, note string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE pos_order SET notes = array_append(notes, $2), updated_at = NOW() WHERE id = $1`,
		orderID, note)
	return err
}

func (r *repoPG) RefundedLineIDs(ctx context.Context, orderID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT l.refunded_line_id
		FROM pos_order_line l
		JOIN pos_order o ON o.id = l.order_id
		WHERE o.refund_of_id = $1 AND l.refunded_line_id IS NOT NULL`,
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) GetLine(ctx context.Context, id uuid.UUID) (*OrderLine, error) {
	return scanLine(r.conn(ctx).QueryRow(ctx, `SELECT `+lineCols+` FROM pos_order_line WHERE id = $1`, id))
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Name, &o.SessionRef, &o.CashierID, &o.State, &o.Total,
		&o.Currency, &o.RefundOfID, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanLine(row pgx.Row) (*OrderLine, error) {
	var l OrderLine
	err := row.Scan(&l.ID, &l.OrderID, &l.UID, &l.Product, &l.Qty, &l.UnitPrice, &l.DiscountPct,
		&l.PendingItemID, &l.PatientID, &l.ProviderID, &l.CommissionPct, &l.RefundedLineID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "order line not found")
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}
