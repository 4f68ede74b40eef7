package pending

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

const itemCols = `id, encounter_id, appointment_id, billing_party_id, patient_id, product,
	qty, unit_price, discount_pct, practitioner_id, commission_pct, state, pos_line_id,
	notes, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, item *Item) error {
	item.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pending_item (
			id, encounter_id, appointment_id, billing_party_id, patient_id, product,
			qty, unit_price, discount_pct, practitioner_id, commission_pct, state, pos_line_id, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		item.ID, item.EncounterID, item.AppointmentID, item.BillingPartyID, item.PatientID, item.Product,
		item.Qty, item.UnitPrice, item.DiscountPct, item.PractitionerID, item.CommissionPct,
		item.State, item.PosLineID, item.Notes,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM pending_item WHERE id = $1`, id))
}

func (r *repoPG) GetByPosLine(ctx context.Context, posLineID uuid.UUID) (*Item, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM pending_item WHERE pos_line_id = $1`, posLineID))
}

func (r *repoPG) Update(ctx context.Context, item *Item) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_item SET
			product=$2, qty=$3, unit_price=$4, discount_pct=$5, practitioner_id=$6,
			commission_pct=$7, patient_id=$8, notes=$9, updated_at=NOW()
		WHERE id = $1`,
		item.ID, item.Product, item.Qty, item.UnitPrice, item.DiscountPct, item.PractitionerID,
		item.CommissionPct, item.PatientID, item.Notes,
	)
	return err
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM pending_item WHERE encounter_id = $1 ORDER BY created_at`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *repoPG) ListByOwner(ctx context.Context, ownerID uuid.UUID, state string) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM pending_item WHERE billing_party_id = $1 AND state = $2 ORDER BY created_at`,
		ownerID, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *repoPG) CountByEncounter(ctx context.Context, encounterID uuid.UUID, state string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pending_item WHERE encounter_id = $1 AND state = $2`,
		encounterID, state).Scan(&n)
	return n, err
}

func (r *repoPG) MarkProcessed(ctx context.Context, id, posLineID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_item SET state = $3, pos_line_id = $2, updated_at = NOW()
		WHERE id = $1 AND state = $4`,
		id, posLineID, StateProcessed, StatePending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ResetFromRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_item SET state = $2, pos_line_id = NULL, updated_at = NOW()
		WHERE id = $1 AND state IN ($3, $4)`,
		id, StatePending, StateProcessed, StateCancelled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_item SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3`,
		id, StateCancelled, StatePending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) CancelProcessedUnlinked(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_item SET state = $2, updated_at = NOW()
		WHERE id = $1 AND state = $3 AND pos_line_id IS NULL`,
		id, StateCancelled, StateProcessed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListByState(ctx context.Context, state string, limit int) ([]*Item, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM pending_item WHERE state = $1 ORDER BY created_at DESC LIMIT $2`,
		state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *repoPG) CancelAllPending(ctx context.Context, encounterID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_item SET state = $2, updated_at = NOW()
		WHERE encounter_id = $1 AND state = $3`,
		encounterID, StateCancelled, StatePending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanItem(row pgx.Row) (*Item, error) {
	var i Item
	err := row.Scan(
		&i.ID, &i.EncounterID, &i.AppointmentID, &i.BillingPartyID, &i.PatientID, &i.Product,
		&i.Qty, &i.UnitPrice, &i.DiscountPct, &i.PractitionerID, &i.CommissionPct, &i.State,
		&i.PosLineID, &i.Notes, &i.CreatedAt, &i.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "pending item not found")
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func collectItems(rows pgx.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		var i Item
		err := rows.Scan(
			&i.ID, &i.EncounterID, &i.AppointmentID, &i.BillingPartyID, &i.PatientID, &i.Product,
			&i.Qty, &i.UnitPrice, &i.DiscountPct, &i.PractitionerID, &i.CommissionPct, &i.State,
			&i.PosLineID, &i.Notes, &i.CreatedAt, &i.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, &i)
	}
	return items, rows.Err()
}
