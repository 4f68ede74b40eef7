package commission

import (
	"context"
	"errors"
	"time"

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

const lineCols = `id, pos_line_id, pos_order_id, session_ref, product, provider_id, patient_id,
	rate_pct, base, amount, currency, effective_date, state, created_at, updated_at`

func (r *repoPG) CreateIfAbsent(ctx context.Context, line *Line) (bool, error) {
	line.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO commission_line (
			id, pos_line_id, pos_order_id, session_ref, product, provider_id, patient_id,
			rate_pct, base, amount, currency, effective_date, state
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (pos_line_id) DO NOTHING`,
		line.ID, line.PosLineID, line.PosOrderID, line.SessionRef, line.Product, line.ProviderID,
		line.PatientID, line.RatePct, line.Base, line.Amount, line.Currency, line.EffectiveDate,
		line.State,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Line, error) {
	return scanLine(r.conn(ctx).QueryRow(ctx, `SELECT `+lineCols+` FROM commission_line WHERE id = $1`, id))
}

func (r *repoPG) GetByPosLine(ctx context.Context, posLineID uuid.UUID) (*Line, error) {
	return scanLine(r.conn(ctx).QueryRow(ctx,
		`SELECT `+lineCols+` FROM commission_line WHERE pos_line_id = $1`, posLineID))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Line, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM commission_line`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+lineCols+` FROM commission_line ORDER BY effective_date DESC, created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectLines(rows, total)
}

func (r *repoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, limit, offset int) ([]*Line, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM commission_line
		WHERE provider_id = $1 AND effective_date >= $2 AND effective_date < $3`,
		providerID, from, to).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+lineCols+` FROM commission_line
		WHERE provider_id = $1 AND effective_date >= $2 AND effective_date < $3
		ORDER BY effective_date DESC LIMIT $4 OFFSET $5`,
		providerID, from, to, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectLines(rows, total)
}

func (r *repoPG) SetState(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE commission_line SET state = $3, updated_at = NOW() WHERE id = $1 AND state = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE commission_line SET state = $2, updated_at = NOW() WHERE id = $1 AND state <> $2`,
		id, StateCancelled)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanLine(row pgx.Row) (*Line, error) {
	var l Line
	err := row.Scan(
		&l.ID, &l.PosLineID, &l.PosOrderID, &l.SessionRef, &l.Product, &l.ProviderID, &l.PatientID,
		&l.RatePct, &l.Base, &l.Amount, &l.Currency, &l.EffectiveDate, &l.State,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "commission line not found")
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func collectLines(rows pgx.Rows, total int) ([]*Line, int, error) {
	var lines []*Line
	for rows.Next() {
		var l Line
		err := rows.Scan(
			&l.ID, &l.PosLineID, &l.PosOrderID, &l.SessionRef, &l.Product, &l.ProviderID, &l.PatientID,
			&l.RatePct, &l.Base, &l.Amount, &l.Currency, &l.EffectiveDate, &l.State,
			&l.CreatedAt, &l.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		lines = append(lines, &l)
	}
	return lines, total, rows.Err()
}
