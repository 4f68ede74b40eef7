package sequence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/db"
)

type sequencerPG struct {
	pool *pgxpool.Pool
}

// NewPG creates a Postgres-backed Sequencer over the sequences table.
func NewPG(pool *pgxpool.Pool) Sequencer {
	return &sequencerPG{pool: pool}
}

// Next atomically claims the next value of the named sequence. The single
// UPDATE ... RETURNING keeps concurrent callers from observing the same
// value; joining an ambient transaction keeps the claim rolled back with it.
func (s *sequencerPG) Next(ctx context.Context, code string) (string, error) {
	var (
		prefix  string
		padding int
		claimed int64
	)

	row := s.conn(ctx).QueryRow(ctx, `
		UPDATE sequences
		SET next_value = next_value + 1
		WHERE code = $1
		RETURNING prefix, padding, next_value - 1`, code)

	if err := row.Scan(&prefix, &padding, &claimed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.E(apperr.ConfigurationMissing, "sequence %q is not defined", code)
		}
		return "", err
	}

	return Format(prefix, padding, claimed), nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *sequencerPG) conn(ctx context.Context) rowQuerier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}
