package party

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

const typeCols = `id, name, is_customer, is_patient, is_employee, is_company, is_individual,
	sequence_code, created_at, updated_at`

const partyCols = `id, name, name_secondary, type_id, ref, mobile, phone, email, gov_id,
	date_of_birth, owner_id, species, breed, microchip, deceased, is_walkin, active,
	created_at, updated_at`

func (r *repoPG) CreateType(ctx context.Context, t *PartnerType) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO partner_type (id, name, is_customer, is_patient, is_employee, is_company, is_individual, sequence_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Name, t.IsCustomer, t.IsPatient, t.IsEmployee, t.IsCompany, t.IsIndividual, t.SequenceCode,
	)
	return err
}

func (r *repoPG) GetType(ctx context.Context, id uuid.UUID) (*PartnerType, error) {
	return scanType(r.conn(ctx).QueryRow(ctx, `SELECT `+typeCols+` FROM partner_type WHERE id = $1`, id))
}

func (r *repoPG) GetTypeByName(ctx context.Context, name string) (*PartnerType, error) {
	return scanType(r.conn(ctx).QueryRow(ctx, `SELECT `+typeCols+` FROM partner_type WHERE name = $1`, name))
}

func (r *repoPG) ListTypes(ctx context.Context) ([]*PartnerType, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+typeCols+` FROM partner_type ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []*PartnerType
	for rows.Next() {
		var t PartnerType
		if err := rows.Scan(&t.ID, &t.Name, &t.IsCustomer, &t.IsPatient, &t.IsEmployee, &t.IsCompany,
			&t.IsIndividual, &t.SequenceCode, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		types = append(types, &t)
	}
	return types, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, p *Party) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO party (
			id, name, name_secondary, type_id, ref, mobile, phone, email, gov_id,
			date_of_birth, owner_id, species, breed, microchip, deceased, is_walkin, active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		p.ID, p.Name, p.NameSecondary, p.TypeID, p.Ref, p.Mobile, p.Phone, p.Email, p.GovID,
		p.DateOfBirth, p.OwnerID, p.Species, p.Breed, p.Microchip, p.Deceased, p.IsWalkin, p.Active,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Party, error) {
	return scanParty(r.conn(ctx).QueryRow(ctx, `SELECT `+partyCols+` FROM party WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, p *Party) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE party SET
			name=$2, name_secondary=$3, type_id=$4, ref=$5, mobile=$6, phone=$7, email=$8, gov_id=$9,
			date_of_birth=$10, owner_id=$11, species=$12, breed=$13, microchip=$14, deceased=$15,
			active=$16, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.NameSecondary, p.TypeID, p.Ref, p.Mobile, p.Phone, p.Email, p.GovID,
		p.DateOfBirth, p.OwnerID, p.Species, p.Breed, p.Microchip, p.Deceased, p.Active,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM party WHERE id = $1`, id)
	return err
}

func (r *repoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Party, int, error) {
	pattern := "%" + query + "%"
	where := `active AND (
		name ILIKE $1 OR name_secondary ILIKE $1 OR ref ILIKE $1 OR
		mobile ILIKE $1 OR phone ILIKE $1 OR email ILIKE $1 OR gov_id ILIKE $1
	)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM party WHERE `+where, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+partyCols+` FROM party WHERE `+where+` ORDER BY name LIMIT $2 OFFSET $3`,
		pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectParties(rows, total)
}

func (r *repoPG) ListActive(ctx context.Context, limit, offset int) ([]*Party, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM party WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+partyCols+` FROM party WHERE active ORDER BY name LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectParties(rows, total)
}

func (r *repoPG) ListByType(ctx context.Context, typeID uuid.UUID, limit, offset int) ([]*Party, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM party WHERE type_id = $1 AND active`, typeID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+partyCols+` FROM party WHERE type_id = $1 AND active ORDER BY name LIMIT $2 OFFSET $3`,
		typeID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectParties(rows, total)
}

func (r *repoPG) ListPets(ctx context.Context, ownerID uuid.UUID) ([]*Party, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+partyCols+` FROM party WHERE owner_id = $1 AND active ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pets, _, err := collectParties(rows, 0)
	return pets, err
}

func (r *repoPG) FindByMobile(ctx context.Context, mobile string, exclude uuid.UUID) ([]*Party, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+partyCols+` FROM party WHERE mobile = $1 AND id <> $2 AND active ORDER BY created_at`,
		mobile, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	matches, _, err := collectParties(rows, 0)
	return matches, err
}

func (r *repoPG) Referenced(ctx context.Context, id uuid.UUID) (bool, error) {
	var referenced bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointment WHERE billing_party_id = $1 OR practitioner_id = $1)
			OR EXISTS (SELECT 1 FROM appointment_patient WHERE patient_id = $1)
			OR EXISTS (SELECT 1 FROM encounter WHERE billing_party_id = $1)
			OR EXISTS (SELECT 1 FROM pos_order_line WHERE patient_id = $1 OR provider_id = $1)
			OR EXISTS (SELECT 1 FROM party WHERE owner_id = $1)`,
		id).Scan(&referenced)
	return referenced, err
}

func scanType(row pgx.Row) (*PartnerType, error) {
	var t PartnerType
	err := row.Scan(&t.ID, &t.Name, &t.IsCustomer, &t.IsPatient, &t.IsEmployee, &t.IsCompany,
		&t.IsIndividual, &t.SequenceCode, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "partner type not found")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanParty(row pgx.Row) (*Party, error) {
	var p Party
	err := row.Scan(
		&p.ID, &p.Name, &p.NameSecondary, &p.TypeID, &p.Ref, &p.Mobile, &p.Phone, &p.Email, &p.GovID,
		&p.DateOfBirth, &p.OwnerID, &p.Species, &p.Breed, &p.Microchip, &p.Deceased, &p.IsWalkin,
		&p.Active, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "party not found")
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectParties(rows pgx.Rows, total int) ([]*Party, int, error) {
	var parties []*Party
	for rows.Next() {
		var p Party
		err := rows.Scan(
			&p.ID, &p.Name, &p.NameSecondary, &p.TypeID, &p.Ref, &p.Mobile, &p.Phone, &p.Email, &p.GovID,
			&p.DateOfBirth, &p.OwnerID, &p.Species, &p.Breed, &p.Microchip, &p.Deceased, &p.IsWalkin,
			&p.Active, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		parties = append(parties, &p)
	}
	return parties, total, rows.Err()
}
