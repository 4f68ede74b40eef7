package encounter

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

const encCols = `id, name, billing_party_id, encounter_date, state, practitioner_id, room_id,
	chief_complaint, subjective, objective, assessment, plan, diagnoses, procedures,
	prescriptions, lab_notes, radiology_notes, created_at, updated_at`

func (r *repoPG) CreateIfAbsent(ctx context.Context, enc *Encounter) (bool, error) {
	enc.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter (
			id, name, billing_party_id, encounter_date, state, practitioner_id, room_id,
			chief_complaint, subjective, objective, assessment, plan, diagnoses, procedures,
			prescriptions, lab_notes, radiology_notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (billing_party_id, encounter_date) DO NOTHING`,
		enc.ID, enc.Name, enc.BillingPartyID, enc.Date, enc.State, enc.PractitionerID, enc.RoomID,
		enc.ChiefComplaint, enc.Subjective, enc.Objective, enc.Assessment, enc.Plan, enc.Diagnoses,
		enc.Procedures, enc.Prescriptions, enc.LabNotes, enc.RadiologyNotes,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
}

func (r *repoPG) GetByPartyDate(ctx context.Context, billingPartyID uuid.UUID, date time.Time) (*Encounter, error) {
	return scanEnc(r.conn(ctx).QueryRow(ctx,
		`SELECT `+encCols+` FROM encounter WHERE billing_party_id = $1 AND encounter_date = $2`,
		billingPartyID, Day(date)))
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE encounter SET
			practitioner_id=$2, room_id=$3, chief_complaint=$4, subjective=$5, objective=$6,
			assessment=$7, plan=$8, diagnoses=$9, procedures=$10, prescriptions=$11,
			lab_notes=$12, radiology_notes=$13, updated_at=NOW()
		WHERE id = $1`,
		enc.ID, enc.PractitionerID, enc.RoomID, enc.ChiefComplaint, enc.Subjective, enc.Objective,
		enc.Assessment, enc.Plan, enc.Diagnoses, enc.Procedures, enc.Prescriptions,
		enc.LabNotes, enc.RadiologyNotes,
	)
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM encounter WHERE id = $1`, id)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter ORDER BY encounter_date DESC, created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListByParty(ctx context.Context, billingPartyID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounter WHERE billing_party_id = $1`, billingPartyID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE billing_party_id = $1 ORDER BY encounter_date DESC LIMIT $2 OFFSET $3`,
		billingPartyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM encounter e
		JOIN encounter_patient ep ON ep.encounter_id = e.id
		WHERE ep.patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+encCols+` FROM encounter e
		JOIN encounter_patient ep ON ep.encounter_id = e.id
		WHERE ep.patient_id = $1
		ORDER BY e.encounter_date DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectEncs(rows, total)
}

func (r *repoPG) ListByDate(ctx context.Context, date time.Time) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+encCols+` FROM encounter WHERE encounter_date = $1 ORDER BY created_at`, Day(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	encs, _, err := collectEncs(rows, 0)
	return encs, err
}

func (r *repoPG) SetState(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE encounter SET state = $3, updated_at = NOW() WHERE id = $1 AND state = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) AddPatient(ctx context.Context, encounterID, patientID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter_patient (encounter_id, patient_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		encounterID, patientID)
	return err
}

func (r *repoPG) ListPatients(ctx context.Context, encounterID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT patient_id FROM encounter_patient WHERE encounter_id = $1`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (r *repoPG) AttachAppointment(ctx context.Context, encounterID, appointmentID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter_appointment (encounter_id, appointment_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		encounterID, appointmentID)
	return err
}

func (r *repoPG) ListAppointments(ctx context.Context, encounterID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT appointment_id FROM encounter_appointment WHERE encounter_id = $1`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (r *repoPG) AddServiceLine(ctx context.Context, line *ServiceLine) error {
	line.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO service_line (
			id, encounter_id, patient_id, product, description, qty, unit_price,
			discount_pct, practitioner_id, commission_pct, notes
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		line.ID, line.EncounterID, line.PatientID, line.Product, line.Description, line.Qty,
		line.UnitPrice, line.DiscountPct, line.PractitionerID, line.CommissionPct, line.Notes,
	)
	return err
}

func (r *repoPG) ListServiceLines(ctx context.Context, encounterID uuid.UUID) ([]*ServiceLine, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, encounter_id, patient_id, product, description, qty, unit_price,
			discount_pct, practitioner_id, commission_pct, notes, created_at
		FROM service_line WHERE encounter_id = $1 ORDER BY created_at`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*ServiceLine
	for rows.Next() {
		var l ServiceLine
		if err := rows.Scan(&l.ID, &l.EncounterID, &l.PatientID, &l.Product, &l.Description,
			&l.Qty, &l.UnitPrice, &l.DiscountPct, &l.PractitionerID, &l.CommissionPct,
			&l.Notes, &l.CreatedAt); err != nil {
			return nil, err
		}
		lines = append(lines, &l)
	}
	return lines, rows.Err()
}

func (r *repoPG) CountServiceLines(ctx context.Context, encounterID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM service_line WHERE encounter_id = $1`, encounterID).Scan(&n)
	return n, err
}

func scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(
		&e.ID, &e.Name, &e.BillingPartyID, &e.Date, &e.State, &e.PractitionerID, &e.RoomID,
		&e.ChiefComplaint, &e.Subjective, &e.Objective, &e.Assessment, &e.Plan, &e.Diagnoses,
		&e.Procedures, &e.Prescriptions, &e.LabNotes, &e.RadiologyNotes, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "encounter not found")
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectEncs(rows pgx.Rows, total int) ([]*Encounter, int, error) {
	var encs []*Encounter
	for rows.Next() {
		var e Encounter
		err := rows.Scan(
			&e.ID, &e.Name, &e.BillingPartyID, &e.Date, &e.State, &e.PractitionerID, &e.RoomID,
			&e.ChiefComplaint, &e.Subjective, &e.Objective, &e.Assessment, &e.Plan, &e.Diagnoses,
			&e.Procedures, &e.Prescriptions, &e.LabNotes, &e.RadiologyNotes, &e.CreatedAt, &e.UpdatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		encs = append(encs, &e)
	}
	return encs, total, rows.Err()
}

func collectIDs(rows pgx.Rows) ([]uuid.UUID, error) {
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
