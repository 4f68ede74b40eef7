package scheduling

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

const apptCols = `id, name, type_id, status, start_at, stop_at, practitioner_id, room_id,
	billing_party_id, reason, walk_in, cancellation_reason, encounter_id,
	checked_in_at, checked_out_at, created_at, updated_at`

// Statuses that release a held room.
const cancelledStatuses = `'cancelled_by_patient', 'cancelled_by_clinic'`

func (r *repoPG) CreateResource(ctx context.Context, res *Resource) error {
	res.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO resource (id, name, resource_type, employee_id, room_id, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		res.ID, res.Name, res.Type, res.EmployeeID, res.RoomID, res.Active,
	)
	return err
}

func (r *repoPG) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	var res Resource
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, resource_type, employee_id, room_id, active, created_at, updated_at
		FROM resource WHERE id = $1`, id).
		Scan(&res.ID, &res.Name, &res.Type, &res.EmployeeID, &res.RoomID, &res.Active,
			&res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "resource not found")
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *repoPG) ListResources(ctx context.Context, resourceType string) ([]*Resource, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, resource_type, employee_id, room_id, active, created_at, updated_at
		FROM resource WHERE active AND ($1 = '' OR resource_type = $1) ORDER BY name`, resourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Type, &res.EmployeeID, &res.RoomID,
			&res.Active, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateRoom(ctx context.Context, room *TreatmentRoom) error {
	room.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO treatment_room (id, name, room_type, capacity, default_duration_min, active)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		room.ID, room.Name, room.RoomType, room.Capacity, room.DefaultDurationMin, room.Active,
	)
	return err
}

func (r *repoPG) GetRoom(ctx context.Context, id uuid.UUID) (*TreatmentRoom, error) {
	var room TreatmentRoom
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, room_type, capacity, default_duration_min, active, created_at, updated_at
		FROM treatment_room WHERE id = $1`, id).
		Scan(&room.ID, &room.Name, &room.RoomType, &room.Capacity, &room.DefaultDurationMin,
			&room.Active, &room.CreatedAt, &room.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "treatment room not found")
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *repoPG) ListRooms(ctx context.Context) ([]*TreatmentRoom, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, room_type, capacity, default_duration_min, active, created_at, updated_at
		FROM treatment_room WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TreatmentRoom
	for rows.Next() {
		var room TreatmentRoom
		if err := rows.Scan(&room.ID, &room.Name, &room.RoomType, &room.Capacity,
			&room.DefaultDurationMin, &room.Active, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &room)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateType(ctx context.Context, t *AppointmentType) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_type (id, name, duration_min, active)
		VALUES ($1,$2,$3,$4)`,
		t.ID, t.Name, t.DurationMin, t.Active,
	)
	return err
}

func (r *repoPG) GetType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	var t AppointmentType
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, duration_min, active, created_at, updated_at
		FROM appointment_type WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.DurationMin, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "appointment type not found")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repoPG) ListTypes(ctx context.Context) ([]*AppointmentType, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, name, duration_min, active, created_at, updated_at
		FROM appointment_type WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AppointmentType
	for rows.Next() {
		var t AppointmentType
		if err := rows.Scan(&t.ID, &t.Name, &t.DurationMin, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, appt *Appointment) error {
	appt.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (
			id, name, type_id, status, start_at, stop_at, practitioner_id, room_id,
			billing_party_id, reason, walk_in, cancellation_reason, encounter_id,
			checked_in_at, checked_out_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		appt.ID, appt.Name, appt.TypeID, appt.Status, appt.Start, appt.Stop, appt.PractitionerID,
		appt.RoomID, appt.BillingPartyID, appt.Reason, appt.WalkIn, appt.CancellationReason,
		appt.EncounterID, appt.CheckedInAt, appt.CheckedOutAt,
	)
	if err != nil {
		return err
	}
	for _, pid := range appt.PatientIDs {
		if _, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO appointment_patient (appointment_id, patient_id)
			VALUES ($1, $2) ON CONFLICT DO NOTHING`, appt.ID, pid); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	appt.PatientIDs, err = r.patientIDs(ctx, appt.ID)
	return appt, err
}

func (r *repoPG) patientIDs(ctx context.Context, apptID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT patient_id FROM appointment_patient WHERE appointment_id = $1`, apptID)
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

func (r *repoPG) Update(ctx context.Context, appt *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET
			start_at=$2, stop_at=$3, practitioner_id=$4, room_id=$5, billing_party_id=$6,
			reason=$7, cancellation_reason=$8, checked_in_at=$9, checked_out_at=$10,
			updated_at=NOW()
		WHERE id = $1`,
		appt.ID, appt.Start, appt.Stop, appt.PractitionerID, appt.RoomID, appt.BillingPartyID,
		appt.Reason, appt.CancellationReason, appt.CheckedInAt, appt.CheckedOutAt,
	)
	return err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment ORDER BY start_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	appts, err := collectAppts(rows)
	return appts, total, err
}

func (r *repoPG) ListByDay(ctx context.Context, day time.Time) ([]*Appointment, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE start_at >= $1 AND start_at < $2 ORDER BY start_at`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func (r *repoPG) ListBetween(ctx context.Context, start, stop time.Time, practitionerID *uuid.UUID) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE start_at < $2 AND stop_at > $1
			AND status NOT IN (`+cancelledStatuses+`)
			AND ($3::uuid IS NULL OR practitioner_id = $3)
		ORDER BY start_at`,
		start, stop, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppts(rows)
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) SetEncounter(ctx context.Context, id uuid.UUID, encounterID *uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE appointment SET encounter_id = $2, updated_at = NOW() WHERE id = $1`, id, encounterID)
	return err
}

func (r *repoPG) FindRoomConflict(ctx context.Context, roomID uuid.UUID, start, stop time.Time, exclude uuid.UUID) (*Appointment, error) {
	appt, err := scanAppt(r.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE room_id = $1 AND id <> $4
			AND start_at < $3 AND stop_at > $2
			AND status NOT IN (`+cancelledStatuses+`)
		ORDER BY created_at LIMIT 1`,
		roomID, start, stop, exclude))
	if apperr.KindOf(err) == apperr.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.Name, &a.TypeID, &a.Status, &a.Start, &a.Stop, &a.PractitionerID, &a.RoomID,
		&a.BillingPartyID, &a.Reason, &a.WalkIn, &a.CancellationReason, &a.EncounterID,
		&a.CheckedInAt, &a.CheckedOutAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.NotFound, "appointment not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAppts(rows pgx.Rows) ([]*Appointment, error) {
	var appts []*Appointment
	for rows.Next() {
		var a Appointment
		err := rows.Scan(
			&a.ID, &a.Name, &a.TypeID, &a.Status, &a.Start, &a.Stop, &a.PractitionerID, &a.RoomID,
			&a.BillingPartyID, &a.Reason, &a.WalkIn, &a.CancellationReason, &a.EncounterID,
			&a.CheckedInAt, &a.CheckedOutAt, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		appts = append(appts, &a)
	}
	return appts, rows.Err()
}
