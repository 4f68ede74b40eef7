package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/db"
	"github.com/vetbridge/vetbridge/internal/platform/possync"
	"github.com/vetbridge/vetbridge/internal/platform/reqctx"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
)

// EncounterLedger is the daily-record collaborator. Check-in materialises or
// re-binds the day's encounter through it.
type EncounterLedger interface {
	FindOrCreate(ctx context.Context, billingPartyID uuid.UUID, date time.Time) (uuid.UUID, error)
	AttachAppointment(ctx context.Context, encounterID, appointmentID uuid.UUID) error
	AddPatient(ctx context.Context, encounterID, patientID uuid.UUID) error
	ReadyForBilling(ctx context.Context, encounterID uuid.UUID) error
	Cancel(ctx context.Context, encounterID uuid.UUID) error
}

// WalkinMinter allocates anonymous walk-in parties.
type WalkinMinter interface {
	FindOrCreateWalkin(ctx context.Context, date time.Time) (uuid.UUID, error)
}

// OwnerResolver reports a patient's owner for the shared-billing-party check.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error)
}

// Config carries the scheduler's tunables.
type Config struct {
	DefaultSlotMinutes int
	OpenHour           int
	CloseHour          int
	VetMode            bool
}

type Service struct {
	repo      Repository
	ledger    EncounterLedger
	walkins   WalkinMinter
	owners    OwnerResolver
	seq       sequence.Sequencer
	pool      *pgxpool.Pool
	cfg       Config
	broadcast possync.Broadcaster
}

func NewService(repo Repository, ledger EncounterLedger, walkins WalkinMinter, owners OwnerResolver,
	seq sequence.Sequencer, pool *pgxpool.Pool, cfg Config, broadcast possync.Broadcaster) *Service {
	if cfg.DefaultSlotMinutes <= 0 {
		cfg.DefaultSlotMinutes = 30
	}
	if cfg.CloseHour <= cfg.OpenHour {
		cfg.OpenHour, cfg.CloseHour = 9, 17
	}
	if broadcast == nil {
		broadcast = possync.NopBroadcaster{}
	}
	return &Service{repo: repo, ledger: ledger, walkins: walkins, owners: owners,
		seq: seq, pool: pool, cfg: cfg, broadcast: broadcast}
}

// inTx runs fn inside a database transaction when a pool is wired; unit
// tests run without one.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// BookRequest is the booking input. Stop defaults to start plus the type's
// duration.
type BookRequest struct {
	TypeID         uuid.UUID   `json:"type_id"`
	PractitionerID uuid.UUID   `json:"practitioner_id"`
	RoomID         *uuid.UUID  `json:"room_id,omitempty"`
	PatientIDs     []uuid.UUID `json:"patient_ids"`
	BillingPartyID *uuid.UUID  `json:"billing_party_id,omitempty"`
	Start          time.Time   `json:"start"`
	Stop           *time.Time  `json:"stop,omitempty"`
	Reason         *string     `json:"reason,omitempty"`
	WalkIn         bool        `json:"walk_in"`
}

// Book creates a draft appointment. With walk_in set and no patient given, a
// fresh anonymous party is minted and serves as both patient and billing
// party. Room double-booking fails with ResourceBusy; the earlier-created
// appointment keeps the room.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	apptType, err := s.repo.GetType(ctx, req.TypeID)
	if err != nil {
		return nil, fmt.Errorf("appointment type: %w", err)
	}
	if req.PractitionerID == uuid.Nil {
		return nil, apperr.E(apperr.PreconditionMissing, "practitioner is required")
	}
	practitioner, err := s.repo.GetResource(ctx, req.PractitionerID)
	if err != nil {
		return nil, fmt.Errorf("practitioner: %w", err)
	}
	if practitioner.Type != ResourcePractitioner {
		return nil, fmt.Errorf("resource %q is not a practitioner", practitioner.Name)
	}
	if req.RoomID != nil {
		room, err := s.repo.GetResource(ctx, *req.RoomID)
		if err != nil {
			return nil, fmt.Errorf("room: %w", err)
		}
		if room.Type != ResourceRoom {
			return nil, fmt.Errorf("resource %q is not a room", room.Name)
		}
	}
	if req.Start.IsZero() {
		return nil, apperr.E(apperr.PreconditionMissing, "start is required")
	}

	stop := req.Start.Add(time.Duration(s.slotMinutes(apptType)) * time.Minute)
	if req.Stop != nil {
		stop = *req.Stop
	}
	if !stop.After(req.Start) {
		return nil, fmt.Errorf("stop must be after start")
	}

	patients := req.PatientIDs
	billingParty := req.BillingPartyID
	if req.WalkIn && len(patients) == 0 {
		minted, err := s.walkins.FindOrCreateWalkin(ctx, req.Start)
		if err != nil {
			return nil, err
		}
		patients = []uuid.UUID{minted}
		if billingParty == nil {
			billingParty = &minted
		}
	}

	if s.cfg.VetMode && billingParty != nil && s.owners != nil {
		for _, pid := range patients {
			owner, err := s.owners.OwnerOf(ctx, pid)
			if err != nil {
				return nil, err
			}
			if owner != nil && *owner != *billingParty {
				return nil, fmt.Errorf("patients must share the appointment's billing party")
			}
		}
	}

	var appt *Appointment
	err = s.inTx(ctx, func(ctx context.Context) error {
		if req.RoomID != nil {
			conflict, err := s.repo.FindRoomConflict(ctx, *req.RoomID, req.Start, stop, uuid.Nil)
			if err != nil {
				return err
			}
			if conflict != nil {
				return apperr.E(apperr.ResourceBusy, "room is booked by %s from %s to %s",
					conflict.Name, conflict.Start.Format(time.RFC3339), conflict.Stop.Format(time.RFC3339))
			}
		}

		name, err := s.seq.Next(ctx, sequence.CodeAppointment)
		if err != nil {
			return err
		}
		appt = &Appointment{
			Name:           name,
			TypeID:         req.TypeID,
			Status:         StatusDraft,
			Start:          req.Start,
			Stop:           stop,
			PractitionerID: req.PractitionerID,
			RoomID:         req.RoomID,
			BillingPartyID: billingParty,
			PatientIDs:     patients,
			Reason:         req.Reason,
			WalkIn:         req.WalkIn,
		}
		return s.repo.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.broadcast.Notify(possync.ModelAppointment, possync.OpCreate, appt)
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Confirm moves draft to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusDraft, StatusConfirmed)
}

// CheckIn receives the patient: the appointment moves to checked_in with a
// wall-clock timestamp, and the day's encounter is materialised or re-bound
// in the same transaction.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if appt.Status != StatusDraft && appt.Status != StatusConfirmed {
		return apperr.E(apperr.IllegalTransition, "appointment %s cannot check in from %s", appt.Name, appt.Status)
	}
	if appt.PractitionerID == uuid.Nil {
		return apperr.E(apperr.PreconditionMissing, "check-in requires a practitioner")
	}
	if appt.BillingPartyID == nil {
		return apperr.E(apperr.PreconditionMissing, "check-in requires a billing party")
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		moved, err := s.repo.SetStatus(ctx, id, appt.Status, StatusCheckedIn)
		if err != nil {
			return apperr.Wrap(apperr.TransitionFailed, err, "check-in")
		}
		if !moved {
			return apperr.E(apperr.IllegalTransition, "appointment %s moved concurrently", appt.Name)
		}
		now := time.Now().UTC()
		appt.CheckedInAt = &now
		if err := s.repo.Update(ctx, appt); err != nil {
			return err
		}

		encID, err := s.ledger.FindOrCreate(ctx, *appt.BillingPartyID, reqctx.From(ctx).Today())
		if err != nil {
			return err
		}
		if err := s.ledger.AttachAppointment(ctx, encID, appt.ID); err != nil {
			return err
		}
		for _, pid := range appt.PatientIDs {
			if err := s.ledger.AddPatient(ctx, encID, pid); err != nil {
				return err
			}
		}
		if err := s.repo.SetEncounter(ctx, id, &encID); err != nil {
			return err
		}
		s.broadcast.Notify(possync.ModelAppointment, possync.OpUpdate, map[string]interface{}{
			"id": id, "status": StatusCheckedIn, "encounter_id": encID,
		})
		return nil
	})
}

// Start marks the consultation underway.
func (s *Service) Start(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusCheckedIn, StatusInProgress)
}

// Complete records check-out and verifies there is something to bill.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if appt.Status != StatusCheckedIn && appt.Status != StatusInProgress {
		return apperr.E(apperr.IllegalTransition, "appointment %s cannot complete from %s", appt.Name, appt.Status)
	}
	if appt.EncounterID != nil {
		if err := s.ledger.ReadyForBilling(ctx, *appt.EncounterID); err != nil {
			return err
		}
	} else {
		return apperr.E(apperr.NoBillableItems, "appointment has no encounter to bill")
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		moved, err := s.repo.SetStatus(ctx, id, appt.Status, StatusCompleted)
		if err != nil {
			return apperr.Wrap(apperr.TransitionFailed, err, "complete")
		}
		if !moved {
			return apperr.E(apperr.IllegalTransition, "appointment %s moved concurrently", appt.Name)
		}
		now := time.Now().UTC()
		appt.CheckedOutAt = &now
		if err := s.repo.Update(ctx, appt); err != nil {
			return err
		}
		s.broadcast.Notify(possync.ModelAppointment, possync.OpUpdate, map[string]interface{}{
			"id": id, "status": StatusCompleted,
		})
		return nil
	})
}

// MarkBilled closes the loop once the register settles the encounter.
func (s *Service) MarkBilled(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StatusCompleted, StatusBilled)
}

// Cancel aborts a non-terminal appointment and, when an encounter was
// already materialised and is still open, cancels it too.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, blame string) error {
	target := StatusCancelledByClinic
	if blame == BlamePatient {
		target = StatusCancelledByPatient
	}
	return s.cancelTo(ctx, id, reason, target)
}

// MarkNoShow records that the patient never arrived.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, reason string) error {
	return s.cancelTo(ctx, id, reason, StatusNoShow)
}

func (s *Service) cancelTo(ctx context.Context, id uuid.UUID, reason, target string) error {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if appt.Terminal() {
		return apperr.E(apperr.IllegalTransition, "appointment %s is already %s", appt.Name, appt.Status)
	}

	return s.inTx(ctx, func(ctx context.Context) error {
		moved, err := s.repo.SetStatus(ctx, id, appt.Status, target)
		if err != nil {
			return apperr.Wrap(apperr.TransitionFailed, err, "cancel")
		}
		if !moved {
			return apperr.E(apperr.IllegalTransition, "appointment %s moved concurrently", appt.Name)
		}
		if reason != "" {
			appt.CancellationReason = &reason
			if err := s.repo.Update(ctx, appt); err != nil {
				return err
			}
		}
		if appt.EncounterID != nil {
			// Billed or already-cancelled encounters stay as they are.
			if err := s.ledger.Cancel(ctx, *appt.EncounterID); err != nil &&
				apperr.KindOf(err) != apperr.IllegalTransition {
				return err
			}
		}
		s.broadcast.Notify(possync.ModelAppointment, possync.OpUpdate, map[string]interface{}{
			"id": id, "status": target,
		})
		return nil
	})
}

// AvailableSlots lists open intervals per practitioner inside working hours,
// skipping anything that collides with an existing booking.
func (s *Service) AvailableSlots(ctx context.Context, typeID uuid.UUID, dateFrom, dateTo time.Time, practitionerID *uuid.UUID) ([]Slot, error) {
	apptType, err := s.repo.GetType(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("appointment type: %w", err)
	}
	slotLen := time.Duration(s.slotMinutes(apptType)) * time.Minute

	var practitioners []*Resource
	if practitionerID != nil {
		p, err := s.repo.GetResource(ctx, *practitionerID)
		if err != nil {
			return nil, err
		}
		practitioners = []*Resource{p}
	} else {
		practitioners, err = s.repo.ListResources(ctx, ResourcePractitioner)
		if err != nil {
			return nil, err
		}
	}

	roomRes, err := s.repo.ListResources(ctx, ResourceRoom)
	if err != nil {
		return nil, err
	}

	slots := []Slot{}
	for day := dateFrom.UTC().Truncate(24 * time.Hour); !day.After(dateTo); day = day.AddDate(0, 0, 1) {
		open := day.Add(time.Duration(s.cfg.OpenHour) * time.Hour)
		closing := day.Add(time.Duration(s.cfg.CloseHour) * time.Hour)
		var occupied []*Appointment
		if len(roomRes) > 0 {
			occupied, err = s.repo.ListBetween(ctx, open, closing, nil)
			if err != nil {
				return nil, err
			}
		}
		for _, p := range practitioners {
			booked, err := s.repo.ListBetween(ctx, open, closing, &p.ID)
			if err != nil {
				return nil, err
			}
			for start := open; !start.Add(slotLen).After(closing); start = start.Add(slotLen) {
				stop := start.Add(slotLen)
				if start.Before(time.Now().UTC()) {
					continue
				}
				free := true
				for _, b := range booked {
					if Overlaps(start, stop, b.Start, b.Stop) {
						free = false
						break
					}
				}
				if free {
					slots = append(slots, Slot{
						Start: start, Stop: stop,
						PractitionerID: p.ID, Practitioner: p.Name,
						RoomID: freeRoom(roomRes, occupied, start, stop),
					})
				}
			}
		}
	}
	return slots, nil
}

// freeRoom returns the treatment room behind the first room resource with no
// booking overlapping [start, stop), or nil when every room is taken.
func freeRoom(rooms []*Resource, booked []*Appointment, start, stop time.Time) *uuid.UUID {
	for _, r := range rooms {
		busy := false
		for _, b := range booked {
			if b.RoomID != nil && *b.RoomID == r.ID && Overlaps(start, stop, b.Start, b.Stop) {
				busy = true
				break
			}
		}
		if !busy {
			return r.RoomID
		}
	}
	return nil
}

// RemindTomorrow logs a reminder for every non-terminal appointment starting
// tomorrow. Row failures are logged, never escalated.
func (s *Service) RemindTomorrow(ctx context.Context) int {
	tomorrow := reqctx.From(ctx).Today().AddDate(0, 0, 1)
	appts, err := s.repo.ListByDay(ctx, tomorrow)
	if err != nil {
		log.Error().Err(err).Msg("reminder scan failed")
		return 0
	}
	sent := 0
	for _, a := range appts {
		if a.Terminal() {
			continue
		}
		log.Info().
			Str("appointment", a.Name).
			Time("start", a.Start).
			Str("status", a.Status).
			Msg("appointment reminder queued")
		sent++
	}
	return sent
}

func (s *Service) Resources(ctx context.Context, resourceType string) ([]*Resource, error) {
	return s.repo.ListResources(ctx, resourceType)
}

func (s *Service) CreateResource(ctx context.Context, res *Resource) error {
	if res.Type != ResourcePractitioner && res.Type != ResourceRoom {
		return fmt.Errorf("resource type must be practitioner or room")
	}
	if res.Type == ResourceRoom && res.RoomID == nil {
		return fmt.Errorf("room resource requires a treatment room")
	}
	res.Active = true
	return s.repo.CreateResource(ctx, res)
}

func (s *Service) Rooms(ctx context.Context) ([]*TreatmentRoom, error) {
	return s.repo.ListRooms(ctx)
}

func (s *Service) CreateRoom(ctx context.Context, room *TreatmentRoom) error {
	if room.Name == "" {
		return fmt.Errorf("room name is required")
	}
	if room.Capacity <= 0 {
		room.Capacity = 1
	}
	room.Active = true
	return s.repo.CreateRoom(ctx, room)
}

func (s *Service) Types(ctx context.Context) ([]*AppointmentType, error) {
	return s.repo.ListTypes(ctx)
}

func (s *Service) CreateType(ctx context.Context, t *AppointmentType) error {
	if t.Name == "" {
		return fmt.Errorf("type name is required")
	}
	if t.DurationMin <= 0 {
		t.DurationMin = s.cfg.DefaultSlotMinutes
	}
	t.Active = true
	return s.repo.CreateType(ctx, t)
}

func (s *Service) slotMinutes(t *AppointmentType) int {
	if t.DurationMin > 0 {
		return t.DurationMin
	}
	return s.cfg.DefaultSlotMinutes
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to string) error {
	moved, err := s.repo.SetStatus(ctx, id, from, to)
	if err != nil {
		return apperr.Wrap(apperr.TransitionFailed, err, "appointment transition %s to %s", from, to)
	}
	if !moved {
		appt, gerr := s.repo.GetByID(ctx, id)
		if gerr != nil {
			return gerr
		}
		return apperr.E(apperr.IllegalTransition, "appointment %s cannot move %s to %s", appt.Name, appt.Status, to)
	}
	s.broadcast.Notify(possync.ModelAppointment, possync.OpUpdate, map[string]interface{}{"id": id, "status": to})
	return nil
}
