package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/possync"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
)

// BillingSpec carries a billable charge into the pending queue.
type BillingSpec struct {
	EncounterID    uuid.UUID
	AppointmentID  *uuid.UUID
	BillingPartyID uuid.UUID
	PatientID      *uuid.UUID
	Product        string
	Qty            float64
	UnitPrice      float64
	DiscountPct    float64
	PractitionerID *uuid.UUID
	CommissionPct  float64
}

// BillingQueue is the pending-item collaborator. The queue owns item state;
// the ledger only asks for counts and cascade cancellation.
type BillingQueue interface {
	Enqueue(ctx context.Context, spec BillingSpec) error
	CountPending(ctx context.Context, encounterID uuid.UUID) (int, error)
	CountBillable(ctx context.Context, encounterID uuid.UUID) (int, error)
	CancelAllPending(ctx context.Context, encounterID uuid.UUID) error
}

// OwnerResolver reports a patient's owner, used for the veterinary
// consistency check on the patient set.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error)
}

type Service struct {
	repo      Repository
	queue     BillingQueue
	seq       sequence.Sequencer
	owners    OwnerResolver
	vetMode   bool
	broadcast possync.Broadcaster
}

func NewService(repo Repository, queue BillingQueue, seq sequence.Sequencer, owners OwnerResolver, vetMode bool, broadcast possync.Broadcaster) *Service {
	if broadcast == nil {
		broadcast = possync.NopBroadcaster{}
	}
	return &Service{repo: repo, queue: queue, seq: seq, owners: owners, vetMode: vetMode, broadcast: broadcast}
}

// FindOrCreate returns the day's encounter for a billing party, creating it
// when absent. Concurrent callers for the same (party, date) all receive the
// same row: the insert races on the unique key and losers re-select the
// winner.
func (s *Service) FindOrCreate(ctx context.Context, billingPartyID uuid.UUID, date time.Time) (*Encounter, error) {
	if billingPartyID == uuid.Nil {
		return nil, apperr.E(apperr.PreconditionMissing, "billing party is required")
	}
	day := Day(date)

	if enc, err := s.repo.GetByPartyDate(ctx, billingPartyID, day); err == nil {
		return enc, nil
	} else if apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	name, err := s.seq.Next(ctx, sequence.CodeEncounter)
	if err != nil {
		return nil, err
	}
	enc := &Encounter{
		Name:           name,
		BillingPartyID: billingPartyID,
		Date:           day,
		State:          StateInProgress,
	}
	inserted, err := s.repo.CreateIfAbsent(ctx, enc)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost the race; the winner's row is the encounter.
		return s.repo.GetByPartyDate(ctx, billingPartyID, day)
	}
	s.broadcast.Notify(possync.ModelEncounter, possync.OpCreate, enc)
	return enc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByParty(ctx context.Context, partyID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByParty(ctx, partyID, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// AttachAppointment appends an appointment to the encounter's day list.
func (s *Service) AttachAppointment(ctx context.Context, encounterID, appointmentID uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, encounterID); err != nil {
		return err
	}
	return s.repo.AttachAppointment(ctx, encounterID, appointmentID)
}

// AddPatient adds a patient to the encounter's set. In veterinary mode every
// patient must belong to the encounter's billing party.
func (s *Service) AddPatient(ctx context.Context, encounterID, patientID uuid.UUID) error {
	enc, err := s.repo.GetByID(ctx, encounterID)
	if err != nil {
		return err
	}
	if s.vetMode && s.owners != nil {
		owner, err := s.owners.OwnerOf(ctx, patientID)
		if err != nil {
			return err
		}
		if owner != nil && *owner != enc.BillingPartyID {
			return fmt.Errorf("patient does not belong to the encounter's billing party")
		}
	}
	return s.repo.AddPatient(ctx, encounterID, patientID)
}

func (s *Service) Patients(ctx context.Context, encounterID uuid.UUID) ([]uuid.UUID, error) {
	return s.repo.ListPatients(ctx, encounterID)
}

// AddServiceLine appends an authoritative clinical line. When billable, the
// charge is also staged on the pending queue in the same transaction.
func (s *Service) AddServiceLine(ctx context.Context, line *ServiceLine, billable bool) error {
	if strings.TrimSpace(line.Product) == "" {
		return fmt.Errorf("product is required")
	}
	if line.Qty <= 0 {
		return fmt.Errorf("qty must be positive")
	}
	enc, err := s.repo.GetByID(ctx, line.EncounterID)
	if err != nil {
		return err
	}
	if enc.State != StateInProgress {
		return apperr.E(apperr.IllegalTransition, "encounter %s is %s, lines can only be added in progress", enc.Name, enc.State)
	}
	if s.vetMode && line.PatientID != nil && s.owners != nil {
		owner, err := s.owners.OwnerOf(ctx, *line.PatientID)
		if err != nil {
			return err
		}
		if owner != nil && *owner != enc.BillingPartyID {
			return fmt.Errorf("patient does not belong to the encounter's billing party")
		}
	}

	if err := s.repo.AddServiceLine(ctx, line); err != nil {
		return err
	}
	if billable && s.queue != nil {
		spec := BillingSpec{
			EncounterID:    enc.ID,
			BillingPartyID: enc.BillingPartyID,
			PatientID:      line.PatientID,
			Product:        line.Product,
			Qty:            line.Qty,
			UnitPrice:      line.UnitPrice,
			DiscountPct:    line.DiscountPct,
			PractitionerID: line.PractitionerID,
			CommissionPct:  line.CommissionPct,
		}
		if err := s.queue.Enqueue(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ServiceLines(ctx context.Context, encounterID uuid.UUID) ([]*ServiceLine, error) {
	return s.repo.ListServiceLines(ctx, encounterID)
}

// UpdateNarrative stores the free-form clinical text fields.
func (s *Service) UpdateNarrative(ctx context.Context, enc *Encounter) error {
	existing, err := s.repo.GetByID(ctx, enc.ID)
	if err != nil {
		return err
	}
	existing.ChiefComplaint = enc.ChiefComplaint
	existing.Subjective = enc.Subjective
	existing.Objective = enc.Objective
	existing.Assessment = enc.Assessment
	existing.Plan = enc.Plan
	existing.Diagnoses = enc.Diagnoses
	existing.Procedures = enc.Procedures
	existing.Prescriptions = enc.Prescriptions
	existing.LabNotes = enc.LabNotes
	existing.RadiologyNotes = enc.RadiologyNotes
	existing.PractitionerID = enc.PractitionerID
	existing.RoomID = enc.RoomID
	if err := s.repo.Update(ctx, existing); err != nil {
		return err
	}
	s.broadcast.Notify(possync.ModelEncounter, possync.OpUpdate, existing)
	return nil
}

// ReadyForBilling checks that the encounter has something to charge. It does
// not advance state; billing advances through the register.
func (s *Service) ReadyForBilling(ctx context.Context, encounterID uuid.UUID) error {
	lines, err := s.repo.CountServiceLines(ctx, encounterID)
	if err != nil {
		return err
	}
	if lines > 0 {
		return nil
	}
	items, err := s.queue.CountBillable(ctx, encounterID)
	if err != nil {
		return err
	}
	if items == 0 {
		return apperr.E(apperr.NoBillableItems, "encounter has no service lines or queued items")
	}
	return nil
}

// Cancel aborts an in-progress encounter and cascades cancellation to its
// still-pending items.
func (s *Service) Cancel(ctx context.Context, encounterID uuid.UUID) error {
	enc, err := s.repo.GetByID(ctx, encounterID)
	if err != nil {
		return err
	}
	if enc.State != StateInProgress {
		return apperr.E(apperr.IllegalTransition, "encounter %s cannot be cancelled from %s", enc.Name, enc.State)
	}
	if err := s.setState(ctx, encounterID, StateInProgress, StateCancelled); err != nil {
		return err
	}
	if s.queue != nil {
		if err := s.queue.CancelAllPending(ctx, encounterID); err != nil {
			return err
		}
	}
	s.broadcast.Notify(possync.ModelEncounter, possync.OpUpdate, map[string]interface{}{"id": encounterID, "state": StateCancelled})
	return nil
}

// MaybeClose advances the encounter to done when no pending item remains.
// The register calls this inside the checkout transaction.
func (s *Service) MaybeClose(ctx context.Context, encounterID uuid.UUID) (bool, error) {
	remaining, err := s.queue.CountPending(ctx, encounterID)
	if err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	moved, err := s.repo.SetState(ctx, encounterID, StateInProgress, StateDone)
	if err != nil {
		return false, err
	}
	if moved {
		s.broadcast.Notify(possync.ModelEncounter, possync.OpUpdate, map[string]interface{}{"id": encounterID, "state": StateDone})
	}
	return moved, nil
}

// Reopen returns a done encounter to in_progress after a refund put items
// back on the queue.
func (s *Service) Reopen(ctx context.Context, encounterID uuid.UUID) error {
	if err := s.setState(ctx, encounterID, StateDone, StateInProgress); err != nil {
		return err
	}
	s.broadcast.Notify(possync.ModelEncounter, possync.OpUpdate, map[string]interface{}{"id": encounterID, "state": StateInProgress})
	return nil
}

// DailySummary aggregates a day's encounters by state.
func (s *Service) DailySummary(ctx context.Context, date time.Time) (*DailySummary, error) {
	encs, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	sum := &DailySummary{Date: Day(date), Total: len(encs)}
	for _, e := range encs {
		switch e.State {
		case StateInProgress:
			sum.InProgress++
		case StateDone:
			sum.Done++
		case StateCancelled:
			sum.Cancelled++
		}
	}
	return sum, nil
}

// setState performs the CAS with a single retry on store errors. A CAS miss
// is not retried; the row genuinely moved.
func (s *Service) setState(ctx context.Context, id uuid.UUID, from, to string) error {
	moved, err := s.repo.SetState(ctx, id, from, to)
	if err != nil {
		log.Warn().Err(err).Str("encounter_id", id.String()).Msg("state write failed, retrying once")
		moved, err = s.repo.SetState(ctx, id, from, to)
	}
	if err != nil {
		return apperr.Wrap(apperr.TransitionFailed, err, "encounter transition %s to %s", from, to)
	}
	if !moved {
		return apperr.E(apperr.IllegalTransition, "encounter is not %s", from)
	}
	return nil
}
