package main

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vetbridge/vetbridge/internal/domain/commission"
	"github.com/vetbridge/vetbridge/internal/domain/encounter"
	"github.com/vetbridge/vetbridge/internal/domain/party"
	"github.com/vetbridge/vetbridge/internal/domain/pending"
	"github.com/vetbridge/vetbridge/internal/domain/pos"
	"github.com/vetbridge/vetbridge/internal/domain/remoteapi"
	"github.com/vetbridge/vetbridge/internal/domain/scheduling"
)

// OwnerResolverAdapter answers owner lookups from the party registry. The
// scheduling, encounter, and pending packages each declare their own
// OwnerResolver interface with the same shape; one adapter serves all three.
type OwnerResolverAdapter struct {
	parties *party.Service
}

func (a *OwnerResolverAdapter) OwnerOf(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error) {
	p, err := a.parties.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return p.OwnerID, nil
}

// BillingQueueAdapter feeds encounter service lines into the pending item
// queue, keeping the encounter package free of a pending import.
type BillingQueueAdapter struct {
	queue *pending.Service
}

func (a *BillingQueueAdapter) Enqueue(ctx context.Context, spec encounter.BillingSpec) error {
	return a.queue.Enqueue(ctx, &pending.Item{
		EncounterID:    spec.EncounterID,
		AppointmentID:  spec.AppointmentID,
		BillingPartyID: spec.BillingPartyID,
		PatientID:      spec.PatientID,
		Product:        spec.Product,
		Qty:            spec.Qty,
		UnitPrice:      spec.UnitPrice,
		DiscountPct:    spec.DiscountPct,
		PractitionerID: spec.PractitionerID,
		CommissionPct:  spec.CommissionPct,
	})
}

func (a *BillingQueueAdapter) CountPending(ctx context.Context, encounterID uuid.UUID) (int, error) {
	return a.queue.CountPending(ctx, encounterID)
}

func (a *BillingQueueAdapter) CountBillable(ctx context.Context, encounterID uuid.UUID) (int, error) {
	return a.queue.CountBillable(ctx, encounterID)
}

func (a *BillingQueueAdapter) CancelAllPending(ctx context.Context, encounterID uuid.UUID) error {
	return a.queue.CancelAllPending(ctx, encounterID)
}

// EncounterLedgerAdapter exposes the daily encounter ledger to the
// scheduler, which only ever handles encounter IDs.
type EncounterLedgerAdapter struct {
	encounters *encounter.Service
}

func (a *EncounterLedgerAdapter) FindOrCreate(ctx context.Context, billingPartyID uuid.UUID, date time.Time) (uuid.UUID, error) {
	enc, err := a.encounters.FindOrCreate(ctx, billingPartyID, date)
	if err != nil {
		return uuid.Nil, err
	}
	return enc.ID, nil
}

func (a *EncounterLedgerAdapter) AttachAppointment(ctx context.Context, encounterID, appointmentID uuid.UUID) error {
	return a.encounters.AttachAppointment(ctx, encounterID, appointmentID)
}

func (a *EncounterLedgerAdapter) AddPatient(ctx context.Context, encounterID, patientID uuid.UUID) error {
	return a.encounters.AddPatient(ctx, encounterID, patientID)
}

func (a *EncounterLedgerAdapter) ReadyForBilling(ctx context.Context, encounterID uuid.UUID) error {
	return a.encounters.ReadyForBilling(ctx, encounterID)
}

func (a *EncounterLedgerAdapter) Cancel(ctx context.Context, encounterID uuid.UUID) error {
	return a.encounters.Cancel(ctx, encounterID)
}

// WalkinMinterAdapter mints anonymous walk-in parties for the scheduler.
type WalkinMinterAdapter struct {
	parties *party.Service
}

func (a *WalkinMinterAdapter) FindOrCreateWalkin(ctx context.Context, date time.Time) (uuid.UUID, error) {
	p, err := a.parties.FindOrCreateWalkin(ctx, date)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// PosQueueAdapter narrows pending items to the slice the register bridge
// needs.
type PosQueueAdapter struct {
	queue *pending.Service
}

func (a *PosQueueAdapter) Lookup(ctx context.Context, id uuid.UUID) (*pos.QueueItem, error) {
	item, err := a.queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &pos.QueueItem{ID: item.ID, EncounterID: item.EncounterID, State: item.State}, nil
}

func (a *PosQueueAdapter) MarkProcessed(ctx context.Context, id, posLineID uuid.UUID) error {
	return a.queue.MarkProcessed(ctx, id, posLineID)
}

func (a *PosQueueAdapter) ResetFromRefund(ctx context.Context, id uuid.UUID) error {
	return a.queue.ResetFromRefund(ctx, id)
}

// CommissionLedgerAdapter posts register accruals into the commission
// ledger.
type CommissionLedgerAdapter struct {
	commissions *commission.Service
}

func (a *CommissionLedgerAdapter) Accrue(ctx context.Context, acc pos.CommissionAccrual) error {
	_, err := a.commissions.Accrue(ctx, &commission.Line{
		PosLineID:     acc.PosLineID,
		PosOrderID:    acc.PosOrderID,
		SessionRef:    acc.SessionRef,
		Product:       acc.Product,
		ProviderID:    acc.ProviderID,
		PatientID:     acc.PatientID,
		RatePct:       acc.RatePct,
		Base:          acc.Base,
		EffectiveDate: acc.EffectiveDate,
	})
	return err
}

func (a *CommissionLedgerAdapter) CancelForLine(ctx context.Context, posLineID uuid.UUID) (bool, error) {
	_, moved, err := a.commissions.CancelForLine(ctx, posLineID)
	return moved, err
}

// RemoteSchedulerAdapter backs the public booking surface with the internal
// scheduler. Slot practitioner and room names are resolved here so the
// handler stays presentation-only.
type RemoteSchedulerAdapter struct {
	sched   *scheduling.Service
	parties *party.Service
}

func (a *RemoteSchedulerAdapter) AvailableSlots(ctx context.Context, typeID uuid.UUID, dateFrom, dateTo time.Time, practitionerID *uuid.UUID) ([]remoteapi.Slot, error) {
	slots, err := a.sched.AvailableSlots(ctx, typeID, dateFrom, dateTo, practitionerID)
	if err != nil {
		return nil, err
	}
	roomNames := map[uuid.UUID]string{}
	if rooms, err := a.sched.Rooms(ctx); err == nil {
		for _, r := range rooms {
			roomNames[r.ID] = r.Name
		}
	}
	out := make([]remoteapi.Slot, 0, len(slots))
	for _, s := range slots {
		slot := remoteapi.Slot{Start: s.Start, Stop: s.Stop, Practitioner: s.Practitioner}
		if s.RoomID != nil {
			slot.Location = roomNames[*s.RoomID]
		}
		out = append(out, slot)
	}
	return out, nil
}

func (a *RemoteSchedulerAdapter) Book(ctx context.Context, params remoteapi.BookParams) (*remoteapi.Booked, error) {
	req := scheduling.BookRequest{
		TypeID:         params.TypeID,
		PractitionerID: params.PractitionerID,
		RoomID:         params.RoomID,
		PatientIDs:     params.PetIDs,
		Start:          params.Start,
		Stop:           &params.Stop,
	}
	if params.Reason != "" {
		req.Reason = &params.Reason
	}
	// The owner of the first pet pays. Pets without a registered owner are
	// billed directly.
	if len(params.PetIDs) > 0 {
		billing := params.PetIDs[0]
		if p, err := a.parties.Get(ctx, params.PetIDs[0]); err == nil && p.OwnerID != nil {
			billing = *p.OwnerID
		}
		req.BillingPartyID = &billing
	}
	appt, err := a.sched.Book(ctx, req)
	if err != nil {
		return nil, err
	}
	return &remoteapi.Booked{ID: appt.ID, Name: appt.Name, Status: appt.Status}, nil
}

// RemoteHistoryAdapter assembles a pet's profile and visit history for the
// owner-facing API.
type RemoteHistoryAdapter struct {
	parties    *party.Service
	encounters *encounter.Service
}

func (a *RemoteHistoryAdapter) PetHistory(ctx context.Context, petID uuid.UUID) (*remoteapi.PetSummary, []remoteapi.VisitSummary, error) {
	p, err := a.parties.Get(ctx, petID)
	if err != nil {
		return nil, nil, err
	}
	pet := &remoteapi.PetSummary{ID: p.ID, Name: p.Name}
	if p.Species != nil {
		pet.Species = *p.Species
	}
	if p.Breed != nil {
		pet.Breed = *p.Breed
	}

	encounters, _, err := a.encounters.ListByPatient(ctx, petID, 100, 0)
	if err != nil {
		return nil, nil, err
	}
	visits := make([]remoteapi.VisitSummary, 0, len(encounters))
	for _, e := range encounters {
		visits = append(visits, remoteapi.VisitSummary{
			Name:           e.Name,
			DateStart:      e.Date,
			PractitionerID: e.PractitionerID,
			State:          e.State,
			ChiefComplaint: e.ChiefComplaint,
			Diagnosis:      e.Diagnoses,
			Plan:           e.Plan,
		})
	}
	return pet, visits, nil
}

// RemotePendingAdapter serves an owner's outstanding balance.
type RemotePendingAdapter struct {
	queue *pending.Service
}

func (a *RemotePendingAdapter) OwnerStatement(ctx context.Context, ownerID uuid.UUID) ([]remoteapi.PendingLine, float64, error) {
	items, total, err := a.queue.OwnerStatement(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	lines := make([]remoteapi.PendingLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, remoteapi.PendingLine{
			Product:  it.Product,
			Qty:      it.Qty,
			Subtotal: it.Subtotal(),
			State:    it.State,
		})
	}
	return lines, total, nil
}

// snapshotSource adapts any list call into a terminal data-load source by
// round-tripping the records through JSON.
func snapshotSource(model string, list func(ctx context.Context) (interface{}, error)) pos.SourceFunc {
	return func(ctx context.Context) (*pos.Snapshot, error) {
		records, err := list(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := snapshotRows(records)
		if err != nil {
			return nil, err
		}
		return &pos.Snapshot{Domain: model, Fields: snapshotFields(rows), Rows: rows}, nil
	}
}

func snapshotRows(records interface{}) ([]map[string]interface{}, error) {
	data, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func snapshotFields(rows []map[string]interface{}) []string {
	if len(rows) == 0 {
		return []string{}
	}
	fields := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
