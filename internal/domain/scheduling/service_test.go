package scheduling

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
)

type mockRepo struct {
	resources map[uuid.UUID]*Resource
	rooms     map[uuid.UUID]*TreatmentRoom
	types     map[uuid.UUID]*AppointmentType
	appts     map[uuid.UUID]*Appointment
	seq       int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		resources: make(map[uuid.UUID]*Resource),
		rooms:     make(map[uuid.UUID]*TreatmentRoom),
		types:     make(map[uuid.UUID]*AppointmentType),
		appts:     make(map[uuid.UUID]*Appointment),
	}
}

func (m *mockRepo) CreateResource(ctx context.Context, res *Resource) error {
	res.ID = uuid.New()
	m.resources[res.ID] = res
	return nil
}

func (m *mockRepo) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	r, ok := m.resources[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "resource not found")
	}
	return r, nil
}

func (m *mockRepo) ListResources(ctx context.Context, resourceType string) ([]*Resource, error) {
	var out []*Resource
	for _, r := range m.resources {
		if r.Active && (resourceType == "" || r.Type == resourceType) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepo) CreateRoom(ctx context.Context, room *TreatmentRoom) error {
	room.ID = uuid.New()
	m.rooms[room.ID] = room
	return nil
}

func (m *mockRepo) GetRoom(ctx context.Context, id uuid.UUID) (*TreatmentRoom, error) {
	r, ok := m.rooms[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "treatment room not found")
	}
	return r, nil
}

func (m *mockRepo) ListRooms(ctx context.Context) ([]*TreatmentRoom, error) {
	var out []*TreatmentRoom
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRepo) CreateType(ctx context.Context, t *AppointmentType) error {
	t.ID = uuid.New()
	m.types[t.ID] = t
	return nil
}

func (m *mockRepo) GetType(ctx context.Context, id uuid.UUID) (*AppointmentType, error) {
	t, ok := m.types[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "appointment type not found")
	}
	return t, nil
}

func (m *mockRepo) ListTypes(ctx context.Context) ([]*AppointmentType, error) {
	var out []*AppointmentType
	for _, t := range m.types {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockRepo) Create(ctx context.Context, appt *Appointment) error {
	appt.ID = uuid.New()
	m.seq++
	appt.CreatedAt = time.Unix(int64(m.seq), 0)
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) Update(ctx context.Context, appt *Appointment) error {
	existing, ok := m.appts[appt.ID]
	if !ok {
		return apperr.E(apperr.NotFound, "appointment not found")
	}
	status, enc := existing.Status, existing.EncounterID
	cp := *appt
	cp.Status, cp.EncounterID = status, enc
	m.appts[appt.ID] = &cp
	return nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for _, a := range m.appts {
		cp := *a
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByDay(ctx context.Context, day time.Time) ([]*Appointment, error) {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)
	var out []*Appointment
	for _, a := range m.appts {
		if !a.Start.Before(from) && a.Start.Before(to) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListBetween(ctx context.Context, start, stop time.Time, practitionerID *uuid.UUID) ([]*Appointment, error) {
	var out []*Appointment
	for _, a := range m.appts {
		if a.Status == StatusCancelledByPatient || a.Status == StatusCancelledByClinic {
			continue
		}
		if practitionerID != nil && a.PractitionerID != *practitionerID {
			continue
		}
		if Overlaps(start, stop, a.Start, a.Stop) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) SetStatus(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (m *mockRepo) SetEncounter(ctx context.Context, id uuid.UUID, encounterID *uuid.UUID) error {
	a, ok := m.appts[id]
	if !ok {
		return apperr.E(apperr.NotFound, "appointment not found")
	}
	a.EncounterID = encounterID
	return nil
}

func (m *mockRepo) FindRoomConflict(ctx context.Context, roomID uuid.UUID, start, stop time.Time, exclude uuid.UUID) (*Appointment, error) {
	var conflict *Appointment
	for _, a := range m.appts {
		if a.ID == exclude || a.RoomID == nil || *a.RoomID != roomID {
			continue
		}
		if a.Status == StatusCancelledByPatient || a.Status == StatusCancelledByClinic {
			continue
		}
		if Overlaps(start, stop, a.Start, a.Stop) {
			if conflict == nil || a.CreatedAt.Before(conflict.CreatedAt) {
				cp := *a
				conflict = &cp
			}
		}
	}
	return conflict, nil
}

type mockLedger struct {
	encounters map[uuid.UUID]string // state by encounter id
	byParty    map[uuid.UUID]uuid.UUID
	patients   map[uuid.UUID][]uuid.UUID
	attached   map[uuid.UUID][]uuid.UUID
	billable   map[uuid.UUID]bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		encounters: make(map[uuid.UUID]string),
		byParty:    make(map[uuid.UUID]uuid.UUID),
		patients:   make(map[uuid.UUID][]uuid.UUID),
		attached:   make(map[uuid.UUID][]uuid.UUID),
		billable:   make(map[uuid.UUID]bool),
	}
}

func (m *mockLedger) FindOrCreate(ctx context.Context, partyID uuid.UUID, date time.Time) (uuid.UUID, error) {
	if id, ok := m.byParty[partyID]; ok {
		return id, nil
	}
	id := uuid.New()
	m.encounters[id] = "in_progress"
	m.byParty[partyID] = id
	return id, nil
}

func (m *mockLedger) AttachAppointment(ctx context.Context, encounterID, appointmentID uuid.UUID) error {
	m.attached[encounterID] = append(m.attached[encounterID], appointmentID)
	return nil
}

func (m *mockLedger) AddPatient(ctx context.Context, encounterID, patientID uuid.UUID) error {
	m.patients[encounterID] = append(m.patients[encounterID], patientID)
	return nil
}

func (m *mockLedger) ReadyForBilling(ctx context.Context, encounterID uuid.UUID) error {
	if !m.billable[encounterID] {
		return apperr.E(apperr.NoBillableItems, "encounter has no service lines or queued items")
	}
	return nil
}

func (m *mockLedger) Cancel(ctx context.Context, encounterID uuid.UUID) error {
	if m.encounters[encounterID] != "in_progress" {
		return apperr.E(apperr.IllegalTransition, "encounter cannot be cancelled")
	}
	m.encounters[encounterID] = "cancelled"
	return nil
}

type mockMinter struct {
	n int
}

func (m *mockMinter) FindOrCreateWalkin(ctx context.Context, date time.Time) (uuid.UUID, error) {
	m.n++
	return uuid.New(), nil
}

type fixture struct {
	repo   *mockRepo
	ledger *mockLedger
	minter *mockMinter
	svc    *Service

	typeID       uuid.UUID
	practitioner uuid.UUID
	room         uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMockRepo()
	ledger := newMockLedger()
	minter := &mockMinter{}
	seq := sequence.NewMemory()
	seq.Define(sequence.CodeAppointment, "APT", 5)

	svc := NewService(repo, ledger, minter, nil, seq, nil,
		Config{DefaultSlotMinutes: 30, OpenHour: 9, CloseHour: 17}, nil)

	apptType := &AppointmentType{Name: "Consultation", DurationMin: 30, Active: true}
	if err := repo.CreateType(context.Background(), apptType); err != nil {
		t.Fatalf("seed type: %v", err)
	}
	practitioner := &Resource{Name: "Dr. Salma", Type: ResourcePractitioner, Active: true}
	if err := repo.CreateResource(context.Background(), practitioner); err != nil {
		t.Fatalf("seed practitioner: %v", err)
	}
	roomRec := &TreatmentRoom{Name: "Room 1", Capacity: 1, Active: true}
	if err := repo.CreateRoom(context.Background(), roomRec); err != nil {
		t.Fatalf("seed room record: %v", err)
	}
	room := &Resource{Name: "Room 1", Type: ResourceRoom, RoomID: &roomRec.ID, Active: true}
	if err := repo.CreateResource(context.Background(), room); err != nil {
		t.Fatalf("seed room resource: %v", err)
	}

	return &fixture{
		repo: repo, ledger: ledger, minter: minter, svc: svc,
		typeID: apptType.ID, practitioner: practitioner.ID, room: room.ID,
	}
}

func (f *fixture) book(t *testing.T, mut func(*BookRequest)) *Appointment {
	t.Helper()
	party := uuid.New()
	req := BookRequest{
		TypeID:         f.typeID,
		PractitionerID: f.practitioner,
		PatientIDs:     []uuid.UUID{uuid.New()},
		BillingPartyID: &party,
		Start:          time.Date(2027, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	if mut != nil {
		mut(&req)
	}
	appt, err := f.svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return appt
}

func TestBook_Defaults(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, nil)

	if appt.Status != StatusDraft {
		t.Errorf("status = %s, want draft", appt.Status)
	}
	if appt.Name != "APT00001" {
		t.Errorf("name = %s, want APT00001", appt.Name)
	}
	if got := appt.Stop.Sub(appt.Start); got != 30*time.Minute {
		t.Errorf("duration = %v, want 30m", got)
	}
}

func TestBook_WalkinMintsParty(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, func(r *BookRequest) {
		r.PatientIDs = nil
		r.BillingPartyID = nil
		r.WalkIn = true
	})

	if f.minter.n != 1 {
		t.Fatalf("minted = %d, want 1", f.minter.n)
	}
	if len(appt.PatientIDs) != 1 {
		t.Fatalf("patients = %d, want 1", len(appt.PatientIDs))
	}
	if appt.BillingPartyID == nil || *appt.BillingPartyID != appt.PatientIDs[0] {
		t.Errorf("walk-in party must be its own billing party")
	}
}

func TestBook_RoomCollision(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2027, 4, 1, 10, 0, 0, 0, time.UTC)

	f.book(t, func(r *BookRequest) {
		r.RoomID = &f.room
		r.Start = start
	})

	// Overlapping half-open interval on the same room.
	halfPast := start.Add(30 * time.Minute)
	stop := halfPast.Add(time.Hour)
	party := uuid.New()
	_, err := f.svc.Book(context.Background(), BookRequest{
		TypeID:         f.typeID,
		PractitionerID: f.practitioner,
		RoomID:         &f.room,
		PatientIDs:     []uuid.UUID{uuid.New()},
		BillingPartyID: &party,
		Start:          start.Add(-30 * time.Minute),
		Stop:           &stop,
	})
	if apperr.KindOf(err) != apperr.ResourceBusy {
		t.Errorf("err = %v, want ResourceBusy", err)
	}

	// Back-to-back is fine: [10:00,10:30) then [10:30,11:00).
	f.book(t, func(r *BookRequest) {
		r.RoomID = &f.room
		r.Start = halfPast
	})
}

func TestBook_PractitionerOverlapAllowed(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2027, 4, 1, 10, 0, 0, 0, time.UTC)
	f.book(t, func(r *BookRequest) { r.Start = start })
	f.book(t, func(r *BookRequest) { r.Start = start })
}

func TestCheckIn_MaterialisesEncounter(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, nil)

	if err := f.svc.CheckIn(context.Background(), appt.ID); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	got, _ := f.repo.GetByID(context.Background(), appt.ID)
	if got.Status != StatusCheckedIn {
		t.Errorf("status = %s, want checked_in", got.Status)
	}
	if got.EncounterID == nil {
		t.Fatal("encounter not bound")
	}
	if got.CheckedInAt == nil {
		t.Error("check-in timestamp missing")
	}
	if len(f.ledger.attached[*got.EncounterID]) != 1 {
		t.Errorf("appointments attached = %d, want 1", len(f.ledger.attached[*got.EncounterID]))
	}
	if len(f.ledger.patients[*got.EncounterID]) != 1 {
		t.Errorf("patients forwarded = %d, want 1", len(f.ledger.patients[*got.EncounterID]))
	}
}

func TestCheckIn_RebindsSameDayEncounter(t *testing.T) {
	f := newFixture(t)
	party := uuid.New()
	a := f.book(t, func(r *BookRequest) { r.BillingPartyID = &party })
	b := f.book(t, func(r *BookRequest) { r.BillingPartyID = &party })

	if err := f.svc.CheckIn(context.Background(), a.ID); err != nil {
		t.Fatalf("check-in a: %v", err)
	}
	if err := f.svc.CheckIn(context.Background(), b.ID); err != nil {
		t.Fatalf("check-in b: %v", err)
	}

	ga, _ := f.repo.GetByID(context.Background(), a.ID)
	gb, _ := f.repo.GetByID(context.Background(), b.ID)
	if *ga.EncounterID != *gb.EncounterID {
		t.Error("same party on the same day must share one encounter")
	}
}

func TestCheckIn_Preconditions(t *testing.T) {
	f := newFixture(t)

	appt := f.book(t, func(r *BookRequest) { r.BillingPartyID = nil })
	err := f.svc.CheckIn(context.Background(), appt.ID)
	if apperr.KindOf(err) != apperr.PreconditionMissing {
		t.Errorf("no billing party err = %v, want PreconditionMissing", err)
	}

	done := f.book(t, nil)
	if err := f.svc.CheckIn(context.Background(), done.ID); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	err = f.svc.CheckIn(context.Background(), done.ID)
	if apperr.KindOf(err) != apperr.IllegalTransition {
		t.Errorf("double check-in err = %v, want IllegalTransition", err)
	}
}

func TestComplete_NoBillableItems(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, nil)
	if err := f.svc.CheckIn(context.Background(), appt.ID); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	err := f.svc.Complete(context.Background(), appt.ID)
	if apperr.KindOf(err) != apperr.NoBillableItems {
		t.Errorf("err = %v, want NoBillableItems", err)
	}

	got, _ := f.repo.GetByID(context.Background(), appt.ID)
	f.ledger.billable[*got.EncounterID] = true
	if err := f.svc.Complete(context.Background(), appt.ID); err != nil {
		t.Fatalf("complete with billables: %v", err)
	}
	got, _ = f.repo.GetByID(context.Background(), appt.ID)
	if got.Status != StatusCompleted || got.CheckedOutAt == nil {
		t.Errorf("status = %s, checked out = %v", got.Status, got.CheckedOutAt)
	}
}

func TestLifecycle_FullPath(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, nil)

	steps := []struct {
		name string
		fn   func(context.Context, uuid.UUID) error
		want string
	}{
		{"confirm", f.svc.Confirm, StatusConfirmed},
		{"check-in", f.svc.CheckIn, StatusCheckedIn},
		{"start", f.svc.Start, StatusInProgress},
	}
	for _, step := range steps {
		if err := step.fn(context.Background(), appt.ID); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		got, _ := f.repo.GetByID(context.Background(), appt.ID)
		if got.Status != step.want {
			t.Fatalf("%s: status = %s, want %s", step.name, got.Status, step.want)
		}
	}

	got, _ := f.repo.GetByID(context.Background(), appt.ID)
	f.ledger.billable[*got.EncounterID] = true
	if err := f.svc.Complete(context.Background(), appt.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := f.svc.MarkBilled(context.Background(), appt.ID); err != nil {
		t.Fatalf("billed: %v", err)
	}

	err := f.svc.Start(context.Background(), appt.ID)
	if apperr.KindOf(err) != apperr.IllegalTransition {
		t.Errorf("start billed err = %v, want IllegalTransition", err)
	}
}

func TestCancel_BlameAndEncounterCascade(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, nil)
	if err := f.svc.CheckIn(context.Background(), appt.ID); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	if err := f.svc.Cancel(context.Background(), appt.ID, "owner called", BlamePatient); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), appt.ID)
	if got.Status != StatusCancelledByPatient {
		t.Errorf("status = %s, want cancelled_by_patient", got.Status)
	}
	if got.CancellationReason == nil || *got.CancellationReason != "owner called" {
		t.Errorf("reason = %v", got.CancellationReason)
	}
	if f.ledger.encounters[*got.EncounterID] != "cancelled" {
		t.Errorf("encounter state = %s, want cancelled", f.ledger.encounters[*got.EncounterID])
	}

	err := f.svc.Cancel(context.Background(), appt.ID, "again", BlameClinic)
	if apperr.KindOf(err) != apperr.IllegalTransition {
		t.Errorf("cancel terminal err = %v, want IllegalTransition", err)
	}
}

func TestMarkNoShow(t *testing.T) {
	f := newFixture(t)
	appt := f.book(t, nil)

	if err := f.svc.MarkNoShow(context.Background(), appt.ID, "never arrived"); err != nil {
		t.Fatalf("no-show: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), appt.ID)
	if got.Status != StatusNoShow {
		t.Errorf("status = %s, want no_show", got.Status)
	}
}

func TestAvailableSlots_SkipsBooked(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC)

	f.book(t, func(r *BookRequest) {
		r.Start = day.Add(10 * time.Hour) // 10:00 to 10:30
	})

	slots, err := f.svc.AvailableSlots(context.Background(), f.typeID, day, day, &f.practitioner)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	// 9:00 to 17:00 in 30 minute steps is 16 slots, one taken.
	if len(slots) != 15 {
		t.Errorf("slots = %d, want 15", len(slots))
	}
	for _, s := range slots {
		if s.Start.Equal(day.Add(10 * time.Hour)) {
			t.Errorf("booked slot offered at %v", s.Start)
		}
	}
}

func TestAvailableSlots_AssignsFreeRoom(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC)
	tenAM := day.Add(10 * time.Hour)

	// The only room is taken at 10:00 by another practitioner.
	other := &Resource{Name: "Dr. Omar", Type: ResourcePractitioner, Active: true}
	if err := f.repo.CreateResource(context.Background(), other); err != nil {
		t.Fatalf("seed practitioner: %v", err)
	}
	f.book(t, func(r *BookRequest) {
		r.PractitionerID = other.ID
		r.RoomID = &f.room
		r.Start = tenAM
	})

	roomResource, err := f.repo.GetResource(context.Background(), f.room)
	if err != nil {
		t.Fatalf("room resource: %v", err)
	}
	treatmentRoom := *roomResource.RoomID

	slots, err := f.svc.AvailableSlots(context.Background(), f.typeID, day, day, &f.practitioner)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected open slots")
	}
	for _, s := range slots {
		if s.Start.Equal(tenAM) {
			if s.RoomID != nil {
				t.Errorf("slot at %v offers an occupied room", s.Start)
			}
			continue
		}
		if s.RoomID == nil || *s.RoomID != treatmentRoom {
			t.Errorf("slot at %v has room %v, want %v", s.Start, s.RoomID, treatmentRoom)
		}
	}
}

func TestRemindTomorrow(t *testing.T) {
	f := newFixture(t)
	tomorrow := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)

	f.book(t, func(r *BookRequest) { r.Start = tomorrow.Add(10 * time.Hour) })
	skipped := f.book(t, func(r *BookRequest) { r.Start = tomorrow.Add(11 * time.Hour) })
	if err := f.svc.Cancel(context.Background(), skipped.ID, "", BlameClinic); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.book(t, func(r *BookRequest) { r.Start = tomorrow.Add(48 * time.Hour) })

	if sent := f.svc.RemindTomorrow(context.Background()); sent != 1 {
		t.Errorf("reminders = %d, want 1", sent)
	}
}
