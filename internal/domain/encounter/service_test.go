package encounter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
)

type partyDateKey struct {
	party uuid.UUID
	date  time.Time
}

type mockRepo struct {
	mu         sync.Mutex
	encounters map[uuid.UUID]*Encounter
	byKey      map[partyDateKey]uuid.UUID
	lines      map[uuid.UUID][]*ServiceLine
	patients   map[uuid.UUID][]uuid.UUID
	appts      map[uuid.UUID][]uuid.UUID
	failStates int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		encounters: make(map[uuid.UUID]*Encounter),
		byKey:      make(map[partyDateKey]uuid.UUID),
		lines:      make(map[uuid.UUID][]*ServiceLine),
		patients:   make(map[uuid.UUID][]uuid.UUID),
		appts:      make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockRepo) CreateIfAbsent(ctx context.Context, enc *Encounter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := partyDateKey{enc.BillingPartyID, Day(enc.Date)}
	if _, exists := m.byKey[key]; exists {
		return false, nil
	}
	enc.ID = uuid.New()
	cp := *enc
	m.encounters[enc.ID] = &cp
	m.byKey[key] = enc.ID
	return true, nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enc, ok := m.encounters[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "encounter not found")
	}
	cp := *enc
	return &cp, nil
}

func (m *mockRepo) GetByPartyDate(ctx context.Context, partyID uuid.UUID, date time.Time) (*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[partyDateKey{partyID, Day(date)}]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "encounter not found")
	}
	cp := *m.encounters[id]
	return &cp, nil
}

func (m *mockRepo) Update(ctx context.Context, enc *Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.encounters[enc.ID]
	if !ok {
		return apperr.E(apperr.NotFound, "encounter not found")
	}
	state := existing.State
	cp := *enc
	cp.State = state
	m.encounters[enc.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.encounters, id)
	return nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Encounter
	for _, e := range m.encounters {
		cp := *e
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByParty(ctx context.Context, partyID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Encounter
	for _, e := range m.encounters {
		if e.BillingPartyID == partyID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Encounter, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Encounter
	for encID, pats := range m.patients {
		for _, p := range pats {
			if p == patientID {
				cp := *m.encounters[encID]
				out = append(out, &cp)
			}
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListByDate(ctx context.Context, date time.Time) ([]*Encounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Encounter
	for _, e := range m.encounters {
		if Day(e.Date).Equal(Day(date)) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockRepo) SetState(ctx context.Context, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStates > 0 {
		m.failStates--
		return false, context.DeadlineExceeded
	}
	enc, ok := m.encounters[id]
	if !ok || enc.State != from {
		return false, nil
	}
	enc.State = to
	return true, nil
}

func (m *mockRepo) AddPatient(ctx context.Context, encounterID, patientID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients[encounterID] {
		if p == patientID {
			return nil
		}
	}
	m.patients[encounterID] = append(m.patients[encounterID], patientID)
	return nil
}

func (m *mockRepo) ListPatients(ctx context.Context, encounterID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.patients[encounterID]...), nil
}

func (m *mockRepo) AttachAppointment(ctx context.Context, encounterID, appointmentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appts[encounterID] = append(m.appts[encounterID], appointmentID)
	return nil
}

func (m *mockRepo) ListAppointments(ctx context.Context, encounterID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.appts[encounterID]...), nil
}

func (m *mockRepo) AddServiceLine(ctx context.Context, line *ServiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	line.ID = uuid.New()
	cp := *line
	m.lines[line.EncounterID] = append(m.lines[line.EncounterID], &cp)
	return nil
}

func (m *mockRepo) ListServiceLines(ctx context.Context, encounterID uuid.UUID) ([]*ServiceLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ServiceLine(nil), m.lines[encounterID]...), nil
}

func (m *mockRepo) CountServiceLines(ctx context.Context, encounterID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines[encounterID]), nil
}

type mockQueue struct {
	mu        sync.Mutex
	enqueued  []BillingSpec
	pending   map[uuid.UUID]int
	billable  map[uuid.UUID]int
	cancelled []uuid.UUID
}

func newMockQueue() *mockQueue {
	return &mockQueue{pending: make(map[uuid.UUID]int), billable: make(map[uuid.UUID]int)}
}

func (m *mockQueue) Enqueue(ctx context.Context, spec BillingSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, spec)
	m.pending[spec.EncounterID]++
	m.billable[spec.EncounterID]++
	return nil
}

func (m *mockQueue) CountPending(ctx context.Context, encounterID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[encounterID], nil
}

func (m *mockQueue) CountBillable(ctx context.Context, encounterID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.billable[encounterID], nil
}

func (m *mockQueue) CancelAllPending(ctx context.Context, encounterID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, encounterID)
	m.pending[encounterID] = 0
	return nil
}

type mockOwners struct {
	owners map[uuid.UUID]uuid.UUID
}

func (m *mockOwners) OwnerOf(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error) {
	if o, ok := m.owners[patientID]; ok {
		return &o, nil
	}
	return nil, nil
}

func newTestService(repo *mockRepo, queue *mockQueue) *Service {
	seq := sequence.NewMemory()
	seq.Define(sequence.CodeEncounter, "ENC", 5)
	return NewService(repo, queue, seq, nil, false, nil)
}

func TestFindOrCreate_Idempotent(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockQueue())
	party := uuid.New()
	date := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	first, err := svc.FindOrCreate(context.Background(), party, date)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Name != "ENC00001" {
		t.Errorf("name = %s, want ENC00001", first.Name)
	}
	if first.State != StateInProgress {
		t.Errorf("state = %s, want in_progress", first.State)
	}

	// Same party and day, different wall-clock time.
	second, err := svc.FindOrCreate(context.Background(), party, date.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second call returned a different encounter")
	}
	if len(repo.encounters) != 1 {
		t.Errorf("rows = %d, want 1", len(repo.encounters))
	}
}

func TestFindOrCreate_Concurrent(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockQueue())
	party := uuid.New()
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	const n = 20
	ids := make(chan uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			enc, err := svc.FindOrCreate(context.Background(), party, date)
			if err != nil {
				t.Errorf("concurrent find-or-create: %v", err)
				return
			}
			ids <- enc.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Errorf("distinct encounter ids = %d, want 1", len(seen))
	}
	if len(repo.encounters) != 1 {
		t.Errorf("rows = %d, want 1", len(repo.encounters))
	}
}

func TestFindOrCreate_RequiresParty(t *testing.T) {
	svc := newTestService(newMockRepo(), newMockQueue())
	_, err := svc.FindOrCreate(context.Background(), uuid.Nil, time.Now())
	if apperr.KindOf(err) != apperr.PreconditionMissing {
		t.Errorf("err = %v, want PreconditionMissing", err)
	}
}

func TestAddServiceLine_EnqueuesBilling(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)
	party := uuid.New()

	enc, err := svc.FindOrCreate(context.Background(), party, time.Now())
	if err != nil {
		t.Fatalf("find-or-create: %v", err)
	}

	line := &ServiceLine{EncounterID: enc.ID, Product: "Vaccination", Qty: 1, UnitPrice: 200}
	if err := svc.AddServiceLine(context.Background(), line, true); err != nil {
		t.Fatalf("add line: %v", err)
	}

	if n, _ := repo.CountServiceLines(context.Background(), enc.ID); n != 1 {
		t.Errorf("service lines = %d, want 1", n)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(queue.enqueued))
	}
	spec := queue.enqueued[0]
	if spec.BillingPartyID != party || spec.Product != "Vaccination" || spec.UnitPrice != 200 {
		t.Errorf("queued spec = %+v", spec)
	}

	// Re-running find-or-create must not duplicate the line.
	again, _ := svc.FindOrCreate(context.Background(), party, time.Now())
	if n, _ := repo.CountServiceLines(context.Background(), again.ID); n != 1 {
		t.Errorf("service lines after re-find = %d, want 1", n)
	}
}

func TestAddServiceLine_NonBillableSkipsQueue(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)

	enc, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())
	line := &ServiceLine{EncounterID: enc.ID, Product: "Follow-up note", Qty: 1}
	if err := svc.AddServiceLine(context.Background(), line, false); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("enqueued = %d, want 0", len(queue.enqueued))
	}
}

func TestAddServiceLine_ClosedEncounterRejected(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)

	enc, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())
	if _, err := repo.SetState(context.Background(), enc.ID, StateInProgress, StateDone); err != nil {
		t.Fatalf("set state: %v", err)
	}

	line := &ServiceLine{EncounterID: enc.ID, Product: "Late charge", Qty: 1}
	err := svc.AddServiceLine(context.Background(), line, true)
	if apperr.KindOf(err) != apperr.IllegalTransition {
		t.Errorf("err = %v, want IllegalTransition", err)
	}
}

func TestAddPatient_VetModeOwnership(t *testing.T) {
	repo := newMockRepo()
	owner, patient := uuid.New(), uuid.New()
	owners := &mockOwners{owners: map[uuid.UUID]uuid.UUID{patient: owner}}
	seq := sequence.NewMemory()
	seq.Define(sequence.CodeEncounter, "ENC", 5)
	svc := NewService(repo, newMockQueue(), seq, owners, true, nil)

	enc, _ := svc.FindOrCreate(context.Background(), owner, time.Now())
	if err := svc.AddPatient(context.Background(), enc.ID, patient); err != nil {
		t.Fatalf("add owned patient: %v", err)
	}

	stranger, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())
	if err := svc.AddPatient(context.Background(), stranger.ID, patient); err == nil {
		t.Error("expected error adding a patient to a stranger's encounter")
	}
}

func TestReadyForBilling(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)

	enc, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())

	err := svc.ReadyForBilling(context.Background(), enc.ID)
	if apperr.KindOf(err) != apperr.NoBillableItems {
		t.Errorf("empty encounter err = %v, want NoBillableItems", err)
	}

	line := &ServiceLine{EncounterID: enc.ID, Product: "Consultation", Qty: 1, UnitPrice: 150}
	if err := svc.AddServiceLine(context.Background(), line, true); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if err := svc.ReadyForBilling(context.Background(), enc.ID); err != nil {
		t.Errorf("with line: %v", err)
	}
}

func TestCancel_CascadesToQueue(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)

	enc, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())
	if err := svc.Cancel(context.Background(), enc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := repo.GetByID(context.Background(), enc.ID)
	if got.State != StateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}
	if len(queue.cancelled) != 1 || queue.cancelled[0] != enc.ID {
		t.Errorf("queue cascade = %v, want [%s]", queue.cancelled, enc.ID)
	}

	err := svc.Cancel(context.Background(), enc.ID)
	if apperr.KindOf(err) != apperr.IllegalTransition {
		t.Errorf("double cancel err = %v, want IllegalTransition", err)
	}
}

func TestMaybeClose_And_Reopen(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)

	enc, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())
	line := &ServiceLine{EncounterID: enc.ID, Product: "Surgery", Qty: 1, UnitPrice: 900}
	if err := svc.AddServiceLine(context.Background(), line, true); err != nil {
		t.Fatalf("add line: %v", err)
	}

	// Item still pending, encounter stays open.
	closed, err := svc.MaybeClose(context.Background(), enc.ID)
	if err != nil {
		t.Fatalf("maybe close: %v", err)
	}
	if closed {
		t.Error("closed with a pending item")
	}

	queue.pending[enc.ID] = 0
	closed, err = svc.MaybeClose(context.Background(), enc.ID)
	if err != nil {
		t.Fatalf("maybe close: %v", err)
	}
	if !closed {
		t.Fatal("not closed with empty queue")
	}
	got, _ := repo.GetByID(context.Background(), enc.ID)
	if got.State != StateDone {
		t.Errorf("state = %s, want done", got.State)
	}

	if err := svc.Reopen(context.Background(), enc.ID); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ = repo.GetByID(context.Background(), enc.ID)
	if got.State != StateInProgress {
		t.Errorf("state after reopen = %s, want in_progress", got.State)
	}

	err = svc.Reopen(context.Background(), enc.ID)
	if apperr.KindOf(err) != apperr.IllegalTransition {
		t.Errorf("reopen open encounter err = %v, want IllegalTransition", err)
	}
}

func TestSetState_RetriesOnceThenFails(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)

	enc, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())

	// One transient failure, retry succeeds.
	repo.failStates = 1
	if err := svc.Cancel(context.Background(), enc.ID); err != nil {
		t.Fatalf("cancel with one transient failure: %v", err)
	}

	enc2, _ := svc.FindOrCreate(context.Background(), uuid.New(), time.Now())
	repo.failStates = 2
	err := svc.Cancel(context.Background(), enc2.ID)
	if apperr.KindOf(err) != apperr.TransitionFailed {
		t.Errorf("err = %v, want TransitionFailed", err)
	}
	got, _ := repo.GetByID(context.Background(), enc2.ID)
	if got.State != StateInProgress {
		t.Errorf("state = %s, want untouched in_progress", got.State)
	}
}

func TestDailySummary(t *testing.T) {
	repo := newMockRepo()
	queue := newMockQueue()
	svc := newTestService(repo, queue)
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	a, _ := svc.FindOrCreate(context.Background(), uuid.New(), date)
	b, _ := svc.FindOrCreate(context.Background(), uuid.New(), date)
	svc.FindOrCreate(context.Background(), uuid.New(), date.AddDate(0, 0, 1))

	repo.SetState(context.Background(), a.ID, StateInProgress, StateDone)
	svc.Cancel(context.Background(), b.ID)

	sum, err := svc.DailySummary(context.Background(), date)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 2 || sum.Done != 1 || sum.Cancelled != 1 || sum.InProgress != 0 {
		t.Errorf("summary = %+v", sum)
	}
}
