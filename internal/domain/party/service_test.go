package party

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/reqctx"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
)

type mockRepo struct {
	types      map[uuid.UUID]*PartnerType
	parties    map[uuid.UUID]*Party
	referenced map[uuid.UUID]bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		types:      make(map[uuid.UUID]*PartnerType),
		parties:    make(map[uuid.UUID]*Party),
		referenced: make(map[uuid.UUID]bool),
	}
}

func (m *mockRepo) CreateType(ctx context.Context, t *PartnerType) error {
	t.ID = uuid.New()
	m.types[t.ID] = t
	return nil
}

func (m *mockRepo) GetType(ctx context.Context, id uuid.UUID) (*PartnerType, error) {
	t, ok := m.types[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "partner type not found")
	}
	return t, nil
}

func (m *mockRepo) GetTypeByName(ctx context.Context, name string) (*PartnerType, error) {
	for _, t := range m.types {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, apperr.E(apperr.NotFound, "partner type not found")
}

func (m *mockRepo) ListTypes(ctx context.Context) ([]*PartnerType, error) {
	var out []*PartnerType
	for _, t := range m.types {
		out = append(out, t)
	}
	return out, nil
}

func (m *mockRepo) Create(ctx context.Context, p *Party) error {
	p.ID = uuid.New()
	m.parties[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Party, error) {
	p, ok := m.parties[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "party not found")
	}
	return p, nil
}

func (m *mockRepo) Update(ctx context.Context, p *Party) error {
	if _, ok := m.parties[p.ID]; !ok {
		return apperr.E(apperr.NotFound, "party not found")
	}
	m.parties[p.ID] = p
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(m.parties, id)
	return nil
}

func (m *mockRepo) Search(ctx context.Context, query string, limit, offset int) ([]*Party, int, error) {
	var out []*Party
	match := func(s *string) bool {
		return s != nil && strings.Contains(strings.ToLower(*s), strings.ToLower(query))
	}
	for _, p := range m.parties {
		if !p.Active {
			continue
		}
		name := p.Name
		if strings.Contains(strings.ToLower(name), strings.ToLower(query)) ||
			match(p.NameSecondary) || match(p.Ref) || match(p.Mobile) ||
			match(p.Phone) || match(p.Email) || match(p.GovID) {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListActive(ctx context.Context, limit, offset int) ([]*Party, int, error) {
	var out []*Party
	for _, p := range m.parties {
		if p.Active {
			out = append(out, p)
		}
	}
	total := len(out)
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) ListByType(ctx context.Context, typeID uuid.UUID, limit, offset int) ([]*Party, int, error) {
	var out []*Party
	for _, p := range m.parties {
		if p.TypeID == typeID && p.Active {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ListPets(ctx context.Context, ownerID uuid.UUID) ([]*Party, error) {
	var out []*Party
	for _, p := range m.parties {
		if p.OwnerID != nil && *p.OwnerID == ownerID && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepo) FindByMobile(ctx context.Context, mobile string, exclude uuid.UUID) ([]*Party, error) {
	var out []*Party
	for _, p := range m.parties {
		if p.ID != exclude && p.Active && p.Mobile != nil && *p.Mobile == mobile {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockRepo) Referenced(ctx context.Context, id uuid.UUID) (bool, error) {
	return m.referenced[id], nil
}

func newTestSequencer(t *testing.T) *sequence.Memory {
	t.Helper()
	seq := sequence.NewMemory()
	seq.Define(sequence.CodeWalkin, "W", 5)
	seq.Define("partner.customer", "C", 5)
	seq.Define("partner.patient", "P", 5)
	return seq
}

func seedTypes(t *testing.T, repo *mockRepo) (customer, patient, employee, walkin *PartnerType) {
	t.Helper()
	custSeq := "partner.customer"
	patSeq := "partner.patient"
	empSeq := "partner.customer"
	customer = &PartnerType{Name: "Customer", IsCustomer: true, IsIndividual: true, SequenceCode: &custSeq}
	patient = &PartnerType{Name: "Pet", IsPatient: true, SequenceCode: &patSeq}
	employee = &PartnerType{Name: "Staff", IsEmployee: true, IsIndividual: true, SequenceCode: &empSeq}
	walkin = &PartnerType{Name: WalkinTypeName, IsPatient: true, IsCustomer: true}
	for _, pt := range []*PartnerType{customer, patient, employee, walkin} {
		if err := repo.CreateType(context.Background(), pt); err != nil {
			t.Fatalf("seed type %s: %v", pt.Name, err)
		}
	}
	return
}

func TestCreate_AssignsRefFromTypeSequence(t *testing.T) {
	repo := newMockRepo()
	customer, _, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	p, err := svc.Create(context.Background(), &Party{Name: "Ali Hassan", TypeID: customer.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Ref == nil || *p.Ref != "C00001" {
		t.Errorf("ref = %v, want C00001", p.Ref)
	}

	p2, err := svc.Create(context.Background(), &Party{Name: "Mona Adel", TypeID: customer.ID})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if p2.Ref == nil || *p2.Ref != "C00002" {
		t.Errorf("second ref = %v, want C00002", p2.Ref)
	}
}

func TestCreate_KeepsSuppliedRef(t *testing.T) {
	repo := newMockRepo()
	customer, _, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	ref := "LEGACY-7"
	p, err := svc.Create(context.Background(), &Party{Name: "Ali", TypeID: customer.ID, Ref: &ref})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if *p.Ref != "LEGACY-7" {
		t.Errorf("ref = %s, want supplied value kept", *p.Ref)
	}
}

func TestCreate_EmployeeTypeSkipsSequence(t *testing.T) {
	repo := newMockRepo()
	_, _, employee, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	p, err := svc.Create(context.Background(), &Party{Name: "Dr. Salma", TypeID: employee.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Ref != nil {
		t.Errorf("employee ref = %v, want nil", *p.Ref)
	}
}

func TestCreate_OwnerMustBeCustomer(t *testing.T) {
	repo := newMockRepo()
	customer, patient, employee, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	staff, err := svc.Create(context.Background(), &Party{Name: "Dr. Salma", TypeID: employee.ID})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	if _, err := svc.Create(context.Background(), &Party{Name: "Rex", TypeID: patient.ID, OwnerID: &staff.ID}); err == nil {
		t.Error("expected error linking pet to a non-customer owner")
	}

	owner, err := svc.Create(context.Background(), &Party{Name: "Ali", TypeID: customer.ID})
	if err != nil {
		t.Fatalf("create owner: %v", err)
	}
	if _, err := svc.Create(context.Background(), &Party{Name: "Rex", TypeID: patient.ID, OwnerID: &owner.ID}); err != nil {
		t.Errorf("create owned pet: %v", err)
	}

	if _, err := svc.Create(context.Background(), &Party{Name: "Hassan", TypeID: customer.ID, OwnerID: &owner.ID}); err == nil {
		t.Error("expected error giving an owner to a non-patient party")
	}
}

func TestCreate_NormalizesMobile(t *testing.T) {
	repo := newMockRepo()
	customer, _, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	mobile := "+20 100-234-5678"
	p, err := svc.Create(context.Background(), &Party{Name: "Ali", TypeID: customer.ID, Mobile: &mobile})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if *p.Mobile != "+201002345678" {
		t.Errorf("mobile = %s, want +201002345678", *p.Mobile)
	}
}

func TestFindOrCreateWalkin(t *testing.T) {
	repo := newMockRepo()
	seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	p, err := svc.FindOrCreateWalkin(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("walkin: %v", err)
	}
	if p.Name != "Walk-in Patient (W00001)" {
		t.Errorf("name = %q, want Walk-in Patient (W00001)", p.Name)
	}
	if !p.IsWalkin {
		t.Error("walk-in flag not set")
	}

	p2, err := svc.FindOrCreateWalkin(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("second walkin: %v", err)
	}
	if p2.Name != "Walk-in Patient (W00002)" {
		t.Errorf("second name = %q, want Walk-in Patient (W00002)", p2.Name)
	}
}

func TestFindOrCreateWalkin_TypeNotConfigured(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, newTestSequencer(t), nil)

	_, err := svc.FindOrCreateWalkin(context.Background(), time.Now())
	if apperr.KindOf(err) != apperr.ConfigurationMissing {
		t.Errorf("err = %v, want ConfigurationMissing", err)
	}
}

func TestDisplayName_OwnerSuffix(t *testing.T) {
	repo := newMockRepo()
	customer, patient, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	owner, _ := svc.Create(context.Background(), &Party{Name: "Ali Hassan", TypeID: customer.ID})
	pet, _ := svc.Create(context.Background(), &Party{Name: "Rex", TypeID: patient.ID, OwnerID: &owner.ID})

	name, err := svc.DisplayName(context.Background(), pet)
	if err != nil {
		t.Fatalf("display name: %v", err)
	}
	if name != "Rex [Ali Hassan]" {
		t.Errorf("name = %q, want %q", name, "Rex [Ali Hassan]")
	}

	ctx := reqctx.With(context.Background(), reqctx.RequestContext{SuppressOwnerSuffix: true})
	name, err = svc.DisplayName(ctx, pet)
	if err != nil {
		t.Fatalf("suppressed display name: %v", err)
	}
	if name != "Rex" {
		t.Errorf("suppressed name = %q, want Rex", name)
	}
}

func TestSearch_MatchesAllContactFields(t *testing.T) {
	repo := newMockRepo()
	customer, _, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	email := "ali@example.com"
	govID := "29001011234567"
	secondary := "علي حسن"
	if _, err := svc.Create(context.Background(), &Party{
		Name: "Ali Hassan", TypeID: customer.ID,
		Email: &email, GovID: &govID, NameSecondary: &secondary,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, q := range []string{"Ali", "ali@example", "2900101", "علي", "C00001"} {
		got, _, err := svc.Search(context.Background(), q, 20, 0)
		if err != nil {
			t.Fatalf("search %q: %v", q, err)
		}
		if len(got) != 1 {
			t.Errorf("search %q returned %d parties, want 1", q, len(got))
		}
	}

	if _, _, err := svc.Search(context.Background(), "  ", 20, 0); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestListActive_SkipsDeactivated(t *testing.T) {
	repo := newMockRepo()
	customer, _, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	a, _ := svc.Create(context.Background(), &Party{Name: "Ali", TypeID: customer.ID})
	b, _ := svc.Create(context.Background(), &Party{Name: "Mona", TypeID: customer.ID})
	if err := svc.Deactivate(context.Background(), b.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, total, err := svc.ListActive(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].ID != a.ID {
		t.Errorf("expected only the active party, got %d of %d", len(got), total)
	}
}

func TestDelete_ReferencedPartyRefused(t *testing.T) {
	repo := newMockRepo()
	customer, _, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	p, _ := svc.Create(context.Background(), &Party{Name: "Ali", TypeID: customer.ID})
	repo.referenced[p.ID] = true

	err := svc.Delete(context.Background(), p.ID)
	if apperr.KindOf(err) != apperr.IllegalTransition {
		t.Errorf("delete referenced: err = %v, want IllegalTransition", err)
	}

	if err := svc.Deactivate(context.Background(), p.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if repo.parties[p.ID].Active {
		t.Error("party still active after deactivation")
	}
}

func TestUpdate_RefImmutable(t *testing.T) {
	repo := newMockRepo()
	customer, _, _, _ := seedTypes(t, repo)
	svc := NewService(repo, newTestSequencer(t), nil)

	p, _ := svc.Create(context.Background(), &Party{Name: "Ali", TypeID: customer.ID})

	changed := *p
	newRef := "HACKED"
	changed.Ref = &newRef
	if err := svc.Update(context.Background(), &changed); err == nil {
		t.Error("expected error changing an issued reference")
	}
}
