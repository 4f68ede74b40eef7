package party

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/possync"
	"github.com/vetbridge/vetbridge/internal/platform/reqctx"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
)

// WalkinTypeName is the partner type assigned to anonymous walk-in parties.
// The type must exist before the first walk-in booking; seeding creates it.
const WalkinTypeName = "Walk-in"

type Service struct {
	repo      Repository
	seq       sequence.Sequencer
	broadcast possync.Broadcaster
}

func NewService(repo Repository, seq sequence.Sequencer, broadcast possync.Broadcaster) *Service {
	if broadcast == nil {
		broadcast = possync.NopBroadcaster{}
	}
	return &Service{repo: repo, seq: seq, broadcast: broadcast}
}

func (s *Service) CreateType(ctx context.Context, t *PartnerType) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("partner type name is required")
	}
	return s.repo.CreateType(ctx, t)
}

func (s *Service) ListTypes(ctx context.Context) ([]*PartnerType, error) {
	return s.repo.ListTypes(ctx)
}

// Create validates and persists a party. When the partner type carries a
// reference sequence and the caller did not supply a reference, the next
// sequence value is assigned atomically. Employee types never draw from the
// type sequence since staff codes are issued elsewhere.
func (s *Service) Create(ctx context.Context, p *Party) (*Party, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("party name is required")
	}
	t, err := s.repo.GetType(ctx, p.TypeID)
	if err != nil {
		return nil, fmt.Errorf("partner type: %w", err)
	}

	if p.OwnerID != nil {
		if !t.IsPatient {
			return nil, fmt.Errorf("only patients may have an owner")
		}
		owner, err := s.repo.GetByID(ctx, *p.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("owner: %w", err)
		}
		ot, err := s.repo.GetType(ctx, owner.TypeID)
		if err != nil {
			return nil, err
		}
		if !ot.IsCustomer {
			return nil, fmt.Errorf("owner %q is not a billing party", owner.Name)
		}
	}

	if p.Ref == nil && t.SequenceCode != nil && !t.IsEmployee {
		ref, err := s.seq.Next(ctx, *t.SequenceCode)
		if err != nil {
			return nil, err
		}
		p.Ref = &ref
	}

	if p.Mobile != nil {
		m := normalizePhone(*p.Mobile)
		p.Mobile = &m
	}
	if p.Phone != nil {
		m := normalizePhone(*p.Phone)
		p.Phone = &m
	}

	p.Active = true
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.broadcast.Notify(possync.ModelParty, possync.OpCreate, p)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Party, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, p *Party) error {
	existing, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("party name is required")
	}
	// References are stable once issued.
	if existing.Ref != nil && (p.Ref == nil || *p.Ref != *existing.Ref) {
		return fmt.Errorf("party reference cannot be changed")
	}
	if p.Mobile != nil {
		m := normalizePhone(*p.Mobile)
		p.Mobile = &m
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.broadcast.Notify(possync.ModelParty, possync.OpUpdate, p)
	return nil
}

// SetType reassigns the party to a different partner type. The reference is
// kept; a party keeps its issued code across reclassification.
func (s *Service) SetType(ctx context.Context, id, typeID uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.repo.GetType(ctx, typeID); err != nil {
		return fmt.Errorf("partner type: %w", err)
	}
	p.TypeID = typeID
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.broadcast.Notify(possync.ModelParty, possync.OpUpdate, p)
	return nil
}

// FindOrCreateWalkin mints an anonymous walk-in party named after a reserved
// sequence, e.g. "Walk-in Patient (W00001)". Each call may mint a new
// identity; callers that want reuse must hold on to the returned id.
func (s *Service) FindOrCreateWalkin(ctx context.Context, date time.Time) (*Party, error) {
	t, err := s.repo.GetTypeByName(ctx, WalkinTypeName)
	if err != nil {
		if apperr.KindOf(err) == apperr.NotFound {
			return nil, apperr.E(apperr.ConfigurationMissing, "walk-in partner type is not configured")
		}
		return nil, err
	}

	seq, err := s.seq.Next(ctx, sequence.CodeWalkin)
	if err != nil {
		return nil, err
	}

	p := &Party{
		Name:     fmt.Sprintf("Walk-in Patient (%s)", seq),
		TypeID:   t.ID,
		IsWalkin: true,
		Active:   true,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.broadcast.Notify(possync.ModelParty, possync.OpCreate, p)
	return p, nil
}

func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]*Party, int, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, 0, fmt.Errorf("search query is required")
	}
	return s.repo.Search(ctx, query, limit, offset)
}

// ListActive feeds terminal snapshots and admin listings. The limit is
// clamped so a large registry cannot push an unbounded payload.
func (s *Service) ListActive(ctx context.Context, limit, offset int) ([]*Party, int, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	return s.repo.ListActive(ctx, limit, offset)
}

func (s *Service) ListByType(ctx context.Context, typeID uuid.UUID, limit, offset int) ([]*Party, int, error) {
	return s.repo.ListByType(ctx, typeID, limit, offset)
}

func (s *Service) Pets(ctx context.Context, ownerID uuid.UUID) ([]*Party, error) {
	return s.repo.ListPets(ctx, ownerID)
}

// Deactivate retires a party. Parties referenced by appointments, encounters
// or orders are never deleted, only deactivated.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.Active = false
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.broadcast.Notify(possync.ModelParty, possync.OpUpdate, p)
	return nil
}

// Delete removes an unreferenced party outright. A referenced party must be
// deactivated instead.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	referenced, err := s.repo.Referenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return apperr.E(apperr.IllegalTransition, "party has history and can only be deactivated")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.broadcast.Notify(possync.ModelParty, possync.OpDelete, map[string]interface{}{"id": id})
	return nil
}

// DisplayName resolves the render name for a party, appending the owner in
// brackets for owned patients unless the request context suppresses it.
func (s *Service) DisplayName(ctx context.Context, p *Party) (string, error) {
	rc := reqctx.From(ctx)
	if p.OwnerID == nil || rc.SuppressOwnerSuffix {
		return p.Name, nil
	}
	owner, err := s.repo.GetByID(ctx, *p.OwnerID)
	if err != nil {
		return p.Name, err
	}
	return p.DisplayName(owner, false), nil
}

// DuplicateContacts returns other active parties sharing the given mobile
// number, for front-desk dedup warnings.
func (s *Service) DuplicateContacts(ctx context.Context, mobile string, exclude uuid.UUID) ([]*Party, error) {
	mobile = normalizePhone(mobile)
	if mobile == "" {
		return nil, nil
	}
	return s.repo.FindByMobile(ctx, mobile, exclude)
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch r {
		case ' ', '-', '(', ')', '.':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
