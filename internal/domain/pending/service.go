package pending

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/possync"
)

// OwnerResolver reports the owner of a patient party, or nil when the party
// has no owner link. Wired to the party registry at startup.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error)
}

type Service struct {
	repo      Repository
	owners    OwnerResolver
	vetMode   bool
	broadcast possync.Broadcaster
}

func NewService(repo Repository, owners OwnerResolver, vetMode bool, broadcast possync.Broadcaster) *Service {
	if broadcast == nil {
		broadcast = possync.NopBroadcaster{}
	}
	return &Service{repo: repo, owners: owners, vetMode: vetMode, broadcast: broadcast}
}

// Enqueue stages a billable item for the cash register. In veterinary mode
// the patient must belong to the item's billing party.
func (s *Service) Enqueue(ctx context.Context, item *Item) error {
	if strings.TrimSpace(item.Product) == "" {
		return fmt.Errorf("product is required")
	}
	if item.Qty <= 0 {
		return fmt.Errorf("qty must be positive")
	}
	if item.UnitPrice < 0 {
		return fmt.Errorf("unit price cannot be negative")
	}
	if item.DiscountPct < 0 || item.DiscountPct > 100 {
		return fmt.Errorf("discount must be between 0 and 100")
	}
	if item.BillingPartyID == uuid.Nil {
		return apperr.E(apperr.PreconditionMissing, "billing party is required")
	}
	if item.CommissionPct > 0 && item.PractitionerID == nil {
		return apperr.E(apperr.PreconditionMissing, "commission requires a practitioner")
	}

	if s.vetMode && item.PatientID != nil && s.owners != nil {
		owner, err := s.owners.OwnerOf(ctx, *item.PatientID)
		if err != nil {
			return err
		}
		if owner != nil && *owner != item.BillingPartyID {
			return fmt.Errorf("patient does not belong to the billing party")
		}
	}

	item.State = StatePending
	item.PosLineID = nil
	if err := s.repo.Create(ctx, item); err != nil {
		return err
	}
	s.broadcast.Notify(possync.ModelPendingItem, possync.OpCreate, item)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Item, error) {
	return s.repo.ListByEncounter(ctx, encounterID)
}

// ListByState feeds terminal snapshots. Capped so a busy clinic cannot
// push an unbounded payload to the registers.
func (s *Service) ListByState(ctx context.Context, state string, limit int) ([]*Item, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	return s.repo.ListByState(ctx, state, limit)
}

// Cancel retires an item. Pending items cancel directly. Processed items
// cancel only once the POS line binding is gone; until then the register
// owns the row.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch item.State {
	case StatePending:
		moved, err := s.repo.CancelPending(ctx, id)
		if err != nil {
			return err
		}
		if !moved {
			return apperr.E(apperr.TransitionFailed, "pending item %s moved concurrently", id)
		}
	case StateProcessed:
		if item.PosLineID != nil {
			return apperr.E(apperr.LinkedToPosLine, "item %s is bound to a register line", id)
		}
		moved, err := s.repo.CancelProcessedUnlinked(ctx, id)
		if err != nil {
			return err
		}
		if !moved {
			return apperr.E(apperr.TransitionFailed, "pending item %s moved concurrently", id)
		}
	default:
		return apperr.E(apperr.IllegalTransition, "pending item %s is already cancelled", id)
	}
	s.broadcast.Notify(possync.ModelPendingItem, possync.OpUpdate, map[string]interface{}{"id": id, "state": StateCancelled})
	return nil
}

// MarkProcessed binds the item to a POS line via compare-and-set on the
// pending state. A miss means another register got there first.
func (s *Service) MarkProcessed(ctx context.Context, id, posLineID uuid.UUID) error {
	moved, err := s.repo.MarkProcessed(ctx, id, posLineID)
	if err != nil {
		return err
	}
	if !moved {
		return apperr.E(apperr.IllegalTransition, "pending item %s is no longer pending", id)
	}
	s.broadcast.Notify(possync.ModelPendingItem, possync.OpUpdate, map[string]interface{}{
		"id": id, "state": StateProcessed, "pos_line_id": posLineID,
	})
	return nil
}

// ResetFromRefund returns a processed or cancelled item to the queue and
// clears its POS line pointer. Only the refund path calls this.
func (s *Service) ResetFromRefund(ctx context.Context, id uuid.UUID) error {
	moved, err := s.repo.ResetFromRefund(ctx, id)
	if err != nil {
		return err
	}
	if !moved {
		return apperr.E(apperr.IllegalTransition, "pending item %s is already pending", id)
	}
	s.broadcast.Notify(possync.ModelPendingItem, possync.OpUpdate, map[string]interface{}{
		"id": id, "state": StatePending,
	})
	return nil
}

// CountPending reports how many items of an encounter still await the
// register.
func (s *Service) CountPending(ctx context.Context, encounterID uuid.UUID) (int, error) {
	return s.repo.CountByEncounter(ctx, encounterID, StatePending)
}

// CountBillable reports pending plus processed items, the measure used by
// completion checks.
func (s *Service) CountBillable(ctx context.Context, encounterID uuid.UUID) (int, error) {
	pending, err := s.repo.CountByEncounter(ctx, encounterID, StatePending)
	if err != nil {
		return 0, err
	}
	processed, err := s.repo.CountByEncounter(ctx, encounterID, StateProcessed)
	if err != nil {
		return 0, err
	}
	return pending + processed, nil
}

// CancelAllPending cancels every still-pending item of an encounter, used
// when the encounter itself is cancelled.
func (s *Service) CancelAllPending(ctx context.Context, encounterID uuid.UUID) error {
	n, err := s.repo.CancelAllPending(ctx, encounterID)
	if err != nil {
		return err
	}
	if n > 0 {
		s.broadcast.Notify(possync.ModelPendingItem, possync.OpUpdate, map[string]interface{}{
			"encounter_id": encounterID, "state": StateCancelled,
		})
	}
	return nil
}

// OwnerStatement lists an owner's queued items with their running total, the
// shape served to remote clients.
func (s *Service) OwnerStatement(ctx context.Context, ownerID uuid.UUID) ([]*Item, float64, error) {
	items, err := s.repo.ListByOwner(ctx, ownerID, StatePending)
	if err != nil {
		return nil, 0, err
	}
	var total float64
	for _, it := range items {
		total += it.Subtotal()
	}
	return items, total, nil
}
