package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
)

type Service struct {
	repo     Repository
	currency string
}

func NewService(repo Repository, currency string) *Service {
	if currency == "" {
		currency = "EGP"
	}
	return &Service{repo: repo, currency: currency}
}

// Accrue creates the draft commission for a paid register line. The amount
// is base times rate over one hundred. Repeated calls for the same POS line
// return the existing record; duplicates are never created.
func (s *Service) Accrue(ctx context.Context, line *Line) (*Line, error) {
	if line.PosLineID == uuid.Nil {
		return nil, fmt.Errorf("pos line reference is required")
	}
	if line.ProviderID == uuid.Nil {
		return nil, fmt.Errorf("provider is required")
	}
	if line.RatePct <= 0 || line.RatePct > 100 {
		return nil, fmt.Errorf("rate must be between 0 and 100")
	}

	line.Amount = line.Base * line.RatePct / 100
	line.State = StateDraft
	if line.Currency == "" {
		line.Currency = s.currency
	}
	if line.EffectiveDate.IsZero() {
		line.EffectiveDate = time.Now().UTC()
	}

	inserted, err := s.repo.CreateIfAbsent(ctx, line)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.repo.GetByPosLine(ctx, line.PosLineID)
	}
	return line, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Line, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Line, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, limit, offset int) ([]*Line, int, error) {
	return s.repo.ListByProvider(ctx, providerID, from, to, limit, offset)
}

// Confirm moves draft to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StateDraft, StateConfirmed)
}

// MarkPaid moves confirmed to paid. Paid is final except for cancellation.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, StateConfirmed, StatePaid)
}

// CancelForLine cancels the commission bound to a POS line, used by the
// refund path. Already-cancelled lines are left alone and reported as such.
func (s *Service) CancelForLine(ctx context.Context, posLineID uuid.UUID) (*Line, bool, error) {
	line, err := s.repo.GetByPosLine(ctx, posLineID)
	if err != nil {
		return nil, false, err
	}
	if line.State == StateCancelled {
		return line, false, nil
	}
	moved, err := s.repo.Cancel(ctx, line.ID)
	if err != nil {
		return nil, false, err
	}
	line.State = StateCancelled
	return line, moved, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to string) error {
	line, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if line.State != from {
		return apperr.E(apperr.IllegalTransition, "commission %s cannot move %s to %s", id, line.State, to)
	}
	moved, err := s.repo.SetState(ctx, id, from, to)
	if err != nil {
		return apperr.Wrap(apperr.TransitionFailed, err, "commission transition %s to %s", from, to)
	}
	if !moved {
		return apperr.E(apperr.IllegalTransition, "commission %s moved concurrently", id)
	}
	return nil
}
