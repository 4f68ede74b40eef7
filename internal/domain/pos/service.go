package pos

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
	"github.com/vetbridge/vetbridge/internal/platform/db"
	"github.com/vetbridge/vetbridge/internal/platform/reqctx"
	"github.com/vetbridge/vetbridge/internal/platform/sequence"
)

// QueueItem is the slice of a pending billing item the bridge needs.
type QueueItem struct {
	ID          uuid.UUID
	EncounterID uuid.UUID
	State       string
}

// BillingQueue is the pending-item collaborator.
type BillingQueue interface {
	Lookup(ctx context.Context, id uuid.UUID) (*QueueItem, error)
	MarkProcessed(ctx context.Context, id, posLineID uuid.UUID) error
	ResetFromRefund(ctx context.Context, id uuid.UUID) error
}

// EncounterLedger closes and reopens daily encounters around payment.
type EncounterLedger interface {
	MaybeClose(ctx context.Context, encounterID uuid.UUID) (bool, error)
	Reopen(ctx context.Context, encounterID uuid.UUID) error
}

// CommissionAccrual is the input for one provider commission record.
type CommissionAccrual struct {
	PosLineID     uuid.UUID
	PosOrderID    uuid.UUID
	SessionRef    *string
	Product       string
	ProviderID    uuid.UUID
	PatientID     *uuid.UUID
	RatePct       float64
	Base          float64
	EffectiveDate time.Time
}

// CommissionLedger accrues on payment and cancels on refund. CancelForLine
// reports whether a record actually moved to cancelled.
type CommissionLedger interface {
	Accrue(ctx context.Context, acc CommissionAccrual) error
	CancelForLine(ctx context.Context, posLineID uuid.UUID) (bool, error)
}

type Service struct {
	repo        Repository
	queue       BillingQueue
	encounters  EncounterLedger
	commissions CommissionLedger
	seq         sequence.Sequencer
	pool        *pgxpool.Pool
	currency    string
}

func NewService(repo Repository, queue BillingQueue, encounters EncounterLedger,
	commissions CommissionLedger, seq sequence.Sequencer, pool *pgxpool.Pool, currency string) *Service {
	if currency == "" {
		currency = "EGP"
	}
	return &Service{repo: repo, queue: queue, encounters: encounters,
		commissions: commissions, seq: seq, pool: pool, currency: currency}
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

// CheckoutLine is one register line as the terminal submits it.
type CheckoutLine struct {
	UID         string  `json:"uid"`
	Product     string  `json:"product"`
	Qty         float64 `json:"qty"`
	UnitPrice   float64 `json:"unit_price"`
	DiscountPct float64 `json:"discount_pct"`
}

// CheckoutRequest carries the order plus per-line extras keyed by uid.
type CheckoutRequest struct {
	SessionRef *string               `json:"session_ref,omitempty"`
	CashierID  *uuid.UUID            `json:"cashier_id,omitempty"`
	Lines      []CheckoutLine        `json:"lines"`
	Extras     map[string]LineExtras `json:"extras,omitempty"`
}

// Checkout persists and pays an order in one transaction. Extras are matched
// to lines by uid and their clinical references written onto the stable
// lines. Referenced pending items move to processed; a compare-and-set miss
// becomes a warning note on the order, never a rollback. Encounters whose
// queue drains are closed, and provider lines accrue commission.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if len(req.Lines) == 0 {
		return nil, apperr.E(apperr.PreconditionMissing, "order has no lines")
	}
	byUID := make(map[string]struct{}, len(req.Lines))
	for _, l := range req.Lines {
		if l.UID == "" {
			return nil, apperr.E(apperr.PreconditionMissing, "line uid is required")
		}
		if _, dup := byUID[l.UID]; dup {
			return nil, fmt.Errorf("duplicate line uid %q", l.UID)
		}
		byUID[l.UID] = struct{}{}
		if l.Qty <= 0 {
			return nil, fmt.Errorf("line %q qty must be positive", l.UID)
		}
		if l.UnitPrice < 0 {
			return nil, fmt.Errorf("line %q price must not be negative", l.UID)
		}
	}
	for uid := range req.Extras {
		if _, ok := byUID[uid]; !ok {
			return nil, fmt.Errorf("extras reference unknown line uid %q", uid)
		}
	}

	order := &Order{
		SessionRef: req.SessionRef,
		CashierID:  req.CashierID,
		State:      OrderDraft,
		Currency:   s.currency,
	}
	for _, l := range req.Lines {
		line := &OrderLine{
			UID:         l.UID,
			Product:     l.Product,
			Qty:         l.Qty,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
		}
		order.Total += line.Subtotal()
		order.Lines = append(order.Lines, line)
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		name, err := s.seq.Next(ctx, sequence.CodePosOrder)
		if err != nil {
			return err
		}
		order.Name = name
		if err := s.repo.CreateOrder(ctx, order); err != nil {
			return err
		}

		touched := map[uuid.UUID]struct{}{}
		for _, line := range order.Lines {
			extras, ok := req.Extras[line.UID]
			if !ok {
				continue
			}
			line.PendingItemID = extras.PendingItemID
			line.PatientID = extras.PatientID
			line.ProviderID = extras.ProviderID
			line.CommissionPct = extras.CommissionPct
			if err := s.repo.UpdateLineRefs(ctx, line); err != nil {
				return err
			}

			if extras.PendingItemID == nil {
				continue
			}
			item, err := s.queue.Lookup(ctx, *extras.PendingItemID)
			if apperr.KindOf(err) == apperr.NotFound {
				// Orphan reference. Keep the line, do not block payment.
				log.Warn().Str("order", order.Name).Str("uid", line.UID).
					Stringer("pending_item", *extras.PendingItemID).Msg("pending item missing at checkout")
				continue
			}
			if err != nil {
				return err
			}
			if err := s.queue.MarkProcessed(ctx, item.ID, line.ID); err != nil {
				if apperr.KindOf(err) != apperr.IllegalTransition {
					return err
				}
				note := fmt.Sprintf("pending item %s was already %s at checkout", item.ID, item.State)
				log.Warn().Str("order", order.Name).Msg(note)
				if err := s.noteOrder(ctx, order, note); err != nil {
					return err
				}
				continue
			}
			touched[item.EncounterID] = struct{}{}
		}

		moved, err := s.repo.SetOrderState(ctx, order.ID, OrderDraft, OrderPaid)
		if err != nil {
			return apperr.Wrap(apperr.TransitionFailed, err, "pay order %s", order.Name)
		}
		if !moved {
			return apperr.E(apperr.TransitionFailed, "pay order %s", order.Name)
		}
		order.State = OrderPaid

		for encID := range touched {
			if _, err := s.encounters.MaybeClose(ctx, encID); err != nil {
				return err
			}
		}

		today := reqctx.From(ctx).Today()
		for _, line := range order.Lines {
			if line.ProviderID == nil || line.CommissionPct <= 0 {
				continue
			}
			err := s.commissions.Accrue(ctx, CommissionAccrual{
				PosLineID:     line.ID,
				PosOrderID:    order.ID,
				SessionRef:    order.SessionRef,
				Product:       line.Product,
				ProviderID:    *line.ProviderID,
				PatientID:     line.PatientID,
				RatePct:       line.CommissionPct,
				Base:          line.Subtotal(),
				EffectiveDate: today,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// RefundRequest refunds selected lines of a paid order, or every line that
// still lacks a reversal when none are given.
type RefundRequest struct {
	OrderID uuid.UUID   `json:"order_id"`
	LineIDs []uuid.UUID `json:"line_ids,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// Refund posts the reverse order first, in its own transaction, so the
// customer's money is never held hostage by the clinical reversal. Pending
// items are then reset, drained encounters reopened, and commission records
// cancelled; failures in that tail are demoted to order notes for manual
// reconciliation.
func (s *Service) Refund(ctx context.Context, req RefundRequest) (*Order, error) {
	original, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if original.State != OrderPaid {
		return nil, apperr.E(apperr.IllegalTransition, "order %s is %s, only paid orders refund", original.Name, original.State)
	}

	// Lines reversed by an earlier partial refund must not refund again.
	refundedIDs, err := s.repo.RefundedLineIDs(ctx, original.ID)
	if err != nil {
		return nil, err
	}
	prior := make(map[uuid.UUID]struct{}, len(refundedIDs))
	for _, id := range refundedIDs {
		prior[id] = struct{}{}
	}

	var selected []*OrderLine
	if len(req.LineIDs) == 0 {
		for _, l := range original.Lines {
			if _, done := prior[l.ID]; !done {
				selected = append(selected, l)
			}
		}
		if len(selected) == 0 {
			return nil, apperr.E(apperr.IllegalTransition, "order %s has no refundable lines", original.Name)
		}
	} else {
		byID := make(map[uuid.UUID]*OrderLine, len(original.Lines))
		for _, l := range original.Lines {
			byID[l.ID] = l
		}
		seen := make(map[uuid.UUID]struct{}, len(req.LineIDs))
		selected = make([]*OrderLine, 0, len(req.LineIDs))
		for _, id := range req.LineIDs {
			if _, dup := seen[id]; dup {
				return nil, fmt.Errorf("line %s listed twice in refund request", id)
			}
			seen[id] = struct{}{}
			line, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("line %s does not belong to order %s", id, original.Name)
			}
			if _, done := prior[id]; done {
				return nil, apperr.E(apperr.IllegalTransition, "line %s of order %s was already refunded", id, original.Name)
			}
			selected = append(selected, line)
		}
	}

	refund := &Order{
		SessionRef: original.SessionRef,
		State:      OrderPaid,
		Currency:   original.Currency,
		RefundOfID: &original.ID,
	}
	for _, l := range selected {
		refundLine := &OrderLine{
			UID:            l.UID,
			Product:        l.Product,
			Qty:            -l.Qty,
			UnitPrice:      l.UnitPrice,
			DiscountPct:    l.DiscountPct,
			PendingItemID:  l.PendingItemID,
			PatientID:      l.PatientID,
			ProviderID:     l.ProviderID,
			CommissionPct:  l.CommissionPct,
			RefundedLineID: &l.ID,
		}
		refund.Total += refundLine.Subtotal()
		refund.Lines = append(refund.Lines, refundLine)
	}

	// Step 1: the financial reversal commits on its own.
	err = s.inTx(ctx, func(ctx context.Context) error {
		name, err := s.seq.Next(ctx, sequence.CodePosOrder)
		if err != nil {
			return err
		}
		refund.Name = name
		if req.Reason != "" {
			refund.Notes = append(refund.Notes, req.Reason)
		}
		if err := s.repo.CreateOrder(ctx, refund); err != nil {
			return err
		}
		if len(prior)+len(selected) == len(original.Lines) {
			if _, err := s.repo.SetOrderState(ctx, original.ID, OrderPaid, OrderRefunded); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Steps 2 to 4 run after the money moved; nothing below may undo it.
	touched := map[uuid.UUID]struct{}{}
	for _, line := range selected {
		if line.PendingItemID == nil {
			continue
		}
		item, err := s.queue.Lookup(ctx, *line.PendingItemID)
		if err != nil {
			s.reconcileNote(ctx, original, refund,
				fmt.Sprintf("refund %s: pending item %s not found: %v", refund.Name, *line.PendingItemID, err))
			continue
		}
		if err := s.queue.ResetFromRefund(ctx, item.ID); err != nil {
			s.reconcileNote(ctx, original, refund,
				fmt.Sprintf("refund %s: pending item %s not reset: %v", refund.Name, item.ID, err))
			continue
		}
		touched[item.EncounterID] = struct{}{}
	}

	for encID := range touched {
		err := s.encounters.Reopen(ctx, encID)
		if err != nil && apperr.KindOf(err) != apperr.IllegalTransition {
			s.reconcileNote(ctx, original, refund,
				fmt.Sprintf("refund %s: encounter %s not reopened: %v", refund.Name, encID, err))
		}
	}

	for _, line := range selected {
		if line.ProviderID == nil || line.CommissionPct <= 0 {
			continue
		}
		moved, err := s.commissions.CancelForLine(ctx, line.ID)
		if apperr.KindOf(err) == apperr.NotFound {
			continue
		}
		if err != nil {
			s.reconcileNote(ctx, original, refund,
				fmt.Sprintf("refund %s: commission for line %s not cancelled: %v", refund.Name, line.ID, err))
			continue
		}
		if moved {
			s.reconcileNote(ctx, original, refund,
				fmt.Sprintf("commission for line %s cancelled by refund %s", line.ID, refund.Name))
		}
	}

	return refund, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetOrder(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Order, int, error) {
	return s.repo.ListOrders(ctx, limit, offset)
}

func (s *Service) noteOrder(ctx context.Context, order *Order, note string) error {
	order.Notes = append(order.Notes, note)
	return s.repo.AppendNote(ctx, order.ID, note)
}

// reconcileNote annotates both sides of a refund. The note itself is best
// effort; a failed write is only logged.
func (s *Service) reconcileNote(ctx context.Context, original, refund *Order, note string) {
	log.Warn().Str("order", original.Name).Str("refund", refund.Name).Msg(note)
	for _, o := range []*Order{original, refund} {
		o.Notes = append(o.Notes, note)
		if err := s.repo.AppendNote(ctx, o.ID, note); err != nil {
			log.Error().Err(err).Str("order", o.Name).Msg("order note write failed")
		}
	}
}
