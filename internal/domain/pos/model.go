// Package pos bridges the register to the clinical back office. Checkout
// consumes queued pending items and closes encounters; refund reverses the
// clinical side only after the financial side is durable.
package pos

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Order states.
const (
	OrderDraft    = "draft"
	OrderPaid     = "paid"
	OrderRefunded = "refunded"
)

type Order struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	Name       string       `json:"name" db:"name"`
	SessionRef *string      `json:"session_ref,omitempty" db:"session_ref"`
	CashierID  *uuid.UUID   `json:"cashier_id,omitempty" db:"cashier_id"`
	State      string       `json:"state" db:"state"`
	Total      float64      `json:"total" db:"total"`
	Currency   string       `json:"currency" db:"currency"`
	RefundOfID *uuid.UUID   `json:"refund_of_id,omitempty" db:"refund_of_id"`
	Notes      []string     `json:"notes"`
	Lines      []*OrderLine `json:"lines"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// OrderLine is a register line. UID is the terminal-assigned correlation key
// used to match extras before stable ids exist. RefundedLineID points back at
// the original line on refund orders.
type OrderLine struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrderID        uuid.UUID  `json:"order_id" db:"order_id"`
	UID            string     `json:"uid" db:"uid"`
	Product        string     `json:"product" db:"product"`
	Qty            float64    `json:"qty" db:"qty"`
	UnitPrice      float64    `json:"unit_price" db:"unit_price"`
	DiscountPct    float64    `json:"discount_pct" db:"discount_pct"`
	PendingItemID  *uuid.UUID `json:"pending_item_id,omitempty" db:"pending_item_id"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty" db:"patient_id"`
	ProviderID     *uuid.UUID `json:"provider_id,omitempty" db:"provider_id"`
	CommissionPct  float64    `json:"commission_pct" db:"commission_pct"`
	RefundedLineID *uuid.UUID `json:"refunded_line_id,omitempty" db:"refunded_line_id"`
}

// Subtotal is the discounted pre-tax line value.
func (l *OrderLine) Subtotal() float64 {
	return l.Qty * l.UnitPrice * (1 - l.DiscountPct/100)
}

// LineExtras is the opaque payload a terminal attaches to a line, keyed by
// the line's uid. Exactly four keys are recognised; anything else is
// rejected at the boundary.
type LineExtras struct {
	PendingItemID *uuid.UUID `json:"pending_item_id,omitempty"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty"`
	ProviderID    *uuid.UUID `json:"provider_id,omitempty"`
	CommissionPct float64    `json:"commission_pct,omitempty"`
}

var extrasKeys = map[string]struct{}{
	"pending_item_id": {},
	"patient_id":      {},
	"provider_id":     {},
	"commission_pct":  {},
}

func (e *LineExtras) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, ok := extrasKeys[key]; !ok {
			return fmt.Errorf("unknown extras key %q", key)
		}
	}
	type plain LineExtras
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = LineExtras(p)
	return nil
}
