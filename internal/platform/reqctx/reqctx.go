// Package reqctx carries per-request business context through
// context.Context: who is acting, on which effective date, and the display
// flags that used to live in an implicit environment.
package reqctx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const requestContextKey contextKey = "request_context"

// RequestContext is the explicit replacement for an ambient environment.
// Every field has a safe zero value so handlers can pass it through
// untouched when the caller supplied nothing.
type RequestContext struct {
	// Actor is the authenticated party performing the operation.
	Actor uuid.UUID
	// EffectiveDate overrides "today" for daily-grouped records.
	// Zero means the wall clock decides.
	EffectiveDate time.Time
	// SuppressOwnerSuffix disables the "{patient} [{owner}]" display
	// decoration on owner-side listings.
	SuppressOwnerSuffix bool
	// ForcePeriodDate pins period-derived fields to EffectiveDate even
	// when the record carries its own timestamps.
	ForcePeriodDate bool
}

// With returns a child context carrying rc.
func With(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// From extracts the RequestContext, or a zero value when none was set.
func From(ctx context.Context) RequestContext {
	rc, _ := ctx.Value(requestContextKey).(RequestContext)
	return rc
}

// Today resolves the effective date: the explicit override when set,
// otherwise the current UTC date truncated to midnight.
func (rc RequestContext) Today() time.Time {
	if !rc.EffectiveDate.IsZero() {
		return rc.EffectiveDate.Truncate(24 * time.Hour)
	}
	return time.Now().UTC().Truncate(24 * time.Hour)
}
