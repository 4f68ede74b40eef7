// Package sequence issues durable external codes (party references,
// encounter and appointment names, walk-in identities) from named counters.
package sequence

import (
	"context"
	"fmt"
	"sync"

	"github.com/vetbridge/vetbridge/internal/platform/apperr"
)

// Reserved sequence codes.
const (
	CodeEncounter   = "medical.encounter"
	CodeAppointment = "medical.appointment"
	CodeWalkin      = "partner.walkin"
	CodePosOrder    = "pos.order"
)

// Sequencer hands out the next formatted value of a named sequence.
type Sequencer interface {
	Next(ctx context.Context, code string) (string, error)
}

// Format renders a sequence value as prefix plus zero-padded number.
func Format(prefix string, padding int, n int64) string {
	return fmt.Sprintf("%s%0*d", prefix, padding, n)
}

// Memory is an in-process Sequencer used by tests and by components that
// have no database at hand.
type Memory struct {
	mu   sync.Mutex
	defs map[string]*memoryDef
}

type memoryDef struct {
	prefix  string
	padding int
	next    int64
}

// NewMemory creates an empty in-memory sequencer. Define must be called
// before Next for each code.
func NewMemory() *Memory {
	return &Memory{defs: make(map[string]*memoryDef)}
}

// Define registers a sequence starting at 1.
func (m *Memory) Define(code, prefix string, padding int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[code] = &memoryDef{prefix: prefix, padding: padding, next: 1}
}

func (m *Memory) Next(_ context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.defs[code]
	if !ok {
		return "", apperr.E(apperr.ConfigurationMissing, "sequence %q is not defined", code)
	}
	n := def.next
	def.next++
	return Format(def.prefix, def.padding, n), nil
}
