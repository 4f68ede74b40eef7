package pos

import (
	"context"
	"testing"

	"github.com/vetbridge/vetbridge/internal/platform/possync"
)

func TestDataLoader_LoadAndManifest(t *testing.T) {
	l := NewDataLoader(nil) // disabled cache
	calls := 0
	l.Register(possync.ModelParty, SourceFunc(func(ctx context.Context) (*Snapshot, error) {
		calls++
		return &Snapshot{
			Domain: "party",
			Fields: []string{"id", "name"},
			Rows:   []map[string]interface{}{{"id": "1", "name": "Walk-in Patient (W00001)"}},
		}, nil
	}))
	l.Register(possync.ModelPartnerType, SourceFunc(func(ctx context.Context) (*Snapshot, error) {
		return &Snapshot{Domain: "partner_type"}, nil
	}))

	snap, err := l.Load(context.Background(), possync.ModelParty)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Rows) != 1 || calls != 1 {
		t.Errorf("rows=%d calls=%d", len(snap.Rows), calls)
	}

	if _, err := l.Load(context.Background(), "no_such_model"); err == nil {
		t.Error("unknown model must fail")
	}

	m := l.Manifest()
	if len(m[TierCritical]) != 1 || m[TierCritical][0] != possync.ModelParty {
		t.Errorf("critical tier = %v", m[TierCritical])
	}
	if len(m[TierStatic]) != 1 {
		t.Errorf("static tier = %v", m[TierStatic])
	}
}
