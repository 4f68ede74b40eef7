package pos

import (
	"context"
	"fmt"
	"sort"

	"github.com/vetbridge/vetbridge/internal/platform/cache"
	"github.com/vetbridge/vetbridge/internal/platform/possync"
)

// Snapshot is one model's data-load payload for a terminal.
type Snapshot struct {
	Domain string                   `json:"domain"`
	Fields []string                 `json:"fields"`
	Rows   []map[string]interface{} `json:"rows"`
}

// SnapshotSource produces the current snapshot of one model.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// SourceFunc adapts a function to SnapshotSource.
type SourceFunc func(ctx context.Context) (*Snapshot, error)

func (f SourceFunc) Snapshot(ctx context.Context) (*Snapshot, error) { return f(ctx) }

// Sync tiers. Critical models are pushed live over the terminal channel,
// periodic models are re-polled, static models load once per session.
const (
	TierCritical = "critical"
	TierPeriodic = "periodic"
	TierStatic   = "static"
)

var modelTiers = map[string]string{
	possync.ModelParty:       TierCritical,
	possync.ModelEncounter:   TierCritical,
	possync.ModelPendingItem: TierCritical,
	possync.ModelAppointment: TierCritical,
	possync.ModelRoom:        TierPeriodic,
	possync.ModelResource:    TierPeriodic,
	possync.ModelPartnerType: TierStatic,
}

// DataLoader serves model snapshots to terminals, caching each snapshot in
// Redis so a fleet reloading at once reads Postgres only once.
type DataLoader struct {
	cache   *cache.Cache
	sources map[string]SnapshotSource
}

func NewDataLoader(c *cache.Cache) *DataLoader {
	return &DataLoader{cache: c, sources: make(map[string]SnapshotSource)}
}

// Register binds a model name to its snapshot source. Unknown model names
// are a wiring bug.
func (l *DataLoader) Register(model string, src SnapshotSource) {
	if _, ok := modelTiers[model]; !ok {
		panic(fmt.Sprintf("pos: unknown sync model %q", model))
	}
	l.sources[model] = src
}

// Manifest lists the registered models grouped by sync tier.
func (l *DataLoader) Manifest() map[string][]string {
	out := map[string][]string{}
	for model := range l.sources {
		tier := modelTiers[model]
		out[tier] = append(out[tier], model)
	}
	for _, models := range out {
		sort.Strings(models)
	}
	return out
}

// Load returns the model's snapshot, from cache when fresh.
func (l *DataLoader) Load(ctx context.Context, model string) (*Snapshot, error) {
	src, ok := l.sources[model]
	if !ok {
		return nil, fmt.Errorf("no snapshot source for model %q", model)
	}

	key := "possync:snapshot:" + model
	var snap Snapshot
	hit, err := l.cache.GetJSON(ctx, key, &snap)
	if err == nil && hit {
		return &snap, nil
	}

	fresh, err := src.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	// Cache writes are best effort.
	_ = l.cache.SetJSON(ctx, key, fresh)
	return fresh, nil
}

// Invalidate drops cached snapshots so the next load is fresh. Called by
// back-office writers on critical-model changes.
func (l *DataLoader) Invalidate(ctx context.Context, models ...string) error {
	keys := make([]string, 0, len(models))
	for _, m := range models {
		keys = append(keys, "possync:snapshot:"+m)
	}
	return l.cache.Invalidate(ctx, keys...)
}
