package memory

import (
	"context"
	"maps"
	"sync"
)

// OverrideStore keeps relation-type overrides in a map.
type OverrideStore struct {
	mu        sync.RWMutex
	overrides map[string]string
}

func NewOverrideStore() *OverrideStore {
	return &OverrideStore{overrides: make(map[string]string)}
}

func (o *OverrideStore) GetOverrides(ctx context.Context) (map[string]string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return maps.Clone(o.overrides), nil
}

func (o *OverrideStore) SetOverride(ctx context.Context, label string, canonical string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides[label] = canonical
	return nil
}

func (o *OverrideStore) DeleteOverride(ctx context.Context, label string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.overrides, label)
	return nil
}
