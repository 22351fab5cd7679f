package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// PinStore keeps the set of pinned conversation ids of one user.
type PinStore struct {
	kv  KV
	key string
}

func NewPinStore(kv KV, userID string) *PinStore {
	return &PinStore{kv: kv, key: "pinned:" + userID}
}

// Load returns the pinned set; an unset key yields an empty set.
func (p *PinStore) Load(ctx context.Context) (map[string]struct{}, error) {
	raw, found, err := p.kv.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p.key, err)
	}
	out := make(map[string]struct{})
	if !found || len(raw) == 0 {
		return out, nil
	}
	var ids []string
	if err := cbor.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p.key, err)
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Save replaces the pinned set. Ids are stored sorted.
func (p *PinStore) Save(ctx context.Context, pinned map[string]struct{}) error {
	ids := make([]string, 0, len(pinned))
	for id := range pinned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := cbor.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.key, err)
	}
	if err := p.kv.Set(ctx, p.key, raw); err != nil {
		return fmt.Errorf("save %s: %w", p.key, err)
	}
	return nil
}
