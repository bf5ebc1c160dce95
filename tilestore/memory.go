package tilestore

import (
	"context"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/Antel0pe/stormtiles/gridtile"
)

// Memory is an in-process LRU tile store. It fronts a persistent backend as
// the fast layer of a Tiered store, or serves alone for ephemeral setups.
type Memory struct {
	cache *ccache.Cache[*gridtile.EncodedTile]
	ttl   time.Duration
}

// NewMemory sizes the cache at maxSize tiles, evicting itemsToPrune entries
// under pressure. A non-positive ttl falls back to ten minutes.
func NewMemory(maxSize int64, itemsToPrune uint32, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Memory{
		cache: ccache.New(ccache.Configure[*gridtile.EncodedTile]().MaxSize(maxSize).ItemsToPrune(itemsToPrune)),
		ttl:   ttl,
	}
}

func (m *Memory) Get(_ context.Context, key Key) (*gridtile.EncodedTile, error) {
	item := m.cache.Get(key.Canonical().String())
	if item == nil || item.Expired() {
		return nil, ErrTileNotFound
	}
	return item.Value(), nil
}

func (m *Memory) Put(_ context.Context, key Key, tile *gridtile.EncodedTile) error {
	m.cache.Set(key.Canonical().String(), tile, m.ttl)
	return nil
}

func (m *Memory) Close() error {
	m.cache.Stop()
	return nil
}
