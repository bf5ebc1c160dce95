package tilestore

import (
	"context"
	"errors"

	"github.com/Antel0pe/stormtiles/gridtile"
)

// Tiered layers a fast front store over an authoritative back store. Reads
// promote back-store hits into the front; writes go through to both.
type Tiered struct {
	front Store
	back  Store
}

func NewTiered(front, back Store) *Tiered {
	return &Tiered{front: front, back: back}
}

func (s *Tiered) Get(ctx context.Context, key Key) (*gridtile.EncodedTile, error) {
	tile, err := s.front.Get(ctx, key)
	if err == nil {
		return tile, nil
	}
	if !errors.Is(err, ErrTileNotFound) {
		return nil, err
	}

	tile, err = s.back.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Promotion is best effort; the authoritative copy is already in hand.
	_ = s.front.Put(ctx, key, tile)
	return tile, nil
}

func (s *Tiered) Put(ctx context.Context, key Key, tile *gridtile.EncodedTile) error {
	if err := s.back.Put(ctx, key, tile); err != nil {
		return err
	}
	return s.front.Put(ctx, key, tile)
}

func (s *Tiered) Close() error {
	return errors.Join(s.front.Close(), s.back.Close())
}
