package tilestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Antel0pe/stormtiles/archive"
	"github.com/Antel0pe/stormtiles/gridtile"
	"github.com/Antel0pe/stormtiles/metrics"
)

// ErrNotFound reports a key with no stored tile and no source field to
// compute one from.
var ErrNotFound = errors.New("no data for key")

// FieldSource supplies the raw co-located channels a render starts from.
// archive.Reader implements it; tests substitute fakes.
type FieldSource interface {
	FieldSet(ctx context.Context, vars []string, level int, at time.Time) (*gridtile.FieldSet, error)
}

// Pipeline ties lookup-before-compute together: Get from the store, render
// from the field source on a miss, Put the result back. Concurrent requests
// for the same key share a single render.
type Pipeline struct {
	source   FieldSource
	store    Store
	renderer *gridtile.Renderer
	log      *slog.Logger

	group singleflight.Group
}

func NewPipeline(source FieldSource, store Store, renderer *gridtile.Renderer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{source: source, store: store, renderer: renderer, log: logger}
}

// Tile returns the tile for key, computing and persisting it when the store
// has no copy. cached reports whether the tile came straight from the store.
//
// Store read errors other than a miss are returned to the caller; a failed
// write after a successful render is logged and counted but does not discard
// the tile.
func (p *Pipeline) Tile(ctx context.Context, key Key) (tile *gridtile.EncodedTile, cached bool, err error) {
	key, prod, err := p.resolve(key)
	if err != nil {
		return nil, false, err
	}

	tile, err = p.store.Get(ctx, key)
	if err == nil {
		metrics.CacheHits.WithLabelValues(string(key.Product)).Inc()
		metrics.TilesServed.WithLabelValues(string(key.Product), "cache").Inc()
		return tile, true, nil
	}
	if !errors.Is(err, ErrTileNotFound) {
		return nil, false, fmt.Errorf("store get %s: %w", key, err)
	}
	metrics.CacheMisses.WithLabelValues(string(key.Product)).Inc()

	v, err, shared := p.group.Do(key.String(), func() (any, error) {
		rendered, err := p.render(ctx, key, prod)
		if err != nil {
			return nil, err
		}
		if err := p.store.Put(ctx, key, rendered); err != nil {
			metrics.StorePutFailures.WithLabelValues(string(key.Product)).Inc()
			p.log.Error("tile store put failed", "key", key.String(), "error", err)
		}
		return rendered, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		p.log.Debug("render shared between requests", "key", key.String())
	}
	metrics.TilesServed.WithLabelValues(string(key.Product), "render").Inc()
	return v.(*gridtile.EncodedTile), false, nil
}

// Refresh renders key from source and overwrites any stored copy. Unlike
// Tile, a store write failure is returned, since writing is the whole point
// of a refresh.
func (p *Pipeline) Refresh(ctx context.Context, key Key) (*gridtile.EncodedTile, error) {
	key, prod, err := p.resolve(key)
	if err != nil {
		return nil, err
	}
	tile, err := p.render(ctx, key, prod)
	if err != nil {
		return nil, err
	}
	if err := p.store.Put(ctx, key, tile); err != nil {
		return nil, fmt.Errorf("store put %s: %w", key, err)
	}
	return tile, nil
}

// resolve canonicalizes the key and looks up its product. Static products
// drop the time component, so every request maps to the one stored tile.
func (p *Pipeline) resolve(key Key) (Key, gridtile.Product, error) {
	prod, err := p.renderer.Registry().Product(key.Product)
	if err != nil {
		return key, prod, err
	}
	if prod.Static {
		key.Time = time.Time{}
	}
	return key.Canonical(), prod, nil
}

func (p *Pipeline) render(ctx context.Context, key Key, prod gridtile.Product) (*gridtile.EncodedTile, error) {
	fs, err := p.source.FieldSet(ctx, prod.Vars, key.Level, key.Time)
	if err != nil {
		if errors.Is(err, archive.ErrNoSlice) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("source fields for %s: %w", key, err)
	}

	start := time.Now()
	tile, err := p.renderer.Render(fs, key.Product, key.Level)
	if err != nil {
		metrics.RenderErrors.WithLabelValues(string(key.Product)).Inc()
		return nil, fmt.Errorf("render %s: %w", key, err)
	}
	metrics.RenderDuration.WithLabelValues(string(key.Product)).Observe(time.Since(start).Seconds())
	return tile, nil
}
