package tilestore

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/Antel0pe/stormtiles/gridtile"
)

// Valkey keeps envelope-encoded tiles in a Valkey server, for deployments
// where several serving instances share one tile cache.
type Valkey struct {
	client valkey.Client
	ttl    time.Duration
	prefix string
}

// NewValkey connects to addr. A non-positive ttl stores tiles without
// expiry, which suits immutable tile addresses.
func NewValkey(addr string, ttl time.Duration) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect %s: %w", addr, err)
	}
	return &Valkey{client: client, ttl: ttl, prefix: "tile:"}, nil
}

func (s *Valkey) Get(ctx context.Context, key Key) (*gridtile.EncodedTile, error) {
	k := s.prefix + key.Canonical().String()
	resp := s.client.Do(ctx, s.client.B().Get().Key(k).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrTileNotFound
		}
		return nil, fmt.Errorf("valkey get %s: %w", k, err)
	}
	data, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("valkey get %s: %w", k, err)
	}
	return UnmarshalTile(data)
}

func (s *Valkey) Put(ctx context.Context, key Key, tile *gridtile.EncodedTile) error {
	k := s.prefix + key.Canonical().String()
	data := string(MarshalTile(tile))

	var cmd valkey.Completed
	if s.ttl > 0 {
		cmd = s.client.B().Set().Key(k).Value(data).Ex(s.ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(k).Value(data).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey put %s: %w", k, err)
	}
	return nil
}

func (s *Valkey) Close() error {
	s.client.Close()
	return nil
}
