package tilestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/Antel0pe/stormtiles/gridtile"
)

// ErrTileNotFound is returned by Store.Get for keys with no stored tile.
var ErrTileNotFound = errors.New("tile not found")

// Store persists encoded tiles by key. Put is last-write-wins: a render is a
// pure function of its key, so concurrent writers storing the same key store
// the same bytes and need no coordination beyond the backend itself.
type Store interface {
	Get(ctx context.Context, key Key) (*gridtile.EncodedTile, error)
	Put(ctx context.Context, key Key, tile *gridtile.EncodedTile) error
	Close() error
}

// Byte-oriented backends keep a tile as a small fixed envelope in front of
// the PNG, so bounds and pixel size survive without decoding the image.
const (
	envelopeMagic   = "WFTL"
	envelopeVersion = 1
)

type envelopeHeader struct {
	Magic   [4]byte
	Version uint8
	_       [3]byte
	NX      uint32
	NY      uint32
	MinLon  float64
	MinLat  float64
	MaxLon  float64
	MaxLat  float64
}

// MarshalTile serializes a tile into its envelope form.
func MarshalTile(tile *gridtile.EncodedTile) []byte {
	h := envelopeHeader{
		Version: envelopeVersion,
		NX:      uint32(tile.NX),
		NY:      uint32(tile.NY),
		MinLon:  tile.Bounds.Left(),
		MinLat:  tile.Bounds.Bottom(),
		MaxLon:  tile.Bounds.Right(),
		MaxLat:  tile.Bounds.Top(),
	}
	copy(h.Magic[:], envelopeMagic)

	buf := bytes.NewBuffer(make([]byte, 0, binary.Size(h)+len(tile.Data)))
	// Writing a fixed-size struct to a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, h)
	buf.Write(tile.Data)
	return buf.Bytes()
}

// UnmarshalTile restores a tile from its envelope form.
func UnmarshalTile(data []byte) (*gridtile.EncodedTile, error) {
	var h envelopeHeader
	headerSize := binary.Size(h)
	if len(data) < headerSize {
		return nil, fmt.Errorf("tile envelope truncated: %d bytes", len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read tile envelope: %w", err)
	}
	if string(h.Magic[:]) != envelopeMagic {
		return nil, fmt.Errorf("bad tile envelope magic %q", h.Magic)
	}
	if h.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported tile envelope version %d", h.Version)
	}

	return &gridtile.EncodedTile{
		Data: append([]byte(nil), data[headerSize:]...),
		Bounds: orb.Bound{
			Min: orb.Point{h.MinLon, h.MinLat},
			Max: orb.Point{h.MaxLon, h.MaxLat},
		},
		NX: int(h.NX),
		NY: int(h.NY),
	}, nil
}
