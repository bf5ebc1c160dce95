package tilestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"

	"github.com/Antel0pe/stormtiles/gridtile"
)

// MBTiles persists tiles in a single SQLite file. The layout keeps the
// MBTiles convention of a tiles table plus a metadata name/value table, but
// tiles are addressed by (product, level, ts) instead of z/x/y, and the
// grid bounds and pixel size travel in columns next to the image bytes.
type MBTiles struct {
	db *sql.DB
}

// NewMBTiles opens the store at path, creating the file and schema when
// missing.
func NewMBTiles(path string) (*MBTiles, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	s := &MBTiles{db: db}
	if err := s.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MBTiles) setup() error {
	// Write-heavy tile stores run without fsync and with plain rollback
	// journaling; every tile can be regenerated from the archive.
	pragmas := []string{
		"PRAGMA synchronous=0",
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA journal_mode=DELETE",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	stmts := []string{
		`create table if not exists tiles (
			product text not null,
			level integer not null,
			ts text not null,
			tile_data blob not null,
			min_lon real not null,
			min_lat real not null,
			max_lon real not null,
			max_lat real not null,
			width integer not null,
			height integer not null)`,
		`create unique index if not exists tile_index on tiles (product, level, ts)`,
		`create table if not exists metadata (name text, value text)`,
		`create unique index if not exists metadata_name on metadata (name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("mbtiles setup: %w", err)
		}
	}

	meta := [][2]string{
		{"name", "stormtiles"},
		{"description", "weather field tiles addressed by product/level/datehour"},
		{"format", "png"},
		{"version", "1"},
	}
	for _, kv := range meta {
		if _, err := s.db.Exec("insert or ignore into metadata (name, value) values (?, ?)", kv[0], kv[1]); err != nil {
			return fmt.Errorf("mbtiles metadata: %w", err)
		}
	}
	return nil
}

func (s *MBTiles) Get(ctx context.Context, key Key) (*gridtile.EncodedTile, error) {
	key = key.Canonical()
	row := s.db.QueryRowContext(ctx,
		`select tile_data, min_lon, min_lat, max_lon, max_lat, width, height
		 from tiles where product = ? and level = ? and ts = ?`,
		string(key.Product), key.Level, key.timePart())

	var (
		data                           []byte
		minLon, minLat, maxLon, maxLat float64
		width, height                  int
	)
	err := row.Scan(&data, &minLon, &minLat, &maxLon, &maxLat, &width, &height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mbtiles get %s: %w", key, err)
	}

	return &gridtile.EncodedTile{
		Data: data,
		Bounds: orb.Bound{
			Min: orb.Point{minLon, minLat},
			Max: orb.Point{maxLon, maxLat},
		},
		NX: width,
		NY: height,
	}, nil
}

func (s *MBTiles) Put(ctx context.Context, key Key, tile *gridtile.EncodedTile) error {
	key = key.Canonical()
	_, err := s.db.ExecContext(ctx,
		`insert or replace into tiles
		 (product, level, ts, tile_data, min_lon, min_lat, max_lon, max_lat, width, height)
		 values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(key.Product), key.Level, key.timePart(), tile.Data,
		tile.Bounds.Left(), tile.Bounds.Bottom(), tile.Bounds.Right(), tile.Bounds.Top(),
		tile.NX, tile.NY)
	if err != nil {
		return fmt.Errorf("mbtiles put %s: %w", key, err)
	}
	return nil
}

func (s *MBTiles) Close() error {
	return s.db.Close()
}
