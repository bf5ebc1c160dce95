// Package tilestore persists rendered tiles and orchestrates the
// lookup-before-compute flow around them. A tile is addressed by product,
// pressure level and hour; backends range from an in-process LRU to an
// MBTiles file and a shared Valkey server.
package tilestore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Antel0pe/stormtiles/gridtile"
)

// ErrInvalidTimestamp reports a datehour string matching none of the
// accepted layouts.
var ErrInvalidTimestamp = errors.New("invalid datehour format")

// isoLayouts are the ISO-like forms accepted next to the compact digit
// forms. A trailing Z is tolerated and stripped before parsing.
var isoLayouts = []string{
	"2006-01-02T15",
	"2006-01-02 15",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseDateHour parses the datehour grammar of tile addresses: YYYYMMDDHH,
// YYYYMMDDHHMM, or YYYY-MM-DDTHH with optional minutes, a space instead of
// the T, and an optional trailing Z. Tile keys have hour resolution, so any
// minutes are truncated and the result is always UTC.
func ParseDateHour(s string) (time.Time, error) {
	v := strings.TrimSpace(s)

	if isDigits(v) {
		var layout string
		switch len(v) {
		case 10:
			layout = "2006010215"
		case 12:
			layout = "200601021504"
		default:
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		t, err := time.ParseInLocation(layout, v, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
		}
		return t.Truncate(time.Hour), nil
	}

	iso := strings.TrimSuffix(v, "Z")
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, iso, time.UTC); err == nil {
			return t.Truncate(time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Key addresses one tile. Static products carry level 0 and the zero time.
type Key struct {
	Product gridtile.ProductKind
	Level   int
	Time    time.Time
}

// Canonical truncates the key time to the hour in UTC, so equal addresses
// always compare and format equal.
func (k Key) Canonical() Key {
	if !k.Time.IsZero() {
		k.Time = k.Time.UTC().Truncate(time.Hour)
	}
	return k
}

// String formats the key as product/level/YYYYMMDDHH. Timeless keys end in
// "static".
func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.Product, k.Level, k.timePart())
}

func (k Key) timePart() string {
	if k.Time.IsZero() {
		return "static"
	}
	return k.Time.UTC().Format("2006010215")
}
