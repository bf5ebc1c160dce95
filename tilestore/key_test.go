// tilestore/key_test.go
package tilestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Antel0pe/stormtiles/gridtile"
)

func TestParseDateHour(t *testing.T) {
	want := time.Date(2017, 9, 1, 18, 0, 0, 0, time.UTC)

	valid := []string{
		"2017090118",
		"201709011830", // minutes are tolerated and truncated
		"2017-09-01T18",
		"2017-09-01T18Z",
		"2017-09-01 18",
		"2017-09-01T18:30",
		"2017-09-01 18:30",
		"2017-09-01 18:45Z",
		"  2017090118  ",
	}
	for _, in := range valid {
		t.Run(in, func(t *testing.T) {
			got, err := ParseDateHour(in)
			require.NoError(t, err)
			assert.True(t, got.Equal(want), "ParseDateHour(%q) = %v, want %v", in, got, want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	invalid := []string{
		"",
		"2017",
		"2017090",      // too short
		"20170901181",  // 11 digits
		"2017133118",   // month 13
		"2017-09-01",   // date without hour
		"09/01/2017 18",
		"notadate",
	}
	for _, in := range invalid {
		t.Run("invalid "+in, func(t *testing.T) {
			_, err := ParseDateHour(in)
			assert.ErrorIs(t, err, ErrInvalidTimestamp)
		})
	}
}

func TestKeyString(t *testing.T) {
	k := Key{
		Product: gridtile.ProductGPH,
		Level:   500,
		Time:    time.Date(2017, 9, 1, 18, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "gph/500/2017090118", k.String())

	static := Key{Product: gridtile.ProductLandMask}
	assert.Equal(t, "landmask/0/static", static.String())
}

func TestKeyCanonical(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	k := Key{
		Product: gridtile.ProductTemp,
		Level:   850,
		Time:    time.Date(2017, 9, 1, 13, 45, 12, 0, est),
	}
	c := k.Canonical()
	assert.True(t, c.Time.Equal(time.Date(2017, 9, 1, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t, "temp/850/2017090118", c.String())

	// Two differently spelled addresses of the same hour collapse to one key.
	other := Key{Product: gridtile.ProductTemp, Level: 850, Time: time.Date(2017, 9, 1, 18, 59, 0, 0, time.UTC)}
	assert.Equal(t, c.String(), other.Canonical().String())

	// The zero time stays zero.
	static := Key{Product: gridtile.ProductLandMask}
	assert.True(t, static.Canonical().Time.IsZero())
}
