package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Antel0pe/stormtiles/gridtile"
	"github.com/Antel0pe/stormtiles/tilestore"
)

func archiveHours(n int) []time.Time {
	times := make([]time.Time, n)
	for i := range times {
		times[i] = time.Date(2017, 9, 1, i, 0, 0, 0, time.UTC)
	}
	return times
}

func TestParseWindow(t *testing.T) {
	w, err := parseWindow("", "")
	require.NoError(t, err)
	assert.True(t, w.contains(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)))

	w, err = parseWindow("2017090106", "2017090112")
	require.NoError(t, err)
	assert.False(t, w.contains(time.Date(2017, 9, 1, 5, 0, 0, 0, time.UTC)))
	assert.True(t, w.contains(time.Date(2017, 9, 1, 6, 0, 0, 0, time.UTC)))
	assert.True(t, w.contains(time.Date(2017, 9, 1, 12, 0, 0, 0, time.UTC)))
	assert.False(t, w.contains(time.Date(2017, 9, 1, 13, 0, 0, 0, time.UTC)))

	_, err = parseWindow("notatime", "")
	assert.ErrorIs(t, err, tilestore.ErrInvalidTimestamp)

	_, err = parseWindow("2017090112", "2017090106")
	assert.Error(t, err)
}

func TestBuildJobs(t *testing.T) {
	registry := gridtile.DefaultRegistry()
	times := archiveHours(3)

	jobs, err := buildJobs(registry, times, "gph,landmask", "500", window{})
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	var static int
	for _, key := range jobs {
		if key.Product == gridtile.ProductLandMask {
			static++
			assert.Zero(t, key.Level)
			assert.True(t, key.Time.IsZero(), "static jobs carry no time")
		} else {
			assert.Equal(t, gridtile.ProductGPH, key.Product)
			assert.Equal(t, 500, key.Level)
		}
	}
	assert.Equal(t, 1, static, "one timeless job per static product")
}

func TestBuildJobsWindowFilter(t *testing.T) {
	registry := gridtile.DefaultRegistry()
	w, err := parseWindow("2017090101", "")
	require.NoError(t, err)

	jobs, err := buildJobs(registry, archiveHours(3), "gph", "500", w)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestBuildJobsLevellessProduct(t *testing.T) {
	// Products without a level dimension render at level 0 no matter which
	// levels were requested.
	registry := gridtile.DefaultRegistry()

	jobs, err := buildJobs(registry, archiveHours(2), "cloud-lmh", "500,250", window{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, key := range jobs {
		assert.Zero(t, key.Level)
	}
}

func TestBuildJobsSkipsUnservedLevels(t *testing.T) {
	registry := gridtile.DefaultRegistry()

	jobs, err := buildJobs(registry, archiveHours(2), "wind-uv", "500,700", window{})
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "700 hPa is not in the catalog for wind-uv")
}

func TestBuildJobsUnknownProduct(t *testing.T) {
	registry := gridtile.DefaultRegistry()

	_, err := buildJobs(registry, archiveHours(1), "gph,vorticity", "500", window{})
	assert.ErrorIs(t, err, gridtile.ErrUnknownProduct)
}

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels("850, 500,250")
	require.NoError(t, err)
	assert.Equal(t, []int{850, 500, 250}, levels)

	_, err = parseLevels("500,low")
	assert.Error(t, err)
}
