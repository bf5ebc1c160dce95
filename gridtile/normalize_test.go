// gridtile/normalize_test.go
package gridtile

import (
	"errors"
	"math"
	"testing"
)

const epsilon = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// grid builds a single-channel field set where every cell holds
// 10*row + column, which makes permutations easy to spot.
func grid(lat, lon []float64) *FieldSet {
	vals := make([]float32, len(lat)*len(lon))
	for j := range lat {
		for i := range lon {
			vals[j*len(lon)+i] = float32(j*10 + i)
		}
	}
	return &FieldSet{Lat: lat, Lon: lon, Channels: [][]float32{vals}}
}

func TestNormalizeCanonicalUnchanged(t *testing.T) {
	fs := grid([]float64{90, 45, -45, -90}, []float64{-180, -90, 0, 90})

	out, info, err := Normalize(fs)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if info.Shift != 0 || info.Sorted || info.Flipped {
		t.Errorf("expected no-op transform, got %+v", info)
	}
	for i, want := range fs.Lon {
		if out.Lon[i] != want {
			t.Errorf("lon[%d] = %v, want %v", i, out.Lon[i], want)
		}
	}
	for j, want := range fs.Lat {
		if out.Lat[j] != want {
			t.Errorf("lat[%d] = %v, want %v", j, out.Lat[j], want)
		}
	}
	for k, want := range fs.Channels[0] {
		if out.Channels[0][k] != want {
			t.Errorf("channel[%d] = %v, want %v", k, out.Channels[0][k], want)
		}
	}

	// The result must be a copy: writing to it may not touch the input.
	out.Channels[0][0] = -1
	out.Lon[0] = -999
	if fs.Channels[0][0] == -1 || fs.Lon[0] == -999 {
		t.Error("Normalize aliased the input slices")
	}
}

func TestNormalizeRewrapQuarterDegree(t *testing.T) {
	// A full 0..360 axis at 0.25 degree spacing, the native ERA5 layout.
	nx := 1440
	lon := make([]float64, nx)
	for i := range lon {
		lon[i] = 0.25 * float64(i)
	}
	fs := grid([]float64{50, 40}, lon)

	out, info, err := Normalize(fs)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if want := nx / 2; info.Shift != want {
		t.Fatalf("shift = %d, want %d", info.Shift, want)
	}
	if out.Lon[0] != -180.0 {
		t.Errorf("lon[0] = %v, want -180", out.Lon[0])
	}
	if out.Lon[nx-1] != 179.75 {
		t.Errorf("lon[last] = %v, want 179.75", out.Lon[nx-1])
	}
	for i := 1; i < nx; i++ {
		if out.Lon[i] <= out.Lon[i-1] {
			t.Fatalf("lon not strictly increasing at %d: %v <= %v", i, out.Lon[i], out.Lon[i-1])
		}
	}

	// The value that sat at longitude 0 must land at the column whose
	// coordinate is 0 again, which is exactly the shift.
	if got := out.Channels[0][info.Shift]; got != 0 {
		t.Errorf("value from longitude 0 ended up as %v, want 0", got)
	}
	if !floatEquals(out.Lon[info.Shift], 0) {
		t.Errorf("lon[shift] = %v, want 0", out.Lon[info.Shift])
	}

	// Same number of pixels in, same number out.
	if len(out.Lon) != nx || len(out.Channels[0]) != len(fs.Channels[0]) {
		t.Error("normalization changed the grid size")
	}
}

func TestNormalizeRollAndFlip(t *testing.T) {
	// Four columns on a 0..360 axis and an ascending latitude axis, so both
	// the rotation and the flip trigger. Worked out by hand: shift is 2,
	// rows reverse, and cell values follow their coordinates.
	fs := grid([]float64{-90, -45, 45, 90}, []float64{0, 90, 180, 270})

	out, info, err := Normalize(fs)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if info.Shift != 2 {
		t.Errorf("shift = %d, want 2", info.Shift)
	}
	if !info.Flipped {
		t.Error("expected a latitude flip")
	}
	if info.Sorted {
		t.Error("expected no seam re-sort for an aligned axis")
	}

	wantLon := []float64{-180, -90, 0, 90}
	for i, want := range wantLon {
		if !floatEquals(out.Lon[i], want) {
			t.Errorf("lon[%d] = %v, want %v", i, out.Lon[i], want)
		}
	}
	wantLat := []float64{90, 45, -45, -90}
	for j, want := range wantLat {
		if !floatEquals(out.Lat[j], want) {
			t.Errorf("lat[%d] = %v, want %v", j, out.Lat[j], want)
		}
	}

	want := []float32{
		32, 33, 30, 31,
		22, 23, 20, 21,
		12, 13, 10, 11,
		2, 3, 0, 1,
	}
	for k, w := range want {
		if out.Channels[0][k] != w {
			t.Fatalf("channel[%d] = %v, want %v", k, out.Channels[0][k], w)
		}
	}

	// Spot check one cell end to end: input row 2 col 0 (45N, 0E) held 20;
	// 45N is now row 1 and 0E column 2.
	if out.Channels[0][1*4+2] != 20 {
		t.Errorf("value at (45N, 0E) = %v, want 20", out.Channels[0][1*4+2])
	}

	if !floatEquals(info.LonMin, -180) || !floatEquals(info.LonMax, 90) {
		t.Errorf("lon range = [%v,%v], want [-180,90]", info.LonMin, info.LonMax)
	}
	if !floatEquals(info.LatMin, -90) || !floatEquals(info.LatMax, 90) {
		t.Errorf("lat range = [%v,%v], want [-90,90]", info.LatMin, info.LatMax)
	}
}

func TestNormalizeSeamJitter(t *testing.T) {
	// A hair of negative jitter on the first coordinate pushes its wrapped
	// value to just under +180 instead of -180, so the axis comes out of the
	// wrap unsorted and the seam re-sort has to move it to the end. Both
	// channels must follow identically.
	lon := []float64{-1e-9, 90, 180, 270}
	lat := []float64{20, 10}
	a := []float32{0, 1, 2, 3, 10, 11, 12, 13}
	b := []float32{100, 101, 102, 103, 110, 111, 112, 113}
	fs := &FieldSet{Lat: lat, Lon: lon, Channels: [][]float32{a, b}}

	out, info, err := Normalize(fs)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if !info.Sorted {
		t.Fatal("expected the seam re-sort to trigger")
	}
	if info.Shift != 2 {
		t.Errorf("shift = %d, want 2", info.Shift)
	}

	wantLon := []float64{-90, 0, 90, 180}
	for i, want := range wantLon {
		if math.Abs(out.Lon[i]-want) > 1e-6 {
			t.Errorf("lon[%d] = %v, want about %v", i, out.Lon[i], want)
		}
	}
	if out.Lon[3] >= 180 {
		t.Errorf("seam column wrapped to %v, want just under 180", out.Lon[3])
	}

	// Roll by 2 gives columns [2,3,0,1]; the re-sort then moves the first
	// column to the back: [3,0,1,2].
	wantA := []float32{3, 0, 1, 2, 13, 10, 11, 12}
	wantB := []float32{103, 100, 101, 102, 113, 110, 111, 112}
	for k := range wantA {
		if out.Channels[0][k] != wantA[k] {
			t.Fatalf("channel a[%d] = %v, want %v", k, out.Channels[0][k], wantA[k])
		}
		if out.Channels[1][k] != wantB[k] {
			t.Fatalf("channel b[%d] = %v, want %v", k, out.Channels[1][k], wantB[k])
		}
	}
}

func TestNormalizeLatFlipOnly(t *testing.T) {
	ny := 721
	lat := make([]float64, ny)
	for j := range lat {
		lat[j] = -90 + 0.25*float64(j)
	}
	fs := grid(lat, []float64{-180, -90, 0, 90})

	out, info, err := Normalize(fs)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	if !info.Flipped || info.Shift != 0 || info.Sorted {
		t.Errorf("expected only a flip, got %+v", info)
	}
	if out.Lat[0] != 90 || out.Lat[ny-1] != -90 {
		t.Errorf("lat endpoints = %v..%v, want 90..-90", out.Lat[0], out.Lat[ny-1])
	}
	// Row j of the output is row ny-1-j of the input.
	nx := 4
	for _, j := range []int{0, 1, ny / 2, ny - 1} {
		for i := 0; i < nx; i++ {
			want := float32((ny-1-j)*10 + i)
			if got := out.Channels[0][j*nx+i]; got != want {
				t.Fatalf("cell (%d,%d) = %v, want %v", j, i, got, want)
			}
		}
	}
}

func TestNormalizeDegenerateAxes(t *testing.T) {
	tests := []struct {
		name string
		lat  []float64
		lon  []float64
	}{
		{"single column", []float64{30, 20}, []float64{240}},
		{"single row", []float64{30}, []float64{200, 210}},
		{"empty", nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := grid(tc.lat, tc.lon)
			out, _, err := Normalize(fs)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if len(out.Lon) != len(tc.lon) || len(out.Lat) != len(tc.lat) {
				t.Error("axis length changed")
			}
		})
	}
}

func TestNormalizeShapeError(t *testing.T) {
	fs := &FieldSet{
		Lat:      []float64{10, 20},
		Lon:      []float64{0, 90},
		Channels: [][]float32{{1, 2, 3}},
	}
	_, _, err := Normalize(fs)
	if err == nil {
		t.Fatal("expected an error for a misshapen channel")
	}
	var shapeErr *ShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected a ShapeError, got %v", err)
	}
	if shapeErr.Got != 3 || shapeErr.Want != 4 {
		t.Errorf("ShapeError = %+v, want Got=3 Want=4", shapeErr)
	}
}

func TestBounds(t *testing.T) {
	tests := []struct {
		name                           string
		lat, lon                       []float64
		minLon, minLat, maxLon, maxLat float64
	}{
		{"normalized", []float64{90, -90}, []float64{-180, 179.75}, -180, -90, 179.75, 90},
		{"ascending", []float64{-90, 90}, []float64{0, 359.75}, 0, -90, 359.75, 90},
		{"regional", []float64{60, 10}, []float64{-100, -40}, -100, 10, -40, 60},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := Bounds(tc.lat, tc.lon)
			if b.Left() != tc.minLon || b.Bottom() != tc.minLat || b.Right() != tc.maxLon || b.Top() != tc.maxLat {
				t.Errorf("Bounds = %v, want [%v,%v,%v,%v]", b, tc.minLon, tc.minLat, tc.maxLon, tc.maxLat)
			}
			if b.Left() > b.Right() || b.Bottom() > b.Top() {
				t.Error("bounds are inverted")
			}
		})
	}
}
