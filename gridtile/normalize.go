package gridtile

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// NormInfo carries the diagnostics of a Normalize call: the column rotation
// that was applied, whether a seam re-sort or a latitude flip was needed, and
// the axis ranges of the result. Callers that want visibility into the
// transform log these values; the transform itself never writes anywhere.
type NormInfo struct {
	Shift   int
	Sorted  bool
	Flipped bool

	LonMin, LonMax float64
	LatMin, LatMax float64
}

// Normalize rewraps the longitude axis of fs into ascending [-180,180) order
// and flips the latitude axis so rows run north to south, applying the exact
// same column rotation, seam re-sort and row reversal to every channel. Grids
// published on a 0..360 longitude axis come out rotated onto the -180..180
// convention; grids already canonical pass through with their values intact.
//
// The input is never modified. The returned FieldSet owns fresh slices, so a
// caller may keep using fs concurrently.
func Normalize(fs *FieldSet) (*FieldSet, NormInfo, error) {
	if err := fs.validate(); err != nil {
		return nil, NormInfo{}, err
	}
	nx, ny := fs.NX(), fs.NY()

	lon := append([]float64(nil), fs.Lon...)
	lat := append([]float64(nil), fs.Lat...)
	channels := make([][]float32, len(fs.Channels))
	for c, ch := range fs.Channels {
		channels[c] = append([]float32(nil), ch...)
	}

	var info NormInfo

	// Rewrap the longitude axis. An axis already inside [-180,180] is left
	// alone, and a single-column axis has no spacing to rewrap with.
	if nx >= 2 && !canonicalLon(lon) {
		// Rounding the spacing to 1e-6 degrees absorbs the float noise that
		// netCDF coordinate arrays commonly carry.
		dlon := round6(lon[1] - lon[0])

		shift := int(math.Round((-180.0-lon[0])/dlon)) % nx
		if shift < 0 {
			shift += nx
		}
		info.Shift = shift

		if shift != 0 {
			for c := range channels {
				channels[c] = rollColumns(channels[c], ny, nx, shift)
			}
		}
		for i := range lon {
			lon[i] = wrapLon(lon[i] + float64(shift)*dlon)
		}

		// Wrapping can leave the seam column slightly out of order when the
		// source axis carries jitter. A stable sort permutation repairs the
		// axis, and the same permutation is applied to every channel so
		// co-located fields stay pixel-aligned.
		if order := sortOrder(lon); order != nil {
			info.Sorted = true
			sorted := make([]float64, nx)
			for i, src := range order {
				sorted[i] = lon[src]
			}
			lon = sorted
			for c := range channels {
				channels[c] = permuteColumns(channels[c], ny, nx, order)
			}
		}
	}

	// Flip an ascending latitude axis so row 0 is the northernmost.
	if ny >= 2 && lat[0] < lat[ny-1] {
		info.Flipped = true
		reverseAxis(lat)
		for c := range channels {
			reverseRows(channels[c], ny, nx)
		}
	}

	if nx > 0 {
		info.LonMin = math.Min(lon[0], lon[nx-1])
		info.LonMax = math.Max(lon[0], lon[nx-1])
	}
	if ny > 0 {
		info.LatMin = math.Min(lat[0], lat[ny-1])
		info.LatMax = math.Max(lat[0], lat[ny-1])
	}

	return &FieldSet{Lat: lat, Lon: lon, Channels: channels}, info, nil
}

// Bounds derives the geographic bounding box spanned by a pair of coordinate
// axes. Endpoints are compared with min/max, so the box is valid whether or
// not the axes have been normalized yet.
func Bounds(lat, lon []float64) orb.Bound {
	if len(lat) == 0 || len(lon) == 0 {
		return orb.Bound{}
	}
	return orb.Bound{
		Min: orb.Point{
			math.Min(lon[0], lon[len(lon)-1]),
			math.Min(lat[0], lat[len(lat)-1]),
		},
		Max: orb.Point{
			math.Max(lon[0], lon[len(lon)-1]),
			math.Max(lat[0], lat[len(lat)-1]),
		},
	}
}

func canonicalLon(lon []float64) bool {
	min, max := lon[0], lon[0]
	for _, v := range lon[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min >= -180.0 && max <= 180.0
}

// wrapLon maps any longitude onto [-180,180). The modulo is forced
// non-negative so the result does not depend on the sign of the input.
func wrapLon(l float64) float64 {
	m := math.Mod(l+180.0, 360.0)
	if m < 0 {
		m += 360.0
	}
	return m - 180.0
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// rollColumns rotates the columns of a row-major grid right by shift, so
// column i of the output is column (i-shift) mod nx of the input.
func rollColumns(vals []float32, ny, nx, shift int) []float32 {
	out := make([]float32, len(vals))
	for j := 0; j < ny; j++ {
		row := j * nx
		for i := 0; i < nx; i++ {
			out[row+i] = vals[row+(i-shift+nx)%nx]
		}
	}
	return out
}

// permuteColumns reorders the columns of a row-major grid so column i of the
// output is column order[i] of the input.
func permuteColumns(vals []float32, ny, nx int, order []int) []float32 {
	out := make([]float32, len(vals))
	for j := 0; j < ny; j++ {
		row := j * nx
		for i, src := range order {
			out[row+i] = vals[row+src]
		}
	}
	return out
}

// sortOrder returns the stable ascending sort permutation of v, or nil when
// v is already in order.
func sortOrder(v []float64) []int {
	if sort.Float64sAreSorted(v) {
		return nil
	}
	order := make([]int, len(v))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return v[order[a]] < v[order[b]] })
	return order
}

func reverseAxis(v []float64) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}

func reverseRows(vals []float32, ny, nx int) {
	for top, bottom := 0, ny-1; top < bottom; top, bottom = top+1, bottom-1 {
		a := vals[top*nx : top*nx+nx]
		b := vals[bottom*nx : bottom*nx+nx]
		for i := range a {
			a[i], b[i] = b[i], a[i]
		}
	}
}
