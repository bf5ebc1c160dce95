package gridtile

import "math"

// Terrain quantization: meters are offset by 10 km and stored at 0.1 m
// resolution in a 24-bit integer split across the R, G and B bytes. The
// layout is the Mapbox terrain-RGB convention, so existing map clients can
// decode height tiles without custom code.
const (
	terrainOffsetM    = 10000.0
	terrainPrecisionM = 0.1
	terrainMax        = 0xFFFFFF
)

// encodeTerrain packs a height-like value in meters into the three color
// bytes of a pixel. Non-finite input maps to zero bytes, and values outside
// the representable span are clamped.
func encodeTerrain(v float32) (r, g, b uint8) {
	f := float64(v)
	if !finite(f) {
		return 0, 0, 0
	}
	scaled := math.Round((f + terrainOffsetM) / terrainPrecisionM)
	if scaled < 0 {
		scaled = 0
	} else if scaled > terrainMax {
		scaled = terrainMax
	}
	s := uint32(scaled)
	return uint8(s >> 16), uint8(s >> 8), uint8(s)
}

// TerrainValue is the inverse of the terrain encoding: it reconstructs
// meters from the three color bytes of a pixel.
func TerrainValue(r, g, b uint8) float64 {
	s := uint32(r)<<16 | uint32(g)<<8 | uint32(b)
	return float64(s)*terrainPrecisionM - terrainOffsetM
}

// scaleFixed maps v linearly from [min,max] onto 0..255, clipping values
// outside the range. Non-finite values and degenerate ranges map to 0 so
// missing data never leaks into a channel.
func scaleFixed(v float32, min, max float64) uint8 {
	if max <= min || !finite(min) || !finite(max) {
		return 0
	}
	f := float64(v)
	if !finite(f) {
		return 0
	}
	s := (f - min) / (max - min)
	if s < 0 {
		s = 0
	} else if s > 1 {
		s = 1
	}
	return uint8(math.Round(s * 255.0))
}

// scaleAdaptive maps vals onto 0..255 using the range observed in this slice
// alone. A slice with no finite value encodes to all zeros, and a constant
// slice to mid-gray, so degenerate inputs still produce a readable image.
// The output is not comparable across slices; callers wanting stable colors
// over time use the fixed policy instead.
func scaleAdaptive(vals []float32) []uint8 {
	out := make([]uint8, len(vals))
	min, max, ok := sliceRange(vals)
	if !ok {
		return out
	}
	if max <= min {
		for i, v := range vals {
			if finite(float64(v)) {
				out[i] = 127
			}
		}
		return out
	}
	for i, v := range vals {
		out[i] = scaleFixed(v, min, max)
	}
	return out
}

// sliceRange returns the finite minimum and maximum of vals. ok is false
// when no finite value exists.
func sliceRange(vals []float32) (min, max float64, ok bool) {
	for _, v := range vals {
		f := float64(v)
		if !finite(f) {
			continue
		}
		if !ok {
			min, max, ok = f, f, true
			continue
		}
		if f < min {
			min = f
		}
		if f > max {
			max = f
		}
	}
	return min, max, ok
}

// maskByte thresholds a fraction into a mask byte: values above one half are
// land (black), everything else including missing data is sea (white).
func maskByte(v float32) uint8 {
	if v > 0.5 {
		return 0
	}
	return 255
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
