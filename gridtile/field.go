// Package gridtile turns regular latitude/longitude fields into encoded
// raster tiles. A field arrives as one or more co-located channels on the
// native grid of the source dataset, gets its axes normalized into map
// orientation, and leaves as a lossless PNG together with its geographic
// bounds.
package gridtile

import "fmt"

// FieldSet holds one or more co-located scalar fields sampled on a regular
// latitude/longitude grid. All channels share the Lat/Lon axes and are laid
// out row-major: Channels[c][j*len(Lon)+i] is the value of channel c at
// (Lat[j], Lon[i]).
type FieldSet struct {
	Lat      []float64
	Lon      []float64
	Channels [][]float32
}

// ShapeError reports a channel whose length disagrees with the grid described
// by the coordinate axes. It marks a contract violation by the data supplier
// and is never corrected silently.
type ShapeError struct {
	Channel int
	Got     int
	Want    int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("field channel %d has %d values, axes describe %d", e.Channel, e.Got, e.Want)
}

// NewFieldSet validates that every channel covers the grid spanned by the
// axes and wraps them into a FieldSet. The slices are referenced, not copied.
func NewFieldSet(lat, lon []float64, channels ...[]float32) (*FieldSet, error) {
	fs := &FieldSet{Lat: lat, Lon: lon, Channels: channels}
	if err := fs.validate(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FieldSet) validate() error {
	want := len(fs.Lat) * len(fs.Lon)
	for c, ch := range fs.Channels {
		if len(ch) != want {
			return &ShapeError{Channel: c, Got: len(ch), Want: want}
		}
	}
	return nil
}

// NX returns the number of grid columns.
func (fs *FieldSet) NX() int { return len(fs.Lon) }

// NY returns the number of grid rows.
func (fs *FieldSet) NY() int { return len(fs.Lat) }
