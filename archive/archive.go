// Package archive reads and writes packed weather-field archives: one file
// holding the 2D float32 slices of a set of variables over an hourly time
// window, extracted once from the source dataset by ingest tooling. The
// container is a JSON manifest (axes, timestamps, per-variable slice table)
// followed by snappy-compressed little-endian float32 blobs, laid out for
// random access so a server never reads more than the slices it renders.
package archive

import (
	"errors"
	"fmt"
)

// Container layout: magic, format version, manifest length, manifest JSON,
// then the slice blobs back to back. Slice offsets are relative to the end
// of the manifest, so the manifest does not depend on its own encoded size.
const (
	archiveMagic   = "WFAR"
	archiveVersion = 1
	headerSize     = 12
)

// SchemaError reports a variable or axis missing from the archive: the
// request asked for something the source dataset never contained. It is
// distinct from ErrNoSlice, which covers a known variable at an uncovered
// hour.
type SchemaError struct {
	Missing string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("archive schema: missing %s", e.Missing)
}

// ErrNoSlice reports that a variable exists but carries no slice for the
// requested hour.
var ErrNoSlice = errors.New("no slice for requested time")

// Manifest describes the archive contents.
type Manifest struct {
	Dataset   string     `json:"dataset"`
	Lat       []float64  `json:"lat"`
	Lon       []float64  `json:"lon"`
	Times     []string   `json:"times"`
	Variables []Variable `json:"variables"`
}

// Variable is one physical quantity at one pressure level. Static variables
// have no time dimension and carry exactly one slice.
type Variable struct {
	Name   string  `json:"name"`
	Level  int     `json:"level"`
	Static bool    `json:"static,omitempty"`
	Slices []Slice `json:"slices"`
}

// Slice locates one compressed 2D field inside the data section.
type Slice struct {
	// Time indexes Manifest.Times. It is ignored for static variables.
	Time   int   `json:"time"`
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}
