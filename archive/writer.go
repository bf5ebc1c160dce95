package archive

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/golang/snappy"
)

// Writer assembles an archive. Slices are compressed as they are added and
// kept in memory until WriteTo; ingest runs once per dataset, so simplicity
// wins over streaming here.
type Writer struct {
	m      Manifest
	blobs  [][]byte
	offset int64

	timeIdx map[time.Time]int
	varIdx  map[varKey]int
}

// NewWriter starts an archive for one dataset over the given axes and
// hourly timestamps.
func NewWriter(dataset string, lat, lon []float64, times []time.Time) *Writer {
	w := &Writer{
		m: Manifest{
			Dataset: dataset,
			Lat:     append([]float64(nil), lat...),
			Lon:     append([]float64(nil), lon...),
			Times:   make([]string, len(times)),
		},
		timeIdx: make(map[time.Time]int, len(times)),
		varIdx:  make(map[varKey]int),
	}
	for i, t := range times {
		t = t.UTC().Truncate(time.Hour)
		w.m.Times[i] = t.Format(time.RFC3339)
		w.timeIdx[t] = i
	}
	return w
}

// AddSlice appends one 2D field of a variable for an hour declared in the
// writer's time axis.
func (w *Writer) AddSlice(name string, level int, at time.Time, vals []float32) error {
	idx, ok := w.timeIdx[at.UTC().Truncate(time.Hour)]
	if !ok {
		return fmt.Errorf("time %s not declared in archive", at.UTC().Format(time.RFC3339))
	}
	return w.add(name, level, false, idx, vals)
}

// AddStatic appends the single timeless slice of a static variable.
func (w *Writer) AddStatic(name string, level int, vals []float32) error {
	return w.add(name, level, true, 0, vals)
}

func (w *Writer) add(name string, level int, static bool, timeIdx int, vals []float32) error {
	if want := len(w.m.Lat) * len(w.m.Lon); len(vals) != want {
		return fmt.Errorf("variable %q slice has %d values, grid wants %d", name, len(vals), want)
	}

	raw := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	blob := snappy.Encode(nil, raw)

	k := varKey{name, level}
	vi, ok := w.varIdx[k]
	if !ok {
		w.m.Variables = append(w.m.Variables, Variable{Name: name, Level: level, Static: static})
		vi = len(w.m.Variables) - 1
		w.varIdx[k] = vi
	}
	v := &w.m.Variables[vi]
	if v.Static != static {
		return fmt.Errorf("variable %q mixes static and timed slices", name)
	}

	v.Slices = append(v.Slices, Slice{Time: timeIdx, Offset: w.offset, Length: int64(len(blob))})
	w.blobs = append(w.blobs, blob)
	w.offset += int64(len(blob))
	return nil
}

// WriteTo writes the assembled container. It implements io.WriterTo.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	manifest, err := json.Marshal(w.m)
	if err != nil {
		return 0, fmt.Errorf("encode manifest: %w", err)
	}

	header := make([]byte, headerSize)
	copy(header, archiveMagic)
	binary.LittleEndian.PutUint32(header[4:8], archiveVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(manifest)))

	var written int64
	for _, chunk := range [][]byte{header, manifest} {
		n, err := out.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	for _, blob := range w.blobs {
		n, err := out.Write(blob)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
