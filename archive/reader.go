package archive

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/golang/snappy"

	"github.com/Antel0pe/stormtiles/gridtile"
)

// Reader gives random access to the slices of an opened archive. Every data
// access is a stateless ReadAt, so a Reader is safe for concurrent use
// whenever its underlying io.ReaderAt is.
type Reader struct {
	r         io.ReaderAt
	m         Manifest
	dataStart int64

	times   []time.Time
	timeIdx map[time.Time]int
	vars    map[varKey]*Variable
	slices  map[varKey]map[int]Slice

	closer io.Closer
}

type varKey struct {
	name  string
	level int
}

// Open parses the header and manifest of an archive exposed through r. size
// is the total byte length, used to validate the manifest before reading it.
func Open(r io.ReaderAt, size int64) (*Reader, error) {
	header := make([]byte, headerSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("read archive header: %w", err)
	}
	if string(header[:4]) != archiveMagic {
		return nil, fmt.Errorf("not a field archive: bad magic %q", header[:4])
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != archiveVersion {
		return nil, fmt.Errorf("unsupported archive version %d", v)
	}
	manifestLen := int64(binary.LittleEndian.Uint32(header[8:12]))
	if headerSize+manifestLen > size {
		return nil, errors.New("archive manifest extends past end of file")
	}

	raw := make([]byte, manifestLen)
	if _, err := r.ReadAt(raw, headerSize); err != nil {
		return nil, fmt.Errorf("read archive manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode archive manifest: %w", err)
	}
	if len(m.Lat) == 0 || len(m.Lon) == 0 {
		return nil, &SchemaError{Missing: "coordinate axes"}
	}

	rd := &Reader{
		r:         r,
		m:         m,
		dataStart: headerSize + manifestLen,
		times:     make([]time.Time, len(m.Times)),
		timeIdx:   make(map[time.Time]int, len(m.Times)),
		vars:      make(map[varKey]*Variable, len(m.Variables)),
		slices:    make(map[varKey]map[int]Slice, len(m.Variables)),
	}
	for i, ts := range m.Times {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("archive time %q: %w", ts, err)
		}
		rd.times[i] = t.UTC()
		rd.timeIdx[t.UTC()] = i
	}
	for i := range m.Variables {
		v := &m.Variables[i]
		k := varKey{v.Name, v.Level}
		rd.vars[k] = v
		byTime := make(map[int]Slice, len(v.Slices))
		for _, sl := range v.Slices {
			byTime[sl.Time] = sl
		}
		rd.slices[k] = byTime
	}
	return rd, nil
}

// OpenFile opens a local archive; Close releases the file.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	rd, err := Open(f, st.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	rd.closer = f
	return rd, nil
}

// FieldSet reads the slices of vars at level for the hour at and assembles
// them into one co-located field set, which makes Reader a field source for
// the tile pipeline. Static variables ignore the requested time. A variable
// the archive never held is a SchemaError; a known variable without that
// hour wraps ErrNoSlice.
func (rd *Reader) FieldSet(ctx context.Context, vars []string, level int, at time.Time) (*gridtile.FieldSet, error) {
	channels := make([][]float32, 0, len(vars))
	for _, name := range vars {
		vals, err := rd.readVar(ctx, name, level, at)
		if err != nil {
			return nil, err
		}
		channels = append(channels, vals)
	}
	lat, lon := rd.Grid()
	return gridtile.NewFieldSet(lat, lon, channels...)
}

func (rd *Reader) readVar(ctx context.Context, name string, level int, at time.Time) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := varKey{name, level}
	v, ok := rd.vars[k]
	if !ok {
		return nil, &SchemaError{Missing: fmt.Sprintf("variable %q at level %d", name, level)}
	}

	var sl Slice
	if v.Static {
		if len(v.Slices) == 0 {
			return nil, &SchemaError{Missing: fmt.Sprintf("slice for static variable %q", name)}
		}
		sl = v.Slices[0]
	} else {
		hour := at.UTC().Truncate(time.Hour)
		idx, ok := rd.timeIdx[hour]
		if !ok {
			return nil, fmt.Errorf("%w: %q at %s", ErrNoSlice, name, hour.Format(time.RFC3339))
		}
		sl, ok = rd.slices[k][idx]
		if !ok {
			return nil, fmt.Errorf("%w: %q at %s", ErrNoSlice, name, hour.Format(time.RFC3339))
		}
	}
	return rd.readSlice(sl)
}

func (rd *Reader) readSlice(sl Slice) ([]float32, error) {
	compressed := make([]byte, sl.Length)
	if _, err := rd.r.ReadAt(compressed, rd.dataStart+sl.Offset); err != nil {
		return nil, fmt.Errorf("read slice at offset %d: %w", sl.Offset, err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress slice: %w", err)
	}
	if want := len(rd.m.Lat) * len(rd.m.Lon) * 4; len(raw) != want {
		return nil, fmt.Errorf("slice is %d bytes, grid wants %d", len(raw), want)
	}

	vals := make([]float32, len(raw)/4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vals, nil
}

// Dataset returns the name recorded by the ingest tool.
func (rd *Reader) Dataset() string { return rd.m.Dataset }

// Grid returns copies of the latitude and longitude axes.
func (rd *Reader) Grid() (lat, lon []float64) {
	return append([]float64(nil), rd.m.Lat...), append([]float64(nil), rd.m.Lon...)
}

// Times returns the hourly timestamps the archive covers, in manifest order.
func (rd *Reader) Times() []time.Time {
	return append([]time.Time(nil), rd.times...)
}

// Close releases the underlying file when the Reader owns one.
func (rd *Reader) Close() error {
	if rd.closer != nil {
		return rd.closer.Close()
	}
	return nil
}
