package gridtile

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"

	"github.com/paulmach/orb"
)

// EncodedTile is the immutable result of a render: lossless PNG bytes, the
// geographic bounding box of the grid and its pixel dimensions.
type EncodedTile struct {
	Data   []byte
	Bounds orb.Bound
	NX, NY int
}

// Size formats the pixel dimensions as WIDTHxHEIGHT.
func (t *EncodedTile) Size() string {
	return fmt.Sprintf("%dx%d", t.NX, t.NY)
}

// BoundsString formats the bounding box as "minLon,minLat,maxLon,maxLat".
func (t *EncodedTile) BoundsString() string {
	b := t.Bounds
	return fmt.Sprintf("%g,%g,%g,%g", b.Left(), b.Bottom(), b.Right(), b.Top())
}

// RenderOption adjusts a single Render call.
type RenderOption func(*renderSettings)

type renderSettings struct {
	scaling Scaling
}

// WithScaling overrides the product's default scaling policy for one call.
func WithScaling(s Scaling) RenderOption {
	return func(rs *renderSettings) { rs.scaling = s }
}

// Renderer encodes field sets into tiles according to the product catalog.
// It holds no mutable state and is safe for concurrent use once the backing
// registry is fully populated.
type Renderer struct {
	reg *Registry
	log *slog.Logger
}

func NewRenderer(reg *Registry, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{reg: reg, log: logger}
}

// Registry exposes the product catalog backing this renderer.
func (r *Renderer) Registry() *Registry { return r.reg }

// Render normalizes fs into map orientation and encodes it as the given
// product. One pixel per grid point, no interpolation: the PNG is a lossless
// transport of the field. The same field always encodes to the same bytes,
// so rendered tiles may be cached indefinitely under their address.
func (r *Renderer) Render(fs *FieldSet, kind ProductKind, level int, opts ...RenderOption) (*EncodedTile, error) {
	prod, err := r.reg.Product(kind)
	if err != nil {
		return nil, err
	}
	if len(fs.Channels) != len(prod.Vars) {
		return nil, fmt.Errorf("product %s wants %d channels, got %d", kind, len(prod.Vars), len(fs.Channels))
	}
	if prod.Encoding == EncodingChannels && len(prod.Vars) > 3 {
		return nil, fmt.Errorf("product %s declares %d channels, image has 3", kind, len(prod.Vars))
	}

	settings := renderSettings{scaling: prod.Scaling}
	for _, opt := range opts {
		opt(&settings)
	}

	nfs, info, err := Normalize(fs)
	if err != nil {
		return nil, err
	}

	// Unit conversion runs on the normalized copy, never on the caller's
	// arrays.
	if prod.Convert != nil {
		for _, ch := range nfs.Channels {
			for i, v := range ch {
				ch[i] = prod.Convert(v)
			}
		}
	}

	nx, ny := nfs.NX(), nfs.NY()
	img := image.NewNRGBA(image.Rect(0, 0, nx, ny))

	switch prod.Encoding {
	case EncodingTerrain:
		encodeTerrainImage(img, nfs.Channels[0])
	case EncodingMask:
		encodeMaskImage(img, nfs.Channels[0])
	case EncodingChannels:
		if settings.scaling == ScalingAdaptive {
			encodeAdaptiveImage(img, nfs.Channels)
		} else {
			ranges, err := r.reg.Ranges(kind, level)
			if err != nil {
				return nil, err
			}
			if len(ranges) < len(nfs.Channels) {
				return nil, fmt.Errorf("product %s at level %d declares %d ranges for %d channels", kind, level, len(ranges), len(nfs.Channels))
			}
			encodeFixedImage(img, nfs.Channels, ranges)
		}
	default:
		return nil, fmt.Errorf("product %s has unsupported encoding %q", kind, prod.Encoding)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}

	r.log.Debug("rendered tile",
		"product", string(kind),
		"level", level,
		"shift", info.Shift,
		"sorted", info.Sorted,
		"flipped", info.Flipped,
		"lon_min", info.LonMin,
		"lon_max", info.LonMax,
		"lat_min", info.LatMin,
		"lat_max", info.LatMax,
		"width", nx,
		"height", ny,
	)

	return &EncodedTile{
		Data:   buf.Bytes(),
		Bounds: Bounds(nfs.Lat, nfs.Lon),
		NX:     nx,
		NY:     ny,
	}, nil
}

// The image helpers below rely on NewNRGBA allocating a tightly packed
// buffer: pixel k of a row-major grid lives at Pix[k*4].

func encodeTerrainImage(img *image.NRGBA, vals []float32) {
	for k, v := range vals {
		r, g, b := encodeTerrain(v)
		px := img.Pix[k*4:]
		px[0], px[1], px[2], px[3] = r, g, b, 255
	}
}

func encodeMaskImage(img *image.NRGBA, vals []float32) {
	for k, v := range vals {
		w := maskByte(v)
		px := img.Pix[k*4:]
		px[0], px[1], px[2], px[3] = w, w, w, 255
	}
}

func encodeFixedImage(img *image.NRGBA, channels [][]float32, ranges []Range) {
	for c, ch := range channels {
		for k, v := range ch {
			img.Pix[k*4+c] = scaleFixed(v, ranges[c].Min, ranges[c].Max)
		}
	}
	setOpaque(img)
}

func encodeAdaptiveImage(img *image.NRGBA, channels [][]float32) {
	for c, ch := range channels {
		for k, b := range scaleAdaptive(ch) {
			img.Pix[k*4+c] = b
		}
	}
	setOpaque(img)
}

func setOpaque(img *image.NRGBA) {
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
}
