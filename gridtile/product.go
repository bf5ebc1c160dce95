package gridtile

import (
	"errors"
	"fmt"
	"sort"
)

// standardGravity converts geopotential in m²/s² into geopotential height in
// meters.
const standardGravity = 9.80665

// kelvinOffset converts Kelvin into degrees Celsius.
const kelvinOffset = 273.15

// ProductKind names one renderable product.
type ProductKind string

const (
	ProductGPH        ProductKind = "gph"
	ProductWindUV     ProductKind = "wind-uv"
	ProductWindUVW    ProductKind = "wind-uvw"
	ProductCloudLMH   ProductKind = "cloud-lmh"
	ProductCloudWater ProductKind = "cloud-water"
	ProductTemp       ProductKind = "temp"
	ProductLandMask   ProductKind = "landmask"
)

// Encoding selects how physical values become pixel bytes.
type Encoding string

const (
	// EncodingTerrain packs a single channel into 24-bit terrain RGB.
	EncodingTerrain Encoding = "terrain-rgb"
	// EncodingChannels scales up to three channels into R, G and B.
	EncodingChannels Encoding = "channels"
	// EncodingMask thresholds a single channel into a black/white mask.
	EncodingMask Encoding = "mask"
)

// Scaling selects the byte-scaling policy for EncodingChannels products.
type Scaling string

const (
	// ScalingFixed scales against the registered physical range of the
	// product, so pixel values are comparable across timestamps.
	ScalingFixed Scaling = "fixed"
	// ScalingAdaptive scales against the range observed in the rendered
	// slice alone, maximizing contrast for a single image.
	ScalingAdaptive Scaling = "adaptive"
)

// Range is the declared physical range of one channel of a product at one
// pressure level.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Product describes one renderable product: which source variables feed it,
// how their values are converted and encoded, and which pressure levels it
// is served at. Products without a level dimension leave Levels empty and
// are addressed with level 0.
type Product struct {
	Kind     ProductKind
	Title    string
	Vars     []string
	Encoding Encoding
	Scaling  Scaling
	// Convert is an optional per-value unit conversion applied before
	// encoding, e.g. geopotential to meters or Kelvin to Celsius.
	Convert func(float32) float32
	// Static products have no time dimension.
	Static   bool
	Levels   []int
	Channels [4]string
}

// HasLevel reports whether the product is served at the given pressure
// level. Products without a level dimension accept only level 0.
func (p Product) HasLevel(level int) bool {
	if len(p.Levels) == 0 {
		return level == 0
	}
	for _, l := range p.Levels {
		if l == level {
			return true
		}
	}
	return false
}

var (
	// ErrUnknownProduct is returned for product kinds the registry does not
	// know about.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrRangeUnregistered is returned when a fixed-scaling render finds no
	// declared range for its product and level.
	ErrRangeUnregistered = errors.New("no fixed range registered")
)

type rangeKey struct {
	kind  ProductKind
	level int
}

// Registry holds the product catalog and the per-level fixed ranges.
// Register everything up front; lookups afterwards are safe for concurrent
// use.
type Registry struct {
	products map[ProductKind]Product
	ranges   map[rangeKey][]Range
}

func NewRegistry() *Registry {
	return &Registry{
		products: make(map[ProductKind]Product),
		ranges:   make(map[rangeKey][]Range),
	}
}

// Register adds or replaces a product.
func (r *Registry) Register(p Product) {
	r.products[p.Kind] = p
}

// RegisterRanges declares the fixed physical ranges of a product's channels
// at one pressure level, in channel order.
func (r *Registry) RegisterRanges(kind ProductKind, level int, ranges ...Range) {
	r.ranges[rangeKey{kind, level}] = ranges
}

// Product looks up one product by kind.
func (r *Registry) Product(kind ProductKind) (Product, error) {
	p, ok := r.products[kind]
	if !ok {
		return Product{}, fmt.Errorf("%w: %q", ErrUnknownProduct, kind)
	}
	return p, nil
}

// Products returns the catalog sorted by kind.
func (r *Registry) Products() []Product {
	out := make([]Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Kind < out[b].Kind })
	return out
}

// Ranges returns the fixed ranges of a product at one level, in channel
// order. Rendering with fixed scaling refuses to guess: a missing
// declaration is an error, never a silent fallback.
func (r *Registry) Ranges(kind ProductKind, level int) ([]Range, error) {
	ranges, ok := r.ranges[rangeKey{kind, level}]
	if !ok {
		return nil, fmt.Errorf("%w for %s at level %d", ErrRangeUnregistered, kind, level)
	}
	return ranges, nil
}

// DefaultRegistry builds the catalog of ERA5 products this service renders,
// with the physical ranges used since the first deployment: wind components
// widen with altitude, temperatures cool with altitude, cloud fractions span
// 0..1 and ice water content stays below 0.3 kg/m².
func DefaultRegistry() *Registry {
	r := NewRegistry()

	pressureLevels := []int{850, 500, 250}

	r.Register(Product{
		Kind:     ProductGPH,
		Title:    "Geopotential height",
		Vars:     []string{"z"},
		Encoding: EncodingTerrain,
		Convert:  func(v float32) float32 { return v / standardGravity },
		Levels:   pressureLevels,
		Channels: [4]string{"height high byte", "height mid byte", "height low byte", "opaque"},
	})
	r.Register(Product{
		Kind:     ProductWindUV,
		Title:    "Wind U/V",
		Vars:     []string{"u", "v"},
		Encoding: EncodingChannels,
		Scaling:  ScalingAdaptive,
		Levels:   pressureLevels,
		Channels: [4]string{"u wind scaled", "v wind scaled", "unused", "opaque"},
	})
	r.Register(Product{
		Kind:     ProductWindUVW,
		Title:    "Wind U/V/W",
		Vars:     []string{"u", "v", "w"},
		Encoding: EncodingChannels,
		Scaling:  ScalingFixed,
		Levels:   pressureLevels,
		Channels: [4]string{"u wind scaled", "v wind scaled", "vertical velocity scaled", "opaque"},
	})
	r.Register(Product{
		Kind:     ProductCloudLMH,
		Title:    "Cloud cover (low/medium/high)",
		Vars:     []string{"lcc", "mcc", "hcc"},
		Encoding: EncodingChannels,
		Scaling:  ScalingFixed,
		Channels: [4]string{"low cloud fraction", "medium cloud fraction", "high cloud fraction", "opaque"},
	})
	r.Register(Product{
		Kind:     ProductCloudWater,
		Title:    "Cloud liquid/ice water",
		Vars:     []string{"tclw", "tciw"},
		Encoding: EncodingChannels,
		Scaling:  ScalingFixed,
		Channels: [4]string{"liquid water scaled", "ice water scaled", "unused", "opaque"},
	})
	r.Register(Product{
		Kind:     ProductTemp,
		Title:    "Temperature",
		Vars:     []string{"t"},
		Encoding: EncodingChannels,
		Scaling:  ScalingFixed,
		Convert:  func(v float32) float32 { return v - kelvinOffset },
		Levels:   pressureLevels,
		Channels: [4]string{"temperature scaled", "unused", "unused", "opaque"},
	})
	r.Register(Product{
		Kind:     ProductLandMask,
		Title:    "Land-sea mask",
		Vars:     []string{"lsm"},
		Encoding: EncodingMask,
		Static:   true,
		Channels: [4]string{"0 land, 255 sea", "same as red", "same as red", "opaque"},
	})

	// Horizontal wind ranges widen with altitude; vertical velocity keeps
	// one symmetric range everywhere.
	for level, w := range map[int]float64{850: 60, 500: 80, 250: 120} {
		uv := Range{Min: -w, Max: w}
		r.RegisterRanges(ProductWindUV, level, uv, uv)
		r.RegisterRanges(ProductWindUVW, level, uv, uv, Range{Min: -5, Max: 5})
	}

	// Temperature in Celsius after conversion from Kelvin.
	r.RegisterRanges(ProductTemp, 850, Range{Min: -40, Max: 35})
	r.RegisterRanges(ProductTemp, 500, Range{Min: -70, Max: 0})
	r.RegisterRanges(ProductTemp, 250, Range{Min: -80, Max: -25})

	fraction := Range{Min: 0, Max: 1}
	r.RegisterRanges(ProductCloudLMH, 0, fraction, fraction, fraction)
	r.RegisterRanges(ProductCloudWater, 0, fraction, Range{Min: 0, Max: 0.3})

	return r
}
