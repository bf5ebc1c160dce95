package gridtile

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultRegistryCatalog(t *testing.T) {
	reg := DefaultRegistry()

	kinds := []ProductKind{
		ProductGPH, ProductWindUV, ProductWindUVW,
		ProductCloudLMH, ProductCloudWater, ProductTemp, ProductLandMask,
	}
	for _, kind := range kinds {
		if _, err := reg.Product(kind); err != nil {
			t.Errorf("missing product %s: %v", kind, err)
		}
	}

	if got := len(reg.Products()); got != len(kinds) {
		t.Errorf("catalog has %d products, want %d", got, len(kinds))
	}

	// Products() must come back in a stable order for the listing endpoint.
	products := reg.Products()
	for i := 1; i < len(products); i++ {
		if products[i-1].Kind >= products[i].Kind {
			t.Errorf("catalog not sorted: %s before %s", products[i-1].Kind, products[i].Kind)
		}
	}

	if _, err := reg.Product("nope"); !errors.Is(err, ErrUnknownProduct) {
		t.Errorf("unknown product: got %v, want ErrUnknownProduct", err)
	}
}

func TestDefaultRegistryConversions(t *testing.T) {
	reg := DefaultRegistry()

	gph, _ := reg.Product(ProductGPH)
	if got := gph.Convert(9.80665 * 1500); math.Abs(float64(got)-1500) > 1e-3 {
		t.Errorf("gph conversion gave %v, want 1500", got)
	}

	temp, _ := reg.Product(ProductTemp)
	if got := temp.Convert(273.15 + 21.5); math.Abs(float64(got)-21.5) > 1e-4 {
		t.Errorf("temperature conversion gave %v, want 21.5", got)
	}

	wind, _ := reg.Product(ProductWindUV)
	if wind.Convert != nil {
		t.Error("wind product should not convert units")
	}
	if wind.Scaling != ScalingAdaptive {
		t.Errorf("wind-uv default scaling = %s, want adaptive", wind.Scaling)
	}
}

func TestDefaultRegistryRanges(t *testing.T) {
	reg := DefaultRegistry()

	tests := []struct {
		kind  ProductKind
		level int
		want  []Range
	}{
		{ProductWindUV, 850, []Range{{-60, 60}, {-60, 60}}},
		{ProductWindUV, 500, []Range{{-80, 80}, {-80, 80}}},
		{ProductWindUV, 250, []Range{{-120, 120}, {-120, 120}}},
		{ProductWindUVW, 250, []Range{{-120, 120}, {-120, 120}, {-5, 5}}},
		{ProductTemp, 850, []Range{{-40, 35}}},
		{ProductTemp, 500, []Range{{-70, 0}}},
		{ProductTemp, 250, []Range{{-80, -25}}},
		{ProductCloudLMH, 0, []Range{{0, 1}, {0, 1}, {0, 1}}},
		{ProductCloudWater, 0, []Range{{0, 1}, {0, 0.3}}},
	}
	for _, tc := range tests {
		got, err := reg.Ranges(tc.kind, tc.level)
		if err != nil {
			t.Errorf("Ranges(%s, %d) failed: %v", tc.kind, tc.level, err)
			continue
		}
		if len(got) != len(tc.want) {
			t.Errorf("Ranges(%s, %d) has %d entries, want %d", tc.kind, tc.level, len(got), len(tc.want))
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("Ranges(%s, %d)[%d] = %+v, want %+v", tc.kind, tc.level, i, got[i], tc.want[i])
			}
		}
	}

	if _, err := reg.Ranges(ProductTemp, 700); !errors.Is(err, ErrRangeUnregistered) {
		t.Errorf("unregistered level: got %v, want ErrRangeUnregistered", err)
	}
}

func TestProductHasLevel(t *testing.T) {
	reg := DefaultRegistry()

	gph, _ := reg.Product(ProductGPH)
	if !gph.HasLevel(500) || gph.HasLevel(0) || gph.HasLevel(700) {
		t.Error("gph level check wrong")
	}

	mask, _ := reg.Product(ProductLandMask)
	if !mask.HasLevel(0) || mask.HasLevel(500) {
		t.Error("landmask level check wrong")
	}
	if !mask.Static {
		t.Error("landmask must be static")
	}
}
