package terrain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplineClampAndInterpolate(t *testing.T) {
	s := NewSpline(Point{1, 10}, Point{-1, -10}, Point{0, 0})

	assert.Equal(t, -10.0, s.At(-5), "ниже таблицы — первое значение")
	assert.Equal(t, 10.0, s.At(3), "выше таблицы — последнее значение")
	assert.Equal(t, 0.0, s.At(0))
	assert.InDelta(t, 5.0, s.At(0.5), 1e-12)
	assert.InDelta(t, -2.5, s.At(-0.25), 1e-12)

	pts := s.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, -1.0, pts[0].In, "точки должны быть отсортированы")
}

func TestEmptySpline(t *testing.T) {
	assert.Equal(t, 0.0, NewSpline().At(0.3))
}

func TestErosionFactorRange(t *testing.T) {
	assert.InDelta(t, 1.5, erosionFactor(-1), 1e-12)
	assert.InDelta(t, 0.1, erosionFactor(1), 1e-12)
	assert.InDelta(t, 0.8, erosionFactor(0), 1e-12)
	assert.InDelta(t, 1.5, erosionFactor(-3), 1e-12, "E вне диапазона зажимается")
}

func TestFlatnessMultiplierContinuous(t *testing.T) {
	assert.Equal(t, 1.0, flatnessMultiplier(0.2))
	assert.Equal(t, 1.0, flatnessMultiplier(flatnessThreshold))
	assert.InDelta(t, 1.0, flatnessMultiplier(flatnessThreshold+1e-9), 1e-6)
	assert.InDelta(t, flatnessFactor, flatnessMultiplier(0.9), 1e-12)
	assert.InDelta(t, 0.6, flatnessMultiplier(0.6), 1e-12)
}

func TestHeightDeterministicAcrossInstances(t *testing.T) {
	// два независимо созданных экземпляра моделируют перезапуск процесса
	first := NewModel(12345, 0)
	second := NewModel(12345, 0)

	assert.Equal(t, first.Height(0, 0), second.Height(0, 0))
	for _, p := range [][2]float64{{17.3, -250.5}, {1000.25, 3333.75}, {-77, 42}} {
		assert.Equal(t, first.Sample(p[0], p[1]), second.Sample(p[0], p[1]))
	}
}

func TestHeightFiniteAndContinuous(t *testing.T) {
	m := NewModel(777, 0)
	for i := 0; i < 500; i++ {
		x := float64(i)*13.7 - 3000
		z := float64(i%50)*41.3 - 1000
		h := m.Height(x, z)
		require.False(t, math.IsNaN(h) || math.IsInf(h, 0))

		d := math.Abs(m.Height(x+1e-4, z) - h)
		assert.Less(t, d, 0.05, "скачок высоты в (%v, %v)", x, z)
	}
}

func TestSlopeIsMaxOfDifferences(t *testing.T) {
	m := NewModel(5, 0)
	x, z := 120.5, -40.25
	h := m.Height(x, z)
	want := math.Max(math.Abs(m.Height(x+1, z)-h), math.Abs(m.Height(x, z+1)-h))
	assert.Equal(t, want, m.Slope(x, z))
}

func TestClassifyBiome(t *testing.T) {
	cases := []struct {
		name    string
		h, c, e float64
		pv      float64
		want    Biome
	}{
		{"под водой", -3, 0.5, 0, 0, BiomeOcean},
		{"у воды", 1.2, 0.5, 0, 0, BiomeBeach},
		{"высоко", 40, 0.1, 0.3, 0, BiomeMountain},
		{"изрезанная суша", 25, 0.5, -0.5, 0, BiomeMountain},
		{"холмы", 10, 0.1, -0.2, 0.4, BiomeHill},
		{"джунгли", 10, 0.4, 0.2, 0.5, BiomeJungle},
		{"лес", 10, 0.1, 0.0, 0.1, BiomeForest},
		{"равнина", 10, -0.1, 0.0, 0.3, BiomePlain},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyBiome(tc.h, tc.c, tc.e, tc.pv, 0))
		})
	}
}

func TestBiomeText(t *testing.T) {
	text, err := BiomeForest.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "forest", string(text))

	var b Biome
	require.NoError(t, b.UnmarshalText([]byte("mountain")))
	assert.Equal(t, BiomeMountain, b)
	assert.Error(t, b.UnmarshalText([]byte("swamp")))
}

func TestComposeHeightNeverNonFinite(t *testing.T) {
	assert.Equal(t, SafeHeight, composeHeight(math.NaN(), 0, 0, 0, 0))
	assert.Equal(t, SafeHeight, composeHeight(0, 0, 0, math.Inf(1), 0))
	assert.Equal(t, SafeHeight, composeHeight(0, 0, 0, math.Inf(1), math.Inf(-1)))
	assert.Equal(t, SafeHeight, composeHeight(0, math.NaN(), 0, 0, 0))

	h := composeHeight(0.4, 0, 0, 0, 0)
	assert.InDelta(t, 18.0, h, 1e-12, "конечные слои проходят без изменений")
}

func TestSplineNaNDoesNotPanic(t *testing.T) {
	s := NewSpline(Point{-1, -10}, Point{1, 10})
	assert.True(t, math.IsNaN(s.At(math.NaN())))
}
