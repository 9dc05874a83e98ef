package terrain

import (
	"math"

	"github.com/annel0/mmo-world/internal/noise"
)

// Частоты и октавы слоёв
const (
	continentalFreq    = 0.001
	continentalOctaves = 4
	erosionFreq        = 0.003
	erosionOctaves     = 3
	pvFreq             = 0.01
	pvOctaves          = 3
	mountainFreq       = 0.004
	mountainOctaves    = 4
	detailFreq         = 0.08
)

// Параметры формы рельефа
const (
	erosionFactorLow  = 1.5 // E = -1: усиливаем локальный рельеф
	erosionFactorHigh = 0.1 // E = +1: почти плоско

	flatnessThreshold = 0.5
	flatnessFull      = 0.7
	flatnessFactor    = 0.2

	mountainErosionMax = -0.3
	mountainContMin    = 0.3
	mountainMaskBand   = 0.15
	mountainAmplitude  = 45.0

	detailAmplitude = 1.5
	detailFalloff   = 0.8

	// SafeHeight подставляется, если модель выдала NaN или Inf
	SafeHeight = 1.0
)

// Sample - высота и значения слоёв в одной точке
type Sample struct {
	Height float64 `json:"height"`
	C      float64 `json:"c"`
	E      float64 `json:"e"`
	PV     float64 `json:"pv"`
}

// Model - функция высоты h(x,z), классификатор биомов и уклон.
// Чистая функция сида; безопасна для конкурентного использования.
type Model struct {
	layers     *noise.Layers
	waterLevel float64
}

// NewModel создаёт модель рельефа для сида мира
func NewModel(seed int64, waterLevel float64) *Model {
	return &Model{
		layers:     noise.NewLayers(seed),
		waterLevel: waterLevel,
	}
}

// WaterLevel возвращает глобальный уровень воды
func (m *Model) WaterLevel() float64 { return m.waterLevel }

// Sample вычисляет все слои и итоговую высоту в точке
func (m *Model) Sample(x, z float64) Sample {
	c := m.layers.Continentalness.Fractal(x*continentalFreq, z*continentalFreq, continentalOctaves)
	e := m.layers.Erosion.Fractal(x*erosionFreq, z*erosionFreq, erosionOctaves)
	pv := m.layers.PeaksValleys.Fractal(x*pvFreq, z*pvFreq, pvOctaves)

	h := composeHeight(c, e, pv, m.mountainBonus(x, z, c, e), m.detail(x, z, e))
	return Sample{Height: h, C: c, E: e, PV: pv}
}

// composeHeight складывает слои в высоту; нечисловой результат
// заменяется на SafeHeight, чтобы в карту высот не попали NaN и Inf
func composeHeight(c, e, pv, mountain, detail float64) float64 {
	h := continentalSpline.At(c) +
		peaksValleysSpline.At(pv)*erosionFactor(e)*flatnessMultiplier(e) +
		mountain +
		detail
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return SafeHeight
	}
	return h
}

// Height возвращает высоту поверхности h(x,z)
func (m *Model) Height(x, z float64) float64 {
	return m.Sample(x, z).Height
}

// Slope - конечная разность с шагом 1: max(|Δx|, |Δz|)
func (m *Model) Slope(x, z float64) float64 {
	h := m.Height(x, z)
	dx := math.Abs(m.Height(x+1, z) - h)
	dz := math.Abs(m.Height(x, z+1) - h)
	return math.Max(dx, dz)
}

// BiomeAt классифицирует точку
func (m *Model) BiomeAt(x, z float64) Biome {
	return m.Classify(m.Sample(x, z))
}

// Classify - биом по уже посчитанной выборке
func (m *Model) Classify(s Sample) Biome {
	return ClassifyBiome(s.Height, s.C, s.E, s.PV, m.waterLevel)
}

// erosionFactor линейно переводит E из [-1,1] в [1.5, 0.1]
func erosionFactor(e float64) float64 {
	t := (clamp(e, -1, 1) + 1) / 2
	return erosionFactorLow + (erosionFactorHigh-erosionFactorLow)*t
}

// flatnessMultiplier: 1 до порога, дальше линейно до 0.2.
// Плавный переход нужен, иначе на границе порога появится ступенька.
func flatnessMultiplier(e float64) float64 {
	if e <= flatnessThreshold {
		return 1
	}
	t := clamp((e-flatnessThreshold)/(flatnessFull-flatnessThreshold), 0, 1)
	return 1 + (flatnessFactor-1)*t
}

// mountainBonus активен только при E < -0.3 и C > 0.3 (изрезанная глубь суши)
func (m *Model) mountainBonus(x, z, c, e float64) float64 {
	if e >= mountainErosionMax || c <= mountainContMin {
		return 0
	}
	mask := clamp((c-mountainContMin)/mountainMaskBand, 0, 1) *
		clamp((mountainErosionMax-e)/mountainMaskBand, 0, 1)
	r := m.layers.Mountain.Ridged(x*mountainFreq, z*mountainFreq, mountainOctaves)
	return r * r * mountainAmplitude * mask
}

// detail - мелкий шум, слабее на плоских участках
func (m *Model) detail(x, z, e float64) float64 {
	amp := detailAmplitude * (1 - detailFalloff*(clamp(e, -1, 1)+1)/2)
	return m.layers.Detail.Noise(x*detailFreq, z*detailFreq) * amp
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
