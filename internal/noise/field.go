// Package noise - детерминированные скалярные поля на основе шума Перлина.
//
// Все функции чистые: одинаковые (seed, x, z) дают одинаковый результат в любом
// процессе, потому что таблица перестановок go-perlin строится только из сида.
package noise

import (
	"math"

	"github.com/aquilax/go-perlin"
)

const (
	// Параметры одной октавы go-perlin. Октавы складываем сами,
	// чтобы контролировать нормализацию.
	perlinAlpha = 2.0
	perlinBeta  = 2.0
	perlinN     = 1

	// Одна октава Перлина в 2D лежит примерно в [-√½, √½]
	singleOctaveScale = math.Sqrt2

	lacunarity  = 2.0
	persistence = 0.5
)

// Field - скалярное поле с фиксированным сидом.
// Безопасно для конкурентного чтения.
type Field struct {
	seed int64
	p    *perlin.Perlin
}

// NewField создаёт поле для указанного сида
func NewField(seed int64) *Field {
	return &Field{
		seed: seed,
		p:    perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed),
	}
}

// Seed возвращает сид поля
func (f *Field) Seed() int64 { return f.seed }

// Noise возвращает одну октаву градиентного шума в [-1, 1]
func (f *Field) Noise(x, z float64) float64 {
	return clamp(f.p.Noise2D(x, z)*singleOctaveScale, -1, 1)
}

// Fractal складывает octaves октав с убывающей амплитудой и растущей частотой.
// Результат нормирован на сумму амплитуд и лежит в [-1, 1].
func (f *Field) Fractal(x, z float64, octaves int) float64 {
	if octaves < 1 {
		octaves = 1
	}
	var sum, norm float64
	amp, freq := 1.0, 1.0
	for i := 0; i < octaves; i++ {
		sum += f.Noise(x*freq, z*freq) * amp
		norm += amp
		amp *= persistence
		freq *= lacunarity
	}
	return clamp(sum/norm, -1, 1)
}

// Ridged - гребневый мультифрактал: 1-|n| на каждой октаве, результат в [0, 1].
// Острые гребни получаются там, где шум проходит через ноль.
func (f *Field) Ridged(x, z float64, octaves int) float64 {
	if octaves < 1 {
		octaves = 1
	}
	var sum, norm float64
	amp, freq := 1.0, 1.0
	for i := 0; i < octaves; i++ {
		sum += (1 - math.Abs(f.Noise(x*freq, z*freq))) * amp
		norm += amp
		amp *= persistence
		freq *= lacunarity
	}
	return clamp(sum/norm, 0, 1)
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
