package terrain

import (
	"math"
)

// Options - параметры генератора чанков
type Options struct {
	ChunkSize      float64
	Resolution     int
	WaterLevel     float64
	BeachClearance float64 // деревья не растут ниже воды + этот зазор
	MaxTreeSlope   float64
	SteepSlope     float64 // уклон в центре, начиная с которого чанк считается крутым
	Profiles       map[Biome]Profile
}

// DefaultOptions - CHUNK_SIZE 50, разрешение 10, вода на нуле
func DefaultOptions() Options {
	return Options{
		ChunkSize:      50,
		Resolution:     10,
		WaterLevel:     0,
		BeachClearance: 1.5,
		MaxTreeSlope:   1.5,
		SteepSlope:     0.8,
		Profiles:       DefaultProfiles(),
	}
}

// Generator строит чанки из модели рельефа. Результат является чистой функцией
// (seed, cx, cz): повторная генерация даёт побитово тот же чанк.
type Generator struct {
	seed  int64
	model *Model
	opts  Options
}

// NewGenerator создаёт генератор для сида мира
func NewGenerator(seed int64, opts Options) *Generator {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.Resolution < 1 {
		opts.Resolution = def.Resolution
	}
	if opts.BeachClearance == 0 {
		opts.BeachClearance = def.BeachClearance
	}
	if opts.MaxTreeSlope == 0 {
		opts.MaxTreeSlope = def.MaxTreeSlope
	}
	if opts.SteepSlope == 0 {
		opts.SteepSlope = def.SteepSlope
	}
	if opts.Profiles == nil {
		opts.Profiles = def.Profiles
	}
	return &Generator{
		seed:  seed,
		model: NewModel(seed, opts.WaterLevel),
		opts:  opts,
	}
}

// Model возвращает модель высот генератора
func (g *Generator) Model() *Model { return g.model }

// Seed возвращает сид мира
func (g *Generator) Seed() int64 { return g.seed }

// ChunkSize возвращает размер стороны чанка в мировых единицах
func (g *Generator) ChunkSize() float64 { return g.opts.ChunkSize }

// Resolution возвращает число ячеек карты высот по стороне
func (g *Generator) Resolution() int { return g.opts.Resolution }

// Generate строит чанк (cx, cz)
func (g *Generator) Generate(cx, cz int) *Chunk {
	size := g.opts.ChunkSize
	res := g.opts.Resolution
	ox := float64(cx) * size
	oz := float64(cz) * size

	chunk := &Chunk{
		CX:         cx,
		CZ:         cz,
		Size:       size,
		Resolution: res,
		WaterLevel: g.opts.WaterLevel,
		Heightmap:  make([][]float64, res+1),
		Trees:      []Object{},
		Rocks:      []Object{},
		Shrubs:     []Object{},
	}

	for i := 0; i <= res; i++ {
		row := make([]float64, res+1)
		x := ox + float64(i)*size/float64(res)
		for j := 0; j <= res; j++ {
			z := oz + float64(j)*size/float64(res)
			h := g.model.Height(x, z)
			if h < g.opts.WaterLevel {
				chunk.HasWater = true
			}
			row[j] = h
		}
		chunk.Heightmap[i] = row
	}

	centerX, centerZ := ox+size/2, oz+size/2
	chunk.Biome = g.model.BiomeAt(centerX, centerZ)
	chunk.IsSteep = g.model.Slope(centerX, centerZ) > g.opts.SteepSlope

	profile := g.opts.Profiles[chunk.Biome]
	chunk.Trees = g.scatter(cx, cz, CategoryTree, profile, chunk.Trees)
	chunk.Rocks = g.scatter(cx, cz, CategoryRock, profile, chunk.Rocks)
	chunk.Shrubs = g.scatter(cx, cz, CategoryShrub, profile, chunk.Shrubs)

	return chunk
}

// ObjectCount - детерминированное число объектов категории в чанке
func (g *Generator) ObjectCount(cx, cz int, cat Category, p Placement) int {
	if p.Max <= 0 || len(p.Types) == 0 {
		return 0
	}
	lo, hi := p.Min, p.Max
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	span := uint64(hi - lo + 1)
	return lo + int(hashParts(g.seed, int64(cx), int64(cz), int64(cat), laneCount)%span)
}

// scatter раскладывает объекты категории; позиции берутся из хеша
// (seed, cx, cz, категория, итерация, дорожка), а не из полей шума.
func (g *Generator) scatter(cx, cz int, cat Category, profile Profile, out []Object) []Object {
	p := profile.placement(cat)
	count := g.ObjectCount(cx, cz, cat, p)
	size := g.opts.ChunkSize
	ox := float64(cx) * size
	oz := float64(cz) * size

	for k := 0; k < count; k++ {
		it := int64(k)
		key := func(lane int64) uint64 {
			return hashParts(g.seed, int64(cx), int64(cz), int64(cat), it, lane)
		}

		x := ox + unit(key(laneX))*size
		z := oz + unit(key(laneZ))*size
		y := g.model.Height(x, z)

		if y < g.opts.WaterLevel {
			continue
		}
		if cat == CategoryTree {
			if y < g.opts.WaterLevel+g.opts.BeachClearance {
				continue
			}
			if g.model.Slope(x, z) > g.opts.MaxTreeSlope {
				continue
			}
		}

		typ := p.Types[key(laneType)%uint64(len(p.Types))]
		scale := p.ScaleMin + unit(key(laneScale))*(p.ScaleMax-p.ScaleMin)
		rotation := unit(key(laneRotation)) * 2 * math.Pi

		out = append(out, Object{
			Type:     typ,
			X:        x,
			Y:        y,
			Z:        z,
			Scale:    scale,
			Rotation: rotation,
		})
	}
	return out
}
