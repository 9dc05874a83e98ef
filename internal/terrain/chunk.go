package terrain

import (
	"fmt"
	"math"
)

// Object - дерево, камень или куст внутри чанка
type Object struct {
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
}

// Chunk - квадратный участок ландшафта: карта высот и объекты.
// Heightmap[i][j] хранит высоту в точке (cx*Size + i*Size/Resolution, cz*Size + j*Size/Resolution).
type Chunk struct {
	CX         int         `json:"cx"`
	CZ         int         `json:"cz"`
	Size       float64     `json:"size"`
	Resolution int         `json:"resolution"`
	Biome      Biome       `json:"biome"`
	Heightmap  [][]float64 `json:"heightmap"`
	Trees      []Object    `json:"trees"`
	Rocks      []Object    `json:"rocks"`
	Shrubs     []Object    `json:"shrubs"`
	HasWater   bool        `json:"hasWater"`
	WaterLevel float64     `json:"waterLevel"`
	IsSteep    bool        `json:"isSteep"`
}

// Key - ключ чанка "cx:cz", используется кешами и блокировками
func (c *Chunk) Key() string { return ChunkKey(c.CX, c.CZ) }

// ChunkPos - координаты чанка в сетке
type ChunkPos struct{ CX, CZ int }

// ChunkKey форматирует ключ для пары координат
func ChunkKey(cx, cz int) string { return fmt.Sprintf("%d:%d", cx, cz) }

// ChunkCoord переводит мировую точку в координаты чанка
func ChunkCoord(x, z, size float64) (int, int) {
	return int(math.Floor(x / size)), int(math.Floor(z / size))
}

// Origin возвращает мировые координаты угла чанка
func (c *Chunk) Origin() (float64, float64) {
	return float64(c.CX) * c.Size, float64(c.CZ) * c.Size
}

// Contains проверяет, лежит ли (x,z) в пределах чанка (граница включительно)
func (c *Chunk) Contains(x, z float64) bool {
	ox, oz := c.Origin()
	return x >= ox && x <= ox+c.Size && z >= oz && z <= oz+c.Size
}

// HeightAt - билинейная интерполяция между четырьмя ближайшими узлами
func (c *Chunk) HeightAt(x, z float64) float64 {
	ox, oz := c.Origin()
	step := c.Size / float64(c.Resolution)

	fx := clamp((x-ox)/step, 0, float64(c.Resolution))
	fz := clamp((z-oz)/step, 0, float64(c.Resolution))

	i0 := int(math.Floor(fx))
	j0 := int(math.Floor(fz))
	if i0 >= c.Resolution {
		i0 = c.Resolution - 1
	}
	if j0 >= c.Resolution {
		j0 = c.Resolution - 1
	}
	tx := fx - float64(i0)
	tz := fz - float64(j0)

	h00 := c.Heightmap[i0][j0]
	h10 := c.Heightmap[i0+1][j0]
	h01 := c.Heightmap[i0][j0+1]
	h11 := c.Heightmap[i0+1][j0+1]

	a := h00 + (h10-h00)*tx
	b := h01 + (h11-h01)*tx
	return a + (b-a)*tz
}

// Clone делает глубокую копию (карта высот меняется при копании)
func (c *Chunk) Clone() *Chunk {
	out := *c
	out.Heightmap = make([][]float64, len(c.Heightmap))
	for i, row := range c.Heightmap {
		out.Heightmap[i] = append([]float64(nil), row...)
	}
	out.Trees = append([]Object(nil), c.Trees...)
	out.Rocks = append([]Object(nil), c.Rocks...)
	out.Shrubs = append([]Object(nil), c.Shrubs...)
	return &out
}

// Validate проверяет форму чанка после чтения из хранилища
func (c *Chunk) Validate() error {
	if c.Resolution < 1 || c.Size <= 0 {
		return fmt.Errorf("чанк %s: некорректные размеры (size=%v, res=%d)", c.Key(), c.Size, c.Resolution)
	}
	if len(c.Heightmap) != c.Resolution+1 {
		return fmt.Errorf("чанк %s: ожидалось %d строк карты высот, получено %d", c.Key(), c.Resolution+1, len(c.Heightmap))
	}
	for i, row := range c.Heightmap {
		if len(row) != c.Resolution+1 {
			return fmt.Errorf("чанк %s: строка %d длины %d", c.Key(), i, len(row))
		}
	}
	return nil
}
