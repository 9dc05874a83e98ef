package terrain

import "fmt"

// Biome - тип биома чанка
type Biome int

const (
	BiomeOcean Biome = iota
	BiomeBeach
	BiomePlain
	BiomeForest
	BiomeJungle
	BiomeHill
	BiomeMountain
)

var biomeNames = [...]string{"ocean", "beach", "plain", "forest", "jungle", "hill", "mountain"}

func (b Biome) String() string {
	if b < 0 || int(b) >= len(biomeNames) {
		return "unknown"
	}
	return biomeNames[b]
}

// MarshalText кодирует биом строкой ("forest"), так его видит клиент
func (b Biome) MarshalText() ([]byte, error) {
	if b < 0 || int(b) >= len(biomeNames) {
		return nil, fmt.Errorf("неизвестный биом %d", int(b))
	}
	return []byte(biomeNames[b]), nil
}

// UnmarshalText разбирает имя биома
func (b *Biome) UnmarshalText(text []byte) error {
	v, err := ParseBiome(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// ParseBiome возвращает биом по имени
func ParseBiome(s string) (Biome, error) {
	for i, name := range biomeNames {
		if name == s {
			return Biome(i), nil
		}
	}
	return BiomeOcean, fmt.Errorf("неизвестный биом %q", s)
}

// Пороги классификации
const (
	beachBand         = 2.0
	mountainHeight    = 35.0
	ruggedMountainMin = 20.0
	hillErosionMax    = -0.1
	hillPVMin         = 0.25
	jungleContMin     = 0.3
	jungleErosionMin  = 0.1
	forestPVMax       = 0.2
)

// ClassifyBiome - дерево решений по высоте и слоям шума.
// Порядок проверок важен: вода и пляж определяются только высотой.
func ClassifyBiome(height, c, e, pv, waterLevel float64) Biome {
	switch {
	case height < waterLevel:
		return BiomeOcean
	case height < waterLevel+beachBand:
		return BiomeBeach
	case height > mountainHeight,
		e < mountainErosionMax && c > mountainContMin && height > ruggedMountainMin:
		return BiomeMountain
	case e < hillErosionMax && pv > hillPVMin:
		return BiomeHill
	case c > jungleContMin && e > jungleErosionMin:
		return BiomeJungle
	case c > 0 && pv < forestPVMax:
		return BiomeForest
	default:
		return BiomePlain
	}
}
