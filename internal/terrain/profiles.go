package terrain

// Category - класс объектов, которые раскладываются по чанку
type Category int64

const (
	CategoryTree Category = iota + 1
	CategoryRock
	CategoryShrub
)

// Placement - сколько объектов категории ставить и каких типов
type Placement struct {
	Min, Max           int
	Types              []string
	ScaleMin, ScaleMax float64
}

// Profile - таблица плотности объектов одного биома
type Profile struct {
	Trees  Placement
	Rocks  Placement
	Shrubs Placement
}

func (p Profile) placement(c Category) Placement {
	switch c {
	case CategoryTree:
		return p.Trees
	case CategoryRock:
		return p.Rocks
	default:
		return p.Shrubs
	}
}

var (
	rockTypes  = []string{"boulder", "stone", "mossy_rock"}
	shrubTypes = []string{"bush", "fern", "grass_tuft"}
)

// DefaultProfiles возвращает таблицы плотности по биомам
func DefaultProfiles() map[Biome]Profile {
	return map[Biome]Profile{
		BiomeOcean: {},
		BiomeBeach: {
			Trees:  Placement{Min: 0, Max: 2, Types: []string{"palm"}, ScaleMin: 3, ScaleMax: 4.5},
			Rocks:  Placement{Min: 0, Max: 2, Types: rockTypes, ScaleMin: 0.5, ScaleMax: 1.2},
			Shrubs: Placement{Min: 0, Max: 2, Types: []string{"grass_tuft"}, ScaleMin: 0.6, ScaleMax: 1},
		},
		BiomePlain: {
			Trees:  Placement{Min: 1, Max: 3, Types: []string{"oak"}, ScaleMin: 3, ScaleMax: 5},
			Rocks:  Placement{Min: 0, Max: 2, Types: rockTypes, ScaleMin: 0.5, ScaleMax: 1.5},
			Shrubs: Placement{Min: 2, Max: 5, Types: shrubTypes, ScaleMin: 0.6, ScaleMax: 1.2},
		},
		BiomeForest: {
			Trees:  Placement{Min: 4, Max: 9, Types: []string{"pine", "pine", "oak", "birch"}, ScaleMin: 3, ScaleMax: 5},
			Rocks:  Placement{Min: 1, Max: 3, Types: rockTypes, ScaleMin: 0.5, ScaleMax: 1.5},
			Shrubs: Placement{Min: 3, Max: 7, Types: shrubTypes, ScaleMin: 0.6, ScaleMax: 1.4},
		},
		BiomeJungle: {
			Trees:  Placement{Min: 6, Max: 12, Types: []string{"jungle_tree", "palm", "oak"}, ScaleMin: 3.5, ScaleMax: 6},
			Rocks:  Placement{Min: 0, Max: 2, Types: []string{"mossy_rock"}, ScaleMin: 0.5, ScaleMax: 1.5},
			Shrubs: Placement{Min: 5, Max: 10, Types: []string{"fern", "bush"}, ScaleMin: 0.8, ScaleMax: 1.6},
		},
		BiomeHill: {
			Trees:  Placement{Min: 2, Max: 5, Types: []string{"pine", "oak"}, ScaleMin: 3, ScaleMax: 5},
			Rocks:  Placement{Min: 2, Max: 5, Types: rockTypes, ScaleMin: 0.8, ScaleMax: 2},
			Shrubs: Placement{Min: 1, Max: 4, Types: shrubTypes, ScaleMin: 0.6, ScaleMax: 1.2},
		},
		BiomeMountain: {
			Trees:  Placement{Min: 0, Max: 3, Types: []string{"pine"}, ScaleMin: 2.5, ScaleMax: 4},
			Rocks:  Placement{Min: 3, Max: 7, Types: []string{"boulder", "stone"}, ScaleMin: 1, ScaleMax: 3},
			Shrubs: Placement{Min: 0, Max: 2, Types: []string{"grass_tuft"}, ScaleMin: 0.5, ScaleMax: 1},
		},
	}
}
