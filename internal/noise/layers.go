package noise

// Layers - набор независимых полей, из которых строится рельеф.
// Мир задаётся одним сидом; у каждого слоя свой производный сид.
type Layers struct {
	Continentalness *Field
	Erosion         *Field
	PeaksValleys    *Field
	Mountain        *Field
	Detail          *Field
}

// NewLayers создаёт слои для сида мира
func NewLayers(seed int64) *Layers {
	return &Layers{
		Continentalness: NewField(seed + 1),
		Erosion:         NewField(seed + 2),
		PeaksValleys:    NewField(seed + 3),
		Mountain:        NewField(seed + 4),
		Detail:          NewField(seed + 5),
	}
}
