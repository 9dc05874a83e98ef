package terrain

// Хеш для расстановки объектов. Не зависит от полей шума, поэтому
// изменение плотности объектов никак не влияет на форму рельефа.

const (
	golden64 = 0x9e3779b97f4a7c15
	mixMul1  = 0xbf58476d1ce4e5b9
	mixMul2  = 0x94d049bb133111eb
)

// mix64 - финализатор splitmix64
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= mixMul1
	x ^= x >> 27
	x *= mixMul2
	x ^= x >> 31
	return x
}

// hashParts смешивает сид и произвольный набор целых
func hashParts(seed int64, parts ...int64) uint64 {
	h := mix64(uint64(seed) + golden64)
	for _, p := range parts {
		h = mix64(h ^ (uint64(p) + golden64 + (h << 6) + (h >> 2)))
	}
	return h
}

// unit переводит хеш в [0, 1)
func unit(h uint64) float64 {
	return float64(h>>11) / float64(uint64(1)<<53)
}

// Дорожки хеша одной итерации размещения
const (
	laneCount int64 = iota + 1
	laneX
	laneZ
	laneType
	laneScale
	laneRotation
)
