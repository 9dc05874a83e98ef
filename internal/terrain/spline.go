package terrain

import (
	"math"
	"sort"
)

// Point - контрольная точка сплайна: значение шума -> высота
type Point struct {
	In  float64
	Out float64
}

// Spline - кусочно-линейное отображение ограниченного шума в высоту.
// За пределами таблицы значение зажимается до крайней точки.
type Spline struct {
	points []Point
}

// NewSpline создаёт сплайн; точки сортируются по In.
func NewSpline(points ...Point) Spline {
	ps := make([]Point, len(points))
	copy(ps, points)
	sort.Slice(ps, func(i, j int) bool { return ps[i].In < ps[j].In })
	return Spline{points: ps}
}

// At вычисляет значение сплайна в точке v
func (s Spline) At(v float64) float64 {
	n := len(s.points)
	if n == 0 {
		return 0
	}
	if math.IsNaN(v) {
		return v
	}
	if v <= s.points[0].In {
		return s.points[0].Out
	}
	if v >= s.points[n-1].In {
		return s.points[n-1].Out
	}

	// первая точка с In > v; отрезок [i-1, i]
	i := sort.Search(n, func(k int) bool { return s.points[k].In > v })
	a, b := s.points[i-1], s.points[i]
	span := b.In - a.In
	if span == 0 {
		return b.Out
	}
	t := (v - a.In) / span
	return a.Out + (b.Out-a.Out)*t
}

// Points возвращает копию контрольных точек
func (s Spline) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

var (
	// continentalSpline: глубокий океан -> побережье -> равнины -> высокая суша
	continentalSpline = NewSpline(
		Point{-1.0, -25},
		Point{-0.45, -12},
		Point{-0.2, -2},
		Point{-0.05, 1},
		Point{0.1, 5},
		Point{0.4, 18},
		Point{0.7, 35},
		Point{1.0, 60},
	)

	// peaksValleysSpline: локальные холмы и долины
	peaksValleysSpline = NewSpline(
		Point{-1.0, -12},
		Point{-0.5, -5},
		Point{0.0, 0},
		Point{0.5, 6},
		Point{1.0, 14},
	)
)
