package world

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNearbyIncludesBoundary(t *testing.T) {
	m := NewInterestManager[string](50)
	m.Upsert("a", 0, 0, "a")
	m.Upsert("edge", 200, 0, "edge")
	m.Upsert("far", 200.001, 0, "far")
	m.Upsert("diag", 120, 160, "diag") // ровно 200 по диагонали

	assert.Equal(t, []string{"diag", "edge"}, m.Nearby(0, 0, 200, "a"))
	assert.Equal(t, []string{"a", "diag", "edge"}, m.Nearby(0, 0, 200, ""))
}

func TestNearbyIgnoresHeight(t *testing.T) {
	m := NewInterestManager[int](50)
	m.Upsert("p", 3, 4, 1)
	assert.Equal(t, []int{1}, m.Nearby(0, 0, 5, ""))
	assert.Empty(t, m.Nearby(0, 0, 4.99, ""))
}

func TestUpsertMovesBetweenCells(t *testing.T) {
	m := NewInterestManager[string](10)
	m.Upsert("p", 1, 1, "p")
	m.Upsert("p", 95, -95, "p")

	assert.Empty(t, m.Nearby(0, 0, 20, ""))
	assert.Equal(t, []string{"p"}, m.Nearby(95, -95, 1, ""))
	assert.Equal(t, 1, m.Len())
}

func TestRemove(t *testing.T) {
	m := NewInterestManager[string](50)
	m.Upsert("p", 0, 0, "p")
	m.Remove("p")
	m.Remove("missing")

	assert.Empty(t, m.Nearby(0, 0, 1000, ""))
	assert.Zero(t, m.Len())
}

func TestUpsertIgnoresNonFinite(t *testing.T) {
	m := NewInterestManager[string](50)
	m.Upsert("p", 10, 10, "p")
	m.Upsert("p", math.NaN(), 10, "p")

	assert.Equal(t, []string{"p"}, m.Nearby(10, 10, 0, ""), "запись осталась на старом месте")
}

func TestNearbyHugeRadius(t *testing.T) {
	m := NewInterestManager[string](50)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("p%d", i)
		m.Upsert(id, float64(i*1000), float64(-i*1000), id)
	}
	assert.Len(t, m.Nearby(0, 0, math.MaxFloat64, ""), 10)
	assert.Nil(t, m.Nearby(0, 0, -1, ""))
}

func TestNearbyMatchesBruteForce(t *testing.T) {
	m := NewInterestManager[string](50)
	type pt struct{ x, z float64 }
	pts := map[string]pt{}
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("p%03d", i)
		p := pt{float64((i*37)%400) - 200, float64((i*91)%400) - 200}
		pts[id] = p
		m.Upsert(id, p.x, p.z, id)
	}

	for _, r := range []float64{0, 25, 50, 120, 300} {
		var want []string
		for id, p := range pts {
			dx, dz := p.x-10, p.z+20
			if dx*dx+dz*dz <= r*r {
				want = append(want, id)
			}
		}
		got := m.Nearby(10, -20, r, "")
		assert.ElementsMatch(t, want, got, "r=%v", r)
	}
}
