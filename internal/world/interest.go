package world

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// InterestManager - пространственный индекс по равномерной сетке в плоскости XZ.
// Отвечает на вопрос «кому рассылать событие в точке (x, z)».
// Высота y в расчётах расстояния не участвует.
type InterestManager[T any] struct {
	cellSize float64

	mu      sync.RWMutex
	cells   map[cellKey]map[string]*indexed[T]
	entries map[string]*indexed[T]
}

// cellKey - координаты ячейки сетки
type cellKey struct {
	x, z int
}

type indexed[T any] struct {
	id    string
	x, z  float64
	cell  cellKey
	value T
}

// NewInterestManager создаёт индекс; cellSize обычно равен размеру чанка
func NewInterestManager[T any](cellSize float64) *InterestManager[T] {
	if cellSize <= 0 {
		cellSize = 50
	}
	return &InterestManager[T]{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[string]*indexed[T]),
		entries:  make(map[string]*indexed[T]),
	}
}

func (m *InterestManager[T]) cellOf(x, z float64) cellKey {
	return cellKey{x: int(math.Floor(x / m.cellSize)), z: int(math.Floor(z / m.cellSize))}
}

// Upsert добавляет запись или переносит её в новую позицию
func (m *InterestManager[T]) Upsert(id string, x, z float64, value T) {
	if math.IsNaN(x) || math.IsNaN(z) || math.IsInf(x, 0) || math.IsInf(z, 0) {
		return
	}
	key := m.cellOf(x, z)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		if e.cell != key {
			m.removeFromCell(e)
			m.addToCell(key, e)
		}
		e.x, e.z, e.value = x, z, value
		return
	}

	e := &indexed[T]{id: id, x: x, z: z, value: value}
	m.addToCell(key, e)
	m.entries[id] = e
}

// Remove убирает запись; неизвестный id игнорируется
func (m *InterestManager[T]) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok {
		m.removeFromCell(e)
		delete(m.entries, id)
	}
}

// Nearby возвращает записи на горизонтальном расстоянии ≤ r от (x, z),
// кроме exclude. Порядок по id.
func (m *InterestManager[T]) Nearby(x, z, r float64, exclude string) []T {
	if r < 0 || math.IsNaN(r) {
		return nil
	}
	r2 := r * r
	spanX := math.Floor((x+r)/m.cellSize) - math.Floor((x-r)/m.cellSize) + 1
	spanZ := math.Floor((z+r)/m.cellSize) - math.Floor((z-r)/m.cellSize) + 1

	m.mu.RLock()
	var found []*indexed[T]
	if spanX*spanZ > float64(len(m.cells)) {
		// окно больше занятой области, дешевле пройти по занятым ячейкам
		for _, cell := range m.cells {
			found = appendWithin(found, cell, x, z, r2, exclude)
		}
	} else {
		lo := m.cellOf(x-r, z-r)
		hi := m.cellOf(x+r, z+r)
		for cx := lo.x; cx <= hi.x; cx++ {
			for cz := lo.z; cz <= hi.z; cz++ {
				if cell, ok := m.cells[cellKey{cx, cz}]; ok {
					found = appendWithin(found, cell, x, z, r2, exclude)
				}
			}
		}
	}
	out := make([]T, 0, len(found))
	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })
	for _, e := range found {
		out = append(out, e.value)
	}
	m.mu.RUnlock()

	return out
}

func appendWithin[T any](dst []*indexed[T], cell map[string]*indexed[T], x, z, r2 float64, exclude string) []*indexed[T] {
	for id, e := range cell {
		if id == exclude {
			continue
		}
		dx := e.x - x
		dz := e.z - z
		if dx*dx+dz*dz <= r2 {
			dst = append(dst, e)
		}
	}
	return dst
}

// All возвращает все записи, упорядоченные по id
func (m *InterestManager[T]) All() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.entries[id].value)
	}
	return out
}

// Len - число записей
func (m *InterestManager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats - краткая сводка для логов
func (m *InterestManager[T]) Stats() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	maxPerCell := 0
	for _, c := range m.cells {
		if len(c) > maxPerCell {
			maxPerCell = len(c)
		}
	}
	return fmt.Sprintf("interest: %d записей, %d ячеек, максимум %d в ячейке", len(m.entries), len(m.cells), maxPerCell)
}

func (m *InterestManager[T]) addToCell(key cellKey, e *indexed[T]) {
	cell, ok := m.cells[key]
	if !ok {
		cell = make(map[string]*indexed[T])
		m.cells[key] = cell
	}
	cell[e.id] = e
	e.cell = key
}

func (m *InterestManager[T]) removeFromCell(e *indexed[T]) {
	if cell, ok := m.cells[e.cell]; ok {
		delete(cell, e.id)
		if len(cell) == 0 {
			delete(m.cells, e.cell)
		}
	}
}
