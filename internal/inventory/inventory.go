// Package inventory - стопки предметов игрока ({toolId, quantity}) и их
// разбор из всех форматов, которые встречаются в сохранениях.
package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFull - для нового вида предмета нет свободного слота
var ErrFull = errors.New("инвентарь заполнен")

// Slot - стопка одного вида предметов
type Slot struct {
	ToolID   string `json:"toolId"`
	Quantity int    `json:"quantity"`
}

// Inventory - упорядоченный список стопок. Порядок сохраняется, пустые стопки удаляются.
type Inventory []Slot

// Of собирает инвентарь из идентификаторов, по одному предмету каждого
func Of(ids ...string) Inventory {
	var inv Inventory
	for _, id := range ids {
		_ = inv.Add(id, 1, 0)
	}
	return inv
}

// Count - сколько предметов toolID в инвентаре
func (inv Inventory) Count(toolID string) int {
	n := 0
	for _, s := range inv {
		if s.ToolID == toolID {
			n += s.Quantity
		}
	}
	return n
}

// Add добавляет qty предметов; maxSlots ≤ 0 — без ограничения
func (inv *Inventory) Add(toolID string, qty int, maxSlots int) error {
	if toolID == "" || qty <= 0 {
		return fmt.Errorf("некорректный предмет %q × %d", toolID, qty)
	}
	for i := range *inv {
		if (*inv)[i].ToolID == toolID {
			(*inv)[i].Quantity += qty
			return nil
		}
	}
	if maxSlots > 0 && len(*inv) >= maxSlots {
		return ErrFull
	}
	*inv = append(*inv, Slot{ToolID: toolID, Quantity: qty})
	return nil
}

// Consume списывает qty предметов целиком или ничего не меняет
func (inv *Inventory) Consume(toolID string, qty int) bool {
	if qty <= 0 || inv.Count(toolID) < qty {
		return false
	}
	left := qty
	out := (*inv)[:0]
	for _, s := range *inv {
		if s.ToolID == toolID && left > 0 {
			take := s.Quantity
			if take > left {
				take = left
			}
			s.Quantity -= take
			left -= take
		}
		if s.Quantity > 0 {
			out = append(out, s)
		}
	}
	*inv = out
	return true
}

// Clone возвращает независимую копию
func (inv Inventory) Clone() Inventory {
	if inv == nil {
		return Inventory{}
	}
	return append(Inventory{}, inv...)
}

// Normalize склеивает одинаковые предметы и выкидывает пустые стопки
func (inv Inventory) Normalize() Inventory {
	out := Inventory{}
	for _, s := range inv {
		if s.ToolID == "" || s.Quantity <= 0 {
			continue
		}
		_ = out.Add(s.ToolID, s.Quantity, 0)
	}
	return out
}

// UnmarshalJSON понимает три формата: [{toolId, quantity}], ["MPSD", ...]
// и обёртку {"inventory": [...]} из старых сохранений.
func (inv *Inventory) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*inv = Inventory{}
		return nil
	}

	if data[0] == '{' {
		var wrapped struct {
			Inventory json.RawMessage `json:"inventory"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		if len(wrapped.Inventory) == 0 {
			*inv = Inventory{}
			return nil
		}
		return inv.UnmarshalJSON(wrapped.Inventory)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("инвентарь: %w", err)
	}
	out := Inventory{}
	for _, item := range raw {
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			_ = out.Add(id, 1, 0)
			continue
		}
		var s Slot
		if err := json.Unmarshal(item, &s); err != nil {
			return fmt.Errorf("инвентарь: %w", err)
		}
		if s.ToolID != "" && s.Quantity > 0 {
			_ = out.Add(s.ToolID, s.Quantity, 0)
		}
	}
	*inv = out
	return nil
}

// Parse разбирает сохранённый inventory_json; битые данные дают пустой инвентарь
func Parse(s string) Inventory {
	var inv Inventory
	if err := json.Unmarshal([]byte(s), &inv); err != nil {
		return Inventory{}
	}
	return inv
}

// String сериализует инвентарь для колонки inventory_json
func (inv Inventory) String() string {
	if inv == nil {
		return "[]"
	}
	data, err := json.Marshal([]Slot(inv))
	if err != nil {
		return "[]"
	}
	return string(data)
}
