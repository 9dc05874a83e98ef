package player

import (
	"fmt"
	"strings"

	"github.com/annel0/mmo-world/internal/inventory"
)

// DeathPolicy - что происходит с инвентарём при смерти
type DeathPolicy string

const (
	// DeathClear - инвентарь сгорает (поведение по умолчанию)
	DeathClear DeathPolicy = "clear"
	// DeathKeep - инвентарь сохраняется
	DeathKeep DeathPolicy = "keep"
	// DeathDrop - содержимое выпадает на землю как временные предметы
	DeathDrop DeathPolicy = "drop"
)

// ParseDeathPolicy разбирает значение из конфига
func ParseDeathPolicy(s string) (DeathPolicy, error) {
	switch p := DeathPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DeathClear, DeathKeep, DeathDrop:
		return p, nil
	case "":
		return DeathClear, nil
	default:
		return "", fmt.Errorf("неизвестная политика смерти %q (clear | keep | drop)", s)
	}
}

// ApplyDeathPolicy применяет политику к погибшему персонажу.
// Возвращает слоты, которые нужно выбросить в мир (только для DeathDrop).
func ApplyDeathPolicy(s *State, policy DeathPolicy) inventory.Inventory {
	switch policy {
	case DeathKeep:
		return nil
	case DeathDrop:
		return s.ClearInventory()
	default:
		s.ClearInventory()
		return nil
	}
}
