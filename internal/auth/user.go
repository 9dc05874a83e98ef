package auth

import (
	"time"

	"github.com/annel0/mmo-world/internal/inventory"
)

// User - учётная запись игрока вместе с сохранённым состоянием персонажа.
type User struct {
	ID           uint64    // неизменяемый идентификатор
	Username     string    // уникальное имя (без учёта регистра)
	PasswordHash string    // bcrypt
	CreatedAt    time.Time // время регистрации
	LastLogin    time.Time // последний успешный вход
	IsAdmin      bool      // права администратора
	Profile      Profile   // последнее сохранённое состояние персонажа
}

// Profile - то, что переживает выход из игры: позиция, здоровье, счёт и инвентарь.
// Health == 0 означает «не задано» (новый персонаж или сохранён мёртвым).
// Revision растёт только при правках в обход сервера (BumpRevision):
// сервер пишет профиль с той ревизией, с которой его загрузил.
type Profile struct {
	Inventory inventory.Inventory `json:"inventory"`
	Health    float64             `json:"health"`
	X         float64             `json:"x"`
	Y         float64             `json:"y"`
	Z         float64             `json:"z"`
	Rotation  float64             `json:"rotation"`
	Kills     int                 `json:"kills"`
	Deaths    int                 `json:"deaths"`
	Model     string              `json:"model"`
	Revision  int64               `json:"revision"`
}

// BumpRevision помечает профиль как изменённый вне игрового сервера
func (p *Profile) BumpRevision() { p.Revision++ }

// GetRole возвращает роль для JWT
func (u *User) GetRole() string {
	if u.IsAdmin {
		return "admin"
	}
	return "player"
}
