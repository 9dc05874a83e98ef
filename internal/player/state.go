// Package player - авторитетное состояние игроков и жизненный цикл сессий:
// online → offline-idle → online (тот же объект) → ... → удаление администратором.
package player

import (
	"math"
	"sync"
	"time"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/inventory"
)

const (
	DefaultMaxHealth = 200
	DefaultModel     = "Ninja"

	AnimIdle = "idle"
	AnimDie  = "die"
)

// MovementUpdate - частичное обновление из playerMovement: nil-поля не меняются
type MovementUpdate struct {
	X              *float64 `json:"x,omitempty"`
	Y              *float64 `json:"y,omitempty"`
	Z              *float64 `json:"z,omitempty"`
	Rotation       *float64 `json:"rotation,omitempty"`
	Pitch          *float64 `json:"pitch,omitempty"`
	MoveSpeed      *float64 `json:"moveSpeed,omitempty"`
	MoveDirX       *float64 `json:"moveDirX,omitempty"`
	MoveDirY       *float64 `json:"moveDirY,omitempty"`
	AnimationState *string  `json:"animationState,omitempty"`
	EquippedSlot   *int     `json:"equippedSlot,omitempty"`
}

// Validate проверяет, что все присланные числа конечны
func (u *MovementUpdate) Validate() error {
	for _, v := range []*float64{u.X, u.Y, u.Z, u.Rotation, u.Pitch, u.MoveSpeed, u.MoveDirX, u.MoveDirY} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return gameerr.Validation("player movement", "нечисловые координаты")
		}
	}
	if u.AnimationState != nil && len(*u.AnimationState) > 32 {
		return gameerr.Validation("player movement", "слишком длинное состояние анимации")
	}
	if u.EquippedSlot != nil && *u.EquippedSlot < 0 {
		return gameerr.Validation("player movement", "отрицательный слот")
	}
	return nil
}

// Packet - проекция игрока для чужих клиентов. Инвентарь не раскрывается.
type Packet struct {
	ID             string              `json:"id"`
	Username       string              `json:"username"`
	X              float64             `json:"x"`
	Y              float64             `json:"y"`
	Z              float64             `json:"z"`
	Rotation       float64             `json:"rotation"`
	Pitch          float64             `json:"pitch"`
	Health         float64             `json:"health"`
	MoveSpeed      float64             `json:"moveSpeed"`
	MoveDirX       float64             `json:"moveDirX"`
	MoveDirY       float64             `json:"moveDirY"`
	Model          string              `json:"model"`
	AnimationState string              `json:"animationState"`
	EquippedSlot   int                 `json:"equippedSlot"`
	IsOnline       bool                `json:"isOnline"`
	Inventory      inventory.Inventory `json:"inventory"`
}

// FullState - полное состояние для владельца
type FullState struct {
	Packet
	Kills     int     `json:"kills"`
	Deaths    int     `json:"deaths"`
	MaxHealth float64 `json:"maxHealth"`
	IsAlive   bool    `json:"isAlive"`
}

// State - один персонаж. Все методы потокобезопасны.
type State struct {
	mu sync.RWMutex

	connID   string
	username string

	x, y, z  float64
	rotation float64
	pitch    float64

	health    float64
	maxHealth float64
	kills     int
	deaths    int

	inventory    inventory.Inventory
	equippedSlot int
	model        string

	moveSpeed      float64
	moveDirX       float64
	moveDirY       float64
	animationState string

	isAlive    bool
	isOnline   bool
	lastUpdate time.Time

	// ревизия профиля в хранилище, от которой ведётся это состояние
	revision int64
}

// NewState собирает персонажа из сохранённого профиля
func NewState(connID, username string, p auth.Profile) *State {
	s := &State{
		connID:         connID,
		username:       username,
		x:              p.X,
		y:              p.Y,
		z:              p.Z,
		rotation:       p.Rotation,
		health:         p.Health,
		maxHealth:      DefaultMaxHealth,
		kills:          p.Kills,
		deaths:         p.Deaths,
		inventory:      p.Inventory.Normalize(),
		model:          p.Model,
		animationState: AnimIdle,
		isAlive:        true,
		lastUpdate:     time.Now(),
		revision:       p.Revision,
	}
	// сохранён мёртвым или впервые: входит с полным здоровьем
	if s.health <= 0 || s.health > s.maxHealth {
		s.health = s.maxHealth
	}
	if s.model == "" {
		s.model = DefaultModel
	}
	return s
}

// ID - идентификатор текущего (или последнего) соединения
func (s *State) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connID
}

// Username - имя игрока, не меняется
func (s *State) Username() string { return s.username }

// Position возвращает координаты
func (s *State) Position() (x, y, z float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.x, s.y, s.z
}

// Health - текущее здоровье
func (s *State) Health() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// IsAlive - жив ли персонаж
func (s *State) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAlive
}

// IsOnline - подключён ли игрок
func (s *State) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// LastUpdate - время последнего движения
func (s *State) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Stats - убийства и смерти
func (s *State) Stats() (kills, deaths int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.kills, s.deaths
}

// UpdatePosition применяет частичное обновление. При ошибке состояние не меняется.
func (s *State) UpdatePosition(u MovementUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	setF := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setF(&s.x, u.X)
	setF(&s.y, u.Y)
	setF(&s.z, u.Z)
	setF(&s.rotation, u.Rotation)
	setF(&s.pitch, u.Pitch)
	setF(&s.moveSpeed, u.MoveSpeed)
	setF(&s.moveDirX, u.MoveDirX)
	setF(&s.moveDirY, u.MoveDirY)
	if u.AnimationState != nil {
		s.animationState = *u.AnimationState
	}
	if u.EquippedSlot != nil {
		s.equippedSlot = *u.EquippedSlot
	}
	s.lastUpdate = time.Now()
	return nil
}

// TakeDamage снимает здоровье (не ниже нуля). true ровно на переходе в смерть;
// урон по мёртвому ничего не делает.
func (s *State) TakeDamage(amount float64) (died bool, health float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isAlive || amount <= 0 || math.IsNaN(amount) {
		return false, s.health
	}
	s.health = math.Max(0, s.health-amount)
	if s.health <= 0 {
		s.isAlive = false
		s.deaths++
		s.animationState = AnimDie
		return true, 0
	}
	return false, s.health
}

// Respawn восстанавливает здоровье и переносит персонажа
func (s *State) Respawn(x, y, z float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = s.maxHealth
	s.x, s.y, s.z = x, y, z
	s.isAlive = true
	s.animationState = AnimIdle
	s.moveSpeed, s.moveDirX, s.moveDirY = 0, 0, 0
}

// AddKill засчитывает убийство
func (s *State) AddKill() {
	s.mu.Lock()
	s.kills++
	s.mu.Unlock()
}

// Inventory возвращает копию инвентаря
func (s *State) Inventory() inventory.Inventory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inventory.Clone()
}

// SetInventory заменяет инвентарь целиком
func (s *State) SetInventory(inv inventory.Inventory) {
	s.mu.Lock()
	s.inventory = inv.Normalize()
	s.mu.Unlock()
}

// ClearInventory опустошает инвентарь и возвращает то, что в нём было
func (s *State) ClearInventory() inventory.Inventory {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.inventory
	s.inventory = inventory.Inventory{}
	return old
}

// AddItem кладёт qty предметов; maxSlots ≤ 0 — без ограничения
func (s *State) AddItem(toolID string, qty int, maxSlots int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory.Add(toolID, qty, maxSlots)
}

// ConsumeItem списывает qty предметов целиком или ничего
func (s *State) ConsumeItem(toolID string, qty int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory.Consume(toolID, qty)
}

// SetModel меняет модель персонажа; пустое имя игнорируется
func (s *State) SetModel(model string) {
	if model == "" {
		return
	}
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// NetworkPacket - проекция для других игроков
func (s *State) NetworkPacket() Packet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packetLocked()
}

func (s *State) packetLocked() Packet {
	return Packet{
		ID:             s.connID,
		Username:       s.username,
		X:              s.x,
		Y:              s.y,
		Z:              s.z,
		Rotation:       s.rotation,
		Pitch:          s.pitch,
		Health:         s.health,
		MoveSpeed:      s.moveSpeed,
		MoveDirX:       s.moveDirX,
		MoveDirY:       s.moveDirY,
		Model:          s.model,
		AnimationState: s.animationState,
		EquippedSlot:   s.equippedSlot,
		IsOnline:       s.isOnline,
		Inventory:      inventory.Inventory{},
	}
}

// FullState - состояние для самого игрока
func (s *State) FullState() FullState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.packetLocked()
	p.Inventory = s.inventory.Clone()
	return FullState{
		Packet:    p,
		Kills:     s.kills,
		Deaths:    s.deaths,
		MaxHealth: s.maxHealth,
		IsAlive:   s.isAlive,
	}
}

// Profile - то, что сохраняется в базе
func (s *State) Profile() auth.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auth.Profile{
		Inventory: s.inventory.Clone(),
		Health:    s.health,
		X:         s.x,
		Y:         s.y,
		Z:         s.z,
		Rotation:  s.rotation,
		Kills:     s.kills,
		Deaths:    s.deaths,
		Model:     s.model,
		Revision:  s.revision,
	}
}

// adoptNewer подхватывает инвентарь профиля, если его правили в обход сервера.
// Профиль той же ревизии ничего не меняет: память авторитетнее хранилища,
// в которое ещё может не дойти отложенная запись.
func (s *State) adoptNewer(p auth.Profile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Revision <= s.revision {
		return false
	}
	s.inventory = p.Inventory.Normalize()
	s.revision = p.Revision
	return true
}

func (s *State) attach(connID, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connID = connID
	s.isOnline = true
	s.lastUpdate = time.Now()
	if model != "" {
		s.model = model
	}
}

func (s *State) markOffline() {
	s.mu.Lock()
	s.isOnline = false
	s.moveSpeed, s.moveDirX, s.moveDirY = 0, 0, 0
	if s.isAlive {
		s.animationState = AnimIdle
	}
	s.mu.Unlock()
}
