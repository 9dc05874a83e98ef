package protocol

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/annel0/mmo-world/internal/player"
	"github.com/annel0/mmo-world/internal/storage"
)

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ===== Входящие =====

// LoginRequest - вход по паролю или по ранее выданному токену
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (r *LoginRequest) Validate() error {
	if r.Token == "" && (r.Username == "" || r.Password == "") {
		return gameerr.New(gameerr.AuthFailure, EvLogin, "Invalid credentials.")
	}
	if len(r.Model) > 64 {
		r.Model = ""
	}
	return nil
}

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChunkCoord struct {
	CX int `json:"cx"`
	CZ int `json:"cz"`
}

// ChunkRequest - список чанков. Принимает и объект, и голый массив [{cx,cz}].
type ChunkRequest struct {
	Chunks        []ChunkCoord `json:"chunks"`
	IsInitialLoad bool         `json:"isInitialLoad,omitempty"`
}

func (r *ChunkRequest) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.Chunks)
	}
	type plain ChunkRequest
	return json.Unmarshal(data, (*plain)(r))
}

type HitRequest struct {
	TargetID string   `json:"targetId"`
	Damage   *float64 `json:"damage,omitempty"`
}

func (r *HitRequest) Validate() error {
	if r.TargetID == "" {
		return gameerr.Validation(EvPlayerHit, "не указана цель")
	}
	if r.Damage != nil && (!finite(*r.Damage) || *r.Damage < 0) {
		return gameerr.Validation(EvPlayerHit, "некорректный урон")
	}
	return nil
}

// InventoryUpdate - новый инвентарь. Принимает и объект, и голый массив.
type InventoryUpdate struct {
	Inventory inventory.Inventory `json:"inventory"`
}

func (r *InventoryUpdate) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.Inventory)
	}
	type plain InventoryUpdate
	return json.Unmarshal(data, (*plain)(r))
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type PlaceBlockRequest struct {
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

type DamageBlockRequest struct {
	ID     string  `json:"id"`
	Damage float64 `json:"damage"`
}

func (r *DamageBlockRequest) Validate() error {
	if r.ID == "" {
		return gameerr.Validation(EvDamageBlock, "не указан блок")
	}
	if !finite(r.Damage) || r.Damage <= 0 {
		return gameerr.Validation(EvDamageBlock, "некорректный урон")
	}
	return nil
}

// DamageObjectRequest - удар по дереву или камню
type DamageObjectRequest struct {
	Position Vec3    `json:"position"`
	ToolID   string  `json:"toolId,omitempty"`
	Damage   float64 `json:"damage"`
}

type WorldItemsRequest struct {
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius,omitempty"`
}

func (r *WorldItemsRequest) Validate() error {
	if !finite(r.X, r.Z, r.Radius) || r.Radius < 0 {
		return gameerr.Validation(EvGetWorldItems, "некорректная область")
	}
	return nil
}

type PickupRequest struct {
	ItemID string `json:"itemId"`
}

func (r *PickupRequest) Validate() error {
	if r.ItemID == "" {
		return gameerr.Validation(EvPickupItem, "не указан предмет")
	}
	return nil
}

type DigRequest struct {
	X      float64 `json:"x"`
	Z      float64 `json:"z"`
	Radius float64 `json:"radius"`
	Depth  float64 `json:"depth"`
}

// ===== Исходящие =====

// Message - текстовое сообщение (authError, authSuccess, youDied, notification)
type Message struct {
	Message string `json:"message"`
}

type LoginSuccess struct {
	ID        string              `json:"id"`
	Player    player.FullState    `json:"player"`
	Inventory inventory.Inventory `json:"inventory"`
	Token     string              `json:"token,omitempty"`
	Reconnect bool                `json:"reconnect"`
}

// PlayerRef - появление игрока в мире
type PlayerRef struct {
	ID     string        `json:"id"`
	Player player.Packet `json:"player"`
}

type PlayerOffline struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type PlayerDamaged struct {
	ID         string  `json:"id"`
	Health     float64 `json:"health"`
	Damage     float64 `json:"damage"`
	AttackerID string  `json:"attackerId,omitempty"`
}

type PlayerDied struct {
	ID       string `json:"id"`
	KillerID string `json:"killerId"`
}

type PlayerRespawn struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

// ObjectDamaged - treeDamaged / rockDamaged
type ObjectDamaged struct {
	Key       string  `json:"key"`
	Position  Vec3    `json:"position"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"maxHealth"`
}

// ObjectBroken - treeCut / rockBroken
type ObjectBroken struct {
	Key      string               `json:"key"`
	Position Vec3                 `json:"position"`
	Drops    []storage.ItemRecord `json:"drops"`
}

// ObjectRegrown - treeRegrown / rockRegrown
type ObjectRegrown struct {
	Key string `json:"key"`
}

type BlockDamaged struct {
	ID        string  `json:"id"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"maxHealth"`
}

type BlockBroken struct {
	ID    string               `json:"id"`
	Drops []storage.ItemRecord `json:"drops"`
}

type ItemRef struct {
	ID string `json:"id"`
}

type ItemPickedUp struct {
	ID       string `json:"id"`
	PlayerID string `json:"playerId"`
	Type     string `json:"type"`
}

// WorldItems - ответ на getWorldItems: предметы и постройки рядом
type WorldItems struct {
	Items  []storage.ItemRecord  `json:"items"`
	Blocks []storage.BlockRecord `json:"blocks"`
}

type Pong struct {
	ServerTime int64 `json:"serverTime"`
}

type PlayerShoot struct {
	ID string `json:"id"`
}

type InventoryUpdated struct {
	ID        string              `json:"id"`
	Inventory inventory.Inventory `json:"inventory"`
}

// ActionRejected - запрос отклонён без изменения состояния
type ActionRejected struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}
