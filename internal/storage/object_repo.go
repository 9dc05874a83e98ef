package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ObjectKind - вид разрушаемого природного объекта
type ObjectKind string

const (
	KindTree ObjectKind = "tree"
	KindRock ObjectKind = "rock"
)

func (k ObjectKind) prefix() string {
	if k == KindRock {
		return PrefixRock
	}
	return PrefixTree
}

// ObjectState - сохранённое состояние дерева или камня
type ObjectState struct {
	Key        string    `json:"key"`
	Health     float64   `json:"health"`
	MaxHealth  float64   `json:"maxHealth"`
	Broken     bool      `json:"broken"`
	BrokenAt   time.Time `json:"brokenAt,omitempty"`
	LastDamage time.Time `json:"lastDamage"`
}

// BlockRecord - построенный игроком блок
type BlockRecord struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Owner     string    `json:"owner"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Rotation  float64   `json:"rotation"`
	Health    float64   `json:"health"`
	MaxHealth float64   `json:"maxHealth"`
	PlacedAt  time.Time `json:"placedAt"`
}

// ItemRecord - предмет, лежащий в мире. Permanent-предметы (оружие) не истекают.
type ItemRecord struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Quantity  int       `json:"quantity"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Z         float64   `json:"z"`
	Permanent bool      `json:"permanent"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

func (s *BadgerStore) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", key, err)
	}
	return s.Store(ctx, key, data)
}

func scanJSON[T any](ctx context.Context, s *BadgerStore, prefix string) ([]T, error) {
	var out []T
	err := s.scan(ctx, prefix, func(key string, val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return fmt.Errorf("ошибка десериализации %s%s: %w", prefix, key, err)
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveObjectState сохраняет состояние дерева/камня
func (s *BadgerStore) SaveObjectState(ctx context.Context, kind ObjectKind, st ObjectState) error {
	return s.putJSON(ctx, kind.prefix()+st.Key, st)
}

// DeleteObjectState забывает состояние (объект снова «как сгенерирован»)
func (s *BadgerStore) DeleteObjectState(ctx context.Context, kind ObjectKind, key string) error {
	return s.Delete(ctx, kind.prefix()+key)
}

// LoadObjectStates читает все сохранённые состояния вида
func (s *BadgerStore) LoadObjectStates(ctx context.Context, kind ObjectKind) ([]ObjectState, error) {
	return scanJSON[ObjectState](ctx, s, kind.prefix())
}

// SaveBlock сохраняет блок (upsert)
func (s *BadgerStore) SaveBlock(ctx context.Context, b BlockRecord) error {
	return s.putJSON(ctx, PrefixBlock+b.ID, b)
}

// DeleteBlock удаляет блок
func (s *BadgerStore) DeleteBlock(ctx context.Context, id string) error {
	return s.Delete(ctx, PrefixBlock+id)
}

// LoadBlocks читает все блоки
func (s *BadgerStore) LoadBlocks(ctx context.Context) ([]BlockRecord, error) {
	return scanJSON[BlockRecord](ctx, s, PrefixBlock)
}

// SaveItem сохраняет предмет
func (s *BadgerStore) SaveItem(ctx context.Context, it ItemRecord) error {
	return s.putJSON(ctx, PrefixItem+it.ID, it)
}

// DeleteItem удаляет предмет
func (s *BadgerStore) DeleteItem(ctx context.Context, id string) error {
	return s.Delete(ctx, PrefixItem+id)
}

// LoadItems читает все предметы
func (s *BadgerStore) LoadItems(ctx context.Context) ([]ItemRecord, error) {
	return scanJSON[ItemRecord](ctx, s, PrefixItem)
}

// ClearItems удаляет предметы, для которых keep возвращает false. Возвращает число удалённых.
func (s *BadgerStore) ClearItems(ctx context.Context, keep func(ItemRecord) bool) (int, error) {
	items, err := s.LoadItems(ctx)
	if err != nil {
		return 0, err
	}
	var keys []string
	for _, it := range items {
		if keep == nil || !keep(it) {
			keys = append(keys, PrefixItem+it.ID)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}
