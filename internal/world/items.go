package world

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/google/uuid"
)

// Item - предмет, лежащий в мире
type Item = storage.ItemRecord

// ItemStore - постоянное хранилище предметов мира
type ItemStore interface {
	SaveItem(ctx context.Context, it storage.ItemRecord) error
	DeleteItem(ctx context.Context, id string) error
	LoadItems(ctx context.Context) ([]storage.ItemRecord, error)
	ClearItems(ctx context.Context, keep func(storage.ItemRecord) bool) (int, error)
}

// ItemRegistry хранит выпавшие предметы (с TTL) и постоянное оружие на карте.
type ItemRegistry struct {
	ttl   time.Duration
	store ItemStore
	saver *Saver
	now   func() time.Time

	mu    sync.Mutex
	items map[string]*Item
}

// NewItemRegistry создаёт реестр; store и saver могут быть nil (только память).
// now == nil означает time.Now.
func NewItemRegistry(ttl time.Duration, store ItemStore, saver *Saver, now func() time.Time) *ItemRegistry {
	if now == nil {
		now = time.Now
	}
	return &ItemRegistry{
		ttl:   ttl,
		store: store,
		saver: saver,
		now:   now,
		items: make(map[string]*Item),
	}
}

// Load поднимает сохранённые предметы; истёкшие удаляются из хранилища
func (r *ItemRegistry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	records, err := r.store.LoadItems(ctx)
	if err != nil {
		return err
	}

	now := r.now()
	r.mu.Lock()
	var stale []string
	for i := range records {
		it := records[i]
		if !it.Permanent && !it.ExpiresAt.IsZero() && !now.Before(it.ExpiresAt) {
			stale = append(stale, it.ID)
			continue
		}
		r.items[it.ID] = &it
	}
	n := len(r.items)
	r.mu.Unlock()
	worldItemsGauge.Set(float64(n))

	for _, id := range stale {
		r.deleteLater(id)
	}
	logging.Info("📦 Загружено предметов мира: %d (просрочено %d)", n, len(stale))
	return nil
}

// Spawn кладёт предмет в мир. Непостоянные предметы живут ttl.
func (r *ItemRegistry) Spawn(itemType string, quantity int, x, y, z float64, permanent bool) Item {
	return r.spawn("", itemType, quantity, x, y, z, permanent)
}

func (r *ItemRegistry) spawn(id, itemType string, quantity int, x, y, z float64, permanent bool) Item {
	if id == "" {
		id = uuid.NewString()
	}
	if quantity <= 0 {
		quantity = 1
	}
	now := r.now()
	it := &Item{
		ID:        id,
		Type:      itemType,
		Quantity:  quantity,
		X:         x,
		Y:         y,
		Z:         z,
		Permanent: permanent,
		CreatedAt: now,
	}
	if !permanent && r.ttl > 0 {
		it.ExpiresAt = now.Add(r.ttl)
	}

	out := *it
	r.mu.Lock()
	r.items[id] = it
	n := len(r.items)
	r.saveLater(out)
	r.mu.Unlock()
	worldItemsGauge.Set(float64(n))
	return out
}

// SpawnDrops разбрасывает count предметов одного типа в круге scatter вокруг точки
func (r *ItemRegistry) SpawnDrops(itemType string, count int, x, y, z, scatter float64) []Item {
	drops := make([]Item, 0, count)
	for i := 0; i < count; i++ {
		angle := rand.Float64() * 2 * math.Pi
		dist := math.Sqrt(rand.Float64()) * scatter
		drops = append(drops, r.Spawn(itemType, 1, x+math.Cos(angle)*dist, y, z+math.Sin(angle)*dist, false))
	}
	return drops
}

// SeedWeapons убирает всё разложенное оружие и раскладывает count новых
// стволов по квадрату span×span вокруг начала координат, на 1.5 над землёй.
func (r *ItemRegistry) SeedWeapons(ctx context.Context, types []string, count int, span float64, heightAt func(x, z float64) float64) ([]Item, error) {
	if len(types) == 0 || count <= 0 {
		return nil, nil
	}
	if r.store != nil {
		removed, err := r.store.ClearItems(ctx, func(it storage.ItemRecord) bool { return !it.Permanent })
		if err != nil {
			return nil, err
		}
		logging.Debug("🧹 Удалено старого оружия: %d", removed)
	}

	r.mu.Lock()
	for id, it := range r.items {
		if it.Permanent {
			delete(r.items, id)
		}
	}
	r.mu.Unlock()

	stamp := r.now().UnixMilli()
	spawned := make([]Item, 0, count)
	for i := 0; i < count; i++ {
		x := (rand.Float64() - 0.5) * span
		z := (rand.Float64() - 0.5) * span
		id := "weapon_" + strconv.FormatInt(stamp, 10) + "_" + strconv.Itoa(i)
		spawned = append(spawned, r.spawn(id, types[i%len(types)], 1, x, heightAt(x, z)+1.5, z, true))
	}
	logging.Info("🔫 Разложено оружия: %d", len(spawned))
	return spawned, nil
}

// Pickup забирает предмет из мира; повторный подбор возвращает false
func (r *ItemRegistry) Pickup(id string) (Item, bool) {
	it, ok, _ := r.PickupWith(id, nil)
	return it, ok
}

// PickupWith забирает предмет, только если accept его принял (например, есть место
// в инвентаре). Ошибка accept оставляет предмет в мире.
func (r *ItemRegistry) PickupWith(id string, accept func(Item) error) (Item, bool, error) {
	r.mu.Lock()
	it, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return Item{}, false, nil
	}
	if accept != nil {
		if err := accept(*it); err != nil {
			r.mu.Unlock()
			return Item{}, false, err
		}
	}
	delete(r.items, id)
	n := len(r.items)
	r.deleteLater(id)
	r.mu.Unlock()

	worldItemsGauge.Set(float64(n))
	return *it, true, nil
}

// Get возвращает копию предмета
func (r *ItemRegistry) Get(id string) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// InRange - предметы на горизонтальном расстоянии ≤ radius, по возрастанию ID
func (r *ItemRegistry) InRange(x, z, radius float64) []Item {
	r.mu.Lock()
	out := make([]Item, 0)
	for _, it := range r.items {
		dx, dz := it.X-x, it.Z-z
		if dx*dx+dz*dz <= radius*radius {
			out = append(out, *it)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count - сколько предметов лежит в мире
func (r *ItemRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Expire удаляет предметы, срок жизни которых истёк к моменту now
func (r *ItemRegistry) Expire(now time.Time) []Item {
	r.mu.Lock()
	var expired []Item
	for id, it := range r.items {
		if it.Permanent || it.ExpiresAt.IsZero() || now.Before(it.ExpiresAt) {
			continue
		}
		expired = append(expired, *it)
		delete(r.items, id)
		r.deleteLater(id)
	}
	n := len(r.items)
	r.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	worldItemsGauge.Set(float64(n))
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

// RunJanitor раз в interval удаляет просроченные предметы и сообщает о них onExpired.
// Блокируется до отмены ctx.
func (r *ItemRegistry) RunJanitor(ctx context.Context, interval time.Duration, onExpired func([]Item)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := r.Expire(r.now()); len(expired) > 0 && onExpired != nil {
				onExpired(expired)
			}
		}
	}
}

func (r *ItemRegistry) saveLater(it Item) {
	if r.store == nil || r.saver == nil {
		return
	}
	r.saver.Enqueue("item", "item:"+it.ID, func(ctx context.Context) error {
		return r.store.SaveItem(ctx, it)
	})
}

func (r *ItemRegistry) deleteLater(id string) {
	if r.store == nil || r.saver == nil {
		return
	}
	r.saver.Enqueue("item", "item:"+id, func(ctx context.Context) error {
		return r.store.DeleteItem(ctx, id)
	})
}
