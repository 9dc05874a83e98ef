package world

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/google/uuid"
)

// ObjectKind - вид разрушаемого природного объекта (tree | rock)
type ObjectKind = storage.ObjectKind

const (
	KindTree = storage.KindTree
	KindRock = storage.KindRock
)

// Outcome - результат удара по объекту
type Outcome int

const (
	// OutcomeNoOp - объект уже разрушен или не существует
	OutcomeNoOp Outcome = iota
	OutcomeDamaged
	OutcomeBroken
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDamaged:
		return "damaged"
	case OutcomeBroken:
		return "broken"
	default:
		return "noop"
	}
}

// DamageResult - состояние дерева или камня после удара
type DamageResult struct {
	Outcome   Outcome
	Kind      ObjectKind
	Key       string
	Health    float64
	MaxHealth float64
	Drops     []Item
}

// BlockResult - состояние постройки после удара
type BlockResult struct {
	Outcome Outcome
	Block   storage.BlockRecord
	Drops   []Item
}

// Regrown - объект, восстановленный после RegrowAfter
type Regrown struct {
	Kind ObjectKind
	Key  string
}

// Recipe - стоимость и прочность блока
type Recipe struct {
	Material string
	Quantity int
	Health   float64
}

// ObjectsConfig - игровые числа реестра объектов
type ObjectsConfig struct {
	TreeHealth      float64
	RockHealth      float64
	RegenCooldown   time.Duration
	RegrowAfter     time.Duration // 0 — не восстанавливать
	DropsPerBreak   int
	DropScatter     float64
	ToolMultipliers map[string]float64
	Recipes         map[string]Recipe
	Now             func() time.Time
}

// MaterialSpender списывает материалы на постройку. Списание атомарно:
// либо всё количество, либо ничего.
type MaterialSpender interface {
	ConsumeItem(toolID string, qty int) bool
}

// ObjectStore - постоянное хранилище состояний объектов и построек
type ObjectStore interface {
	SaveObjectState(ctx context.Context, kind storage.ObjectKind, st storage.ObjectState) error
	DeleteObjectState(ctx context.Context, kind storage.ObjectKind, key string) error
	LoadObjectStates(ctx context.Context, kind storage.ObjectKind) ([]storage.ObjectState, error)
	SaveBlock(ctx context.Context, b storage.BlockRecord) error
	DeleteBlock(ctx context.Context, id string) error
	LoadBlocks(ctx context.Context) ([]storage.BlockRecord, error)
}

// инструмент → вид объекта, против которого действует множитель
var toolTargets = map[string]ObjectKind{
	"axe":     KindTree,
	"pickaxe": KindRock,
}

var materials = map[ObjectKind]string{
	KindTree: "wood",
	KindRock: "stone",
}

// ObjectRegistry - авторитетное состояние деревьев, камней и построек игроков.
// Объекты создаются лениво при первом ударе с полной прочностью.
type ObjectRegistry struct {
	cfg   ObjectsConfig
	store ObjectStore
	saver *Saver
	items *ItemRegistry

	mu     sync.Mutex
	states map[ObjectKind]map[string]*storage.ObjectState
	blocks map[string]*storage.BlockRecord
}

// NewObjectRegistry создаёт реестр. store и saver могут быть nil.
func NewObjectRegistry(cfg ObjectsConfig, store ObjectStore, saver *Saver, items *ItemRegistry) *ObjectRegistry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DropsPerBreak <= 0 {
		cfg.DropsPerBreak = 3
	}
	return &ObjectRegistry{
		cfg:   cfg,
		store: store,
		saver: saver,
		items: items,
		states: map[ObjectKind]map[string]*storage.ObjectState{
			KindTree: {},
			KindRock: {},
		},
		blocks: make(map[string]*storage.BlockRecord),
	}
}

// ObjectKey - ключ природного объекта по округлённым координатам: "x_z"
func ObjectKey(x, z float64) string {
	return strconv.Itoa(roundHalfUp(x)) + "_" + strconv.Itoa(roundHalfUp(z))
}

// округление .5 вверх, как у клиента
func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// Load поднимает сохранённые состояния объектов и постройки
func (r *ObjectRegistry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	loaded := make(map[ObjectKind][]storage.ObjectState, 2)
	for _, kind := range []ObjectKind{KindTree, KindRock} {
		states, err := r.store.LoadObjectStates(ctx, kind)
		if err != nil {
			return err
		}
		loaded[kind] = states
	}
	blocks, err := r.store.LoadBlocks(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, states := range loaded {
		for i := range states {
			st := states[i]
			r.states[kind][st.Key] = &st
		}
	}
	for i := range blocks {
		b := blocks[i]
		r.blocks[b.ID] = &b
	}
	logging.Info("🌲 Загружено: деревьев %d, камней %d, построек %d",
		len(r.states[KindTree]), len(r.states[KindRock]), len(r.blocks))
	return nil
}

func (r *ObjectRegistry) maxHealth(kind ObjectKind) float64 {
	if kind == KindRock {
		return r.cfg.RockHealth
	}
	return r.cfg.TreeHealth
}

func (r *ObjectRegistry) multiplier(kind ObjectKind, toolID string) float64 {
	if target, ok := toolTargets[toolID]; ok && target == kind {
		if m, ok := r.cfg.ToolMultipliers[toolID]; ok && m > 0 {
			return m
		}
	}
	return 1
}

// Damage наносит amount урона дереву или камню в точке (x, y, z). Ключ объекта
// вычисляется по координатам. Разрушенный объект больше не принимает урон.
func (r *ObjectRegistry) Damage(kind ObjectKind, x, y, z, amount float64, toolID string) (DamageResult, error) {
	if kind != KindTree && kind != KindRock {
		return DamageResult{}, gameerr.Validation("damage object", "неизвестный вид объекта %q", kind)
	}
	if !finite(x, y, z, amount) || amount <= 0 {
		return DamageResult{}, gameerr.Validation("damage object", "некорректный удар")
	}
	amount *= r.multiplier(kind, toolID)

	key := ObjectKey(x, z)
	now := r.cfg.Now()

	r.mu.Lock()
	st, ok := r.states[kind][key]
	if !ok {
		full := r.maxHealth(kind)
		st = &storage.ObjectState{Key: key, Health: full, MaxHealth: full}
		r.states[kind][key] = st
	}
	if st.Broken {
		res := DamageResult{Outcome: OutcomeNoOp, Kind: kind, Key: key, MaxHealth: st.MaxHealth}
		r.mu.Unlock()
		return res, nil
	}
	if !st.LastDamage.IsZero() && r.cfg.RegenCooldown > 0 && now.Sub(st.LastDamage) > r.cfg.RegenCooldown {
		st.Health = st.MaxHealth
	}
	st.Health -= amount
	st.LastDamage = now

	res := DamageResult{Outcome: OutcomeDamaged, Kind: kind, Key: key, MaxHealth: st.MaxHealth}
	if st.Health <= 0 {
		st.Health = 0
		st.Broken = true
		st.BrokenAt = now
		res.Outcome = OutcomeBroken
	}
	res.Health = st.Health
	// запись ставится в очередь под блокировкой, чтобы порядок записей совпадал с порядком изменений
	r.saveStateLater(kind, *st)
	r.mu.Unlock()

	if res.Outcome == OutcomeBroken {
		objectsBroken.WithLabelValues(string(kind)).Inc()
		if r.items != nil {
			res.Drops = r.items.SpawnDrops(materials[kind], r.cfg.DropsPerBreak, x, y, z, r.cfg.DropScatter)
		}
		logging.Debug("🪓 %s %s разрушен, выпало %d", kind, key, len(res.Drops))
	}
	return res, nil
}

// State возвращает текущее состояние объекта, если по нему уже били
func (r *ObjectRegistry) State(kind ObjectKind, key string) (storage.ObjectState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[kind][key]
	if !ok {
		return storage.ObjectState{}, false
	}
	return *st, true
}

// Broken - ключи разрушенных объектов вида kind, по возрастанию
func (r *ObjectRegistry) Broken(kind ObjectKind) []string {
	r.mu.Lock()
	var keys []string
	for key, st := range r.states[kind] {
		if st.Broken {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Regrow восстанавливает объекты, разрушенные раньше now - RegrowAfter
func (r *ObjectRegistry) Regrow(now time.Time) []Regrown {
	if r.cfg.RegrowAfter <= 0 {
		return nil
	}
	var out []Regrown
	r.mu.Lock()
	for kind, states := range r.states {
		for key, st := range states {
			if st.Broken && now.Sub(st.BrokenAt) >= r.cfg.RegrowAfter {
				delete(states, key)
				r.deleteStateLater(kind, key)
				out = append(out, Regrown{Kind: kind, Key: key})
			}
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// RunJanitor периодически восстанавливает объекты и сообщает о них onRegrown
func (r *ObjectRegistry) RunJanitor(ctx context.Context, interval time.Duration, onRegrown func([]Regrown)) {
	if r.cfg.RegrowAfter <= 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if regrown := r.Regrow(r.cfg.Now()); len(regrown) > 0 && onRegrown != nil {
				onRegrown(regrown)
			}
		}
	}
}

// Place ставит блок blockType, списывая материалы рецепта у inv
func (r *ObjectRegistry) Place(blockType string, x, y, z, rotation float64, owner string, inv MaterialSpender) (storage.BlockRecord, error) {
	recipe, ok := r.cfg.Recipes[blockType]
	if !ok {
		return storage.BlockRecord{}, gameerr.Validation("place block", "неизвестный тип блока %q", blockType)
	}
	if !finite(x, y, z, rotation) {
		return storage.BlockRecord{}, gameerr.Validation("place block", "некорректная позиция")
	}
	if inv == nil || !inv.ConsumeItem(recipe.Material, recipe.Quantity) {
		return storage.BlockRecord{}, gameerr.Validation("place block",
			"недостаточно материалов: нужно %s×%d", recipe.Material, recipe.Quantity)
	}

	health := recipe.Health
	if health <= 0 {
		health = 1
	}
	b := &storage.BlockRecord{
		ID:        uuid.NewString(),
		Type:      blockType,
		Owner:     owner,
		X:         x,
		Y:         y,
		Z:         z,
		Rotation:  rotation,
		Health:    health,
		MaxHealth: health,
		PlacedAt:  r.cfg.Now(),
	}
	r.mu.Lock()
	r.blocks[b.ID] = b
	out := *b
	r.saveBlockLater(out)
	r.mu.Unlock()
	return out, nil
}

// DamageBlock наносит урон постройке. Разрушенный блок удаляется и роняет
// одну единицу материала рецепта.
func (r *ObjectRegistry) DamageBlock(id string, amount float64) (BlockResult, error) {
	if !finite(amount) || amount <= 0 {
		return BlockResult{}, gameerr.Validation("damage block", "некорректный урон")
	}

	r.mu.Lock()
	b, ok := r.blocks[id]
	if !ok {
		r.mu.Unlock()
		return BlockResult{Outcome: OutcomeNoOp, Block: storage.BlockRecord{ID: id}}, nil
	}
	b.Health -= amount
	res := BlockResult{Outcome: OutcomeDamaged}
	if b.Health <= 0 {
		b.Health = 0
		delete(r.blocks, id)
		res.Outcome = OutcomeBroken
	}
	res.Block = *b
	if res.Outcome == OutcomeDamaged {
		r.saveBlockLater(res.Block)
	} else {
		r.deleteBlockLater(id)
	}
	r.mu.Unlock()

	if res.Outcome == OutcomeDamaged {
		return res, nil
	}
	objectsBroken.WithLabelValues("block").Inc()
	if recipe, ok := r.cfg.Recipes[res.Block.Type]; ok && r.items != nil {
		res.Drops = r.items.SpawnDrops(recipe.Material, 1, res.Block.X, res.Block.Y, res.Block.Z, 0)
	}
	return res, nil
}

// Block возвращает постройку по ID
func (r *ObjectRegistry) Block(id string) (storage.BlockRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[id]
	if !ok {
		return storage.BlockRecord{}, false
	}
	return *b, true
}

// BlocksInRange - постройки на горизонтальном расстоянии ≤ radius, по возрастанию ID
func (r *ObjectRegistry) BlocksInRange(x, z, radius float64) []storage.BlockRecord {
	r.mu.Lock()
	out := make([]storage.BlockRecord, 0)
	for _, b := range r.blocks {
		dx, dz := b.X-x, b.Z-z
		if dx*dx+dz*dz <= radius*radius {
			out = append(out, *b)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats - число повреждённых объектов и построек
func (r *ObjectRegistry) Stats() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{
		"trees":  len(r.states[KindTree]),
		"rocks":  len(r.states[KindRock]),
		"blocks": len(r.blocks),
	}
}

func (r *ObjectRegistry) saveStateLater(kind ObjectKind, st storage.ObjectState) {
	if r.store == nil || r.saver == nil {
		return
	}
	r.saver.Enqueue(string(kind), string(kind)+":"+st.Key, func(ctx context.Context) error {
		return r.store.SaveObjectState(ctx, kind, st)
	})
}

func (r *ObjectRegistry) deleteStateLater(kind ObjectKind, key string) {
	if r.store == nil || r.saver == nil {
		return
	}
	r.saver.Enqueue(string(kind), string(kind)+":"+key, func(ctx context.Context) error {
		return r.store.DeleteObjectState(ctx, kind, key)
	})
}

func (r *ObjectRegistry) saveBlockLater(b storage.BlockRecord) {
	if r.store == nil || r.saver == nil {
		return
	}
	r.saver.Enqueue("block", "block:"+b.ID, func(ctx context.Context) error {
		return r.store.SaveBlock(ctx, b)
	})
}

func (r *ObjectRegistry) deleteBlockLater(id string) {
	if r.store == nil || r.saver == nil {
		return
	}
	r.saver.Enqueue("block", "block:"+id, func(ctx context.Context) error {
		return r.store.DeleteBlock(ctx, id)
	})
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
