package player

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/world"
)

// ProfileStore - долговременное хранилище профилей (реализуется репозиториями auth)
type ProfileStore interface {
	LoadProfile(username string) (auth.Profile, error)
	SaveProfile(username string, p auth.Profile) error
}

// Config - параметры появления и возрождения
type Config struct {
	SpawnClearance    float64
	FallbackSpawnY    float64
	RespawnSpread     float64
	StartingInventory []string
	InterestCellSize  float64
}

// Roster - все резидентные персонажи сервера.
// Отключившийся игрок остаётся в мире (offline-idle) до административного удаления.
type Roster struct {
	mu     sync.RWMutex
	byConn map[string]*State
	byName map[string]*State

	// только онлайн-игроки, ключ connID
	interest *world.InterestManager[*State]

	heightAt func(x, z float64) float64
	store    ProfileStore
	saver    *world.Saver
	cfg      Config
}

// NewRoster создаёт реестр. heightAt, store и saver могут быть nil.
func NewRoster(cfg Config, heightAt func(x, z float64) float64, store ProfileStore, saver *world.Saver) *Roster {
	if cfg.SpawnClearance == 0 {
		cfg.SpawnClearance = 0.5
	}
	if cfg.FallbackSpawnY == 0 {
		cfg.FallbackSpawnY = 5
	}
	if cfg.InterestCellSize <= 0 {
		cfg.InterestCellSize = 50
	}
	return &Roster{
		byConn:   make(map[string]*State),
		byName:   make(map[string]*State),
		interest: world.NewInterestManager[*State](cfg.InterestCellSize),
		heightAt: heightAt,
		store:    store,
		saver:    saver,
		cfg:      cfg,
	}
}

func nameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Login привязывает проверенного пользователя к соединению connID.
// reconnect=true, если подхвачена резидентная offline-запись.
func (r *Roster) Login(ctx context.Context, connID, username, model string) (s *State, reconnect bool, err error) {
	if connID == "" || nameKey(username) == "" {
		return nil, false, gameerr.New(gameerr.AuthFailure, "roster login", "Invalid credentials.")
	}

	// профиль читаем до захвата блокировки: это может быть сетевой запрос
	profile, loadErr := r.loadProfile(ctx, username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[nameKey(username)]; ok {
		if existing.IsOnline() {
			return nil, false, gameerr.New(gameerr.AuthFailure, "roster login", "Player already online.")
		}
		delete(r.byConn, existing.ID())
		existing.attach(connID, model)
		// офлайн-правки инвентаря (add-resources) подхватываются при возврате
		if loadErr == nil && existing.adoptNewer(profile) {
			logging.Info("📦 %s: инвентарь обновлён из хранилища (ревизия %d)", existing.Username(), profile.Revision)
		}
		r.byConn[connID] = existing
		r.index(existing)
		logging.Info("🔁 %s вернулся в мир (соединение %s)", existing.Username(), connID)
		return existing, true, nil
	}

	if loadErr != nil {
		logging.Warn("⚠️ Профиль %s не загружен, используются значения по умолчанию: %v", username, loadErr)
		profile = auth.Profile{}
	}
	if len(profile.Inventory) == 0 {
		profile.Inventory = inventory.Of(r.cfg.StartingInventory...)
	}
	// сохранённому y не доверяем: рельеф мог измениться
	profile.Y = r.spawnY(profile.X, profile.Z)

	s = NewState(connID, username, profile)
	s.attach(connID, model)
	r.byConn[connID] = s
	r.byName[nameKey(username)] = s
	r.index(s)
	logging.Info("👤 %s вошёл в мир (соединение %s)", username, connID)
	return s, false, nil
}

func (r *Roster) loadProfile(ctx context.Context, username string) (auth.Profile, error) {
	if r.store == nil {
		return auth.Profile{}, nil
	}
	if err := ctx.Err(); err != nil {
		return auth.Profile{}, err
	}
	p, err := r.store.LoadProfile(username)
	if errors.Is(err, auth.ErrUserNotFound) {
		return auth.Profile{}, nil
	}
	return p, err
}

// spawnY - высота рельефа плюс зазор; при сбое запасная константа
func (r *Roster) spawnY(x, z float64) float64 {
	if r.heightAt == nil {
		return r.cfg.FallbackSpawnY
	}
	h := r.heightAt(x, z)
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return r.cfg.FallbackSpawnY
	}
	return h + r.cfg.SpawnClearance
}

func (r *Roster) index(s *State) {
	x, _, z := s.Position()
	r.interest.Upsert(s.ID(), x, z, s)
}

// Disconnect переводит запись в offline-idle и сохраняет её в фоне.
// Запись остаётся в мире. Возвращает nil, если соединение неизвестно.
func (r *Roster) Disconnect(connID string) *State {
	r.mu.Lock()
	s, ok := r.byConn[connID]
	if !ok || !s.IsOnline() || s.ID() != connID {
		r.mu.Unlock()
		return nil
	}
	s.markOffline()
	r.interest.Remove(connID)
	r.mu.Unlock()

	r.persist(s)
	logging.Info("👋 %s отключился, персонаж остаётся в мире", s.Username())
	return s
}

// Remove - административное удаление. Онлайн-игрока удалить нельзя.
func (r *Roster) Remove(username string) (*State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[nameKey(username)]
	if !ok {
		return nil, gameerr.New(gameerr.ValidationFailure, "roster remove", "player not resident")
	}
	if s.IsOnline() {
		return nil, gameerr.New(gameerr.ValidationFailure, "roster remove", "player is online")
	}
	delete(r.byName, nameKey(username))
	delete(r.byConn, s.ID())
	r.interest.Remove(s.ID())
	logging.Info("🗑️ %s удалён из мира", s.Username())
	return s, nil
}

// ByConn ищет персонажа по соединению
func (r *Roster) ByConn(connID string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	return s, ok
}

// ByUsername ищет персонажа по имени без учёта регистра
func (r *Roster) ByUsername(username string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[nameKey(username)]
	return s, ok
}

// Resident - все персонажи в мире (онлайн и offline-idle), по имени
func (r *Roster) Resident() []*State {
	r.mu.RLock()
	out := make([]*State, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username() < out[j].Username() })
	return out
}

// Online - подключённые персонажи
func (r *Roster) Online() []*State {
	all := r.Resident()
	out := all[:0]
	for _, s := range all {
		if s.IsOnline() {
			out = append(out, s)
		}
	}
	return out
}

// Counts - резидентные и онлайн
func (r *Roster) Counts() (resident, online int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName), r.interest.Len()
}

// Nearby - онлайн-игроки в радиусе r по горизонтали, кроме exclude
func (r *Roster) Nearby(x, z, radius float64, exclude string) []*State {
	return r.interest.Nearby(x, z, radius, exclude)
}

// Move применяет движение и обновляет индекс соседства
func (r *Roster) Move(s *State, u MovementUpdate) error {
	if err := s.UpdatePosition(u); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s.IsOnline() {
		r.index(s)
	}
	return nil
}

// Respawn возрождает персонажа в случайной точке около начала координат
func (r *Roster) Respawn(s *State) {
	spread := r.cfg.RespawnSpread
	x := (rand.Float64() - 0.5) * spread
	z := (rand.Float64() - 0.5) * spread
	s.Respawn(x, r.spawnY(x, z), z)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if s.IsOnline() {
		r.index(s)
	}
}

// Persist ставит сохранение профиля в очередь
func (r *Roster) Persist(s *State) { r.persist(s) }

func (r *Roster) persist(s *State) {
	if r.store == nil {
		return
	}
	username, profile := s.Username(), s.Profile()
	job := func(ctx context.Context) error {
		if err := r.store.SaveProfile(username, profile); err != nil {
			return gameerr.Wrap(gameerr.PersistenceFailure, "save profile "+username, err)
		}
		return nil
	}
	if r.saver == nil {
		if err := job(context.Background()); err != nil {
			logging.Warn("⚠️ %v", err)
		}
		return
	}
	r.saver.Enqueue("player", "player:"+nameKey(username), job)
}

// SaveAll синхронно сохраняет всех резидентных персонажей (при остановке сервера)
func (r *Roster) SaveAll() int {
	if r.store == nil {
		return 0
	}
	saved := 0
	for _, s := range r.Resident() {
		if err := r.store.SaveProfile(s.Username(), s.Profile()); err != nil {
			logging.Warn("⚠️ Не удалось сохранить %s: %v", s.Username(), err)
			continue
		}
		saved++
	}
	return saved
}
