package network

import (
	"context"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/config"
	"github.com/annel0/mmo-world/internal/eventbus"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/player"
	"github.com/annel0/mmo-world/internal/protocol"
	"github.com/annel0/mmo-world/internal/world"
)

// Options - игровые числа, которые использует обработчик сообщений
type Options struct {
	UpdateRadius        float64
	PickupNotifyRadius  float64
	WorldItemsRadius    float64
	RespawnDelay        time.Duration
	DeathPolicy         player.DeathPolicy
	DefaultHitDamage    float64
	MaxHitDamage        float64
	MaxInventorySlots   int
	LootTable           []string
	DropScatter         float64
	MaxChunksPerRequest int
	MaxInitialChunks    int
	ChunkEvery          time.Duration
	ChunkBurst          int
	SendBuffer          int
	MaxDigRadius        float64
	MaxDigDepth         float64
}

// OptionsFromConfig переносит значения из конфигурации
func OptionsFromConfig(g config.GameplayConfig, s config.ServerConfig) (Options, error) {
	policy, err := player.ParseDeathPolicy(g.DeathInventory)
	if err != nil {
		return Options{}, err
	}
	return Options{
		UpdateRadius:        g.UpdateRadius,
		PickupNotifyRadius:  g.PickupNotifyRadius,
		WorldItemsRadius:    100,
		RespawnDelay:        g.RespawnDelay.Duration,
		DeathPolicy:         policy,
		DefaultHitDamage:    g.DefaultHitDamage,
		MaxHitDamage:        g.MaxHitDamage,
		MaxInventorySlots:   g.MaxInventorySlots,
		LootTable:           g.LootTable,
		DropScatter:         g.DropScatterRadius,
		MaxChunksPerRequest: g.MaxChunksPerRequest,
		MaxInitialChunks:    g.MaxInitialChunks,
		ChunkEvery:          g.ChunkRate.Every.Duration,
		ChunkBurst:          g.ChunkRate.N,
		SendBuffer:          s.SendBuffer,
		MaxDigRadius:        g.MaxDigRadius,
		MaxDigDepth:         g.MaxDigDepth,
	}, nil
}

// inboundEvents - метки метрик для известных событий; остальное считается как "unknown"
var inboundEvents = map[string]bool{
	protocol.EvLogin: true, protocol.EvSignup: true, protocol.EvRequestChunks: true,
	protocol.EvPlayerMovement: true, protocol.EvPlayerHit: true, protocol.EvUpdateInv: true,
	protocol.EvPlaceBlock: true, protocol.EvDamageBlock: true, protocol.EvDamageTree: true,
	protocol.EvDamageRock: true, protocol.EvGetWorldItems: true, protocol.EvPickupItem: true,
	protocol.EvPing: true, protocol.EvShoot: true, protocol.EvTerrainDig: true,
}

func eventLabel(event string) string {
	if inboundEvents[event] {
		return event
	}
	return "unknown"
}

// GameHandler обрабатывает игровые сообщения всех транспортов
type GameHandler struct {
	hub     *Hub
	auth    *auth.Authenticator
	roster  *player.Roster
	chunks  *world.ChunkStore
	objects *world.ObjectRegistry
	items   *world.ItemRegistry
	bus     eventbus.EventBus
	opts    Options
	log     *logging.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGameHandler создаёт обработчик. Шина событий подключается через SetEventBus.
func NewGameHandler(hub *Hub, authn *auth.Authenticator, roster *player.Roster, chunks *world.ChunkStore,
	objects *world.ObjectRegistry, items *world.ItemRegistry, opts Options) *GameHandler {
	if opts.UpdateRadius <= 0 {
		opts.UpdateRadius = 200
	}
	if opts.PickupNotifyRadius <= 0 {
		opts.PickupNotifyRadius = 50
	}
	if opts.WorldItemsRadius <= 0 {
		opts.WorldItemsRadius = 100
	}
	if opts.DefaultHitDamage <= 0 {
		opts.DefaultHitDamage = 10
	}
	if opts.MaxChunksPerRequest <= 0 {
		opts.MaxChunksPerRequest = 25
	}
	if opts.MaxInitialChunks < opts.MaxChunksPerRequest {
		opts.MaxInitialChunks = opts.MaxChunksPerRequest
	}
	if opts.DeathPolicy == "" {
		opts.DeathPolicy = player.DeathClear
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GameHandler{
		hub:     hub,
		auth:    authn,
		roster:  roster,
		chunks:  chunks,
		objects: objects,
		items:   items,
		opts:    opts,
		log:     logging.GetNetworkLogger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetEventBus подключает шину мировых событий
func (gh *GameHandler) SetEventBus(bus eventbus.EventBus) {
	gh.bus = bus
}

// Hub возвращает хаб соединений
func (gh *GameHandler) Hub() *Hub { return gh.hub }

// Roster возвращает реестр игроков
func (gh *GameHandler) Roster() *player.Roster { return gh.roster }

// Close отменяет отложенные возрождения и потоки чанков
func (gh *GameHandler) Close() {
	gh.cancel()
}

// Accept регистрирует новое соединение
func (gh *GameHandler) Accept(conn Transport, transport string) *Client {
	var limiter *rate.Limiter
	if gh.opts.ChunkEvery > 0 {
		burst := gh.opts.ChunkBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(gh.opts.ChunkEvery), burst)
	}
	c := NewClient(uuid.NewString(), transport, conn, gh.opts.SendBuffer, limiter)
	gh.OnClientConnect(c)
	return c
}

// OnClientConnect вызывается при новом подключении
func (gh *GameHandler) OnClientConnect(c *Client) {
	gh.hub.Add(c)
	gh.log.Info("🔗 Подключение %s (%s, %s)", c.ID(), c.Transport(), c.RemoteAddr())
}

// OnClientDisconnect переводит персонажа в offline-idle и оповещает остальных
func (gh *GameHandler) OnClientDisconnect(c *Client) {
	if !gh.hub.Remove(c.ID()) {
		return
	}
	c.Close()
	s := gh.roster.Disconnect(c.ID())
	if s == nil {
		gh.log.Debug("🔌 Отключение %s без входа в игру", c.ID())
		return
	}
	gh.hub.Broadcast(protocol.EvPlayerOffline, protocol.PlayerOffline{ID: c.ID(), Username: s.Username()}, "")
	gh.publish(eventbus.TypePlayerOffline, eventbus.PriorityNormal, protocol.PlayerOffline{ID: c.ID(), Username: s.Username()})
}

// HandleRaw разбирает сырое сообщение и передаёт его обработчику.
// Паника в обработчике не роняет соединение.
func (gh *GameHandler) HandleRaw(c *Client, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		rejectedActions.WithLabelValues("malformed").Inc()
		gh.log.Debug("📦 Некорректное сообщение от %s: %v", c.ID(), err)
		c.Send(protocol.EvActionRejected, protocol.ActionRejected{Reason: "malformed message"})
		return
	}

	label := eventLabel(env.Event)
	messagesIn.WithLabelValues(label).Inc()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.Inc()
			gh.log.Error("💥 Паника в обработчике %s от %s: %v\n%s", env.Event, c.ID(), r, debug.Stack())
		}
		handlerSeconds.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	if err := gh.HandleMessage(c, env); err != nil {
		gh.reportError(c, env, err)
	}
}

// HandleMessage выполняет одно событие. События кроме входа, регистрации,
// запроса чанков, предметов мира и ping требуют входа в игру.
func (gh *GameHandler) HandleMessage(c *Client, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EvLogin:
		return gh.handleLogin(c, env)
	case protocol.EvSignup:
		return gh.handleSignup(c, env)
	case protocol.EvRequestChunks:
		return gh.handleRequestChunks(c, env)
	case protocol.EvGetWorldItems:
		return gh.handleGetWorldItems(c, env)
	case protocol.EvPing:
		c.SendSeq(protocol.EvPong, protocol.Pong{ServerTime: time.Now().UnixMilli()}, env.Seq)
		return nil
	}

	if !inboundEvents[env.Event] {
		return gameerr.Validation(env.Event, "unknown event")
	}
	s, ok := gh.roster.ByConn(c.ID())
	if !ok || !s.IsOnline() || s.ID() != c.ID() {
		return gameerr.Validation(env.Event, "not logged in")
	}

	switch env.Event {
	case protocol.EvPlayerMovement:
		return gh.handleMovement(c, s, env)
	case protocol.EvShoot:
		return gh.handleShoot(c, s)
	case protocol.EvPlayerHit:
		return gh.handlePlayerHit(c, s, env)
	case protocol.EvUpdateInv:
		return gh.handleUpdateInventory(c, s, env)
	case protocol.EvPlaceBlock:
		return gh.handlePlaceBlock(c, s, env)
	case protocol.EvDamageBlock:
		return gh.handleDamageBlock(env)
	case protocol.EvDamageTree:
		return gh.handleDamageObject(env, world.KindTree)
	case protocol.EvDamageRock:
		return gh.handleDamageObject(env, world.KindRock)
	case protocol.EvPickupItem:
		return gh.handlePickup(c, s, env)
	case protocol.EvTerrainDig:
		return gh.handleDig(s, env)
	}
	return nil
}

// reportError переводит ошибку в ответ клиенту по её классу
func (gh *GameHandler) reportError(c *Client, env protocol.Envelope, err error) {
	switch {
	case gameerr.Is(err, gameerr.AuthFailure):
		rejectedActions.WithLabelValues("auth").Inc()
		c.SendSeq(protocol.EvAuthError, protocol.Message{Message: gameerr.Message(err)}, env.Seq)
	case gameerr.Is(err, gameerr.ValidationFailure):
		rejectedActions.WithLabelValues("validation").Inc()
		gh.log.Debug("🚫 %s от %s отклонён: %v", env.Event, c.ID(), err)
		c.SendSeq(protocol.EvActionRejected, protocol.ActionRejected{Event: env.Event, Reason: gameerr.Message(err)}, env.Seq)
	default:
		rejectedActions.WithLabelValues("internal").Inc()
		gh.log.Warn("⚠️ Ошибка обработки %s от %s: %v", env.Event, c.ID(), err)
	}
}

// nearbyIDs - соединения онлайн-игроков в радиусе r
func (gh *GameHandler) nearbyIDs(x, z, r float64, exclude string) []string {
	near := gh.roster.Nearby(x, z, r, exclude)
	ids := make([]string, 0, len(near))
	for _, s := range near {
		ids = append(ids, s.ID())
	}
	return ids
}

func (gh *GameHandler) publish(eventType string, priority int, payload interface{}) {
	if gh.bus == nil {
		return
	}
	ev, err := eventbus.NewEnvelope("world", eventType, priority, payload)
	if err != nil {
		gh.log.Warn("⚠️ %v", err)
		return
	}
	if err := gh.bus.Publish(gh.ctx, ev); err != nil {
		gh.log.Warn("⚠️ Не удалось опубликовать %s: %v", eventType, err)
	}
}

func (gh *GameHandler) randFloat() float64 {
	gh.rngMu.Lock()
	defer gh.rngMu.Unlock()
	return gh.rng.Float64()
}

func (gh *GameHandler) randIntn(n int) int {
	gh.rngMu.Lock()
	defer gh.rngMu.Unlock()
	return gh.rng.Intn(n)
}

// OnItemsExpired рассылает исчезновение предметов (колбэк сборщика ItemRegistry)
func (gh *GameHandler) OnItemsExpired(expired []world.Item) {
	for _, it := range expired {
		gh.hub.Broadcast(protocol.EvItemDespawned, protocol.ItemRef{ID: it.ID}, "")
	}
}

// OnRegrown рассылает восстановление деревьев и камней (колбэк сборщика ObjectRegistry)
func (gh *GameHandler) OnRegrown(regrown []world.Regrown) {
	for _, r := range regrown {
		event := protocol.EvTreeRegrown
		if r.Kind == world.KindRock {
			event = protocol.EvRockRegrown
		}
		gh.hub.Broadcast(event, protocol.ObjectRegrown{Key: r.Key}, "")
		gh.publish(eventbus.TypeObjectRegrown, eventbus.PriorityLow, map[string]string{"kind": string(r.Kind), "key": r.Key})
	}
}

// RemovePlayer - административное удаление offline-персонажа из мира
func (gh *GameHandler) RemovePlayer(username string) error {
	s, err := gh.roster.Remove(username)
	if err != nil {
		return err
	}
	gh.hub.Broadcast(protocol.EvPlayerRemoved, protocol.PlayerOffline{ID: s.ID(), Username: s.Username()}, "")
	return nil
}

// GrantItems выдаёт предметы игроку. Резидентному персонажу в память
// (онлайн-клиент получает updateInventory), остальным в сохранённый профиль.
func (gh *GameHandler) GrantItems(username, toolID string, qty int) (inventory.Inventory, error) {
	if toolID == "" || qty <= 0 {
		return nil, gameerr.New(gameerr.ValidationFailure, "grant items", "item and positive quantity required")
	}
	if s, ok := gh.roster.ByUsername(username); ok {
		if err := s.AddItem(toolID, qty, gh.opts.MaxInventorySlots); err != nil {
			return nil, gameerr.New(gameerr.ValidationFailure, "grant items", err.Error())
		}
		inv := s.Inventory()
		if s.IsOnline() {
			gh.hub.SendTo(s.ID(), protocol.EvUpdateInv, inv)
		}
		gh.roster.Persist(s)
		gh.log.Info("🎁 %s получил %s × %d", s.Username(), toolID, qty)
		return inv, nil
	}

	repo := gh.auth.Repo()
	if _, err := repo.GetUserByUsername(username); err != nil {
		return nil, err
	}
	profile, err := repo.LoadProfile(username)
	if err != nil {
		return nil, gameerr.Wrap(gameerr.PersistenceFailure, "grant items", err)
	}
	if err := profile.Inventory.Add(toolID, qty, gh.opts.MaxInventorySlots); err != nil {
		return nil, gameerr.New(gameerr.ValidationFailure, "grant items", err.Error())
	}
	profile.BumpRevision()
	if err := repo.SaveProfile(username, profile); err != nil {
		return nil, gameerr.Wrap(gameerr.PersistenceFailure, "grant items", err)
	}
	gh.log.Info("🎁 %s (не в мире) получил %s × %d", username, toolID, qty)
	return profile.Inventory, nil
}
