package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/mmo-world/internal/api"
	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/cache"
	"github.com/annel0/mmo-world/internal/config"
	"github.com/annel0/mmo-world/internal/eventbus"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/observability"
	"github.com/annel0/mmo-world/internal/player"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/annel0/mmo-world/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к config.yaml / config.toml (иначе $GAME_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logOpts := logging.Options{
		Dir:          cfg.Logging.Dir,
		ConsoleLevel: logging.ParseLevel(cfg.Logging.ConsoleLevel),
		FileLevel:    logging.ParseLevel(cfg.Logging.FileLevel),
	}
	if err := logging.InitDefaultLoggerWithOptions("server", logOpts); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	// логгеры network, world и storage создаются компонентами при сборке
	logging.GetLoggerManager().Configure(logOpts)
	defer logging.GetLoggerManager().CloseAll()

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logging.Info("🎮 Запуск сервера мира (seed=%d, чанк %.0f×%.0f, разрешение %d)",
		cfg.World.Seed, cfg.World.ChunkSize, cfg.World.ChunkSize, cfg.World.Resolution)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry не инициализирован: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("⚠️ Остановка OpenTelemetry: %v", err)
		}
	}()

	reg := prometheus.DefaultRegisterer
	world.RegisterMetrics(reg)
	network.RegisterMetrics(reg)

	// === ХРАНИЛИЩЕ ===
	store, err := storage.NewBadgerStore(cfg.Storage.GetDataDir(), cfg.Storage.InMemory, cfg.Storage.Compress)
	if err != nil {
		return fmt.Errorf("не удалось открыть хранилище: %w", err)
	}
	defer store.Close()

	chunkRepo, closeCaches, err := openChunkRepo(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeCaches()

	saver := world.NewSaver(1024)

	// === МИР ===
	opts := terrain.DefaultOptions()
	opts.ChunkSize = cfg.World.ChunkSize
	opts.Resolution = cfg.World.Resolution
	if cfg.World.WaterLevel != 0 {
		opts.WaterLevel = cfg.World.WaterLevel
	}
	gen := terrain.NewGenerator(cfg.World.Seed, opts)
	chunks := world.NewChunkStore(gen, chunkRepo, cfg.World.MaxResidentChunks)

	g := cfg.Gameplay
	items := world.NewItemRegistry(g.ItemTTL.Duration, store, saver, nil)
	if err := items.Load(ctx); err != nil {
		return fmt.Errorf("загрузка предметов мира: %w", err)
	}
	if _, err := items.SeedWeapons(ctx, g.WeaponTypes, g.WeaponSpawnCount, g.WeaponSpawnRange, chunks.HeightAt); err != nil {
		logging.Warn("⚠️ Оружие не разложено: %v", err)
	}

	recipes := make(map[string]world.Recipe, len(g.Recipes))
	for name, r := range g.Recipes {
		recipes[name] = world.Recipe{Material: r.Material, Quantity: r.Quantity, Health: r.Health}
	}
	objects := world.NewObjectRegistry(world.ObjectsConfig{
		TreeHealth:      g.TreeHealth,
		RockHealth:      g.RockHealth,
		RegenCooldown:   g.RegenCooldown.Duration,
		RegrowAfter:     g.RegrowAfter.Duration,
		DropsPerBreak:   g.DropsPerBreak,
		DropScatter:     g.DropScatterRadius,
		ToolMultipliers: g.ToolMultipliers,
		Recipes:         recipes,
	}, store, saver, items)
	if err := objects.Load(ctx); err != nil {
		return fmt.Errorf("загрузка объектов мира: %w", err)
	}

	// === ПОЛЬЗОВАТЕЛИ ===
	userRepo, err := auth.OpenUserRepository(cfg.Auth)
	if err != nil {
		return fmt.Errorf("хранилище пользователей: %w", err)
	}
	defer userRepo.Close()

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		logging.Warn("⚠️ auth.jwt_secret не задан: токены не переживут перезапуск")
	}
	authn := auth.NewAuthenticator(userRepo, auth.NewTokenIssuer(secret, cfg.Auth.TokenTTL.Duration))
	if err := authn.EnsureAdmin(cfg.Auth.AdminUser, cfg.Auth.AdminPassword); err != nil {
		logging.Warn("⚠️ Не удалось создать администратора: %v", err)
	}

	roster := player.NewRoster(player.Config{
		SpawnClearance:    g.SpawnClearance,
		FallbackSpawnY:    g.FallbackSpawnY,
		RespawnSpread:     g.RespawnSpread,
		StartingInventory: g.StartingInventory,
		InterestCellSize:  g.InterestCellSize,
	}, chunks.HeightAt, userRepo, saver)

	// === СОБЫТИЯ ===
	bus, err := openEventBus(cfg.EventBus)
	if err != nil {
		return err
	}
	defer bus.Close()
	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("⚠️ Логирование событий не запущено: %v", err)
	}
	exporter, err := eventbus.NewMetricsExporter(bus, reg)
	if err != nil {
		return fmt.Errorf("метрики шины событий: %w", err)
	}
	exporter.Start(5 * time.Second)
	defer exporter.Stop()

	hooks := api.NewWebhookDispatcher(uuid.NewString())
	hooks.AddFromConfig(cfg.Webhooks)
	if err := hooks.Attach(ctx, bus); err != nil {
		logging.Warn("⚠️ %v", err)
	}
	defer hooks.Close()

	// === СЕТЬ ===
	handlerOpts, err := network.OptionsFromConfig(cfg.Gameplay, cfg.Server)
	if err != nil {
		return err
	}
	hub := network.NewHub()
	game := network.NewGameHandler(hub, authn, roster, chunks, objects, items, handlerOpts)
	game.SetEventBus(bus)

	go items.RunJanitor(ctx, time.Second, game.OnItemsExpired)
	go objects.RunJanitor(ctx, 5*time.Second, game.OnRegrown)

	ws := network.NewWSServer(game, cfg.Server.AllowedOrigins, cfg.Server.PingInterval.Duration)
	rest := api.NewRestServer(api.Config{
		Game:           game,
		Chunks:         chunks,
		Auth:           authn,
		Calibration:    store,
		ChunkCache:     chunkRepo,
		Webhooks:       hooks,
		WebSocket:      ws,
		WSPath:         cfg.Server.WebSocketPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Registerer:     reg,
		Gatherer:       prometheus.DefaultGatherer,
	})
	if err := rest.Start(fmt.Sprintf(":%d", cfg.Server.GetHTTPPort())); err != nil {
		return fmt.Errorf("HTTP сервер: %w", err)
	}

	var kcpServer *network.KCPServer
	if cfg.Server.EnableKCP {
		kcpServer, err = network.NewKCPServer(fmt.Sprintf(":%d", cfg.Server.GetKCPPort()), game, 60*time.Second)
		if err == nil {
			err = kcpServer.Start()
		}
		if err != nil {
			return fmt.Errorf("KCP сервер: %w", err)
		}
	}

	applyComponentLevels(cfg.Logging)

	logging.Info("✅ Сервер мира готов: http://localhost:%d (WebSocket %s)", cfg.Server.GetHTTPPort(), cfg.Server.WebSocketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if kcpServer != nil {
		if err := kcpServer.Stop(); err != nil {
			logging.Warn("⚠️ Остановка KCP: %v", err)
		}
	}
	game.Close()
	hub.CloseAll()
	if err := rest.Shutdown(shutdownCtx); err != nil {
		logging.Warn("⚠️ Остановка HTTP: %v", err)
	}
	cancel()

	saved := roster.SaveAll()
	saver.Close()
	logging.Info("💾 Сохранено игроков: %d", saved)
	logging.Info("👋 Сервер успешно остановлен")
	return nil
}

// applyComponentLevels переопределяет уровень консоли для отдельных компонентов
func applyComponentLevels(cfg config.LoggingConfig) {
	manager := logging.GetLoggerManager()
	fileLevel := logging.ParseLevel(cfg.FileLevel)
	for component, level := range cfg.Components {
		if err := manager.SetLogLevel(component, logging.ParseLevel(level), fileLevel); err != nil {
			logging.Warn("⚠️ logging.components: %v", err)
		}
	}
	logging.Debug("📝 Логгеры компонентов: %v", manager.ListComponents())
}

// openChunkRepo собирает уровни кеша чанков над Badger по конфигурации
func openChunkRepo(ctx context.Context, cfg *config.Config, store *storage.BadgerStore) (*cache.ChunkRepo, func(), error) {
	local, err := cache.NewLocalCache(cfg.Cache.LocalMaxChunks)
	if err != nil {
		return nil, nil, fmt.Errorf("локальный кеш чанков: %w", err)
	}
	closers := []func(){local.Close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var invalidator cache.CacheInvalidator
	if cfg.Cache.InvalidateNATS != "" {
		inv, err := cache.NewNATSInvalidator(cfg.Cache.InvalidateNATS, "", uuid.NewString())
		if err != nil {
			logging.Warn("⚠️ Инвалидация кеша между узлами выключена: %v", err)
		} else {
			invalidator = inv
			closers = append(closers, func() { _ = inv.Close() })
		}
	}

	var remote cache.CacheRepo
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisCache(&cache.CacheConfig{
			RedisURL:      cfg.Cache.RedisURL,
			RedisPassword: cfg.Cache.RedisPassword,
			RedisDB:       cfg.Cache.RedisDB,
			DefaultTTL:    cfg.Cache.ChunkTTL.Duration,
		}, store, invalidator)
		if err != nil {
			logging.Warn("⚠️ Redis недоступен, работаем без общего кеша: %v", err)
		} else {
			remote = rc
			closers = append(closers, func() { _ = rc.Close() })
		}
	}

	repo := cache.NewChunkRepo(store, store.Codec(), local, remote, cfg.Cache.ChunkTTL.Duration)
	if invalidator != nil {
		if err := invalidator.SubscribeInvalidations(ctx, repo.DropLocal); err != nil {
			logging.Warn("⚠️ %v", err)
		}
	}
	return repo, closeAll, nil
}

func openEventBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("📨 Шина событий: в памяти (буфер %d)", cfg.Capacity)
		return eventbus.NewMemoryBus(cfg.Capacity), nil
	}
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, time.Duration(cfg.Retention)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("шина событий JetStream: %w", err)
	}
	return bus, nil
}
