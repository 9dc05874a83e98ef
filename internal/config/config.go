package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера мира.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	World     WorldConfig     `yaml:"world" toml:"world"`
	Gameplay  GameplayConfig  `yaml:"gameplay" toml:"gameplay"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Cache     CacheConfig     `yaml:"cache" toml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus" toml:"eventbus"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Webhooks  []WebhookConfig `yaml:"webhooks" toml:"webhooks"`
}

type ServerConfig struct {
	HTTPPort       int      `yaml:"http_port" toml:"http_port"`
	KCPPort        int      `yaml:"kcp_port" toml:"kcp_port"`
	EnableKCP      bool     `yaml:"enable_kcp" toml:"enable_kcp"`
	WebSocketPath  string   `yaml:"websocket_path" toml:"websocket_path"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
	PingInterval   Duration `yaml:"ping_interval" toml:"ping_interval"`
	SendBuffer     int      `yaml:"send_buffer" toml:"send_buffer"`
}

// GetHTTPPort возвращает порт HTTP/WebSocket: config -> env -> default
func (s *ServerConfig) GetHTTPPort() int {
	return getPortWithEnvFallback(s.HTTPPort, "GAME_HTTP_PORT", 3000)
}

// GetKCPPort возвращает порт KCP транспорта: config -> env -> default
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "GAME_KCP_PORT", 3001)
}

// WorldConfig описывает генерацию ландшафта.
type WorldConfig struct {
	Seed              int64   `yaml:"seed" toml:"seed"`
	ChunkSize         float64 `yaml:"chunk_size" toml:"chunk_size"`
	Resolution        int     `yaml:"resolution" toml:"resolution"`
	WaterLevel        float64 `yaml:"water_level" toml:"water_level"`
	MaxResidentChunks int     `yaml:"max_resident_chunks" toml:"max_resident_chunks"`

	// seedSet - seed явно задан в файле; тогда и 0 считается сидом
	seedSet bool
}

// GameplayConfig - игровые числа, которые дизайнеры крутят без пересборки.
type GameplayConfig struct {
	UpdateRadius        float64            `yaml:"update_radius" toml:"update_radius"`
	PickupNotifyRadius  float64            `yaml:"pickup_notify_radius" toml:"pickup_notify_radius"`
	InterestCellSize    float64            `yaml:"interest_cell_size" toml:"interest_cell_size"`
	SpawnClearance      float64            `yaml:"spawn_clearance" toml:"spawn_clearance"`
	FallbackSpawnY      float64            `yaml:"fallback_spawn_y" toml:"fallback_spawn_y"`
	RespawnDelay        Duration           `yaml:"respawn_delay" toml:"respawn_delay"`
	RespawnSpread       float64            `yaml:"respawn_spread" toml:"respawn_spread"`
	DeathInventory      string             `yaml:"death_inventory" toml:"death_inventory"` // clear | keep | drop
	DefaultHitDamage    float64            `yaml:"default_hit_damage" toml:"default_hit_damage"`
	MaxHitDamage        float64            `yaml:"max_hit_damage" toml:"max_hit_damage"`
	MaxInventorySlots   int                `yaml:"max_inventory_slots" toml:"max_inventory_slots"`
	StartingInventory   []string           `yaml:"starting_inventory" toml:"starting_inventory"`
	LootTable           []string           `yaml:"loot_table" toml:"loot_table"`
	TreeHealth          float64            `yaml:"tree_health" toml:"tree_health"`
	RockHealth          float64            `yaml:"rock_health" toml:"rock_health"`
	RegenCooldown       Duration           `yaml:"regen_cooldown" toml:"regen_cooldown"`
	RegrowAfter         Duration           `yaml:"regrow_after" toml:"regrow_after"`
	ItemTTL             Duration           `yaml:"item_ttl" toml:"item_ttl"`
	DropsPerBreak       int                `yaml:"drops_per_break" toml:"drops_per_break"`
	DropScatterRadius   float64            `yaml:"drop_scatter_radius" toml:"drop_scatter_radius"`
	ToolMultipliers     map[string]float64 `yaml:"tool_multipliers" toml:"tool_multipliers"`
	Recipes             map[string]Recipe  `yaml:"recipes" toml:"recipes"`
	WeaponSpawnCount    int                `yaml:"weapon_spawn_count" toml:"weapon_spawn_count"`
	WeaponSpawnRange    float64            `yaml:"weapon_spawn_range" toml:"weapon_spawn_range"`
	WeaponTypes         []string           `yaml:"weapon_types" toml:"weapon_types"`
	MaxChunksPerRequest int                `yaml:"max_chunks_per_request" toml:"max_chunks_per_request"`
	MaxInitialChunks    int                `yaml:"max_initial_chunks" toml:"max_initial_chunks"`
	ChunkRate           Limiter            `yaml:"chunk_rate" toml:"chunk_rate"`
	MaxDigRadius        float64            `yaml:"max_dig_radius" toml:"max_dig_radius"`
	MaxDigDepth         float64            `yaml:"max_dig_depth" toml:"max_dig_depth"`
}

// Recipe описывает стоимость установки блока и его прочность.
type Recipe struct {
	Material string  `yaml:"material" toml:"material"`
	Quantity int     `yaml:"quantity" toml:"quantity"`
	Health   float64 `yaml:"health" toml:"health"`
}

type StorageConfig struct {
	DataDir  string `yaml:"data_dir" toml:"data_dir"`
	InMemory bool   `yaml:"in_memory" toml:"in_memory"`
	Compress bool   `yaml:"compress" toml:"compress"`
}

// GetDataDir возвращает каталог данных: config -> GAME_DATA_DIR -> ./data
func (s *StorageConfig) GetDataDir() string {
	if s.DataDir != "" {
		return s.DataDir
	}
	if env := os.Getenv("GAME_DATA_DIR"); env != "" {
		return env
	}
	return "data"
}

type AuthConfig struct {
	Backend       string      `yaml:"backend" toml:"backend"` // memory | maria | mongo
	JWTSecret     string      `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL      Duration    `yaml:"token_ttl" toml:"token_ttl"`
	AdminUser     string      `yaml:"admin_user" toml:"admin_user"`
	AdminPassword string      `yaml:"admin_password" toml:"admin_password"`
	Maria         MariaConfig `yaml:"maria" toml:"maria"`
	Mongo         MongoConfig `yaml:"mongo" toml:"mongo"`
}

type MariaConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Database string `yaml:"database" toml:"database"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

type MongoConfig struct {
	URI        string `yaml:"uri" toml:"uri"`
	Database   string `yaml:"database" toml:"database"`
	Collection string `yaml:"collection" toml:"collection"`
}

type CacheConfig struct {
	LocalMaxChunks int64    `yaml:"local_max_chunks" toml:"local_max_chunks"`
	RedisURL       string   `yaml:"redis_url" toml:"redis_url"`
	RedisPassword  string   `yaml:"redis_password" toml:"redis_password"`
	RedisDB        int      `yaml:"redis_db" toml:"redis_db"`
	ChunkTTL       Duration `yaml:"chunk_ttl" toml:"chunk_ttl"`
	InvalidateNATS string   `yaml:"invalidate_nats" toml:"invalidate_nats"`
}

type EventBusConfig struct {
	URL       string `yaml:"url" toml:"url"`
	Stream    string `yaml:"stream" toml:"stream"`
	Retention int    `yaml:"retention_hours" toml:"retention_hours"`
	Capacity  int    `yaml:"capacity" toml:"capacity"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	ServiceName string  `yaml:"service_name" toml:"service_name"`
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"` // host:port коллектора, иначе OTEL_EXPORTER_OTLP_ENDPOINT
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// WebhookConfig - внешний получатель мировых событий (POST JSON, подпись HMAC-SHA256)
type WebhookConfig struct {
	Name    string   `yaml:"name" toml:"name"`
	URL     string   `yaml:"url" toml:"url"`
	Secret  string   `yaml:"secret" toml:"secret"`
	Events  []string `yaml:"events" toml:"events"` // пусто или "*" — все
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	Retries int      `yaml:"retries" toml:"retries"`
}

type LoggingConfig struct {
	Dir          string `yaml:"dir" toml:"dir"`
	ConsoleLevel string `yaml:"console_level" toml:"console_level"`
	FileLevel    string `yaml:"file_level" toml:"file_level"`
	// уровень консоли по компонентам: network, world, storage
	Components map[string]string `yaml:"components" toml:"components"`
}

// Default возвращает конфигурацию, с которой сервер стартует без файла.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults заполняет незаданные поля значениями по умолчанию.
func (c *Config) applyDefaults() {
	if c.Server.WebSocketPath == "" {
		c.Server.WebSocketPath = "/ws"
	}
	if c.Server.PingInterval.Duration == 0 {
		c.Server.PingInterval.Duration = 25 * time.Second
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 256
	}

	w := &c.World
	if w.Seed == 0 && !w.seedSet {
		w.Seed = getInt64WithEnvFallback("GAME_WORLD_SEED", 12345)
	}
	if w.ChunkSize == 0 {
		w.ChunkSize = 50
	}
	if w.Resolution == 0 {
		w.Resolution = 10
	}
	if w.MaxResidentChunks == 0 {
		w.MaxResidentChunks = 4096
	}

	g := &c.Gameplay
	setFloat(&g.UpdateRadius, 200)
	setFloat(&g.PickupNotifyRadius, 50)
	setFloat(&g.InterestCellSize, 50)
	setFloat(&g.SpawnClearance, 0.5)
	setFloat(&g.FallbackSpawnY, 5)
	setDuration(&g.RespawnDelay, 3*time.Second)
	setFloat(&g.RespawnSpread, 50)
	if g.DeathInventory == "" {
		g.DeathInventory = "clear"
	}
	setFloat(&g.DefaultHitDamage, 10)
	setFloat(&g.MaxHitDamage, 200)
	if g.MaxInventorySlots == 0 {
		g.MaxInventorySlots = 36
	}
	if g.StartingInventory == nil {
		g.StartingInventory = []string{"MPSD", "Sniper"}
	}
	if len(g.LootTable) == 0 {
		g.LootTable = []string{"Legendary AK47", "Golden Vest", "Sniper Scope", "Medkit"}
	}
	setFloat(&g.TreeHealth, 10)
	setFloat(&g.RockHealth, 20)
	setDuration(&g.RegenCooldown, 30*time.Second)
	setDuration(&g.RegrowAfter, 10*time.Minute)
	setDuration(&g.ItemTTL, 60*time.Second)
	if g.DropsPerBreak == 0 {
		g.DropsPerBreak = 3
	}
	setFloat(&g.DropScatterRadius, 1.5)
	if g.ToolMultipliers == nil {
		g.ToolMultipliers = map[string]float64{"axe": 2, "pickaxe": 2}
	}
	if g.Recipes == nil {
		g.Recipes = map[string]Recipe{
			"wood_block":  {Material: "wood", Quantity: 1, Health: 30},
			"stone_block": {Material: "stone", Quantity: 1, Health: 60},
			"wood_wall":   {Material: "wood", Quantity: 2, Health: 40},
			"wood_floor":  {Material: "wood", Quantity: 1, Health: 25},
		}
	}
	if g.WeaponSpawnCount == 0 {
		g.WeaponSpawnCount = 100
	}
	setFloat(&g.WeaponSpawnRange, 1000)
	if len(g.WeaponTypes) == 0 {
		g.WeaponTypes = []string{"MPSD", "Sniper"}
	}
	if g.MaxChunksPerRequest == 0 {
		g.MaxChunksPerRequest = 25
	}
	if g.MaxInitialChunks == 0 {
		g.MaxInitialChunks = 81
	}
	if g.ChunkRate.Every.Duration == 0 {
		g.ChunkRate.Every.Duration = 10 * time.Millisecond
	}
	if g.ChunkRate.N == 0 {
		g.ChunkRate.N = 25
	}
	setFloat(&g.MaxDigRadius, 8)
	setFloat(&g.MaxDigDepth, 3)

	if c.Auth.Backend == "" {
		c.Auth.Backend = "memory"
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = os.Getenv("GAME_JWT_SECRET")
	}
	setDuration(&c.Auth.TokenTTL, 24*time.Hour)
	if c.Auth.AdminPassword == "" {
		c.Auth.AdminPassword = os.Getenv("GAME_ADMIN_PASSWORD")
	}
	if c.Auth.AdminUser == "" && c.Auth.AdminPassword != "" {
		c.Auth.AdminUser = "admin"
	}
	if c.Cache.LocalMaxChunks == 0 {
		c.Cache.LocalMaxChunks = 2048
	}
	setDuration(&c.Cache.ChunkTTL, time.Hour)
	if c.EventBus.Capacity == 0 {
		c.EventBus.Capacity = 1024
	}
	if c.EventBus.Retention == 0 {
		c.EventBus.Retention = 24
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "mmo-world"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.ConsoleLevel == "" {
		c.Logging.ConsoleLevel = "info"
	}
	if c.Logging.FileLevel == "" {
		c.Logging.FileLevel = "debug"
	}
}

// Validate проверяет значения, без которых сервер не может работать корректно.
func (c *Config) Validate() error {
	if c.World.ChunkSize <= 0 {
		return fmt.Errorf("world.chunk_size должен быть > 0, получено %v", c.World.ChunkSize)
	}
	if c.World.Resolution < 1 {
		return fmt.Errorf("world.resolution должен быть >= 1, получено %d", c.World.Resolution)
	}
	switch c.Gameplay.DeathInventory {
	case "clear", "keep", "drop":
	default:
		return fmt.Errorf("gameplay.death_inventory: неизвестная политика %q", c.Gameplay.DeathInventory)
	}
	switch c.Auth.Backend {
	case "memory", "maria", "mongo":
	default:
		return fmt.Errorf("auth.backend: неизвестный бэкенд %q", c.Auth.Backend)
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("webhooks[%d]: url обязателен", i)
		}
	}
	for name, r := range c.Gameplay.Recipes {
		if r.Material == "" || r.Quantity <= 0 {
			return fmt.Errorf("gameplay.recipes.%s: требуется материал и количество > 0", name)
		}
	}
	return nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return defaultPort
}

func getInt64WithEnvFallback(envVar string, def int64) int64 {
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.ParseInt(envVal, 10, 64); err == nil {
			return v
		}
	}
	return def
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

// Load читает файл конфигурации (YAML или TOML по расширению).
// Если path == "", пробует ENV GAME_CONFIG, а без него возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GAME_CONFIG")
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфиг %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора TOML: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return nil, fmt.Errorf("неизвестные ключи конфига: [%s]", strings.Join(keys, ", "))
		}
		cfg.World.seedSet = meta.IsDefined("world", "seed")
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("ошибка разбора YAML: %w", err)
		}
		var seed struct {
			World struct {
				Seed *int64 `yaml:"seed"`
			} `yaml:"world"`
		}
		if err := yaml.Unmarshal(data, &seed); err == nil {
			cfg.World.seedSet = seed.World.Seed != nil
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
