package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/middleware"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/world"
)

// CalibrationStore хранит клиентские настройки калибровки (JSON как есть)
type CalibrationStore interface {
	SaveCalibration(ctx context.Context, kind string, data json.RawMessage) error
	LoadCalibration(ctx context.Context, kind string) (json.RawMessage, error)
}

// RestServer - HTTP-сторона сервера мира: REST API, /metrics и WebSocket
type RestServer struct {
	router      *gin.Engine
	game        *network.GameHandler
	chunks      *world.ChunkStore
	auth        *auth.Authenticator
	calibration CalibrationStore
	chunkCache  ChunkCacheStats
	webhooks    *WebhookDispatcher
	metrics     *ServerMetrics
	origins     map[string]bool
	httpServer  *http.Server
}

// Config содержит зависимости REST сервера
type Config struct {
	Game        *network.GameHandler
	Chunks      *world.ChunkStore
	Auth        *auth.Authenticator
	Calibration CalibrationStore
	ChunkCache  ChunkCacheStats    // nil — без счётчиков кеша в /api/stats
	Webhooks    *WebhookDispatcher // nil — управление webhook'ами недоступно
	WebSocket   http.Handler       // nil — без WebSocket
	WSPath      string

	AllowedOrigins []string

	// AuthEvery/AuthBurst - лимит запросов к /api/auth с одного IP
	AuthEvery time.Duration
	AuthBurst int

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) *RestServer {
	if cfg.WSPath == "" {
		cfg.WSPath = "/ws"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.AuthEvery <= 0 {
		cfg.AuthEvery = time.Second
	}
	if cfg.AuthBurst <= 0 {
		cfg.AuthBurst = 10
	}

	router := gin.New()
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware("rest_api"))
	router.Use(middleware.NewRequestLogger("/health", "/metrics", cfg.WSPath).Handler())
	promMw := middleware.NewPrometheusMiddleware("rest_api", cfg.Registerer, cfg.WSPath)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)

	rs := &RestServer{
		router:      router,
		game:        cfg.Game,
		chunks:      cfg.Chunks,
		auth:        cfg.Auth,
		calibration: cfg.Calibration,
		chunkCache:  cfg.ChunkCache,
		webhooks:    cfg.Webhooks,
		metrics:     NewServerMetrics(),
		origins:     make(map[string]bool),
	}
	for _, o := range cfg.AllowedOrigins {
		rs.origins[o] = true
	}

	if cfg.WebSocket != nil {
		router.GET(cfg.WSPath, gin.WrapH(cfg.WebSocket))
	}
	rs.setupRoutes(middleware.NewRateLimiter(cfg.AuthEvery, cfg.AuthBurst))
	return rs
}

// Handler - корневой http.Handler (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes(authLimiter *middleware.RateLimiter) {
	rs.router.Use(rs.corsMiddleware())

	api := rs.router.Group("/api")
	{
		api.GET("/chunk/:cx/:cz", rs.handleGetChunk)
		api.GET("/height", rs.handleHeight)
		api.GET("/players", rs.handlePlayers)
		api.POST("/calibration", rs.handleSaveCalibration)
		api.GET("/calibration/:type", rs.handleGetCalibration)
	}

	authGroup := api.Group("/auth")
	authGroup.Use(authLimiter.Handler())
	{
		authGroup.POST("/signup", rs.handleSignup)
		authGroup.POST("/login", rs.handleLogin)
	}

	// Защищенные эндпоинты (требуют JWT)
	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		protected.GET("/stats", rs.handleStats)

		admin := protected.Group("/admin")
		admin.Use(rs.adminMiddleware())
		{
			admin.POST("/players/:username/resources", rs.handleGrantResources)
			admin.DELETE("/players/:username", rs.handleRemovePlayer)

			admin.GET("/webhooks", rs.handleGetWebhooks)
			admin.POST("/webhooks", rs.handleCreateWebhook)
			admin.GET("/webhooks/events", rs.handleGetWebhookEventTypes)
			admin.DELETE("/webhooks/:id", rs.handleDeleteWebhook)
		}
	}

	rs.router.GET("/health", rs.handleHealth)
}

func (rs *RestServer) corsMiddleware() gin.HandlerFunc {
	allowAll := len(rs.origins) == 0 || rs.origins["*"]
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && rs.origins[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Start начинает обслуживать addr в отдельной горутине.
// Ошибка открытия порта возвращается сразу.
func (rs *RestServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	rs.httpServer = &http.Server{
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := rs.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("❌ Ошибка HTTP сервера: %v", err)
		}
	}()
	logging.Info("🌐 HTTP сервер (REST + WebSocket) запущен на %s", ln.Addr())
	return nil
}

// Shutdown дожидается завершения текущих запросов (не дольше ctx)
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	logging.Info("🛑 Остановка HTTP сервера...")
	return rs.httpServer.Shutdown(ctx)
}
