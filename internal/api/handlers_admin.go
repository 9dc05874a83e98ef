package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/cache"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/logging"
)

// userStatser реализуют репозитории с SQL/Mongo-агрегатами
type userStatser interface {
	GetUserStats() (map[string]interface{}, error)
}

// ChunkCacheStats - источник счётчиков общего кеша чанков (cache.ChunkRepo)
type ChunkCacheStats interface {
	CacheMetrics() *cache.CacheMetrics
}

// handleStats возвращает статистику сервера
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	if repo, ok := rs.auth.Repo().(userStatser); ok {
		if userStats, err := repo.GetUserStats(); err == nil {
			stats["users"] = userStats
		} else {
			logging.Warn("⚠️ Статистика пользователей недоступна: %v", err)
		}
	}

	resident, online := rs.game.Roster().Counts()
	stats["world"] = map[string]interface{}{
		"players_resident": resident,
		"players_online":   online,
		"connections":      rs.game.Hub().Count(),
		"chunks_resident":  rs.chunks.ResidentCount(),
		"chunks_generated": rs.chunks.Generated(),
		"chunks_persisted": rs.chunks.Persisted(),
	}

	if rs.chunkCache != nil {
		if m := rs.chunkCache.CacheMetrics(); m != nil {
			stats["chunk_cache"] = m
		}
	}
	stats["server"] = rs.metrics.Snapshot()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// GrantRequest - выдача предметов игроку
type GrantRequest struct {
	Item     string `json:"item" binding:"required"`
	Quantity int    `json:"quantity"`
}

func (rs *RestServer) handleGrantResources(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	username := c.Param("username")
	inv, err := rs.game.GrantItems(username, req.Item, req.Quantity)
	if err != nil {
		c.JSON(adminStatus(err), GenericResponse{
			Success: false,
			Message: adminMessage(err),
		})
		return
	}
	logging.Info("🛡️ %s выдал %s × %d игроку %s", c.GetString(ctxUsername), req.Item, req.Quantity, username)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Предметы выданы",
		Data:    gin.H{"username": username, "inventory": inv},
	})
}

// handleRemovePlayer убирает offline-персонажа из мира; профиль в хранилище остаётся
func (rs *RestServer) handleRemovePlayer(c *gin.Context) {
	username := c.Param("username")
	s, ok := rs.game.Roster().ByUsername(username)
	if !ok {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Игрок не находится в мире",
		})
		return
	}
	summary := playerSummary(s)

	if err := rs.game.RemovePlayer(username); err != nil {
		c.JSON(adminStatus(err), GenericResponse{
			Success: false,
			Message: adminMessage(err),
		})
		return
	}
	logging.Info("🛡️ %s удалил из мира %s", c.GetString(ctxUsername), username)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Игрок удалён из мира",
		Data:    summary,
	})
}

func adminStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case gameerr.Is(err, gameerr.ValidationFailure):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func adminMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		return "Пользователь не найден"
	case gameerr.Is(err, gameerr.ValidationFailure):
		return gameerr.Message(err)
	default:
		logging.Error("❌ Админская операция: %v", err)
		return "Внутренняя ошибка сервера"
	}
}

// === Webhook'и ===

func (rs *RestServer) webhooksEnabled(c *gin.Context) bool {
	if rs.webhooks == nil {
		c.JSON(http.StatusNotImplemented, GenericResponse{
			Success: false,
			Message: "Webhook'и не настроены",
		})
		return false
	}
	return true
}

func (rs *RestServer) handleGetWebhooks(c *gin.Context) {
	if !rs.webhooksEnabled(c) {
		return
	}
	hooks := rs.webhooks.Webhooks()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список webhook'ов получен",
		Data:    gin.H{"webhooks": hooks, "total": len(hooks)},
	})
}

func (rs *RestServer) handleCreateWebhook(c *gin.Context) {
	if !rs.webhooksEnabled(c) {
		return
	}
	var req Webhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат webhook'а: " + err.Error(),
		})
		return
	}
	created := rs.webhooks.AddWebhook(req)
	logging.Info("🪝 Добавлен webhook %s → %s", created.Name, created.URL)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Webhook создан",
		Data:    created,
	})
}

func (rs *RestServer) handleDeleteWebhook(c *gin.Context) {
	if !rs.webhooksEnabled(c) {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный ID webhook'а",
		})
		return
	}
	if !rs.webhooks.DeleteWebhook(id) {
		c.JSON(http.StatusNotFound, GenericResponse{
			Success: false,
			Message: "Webhook не найден",
		})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Webhook удалён",
	})
}

func (rs *RestServer) handleGetWebhookEventTypes(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Типы событий",
		Data:    EventTypes(),
	})
}
