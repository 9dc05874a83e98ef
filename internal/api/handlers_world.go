package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/player"
)

// handleGetChunk - HTTP-вариант requestChunks: тот же JSON чанка, та же семантика кэша
func (rs *RestServer) handleGetChunk(c *gin.Context) {
	cx, errX := strconv.Atoi(c.Param("cx"))
	cz, errZ := strconv.Atoi(c.Param("cz"))
	if errX != nil || errZ != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk coordinates must be integers"})
		return
	}

	chunk, err := rs.chunks.GetOrGenerate(c.Request.Context(), cx, cz)
	if err != nil {
		logging.Error("❌ Чанк %d:%d по HTTP: %v", cx, cz, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, chunk)
}

// handleHeight - высота поверхности в точке (x, z)
func (rs *RestServer) handleHeight(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	z, errZ := strconv.ParseFloat(c.Query("z"), 64)
	if errX != nil || errZ != nil || math.IsNaN(x) || math.IsNaN(z) || math.IsInf(x, 0) || math.IsInf(z, 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "x and z must be finite numbers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"x": x, "z": z, "height": rs.chunks.HeightAt(x, z)})
}

// handlePlayers - сетевые проекции всех персонажей в мире (онлайн и offline-idle)
func (rs *RestServer) handlePlayers(c *gin.Context) {
	resident := rs.game.Roster().Resident()
	out := make([]gin.H, 0, len(resident))
	for _, s := range resident {
		out = append(out, gin.H{"player": s.NetworkPacket(), "online": s.IsOnline()})
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Игроки в мире",
		Data:    out,
	})
}

// CalibrationRequest - тело POST /api/calibration
type CalibrationRequest struct {
	Type string          `json:"type" binding:"required"`
	Data json.RawMessage `json:"data"`
}

func (rs *RestServer) handleSaveCalibration(c *gin.Context) {
	var req CalibrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and data required"})
		return
	}
	if len(req.Data) == 0 {
		req.Data = json.RawMessage("null")
	}
	if err := rs.calibration.SaveCalibration(c.Request.Context(), req.Type, req.Data); err != nil {
		logging.Error("❌ Сохранение калибровки %s: %v", req.Type, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleGetCalibration отдаёт сохранённый JSON как есть; если ничего нет, {}
func (rs *RestServer) handleGetCalibration(c *gin.Context) {
	data, err := rs.calibration.LoadCalibration(c.Request.Context(), c.Param("type"))
	if err != nil {
		logging.Error("❌ Чтение калибровки %s: %v", c.Param("type"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// playerSummary - краткая сводка для ответов админских эндпоинтов
func playerSummary(s *player.State) gin.H {
	kills, deaths := s.Stats()
	return gin.H{
		"username":  s.Username(),
		"online":    s.IsOnline(),
		"health":    s.Health(),
		"kills":     kills,
		"deaths":    deaths,
		"inventory": s.Inventory(),
	}
}
