package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/gameerr"
)

// LoginRequest представляет запрос на вход или регистрацию
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	UserID  uint64 `json:"user_id,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// authStatus - HTTP-статус для ошибки аутентификатора
func authStatus(err error) int {
	if gameerr.Message(err) == auth.MsgServerError {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

func (rs *RestServer) handleSignup(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	user, err := rs.auth.Signup(req.Username, req.Password)
	if err != nil {
		status := authStatus(err)
		if status == http.StatusUnauthorized {
			status = http.StatusConflict
		}
		c.JSON(status, GenericResponse{
			Success: false,
			Message: gameerr.Message(err),
		})
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Created! Now Login.",
		Data: gin.H{
			"user_id":  user.ID,
			"username": user.Username,
		},
	})
}

// handleLogin выдаёт JWT; тот же токен принимает событие login по сокету
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	user, token, err := rs.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(authStatus(err), LoginResponse{
			Success: false,
			Message: gameerr.Message(err),
		})
		return
	}
	if token == "" {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Ошибка генерации токена",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		Message: "Успешная авторизация",
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
	})
}
