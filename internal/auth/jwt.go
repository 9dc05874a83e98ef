package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "mmo-world"

// Claims - содержимое сессионного токена
type Claims struct {
	UserID   uint64 `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin - есть ли у владельца токена права администратора
func (c *Claims) IsAdmin() bool { return c.Role == "admin" }

// TokenIssuer выпускает и проверяет JWT (HS256)
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer создаёт выпускающего с секретом secret. Пустой секрет заменяется
// случайным: токены перестанут проходить проверку после перезапуска.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("не удалось сгенерировать JWT секрет: %v", err))
		}
		logging.Warn("⚠️ JWT секрет не задан, сгенерирован случайный (auth.jwt_secret / GAME_JWT_SECRET)")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: key, ttl: ttl}
}

// Issue выпускает токен для пользователя
func (ti *TokenIssuer) Issue(user *User) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ti.ttl)
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.GetRole(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи JWT токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse проверяет подпись и срок действия токена
func (ti *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный алгоритм подписи: %v", token.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("токен недействителен")
	}
	return claims, nil
}
