package auth

import (
	"errors"
	"regexp"
	"time"

	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/logging"
)

// Сообщения, которые видит клиент в authError
const (
	MsgInvalidCredentials = "Invalid credentials."
	MsgSignupFailed       = "Username taken or invalid."
	MsgServerError        = "Server error."
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{3,32}$`)

// Authenticator - регистрация и вход по паролю, выпуск сессионных токенов
type Authenticator struct {
	repo   UserRepository
	tokens *TokenIssuer
}

// NewAuthenticator создаёт аутентификатор
func NewAuthenticator(repo UserRepository, tokens *TokenIssuer) *Authenticator {
	return &Authenticator{repo: repo, tokens: tokens}
}

// Repo возвращает хранилище пользователей
func (a *Authenticator) Repo() UserRepository { return a.repo }

// Tokens возвращает выпускающего токены
func (a *Authenticator) Tokens() *TokenIssuer { return a.tokens }

// Signup регистрирует нового игрока
func (a *Authenticator) Signup(username, password string) (*User, error) {
	if !usernamePattern.MatchString(username) || len(password) < 3 || len(password) > 72 {
		return nil, gameerr.New(gameerr.AuthFailure, "signup", MsgSignupFailed)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, &gameerr.Error{Kind: gameerr.AuthFailure, Op: "signup", Message: MsgServerError, Err: err}
	}
	user, err := a.repo.CreateUser(username, hash, false)
	if errors.Is(err, ErrUserExists) {
		return nil, gameerr.New(gameerr.AuthFailure, "signup", MsgSignupFailed)
	}
	if err != nil {
		logging.Error("❌ Не удалось создать пользователя %s: %v", username, err)
		return nil, &gameerr.Error{Kind: gameerr.AuthFailure, Op: "signup", Message: MsgServerError, Err: err}
	}
	logging.Info("👤 Зарегистрирован игрок %s (ID: %d)", user.Username, user.ID)
	return user, nil
}

// Login проверяет пароль и выпускает токен
func (a *Authenticator) Login(username, password string) (*User, string, error) {
	user, err := a.repo.GetUserByUsername(username)
	if errors.Is(err, ErrUserNotFound) {
		logging.Debug("🔐 Вход отклонён: пользователь %s не найден", username)
		return nil, "", gameerr.New(gameerr.AuthFailure, "login", MsgInvalidCredentials)
	}
	if err != nil {
		logging.Error("❌ Ошибка чтения пользователя %s: %v", username, err)
		return nil, "", &gameerr.Error{Kind: gameerr.AuthFailure, Op: "login", Message: MsgServerError, Err: err}
	}
	if !CheckPassword(user.PasswordHash, password) {
		logging.Debug("🔐 Вход отклонён: неверный пароль для %s", username)
		return nil, "", gameerr.New(gameerr.AuthFailure, "login", MsgInvalidCredentials)
	}

	token, expiresAt, err := a.tokens.Issue(user)
	if err != nil {
		logging.Warn("⚠️ Ошибка генерации JWT для %s: %v", username, err)
	} else {
		logging.Debug("🎫 JWT для %s действителен до %s", user.Username, expiresAt.Format(time.RFC3339))
	}
	if err := a.repo.TouchLogin(user.ID); err != nil {
		logging.Warn("⚠️ Не удалось обновить время входа %s: %v", user.Username, err)
	}
	logging.Info("✅ Успешная аутентификация пользователя %s (ID: %d)", user.Username, user.ID)
	return user, token, nil
}

// Verify проверяет сессионный токен и возвращает пользователя
func (a *Authenticator) Verify(token string) (*User, *Claims, error) {
	claims, err := a.tokens.Parse(token)
	if err != nil {
		return nil, nil, gameerr.Wrap(gameerr.AuthFailure, "verify token", err)
	}
	user, err := a.repo.GetUserByID(claims.UserID)
	if err != nil {
		return nil, nil, gameerr.Wrap(gameerr.AuthFailure, "verify token", err)
	}
	return user, claims, nil
}

// EnsureAdmin создаёт администратора, если его ещё нет
func (a *Authenticator) EnsureAdmin(username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	_, err := a.repo.GetUserByUsername(username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := a.repo.CreateUser(username, hash, true); err != nil && !errors.Is(err, ErrUserExists) {
		return err
	}
	logging.Info("🛡️ Создан администратор %s", username)
	return nil
}
