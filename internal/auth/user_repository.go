package auth

import "errors"

// UserRepository - хранилище учётных записей и профилей игроков.
// Реализации: память (тесты, одиночный сервер), MariaDB, MongoDB.
type UserRepository interface {
	// GetUserByUsername возвращает пользователя по имени без учёта регистра
	// или (nil, ErrUserNotFound).
	GetUserByUsername(username string) (*User, error)

	// GetUserByID возвращает пользователя по ID или (nil, ErrUserNotFound).
	GetUserByID(id uint64) (*User, error)

	// CreateUser создаёт пользователя; passwordHash уже bcrypt.
	// При занятом имени возвращает ErrUserExists.
	CreateUser(username string, passwordHash string, isAdmin bool) (*User, error)

	// TouchLogin обновляет время последнего входа
	TouchLogin(id uint64) error

	// LoadProfile читает сохранённый профиль персонажа
	LoadProfile(username string) (Profile, error)

	// SaveProfile перезаписывает профиль персонажа
	SaveProfile(username string, p Profile) error

	Close() error
}

// Ошибки уровня домена
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)
