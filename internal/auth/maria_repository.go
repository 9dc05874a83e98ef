package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/go-sql-driver/mysql"
)

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	Host     string // например, localhost
	Port     int    // например, 3306
	Database string // например, mmo_world
	Username string // пользователь БД
	Password string // пароль БД
}

// MariaUserRepo реализует UserRepository для MariaDB
type MariaUserRepo struct {
	db *sql.DB
}

const userColumns = `id, username, password_hash, is_admin, created_at, last_login,
	inventory_json, health, x, y, z, rotation, kills, deaths, model, profile_rev`

// NewMariaUserRepo создает новое подключение к MariaDB и возвращает репозиторий
func NewMariaUserRepo(cfg MariaConfig) (*MariaUserRepo, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Database == "" {
		cfg.Database = "mmo_world"
	}

	dsnCfg := mysql.NewConfig()
	dsnCfg.User = cfg.Username
	dsnCfg.Passwd = cfg.Password
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.Local
	dsnCfg.Params = map[string]string{"charset": "utf8mb4"}

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db}
	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}
	return repo, nil
}

// createTables создает таблицу users, если её нет
func (m *MariaUserRepo) createTables() error {
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(50) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_login TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		inventory_json TEXT NOT NULL,
		health DOUBLE NOT NULL DEFAULT 0,
		x DOUBLE NOT NULL DEFAULT 0,
		y DOUBLE NOT NULL DEFAULT 0,
		z DOUBLE NOT NULL DEFAULT 0,
		rotation DOUBLE NOT NULL DEFAULT 0,
		kills INT NOT NULL DEFAULT 0,
		deaths INT NOT NULL DEFAULT 0,
		model VARCHAR(64) NOT NULL DEFAULT '',
		profile_rev BIGINT NOT NULL DEFAULT 0
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createUsersTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу users: %w", err)
	}
	// таблицы, созданные до появления ревизий
	if _, err := m.db.Exec(`ALTER TABLE users ADD COLUMN IF NOT EXISTS profile_rev BIGINT NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("не удалось добавить profile_rev: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		user    User
		invJSON string
	)
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.LastLogin,
		&invJSON,
		&user.Profile.Health,
		&user.Profile.X,
		&user.Profile.Y,
		&user.Profile.Z,
		&user.Profile.Rotation,
		&user.Profile.Kills,
		&user.Profile.Deaths,
		&user.Profile.Model,
		&user.Profile.Revision,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}
	user.Profile.Inventory = inventory.Parse(invJSON)
	return &user, nil
}

// GetUserByUsername получает пользователя по имени
func (m *MariaUserRepo) GetUserByUsername(username string) (*User, error) {
	return scanUser(m.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, normalize(username)))
}

// GetUserByID получает пользователя по ID
func (m *MariaUserRepo) GetUserByID(id uint64) (*User, error) {
	return scanUser(m.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// CreateUser создает нового пользователя
func (m *MariaUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	lower := normalize(username)
	now := time.Now()

	query := `INSERT INTO users (username, password_hash, is_admin, created_at, last_login, inventory_json)
			  VALUES (?, ?, ?, ?, ?, '[]')`

	result, err := m.db.Exec(query, lower, passwordHash, isAdmin, now, now)
	if err != nil {
		var myErr *mysql.MySQLError
		if (errors.As(err, &myErr) && myErr.Number == 1062) || strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении ID пользователя: %w", err)
	}

	return &User{
		ID:           uint64(userID),
		Username:     lower,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
		LastLogin:    now,
		Profile:      Profile{Inventory: inventory.Inventory{}},
	}, nil
}

// TouchLogin обновляет время последнего входа пользователя
func (m *MariaUserRepo) TouchLogin(userID uint64) error {
	if _, err := m.db.Exec(`UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("ошибка при обновлении времени входа: %w", err)
	}
	return nil
}

// LoadProfile читает профиль персонажа
func (m *MariaUserRepo) LoadProfile(username string) (Profile, error) {
	user, err := m.GetUserByUsername(username)
	if err != nil {
		return Profile{}, err
	}
	return user.Profile, nil
}

// SaveProfile перезаписывает профиль персонажа
func (m *MariaUserRepo) SaveProfile(username string, p Profile) error {
	query := `UPDATE users SET inventory_json = ?, health = ?, x = ?, y = ?, z = ?, rotation = ?,
			  kills = ?, deaths = ?, model = ?, profile_rev = ? WHERE username = ?`
	res, err := m.db.Exec(query, p.Inventory.String(), p.Health, p.X, p.Y, p.Z, p.Rotation,
		p.Kills, p.Deaths, p.Model, p.Revision, normalize(username))
	if err != nil {
		return fmt.Errorf("ошибка при сохранении профиля %s: %w", username, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL не считает строку изменённой, если значения совпали, поэтому проверяем наличие явно
		if _, err := m.GetUserByUsername(username); err != nil {
			return err
		}
	}
	return nil
}

// GetUserStats возвращает статистику пользователей
func (m *MariaUserRepo) GetUserStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalUsers int
	if err := m.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&totalUsers); err != nil {
		return nil, fmt.Errorf("ошибка при получении количества пользователей: %w", err)
	}
	stats["total_users"] = totalUsers

	var recentUsers int
	err := m.db.QueryRow("SELECT COUNT(*) FROM users WHERE last_login > DATE_SUB(NOW(), INTERVAL 24 HOUR)").Scan(&recentUsers)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении недавних пользователей: %w", err)
	}
	stats["recent_users_24h"] = recentUsers

	return stats, nil
}

// Close закрывает подключение к БД
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}
