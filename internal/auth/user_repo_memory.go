package auth

import (
	"strings"
	"sync"
	"time"
)

// MemoryUserRepo - потокобезопасное хранилище в памяти для тестов и одиночного сервера.
// Данные теряются при перезапуске. ID выдаются по возрастанию с 1.
type MemoryUserRepo struct {
	mu     sync.RWMutex
	users  map[string]*User // ключ — имя в нижнем регистре
	nextID uint64
}

// NewMemoryUserRepo возвращает пустой репозиторий
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:  make(map[string]*User),
		nextID: 1,
	}
}

// GetUserByUsername ищет пользователя без учёта регистра
func (r *MemoryUserRepo) GetUserByUsername(username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[normalize(username)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(user), nil
}

// GetUserByID ищет пользователя по ID
func (r *MemoryUserRepo) GetUserByID(id uint64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.ID == id {
			return copyUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

// CreateUser добавляет пользователя, если имя свободно
func (r *MemoryUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	key := normalize(username)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[key]; exists {
		return nil, ErrUserExists
	}

	now := time.Now()
	user := &User{
		ID:           r.nextID,
		Username:     key,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		LastLogin:    now,
		IsAdmin:      isAdmin,
	}
	r.nextID++
	r.users[key] = user
	return copyUser(user), nil
}

// TouchLogin обновляет время последнего входа
func (r *MemoryUserRepo) TouchLogin(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			u.LastLogin = time.Now()
			return nil
		}
	}
	return ErrUserNotFound
}

// LoadProfile возвращает копию профиля
func (r *MemoryUserRepo) LoadProfile(username string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[normalize(username)]
	if !ok {
		return Profile{}, ErrUserNotFound
	}
	p := u.Profile
	p.Inventory = p.Inventory.Clone()
	return p, nil
}

// SaveProfile перезаписывает профиль
func (r *MemoryUserRepo) SaveProfile(username string, p Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[normalize(username)]
	if !ok {
		return ErrUserNotFound
	}
	p.Inventory = p.Inventory.Clone()
	u.Profile = p
	return nil
}

// Close ничего не делает
func (r *MemoryUserRepo) Close() error { return nil }

func copyUser(u *User) *User {
	cp := *u
	cp.Profile.Inventory = u.Profile.Inventory.Clone()
	return &cp
}

// normalize приводит имя к ключу хранилища
func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
