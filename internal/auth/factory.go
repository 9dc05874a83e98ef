package auth

import (
	"fmt"

	"github.com/annel0/mmo-world/internal/config"
	"github.com/annel0/mmo-world/internal/logging"
)

// OpenUserRepository выбирает хранилище пользователей по auth.backend
func OpenUserRepository(cfg config.AuthConfig) (UserRepository, error) {
	switch cfg.Backend {
	case "", "memory":
		logging.Warn("⚠️ Пользователи хранятся в памяти и пропадут после перезапуска")
		return NewMemoryUserRepo(), nil
	case "maria":
		repo, err := NewMariaUserRepo(MariaConfig{
			Host:     cfg.Maria.Host,
			Port:     cfg.Maria.Port,
			Database: cfg.Maria.Database,
			Username: cfg.Maria.Username,
			Password: cfg.Maria.Password,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("🗄️ Пользователи: MariaDB %s:%d", cfg.Maria.Host, cfg.Maria.Port)
		return repo, nil
	case "mongo":
		repo, err := NewMongoUserRepo(MongoConfig{
			URI:        cfg.Mongo.URI,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		})
		if err != nil {
			return nil, err
		}
		logging.Info("🗄️ Пользователи: MongoDB %s", cfg.Mongo.URI)
		return repo, nil
	default:
		return nil, fmt.Errorf("неизвестный auth.backend %q", cfg.Backend)
	}
}
