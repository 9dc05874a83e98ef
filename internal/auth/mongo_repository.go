package auth

import (
	"context"
	"errors"
	"time"

	"github.com/annel0/mmo-world/internal/inventory"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB user repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. mmo_world
	Collection string // e.g. users
	Counters   string // e.g. counters (for auto-increment)
}

// MongoUserRepo implements UserRepository on MongoDB backend.
type MongoUserRepo struct {
	client      *mongo.Client
	collection  *mongo.Collection
	counterColl *mongo.Collection
	ctxTimeout  time.Duration
}

// userDoc - документ коллекции users
type userDoc struct {
	UserID        uint64    `bson:"user_id"`
	Username      string    `bson:"username"`
	PasswordHash  string    `bson:"password_hash"`
	IsAdmin       bool      `bson:"is_admin"`
	CreatedAt     time.Time `bson:"created_at"`
	LastLogin     time.Time `bson:"last_login"`
	InventoryJSON string    `bson:"inventory_json"`
	Health        float64   `bson:"health"`
	X             float64   `bson:"x"`
	Y             float64   `bson:"y"`
	Z             float64   `bson:"z"`
	Rotation      float64   `bson:"rotation"`
	Kills         int       `bson:"kills"`
	Deaths        int       `bson:"deaths"`
	Model         string    `bson:"model"`
	Revision      int64     `bson:"profile_rev"`
}

func (d *userDoc) user() *User {
	return &User{
		ID:           d.UserID,
		Username:     d.Username,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		LastLogin:    d.LastLogin,
		IsAdmin:      d.IsAdmin,
		Profile: Profile{
			Inventory: inventory.Parse(d.InventoryJSON),
			Health:    d.Health,
			X:         d.X,
			Y:         d.Y,
			Z:         d.Z,
			Rotation:  d.Rotation,
			Kills:     d.Kills,
			Deaths:    d.Deaths,
			Model:     d.Model,
			Revision:  d.Revision,
		},
	}
}

// NewMongoUserRepo establishes connection and returns repository.
func NewMongoUserRepo(cfg MongoConfig) (*MongoUserRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "mmo_world"
	}
	if cfg.Collection == "" {
		cfg.Collection = "users"
	}
	if cfg.Counters == "" {
		cfg.Counters = "counters"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	db := client.Database(cfg.Database)
	repo := &MongoUserRepo{
		client:      client,
		collection:  db.Collection(cfg.Collection),
		counterColl: db.Collection(cfg.Counters),
		ctxTimeout:  5 * time.Second,
	}

	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MongoUserRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	usernameIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	}
	userIDIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("userid_unique"),
	}
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{usernameIdx, userIDIdx})
	return err
}

func (m *MongoUserRepo) findOne(filter bson.M) (*User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	var doc userDoc
	err := m.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.user(), nil
}

// GetUserByUsername implements UserRepository.
func (m *MongoUserRepo) GetUserByUsername(username string) (*User, error) {
	return m.findOne(bson.M{"username": normalize(username)})
}

// GetUserByID implements UserRepository.
func (m *MongoUserRepo) GetUserByID(id uint64) (*User, error) {
	return m.findOne(bson.M{"user_id": id})
}

// CreateUser inserts a new document and returns created user.
func (m *MongoUserRepo) CreateUser(username string, passwordHash string, isAdmin bool) (*User, error) {
	nextID, err := m.nextSequence("userid")
	if err != nil {
		return nil, err
	}
	now := time.Now()
	doc := userDoc{
		UserID:        nextID,
		Username:      normalize(username),
		PasswordHash:  passwordHash,
		IsAdmin:       isAdmin,
		CreatedAt:     now,
		LastLogin:     now,
		InventoryJSON: "[]",
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	_, err = m.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	return doc.user(), nil
}

// TouchLogin обновляет время последнего входа
func (m *MongoUserRepo) TouchLogin(id uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	res, err := m.collection.UpdateOne(ctx, bson.M{"user_id": id}, bson.M{"$set": bson.M{"last_login": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// LoadProfile читает профиль персонажа
func (m *MongoUserRepo) LoadProfile(username string) (Profile, error) {
	user, err := m.GetUserByUsername(username)
	if err != nil {
		return Profile{}, err
	}
	return user.Profile, nil
}

// SaveProfile перезаписывает профиль персонажа
func (m *MongoUserRepo) SaveProfile(username string, p Profile) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	update := bson.M{"$set": bson.M{
		"inventory_json": p.Inventory.String(),
		"health":         p.Health,
		"x":              p.X,
		"y":              p.Y,
		"z":              p.Z,
		"rotation":       p.Rotation,
		"kills":          p.Kills,
		"deaths":         p.Deaths,
		"model":          p.Model,
		"profile_rev":    p.Revision,
	}}
	res, err := m.collection.UpdateOne(ctx, bson.M{"username": normalize(username)}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetUserStats возвращает статистику пользователей
func (m *MongoUserRepo) GetUserStats() (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	total, err := m.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	recent, err := m.collection.CountDocuments(ctx, bson.M{"last_login": bson.M{"$gt": time.Now().Add(-24 * time.Hour)}})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"total_users": total, "recent_users_24h": recent}, nil
}

// nextSequence atomically increments a counter and returns new value.
func (m *MongoUserRepo) nextSequence(name string) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	res := m.counterColl.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return uint64(doc.Seq), nil
}

// Close terminates connection.
func (m *MongoUserRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
