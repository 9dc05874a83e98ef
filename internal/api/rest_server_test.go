package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/cache"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/player"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/annel0/mmo-world/internal/world"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	rs     *RestServer
	game   *network.GameHandler
	authn  *auth.Authenticator
	chunks *world.ChunkStore
	hooks  *WebhookDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewBadgerStore("", true, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	chunks := world.NewChunkStore(terrain.NewGenerator(42, terrain.DefaultOptions()), store, 64)
	repo := auth.NewMemoryUserRepo()
	authn := auth.NewAuthenticator(repo, auth.NewTokenIssuer("test-secret", time.Hour))
	require.NoError(t, authn.EnsureAdmin("root", "rootpw"))

	roster := player.NewRoster(player.Config{StartingInventory: []string{"MPSD"}}, chunks.HeightAt, repo, nil)
	items := world.NewItemRegistry(time.Minute, nil, nil, nil)
	objects := world.NewObjectRegistry(world.ObjectsConfig{TreeHealth: 10, RockHealth: 20}, nil, nil, items)
	game := network.NewGameHandler(network.NewHub(), authn, roster, chunks, objects, items, network.Options{MaxInventorySlots: 4})
	t.Cleanup(game.Close)

	hooks := NewWebhookDispatcher("test")
	t.Cleanup(hooks.Close)

	reg := prometheus.NewRegistry()
	rs := NewRestServer(Config{
		Game:        game,
		Chunks:      chunks,
		Auth:        authn,
		Calibration: store,
		Webhooks:    hooks,
		AuthEvery:   time.Millisecond,
		AuthBurst:   100,
		Registerer:  reg,
		Gatherer:    reg,
	})
	return &testEnv{rs: rs, game: game, authn: authn, chunks: chunks, hooks: hooks}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.rs.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: username, Password: password}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestChunkEndpointMatchesStore(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/chunk/3/-2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	chunk, err := e.chunks.GetOrGenerate(context.Background(), 3, -2)
	require.NoError(t, err)
	expected, err := json.Marshal(chunk)
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), w.Body.String(), "HTTP и сокет отдают один и тот же JSON")
	assert.Equal(t, int64(1), e.chunks.Generated(), "повторный запрос не генерирует чанк заново")

	w = e.do(t, http.MethodGet, "/api/chunk/abc/1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHeightEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/height?x=12.5&z=-40", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Height float64 `json:"height"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, e.chunks.HeightAt(12.5, -40), resp.Height, 1e-9)

	w = e.do(t, http.MethodGet, "/api/height?x=NaN&z=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignupAndLoginOverHTTP(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/auth/signup", LoginRequest{Username: "alice", Password: "secret"}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/signup", LoginRequest{Username: "alice", Password: "secret"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, auth.MsgInvalidCredentials, resp.Message)

	token := e.login(t, "alice", "secret")
	user, _, err := e.authn.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)
}

func TestStatsRequiresToken(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do(t, http.MethodGet, "/api/stats", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := e.login(t, "root", "rootpw")
	w = e.do(t, http.MethodGet, "/api/stats", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			World  map[string]float64 `json:"world"`
			Server ProcessSnapshot    `json:"server"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Data.World, "chunks_generated")
	assert.Contains(t, resp.Data.World, "players_online")
	assert.Positive(t, resp.Data.Server.Goroutines)
	assert.NotEmpty(t, resp.Data.Server.Uptime)
}

type fixedCacheStats struct{ m *cache.CacheMetrics }

func (f fixedCacheStats) CacheMetrics() *cache.CacheMetrics { return f.m }

func TestStatsReportsChunkCache(t *testing.T) {
	e := newTestEnv(t)
	token := e.login(t, "root", "rootpw")

	w := e.do(t, http.MethodGet, "/api/stats", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "chunk_cache", "без Redis секции нет")

	e.rs.chunkCache = fixedCacheStats{m: &cache.CacheMetrics{TotalRequests: 10, CacheHits: 7, HitRatio: 0.7}}
	w = e.do(t, http.MethodGet, "/api/stats", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			ChunkCache cache.CacheMetrics `json:"chunk_cache"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.Data.ChunkCache.CacheHits)
	assert.Equal(t, 0.7, resp.Data.ChunkCache.HitRatio)
}

func TestAdminRoutesRejectPlayers(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.authn.Signup("bob", "secret")
	require.NoError(t, err)
	token := e.login(t, "bob", "secret")

	w := e.do(t, http.MethodPost, "/api/admin/players/bob/resources", GrantRequest{Item: "wood", Quantity: 5}, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGrantResources(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login(t, "root", "rootpw")
	_, err := e.authn.Signup("bob", "secret")
	require.NoError(t, err)

	// не в мире — пишем в сохранённый профиль
	w := e.do(t, http.MethodPost, "/api/admin/players/bob/resources", GrantRequest{Item: "wood", Quantity: 5}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	profile, err := e.authn.Repo().LoadProfile("bob")
	require.NoError(t, err)
	assert.Equal(t, 5, profile.Inventory.Count("wood"))
	assert.Equal(t, int64(1), profile.Revision, "правка в обход игрового сервера")

	// вошёл - изменения идут в живое состояние и видны сразу
	s, _, err := e.game.Roster().Login(context.Background(), "conn-1", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, 5, s.Inventory().Count("wood"))

	w = e.do(t, http.MethodPost, "/api/admin/players/bob/resources", GrantRequest{Item: "wood", Quantity: 2}, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 7, s.Inventory().Count("wood"))

	w = e.do(t, http.MethodPost, "/api/admin/players/nobody/resources", GrantRequest{Item: "wood"}, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/admin/players/bob/resources", GrantRequest{Item: "wood", Quantity: -1}, admin)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRemovePlayerOnlyWhenOffline(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login(t, "root", "rootpw")
	_, err := e.authn.Signup("carol", "secret")
	require.NoError(t, err)

	w := e.do(t, http.MethodDelete, "/api/admin/players/carol", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code, "персонажа ещё нет в мире")

	_, _, err = e.game.Roster().Login(context.Background(), "conn-7", "carol", "")
	require.NoError(t, err)

	w = e.do(t, http.MethodDelete, "/api/admin/players/carol", nil, admin)
	assert.Equal(t, http.StatusConflict, w.Code, "онлайн-игрока удалить нельзя")

	e.game.Roster().Disconnect("conn-7")
	w = e.do(t, http.MethodGet, "/api/players", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"carol"`, "offline-персонаж остаётся в мире")

	w = e.do(t, http.MethodDelete, "/api/admin/players/carol", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := e.game.Roster().ByUsername("carol")
	assert.False(t, ok)
}

func TestCalibrationRoundTrip(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/calibration/weapon", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	body := map[string]interface{}{"type": "weapon", "data": map[string]interface{}{"offset": []float64{0.1, -0.2, 0.3}}}
	w = e.do(t, http.MethodPost, "/api/calibration", body, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/api/calibration/weapon", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"offset":[0.1,-0.2,0.3]}`, w.Body.String())
}

func TestWebhookManagement(t *testing.T) {
	e := newTestEnv(t)
	admin := e.login(t, "root", "rootpw")

	w := e.do(t, http.MethodPost, "/api/admin/webhooks", Webhook{Name: "discord", URL: "http://127.0.0.1:1/hook"}, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, e.hooks.Webhooks(), 1)
	id := e.hooks.Webhooks()[0].ID

	w = e.do(t, http.MethodGet, "/api/admin/webhooks/events", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "PlayerDied")

	w = e.do(t, http.MethodDelete, "/api/admin/webhooks/999", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodDelete, "/api/admin/webhooks/"+jsonNumber(id), nil, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, e.hooks.Webhooks())
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rest_api_http_request_duration_seconds")
}

func jsonNumber(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
