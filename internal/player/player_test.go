package player

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func testConfig() Config {
	return Config{
		SpawnClearance:    0.5,
		FallbackSpawnY:    5,
		RespawnSpread:     50,
		StartingInventory: []string{"MPSD", "Sniper"},
		InterestCellSize:  50,
	}
}

func newTestRoster(t *testing.T, heightAt func(x, z float64) float64) (*Roster, *auth.MemoryUserRepo, *world.Saver) {
	t.Helper()
	repo := auth.NewMemoryUserRepo()
	saver := world.NewSaver(16)
	t.Cleanup(saver.Close)
	return NewRoster(testConfig(), heightAt, repo, saver), repo, saver
}

func TestTakeDamageDiesOnce(t *testing.T) {
	s := NewState("c1", "alice", auth.Profile{Health: 30})

	died, hp := s.TakeDamage(20)
	assert.False(t, died)
	assert.Equal(t, 10.0, hp)

	died, hp = s.TakeDamage(25)
	assert.True(t, died)
	assert.Zero(t, hp, "здоровье не уходит ниже нуля")

	died, _ = s.TakeDamage(25)
	assert.False(t, died, "повторная смерть не засчитывается")
	_, deaths := s.Stats()
	assert.Equal(t, 1, deaths)
	assert.False(t, s.IsAlive())

	s.Respawn(1, 2, 3)
	assert.True(t, s.IsAlive())
	assert.Equal(t, float64(DefaultMaxHealth), s.Health())
}

func TestNewStateDefaults(t *testing.T) {
	s := NewState("c1", "bob", auth.Profile{Health: -5})
	full := s.FullState()
	assert.Equal(t, 200.0, full.Health, "мёртвый профиль входит с полным здоровьем")
	assert.Equal(t, DefaultModel, full.Model)
	assert.Equal(t, AnimIdle, full.AnimationState)
	assert.True(t, full.IsAlive)
}

func TestUpdatePositionRejectsNonFinite(t *testing.T) {
	s := NewState("c1", "carol", auth.Profile{X: 1, Z: 1})

	err := s.UpdatePosition(MovementUpdate{X: f(5), Z: f(math.Inf(1))})
	assert.True(t, gameerr.Is(err, gameerr.ValidationFailure))
	x, _, z := s.Position()
	assert.Equal(t, 1.0, x, "частичного изменения нет")
	assert.Equal(t, 1.0, z)

	slot := 2
	require.NoError(t, s.UpdatePosition(MovementUpdate{X: f(5), Rotation: f(1.5), EquippedSlot: &slot}))
	p := s.NetworkPacket()
	assert.Equal(t, 5.0, p.X)
	assert.Equal(t, 1.0, p.Z)
	assert.Equal(t, 1.5, p.Rotation)
	assert.Equal(t, 2, p.EquippedSlot)
}

func TestNetworkPacketHidesInventory(t *testing.T) {
	s := NewState("c1", "dave", auth.Profile{Inventory: inventory.Of("Sniper")})

	raw, err := json.Marshal(s.NetworkPacket())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"inventory":[]`)
	assert.NotContains(t, string(raw), "Sniper")

	full, err := json.Marshal(s.FullState())
	require.NoError(t, err)
	assert.Contains(t, string(full), "Sniper")
	assert.Contains(t, string(full), `"maxHealth":200`)
}

func TestDeathPolicies(t *testing.T) {
	cases := map[DeathPolicy]struct {
		dropped int
		left    int
	}{
		DeathClear: {0, 0},
		DeathKeep:  {0, 2},
		DeathDrop:  {2, 0},
	}
	for policy, want := range cases {
		t.Run(string(policy), func(t *testing.T) {
			s := NewState("c", "eve", auth.Profile{Inventory: inventory.Of("MPSD", "Sniper")})
			dropped := ApplyDeathPolicy(s, policy)
			assert.Len(t, dropped, want.dropped)
			assert.Len(t, s.Inventory(), want.left)
		})
	}

	p, err := ParseDeathPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DeathClear, p)
	_, err = ParseDeathPolicy("explode")
	assert.Error(t, err)
}

func TestLoginSpawnsAboveTerrain(t *testing.T) {
	roster, repo, _ := newTestRoster(t, func(x, z float64) float64 { return 12.3 })
	_, err := repo.CreateUser("frank", "hash", false)
	require.NoError(t, err)
	require.NoError(t, repo.SaveProfile("frank", auth.Profile{Y: 99, Health: 150}))

	s, reconnect, err := roster.Login(context.Background(), "c1", "frank", "Knight")
	require.NoError(t, err)
	assert.False(t, reconnect)

	_, y, _ := s.Position()
	assert.InDelta(t, 12.8, y, 1e-9, "сохранённый y игнорируется")
	assert.Equal(t, 150.0, s.Health())
	assert.Equal(t, "Knight", s.NetworkPacket().Model)
	assert.Equal(t, 2, len(s.Inventory()), "пустой инвентарь заполняется стартовым набором")
}

func TestLoginFallsBackWhenHeightFails(t *testing.T) {
	roster, _, _ := newTestRoster(t, func(x, z float64) float64 { return math.NaN() })
	s, _, err := roster.Login(context.Background(), "c1", "grace", "")
	require.NoError(t, err)
	_, y, _ := s.Position()
	assert.Equal(t, 5.0, y)
}

func TestReconnectResumesSameRecord(t *testing.T) {
	roster, repo, saver := newTestRoster(t, nil)
	_, err := repo.CreateUser("heidi", "hash", false)
	require.NoError(t, err)
	ctx := context.Background()

	first, _, err := roster.Login(ctx, "c1", "heidi", "")
	require.NoError(t, err)
	first.AddKill()
	require.NoError(t, roster.Move(first, MovementUpdate{X: f(40), Z: f(-40)}))

	_, _, err = roster.Login(ctx, "c2", "Heidi", "")
	assert.True(t, gameerr.Is(err, gameerr.AuthFailure), "второй вход при онлайне отклоняется")

	require.NotNil(t, roster.Disconnect("c1"))
	saver.Flush()
	assert.Nil(t, roster.Disconnect("c1"), "повторный disconnect ничего не делает")

	still, ok := roster.ByUsername("heidi")
	require.True(t, ok, "персонаж остаётся в мире")
	assert.False(t, still.IsOnline())
	assert.Empty(t, roster.Nearby(40, -40, 10, ""), "офлайн-игроки не в индексе")

	// правка инвентаря, пока игрок офлайн
	stored, err := repo.LoadProfile("heidi")
	require.NoError(t, err)
	stored.Inventory = inventory.Inventory{{ToolID: "wood", Quantity: 7}}
	stored.BumpRevision()
	require.NoError(t, repo.SaveProfile("heidi", stored))

	second, reconnect, err := roster.Login(ctx, "c2", "heidi", "Ninja2")
	require.NoError(t, err)
	assert.True(t, reconnect)
	assert.Same(t, first, second)
	assert.Equal(t, "c2", second.ID())
	kills, _ := second.Stats()
	assert.Equal(t, 1, kills)
	assert.Equal(t, 7, second.Inventory().Count("wood"))
	assert.Equal(t, "Ninja2", second.NetworkPacket().Model)

	_, ok = roster.ByConn("c1")
	assert.False(t, ok)
	assert.Len(t, roster.Nearby(40, -40, 10, ""), 1)

	resident, online := roster.Counts()
	assert.Equal(t, 1, resident)
	assert.Equal(t, 1, online)
}

func TestReconnectKeepsStateWhileSaveQueued(t *testing.T) {
	roster, repo, saver := newTestRoster(t, nil)
	_, err := repo.CreateUser("oscar", "hash", false)
	require.NoError(t, err)
	ctx := context.Background()

	s, _, err := roster.Login(ctx, "c1", "oscar", "")
	require.NoError(t, err)

	started := make(chan struct{})
	gate := make(chan struct{})
	saver.Enqueue("hold", "", func(ctx context.Context) error {
		close(started)
		<-gate
		return nil
	})
	<-started

	require.NoError(t, s.AddItem("wood", 5, 0))
	roster.Disconnect("c1")
	again, reconnect, err := roster.Login(ctx, "c2", "oscar", "")
	require.NoError(t, err)
	require.True(t, reconnect)
	assert.Equal(t, 5, again.Inventory().Count("wood"), "ещё не записанный профиль не затирает память")

	close(gate)
	saver.Flush()
	p, err := repo.LoadProfile("oscar")
	require.NoError(t, err)
	assert.Equal(t, 5, p.Inventory.Count("wood"))
}

func TestDisconnectPersistsProfile(t *testing.T) {
	roster, repo, saver := newTestRoster(t, nil)
	_, err := repo.CreateUser("ivan", "hash", false)
	require.NoError(t, err)

	s, _, err := roster.Login(context.Background(), "c1", "ivan", "")
	require.NoError(t, err)
	require.NoError(t, roster.Move(s, MovementUpdate{X: f(3), Z: f(4)}))
	s.TakeDamage(50)

	roster.Disconnect("c1")
	saver.Flush()

	p, err := repo.LoadProfile("ivan")
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.X)
	assert.Equal(t, 4.0, p.Z)
	assert.Equal(t, 150.0, p.Health)
}

func TestRemoveOnlyOffline(t *testing.T) {
	roster, _, _ := newTestRoster(t, nil)
	ctx := context.Background()
	_, _, err := roster.Login(ctx, "c1", "judy", "")
	require.NoError(t, err)

	_, err = roster.Remove("judy")
	assert.True(t, gameerr.Is(err, gameerr.ValidationFailure))

	roster.Disconnect("c1")
	_, err = roster.Remove("judy")
	require.NoError(t, err)

	_, ok := roster.ByUsername("judy")
	assert.False(t, ok)

	s, reconnect, err := roster.Login(ctx, "c2", "judy", "")
	require.NoError(t, err)
	assert.False(t, reconnect, "после удаления создаётся новая запись")
	assert.Equal(t, "c2", s.ID())
}

func TestRespawnNearOrigin(t *testing.T) {
	roster, _, _ := newTestRoster(t, func(x, z float64) float64 { return 2 })
	s, _, err := roster.Login(context.Background(), "c1", "mallory", "")
	require.NoError(t, err)
	s.TakeDamage(1000)

	roster.Respawn(s)
	x, y, z := s.Position()
	assert.LessOrEqual(t, math.Abs(x), 25.0)
	assert.LessOrEqual(t, math.Abs(z), 25.0)
	assert.Equal(t, 2.5, y)
	assert.True(t, s.IsAlive())
	assert.Len(t, roster.Nearby(x, z, 0, ""), 1)
}

func TestConcurrentLoginsSingleRecord(t *testing.T) {
	roster, _, _ := newTestRoster(t, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := roster.Login(context.Background(), "conn-"+string(rune('a'+i)), "oscar", "")
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	resident, online := roster.Counts()
	assert.Equal(t, 1, resident)
	assert.Equal(t, 1, online)
}
