package network

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/annel0/mmo-world/internal/player"
	"github.com/annel0/mmo-world/internal/protocol"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/annel0/mmo-world/internal/world"
)

// fakeConn - Transport в памяти: записанные кадры складываются в канал
type fakeConn struct {
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{out: make(chan []byte, 1024), closed: make(chan struct{})}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return errors.New("closed")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "memory" }

type peer struct {
	gh   *GameHandler
	c    *Client
	conn *fakeConn
}

func connect(gh *GameHandler) *peer {
	conn := newFakeConn()
	return &peer{gh: gh, c: gh.Accept(conn, "test"), conn: conn}
}

func (p *peer) send(t *testing.T, event string, data interface{}) {
	t.Helper()
	raw, err := protocol.Encode(event, data, nil)
	require.NoError(t, err)
	p.gh.HandleRaw(p.c, raw)
}

// expect читает кадры, пока не встретит event
func (p *peer) expect(t *testing.T, event string) protocol.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case frame := <-p.conn.out:
			env, err := protocol.Decode(frame)
			require.NoError(t, err)
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("%s: событие %s не пришло", p.c.ID(), event)
			return protocol.Envelope{}
		}
	}
}

// never проверяет, что event не приходит в течение wait
func (p *peer) never(t *testing.T, event string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case frame := <-p.conn.out:
			env, err := protocol.Decode(frame)
			require.NoError(t, err)
			if env.Event == event {
				t.Fatalf("%s: неожиданное событие %s: %s", p.c.ID(), event, env.Data)
			}
		case <-deadline:
			return
		}
	}
}

func bind(t *testing.T, env protocol.Envelope, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

func testOptions() Options {
	return Options{
		UpdateRadius:        200,
		PickupNotifyRadius:  50,
		RespawnDelay:        50 * time.Millisecond,
		DeathPolicy:         player.DeathClear,
		DefaultHitDamage:    10,
		MaxHitDamage:        200,
		MaxInventorySlots:   36,
		LootTable:           []string{"Medkit"},
		DropScatter:         1.5,
		MaxChunksPerRequest: 2,
		MaxInitialChunks:    4,
		MaxDigRadius:        8,
		MaxDigDepth:         3,
	}
}

func newTestHandler(t *testing.T, opts Options) *GameHandler {
	t.Helper()
	store, err := storage.NewBadgerStore("", true, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	chunks := world.NewChunkStore(terrain.NewGenerator(42, terrain.DefaultOptions()), store, 64)
	repo := auth.NewMemoryUserRepo()
	authn := auth.NewAuthenticator(repo, auth.NewTokenIssuer("test-secret", time.Hour))
	roster := player.NewRoster(player.Config{RespawnSpread: 50, StartingInventory: []string{"MPSD"}}, chunks.HeightAt, repo, nil)
	items := world.NewItemRegistry(time.Minute, nil, nil, nil)
	objects := world.NewObjectRegistry(world.ObjectsConfig{
		TreeHealth:    10,
		RockHealth:    20,
		DropsPerBreak: 3,
		DropScatter:   1.5,
		Recipes:       map[string]world.Recipe{"wood_block": {Material: "wood", Quantity: 1, Health: 10}},
	}, nil, nil, items)

	gh := NewGameHandler(NewHub(), authn, roster, chunks, objects, items, opts)
	t.Cleanup(gh.Close)
	return gh
}

// join регистрирует и логинит игрока, пропуская служебные сообщения входа
func join(t *testing.T, gh *GameHandler, username string) (*peer, protocol.LoginSuccess) {
	t.Helper()
	p := connect(gh)
	p.send(t, protocol.EvSignup, protocol.SignupRequest{Username: username, Password: "secret"})
	p.expect(t, protocol.EvAuthSuccess)
	p.send(t, protocol.EvLogin, protocol.LoginRequest{Username: username, Password: "secret"})
	var ok protocol.LoginSuccess
	bind(t, p.expect(t, protocol.EvLoginSuccess), &ok)
	p.expect(t, protocol.EvCurrentPlayers)
	return p, ok
}

func TestSignupAndLogin(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	p := connect(gh)

	p.send(t, protocol.EvSignup, protocol.SignupRequest{Username: "alice", Password: "secret"})
	var msg protocol.Message
	bind(t, p.expect(t, protocol.EvAuthSuccess), &msg)
	assert.Equal(t, "Created! Now Login.", msg.Message)

	p.send(t, protocol.EvSignup, protocol.SignupRequest{Username: "alice", Password: "other"})
	bind(t, p.expect(t, protocol.EvAuthError), &msg)
	assert.Equal(t, auth.MsgSignupFailed, msg.Message)

	p.send(t, protocol.EvLogin, protocol.LoginRequest{Username: "alice", Password: "wrong"})
	bind(t, p.expect(t, protocol.EvAuthError), &msg)
	assert.Equal(t, auth.MsgInvalidCredentials, msg.Message)

	p.send(t, protocol.EvLogin, protocol.LoginRequest{Username: "alice", Password: "secret"})
	var ok protocol.LoginSuccess
	bind(t, p.expect(t, protocol.EvLoginSuccess), &ok)
	assert.Equal(t, p.c.ID(), ok.ID)
	assert.NotEmpty(t, ok.Token)
	assert.False(t, ok.Reconnect)
	assert.Equal(t, float64(player.DefaultMaxHealth), ok.Player.Health)
	assert.Equal(t, 1, ok.Inventory.Count("MPSD"))

	var roster map[string]json.RawMessage
	bind(t, p.expect(t, protocol.EvCurrentPlayers), &roster)
	assert.Contains(t, roster, p.c.ID())
	assert.Equal(t, "alice", p.c.Username())
}

func TestLoginWithToken(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	first, ok := join(t, gh, "alice")
	gh.OnClientDisconnect(first.c)

	p := connect(gh)
	p.send(t, protocol.EvLogin, protocol.LoginRequest{Token: "garbage"})
	var msg protocol.Message
	bind(t, p.expect(t, protocol.EvAuthError), &msg)
	assert.Equal(t, auth.MsgInvalidCredentials, msg.Message)

	p.send(t, protocol.EvLogin, protocol.LoginRequest{Token: ok.Token})
	var again protocol.LoginSuccess
	bind(t, p.expect(t, protocol.EvLoginSuccess), &again)
	assert.True(t, again.Reconnect)
	assert.Equal(t, p.c.ID(), again.ID)
}

func TestActionsRequireLogin(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	p := connect(gh)

	p.send(t, protocol.EvPlayerHit, protocol.HitRequest{TargetID: "x"})
	var rej protocol.ActionRejected
	bind(t, p.expect(t, protocol.EvActionRejected), &rej)
	assert.Equal(t, protocol.EvPlayerHit, rej.Event)
	assert.Equal(t, "not logged in", rej.Reason)

	p.gh.HandleRaw(p.c, []byte("not json"))
	bind(t, p.expect(t, protocol.EvActionRejected), &rej)
	assert.Equal(t, "malformed message", rej.Reason)
}

func TestPingEchoesSeq(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	p := connect(gh)

	seq := uint64(9)
	raw, err := protocol.Encode(protocol.EvPing, nil, &seq)
	require.NoError(t, err)
	gh.HandleRaw(p.c, raw)

	env := p.expect(t, protocol.EvPong)
	require.NotNil(t, env.Seq)
	assert.Equal(t, seq, *env.Seq)
}

func TestMovementReachesOnlyNearbyPlayers(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	alice, _ := join(t, gh, "alice")
	bob, _ := join(t, gh, "bob")

	var online protocol.PlayerRef
	bind(t, alice.expect(t, protocol.EvPlayerOnline), &online)
	assert.Equal(t, bob.c.ID(), online.ID)

	x := 10.0
	bob.send(t, protocol.EvPlayerMovement, player.MovementUpdate{X: &x})
	var moved player.Packet
	bind(t, alice.expect(t, protocol.EvPlayerMoved), &moved)
	assert.Equal(t, bob.c.ID(), moved.ID)
	assert.Equal(t, 10.0, moved.X)

	far := 500.0
	bob.send(t, protocol.EvPlayerMovement, player.MovementUpdate{X: &far})
	alice.never(t, protocol.EvPlayerMoved, 100*time.Millisecond)
}

func TestPlayerHitKillsOnceAndRespawns(t *testing.T) {
	opts := testOptions()
	opts.RespawnDelay = 300 * time.Millisecond
	gh := newTestHandler(t, opts)
	alice, _ := join(t, gh, "alice")
	bob, _ := join(t, gh, "bob")

	hit := func(dmg float64) {
		alice.send(t, protocol.EvPlayerHit, protocol.HitRequest{TargetID: bob.c.ID(), Damage: &dmg})
	}

	hit(150)
	var health float64
	bind(t, bob.expect(t, protocol.EvUpdateHealth), &health)
	assert.Equal(t, 50.0, health)
	var dmg protocol.PlayerDamaged
	bind(t, alice.expect(t, protocol.EvPlayerDamaged), &dmg)
	assert.Equal(t, 50.0, dmg.Health)

	hit(150)
	var died protocol.PlayerDied
	bind(t, alice.expect(t, protocol.EvPlayerDied), &died)
	assert.Equal(t, bob.c.ID(), died.ID)
	assert.Equal(t, alice.c.ID(), died.KillerID)

	var inv inventory.Inventory
	bind(t, alice.expect(t, protocol.EvUpdateInv), &inv)
	assert.Equal(t, 1, inv.Count("Medkit"))
	var note protocol.Message
	bind(t, alice.expect(t, protocol.EvNotification), &note)
	assert.Equal(t, "You killed bob and found Medkit!", note.Message)

	var youDied protocol.Message
	bind(t, bob.expect(t, protocol.EvYouDied), &youDied)
	assert.Equal(t, "You Died! Inventory lost.", youDied.Message)

	// удар по мёртвому ничего не меняет
	hit(150)
	alice.never(t, protocol.EvPlayerDied, 20*time.Millisecond)

	var respawn protocol.PlayerRespawn
	bind(t, bob.expect(t, protocol.EvPlayerRespawn), &respawn)
	assert.InDelta(t, 0, respawn.X, 25)
	assert.InDelta(t, 0, respawn.Z, 25)
	bind(t, bob.expect(t, protocol.EvUpdateHealth), &health)
	assert.Equal(t, float64(player.DefaultMaxHealth), health)

	bobState, ok := gh.Roster().ByConn(bob.c.ID())
	require.True(t, ok)
	assert.Empty(t, bobState.Inventory())
	_, deaths := bobState.Stats()
	assert.Equal(t, 1, deaths)
	aliceState, _ := gh.Roster().ByConn(alice.c.ID())
	kills, _ := aliceState.Stats()
	assert.Equal(t, 1, kills)
}

func TestDeathDropScattersInventory(t *testing.T) {
	opts := testOptions()
	opts.DeathPolicy = player.DeathDrop
	gh := newTestHandler(t, opts)
	alice, _ := join(t, gh, "alice")
	bob, _ := join(t, gh, "bob")

	dmg := 500.0
	alice.send(t, protocol.EvPlayerHit, protocol.HitRequest{TargetID: bob.c.ID(), Damage: &dmg})

	var spawned world.Item
	bind(t, alice.expect(t, protocol.EvItemSpawned), &spawned)
	assert.Equal(t, "MPSD", spawned.Type)
	assert.False(t, spawned.Permanent)
	_, ok := gh.items.Get(spawned.ID)
	assert.True(t, ok)
}

func TestSelfHitRejected(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	alice, _ := join(t, gh, "alice")

	alice.send(t, protocol.EvPlayerHit, protocol.HitRequest{TargetID: alice.c.ID()})
	var rej protocol.ActionRejected
	bind(t, alice.expect(t, protocol.EvActionRejected), &rej)
	assert.Equal(t, protocol.EvPlayerHit, rej.Event)
}

func TestRequestChunksIsCapped(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	p := connect(gh)

	p.send(t, protocol.EvRequestChunks, []protocol.ChunkCoord{{CX: 0, CZ: 0}, {CX: 0, CZ: 0}, {CX: 1, CZ: 0}, {CX: 2, CZ: 0}})
	var first, second terrain.Chunk
	bind(t, p.expect(t, protocol.EvChunkData), &first)
	bind(t, p.expect(t, protocol.EvChunkData), &second)
	assert.Equal(t, [2]int{0, 0}, [2]int{first.CX, first.CZ})
	assert.Equal(t, [2]int{1, 0}, [2]int{second.CX, second.CZ})
	p.never(t, protocol.EvChunkData, 200*time.Millisecond)
}

func TestTreeCutAfterThreeHits(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	alice, _ := join(t, gh, "alice")

	pos := protocol.Vec3{X: 10.4, Y: 0, Z: -3.6}
	for i := 0; i < 2; i++ {
		alice.send(t, protocol.EvDamageTree, protocol.DamageObjectRequest{Position: pos, Damage: 4})
		var d protocol.ObjectDamaged
		bind(t, alice.expect(t, protocol.EvTreeDamaged), &d)
		assert.Equal(t, "10_-4", d.Key)
	}
	alice.send(t, protocol.EvDamageTree, protocol.DamageObjectRequest{Position: pos, Damage: 4})
	var cut protocol.ObjectBroken
	bind(t, alice.expect(t, protocol.EvTreeCut), &cut)
	assert.Len(t, cut.Drops, 3)

	alice.send(t, protocol.EvDamageTree, protocol.DamageObjectRequest{Position: pos, Damage: 4})
	alice.never(t, protocol.EvTreeCut, 50*time.Millisecond)
}

func TestPickupAddsToInventory(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	alice, _ := join(t, gh, "alice")
	it := gh.items.Spawn("wood", 2, 1, 0, 1, false)

	alice.send(t, protocol.EvPickupItem, protocol.PickupRequest{ItemID: it.ID})
	var picked protocol.ItemPickedUp
	bind(t, alice.expect(t, protocol.EvItemPickedUp), &picked)
	assert.Equal(t, it.ID, picked.ID)
	assert.Equal(t, alice.c.ID(), picked.PlayerID)
	var inv inventory.Inventory
	bind(t, alice.expect(t, protocol.EvUpdateInv), &inv)
	assert.Equal(t, 2, inv.Count("wood"))

	// повторный подбор — тихий no-op
	alice.send(t, protocol.EvPickupItem, protocol.PickupRequest{ItemID: it.ID})
	alice.never(t, protocol.EvActionRejected, 50*time.Millisecond)
}

func TestPlaceBlockSpendsMaterial(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	alice, _ := join(t, gh, "alice")

	alice.send(t, protocol.EvPlaceBlock, protocol.PlaceBlockRequest{Type: "wood_block", X: 1, Y: 2, Z: 3})
	var rej protocol.ActionRejected
	bind(t, alice.expect(t, protocol.EvActionRejected), &rej)
	assert.Equal(t, protocol.EvPlaceBlock, rej.Event)

	s, _ := gh.Roster().ByConn(alice.c.ID())
	require.NoError(t, s.AddItem("wood", 1, 0))
	alice.send(t, protocol.EvPlaceBlock, protocol.PlaceBlockRequest{Type: "wood_block", X: 1, Y: 2, Z: 3})
	var block storage.BlockRecord
	bind(t, alice.expect(t, protocol.EvBlockPlaced), &block)
	assert.Equal(t, "alice", block.Owner)
	assert.Zero(t, s.Inventory().Count("wood"))

	alice.send(t, protocol.EvDamageBlock, protocol.DamageBlockRequest{ID: block.ID, Damage: 20})
	var broken protocol.BlockBroken
	bind(t, alice.expect(t, protocol.EvBlockBroken), &broken)
	assert.Equal(t, block.ID, broken.ID)
	assert.Len(t, broken.Drops, 1)
}

func TestDisconnectKeepsPlayerResident(t *testing.T) {
	gh := newTestHandler(t, testOptions())
	alice, _ := join(t, gh, "alice")
	bob, _ := join(t, gh, "bob")

	gh.OnClientDisconnect(bob.c)
	var off protocol.PlayerOffline
	bind(t, alice.expect(t, protocol.EvPlayerOffline), &off)
	assert.Equal(t, "bob", off.Username)

	s, ok := gh.Roster().ByUsername("bob")
	require.True(t, ok)
	assert.False(t, s.IsOnline())
	assert.Equal(t, 1, gh.Hub().Count())

	again := connect(gh)
	again.send(t, protocol.EvLogin, protocol.LoginRequest{Username: "bob", Password: "secret"})
	var ok2 protocol.LoginSuccess
	bind(t, again.expect(t, protocol.EvLoginSuccess), &ok2)
	assert.True(t, ok2.Reconnect)

	assert.Error(t, gh.RemovePlayer("alice"), "онлайн-игрока удалить нельзя")
	gh.OnClientDisconnect(alice.c)
	require.NoError(t, gh.RemovePlayer("alice"))
	var removed protocol.PlayerOffline
	bind(t, again.expect(t, protocol.EvPlayerRemoved), &removed)
	assert.Equal(t, "alice", removed.Username)
	_, ok = gh.Roster().ByUsername("alice")
	assert.False(t, ok)
}
