package network

import (
	"context"
	"math"

	"github.com/annel0/mmo-world/internal/eventbus"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/player"
	"github.com/annel0/mmo-world/internal/protocol"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/terrain"
	"github.com/annel0/mmo-world/internal/world"
)

// handleRequestChunks ставит пачку чанков в очередь потока чанков клиента.
// Повторы внутри пачки убираются, лишние координаты отбрасываются.
func (gh *GameHandler) handleRequestChunks(c *Client, env protocol.Envelope) error {
	var req protocol.ChunkRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	limit := gh.opts.MaxChunksPerRequest
	if req.IsInitialLoad {
		limit = gh.opts.MaxInitialChunks
	}

	seen := make(map[protocol.ChunkCoord]bool, len(req.Chunks))
	coords := make([]protocol.ChunkCoord, 0, len(req.Chunks))
	for _, cc := range req.Chunks {
		if seen[cc] {
			continue
		}
		seen[cc] = true
		coords = append(coords, cc)
	}
	if len(coords) > limit {
		gh.log.Debug("📦 %s запросил %d чанков, отправим %d", c.ID(), len(coords), limit)
		coords = coords[:limit]
	}
	if len(coords) == 0 {
		return nil
	}
	req.Chunks = coords

	c.chunkOnce.Do(func() { go gh.streamChunks(c) })
	select {
	case c.chunkJobs <- req:
		return nil
	default:
		return gameerr.Validation(protocol.EvRequestChunks, "too many pending chunk requests")
	}
}

// streamChunks - поток чанков одного клиента. Генерация идёт здесь,
// а не в цикле чтения, чтобы не задерживать движение и бой.
func (gh *GameHandler) streamChunks(c *Client) {
	ctx, cancel := context.WithCancel(gh.ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.chunkJobs:
			batch := make([]terrain.ChunkPos, len(req.Chunks))
			for i, cc := range req.Chunks {
				batch[i] = terrain.ChunkPos{CX: cc.CX, CZ: cc.CZ}
			}
			gh.chunks.Prefetch(ctx, batch)

			for _, cc := range req.Chunks {
				if err := c.limiter.Wait(ctx); err != nil {
					return
				}
				chunk, err := gh.chunks.GetOrGenerate(ctx, cc.CX, cc.CZ)
				if err != nil {
					gh.log.Warn("⚠️ Чанк (%d, %d) для %s: %v", cc.CX, cc.CZ, c.ID(), err)
					continue
				}
				frame, err := protocol.Encode(protocol.EvChunkData, chunk, nil)
				if err != nil {
					gh.log.Error("❌ Ошибка сериализации чанка (%d, %d): %v", cc.CX, cc.CZ, err)
					continue
				}
				if !c.sendBlocking(ctx, frame) {
					return
				}
				chunksSent.Inc()
			}
		}
	}
}

func (gh *GameHandler) handleGetWorldItems(c *Client, env protocol.Envelope) error {
	var req protocol.WorldItemsRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	radius := req.Radius
	if radius == 0 {
		radius = gh.opts.WorldItemsRadius
	}
	resp := protocol.WorldItems{
		Items:  gh.items.InRange(req.X, req.Z, radius),
		Blocks: gh.objects.BlocksInRange(req.X, req.Z, radius),
	}
	if resp.Items == nil {
		resp.Items = []world.Item{}
	}
	if resp.Blocks == nil {
		resp.Blocks = []storage.BlockRecord{}
	}
	c.SendSeq(protocol.EvWorldItems, resp, env.Seq)
	return nil
}

// handlePickup переносит предмет мира в инвентарь. Предмет остаётся в мире,
// если в инвентаре нет места.
func (gh *GameHandler) handlePickup(c *Client, s *player.State, env protocol.Envelope) error {
	var req protocol.PickupRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	it, ok, err := gh.items.PickupWith(req.ItemID, func(it world.Item) error {
		qty := it.Quantity
		if qty <= 0 {
			qty = 1
		}
		if err := s.AddItem(it.Type, qty, gh.opts.MaxInventorySlots); err != nil {
			return gameerr.Validation(protocol.EvPickupItem, "inventory full")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !ok {
		// уже подобран или исчез
		return nil
	}

	gh.hub.SendToMany(gh.nearbyIDs(it.X, it.Z, gh.opts.PickupNotifyRadius, ""), protocol.EvItemPickedUp,
		protocol.ItemPickedUp{ID: it.ID, PlayerID: c.ID(), Type: it.Type})
	c.Send(protocol.EvUpdateInv, s.Inventory())
	gh.roster.Persist(s)
	gh.publish(eventbus.TypeItemPickedUp, eventbus.PriorityLow, protocol.ItemPickedUp{ID: it.ID, PlayerID: s.Username(), Type: it.Type})
	return nil
}

// handleDamageObject - удар по дереву или камню
func (gh *GameHandler) handleDamageObject(env protocol.Envelope, kind world.ObjectKind) error {
	var req protocol.DamageObjectRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	if req.Damage == 0 {
		req.Damage = 1
	}
	res, err := gh.objects.Damage(kind, req.Position.X, req.Position.Y, req.Position.Z, req.Damage, req.ToolID)
	if err != nil {
		return err
	}

	damagedEv, brokenEv, busType := protocol.EvTreeDamaged, protocol.EvTreeCut, eventbus.TypeTreeCut
	if kind == world.KindRock {
		damagedEv, brokenEv, busType = protocol.EvRockDamaged, protocol.EvRockBroken, eventbus.TypeRockBroken
	}
	switch res.Outcome {
	case world.OutcomeDamaged:
		gh.hub.Broadcast(damagedEv, protocol.ObjectDamaged{
			Key:       res.Key,
			Position:  req.Position,
			Health:    res.Health,
			MaxHealth: res.MaxHealth,
		}, "")
	case world.OutcomeBroken:
		broken := protocol.ObjectBroken{Key: res.Key, Position: req.Position, Drops: dropsOrEmpty(res.Drops)}
		gh.hub.Broadcast(brokenEv, broken, "")
		gh.publish(busType, eventbus.PriorityNormal, broken)
	}
	return nil
}

func (gh *GameHandler) handlePlaceBlock(c *Client, s *player.State, env protocol.Envelope) error {
	var req protocol.PlaceBlockRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	block, err := gh.objects.Place(req.Type, req.X, req.Y, req.Z, req.Rotation, s.Username(), s)
	if err != nil {
		return err
	}
	gh.hub.Broadcast(protocol.EvBlockPlaced, block, "")
	c.Send(protocol.EvUpdateInv, s.Inventory())
	gh.roster.Persist(s)
	gh.publish(eventbus.TypeBlockPlaced, eventbus.PriorityNormal, block)
	return nil
}

func (gh *GameHandler) handleDamageBlock(env protocol.Envelope) error {
	var req protocol.DamageBlockRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	res, err := gh.objects.DamageBlock(req.ID, req.Damage)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case world.OutcomeDamaged:
		gh.hub.Broadcast(protocol.EvBlockDamaged, protocol.BlockDamaged{
			ID:        res.Block.ID,
			Health:    res.Block.Health,
			MaxHealth: res.Block.MaxHealth,
		}, "")
	case world.OutcomeBroken:
		broken := protocol.BlockBroken{ID: res.Block.ID, Drops: dropsOrEmpty(res.Drops)}
		gh.hub.Broadcast(protocol.EvBlockBroken, broken, "")
		gh.publish(eventbus.TypeBlockBroken, eventbus.PriorityNormal, broken)
	}
	return nil
}

// handleDig копает воронку и рассылает изменённые чанки игрокам рядом
func (gh *GameHandler) handleDig(s *player.State, env protocol.Envelope) error {
	var req protocol.DigRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	if !finite(req.X, req.Z, req.Radius, req.Depth) || req.Radius <= 0 || req.Depth <= 0 {
		return gameerr.Validation(protocol.EvTerrainDig, "invalid dig")
	}
	if (gh.opts.MaxDigRadius > 0 && req.Radius > gh.opts.MaxDigRadius) ||
		(gh.opts.MaxDigDepth > 0 && req.Depth > gh.opts.MaxDigDepth) {
		return gameerr.Validation(protocol.EvTerrainDig, "dig too large")
	}

	changed, err := gh.chunks.Dig(gh.ctx, req.X, req.Z, req.Radius, req.Depth)
	if err != nil {
		return err
	}
	ids := gh.nearbyIDs(req.X, req.Z, gh.opts.UpdateRadius, "")
	for _, chunk := range changed {
		gh.hub.SendToMany(ids, protocol.EvChunkUpdated, chunk)
	}
	gh.publish(eventbus.TypeTerrainDug, eventbus.PriorityLow, map[string]interface{}{
		"player": s.Username(), "x": req.X, "z": req.Z, "radius": req.Radius, "depth": req.Depth, "chunks": len(changed),
	})
	return nil
}

func dropsOrEmpty(drops []world.Item) []world.Item {
	if drops == nil {
		return []world.Item{}
	}
	return drops
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
