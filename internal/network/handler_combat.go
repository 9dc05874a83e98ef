package network

import (
	"fmt"
	"time"

	"github.com/annel0/mmo-world/internal/eventbus"
	"github.com/annel0/mmo-world/internal/gameerr"
	"github.com/annel0/mmo-world/internal/inventory"
	"github.com/annel0/mmo-world/internal/player"
	"github.com/annel0/mmo-world/internal/protocol"
)

func (gh *GameHandler) handleMovement(c *Client, s *player.State, env protocol.Envelope) error {
	var u player.MovementUpdate
	if err := env.Bind(&u); err != nil {
		return err
	}
	if !s.IsAlive() {
		// до возрождения движение игнорируется
		return nil
	}
	if err := gh.roster.Move(s, u); err != nil {
		return err
	}
	x, _, z := s.Position()
	gh.hub.SendToMany(gh.nearbyIDs(x, z, gh.opts.UpdateRadius, c.ID()), protocol.EvPlayerMoved, s.NetworkPacket())
	return nil
}

func (gh *GameHandler) handleShoot(c *Client, s *player.State) error {
	x, _, z := s.Position()
	gh.hub.SendToMany(gh.nearbyIDs(x, z, gh.opts.UpdateRadius, c.ID()), protocol.EvPlayerShoot, protocol.PlayerShoot{ID: c.ID()})
	return nil
}

// handlePlayerHit применяет попадание, о котором сообщил атакующий клиент.
// Попадания не перепроверяются сервером, урон только ограничивается сверху.
func (gh *GameHandler) handlePlayerHit(c *Client, attacker *player.State, env protocol.Envelope) error {
	var req protocol.HitRequest
	if err := env.Bind(&req); err != nil {
		return err
	}
	if req.TargetID == c.ID() {
		return gameerr.Validation(protocol.EvPlayerHit, "cannot hit yourself")
	}
	target, ok := gh.roster.ByConn(req.TargetID)
	if !ok || !target.IsOnline() || target.ID() != req.TargetID {
		return gameerr.Validation(protocol.EvPlayerHit, "target not found")
	}
	if !attacker.IsAlive() || !target.IsAlive() {
		return nil
	}

	damage := gh.opts.DefaultHitDamage
	if req.Damage != nil {
		damage = *req.Damage
	}
	if gh.opts.MaxHitDamage > 0 && damage > gh.opts.MaxHitDamage {
		damage = gh.opts.MaxHitDamage
	}
	if damage <= 0 {
		return nil
	}

	died, health := target.TakeDamage(damage)
	gh.hub.SendTo(target.ID(), protocol.EvUpdateHealth, health)
	gh.hub.Broadcast(protocol.EvPlayerDamaged, protocol.PlayerDamaged{
		ID:         target.ID(),
		Health:     health,
		Damage:     damage,
		AttackerID: c.ID(),
	}, "")

	if died {
		gh.onDeath(c, attacker, target)
	}
	return nil
}

// onDeath - смерть target от руки attacker. Вызывается ровно один раз на смерть.
func (gh *GameHandler) onDeath(c *Client, attacker, target *player.State) {
	died := protocol.PlayerDied{ID: target.ID(), KillerID: c.ID()}
	gh.hub.Broadcast(protocol.EvPlayerDied, died, "")
	gh.publish(eventbus.TypePlayerDied, eventbus.PriorityHigh, map[string]string{
		"player": target.Username(), "killer": attacker.Username(),
	})

	dropped := player.ApplyDeathPolicy(target, gh.opts.DeathPolicy)
	gh.hub.SendTo(target.ID(), protocol.EvYouDied, protocol.Message{Message: deathMessage(gh.opts.DeathPolicy)})
	if len(dropped) > 0 {
		gh.scatterInventory(target, dropped)
	}

	attacker.AddKill()
	if len(gh.opts.LootTable) > 0 {
		loot := gh.opts.LootTable[gh.randIntn(len(gh.opts.LootTable))]
		msg := fmt.Sprintf("You killed %s and found %s!", target.Username(), loot)
		if err := attacker.AddItem(loot, 1, gh.opts.MaxInventorySlots); err != nil {
			msg = fmt.Sprintf("You killed %s, but your inventory is full!", target.Username())
		}
		c.Send(protocol.EvUpdateInv, attacker.Inventory())
		c.Send(protocol.EvNotification, protocol.Message{Message: msg})
	}

	gh.roster.Persist(attacker)
	gh.roster.Persist(target)
	gh.log.Info("💀 %s убит игроком %s", target.Username(), attacker.Username())

	gh.scheduleRespawn(target)
}

func deathMessage(policy player.DeathPolicy) string {
	switch policy {
	case player.DeathKeep:
		return "You Died!"
	case player.DeathDrop:
		return "You Died! Inventory dropped."
	default:
		return "You Died! Inventory lost."
	}
}

// scatterInventory выбрасывает слоты инвентаря вокруг погибшего как временные предметы
func (gh *GameHandler) scatterInventory(s *player.State, dropped inventory.Inventory) {
	x, y, z := s.Position()
	for _, slot := range dropped {
		dx := (gh.randFloat()*2 - 1) * gh.opts.DropScatter
		dz := (gh.randFloat()*2 - 1) * gh.opts.DropScatter
		it := gh.items.Spawn(slot.ToolID, slot.Quantity, x+dx, y, z+dz, false)
		gh.hub.Broadcast(protocol.EvItemSpawned, it, "")
	}
}

// scheduleRespawn возрождает персонажа через RespawnDelay
func (gh *GameHandler) scheduleRespawn(s *player.State) {
	time.AfterFunc(gh.opts.RespawnDelay, func() {
		if gh.ctx.Err() != nil {
			return
		}
		gh.respawn(s)
	})
}

func (gh *GameHandler) respawn(s *player.State) {
	gh.roster.Respawn(s)
	x, y, z := s.Position()
	gh.hub.Broadcast(protocol.EvPlayerRespawn, protocol.PlayerRespawn{ID: s.ID(), X: x, Y: y, Z: z}, "")
	gh.hub.SendTo(s.ID(), protocol.EvUpdateHealth, s.Health())
	gh.roster.Persist(s)
	gh.log.Debug("✨ %s возрождён в (%.1f, %.1f, %.1f)", s.Username(), x, y, z)
}

// handleUpdateInventory принимает инвентарь от клиента (клиент ведёт раскладку слотов)
func (gh *GameHandler) handleUpdateInventory(c *Client, s *player.State, env protocol.Envelope) error {
	var req protocol.InventoryUpdate
	if err := env.Bind(&req); err != nil {
		return err
	}
	inv := req.Inventory.Normalize()
	if gh.opts.MaxInventorySlots > 0 && len(inv) > gh.opts.MaxInventorySlots {
		return gameerr.Validation(protocol.EvUpdateInv, "too many inventory slots")
	}
	s.SetInventory(inv)
	gh.hub.Broadcast(protocol.EvInventoryUpdated, protocol.InventoryUpdated{ID: c.ID(), Inventory: inv}, c.ID())
	gh.roster.Persist(s)
	return nil
}
