// Package protocol - формат сообщений между клиентом и сервером мира:
// JSON-конверт {event, data, seq} и типизированные полезные нагрузки.
package protocol

// Входящие события (клиент → сервер)
const (
	EvLogin          = "login"
	EvSignup         = "signup"
	EvRequestChunks  = "requestChunks"
	EvPlayerMovement = "playerMovement"
	EvPlayerHit      = "playerHit"
	EvUpdateInv      = "updateInventory"
	EvPlaceBlock     = "placeBlock"
	EvDamageBlock    = "damageBlock"
	EvDamageTree     = "damageTree"
	EvDamageRock     = "damageRock"
	EvGetWorldItems  = "getWorldItems"
	EvPickupItem     = "pickupItem"
	EvPing           = "ping"
	EvShoot          = "shoot"
	EvTerrainDig     = "terrainDig"
)

// Исходящие события (сервер → клиент)
const (
	EvLoginSuccess     = "loginSuccess"
	EvAuthError        = "authError"
	EvAuthSuccess      = "authSuccess"
	EvCurrentPlayers   = "currentPlayers"
	EvPlayerOnline     = "playerCameOnline"
	EvPlayerOffline    = "playerWentOffline"
	EvPlayerRemoved    = "playerRemoved"
	EvPlayerMoved      = "playerMoved"
	EvChunkData        = "chunkData"
	EvChunkUpdated     = "chunkUpdated"
	EvUpdateHealth     = "updateHealth"
	EvPlayerDamaged    = "playerDamaged"
	EvPlayerDied       = "playerDied"
	EvYouDied          = "youDied"
	EvPlayerRespawn    = "playerRespawn"
	EvTreeDamaged      = "treeDamaged"
	EvTreeCut          = "treeCut"
	EvTreeRegrown      = "treeRegrown"
	EvRockDamaged      = "rockDamaged"
	EvRockBroken       = "rockBroken"
	EvRockRegrown      = "rockRegrown"
	EvBlockPlaced      = "blockPlaced"
	EvBlockDamaged     = "blockDamaged"
	EvBlockBroken      = "blockBroken"
	EvItemSpawned      = "itemSpawned"
	EvItemDespawned    = "itemDespawned"
	EvItemPickedUp     = "itemPickedUp"
	EvWorldItems       = "worldItems"
	EvPong             = "pong"
	EvPlayerShoot      = "playerShoot"
	EvInventoryUpdated = "playerInventoryUpdated"
	EvNotification     = "notification"
	EvActionRejected   = "actionRejected"
)
