package main

import (
	"crypto/hmac"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/annel0/mmo-world/internal/api"
	"github.com/annel0/mmo-world/internal/eventbus"
)

func main() {
	addr := flag.String("addr", ":4000", "адрес приёмника")
	secret := flag.String("secret", "", "секрет webhook'а; пусто — подпись не проверяется")
	flag.Parse()

	log.Println("🔗 Запуск тестового Webhook приемника...")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), gin.Logger())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":     "Webhook приемник запущен",
			"endpoints":   []string{"/webhook"},
			"events":      eventbus.Types(),
			"server_time": time.Now().Unix(),
		})
	})
	r.POST("/webhook", newWebhookHandler(*secret))

	log.Printf("✅ Webhook приемник слушает %s", *addr)
	if err := r.Run(*addr); err != nil {
		log.Fatalf("Ошибка запуска сервера: %v", err)
	}
}

func newWebhookHandler(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Printf("❌ Ошибка чтения тела запроса: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Ошибка чтения запроса"})
			return
		}

		if secret != "" {
			got := c.GetHeader("X-Webhook-Signature")
			if !hmac.Equal([]byte(got), []byte(api.Sign(body, secret))) {
				log.Printf("🚫 Неверная подпись от %s", c.ClientIP())
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Неверная подпись"})
				return
			}
		}

		var event api.WebhookEvent
		if err := json.Unmarshal(body, &event); err != nil {
			log.Printf("❌ Ошибка парсинга JSON: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный JSON"})
			return
		}

		describe(event)
		c.JSON(http.StatusOK, gin.H{
			"status":      "received",
			"event_type":  event.EventType,
			"received_at": time.Now().Unix(),
		})
	}
}

// describe печатает событие; поля data зависят от типа
func describe(event api.WebhookEvent) {
	data := map[string]interface{}{}
	if len(event.Data) > 0 {
		_ = json.Unmarshal(event.Data, &data)
	}

	log.Printf("📧 %s от %s (%s)", event.EventType, event.ServerID,
		time.Unix(event.Timestamp, 0).Format("15:04:05"))

	switch event.EventType {
	case eventbus.TypePlayerOnline:
		log.Printf("👤 Игрок %v вошёл в мир", data["id"])
	case eventbus.TypePlayerOffline:
		log.Printf("👋 Игрок %v покинул мир", data["username"])
	case eventbus.TypePlayerDied:
		log.Printf("💀 %v убит игроком %v", data["player"], data["killer"])
	case eventbus.TypeTreeCut, eventbus.TypeRockBroken:
		log.Printf("🪓 Объект %v разрушен, дроп: %v", data["key"], data["drops"])
	case eventbus.TypeObjectRegrown:
		log.Printf("🌱 %v %v восстановлен", data["kind"], data["key"])
	case eventbus.TypeItemPickedUp:
		log.Printf("🎒 %v подобрал %v", data["playerId"], data["type"])
	case eventbus.TypeTerrainDug:
		log.Printf("⛏️ %v копает в (%v, %v)", data["player"], data["x"], data["z"])
	default:
		for key, value := range data {
			log.Printf("     %s: %v", key, value)
		}
	}
}
