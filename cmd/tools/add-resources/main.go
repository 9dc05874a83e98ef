package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/config"
	"github.com/annel0/mmo-world/internal/inventory"
)

// Пишет прямо в хранилище пользователей. Для игрока, который сейчас
// в мире, используйте POST /api/admin/players/:username/resources:
// иначе сервер перезапишет профиль при следующем сохранении.
func main() {
	configPath := flag.String("config", "", "путь к конфигурации сервера (иначе $GAME_CONFIG)")
	maxSlots := flag.Int("max-slots", 0, "лимит ячеек инвентаря (0 — из конфигурации)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: add-resources [-config path] <username> <resource> <amount>")
		fmt.Fprintln(os.Stderr, "Example: add-resources Survivor wood 100")
		fmt.Fprintln(os.Stderr, "Note: the player must be offline.")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 3 {
		flag.Usage()
		os.Exit(1)
	}
	username, resource := flag.Arg(0), flag.Arg(1)
	amount, err := strconv.Atoi(flag.Arg(2))
	if err != nil || amount <= 0 {
		fail("amount must be a positive number")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("config: %v", err)
	}
	if cfg.Auth.Backend == "memory" {
		fail("auth.backend=memory: пользователи живут только в памяти сервера, используйте REST API")
	}
	slots := *maxSlots
	if slots == 0 {
		slots = cfg.Gameplay.MaxInventorySlots
	}

	repo, err := auth.OpenUserRepository(cfg.Auth)
	if err != nil {
		fail("user repository: %v", err)
	}
	defer repo.Close()

	inv, err := grant(repo, username, resource, amount, slots)
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("✅ %s: +%d %s\n", username, amount, resource)
	fmt.Printf("   inventory: %s\n", inv)
}

// grant добавляет предметы в сохранённый профиль
func grant(repo auth.UserRepository, username, resource string, amount, maxSlots int) (inventory.Inventory, error) {
	if _, err := repo.GetUserByUsername(username); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, fmt.Errorf("user %q not found", username)
		}
		return nil, err
	}
	profile, err := repo.LoadProfile(username)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if err := profile.Inventory.Add(resource, amount, maxSlots); err != nil {
		return nil, err
	}
	profile.BumpRevision()
	if err := repo.SaveProfile(username, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return profile.Inventory, nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
