package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/mmo-world/internal/eventbus"
)

const (
	defaultNATS = "nats://127.0.0.1:4222"
	timeFormat  = "2006-01-02T15:04:05Z"
)

func main() {
	var (
		natsURL    = flag.String("nats", defaultNATS, "NATS server URL")
		stream     = flag.String("stream", "WORLD", "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		since      = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m) or RFC3339 time")
		limit      = flag.Int("limit", 100, "Maximum number of events (tail without -follow)")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
		quiet      = flag.Duration("quiet", time.Second, "Stop stats after this long without events")
	)
	flag.Parse()

	if *command == "types" {
		showTypes()
		return
	}

	start, err := parseSinceTime(*since, time.Now())
	if err != nil {
		log.Fatalf("❌ Invalid -since: %v", err)
	}

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 0)
	if err != nil {
		log.Fatalf("❌ Failed to connect to JetStream: %v", err)
	}
	defer bus.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	filter := eventbus.Filter{Types: parseStringList(*eventTypes)}
	switch *command {
	case "tail":
		err = tailEvents(ctx, bus, filter, start, *limit, *follow)
	case "stats":
		err = showStats(ctx, bus, filter, start, *quiet)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

// tailEvents выводит события начиная с start; без follow не больше limit
func tailEvents(ctx context.Context, bus *eventbus.JetStreamBus, f eventbus.Filter, start time.Time, limit int, follow bool) error {
	fmt.Printf("🎬 Tailing events since %s (limit: %d, follow: %v)\n", start.UTC().Format(timeFormat), limit, follow)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	count := 0
	sub, err := bus.Replay(ctx, f, start, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		defer mu.Unlock()
		if !follow && count >= limit {
			return
		}
		printEvent(ev)
		count++
		if !follow && count >= limit {
			cancel()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	mu.Lock()
	fmt.Printf("\n📊 Total events: %d\n", count)
	mu.Unlock()
	return nil
}

// showStats считает события по типам, пока поток не затихнет на quiet
func showStats(ctx context.Context, bus *eventbus.JetStreamBus, f eventbus.Filter, start time.Time, quiet time.Duration) error {
	fmt.Println("📊 Event statistics")

	var mu sync.Mutex
	byType := make(map[string]int)
	total := 0
	activity := make(chan struct{}, 1)

	sub, err := bus.Replay(ctx, f, start, func(_ context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		byType[ev.EventType]++
		total++
		mu.Unlock()
		select {
		case activity <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start replay: %w", err)
	}
	defer sub.Unsubscribe()

	timer := time.NewTimer(quiet)
	defer timer.Stop()
wait:
	for {
		select {
		case <-activity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quiet)
		case <-timer.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	mu.Lock()
	defer mu.Unlock()
	fmt.Printf("Period: %s - %s\n", start.UTC().Format(timeFormat), time.Now().UTC().Format(timeFormat))
	fmt.Printf("Total events: %d\n", total)
	fmt.Println("\nBy event type:")
	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %s: %d events\n", t, byType[t])
	}
	return nil
}

func showTypes() {
	fmt.Println("📋 Available event types")
	for _, t := range eventbus.Types() {
		fmt.Printf("  %s\n", t)
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] p=%d %s\n",
		ev.Timestamp.Local().Format("15:04:05"),
		ev.Source,
		ev.EventType,
		ev.Priority,
		ev.ID)
	if len(ev.Payload) > 0 {
		fmt.Printf("  %s\n", ev.Payload)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m" или абсолютное
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return from, nil
	}
	duration, err := time.ParseDuration(since)
	if err != nil {
		return time.Parse(timeFormat, since)
	}
	return from.Add(-duration), nil
}
