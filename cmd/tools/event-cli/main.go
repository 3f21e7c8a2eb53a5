package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/kenshi-mp/internal/eventbus"
)

// event-cli — утилита для наблюдения за шиной событий работающего
// кластера: подписывается на JetStream и печатает события в терминал.

func main() {
	var (
		natsURL = flag.String("nats", "nats://127.0.0.1:4222", "адрес NATS")
		stream  = flag.String("stream", "KMP_EVENTS", "имя JetStream стрима")
		types   = flag.String("types", "", "фильтр типов событий (через запятую)")
		sources = flag.String("sources", "", "фильтр источников (через запятую)")
		stats   = flag.Bool("stats", false, "печатать только счётчики по типам")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 24*time.Hour)
	if err != nil {
		log.Fatalf("❌ Подключение к NATS: %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	filter := eventbus.Filter{
		Types:   parseStringList(*types),
		Sources: parseStringList(*sources),
	}

	counts := make(map[string]int)
	total := 0

	_, err = bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		total++
		counts[ev.EventType]++
		if *stats {
			return
		}
		printEvent(ev)
	})
	if err != nil {
		log.Fatalf("❌ Подписка: %v", err)
	}

	fmt.Printf("🎬 Слушаем %s (stream=%s), Ctrl+C для выхода\n", *natsURL, *stream)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Printf("\n📊 Всего событий: %d\n", total)
	for eventType, count := range counts {
		fmt.Printf("  %s: %d\n", eventType, count)
	}
}

// printEvent печатает событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	timestamp := ev.Timestamp.Local().Format("15:04:05.000")
	fmt.Printf("[%s] %-22s src=%s prio=%d %dB\n",
		timestamp, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))

	// Полезную нагрузку печатаем целиком только для компактных событий
	if len(ev.Payload) > 0 && len(ev.Payload) <= 256 {
		fmt.Printf("  %s\n", string(ev.Payload))
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
