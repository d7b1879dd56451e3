package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/config"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/dedupe"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/metrics"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/redis"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/internal/room"
	"github.com/CodeArena-Labs/CodeArena-Realtime-Core/pkg/events"
)

// Room mirror: opens one realtime session and logs state transitions and
// notifications until interrupted. Usage: realtime-mirror <contest|thread> <id>
func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if len(os.Args) < 3 {
		log.Fatal().Msg("usage: realtime-mirror <contest|thread> <id>")
	}
	kind, entityID := os.Args[1], os.Args[2]

	cfg := config.Load(true)

	var store dedupe.Store
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Redis configured but unreachable")
		}
		defer client.Close()
		store = dedupe.NewRedisStore(client)
	}

	engine := room.NewEngine(cfg, store, nil, metrics.New(prometheus.NewRegistry()), log.Logger)
	defer engine.CloseAll()

	var session *room.Session
	var err error
	switch kind {
	case "contest":
		session, err = engine.OpenContest(entityID)
	case "thread":
		session, err = engine.OpenThread(entityID, os.Getenv("REALTIME_SELF_USER"), os.Getenv("REALTIME_PEER_USER"))
	default:
		log.Fatal().Str("kind", kind).Msg("Unknown room kind")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open room")
	}

	log.Info().Str("roomId", session.RoomID()).Str("pushUrl", cfg.Push.URL).Msg("Mirroring room")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case change := <-session.ConnStates():
			log.Info().Str("state", string(change.State)).Int("attempt", change.Attempt).Msg("Connection state")
		case notification := <-session.Notifications():
			log.Info().Str("kind", notification.Kind).Str("text", notification.Text).Msg("Notification")
			if session.Class() == events.RoomClassContest {
				state := session.ContestState()
				log.Info().
					Str("status", string(state.Status)).
					Int("participants", len(state.Participants)).
					Int("remaining", state.Timer.TimeRemainingSeconds).
					Msg("Contest state")
			}
		case <-sigCh:
			log.Info().Msg("Shutting down")
			return
		}
	}
}
