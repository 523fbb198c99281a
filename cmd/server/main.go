// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/openlobby/lobbyd/internal/auth"
	"github.com/openlobby/lobbyd/internal/cache"
	"github.com/openlobby/lobbyd/internal/database"
	"github.com/openlobby/lobbyd/internal/events"
	"github.com/openlobby/lobbyd/internal/grace"
	"github.com/openlobby/lobbyd/internal/handlers"
	"github.com/openlobby/lobbyd/internal/keepalive"
	"github.com/openlobby/lobbyd/internal/launch"
	"github.com/openlobby/lobbyd/internal/presence"
	"github.com/openlobby/lobbyd/internal/registry"
	"github.com/openlobby/lobbyd/internal/room"
	"github.com/openlobby/lobbyd/internal/social"
)

const (
	registrySweepInterval = time.Minute
	cleanupInterval       = 15 * time.Minute
	aggressiveInterval    = time.Hour
)

func main() {
	if err := auth.Init(); err != nil {
		log.Fatalf("auth init: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Connect(ctx)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer store.Close()

	if err := cache.ConnectRedis(); err != nil {
		// The audit queue is best-effort; the lobby runs without it.
		logger.Warnf("redis unavailable, room event auditing disabled: %v", err)
	}

	reg := registry.New()
	bus := events.NewBus(logger)

	gm := grace.NewManager(logger)
	if d := envDuration("HOST_GRACE"); d > 0 {
		gm.HostGrace = d
	}
	if d := envDuration("ABANDON_GRACE"); d > 0 {
		gm.AbandonGrace = d
	}
	defer gm.Stop()

	rooms := room.NewService(store, bus, reg, gm, logger)
	if cache.Rdb != nil {
		rooms.SetEventSink(cache.PublishRoomEvent)
	}
	launcher := launch.NewService(store, bus, reg, logger)
	if d := envDuration("LAUNCH_STAGGER"); d > 0 {
		launcher.SetNonHostDelay(d)
	}
	socials := social.NewService(store, bus, logger)
	tracker := presence.NewTracker(store, reg, logger)
	pinger := keepalive.NewSupervisor(store, logger)

	srv := &handlers.Server{
		Logger:   logger,
		Store:    store,
		Reg:      reg,
		Bus:      bus,
		Rooms:    rooms,
		Launch:   launcher,
		Social:   socials,
		Presence: tracker,
	}

	go tracker.Run(ctx)
	go pinger.Run(ctx)
	go sweepRegistry(ctx, reg, bus, rooms)
	go cleanupRooms(ctx, store, logger)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Running on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server exited: %v", err)
	}
}

// sweepRegistry evicts sockets with no activity and reconciles their
// member rows, covering peers that vanished without a close frame.
func sweepRegistry(ctx context.Context, reg *registry.Registry, bus *events.Bus, rooms *room.Service) {
	ticker := time.NewTicker(registrySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conn := range reg.SweepStale() {
				bus.Unregister(conn.SocketID)
				c := conn
				sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				rooms.Disconnect(sweepCtx, &c)
				cancel()
			}
		}
	}
}

// cleanupRooms deletes inactive rooms every 15 minutes, with a more
// aggressive hourly sweep during the 02:00-06:00 low-traffic window.
func cleanupRooms(ctx context.Context, store *database.Store, logger *logrus.Logger) {
	regular := time.NewTicker(cleanupInterval)
	aggressive := time.NewTicker(aggressiveInterval)
	defer regular.Stop()
	defer aggressive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-regular.C:
			runCleanup(ctx, store, logger, database.CleanupOptions{})
		case <-aggressive.C:
			hour := time.Now().Hour()
			if hour < 2 || hour >= 6 {
				continue
			}
			runCleanup(ctx, store, logger, database.CleanupOptions{
				LobbyIdle:  30 * time.Minute,
				InGameIdle: 12 * time.Hour,
			})
		}
	}
}

func runCleanup(ctx context.Context, store *database.Store, logger *logrus.Logger, opts database.CleanupOptions) {
	cleanCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	n, err := store.CleanupInactiveRooms(cleanCtx, opts)
	if err != nil {
		logger.Errorf("room cleanup: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("room cleanup removed %d rooms", n)
	}
}

// envDuration parses a duration env var, returning 0 when unset or bad.
func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
