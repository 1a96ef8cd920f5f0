// Command powerbot is the PowerBot entry point. With no flags it runs the
// supervisor console; --worker=<kind> re-execs it as one isolated worker
// process, the shape the supervisor spawns via os/exec.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"powerbot/internal/broadcasthub"
	"powerbot/internal/chatlistener"
	"powerbot/internal/config"
	"powerbot/internal/console"
	"powerbot/internal/economy"
	"powerbot/internal/eventqueue"
	"powerbot/internal/identity"
	"powerbot/internal/logging"
	"powerbot/internal/platformclient"
	"powerbot/internal/progressnotifier"
	"powerbot/internal/replication"
	"powerbot/internal/store"
	"powerbot/internal/streamwatcher"
	"powerbot/internal/supervisor"
	"powerbot/internal/webapi"
)

func main() {
	worker := flag.String("worker", "", "run a single worker process instead of the supervisor console")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Pretty: *worker == "", Output: os.Stdout})
	log := logging.For("main")

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open local store")
	}
	defer db.Close()
	if err := db.Migrate(cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("migrate local store")
	}

	registry := identity.New(db)
	progressEvents := eventqueue.New(filepath.Join(cfg.DataRoot, "discord_bot", "economy_external_events.json"))
	ledger := economy.New(db, registry, economy.WithProgressNotifications(progressEvents, newGuildNotifierResolver(cfg.DataRoot)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := registry.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure identity tables")
	}
	if err := ledger.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure economy tables")
	}

	switch *worker {
	case "":
		runSupervisor(ctx, cfg)
	case string(supervisor.WorkerWeb):
		runWeb(ctx, cfg, ledger)
	case string(supervisor.WorkerWebsocketHub):
		runWebsocketHub(ctx, cfg, progressEvents)
	case string(supervisor.WorkerBackup):
		runBackup(ctx, cfg, db)
	case string(supervisor.WorkerChatWatcher):
		runChatWatcher(ctx, cfg)
	case string(supervisor.WorkerChatBot):
		runChatBot(ctx, cfg, registry, ledger)
	default:
		log.Fatal().Str("worker", *worker).Msg("unknown worker kind")
	}
}

func runSupervisor(ctx context.Context, cfg *config.AppConfig) {
	binaryPath, err := os.Executable()
	if err != nil {
		logging.For("supervisor").Fatal().Err(err).Msg("resolve own executable path")
	}
	mgr := supervisor.NewManager(binaryPath, cfg.DataRoot, map[supervisor.WorkerKind]string{
		supervisor.WorkerWeb:          cfg.Web.Addr(),
		supervisor.WorkerWebsocketHub: cfg.WSocket.Addr(),
	})
	mgr.StartAutorunWorkers(ctx)

	repl := console.New(mgr, os.Stdin, os.Stdout)
	repl.Run(ctx)

	mgr.Shutdown()
}

func runWeb(ctx context.Context, cfg *config.AppConfig, ledger *economy.Ledger) {
	log := logging.For("web")
	router := webapi.NewRouter(ledger, cfg.Web.ParsedMounts())
	srv := &http.Server{Addr: cfg.Web.Addr(), Handler: router}
	serveAndShutdown(ctx, cfg, log, srv)
}

func runWebsocketHub(ctx context.Context, cfg *config.AppConfig, progressEvents *eventqueue.Queue) {
	log := logging.For("websocket_hub")
	hub := broadcasthub.NewHub()
	mux := http.NewServeMux()
	mux.Handle("/ws", broadcasthub.ServeWS(hub))
	mux.Handle("/health", broadcasthub.HealthHandler(hub))
	srv := &http.Server{Addr: cfg.WSocket.Addr(), Handler: mux}

	// This worker is the only process holding a live *broadcasthub.Hub, so
	// it's the one that drains the cross-process progress queue rather
	// than the chat_bot worker that pushes onto it.
	go drainProgressEvents(ctx, log, progressEvents, hub)

	serveAndShutdown(ctx, cfg, log, srv)
}

// drainProgressEvents pops queued milestone/bankruptcy events and
// rebroadcasts each one verbatim to every connected LAN peer.
func drainProgressEvents(ctx context.Context, log zerolog.Logger, events *eventqueue.Queue, hub *broadcasthub.Hub) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			popped, err := events.PopUpTo(50)
			if err != nil {
				log.Warn().Err(err).Msg("drain progress events")
				continue
			}
			for _, event := range popped {
				hub.Broadcast(event, nil)
			}
		}
	}
}

// newGuildNotifierResolver returns a per-guild progressnotifier.Notifier
// factory, caching one Notifier per guild (persisted to its own JSON file
// under dataRoot) so repeated calls for the same guild share state.
func newGuildNotifierResolver(dataRoot string) func(guildID string) *progressnotifier.Notifier {
	var mu sync.Mutex
	cache := make(map[string]*progressnotifier.Notifier)
	return func(guildID string) *progressnotifier.Notifier {
		key := guildID
		if key == "" {
			key = "_global"
		}
		mu.Lock()
		defer mu.Unlock()
		if n, ok := cache[key]; ok {
			return n
		}
		path := filepath.Join(dataRoot, "discord_bot", "guild_"+key+"_milestones.json")
		n := progressnotifier.New(path, progressnotifier.DefaultThresholds, 0)
		cache[key] = n
		return n
	}
}

// serveAndShutdown runs srv until ctx is cancelled, then drains it within
// the configured shutdown timeout.
func serveAndShutdown(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger, srv *http.Server) {
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server exited with error")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

func runBackup(ctx context.Context, cfg *config.AppConfig, db *store.DB) {
	log := logging.For("backup")
	engine, err := replication.New(db, cfg.Backup.DSN(), filepath.Join(cfg.DataRoot, "backup", "snapshots"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect remote mirror")
	}
	defer engine.Close()
	if err := engine.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure replication tables")
	}

	scheduler := replication.NewScheduler(engine,
		time.Duration(cfg.Backup.PollSeconds)*time.Second,
		time.Duration(cfg.Backup.HealthcheckSeconds)*time.Second,
		5*time.Second)
	scheduler.Run(ctx)
}

func runChatWatcher(ctx context.Context, cfg *config.AppConfig) {
	log := logging.For("chat_watcher")
	client := platformclient.NewNoopClient()
	watcher := streamwatcher.New(client, filepath.Join(cfg.DataRoot, "youtube_bot", "active_stream.json"))

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, changed, err := watcher.Detect(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("stream detect failed")
				continue
			}
			if changed {
				log.Info().Bool("is_live", state.IsLive).Str("video_id", state.VideoID).Msg("stream state changed")
			}
		}
	}
}

func runChatBot(ctx context.Context, cfg *config.AppConfig, registry *identity.Registry, ledger *economy.Ledger) {
	log := logging.For("chat_bot")
	client := platformclient.NewNoopClient()

	handler := func(ctx context.Context, msg platformclient.Message) error {
		ident, _, _, err := registry.GetOrCreateIdentity(ctx, identity.PlatformYouTube, msg.AuthorID, msg.AuthorName, nil)
		if err != nil {
			return err
		}
		sourceID := msg.ID
		_, err = ledger.AwardMessagePoints(ctx, ident.UserID, "chat_message", 1, 60, &sourceID, identity.PlatformYouTube)
		return err
	}

	listener := chatlistener.New(client, "", 5000, handler)
	listener.Start(ctx)
	log.Info().Msg("chat listener started")
	<-ctx.Done()
	listener.Stop()
}
