package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/sync/errgroup"

	"mt_copier/internal/api"
	"mt_copier/internal/api/auth"
	"mt_copier/internal/config"
	"mt_copier/internal/detect"
	"mt_copier/internal/events"
	"mt_copier/internal/gate"
	"mt_copier/internal/ledger"
	"mt_copier/internal/logging"
	"mt_copier/internal/metrics"
	"mt_copier/internal/models"
	"mt_copier/internal/notify"
	"mt_copier/internal/presence"
	"mt_copier/internal/registry"
	"mt_copier/internal/relay"
	"mt_copier/internal/storage"
	"mt_copier/internal/task"
)

func main() {
	var (
		configPath string
		hashKey    string
	)
	flag.StringVar(&configPath, "config", "", "путь к файлу конфигурации (yaml)")
	flag.StringVar(&hashKey, "hash-key", "", "вывести bcrypt хэш лицензионного ключа и выйти")
	flag.Parse()

	if hashKey != "" {
		hash, err := auth.HashKey(hashKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to hash key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info("=== MT Copier ===")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Copier stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("✅ Copier stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Инициализация БД
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create database dir: %w", err)
	}
	db, err := storage.New(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer db.Close()

	bus := events.NewBus(logger)
	collectors := metrics.New(bus.Dropped)

	ledgers, err := ledger.NewStore(cfg.Ledger.Dir, logger.With(slog.String("store", "ledger")),
		ledger.WithExtension(cfg.Ledger.Extension),
		ledger.WithObserver(collectors))
	if err != nil {
		return err
	}
	relays, err := ledger.NewStore(cfg.Ledger.RelayDir, logger.With(slog.String("store", "relay")),
		ledger.WithExtension(cfg.Ledger.Extension))
	if err != nil {
		return err
	}

	// Реестр: сохранённые роли и конфиги, затем актуальные ledger файлы
	reg := registry.New(db, logger)
	if err := reg.Load(); err != nil {
		return err
	}
	if err := reg.Rescan(ledgers); err != nil {
		return fmt.Errorf("failed to scan ledgers: %w", err)
	}

	monitor := presence.New(reg, ledgers, bus, logger,
		presence.WithTimeouts(cfg.Presence.ActivityTimeout, cfg.Presence.PendingTimeout),
		presence.WithObserver(collectors))

	copierGate := gate.New(monitor, db, bus, logger, gate.WithTenantLookup(func(masterID string) string {
		acc, err := reg.Get(masterID)
		if err != nil {
			return ""
		}
		return acc.TenantKey
	}))
	if err := copierGate.Load(); err != nil {
		return err
	}

	relaySvc := relay.New(reg, ledgers, relays, copierGate, detect.New(), logger,
		relay.WithObserver(collectors),
		relay.WithPublisher(bus))

	tenants := make([]auth.Tenant, 0, len(cfg.Auth.Tenants))
	for _, t := range cfg.Auth.Tenants {
		tenants = append(tenants, auth.Tenant{ID: t.ID, Key: t.Key, KeyHash: t.KeyHash})
	}
	if len(tenants) == 0 {
		logger.Warn("⚠️  No tenants configured, EA requests will be rejected")
	}
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, tenants)

	handler := api.New(relaySvc, copierGate, db, authService, bus, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler.SetupRouter(collectors.Handler(), cfg.Server.CORSOrigins),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	// подписки создаются до запуска задач, чтобы не потерять первые события
	activity := bus.Subscribe(256)
	g.Go(func() error { return db.RecordEvents(gctx, activity) })
	g.Go(func() error { return relaySvc.Run(gctx, bus) })

	if cfg.Ledger.Watch {
		watcher := registry.NewWatcher(reg, ledgers, func(acc models.Account) {
			bus.Publish(events.Event{
				Type:      events.TypeAccountDiscovered,
				AccountID: acc.ID,
				Payload:   events.Discovered{Role: string(acc.Role), Platform: string(acc.Platform)},
			})
		}, logger)
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if cfg.Telegram.Token != "" {
		bot, err := notify.NewBot(cfg.Telegram.Token, logger)
		if err != nil {
			return fmt.Errorf("failed to init telegram bot: %w", err)
		}

		alerter := notify.NewAlerter(bot, cfg.Telegram.ChatIDs, cfg.Telegram.AlertsPerMinute, logger)
		alerts := bus.Subscribe(64)
		g.Go(func() error { return alerter.Run(gctx, alerts) })
		g.Go(func() error {
			return bot.ServeCommands(gctx, cfg.Telegram.ChatIDs, func() string {
				return statusText(reg, copierGate)
			})
		})
	}

	presenceTask := monitor.Task(cfg.Presence.TickInterval)
	heartbeatTask := task.New("heartbeat", cfg.Presence.HeartbeatInterval, relaySvc.Heartbeat, logger)
	g.Go(func() error { return presenceTask.Run(gctx) })
	g.Go(func() error { return heartbeatTask.Run(gctx) })

	g.Go(func() error {
		logger.Info("🚀 Server starting...", slog.String("address", cfg.Server.Address))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()

		logger.Info("🛑 Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		handler.CloseStreams()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func statusText(reg *registry.Registry, g *gate.Gate) string {
	var masters, slaves, pending, online int
	for _, acc := range reg.List() {
		switch acc.Role {
		case models.RoleMaster:
			masters++
		case models.RoleSlave:
			slaves++
		default:
			pending++
		}
		if acc.Status == models.StatusOnline {
			online++
		}
	}

	copier := "🟢 включен"
	if !g.GlobalEnabled() {
		copier = "⛔ выключен"
	}

	return fmt.Sprintf("<b>Копир:</b> %s\nMaster: %d\nSlave: %d\nPending: %d\nOnline: %d",
		copier, masters, slaves, pending, online)
}
