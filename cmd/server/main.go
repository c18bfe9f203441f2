package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"delivery/internal/app"
	"delivery/internal/config"
	"delivery/internal/domain"
	"delivery/internal/events"
	"delivery/internal/handler"
	"delivery/internal/jobs"
	"delivery/internal/logx"
	"delivery/internal/metrics"
	"delivery/internal/middleware"
	"delivery/internal/notification"
	"delivery/internal/presence"
	"delivery/internal/realtime"
	internalRedis "delivery/internal/redis"
	"delivery/internal/repository"
	"delivery/internal/repository/memory"
	"delivery/internal/repository/postgres"
	"delivery/internal/service"
	"delivery/internal/transport/kafka"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logx.NewLogrus(os.Stderr, "info").Error("invalid configuration", logx.Err(err))
		os.Exit(2)
	}
	log := logx.NewLogrus(os.Stdout, cfg.Log.Level)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", logx.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logx.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// New Relic first so the database and Redis clients can be instrumented.
	nrApp := newNewRelic(cfg.NewRelic, log)
	if nrApp != nil {
		defer nrApp.Shutdown(5 * time.Second)
	}

	store, db, err := openStore(startCtx, cfg.Database, nrApp, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := app.NewRedisClient(startCtx, cfg.Redis, nrApp)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	log.Info("connected to redis", logx.String("addr", cfg.Redis.Addr))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewBus(log, events.WithBufferSize(cfg.Notification.EventBuffer), events.WithDropRecorder(m))
	registry := presence.NewRegistry()
	for _, ns := range []presence.Namespace{presence.NamespaceDelivery, presence.NamespaceConflict} {
		metrics.RegisterOnline(reg, string(ns), func() int { return registry.Online(ns) })
	}

	exporter, err := kafka.NewExporter(log, cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		return err
	}

	w := wire(cfg, log, store, redisClient, bus, registry, m)

	bus.Subscribe(w.router.Handle)
	if exporter != nil {
		bus.Subscribe(exporter.Handle)
	}

	go w.hub.Run(ctx)

	var expiry *jobs.ExpiryJob
	if cfg.Expiry.Enabled {
		expiry = jobs.NewExpiryJob(w.deliveries, cfg.Expiry.Schedule, cfg.Expiry.Batch, log)
		if err := expiry.Start(); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: app.NewRouter(app.RouterDeps{
			DeliveryHandler: handler.NewDeliveryHandler(w.deliveries),
			ConflictHandler: handler.NewConflictHandler(w.conflicts),
			DriverHandler:   handler.NewDriverHandler(w.drivers),
			UserHandler:     handler.NewUserHandler(w.users),
			SettingsHandler: handler.NewSettingsHandler(w.settings),
			Hub:             w.hub,
			Verifier:        middleware.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
			Responses:       middleware.NewRedisResponseStore(redisClient),
			Gatherer:        reg,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			NewRelicApp:     nrApp,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", logx.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked WebSocket connections are not tracked by Shutdown.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", logx.Err(err))
	}
	if expiry != nil {
		expiry.Stop()
	}
	if err := bus.Close(shutdownCtx); err != nil {
		log.Warn("event bus did not drain", logx.Err(err))
	}
	if err := exporter.Close(); err != nil {
		log.Warn("close kafka exporter", logx.Err(err))
	}

	log.Info("server exited")
	return nil
}

type wired struct {
	deliveries *service.DeliveryService
	conflicts  *service.ConflictService
	drivers    *service.DriverService
	users      *service.UserService
	settings   *service.SettingsService
	router     *notification.Router
	hub        *realtime.Hub
}

// wire builds the services, the notification router and the live hub.
func wire(
	cfg *config.Config,
	log logx.Logger,
	store repository.Store,
	redisClient *goredis.Client,
	bus *events.Bus,
	registry *presence.Registry,
	m *metrics.Metrics,
) wired {
	locations := internalRedis.NewLocationStore(redisClient)
	locks := internalRedis.NewLockStore(redisClient)
	profiles := internalRedis.NewCacheStore(redisClient)
	settingsStore := internalRedis.NewSettingsStore(redisClient, domain.Settings{
		TTL:          cfg.Dispatch.TTL,
		SearchRadius: cfg.Dispatch.SearchRadius,
	})

	users := service.NewUserService(store, profiles, log)

	deliveries := service.NewDeliveryService(service.DeliveryDeps{
		Store:        store,
		Finder:       locations,
		Availability: locations,
		Locker:       locks,
		Settings:     settingsStore,
		Pricer:       service.DefaultPricer(),
		Publisher:    bus,
		Recorder:     m,
		Log:          log,
	}, service.DeliveryConfig{
		CodeLength:   cfg.Dispatch.CodeLength,
		PackageTypes: cfg.Dispatch.PackageTypes,
		AcceptCost:   cfg.Dispatch.AcceptCost,
		LockTTL:      cfg.Dispatch.LockTTL,
	})

	conflicts := service.NewConflictService(service.ConflictDeps{
		Store:        store,
		Deliveries:   deliveries,
		Positions:    locations,
		Availability: locations,
		Publisher:    bus,
		Recorder:     m,
		Log:          log,
	}, cfg.Dispatch.ConflictTypes)

	drivers := service.NewDriverService(locations, store, bus, log)

	var pusher notification.Pusher = notification.NewLogPusher(log)
	if cfg.Notification.PushURL != "" {
		pusher = notification.NewHTTPPusher(cfg.Notification.PushURL, cfg.Notification.PushAPIKey, cfg.Notification.PushTimeout)
	}

	router := notification.NewRouter(notification.Config{
		Presence:    registry,
		Profiles:    users,
		Pusher:      pusher,
		Catalog:     notification.NewCatalog(cfg.Notification.DefaultLanguage),
		Recorder:    m,
		PushTimeout: cfg.Notification.PushTimeout,
		Log:         log,
	})

	hub := realtime.NewHub(realtime.HubConfig{
		Registry:   registry,
		Positions:  drivers,
		Deliveries: deliveries,
		Log:        log,
	})

	return wired{
		deliveries: deliveries,
		conflicts:  conflicts,
		drivers:    drivers,
		users:      users,
		settings:   service.NewSettingsService(settingsStore),
		router:     router,
		hub:        hub,
	}
}

// openStore returns the configured store. db is nil for the memory store.
func openStore(ctx context.Context, cfg config.DatabaseConfig, nrApp *newrelic.Application, log logx.Logger) (repository.Store, *sql.DB, error) {
	if cfg.Driver == config.StoreMemory {
		log.Warn("using in-memory store; state is lost on restart")
		return memory.NewStore(), nil, nil
	}

	db, err := app.NewDatabase(ctx, cfg, nrApp, log)
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to postgres", logx.String("host", cfg.Host), logx.String("db", cfg.DBName))
	return postgres.NewStore(db), db, nil
}

func newNewRelic(cfg config.NewRelicConfig, log logx.Logger) *newrelic.Application {
	if !cfg.Enabled || cfg.LicenseKey == "" {
		return nil
	}
	nrApp, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		log.Warn("failed to initialize New Relic", logx.Err(err))
		return nil
	}
	log.Info("New Relic enabled", logx.String("app", cfg.AppName))
	return nrApp
}
