package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paintops/internal/auth"
	"paintops/internal/bulk"
	"paintops/internal/config"
	"paintops/internal/db"
	"paintops/internal/feed"
	httpx "paintops/internal/http"
	"paintops/internal/logger"
	"paintops/internal/phases"
	"paintops/internal/store"
	"paintops/internal/views"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var s store.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		s = store.NewMemory()
		log.Warn("using in-memory store, data is lost on restart")
	default:
		s = connectPostgres(ctx, cfg, log)
	}

	if err := phases.Seed(ctx, s); err != nil {
		log.Fatal("seed phases", "error", err)
	}

	dir := phases.NewDirectory(s)
	var resolver phases.Resolver = dir
	if cfg.PhaseCacheTTL > 0 {
		resolver = phases.NewCache(dir, cfg.PhaseCacheTTL)
	}

	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		log.Fatal("business timezone", "error", err)
	}
	reg := views.NewRegistry(s, resolver, log.Named("views"), views.Options{
		Throttle:  cfg.ThrottleInterval,
		Debounce:  cfg.DashboardDebounce,
		BucketCap: cfg.BucketCap,
		Location:  loc,
	})
	defer reg.Close()

	ctrl := &bulk.Controller{
		Store:     s,
		Directory: dir,
		Log:       log.Named("bulk"),
		Reload:    reg.RefetchAll,
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	r := httpx.NewRouter(cfg, log, s, reg, ctrl, jwtSvc)

	srv := newServer(ctx, cfg.HTTPAddr, r)

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server", "error", err)
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// newServer builds the HTTP server. Request contexts derive from base, so
// cancelling it ends long-lived streams before Shutdown waits on them.
func newServer(base context.Context, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
}

// connectPostgres opens the database, installs the change triggers and
// starts the relay that carries outbox rows to the store's hub.
func connectPostgres(ctx context.Context, cfg config.Config, log *logger.Logger) *store.Postgres {
	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect database", "error", err)
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal("migrate", "error", err)
	}

	hub := store.NewHub()

	var bus feed.Bus = feed.NewLocalBus()
	if cfg.RedisAddr != "" {
		rb, err := feed.NewRedisBus(log.Named("bus"), cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			log.Fatal("redis bus", "error", err)
		}
		bus = rb
	}
	if err := bus.StartForwarder(ctx, hub.Publish); err != nil {
		log.Fatal("bus forwarder", "error", err)
	}
	go func() {
		<-ctx.Done()
		_ = bus.Close()
	}()

	relay := &feed.Relay{
		ID:        "relay-" + hostname(),
		Source:    &feed.Repo{DB: gdb},
		Bus:       bus,
		Log:       log.Named("relay"),
		Interval:  cfg.FeedPollInterval,
		BatchSize: cfg.FeedBatchSize,
	}
	if l, err := feed.NewListener(cfg.DatabaseURL, log.Named("listener")); err != nil {
		log.Warn("change listener unavailable, polling only", "error", err)
	} else {
		relay.Wake = l.Wake()
		go l.Run(ctx)
	}
	go relay.Run(ctx)

	return store.NewPostgres(gdb, hub)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "local"
	}
	return h
}
