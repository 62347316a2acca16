package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/captoken-go/internal/audit"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/directory"
	"github.com/yndnr/captoken-go/internal/infra/buildinfo"
	"github.com/yndnr/captoken-go/internal/infra/confloader"
	"github.com/yndnr/captoken-go/internal/infra/leader"
	"github.com/yndnr/captoken-go/internal/infra/shutdown"
	"github.com/yndnr/captoken-go/internal/infra/tlsroots"
	"github.com/yndnr/captoken-go/internal/notify"
	"github.com/yndnr/captoken-go/internal/server/config"
	"github.com/yndnr/captoken-go/internal/server/httpserver"
	"github.com/yndnr/captoken-go/internal/server/httpserver/handler"
	"github.com/yndnr/captoken-go/internal/storage"
	"github.com/yndnr/captoken-go/internal/storage/memory"
	"github.com/yndnr/captoken-go/internal/storage/snapshot"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
	"github.com/yndnr/captoken-go/internal/telemetry/metric"
	"github.com/yndnr/captoken-go/pkg/crypto/adaptive"
	"github.com/yndnr/captoken-go/pkg/crypto/seal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("captoken-server " + buildinfo.String())
		return nil
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	slogLogger := logger.Slog(log)

	info := buildinfo.Get()
	log.Info("starting captoken-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := storage.Open(ctx, cfg.StorageConfig(), slogLogger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	shutdownHandler := shutdown.NewHandler(cfg.Server.ShutdownTimeout, slogLogger)
	// Hooks run in reverse registration order.
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return engine.Close()
	})

	metrics := metric.NewRegistry()
	engine.RegisterMetrics(metrics.Registerer())

	dir, staticDir, err := initDirectory(ctx, cfg, engine, log)
	if err != nil {
		return fmt.Errorf("init directory: %w", err)
	}

	notifier, err := initNotifier(cfg, log)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	auditSink := initAudit(cfg, engine, metrics, log)
	shutdownHandler.OnShutdown("audit", auditSink.Close)

	opts, err := serviceOptions(cfg, dir, notifier, auditSink, metrics)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	tokens := service.NewTokenService(engine.Store, cfg.TokenServiceConfig(), opts...)
	attendance := service.NewAttendanceService(tokens)

	keys, err := memory.NewAPIKeyStore(cfg.APIKeys()...)
	if err != nil {
		return fmt.Errorf("init api keys: %w", err)
	}
	authSvc := service.NewAuthService(keys, cfg.AuthServiceConfig())

	locker, closeLocker, err := initLocker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init leader lock: %w", err)
	}
	shutdownHandler.OnShutdown("leader-lock", func(context.Context) error {
		return closeLocker()
	})
	sweeper := service.NewSweeper(tokens, locker, cfg.SweeperConfig())

	handlerCfg := handler.Config{
		Tokens:     tokens,
		Attendance: attendance,
		Sweeper:    sweeper,
		Ready:      engine,
		Logger:     slogLogger,
	}
	backups, err := initBackups(ctx, cfg, engine, slogLogger)
	if err != nil {
		return fmt.Errorf("init backups: %w", err)
	}
	if backups != nil {
		handlerCfg.Backups = backups
		handlerCfg.BackupSource = engine.Backups()
	}

	routerCfg := httpserver.DefaultRouterConfig()
	routerCfg.Handler = handler.New(handlerCfg)
	routerCfg.AuthService = authSvc
	routerCfg.Metrics = metrics
	routerCfg.Logger = slogLogger
	routerCfg.TrustedProxies = cfg.Server.HTTP.TrustedProxies
	routerCfg.AdminAllowList = cfg.Server.HTTP.AdminAllowList
	routerCfg.MetricsAuthRequired = cfg.Server.HTTP.MetricsAuthRequired
	routerCfg.CORSAllowedOrigins = cfg.Server.HTTP.CORSAllowedOrigins
	if cfg.Server.HTTP.PublicRateLimit > 0 {
		routerCfg.PublicRateLimit = cfg.Server.HTTP.PublicRateLimit
		routerCfg.PublicBurst = cfg.Server.HTTP.PublicBurst
	}
	router, err := httpserver.NewRouter(routerCfg)
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	watcher, err := confloader.NewWatcher(confloader.WithWatcherLogger(slogLogger))
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}
	shutdownHandler.OnShutdown("watcher", func(context.Context) error {
		return watcher.Stop()
	})

	serverCfg := httpserver.Config{
		Addr:         cfg.Server.HTTP.Addr,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
	}
	if cfg.Server.HTTP.TLSCertFile != "" {
		reloader, err := tlsroots.NewCertReloader(cfg.Server.HTTP.TLSCertFile, cfg.Server.HTTP.TLSKeyFile, slogLogger)
		if err != nil {
			return fmt.Errorf("init tls: %w", err)
		}
		if err := reloader.Watch(watcher); err != nil {
			return fmt.Errorf("watch tls files: %w", err)
		}
		serverCfg.TLS = reloader.ServerConfig()
	}
	if err := watchConfig(watcher, *configFile, cfg, staticDir, log); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	watcher.StartAsync()

	httpServer := httpserver.New(serverCfg, router)
	shutdownHandler.OnShutdown("http", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpServer.Shutdown(ctx)
	})

	// Background workers stop when ctx is cancelled, before the HTTP
	// server drains.
	shutdownHandler.OnShutdown("workers", func(context.Context) error {
		cancel()
		return nil
	})
	if cfg.Sweeper.Enabled {
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("sweeper stopped", "error", err)
			}
		}()
	}
	if backups != nil && cfg.Storage.Backup.Enabled {
		go backups.Run(ctx, engine.Backups(), cfg.Storage.Backup.Interval)
	}

	go func() {
		log.Info("HTTP server listening",
			"addr", cfg.Server.HTTP.Addr,
			"tls", serverCfg.TLS != nil)
		if err := httpServer.ListenAndServe(); err != nil {
			log.Error("HTTP server error", "error", err)
			shutdownHandler.Trigger()
		}
	}()

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// initDirectory returns the entity directory. The static directory is
// returned separately so file changes can reload it; it is nil for the
// SQL source.
func initDirectory(ctx context.Context, cfg *config.ServerConfig, engine *storage.Engine, log logger.Logger) (service.Directory, *directory.StaticDirectory, error) {
	switch cfg.Directory.Source {
	case "sql":
		dir := engine.Directory()
		if dir == nil {
			return nil, nil, fmt.Errorf("directory source sql needs a sql storage backend, got %s", engine.Backend)
		}
		if cfg.Directory.Seed && cfg.Directory.File != "" {
			w, ok := dir.(directory.Writer)
			if !ok {
				return nil, nil, fmt.Errorf("directory: sql directory is read-only")
			}
			f, err := directory.ReadFile(cfg.Directory.File)
			if err != nil {
				return nil, nil, err
			}
			n, err := directory.Seed(ctx, f, w)
			if err != nil {
				return nil, nil, err
			}
			log.Info("directory seeded", "file", cfg.Directory.File, "entities", n)
		}
		return dir, nil, nil
	default:
		d, err := directory.LoadFile(cfg.Directory.File)
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}
}

func initNotifier(cfg *config.ServerConfig, log logger.Logger) (service.Notifier, error) {
	logDispatcher := notify.NewLogDispatcher(log)
	switch cfg.Notify.Driver {
	case "webhook", "both":
		wcfg, err := cfg.WebhookConfig()
		if err != nil {
			return nil, err
		}
		webhook, err := notify.NewWebhookDispatcher(wcfg)
		if err != nil {
			return nil, err
		}
		if cfg.Notify.Driver == "webhook" {
			return webhook, nil
		}
		return notify.Multi{logDispatcher, webhook}, nil
	default:
		return logDispatcher, nil
	}
}

func initAudit(cfg *config.ServerConfig, engine *storage.Engine, metrics *metric.Registry, log logger.Logger) *audit.AsyncSink {
	logWriter := audit.NewLogWriter(log)
	var w audit.Writer = logWriter
	if sqlWriter := engine.AuditWriter(); sqlWriter != nil {
		switch cfg.Audit.Writer {
		case "sql":
			w = sqlWriter
		case "both":
			w = audit.MultiWriter{logWriter, sqlWriter}
		}
	}
	return audit.NewAsyncSink(w, cfg.AuditConfig(), metrics, log)
}

// serviceOptions builds the token service collaborators. The value and
// evidence keys are derived from their configured masters so one secret
// never serves two purposes.
func serviceOptions(cfg *config.ServerConfig, dir service.Directory, n service.Notifier, a service.AuditSink, m service.Metrics) ([]service.TokenServiceOption, error) {
	opts := []service.TokenServiceOption{
		service.WithDirectory(dir),
		service.WithNotifier(n),
		service.WithAudit(a),
		service.WithMetrics(m),
	}

	encKey, sealKey, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if encKey != nil {
		key, err := adaptive.DeriveKey(encKey, "captoken token value")
		if err != nil {
			return nil, err
		}
		cipher, err := adaptive.New(key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithValueSealer(cipher))
	}
	if sealKey != nil {
		key, err := adaptive.DeriveKey(sealKey, "captoken evidence seal")
		if err != nil {
			return nil, err
		}
		sealer, err := seal.New(key)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithEvidenceSealer(sealer))
	}
	if idCfg, ok := cfg.IdentityConfig(); ok {
		opts = append(opts, service.WithIdentityVerifier(service.NewJWTIdentityVerifier(idCfg, nil)))
	}
	return opts, nil
}

// initLocker returns the Redis leader lock when redis.addr is set, else an
// in-process lock.
func initLocker(ctx context.Context, cfg *config.ServerConfig) (service.Locker, func() error, error) {
	if cfg.Redis.Addr == "" {
		return leader.NewLocalTable(nil).Lock(""), func() error { return nil }, nil
	}
	opts := &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	if cfg.Redis.UseTLS {
		tlsCfg, err := tlsroots.ClientConfig(cfg.Redis.TLSCAFile)
		if err != nil {
			return nil, nil, err
		}
		opts.TLSConfig = tlsCfg
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	hostname, _ := os.Hostname()
	return leader.NewRedisLock(client, hostname+"-"+fmt.Sprint(os.Getpid())), client.Close, nil
}

// initBackups returns the archive manager for Badger deployments, or nil.
func initBackups(ctx context.Context, cfg *config.ServerConfig, engine *storage.Engine, log *slog.Logger) (*snapshot.Manager, error) {
	if engine.Backups() == nil {
		if cfg.Storage.Backup.Enabled {
			log.WarnContext(ctx, "backups need the badger backend; disabled", "backend", engine.Backend)
		}
		return nil, nil
	}
	nodeID, _ := os.Hostname()
	bcfg, err := cfg.BackupConfig(nodeID, log)
	if err != nil {
		return nil, err
	}
	return snapshot.NewManager(bcfg)
}

// watchConfig reloads the log level when the config file changes and the
// static directory when its file changes. Other settings need a restart.
func watchConfig(w *confloader.Watcher, configFile string, cfg *config.ServerConfig, staticDir *directory.StaticDirectory, log logger.Logger) error {
	var configAbs, dirAbs string
	if configFile != "" {
		if err := w.Watch(configFile); err != nil {
			return err
		}
		configAbs, _ = filepath.Abs(configFile)
	}
	if staticDir != nil && cfg.Directory.File != "" {
		if err := w.Watch(cfg.Directory.File); err != nil {
			return err
		}
		dirAbs, _ = filepath.Abs(cfg.Directory.File)
	}

	w.OnChange(func(path string) {
		switch path {
		case configAbs:
			next, err := config.Load(configFile)
			if err != nil {
				log.Error("config reload failed", "error", err)
				return
			}
			if next.Log.Level != logger.GetLevel() {
				logger.SetLevel(next.Log.Level)
				log.Info("log level changed", "level", next.Log.Level)
			}
		case dirAbs:
			f, err := directory.ReadFile(path)
			if err == nil {
				err = staticDir.Reload(f)
			}
			if err != nil {
				log.Error("directory reload failed", "error", err)
				return
			}
			log.Info("directory reloaded", "file", path)
		}
	})
	return nil
}
