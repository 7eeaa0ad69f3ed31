// Command broker runs the authorization broker's HTTP service: the Auth
// Flow Engine behind internal/httpapi, the Refresh Coordinator, the
// Post-Connection Hook Runner, the Verification Prober, and the leader-
// gated session sweeper.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dropDatabas3/authbroker/internal/cache"
	"github.com/dropDatabas3/authbroker/internal/cluster"
	"github.com/dropDatabas3/authbroker/internal/config"
	"github.com/dropDatabas3/authbroker/internal/domain"
	"github.com/dropDatabas3/authbroker/internal/engine"
	"github.com/dropDatabas3/authbroker/internal/hooks"
	"github.com/dropDatabas3/authbroker/internal/httpapi"
	"github.com/dropDatabas3/authbroker/internal/metrics"
	"github.com/dropDatabas3/authbroker/internal/notifier"
	"github.com/dropDatabas3/authbroker/internal/observability/logger"
	"github.com/dropDatabas3/authbroker/internal/prober"
	"github.com/dropDatabas3/authbroker/internal/refresh"
	"github.com/dropDatabas3/authbroker/internal/store/memory"
	"github.com/dropDatabas3/authbroker/internal/store/pg"
	"github.com/dropDatabas3/authbroker/internal/webhook"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	var (
		flagConfigPath    = flag.String("config", "", "path to config.yaml (fallback: $CONFIG_PATH or configs/config.yaml)")
		flagProvidersYAML = flag.String("providers", "", "path to providers.yaml (fallback: $PROVIDERS_PATH or configs/providers.yaml)")
	)
	flag.Parse()

	cfgPath := *flagConfigPath
	if cfgPath == "" {
		cfgPath = os.Getenv("CONFIG_PATH")
	}
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic("config: " + err.Error())
	}

	// internal/security/secretbox reads its master key lazily from this env
	// var; config.yaml is the discoverable source of truth for operators, so
	// forward it before any store touches sealed credentials.
	if cfg.Security.SecretBoxMasterKey != "" {
		os.Setenv("SECRETBOX_MASTER_KEY", cfg.Security.SecretBoxMasterKey)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, ServiceName: "authbroker"})
	defer logger.Sync()
	log := logger.L()

	providersPath := *flagProvidersYAML
	if providersPath == "" {
		providersPath = os.Getenv("PROVIDERS_PATH")
	}
	if providersPath == "" {
		providersPath = "configs/providers.yaml"
	}
	providersRaw, err := os.ReadFile(providersPath)
	if err != nil {
		log.Fatal("read providers.yaml", zap.Error(err))
	}
	providers, err := domain.LoadProvidersYAML(providersRaw)
	if err != nil {
		log.Fatal("parse providers.yaml", zap.Error(err))
	}
	registry := memory.NewProviderRegistry(providers)
	log.Info("loaded provider catalog", zap.Int("providers", len(providers)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgStore, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("postgres: open pool", zap.Error(err))
	}
	defer pgStore.Close()

	configStore := pg.NewIntegrationConfigStore(pgStore)

	var refreshLocker refresh.Locker = refresh.NoopLocker{}
	if cfg.Cache.Kind == "redis" {
		rc := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.Redis.Host + ":" + strconv.Itoa(cfg.Cache.Redis.Port),
			DB:   cfg.Cache.Redis.DB,
		})
		refreshLocker = &refresh.RedisLocker{Client: rc, Prefix: cfg.Cache.Redis.Prefix + "refresh", TTL: cfg.Refresh.LockTTL}
	}

	var leader engine.Leader = cluster.SingleNode{}
	var raftNode *cluster.Node
	if cfg.Cluster.Mode == "embedded" {
		node, err := cluster.NewNode(cluster.NodeOptions{
			NodeID:   cfg.Cluster.NodeID,
			RaftAddr: cfg.Cluster.RaftAddr,
			RaftDir:  cfg.Cluster.RaftDir,
			Peers:    cfg.Cluster.Peers,
		})
		if err != nil {
			log.Fatal("cluster: start raft node", zap.Error(err))
		}
		leader = node
		raftNode = node
	}
	if raftNode != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = raftNode.Close(shutdownCtx)
		}()
	}

	httpClient := &http.Client{Timeout: cfg.Server.RequestTimeout}

	webhookDispatcher := &webhook.Dispatcher{HTTPClient: httpClient, Logger: log.Named("webhook")}

	notify := &notifier.Notifier{
		Telemetry: notifier.NoopTelemetrySink{},
		Logger:    log.Named("notifier"),
	}

	dedupCache, err := cache.New(cache.Config{
		Driver: cfg.Cache.Kind,
		Host:   cfg.Cache.Redis.Host,
		Port:   cfg.Cache.Redis.Port,
		DB:     cfg.Cache.Redis.DB,
		Prefix: cfg.Cache.Redis.Prefix + "webhook-dedup",
	})
	if err != nil {
		log.Fatal("cache: open webhook dedup client", zap.Error(err))
	}
	defer dedupCache.Close()

	hookRunner := &hooks.Runner{
		Connections: pgStore,
		Configs:     configStore,
		Webhooks:    webhookDispatcher,
		Notifier:    notify,
		Dedup:       dedupCache,
		Logger:      log.Named("hooks"),
	}

	verifier := &prober.Verifier{
		Proxy:     &prober.HTTPProxyClient{Client: httpClient},
		Providers: registry,
	}

	env := engine.Env{
		Sessions:       pgStore,
		Connections:    pgStore,
		Configs:        configStore,
		Registry:       registry,
		HTTPClient:     httpClient,
		Hooks:          hookRunner,
		Prober:         verifier,
		Logger:         log.Named("engine"),
		SessionTTL:     cfg.Session.TTL,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	drivers := engine.NewRegistry(env)

	coordinator := &refresh.Coordinator{
		Connections: pgStore,
		Configs:     configStore,
		Registry:    registry,
		Locker:      refreshLocker,
		HTTPClient:  httpClient,
		Skew:        cfg.Refresh.Skew,
		Logger:      log.Named("refresh"),
	}

	sweeper := &engine.Sweeper{
		Sessions: pgStore,
		Leader:   leader,
		Logger:   log.Named("sweeper"),
	}
	go sweeper.Run(ctx)

	if err := metrics.Register(nil); err != nil {
		log.Fatal("metrics: register collectors", zap.Error(err))
	}

	router := httpapi.NewRouter(&httpapi.Server{
		Drivers:  drivers,
		Refresh:  coordinator,
		Sweeper:  sweeper,
		Configs:  configStore,
		Registry: registry,
		Logger:   log.Named("http"),
	})

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("broker listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
}
