package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	aclservice "github.com/zenGate-Global/palmyra-graph/domains/acl/be/service"
	groupshandler "github.com/zenGate-Global/palmyra-graph/domains/groups/be/handler"
	groupsservice "github.com/zenGate-Global/palmyra-graph/domains/groups/be/service"
	resourceshandler "github.com/zenGate-Global/palmyra-graph/domains/resources/be/handler"
	resourcesservice "github.com/zenGate-Global/palmyra-graph/domains/resources/be/service"
	typeshandler "github.com/zenGate-Global/palmyra-graph/domains/types/be/handler"
	typesservice "github.com/zenGate-Global/palmyra-graph/domains/types/be/service"
	"github.com/zenGate-Global/palmyra-graph/platform/go/kv"
	platformlogging "github.com/zenGate-Global/palmyra-graph/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/palmyra-graph/platform/go/middleware"
	"github.com/zenGate-Global/palmyra-graph/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	RedisURL        string        `env:"REDIS_URL"` // empty falls back to in-process cache
	AuthProvider    string        `env:"AUTH_PROVIDER" envDefault:"dev"`

	ACLFilterCutoff   int           `env:"ACL_FILTER_CUTOFF" envDefault:"200"`
	PrincipalCacheTTL time.Duration `env:"PRINCIPAL_CACHE_TTL" envDefault:"2m"`
	EntityCacheTTL    time.Duration `env:"ENTITY_CACHE_TTL" envDefault:"1m"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.Bootstrap(ctx, pool); err != nil {
		logger.Fatal("bootstrap schema", zap.Error(err))
	}

	var cache kv.Store
	if cfg.RedisURL != "" {
		redisStore, err := kv.NewRedisStore(ctx, cfg.RedisURL, kv.WithNamespace("palmyra-graph"))
		if err != nil {
			logger.Fatal("init redis cache", zap.Error(err))
		}
		defer redisStore.Close()
		cache = redisStore
	} else {
		logger.Warn("REDIS_URL not set; using in-process cache")
		cache = kv.NewMemoryStore()
	}

	entityStore := persistence.NewResourceStore(pool, persistence.KindEntity)
	linkStore := persistence.NewResourceStore(pool, persistence.KindLink)
	typeStore := persistence.NewTypeStore(pool)
	groupStore := persistence.NewGroupStore(pool)
	aclStore := persistence.NewACLStore(pool)
	traversalStore := persistence.NewTraversalStore(pool, entityStore, linkStore)
	schemaValidator := persistence.NewSchemaValidator()

	aclSvc := aclservice.New(aclStore, groupStore, cache, logger, aclservice.Config{
		PrincipalTTL: cfg.PrincipalCacheTTL,
		FilterCutoff: cfg.ACLFilterCutoff,
	})

	typeSvc := typesservice.New(typeStore)
	typeHandler := typeshandler.New(typeSvc, logger)

	groupSvc := groupsservice.New(groupStore, aclSvc)
	groupHandler := groupshandler.New(groupSvc, logger)

	resourceCfg := resourcesservice.Config{ResourceTTL: cfg.EntityCacheTTL}
	entitySvc := resourcesservice.New(entityStore, entityStore, typeStore, schemaValidator, aclSvc, traversalStore, cache, logger, resourceCfg)
	linkSvc := resourcesservice.New(linkStore, entityStore, typeStore, schemaValidator, aclSvc, traversalStore, cache, logger, resourceCfg)

	entityHandler := resourceshandler.New(entitySvc, persistence.KindEntity, logger)
	linkHandler := resourceshandler.New(linkSvc, persistence.KindLink, logger)
	searchHandler := resourceshandler.NewSearch(entitySvc, linkSvc, logger)

	authMiddleware := buildAuthMiddleware(cfg, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()
	apiRouter.Use(authMiddleware)
	apiRouter.Use(platformmiddleware.RequestTrace)

	typeHandler.Routes(apiRouter)
	groupHandler.Routes(apiRouter)
	entityHandler.Routes(apiRouter)
	linkHandler.Routes(apiRouter)
	searchHandler.Routes(apiRouter)

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
