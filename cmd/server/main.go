// Cellmesh Server - reactive notebook execution engine
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cellmesh/cellmesh/internal/application/auth"
	"github.com/cellmesh/cellmesh/internal/application/broadcast"
	"github.com/cellmesh/cellmesh/internal/application/coordinator"
	"github.com/cellmesh/cellmesh/internal/application/notebooksvc"
	"github.com/cellmesh/cellmesh/internal/config"
	"github.com/cellmesh/cellmesh/internal/infrastructure/api/rest"
	"github.com/cellmesh/cellmesh/internal/infrastructure/api/ws"
	"github.com/cellmesh/cellmesh/internal/infrastructure/cache"
	"github.com/cellmesh/cellmesh/internal/infrastructure/logger"
	"github.com/cellmesh/cellmesh/internal/infrastructure/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("Starting cellmesh server",
		"version", "1.0.0",
		"port", cfg.Server.Port,
	)

	notebookStore, err := buildNotebookStore(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize notebook store", "error", err)
		os.Exit(1)
	}

	var principalCache auth.PrincipalCache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Warn("Failed to initialize Redis cache; falling back to in-process principal cache", "error", err)
		principalCache = auth.NewMemoryPrincipalCache()
	} else {
		defer redisCache.Close()
		principalCache = auth.NewRedisPrincipalCache(redisCache)
		appLogger.Info("Redis principal cache connected")
	}

	authBroker, err := buildAuthBroker(cfg, principalCache, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialize auth broker", "error", err)
		os.Exit(1)
	}

	svc := notebooksvc.New(notebookStore)
	broadcaster := broadcast.New(appLogger)
	coord := coordinator.New(svc, broadcaster, appLogger, store.NewPostgresQueryExecutorFactory(), cfg.Kernel.MaxQueryRows)
	coord.StartEvictionSweep(cfg.Kernel.EvictAfter)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	recoveryMiddleware := rest.NewRecoveryMiddleware(appLogger)
	loggingMiddleware := rest.NewLoggingMiddleware(appLogger)
	authMiddleware := rest.NewAuthMiddleware(authBroker)
	rateLimiter := rest.NewRateLimiter(120, time.Minute, 5*time.Minute)

	router.Use(recoveryMiddleware.Recovery())
	router.Use(loggingMiddleware.RequestLogger())
	router.Use(rest.LimitBodySize(1 << 20))
	router.Use(rateLimiter.Middleware())

	if cfg.Server.CORS {
		router.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
		})
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if redisCache != nil {
			if err := redisCache.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	authHandler := rest.NewAuthHandler(authBroker)
	notebookHandler := rest.NewNotebookHandler(svc, coord)
	cellHandler := rest.NewCellHandler(svc, coord)
	wsHandler := ws.NewHandler(coord, authBroker, appLogger, cfg.Websocket)

	router.POST("/api/v1/auth/token", authHandler.IssueToken)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(authMiddleware.RequireAuth())
	{
		apiV1.POST("/notebooks", notebookHandler.Create)
		apiV1.GET("/notebooks", notebookHandler.List)
		apiV1.GET("/notebooks/:notebook_id", notebookHandler.Get)
		apiV1.PATCH("/notebooks/:notebook_id", notebookHandler.Rename)
		apiV1.PUT("/notebooks/:notebook_id/db_connection", notebookHandler.SetDBConnection)
		apiV1.DELETE("/notebooks/:notebook_id", notebookHandler.Delete)

		apiV1.POST("/notebooks/:notebook_id/cells", cellHandler.Create)
		apiV1.PUT("/notebooks/:notebook_id/cells/:cell_id", cellHandler.Update)
		apiV1.DELETE("/notebooks/:notebook_id/cells/:cell_id", cellHandler.Delete)
	}

	router.GET("/ws/notebooks/:notebook_id", func(c *gin.Context) {
		wsHandler.ServeHTTP(c.Writer, c.Request, c.Param("notebook_id"))
	})

	srv := &http.Server{
		Addr:         cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("graceful shutdown failed", "error", err)
	}
}

// buildAuthBroker selects the AuthBroker implementation: an external OIDC
// provider when an issuer is configured, the builtin JWT broker otherwise.
func buildAuthBroker(cfg *config.Config, principalCache auth.PrincipalCache, appLogger *logger.Logger) (auth.Broker, error) {
	if cfg.Auth.OIDCIssuerURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		broker, err := auth.NewOIDCBroker(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, principalCache, cfg.Auth.PrincipalCacheTTL)
		if err != nil {
			return nil, err
		}
		appLogger.Info("Auth broker: OIDC", "issuer", cfg.Auth.OIDCIssuerURL)
		return broker, nil
	}
	appLogger.Info("Auth broker: JWT")
	return auth.NewJWTBroker(
		cfg.Auth.JWTSecret,
		time.Duration(cfg.Auth.JWTExpirationHours)*time.Hour,
		principalCache,
	), nil
}

// buildNotebookStore selects the file or Postgres NotebookStore per
// cfg.Notebook.StoreBackend.
func buildNotebookStore(cfg *config.Config, appLogger *logger.Logger) (store.NotebookStore, error) {
	switch cfg.Notebook.StoreBackend {
	case "postgres":
		db, err := store.NewDB(store.DBConfig{
			DSN:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxConnections,
			MaxIdleConns:    cfg.Database.MinConnections,
			ConnMaxLifetime: cfg.Database.MaxConnLifetime,
			ConnMaxIdleTime: cfg.Database.MaxIdleTime,
			Debug:           cfg.Logging.Level == "debug",
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres notebook store: %w", err)
		}
		appLogger.Info("Notebook store backend: postgres")
		return store.NewPostgresStore(db), nil
	case "file", "":
		fs, err := store.NewFileStore(cfg.Notebook.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("open file notebook store: %w", err)
		}
		appLogger.Info("Notebook store backend: file", "dir", cfg.Notebook.StoreDir)
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown notebook store backend %q", cfg.Notebook.StoreBackend)
	}
}
