// Command pyoci runs the PyPI-to-OCI proxy server described by spec.md:
// a stateless HTTP front end that translates PyPI index/upload requests
// into OCI Distribution calls against a registry named in the request
// path. Bootstrap follows the teacher's cmd/api-gateway/main.go shape,
// adapted from a database-backed registry server to this proxy's
// config/transport/router wiring.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AllexVeldman/pyoci/internal/middleware"
	"github.com/AllexVeldman/pyoci/internal/ociclient"
	"github.com/AllexVeldman/pyoci/internal/pyproxy"
	"github.com/AllexVeldman/pyoci/internal/transport"
	"github.com/AllexVeldman/pyoci/pkg/config"
)

func main() {
	cfg := config.LoadFromEnv()
	setupLogging(cfg.Server.LogLevel)

	log.Info().Msg("starting pyoci")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis-backed token cache")
	} else {
		log.Info().Msg("using in-process token cache")
	}

	httpTransport := transport.New(transport.Config{
		RegistryTimeout:     cfg.Server.RegistryTimeout,
		MaxIdleConnsPerHost: 10,
		Redis:               redisClient,
	})
	client := ociclient.New(httpTransport)

	router := setupRouter(cfg, client)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

func setupLogging(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

func setupRouter(cfg *config.Config, client *ociclient.Client) *gin.Engine {
	if zerolog.GlobalLevel() == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLog())
	router.Use(middleware.MaxBodySize(cfg.Server.MaxBodyBytes))
	router.Use(middleware.ExtractCredentials())

	pyproxy.Register(router, &pyproxy.Service{
		Client:     client,
		PathPrefix: cfg.Server.PathPrefix,
	})

	return router
}
