package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/analytics"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/auth"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/bridge"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/config"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/handler"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/hub"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/presence"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/profile"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/ratelimit"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/internal/service"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	logger := log.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting relay service")

	if cfg.Auth.Secret == "" {
		logger.Fatal().Msg("auth.secret is required (AUTH_SECRET)")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	profiles, err := profile.NewRedisStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize profile store")
	}
	viewers, err := presence.NewRedisStore(redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize viewer-count store")
	}
	logger.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	var producer analytics.EventProducer = analytics.Noop{}
	if cfg.Kafka.Brokers != "" {
		producer, err = analytics.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize analytics producer")
		}
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}

	wsHub := hub.NewHub(cfg.WebSocket)
	go wsHub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var br *bridge.Bridge
	if cfg.Bridge.Enabled {
		br, err = bridge.New(redisClient, wsHub, uuid.New().String())
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize bridge")
		}
		if err := br.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start bridge")
		}
		defer br.Stop()
	}

	verifier := auth.NewJWTVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	limiter := ratelimit.NewLimiter(ratelimit.DefaultRules())

	var brPublisher bridge.Publisher
	if br != nil {
		brPublisher = br
	}

	relaySvc := service.NewRelayService(wsHub, verifier, profiles, viewers, limiter, producer, brPublisher)

	if err := relaySvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start relay service")
	}
	defer relaySvc.Stop()

	router := mux.NewRouter()
	handler.NewWSHandler(wsHub, relaySvc, cfg.WebSocket).RegisterRoutes(router)
	handler.NewHTTPHandler(wsHub).RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("relay service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down relay service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("relay service stopped")
}
