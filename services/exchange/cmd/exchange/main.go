package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"livre2main/internal/ratelimit"
	"livre2main/internal/usertoken"
	"livre2main/internal/util"
	"livre2main/pkg/queue"
	"livre2main/pkg/store"
	"livre2main/services/exchange/internal/app"
	"livre2main/services/exchange/internal/config"
	"livre2main/services/exchange/internal/server"
)

func main() {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	jwtLeeway, err := config.ParseDuration(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	paymentTokenTTL, err := config.ParseDuration(cfg.PaymentTokenTTL)
	if err != nil {
		log.Fatalf("failed to parse payment token ttl: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewGormStore(cfg.DatabaseURL, store.WithDriver(cfg.DatabaseDriver))
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		log.Fatalf("failed to reach redis: %v", err)
	}
	cancelPing()

	events, err := queue.NewRedisEventStream(redisClient, queue.EventStreamConfig{
		Stream: cfg.EventStream,
		Group:  cfg.EventConsumerGroup,
		MaxLen: cfg.EventStreamMaxLen,
	})
	if err != nil {
		log.Fatalf("failed to init event stream: %v", err)
	}

	appCore, err := app.New(app.Config{
		Store:           st,
		PaymentTokens:   store.NewRedisPaymentTokenStore(redisClient),
		Events:          events,
		PaymentTokenTTL: paymentTokenTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	if err := appCore.Bootstrap(ctx); err != nil {
		log.Fatalf("failed to bootstrap exchange data: %v", err)
	}

	if cfg.EventConsumerEnabled {
		if err := events.EnsureGroup(ctx); err != nil {
			log.Fatalf("failed to create event consumer group: %v", err)
		}
		events.Start(ctx, 1, func(_ context.Context, evt queue.Event) error {
			logger.Info("exchange_event",
				"event_id", evt.ID,
				"type", evt.Type,
				"proposal_id", evt.ProposalID,
				"emprunt_id", evt.EmpruntID,
				"actor_id", evt.ActorID,
			)
			return nil
		})
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	serverCfg := server.Config{
		App:            appCore,
		TokenVerifier:  tokenVerifier,
		TrustedProxies: trustedProxies,
	}
	if cfg.ProposalRateLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(redisClient, "livre2main:ratelimit:proposals", cfg.ProposalRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init proposal rate limiter: %v", err)
		}
		serverCfg.ProposalLimiter = limiter
	}
	if cfg.AuthFailureLimitPerMinute > 0 {
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(redisClient, "livre2main:ratelimit:auth-failures", cfg.AuthFailureLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init auth failure limiter: %v", err)
		}
		serverCfg.AuthFailureLimiter = limiter
	}
	httpServer, err := server.New(serverCfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("exchange server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	slog.Info("exchange server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}
