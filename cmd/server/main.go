package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jwttoken "pseudonym/internal/jwt_token"
	"pseudonym/internal/platform/config"
	"pseudonym/internal/platform/httpserver"
	"pseudonym/internal/platform/logger"
	"pseudonym/internal/platform/metrics"
	redisplatform "pseudonym/internal/platform/redis"
	"pseudonym/internal/pseudonym/bootstrap"
	"pseudonym/internal/pseudonym/handler"
	ratelimit "pseudonym/internal/ratelimit/middleware"
	"pseudonym/internal/ratelimit/store/bucket"
)

// main wires configuration, the pseudonym population and the resolve API,
// then serves until SIGINT or SIGTERM.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pseudonym-server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	if cfg.Server.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := bootstrap.Open(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error("failed to close pseudonym store", "error", err)
		}
	}()

	// Replicas share rate limit windows through Redis when it is configured.
	var buckets ratelimit.BucketStore = bucket.NewInMemoryBucketStore()
	var redisClient *redisplatform.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisplatform.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		buckets = bucket.NewRedisBucketStore(redisClient.Client)
	}
	limiter := ratelimit.New(buckets, cfg.Server.RateLimit, log)

	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, jwttoken.Audience)
	resolveHandler := handler.New(rt.Population, log, metrics.New(reg), jwttoken.NewJWTServiceAdapter(jwtService),
		handler.WithRateLimit(limiter.RateLimitClient()),
	)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				log.WarnContext(r.Context(), "health check failed", "dependency", "redis", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	resolveHandler.Register(router)

	return httpserver.Run(ctx, httpserver.New(cfg.Server.Addr, router), log, 10*time.Second)
}
