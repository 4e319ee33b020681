package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/openvideo-live/splicer/internal"
	"github.com/openvideo-live/splicer/pkg/beacon"
	"github.com/openvideo-live/splicer/pkg/decision"
	"github.com/openvideo-live/splicer/pkg/logging"
	"github.com/openvideo-live/splicer/pkg/storage"
	"github.com/openvideo-live/splicer/pkg/vast"
)

const vastCacheTTL = 5 * time.Minute

// SetupServer sets up router, middleware, and server, given koanf configuration.
func SetupServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.SlogMiddleWare(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(addVersionAndCORSHeaders)
	prometheusMiddleWare := NewPrometheusMiddleware()

	m := chi.NewRouter()
	m.Use(prometheusMiddleWare)

	a := chi.NewRouter()

	// Set a timeout value on the request context (ctx), that will signal
	// through ctx.Done() that the request has timed out and further
	// processing should be stopped.
	if cfg.TimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(cfg.TimeoutS) * time.Second))
	}

	// Add prometheus counters
	r.Mount("/metrics", promhttp.Handler())

	auth, err := NewJWTAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("jwt auth: %w", err)
	}
	m.Use(auth.Middleware)

	if cfg.MaxRequests > 0 {
		interval := time.Duration(cfg.ReqLimitIntS) * time.Second
		if interval == 0 {
			interval = time.Minute
		}
		m.Use(NewIPRequestLimiter("Splicer-Requests", cfg.MaxRequests, interval))
	}

	// Mount the API and media routers
	r.Mount("/api", a)
	r.Mount("/{org}/{channel}", m)

	store, err := storage.NewFSObjectStore(cfg.StoreRoot)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	kv, err := storage.OpenBadger(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("kv store: %w", err)
	}

	var queue storage.Queue
	var cacheKV storage.KV = kv
	if cfg.RedisAddr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
		queue = storage.NewRedisQueue(rdb)
		cacheKV = storage.NewRedisKV(rdb)
	} else {
		queue = storage.NewMemoryQueue()
	}

	resolver := vast.NewResolver(
		&http.Client{Timeout: 5 * time.Second},
		&storage.BodyCache{KV: cacheKV, TTL: vastCacheTTL})
	engine := decision.NewEngine(resolver, store)

	producer := beacon.NewProducer(queue)
	consumer := beacon.NewConsumer(queue, kv)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("beacon consumer stopped", "err", err)
		}
	}()

	origin := NewOriginClient(time.Duration(cfg.TimeoutS) * time.Second)
	channels := NewChannelStore(store)
	breaks := NewBreakStore(kv)

	server := Server{
		Router:      r,
		MediaRouter: m,
		APIRouter:   a,
		Cfg:         cfg,
		coordinator: NewCoordinator(channels, breaks, engine, origin, producer),
		channels:    channels,
		breaks:      breaks,
		origin:      origin,
		auth:        auth,
		queue:       queue,
	}

	if err := server.Routes(ctx); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	slog.Info("splicer starting", "version", internal.GetVersion(), "port", cfg.Port)

	return &server, nil
}
