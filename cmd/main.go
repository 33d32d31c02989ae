package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"manifold/src/api"
	"manifold/src/config"
	"manifold/src/logging"
	"manifold/src/metrics"
	"manifold/src/middleware"
	"manifold/src/server"
	"manifold/src/shard"
	"manifold/src/upstream"
	"manifold/src/utils"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (non-fatal if missing).
	_ = godotenv.Load()
	logging.Configure()

	cfg, err := config.Load()
	if err != nil {
		logging.Log.WithError(err).Fatal("invalid configuration")
	}

	start := time.Now()
	shards := make([]*shard.Shard, 0, len(cfg.ShardIDs))
	for _, id := range cfg.ShardIDs {
		session, err := upstream.New(cfg.Token, id, cfg.ShardCount, cfg.Intents)
		if err != nil {
			logging.Log.WithError(err).Fatal("failed to build upstream session")
		}
		shards = append(shards, shard.New(id, session, cfg.BusCapacity))
	}

	r := chi.NewRouter()
	middleware.Setup(r)

	// The socket route is exempt from the REST rate limiter; abusive socket
	// peers are throttled per connection instead.
	r.Handle("/gateway", server.New(shards))
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware(10, cfg.BehindProxy))
		r.Get("/healthz", api.HealthHandler(shards, start))
		r.Handle("/metrics", metrics.Handler())
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No Read/WriteTimeout: hijacked gateway connections inherit any
		// deadline set here and would be cut off mid-session.
	}

	for _, sh := range shards {
		if err := sh.Start(); err != nil {
			logging.Log.WithError(err).WithField("shard", sh.ID).Fatal("failed to start shard")
		}
	}

	go func() {
		logging.Log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Log.WithError(err).Fatal("http server error")
		}
	}()

	waitForShutdown(srv, shards)
}

func waitForShutdown(srv *http.Server, shards []*shard.Shard) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logging.Log.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	// Stopping a shard drains its dispatch loop and closes the bus, which
	// sends a going-away close to every attached client.
	for _, sh := range shards {
		sh.Stop()
	}
}
