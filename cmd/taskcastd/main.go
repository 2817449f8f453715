// Command taskcastd runs the Taskcast server: HTTP/JSON task API, SSE
// event streaming, webhook dispatch, and background cleanup, grounded on
// the teacher's RunServer/serveUntilSignal bootstrap in
// internal/delivery/server/bootstrap/server.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	apihttp "github.com/taskcast/taskcast/internal/api/http"
	"github.com/taskcast/taskcast/internal/async"
	"github.com/taskcast/taskcast/internal/auth"
	"github.com/taskcast/taskcast/internal/broadcast"
	"github.com/taskcast/taskcast/internal/cleanup"
	"github.com/taskcast/taskcast/internal/config"
	"github.com/taskcast/taskcast/internal/logging"
	"github.com/taskcast/taskcast/internal/observability"
	"github.com/taskcast/taskcast/internal/store"
	"github.com/taskcast/taskcast/internal/store/longterm"
	"github.com/taskcast/taskcast/internal/store/shortterm"
	"github.com/taskcast/taskcast/internal/taskengine"
	"github.com/taskcast/taskcast/internal/taskengine/task"
	"github.com/taskcast/taskcast/internal/webhook"
)

func main() {
	logger := logging.NewComponentLogger("taskcastd")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config: %v", err)
		os.Exit(1)
	}

	shortTerm, lister, closeShortTerm, err := buildShortTerm(cfg, logger)
	if err != nil {
		logger.Error("short-term store: %v", err)
		os.Exit(1)
	}
	defer closeShortTerm()

	longTerm, closeLongTerm, err := buildLongTerm(cfg)
	if err != nil {
		logger.Error("long-term store: %v", err)
		os.Exit(1)
	}
	if closeLongTerm != nil {
		defer closeLongTerm()
	}

	provider, closeProvider, err := buildBroadcast(cfg, logger)
	if err != nil {
		logger.Error("broadcast provider: %v", err)
		os.Exit(1)
	}
	defer closeProvider()

	metrics := observability.NewTaskMetrics()
	dispatcher := webhook.New(func(cfg task.WebhookConfig, evt *task.TaskEvent, err error) {
		logger.Warn("webhook delivery to %s exhausted: %v", cfg.URL, err)
	})

	engineOpts := []taskengine.Option{
		taskengine.WithLogger(logger),
		taskengine.WithMetrics(metrics),
	}
	if longTerm != nil {
		engineOpts = append(engineOpts, taskengine.WithLongTerm(longTerm))
	}
	engine := taskengine.New(shortTerm, provider, engineOpts...)

	schedulerOpts := []cleanup.Option{
		cleanup.WithGlobalRules(cfg.Cleanup),
		cleanup.WithLogger(logging.NewComponentLogger("cleanup.scheduler")),
	}
	if longTerm != nil {
		schedulerOpts = append(schedulerOpts, cleanup.WithLongTerm(longTerm))
	}
	scheduler := cleanup.NewScheduler(shortTerm, lister, schedulerOpts...)
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	scheduler.Start(schedulerCtx)
	defer cancelScheduler()

	resolver := auth.NewResolver(cfg.AuthMode, cfg.JWT)
	handler := apihttp.NewTaskHandler(engine, resolver,
		apihttp.WithWebhookDispatcher(dispatcher),
		apihttp.WithLogger(logging.NewComponentLogger("api.http")),
	)
	router := apihttp.NewRouter(handler, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE connections can stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	if err := serveUntilSignal(server, logger); err != nil {
		logger.Error("server: %v", err)
		os.Exit(1)
	}
}

func serveUntilSignal(server *http.Server, logger logging.Logger) error {
	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("taskcastd listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("shutting down taskcastd...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		return serveErr
	}
}

func buildShortTerm(cfg config.Config, logger logging.Logger) (store.ShortTermStore, cleanup.TaskLister, func(), error) {
	if strings.HasPrefix(cfg.ShortTerm, "redis://") {
		client := redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(cfg.ShortTerm, "redis://")})
		s := shortterm.NewRedis(client, "taskcast")
		return s, nil, func() { _ = client.Close() }, nil
	}
	mem := shortterm.NewMemory(shortterm.WithLogger(logger))
	return mem, mem, func() { mem.Close() }, nil
}

func buildLongTerm(cfg config.Config) (store.LongTermStore, func(), error) {
	switch {
	case cfg.LongTerm == "":
		return nil, nil, nil
	case strings.HasPrefix(cfg.LongTerm, "postgres://"), strings.HasPrefix(cfg.LongTerm, "postgresql://"):
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgxpool.New(ctx, cfg.LongTerm)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		pg := longterm.NewPostgres(pool, "taskcast")
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return pg, func() { pool.Close() }, nil
	case cfg.LongTerm == "memory":
		return longterm.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized longTerm adapter %q", cfg.LongTerm)
	}
}

func buildBroadcast(cfg config.Config, logger logging.Logger) (broadcast.Provider, func() error, error) {
	if strings.HasPrefix(cfg.Broadcast, "redis://") {
		client := redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(cfg.Broadcast, "redis://")})
		p := broadcast.NewRedis(client, "taskcast", logging.NewComponentLogger("broadcast.redis"))
		return p, func() error { closeErr := p.Close(); _ = client.Close(); return closeErr }, nil
	}
	p := broadcast.NewLocal()
	return p, p.Close, nil
}
