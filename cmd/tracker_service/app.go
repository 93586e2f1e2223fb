package trackerservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/general/config"
	"fleet-tracker/internal/general/gtfsrt"
	"fleet-tracker/internal/general/jwt"
	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/general/otel"
	"fleet-tracker/internal/general/postgres"
	"fleet-tracker/internal/general/rabbitmq"
	"fleet-tracker/internal/general/websocket"
	"fleet-tracker/internal/software/tracking/feed"
	"fleet-tracker/internal/software/tracking/handler"
	"fleet-tracker/internal/software/tracking/presence"
	"fleet-tracker/internal/software/tracking/service"
)

const serviceName = "tracker-service"

// Options are the command-line knobs of the tracker service.
type Options struct {
	ConfigPath    string
	Prefetch      int
	MaxConcurrent int
}

func Run(ctx context.Context, opts Options) error {
	// set up a new logger for the tracker with a static request ID for startup logs
	logger := logger.New(serviceName)
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load configuration
	cfg, err := config.LoadFromFile(opts.ConfigPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load config", err, map[string]any{"path": opts.ConfigPath})
		return err
	}
	if opts.Prefetch > 0 {
		cfg.RabbitMQ.Prefetch = opts.Prefetch
	}

	// tracing is a no-op unless an endpoint is configured
	shutdownTracing, err := otel.Setup(ctx, serviceName, cfg.OTel.Endpoint)
	if err != nil {
		logger.Warn(ctx, "otel_setup_failed", "Tracing disabled", err, nil)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shCtx)
	}()

	// set up the JWT manager
	jwtManager, err := jwt.NewManager(cfg.JWT.SecretKey, cfg.JWT.TTL)
	if err != nil {
		logger.Error(ctx, "jwt_setup_failed", "Failed to set up JWT manager", err, nil)
		return err
	}

	// set up the tracking pipeline: adapter -> store -> hub -> listeners
	svc := service.NewTrackingService(logger, service.Config{
		PathCapacity: cfg.Tracker.PathCapacity,
		Presence: presence.Config{
			StaleAfter:      cfg.Tracker.StaleAfter,
			LivenessTimeout: cfg.Tracker.LivenessTimeout,
			PruneInterval:   cfg.Tracker.PruneInterval,
			CountInterval:   cfg.Tracker.CountInterval,
		},
	})
	defer svc.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	// Postgres: seed + archive
	if cfg.Database.Enabled {
		pool, err := postgres.NewPool(ctx, cfg, logger)
		if err != nil {
			logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
			return err
		}
		defer pool.Close()

		entityType, err := geo.ParseEntityType(cfg.Database.EntityType)
		if err != nil {
			return fmt.Errorf("database.entity_type: %w", err)
		}

		if cfg.Database.SeedOnStart {
			seedCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := svc.Seed(seedCtx, postgres.NewCurrentPositionsRepo(pool, entityType))
			cancel()
			if err != nil {
				logger.Error(ctx, "seed_failed", "Failed to seed from database; starting empty", err, nil)
			}
		}

		archiver := service.NewArchiver(logger, postgres.NewUnitOfWork(pool), postgres.NewLocationHistoryRepo(), service.ArchiveConfig{
			EntityType:    entityType,
			Queue:         cfg.Database.ArchiveQueue,
			Batch:         cfg.Database.ArchiveBatch,
			FlushInterval: cfg.Database.FlushInterval,
		})
		unsubscribe := svc.Subscribe(archiver.Observe)
		defer unsubscribe()
		g.Go(func() error { return archiver.Run(gctx) })
	}

	// RabbitMQ feed
	if cfg.RabbitMQ.Enabled {
		rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
		if err != nil {
			logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
			return err
		}
		defer rmq.Close()

		conn := svc.Adapter().Open("rabbitmq", rabbitmq.NewSnapshotRequester(rmq, serviceName))
		g.Go(func() error {
			defer conn.Close()
			return feed.ConsumeRabbit(gctx, rmq, conn, cfg.RabbitMQ.Prefetch, logger)
		})
	}

	// upstream WebSocket feeds
	for _, fc := range cfg.Feeds {
		client := websocket.NewFeedClient(fc.Name, fc.URL, fc.Token, logger)
		conn := svc.Adapter().Open("ws:"+fc.Name, client)
		client.Bind(conn)
		g.Go(func() error {
			defer conn.Close()
			return client.Run(gctx)
		})
	}

	// GTFS-RT poller
	if cfg.GTFSRT.URL != "" {
		poller := gtfsrt.NewPoller(cfg.GTFSRT.URL, cfg.GTFSRT.Interval, cfg.GTFSRT.Timeout, logger)
		conn := svc.Adapter().Open("gtfsrt", poller)
		poller.Bind(conn)
		g.Go(func() error {
			defer conn.Close()
			return poller.Run(gctx)
		})
	}

	// set up the viewer websocket and the HTTP routes
	ws := websocket.NewWebSocket(logger, jwtManager, svc, cfg.Tracker.ViewerQueue)
	mux := http.NewServeMux()
	httpHandler := handler.NewTrackingHTTPHandler(svc, logger, jwtManager, ws, cfg.JWT.DevTokens)
	httpHandler.RegisterRoutes(mux)

	// global concurrency limiter, blocks while at capacity
	limitedHandler := withConcurrencyLimit(opts.MaxConcurrent, mux)

	// set up the server configurations
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.TrackerServicePort), // listen on the specified port
		Handler:           limitedHandler,                                      // apply the concurrency limiter to HTTP handler
		ReadHeaderTimeout: 5 * time.Second,                                     // time to read headers
		ReadTimeout:       10 * time.Second,                                    // time to read full request body
		IdleTimeout:       60 * time.Second,                                    // keep-alive window
		BaseContext:       func(net.Listener) context.Context { return gctx },  // pass base ctx to all handlers
	}

	// log service start
	logger.Info(ctx, "service_started",
		fmt.Sprintf("Tracker Service started on port %d", cfg.Services.TrackerServicePort),
		map[string]any{
			"port":           cfg.Services.TrackerServicePort,
			"max_concurrent": opts.MaxConcurrent,
			"rabbitmq":       cfg.RabbitMQ.Enabled,
			"feeds":          len(cfg.Feeds),
			"gtfsrt":         cfg.GTFSRT.URL != "",
			"database":       cfg.Database.Enabled,
		},
	)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err, map[string]any{"port": cfg.Services.TrackerServicePort})
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
		return nil
	})

	err = g.Wait()
	logger.Info(ctx, "service_stopped", "Tracker Service stopped", map[string]any{"entities": len(svc.Entities())})
	return err
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time.
// WebSocket upgrades are long-lived and bypass the limiter.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gorillaws.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
