package main

import (
	"EscrowLedger/internal/auth"
	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"
	"EscrowLedger/internal/query"
	"EscrowLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.NewLogger("escrowledger")

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("escrowledger stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("escrowledger shutdown complete")
}

func run(ctx context.Context, cfg Config, logger zerolog.Logger) error {
	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if err := persistence.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Core ---
	// persist blocks (backpressure), projection drops when full
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	commands := make(chan core.Command, cfg.CommandChanSize)
	snapshots := make(chan *core.SnapshotState, 1)

	snapMgr := persistence.NewSnapshotManager(db)
	escrowCore := core.NewEscrowCore(
		0,
		cfg.SettlementMode,
		persistCoreChan,
		projectionCoreChan,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
		observability.NewLogger("core"),
	)

	if err := restore(ctx, snapMgr, escrowCore, metrics, logger); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if err := projection.Rebuild(ctx, db, escrowCore.CreateSnapshotState(), observability.NewLogger("projection")); err != nil {
		return fmt.Errorf("projection rebuild: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// 1. Core loop. Its output channels close when it stops so the
	// persistence pipeline drains behind it.
	var finalSnapshot *core.SnapshotState
	g.Go(func() error {
		defer close(projectionCoreChan)
		defer close(persistCoreChan)
		err := escrowCore.Run(gctx, commands, core.SnapshotPolicy{Interval: cfg.SnapshotInterval, Out: snapshots})
		finalSnapshot = escrowCore.CreateSnapshotState()
		return err
	})

	// 2. Persistence: bridge to the row format, then batch-write. Runs on
	// a detached context and stops once the core's output is drained.
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	g.Go(func() error {
		defer close(persistWorkerChan)
		for out := range persistCoreChan {
			persistWorkerChan <- persistence.FromCore(out)
		}
		return nil
	})
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan,
		cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	g.Go(func() error {
		return persistWorker.Run(context.WithoutCancel(gctx))
	})

	// 3. Snapshots
	saver := &snapshotSaver{snapMgr: snapMgr, metrics: metrics, logger: observability.NewLogger("snapshot"), pollWait: time.Second}
	g.Go(func() error {
		return saver.Run(gctx, snapshots)
	})

	// 4. Projection worker; applied outputs are announced on NATS
	var publishChan chan ingestion.PublishableEvent
	if cfg.EnableNATS {
		publishChan = make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	}
	projWorker := projection.NewProjectionWorker(db, projectionCoreChan, metrics, observability.NewLogger("projection"))
	if publishChan != nil {
		projWorker.OnApplied(func(out core.CoreOutput) {
			select {
			case publishChan <- ingestion.Applied(out):
			default:
				metrics.PublishDrops.Inc()
			}
		})
	}
	g.Go(func() error {
		return projWorker.Run(gctx)
	})

	// 5. NATS ingestion and outbound publishing
	if cfg.EnableNATS {
		if err := startNATS(gctx, g, cfg, commands, publishChan, metrics); err != nil {
			return err
		}
	}

	// 6. gRPC + HTTP gateway
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Commands:      ingestion.NewGRPCIngestService(commands),
		Reads:         query.NewQueryService(db, query.DecimalConfig{Decimals: cfg.TokenDecimals}),
		EventLog:      snapMgr,
		Authenticator: auth.NewAuthenticator([]byte(cfg.JWTSecret), server.PublicMethods...),
		StartTime:     time.Now().UTC(),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})
	g.Go(func() error {
		return grpcServer.StartGRPC(gctx)
	})
	g.Go(func() error {
		return grpcServer.StartHTTPGateway(gctx)
	})

	// 7. Prometheus metrics and channel gauges
	g.Go(func() error {
		return serveMetrics(gctx, cfg.MetricsAddr, logger)
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				metrics.SetChannelMetrics("commands", len(commands), cap(commands))
				metrics.SetChannelMetrics("persist", len(persistCoreChan), cap(persistCoreChan))
				metrics.SetChannelMetrics("projection", len(projectionCoreChan), cap(projectionCoreChan))
			}
		}
	})

	healthChecker.SetReady(true)
	logger.Info().
		Int64("next_sequence", escrowCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Bool("nats", cfg.EnableNATS).
		Msg("escrowledger ready")

	err = g.Wait()
	healthChecker.SetReady(false)

	// Final snapshot, after the persistence worker flushed everything.
	if finalSnapshot != nil && finalSnapshot.Sequence >= 0 {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if serr := saver.save(shutdownCtx, finalSnapshot); serr != nil {
			logger.Error().Err(serr).Msg("final snapshot failed")
		}
	}
	return err
}

func startNATS(
	ctx context.Context,
	g *errgroup.Group,
	cfg Config,
	commands chan<- core.Command,
	publishChan chan ingestion.PublishableEvent,
	metrics *observability.Metrics,
) error {
	natsLogger := observability.NewLogger("nats")

	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
		nc.Close()
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
		nc.Close()
		return fmt.Errorf("ensure outbound stream: %w", err)
	}

	subjects := ingestion.DefaultSubjects()
	rawChan := make(chan ingestion.RawEvent, cfg.CommandChanSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
	if err := subscriber.Subscribe(ctx, subjects); err != nil {
		nc.Close()
		return fmt.Errorf("nats subscribe: %w", err)
	}

	pump := ingestion.NewCommandPump(subjects, commands, publishChan, []byte(cfg.JWTSecret), observability.NewLogger("ingestion"))
	pump.OnPublishDropped(metrics.PublishDrops.Inc)
	publisher := ingestion.NewOutboundPublisher(js, publishChan, natsLogger)

	g.Go(func() error {
		return pump.Run(ctx, rawChan)
	})
	g.Go(func() error {
		return publisher.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		subscriber.Stop()
		return nc.Drain()
	})
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
