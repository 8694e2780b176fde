package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	s3blob "tidebridge/internal/blob/s3"
	"tidebridge/internal/bridge"
	"tidebridge/internal/cache/redis"
	"tidebridge/internal/config"
	"tidebridge/internal/escrow"
	"tidebridge/internal/events"
	"tidebridge/internal/notify"
	"tidebridge/internal/observability"
	"tidebridge/internal/persistence"
	"tidebridge/internal/position"
	"tidebridge/internal/query"
	"tidebridge/internal/relay"
	"tidebridge/internal/server"
	"tidebridge/internal/server/handler"
)

const (
	persistChanSize = 1024
	publishChanSize = 4096
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: tidebridge starting...")

	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.ConnString())
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: run migrations: %v", err)
		}
		log.Println("INFO: migrations applied")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Relay identity ---
	identity, err := relay.NewIdentity(cfg.Relay.PrivateKey)
	if err != nil {
		log.Fatalf("FATAL: relay identity: %v", err)
	}
	log.Printf("INFO: relay address %s", identity.Address().Hex())

	// --- Channels ---
	// The persist channel blocks (backpressure into Submit); the publish
	// channel drops on overflow and stays nil when NATS is off.
	persistChan := make(chan escrow.Output, persistChanSize)
	var publishChan chan escrow.Output
	if cfg.NATS.Enabled {
		publishChan = make(chan escrow.Output, publishChanSize)
	}

	// --- Escrow ledger + state restore ---
	led := escrow.NewLedger(escrow.Config{
		RelayAddress: identity.Address(),
		PendingCap:   cfg.Ledger.PendingCap,
		MinDeposits:  cfg.Ledger.MinDeposits,
	}, persistChan, publishChan, metrics)

	st, err := persistence.LoadState(ctx, db)
	if err != nil {
		log.Fatalf("FATAL: load state: %v", err)
	}
	led.RestoreState(st.Requests, st.Balances, st.Positions, st.NextRequestID, st.EventSeq, st.JournalSeq)
	log.Printf("INFO: state restored (requests=%d pending=%d processing=%d positions=%d seq=%d)",
		len(st.Requests), st.PendingCount(), st.ProcessingCount(), len(st.Positions), st.EventSeq)

	// --- Position ledger ---
	var positions position.Ledger
	switch cfg.Positions.Mode {
	case "http":
		positions = position.NewClient(cfg.Positions.BaseURL, cfg.Positions.APIKey)
		log.Printf("INFO: position ledger: remote at %s", cfg.Positions.BaseURL)
	default:
		positions = position.NewMemoryLedger(cfg.Worker.PositionTypes, cfg.Worker.Strategies)
		log.Println("INFO: position ledger: in-memory")
	}

	// --- Notifier ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.Events,
		observability.NewLoggerWithLevel("notify", level))
	if len(senders) > 0 {
		log.Printf("INFO: notifications enabled (%d channel(s))", len(senders))
	}

	// --- Bridge worker + scheduler ---
	worker := bridge.NewWorker(led, positions, identity, bridge.WorkerConfig{
		PositionTypes: cfg.Worker.PositionTypes,
		Strategies:    cfg.Worker.Strategies,
	}, publishChan, metrics)
	worker.Index().Rebuild(st.Positions)

	sched, err := bridge.NewScheduler(worker, bridge.SchedulerConfig{
		Bands:      cfg.Scheduler.BandTable(),
		BatchLimit: cfg.Scheduler.BatchLimit,
	}, notifier, metrics)
	if err != nil {
		log.Fatalf("FATAL: scheduler: %v", err)
	}

	// --- Worker lease (Redis) ---
	var acquireLease func(ctx context.Context, key string, ttl time.Duration) (bridge.Lease, error)
	if cfg.Worker.LeaseEnabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			log.Fatalf("FATAL: redis connect: %v", err)
		}
		defer redisClient.Close()

		locks := redis.NewLockManager(redisClient)
		acquireLease = func(ctx context.Context, key string, ttl time.Duration) (bridge.Lease, error) {
			lock, err := locks.Acquire(ctx, key, ttl)
			if err != nil {
				return nil, err
			}
			return lock, nil
		}
		log.Println("INFO: Redis connected, worker lease enabled")
	} else {
		log.Println("WARN: worker lease disabled, do not run more than one instance")
	}

	runner := bridge.NewRunner(worker, sched, led, bridge.RunnerConfig{
		RecoverOnStart:    cfg.Worker.RecoverOnStart,
		LeaseKey:          cfg.Worker.LeaseKey,
		LeaseTTL:          cfg.Worker.LeaseTTL.Duration,
		LeaseRefreshEvery: cfg.Worker.LeaseRefresh.Duration,
		LeaseRetryEvery:   cfg.Worker.LeaseRetry.Duration,
		InvariantEvery:    cfg.Worker.InvariantCheckInterval.Duration,
	}, acquireLease, notifier)

	// --- NATS ---
	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		nc, js, err := events.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		log.Println("INFO: NATS connected")

		if err := events.EnsureStream(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure stream: %v", err)
		}
		publisher = events.NewPublisher(js, publishChan, metrics)
	}

	// --- Archiver (S3) ---
	var archiver *persistence.Archiver
	if cfg.Archive.Enabled {
		blobClient, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			log.Fatalf("FATAL: archive store: %v", err)
		}
		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		archiver = persistence.NewArchiver(db, s3blob.NewWriter(blobClient), retention, metrics)
		log.Printf("INFO: archive enabled (bucket=%s retention=%dd)", cfg.Archive.Bucket, cfg.Archive.RetentionDays)
	}

	// --- HTTP API ---
	queryService := query.NewQueryService(db, metrics)
	apiLogger := observability.NewLoggerWithLevel("api", level)
	apiServer := server.NewServer(server.Config{
		Port:     cfg.Server.Port,
		APIKey:   cfg.Server.APIKey,
		AdminKey: cfg.Server.AdminKey,
	}, server.Handlers{
		Requests:  handler.NewRequestHandler(led, queryService, apiLogger),
		Escrow:    handler.NewEscrowHandler(queryService, apiLogger),
		Positions: handler.NewPositionHandler(queryService, apiLogger),
		Admin:     handler.NewAdminHandler(led, worker, sched, apiLogger),
	}, apiLogger)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Persistence worker. Runs on its own context: shutdown is driven by
	// closing the persist channel so the final drain flushes every event the
	// ledger emitted.
	persistWorker := persistence.NewWorker(db, persistChan, 0, 0, metrics)
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(context.Background()); err != nil {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	// 2. Event publisher
	if publisher != nil {
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	}

	// 3. Bridge runner (lease, recovery, scheduler, invariant watchdog)
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		errChan <- runner.Run(ctx)
	}()

	// 4. Archiver
	if archiver != nil {
		go func() {
			errChan <- archiver.RunEvery(ctx, cfg.Archive.Interval.Duration)
		}()
	}

	// 5. HTTP API server
	go func() {
		log.Printf("INFO: API server listening on :%d", cfg.Server.Port)
		errChan <- apiServer.Start()
	}()

	// 6. Metrics + health server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsMux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		metricsMux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
		metricsServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on :%d/metrics", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 7. Channel monitor
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				if publishChan != nil {
					metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				}
			}
		}
	}()

	healthChecker.SetReady(true)
	log.Printf("INFO: tidebridge ready (api=:%d, metrics=:%d, backlog=%d)",
		cfg.Server.Port, cfg.Server.MetricsPort, led.Backlog())
	_ = notifier.NotifyAll(ctx, "tidebridge started",
		fmt.Sprintf("api on :%d, backlog %d", cfg.Server.Port, led.Backlog()))

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	// Stop intake first, then the worker, and close the persist channel only
	// after both are quiet so nothing sends on a closed channel.
	healthChecker.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: %v", err)
	}

	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		log.Println("WARN: bridge worker did not stop in time")
	}

	close(persistChan)
	select {
	case <-persistDone:
		log.Println("INFO: event log flushed")
	case <-shutdownCtx.Done():
		log.Println("WARN: persistence worker did not drain in time")
	}

	log.Println("INFO: tidebridge shutdown complete")
}
