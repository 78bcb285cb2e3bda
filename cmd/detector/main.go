// Package main runs the token detector as a long-lived process with its
// HTTP API and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sol-beast/internal/api"
	"sol-beast/internal/domain"
	"sol-beast/internal/engine"
	"sol-beast/internal/handoff"
	"sol-beast/internal/runtime"
	"sol-beast/internal/state"
	"sol-beast/internal/storage"
	chstore "sol-beast/internal/storage/clickhouse"
	"sol-beast/internal/storage/memory"
	"sol-beast/internal/storage/migrations"
	pgstore "sol-beast/internal/storage/postgres"
	redisstore "sol-beast/internal/storage/redis"
	"sol-beast/internal/storage/sqlite"
)

type config struct {
	rpcURLs           string
	wsURLs            string
	kvBackend         string
	sqlitePath        string
	postgresDSN       string
	redisAddr         string
	redisPassword     string
	redisDB           int
	clickhouseDSN     string
	kafkaBrokers      string
	kafkaTopic        string
	runtime           string
	httpAddr          string
	rejectionPatterns string
	autoStart         bool
}

func main() {
	// A missing .env is fine; the environment is used as is.
	_ = godotenv.Load()

	cfg := parseFlags()
	logger := log.New(os.Stdout, "[detector] ", log.LstdFlags|log.Lshortfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, closeKV, err := openKV(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open %s store: %v", cfg.kvBackend, err)
	}
	defer closeKV()

	store := state.NewStore(kv, state.StoreOptions{Logger: logger})
	store.Load(ctx)
	if err := applyURLOverrides(store, cfg); err != nil {
		logger.Fatalf("Invalid endpoint configuration: %v", err)
	}

	var archive storage.DetectionArchive
	if cfg.clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to prepare ClickHouse archive: %v", err)
		}
		defer conn.Close()
		archive = chstore.NewDetectionArchive(conn)
		logger.Println("Archiving detections to ClickHouse")
	}

	var executor handoff.Executor = handoff.NewLogExecutor(logger)
	if cfg.kafkaBrokers != "" {
		kafka, err := handoff.NewKafkaExecutor(cfg.kafkaBrokers, cfg.kafkaTopic)
		if err != nil {
			logger.Fatalf("Failed to create Kafka executor: %v", err)
		}
		defer kafka.Close()
		executor = kafka
		logger.Printf("Handing accepted tokens to Kafka topic %s", cfg.kafkaTopic)
	}

	runner, err := newRunner(cfg.runtime, logger)
	if err != nil {
		logger.Fatal(err)
	}

	eng := engine.New(engine.Options{
		Store:             store,
		Runner:            runner,
		Executor:          executor,
		Archive:           archive,
		Logger:            logger,
		RejectionPatterns: splitList(cfg.rejectionPatterns),
	})

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           api.NewServer(eng, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Printf("Starting HTTP server on %s", cfg.httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()

	if cfg.autoStart {
		if err := eng.Start(ctx); err != nil {
			logger.Printf("Auto start failed: %v", err)
		}
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	select {
	case sig := <-sigCh:
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case <-ctx.Done():
	}

	go func() {
		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	shutdown(eng, srv, runner, logger)
	close(done)
	logger.Println("Shutdown complete")
}

func shutdown(eng *engine.Engine, srv *http.Server, runner runtime.Runner, logger *log.Logger) {
	if eng.Running() {
		if err := eng.Stop(); err != nil {
			logger.Printf("Stop engine: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	if err := runner.Wait(); err != nil {
		logger.Printf("Task error: %v", err)
	}
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.rpcURLs, "rpc-urls", os.Getenv("SOLANA_RPC_URLS"), "Comma-separated Solana RPC HTTP endpoints (overrides stored settings)")
	flag.StringVar(&cfg.wsURLs, "ws-urls", os.Getenv("SOLANA_WS_URLS"), "Comma-separated Solana WebSocket endpoints (overrides stored settings)")
	flag.StringVar(&cfg.kvBackend, "kv-backend", envOr("KV_BACKEND", "sqlite"), "Settings store: memory, sqlite, postgres, redis")
	flag.StringVar(&cfg.sqlitePath, "sqlite-path", envOr("SQLITE_PATH", "sol-beast.db"), "SQLite database file")
	flag.StringVar(&cfg.postgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	flag.StringVar(&cfg.redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.StringVar(&cfg.redisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	flag.IntVar(&cfg.redisDB, "redis-db", envInt("REDIS_DB", 0), "Redis database number")
	flag.StringVar(&cfg.clickhouseDSN, "clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse DSN for the detection archive (optional)")
	flag.StringVar(&cfg.kafkaBrokers, "kafka-brokers", os.Getenv("KAFKA_BROKERS"), "Comma-separated Kafka brokers for trade handoff (optional)")
	flag.StringVar(&cfg.kafkaTopic, "kafka-topic", envOr("KAFKA_TOPIC", "sol-beast.buy-intents"), "Kafka topic for accepted tokens")
	flag.StringVar(&cfg.runtime, "runtime", envOr("RUNTIME", "threaded"), "Task runtime: threaded or eventloop")
	flag.StringVar(&cfg.httpAddr, "http-addr", envOr("HTTP_ADDR", ":8080"), "HTTP API and metrics address")
	flag.StringVar(&cfg.rejectionPatterns, "rejection-patterns", os.Getenv("REJECTION_PATTERNS"), "Comma-separated transport rejection patterns (replaces defaults)")
	flag.BoolVar(&cfg.autoStart, "auto-start", envBool("AUTO_START", false), "Start detection immediately")
	flag.Parse()
	return cfg
}

func openKV(ctx context.Context, cfg config) (storage.KV, func(), error) {
	switch strings.ToLower(cfg.kvBackend) {
	case "memory":
		return memory.NewKVStore(), func() {}, nil
	case "sqlite":
		kv, err := sqlite.Open(ctx, cfg.sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { kv.Close() }, nil
	case "postgres":
		if cfg.postgresDSN == "" {
			return nil, nil, errors.New("--postgres-dsn is required")
		}
		pool, err := pgstore.NewPool(ctx, cfg.postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.NewKVStore(pool), pool.Close, nil
	case "redis":
		kv, err := redisstore.NewKVStore(ctx, redisstore.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return kv, func() { kv.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown kv backend %q", cfg.kvBackend)
	}
}

// applyURLOverrides replaces the stored endpoint lists with those given on
// the command line.
func applyURLOverrides(store *state.Store, cfg config) error {
	rpc, ws := splitList(cfg.rpcURLs), splitList(cfg.wsURLs)
	if rpc == nil && ws == nil {
		return nil
	}
	s := store.Settings()
	if rpc != nil {
		s.SolanaRPCURLs = rpc
	}
	if ws != nil {
		s.SolanaWSURLs = ws
	} else {
		s.SolanaWSURLs = make([]string, len(rpc))
		for i, u := range rpc {
			s.SolanaWSURLs[i] = domain.DuplexURL(u)
		}
	}
	return store.UpdateSettings(s)
}

func newRunner(kind string, logger *log.Logger) (runtime.Runner, error) {
	switch strings.ToLower(kind) {
	case "", "threaded":
		return runtime.NewThreaded(logger), nil
	case "eventloop", "event-loop":
		return runtime.NewEventLoop(logger), nil
	default:
		return nil, fmt.Errorf("unknown runtime %q", kind)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
