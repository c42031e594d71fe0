package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"dropmint/internal/cache"
	"dropmint/internal/config"
	"dropmint/internal/handler"
	"dropmint/internal/observer"
	"dropmint/internal/reservation"
	"dropmint/internal/router"
	"dropmint/internal/rpcpool"
	"dropmint/internal/store"
	"dropmint/internal/sweeper"
	"dropmint/pkg/money"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting dropmint...")

	cfg := config.MustLoad()
	log.Printf("Environment: %s", cfg.App.Environment)

	st, err := newStore(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer st.Close()
	log.Printf("%s store initialized", cfg.Store.Type)

	pricePerItem, err := money.Parse(cfg.Mint.PricePerItem)
	if err != nil {
		log.Fatalf("Invalid PRICE_PER_ITEM %q: %v", cfg.Mint.PricePerItem, err)
	}

	pool := rpcpool.New(buildEndpoints(cfg.RPC))
	engine := reservation.New(st, pricePerItem, cfg.Mint.MaxSupply, cfg.Mint.PaymentAddress)

	blockScanner := observer.NewBlockScanner(st, pool, engine, cfg.Mint.PaymentAddress)
	mempoolScanner := observer.NewMempoolScanner(st, pool, engine, cfg.Mint.PaymentAddress)

	sweepScheduler := sweeper.New(st, engine, sweeper.Config{
		PendingTimeout:        cfg.Mint.PendingTimeout,
		PaymentPendingTimeout: cfg.Mint.PaymentPendingTTL,
		SweepInterval:         sweeper.DefaultConfig().SweepInterval,
	})
	sweepScheduler.Start()
	defer sweepScheduler.Stop()

	scanCtx, cancelScan := context.WithCancel(context.Background())
	defer cancelScan()
	go blockScanner.Run(scanCtx)
	go mempoolScanner.Run(scanCtx)

	responseCache := newCache(cfg.Cache)

	healthHandler := handler.NewHealthHandler()
	mintHandler := handler.NewMintHandler(st, responseCache, cfg.Cache.TTL, cfg.Mint.MaxSupply)
	intentHandler := handler.NewIntentHandler(engine)
	statusHandler := handler.NewStatusHandler(st, cfg.Mint.PendingTimeout)

	r := router.New(router.Config{
		HealthHandler: healthHandler,
		MintHandler:   mintHandler,
		IntentHandler: intentHandler,
		StatusHandler: statusHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server listening on %s", cfg.Server.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	cancelScan()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
	fmt.Println("Goodbye!")
}

func newStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "postgres", "postgresql":
		return store.NewPostgresStore(cfg.PostgresDSN())
	case "mysql":
		return store.NewMySQLStore(cfg.MySQLDSN())
	default:
		return store.NewSQLiteStore(cfg.Path)
	}
}

func newCache(cfg config.CacheConfig) cache.Cache {
	if cfg.Type == "redis" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.RedisAddress(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("Warning: Redis cache unavailable (%v), falling back to memory cache", err)
			return cache.NewMemoryCache()
		}
		log.Println("Redis cache initialized")
		return redisCache
	}
	return cache.NewMemoryCache()
}

// buildEndpoints parses the three parallel comma-separated lists in
// RPCConfig into endpoints. Names and daily limits default to
// repeating their last entry if shorter than the URL list.
func buildEndpoints(cfg config.RPCConfig) []*rpcpool.Endpoint {
	urls := splitNonEmpty(cfg.URLs)
	names := splitNonEmpty(cfg.Names)
	limits := splitNonEmpty(cfg.DailyLimits)

	endpoints := make([]*rpcpool.Endpoint, 0, len(urls))
	for i, url := range urls {
		name := valueAt(names, i, fmt.Sprintf("endpoint-%d", i+1))
		limit := parseLimit(valueAt(limits, i, ""), rpcpool.DefaultDailyLimit)
		endpoints = append(endpoints, rpcpool.NewEndpoint(name, url, limit))
	}
	return endpoints
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func valueAt(values []string, i int, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	if i < len(values) {
		return values[i]
	}
	return values[len(values)-1]
}

func parseLimit(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
