package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"tokosync/terminal/internal/cache"
	"tokosync/terminal/internal/config"
	"tokosync/terminal/internal/gateway"
	"tokosync/terminal/internal/httpapi"
	"tokosync/terminal/internal/service"
	"tokosync/terminal/internal/store"
	"tokosync/terminal/internal/store/memory"
	"tokosync/terminal/internal/store/sqlstore"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	taxRate, err := parseTaxRate(cfg.DefaultTaxRatePercent)
	if err != nil {
		log.Fatalf("invalid DEFAULT_TAX_RATE_PERCENT %q: %v", cfg.DefaultTaxRatePercent, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var st store.Store
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start without it", err)
		}
		st = pg
		closers = append(closers, pg.Close)
		log.Println("store: postgres (counter server)")
	case cfg.TerminalDBPath != "":
		lite, err := sqlstore.OpenSQLite(cfg.TerminalDBPath)
		if err != nil {
			log.Fatalf("cannot open terminal database %s: %v", cfg.TerminalDBPath, err)
		}
		st = lite
		closers = append(closers, lite.Close)
		log.Printf("store: sqlite (%s)", cfg.TerminalDBPath)
	default:
		st = memory.NewSeeded(cfg.TenantID)
		log.Println("store: in-memory (demo)")
	}

	searchCache := cache.SearchCache(cache.NoopSearchCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSearchCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			searchCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	var gw gateway.Client
	if cfg.GatewayURL != "" {
		gw = gateway.NewHTTPClient(cfg.GatewayURL, cfg.GatewayToken, time.Duration(cfg.GatewayTimeoutSeconds)*time.Second)
		log.Printf("gateway: %s", cfg.GatewayURL)
	} else {
		log.Println("gateway: none (offline-only)")
	}

	svc := service.New(st, gw, searchCache, cfg.TenantID, taxRate, time.Duration(cfg.SearchCacheTTLSeconds)*time.Second)
	if err := svc.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, st)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("terminal daemon listening on %s (tenant %s)", cfg.Address(), cfg.TenantID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("terminal daemon stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// parseTaxRate turns the percent-denominated env value into the fraction
// the cart engine multiplies by ("11" becomes 0.11).
func parseTaxRate(percent string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(percent)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.IsNegative() {
		return decimal.Zero, fmt.Errorf("must not be negative")
	}
	return rate.Div(decimal.NewFromInt(100)), nil
}
