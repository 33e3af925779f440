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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sapience-markets/auction-relayer/internal/chain"
	"github.com/sapience-markets/auction-relayer/internal/config"
	"github.com/sapience-markets/auction-relayer/internal/deriver"
	"github.com/sapience-markets/auction-relayer/internal/hub"
	"github.com/sapience-markets/auction-relayer/internal/observer"
	"github.com/sapience-markets/auction-relayer/internal/registry"
	"github.com/sapience-markets/auction-relayer/internal/replay"
	"github.com/sapience-markets/auction-relayer/internal/sigverify"
	"github.com/sapience-markets/auction-relayer/internal/wsserver"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Chain client (read-only RPC) ──────────────────────────────────────
	onchain, err := chain.NewClient(&cfg.Chain)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}

	// ── Anti-replay cache: Redis when configured, in-process otherwise ───
	replayCache := newReplayCache(ctx, cfg, log)

	// ── Core domain collaborators ──────────────────────────────────────────
	deriv := deriver.New()
	verifier := sigverify.New(onchain, deriv)
	reg := registry.New(onchain, cfg.Socket.MaxAuctionAgeSec, cfg.Vault.SignerCacheTTLSec)
	h := hub.New()
	obs := observer.NewLoggingObserver(log)

	handlers := wsserver.NewHandlers(reg, h, verifier, replayCache, obs, wsserver.HandlerConfig{
		EnforceBidSignature:       cfg.Socket.EnforceBidSignature,
		VaultQuoteFreshnessWindow: time.Duration(cfg.Vault.QuoteReplayWindowSec) * time.Second,
	}, log)
	router := wsserver.NewMessageRouter(handlers, cfg.Socket.MaxFrameBytes, log)
	supervisor := wsserver.NewConnectionSupervisor(wsserver.SupervisorConfig{
		MaxConnections:  cfg.Socket.MaxConnections,
		IdleTimeout:     time.Duration(cfg.Socket.IdleTimeoutMS) * time.Millisecond,
		RateLimitMax:    cfg.Socket.RateLimitMax,
		RateLimitWindow: time.Duration(cfg.Socket.RateLimitWindowMS) * time.Millisecond,
		AllowedOrigins:  cfg.Socket.Origins(),
	}, h, router, log)

	// ── Background auction-expiry sweeper ──────────────────────────────────
	go runSweeper(ctx, reg, log)

	// ── WebSocket endpoint ──────────────────────────────────────────────────
	wsMux := http.NewServeMux()
	wsMux.Handle(cfg.Socket.Path, supervisor)
	wsSrv := &http.Server{
		Addr:    addr(cfg.Server.Port),
		Handler: wsMux,
	}

	// ── Health server ─────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	healthSrv := &http.Server{
		Addr:    addr(cfg.Server.HealthPort),
		Handler: r,
	}

	go func() {
		log.Info("websocket server starting", zap.Int("port", cfg.Server.Port), zap.String("path", cfg.Socket.Path))
		if err := wsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("websocket server error", zap.Error(err))
		}
	}()
	go func() {
		log.Info("health server starting", zap.Int("port", cfg.Server.HealthPort))
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("health server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ───────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := wsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("websocket server shutdown error", zap.Error(err))
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("health server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func addr(port int) string {
	return fmt.Sprintf(":%d", port)
}

// newReplayCache wires a RedisCache when REDIS_ADDR is set, falling back to
// an in-process MemoryCache otherwise (spec_full §D).
func newReplayCache(ctx context.Context, cfg *config.Config, log *zap.Logger) replay.Cache {
	if cfg.Redis.Addr == "" {
		log.Info("anti-replay cache: in-process (REDIS_ADDR unset)")
		return replay.NewMemoryCache()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed, falling back to in-process anti-replay cache", zap.Error(err))
		return replay.NewMemoryCache()
	}
	log.Info("anti-replay cache: redis", zap.String("addr", cfg.Redis.Addr))
	return replay.NewRedisCache(rdb)
}

// runSweeper periodically removes expired auctions from the Registry so
// memory does not grow unbounded from abandoned auctions (spec §4.4).
func runSweeper(ctx context.Context, reg *registry.Registry, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := reg.Sweep(); n > 0 {
				log.Debug("swept expired auctions", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
