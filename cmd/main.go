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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bigdegenenergy/searchops/internal/alias"
	"github.com/bigdegenenergy/searchops/internal/api"
	"github.com/bigdegenenergy/searchops/internal/config"
	"github.com/bigdegenenergy/searchops/internal/deploy"
	"github.com/bigdegenenergy/searchops/internal/elastic"
	"github.com/bigdegenenergy/searchops/internal/health"
	"github.com/bigdegenenergy/searchops/internal/index"
	"github.com/bigdegenenergy/searchops/internal/mapping"
	"github.com/bigdegenenergy/searchops/internal/middleware"
	"github.com/bigdegenenergy/searchops/internal/ratelimit"
	"github.com/bigdegenenergy/searchops/internal/search"
	"github.com/bigdegenenergy/searchops/internal/session"
)

// defaultAlias is the alias read queries target when a request names none.
const defaultAlias = "products"

func main() {
	fmt.Println("==============================================")
	fmt.Println("  SearchOps - Blue/Green Index Deployment")
	fmt.Println("==============================================")

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	fmt.Printf("Starting server on port %s...\n", cfg.Port)

	// Connect to Elasticsearch.
	gateway, err := elastic.NewClient(cfg.ElasticsearchURL, cfg.ElasticsearchAPIKey)
	if err != nil {
		log.Fatalf("Failed to create Elasticsearch client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := gateway.WaitForConnection(ctx, 30*time.Second); err != nil {
		cancel()
		log.Fatalf("Elasticsearch unreachable at %s: %v", cfg.RedactedElasticsearchURL(), err)
	}
	cancel()

	// Optional Redis-backed ingest rate limiter.
	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		client := ratelimit.Connect(rctx, cfg.RedisAddr(), cfg.RedisPassword)
		rcancel()
		limiter = ratelimit.NewLimiter(client, cfg.RateLimitPerMinute, cfg.RateLimitFailOpen)
		defer limiter.Close()
	}

	// Wire the control plane.
	registry := alias.NewRegistry(gateway)
	lifecycle := index.NewLifecycle(gateway, mapping.Product)
	probe := health.NewProbe(gateway)
	coordinator := deploy.NewCoordinator(gateway, registry, lifecycle, probe)
	sessions := session.NewManager(gateway, lifecycle, probe, coordinator, cfg.SessionTimeout)
	searcher := search.NewService(gateway, defaultAlias)

	// Background expiry sweep for idle sessions.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	sessions.StartSweeper(sweepCtx, cfg.SweepInterval)

	// HTTP surface.
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging())
	r.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	handler := api.NewHandler(gateway, registry, lifecycle, probe, coordinator, sessions, searcher, limiter)
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()
	log.Printf("main: listening on :%s (cluster %s)", cfg.Port, cfg.RedactedElasticsearchURL())

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("main: shutting down...")

	stopSweep()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING main: forced shutdown: %v", err)
	}
	log.Println("main: stopped")
}
