package main

import (
	"context"
	"encoding/json"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/database"
	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/handlers"
	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/processors"
	"github.com/username/tradeingest/src/security"
	"github.com/username/tradeingest/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, Location, Retry-After")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runFingerprintJanitor applies the retention window until ctx is done.
func runFingerprintJanitor(ctx context.Context, svc services.IngestService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.CleanupFingerprints(ctx); err != nil {
				logger.L.Error("Fingerprint cleanup failed", "error", err)
			}
		}
	}
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Trade ingestion server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "driver", config.Cfg.DatabaseDriver)
	db, err := database.Open(config.Cfg.DatabaseDriver, config.Cfg.DatabasePath)
	if err != nil {
		logger.L.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing services and handlers...")
	dedupCfg := config.Cfg.Dedup
	ingestService := services.NewIngestService(
		processors.NewTradeNormalizer(config.Cfg.InputLocation),
		fingerprint.NewGenerator(dedupCfg),
		database.NewFingerprintStore(db),
		database.NewResolutionLog(db),
		database.NewTradeRepository(db),
		services.NewAnalyticsCache(config.Cfg.CacheExpiration),
		dedupCfg,
		config.Cfg.IngestWorkers,
	)
	jobQueue := services.NewJobQueue(ingestService, config.Cfg.IngestWorkers, config.Cfg.IngestQueueSize, config.Cfg.IngestJobTTL)

	authService := security.NewAuthService(config.Cfg.JWTSecret)
	ingestHandler := handlers.NewIngestHandler(ingestService, jobQueue, config.Cfg.MaxUploadSizeBytes)
	tradeHandler := handlers.NewTradeHandler(ingestService)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	rootMux.Handle("/api/", handlers.NewAPIRouter(ingestHandler, tradeHandler, authService))
	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Trade ingestion service is running"})
		} else if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runFingerprintJanitor(ctx, ingestService, config.Cfg.FingerprintCleanupInterval)

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.L.Info("Server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("Failed to start server", "error", err)
			stdlog.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.L.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("HTTP server shutdown failed", "error", err)
	}
	if err := jobQueue.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Ingestion queue did not drain in time", "error", err)
	}
	logger.L.Info("Server stopped gracefully.")
}
