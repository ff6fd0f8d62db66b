package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type AppConfig struct {
	JWTSecret          string
	Port               string
	DatabaseDriver     string
	DatabasePath       string
	LogLevel           string
	MaxUploadSizeBytes int64

	// InputLocation is applied to timestamps that arrive without a zone.
	InputLocation *time.Location

	IngestWorkers   int
	IngestQueueSize int
	IngestJobTTL    time.Duration

	CacheExpiration            time.Duration
	FingerprintCleanupInterval time.Duration

	Dedup DedupConfig
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes")
	if jwtSecret == "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	// Spreadsheet exports usually carry naive local timestamps.
	tzName := getEnv("INPUT_TIMEZONE", "UTC")
	location, err := time.LoadLocation(tzName)
	if err != nil {
		log.Printf("WARNING: Invalid INPUT_TIMEZONE '%s'. Using UTC. Error: %v", tzName, err)
		location = time.UTC
	}

	// Dedup tuning; any key left unset keeps its default.
	defaults := DefaultDedupConfig()
	dedup := DedupConfig{
		TimeTolerance:     getEnvAsDuration("DEDUP_TIME_TOLERANCE", defaults.TimeTolerance),
		PriceTolerance:       getEnvAsDecimal("DEDUP_PRICE_TOLERANCE", defaults.PriceTolerance),
		ForexPriceTolerance:  getEnvAsDecimal("DEDUP_FOREX_PRICE_TOLERANCE", defaults.ForexPriceTolerance),
		CryptoPriceTolerance: getEnvAsFloat("DEDUP_CRYPTO_PRICE_TOLERANCE", defaults.CryptoPriceTolerance),
		QuantityTolerance:    getEnvAsFloat("DEDUP_QUANTITY_TOLERANCE", defaults.QuantityTolerance),
		AcceptThreshold:      getEnvAsFloat("DEDUP_ACCEPT_THRESHOLD", defaults.AcceptThreshold),
		ReviewThreshold:      getEnvAsFloat("DEDUP_REVIEW_THRESHOLD", defaults.ReviewThreshold),
		TimeWeight:           getEnvAsFloat("DEDUP_TIME_WEIGHT", defaults.TimeWeight),
		PriceWeight:          getEnvAsFloat("DEDUP_PRICE_WEIGHT", defaults.PriceWeight),
		QuantityWeight:       getEnvAsFloat("DEDUP_QUANTITY_WEIGHT", defaults.QuantityWeight),
		EdgePenalty:          getEnvAsFloat("DEDUP_EDGE_PENALTY", defaults.EdgePenalty),
		RetentionDays:        getEnvAsInt("FINGERPRINT_RETENTION_DAYS", defaults.RetentionDays),
	}
	if err := dedup.Validate(); err != nil {
		log.Fatalf("FATAL: invalid deduplication settings: %v", err)
	}

	Cfg = &AppConfig{
		JWTSecret:          jwtSecret,
		Port:               getEnv("PORT", "8080"),
		DatabaseDriver:     getEnv("DATABASE_DRIVER", "sqlite"),
		DatabasePath:       getEnv("DATABASE_PATH", "./tradeingest.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		MaxUploadSizeBytes: maxUploadSizeBytes,
		InputLocation:      location,

		IngestWorkers:   getEnvAsInt("INGEST_WORKERS", 4),
		IngestQueueSize: getEnvAsInt("INGEST_QUEUE_SIZE", 64),
		IngestJobTTL:    getEnvAsDuration("INGEST_JOB_TTL", time.Hour),

		CacheExpiration:            getEnvAsDuration("CACHE_EXPIRATION", 15*time.Minute),
		FingerprintCleanupInterval: getEnvAsDuration("FINGERPRINT_CLEANUP_INTERVAL", 24*time.Hour),

		Dedup: dedup,
	}

	// lib/pq registers "postgres"; modernc registers "sqlite".
	if Cfg.DatabaseDriver != "sqlite" && Cfg.DatabaseDriver != "postgres" {
		log.Fatalf("FATAL: DATABASE_DRIVER must be 'sqlite' or 'postgres', got '%s'", Cfg.DatabaseDriver)
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBDriver=%s, DBPath=%s, Workers=%d, AcceptThreshold=%.2f, ReviewThreshold=%.2f",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabaseDriver, Cfg.DatabasePath, Cfg.IngestWorkers, dedup.AcceptThreshold, dedup.ReviewThreshold)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid float value for %s ('%s'), using default: %g", key, valueStr, fallback)
	return fallback
}

func getEnvAsDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := decimal.NewFromString(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid decimal value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
