package services

import (
	"context"
	"errors"

	"github.com/username/tradeingest/src/dedup"
	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/models"
)

var ErrInvalidSource = errors.New("invalid data source")

// FingerprintStore is the shared per-user fingerprint index.
type FingerprintStore interface {
	dedup.FingerprintLookup
	Register(ctx context.Context, userID int64, trade models.CanonicalTrade, fp fingerprint.Set) error
	Cleanup(ctx context.Context, maxAgeDays int) (int64, error)
}

// ResolutionLog is the append-only audit trail.
type ResolutionLog interface {
	Append(ctx context.Context, entry models.ResolutionLogEntry) error
	List(ctx context.Context, userID int64, limit int) ([]models.ResolutionLogEntry, error)
	Stats(ctx context.Context, userID int64) (*models.ResolutionStats, error)
}

// TradeReader reads the registered trades of a user.
type TradeReader interface {
	ListByUser(ctx context.Context, userID int64) ([]models.CanonicalTrade, error)
}

// IngestService defines the ingestion and deduplication entry points.
type IngestService interface {
	IngestBatch(ctx context.Context, userID int64, raws []models.RawTrade, source string, autoResolve bool) (*models.BatchReport, error)
	UnifiedTrades(ctx context.Context, userID int64) ([]models.CanonicalTrade, error)
	ResolutionHistory(ctx context.Context, userID int64, limit int) ([]models.ResolutionLogEntry, error)
	ResolutionStats(ctx context.Context, userID int64) (*models.ResolutionStats, error)
	CleanupFingerprints(ctx context.Context) (int64, error)
}
