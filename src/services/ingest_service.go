package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/database"
	"github.com/username/tradeingest/src/dedup"
	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/processors"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	reasonAmbiguous        = "ambiguous_match"
	reasonDuplicatePending = "duplicate_pending_review"
)

// prepared is one input after normalization and fingerprinting.
type prepared struct {
	index  int
	result models.NormalizeResult
	fp     fingerprint.Set
}

type resolutionDetails struct {
	BatchID     string                  `json:"batch_id"`
	Index       int                     `json:"index"`
	WithinBatch bool                    `json:"within_batch,omitempty"`
	Reason      string                  `json:"reason,omitempty"`
	Candidates  []models.MatchCandidate `json:"candidates,omitempty"`
}

type ingestServiceImpl struct {
	normalizer processors.Normalizer
	generator  *fingerprint.Generator
	matcher    *dedup.Matcher
	store      FingerprintStore
	resolution ResolutionLog
	trades     TradeReader
	views      *AnalyticsCache
	cfg        config.DedupConfig
	workers    int
	locks      *userLocks
}

func NewIngestService(
	normalizer processors.Normalizer,
	generator *fingerprint.Generator,
	store FingerprintStore,
	resolution ResolutionLog,
	trades TradeReader,
	views *AnalyticsCache,
	cfg config.DedupConfig,
	workers int,
) IngestService {
	if workers <= 0 {
		workers = 1
	}
	return &ingestServiceImpl{
		normalizer: normalizer,
		generator:  generator,
		matcher:    dedup.NewMatcher(store, cfg),
		store:      store,
		resolution: resolution,
		trades:     trades,
		views:      views,
		cfg:        cfg,
		workers:    workers,
		locks:      newUserLocks(),
	}
}

// IngestBatch validates, deduplicates and registers raws for userID. The only
// error returned is for an invalid source label; store failures are recorded
// in the report and leave the remaining items unprocessed.
func (s *ingestServiceImpl) IngestBatch(ctx context.Context, userID int64, raws []models.RawTrade, sourceLabel string, autoResolve bool) (*models.BatchReport, error) {
	source, err := models.ParseDataSource(sourceLabel)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	report := models.NewBatchReport(uuid.NewString(), userID, source, autoResolve, len(raws))
	l := logger.L.With("batchID", report.BatchID, "userID", userID, "source", string(source))
	ctx = logger.WithContext(ctx, l)
	l.Info("IngestBatch START", "count", len(raws), "autoResolve", autoResolve)

	// Whatever happens below, derived views must not outlive this batch.
	defer func() {
		report.CompletedAt = time.Now().UTC()
		s.views.InvalidateUser(userID)
		l.Info("IngestBatch END",
			"unique", len(report.UniqueTrades),
			"duplicates", len(report.DuplicatesFound),
			"conflicts", len(report.ConflictsRequiringReview),
			"invalid", len(report.ValidationErrors),
			"unprocessed", len(report.Unprocessed),
			"failed", report.Failed,
			"duration", time.Since(report.StartedAt))
	}()

	// 1. Normalize and fingerprint in parallel
	items, err := s.prepare(ctx, raws, source)
	if err != nil {
		pending := make([]*prepared, len(raws))
		for i := range pending {
			pending[i] = &prepared{index: i}
		}
		markUnprocessed(report, pending, err)
		return report, nil
	}

	// 2. Split off validation rejects; they never reach the store
	valid := make([]*prepared, 0, len(items))
	for _, it := range items {
		if !it.result.OK() {
			l.Warn("Trade rejected by validation", "index", it.index, "errors", len(it.result.Errors))
			report.ValidationErrors = append(report.ValidationErrors, models.ItemError{Index: it.index, Errors: it.result.Errors})
			continue
		}
		valid = append(valid, it)
	}

	// 3. Match and register in input order under the user's lock.
	// Earlier items of the batch win over later items with the same exact key.
	keepers := make(map[string]*prepared, len(valid))
	unlock := s.locks.Lock(userID)
	defer unlock()

	for pos, it := range valid {
		if err := ctx.Err(); err != nil {
			markUnprocessed(report, valid[pos:], err)
			return report, nil
		}

		settled := settledCount(report)
		var err error
		if keeper, seen := keepers[it.fp.Exact]; seen {
			err = s.resolveWithinBatch(ctx, report, it, keeper)
		} else {
			keepers[it.fp.Exact] = it
			err = s.resolve(ctx, report, it)
		}
		if err != nil {
			l.Error("Store unavailable, aborting remaining items", "index", it.index, "error", err)
			rest := valid[pos:]
			if settledCount(report) > settled {
				// registered before the failure; it stays registered
				rest = valid[pos+1:]
			}
			markUnprocessed(report, rest, err)
			return report, nil
		}
	}
	return report, nil
}

// prepare normalizes and fingerprints every raw concurrently. Results keep
// input order.
func (s *ingestServiceImpl) prepare(ctx context.Context, raws []models.RawTrade, source models.DataSource) ([]*prepared, error) {
	items := make([]*prepared, len(raws))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, raw := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			it := &prepared{index: i, result: s.normalizer.Normalize(raw, source)}
			if it.result.OK() {
				it.fp = s.generator.Compute(*it.result.Trade)
			}
			items[i] = it
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *ingestServiceImpl) resolve(ctx context.Context, report *models.BatchReport, it *prepared) error {
	l := logger.FromContext(ctx)
	trade := *it.result.Trade

	cls, err := s.matcher.Match(ctx, report.UserID, trade, it.fp)
	if err != nil {
		return err
	}

	if cls.Kind == dedup.Unique {
		err := s.store.Register(ctx, report.UserID, trade, it.fp)
		switch {
		case errors.Is(err, database.ErrAlreadyRegistered):
			// another process registered the same trade after our lookup
			l.Debug("Exact fingerprint registered concurrently", "index", it.index, "tradeID", trade.ID)
			cls = dedup.Classification{
				Kind:           dedup.Duplicate,
				MatchType:      models.HashExact,
				Confidence:     1.0,
				MatchedTradeID: trade.ID,
				Candidates:     []models.MatchCandidate{{Kind: models.HashExact, Confidence: 1.0, MatchedTradeID: trade.ID}},
			}
		case err != nil:
			return err
		default:
			l.Debug("Trade registered", "index", it.index, "tradeID", trade.ID)
			report.UniqueTrades = append(report.UniqueTrades, trade)
			report.UniqueIndexes = append(report.UniqueIndexes, it.index)
			return s.appendLog(ctx, report, it, models.ActionRegistered, cls, resolutionDetails{})
		}
	}

	switch cls.Kind {
	case dedup.Duplicate:
		return s.resolveDuplicate(ctx, report, it, cls, false)
	case dedup.Ambiguous:
		l.Debug("Trade flagged for review", "index", it.index, "candidates", len(cls.Candidates))
		if err := s.appendLog(ctx, report, it, models.ActionFlaggedForReview, cls, resolutionDetails{
			Reason:     reasonAmbiguous,
			Candidates: cls.Candidates,
		}); err != nil {
			return err
		}
		report.ConflictsRequiringReview = append(report.ConflictsRequiringReview, models.ReviewConflict{
			Index:      it.index,
			Trade:      trade,
			Candidates: cls.Candidates,
			Reason:     reasonAmbiguous,
		})
		return nil
	}
	return fmt.Errorf("unexpected classification %q", cls.Kind)
}

func (s *ingestServiceImpl) resolveWithinBatch(ctx context.Context, report *models.BatchReport, it, keeper *prepared) error {
	cls := dedup.Classification{
		Kind:           dedup.Duplicate,
		MatchType:      models.HashExact,
		Confidence:     1.0,
		MatchedTradeID: keeper.result.Trade.ID,
		Candidates: []models.MatchCandidate{
			{Kind: models.HashExact, Confidence: 1.0, MatchedTradeID: keeper.result.Trade.ID},
		},
	}
	return s.resolveDuplicate(ctx, report, it, cls, true)
}

func (s *ingestServiceImpl) resolveDuplicate(ctx context.Context, report *models.BatchReport, it *prepared, cls dedup.Classification, withinBatch bool) error {
	trade := *it.result.Trade
	logger.FromContext(ctx).Debug("Duplicate detected",
		"index", it.index, "matchType", cls.MatchType, "confidence", cls.Confidence,
		"matchedTradeID", cls.MatchedTradeID, "withinBatch", withinBatch)

	if report.AutoResolve {
		if err := s.appendLog(ctx, report, it, models.ActionAutoRemoved, cls, resolutionDetails{WithinBatch: withinBatch}); err != nil {
			return err
		}
		report.DuplicatesFound = append(report.DuplicatesFound, models.DuplicateResult{
			Index:          it.index,
			Trade:          trade,
			MatchType:      cls.MatchType,
			Confidence:     cls.Confidence,
			MatchedTradeID: cls.MatchedTradeID,
			WithinBatch:    withinBatch,
		})
		return nil
	}

	if err := s.appendLog(ctx, report, it, models.ActionFlaggedForReview, cls, resolutionDetails{
		WithinBatch: withinBatch,
		Reason:      reasonDuplicatePending,
		Candidates:  cls.Candidates,
	}); err != nil {
		return err
	}
	report.ConflictsRequiringReview = append(report.ConflictsRequiringReview, models.ReviewConflict{
		Index:      it.index,
		Trade:      trade,
		Candidates: cls.Candidates,
		Reason:     reasonDuplicatePending,
	})
	return nil
}

func (s *ingestServiceImpl) appendLog(ctx context.Context, report *models.BatchReport, it *prepared, action models.ResolutionAction, cls dedup.Classification, details resolutionDetails) error {
	details.BatchID = report.BatchID
	details.Index = it.index
	encoded, err := json.MarshalToString(details)
	if err != nil {
		return fmt.Errorf("failed to encode resolution details: %w", err)
	}

	entry := models.ResolutionLogEntry{
		UserID:     report.UserID,
		TradeID:    it.result.Trade.ID,
		Action:     action,
		Confidence: cls.Confidence,
		MatchType:  string(cls.MatchType),
		Source:     report.Source,
		Details:    encoded,
		Timestamp:  time.Now().UTC(),
	}
	if cls.MatchedTradeID != "" {
		matched := cls.MatchedTradeID
		entry.MatchedTradeID = &matched
	}
	return s.resolution.Append(ctx, entry)
}

// settledCount is the number of items that reached a terminal state after
// matching.
func settledCount(report *models.BatchReport) int {
	return len(report.UniqueTrades) + len(report.DuplicatesFound) + len(report.ConflictsRequiringReview)
}

func markUnprocessed(report *models.BatchReport, pending []*prepared, cause error) {
	report.Failed = true
	report.Error = cause.Error()
	for _, it := range pending {
		report.Unprocessed = append(report.Unprocessed, models.ItemError{Index: it.index, Message: cause.Error()})
	}
}

// UnifiedTrades returns the registered trades of userID through the
// analytics view cache.
func (s *ingestServiceImpl) UnifiedTrades(ctx context.Context, userID int64) ([]models.CanonicalTrade, error) {
	if cached, found := s.views.UnifiedTrades(userID); found {
		logger.L.Debug("Cache hit for unified trades", "userID", userID)
		return cached, nil
	}
	logger.L.Info("Cache miss for unified trades, reading from DB", "userID", userID)

	trades, err := s.trades.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.views.SetUnifiedTrades(userID, trades)
	return trades, nil
}

func (s *ingestServiceImpl) ResolutionHistory(ctx context.Context, userID int64, limit int) ([]models.ResolutionLogEntry, error) {
	return s.resolution.List(ctx, userID, limit)
}

func (s *ingestServiceImpl) ResolutionStats(ctx context.Context, userID int64) (*models.ResolutionStats, error) {
	return s.resolution.Stats(ctx, userID)
}

// CleanupFingerprints drops fingerprints older than the retention window.
func (s *ingestServiceImpl) CleanupFingerprints(ctx context.Context) (int64, error) {
	return s.store.Cleanup(ctx, s.cfg.RetentionDays)
}

// userLocks serializes match and register per user.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

// Lock blocks until userID's lock is held and returns its release func.
func (u *userLocks) Lock(userID int64) func() {
	u.mu.Lock()
	ul, ok := u.locks[userID]
	if !ok {
		ul = &userLock{}
		u.locks[userID] = ul
	}
	ul.refs++
	u.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		u.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(u.locks, userID)
		}
		u.mu.Unlock()
	}
}
