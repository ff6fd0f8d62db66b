package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/logger"
	"github.com/username/tradeingest/src/models"
)

// FingerprintStore persists fingerprints and the trades they belong to. All
// reads and writes are partitioned by user id.
type FingerprintStore struct {
	db  *DB
	now func() time.Time
}

func NewFingerprintStore(db *DB) *FingerprintStore {
	return &FingerprintStore{db: db, now: time.Now}
}

// Register stores trade and its exact and fuzzy fingerprints in a single
// transaction. If userID already owns the exact fingerprint nothing is
// written and ErrAlreadyRegistered is returned.
func (s *FingerprintStore) Register(ctx context.Context, userID int64, trade models.CanonicalTrade, fp fingerprint.Set) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin register", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logger.L.Warn("rollback failed", "userID", userID, "tradeID", trade.ID, "error", rbErr)
			}
		}
	}()

	createdAt := s.now().UTC().Unix()

	// The partial unique index on exact hashes turns this into insert-if-absent.
	res, err := tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO trade_fingerprints
		(user_id, hash, hash_kind, trade_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		userID, fp.Exact, string(models.HashExact), trade.ID, createdAt)
	if err != nil {
		return unavailable("insert exact fingerprint", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("insert exact fingerprint", err)
	}
	if affected == 0 {
		return ErrAlreadyRegistered // rolls back via the deferred check
	}

	tags, err := json.MarshalToString(normalizedTags(trade.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags for trade %s: %w", trade.ID, err)
	}
	// Decimals are stored as text so no precision is lost on either driver.
	_, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO trades
		(user_id, id, symbol, direction, quantity, entry_price, exit_price, entry_time, exit_time,
		 pnl, instrument, broker, commission, stop_loss, take_profit, tags, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		userID, trade.ID, trade.Symbol, string(trade.Direction), trade.Quantity.String(),
		trade.EntryPrice.String(), trade.ExitPrice.String(), trade.EntryTime.Unix(), trade.ExitTime.Unix(),
		trade.PnL.String(), string(trade.Instrument), trade.Broker, nullableDecimal(trade.Commission),
		nullableDecimal(trade.StopLoss), nullableDecimal(trade.TakeProfit), tags, string(trade.Source), createdAt)
	if err != nil {
		return unavailable("insert trade", err)
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`INSERT INTO trade_fingerprints
		(user_id, hash, hash_kind, trade_id, created_at) VALUES (?, ?, ?, ?, ?)`),
		userID, fp.Fuzzy, string(models.HashFuzzy), trade.ID, createdAt)
	if err != nil {
		return unavailable("insert fuzzy fingerprint", err)
	}

	if err = tx.Commit(); err != nil {
		return unavailable("commit register", err)
	}
	return nil
}

// LookupExact returns the exact fingerprint record for hash, or nil when the
// user does not own it.
func (s *FingerprintStore) LookupExact(ctx context.Context, userID int64, hash string) (*models.FingerprintRecord, error) {
	var (
		rec       models.FingerprintRecord
		kind      string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT user_id, hash, hash_kind, trade_id, created_at
		FROM trade_fingerprints WHERE user_id = ? AND hash_kind = ? AND hash = ?`),
		userID, string(models.HashExact), hash).Scan(&rec.UserID, &rec.Hash, &kind, &rec.TradeID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("lookup exact fingerprint", err)
	}
	rec.Kind = models.HashKind(kind)
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}

// LookupFuzzy returns every fuzzy hit among hashes together with the trade it
// points to.
func (s *FingerprintStore) LookupFuzzy(ctx context.Context, userID int64, hashes []string) ([]models.FuzzyHit, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(hashes)+2)
	args = append(args, userID, string(models.HashFuzzy))
	for _, h := range hashes {
		args = append(args, h)
	}

	query := s.db.Rebind(`SELECT ` + tradeColumns + `, f.hash, f.created_at
		FROM trade_fingerprints f
		JOIN trades t ON t.user_id = f.user_id AND t.id = f.trade_id
		WHERE f.user_id = ? AND f.hash_kind = ? AND f.hash IN (` + placeholders(len(hashes)) + `)
		ORDER BY t.id ASC`)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("lookup fuzzy fingerprints", err)
	}
	defer rows.Close()

	var hits []models.FuzzyHit
	for rows.Next() {
		var (
			hash      string
			createdAt int64
		)
		tr, err := scanTrade(rows, &hash, &createdAt)
		if err != nil {
			return nil, err
		}
		hits = append(hits, models.FuzzyHit{
			Record: models.FingerprintRecord{
				UserID:    userID,
				Hash:      hash,
				Kind:      models.HashFuzzy,
				TradeID:   tr.ID,
				CreatedAt: time.Unix(createdAt, 0).UTC(),
			},
			Trade: tr,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate fuzzy fingerprints", err)
	}
	return hits, nil
}

// Cleanup deletes fingerprints older than maxAgeDays. Registered trades are
// kept. It returns the number of fingerprints removed.
func (s *FingerprintStore) Cleanup(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %d days", maxAgeDays)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -maxAgeDays).Unix()

	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM trade_fingerprints WHERE created_at < ?`), cutoff)
	if err != nil {
		return 0, unavailable("cleanup fingerprints", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("cleanup fingerprints", err)
	}
	logger.L.Info("Expired fingerprints removed", "count", n, "retentionDays", maxAgeDays)
	return n, nil
}

func normalizedTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
