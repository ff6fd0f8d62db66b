package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/utils"
)

const defaultLogLimit = 100

// ResolutionLog is the append-only audit trail of deduplication decisions.
type ResolutionLog struct {
	db  *DB
	now func() time.Time
}

func NewResolutionLog(db *DB) *ResolutionLog {
	return &ResolutionLog{db: db, now: time.Now}
}

// Append stores entry. A zero Timestamp is set to the current time.
func (l *ResolutionLog) Append(ctx context.Context, entry models.ResolutionLogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	var matched any
	if entry.MatchedTradeID != nil {
		matched = *entry.MatchedTradeID
	}
	_, err := l.db.ExecContext(ctx, l.db.Rebind(`INSERT INTO dedup_resolution_log
		(user_id, trade_id, action_taken, confidence_score, matched_trade_id, match_type, source, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.UserID, entry.TradeID, string(entry.Action), entry.Confidence, matched,
		entry.MatchType, string(entry.Source), entry.Details, entry.Timestamp.UTC().Unix())
	if err != nil {
		return unavailable("append resolution log", err)
	}
	return nil
}

// List returns the most recent entries of userID, newest first.
func (l *ResolutionLog) List(ctx context.Context, userID int64, limit int) ([]models.ResolutionLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`SELECT id, user_id, trade_id, action_taken, confidence_score,
		matched_trade_id, match_type, source, details, created_at
		FROM dedup_resolution_log WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`), userID, limit)
	if err != nil {
		return nil, unavailable("query resolution log", err)
	}
	defer rows.Close()

	entries := []models.ResolutionLogEntry{}
	for rows.Next() {
		var (
			e         models.ResolutionLogEntry
			action    string
			source    string
			matched   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.TradeID, &action, &e.Confidence,
			&matched, &e.MatchType, &source, &e.Details, &createdAt); err != nil {
			return nil, unavailable("scan resolution log", err)
		}
		e.Action = models.ResolutionAction(action)
		e.Source = models.DataSource(source)
		if matched.Valid {
			id := matched.String
			e.MatchedTradeID = &id
		}
		e.Timestamp = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate resolution log", err)
	}
	return entries, nil
}

// Stats aggregates the log of userID per action.
func (l *ResolutionLog) Stats(ctx context.Context, userID int64) (*models.ResolutionStats, error) {
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(`SELECT action_taken, COUNT(*), AVG(confidence_score), MAX(created_at)
		FROM dedup_resolution_log WHERE user_id = ? GROUP BY action_taken`), userID)
	if err != nil {
		return nil, unavailable("query resolution stats", err)
	}
	defer rows.Close()

	stats := &models.ResolutionStats{
		UserID:            userID,
		ByAction:          map[models.ResolutionAction]int{},
		AverageConfidence: map[models.ResolutionAction]float64{},
	}
	var last int64
	for rows.Next() {
		var (
			action string
			count  int
			avg    float64
			latest int64
		)
		if err := rows.Scan(&action, &count, &avg, &latest); err != nil {
			return nil, unavailable("scan resolution stats", err)
		}
		a := models.ResolutionAction(action)
		stats.ByAction[a] = count
		stats.AverageConfidence[a] = utils.RoundFloat(avg, 4)
		stats.Total += count
		if latest > last {
			last = latest
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate resolution stats", err)
	}
	if last > 0 {
		ts := time.Unix(last, 0).UTC()
		stats.LastResolutionAt = &ts
	}
	return stats, nil
}
