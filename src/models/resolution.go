package models

import "time"

type ResolutionAction string

const (
	ActionRegistered       ResolutionAction = "registered"
	ActionAutoRemoved      ResolutionAction = "auto_removed"
	ActionFlaggedForReview ResolutionAction = "flagged_for_review"
)

// ResolutionLogEntry is one append-only audit record per processed input.
type ResolutionLogEntry struct {
	ID             int64            `json:"id,omitempty"`
	UserID         int64            `json:"user_id"`
	TradeID        string           `json:"trade_id"`
	Action         ResolutionAction `json:"action_taken"`
	Confidence     float64          `json:"confidence_score"`
	MatchedTradeID *string          `json:"matched_trade_id"`
	MatchType      string           `json:"match_type,omitempty"`
	Source         DataSource       `json:"source"`
	Details        string           `json:"details"`
	Timestamp      time.Time        `json:"timestamp"`
}

// ResolutionStats summarizes a user's resolution log.
type ResolutionStats struct {
	UserID            int64                        `json:"user_id"`
	Total             int                          `json:"total"`
	ByAction          map[ResolutionAction]int     `json:"by_action"`
	AverageConfidence map[ResolutionAction]float64 `json:"average_confidence"`
	LastResolutionAt  *time.Time                   `json:"last_resolution_at,omitempty"`
}
