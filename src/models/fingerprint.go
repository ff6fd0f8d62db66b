package models

import "time"

type HashKind string

const (
	HashExact HashKind = "exact"
	HashFuzzy HashKind = "fuzzy"
)

// FingerprintRecord is a persisted fingerprint owned by one user.
type FingerprintRecord struct {
	UserID    int64     `json:"user_id"`
	Hash      string    `json:"hash"`
	Kind      HashKind  `json:"hash_kind"`
	TradeID   string    `json:"owning_trade_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FuzzyHit pairs a fuzzy fingerprint hit with the registered trade it points
// to, which the matcher needs for scoring.
type FuzzyHit struct {
	Record FingerprintRecord
	Trade  CanonicalTrade
}

// MatchCandidate is a scored comparison against one registered trade.
type MatchCandidate struct {
	Kind           HashKind `json:"hash_kind"`
	Confidence     float64  `json:"confidence_score"`
	MatchedTradeID string   `json:"matched_trade_id"`
}
