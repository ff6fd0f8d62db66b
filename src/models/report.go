package models

import "time"

// DuplicateResult describes an input dropped as a duplicate.
type DuplicateResult struct {
	Index          int            `json:"index"`
	Trade          CanonicalTrade `json:"trade"`
	MatchType      HashKind       `json:"match_type"`
	Confidence     float64        `json:"confidence"`
	MatchedTradeID string         `json:"matched_trade_id"`
	// WithinBatch is set when the match was an earlier item of the same batch.
	WithinBatch bool `json:"within_batch"`
}

// ReviewConflict is an input held back for a human decision.
type ReviewConflict struct {
	Index      int              `json:"index"`
	Trade      CanonicalTrade   `json:"trade"`
	Candidates []MatchCandidate `json:"candidates"`
	Reason     string           `json:"reason"`
}

// ItemError reports why the input at Index was rejected or not processed.
type ItemError struct {
	Index   int               `json:"index"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Message string            `json:"message,omitempty"`
}

// BatchReport is the outcome of one ingestion batch. Every input index ends
// up in exactly one of UniqueTrades, DuplicatesFound,
// ConflictsRequiringReview, ValidationErrors or Unprocessed.
type BatchReport struct {
	BatchID     string     `json:"batch_id"`
	UserID      int64      `json:"user_id"`
	Source      DataSource `json:"source"`
	AutoResolve bool       `json:"auto_resolve"`

	OriginalCount            int               `json:"original_count"`
	UniqueTrades             []CanonicalTrade  `json:"unique_trades"`
	UniqueIndexes            []int             `json:"unique_indexes"`
	DuplicatesFound          []DuplicateResult `json:"duplicates_found"`
	ConflictsRequiringReview []ReviewConflict  `json:"conflicts_requiring_review"`
	ValidationErrors         []ItemError       `json:"validation_errors"`

	// Failed is set when the store became unavailable mid-batch. Items
	// registered before the failure stay registered.
	Failed      bool        `json:"failed"`
	Error       string      `json:"error,omitempty"`
	Unprocessed []ItemError `json:"unprocessed,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func NewBatchReport(batchID string, userID int64, source DataSource, autoResolve bool, count int) *BatchReport {
	return &BatchReport{
		BatchID:                  batchID,
		UserID:                   userID,
		Source:                   source,
		AutoResolve:              autoResolve,
		OriginalCount:            count,
		UniqueTrades:             []CanonicalTrade{},
		UniqueIndexes:            []int{},
		DuplicatesFound:          []DuplicateResult{},
		ConflictsRequiringReview: []ReviewConflict{},
		ValidationErrors:         []ItemError{},
		StartedAt:                time.Now().UTC(),
	}
}
