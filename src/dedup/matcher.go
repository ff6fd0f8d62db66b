// Package dedup classifies incoming canonical trades against the trades a
// user has already registered.
package dedup

import (
	"context"
	"math"
	"sort"

	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/utils"
)

type Kind string

const (
	Unique    Kind = "unique"
	Duplicate Kind = "duplicate"
	Ambiguous Kind = "ambiguous"
)

// Classification is the matcher's verdict for one trade.
type Classification struct {
	Kind           Kind
	MatchType      models.HashKind
	Confidence     float64
	MatchedTradeID string
	// Candidates lists every candidate in the review band for Ambiguous, and
	// the winning candidate for a fuzzy Duplicate.
	Candidates []models.MatchCandidate
}

// FingerprintLookup is the read side of the fingerprint store. Both lookups
// are scoped to one user.
type FingerprintLookup interface {
	LookupExact(ctx context.Context, userID int64, hash string) (*models.FingerprintRecord, error)
	LookupFuzzy(ctx context.Context, userID int64, hashes []string) ([]models.FuzzyHit, error)
}

type Matcher struct {
	store  FingerprintLookup
	cfg    config.DedupConfig
	prices fingerprint.PriceTolerance
}

func NewMatcher(store FingerprintLookup, cfg config.DedupConfig) *Matcher {
	return &Matcher{store: store, cfg: cfg, prices: fingerprint.NewPriceTolerance(cfg)}
}

// Match classifies trade for userID. Errors come only from the store.
func (m *Matcher) Match(ctx context.Context, userID int64, trade models.CanonicalTrade, fp fingerprint.Set) (Classification, error) {
	rec, err := m.store.LookupExact(ctx, userID, fp.Exact)
	if err != nil {
		return Classification{}, err
	}
	if rec != nil {
		return exactDuplicate(rec.TradeID), nil
	}

	hits, err := m.store.LookupFuzzy(ctx, userID, fp.Probes)
	if err != nil {
		return Classification{}, err
	}

	var (
		best   *models.MatchCandidate
		review []models.MatchCandidate
		seen   = make(map[string]struct{}, len(hits))
	)
	for _, hit := range hits {
		if hit.Record.UserID != userID {
			continue
		}
		if hit.Trade.ID == trade.ID {
			return exactDuplicate(hit.Trade.ID), nil
		}
		if _, dup := seen[hit.Trade.ID]; dup {
			continue
		}
		seen[hit.Trade.ID] = struct{}{}

		score, ok := m.Score(trade, hit.Trade)
		if !ok {
			continue
		}
		c := models.MatchCandidate{Kind: models.HashFuzzy, Confidence: score, MatchedTradeID: hit.Trade.ID}
		if best == nil || better(c, *best) {
			cc := c
			best = &cc
		}
		if score >= m.cfg.ReviewThreshold && score < m.cfg.AcceptThreshold {
			review = append(review, c)
		}
	}

	if best != nil && best.Confidence >= m.cfg.AcceptThreshold {
		return Classification{
			Kind:           Duplicate,
			MatchType:      models.HashFuzzy,
			Confidence:     best.Confidence,
			MatchedTradeID: best.MatchedTradeID,
			Candidates:     []models.MatchCandidate{*best},
		}, nil
	}

	if len(review) > 0 {
		sort.Slice(review, func(i, j int) bool { return better(review[i], review[j]) })
		return Classification{
			Kind:           Ambiguous,
			MatchType:      models.HashFuzzy,
			Confidence:     review[0].Confidence,
			MatchedTradeID: review[0].MatchedTradeID,
			Candidates:     review,
		}, nil
	}

	return Classification{Kind: Unique}, nil
}

// Score rates how likely existing is the same trade as incoming. ok is false
// when the trades differ in identity fields or any delta is beyond its
// tolerance; otherwise the score is in [1-EdgePenalty, 1].
func (m *Matcher) Score(incoming, existing models.CanonicalTrade) (float64, bool) {
	if incoming.Symbol != existing.Symbol || incoming.Direction != existing.Direction || incoming.Broker != existing.Broker {
		return 0, false
	}

	tol := m.cfg.TimeTolerance.Seconds()
	dt := math.Max(
		math.Abs(incoming.EntryTime.Sub(existing.EntryTime).Seconds())/tol,
		math.Abs(incoming.ExitTime.Sub(existing.ExitTime).Seconds())/tol,
	)

	dp := math.Max(
		m.prices.Distance(incoming.Instrument, incoming.EntryPrice, existing.EntryPrice),
		m.prices.Distance(incoming.Instrument, incoming.ExitPrice, existing.ExitPrice),
	)

	var dq float64
	if !incoming.Quantity.Equal(existing.Quantity) {
		larger := incoming.Quantity
		if existing.Quantity.GreaterThan(larger) {
			larger = existing.Quantity
		}
		rel := incoming.Quantity.Sub(existing.Quantity).Abs().Div(larger).InexactFloat64()
		if m.cfg.QuantityTolerance <= 0 {
			return 0, false
		}
		dq = rel / m.cfg.QuantityTolerance
	}

	if dt > 1 || dp > 1 || dq > 1 {
		return 0, false
	}

	weights := m.cfg.TimeWeight + m.cfg.PriceWeight + m.cfg.QuantityWeight
	penalty := (m.cfg.TimeWeight*dt + m.cfg.PriceWeight*dp + m.cfg.QuantityWeight*dq) / weights
	return utils.RoundFloat(utils.Clamp01(1-m.cfg.EdgePenalty*penalty), 4), true
}

func exactDuplicate(tradeID string) Classification {
	return Classification{
		Kind:           Duplicate,
		MatchType:      models.HashExact,
		Confidence:     1.0,
		MatchedTradeID: tradeID,
		Candidates: []models.MatchCandidate{
			{Kind: models.HashExact, Confidence: 1.0, MatchedTradeID: tradeID},
		},
	}
}

// better orders candidates by descending confidence, then trade id.
func better(a, b models.MatchCandidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.MatchedTradeID < b.MatchedTradeID
}
