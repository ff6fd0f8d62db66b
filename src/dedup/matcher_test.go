package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/processors"
)

// memoryLookup is a minimal user-partitioned fingerprint index.
type memoryLookup struct {
	gen   *fingerprint.Generator
	exact map[int64]map[string]string
	fuzzy map[int64]map[string][]models.CanonicalTrade
	err   error
}

func newMemoryLookup(cfg config.DedupConfig) *memoryLookup {
	return &memoryLookup{
		gen:   fingerprint.NewGenerator(cfg),
		exact: map[int64]map[string]string{},
		fuzzy: map[int64]map[string][]models.CanonicalTrade{},
	}
}

func (m *memoryLookup) register(userID int64, tr models.CanonicalTrade) {
	set := m.gen.Compute(tr)
	if m.exact[userID] == nil {
		m.exact[userID] = map[string]string{}
		m.fuzzy[userID] = map[string][]models.CanonicalTrade{}
	}
	m.exact[userID][set.Exact] = tr.ID
	m.fuzzy[userID][set.Fuzzy] = append(m.fuzzy[userID][set.Fuzzy], tr)
}

func (m *memoryLookup) LookupExact(_ context.Context, userID int64, hash string) (*models.FingerprintRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if id, ok := m.exact[userID][hash]; ok {
		return &models.FingerprintRecord{UserID: userID, Hash: hash, Kind: models.HashExact, TradeID: id}, nil
	}
	return nil, nil
}

func (m *memoryLookup) LookupFuzzy(_ context.Context, userID int64, hashes []string) ([]models.FuzzyHit, error) {
	if m.err != nil {
		return nil, m.err
	}
	var hits []models.FuzzyHit
	for _, h := range hashes {
		for _, tr := range m.fuzzy[userID][h] {
			hits = append(hits, models.FuzzyHit{
				Record: models.FingerprintRecord{UserID: userID, Hash: h, Kind: models.HashFuzzy, TradeID: tr.ID},
				Trade:  tr,
			})
		}
	}
	return hits, nil
}

func trade(mutate ...func(t *models.CanonicalTrade)) models.CanonicalTrade {
	tr := models.CanonicalTrade{
		Symbol:     "AAPL",
		Direction:  models.DirectionLong,
		Quantity:   decimal.NewFromInt(100),
		EntryPrice: decimal.RequireFromString("150.00"),
		ExitPrice:  decimal.RequireFromString("155.00"),
		EntryTime:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		ExitTime:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Instrument: models.InstrumentStocks,
		Source:     models.SourceManual,
	}
	for _, m := range mutate {
		m(&tr)
	}
	tr.ID = processors.TradeID(tr)
	return tr
}

func setup(t *testing.T) (*Matcher, *memoryLookup, *fingerprint.Generator) {
	t.Helper()
	return setupWith(t, config.DefaultDedupConfig())
}

func setupWith(t *testing.T, cfg config.DedupConfig) (*Matcher, *memoryLookup, *fingerprint.Generator) {
	t.Helper()
	lookup := newMemoryLookup(cfg)
	return NewMatcher(lookup, cfg), lookup, fingerprint.NewGenerator(cfg)
}

func TestMatch_ExactDuplicate(t *testing.T) {
	m, store, gen := setup(t)
	existing := trade()
	store.register(1, existing)

	incoming := trade()
	c, err := m.Match(context.Background(), 1, incoming, gen.Compute(incoming))
	require.NoError(t, err)

	assert.Equal(t, Duplicate, c.Kind)
	assert.Equal(t, models.HashExact, c.MatchType)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Equal(t, existing.ID, c.MatchedTradeID)
}

func TestMatch_FuzzyDuplicateWithinTolerance(t *testing.T) {
	m, store, gen := setup(t)
	existing := trade()
	store.register(1, existing)

	incoming := trade(func(t *models.CanonicalTrade) {
		t.EntryTime = t.EntryTime.Add(2 * time.Minute)
		t.ExitPrice = decimal.RequireFromString("155.01")
	})
	c, err := m.Match(context.Background(), 1, incoming, gen.Compute(incoming))
	require.NoError(t, err)

	assert.Equal(t, Duplicate, c.Kind)
	assert.Equal(t, models.HashFuzzy, c.MatchType)
	assert.GreaterOrEqual(t, c.Confidence, 0.85)
	assert.Less(t, c.Confidence, 1.0)
	assert.Equal(t, existing.ID, c.MatchedTradeID)
}

func eurusd(t *models.CanonicalTrade) {
	t.Symbol = "EURUSD"
	t.Instrument = models.InstrumentForex
	t.Quantity = decimal.NewFromInt(100000)
	t.EntryPrice = decimal.RequireFromString("1.08500")
	t.ExitPrice = decimal.RequireFromString("1.09000")
}

func btcusd(t *models.CanonicalTrade) {
	t.Symbol = "BTCUSD"
	t.Instrument = models.InstrumentCrypto
	t.Quantity = decimal.RequireFromString("0.5")
	t.EntryPrice = decimal.RequireFromString("60000")
	t.ExitPrice = decimal.RequireFromString("61000")
}

func TestMatch_ToleranceBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		base   func(t *models.CanonicalTrade)
		mutate func(t *models.CanonicalTrade)
		want   Kind
	}{
		{
			name:   "time shift just inside tolerance across a bucket edge",
			mutate: func(t *models.CanonicalTrade) { t.EntryTime = t.EntryTime.Add(-4*time.Minute - 59*time.Second) },
			want:   Duplicate,
		},
		{
			name:   "exit shifted by the full tolerance",
			mutate: func(t *models.CanonicalTrade) { t.ExitTime = t.ExitTime.Add(5 * time.Minute) },
			want:   Duplicate,
		},
		{
			name:   "price shifted by the full band",
			mutate: func(t *models.CanonicalTrade) { t.EntryPrice = decimal.RequireFromString("150.05") },
			want:   Duplicate,
		},
		{
			name:   "time shift beyond tolerance",
			mutate: func(t *models.CanonicalTrade) { t.EntryTime = t.EntryTime.Add(7 * time.Minute) },
			want:   Unique,
		},
		{
			name:   "price shift beyond tolerance",
			mutate: func(t *models.CanonicalTrade) { t.ExitPrice = decimal.RequireFromString("155.08") },
			want:   Unique,
		},
		{
			name: "time and price both on the tolerance edge",
			mutate: func(t *models.CanonicalTrade) {
				t.EntryTime = t.EntryTime.Add(5 * time.Minute)
				t.EntryPrice = decimal.RequireFromString("150.05")
			},
			want: Ambiguous,
		},
		{
			name: "forex exit shifted by the full pip band",
			base: eurusd,
			mutate: func(t *models.CanonicalTrade) {
				t.EntryTime = t.EntryTime.Add(time.Minute)
				t.ExitPrice = decimal.RequireFromString("1.09050")
			},
			want: Duplicate,
		},
		{
			name: "forex trade fifty pips away on both legs",
			base: eurusd,
			mutate: func(t *models.CanonicalTrade) {
				t.EntryTime = t.EntryTime.Add(3 * time.Minute)
				t.EntryPrice = decimal.RequireFromString("1.09000")
				t.ExitPrice = decimal.RequireFromString("1.09500")
			},
			want: Unique,
		},
		{
			name:   "forex price just beyond the pip band",
			base:   eurusd,
			mutate: func(t *models.CanonicalTrade) { t.EntryPrice = decimal.RequireFromString("1.08560") },
			want:   Unique,
		},
		{
			name:   "crypto price within the relative band",
			base:   btcusd,
			mutate: func(t *models.CanonicalTrade) { t.EntryPrice = decimal.RequireFromString("60030") },
			want:   Duplicate,
		},
		{
			name:   "crypto price beyond the relative band",
			base:   btcusd,
			mutate: func(t *models.CanonicalTrade) { t.EntryPrice = decimal.RequireFromString("60120") },
			want:   Unique,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, gen := setup(t)
			var base []func(t *models.CanonicalTrade)
			if tt.base != nil {
				base = append(base, tt.base)
			}
			store.register(1, trade(base...))

			incoming := trade(append(base, tt.mutate)...)
			c, err := m.Match(context.Background(), 1, incoming, gen.Compute(incoming))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Kind, "confidence %v", c.Confidence)
			if tt.want == Duplicate {
				assert.GreaterOrEqual(t, c.Confidence, 0.85)
			}
		})
	}
}

func TestMatch_QuantityTolerance(t *testing.T) {
	tests := []struct {
		name      string
		tolerance float64
		quantity  int64
		want      Kind
	}{
		{name: "exact quantity required by default", tolerance: 0, quantity: 101, want: Unique},
		{name: "one percent off within five percent tolerance", tolerance: 0.05, quantity: 101, want: Duplicate},
		{name: "four percent off within five percent tolerance", tolerance: 0.05, quantity: 104, want: Duplicate},
		{name: "beyond quantity tolerance", tolerance: 0.05, quantity: 110, want: Unique},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultDedupConfig()
			cfg.QuantityTolerance = tt.tolerance
			m, store, gen := setupWith(t, cfg)
			existing := trade()
			store.register(1, existing)

			incoming := trade(func(t *models.CanonicalTrade) { t.Quantity = decimal.NewFromInt(tt.quantity) })
			c, err := m.Match(context.Background(), 1, incoming, gen.Compute(incoming))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Kind, "confidence %v", c.Confidence)
			if tt.want == Duplicate {
				assert.Equal(t, models.HashFuzzy, c.MatchType)
				assert.Equal(t, existing.ID, c.MatchedTradeID)
				assert.GreaterOrEqual(t, c.Confidence, cfg.AcceptThreshold)
				assert.Less(t, c.Confidence, 1.0)
			}
		})
	}
}

func TestMatch_AmbiguousListsCandidatesInOrder(t *testing.T) {
	m, store, gen := setup(t)
	near := trade(func(t *models.CanonicalTrade) {
		t.EntryTime = t.EntryTime.Add(4 * time.Minute)
		t.EntryPrice = decimal.RequireFromString("150.04")
	})
	far := trade(func(t *models.CanonicalTrade) {
		t.EntryTime = t.EntryTime.Add(5 * time.Minute)
		t.EntryPrice = decimal.RequireFromString("150.05")
	})
	store.register(1, far)
	store.register(1, near)

	incoming := trade()
	c, err := m.Match(context.Background(), 1, incoming, gen.Compute(incoming))
	require.NoError(t, err)

	require.Equal(t, Ambiguous, c.Kind)
	require.Len(t, c.Candidates, 2)
	assert.Equal(t, near.ID, c.Candidates[0].MatchedTradeID)
	assert.Equal(t, far.ID, c.Candidates[1].MatchedTradeID)
	assert.Greater(t, c.Candidates[0].Confidence, c.Candidates[1].Confidence)
	assert.Equal(t, c.Candidates[0].Confidence, c.Confidence)
}

func TestMatch_DifferentTradeIsUnique(t *testing.T) {
	m, store, gen := setup(t)
	store.register(1, trade())

	incoming := trade(func(t *models.CanonicalTrade) {
		t.Symbol = "TSLA"
		t.Direction = models.DirectionShort
		t.Quantity = decimal.NewFromInt(50)
		t.EntryPrice = decimal.RequireFromString("200.00")
		t.ExitPrice = decimal.RequireFromString("190.00")
	})
	c, err := m.Match(context.Background(), 1, incoming, gen.Compute(incoming))
	require.NoError(t, err)
	assert.Equal(t, Unique, c.Kind)
	assert.Empty(t, c.Candidates)
}

func TestMatch_UserIsolation(t *testing.T) {
	m, store, gen := setup(t)
	store.register(1, trade())

	incoming := trade()
	c, err := m.Match(context.Background(), 2, incoming, gen.Compute(incoming))
	require.NoError(t, err)
	assert.Equal(t, Unique, c.Kind)
}

func TestMatch_StoreErrorIsReturned(t *testing.T) {
	m, store, gen := setup(t)
	store.err = errors.New("disk on fire")

	incoming := trade()
	_, err := m.Match(context.Background(), 1, incoming, gen.Compute(incoming))
	assert.EqualError(t, err, "disk on fire")
}

func TestScore(t *testing.T) {
	cfg := config.DefaultDedupConfig()
	m := NewMatcher(nil, cfg)
	base := trade()

	score, ok := m.Score(base, base)
	assert.True(t, ok)
	assert.Equal(t, 1.0, score)

	_, ok = m.Score(base, trade(func(t *models.CanonicalTrade) { t.Quantity = decimal.NewFromInt(99) }))
	assert.False(t, ok, "quantity must match exactly with zero quantity tolerance")

	cfg.QuantityTolerance = 0.05
	m = NewMatcher(nil, cfg)
	score, ok = m.Score(base, trade(func(t *models.CanonicalTrade) { t.Quantity = decimal.NewFromInt(99) }))
	assert.True(t, ok)
	assert.Greater(t, score, cfg.AcceptThreshold)

	_, ok = m.Score(base, trade(func(t *models.CanonicalTrade) { t.Broker = "other" }))
	assert.False(t, ok)
}
