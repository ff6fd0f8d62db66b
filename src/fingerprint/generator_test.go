package fingerprint

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/models"
)

func baseTrade() models.CanonicalTrade {
	return models.CanonicalTrade{
		Symbol:     "AAPL",
		Direction:  models.DirectionLong,
		Quantity:   decimal.NewFromInt(100),
		EntryPrice: decimal.RequireFromString("150.00"),
		ExitPrice:  decimal.RequireFromString("155.00"),
		EntryTime:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		ExitTime:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Instrument: models.InstrumentStocks,
		Broker:     "ibkr",
		Source:     models.SourceManual,
	}
}

func TestExactHash_Deterministic(t *testing.T) {
	a, b := baseTrade(), baseTrade()
	b.Source = models.APISource("tradovate")
	b.Tags = []string{"ignored"}

	assert.Equal(t, ExactHash(a), ExactHash(b))
	assert.Len(t, ExactHash(a), 64)
}

func TestExactHash_FieldDifferences(t *testing.T) {
	base := ExactHash(baseTrade())

	mutations := map[string]func(t *models.CanonicalTrade){
		"symbol":      func(t *models.CanonicalTrade) { t.Symbol = "MSFT" },
		"direction":   func(t *models.CanonicalTrade) { t.Direction = models.DirectionShort },
		"quantity":    func(t *models.CanonicalTrade) { t.Quantity = decimal.NewFromInt(101) },
		"entry price": func(t *models.CanonicalTrade) { t.EntryPrice = decimal.RequireFromString("150.01") },
		"exit price":  func(t *models.CanonicalTrade) { t.ExitPrice = decimal.RequireFromString("155.01") },
		"entry time":  func(t *models.CanonicalTrade) { t.EntryTime = t.EntryTime.Add(time.Minute) },
		"exit time":   func(t *models.CanonicalTrade) { t.ExitTime = t.ExitTime.Add(time.Minute) },
		"broker":      func(t *models.CanonicalTrade) { t.Broker = "tradovate" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tr := baseTrade()
			mutate(&tr)
			assert.NotEqual(t, base, ExactHash(tr))
		})
	}
}

func TestExactHash_MinuteGranularity(t *testing.T) {
	a := baseTrade()
	b := baseTrade()
	b.EntryTime = b.EntryTime.Add(42 * time.Second)

	assert.Equal(t, ExactHash(a), ExactHash(b))
}

func TestExactHash_TrailingZerosDoNotMatter(t *testing.T) {
	a := baseTrade()
	b := baseTrade()
	b.Quantity = decimal.RequireFromString("100.000")
	b.EntryPrice = decimal.RequireFromString("150")

	assert.Equal(t, ExactHash(a), ExactHash(b))
}

func TestFuzzy_CollapsesJitter(t *testing.T) {
	g := NewGenerator(config.DefaultDedupConfig())

	a := baseTrade()
	b := baseTrade()
	b.EntryTime = b.EntryTime.Add(2 * time.Minute)
	b.ExitPrice = decimal.RequireFromString("155.01")

	assert.NotEqual(t, g.Exact(a), g.Exact(b))
	assert.Equal(t, g.Fuzzy(a), g.Fuzzy(b))
}

func TestFuzzyProbes_CoverNeighbouringBuckets(t *testing.T) {
	g := NewGenerator(config.DefaultDedupConfig())

	a := baseTrade()
	// 08:59:00 falls in the bucket before 09:00, and 154.99 in the band below 155.00.
	b := baseTrade()
	b.EntryTime = time.Date(2024, 3, 1, 8, 59, 0, 0, time.UTC)
	b.ExitPrice = decimal.RequireFromString("154.99")

	assert.NotEqual(t, g.Fuzzy(a), g.Fuzzy(b))

	probes := g.FuzzyProbes(a)
	assert.Len(t, probes, 81)
	assert.Equal(t, g.Fuzzy(a), probes[0])
	assert.Contains(t, probes, g.Fuzzy(b))

	unique := map[string]struct{}{}
	for _, p := range probes {
		unique[p] = struct{}{}
	}
	assert.Len(t, unique, 81)
}

func TestFuzzyProbes_DoNotReachTwoBucketsAway(t *testing.T) {
	g := NewGenerator(config.DefaultDedupConfig())

	a := baseTrade()
	b := baseTrade()
	b.EntryTime = b.EntryTime.Add(11 * time.Minute)

	assert.NotContains(t, g.FuzzyProbes(a), g.Fuzzy(b))
}

func TestCompute(t *testing.T) {
	g := NewGenerator(config.DefaultDedupConfig())
	tr := baseTrade()

	set := g.Compute(tr)
	assert.Equal(t, ExactHash(tr), set.Exact)
	assert.Equal(t, g.Fuzzy(tr), set.Fuzzy)
	assert.Equal(t, set.Fuzzy, set.Probes[0])
	assert.NotEqual(t, set.Exact, set.Fuzzy)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(5, 2))
	assert.Equal(t, int64(-3), floorDiv(-5, 2))
	assert.Equal(t, int64(-2), floorDiv(-4, 2))
}
