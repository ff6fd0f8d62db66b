// Package fingerprint derives the identity keys used for duplicate detection:
// an exact key over the full canonical field tuple and a fuzzy key over a
// tolerance-quantized copy of it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/models"
)

const minuteLayout = "2006-01-02T15:04"

// Set bundles the fingerprints of one trade.
type Set struct {
	Exact string
	Fuzzy string
	// Probes holds Fuzzy followed by the hashes of every neighbouring bucket.
	Probes []string
}

type Generator struct {
	timeBucketSeconds int64
	prices            PriceTolerance
	// quantity only joins the fuzzy key when it has to match exactly
	quantityInKey     bool
}

func NewGenerator(cfg config.DedupConfig) *Generator {
	secs := int64(cfg.TimeTolerance / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return &Generator{
		timeBucketSeconds: secs,
		prices:            NewPriceTolerance(cfg),
		quantityInKey:     cfg.QuantityTolerance <= 0,
	}
}

// ExactHash hashes the canonical tuple (symbol, direction, quantity, entry
// price, exit price, entry minute, exit minute, broker).
func ExactHash(t models.CanonicalTrade) string {
	scale := t.Instrument.PriceScale()
	input := fmt.Sprintf("exact|%s|%s|%s|%s|%s|%s|%s|%s",
		t.Symbol,
		t.Direction,
		t.Quantity.String(),
		t.EntryPrice.StringFixed(scale),
		t.ExitPrice.StringFixed(scale),
		t.EntryTime.UTC().Truncate(time.Minute).Format(minuteLayout),
		t.ExitTime.UTC().Truncate(time.Minute).Format(minuteLayout),
		strings.ToLower(t.Broker),
	)
	return sum(input)
}

func (g *Generator) Exact(t models.CanonicalTrade) string {
	return ExactHash(t)
}

// Fuzzy hashes the trade's own bucket.
func (g *Generator) Fuzzy(t models.CanonicalTrade) string {
	return g.fuzzyKey(t, g.coordinates(t))
}

// FuzzyProbes returns the own bucket first, then every bucket one step away
// in entry time, exit time, entry price band or exit price band.
func (g *Generator) FuzzyProbes(t models.CanonicalTrade) []string {
	base := g.coordinates(t)
	probes := make([]string, 0, 81)
	probes = append(probes, g.fuzzyKey(t, base))

	steps := [3]int64{-1, 0, 1}
	for _, de := range steps {
		for _, dx := range steps {
			for _, dpe := range steps {
				for _, dpx := range steps {
					if de == 0 && dx == 0 && dpe == 0 && dpx == 0 {
						continue
					}
					probes = append(probes, g.fuzzyKey(t, coordinates{
						entryBucket: base.entryBucket + de,
						exitBucket:  base.exitBucket + dx,
						entryBand:   base.entryBand + dpe,
						exitBand:    base.exitBand + dpx,
					}))
				}
			}
		}
	}
	return probes
}

func (g *Generator) Compute(t models.CanonicalTrade) Set {
	probes := g.FuzzyProbes(t)
	return Set{
		Exact:  g.Exact(t),
		Fuzzy:  probes[0],
		Probes: probes,
	}
}

type coordinates struct {
	entryBucket, exitBucket int64
	entryBand, exitBand     int64
}

func (g *Generator) coordinates(t models.CanonicalTrade) coordinates {
	return coordinates{
		entryBucket: floorDiv(t.EntryTime.Unix(), g.timeBucketSeconds),
		exitBucket:  floorDiv(t.ExitTime.Unix(), g.timeBucketSeconds),
		entryBand:   g.prices.Band(t.Instrument, t.EntryPrice),
		exitBand:    g.prices.Band(t.Instrument, t.ExitPrice),
	}
}

func (g *Generator) fuzzyKey(t models.CanonicalTrade, c coordinates) string {
	// With a quantity tolerance the matcher scores quantity itself, so trades
	// of different size must still share a bucket.
	quantity := "*"
	if g.quantityInKey {
		quantity = t.Quantity.String()
	}
	input := fmt.Sprintf("fuzzy|%s|%s|%s|%d|%d|%d|%d|%s",
		t.Symbol,
		t.Direction,
		quantity,
		c.entryBand,
		c.exitBand,
		c.entryBucket,
		c.exitBucket,
		strings.ToLower(t.Broker),
	)
	return sum(input)
}

func sum(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
