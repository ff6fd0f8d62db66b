package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
)

// DedupConfig holds the tolerance and threshold settings shared by the
// fingerprint generator, the matcher and the fingerprint retention job.
type DedupConfig struct {
	// TimeTolerance is both the fuzzy time bucket width and the largest
	// entry/exit time shift still considered the same trade.
	TimeTolerance time.Duration
	// PriceTolerance is the fuzzy price band width, in currency units, for
	// cent-quoted classes (stocks, futures, options).
	PriceTolerance decimal.Decimal
	// ForexPriceTolerance is the band width for forex quotes (0.0005 is five pips).
	ForexPriceTolerance decimal.Decimal
	// CryptoPriceTolerance is relative: crypto prices span many orders of
	// magnitude, so 0.001 accepts a 0.1% price difference.
	CryptoPriceTolerance float64
	// QuantityTolerance is the relative quantity difference still accepted
	// (0 means quantities must be equal).
	QuantityTolerance float64

	AcceptThreshold float64
	ReviewThreshold float64

	TimeWeight     float64
	PriceWeight    float64
	QuantityWeight float64
	// EdgePenalty is how much confidence a candidate loses when every
	// dimension sits exactly on its tolerance edge.
	EdgePenalty float64

	RetentionDays int
}

func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		TimeTolerance:        5 * time.Minute,
		PriceTolerance:       decimal.NewFromFloat(0.05),
		ForexPriceTolerance:  decimal.NewFromFloat(0.0005),
		CryptoPriceTolerance: 0.001,
		QuantityTolerance:    0,
		AcceptThreshold:      0.85,
		ReviewThreshold:      0.60,
		TimeWeight:           0.4,
		PriceWeight:          0.4,
		QuantityWeight:       0.2,
		EdgePenalty:          0.3,
		RetentionDays:        365,
	}
}

// Validate reports every invalid setting at once.
func (c DedupConfig) Validate() error {
	var result *multierror.Error

	if c.TimeTolerance <= 0 {
		result = multierror.Append(result, fmt.Errorf("time tolerance must be positive, got %s", c.TimeTolerance))
	}
	if !c.PriceTolerance.IsPositive() {
		result = multierror.Append(result, fmt.Errorf("price tolerance must be positive, got %s", c.PriceTolerance))
	}
	if !c.ForexPriceTolerance.IsPositive() {
		result = multierror.Append(result, fmt.Errorf("forex price tolerance must be positive, got %s", c.ForexPriceTolerance))
	}
	if c.CryptoPriceTolerance <= 0 || c.CryptoPriceTolerance >= 1 {
		result = multierror.Append(result, fmt.Errorf("crypto price tolerance must be in (0,1), got %g", c.CryptoPriceTolerance))
	}
	if c.QuantityTolerance < 0 || c.QuantityTolerance >= 1 {
		result = multierror.Append(result, fmt.Errorf("quantity tolerance must be in [0,1), got %g", c.QuantityTolerance))
	}
	if c.AcceptThreshold <= 0 || c.AcceptThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("accept threshold must be in (0,1], got %g", c.AcceptThreshold))
	}
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		result = multierror.Append(result, fmt.Errorf("review threshold must be in [0,1], got %g", c.ReviewThreshold))
	}
	if c.ReviewThreshold > c.AcceptThreshold {
		result = multierror.Append(result, fmt.Errorf("review threshold %g exceeds accept threshold %g", c.ReviewThreshold, c.AcceptThreshold))
	}
	if c.TimeWeight < 0 || c.PriceWeight < 0 || c.QuantityWeight < 0 {
		result = multierror.Append(result, fmt.Errorf("score weights must not be negative"))
	} else if c.TimeWeight+c.PriceWeight+c.QuantityWeight <= 0 {
		result = multierror.Append(result, fmt.Errorf("score weights must not all be zero"))
	}
	if c.EdgePenalty <= 0 || c.EdgePenalty > 1 {
		result = multierror.Append(result, fmt.Errorf("edge penalty must be in (0,1], got %g", c.EdgePenalty))
	}
	if c.RetentionDays <= 0 {
		result = multierror.Append(result, fmt.Errorf("fingerprint retention must be at least one day, got %d", c.RetentionDays))
	}

	return result.ErrorOrNil()
}
