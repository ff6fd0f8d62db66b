package fingerprint

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/username/tradeingest/src/config"
	"github.com/username/tradeingest/src/models"
)

// PriceTolerance measures price distance per instrument class. The generator
// bands prices with it and the matcher scores with it, so two prices within
// tolerance of each other always fall in the same or neighbouring bands.
type PriceTolerance struct {
	centQuoted decimal.Decimal
	forex      decimal.Decimal
	crypto     decimal.Decimal
	// width of one crypto band in log space
	cryptoStep float64
}

func NewPriceTolerance(cfg config.DedupConfig) PriceTolerance {
	return PriceTolerance{
		centQuoted: cfg.PriceTolerance,
		forex:      cfg.ForexPriceTolerance,
		crypto:     decimal.NewFromFloat(cfg.CryptoPriceTolerance),
		cryptoStep: math.Log1p(cfg.CryptoPriceTolerance),
	}
}

// Band returns the index of the price band holding price.
func (p PriceTolerance) Band(class models.InstrumentClass, price decimal.Decimal) int64 {
	switch class {
	case models.InstrumentCrypto:
		if !price.IsPositive() {
			return 0
		}
		return int64(math.Floor(math.Log(price.InexactFloat64()) / p.cryptoStep))
	case models.InstrumentForex:
		return price.Div(p.forex).Floor().IntPart()
	default:
		return price.Div(p.centQuoted).Floor().IntPart()
	}
}

// Distance is |a-b| in tolerance units: 1 sits exactly on the tolerance edge.
// Crypto distances are relative to the lower of the two prices.
func (p PriceTolerance) Distance(class models.InstrumentClass, a, b decimal.Decimal) float64 {
	delta := a.Sub(b).Abs()
	if delta.IsZero() {
		return 0
	}
	switch class {
	case models.InstrumentCrypto:
		lower := decimal.Min(a, b)
		if !lower.IsPositive() {
			return math.Inf(1)
		}
		return delta.Div(lower.Mul(p.crypto)).InexactFloat64()
	case models.InstrumentForex:
		return delta.Div(p.forex).InexactFloat64()
	default:
		return delta.Div(p.centQuoted).InexactFloat64()
	}
}
