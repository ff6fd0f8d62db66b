package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

type InstrumentClass string

const (
	InstrumentStocks  InstrumentClass = "stocks"
	InstrumentFutures InstrumentClass = "futures"
	InstrumentOptions InstrumentClass = "options"
	InstrumentForex   InstrumentClass = "forex"
	InstrumentCrypto  InstrumentClass = "crypto"
)

func (c InstrumentClass) Valid() bool {
	switch c {
	case InstrumentStocks, InstrumentFutures, InstrumentOptions, InstrumentForex, InstrumentCrypto:
		return true
	}
	return false
}

// PriceScale is the number of decimal places prices of this class are
// rounded to (the instrument's minor currency unit).
func (c InstrumentClass) PriceScale() int32 {
	switch c {
	case InstrumentForex:
		return 5
	case InstrumentCrypto:
		return 8
	default:
		return 2
	}
}

// QuantityScale covers fractional shares and crypto lots.
const QuantityScale int32 = 8

// DataSource labels where a trade entered the system: "manual", "file" or
// "api:<connector>".
type DataSource string

const (
	SourceManual DataSource = "manual"
	SourceFile   DataSource = "file"

	apiSourcePrefix = "api:"
)

func APISource(connector string) DataSource {
	return DataSource(apiSourcePrefix + strings.ToLower(strings.TrimSpace(connector)))
}

// ParseDataSource validates a source label.
func ParseDataSource(s string) (DataSource, error) {
	label := strings.ToLower(strings.TrimSpace(s))
	switch {
	case label == string(SourceManual):
		return SourceManual, nil
	case label == string(SourceFile):
		return SourceFile, nil
	case strings.HasPrefix(label, apiSourcePrefix):
		connector := strings.TrimSpace(strings.TrimPrefix(label, apiSourcePrefix))
		if connector == "" {
			return "", fmt.Errorf("data source %q is missing a connector name", s)
		}
		return APISource(connector), nil
	default:
		return "", fmt.Errorf("unknown data source %q", s)
	}
}

// Connector returns the connector name of an api source, or "".
func (s DataSource) Connector() string {
	if strings.HasPrefix(string(s), apiSourcePrefix) {
		return strings.TrimPrefix(string(s), apiSourcePrefix)
	}
	return ""
}

// CanonicalTrade is the single normalized representation of a trade. It is
// built by the normalizer and never mutated by the deduplication engine.
type CanonicalTrade struct {
	// ID is derived from the canonical fields; it is never taken from input.
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Direction  Direction       `json:"direction"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	EntryTime  time.Time       `json:"entry_time"`
	ExitTime   time.Time       `json:"exit_time"`
	PnL        decimal.Decimal `json:"pnl"`
	Instrument InstrumentClass `json:"instrument"`
	Broker     string          `json:"broker"`

	Commission *decimal.Decimal `json:"commission,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	Tags       []string         `json:"tags,omitempty"`

	Source DataSource `json:"source"`
}
