package processors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/username/tradeingest/src/fingerprint"
	"github.com/username/tradeingest/src/models"
	"github.com/username/tradeingest/src/security/validation"
	"github.com/username/tradeingest/src/utils"
)

// tradeNamespace seeds the name-based UUIDs used as trade identifiers.
var tradeNamespace = uuid.MustParse("6f1c2a4e-9b7d-4c1e-8a53-2d0f7e6b9c41")

// fieldAliases maps each canonical field to the names sources use for it,
// already in NormalizeFieldName form. The first alias present wins.
var fieldAliases = map[string][]string{
	"symbol":      {"symbol", "ticker", "instrument_symbol", "underlying", "pair", "asset"},
	"direction":   {"direction", "side", "position_side", "position", "trade_type", "action", "type"},
	"quantity":    {"quantity", "qty", "size", "volume", "shares", "contracts", "units"},
	"entry_price": {"entry_price", "open_price", "avg_entry_price", "entry", "price_in"},
	"exit_price":  {"exit_price", "close_price", "avg_exit_price", "exit", "price_out"},
	"entry_time":  {"entry_time", "entry_date", "entry_datetime", "entry_timestamp", "open_time", "opened_at", "open_date", "start_datetime", "start_time"},
	"exit_time":   {"exit_time", "exit_date", "exit_datetime", "exit_timestamp", "close_time", "closed_at", "close_date", "end_datetime", "end_time"},
	"pnl":         {"pnl", "realized_pnl", "realised_pnl", "profit_loss", "p&l", "profit", "net_pl", "gross_pl"},
	"instrument":  {"instrument_type", "instrument_class", "instrument", "asset_class", "asset_type", "security_type", "market"},
	"broker":      {"broker", "broker_name", "brokerage"},
	"commission":  {"commission", "commissions", "fees", "fee", "comm"},
	"stop_loss":   {"stop_loss", "stoploss", "sl", "stop", "stop_price"},
	"take_profit": {"take_profit", "takeprofit", "tp", "target", "target_price", "profit_target"},
	"tags":        {"tags", "tag", "labels"},
}

var directionAliases = map[string]models.Direction{
	"long":       models.DirectionLong,
	"l":          models.DirectionLong,
	"buy":        models.DirectionLong,
	"b":          models.DirectionLong,
	"bot":        models.DirectionLong,
	"short":      models.DirectionShort,
	"s":          models.DirectionShort,
	"sell":       models.DirectionShort,
	"sld":        models.DirectionShort,
	"sell_short": models.DirectionShort,
	"short_sell": models.DirectionShort,
}

var instrumentAliases = map[string]models.InstrumentClass{
	"stocks":         models.InstrumentStocks,
	"stock":          models.InstrumentStocks,
	"equity":         models.InstrumentStocks,
	"equities":       models.InstrumentStocks,
	"stk":            models.InstrumentStocks,
	"etf":            models.InstrumentStocks,
	"futures":        models.InstrumentFutures,
	"future":         models.InstrumentFutures,
	"fut":            models.InstrumentFutures,
	"options":        models.InstrumentOptions,
	"option":         models.InstrumentOptions,
	"opt":            models.InstrumentOptions,
	"forex":          models.InstrumentForex,
	"fx":             models.InstrumentForex,
	"currency":       models.InstrumentForex,
	"cash":           models.InstrumentForex,
	"crypto":         models.InstrumentCrypto,
	"cryptocurrency": models.InstrumentCrypto,
	"coin":           models.InstrumentCrypto,
}

type TradeNormalizer struct {
	location *time.Location
}

// NewTradeNormalizer builds a normalizer that reads zone-less timestamps in loc.
func NewTradeNormalizer(loc *time.Location) *TradeNormalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &TradeNormalizer{location: loc}
}

// Normalize turns one heterogeneous input record into a CanonicalTrade. It
// has no side effects; every problem found is returned as a field error.
func (n *TradeNormalizer) Normalize(raw models.RawTrade, source models.DataSource) models.NormalizeResult {
	fields := indexFields(raw)
	var errs []models.ValidationError
	fail := func(field string, code models.ValidationCode, format string, args ...any) {
		errs = append(errs, models.ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := models.ParseDataSource(string(source)); err != nil {
		fail("source", models.CodeInvalidSource, "%v", err)
	}

	trade := models.CanonicalTrade{Source: source}

	trade.Symbol = strings.ToUpper(strings.TrimSpace(validation.StripUnprintable(fields.text("symbol"))))
	if trade.Symbol == "" {
		fail("symbol", models.CodeMissingField, "symbol is required")
	}

	if dirRaw := fields.text("direction"); dirRaw == "" {
		fail("direction", models.CodeMissingField, "direction is required")
	} else if dir, ok := directionAliases[validation.NormalizeFieldName(dirRaw)]; ok {
		trade.Direction = dir
	} else {
		fail("direction", models.CodeInvalidDirection, "unsupported direction %q (expected long or short)", dirRaw)
	}

	trade.Instrument = models.InstrumentStocks
	if instRaw := fields.text("instrument"); instRaw != "" {
		if inst, ok := instrumentAliases[validation.NormalizeFieldName(instRaw)]; ok {
			trade.Instrument = inst
		} else {
			fail("instrument", models.CodeInvalidInstrument, "unsupported instrument class %q", instRaw)
		}
	}
	scale := trade.Instrument.PriceScale()

	trade.Quantity = n.requirePositive(fields, "quantity", models.QuantityScale, fail)
	trade.EntryPrice = n.requirePositive(fields, "entry_price", scale, fail)
	trade.ExitPrice = n.requirePositive(fields, "exit_price", scale, fail)

	entryTime, entryOK := n.requireTime(fields, "entry_time", fail)
	exitTime, exitOK := n.requireTime(fields, "exit_time", fail)
	if entryOK && exitOK && !exitTime.After(entryTime) {
		fail("exit_time", models.CodeExitNotAfterEntry, "exit time %s is not after entry time %s",
			exitTime.Format(time.RFC3339), entryTime.Format(time.RFC3339))
	}
	trade.EntryTime, trade.ExitTime = entryTime, exitTime

	trade.Broker = strings.ToLower(strings.TrimSpace(validation.StripUnprintable(fields.text("broker"))))

	trade.Commission = n.optionalDecimal(fields, "commission", scale, false, fail)
	trade.StopLoss = n.optionalDecimal(fields, "stop_loss", scale, true, fail)
	trade.TakeProfit = n.optionalDecimal(fields, "take_profit", scale, true, fail)
	trade.Tags = normalizeTags(fields.value("tags"))

	if pnl, present, err := toDecimal(fields.value("pnl")); err != nil {
		fail("pnl", models.CodeInvalidNumber, "pnl: %v", err)
	} else if present {
		trade.PnL = pnl.Round(scale)
	} else if len(errs) == 0 {
		trade.PnL = derivePnL(trade).Round(scale)
	}

	if len(errs) > 0 {
		return models.NormalizeResult{Errors: errs}
	}

	trade.ID = TradeID(trade)
	return models.NormalizeResult{Trade: &trade}
}

// TradeID derives the identifier of a canonical trade from its exact fingerprint.
func TradeID(t models.CanonicalTrade) string {
	return uuid.NewSHA1(tradeNamespace, []byte(fingerprint.ExactHash(t))).String()
}

func (n *TradeNormalizer) requirePositive(fields rawFields, field string, scale int32, fail func(string, models.ValidationCode, string, ...any)) decimal.Decimal {
	d, present, err := toDecimal(fields.value(field))
	switch {
	case err != nil:
		fail(field, models.CodeInvalidNumber, "%s: %v", field, err)
	case !present:
		fail(field, models.CodeMissingField, "%s is required", field)
	default:
		d = d.Round(scale)
		if !d.IsPositive() {
			fail(field, models.CodeNonPositive, "%s must be greater than zero, got %s", field, d.String())
		}
	}
	return d
}

func (n *TradeNormalizer) requireTime(fields rawFields, field string, fail func(string, models.ValidationCode, string, ...any)) (time.Time, bool) {
	v := fields.value(field)
	if isBlank(v) {
		fail(field, models.CodeMissingField, "%s is required", field)
		return time.Time{}, false
	}
	var (
		t   time.Time
		err error
	)
	switch tv := v.(type) {
	case time.Time:
		t = tv.UTC().Truncate(time.Second)
	case float64:
		t = time.Unix(int64(tv), 0).UTC()
	case int64:
		t = time.Unix(tv, 0).UTC()
	case int:
		t = time.Unix(int64(tv), 0).UTC()
	default:
		t, err = utils.ParseTimestamp(stringify(v), n.location)
	}
	if err != nil {
		fail(field, models.CodeInvalidTimestamp, "%s: %v", field, err)
		return time.Time{}, false
	}
	return t, true
}

func (n *TradeNormalizer) optionalDecimal(fields rawFields, field string, scale int32, mustBePositive bool, fail func(string, models.ValidationCode, string, ...any)) *decimal.Decimal {
	d, present, err := toDecimal(fields.value(field))
	if err != nil {
		fail(field, models.CodeInvalidNumber, "%s: %v", field, err)
		return nil
	}
	if !present {
		return nil
	}
	d = d.Round(scale)
	if mustBePositive && !d.IsPositive() {
		fail(field, models.CodeNonPositive, "%s must be greater than zero, got %s", field, d.String())
		return nil
	}
	return &d
}

func derivePnL(t models.CanonicalTrade) decimal.Decimal {
	move := t.ExitPrice.Sub(t.EntryPrice)
	if t.Direction == models.DirectionShort {
		move = move.Neg()
	}
	pnl := move.Mul(t.Quantity)
	if t.Commission != nil {
		pnl = pnl.Sub(*t.Commission)
	}
	return pnl
}

// rawFields resolves canonical field names against a record's keys.
type rawFields map[string]any

func indexFields(raw models.RawTrade) rawFields {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(rawFields, len(raw))
	for _, k := range keys {
		nk := validation.NormalizeFieldName(k)
		if _, exists := fields[nk]; !exists {
			fields[nk] = raw[k]
		}
	}
	return fields
}

func (f rawFields) value(canonical string) any {
	for _, alias := range fieldAliases[canonical] {
		if v, ok := f[alias]; ok && !isBlank(v) {
			return v
		}
	}
	return nil
}

func (f rawFields) text(canonical string) string {
	v := f.value(canonical)
	if v == nil {
		return ""
	}
	return strings.TrimSpace(stringify(v))
}

func isBlank(v any) bool {
	switch tv := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(tv) == ""
	}
	return false
}

func stringify(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case json.Number:
		return tv.String()
	case fmt.Stringer:
		return tv.String()
	default:
		return fmt.Sprint(tv)
	}
}

// toDecimal converts numbers and numeric strings ("1,234.50", "$12") to a
// decimal. present is false when the value is absent or blank.
func toDecimal(v any) (d decimal.Decimal, present bool, err error) {
	if isBlank(v) {
		return decimal.Zero, false, nil
	}
	switch tv := v.(type) {
	case decimal.Decimal:
		return tv, true, nil
	case float64:
		return decimal.NewFromFloat(tv), true, nil
	case float32:
		return decimal.NewFromFloat32(tv), true, nil
	case int:
		return decimal.NewFromInt(int64(tv)), true, nil
	case int64:
		return decimal.NewFromInt(tv), true, nil
	case json.Number:
		d, err = decimal.NewFromString(tv.String())
	case string:
		cleaned := strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(strings.TrimSpace(tv))
		d, err = decimal.NewFromString(cleaned)
	default:
		return decimal.Zero, true, fmt.Errorf("unsupported numeric value of type %T", v)
	}
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("not a number: %q", stringify(v))
	}
	return d, true, nil
}

func normalizeTags(v any) []string {
	var candidates []string
	switch tv := v.(type) {
	case nil:
		return nil
	case []string:
		candidates = tv
	case []any:
		for _, item := range tv {
			if item != nil {
				candidates = append(candidates, stringify(item))
			}
		}
	default:
		candidates = strings.Split(stringify(tv), ",")
	}

	seen := make(map[string]struct{}, len(candidates))
	var tags []string
	for _, c := range candidates {
		tag := strings.TrimSpace(validation.StripUnprintable(c))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
