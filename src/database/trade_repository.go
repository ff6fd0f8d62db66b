package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"github.com/username/tradeingest/src/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const tradeColumns = `t.id, t.symbol, t.direction, t.quantity, t.entry_price, t.exit_price,
	t.entry_time, t.exit_time, t.pnl, t.instrument, t.broker, t.commission,
	t.stop_loss, t.take_profit, t.tags, t.source`

// TradeRepository reads the unified trade set of a user.
type TradeRepository struct {
	db *DB
}

func NewTradeRepository(db *DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// ListByUser returns every registered trade of userID ordered by entry time.
func (r *TradeRepository) ListByUser(ctx context.Context, userID int64) ([]models.CanonicalTrade, error) {
	query := r.db.Rebind(`SELECT ` + tradeColumns + ` FROM trades t
		WHERE t.user_id = ? ORDER BY t.entry_time ASC, t.id ASC`)
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, unavailable("query trades", err)
	}
	defer rows.Close()

	trades := []models.CanonicalTrade{}
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate trades", err)
	}
	return trades, nil
}

// CountByUser returns how many trades userID has registered.
func (r *TradeRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM trades WHERE user_id = ?`), userID).Scan(&n)
	if err != nil {
		return 0, unavailable("count trades", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner, extra ...any) (models.CanonicalTrade, error) {
	var (
		tr                                  models.CanonicalTrade
		qty, entryPrice, exitPrice, pnl     string
		entryUnix, exitUnix                 int64
		commission, stopLoss, takeProfit    sql.NullString
		tags                                string
		direction, instrument, broker, srcL string
	)
	dest := []any{
		&tr.ID, &tr.Symbol, &direction, &qty, &entryPrice, &exitPrice,
		&entryUnix, &exitUnix, &pnl, &instrument, &broker, &commission,
		&stopLoss, &takeProfit, &tags, &srcL,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return tr, unavailable("scan trade", err)
	}

	var err error
	if tr.Quantity, err = decimal.NewFromString(qty); err != nil {
		return tr, fmt.Errorf("corrupt quantity for trade %s: %w", tr.ID, err)
	}
	if tr.EntryPrice, err = decimal.NewFromString(entryPrice); err != nil {
		return tr, fmt.Errorf("corrupt entry price for trade %s: %w", tr.ID, err)
	}
	if tr.ExitPrice, err = decimal.NewFromString(exitPrice); err != nil {
		return tr, fmt.Errorf("corrupt exit price for trade %s: %w", tr.ID, err)
	}
	if tr.PnL, err = decimal.NewFromString(pnl); err != nil {
		return tr, fmt.Errorf("corrupt pnl for trade %s: %w", tr.ID, err)
	}
	tr.Commission = optionalDecimal(commission)
	tr.StopLoss = optionalDecimal(stopLoss)
	tr.TakeProfit = optionalDecimal(takeProfit)

	tr.Direction = models.Direction(direction)
	tr.Instrument = models.InstrumentClass(instrument)
	tr.Broker = broker
	tr.Source = models.DataSource(srcL)
	tr.EntryTime = time.Unix(entryUnix, 0).UTC()
	tr.ExitTime = time.Unix(exitUnix, 0).UTC()

	if tags != "" && tags != "[]" {
		if err := json.UnmarshalFromString(tags, &tr.Tags); err != nil {
			return tr, fmt.Errorf("corrupt tags for trade %s: %w", tr.ID, err)
		}
	}
	return tr, nil
}

func optionalDecimal(v sql.NullString) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
