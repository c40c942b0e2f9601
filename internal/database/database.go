package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/qqqbot/types"
)

// Database is the append-only trade and rotation journal
type Database struct {
	db *gorm.DB
}

// Models

// Trade is one execution episode: an IOC chase, a market order, or both
type Trade struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Symbol         string `gorm:"index"`
	Side           string // "BUY" or "SELL"
	Requested      int64
	Filled         int64
	AvgPrice       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Notional       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Method         string          // "ioc", "market", "ioc+market"
	Attempts       int
	DeviationAbort bool
	Estimated      bool
	Reason         string
	ExecutedAt     time.Time `gorm:"index"`
	CreatedAt      time.Time
}

// Rotation is a position decision and the capital left after it
type Rotation struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Kind       string `gorm:"index"` // ROTATE, FLATTEN, ADOPT, RECONCILE, BANK
	FromSymbol string
	ToSymbol   string
	Reason     string
	Cash       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Leftover   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Shares     int64
	OccurredAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// Stats aggregates the journal
type Stats struct {
	Trades          int64
	Rotations       int64
	Buys            int64
	Sells           int64
	DeviationAborts int64
	Estimated       int64
	Bought          decimal.Decimal
	Sold            decimal.Decimal
}

// New opens the journal. postgres:// URLs use PostgreSQL, anything else is a
// SQLite path (":memory:" included).
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("Journal connected (PostgreSQL)")
	} else {
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one connection: a second one would see a different in-memory db
		// and sqlite serialises writers anyway
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		log.Info().Str("path", dsn).Msg("Journal initialized (SQLite)")
	}

	if err := db.AutoMigrate(&Trade{}, &Rotation{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	return &Database{db: db}, nil
}

// Trade operations

// RecordTrade stores one execution episode
func (d *Database) RecordTrade(ctx context.Context, rec types.TradeRecord) error {
	row := Trade{
		Symbol:         rec.Symbol,
		Side:           string(rec.Side),
		Requested:      rec.Requested,
		Filled:         rec.Filled,
		AvgPrice:       rec.AvgPrice,
		Notional:       rec.Notional,
		Method:         rec.Method,
		Attempts:       rec.Attempts,
		DeviationAbort: rec.DeviationAbort,
		Estimated:      rec.Estimated,
		Reason:         rec.Reason,
		ExecutedAt:     rec.Time.UTC(),
	}
	return d.db.WithContext(ctx).Create(&row).Error
}

// RecentTrades returns the newest trades first
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	var trades []Trade
	err := d.db.WithContext(ctx).Order("executed_at DESC, id DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// Rotation operations

// RecordRotation stores a position decision
func (d *Database) RecordRotation(ctx context.Context, ev types.RotationEvent) error {
	row := Rotation{
		Kind:       ev.Kind,
		FromSymbol: ev.From,
		ToSymbol:   ev.To,
		Reason:     ev.Reason,
		Cash:       ev.Cash,
		Leftover:   ev.Leftover,
		Shares:     ev.Shares,
		OccurredAt: ev.Time.UTC(),
	}
	return d.db.WithContext(ctx).Create(&row).Error
}

// RecentRotations returns the newest rotations first
func (d *Database) RecentRotations(ctx context.Context, limit int) ([]Rotation, error) {
	var rows []Rotation
	err := d.db.WithContext(ctx).Order("occurred_at DESC, id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Stats operations

func (d *Database) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	db := d.db.WithContext(ctx)

	if err := db.Model(&Trade{}).Count(&s.Trades).Error; err != nil {
		return s, err
	}
	db.Model(&Rotation{}).Count(&s.Rotations)
	db.Model(&Trade{}).Where("side = ?", string(types.SideBuy)).Count(&s.Buys)
	db.Model(&Trade{}).Where("side = ?", string(types.SideSell)).Count(&s.Sells)
	db.Model(&Trade{}).Where("deviation_abort = ?", true).Count(&s.DeviationAborts)
	db.Model(&Trade{}).Where("estimated = ?", true).Count(&s.Estimated)

	// summed in Go: SUM over a decimal column comes back as float on sqlite
	var trades []Trade
	if err := db.Select("side", "notional").Find(&trades).Error; err != nil {
		return s, err
	}
	s.Bought, s.Sold = decimal.Zero, decimal.Zero
	for _, t := range trades {
		switch types.Side(t.Side) {
		case types.SideBuy:
			s.Bought = s.Bought.Add(t.Notional)
		case types.SideSell:
			s.Sold = s.Sold.Add(t.Notional)
		}
	}
	return s, nil
}

// Close releases the connection pool
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
