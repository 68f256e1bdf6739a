// Package journal persists a backtest run's order events and equity
// curve via gorm, grounded on a postgres-DSN-vs-sqlite-fallback New()
// switch and a silent-logger gorm.Config, plus ajitpratap0's
// EquityPoint shape from the pack's other backtest-engine example. It
// implements strategy.Analyzer so a run journals itself the same way
// any other analyzer would, without the core engine importing gorm
// directly.
package journal

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantforge/backtest/broker"
	"github.com/quantforge/backtest/tick"
)

// OrderRecord is the gorm-persisted record of one order lifecycle
// event, grounded on a gorm Trade-model persistence idiom.
type OrderRecord struct {
	ID         uint `gorm:"primaryKey;autoIncrement"`
	OrderID    int  `gorm:"index"`
	Instrument string
	Action     string
	Kind       string
	EventType  string
	Reason     string
	CreatedAt  time.Time
}

// FillRecord is the gorm-persisted record of one committed execution.
type FillRecord struct {
	ID         uint `gorm:"primaryKey;autoIncrement"`
	OrderID    int  `gorm:"index"`
	Instrument string
	Price      decimal.Decimal `gorm:"type:decimal(20,8)"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,8)"`
	Commission decimal.Decimal `gorm:"type:decimal(20,8)"`
	FilledAt   time.Time
}

// EquityPoint is one mark-to-market sample of the run's equity curve,
// grounded on the pack's ajitpratap0 backtest engine EquityPoint
// {Timestamp, Equity, Cash, Holdings} shape.
type EquityPoint struct {
	ID       uint `gorm:"primaryKey;autoIncrement"`
	At       time.Time
	Cash     decimal.Decimal `gorm:"type:decimal(20,8)"`
	Equity   decimal.Decimal `gorm:"type:decimal(20,8)"`
	Holdings int
}

// Store wraps a gorm.DB holding this run's journal tables.
type Store struct {
	db *gorm.DB
}

// New opens dsn: a postgres:// / postgresql:// prefix selects the
// postgres driver (no component in this engine drives live Postgres
// traffic, but the switch costs nothing to keep), anything else opens
// (and creates the parent directory for) a sqlite file.
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
				return nil, mkErr
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	}
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&OrderRecord{}, &FillRecord{}, &EquityPoint{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Name implements strategy.Analyzer.
func (s *Store) Name() string { return "journal" }

// OnTicks implements strategy.Analyzer: it samples the run's equity
// curve once per batch.
func (s *Store) OnTicks(batch tick.Batch, br *broker.Broker) {
	s.db.Create(&EquityPoint{
		At:       batch.DateTime(),
		Cash:     br.GetCash(true),
		Equity:   br.GetEquity(),
		Holdings: len(br.Positions()),
	})
}

// OnOrderEvent implements strategy.Analyzer: every order lifecycle
// event is appended to OrderRecord, and FILLED/PARTIALLY_FILLED events
// additionally record the fill in FillRecord.
func (s *Store) OnOrderEvent(e broker.OrderEvent) {
	s.db.Create(&OrderRecord{
		OrderID:    e.Order.ID,
		Instrument: e.Order.Instrument,
		Action:     string(e.Order.Action),
		Kind:       string(e.Order.Kind),
		EventType:  string(e.Type),
		Reason:     e.Reason,
		CreatedAt:  time.Now(),
	})

	if e.Type != broker.OrderFilled && e.Type != broker.OrderPartiallyFilled {
		return
	}
	info := e.Order.ExecutionInfo
	if info == nil {
		return
	}
	s.db.Create(&FillRecord{
		OrderID:    e.Order.ID,
		Instrument: e.Order.Instrument,
		Price:      info.Price,
		Quantity:   info.Quantity,
		Commission: info.Commission,
		FilledAt:   info.DateTime,
	})
}

// OnFinish implements strategy.Analyzer: it records a final equity
// point stamped with the broker's reported equity.
func (s *Store) OnFinish(br *broker.Broker) {
	s.db.Create(&EquityPoint{
		At:       time.Now(),
		Cash:     br.GetCash(true),
		Equity:   br.GetEquity(),
		Holdings: len(br.Positions()),
	})
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
