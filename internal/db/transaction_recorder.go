// Package db persists periodic TxStats/BalanceStats snapshots to MySQL
// via GORM, giving the bot a queryable history independent of the JSON
// state files under internal/store (which only ever hold the latest
// value, not a time series).
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

// TxStatsRecord is the database model for a types.TxStats snapshot.
type TxStatsRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp     time.Time `gorm:"index;not null"`
	UptimeSeconds int64     `gorm:"not null"`
	Total         int64     `gorm:"not null"`
	Success       int64     `gorm:"not null"`
	Fail          int64     `gorm:"not null"`
	NativeProfit  string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	USDProfit     float64   `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (TxStatsRecord) TableName() string { return "tx_stats_snapshots" }

// BalanceStatsRecord is the database model for a types.BalanceStats snapshot.
type BalanceStatsRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Native    string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	TokensJSON string   `gorm:"type:text;not null;comment:symbol->decimal string map, json-encoded"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (BalanceStatsRecord) TableName() string { return "balance_stats_snapshots" }

// MySQLRecorder persists TxStats/BalanceStats snapshots using GORM
// against a MySQL backend. It's an optional secondary sink: the bot's
// primary state (pools, blacklist, running stats) lives in
// internal/store's JSON files, this just gives an operator a queryable
// history of them over time.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder opens dsn and migrates both snapshot tables.
// dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to mysql: %w", err)
	}
	return NewMySQLRecorderWithDB(db)
}

// NewMySQLRecorderWithDB wraps an already-open GORM DB, migrating both
// snapshot tables.
func NewMySQLRecorderWithDB(gdb *gorm.DB) (*MySQLRecorder, error) {
	if err := gdb.AutoMigrate(&TxStatsRecord{}, &BalanceStatsRecord{}); err != nil {
		return nil, fmt.Errorf("db: migrate schema: %w", err)
	}
	return &MySQLRecorder{db: gdb}, nil
}

// RecordTxStats inserts a point-in-time TxStats snapshot.
func (r *MySQLRecorder) RecordTxStats(now time.Time, stats types.TxStats) error {
	record := TxStatsRecord{
		Timestamp:     now,
		UptimeSeconds: stats.UptimeSeconds,
		Total:         stats.Total,
		Success:       stats.Success,
		Fail:          stats.Fail,
		NativeProfit:  stats.NativeProfit,
		USDProfit:     stats.USDProfit,
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("db: record tx stats: %w", result.Error)
	}
	return nil
}

// RecordBalanceStats inserts a point-in-time BalanceStats snapshot,
// JSON-encoding the per-token balance map into a single text column.
func (r *MySQLRecorder) RecordBalanceStats(stats types.BalanceStats, tokensJSON string) error {
	record := BalanceStatsRecord{
		Timestamp:  stats.Timestamp,
		Native:     stats.Native,
		TokensJSON: tokensJSON,
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("db: record balance stats: %w", result.Error)
	}
	return nil
}

// GetDB returns the underlying GORM DB instance for advanced queries.
func (r *MySQLRecorder) GetDB() *gorm.DB { return r.db }

// Close closes the database connection.
func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("db: get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// LatestTxStats retrieves the most recently recorded TxStats snapshot.
func (r *MySQLRecorder) LatestTxStats() (*TxStatsRecord, error) {
	var record TxStatsRecord
	if result := r.db.Order("timestamp DESC").First(&record); result.Error != nil {
		return nil, fmt.Errorf("db: get latest tx stats: %w", result.Error)
	}
	return &record, nil
}

// TxStatsByTimeRange retrieves TxStats snapshots within [start, end].
func (r *MySQLRecorder) TxStatsByTimeRange(start, end time.Time) ([]TxStatsRecord, error) {
	var records []TxStatsRecord
	result := r.db.Where("timestamp BETWEEN ? AND ?", start, end).
		Order("timestamp ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("db: get tx stats by time range: %w", result.Error)
	}
	return records, nil
}

// CountTxStats returns the total number of recorded TxStats snapshots.
func (r *MySQLRecorder) CountTxStats() (int64, error) {
	var count int64
	if result := r.db.Model(&TxStatsRecord{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("db: count tx stats: %w", result.Error)
	}
	return count, nil
}
