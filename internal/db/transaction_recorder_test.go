package db

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
)

func newMockRecorder(t *testing.T) (*MySQLRecorder, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to create gorm DB: %v", err)
	}

	return &MySQLRecorder{db: gormDB}, mock, func() { sqlDB.Close() }
}

func TestMySQLRecorder_RecordTxStats(t *testing.T) {
	recorder, mock, cleanup := newMockRecorder(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `tx_stats_snapshots`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats := types.TxStats{
		UptimeSeconds: 3600,
		Total:         10,
		Success:       8,
		Fail:          2,
		NativeProfit:  "1500000000000000000",
		USDProfit:     12.5,
	}

	if err := recorder.RecordTxStats(time.Now(), stats); err != nil {
		t.Errorf("RecordTxStats failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMySQLRecorder_RecordBalanceStats(t *testing.T) {
	recorder, mock, cleanup := newMockRecorder(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `balance_stats_snapshots`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	stats := types.BalanceStats{
		Timestamp: time.Now(),
		Native:    "2500000000000000000",
	}

	if err := recorder.RecordBalanceStats(stats, `{"USDT":"100.0"}`); err != nil {
		t.Errorf("RecordBalanceStats failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTxStatsRecord_TableName(t *testing.T) {
	record := TxStatsRecord{}
	if got := record.TableName(); got != "tx_stats_snapshots" {
		t.Errorf("TableName() = %v, want tx_stats_snapshots", got)
	}
}

func TestBalanceStatsRecord_TableName(t *testing.T) {
	record := BalanceStatsRecord{}
	if got := record.TableName(); got != "balance_stats_snapshots" {
		t.Errorf("TableName() = %v, want balance_stats_snapshots", got)
	}
}
