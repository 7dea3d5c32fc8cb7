// Package storage 本地行情存储：SQLite 与 parquet
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"quantgate/logger"
	"quantgate/market"
)

// SQLiteBarStore 基于 SQLite 的 K 线存储，实现 market.DataSource
type SQLiteBarStore struct {
	db     *sql.DB
	closed bool
}

// NewSQLiteBarStore 打开或创建 SQLite 行情库
func NewSQLiteBarStore(path string) (*SQLiteBarStore, error) {
	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// SQLite 并发限制
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}
	return &SQLiteBarStore{db: db}, nil
}

func createTables(db *sql.DB) error {
	barsSQL := `
	CREATE TABLE IF NOT EXISTS bars (
		symbol TEXT NOT NULL,
		ts INTEGER NOT NULL,
		open TEXT NOT NULL,
		high TEXT NOT NULL,
		low TEXT NOT NULL,
		close TEXT NOT NULL,
		volume TEXT NOT NULL,
		PRIMARY KEY (symbol, ts)
	);
	CREATE INDEX IF NOT EXISTS idx_bars_ts ON bars(ts);`

	if _, err := db.Exec(barsSQL); err != nil {
		return fmt.Errorf("创建 bars 表失败: %w", err)
	}
	return nil
}

// SaveBars 批量写入，同一 (symbol, ts) 覆盖
func (s *SQLiteBarStore) SaveBars(ctx context.Context, bars []market.Bar) error {
	if s.closed {
		return fmt.Errorf("存储已关闭")
	}
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("准备语句失败: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if err := b.Validate(); err != nil {
			return err
		}
		_, err := stmt.ExecContext(ctx,
			market.NormalizeSymbol(b.Symbol),
			b.Timestamp.UnixMilli(),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String())
		if err != nil {
			return fmt.Errorf("写入 bar 失败: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	logger.Debug("💾 已写入 %d 根K线", len(bars))
	return nil
}

// Load 实现 market.DataSource，区间为 [start, end)，零值表示不限
func (s *SQLiteBarStore) Load(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if s.closed {
		return nil, fmt.Errorf("存储已关闭")
	}
	symbol = market.NormalizeSymbol(symbol)

	query := `SELECT ts, open, high, low, close, volume FROM bars WHERE symbol = ?`
	args := []interface{}{symbol}
	if !start.IsZero() {
		query += ` AND ts >= ?`
		args = append(args, start.UnixMilli())
	}
	if !end.IsZero() {
		query += ` AND ts < ?`
		args = append(args, end.UnixMilli())
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询 bars 失败: %w", err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var (
			ts                            int64
			open, high, low, close, volume string
		)
		if err := rows.Scan(&ts, &open, &high, &low, &close, &volume); err != nil {
			return nil, fmt.Errorf("扫描 bar 失败: %w", err)
		}
		bar := market.Bar{Symbol: symbol, Timestamp: time.UnixMilli(ts).UTC()}
		for _, f := range []struct {
			raw string
			dst *decimal.Decimal
		}{{open, &bar.Open}, {high, &bar.High}, {low, &bar.Low}, {close, &bar.Close}, {volume, &bar.Volume}} {
			v, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("解析 %q 失败: %w", f.raw, err)
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, &market.NotFoundError{Symbol: symbol, Start: start, End: end}
	}
	return bars, nil
}

// ListSymbols 已存储的品种
func (s *SQLiteBarStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("查询品种失败: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// Close 关闭数据库
func (s *SQLiteBarStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
