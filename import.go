package main

import (
	"context"
	"fmt"
	"os"

	"quantgate/backtest"
	"quantgate/config"
	"quantgate/logger"
	"quantgate/market"
	"quantgate/storage"
)

// importBars 把 CSV 中的 K 线写入本地数据源（sqlite 或 parquet）
func importBars(ctx context.Context, cfg *config.Config, path, symbol string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("打开 %s 失败: %w", path, err)
	}
	defer f.Close()

	bars, err := backtest.ReadBarsCSV(f, path)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("%s 没有任何K线", path)
	}
	symbol = market.NormalizeSymbol(symbol)
	for i := range bars {
		bars[i].Symbol = symbol
	}

	switch cfg.DataSource.Type {
	case "sqlite":
		store, err := storage.NewSQLiteBarStore(cfg.DataSource.SQLitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveBars(ctx, bars); err != nil {
			return err
		}
	case "parquet":
		if err := storage.NewParquetBarSource(cfg.DataSource.ParquetDir).WriteBars(ctx, symbol, bars); err != nil {
			return err
		}
	default:
		return fmt.Errorf("数据源 %s 为只读，只能导入到 sqlite 或 parquet", cfg.DataSource.Type)
	}

	logger.Info("✅ 已导入 %s %d 根K线 (%s → %s)", symbol, len(bars),
		market.FormatDate(bars[0].Timestamp), market.FormatDate(bars[len(bars)-1].Timestamp))
	return nil
}
