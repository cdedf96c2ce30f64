package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"set-portfolio/internal/series"
	"set-portfolio/internal/store"
)

const priceSchema = `
CREATE TABLE IF NOT EXISTS daily_prices (
	symbol TEXT NOT NULL,
	date TEXT NOT NULL,
	adj_close REAL NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (symbol, date)
);
CREATE INDEX IF NOT EXISTS idx_daily_prices_symbol ON daily_prices(symbol);
CREATE TABLE IF NOT EXISTS price_ranges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_ranges_symbol ON price_ranges(symbol);
`

// PriceCache 将日线价格缓存在 SQLite 中。
type PriceCache struct {
	db *sql.DB
}

// NewPriceCache 初始化缓存表。
func NewPriceCache(ctx context.Context, st *store.Store) (*PriceCache, error) {
	if st == nil {
		return nil, fmt.Errorf("marketdata: store 不能为空")
	}
	if err := st.Migrate(ctx, priceSchema); err != nil {
		return nil, err
	}
	return &PriceCache{db: st.DB()}, nil
}

// Covers 判断已在线获取过的区间（相邻或重叠的区间合并后）是否覆盖 [start+tolerance, end-tolerance]。
// 只看实际请求过的区间，不以价格行的最早、最晚日期推断，避免把两段缓存之间的空洞当作已覆盖。
func (c *PriceCache) Covers(ctx context.Context, symbol string, start, end time.Time, tolerance time.Duration) (bool, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT start_date, end_date FROM price_ranges WHERE symbol = ? ORDER BY start_date, end_date`, symbol,
	)
	if err != nil {
		return false, fmt.Errorf("marketdata: 查询缓存范围失败: %w", err)
	}
	defer rows.Close()

	from := start.Add(tolerance)
	to := end.Add(-tolerance)
	if to.Before(from) {
		from, to = start, end
	}

	var (
		curStart, curEnd time.Time
		open             bool
	)
	for rows.Next() {
		var rs, re string
		if err := rows.Scan(&rs, &re); err != nil {
			return false, fmt.Errorf("marketdata: 解析缓存范围失败: %w", err)
		}
		rStart, err := time.Parse(series.DateLayout, rs)
		if err != nil {
			return false, fmt.Errorf("marketdata: 解析缓存日期失败: %w", err)
		}
		rEnd, err := time.Parse(series.DateLayout, re)
		if err != nil {
			return false, fmt.Errorf("marketdata: 解析缓存日期失败: %w", err)
		}

		if open && !rStart.After(curEnd.AddDate(0, 0, 1)) {
			if rEnd.After(curEnd) {
				curEnd = rEnd
			}
		} else {
			curStart, curEnd, open = rStart, rEnd, true
		}
		if !curStart.After(from) && !curEnd.Before(to) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("marketdata: 读取缓存范围失败: %w", err)
	}
	return false, nil
}

// Load 读取 [start, end] 区间的缓存价格，按日期升序。
func (c *PriceCache) Load(ctx context.Context, symbol string, start, end time.Time) ([]DailyBar, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT date, adj_close FROM daily_prices WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date`,
		symbol, start.Format(series.DateLayout), end.Format(series.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("marketdata: 查询缓存失败: %w", err)
	}
	defer rows.Close()

	var bars []DailyBar
	for rows.Next() {
		var (
			date  string
			value float64
		)
		if err := rows.Scan(&date, &value); err != nil {
			return nil, fmt.Errorf("marketdata: 解析缓存失败: %w", err)
		}
		day, err := time.Parse(series.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("marketdata: 解析缓存日期失败: %w", err)
		}
		bars = append(bars, DailyBar{Date: day, AdjClose: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("marketdata: 读取缓存失败: %w", err)
	}
	return bars, nil
}

// Save 以 upsert 方式写入价格，并记录本次在线获取的区间 [start, end]。
func (c *PriceCache) Save(ctx context.Context, symbol string, start, end time.Time, bars []DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("marketdata: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO daily_prices (symbol, date, adj_close, fetched_at) VALUES (?, ?, ?, ?)
ON CONFLICT(symbol, date) DO UPDATE SET adj_close = excluded.adj_close, fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("marketdata: 准备写入语句失败: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, bar.Date.Format(series.DateLayout), bar.AdjClose, now); err != nil {
			return fmt.Errorf("marketdata: 写入缓存失败: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_ranges (symbol, start_date, end_date, fetched_at) VALUES (?, ?, ?, ?)`,
		symbol, series.Day(start).Format(series.DateLayout), series.Day(end).Format(series.DateLayout), now,
	); err != nil {
		return fmt.Errorf("marketdata: 写入缓存范围失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("marketdata: 提交事务失败: %w", err)
	}
	return nil
}
