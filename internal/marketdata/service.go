package marketdata

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"set-portfolio/internal/config"
	"set-portfolio/internal/series"
)

// DailyFetcher 抽象日线数据来源，便于测试替换。
type DailyFetcher interface {
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]DailyBar, error)
}

// HistoryService 并发拉取多只股票的历史价格并对齐成价格表。
type HistoryService struct {
	fetcher     DailyFetcher
	cache       *PriceCache
	concurrency int
	tolerance   time.Duration
	logger      *zap.Logger
}

// NewHistoryService 创建历史价格服务，cache 为 nil 时不使用缓存。
func NewHistoryService(fetcher DailyFetcher, cache *PriceCache, cfg config.MarketDataConfig, logger *zap.Logger) *HistoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if !cfg.UseCache {
		cache = nil
	}
	return &HistoryService{
		fetcher:     fetcher,
		cache:       cache,
		concurrency: concurrency,
		tolerance:   time.Duration(cfg.CacheToleranceDays) * 24 * time.Hour,
		logger:      logger,
	}
}

// Fetch 返回 [start, end] 区间内按日期并集对齐、已回填的复权收盘价表。
// 任一股票获取失败时返回全部失败原因。
func (s *HistoryService) Fetch(ctx context.Context, symbols []string, start, end time.Time) (*series.Table, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("marketdata: 股票列表不能为空")
	}
	start, end = series.Day(start), series.Day(end)

	results := make([][]DailyBar, len(symbols))
	errs := make([]error, len(symbols))

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for i, symbol := range symbols {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			bars, err := s.load(ctx, symbol, start, end)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = bars
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var combined error
	for _, err := range errs {
		combined = multierr.Append(combined, err)
	}
	if combined != nil {
		s.logger.Error("历史价格获取失败",
			zap.Int("failed", len(multierr.Errors(combined))),
			zap.Int("total", len(symbols)),
			zap.Error(combined),
		)
		return nil, combined
	}

	columns := make(map[string][]series.Point, len(symbols))
	for i, symbol := range symbols {
		points := make([]series.Point, 0, len(results[i]))
		for _, bar := range results[i] {
			points = append(points, series.Point{Date: bar.Date, Value: bar.AdjClose})
		}
		columns[symbol] = points
	}

	table := series.NewTable(columns)
	if err := table.BackFill(); err != nil {
		return nil, err
	}

	s.logger.Info("历史价格获取完成",
		zap.Int("symbols", len(symbols)),
		zap.Int("days", table.Len()),
		zap.String("start", start.Format(series.DateLayout)),
		zap.String("end", end.Format(series.DateLayout)),
	)
	return table, nil
}

func (s *HistoryService) load(ctx context.Context, symbol string, start, end time.Time) ([]DailyBar, error) {
	if s.cache != nil {
		covered, err := s.cache.Covers(ctx, symbol, start, end, s.tolerance)
		if err != nil {
			s.logger.Warn("读取价格缓存失败，改为在线获取", zap.String("symbol", symbol), zap.Error(err))
		} else if covered {
			bars, err := s.cache.Load(ctx, symbol, start, end)
			if err == nil && len(bars) > 0 {
				s.logger.Debug("命中价格缓存", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
				return bars, nil
			}
		}
	}

	bars, err := s.fetcher.FetchDaily(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	inRange := bars[:0:0]
	for _, bar := range bars {
		if bar.Date.Before(start) || bar.Date.After(end) {
			continue
		}
		inRange = append(inRange, bar)
	}
	if len(inRange) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	if s.cache != nil {
		if err := s.cache.Save(ctx, symbol, start, end, inRange); err != nil {
			s.logger.Warn("写入价格缓存失败", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return inRange, nil
}
