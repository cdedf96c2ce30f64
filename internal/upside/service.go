package upside

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"set-portfolio/internal/config"
	"set-portfolio/internal/marketdata"
)

// InfoFetcher 抽象分析师数据来源。
type InfoFetcher interface {
	FetchAnalystInfo(ctx context.Context, symbol string) (marketdata.AnalystInfo, error)
}

// Row 为排名中的一行，UpsidePct 在现价或目标均价缺失时为 nil。
type Row struct {
	marketdata.AnalystInfo
	UpsidePct *float64 `json:"upside_pct"`
}

// Failure 记录单只股票的获取失败。
type Failure struct {
	Symbol string
	Err    error
}

// Report 汇总一次筛选结果。
type Report struct {
	Rows        []Row
	Failures    []Failure
	Fetched     int // 成功获取的股票数（过滤前）
	GeneratedAt time.Time
}

// Service 并发拉取分析师数据并按目标价上涨空间排序。
type Service struct {
	fetcher           InfoFetcher
	concurrency       int
	recommendationKey string
	logger            *zap.Logger
}

// NewService 创建筛选服务。
func NewService(fetcher InfoFetcher, cfg config.UpsideConfig, logger *zap.Logger) (*Service, error) {
	if fetcher == nil {
		return nil, errors.New("upside: fetcher 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		fetcher:           fetcher,
		concurrency:       concurrency,
		recommendationKey: strings.ToLower(strings.TrimSpace(cfg.RecommendationKey)),
		logger:            logger,
	}, nil
}

// Rank 获取全部股票的分析师数据，单只失败不影响其他结果。
// 结果按评级过滤后按上涨空间降序排列，空间未知的排在最后。
func (s *Service) Rank(ctx context.Context, symbols []string) (Report, error) {
	infos := make([]*marketdata.AnalystInfo, len(symbols))
	errs := make([]error, len(symbols))

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for i, symbol := range symbols {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			s.logger.Debug("获取分析师数据", zap.String("symbol", symbol))
			info, err := s.fetcher.FetchAnalystInfo(ctx, symbol)
			if err != nil {
				errs[i] = err
				return nil
			}
			infos[i] = &info
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{GeneratedAt: time.Now()}
	for i, symbol := range symbols {
		if errs[i] != nil {
			report.Failures = append(report.Failures, Failure{Symbol: symbol, Err: errs[i]})
			s.logger.Warn("分析师数据获取失败", zap.String("symbol", symbol), zap.Error(errs[i]))
			continue
		}
		report.Fetched++
		info := *infos[i]
		if s.recommendationKey != "" && strings.ToLower(info.RecommendationKey) != s.recommendationKey {
			continue
		}
		report.Rows = append(report.Rows, Row{AnalystInfo: info, UpsidePct: Upside(info)})
	}

	sortRows(report.Rows)

	s.logger.Info("目标价筛选完成",
		zap.Int("symbols", len(symbols)),
		zap.Int("fetched", report.Fetched),
		zap.Int("matched", len(report.Rows)),
		zap.Int("failed", len(report.Failures)),
		zap.String("recommendation_key", s.recommendationKey),
	)
	return report, nil
}

// Upside 返回 (目标均价 - 现价) / 现价 × 100。
func Upside(info marketdata.AnalystInfo) *float64 {
	if info.CurrentPrice == nil || info.TargetMeanPrice == nil || *info.CurrentPrice <= 0 {
		return nil
	}
	v := (*info.TargetMeanPrice - *info.CurrentPrice) / *info.CurrentPrice * 100
	return &v
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].UpsidePct, rows[j].UpsidePct
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}
