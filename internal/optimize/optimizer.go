package optimize

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"set-portfolio/internal/config"
	"set-portfolio/internal/series"
)

// Plan 汇总一次均值-方差优化的结果。
type Plan struct {
	Symbols         []string
	ExpectedReturns map[string]float64
	Covariance      *mat.SymDense
	Raw             Weights
	Weights         Weights
	Performance     Performance
}

// Optimizer 依据历史价格求最大夏普组合。
type Optimizer struct {
	riskFreeRate float64
	frequency    int
	cutoff       float64
	logger       *zap.Logger
}

// NewOptimizer 创建优化器。
func NewOptimizer(cfg config.PortfolioConfig, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		riskFreeRate: cfg.RiskFreeRate,
		frequency:    cfg.Frequency,
		cutoff:       cfg.WeightCutoff,
		logger:       logger,
	}
}

// Optimize 计算预期收益、协方差并求解最大夏普权重。
func (o *Optimizer) Optimize(table *series.Table) (Plan, error) {
	mu, err := ExpectedReturns(table, o.frequency)
	if err != nil {
		return Plan{}, err
	}
	cov, err := SampleCovariance(table, o.frequency)
	if err != nil {
		return Plan{}, err
	}

	symbols := table.Symbols()
	raw, err := MaxSharpe(symbols, mu, cov, o.riskFreeRate)
	if err != nil {
		return Plan{}, fmt.Errorf("求解最大夏普组合失败: %w", err)
	}
	cleaned := Clean(raw, o.cutoff)
	perf := Evaluate(cleaned, symbols, mu, cov, o.riskFreeRate)

	o.logger.Info("最大夏普组合求解完成",
		zap.Int("universe", len(symbols)),
		zap.Int("positions", len(cleaned.Positive())),
		zap.Float64("expected_return", perf.ExpectedReturn),
		zap.Float64("volatility", perf.Volatility),
		zap.Float64("sharpe", perf.SharpeRatio),
	)

	return Plan{
		Symbols:         symbols,
		ExpectedReturns: mu,
		Covariance:      cov,
		Raw:             raw,
		Weights:         cleaned,
		Performance:     perf,
	}, nil
}
