package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Allocation AllocationConfig `mapstructure:"allocation"`
	Universe   UniverseConfig   `mapstructure:"universe"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Upside     UpsideConfig     `mapstructure:"upside"`
	Output     OutputConfig     `mapstructure:"output"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// PortfolioConfig 描述组合构建参数。
type PortfolioConfig struct {
	Capital       float64  `mapstructure:"capital"`        // 总资金（泰铢）
	RiskFreeRate  float64  `mapstructure:"risk_free_rate"` // 年化无风险利率
	Blacklists    []string `mapstructure:"blacklists"`     // 排除的股票代码
	LotSize       int      `mapstructure:"lot_size"`       // 每手股数
	LookbackYears int      `mapstructure:"lookback_years"` // 历史数据回看年数
	WeightCutoff  float64  `mapstructure:"weight_cutoff"`  // 低于该值的权重视为0
	Frequency     int      `mapstructure:"frequency"`      // 年化使用的交易日数
}

// BacktestConfig 控制滚动窗口回测。
type BacktestConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	HoldingDays     int     `mapstructure:"holding_days"`
	UnusualGainWarn float64 `mapstructure:"unusual_gain_warn"`
	IncludeLeftover bool    `mapstructure:"include_leftover"`
}

// AllocationConfig 控制离散分配求解。
type AllocationConfig struct {
	MaxNodes     int           `mapstructure:"max_nodes"`
	TimeBudget   time.Duration `mapstructure:"time_budget"`   // 单次求解的时间上限，0 表示不限
	GapTolerance float64       `mapstructure:"gap_tolerance"` // 下界与当前最优解差距小于该值（按资金缩放）时剪枝
}

// UniverseConfig 描述股票池来源。
type UniverseConfig struct {
	Index        string `mapstructure:"index"`
	DataDir      string `mapstructure:"data_dir"`
	TickerSuffix string `mapstructure:"ticker_suffix"`
}

// MarketDataConfig 描述行情接口。
type MarketDataConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	UserAgent          string        `mapstructure:"user_agent"`
	CookieURL          string        `mapstructure:"cookie_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	Concurrency        int           `mapstructure:"concurrency"`
	UseCache           bool          `mapstructure:"use_cache"`
	CacheToleranceDays int           `mapstructure:"cache_tolerance_days"`
	Retry              RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// UpsideConfig 控制分析师目标价筛选。
type UpsideConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	RecommendationKey string `mapstructure:"recommendation_key"`
}

// OutputConfig 控制报表输出目录。
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Portfolio.Capital <= 0 {
		err = multierr.Append(err, errors.New("portfolio.capital 必须大于0"))
	}
	if c.Portfolio.RiskFreeRate < 0 || c.Portfolio.RiskFreeRate >= 1 {
		err = multierr.Append(err, errors.New("portfolio.risk_free_rate 必须位于[0,1)"))
	}
	if c.Portfolio.LotSize <= 0 {
		err = multierr.Append(err, errors.New("portfolio.lot_size 必须大于0"))
	}
	if c.Portfolio.LookbackYears <= 0 {
		err = multierr.Append(err, errors.New("portfolio.lookback_years 必须大于0"))
	}
	if c.Portfolio.WeightCutoff < 0 || c.Portfolio.WeightCutoff >= 1 {
		err = multierr.Append(err, errors.New("portfolio.weight_cutoff 必须位于[0,1)"))
	}
	if c.Portfolio.Frequency <= 0 {
		err = multierr.Append(err, errors.New("portfolio.frequency 必须大于0"))
	}
	if c.Backtest.HoldingDays <= 0 {
		err = multierr.Append(err, errors.New("backtest.holding_days 必须大于0"))
	}
	if c.Backtest.UnusualGainWarn < 0 {
		err = multierr.Append(err, errors.New("backtest.unusual_gain_warn 不能为负"))
	}
	if c.Backtest.UnusualGainWarn > 0 && c.Backtest.UnusualGainWarn <= 1 {
		err = multierr.Append(err, errors.New("backtest.unusual_gain_warn 应大于1，或设为0关闭"))
	}
	if c.Allocation.MaxNodes <= 0 {
		err = multierr.Append(err, errors.New("allocation.max_nodes 必须大于0"))
	}
	switch strings.ToLower(c.Universe.Index) {
	case "set100", "setall":
	default:
		err = multierr.Append(err, fmt.Errorf("universe.index 不支持: %q", c.Universe.Index))
	}
	if c.Universe.DataDir == "" {
		err = multierr.Append(err, errors.New("universe.data_dir 不能为空"))
	}
	if c.MarketData.BaseURL == "" {
		err = multierr.Append(err, errors.New("market_data.base_url 不能为空"))
	}
	if c.MarketData.Timeout <= 0 {
		err = multierr.Append(err, errors.New("market_data.timeout 必须大于0"))
	}
	if c.MarketData.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("market_data.concurrency 必须大于0"))
	}
	if c.MarketData.CacheToleranceDays < 0 {
		err = multierr.Append(err, errors.New("market_data.cache_tolerance_days 不能为负"))
	}
	if c.MarketData.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("market_data.retry.max_attempts 必须大于0"))
	}
	if c.MarketData.Retry.MinDelay <= 0 || c.MarketData.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("market_data.retry.delay 必须为正"))
	}
	if c.MarketData.Retry.MinDelay > c.MarketData.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("market_data.retry.min_delay 不能大于 max_delay"))
	}
	if c.Upside.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("upside.concurrency 必须大于0"))
	}
	if c.Output.Dir == "" {
		err = multierr.Append(err, errors.New("output.dir 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}

// IsBlacklisted 判断代码是否被排除，忽略大小写与交易所后缀。
func (p PortfolioConfig) IsBlacklisted(symbol string) bool {
	base := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.Index(base, "."); idx > 0 {
		base = base[:idx]
	}
	for _, item := range p.Blacklists {
		if strings.ToUpper(strings.TrimSpace(item)) == base {
			return true
		}
	}
	return false
}

// HoldingPeriod 返回持有期时长。
func (b BacktestConfig) HoldingPeriod() time.Duration {
	return time.Duration(b.HoldingDays) * 24 * time.Hour
}
