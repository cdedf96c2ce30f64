package backtest

// Config 定义滚动窗口回测参数。
type Config struct {
	Capital         float64 // 每个窗口重新建仓使用的资金
	HoldingDays     int     // 持有天数，卖出日 = 买入日 + HoldingDays
	IncludeLeftover bool    // 收益是否计入未投资的剩余现金
	UnusualGainWarn float64 // 单只股票卖出/买入价格比超过该值时告警，0 表示关闭
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.HoldingDays <= 0 {
		cfg.HoldingDays = 365
	}
	if cfg.UnusualGainWarn < 0 {
		cfg.UnusualGainWarn = 0
	}
	return cfg
}
