package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "setport"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType(configType(path))

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// configType 根据扩展名推断格式，旧版 config.toml 仍可直接使用。
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("portfolio.capital", 100000)
	v.SetDefault("portfolio.risk_free_rate", 0.02)
	v.SetDefault("portfolio.blacklists", []string{})
	v.SetDefault("portfolio.lot_size", 1)
	v.SetDefault("portfolio.lookback_years", 5)
	v.SetDefault("portfolio.weight_cutoff", 1e-4)
	v.SetDefault("portfolio.frequency", 252)

	v.SetDefault("backtest.enabled", true)
	v.SetDefault("backtest.holding_days", 365)
	v.SetDefault("backtest.unusual_gain_warn", 2.0)
	v.SetDefault("backtest.include_leftover", false)

	v.SetDefault("allocation.max_nodes", 500)
	v.SetDefault("allocation.time_budget", "200ms")
	v.SetDefault("allocation.gap_tolerance", 1e-4)

	v.SetDefault("universe.index", "set100")
	v.SetDefault("universe.data_dir", "data")
	v.SetDefault("universe.ticker_suffix", ".BK")

	v.SetDefault("market_data.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("market_data.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15")
	v.SetDefault("market_data.cookie_url", "https://fc.yahoo.com")
	v.SetDefault("market_data.timeout", "15s")
	v.SetDefault("market_data.concurrency", 8)
	v.SetDefault("market_data.use_cache", true)
	v.SetDefault("market_data.cache_tolerance_days", 7)
	v.SetDefault("market_data.retry.max_attempts", 4)
	v.SetDefault("market_data.retry.min_delay", "500ms")
	v.SetDefault("market_data.retry.max_delay", "5s")

	v.SetDefault("upside.concurrency", 8)
	v.SetDefault("upside.recommendation_key", "buy")

	v.SetDefault("output.dir", "out")

	v.SetDefault("database.path", "data/set_portfolio.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
