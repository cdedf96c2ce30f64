package universe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"set-portfolio/internal/config"
)

const (
	IndexSET100 = "set100"
	IndexSETAll = "setall"
)

// SetAllSectors 为组成 SET 全市场的行业指数文件名。
var SetAllSectors = []string{"agro", "consump", "fincial", "indus", "propcon", "resourc", "service", "tech"}

type stockInfo struct {
	Symbol string `json:"symbol"`
}

// composition 对应 settrade 指数成分接口的响应。
type composition struct {
	Composition struct {
		StockInfos []stockInfo `json:"stockInfos"`
		SubIndices []struct {
			StockInfos []stockInfo `json:"stockInfos"`
		} `json:"subIndices"`
	} `json:"composition"`
}

// Loader 从本地 JSON 快照读取指数成分股。
type Loader struct {
	cfg       config.UniverseConfig
	portfolio config.PortfolioConfig
	logger    *zap.Logger
}

// NewLoader 创建股票池加载器。
func NewLoader(cfg config.UniverseConfig, portfolio config.PortfolioConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cfg: cfg, portfolio: portfolio, logger: logger}
}

// Symbols 返回当前指数的原始成分股代码，保持文件顺序并去重。
func (l *Loader) Symbols() ([]string, error) {
	switch strings.ToLower(l.cfg.Index) {
	case IndexSET100, "":
		return ReadFlat(filepath.Join(l.cfg.DataDir, "set100.json"))
	case IndexSETAll:
		var all []string
		for _, sector := range SetAllSectors {
			symbols, err := ReadSubIndices(filepath.Join(l.cfg.DataDir, sector+".json"))
			if err != nil {
				return nil, err
			}
			all = append(all, symbols...)
		}
		return dedupe(all), nil
	default:
		return nil, fmt.Errorf("universe: 不支持的指数 %q", l.cfg.Index)
	}
}

// Tickers 返回剔除黑名单并追加交易所后缀后的行情代码。
func (l *Loader) Tickers() ([]string, error) {
	symbols, err := l.Symbols()
	if err != nil {
		return nil, err
	}

	tickers := make([]string, 0, len(symbols))
	excluded := 0
	for _, symbol := range symbols {
		if l.portfolio.IsBlacklisted(symbol) {
			excluded++
			continue
		}
		tickers = append(tickers, symbol+l.cfg.TickerSuffix)
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("universe: 剔除黑名单后股票池为空")
	}

	l.logger.Info("股票池加载完成",
		zap.String("index", l.cfg.Index),
		zap.Int("symbols", len(tickers)),
		zap.Int("excluded", excluded),
	)
	return tickers, nil
}

// ReadFlat 读取 composition.stockInfos 形式的成分股文件。
func ReadFlat(path string) ([]string, error) {
	doc, err := readComposition(path)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(doc.Composition.StockInfos))
	for _, info := range doc.Composition.StockInfos {
		symbols = append(symbols, info.Symbol)
	}
	return dedupe(symbols), nil
}

// ReadSubIndices 读取 composition.subIndices[].stockInfos 形式的行业文件。
func ReadSubIndices(path string) ([]string, error) {
	doc, err := readComposition(path)
	if err != nil {
		return nil, err
	}
	var symbols []string
	for _, sub := range doc.Composition.SubIndices {
		for _, info := range sub.StockInfos {
			symbols = append(symbols, info.Symbol)
		}
	}
	return dedupe(symbols), nil
}

func readComposition(path string) (composition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return composition{}, fmt.Errorf("universe: 读取 %s 失败: %w", path, err)
	}
	var doc composition
	if err := json.Unmarshal(raw, &doc); err != nil {
		return composition{}, fmt.Errorf("universe: 解析 %s 失败: %w", path, err)
	}
	return doc, nil
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := symbols[:0:0]
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
