package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"set-portfolio/internal/config"
	"set-portfolio/internal/journal"
	"set-portfolio/internal/marketdata"
	"set-portfolio/internal/report"
	"set-portfolio/internal/store"
	"set-portfolio/internal/universe"
)

// App 聚合核心依赖，驱动组合优化与目标价筛选两条流水线。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	out    io.Writer
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		out:    os.Stdout,
	}
}

// SetOutput 替换终端报表的输出目标。
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

type components struct {
	journal  *journal.Service
	universe *universe.Loader
	client   *marketdata.Client
	printer  *report.Printer
}

func (a *App) setup(ctx context.Context) (components, error) {
	journalSvc, err := journal.NewService(ctx, a.store, a.logger)
	if err != nil {
		return components{}, fmt.Errorf("初始化运行日志失败: %w", err)
	}

	if a.cfg.Output.Dir != "" {
		if err := os.MkdirAll(a.cfg.Output.Dir, 0o755); err != nil {
			return components{}, fmt.Errorf("创建输出目录失败: %w", err)
		}
	}

	return components{
		journal:  journalSvc,
		universe: universe.NewLoader(a.cfg.Universe, a.cfg.Portfolio, a.logger),
		client:   marketdata.NewClient(a.cfg.MarketData, a.logger),
		printer:  report.NewPrinter(a.out),
	}, nil
}

func (a *App) outputPath(name string) string {
	return filepath.Join(a.cfg.Output.Dir, name)
}
