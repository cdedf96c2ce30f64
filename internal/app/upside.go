package app

import (
	"context"
	"time"

	"set-portfolio/internal/report"
	"set-portfolio/internal/upside"
)

// RunUpside 并发获取全市场分析师目标价，按上涨空间排序后输出。
func (a *App) RunUpside(ctx context.Context) error {
	c, err := a.setup(ctx)
	if err != nil {
		return err
	}

	tickers, err := c.universe.Tickers()
	if err != nil {
		c.journal.RecordError(ctx, "加载股票池失败", err, nil)
		return err
	}

	svc, err := upside.NewService(c.client, a.cfg.Upside, a.logger)
	if err != nil {
		return err
	}
	result, err := svc.Rank(ctx, tickers)
	if err != nil {
		c.journal.RecordError(ctx, "目标价筛选失败", err, nil)
		return err
	}
	for _, f := range result.Failures {
		c.journal.RecordFetchFailure(ctx, "analyst:"+f.Symbol, f.Err)
	}
	c.journal.RecordUpside(ctx, len(tickers), result)

	if err := c.printer.Upside(result); err != nil {
		return err
	}
	return report.WriteUpsideCSV(a.outputPath(report.UpsideFile(time.Now())), result)
}
