package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"set-portfolio/internal/allocation"
	"set-portfolio/internal/backtest"
	"set-portfolio/internal/journal"
	"set-portfolio/internal/marketdata"
	"set-portfolio/internal/optimize"
	"set-portfolio/internal/report"
	"set-portfolio/internal/series"
)

// RunPortfolio 依次执行：加载股票池、获取历史价格、求解最大夏普组合、
// 按最新价格离散分配、滚动窗口回测，并输出报表。
func (a *App) RunPortfolio(ctx context.Context) error {
	c, err := a.setup(ctx)
	if err != nil {
		return err
	}

	if err := a.runPortfolio(ctx, c); err != nil {
		c.journal.RecordError(ctx, "组合流程失败", err, map[string]interface{}{
			"index": a.cfg.Universe.Index,
		})
		return err
	}
	return nil
}

func (a *App) runPortfolio(ctx context.Context, c components) error {
	pf := a.cfg.Portfolio

	tickers, err := c.universe.Tickers()
	if err != nil {
		return err
	}

	var cache *marketdata.PriceCache
	if a.cfg.MarketData.UseCache {
		if cache, err = marketdata.NewPriceCache(ctx, a.store); err != nil {
			return err
		}
	}
	history := marketdata.NewHistoryService(c.client, cache, a.cfg.MarketData, a.logger)

	end := series.Day(time.Now())
	start := end.AddDate(0, 0, -365*pf.LookbackYears)
	prices, err := history.Fetch(ctx, tickers, start, end)
	if err != nil {
		for _, fetchErr := range multierr.Errors(err) {
			c.journal.RecordFetchFailure(ctx, "history", fetchErr)
		}
		return fmt.Errorf("获取历史价格失败: %w", err)
	}
	if err := report.WritePricesCSV(a.outputPath(report.PricesFile), prices); err != nil {
		return err
	}

	plan, err := optimize.NewOptimizer(pf, a.logger).Optimize(prices)
	if err != nil {
		return err
	}
	c.journal.RecordPerformance(ctx, plan.Performance, plan.Weights)

	allocator := allocation.NewAllocator(pf.LotSize, a.cfg.Allocation, a.logger)
	latest := prices.Latest()
	result, err := allocator.Allocate(ctx, plan.Weights, latest, pf.Capital)
	if err != nil {
		return fmt.Errorf("按最新价格分配失败: %w", err)
	}

	rows := report.BuildAllocationRows(result, latest, plan.Weights)
	if err := report.WriteAllocationCSV(a.outputPath(report.AllocationFile), rows); err != nil {
		return err
	}
	c.journal.RecordAllocation(ctx, allocationPayload(prices, rows, pf.Capital, result.Leftover))

	if err := c.printer.Allocation(rows, pf.Blacklists, result.Leftover); err != nil {
		return err
	}
	c.printer.Performance(plan.Performance)

	a.logger.Info("最新一期分配完成",
		zap.Int("positions", len(rows)),
		zap.Float64("capital", pf.Capital),
		zap.Float64("leftover", result.Leftover),
	)

	if !a.cfg.Backtest.Enabled {
		return nil
	}

	btCfg := backtest.Config{
		Capital:         pf.Capital,
		HoldingDays:     a.cfg.Backtest.HoldingDays,
		IncludeLeftover: a.cfg.Backtest.IncludeLeftover,
		UnusualGainWarn: a.cfg.Backtest.UnusualGainWarn,
	}
	engine, err := backtest.NewEngine(btCfg, allocator.NewSession(), c.journal, a.logger)
	if err != nil {
		return err
	}
	bt, err := engine.Run(ctx, prices, plan.Weights)
	if err != nil {
		return fmt.Errorf("回测失败: %w", err)
	}
	c.journal.RecordBacktest(ctx, btCfg, bt)

	path := a.outputPath(report.BacktestFile)
	if err := report.WriteBacktestCSV(path, bt.Records); err != nil {
		return err
	}
	return c.printer.Backtest(bt.Metrics, len(bt.Warnings), path)
}

func allocationPayload(prices *series.Table, rows []report.AllocationRow, capital, leftover float64) journal.AllocationPayload {
	payload := journal.AllocationPayload{
		Capital:  capital,
		Leftover: leftover,
		Entries:  make([]journal.AllocationEntry, 0, len(rows)),
	}
	if dates := prices.Dates(); len(dates) > 0 {
		payload.AsOf = dates[len(dates)-1].Format(series.DateLayout)
	}
	for _, r := range rows {
		payload.Entries = append(payload.Entries, journal.AllocationEntry{
			Symbol: r.Symbol,
			Shares: r.Shares,
			Price:  r.Price,
			Weight: r.Weight,
		})
	}
	return payload
}
