package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"set-portfolio/internal/allocation"
	"set-portfolio/internal/series"
)

// WindowStatus 描述单个回测窗口的结果类型。
type WindowStatus string

const (
	WindowIncluded           WindowStatus = "included"
	WindowSkippedMissingDate WindowStatus = "skipped_missing_date"
	WindowSkippedInfeasible  WindowStatus = "skipped_infeasible"
)

// GainWarning 标记单只股票在窗口内涨幅异常，多见于拆股或错误报价。
type GainWarning struct {
	Symbol    string    `json:"symbol"`
	BuyDate   time.Time `json:"buy_date"`
	SellDate  time.Time `json:"sell_date"`
	BuyPrice  float64   `json:"buy_price"`
	SellPrice float64   `json:"sell_price"`
	Ratio     float64   `json:"ratio"`
	Threshold float64   `json:"threshold"`
}

// WindowOutcome 为单个窗口的结果。只有 WindowIncluded 的窗口带有收益与持仓。
type WindowOutcome struct {
	BuyDate    time.Time
	SellDate   time.Time
	Status     WindowStatus
	Gain       float64
	Allocation allocation.Result
	Warnings   []GainWarning
	Reason     string
}

// evaluateWindow 在 buy 日按目标权重建仓，持有到 buy+HoldingDays 后计算收益。
// 卖出日不在索引中、或分配不可行时返回跳过结果而不是错误。
func (e *Engine) evaluateWindow(ctx context.Context, prices *series.Table, weights map[string]float64, buy time.Time) (WindowOutcome, error) {
	sell := buy.AddDate(0, 0, e.cfg.HoldingDays)
	outcome := WindowOutcome{BuyDate: buy, SellDate: sell}

	sellRow, ok := prices.Row(sell)
	if !ok {
		outcome.Status = WindowSkippedMissingDate
		outcome.Reason = fmt.Sprintf("卖出日 %s 不在价格索引中", sell.Format(series.DateLayout))
		return outcome, nil
	}
	buyRow, ok := prices.Row(buy)
	if !ok {
		outcome.Status = WindowSkippedMissingDate
		outcome.Reason = fmt.Sprintf("买入日 %s 不在价格索引中", buy.Format(series.DateLayout))
		return outcome, nil
	}

	alloc, err := e.allocator.Allocate(ctx, weights, buyRow, e.cfg.Capital)
	if err != nil {
		if errors.Is(err, allocation.ErrInfeasible) {
			outcome.Status = WindowSkippedInfeasible
			outcome.Reason = err.Error()
			return outcome, nil
		}
		return outcome, fmt.Errorf("backtest: %s 分配失败: %w", buy.Format(series.DateLayout), err)
	}

	held := make([]string, 0, len(alloc.Shares))
	for sym, shares := range alloc.Shares {
		if shares > 0 {
			held = append(held, sym)
		}
	}
	sort.Strings(held)

	gain := 0.0
	for _, sym := range held {
		shares := float64(alloc.Shares[sym])
		bp, sp := buyRow[sym], sellRow[sym]
		gain += (sp - bp) * shares

		if e.cfg.UnusualGainWarn > 0 && bp > 0 && sp/bp > e.cfg.UnusualGainWarn {
			warning := GainWarning{
				Symbol:    sym,
				BuyDate:   buy,
				SellDate:  sell,
				BuyPrice:  bp,
				SellPrice: sp,
				Ratio:     sp / bp,
				Threshold: e.cfg.UnusualGainWarn,
			}
			outcome.Warnings = append(outcome.Warnings, warning)
			e.logger.Warn("单只股票收益异常，请检查拆股或报价错误",
				zap.String("symbol", sym),
				zap.String("buy_date", buy.Format(series.DateLayout)),
				zap.String("sell_date", sell.Format(series.DateLayout)),
				zap.Float64("ratio", warning.Ratio),
			)
			e.recorder.RecordGainWarning(ctx, warning)
		}
	}
	if e.cfg.IncludeLeftover {
		gain += alloc.Leftover
	}

	outcome.Status = WindowIncluded
	outcome.Gain = gain
	outcome.Allocation = alloc
	return outcome, nil
}
