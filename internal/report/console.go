package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"set-portfolio/internal/allocation"
	"set-portfolio/internal/backtest"
	"set-portfolio/internal/optimize"
	"set-portfolio/internal/upside"
)

var separator = strings.Repeat("-", 80)

// AllocationRow 为分配表中的一行。
type AllocationRow struct {
	Symbol string
	Price  float64
	Shares int
	Value  float64
	Weight float64 // 清洗后的目标权重
}

// BuildAllocationRows 组合离散分配、最新价格与目标权重，按市值降序排列。
func BuildAllocationRows(result allocation.Result, prices map[string]float64, weights optimize.Weights) []AllocationRow {
	rows := make([]AllocationRow, 0, len(result.Shares))
	for sym, shares := range result.Shares {
		if shares <= 0 {
			continue
		}
		price := prices[sym]
		rows = append(rows, AllocationRow{
			Symbol: sym,
			Price:  price,
			Shares: shares,
			Value:  price * float64(shares),
			Weight: weights[sym],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	return rows
}

// Money 以千分位、两位小数格式化金额。
func Money(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

// Printer 将结果以表格形式输出到终端。
type Printer struct {
	w io.Writer
}

// NewPrinter 创建终端输出器。
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Allocation 输出排除列表、持仓表、已用资金与剩余现金。
func (p *Printer) Allocation(rows []AllocationRow, excluded []string, leftover float64) error {
	fmt.Fprintln(p.w, separator)
	fmt.Fprintf(p.w, "Excluded: %s\n", strings.Join(excluded, ","))
	fmt.Fprintln(p.w, "Allocation:")

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Symbol\tShares\tPrice ฿\tValue ฿\tWeight\t")
	used := 0.0
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f%%\t\n",
			r.Symbol, humanize.Comma(int64(r.Shares)), Money(r.Price), Money(r.Value), r.Weight*100)
		used += r.Value
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(p.w, separator)
	fmt.Fprintf(p.w, "Total capital used: %s\n", Money(used))
	fmt.Fprintf(p.w, "Leftover: %s\n", Money(leftover))
	fmt.Fprintln(p.w, separator)
	return nil
}

// Performance 输出组合的年化预期收益、波动率与夏普比率。
func (p *Printer) Performance(perf optimize.Performance) {
	fmt.Fprintf(p.w, "Expected annual return: %.1f%%\n", perf.ExpectedReturn*100)
	fmt.Fprintf(p.w, "Annual volatility: %.1f%%\n", perf.Volatility*100)
	fmt.Fprintf(p.w, "Sharpe Ratio: %.2f\n", perf.SharpeRatio)
}

// Backtest 输出回测汇总。
func (p *Printer) Backtest(m backtest.Metrics, warnings int, path string) error {
	fmt.Fprintln(p.w, separator)
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Windows evaluated\t%s\n", humanize.Comma(int64(m.Windows)))
	fmt.Fprintf(tw, "Windows included\t%s\n", humanize.Comma(int64(m.Included)))
	fmt.Fprintf(tw, "Skipped (missing sell date)\t%s\n", humanize.Comma(int64(m.SkippedMissingDate)))
	fmt.Fprintf(tw, "Skipped (infeasible)\t%s\n", humanize.Comma(int64(m.SkippedInfeasible)))
	if m.Included > 0 {
		fmt.Fprintf(tw, "Mean gain ฿\t%s\n", Money(m.MeanGain))
		fmt.Fprintf(tw, "Median gain ฿\t%s\n", Money(m.MedianGain))
		fmt.Fprintf(tw, "Min / Max gain ฿\t%s / %s\n", Money(m.MinGain), Money(m.MaxGain))
		fmt.Fprintf(tw, "Win rate\t%.1f%%\n", m.WinRate*100)
		fmt.Fprintf(tw, "Mean return\t%.2f%%\n", m.MeanReturn*100)
	}
	fmt.Fprintf(tw, "Unusual gain warnings\t%d\n", warnings)
	if err := tw.Flush(); err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(p.w, "Backtest result saved to %q\n", path)
	}
	return nil
}

// Upside 输出目标价上涨空间排名。
func (p *Printer) Upside(r upside.Report) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Symbol\tName\tCurrent\tTarget mean\tUpside\tRec. mean\tAnalysts\t")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row.Symbol,
			row.Name,
			optMoney(row.CurrentPrice),
			optMoney(row.TargetMeanPrice),
			optPercent(row.UpsidePct),
			optFloat(row.RecommendationMean),
			optInt(row.NumberOfAnalystOpinions),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Failures) > 0 {
		symbols := make([]string, 0, len(r.Failures))
		for _, f := range r.Failures {
			symbols = append(symbols, f.Symbol)
		}
		fmt.Fprintf(p.w, "Failed (%d): %s\n", len(symbols), strings.Join(symbols, ","))
	}
	return nil
}

func optMoney(v *float64) string {
	if v == nil {
		return "-"
	}
	return Money(*v)
}

func optPercent(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return humanize.Comma(int64(*v))
}
