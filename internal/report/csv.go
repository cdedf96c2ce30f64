package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"set-portfolio/internal/backtest"
	"set-portfolio/internal/series"
	"set-portfolio/internal/upside"
)

const (
	PricesFile     = "prices.csv"
	BacktestFile   = "backtest.csv"
	AllocationFile = "allocation.csv"
)

// UpsideFile 返回带日期前缀的筛选结果文件名。
func UpsideFile(day time.Time) string {
	return day.Format(series.DateLayout) + "_upside-finder.csv"
}

// WritePricesCSV 输出对齐后的价格表，每只股票一列。
func WritePricesCSV(path string, table *series.Table) error {
	symbols := table.Symbols()
	header := append([]string{"date"}, symbols...)

	return writeCSV(path, header, func(write func([]string) error) error {
		for i, date := range table.Dates() {
			row := table.RowAt(i)
			record := make([]string, 0, len(symbols)+1)
			record = append(record, date.Format(series.DateLayout))
			for _, sym := range symbols {
				record = append(record, fmtFloat(row[sym]))
			}
			if err := write(record); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteBacktestCSV 输出纳入结果的回测窗口。
func WriteBacktestCSV(path string, records []backtest.Record) error {
	return writeCSV(path, []string{"buy_date", "sell_date", "gain"}, func(write func([]string) error) error {
		for _, r := range records {
			if err := write([]string{
				r.BuyDate.Format(series.DateLayout),
				r.SellDate.Format(series.DateLayout),
				fmtFloat(r.Gain),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteAllocationCSV 输出最新一期的离散分配。
func WriteAllocationCSV(path string, rows []AllocationRow) error {
	return writeCSV(path, []string{"symbol", "price", "share", "value", "percentage"}, func(write func([]string) error) error {
		for _, r := range rows {
			if err := write([]string{
				r.Symbol,
				fmtFloat(r.Price),
				strconv.Itoa(r.Shares),
				fmtFloat(r.Value),
				fmtFloat(r.Weight),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteUpsideCSV 输出目标价筛选结果，缺失值留空。
func WriteUpsideCSV(path string, r upside.Report) error {
	header := []string{
		"symbol",
		"name",
		"currentPrice",
		"targetHighPrice",
		"targetLowPrice",
		"targetMeanPrice",
		"targetMedianPrice",
		"recommendationMean",
		"recommendationKey",
		"numberOfAnalystOpinions",
		"upside%",
	}
	return writeCSV(path, header, func(write func([]string) error) error {
		for _, row := range r.Rows {
			if err := write([]string{
				row.Symbol,
				row.Name,
				fmtOpt(row.CurrentPrice),
				fmtOpt(row.TargetHighPrice),
				fmtOpt(row.TargetLowPrice),
				fmtOpt(row.TargetMeanPrice),
				fmtOpt(row.TargetMedianPrice),
				fmtOpt(row.RecommendationMean),
				row.RecommendationKey,
				fmtOptInt(row.NumberOfAnalystOpinions),
				fmtOpt(row.UpsidePct),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeCSV(path string, header []string, body func(write func([]string) error) error) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: 创建目录 %q 失败: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: 创建 %s 失败: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := body(w.Write); err != nil {
		return fmt.Errorf("report: 写入 %s 失败: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("report: 写入 %s 失败: %w", path, err)
	}
	return f.Close()
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

func fmtOpt(x *float64) string {
	if x == nil {
		return ""
	}
	return fmtFloat(*x)
}

func fmtOptInt(x *int) string {
	if x == nil {
		return ""
	}
	return strconv.Itoa(*x)
}
