package series

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"
)

// DateLayout 为日期索引使用的格式。
const DateLayout = "2006-01-02"

// ErrEmptyColumn 表示某只股票在整个区间内没有任何价格。
var ErrEmptyColumn = errors.New("series: 股票在区间内没有价格数据")

// Point 为单个交易日的复权收盘价。
type Point struct {
	Date  time.Time
	Value float64
}

// Table 以交易日为行、股票为列保存复权收盘价，缺失值为 NaN。
type Table struct {
	dates   []time.Time
	symbols []string
	values  [][]float64 // values[列][行]
	rows    map[string]int
	cols    map[string]int
}

// Day 将时间截断为 UTC 零点的日历日，调用方需先转换到交易所时区。
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewTable 按日期并集对齐各股票序列，股票按代码排序。
func NewTable(columns map[string][]Point) *Table {
	symbols := make([]string, 0, len(columns))
	dateSet := make(map[time.Time]struct{})
	for sym, points := range columns {
		symbols = append(symbols, sym)
		for _, p := range points {
			dateSet[Day(p.Date)] = struct{}{}
		}
	}
	sort.Strings(symbols)

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	t := newEmpty(dates, symbols)
	for c, sym := range symbols {
		for _, p := range columns[sym] {
			if math.IsNaN(p.Value) || p.Value <= 0 {
				continue
			}
			t.values[c][t.rows[Day(p.Date).Format(DateLayout)]] = p.Value
		}
	}
	return t
}

func newEmpty(dates []time.Time, symbols []string) *Table {
	t := &Table{
		dates:   dates,
		symbols: symbols,
		values:  make([][]float64, len(symbols)),
		rows:    make(map[string]int, len(dates)),
		cols:    make(map[string]int, len(symbols)),
	}
	for i, d := range dates {
		t.rows[d.Format(DateLayout)] = i
	}
	for c, sym := range symbols {
		t.cols[sym] = c
		col := make([]float64, len(dates))
		for i := range col {
			col[i] = math.NaN()
		}
		t.values[c] = col
	}
	return t
}

// Len 返回交易日数量。
func (t *Table) Len() int {
	return len(t.dates)
}

// Dates 返回日期索引副本。
func (t *Table) Dates() []time.Time {
	return append([]time.Time(nil), t.dates...)
}

// Symbols 返回股票代码副本。
func (t *Table) Symbols() []string {
	return append([]string(nil), t.symbols...)
}

// Has 判断日期是否恰好存在于索引中。
func (t *Table) Has(date time.Time) bool {
	_, ok := t.rows[Day(date).Format(DateLayout)]
	return ok
}

// Row 返回指定日期的全部价格，日期不存在时 ok 为 false。
func (t *Table) Row(date time.Time) (map[string]float64, bool) {
	i, ok := t.rows[Day(date).Format(DateLayout)]
	if !ok {
		return nil, false
	}
	return t.RowAt(i), true
}

// RowAt 返回第 i 行价格。
func (t *Table) RowAt(i int) map[string]float64 {
	row := make(map[string]float64, len(t.symbols))
	for c, sym := range t.symbols {
		row[sym] = t.values[c][i]
	}
	return row
}

// Latest 返回最后一个交易日的价格。
func (t *Table) Latest() map[string]float64 {
	if len(t.dates) == 0 {
		return map[string]float64{}
	}
	return t.RowAt(len(t.dates) - 1)
}

// Column 返回某只股票的价格序列副本。
func (t *Table) Column(symbol string) ([]float64, bool) {
	c, ok := t.cols[symbol]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), t.values[c]...), true
}

// Restrict 返回只包含指定股票的新表，日期索引不变。
func (t *Table) Restrict(symbols []string) (*Table, error) {
	picked := append([]string(nil), symbols...)
	sort.Strings(picked)
	out := newEmpty(t.Dates(), picked)
	for c, sym := range picked {
		src, ok := t.cols[sym]
		if !ok {
			return nil, fmt.Errorf("series: 未知股票 %s", sym)
		}
		copy(out.values[c], t.values[src])
	}
	return out, nil
}

// BackFill 先用后一个已知价格向后填充，再对末尾缺口向前填充。
func (t *Table) BackFill() error {
	for c, sym := range t.symbols {
		col := t.values[c]
		next := math.NaN()
		for i := len(col) - 1; i >= 0; i-- {
			if math.IsNaN(col[i]) {
				col[i] = next
				continue
			}
			next = col[i]
		}
		if len(col) > 0 && math.IsNaN(col[0]) {
			return fmt.Errorf("%w: %s", ErrEmptyColumn, sym)
		}
		prev := math.NaN()
		for i := range col {
			if math.IsNaN(col[i]) {
				col[i] = prev
				continue
			}
			prev = col[i]
		}
	}
	return nil
}

// Returns 返回某只股票的日收益率序列（长度为 Len()-1）。
func (t *Table) Returns(symbol string) ([]float64, bool) {
	c, ok := t.cols[symbol]
	if !ok || len(t.dates) < 2 {
		return nil, false
	}
	rocp := talib.Rocp(t.values[c], 1)
	return rocp[1:], true
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// SafeDivide 除法保护，除数为0时返回0。
func SafeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
