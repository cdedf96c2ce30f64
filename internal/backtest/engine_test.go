package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"set-portfolio/internal/allocation"
	"set-portfolio/internal/config"
	"set-portfolio/internal/series"
)

func date(s string) time.Time {
	d, err := time.Parse(series.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

// dailyTable 构造 [from, to] 每日连续的价格表，price 返回某股票第 i 天的价格。
func dailyTable(from, to string, symbols []string, price func(sym string, i int) float64) *series.Table {
	start, end := date(from), date(to)
	cols := make(map[string][]series.Point, len(symbols))
	i := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for _, sym := range symbols {
			cols[sym] = append(cols[sym], series.Point{Date: d, Value: price(sym, i)})
		}
		i++
	}
	return series.NewTable(cols)
}

func flat(sym string, i int) float64 {
	if sym == "A" {
		return 10
	}
	return 20
}

func newEngine(t *testing.T, cfg Config, alloc Allocator, rec WarningRecorder) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, alloc, rec, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	return engine
}

func TestRun_EmptyWhenNoForwardWindow(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-03", []string{"A", "B"}, flat)
	engine := newEngine(t, Config{Capital: 10000, HoldingDays: 365}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil), nil)

	res, err := engine.Run(context.Background(), prices, map[string]float64{"A": 0.6, "B": 0.4})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Records) != 0 {
		t.Fatalf("expected empty result, got %d records", len(res.Records))
	}
	if res.Metrics.SkippedMissingDate != 3 {
		t.Errorf("expected 3 missing-date skips, got %d", res.Metrics.SkippedMissingDate)
	}
}

func TestRun_NoNearestDateFallback(t *testing.T) {
	// 2019-01-01 + 365 天 = 2020-01-01，不在索引中；2019-12-31 虽然存在也不能替代。
	prices := dailyTable("2019-01-01", "2019-12-31", []string{"A", "B"}, flat)
	engine := newEngine(t, Config{Capital: 10000, HoldingDays: 365}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil), nil)

	res, err := engine.Run(context.Background(), prices, map[string]float64{"A": 0.6, "B": 0.4})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Records) != 0 {
		t.Fatalf("expected no records, got %v", res.Records)
	}

	first := res.Outcomes[0]
	if !first.BuyDate.Equal(date("2019-01-01")) || !first.SellDate.Equal(date("2020-01-01")) {
		t.Errorf("unexpected first window %v -> %v", first.BuyDate, first.SellDate)
	}
	if first.Status != WindowSkippedMissingDate {
		t.Errorf("expected missing-date skip, got %s", first.Status)
	}
}

func TestRun_ExactForwardDateIncluded(t *testing.T) {
	prices := dailyTable("2019-01-01", "2020-01-01", []string{"A", "B"}, func(sym string, i int) float64 {
		if i == 365 {
			return flat(sym, i) * 1.1
		}
		return flat(sym, i)
	})
	engine := newEngine(t, Config{Capital: 10000, HoldingDays: 365}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil), nil)

	res, err := engine.Run(context.Background(), prices, map[string]float64{"A": 0.6, "B": 0.4})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(res.Records))
	}
	rec := res.Records[0]
	if !rec.BuyDate.Equal(date("2019-01-01")) || !rec.SellDate.Equal(date("2020-01-01")) {
		t.Errorf("unexpected window %v -> %v", rec.BuyDate, rec.SellDate)
	}
	// A: 600 股 × 1，B: 200 股 × 2
	if math.Abs(rec.Gain-1000) > 1e-6 {
		t.Errorf("expected gain 1000, got %v", rec.Gain)
	}
}

func TestRun_SkipsInfeasibleWindows(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-10", []string{"A", "B"}, flat)
	skip := map[string]bool{"2020-01-03": true, "2020-01-04": true}

	// 只有存在卖出日的窗口才会调用分配器，因此第 n 次调用对应第 n 个日期。
	calls := 0
	engine := newEngine(t, Config{Capital: 100, HoldingDays: 2}, AllocatorFunc(func(context.Context, map[string]float64, map[string]float64, float64) (allocation.Result, error) {
		day := prices.Dates()[calls].Format(series.DateLayout)
		calls++
		if skip[day] {
			return allocation.Result{}, fmt.Errorf("%w: stub", allocation.ErrInfeasible)
		}
		return allocation.Result{Shares: map[string]int{"A": 1}, Leftover: 90}, nil
	}), nil)

	res, err := engine.Run(context.Background(), prices, map[string]float64{"A": 1})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	// 10 个日期中最后 2 个没有卖出日，另有 2 个不可行。
	if len(res.Records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(res.Records))
	}
	for _, rec := range res.Records {
		if skip[rec.BuyDate.Format(series.DateLayout)] {
			t.Errorf("infeasible window %v must be absent", rec.BuyDate)
		}
	}
	if res.Metrics.SkippedInfeasible != 2 || res.Metrics.SkippedMissingDate != 2 {
		t.Errorf("unexpected skip counts %+v", res.Metrics)
	}
}

func TestRun_PropagatesOtherAllocatorErrors(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-05", []string{"A"}, flat)
	boom := errors.New("solver crashed")
	engine := newEngine(t, Config{Capital: 100, HoldingDays: 1}, AllocatorFunc(func(context.Context, map[string]float64, map[string]float64, float64) (allocation.Result, error) {
		return allocation.Result{}, boom
	}), nil)

	if _, err := engine.Run(context.Background(), prices, map[string]float64{"A": 1}); !errors.Is(err, boom) {
		t.Fatalf("expected solver error to propagate, got %v", err)
	}
}

func TestRun_ZeroWeightSymbolsNeverAllocated(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-10", []string{"A", "B", "C"}, func(sym string, i int) float64 {
		return 10 + float64(i)
	})
	seen := map[string]bool{}
	real := allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil)
	engine := newEngine(t, Config{Capital: 1000, HoldingDays: 3}, AllocatorFunc(func(ctx context.Context, weights, buy map[string]float64, capital float64) (allocation.Result, error) {
		for sym := range weights {
			seen[sym] = true
		}
		for sym := range buy {
			seen[sym] = true
		}
		return real.Allocate(ctx, weights, buy, capital)
	}), nil)

	res, err := engine.Run(context.Background(), prices, map[string]float64{"A": 0.5, "B": 0.5, "C": 0})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if seen["C"] {
		t.Errorf("zero-weight symbol C reached the allocator")
	}
	for _, o := range res.Outcomes {
		if _, ok := o.Allocation.Shares["C"]; ok {
			t.Errorf("zero-weight symbol allocated on %v", o.BuyDate)
		}
	}
}

func TestRun_PreservesOrderAndIsIdempotent(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-03-01", []string{"A", "B"}, func(sym string, i int) float64 {
		base := 10.0
		if sym == "B" {
			base = 30
		}
		return base * (1 + 0.1*math.Sin(float64(i)/5))
	})
	engine := newEngine(t, Config{Capital: 5000, HoldingDays: 14}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 200}, nil), nil)
	weights := map[string]float64{"A": 0.7, "B": 0.3}

	first, err := engine.Run(context.Background(), prices, weights)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	second, err := engine.Run(context.Background(), prices, weights)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !reflect.DeepEqual(first.Records, second.Records) {
		t.Fatalf("expected identical results across runs")
	}
	for i := 1; i < len(first.Records); i++ {
		if !first.Records[i-1].BuyDate.Before(first.Records[i].BuyDate) {
			t.Fatalf("records out of order at %d", i)
		}
	}
	if len(first.Records) == 0 {
		t.Fatalf("expected some records")
	}
}

func TestRun_UnusualGainWarnsButKeepsWindow(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-02", []string{"A", "B"}, func(sym string, i int) float64 {
		if sym == "A" && i == 1 {
			return 30
		}
		return flat(sym, i)
	})

	var warnings []GainWarning
	rec := WarningRecorderFunc(func(_ context.Context, w GainWarning) {
		warnings = append(warnings, w)
	})
	engine := newEngine(t, Config{Capital: 1000, HoldingDays: 1, UnusualGainWarn: 2.0}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil), rec)

	res, err := engine.Run(context.Background(), prices, map[string]float64{"A": 0.5, "B": 0.5})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(warnings) != 1 || warnings[0].Symbol != "A" {
		t.Fatalf("expected one warning for A, got %+v", warnings)
	}
	if math.Abs(warnings[0].Ratio-3.0) > 1e-12 {
		t.Errorf("expected ratio 3.0, got %v", warnings[0].Ratio)
	}
	if !warnings[0].BuyDate.Equal(date("2020-01-01")) || !warnings[0].SellDate.Equal(date("2020-01-02")) {
		t.Errorf("warning should identify the window, got %+v", warnings[0])
	}
	if len(res.Records) != 1 {
		t.Fatalf("window with warning must stay included, got %d records", len(res.Records))
	}
	// A: 50 股 × (30-10)
	if math.Abs(res.Records[0].Gain-1000) > 1e-6 {
		t.Errorf("expected gain 1000, got %v", res.Records[0].Gain)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected warning in result, got %d", len(res.Warnings))
	}
}

func TestRun_LeftoverInclusionIsConfigurable(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-02", []string{"A"}, func(string, int) float64 { return 30 })
	weights := map[string]float64{"A": 1}

	without := newEngine(t, Config{Capital: 100, HoldingDays: 1}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil), nil)
	with := newEngine(t, Config{Capital: 100, HoldingDays: 1, IncludeLeftover: true}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil), nil)

	r1, err := without.Run(context.Background(), prices, weights)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	r2, err := with.Run(context.Background(), prices, weights)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if r1.Records[0].Gain != 0 {
		t.Errorf("flat prices without leftover should gain 0, got %v", r1.Records[0].Gain)
	}
	if r2.Records[0].Gain != 10 {
		t.Errorf("expected leftover 10 to be added, got %v", r2.Records[0].Gain)
	}
}

func TestRun_HonoursCancellation(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-05", []string{"A"}, flat)
	engine := newEngine(t, Config{Capital: 100, HoldingDays: 1}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 100}, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Run(ctx, prices, map[string]float64{"A": 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRun_CancellationDuringAllocationStopsRun(t *testing.T) {
	prices := dailyTable("2020-01-01", "2020-01-10", []string{"A"}, flat)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	engine := newEngine(t, Config{Capital: 100, HoldingDays: 1}, AllocatorFunc(func(ctx context.Context, _, _ map[string]float64, _ float64) (allocation.Result, error) {
		calls++
		cancel()
		return allocation.Result{}, ctx.Err()
	}), nil)

	if _, err := engine.Run(ctx, prices, map[string]float64{"A": 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the run to stop after the interrupted window, got %d calls", calls)
	}
}

func TestNewEngine_Validates(t *testing.T) {
	if _, err := NewEngine(Config{Capital: 100}, nil, nil, nil); err == nil {
		t.Errorf("expected error without allocator")
	}
	if _, err := NewEngine(Config{}, allocation.NewAllocator(1, config.AllocationConfig{MaxNodes: 1}, nil), nil, nil); err == nil {
		t.Errorf("expected error with zero capital")
	}
}
