package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"set-portfolio/internal/allocation"
	"set-portfolio/internal/backtest"
	"set-portfolio/internal/marketdata"
	"set-portfolio/internal/optimize"
	"set-portfolio/internal/series"
	"set-portfolio/internal/upside"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestBuildAllocationRows(t *testing.T) {
	result := allocation.Result{Shares: map[string]int{"A": 10, "B": 3, "C": 0}, Leftover: 5}
	prices := map[string]float64{"A": 10, "B": 50, "C": 1}
	weights := optimize.Weights{"A": 0.4, "B": 0.6}

	rows := BuildAllocationRows(result, prices, weights)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Symbol != "B" || rows[0].Value != 150 || rows[0].Weight != 0.6 {
		t.Errorf("unexpected first row %+v", rows[0])
	}
}

func TestPrinter_Allocation(t *testing.T) {
	var buf bytes.Buffer
	rows := []AllocationRow{{Symbol: "PTT.BK", Price: 33.5, Shares: 1200, Value: 40200, Weight: 0.4}}

	if err := NewPrinter(&buf).Allocation(rows, []string{"THAI", "EA"}, 123.456); err != nil {
		t.Fatalf("Allocation returned error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Excluded: THAI,EA", "PTT.BK", "1,200", "40,200.00", "40.00%", "Total capital used: 40,200.00", "Leftover: 123.46"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_Performance(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).Performance(optimize.Performance{ExpectedReturn: 0.253, Volatility: 0.18, SharpeRatio: 1.2944})
	out := buf.String()
	for _, want := range []string{"Expected annual return: 25.3%", "Annual volatility: 18.0%", "Sharpe Ratio: 1.29"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrinter_UpsideMarksUnknown(t *testing.T) {
	var buf bytes.Buffer
	price := 10.0
	r := upside.Report{
		Rows:     []upside.Row{{AnalystInfo: marketdata.AnalystInfo{Symbol: "A.BK", CurrentPrice: &price}}},
		Failures: []upside.Failure{{Symbol: "B.BK"}},
	}
	if err := NewPrinter(&buf).Upside(r); err != nil {
		t.Fatalf("Upside returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "A.BK") || !strings.Contains(out, "-") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "Failed (1): B.BK") {
		t.Errorf("failures not listed:\n%s", out)
	}
}

func TestWritePricesCSV(t *testing.T) {
	d1 := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	table := series.NewTable(map[string][]series.Point{
		"B": {{Date: d1, Value: 2}, {Date: d2, Value: 2.5}},
		"A": {{Date: d1, Value: 1}, {Date: d2, Value: 1.25}},
	})

	path := filepath.Join(t.TempDir(), "out", PricesFile)
	if err := WritePricesCSV(path, table); err != nil {
		t.Fatalf("WritePricesCSV returned error: %v", err)
	}

	want := [][]string{
		{"date", "A", "B"},
		{"2020-01-02", "1", "2"},
		{"2020-01-03", "1.25", "2.5"},
	}
	if got := readCSV(t, path); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestWriteBacktestCSV(t *testing.T) {
	buy := time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC)
	records := []backtest.Record{
		{BuyDate: buy, SellDate: buy.AddDate(0, 0, 365), Gain: 1234.5},
		{BuyDate: buy.AddDate(0, 0, 1), SellDate: buy.AddDate(0, 0, 366), Gain: -20},
	}

	path := filepath.Join(t.TempDir(), BacktestFile)
	if err := WriteBacktestCSV(path, records); err != nil {
		t.Fatalf("WriteBacktestCSV returned error: %v", err)
	}

	want := [][]string{
		{"buy_date", "sell_date", "gain"},
		{"2019-01-02", "2020-01-02", "1234.5"},
		{"2019-01-03", "2020-01-03", "-20"},
	}
	if got := readCSV(t, path); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestWriteUpsideCSV_LeavesMissingBlank(t *testing.T) {
	current, target, upsidePct := 10.0, 12.0, 20.0
	n := 7
	r := upside.Report{Rows: []upside.Row{{
		AnalystInfo: marketdata.AnalystInfo{
			Symbol:                  "A.BK",
			Name:                    "Alpha, PCL",
			CurrentPrice:            &current,
			TargetMeanPrice:         &target,
			RecommendationKey:       "buy",
			NumberOfAnalystOpinions: &n,
		},
		UpsidePct: &upsidePct,
	}}}

	path := filepath.Join(t.TempDir(), UpsideFile(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	if !strings.HasSuffix(path, "2024-03-01_upside-finder.csv") {
		t.Fatalf("unexpected file name %s", path)
	}
	if err := WriteUpsideCSV(path, r); err != nil {
		t.Fatalf("WriteUpsideCSV returned error: %v", err)
	}

	got := readCSV(t, path)
	if len(got) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(got))
	}
	want := []string{"A.BK", "Alpha, PCL", "10", "", "", "12", "", "", "buy", "7", "20"}
	if !reflect.DeepEqual(got[1], want) {
		t.Errorf("expected %v, got %v", want, got[1])
	}
}

func TestWriteAllocationCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), AllocationFile)
	rows := []AllocationRow{{Symbol: "A", Price: 10, Shares: 5, Value: 50, Weight: 0.5}}
	if err := WriteAllocationCSV(path, rows); err != nil {
		t.Fatalf("WriteAllocationCSV returned error: %v", err)
	}
	want := [][]string{
		{"symbol", "price", "share", "value", "percentage"},
		{"A", "10", "5", "50", "0.5"},
	}
	if got := readCSV(t, path); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
