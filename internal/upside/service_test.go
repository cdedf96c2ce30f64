package upside

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"set-portfolio/internal/config"
	"set-portfolio/internal/marketdata"
)

type stubFetcher struct {
	infos  map[string]marketdata.AnalystInfo
	fail   map[string]error
	active int32
	peak   int32
}

func (f *stubFetcher) FetchAnalystInfo(_ context.Context, symbol string) (marketdata.AnalystInfo, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		peak := atomic.LoadInt32(&f.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&f.peak, peak, n) {
			break
		}
	}

	if err := f.fail[symbol]; err != nil {
		return marketdata.AnalystInfo{}, err
	}
	return f.infos[symbol], nil
}

func ptr(v float64) *float64 { return &v }

func info(symbol, key string, current, target *float64) marketdata.AnalystInfo {
	return marketdata.AnalystInfo{Symbol: symbol, RecommendationKey: key, CurrentPrice: current, TargetMeanPrice: target}
}

func TestRank_FiltersAndSorts(t *testing.T) {
	fetcher := &stubFetcher{infos: map[string]marketdata.AnalystInfo{
		"A.BK": info("A.BK", "buy", ptr(10), ptr(12)),  // 20%
		"B.BK": info("B.BK", "buy", ptr(10), ptr(15)),  // 50%
		"C.BK": info("C.BK", "hold", ptr(10), ptr(30)), // 被过滤
		"D.BK": info("D.BK", "buy", nil, ptr(15)),      // 未知
		"E.BK": info("E.BK", "BUY", ptr(20), ptr(19)),  // -5%
	}}
	svc, err := NewService(fetcher, config.UpsideConfig{Concurrency: 2, RecommendationKey: "buy"}, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	report, err := svc.Rank(context.Background(), []string{"A.BK", "B.BK", "C.BK", "D.BK", "E.BK"})
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}

	want := []string{"B.BK", "A.BK", "E.BK", "D.BK"}
	if len(report.Rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(report.Rows))
	}
	for i, sym := range want {
		if report.Rows[i].Symbol != sym {
			t.Errorf("row %d: expected %s, got %s", i, sym, report.Rows[i].Symbol)
		}
	}
	if math.Abs(*report.Rows[0].UpsidePct-50) > 1e-9 {
		t.Errorf("expected 50%% upside, got %v", *report.Rows[0].UpsidePct)
	}
	if report.Rows[3].UpsidePct != nil {
		t.Errorf("unknown upside should be nil")
	}
	if report.Fetched != 5 {
		t.Errorf("expected 5 fetched, got %d", report.Fetched)
	}
}

func TestRank_KeepsPartialResults(t *testing.T) {
	fetcher := &stubFetcher{
		infos: map[string]marketdata.AnalystInfo{"A.BK": info("A.BK", "buy", ptr(10), ptr(11))},
		fail:  map[string]error{"B.BK": errors.New("timeout")},
	}
	svc, err := NewService(fetcher, config.UpsideConfig{Concurrency: 4, RecommendationKey: "buy"}, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	report, err := svc.Rank(context.Background(), []string{"A.BK", "B.BK"})
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	if len(report.Rows) != 1 || report.Rows[0].Symbol != "A.BK" {
		t.Errorf("expected A.BK to survive, got %+v", report.Rows)
	}
	if len(report.Failures) != 1 || report.Failures[0].Symbol != "B.BK" {
		t.Errorf("expected B.BK failure, got %+v", report.Failures)
	}
}

func TestRank_EmptyKeyKeepsEverything(t *testing.T) {
	fetcher := &stubFetcher{infos: map[string]marketdata.AnalystInfo{
		"A.BK": info("A.BK", "hold", ptr(10), ptr(11)),
		"B.BK": info("B.BK", "", nil, nil),
	}}
	svc, err := NewService(fetcher, config.UpsideConfig{Concurrency: 1}, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	report, err := svc.Rank(context.Background(), []string{"A.BK", "B.BK"})
	if err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	if len(report.Rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(report.Rows))
	}
}

func TestRank_RespectsConcurrencyLimit(t *testing.T) {
	infos := map[string]marketdata.AnalystInfo{}
	symbols := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		sym := string(rune('A'+i)) + ".BK"
		symbols = append(symbols, sym)
		infos[sym] = info(sym, "buy", ptr(10), ptr(11))
	}
	fetcher := &stubFetcher{infos: infos}
	svc, err := NewService(fetcher, config.UpsideConfig{Concurrency: 3, RecommendationKey: "buy"}, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	if _, err := svc.Rank(context.Background(), symbols); err != nil {
		t.Fatalf("Rank returned error: %v", err)
	}
	if peak := atomic.LoadInt32(&fetcher.peak); peak > 3 {
		t.Errorf("expected at most 3 concurrent fetches, saw %d", peak)
	}
}

func TestRank_Cancelled(t *testing.T) {
	svc, err := NewService(&stubFetcher{}, config.UpsideConfig{Concurrency: 1}, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Rank(ctx, []string{"A.BK"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUpside(t *testing.T) {
	if Upside(info("X", "buy", ptr(0), ptr(10))) != nil {
		t.Errorf("zero current price should give unknown upside")
	}
	if v := Upside(info("X", "buy", ptr(50), ptr(40))); v == nil || *v != -20 {
		t.Errorf("expected -20, got %v", v)
	}
}
