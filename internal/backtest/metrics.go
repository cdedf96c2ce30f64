package backtest

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics 记录回测统计指标。
type Metrics struct {
	Windows            int     `json:"windows"`
	Included           int     `json:"included"`
	SkippedMissingDate int     `json:"skipped_missing_date"`
	SkippedInfeasible  int     `json:"skipped_infeasible"`
	MeanGain           float64 `json:"mean_gain"`
	MedianGain         float64 `json:"median_gain"`
	StdGain            float64 `json:"std_gain"`
	MinGain            float64 `json:"min_gain"`
	MaxGain            float64 `json:"max_gain"`
	WinRate            float64 `json:"win_rate"`
	MeanReturn         float64 `json:"mean_return"` // 平均收益 / 资金
}

func calculateMetrics(outcomes []WindowOutcome, capital float64) Metrics {
	m := Metrics{Windows: len(outcomes)}

	gains := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		switch o.Status {
		case WindowIncluded:
			gains = append(gains, o.Gain)
		case WindowSkippedMissingDate:
			m.SkippedMissingDate++
		case WindowSkippedInfeasible:
			m.SkippedInfeasible++
		}
	}
	m.Included = len(gains)
	if len(gains) == 0 {
		return m
	}

	wins := 0
	for _, g := range gains {
		if g > 0 {
			wins++
		}
	}

	sorted := append([]float64(nil), gains...)
	sort.Float64s(sorted)

	m.MeanGain = stat.Mean(gains, nil)
	if len(gains) > 1 {
		m.StdGain = stat.StdDev(gains, nil)
	}
	m.MedianGain = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	m.MinGain = sorted[0]
	m.MaxGain = sorted[len(sorted)-1]
	m.WinRate = float64(wins) / float64(len(gains))
	if capital > 0 {
		m.MeanReturn = m.MeanGain / capital
	}
	return m
}
