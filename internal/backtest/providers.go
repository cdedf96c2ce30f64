package backtest

import (
	"context"
	"errors"

	"set-portfolio/internal/allocation"
)

// AllocatorFunc 允许使用函数作为分配器。
type AllocatorFunc func(ctx context.Context, weights map[string]float64, prices map[string]float64, capital float64) (allocation.Result, error)

func (f AllocatorFunc) Allocate(ctx context.Context, weights map[string]float64, prices map[string]float64, capital float64) (allocation.Result, error) {
	if f == nil {
		return allocation.Result{}, errors.New("backtest: 分配函数未实现")
	}
	return f(ctx, weights, prices, capital)
}

// WarningRecorderFunc 允许使用函数接收告警。
type WarningRecorderFunc func(ctx context.Context, warning GainWarning)

func (f WarningRecorderFunc) RecordGainWarning(ctx context.Context, warning GainWarning) {
	if f != nil {
		f(ctx, warning)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordGainWarning(context.Context, GainWarning) {}
