package backtest

import (
	"context"

	"set-portfolio/internal/allocation"
)

// Allocator 在买入日价格下把目标权重换算为整数股数。
// 返回 allocation.ErrInfeasible 时该窗口被跳过，其余错误（包括 ctx 取消）终止回测。
type Allocator interface {
	Allocate(ctx context.Context, weights map[string]float64, prices map[string]float64, capital float64) (allocation.Result, error)
}

// WarningRecorder 接收异常收益告警，仅用于观测，不影响收益计算。
type WarningRecorder interface {
	RecordGainWarning(ctx context.Context, warning GainWarning)
}
