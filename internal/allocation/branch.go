package allocation

import (
	"context"
	"math"
	"time"
)

type searchLimits struct {
	maxNodes int
	deadline time.Time // 零值表示不限时
	gap      float64
}

type searchStats struct {
	nodes   int
	stopped string // 非空表示因预算提前结束
}

// branchAndBound 以 incumbent 为初始上界做深度优先分支定界。
// 返回更优解（没有改进时为 nil）；节点数或时间预算耗尽时返回当前最优解，ctx 取消时返回 ctx.Err()。
func branchAndBound(ctx context.Context, p problem, incumbent []int, limits searchLimits) ([]int, searchStats, error) {
	n := len(p.symbols)
	best := objective(p, incumbent)
	gap := math.Max(limits.gap, 1e-12)

	root := bounds{lo: make([]int, n), hi: make([]int, n)}
	for i := range root.hi {
		root.hi[i] = -1
	}

	var (
		improved []int
		stats    searchStats
	)
	stack := []bounds{root}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if stats.nodes >= limits.maxNodes {
			stats.stopped = "max_nodes"
			return improved, stats, nil
		}
		if !limits.deadline.IsZero() && time.Now().After(limits.deadline) {
			stats.stopped = "time_budget"
			return improved, stats, nil
		}

		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stats.nodes++

		bound, x, ok := relax(p, node)
		if !ok || bound >= best-gap {
			continue
		}

		branch := -1
		worst := integralTol
		for i := 0; i < n; i++ {
			frac := math.Abs(x[i] - math.Round(x[i]))
			if frac > worst {
				worst = frac
				branch = i
			}
		}

		if branch < 0 {
			lots := make([]int, n)
			for i := range lots {
				lots[i] = int(math.Round(x[i]))
			}
			if !affordable(p, lots) {
				continue
			}
			if obj := objective(p, lots); obj < best-1e-12 {
				best = obj
				improved = lots
			}
			continue
		}

		floor := int(math.Floor(x[branch]))
		up := node.clone()
		up.lo[branch] = floor + 1
		down := node.clone()
		down.hi[branch] = floor
		stack = append(stack, up, down)
	}

	return improved, stats, nil
}
