package allocation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"set-portfolio/internal/config"
)

var (
	// ErrInfeasible 表示在资金约束下无法买入任何一手目标股票，回测窗口应跳过。
	ErrInfeasible = errors.New("allocation: 资金约束下无可行分配")
	// ErrInvalidPrice 表示价格缺失或非正，属于数据错误而非跳过条件。
	ErrInvalidPrice = errors.New("allocation: 价格无效")
)

// Result 为离散分配结果，Shares 为股数（已乘以每手股数）。
type Result struct {
	Shares   map[string]int
	Leftover float64
}

// Invested 返回按给定价格计算的持仓市值。
func (r Result) Invested(prices map[string]float64) float64 {
	total := 0.0
	for sym, shares := range r.Shares {
		total += float64(shares) * prices[sym]
	}
	return total
}

// Allocator 将连续权重转换为整数手数。
type Allocator struct {
	lotSize int
	cfg     config.AllocationConfig
	logger  *zap.Logger
}

// NewAllocator 创建离散分配器。
func NewAllocator(lotSize int, cfg config.AllocationConfig, logger *zap.Logger) *Allocator {
	if lotSize <= 0 {
		lotSize = 1
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{lotSize: lotSize, cfg: cfg, logger: logger}
}

type problem struct {
	symbols  []string
	weights  []float64 // 归一化后的目标权重
	lotPrice []float64 // 每手价格 / 资金，按资金缩放
	capital  float64
}

// Allocate 在不超过 capital 的前提下，最小化各股票目标市值偏差之和与剩余现金。
// 只有权重严格为正的股票参与分配。ctx 取消时求解中止并返回 ctx.Err()。
func (a *Allocator) Allocate(ctx context.Context, weights map[string]float64, prices map[string]float64, capital float64) (Result, error) {
	return a.allocate(ctx, weights, prices, capital, nil)
}

func (a *Allocator) allocate(ctx context.Context, weights, prices map[string]float64, capital float64, hint map[string]int) (Result, error) {
	p, err := a.buildProblem(weights, prices, capital)
	if err != nil {
		return Result{}, err
	}

	limits := searchLimits{maxNodes: a.cfg.MaxNodes, gap: a.cfg.GapTolerance}
	if a.cfg.TimeBudget > 0 {
		limits.deadline = time.Now().Add(a.cfg.TimeBudget)
	}
	lots := a.seed(p, hint)

	improved, stats, err := branchAndBound(ctx, p, lots, limits)
	if err != nil {
		return Result{}, err
	}
	if improved != nil {
		lots = improved
	}
	if stats.stopped != "" {
		a.logger.Debug("分支定界提前结束，使用当前最优解",
			zap.String("reason", stats.stopped),
			zap.Int("nodes", stats.nodes),
			zap.Int("symbols", len(p.symbols)),
		)
	}

	result := Result{Shares: make(map[string]int, len(p.symbols))}
	spent := 0.0
	for i, sym := range p.symbols {
		if lots[i] <= 0 {
			continue
		}
		shares := lots[i] * a.lotSize
		result.Shares[sym] = shares
		spent += float64(shares) * prices[sym]
	}
	if len(result.Shares) == 0 {
		return Result{}, fmt.Errorf("%w: 未能买入任何股票", ErrInfeasible)
	}
	result.Leftover = capital - spent

	return result, nil
}

func (a *Allocator) buildProblem(weights, prices map[string]float64, capital float64) (problem, error) {
	if capital <= 0 || math.IsNaN(capital) {
		return problem{}, fmt.Errorf("%w: 资金 %.2f 非正", ErrInfeasible, capital)
	}

	symbols := make([]string, 0, len(weights))
	total := 0.0
	for sym, w := range weights {
		if w > 0 {
			symbols = append(symbols, sym)
			total += w
		}
	}
	if len(symbols) == 0 {
		return problem{}, fmt.Errorf("%w: 没有正权重股票", ErrInfeasible)
	}
	sort.Strings(symbols)

	p := problem{
		symbols:  symbols,
		weights:  make([]float64, len(symbols)),
		lotPrice: make([]float64, len(symbols)),
		capital:  capital,
	}
	cheapest := math.Inf(1)
	for i, sym := range symbols {
		price, ok := prices[sym]
		if !ok || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return problem{}, fmt.Errorf("%w: %s=%v", ErrInvalidPrice, sym, price)
		}
		lot := price * float64(a.lotSize)
		cheapest = math.Min(cheapest, lot)
		p.weights[i] = weights[sym] / total
		p.lotPrice[i] = lot / capital
	}
	if cheapest > capital {
		return problem{}, fmt.Errorf("%w: 资金 %.2f 不足一手（最低 %.2f）", ErrInfeasible, capital, cheapest)
	}
	return p, nil
}

// seed 返回分支定界的初始解：贪心解与上一次的持仓（若仍买得起）中较优者，再做局部搜索。
func (a *Allocator) seed(p problem, hint map[string]int) []int {
	lots := greedy(p)
	if len(hint) > 0 {
		prev := make([]int, len(p.symbols))
		for i, sym := range p.symbols {
			prev[i] = hint[sym] / a.lotSize
		}
		if affordable(p, prev) && objective(p, prev) < objective(p, lots) {
			lots = prev
		}
	}
	return improve(p, lots)
}

// Session 在连续多次求解之间复用上一次的持仓作为初始解，适合价格逐日变化的回测。
// Session 不是并发安全的。
type Session struct {
	allocator *Allocator
	last      map[string]int
}

// NewSession 创建带热启动的求解会话。
func (a *Allocator) NewSession() *Session {
	return &Session{allocator: a}
}

// Allocate 与 Allocator.Allocate 相同，但以上一次成功的分配结果作为候选初始解。
func (s *Session) Allocate(ctx context.Context, weights map[string]float64, prices map[string]float64, capital float64) (Result, error) {
	result, err := s.allocator.allocate(ctx, weights, prices, capital, s.last)
	if err != nil {
		return Result{}, err
	}
	s.last = result.Shares
	return result, nil
}

// objective 返回缩放后的目标值：Σ|w_i - x_i·p_i| + 剩余现金比例。
func objective(p problem, lots []int) float64 {
	spent := 0.0
	dev := 0.0
	for i, x := range lots {
		v := float64(x) * p.lotPrice[i]
		spent += v
		dev += math.Abs(p.weights[i] - v)
	}
	return dev + (1 - spent)
}

func affordable(p problem, lots []int) bool {
	spent := 0.0
	for i, x := range lots {
		spent += float64(x) * p.lotPrice[i]
	}
	return spent <= 1+1e-12
}

// greedy 先按目标市值向下取整，再把剩余资金依次补给缺口最大且买得起的股票。
func greedy(p problem) []int {
	n := len(p.symbols)
	lots := make([]int, n)
	available := 1.0
	for i := 0; i < n; i++ {
		lots[i] = int(math.Floor(p.weights[i]/p.lotPrice[i] + 1e-9))
		available -= float64(lots[i]) * p.lotPrice[i]
	}

	for {
		pick := -1
		bestDeficit := math.Inf(-1)
		for i := 0; i < n; i++ {
			if p.lotPrice[i] > available+1e-12 {
				continue
			}
			deficit := p.weights[i] - float64(lots[i])*p.lotPrice[i]
			if deficit > bestDeficit {
				bestDeficit = deficit
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		// 所有股票都已达到目标时，继续买入不再改善目标值。
		if bestDeficit <= 0 {
			break
		}
		lots[pick]++
		available -= p.lotPrice[pick]
	}
	return lots
}

// improve 对初始解做一步邻域搜索：单只加减一手或两只之间调换一手，直到没有改进。
func improve(p problem, lots []int) []int {
	n := len(lots)
	cur := append([]int(nil), lots...)
	spent := 0.0
	for i, x := range cur {
		spent += float64(x) * p.lotPrice[i]
	}

	// delta 返回第 i 只股票增减 d 手时偏差项的变化量。
	delta := func(i, d int) float64 {
		before := math.Abs(p.weights[i] - float64(cur[i])*p.lotPrice[i])
		after := math.Abs(p.weights[i] - float64(cur[i]+d)*p.lotPrice[i])
		return after - before
	}

	for iter := 0; iter < 50*n; iter++ {
		bestGain := 1e-12
		bi, bj := -1, -1
		for i := 0; i < n; i++ {
			// 加一手
			if spent+p.lotPrice[i] <= 1+1e-12 {
				if g := -(delta(i, 1) - p.lotPrice[i]); g > bestGain {
					bestGain, bi, bj = g, -1, i
				}
			}
			if cur[i] == 0 {
				continue
			}
			// 减一手
			if g := -(delta(i, -1) + p.lotPrice[i]); g > bestGain {
				bestGain, bi, bj = g, i, -1
			}
			// i 减一手，j 加一手
			for j := 0; j < n; j++ {
				if j == i || spent-p.lotPrice[i]+p.lotPrice[j] > 1+1e-12 {
					continue
				}
				change := delta(i, -1) + delta(j, 1) + p.lotPrice[i] - p.lotPrice[j]
				if g := -change; g > bestGain {
					bestGain, bi, bj = g, i, j
				}
			}
		}
		if bi < 0 && bj < 0 {
			break
		}
		if bi >= 0 {
			cur[bi]--
			spent -= p.lotPrice[bi]
		}
		if bj >= 0 {
			cur[bj]++
			spent += p.lotPrice[bj]
		}
	}
	return cur
}
