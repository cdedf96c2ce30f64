package allocation

import (
	"math"
	"sort"
)

const integralTol = 1e-6

type bounds struct {
	lo []int
	hi []int // -1 表示无上界
}

func (b bounds) clone() bounds {
	return bounds{
		lo: append([]int(nil), b.lo...),
		hi: append([]int(nil), b.hi...),
	}
}

// relax 求解分支节点的线性松弛：
//
//	min Σ|w_i − v_i| + (1 − Σv_i)   s.t. Σv_i ≤ 1, lo_i·p_i ≤ v_i ≤ hi_i·p_i
//
// 单项 |w−v| − v 在 v<w 时斜率为 −2，v≥w 时为常数，故先把每个 v_i 截断到目标 w_i，
// 超出资金的部分从可下调的变量中扣除，每单位代价为 2。ok=false 表示节点不可行。
func relax(p problem, b bounds) (float64, []float64, bool) {
	n := len(p.symbols)
	v := make([]float64, n)
	floor := make([]float64, n)
	spent, minSpent := 0.0, 0.0

	for i := 0; i < n; i++ {
		lo := float64(b.lo[i]) * p.lotPrice[i]
		hi := math.Inf(1)
		if b.hi[i] >= 0 {
			if b.hi[i] < b.lo[i] {
				return 0, nil, false
			}
			hi = float64(b.hi[i]) * p.lotPrice[i]
		}
		v[i] = math.Max(lo, math.Min(p.weights[i], hi))
		floor[i] = lo
		spent += v[i]
		minSpent += lo
	}
	if minSpent > 1+1e-12 {
		return 0, nil, false
	}

	excess := spent - 1
	if excess > 0 {
		// 优先扣掉小数部分，让更多变量落在整数点上。
		order := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if v[i] > floor[i] {
				order = append(order, i)
			}
		}
		sort.SliceStable(order, func(a, c int) bool {
			return fraction(v[order[a]]/p.lotPrice[order[a]]) > fraction(v[order[c]]/p.lotPrice[order[c]])
		})
		for _, i := range order {
			if excess <= 0 {
				break
			}
			target := math.Max(floor[i], math.Floor(v[i]/p.lotPrice[i]+integralTol)*p.lotPrice[i])
			cut := math.Min(excess, v[i]-target)
			if cut > 0 {
				v[i] -= cut
				excess -= cut
			}
		}
		for _, i := range order {
			if excess <= 0 {
				break
			}
			cut := math.Min(excess, v[i]-floor[i])
			if cut > 0 {
				v[i] -= cut
				excess -= cut
			}
		}
	}

	x := make([]float64, n)
	used := 0.0
	dev := 0.0
	for i := 0; i < n; i++ {
		x[i] = v[i] / p.lotPrice[i]
		used += v[i]
		dev += math.Abs(p.weights[i] - v[i])
	}
	return dev + math.Max(0, 1-used), x, true
}

func fraction(x float64) float64 {
	return x - math.Floor(x)
}
