package optimize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"set-portfolio/internal/series"
)

// ErrNoExcessReturn 表示所有股票的预期收益都不高于无风险利率，最大夏普比率无解。
var ErrNoExcessReturn = errors.New("optimize: 没有股票的预期收益高于无风险利率")

// Weights 为股票到目标权重的映射。
type Weights map[string]float64

// Positive 返回权重严格为正的股票，按代码排序。
func (w Weights) Positive() []string {
	out := make([]string, 0, len(w))
	for sym, v := range w {
		if v > 0 {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out
}

// Sum 返回权重之和。
func (w Weights) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Performance 描述组合的年化表现。
type Performance struct {
	ExpectedReturn float64 `json:"expected_return"`
	Volatility     float64 `json:"volatility"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
}

// ExpectedReturns 计算复利年化的历史平均收益。
func ExpectedReturns(table *series.Table, frequency int) (map[string]float64, error) {
	if frequency <= 0 {
		frequency = 252
	}
	out := make(map[string]float64, len(table.Symbols()))
	for _, sym := range table.Symbols() {
		rets, ok := table.Returns(sym)
		if !ok || len(rets) == 0 {
			return nil, fmt.Errorf("optimize: %s 收益序列为空", sym)
		}
		growth := 1.0
		for _, r := range rets {
			growth *= 1 + r
		}
		out[sym] = math.Pow(growth, float64(frequency)/float64(len(rets))) - 1
	}
	return out, nil
}

// SampleCovariance 计算年化样本协方差矩阵，行列顺序与 table.Symbols() 一致。
func SampleCovariance(table *series.Table, frequency int) (*mat.SymDense, error) {
	if frequency <= 0 {
		frequency = 252
	}
	symbols := table.Symbols()
	if len(symbols) == 0 || table.Len() < 3 {
		return nil, errors.New("optimize: 样本不足以估计协方差")
	}

	obs := table.Len() - 1
	data := mat.NewDense(obs, len(symbols), nil)
	for c, sym := range symbols {
		rets, _ := table.Returns(sym)
		for r := 0; r < obs; r++ {
			data.Set(r, c, rets[r])
		}
	}

	cov := mat.NewSymDense(len(symbols), nil)
	stat.CovarianceMatrix(cov, data, nil)
	cov.ScaleSym(float64(frequency), cov)
	return cov, nil
}

// MaxSharpe 求解只做多、满仓约束下夏普比率最大的权重。
// 采用 softmax 参数化消除约束，再用 LBFGS 配合解析梯度求解。
func MaxSharpe(symbols []string, mu map[string]float64, cov mat.Symmetric, riskFreeRate float64) (Weights, error) {
	n := len(symbols)
	if n == 0 {
		return nil, errors.New("optimize: 股票列表为空")
	}
	if cov.SymmetricDim() != n {
		return nil, fmt.Errorf("optimize: 协方差维度 %d 与股票数 %d 不一致", cov.SymmetricDim(), n)
	}

	m := make([]float64, n)
	anyExcess := false
	for i, sym := range symbols {
		v, ok := mu[sym]
		if !ok {
			return nil, fmt.Errorf("optimize: 缺少 %s 的预期收益", sym)
		}
		m[i] = v
		if v > riskFreeRate {
			anyExcess = true
		}
	}
	if !anyExcess {
		return nil, ErrNoExcessReturn
	}
	if n == 1 {
		return Weights{symbols[0]: 1}, nil
	}

	muVec := mat.NewVecDense(n, m)
	objective := func(w []float64) (sharpe, excess, sigma float64, sigmaW *mat.VecDense) {
		wVec := mat.NewVecDense(n, w)
		sigmaW = mat.NewVecDense(n, nil)
		sigmaW.MulVec(cov, wVec)
		variance := mat.Dot(wVec, sigmaW)
		excess = mat.Dot(wVec, muVec) - riskFreeRate
		if variance <= 0 {
			return math.Inf(1), excess, 0, sigmaW
		}
		sigma = math.Sqrt(variance)
		return excess / sigma, excess, sigma, sigmaW
	}

	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			sharpe, _, _, _ := objective(softmax(z))
			if math.IsInf(sharpe, 1) {
				return math.Inf(1)
			}
			return -sharpe
		},
		Grad: func(grad, z []float64) {
			w := softmax(z)
			_, excess, sigma, sigmaW := objective(w)
			if sigma == 0 {
				for i := range grad {
					grad[i] = 0
				}
				return
			}
			// dS/dw = μ/σ - excess·Σw/σ³，目标为 -S。
			g := make([]float64, n)
			for i := range g {
				g[i] = -(m[i]/sigma - excess*sigmaW.AtVec(i)/(sigma*sigma*sigma))
			}
			dot := 0.0
			for i := range g {
				dot += w[i] * g[i]
			}
			for j := range grad {
				grad[j] = w[j] * (g[j] - dot)
			}
		},
	}

	z0 := make([]float64, n)
	settings := &optimize.Settings{
		GradientThreshold: 1e-10,
		MajorIterations:   5000,
	}
	result, err := optimize.Minimize(problem, z0, settings, &optimize.LBFGS{})
	if result == nil || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		if err == nil {
			err = errors.New("目标函数值无效")
		}
		return nil, fmt.Errorf("optimize: 最大夏普求解失败: %w", err)
	}

	w := softmax(result.X)
	out := make(Weights, n)
	for i, sym := range symbols {
		out[sym] = w[i]
	}
	return out, nil
}

// Clean 将低于阈值的权重置零并保留5位小数，不做归一化。
func Clean(weights Weights, cutoff float64) Weights {
	out := make(Weights, len(weights))
	for sym, v := range weights {
		if math.Abs(v) < cutoff {
			v = 0
		}
		out[sym] = math.Round(v*1e5) / 1e5
	}
	return out
}

// Evaluate 计算给定权重的预期收益、波动率与夏普比率。
func Evaluate(weights Weights, symbols []string, mu map[string]float64, cov mat.Symmetric, riskFreeRate float64) Performance {
	n := len(symbols)
	w := make([]float64, n)
	m := make([]float64, n)
	for i, sym := range symbols {
		w[i] = weights[sym]
		m[i] = mu[sym]
	}
	wVec := mat.NewVecDense(n, w)
	sigmaW := mat.NewVecDense(n, nil)
	sigmaW.MulVec(cov, wVec)

	ret := mat.Dot(wVec, mat.NewVecDense(n, m))
	vol := math.Sqrt(math.Max(mat.Dot(wVec, sigmaW), 0))
	return Performance{
		ExpectedReturn: ret,
		Volatility:     vol,
		SharpeRatio:    series.SafeDivide(ret-riskFreeRate, vol),
	}
}

func softmax(z []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, v := range z {
		if v > maxZ {
			maxZ = v
		}
	}
	out := make([]float64, len(z))
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
