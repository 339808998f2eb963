package utility

import "math"

// Func 将一步的价值变化映射为效用。
type Func func(dv float64) float64

// CostFunc 计算调整 share 股仓位的交易成本。
type CostFunc func(share int) float64

// Quadratic 返回 dv - 0.5*k*dv^2 形式的均值-方差效用，k 为风险厌恶系数。
func Quadratic(k float64) Func {
	return func(dv float64) float64 {
		return dv - 0.5*k*dv*dv
	}
}

// Linear 为风险中性效用。
func Linear() Func {
	return func(dv float64) float64 { return dv }
}

// TradingCost 返回 mul*tick*(|s| + 0.01*s^2) 形式的成本函数。
func TradingCost(mul, tick float64) CostFunc {
	return func(share int) float64 {
		s := float64(share)
		return mul * tick * (math.Abs(s) + 0.01*s*s)
	}
}

// Realized 计算从当前仓位执行 action 后，在价格变化 dp 下的价值变化。
func Realized(position, action int, dp float64, cost CostFunc) float64 {
	return float64(position+action)*dp - cost(action)
}
