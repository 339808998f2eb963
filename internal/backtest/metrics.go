package backtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metrics 记录回测绩效指标。
type Metrics struct {
	AnnualizedReturn   float64
	AnnualizedVol      float64
	SharpeRatio        float64
	HitRate            float64
	Turnover           float64
	AnnualizedCostRate float64
	MaxDrawdown        float64
}

func calculateMetrics(rows []Row, annualization float64) Metrics {
	if len(rows) == 0 {
		return Metrics{}
	}

	values := make([]float64, len(rows))
	prices := make([]float64, len(rows))
	positions := make([]float64, len(rows))
	costRates := make([]float64, 0, len(rows))
	for i, r := range rows {
		values[i] = r.Value
		prices[i] = r.Price
		positions[i] = float64(r.Position)
		if i > 0 && r.Value != 0 {
			costRates = append(costRates, r.Cost/r.Value)
		}
	}

	var m Metrics
	if returns := pctChange(values); len(returns) > 0 {
		mean, std := stat.MeanStdDev(returns, nil)
		m.AnnualizedReturn = mean * annualization
		if len(returns) > 1 && std > 0 {
			m.AnnualizedVol = std * math.Sqrt(annualization)
			m.SharpeRatio = m.AnnualizedReturn / m.AnnualizedVol
		}
	}
	if len(costRates) > 0 {
		m.AnnualizedCostRate = stat.Mean(costRates, nil) * annualization
	}
	m.HitRate = computeHitRate(positions, prices)
	m.Turnover = computeTurnover(positions)
	m.MaxDrawdown = computeDrawdown(values)
	return m
}

// pctChange 返回相邻价值的百分比变化，前值为 0 的区间被跳过。
func pctChange(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			continue
		}
		out = append(out, values[i]/values[i-1]-1)
	}
	return out
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}

// computeTurnover 为平均调仓量与平均持仓绝对值之比。
func computeTurnover(positions []float64) float64 {
	if len(positions) < 2 {
		return 0
	}
	traded := make([]float64, len(positions)-1)
	held := make([]float64, len(positions))
	for i, p := range positions {
		held[i] = math.Abs(p)
		if i > 0 {
			traded[i-1] = math.Abs(p - positions[i-1])
		}
	}
	avgHeld := stat.Mean(held, nil)
	if avgHeld == 0 {
		return 0
	}
	return stat.Mean(traded, nil) / avgHeld
}

// computeHitRate 统计持仓不为零的步中，下一步价格变化与持仓方向一致的比例。
func computeHitRate(positions, prices []float64) float64 {
	var held, hits int
	for i := 0; i+1 < len(positions); i++ {
		if positions[i] == 0 {
			continue
		}
		held++
		if positions[i]*(prices[i+1]-prices[i]) > 0 {
			hits++
		}
	}
	if held == 0 {
		return 0
	}
	return float64(hits) / float64(held)
}

// UtilitySharpe 把逐步效用累加到 initial 上形成价值曲线，返回其收益率的年化夏普比率。
// 标准差按总体口径计算。
func UtilitySharpe(utilities []float64, initial, annualization float64) float64 {
	if len(utilities) < 2 {
		return 0
	}
	values := make([]float64, len(utilities))
	acc := initial
	for i, u := range utilities {
		acc += u
		values[i] = acc
	}
	returns := pctChange(values)
	if len(returns) == 0 {
		return 0
	}
	std := math.Sqrt(stat.PopVariance(returns, nil))
	if std == 0 {
		return 0
	}
	return stat.Mean(returns, nil) / std * math.Sqrt(annualization)
}
