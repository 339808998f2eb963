package pricing

import (
	"errors"
	"math"
	"math/rand/v2"
)

// ErrExhausted 表示回放序列已无后续价格。
var ErrExhausted = errors.New("pricing: source exhausted")

// Source 为单资产价格过程，每次 Advance 恰好前进一步。
type Source interface {
	Current() (int, float64)
	Advance() error
}

// Range 为价格允许的闭区间，越界的候选价格被丢弃（价格保持不变，时间照常前进）。
type Range struct {
	Min float64
	Max float64
}

func (r Range) contains(price float64) bool {
	if r.Min == 0 && r.Max == 0 {
		return true
	}
	return r.Min <= price && price <= r.Max
}

// NewRand 以种子与流编号构造独立的随机数发生器，同一种子不同流互不相关。
func NewRand(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

func roundTick(price float64) float64 {
	return math.Round(price*10) / 10
}

// meanRevertLog 在 log(price/anchor) 空间中执行一步 OU 更新，并以 scale 还原价格。
func meanRevertLog(price, anchor, scale, theta, mu, sigma float64, rng *rand.Rand) float64 {
	x := math.Log(price / anchor)
	x += theta*(mu-x) + sigma*rng.NormFloat64()
	return roundTick(math.Exp(x) * scale)
}
