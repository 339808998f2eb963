package pricing

import (
	"fmt"
	"math/rand/v2"
)

// OUParams 为对数均值回复过程参数。
type OUParams struct {
	StartTime  int
	StartPrice float64
	Theta      float64
	Mu         float64
	Sigma      float64
	Range      Range
}

// OU 在 log(p/p0) 空间上执行 Ornstein-Uhlenbeck 更新，价格保留一位小数。
type OU struct {
	params OUParams
	t      int
	price  float64
	rng    *rand.Rand
}

// NewOU 创建均值回复价格过程。
func NewOU(params OUParams, rng *rand.Rand) (*OU, error) {
	if params.StartPrice <= 0 {
		return nil, fmt.Errorf("pricing: 初始价格必须为正，got %f", params.StartPrice)
	}
	if rng == nil {
		return nil, fmt.Errorf("pricing: 随机数发生器不能为空")
	}
	return &OU{params: params, t: params.StartTime, price: params.StartPrice, rng: rng}, nil
}

func (p *OU) Current() (int, float64) {
	return p.t, p.price
}

func (p *OU) Advance() error {
	next := meanRevertLog(p.price, p.params.StartPrice, p.params.StartPrice, p.params.Theta, p.params.Mu, p.params.Sigma, p.rng)
	if p.params.Range.contains(next) {
		p.price = next
	}
	p.t++
	return nil
}

// MixtureParams 描述多状态混合过程。状态 i 在 log(p/Anchors[i]) 空间均值回复，
// 再以 Scales[i] 还原价格；两者不同时状态切换会带来价格水平的跳变。
// Scales 为空时与 Anchors 相同。每 RegimeLength 步按 Probabilities 重新抽取状态。
type MixtureParams struct {
	StartTime     int
	StartPrice    float64
	Anchors       []float64
	Scales        []float64
	Probabilities []float64
	RegimeLength  int
	Theta         float64
	Mu            float64
	Sigma         float64
	Range         Range
}

// Mixture 为随机切换的状态混合价格过程。
type Mixture struct {
	params    MixtureParams
	t         int
	price     float64
	regime    int
	remaining int
	rng       *rand.Rand
}

// NewMixture 创建状态混合价格过程。
func NewMixture(params MixtureParams, rng *rand.Rand) (*Mixture, error) {
	if params.StartPrice <= 0 {
		return nil, fmt.Errorf("pricing: 初始价格必须为正，got %f", params.StartPrice)
	}
	if len(params.Anchors) == 0 || len(params.Anchors) != len(params.Probabilities) {
		return nil, fmt.Errorf("pricing: anchors 与 probabilities 数量不一致: %d vs %d", len(params.Anchors), len(params.Probabilities))
	}
	if len(params.Scales) == 0 {
		params.Scales = params.Anchors
	}
	if len(params.Scales) != len(params.Anchors) {
		return nil, fmt.Errorf("pricing: scales 与 anchors 数量不一致: %d vs %d", len(params.Scales), len(params.Anchors))
	}
	var total float64
	for i, p := range params.Probabilities {
		if p < 0 {
			return nil, fmt.Errorf("pricing: 第 %d 个状态概率为负", i)
		}
		if params.Anchors[i] <= 0 || params.Scales[i] <= 0 {
			return nil, fmt.Errorf("pricing: 第 %d 个状态锚定价格必须为正", i)
		}
		total += p
	}
	if total <= 0 {
		return nil, fmt.Errorf("pricing: 状态概率之和必须为正")
	}
	if params.RegimeLength <= 0 {
		return nil, fmt.Errorf("pricing: regime_length 必须大于0")
	}
	if rng == nil {
		return nil, fmt.Errorf("pricing: 随机数发生器不能为空")
	}

	m := &Mixture{
		params:    params,
		t:         params.StartTime,
		price:     params.StartPrice,
		remaining: params.RegimeLength,
		rng:       rng,
	}
	m.regime = m.drawRegime()
	return m, nil
}

func (m *Mixture) Current() (int, float64) {
	return m.t, m.price
}

// Regime 返回当前所处状态编号。
func (m *Mixture) Regime() int {
	return m.regime
}

func (m *Mixture) Advance() error {
	if m.remaining > 1 {
		m.remaining--
	} else {
		m.remaining = m.params.RegimeLength - 1
		m.regime = m.drawRegime()
	}

	next := meanRevertLog(m.price, m.params.Anchors[m.regime], m.params.Scales[m.regime], m.params.Theta, m.params.Mu, m.params.Sigma, m.rng)
	if m.params.Range.contains(next) {
		m.price = next
	}
	m.t++
	return nil
}

func (m *Mixture) drawRegime() int {
	var total float64
	for _, p := range m.params.Probabilities {
		total += p
	}
	r := m.rng.Float64() * total
	for i, p := range m.params.Probabilities {
		r -= p
		if r < 0 {
			return i
		}
	}
	return len(m.params.Probabilities) - 1
}

// GBMParams 为几何布朗运动参数（按步）。
type GBMParams struct {
	StartTime  int
	StartPrice float64
	Drift      float64
	Volatility float64
	Range      Range
}

// GBM 为离散几何布朗运动。
type GBM struct {
	params GBMParams
	t      int
	price  float64
	rng    *rand.Rand
}

// NewGBM 创建几何布朗运动价格过程。
func NewGBM(params GBMParams, rng *rand.Rand) (*GBM, error) {
	if params.StartPrice <= 0 {
		return nil, fmt.Errorf("pricing: 初始价格必须为正，got %f", params.StartPrice)
	}
	if rng == nil {
		return nil, fmt.Errorf("pricing: 随机数发生器不能为空")
	}
	return &GBM{params: params, t: params.StartTime, price: params.StartPrice, rng: rng}, nil
}

func (g *GBM) Current() (int, float64) {
	return g.t, g.price
}

func (g *GBM) Advance() error {
	p := g.price
	next := p + g.params.Drift*p + g.params.Volatility*p*g.rng.NormFloat64()
	if next > 0 && g.params.Range.contains(next) {
		g.price = next
	}
	g.t++
	return nil
}

// Series 按固定序列回放价格，用于确定性回测与测试。
type Series struct {
	start  int
	prices []float64
	index  int
}

// NewSeries 创建回放价格源，prices 至少包含一个价格。
func NewSeries(start int, prices []float64) (*Series, error) {
	if len(prices) == 0 {
		return nil, fmt.Errorf("pricing: 回放序列不能为空")
	}
	return &Series{start: start, prices: append([]float64(nil), prices...)}, nil
}

func (s *Series) Current() (int, float64) {
	return s.start + s.index, s.prices[s.index]
}

func (s *Series) Advance() error {
	if s.index+1 >= len(s.prices) {
		return ErrExhausted
	}
	s.index++
	return nil
}
