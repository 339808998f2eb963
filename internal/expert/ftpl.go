package expert

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"trades-rl/internal/regressor"
)

const (
	defaultFTPLEpsilon     = 0.05
	defaultFTPLCapacity    = 15
	defaultFTPLTopFraction = 0.5
)

// FTPLConfig 为扰动领导者池参数。
type FTPLConfig struct {
	Epsilon     float64
	Capacity    int
	TopFraction float64
}

// FTPL 为跟随扰动领导者专家池。权重是累计惩罚（越低越好），每次估值时
// 给每个专家加上 Uniform(0, 1/Epsilon) 的扰动，并取惩罚最低的前 TopFraction 个专家的平均估值。
// 达到容量后不再追加也不淘汰，只重置为均匀权重。
type FTPL struct {
	collection
	cfg       FTPLConfig
	weights   []float64
	saturated bool
	logger    *zap.Logger
}

var _ Pool = (*FTPL)(nil)

// NewFTPL 创建 FTPL 专家池。
func NewFTPL(cfg FTPLConfig, reg regressor.Regressor, rng *rand.Rand, logger *zap.Logger) (*FTPL, error) {
	if cfg.Epsilon == 0 {
		cfg.Epsilon = defaultFTPLEpsilon
	}
	if cfg.Epsilon < 0 {
		return nil, fmt.Errorf("expert: ftpl epsilon 必须为正，got %f", cfg.Epsilon)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultFTPLCapacity
	}
	if cfg.TopFraction == 0 {
		cfg.TopFraction = defaultFTPLTopFraction
	}
	if cfg.TopFraction < 0 || cfg.TopFraction > 1 {
		return nil, fmt.Errorf("expert: ftpl top_fraction 必须位于(0,1]，got %f", cfg.TopFraction)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := newCollection(reg, rng)
	if err != nil {
		return nil, err
	}
	return &FTPL{collection: c, cfg: cfg, logger: logger}, nil
}

// Weights 返回累计惩罚副本。
func (p *FTPL) Weights() []float64 {
	return append([]float64(nil), p.weights...)
}

// Saturated 表示池已达到训练上限，后续 Fit 只会重置权重。
func (p *FTPL) Saturated() bool {
	return p.saturated
}

// Score 返回扰动后惩罚最低的前一半专家的平均估值；池为空时返回 0。
func (p *FTPL) Score(s State, action int) float64 {
	if len(p.experts) == 0 {
		return 0
	}
	x := Features(s, action)
	top := p.leaders()
	var total float64
	for _, i := range top {
		total += p.experts[i].Model.Predict(x)
	}
	return total / float64(len(top))
}

// BestAction 对所有候选动作使用同一次扰动抽样计算前一半专家的平均估值，返回估值最大的动作。
// 返回的 ExpertID 为本次扰动下的领导者。
func (p *FTPL) BestAction(s State, candidates []int) (Guess, error) {
	if len(candidates) == 0 {
		return Guess{}, ErrNoCandidates
	}
	if len(p.experts) == 0 {
		return p.uniformGuess(candidates), nil
	}

	preds, picks := p.predictions(s, candidates)
	top := p.leaders()
	q := make([]float64, len(candidates))
	for j := range candidates {
		for _, i := range top {
			q[j] += preds[i][j]
		}
		q[j] /= float64(len(top))
	}

	return Guess{
		Action:     candidates[floats.MaxIdx(q)],
		ExpertID:   p.experts[top[0]].ID,
		Candidates: append([]int(nil), candidates...),
		Picks:      picks,
		cycle:      p.issue(),
	}, nil
}

// UpdateWeights 按候选动作的实现效用更新惩罚：专家所猜动作的效用不高于均值时，
// 惩罚增加该效用的绝对值。少于两个专家时不做任何事。
func (p *FTPL) UpdateWeights(g Guess, utilities []float64) error {
	if len(p.weights) < 2 {
		return nil
	}
	if err := checkUtilities(g, utilities); err != nil {
		return err
	}
	if err := p.consume(g); err != nil {
		return err
	}

	mean := stat.Mean(utilities, nil)
	for i, pick := range g.Picks {
		if u := utilities[pick]; u <= mean {
			p.weights[i] += math.Abs(u)
		}
	}
	return nil
}

// Feedback 直接使用完整的候选效用向量。
func (p *FTPL) Feedback(g Guess, utilities []float64) error {
	return p.UpdateWeights(g, utilities)
}

// Fit 在未达到容量时训练并追加新专家；达到容量后只将权重重置为 1。
func (p *FTPL) Fit(X [][]float64, y []float64) (FitReport, error) {
	if len(p.experts) >= p.cfg.Capacity {
		p.saturated = true
		p.weights = ones(len(p.experts))
		p.invalidate()
		p.logger.Info("FTPL 专家数量已达上限，停止训练",
			zap.Int("pool_size", len(p.experts)),
			zap.Int("capacity", p.cfg.Capacity),
		)
		return FitReport{
			ExpertID:  NoExpert,
			Evicted:   NoExpert,
			Saturated: true,
			Size:      len(p.experts),
			Samples:   len(y),
		}, nil
	}

	e, r2, err := p.train(X, y)
	if err != nil {
		return FitReport{}, err
	}
	p.experts = append(p.experts, e)
	p.weights = ones(len(p.experts))
	p.invalidate()

	p.logger.Info("FTPL 专家训练完成",
		zap.Int("expert_id", e.ID),
		zap.Int("pool_size", len(p.experts)),
		zap.Int("samples", len(y)),
		zap.Float64("r_squared", r2),
	)
	return FitReport{
		ExpertID: e.ID,
		Appended: true,
		Evicted:  NoExpert,
		Size:     len(p.experts),
		Samples:  len(y),
		RSquared: r2,
	}, nil
}

// leaders 抽取一次扰动，返回扰动后惩罚最低的前 TopFraction 个专家下标（升序）。
func (p *FTPL) leaders() []int {
	n := len(p.weights)
	perturbed := make([]float64, n)
	order := make([]int, n)
	for i, w := range p.weights {
		perturbed[i] = w + p.rng.Float64()/p.cfg.Epsilon
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case perturbed[a] < perturbed[b]:
			return -1
		case perturbed[a] > perturbed[b]:
			return 1
		default:
			return 0
		}
	})

	k := int(math.Ceil(p.cfg.TopFraction * float64(n)))
	if k < 1 {
		k = 1
	}
	return order[:k]
}
