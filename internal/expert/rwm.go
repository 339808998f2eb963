package expert

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"trades-rl/internal/regressor"
)

const (
	defaultRWMBeta     = 0.995
	defaultRWMCapacity = 30

	underflowFloor = 1e-8
	underflowScale = 1e8
)

// RWMConfig 为随机加权多数池参数。
type RWMConfig struct {
	Beta     float64
	Capacity int
}

// RWM 为随机加权多数（乘法权重）专家池：猜错的专家权重乘以 Beta，
// 决策时按权重抽样一个专家并跟随它的建议。
type RWM struct {
	collection
	cfg     RWMConfig
	weights []float64
	probs   []float64
	logger  *zap.Logger
}

var _ Pool = (*RWM)(nil)

// NewRWM 创建 RWM 专家池。
func NewRWM(cfg RWMConfig, reg regressor.Regressor, rng *rand.Rand, logger *zap.Logger) (*RWM, error) {
	if cfg.Beta == 0 {
		cfg.Beta = defaultRWMBeta
	}
	if cfg.Beta <= 0 || cfg.Beta > 1 {
		return nil, fmt.Errorf("expert: rwm beta 必须位于(0,1]，got %f", cfg.Beta)
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultRWMCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := newCollection(reg, rng)
	if err != nil {
		return nil, err
	}
	return &RWM{collection: c, cfg: cfg, logger: logger}, nil
}

// Weights 返回当前权重副本。
func (p *RWM) Weights() []float64 {
	return append([]float64(nil), p.weights...)
}

// Probabilities 返回归一化后的抽样概率副本。
func (p *RWM) Probabilities() []float64 {
	return append([]float64(nil), p.probs...)
}

// Score 按权重抽样一个专家并返回其估值；池为空时返回 0。
func (p *RWM) Score(s State, action int) float64 {
	if len(p.experts) == 0 {
		return 0
	}
	return p.experts[p.sample()].Model.Predict(Features(s, action))
}

// BestAction 计算每个专家的 arg-max 动作，再按权重抽样一个专家跟随。
func (p *RWM) BestAction(s State, candidates []int) (Guess, error) {
	if len(candidates) == 0 {
		return Guess{}, ErrNoCandidates
	}
	if len(p.experts) == 0 {
		return p.uniformGuess(candidates), nil
	}

	_, picks := p.predictions(s, candidates)
	idx := p.sample()
	return Guess{
		Action:     candidates[picks[idx]],
		ExpertID:   p.experts[idx].ID,
		Candidates: append([]int(nil), candidates...),
		Picks:      picks,
		cycle:      p.issue(),
	}, nil
}

// UpdateWeights 将猜测不等于 best 的专家权重乘以 Beta，少于两个专家时不做任何事。
func (p *RWM) UpdateWeights(g Guess, best int) error {
	if len(p.weights) < 2 {
		return nil
	}
	if err := p.consume(g); err != nil {
		return err
	}

	for i, pick := range g.Picks {
		if g.Candidates[pick] != best {
			p.weights[i] *= p.cfg.Beta
		}
	}
	// 先放大再归一化，避免权重下溢为 0 后丢失相对大小。
	if floats.Min(p.weights) < underflowFloor {
		floats.Scale(underflowScale, p.weights)
	}
	p.normalize()
	return nil
}

// Feedback 以单步最优动作（效用最大的候选）作为反馈信号。
func (p *RWM) Feedback(g Guess, utilities []float64) error {
	if len(p.weights) < 2 {
		return nil
	}
	if err := checkUtilities(g, utilities); err != nil {
		return err
	}
	return p.UpdateWeights(g, g.Candidates[floats.MaxIdx(utilities)])
}

// Fit 训练并追加新专家，超过容量时淘汰最早的专家，随后重置为均匀权重。
func (p *RWM) Fit(X [][]float64, y []float64) (FitReport, error) {
	e, r2, err := p.train(X, y)
	if err != nil {
		return FitReport{}, err
	}

	report := FitReport{ExpertID: e.ID, Appended: true, Evicted: NoExpert, Samples: len(y), RSquared: r2}
	p.experts = append(p.experts, e)
	if len(p.experts) > p.cfg.Capacity {
		report.Evicted = p.experts[0].ID
		p.experts = append([]Expert(nil), p.experts[1:]...)
	}
	p.weights = ones(len(p.experts))
	p.normalize()
	p.invalidate()
	report.Size = len(p.experts)

	p.logger.Info("RWM 专家训练完成",
		zap.Int("expert_id", e.ID),
		zap.Int("pool_size", report.Size),
		zap.Int("evicted", report.Evicted),
		zap.Int("samples", report.Samples),
		zap.Float64("r_squared", r2),
	)
	return report, nil
}

func (p *RWM) normalize() {
	p.probs = make([]float64, len(p.weights))
	if len(p.weights) == 0 {
		return
	}
	floats.ScaleTo(p.probs, 1/floats.Sum(p.weights), p.weights)
}

func (p *RWM) sample() int {
	r := p.rng.Float64()
	for i, prob := range p.probs {
		r -= prob
		if r < 0 {
			return i
		}
	}
	return len(p.probs) - 1
}
