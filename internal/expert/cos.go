package expert

import (
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"trades-rl/internal/regressor"
)

const defaultCOSScale = 1.0

// COSConfig 为错误计数领导者池参数。
type COSConfig struct {
	// Scale 为扰动所用指数分布的均值。
	Scale float64
}

// COS 按错误次数选领导者：每步猜错最优动作的专家计数加 1，决策时给每个计数加上
// 随机符号的 Exp(Scale) 扰动，跟随扰动后计数最小的专家。每次训练后计数清零。
type COS struct {
	collection
	cfg    COSConfig
	misses []float64
	logger *zap.Logger
}

var _ Pool = (*COS)(nil)

// NewCOS 创建错误计数领导者池。
func NewCOS(cfg COSConfig, reg regressor.Regressor, rng *rand.Rand, logger *zap.Logger) (*COS, error) {
	if cfg.Scale == 0 {
		cfg.Scale = defaultCOSScale
	}
	if cfg.Scale < 0 {
		return nil, fmt.Errorf("expert: cos scale 必须为正，got %f", cfg.Scale)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := newCollection(reg, rng)
	if err != nil {
		return nil, err
	}
	return &COS{collection: c, cfg: cfg, logger: logger}, nil
}

// Weights 返回错误计数副本，越低越好。
func (p *COS) Weights() []float64 {
	return append([]float64(nil), p.misses...)
}

// Score 返回本次扰动下领导者的估值；池为空时返回 0。
func (p *COS) Score(s State, action int) float64 {
	if len(p.experts) == 0 {
		return 0
	}
	return p.experts[p.leader()].Model.Predict(Features(s, action))
}

// BestAction 计算每个专家的 arg-max 动作，跟随扰动后错误计数最小的专家。
func (p *COS) BestAction(s State, candidates []int) (Guess, error) {
	if len(candidates) == 0 {
		return Guess{}, ErrNoCandidates
	}
	if len(p.experts) == 0 {
		return p.uniformGuess(candidates), nil
	}

	_, picks := p.predictions(s, candidates)
	idx := p.leader()
	return Guess{
		Action:     candidates[picks[idx]],
		ExpertID:   p.experts[idx].ID,
		Candidates: append([]int(nil), candidates...),
		Picks:      picks,
		cycle:      p.issue(),
	}, nil
}

// UpdateWeights 将猜测不等于 best 的专家错误计数加 1。
func (p *COS) UpdateWeights(g Guess, best int) error {
	if err := p.consume(g); err != nil {
		return err
	}
	for i, pick := range g.Picks {
		if g.Candidates[pick] != best {
			p.misses[i]++
		}
	}
	return nil
}

// Feedback 以效用最大的候选动作作为最优动作。
func (p *COS) Feedback(g Guess, utilities []float64) error {
	if len(p.experts) == 0 {
		return nil
	}
	if err := checkUtilities(g, utilities); err != nil {
		return err
	}
	return p.UpdateWeights(g, g.Candidates[floats.MaxIdx(utilities)])
}

// Fit 训练并追加新专家，随后所有错误计数清零。
func (p *COS) Fit(X [][]float64, y []float64) (FitReport, error) {
	e, r2, err := p.train(X, y)
	if err != nil {
		return FitReport{}, err
	}
	p.experts = append(p.experts, e)
	p.misses = make([]float64, len(p.experts))
	p.invalidate()

	p.logger.Info("COS 专家训练完成",
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

// leader 抽取一次扰动并返回扰动后错误计数最小的专家下标。
func (p *COS) leader() int {
	perturbed := make([]float64, len(p.misses))
	for i, m := range p.misses {
		noise := p.rng.ExpFloat64() * p.cfg.Scale
		if p.rng.Float64() < 0.5 {
			noise = -noise
		}
		perturbed[i] = m + noise
	}
	return floats.MinIdx(perturbed)
}
