package expert

import (
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"trades-rl/internal/regressor"
)

// SLA 为监督学习器平均池：估值取所有专家预测的算术平均，没有权重，也没有容量上限。
type SLA struct {
	collection
	logger *zap.Logger
}

var _ Pool = (*SLA)(nil)

// NewSLA 创建平均池。
func NewSLA(reg regressor.Regressor, rng *rand.Rand, logger *zap.Logger) (*SLA, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := newCollection(reg, rng)
	if err != nil {
		return nil, err
	}
	return &SLA{collection: c, logger: logger}, nil
}

// Weights 返回全 1 的等权向量。
func (p *SLA) Weights() []float64 {
	return ones(len(p.experts))
}

// Score 返回所有专家估值的平均；池为空时返回 0。
func (p *SLA) Score(s State, action int) float64 {
	if len(p.experts) == 0 {
		return 0
	}
	x := Features(s, action)
	preds := make([]float64, len(p.experts))
	for i, e := range p.experts {
		preds[i] = e.Model.Predict(x)
	}
	return stat.Mean(preds, nil)
}

// BestAction 返回平均估值最大的候选动作。决策来自整个集合，因此 ExpertID 为 NoExpert。
func (p *SLA) BestAction(s State, candidates []int) (Guess, error) {
	if len(candidates) == 0 {
		return Guess{}, ErrNoCandidates
	}
	if len(p.experts) == 0 {
		return p.uniformGuess(candidates), nil
	}

	preds, picks := p.predictions(s, candidates)
	q := make([]float64, len(candidates))
	for _, row := range preds {
		floats.Add(q, row)
	}
	return Guess{
		Action:     candidates[floats.MaxIdx(q)],
		ExpertID:   NoExpert,
		Candidates: append([]int(nil), candidates...),
		Picks:      picks,
		cycle:      p.issue(),
	}, nil
}

// Feedback 只校验并消耗猜测，平均池不维护权重。
func (p *SLA) Feedback(g Guess, utilities []float64) error {
	if len(p.experts) == 0 {
		return nil
	}
	if err := checkUtilities(g, utilities); err != nil {
		return err
	}
	return p.consume(g)
}

// Fit 训练并追加新专家。
func (p *SLA) Fit(X [][]float64, y []float64) (FitReport, error) {
	e, r2, err := p.train(X, y)
	if err != nil {
		return FitReport{}, err
	}
	p.experts = append(p.experts, e)
	p.invalidate()

	p.logger.Info("SLA 专家训练完成",
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
