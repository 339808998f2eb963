package regressor

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// BoostingConfig 为梯度提升回归树参数。
type BoostingConfig struct {
	Estimators      int
	MaxDepth        int
	LearningRate    float64
	MinSamplesSplit int
}

func (c BoostingConfig) normalize() BoostingConfig {
	if c.Estimators <= 0 {
		c.Estimators = 100
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.MinSamplesSplit < 2 {
		c.MinSamplesSplit = 2
	}
	return c
}

// GradientBoosting 以平方损失逐棵拟合残差的 CART 回归树。
type GradientBoosting struct {
	cfg BoostingConfig
}

// NewGradientBoosting 创建梯度提升回归器。
func NewGradientBoosting(cfg BoostingConfig) *GradientBoosting {
	return &GradientBoosting{cfg: cfg.normalize()}
}

var _ Regressor = (*GradientBoosting)(nil)

// Fit 在 X, y 上训练新的模型，不修改接收者。
func (g *GradientBoosting) Fit(X [][]float64, y []float64) (Model, error) {
	width, err := checkShape(X, y)
	if err != nil {
		return nil, err
	}

	base := stat.Mean(y, nil)
	residuals := make([]float64, len(y))
	for i := range y {
		residuals[i] = y[i] - base
	}

	b := treeBuilder{X: X, width: width, cfg: g.cfg}
	model := &boostedModel{base: base, rate: g.cfg.LearningRate}
	all := make([]int, len(y))
	for i := range all {
		all[i] = i
	}

	for n := 0; n < g.cfg.Estimators; n++ {
		b.residuals = residuals
		tree := b.build(slices.Clone(all), 0)
		model.trees = append(model.trees, tree)
		for i, row := range X {
			residuals[i] -= g.cfg.LearningRate * tree.predict(row)
		}
	}

	return model, nil
}

type boostedModel struct {
	base  float64
	rate  float64
	trees []*node
}

func (m *boostedModel) Predict(x []float64) float64 {
	out := m.base
	for _, t := range m.trees {
		out += m.rate * t.predict(x)
	}
	return out
}

type node struct {
	leaf      bool
	value     float64
	feature   int
	threshold float64
	left      *node
	right     *node
}

func (n *node) predict(x []float64) float64 {
	for !n.leaf {
		if x[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

type treeBuilder struct {
	X         [][]float64
	residuals []float64
	width     int
	cfg       BoostingConfig
}

func (b *treeBuilder) build(idx []int, depth int) *node {
	var sum float64
	for _, i := range idx {
		sum += b.residuals[i]
	}
	count := float64(len(idx))
	leaf := &node{leaf: true, value: sum / count}

	if depth >= b.cfg.MaxDepth || len(idx) < b.cfg.MinSamplesSplit {
		return leaf
	}

	// 最大化 sumL²/nL + sumR²/nR 等价于最小化左右子节点平方误差之和。
	bestGain := sum * sum / count
	bestFeature, bestThreshold := -1, 0.0
	for f := 0; f < b.width; f++ {
		sorted := slices.Clone(idx)
		slices.SortFunc(sorted, func(a, c int) int {
			switch va, vc := b.X[a][f], b.X[c][f]; {
			case va < vc:
				return -1
			case va > vc:
				return 1
			default:
				return 0
			}
		})

		var left float64
		for k := 1; k < len(sorted); k++ {
			left += b.residuals[sorted[k-1]]
			lo, hi := b.X[sorted[k-1]][f], b.X[sorted[k]][f]
			if lo == hi {
				continue
			}
			nl, nr := float64(k), count-float64(k)
			right := sum - left
			gain := left*left/nl + right*right/nr
			if gain > bestGain+1e-12 {
				bestGain = gain
				bestFeature = f
				bestThreshold = (lo + hi) / 2
			}
		}
	}

	if bestFeature < 0 {
		return leaf
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if b.X[i][bestFeature] <= bestThreshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return leaf
	}

	return &node{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      b.build(leftIdx, depth+1),
		right:     b.build(rightIdx, depth+1),
	}
}
