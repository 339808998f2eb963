package expert

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"trades-rl/internal/ledger"
	"trades-rl/internal/regressor"
)

var (
	// ErrStaleGuess 表示权重更新使用的猜测不是本轮 BestAction 产生的，或已被使用过。
	ErrStaleGuess = errors.New("expert: stale guess state")
	// ErrNoCandidates 表示候选动作为空。
	ErrNoCandidates = errors.New("expert: no candidate actions")
)

// NoExpert 表示没有专家参与决策。
const NoExpert = ledger.NoExpert

// State 为智能体观测到的状态。
type State struct {
	Price    float64
	Position int
}

// Features 将状态与动作拼接为回归特征 (price, position, action)。
func Features(s State, action int) []float64 {
	return []float64{s.Price, float64(s.Position), float64(action)}
}

// Expert 为池中单个已拟合的回归模型，ID 在池的生命周期内单调分配、不复用。
type Expert struct {
	ID    int
	Model regressor.Model
}

// Guess 为一次 BestAction 的完整结果，必须原样交回同一个池做权重更新。
type Guess struct {
	Action     int
	ExpertID   int
	Candidates []int
	// Picks[i] 为第 i 个专家在 Candidates 中选择的下标。
	Picks []int

	cycle uint64
}

// FitReport 描述一次训练的结果。
type FitReport struct {
	ExpertID  int
	Appended  bool
	Evicted   int
	Saturated bool
	Size      int
	Samples   int
	RSquared  float64
}

// Pool 为专家池的公共能力，RWM、FTPL、SLA 与 COS 均实现该接口。
type Pool interface {
	Len() int
	ExpertIDs() []int
	Weights() []float64
	Score(s State, action int) float64
	BestAction(s State, candidates []int) (Guess, error)
	// Check 校验猜测仍可交给 Feedback，但不消耗它。
	Check(g Guess) error
	// Feedback 以每个候选动作的实现效用（与 Guess.Candidates 对齐）更新专家权重。
	Feedback(g Guess, utilities []float64) error
	Fit(X [][]float64, y []float64) (FitReport, error)
}

// collection 保存专家序列与猜测周期，供两种池复用。
type collection struct {
	experts   []Expert
	nextID    int
	regressor regressor.Regressor
	rng       *rand.Rand

	cycle   uint64
	pending uint64
}

func newCollection(reg regressor.Regressor, rng *rand.Rand) (collection, error) {
	if reg == nil {
		return collection{}, errors.New("expert: regressor 不能为空")
	}
	if rng == nil {
		return collection{}, errors.New("expert: 随机数发生器不能为空")
	}
	return collection{regressor: reg, rng: rng}, nil
}

func (c *collection) Len() int {
	return len(c.experts)
}

func (c *collection) ExpertIDs() []int {
	ids := make([]int, len(c.experts))
	for i, e := range c.experts {
		ids[i] = e.ID
	}
	return ids
}

// train 拟合新模型并分配编号，但不追加到池中。
func (c *collection) train(X [][]float64, y []float64) (Expert, float64, error) {
	model, err := c.regressor.Fit(X, y)
	if err != nil {
		return Expert{}, 0, fmt.Errorf("expert: 训练专家失败: %w", err)
	}
	e := Expert{ID: c.nextID, Model: model}
	c.nextID++
	return e, regressor.RSquared(model, X, y), nil
}

// issue 开启新的猜测周期，之前发出的猜测全部失效。
func (c *collection) issue() uint64 {
	c.cycle++
	c.pending = c.cycle
	return c.cycle
}

// invalidate 在池结构变化时使未使用的猜测失效。
func (c *collection) invalidate() {
	c.cycle++
	c.pending = 0
}

// Check 校验猜测属于当前周期、尚未使用且与池的规模一致。
func (c *collection) Check(g Guess) error {
	if g.cycle == 0 || g.cycle != c.pending {
		return ErrStaleGuess
	}
	if len(g.Picks) != len(c.experts) {
		return fmt.Errorf("%w: 猜测包含 %d 个专家，池中有 %d 个", ErrStaleGuess, len(g.Picks), len(c.experts))
	}
	return nil
}

// consume 校验猜测后将其标记为已使用。
func (c *collection) consume(g Guess) error {
	if err := c.Check(g); err != nil {
		return err
	}
	c.pending = 0
	return nil
}

func (c *collection) uniformGuess(candidates []int) Guess {
	return Guess{
		Action:     candidates[c.rng.IntN(len(candidates))],
		ExpertID:   NoExpert,
		Candidates: append([]int(nil), candidates...),
	}
}

// predictions 返回 preds[i][j]：第 i 个专家对第 j 个候选动作的估值，以及每个专家的 arg-max 下标。
func (c *collection) predictions(s State, candidates []int) ([][]float64, []int) {
	features := make([][]float64, len(candidates))
	for j, a := range candidates {
		features[j] = Features(s, a)
	}
	preds := make([][]float64, len(c.experts))
	picks := make([]int, len(c.experts))
	for i, e := range c.experts {
		row := make([]float64, len(candidates))
		for j, x := range features {
			row[j] = e.Model.Predict(x)
		}
		preds[i] = row
		picks[i] = floats.MaxIdx(row)
	}
	return preds, picks
}

func checkUtilities(g Guess, utilities []float64) error {
	if len(utilities) != len(g.Candidates) {
		return fmt.Errorf("expert: 效用数量 %d 与候选动作数量 %d 不一致", len(utilities), len(g.Candidates))
	}
	return nil
}

func ones(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}
