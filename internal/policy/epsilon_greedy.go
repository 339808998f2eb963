package policy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"trades-rl/internal/expert"
)

// Decision 为一次动作选择的结果。
type Decision struct {
	Action   int
	ExpertID int
	Explored bool
	// Guess 仅在利用分支且池非空时有效，用于后续权重反馈。
	Guess *expert.Guess
}

// EpsilonGreedy 以概率 epsilon 随机探索，否则跟随专家池的最佳动作。
type EpsilonGreedy struct {
	pool expert.Pool
	rng  *rand.Rand
}

// NewEpsilonGreedy 创建 epsilon-greedy 策略。
func NewEpsilonGreedy(pool expert.Pool, rng *rand.Rand) (*EpsilonGreedy, error) {
	if pool == nil {
		return nil, errors.New("policy: 专家池不能为空")
	}
	if rng == nil {
		return nil, errors.New("policy: 随机数发生器不能为空")
	}
	return &EpsilonGreedy{pool: pool, rng: rng}, nil
}

// Pool 返回策略所依赖的专家池。
func (p *EpsilonGreedy) Pool() expert.Pool {
	return p.pool
}

// Select 在合法动作中选择一个动作。
//
// 探索分支中返回的专家编号是独立随机抽取的，仅用于记录，不代表该专家选择了此动作。
func (p *EpsilonGreedy) Select(s expert.State, legal []int, epsilon float64) (Decision, error) {
	if len(legal) == 0 {
		return Decision{}, expert.ErrNoCandidates
	}
	if epsilon < 0 || epsilon > 1 {
		return Decision{}, fmt.Errorf("policy: epsilon 必须位于[0,1]，got %f", epsilon)
	}

	if p.rng.Float64() < epsilon {
		decision := Decision{
			Action:   legal[p.rng.IntN(len(legal))],
			ExpertID: expert.NoExpert,
			Explored: true,
		}
		if ids := p.pool.ExpertIDs(); len(ids) > 0 {
			decision.ExpertID = ids[p.rng.IntN(len(ids))]
		}
		return decision, nil
	}

	guess, err := p.pool.BestAction(s, legal)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: 获取最佳动作失败: %w", err)
	}
	decision := Decision{Action: guess.Action, ExpertID: guess.ExpertID}
	if len(guess.Picks) > 0 {
		decision.Guess = &guess
	}
	return decision, nil
}

// Anneal 返回第 iteration 轮的探索率 start*decay^iteration。
func Anneal(start, decay float64, iteration int) float64 {
	return start * math.Pow(decay, float64(iteration))
}
