package player

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trades-rl/internal/action"
	"trades-rl/internal/expert"
	"trades-rl/internal/ledger"
	"trades-rl/internal/policy"
	"trades-rl/internal/pricing"
	"trades-rl/internal/utility"
)

// ErrNotEnoughHistory 表示账本中的完整转移不足以构造训练样本。
var ErrNotEnoughHistory = errors.New("player: not enough history to retrain")

// Phase 表示交易者所处阶段。
type Phase string

const (
	// PhaseLive 表示正在对价格源逐步交易。
	PhaseLive Phase = "live"
	// PhaseIdle 表示刚完成重训练，尚未开始新窗口的交易。
	PhaseIdle Phase = "idle"
)

// Config 控制交易者的动作空间与学习参数。
type Config struct {
	Actions []int
	Bounds  action.Bounds
	// Gamma 为 SARSA 目标的折现因子。
	Gamma float64
	// Feedback 为 true 时每个利用步结束后用反事实效用更新专家权重。
	Feedback bool
}

// StepResult 汇总一次交易步。
type StepResult struct {
	Step         int
	Action       int
	ExpertID     int
	Explored     bool
	Utility      float64
	NextStep     int
	NextPrice    float64
	NextPosition int
}

// RetrainResult 汇总一次重训练。
type RetrainResult struct {
	Samples int
	Report  expert.FitReport
}

// Player 在单个价格源上执行 epsilon-greedy 交易并周期性重训练专家池。
// 同一 Player 不支持并发调用。
type Player struct {
	cfg     Config
	source  pricing.Source
	ledger  *ledger.Ledger
	pool    expert.Pool
	policy  *policy.EpsilonGreedy
	utility utility.Func
	cost    utility.CostFunc
	phase   Phase
	logger  *zap.Logger
}

// New 创建交易者，并以价格源当前价格、零仓位作为账本的首条记录。
func New(cfg Config, source pricing.Source, pol *policy.EpsilonGreedy, u utility.Func, cost utility.CostFunc, logger *zap.Logger) (*Player, error) {
	if source == nil {
		return nil, errors.New("player: 价格源不能为空")
	}
	if pol == nil {
		return nil, errors.New("player: 策略不能为空")
	}
	if u == nil || cost == nil {
		return nil, errors.New("player: 效用函数与成本函数不能为空")
	}
	if err := action.Validate(cfg.Actions, cfg.Bounds); err != nil {
		return nil, err
	}
	if cfg.Gamma < 0 || cfg.Gamma >= 1 {
		return nil, fmt.Errorf("player: gamma 必须位于[0,1)，got %f", cfg.Gamma)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Player{
		cfg:     cfg,
		source:  source,
		ledger:  ledger.New(),
		pool:    pol.Pool(),
		policy:  pol,
		utility: u,
		cost:    cost,
		phase:   PhaseLive,
		logger:  logger,
	}
	t, price := source.Current()
	p.ledger.RecordState(t, price, 0)
	return p, nil
}

// Ledger 返回交易者持有的账本，调用方只应读取。
func (p *Player) Ledger() *ledger.Ledger {
	return p.ledger
}

// Pool 返回交易者持有的专家池。
func (p *Player) Pool() expert.Pool {
	return p.pool
}

// Phase 返回当前阶段。
func (p *Player) Phase() Phase {
	return p.phase
}

// Step 执行一个完整的交易步。
//
// 账本写入先缓存为一次 Transition，只有价格源推进成功后才一次性提交：
// 新状态写在 t+1，动作、效用与专家编号写在 t。任何校验失败都发生在推进之前，
// 此时价格源、账本与专家权重都保持不变。
func (p *Player) Step(epsilon float64) (StepResult, error) {
	t, price, position, err := p.ledger.MostRecent()
	if err != nil {
		return StepResult{}, err
	}

	legal, err := action.Legal(position, p.cfg.Actions, p.cfg.Bounds)
	if err != nil {
		return StepResult{}, err
	}

	state := expert.State{Price: price, Position: position}
	decision, err := p.policy.Select(state, legal, epsilon)
	if err != nil {
		return StepResult{}, err
	}

	// 反馈所需的猜测在推进价格前校验，提交之后的 Feedback 不会再因猜测失效而失败。
	feedback := p.cfg.Feedback && decision.Guess != nil
	if feedback {
		if err := p.pool.Check(*decision.Guess); err != nil {
			return StepResult{}, fmt.Errorf("player: 猜测校验失败: %w", err)
		}
	}

	if err := p.source.Advance(); err != nil {
		return StepResult{}, fmt.Errorf("player: 推进价格失败: %w", err)
	}
	nextT, nextPrice := p.source.Current()
	delta := nextPrice - price

	u := p.utility(utility.Realized(position, decision.Action, delta, p.cost))
	tr := ledger.Transition{
		From:     t,
		Action:   decision.Action,
		Utility:  u,
		ExpertID: decision.ExpertID,
		To:       nextT,
		Price:    nextPrice,
		Position: position + decision.Action,
	}
	if err := p.ledger.Commit(tr); err != nil {
		return StepResult{}, fmt.Errorf("player: 写入账本失败: %w", err)
	}
	p.phase = PhaseLive

	if feedback {
		utilities := p.counterfactual(position, decision.Guess.Candidates, delta)
		if err := p.pool.Feedback(*decision.Guess, utilities); err != nil {
			return StepResult{}, fmt.Errorf("player: 更新专家权重失败: %w", err)
		}
	}

	return StepResult{
		Step:         t,
		Action:       decision.Action,
		ExpertID:     decision.ExpertID,
		Explored:     decision.Explored,
		Utility:      u,
		NextStep:     nextT,
		NextPrice:    nextPrice,
		NextPosition: tr.Position,
	}, nil
}

// counterfactual 使用交易者自身的效用与成本函数，计算每个候选动作在已实现价格变化下的效用。
func (p *Player) counterfactual(position int, candidates []int, delta float64) []float64 {
	out := make([]float64, len(candidates))
	for i, a := range candidates {
		out[i] = p.utility(utility.Realized(position, a, delta, p.cost))
	}
	return out
}

// Retrain 用最近 window 条记录构造单步 SARSA 训练集并训练新专家，然后把账本清理到最近一步。
// window <= 0 表示使用全部记录。
func (p *Player) Retrain(window int) (RetrainResult, error) {
	entries := p.ledger.Entries()
	if window > 0 && len(entries) > window {
		entries = entries[len(entries)-window:]
	}

	X, y := p.trainingSet(entries)
	if len(y) == 0 {
		return RetrainResult{}, fmt.Errorf("%w: entries=%d", ErrNotEnoughHistory, len(entries))
	}

	report, err := p.pool.Fit(X, y)
	if err != nil {
		return RetrainResult{}, fmt.Errorf("player: 训练专家池失败: %w", err)
	}
	if err := p.ledger.ClearToLatest(); err != nil {
		return RetrainResult{}, err
	}
	p.phase = PhaseIdle

	p.logger.Info("专家池重训练完成",
		zap.Int("samples", len(y)),
		zap.Int("pool_size", report.Size),
		zap.Bool("appended", report.Appended),
		zap.Bool("saturated", report.Saturated),
	)
	return RetrainResult{Samples: len(y), Report: report}, nil
}

// trainingSet 构造特征 (p_t, pos_t, a_t) 与标签 u_t + γ·Q(p_{t+1}, pos_{t+1}, a_{t+1})。
// 下一状态使用 t+1 处记录的仓位；t+1 尚无动作的转移（窗口末尾）被跳过。
func (p *Player) trainingSet(entries []ledger.Entry) ([][]float64, []float64) {
	var (
		X [][]float64
		y []float64
	)
	for i := 0; i+1 < len(entries); i++ {
		cur, next := entries[i], entries[i+1]
		if !cur.HasAction || !cur.HasUtility || !next.HasAction {
			continue
		}
		X = append(X, expert.Features(expert.State{Price: cur.Price, Position: cur.Position}, cur.Action))
		bootstrap := p.pool.Score(expert.State{Price: next.Price, Position: next.Position}, next.Action)
		y = append(y, cur.Utility+p.cfg.Gamma*bootstrap)
	}
	return X, y
}

// Rebase 替换价格源，并以新价格源的当前价格与现有仓位重新开始账本。
func (p *Player) Rebase(source pricing.Source) error {
	if source == nil {
		return errors.New("player: 价格源不能为空")
	}
	_, _, position, err := p.ledger.MostRecent()
	if err != nil {
		return err
	}
	p.source = source
	p.ledger = ledger.New()
	t, price := source.Current()
	p.ledger.RecordState(t, price, position)
	p.phase = PhaseLive
	return nil
}
