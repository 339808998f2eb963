package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trades-rl/internal/backtest"
	"trades-rl/internal/config"
	"trades-rl/internal/expert"
	"trades-rl/internal/log"
	"trades-rl/internal/monitor"
	"trades-rl/internal/player"
	"trades-rl/internal/policy"
	"trades-rl/internal/pricing"
	"trades-rl/internal/regressor"
	"trades-rl/internal/store"
	"trades-rl/internal/utility"
)

// 每个交易者占用的随机流数量：价格、专家池、策略、回测价格。
const streamsPerAgent = 4

type agent struct {
	id      int
	player  *player.Player
	sources backtest.SourceFactory
	cost    utility.CostFunc
	logger  *zap.Logger
}

type orchestrator struct {
	agents   []*agent
	training config.TrainingConfig
	backtest config.BacktestConfig
	archive  bool
	monitor  *monitor.Service
	metrics  *monitor.Recorder
	logger   *zap.Logger
}

func (o *orchestrator) Monitor() *monitor.Service {
	return o.monitor
}

func (o *orchestrator) Metrics() *monitor.Recorder {
	return o.metrics
}

type orchestratorConfig struct {
	app       config.AppConfig
	market    config.MarketConfig
	player    config.PlayerConfig
	utility   config.UtilityConfig
	rwm       config.RWMConfig
	ftpl      config.FTPLConfig
	cos       config.COSConfig
	regressor config.RegressorConfig
	training  config.TrainingConfig
	backtest  config.BacktestConfig
	monitor   config.MonitorConfig
}

func newOrchestrator(cfg orchestratorConfig, logger *zap.Logger, store *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	agents := make([]*agent, 0, cfg.app.Agents)
	for i := 0; i < cfg.app.Agents; i++ {
		a, err := newAgent(i, cfg, log.ForAgent(logger, i))
		if err != nil {
			return nil, fmt.Errorf("初始化交易者 %d 失败: %w", i, err)
		}
		agents = append(agents, a)
	}

	return &orchestrator{
		agents:   agents,
		training: cfg.training,
		backtest: cfg.backtest,
		archive:  cfg.monitor.ArchiveLedger,
		monitor:  monitorSvc,
		metrics:  monitor.NewRecorder(),
		logger:   logger,
	}, nil
}

func newAgent(id int, cfg orchestratorConfig, logger *zap.Logger) (*agent, error) {
	base := uint64(id) * streamsPerAgent
	seed := cfg.app.Seed

	source, err := newSource(cfg.market, pricing.NewRand(seed, base))
	if err != nil {
		return nil, err
	}

	pool, err := newPool(cfg, pricing.NewRand(seed, base+1), logger)
	if err != nil {
		return nil, err
	}

	pol, err := policy.NewEpsilonGreedy(pool, pricing.NewRand(seed, base+2))
	if err != nil {
		return nil, err
	}

	cost := utility.TradingCost(cfg.utility.CostMultiplier, cfg.utility.TickSize)
	p, err := player.New(player.Config{
		Actions:  cfg.player.Actions,
		Bounds:   cfg.player.Bounds(),
		Gamma:    cfg.player.Gamma,
		Feedback: cfg.player.Feedback,
	}, source, pol, utility.Quadratic(cfg.utility.RiskAversion), cost, logger)
	if err != nil {
		return nil, err
	}

	backtestRand := pricing.NewRand(seed, base+3)
	sources := func() (pricing.Source, error) {
		return newSource(cfg.market, backtestRand)
	}
	return &agent{
		id:      id,
		player:  p,
		sources: sources,
		cost:    cost,
		logger:  logger,
	}, nil
}

func newSource(m config.MarketConfig, rng *rand.Rand) (pricing.Source, error) {
	bounds := pricing.Range{Min: m.MinPrice, Max: m.MaxPrice}
	switch m.Process {
	case config.ProcessOU:
		src, err := pricing.NewOU(pricing.OUParams{
			StartTime:  m.StartTime,
			StartPrice: m.StartPrice,
			Theta:      m.Theta,
			Mu:         m.Mu,
			Sigma:      m.Sigma,
			Range:      bounds,
		}, rng)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.ProcessMixture:
		src, err := pricing.NewMixture(pricing.MixtureParams{
			StartTime:     m.StartTime,
			StartPrice:    m.StartPrice,
			Anchors:       m.Anchors,
			Scales:        m.Scales,
			Probabilities: m.Probabilities,
			RegimeLength:  m.RegimeLength,
			Theta:         m.Theta,
			Mu:            m.Mu,
			Sigma:         m.Sigma,
			Range:         bounds,
		}, rng)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.ProcessGBM:
		src, err := pricing.NewGBM(pricing.GBMParams{
			StartTime:  m.StartTime,
			StartPrice: m.StartPrice,
			Drift:      m.Drift,
			Volatility: m.Volatility,
			Range:      bounds,
		}, rng)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("不支持的价格过程 %q", m.Process)
	}
}

func newPool(cfg orchestratorConfig, rng *rand.Rand, logger *zap.Logger) (expert.Pool, error) {
	reg := regressor.NewGradientBoosting(regressor.BoostingConfig{
		Estimators:      cfg.regressor.Estimators,
		MaxDepth:        cfg.regressor.MaxDepth,
		LearningRate:    cfg.regressor.LearningRate,
		MinSamplesSplit: cfg.regressor.MinSamplesSplit,
	})
	switch cfg.player.Pool {
	case config.PoolRWM:
		pool, err := expert.NewRWM(expert.RWMConfig{Beta: cfg.rwm.Beta, Capacity: cfg.rwm.Capacity}, reg, rng, logger)
		if err != nil {
			return nil, err
		}
		return pool, nil
	case config.PoolFTPL:
		pool, err := expert.NewFTPL(expert.FTPLConfig{
			Epsilon:     cfg.ftpl.Epsilon,
			Capacity:    cfg.ftpl.Capacity,
			TopFraction: cfg.ftpl.TopFraction,
		}, reg, rng, logger)
		if err != nil {
			return nil, err
		}
		return pool, nil
	case config.PoolSLA:
		pool, err := expert.NewSLA(reg, rng, logger)
		if err != nil {
			return nil, err
		}
		return pool, nil
	case config.PoolCOS:
		pool, err := expert.NewCOS(expert.COSConfig{Scale: cfg.cos.Scale}, reg, rng, logger)
		if err != nil {
			return nil, err
		}
		return pool, nil
	default:
		return nil, fmt.Errorf("不支持的专家池 %q", cfg.player.Pool)
	}
}

// Run 并行训练所有交易者，任一交易者失败时取消其余交易者。
func (o *orchestrator) Run(ctx context.Context) error {
	o.logger.Info("开始训练",
		zap.Int("agents", len(o.agents)),
		zap.Int("iterations", o.training.Iterations),
		zap.Int("steps", o.training.Steps),
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, a := range o.agents {
		group.Go(func() error {
			return o.runAgent(groupCtx, a)
		})
	}
	return group.Wait()
}

func (o *orchestrator) runAgent(ctx context.Context, a *agent) error {
	for it := 0; it < o.training.Iterations; it++ {
		epsilon := policy.Anneal(o.training.EpsilonStart, o.training.EpsilonDecay, it)
		if err := o.trainIteration(ctx, a, it, epsilon); err != nil {
			if !errors.Is(err, context.Canceled) {
				o.metrics.RecordError("train")
				o.monitor.RecordError(ctx, "训练失败", err, map[string]interface{}{"agent": a.id, "iteration": it})
			}
			return err
		}
	}

	if !o.backtest.Enabled {
		return nil
	}
	return o.runBacktest(ctx, a)
}

// trainIteration 以给定探索率交易若干步，归档账本后重训练专家池。
func (o *orchestrator) trainIteration(ctx context.Context, a *agent, iteration int, epsilon float64) error {
	utilities := make([]float64, 0, o.training.Steps)
	var (
		explored int
		total    float64
		last     player.StepResult
	)
	for step := 0; step < o.training.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := a.player.Step(epsilon)
		if err != nil {
			return err
		}
		utilities = append(utilities, res.Utility)
		total += res.Utility
		if res.Explored {
			explored++
		}
		last = res
	}

	sharpe := backtest.UtilitySharpe(utilities, o.training.UtilityInitial, o.training.SharpeFactor)
	a.logger.Info("训练轮次完成",
		zap.Int("iteration", iteration),
		zap.Float64("epsilon", epsilon),
		zap.Float64("total_utility", total),
		zap.Float64("utility_sharpe", sharpe),
		zap.Int("explored", explored),
	)
	summary := monitor.IterationPayload{
		Agent:         a.id,
		Iteration:     iteration,
		Epsilon:       epsilon,
		Steps:         len(utilities),
		Explored:      explored,
		TotalUtility:  total,
		UtilitySharpe: sharpe,
		Position:      last.NextPosition,
	}
	o.monitor.RecordIteration(ctx, summary)
	o.metrics.RecordIteration(summary)

	if o.archive {
		if err := o.monitor.ArchiveLedger(ctx, a.id, iteration, a.player.Ledger().Entries()); err != nil {
			a.logger.Warn("归档账本失败", zap.Error(err))
		}
	}

	started := time.Now()
	result, err := a.player.Retrain(o.training.Window)
	if err != nil {
		return err
	}
	retrain := monitor.RetrainPayload{
		Agent:     a.id,
		Iteration: iteration,
		Samples:   result.Samples,
		ExpertID:  result.Report.ExpertID,
		Evicted:   result.Report.Evicted,
		Saturated: result.Report.Saturated,
		PoolSize:  result.Report.Size,
		RSquared:  result.Report.RSquared,
	}
	o.monitor.RecordRetrain(ctx, retrain)
	o.metrics.RecordRetrain(retrain, time.Since(started).Seconds())
	return nil
}

func (o *orchestrator) runBacktest(ctx context.Context, a *agent) error {
	engine, err := backtest.NewEngine(backtest.Config{
		Steps:               o.backtest.Steps,
		Epsilon:             o.backtest.Epsilon,
		InitialValue:        o.backtest.InitialValue,
		AnnualizationFactor: o.backtest.AnnualizationFactor,
	}, a.player, a.sources, a.cost, a.logger)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			o.metrics.RecordError("backtest")
			o.monitor.RecordError(ctx, "回测失败", err, map[string]interface{}{"agent": a.id})
		}
		return err
	}
	report := monitor.BacktestPayload{
		Agent:      a.id,
		Steps:      result.Steps,
		Trades:     result.Trades,
		FinalValue: result.FinalValue,
		Metrics:    result.Metrics,
	}
	o.monitor.RecordBacktest(ctx, report)
	o.metrics.RecordBacktest(report)
	return nil
}
