package backtest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trades-rl/internal/pricing"
	"trades-rl/internal/utility"
)

// Result 汇总回测结果。
type Result struct {
	Metrics    Metrics
	Rows       []Row
	Steps      int
	Trades     int
	FinalValue float64
}

// Engine 把交易者切换到新的价格源上以小探索率交易，并根据账本计算绩效。
type Engine struct {
	cfg     Config
	trader  Trader
	sources SourceFactory
	cost    utility.CostFunc
	logger  *zap.Logger
}

// NewEngine 构建回测引擎。
func NewEngine(cfg Config, trader Trader, sources SourceFactory, cost utility.CostFunc, logger *zap.Logger) (*Engine, error) {
	if trader == nil {
		return nil, fmt.Errorf("backtest: trader 不能为空")
	}
	if sources == nil {
		return nil, fmt.Errorf("backtest: 价格源工厂不能为空")
	}
	if cost == nil {
		return nil, fmt.Errorf("backtest: 成本函数不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		cfg:     cfg.normalize(),
		trader:  trader,
		sources: sources,
		cost:    cost,
		logger:  logger,
	}, nil
}

// Run 执行完整回测流程。回测结束后交易者保留在新的价格源上。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	source, err := e.sources()
	if err != nil {
		return Result{}, fmt.Errorf("backtest: 创建价格源失败: %w", err)
	}
	if err := e.trader.Rebase(source); err != nil {
		return Result{}, fmt.Errorf("backtest: 切换价格源失败: %w", err)
	}

	steps := 0
	for steps < e.cfg.Steps {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if _, err := e.trader.Step(e.cfg.Epsilon); err != nil {
			if errors.Is(err, pricing.ErrExhausted) {
				e.logger.Info("价格源已耗尽，提前结束回测", zap.Int("steps", steps))
				break
			}
			return Result{}, err
		}
		steps++
	}

	sim := NewSimulator(e.cfg.InitialValue, e.cost)
	for entry := range e.trader.Ledger().OrderedEntries() {
		sim.Advance(entry.Step, entry.Price, entry.Position)
	}

	rows := sim.Rows()
	metrics := calculateMetrics(rows, e.cfg.AnnualizationFactor)
	e.logger.Info("回测完成",
		zap.Int("steps", steps),
		zap.Int("trades", sim.TradeCount()),
		zap.Float64("final_value", sim.Value()),
		zap.Float64("sharpe", metrics.SharpeRatio),
		zap.Float64("max_drawdown", metrics.MaxDrawdown),
	)
	return Result{
		Metrics:    metrics,
		Rows:       rows,
		Steps:      steps,
		Trades:     sim.TradeCount(),
		FinalValue: sim.Value(),
	}, nil
}
