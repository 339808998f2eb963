package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trades-rl/internal/config"
	"trades-rl/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 训练全部交易者并执行回测。开启监控接口时，训练结束后继续提供查询直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("process", a.cfg.Market.Process),
		zap.String("pool", a.cfg.Player.Pool),
		zap.Int("agents", a.cfg.App.Agents),
	)

	orch, err := newOrchestrator(orchestratorConfig{
		app:       a.cfg.App,
		market:    a.cfg.Market,
		player:    a.cfg.Player,
		utility:   a.cfg.Utility,
		rwm:       a.cfg.RWM,
		ftpl:      a.cfg.FTPL,
		cos:       a.cfg.COS,
		regressor: a.cfg.Regressor,
		training:  a.cfg.Training,
		backtest:  a.cfg.Backtest,
		monitor:   a.cfg.Monitor,
	}, a.logger, a.store)
	if err != nil {
		return err
	}

	if a.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, orch.Monitor(), orch.Metrics(), a.cfg.Monitor.Port, a.logger); err != nil {
			return err
		}
	}

	if err := orch.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("系统收到退出信号，训练中止")
			return nil
		}
		return fmt.Errorf("训练失败: %w", err)
	}
	a.logger.Info("训练完成")

	if !a.cfg.Monitor.Enabled {
		return nil
	}
	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
