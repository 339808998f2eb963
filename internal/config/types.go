package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"trades-rl/internal/action"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Market    MarketConfig    `mapstructure:"market"`
	Player    PlayerConfig    `mapstructure:"player"`
	Utility   UtilityConfig   `mapstructure:"utility"`
	RWM       RWMConfig       `mapstructure:"rwm"`
	FTPL      FTPLConfig      `mapstructure:"ftpl"`
	COS       COSConfig       `mapstructure:"cos"`
	Regressor RegressorConfig `mapstructure:"regressor"`
	Training  TrainingConfig  `mapstructure:"training"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Agents      int    `mapstructure:"agents"`
	Seed        uint64 `mapstructure:"seed"`
}

// 价格过程类型。
const (
	ProcessOU      = "ou"
	ProcessMixture = "mixture"
	ProcessGBM     = "gbm"
)

// MarketConfig 描述模拟价格过程。
type MarketConfig struct {
	Process       string    `mapstructure:"process"`
	StartTime     int       `mapstructure:"start_time"`
	StartPrice    float64   `mapstructure:"start_price"`
	Theta         float64   `mapstructure:"theta"`
	Mu            float64   `mapstructure:"mu"`
	Sigma         float64   `mapstructure:"sigma"`
	MinPrice      float64   `mapstructure:"min_price"`
	MaxPrice      float64   `mapstructure:"max_price"`
	Anchors       []float64 `mapstructure:"anchors"`
	Scales        []float64 `mapstructure:"scales"`
	Probabilities []float64 `mapstructure:"probabilities"`
	RegimeLength  int       `mapstructure:"regime_length"`
	Drift         float64   `mapstructure:"drift"`
	Volatility    float64   `mapstructure:"volatility"`
}

// 专家池类型。
const (
	PoolRWM  = "rwm"
	PoolFTPL = "ftpl"
	PoolSLA  = "sla"
	PoolCOS  = "cos"
)

// PlayerConfig 描述交易者的动作空间与学习参数。
type PlayerConfig struct {
	Pool        string  `mapstructure:"pool"`
	Actions     []int   `mapstructure:"actions"`
	MinPosition int     `mapstructure:"min_position"`
	MaxPosition int     `mapstructure:"max_position"`
	Gamma       float64 `mapstructure:"gamma"`
	Feedback    bool    `mapstructure:"feedback"`
}

// Bounds 返回仓位上下界。
func (c PlayerConfig) Bounds() action.Bounds {
	return action.Bounds{Low: c.MinPosition, High: c.MaxPosition}
}

// UtilityConfig 控制效用与交易成本。
type UtilityConfig struct {
	RiskAversion   float64 `mapstructure:"risk_aversion"`
	CostMultiplier float64 `mapstructure:"cost_multiplier"`
	TickSize       float64 `mapstructure:"tick_size"`
}

// RWMConfig 为随机加权多数专家池参数。
type RWMConfig struct {
	Beta     float64 `mapstructure:"beta"`
	Capacity int     `mapstructure:"capacity"`
}

// FTPLConfig 为扰动领导者专家池参数。
type FTPLConfig struct {
	Epsilon     float64 `mapstructure:"epsilon"`
	Capacity    int     `mapstructure:"capacity"`
	TopFraction float64 `mapstructure:"top_fraction"`
}

// COSConfig 为错误计数领导者池参数。
type COSConfig struct {
	Scale float64 `mapstructure:"scale"`
}

// RegressorConfig 为梯度提升回归树参数。
type RegressorConfig struct {
	Estimators      int     `mapstructure:"estimators"`
	MaxDepth        int     `mapstructure:"max_depth"`
	LearningRate    float64 `mapstructure:"learning_rate"`
	MinSamplesSplit int     `mapstructure:"min_samples_split"`
}

// TrainingConfig 控制训练循环。
type TrainingConfig struct {
	Iterations     int     `mapstructure:"iterations"`
	Steps          int     `mapstructure:"steps"`
	Window         int     `mapstructure:"window"`
	EpsilonStart   float64 `mapstructure:"epsilon_start"`
	EpsilonDecay   float64 `mapstructure:"epsilon_decay"`
	UtilityInitial float64 `mapstructure:"utility_initial"`
	SharpeFactor   float64 `mapstructure:"sharpe_factor"`
}

// BacktestConfig 控制训练结束后的回测。
type BacktestConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	Steps               int     `mapstructure:"steps"`
	Epsilon             float64 `mapstructure:"epsilon"`
	InitialValue        float64 `mapstructure:"initial_value"`
	AnnualizationFactor float64 `mapstructure:"annualization_factor"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制事件记录与查询接口。
type MonitorConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Port          int  `mapstructure:"port"`
	ArchiveLedger bool `mapstructure:"archive_ledger"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.Agents <= 0 {
		err = multierr.Append(err, errors.New("app.agents 必须大于0"))
	}

	switch c.Market.Process {
	case ProcessOU, ProcessMixture, ProcessGBM:
	default:
		err = multierr.Append(err, fmt.Errorf("market.process 不支持 %q", c.Market.Process))
	}
	if c.Market.StartPrice <= 0 {
		err = multierr.Append(err, errors.New("market.start_price 必须为正"))
	}
	if c.Market.MaxPrice > 0 && c.Market.MinPrice >= c.Market.MaxPrice {
		err = multierr.Append(err, errors.New("market.min_price 必须小于 max_price"))
	}
	if c.Market.Process == ProcessMixture {
		if len(c.Market.Anchors) == 0 || len(c.Market.Anchors) != len(c.Market.Probabilities) {
			err = multierr.Append(err, errors.New("market.anchors 与 market.probabilities 长度必须一致且非空"))
		}
		if len(c.Market.Scales) > 0 && len(c.Market.Scales) != len(c.Market.Anchors) {
			err = multierr.Append(err, errors.New("market.scales 与 market.anchors 长度必须一致"))
		}
		if c.Market.RegimeLength <= 0 {
			err = multierr.Append(err, errors.New("market.regime_length 必须大于0"))
		}
	}
	if c.Market.Process == ProcessGBM && c.Market.Volatility < 0 {
		err = multierr.Append(err, errors.New("market.volatility 不能为负"))
	}

	switch c.Player.Pool {
	case PoolRWM, PoolFTPL, PoolSLA, PoolCOS:
	default:
		err = multierr.Append(err, fmt.Errorf("player.pool 不支持 %q", c.Player.Pool))
	}
	if verr := action.Validate(c.Player.Actions, c.Player.Bounds()); verr != nil {
		err = multierr.Append(err, fmt.Errorf("player.actions: %w", verr))
	}
	if c.Player.Gamma < 0 || c.Player.Gamma >= 1 {
		err = multierr.Append(err, errors.New("player.gamma 必须位于[0,1)"))
	}

	if c.Utility.RiskAversion < 0 {
		err = multierr.Append(err, errors.New("utility.risk_aversion 不能为负"))
	}
	if c.Utility.CostMultiplier < 0 || c.Utility.TickSize < 0 {
		err = multierr.Append(err, errors.New("utility.cost_multiplier 与 tick_size 不能为负"))
	}

	if c.RWM.Beta <= 0 || c.RWM.Beta > 1 {
		err = multierr.Append(err, errors.New("rwm.beta 必须位于(0,1]"))
	}
	if c.RWM.Capacity <= 0 {
		err = multierr.Append(err, errors.New("rwm.capacity 必须大于0"))
	}
	if c.FTPL.Epsilon <= 0 {
		err = multierr.Append(err, errors.New("ftpl.epsilon 必须为正"))
	}
	if c.FTPL.Capacity <= 0 {
		err = multierr.Append(err, errors.New("ftpl.capacity 必须大于0"))
	}
	if c.FTPL.TopFraction <= 0 || c.FTPL.TopFraction > 1 {
		err = multierr.Append(err, errors.New("ftpl.top_fraction 必须位于(0,1]"))
	}
	if c.COS.Scale <= 0 {
		err = multierr.Append(err, errors.New("cos.scale 必须为正"))
	}

	if c.Regressor.Estimators <= 0 || c.Regressor.MaxDepth <= 0 {
		err = multierr.Append(err, errors.New("regressor.estimators 与 max_depth 必须大于0"))
	}
	if c.Regressor.LearningRate <= 0 || c.Regressor.LearningRate > 1 {
		err = multierr.Append(err, errors.New("regressor.learning_rate 必须位于(0,1]"))
	}
	if c.Regressor.MinSamplesSplit < 2 {
		err = multierr.Append(err, errors.New("regressor.min_samples_split 不能小于2"))
	}

	if c.Training.Iterations <= 0 {
		err = multierr.Append(err, errors.New("training.iterations 必须大于0"))
	}
	// 每轮至少两步才能构造出一条 SARSA 样本。
	if c.Training.Steps < 2 {
		err = multierr.Append(err, errors.New("training.steps 不能小于2"))
	}
	if c.Training.Window < 0 {
		err = multierr.Append(err, errors.New("training.window 不能为负"))
	}
	if c.Training.EpsilonStart < 0 || c.Training.EpsilonStart > 1 {
		err = multierr.Append(err, errors.New("training.epsilon_start 必须位于[0,1]"))
	}
	if c.Training.EpsilonDecay <= 0 || c.Training.EpsilonDecay > 1 {
		err = multierr.Append(err, errors.New("training.epsilon_decay 必须位于(0,1]"))
	}
	if c.Training.UtilityInitial <= 0 || c.Training.SharpeFactor <= 0 {
		err = multierr.Append(err, errors.New("training.utility_initial 与 sharpe_factor 必须为正"))
	}

	if c.Backtest.Enabled {
		if c.Backtest.Steps <= 0 {
			err = multierr.Append(err, errors.New("backtest.steps 必须大于0"))
		}
		if c.Backtest.Epsilon < 0 || c.Backtest.Epsilon > 1 {
			err = multierr.Append(err, errors.New("backtest.epsilon 必须位于[0,1]"))
		}
		if c.Backtest.InitialValue <= 0 {
			err = multierr.Append(err, errors.New("backtest.initial_value 必须为正"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[1,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
