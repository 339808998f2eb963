package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trades"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.agents", 1)
	v.SetDefault("app.seed", 1)

	v.SetDefault("market.process", ProcessOU)
	v.SetDefault("market.start_time", 0)
	v.SetDefault("market.start_price", 50)
	v.SetDefault("market.theta", math.Ln2/5)
	v.SetDefault("market.mu", 0)
	v.SetDefault("market.sigma", 0.15)
	v.SetDefault("market.min_price", 0)
	v.SetDefault("market.max_price", 100)
	v.SetDefault("market.anchors", []float64{80, 90, 60, 70})
	v.SetDefault("market.scales", []float64{80, 70, 90, 100})
	v.SetDefault("market.probabilities", []float64{0.25, 0.25, 0.25, 0.25})
	v.SetDefault("market.regime_length", 100)
	v.SetDefault("market.drift", 0.005)
	v.SetDefault("market.volatility", 0.01)

	v.SetDefault("player.pool", PoolRWM)
	v.SetDefault("player.actions", []int{-200, -100, 0, 100, 200})
	v.SetDefault("player.min_position", -1000)
	v.SetDefault("player.max_position", 1000)
	v.SetDefault("player.gamma", 0.9)
	v.SetDefault("player.feedback", true)

	v.SetDefault("utility.risk_aversion", 0.0001)
	v.SetDefault("utility.cost_multiplier", 10)
	v.SetDefault("utility.tick_size", 0.1)

	v.SetDefault("rwm.beta", 0.995)
	v.SetDefault("rwm.capacity", 30)

	v.SetDefault("ftpl.epsilon", 0.05)
	v.SetDefault("ftpl.capacity", 15)
	v.SetDefault("ftpl.top_fraction", 0.5)

	v.SetDefault("cos.scale", 1)

	v.SetDefault("regressor.estimators", 100)
	v.SetDefault("regressor.max_depth", 3)
	v.SetDefault("regressor.learning_rate", 0.1)
	v.SetDefault("regressor.min_samples_split", 2)

	v.SetDefault("training.iterations", 20)
	v.SetDefault("training.steps", 10000)
	v.SetDefault("training.window", 0)
	v.SetDefault("training.epsilon_start", 0.5)
	v.SetDefault("training.epsilon_decay", 0.9)
	v.SetDefault("training.utility_initial", 1000)
	v.SetDefault("training.sharpe_factor", 252)

	v.SetDefault("backtest.enabled", true)
	v.SetDefault("backtest.steps", 1000)
	v.SetDefault("backtest.epsilon", 0.01)
	v.SetDefault("backtest.initial_value", 1e5)
	v.SetDefault("backtest.annualization_factor", 250)

	v.SetDefault("database.path", "data/trades_rl.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.port", 8080)
	v.SetDefault("monitor.archive_ledger", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
