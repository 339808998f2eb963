package backtest

// Config 定义回测参数。
type Config struct {
	Steps               int     // 回测步数
	Epsilon             float64 // 回测期间的探索率
	InitialValue        float64 // 初始现金
	AnnualizationFactor float64 // 年化因子
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.Steps <= 0 {
		cfg.Steps = 1000
	}
	if cfg.Epsilon < 0 || cfg.Epsilon > 1 {
		cfg.Epsilon = 0.01
	}
	if cfg.InitialValue <= 0 {
		cfg.InitialValue = 1e5
	}
	if cfg.AnnualizationFactor <= 0 {
		cfg.AnnualizationFactor = 250
	}
	return cfg
}
