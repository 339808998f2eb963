package backtest

import (
	"trades-rl/internal/ledger"
	"trades-rl/internal/player"
	"trades-rl/internal/pricing"
)

// Trader 为被回测的交易者，回测前会被切换到新的价格源。
type Trader interface {
	Rebase(source pricing.Source) error
	Step(epsilon float64) (player.StepResult, error)
	Ledger() *ledger.Ledger
}

// SourceFactory 为每次回测生成一个全新的价格源。
type SourceFactory func() (pricing.Source, error)

// SeriesSource 返回按固定序列回放价格的 SourceFactory。
func SeriesSource(start int, prices []float64) SourceFactory {
	return func() (pricing.Source, error) {
		return pricing.NewSeries(start, prices)
	}
}
