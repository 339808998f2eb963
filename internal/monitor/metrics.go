package monitor

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 以 Prometheus 指标暴露训练进度，每个 Recorder 使用独立的注册表。
type Recorder struct {
	registry *prometheus.Registry

	steps           *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	epsilon         *prometheus.GaugeVec
	iterUtility     *prometheus.GaugeVec
	utilitySharpe   *prometheus.GaugeVec
	poolSize        *prometheus.GaugeVec
	rSquared        *prometheus.GaugeVec
	backtestSharpe  *prometheus.GaugeVec
	retrainDuration *prometheus.HistogramVec
}

// NewRecorder 创建指标记录器。
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	agent := []string{"agent"}

	return &Recorder{
		registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_rl_steps_total",
			Help: "Total number of trading steps taken",
		}, agent),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_rl_errors_total",
			Help: "Total number of errors encountered",
		}, []string{"kind"}),
		epsilon: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trades_rl_epsilon",
			Help: "Exploration rate of the current iteration",
		}, agent),
		iterUtility: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trades_rl_iteration_utility",
			Help: "Total realized utility of the last iteration",
		}, agent),
		utilitySharpe: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trades_rl_utility_sharpe",
			Help: "Annualized Sharpe ratio of realized utility in the last iteration",
		}, agent),
		poolSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trades_rl_pool_size",
			Help: "Number of experts in the pool",
		}, agent),
		rSquared: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trades_rl_retrain_r_squared",
			Help: "In-sample R squared of the most recent expert",
		}, agent),
		backtestSharpe: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trades_rl_backtest_sharpe",
			Help: "Sharpe ratio of the last backtest",
		}, agent),
		retrainDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trades_rl_retrain_duration_seconds",
			Help:    "Duration of expert pool retraining in seconds",
			Buckets: prometheus.DefBuckets,
		}, agent),
	}
}

// Handler 返回 /metrics 处理器。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordIteration 更新一轮训练的指标。
func (r *Recorder) RecordIteration(p IterationPayload) {
	label := strconv.Itoa(p.Agent)
	r.steps.WithLabelValues(label).Add(float64(p.Steps))
	r.epsilon.WithLabelValues(label).Set(p.Epsilon)
	r.iterUtility.WithLabelValues(label).Set(p.TotalUtility)
	r.utilitySharpe.WithLabelValues(label).Set(p.UtilitySharpe)
}

// RecordRetrain 更新重训练指标。
func (r *Recorder) RecordRetrain(p RetrainPayload, seconds float64) {
	label := strconv.Itoa(p.Agent)
	r.poolSize.WithLabelValues(label).Set(float64(p.PoolSize))
	if !p.Saturated {
		r.rSquared.WithLabelValues(label).Set(p.RSquared)
	}
	r.retrainDuration.WithLabelValues(label).Observe(seconds)
}

// RecordBacktest 更新回测指标。
func (r *Recorder) RecordBacktest(p BacktestPayload) {
	r.backtestSharpe.WithLabelValues(strconv.Itoa(p.Agent)).Set(p.Metrics.SharpeRatio)
}

// RecordError 累加错误计数。
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
