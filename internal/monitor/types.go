package monitor

import (
	"time"

	"trades-rl/internal/backtest"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventIteration EventType = "iteration"
	EventRetrain   EventType = "retrain"
	EventBacktest  EventType = "backtest"
	EventError     EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// IterationPayload 汇总一轮训练中的交易表现。
type IterationPayload struct {
	Agent         int     `json:"agent"`
	Iteration     int     `json:"iteration"`
	Epsilon       float64 `json:"epsilon"`
	Steps         int     `json:"steps"`
	Explored      int     `json:"explored"`
	TotalUtility  float64 `json:"total_utility"`
	UtilitySharpe float64 `json:"utility_sharpe"`
	Position      int     `json:"position"`
}

// RetrainPayload 记录一次专家池重训练。
type RetrainPayload struct {
	Agent     int     `json:"agent"`
	Iteration int     `json:"iteration"`
	Samples   int     `json:"samples"`
	ExpertID  int     `json:"expert_id"`
	Evicted   int     `json:"evicted"`
	Saturated bool    `json:"saturated"`
	PoolSize  int     `json:"pool_size"`
	RSquared  float64 `json:"r_squared"`
}

// BacktestPayload 记录回测绩效。
type BacktestPayload struct {
	Agent      int              `json:"agent"`
	Steps      int              `json:"steps"`
	Trades     int              `json:"trades"`
	FinalValue float64          `json:"final_value"`
	Metrics    backtest.Metrics `json:"metrics"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
