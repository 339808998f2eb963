package backtest

import (
	"trades-rl/internal/utility"
)

// Row 为账本中一个时间步对应的组合快照。
type Row struct {
	Step     int
	Price    float64
	Position int
	Stock    float64
	Cash     float64
	Value    float64
	Cost     float64
}

// Simulator 按账本顺序回放价格与仓位，计算股票市值、现金与总价值。
// 调仓按上一步价格成交，现金同时扣除交易成本。
type Simulator struct {
	cost    utility.CostFunc
	cash    float64
	rows    []Row
	trades  int
	started bool

	lastPrice    float64
	lastPosition int
}

func NewSimulator(initialValue float64, cost utility.CostFunc) *Simulator {
	if initialValue <= 0 {
		initialValue = 1e5
	}
	return &Simulator{cost: cost, cash: initialValue}
}

// Advance 记录时间步 step 的价格与仓位。
func (s *Simulator) Advance(step int, price float64, position int) {
	var fee float64
	if s.started {
		delta := position - s.lastPosition
		if delta != 0 {
			s.trades++
			fee = s.cost(delta)
		}
		s.cash -= s.lastPrice*float64(delta) + fee
	}
	stock := price * float64(position)
	s.rows = append(s.rows, Row{
		Step:     step,
		Price:    price,
		Position: position,
		Stock:    stock,
		Cash:     s.cash,
		Value:    stock + s.cash,
		Cost:     fee,
	})
	s.started = true
	s.lastPrice = price
	s.lastPosition = position
}

func (s *Simulator) Rows() []Row {
	return append([]Row(nil), s.rows...)
}

func (s *Simulator) TradeCount() int {
	return s.trades
}

// Value 返回最新总价值。
func (s *Simulator) Value() float64 {
	if len(s.rows) == 0 {
		return s.cash
	}
	return s.rows[len(s.rows)-1].Value
}
