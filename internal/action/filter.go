package action

import (
	"errors"
	"fmt"
	"slices"
)

// ErrDegenerateActionSet 表示过滤后没有任何合法动作。
var ErrDegenerateActionSet = errors.New("action: degenerate action set")

// Bounds 为仓位允许的闭区间。
type Bounds struct {
	Low  int
	High int
}

// Contains 判断仓位是否位于区间内。
func (b Bounds) Contains(position int) bool {
	return b.Low <= position && position <= b.High
}

// Validate 在配置阶段校验动作集：必须包含 0 且 0 仓位位于区间内，
// 这样从任何合法仓位出发至少有一个合法动作。
func Validate(actions []int, bounds Bounds) error {
	if len(actions) == 0 {
		return fmt.Errorf("%w: 动作集为空", ErrDegenerateActionSet)
	}
	if bounds.Low > bounds.High {
		return fmt.Errorf("%w: 仓位下限 %d 大于上限 %d", ErrDegenerateActionSet, bounds.Low, bounds.High)
	}
	if !slices.Contains(actions, 0) {
		return fmt.Errorf("%w: 动作集必须包含 0", ErrDegenerateActionSet)
	}
	if !bounds.Contains(0) {
		return fmt.Errorf("%w: 空仓 0 不在区间 [%d,%d] 内", ErrDegenerateActionSet, bounds.Low, bounds.High)
	}
	return nil
}

// Legal 返回保持 position+a 位于区间内的动作，保持原有顺序。
func Legal(position int, actions []int, bounds Bounds) ([]int, error) {
	legal := make([]int, 0, len(actions))
	for _, a := range actions {
		if bounds.Contains(position + a) {
			legal = append(legal, a)
		}
	}
	if len(legal) == 0 {
		return nil, fmt.Errorf("%w: position=%d", ErrDegenerateActionSet, position)
	}
	return legal, nil
}
