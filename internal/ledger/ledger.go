package ledger

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	// ErrEmptyLedger 表示账本中尚无任何状态记录。
	ErrEmptyLedger = errors.New("ledger: empty ledger")
	// ErrKeyNotFound 表示在写入派生字段前该时间步的状态尚未记录。
	ErrKeyNotFound = errors.New("ledger: key not found")
)

// NoExpert 表示该步没有跟随任何专家的建议。
const NoExpert = -1

// Entry 为单个时间步的记录。
//
// Step 处记录的是到达该步时的状态；Action 与 Utility 描述的是 Step → Step+1
// 这一转移，即在 Step 处做出的动作及其在下一步实现的效用。
type Entry struct {
	Step     int     `json:"step"`
	Price    float64 `json:"price"`
	Position int     `json:"position"`

	Action      int     `json:"action"`
	Utility     float64 `json:"utility"`
	ExpertID    int     `json:"expert_id"`
	HasAction   bool    `json:"has_action"`
	HasUtility  bool    `json:"has_utility"`
	HasExpertID bool    `json:"has_expert_id"`
}

// Transition 缓存一次交易步产生的全部写入，由 Commit 原子地应用。
type Transition struct {
	From     int
	Action   int
	Utility  float64
	ExpertID int

	To       int
	Price    float64
	Position int
}

// Ledger 按时间步保存状态、动作与效用，键严格按升序遍历。
type Ledger struct {
	entries map[int]*Entry
	keys    []int
}

// New 创建空账本。
func New() *Ledger {
	return &Ledger{entries: make(map[int]*Entry)}
}

// RecordState 写入（或覆盖）时间步 t 的状态，覆盖时丢弃旧的派生字段。
func (l *Ledger) RecordState(t int, price float64, position int) {
	if _, ok := l.entries[t]; !ok {
		idx, _ := slices.BinarySearch(l.keys, t)
		l.keys = slices.Insert(l.keys, idx, t)
	}
	l.entries[t] = &Entry{Step: t, Price: price, Position: position, ExpertID: NoExpert}
}

// RecordAction 为已记录状态的时间步附加动作。
func (l *Ledger) RecordAction(t int, action int) error {
	entry, err := l.lookup(t)
	if err != nil {
		return err
	}
	entry.Action = action
	entry.HasAction = true
	return nil
}

// RecordUtility 为已记录状态的时间步附加效用。
func (l *Ledger) RecordUtility(t int, utility float64) error {
	entry, err := l.lookup(t)
	if err != nil {
		return err
	}
	entry.Utility = utility
	entry.HasUtility = true
	return nil
}

// RecordExpertID 为已记录状态的时间步附加专家编号。
func (l *Ledger) RecordExpertID(t int, id int) error {
	entry, err := l.lookup(t)
	if err != nil {
		return err
	}
	entry.ExpertID = id
	entry.HasExpertID = true
	return nil
}

// Commit 校验后一次性写入一个交易步的全部字段，校验失败时账本保持不变。
func (l *Ledger) Commit(tr Transition) error {
	if _, err := l.lookup(tr.From); err != nil {
		return err
	}
	if tr.To <= tr.From {
		return fmt.Errorf("ledger: 目标时间步 %d 必须大于起始时间步 %d", tr.To, tr.From)
	}

	from := l.entries[tr.From]
	from.Action, from.HasAction = tr.Action, true
	from.Utility, from.HasUtility = tr.Utility, true
	from.ExpertID, from.HasExpertID = tr.ExpertID, true

	l.RecordState(tr.To, tr.Price, tr.Position)
	return nil
}

// MostRecent 返回键最大的状态。
func (l *Ledger) MostRecent() (int, float64, int, error) {
	if len(l.keys) == 0 {
		return 0, 0, 0, ErrEmptyLedger
	}
	entry := l.entries[l.keys[len(l.keys)-1]]
	return entry.Step, entry.Price, entry.Position, nil
}

// ClearToLatest 仅保留最近一步的状态（保持原时间步），其余历史全部丢弃。
// 调用方必须在此之前把需要的历史转换为训练数据。
func (l *Ledger) ClearToLatest() error {
	t, price, position, err := l.MostRecent()
	if err != nil {
		return err
	}
	l.entries = make(map[int]*Entry, 1)
	l.keys = l.keys[:0]
	l.RecordState(t, price, position)
	return nil
}

// OrderedEntries 按时间步升序惰性遍历记录，可重复遍历。
func (l *Ledger) OrderedEntries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, k := range slices.Clone(l.keys) {
			entry, ok := l.entries[k]
			if !ok {
				continue
			}
			if !yield(*entry) {
				return
			}
		}
	}
}

// Entries 返回按升序排列的记录副本。
func (l *Ledger) Entries() []Entry {
	return slices.Collect(l.OrderedEntries())
}

// Get 返回时间步 t 的记录。
func (l *Ledger) Get(t int) (Entry, bool) {
	entry, ok := l.entries[t]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Len 返回记录条数。
func (l *Ledger) Len() int {
	return len(l.keys)
}

func (l *Ledger) lookup(t int) (*Entry, error) {
	entry, ok := l.entries[t]
	if !ok {
		return nil, fmt.Errorf("%w: step=%d", ErrKeyNotFound, t)
	}
	return entry, nil
}
