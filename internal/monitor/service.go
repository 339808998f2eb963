package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-rl/internal/ledger"
	"trades-rl/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	store  *store.Store
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:  store,
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
CREATE TABLE IF NOT EXISTS ledger_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent INTEGER NOT NULL,
	iteration INTEGER NOT NULL,
	step INTEGER NOT NULL,
	price REAL NOT NULL,
	position INTEGER NOT NULL,
	action INTEGER,
	utility REAL,
	expert_id INTEGER
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_run ON ledger_entries(agent, iteration);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordIteration 记录一轮训练的汇总。
func (s *Service) RecordIteration(ctx context.Context, payload IterationPayload) {
	if err := s.Record(ctx, Event{
		Type:      EventIteration,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录训练轮次事件失败", zap.Error(err))
	}
}

// RecordRetrain 记录专家池重训练。
func (s *Service) RecordRetrain(ctx context.Context, payload RetrainPayload) {
	if err := s.Record(ctx, Event{
		Type:      EventRetrain,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录重训练事件失败", zap.Error(err))
	}
}

// RecordBacktest 记录回测结果。
func (s *Service) RecordBacktest(ctx context.Context, payload BacktestPayload) {
	if err := s.Record(ctx, Event{
		Type:      EventBacktest,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn("记录回测事件失败", zap.Error(err))
	}
}

// ArchiveLedger 在单个事务中归档一轮训练的账本记录，缺失的动作、效用与专家编号写为 NULL。
func (s *Service) ArchiveLedger(ctx context.Context, agent, iteration int, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ledger_entries (agent, iteration, step, price, position, action, utility, expert_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			var (
				act      sql.NullInt64
				util     sql.NullFloat64
				expertID sql.NullInt64
			)
			if e.HasAction {
				act = sql.NullInt64{Int64: int64(e.Action), Valid: true}
			}
			if e.HasUtility {
				util = sql.NullFloat64{Float64: e.Utility, Valid: true}
			}
			if e.HasExpertID && e.ExpertID != ledger.NoExpert {
				expertID = sql.NullInt64{Int64: int64(e.ExpertID), Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, agent, iteration, e.Step, e.Price, e.Position, act, util, expertID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("monitor: 归档账本失败: %w", err)
	}
	return nil
}

// LedgerEntries 读取已归档的某一轮账本，按时间步升序返回。
func (s *Service) LedgerEntries(ctx context.Context, agent, iteration int) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, price, position, action, utility, expert_id FROM ledger_entries WHERE agent = ? AND iteration = ? ORDER BY step ASC`,
		agent, iteration,
	)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询账本失败: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e        ledger.Entry
			act      sql.NullInt64
			util     sql.NullFloat64
			expertID sql.NullInt64
		)
		if err := rows.Scan(&e.Step, &e.Price, &e.Position, &act, &util, &expertID); err != nil {
			return nil, fmt.Errorf("monitor: 解析账本失败: %w", err)
		}
		e.Action, e.HasAction = int(act.Int64), act.Valid
		e.Utility, e.HasUtility = util.Float64, util.Valid
		e.ExpertID = ledger.NoExpert
		if expertID.Valid {
			e.ExpertID, e.HasExpertID = int(expertID.Int64), true
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取账本失败: %w", err)
	}
	return entries, nil
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
