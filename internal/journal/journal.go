package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bintrader/internal/order"
	"bintrader/internal/report"
	"bintrader/internal/store"
)

// EventType 表示运行日志事件类型。
type EventType string

const (
	EventRunStarted  EventType = "run_started"
	EventOrder       EventType = "order"
	EventSettlement  EventType = "settlement"
	EventRunFinished EventType = "run_finished"
)

// Service 把一次批量执行的过程事件持久化到 SQLite。
// 纯旁路观测：写入失败只告警，核心流程不读回任何数据。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	runID  string
}

// NewService 初始化运行日志服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
		runID:  uuid.NewString(),
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: 初始化表失败: %w", err)
	}
	return nil
}

// RunID 返回本次运行的标识。
func (s *Service) RunID() string {
	return s.runID
}

func (s *Service) record(ctx context.Context, eventType EventType, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("序列化运行事件失败", zap.Error(err))
		return
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		s.runID, string(eventType), string(raw), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.logger.Warn("写入运行事件失败",
			zap.String("event_type", string(eventType)),
			zap.Error(err),
		)
	}
}

// RunStarted 记录运行开始及期初余额。
func (s *Service) RunStarted(ctx context.Context, planSize int, initial decimal.Decimal) {
	s.record(ctx, EventRunStarted, map[string]interface{}{
		"plan_size":       planSize,
		"initial_balance": initial,
	})
}

// OrderRecorded 记录单笔订单的提交或拒绝。
func (s *Service) OrderRecorded(ctx context.Context, o order.Order) {
	s.record(ctx, EventOrder, o)
}

// OrderSettled 记录单笔订单的终态。
func (s *Service) OrderSettled(ctx context.Context, o order.Order) {
	s.record(ctx, EventSettlement, o)
}

// RunFinished 记录完整对账摘要。
func (s *Service) RunFinished(ctx context.Context, r report.RunReport) {
	s.record(ctx, EventRunFinished, r)
}

// ListEvents 按类型检索最近事件，主要供排障使用。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT payload FROM run_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]json.RawMessage, 0, limit)
	for rows.Next() {
		var payload string
		if scanErr := rows.Scan(&payload); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}
		events = append(events, json.RawMessage(payload))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}
