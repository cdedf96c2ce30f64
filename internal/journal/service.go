package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"set-portfolio/internal/backtest"
	"set-portfolio/internal/optimize"
	"set-portfolio/internal/store"
	"set-portfolio/internal/upside"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`

// Service 负责持久化运行事件，写入失败只记录日志不影响主流程。
type Service struct {
	db     *sql.DB
	runID  string
	logger *zap.Logger
}

// NewService 初始化运行日志，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, schema); err != nil {
		return nil, fmt.Errorf("journal: 初始化表失败: %w", err)
	}

	return &Service{
		db:     st.DB(),
		runID:  time.Now().UTC().Format("20060102T150405.000000000"),
		logger: logger,
	}, nil
}

// RunID 返回本次运行的标识。
func (s *Service) RunID() string {
	return s.runID
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RunID == "" {
		event.RunID = s.runID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.RunID, string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, typ EventType, payload interface{}) {
	if err := s.Record(ctx, Event{Type: typ, Payload: payload}); err != nil {
		s.logger.Warn("记录运行事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

// RecordAllocation 记录最新一期分配。
func (s *Service) RecordAllocation(ctx context.Context, payload AllocationPayload) {
	s.record(ctx, EventAllocation, payload)
}

// RecordPerformance 记录优化结果。
func (s *Service) RecordPerformance(ctx context.Context, perf optimize.Performance, weights optimize.Weights) {
	positive := make(map[string]float64, len(weights))
	for _, sym := range weights.Positive() {
		positive[sym] = weights[sym]
	}
	s.record(ctx, EventPerformance, PerformancePayload{Performance: perf, Weights: positive})
}

// RecordBacktest 记录回测汇总。
func (s *Service) RecordBacktest(ctx context.Context, cfg backtest.Config, result backtest.Result) {
	s.record(ctx, EventBacktestSummary, BacktestSummaryPayload{
		HoldingDays:     cfg.HoldingDays,
		IncludeLeftover: cfg.IncludeLeftover,
		Warnings:        len(result.Warnings),
		Metrics:         result.Metrics,
	})
}

// RecordGainWarning 记录单只股票的异常收益，供回测引擎回调。
func (s *Service) RecordGainWarning(ctx context.Context, warning backtest.GainWarning) {
	s.record(ctx, EventGainWarning, warning)
}

// RecordUpside 记录目标价筛选结果。
func (s *Service) RecordUpside(ctx context.Context, requested int, report upside.Report) {
	rows := make([]UpsideEntry, 0, len(report.Rows))
	for _, row := range report.Rows {
		rows = append(rows, UpsideEntry{Symbol: row.Symbol, UpsidePct: row.UpsidePct})
	}
	s.record(ctx, EventUpsideRanking, UpsideRankingPayload{
		Requested: requested,
		Fetched:   report.Fetched,
		Failed:    len(report.Failures),
		Rows:      rows,
	})
}

// RecordFetchFailure 记录行情获取失败。
func (s *Service) RecordFetchFailure(ctx context.Context, stage string, err error) {
	s.record(ctx, EventFetchFailure, FetchFailurePayload{Stage: stage, Error: err.Error()})
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	s.record(ctx, EventError, ErrorPayload{Message: msg, Error: err.Error(), Context: ctxMap})
}

// ListEvents 按类型检索最近事件，eventType 为空时返回全部类型。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT run_id, event_type, payload, created_at FROM run_events`
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

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			runID   string
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&runID, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			RunID:     runID,
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}

