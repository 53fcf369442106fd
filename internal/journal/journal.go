// Package journal 把执行结果与结算事件追加写入 SQLite，供状态 API 查询
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/gosignal/internal/domain"
	"github.com/betbot/gosignal/internal/executor"
)

const (
	writeTimeout = 5 * time.Second
	// 定长时间格式，保证按字符串排序即按时间排序
	tsLayout = "2006-01-02T15:04:05.000000000Z"
)

// ExecutionRecord 执行日志行
type ExecutionRecord struct {
	ID       string          `json:"id"`
	At       time.Time       `json:"at"`
	Mode     string          `json:"mode"`
	Strategy string          `json:"strategy"`
	MarketID string          `json:"market_id"`
	Success  bool            `json:"success"`
	Reason   string          `json:"reason,omitempty"`
	OrderIDs []string        `json:"order_ids"`
	Fills    int             `json:"fills"`
	Notional decimal.Decimal `json:"notional"`
	Error    string          `json:"error,omitempty"`
}

// Filter 执行日志查询条件；零值表示不过滤
type Filter struct {
	Strategy    string
	MarketID    string
	OnlyFailure bool
	Limit       int
}

// Journal SQLite 执行日志
type Journal struct {
	db *sql.DB
}

// Open 打开（必要时创建）日志库；path 为 ":memory:" 时使用内存库
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS executions (
  id TEXT PRIMARY KEY,
  ts TEXT NOT NULL,
  mode TEXT NOT NULL,
  strategy TEXT NOT NULL,
  market_id TEXT NOT NULL,
  success INTEGER NOT NULL,
  reason TEXT,
  order_ids TEXT NOT NULL,
  fills INTEGER NOT NULL,
  notional TEXT NOT NULL,
  error TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_ts ON executions(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_strategy ON executions(strategy, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS resolutions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  market_id TEXT NOT NULL,
  question TEXT,
  winning_outcome TEXT NOT NULL,
  resolved_at TEXT NOT NULL,
  affected TEXT NOT NULL,
  redeemable TEXT NOT NULL,
  realized_pnl TEXT NOT NULL,
  recorded_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_resolutions_market ON resolutions(market_id);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordExecution 追加一条执行结果，满足 executor.Journal
func (j *Journal) RecordExecution(res executor.ExecutionResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	ids, err := json.Marshal(orEmpty(res.OrderIDs))
	if err != nil {
		return err
	}
	notional := decimal.Zero
	for _, f := range res.Fills {
		notional = notional.Add(f.Price.Mul(f.Size))
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO executions (id, ts, mode, strategy, market_id, success, reason, order_ids, fills, notional, error)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, res.ID, res.At.UTC().Format(tsLayout), res.Mode, res.Strategy, res.MarketID,
		boolInt(res.Success), res.Reason, string(ids), len(res.Fills), notional.String(), res.Error)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", res.ID, err)
	}
	return nil
}

// RecordResolution 追加一条结算事件
func (j *Journal) RecordResolution(ev domain.ResolutionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	affected, err := json.Marshal(orEmpty(ev.AffectedPositions))
	if err != nil {
		return err
	}
	redeemable, err := json.Marshal(orEmpty(ev.Redeemable))
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO resolutions (market_id, question, winning_outcome, resolved_at, affected, redeemable, realized_pnl, recorded_at)
VALUES (?,?,?,?,?,?,?,?)
`, ev.MarketID, ev.Question, ev.WinningOutcome, ev.ResolvedAt.UTC().Format(tsLayout),
		string(affected), string(redeemable), ev.RealizedPnL.String(), time.Now().UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("insert resolution %s: %w", ev.MarketID, err)
	}
	return nil
}

// Executions 按时间倒序列出执行日志
func (j *Journal) Executions(ctx context.Context, f Filter) ([]ExecutionRecord, error) {
	if f.Limit <= 0 || f.Limit > 2000 {
		f.Limit = 200
	}
	query := `
SELECT id, ts, mode, strategy, market_id, success, reason, order_ids, fills, notional, error
FROM executions
WHERE 1=1`
	var args []any
	if f.Strategy != "" {
		query += ` AND strategy=?`
		args = append(args, f.Strategy)
	}
	if f.MarketID != "" {
		query += ` AND market_id=?`
		args = append(args, f.MarketID)
	}
	if f.OnlyFailure {
		query += ` AND success=0`
	}
	query += ` ORDER BY ts DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			rec      ExecutionRecord
			ts       string
			success  int
			reason   sql.NullString
			ids      string
			notional string
			errText  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Mode, &rec.Strategy, &rec.MarketID, &success,
			&reason, &ids, &rec.Fills, &notional, &errText); err != nil {
			return nil, err
		}
		rec.At, _ = time.Parse(tsLayout, ts)
		rec.Success = success == 1
		rec.Reason = reason.String
		rec.Error = errText.String
		_ = json.Unmarshal([]byte(ids), &rec.OrderIDs)
		rec.Notional, _ = decimal.NewFromString(notional)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Resolutions 按结算时间倒序列出结算事件
func (j *Journal) Resolutions(ctx context.Context, limit int) ([]domain.ResolutionEvent, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT market_id, question, winning_outcome, resolved_at, affected, redeemable, realized_pnl
FROM resolutions
ORDER BY resolved_at DESC, id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ResolutionEvent
	for rows.Next() {
		var (
			ev         domain.ResolutionEvent
			question   sql.NullString
			resolvedAt string
			affected   string
			redeemable string
			pnl        string
		)
		if err := rows.Scan(&ev.MarketID, &question, &ev.WinningOutcome, &resolvedAt, &affected, &redeemable, &pnl); err != nil {
			return nil, err
		}
		ev.Question = question.String
		ev.ResolvedAt, _ = time.Parse(tsLayout, resolvedAt)
		_ = json.Unmarshal([]byte(affected), &ev.AffectedPositions)
		_ = json.Unmarshal([]byte(redeemable), &ev.Redeemable)
		ev.RealizedPnL, _ = decimal.NewFromString(pnl)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FailureCounts 按失败原因汇总
func (j *Journal) FailureCounts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT reason, COUNT(*)
FROM executions
WHERE success=0
GROUP BY reason
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			reason sql.NullString
			n      int
		)
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[reason.String] = n
	}
	return out, rows.Err()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
