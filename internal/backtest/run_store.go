package backtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"ictagent/internal/pattern"
)

// ResultStore 管理 backtest_runs/trade/snapshot/pattern 表，
// 供可视化层与 HTTP 接口查询。
type ResultStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewResultStore(root string) (*ResultStore, error) {
	if root == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureResultSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &ResultStore{db: db, path: path}, nil
}

func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureResultSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS backtest_runs (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			end_ts INTEGER NOT NULL,
			timeframe TEXT NOT NULL,
			initial_capital REAL NOT NULL,
			final_balance REAL NOT NULL DEFAULT 0,
			profit REAL NOT NULL DEFAULT 0,
			return_pct REAL NOT NULL DEFAULT 0,
			win_rate REAL NOT NULL DEFAULT 0,
			max_drawdown REAL NOT NULL DEFAULT 0,
			trades INTEGER NOT NULL DEFAULT 0,
			config_json TEXT NOT NULL,
			stats_json TEXT,
			message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			size REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			stop_loss REAL,
			take_profit REAL,
			entry_time INTEGER NOT NULL,
			exit_time INTEGER NOT NULL,
			reason TEXT NOT NULL,
			pnl REAL NOT NULL,
			pnl_pct REAL NOT NULL,
			holding_ms INTEGER NOT NULL,
			confidence REAL,
			kinds_json TEXT,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			equity REAL NOT NULL,
			balance REAL NOT NULL,
			drawdown REAL NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS backtest_patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			direction TEXT NOT NULL,
			start_idx INTEGER NOT NULL,
			end_idx INTEGER NOT NULL,
			price_low REAL NOT NULL,
			price_high REAL NOT NULL,
			strength REAL NOT NULL,
			touches INTEGER NOT NULL DEFAULT 0,
			choch INTEGER NOT NULL DEFAULT 0,
			mitigated INTEGER NOT NULL DEFAULT 0,
			mitigated_idx INTEGER NOT NULL DEFAULT -1,
			ts INTEGER NOT NULL,
			FOREIGN KEY(run_id) REFERENCES backtest_runs(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON backtest_trades(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_run ON backtest_snapshots(run_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_run ON backtest_patterns(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := run.MarshalConfig()
	if err != nil {
		return err
	}
	statsJSON, err := run.MarshalStats()
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, symbol, status, start_ts, end_ts, timeframe, initial_capital,
			final_balance, profit, return_pct, win_rate, max_drawdown, trades,
			config_json, stats_json, message, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.Status, run.StartTS, run.EndTS, run.Timeframe,
		run.InitialCapital, run.FinalBalance, run.Profit, run.ReturnPct, run.WinRate,
		run.MaxDrawdownPct, run.Trades, string(cfgJSON), bytesOrNil(statsJSON),
		run.Message, now, now, nullableTime(run.CompletedAt))
	return err
}

func bytesOrNil(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, message=?, updated_at=?, completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`, status, message, now, completed, completed, id)
	return err
}

// UpdateRunSummary 更新状态与汇总指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id string, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	var completed interface{}
	if status == RunStatusDone || status == RunStatusFailed {
		completed = now
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status=?, final_balance=?, profit=?, return_pct=?, win_rate=?, max_drawdown=?,
		    trades=?, stats_json=?, message=?, updated_at=?,
		    completed_at=CASE WHEN ? IS NULL THEN completed_at ELSE ? END
		WHERE id=?`,
		status, stats.FinalBalance, stats.Profit, stats.ReturnPct, stats.WinRate,
		stats.MaxDrawdownPct, stats.Trades, string(statsJSON), message, now,
		completed, completed, id)
	return err
}

// InsertTrades 批量写入平仓记录。
func (s *ResultStore) InsertTrades(ctx context.Context, runID string, trades []Trade) error {
	for _, t := range trades {
		kinds, err := json.Marshal(t.Kinds)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO backtest_trades
				(run_id, direction, size, entry_price, exit_price, stop_loss, take_profit,
				 entry_time, exit_time, reason, pnl, pnl_pct, holding_ms, confidence, kinds_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, string(t.Direction), t.Size, t.EntryPrice, t.ExitPrice, t.StopLoss, t.TakeProfit,
			t.EntryTime, t.ExitTime, string(t.Reason), t.PnL, t.PnLPct, t.HoldingMs, t.Confidence, string(kinds))
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertSnapshots 批量写入资金曲线采样。
func (s *ResultStore) InsertSnapshots(ctx context.Context, runID string, points []EquityPoint) error {
	for _, p := range points {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO backtest_snapshots (run_id, ts, equity, balance, drawdown)
			VALUES (?, ?, ?, ?, ?)`,
			runID, p.TS, p.Equity, p.Balance, p.Drawdown)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertPatterns 批量写入形态实例。
func (s *ResultStore) InsertPatterns(ctx context.Context, runID string, instances []pattern.Instance) error {
	for _, in := range instances {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO backtest_patterns
				(run_id, kind, direction, start_idx, end_idx, price_low, price_high,
				 strength, touches, choch, mitigated, mitigated_idx, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, string(in.Kind), string(in.Direction), in.StartIdx, in.EndIdx,
			in.PriceLow, in.PriceHigh, in.Strength, in.Touches,
			boolToInt(in.ChangeOfCharacter), boolToInt(in.Mitigated), in.MitigatedIdx, in.Time)
		if err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetRun 读取单条 run。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, status, start_ts, end_ts, timeframe, initial_capital,
		       final_balance, profit, return_pct, win_rate, max_drawdown, trades,
		       config_json, stats_json, message, created_at, updated_at, completed_at
		FROM backtest_runs WHERE id=?`, id)
	return scanRun(row)
}

// ListRuns 按创建时间倒序列出。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, status, start_ts, end_ts, timeframe, initial_capital,
		       final_balance, profit, return_pct, win_rate, max_drawdown, trades,
		       config_json, stats_json, message, created_at, updated_at, completed_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run        Run
		cfgJSON    string
		statsJSON  sql.NullString
		message    sql.NullString
		createdAt  int64
		updatedAt  int64
		completed  sql.NullInt64
	)
	err := row.Scan(&run.ID, &run.Symbol, &run.Status, &run.StartTS, &run.EndTS,
		&run.Timeframe, &run.InitialCapital, &run.FinalBalance, &run.Profit,
		&run.ReturnPct, &run.WinRate, &run.MaxDrawdownPct, &run.Trades,
		&cfgJSON, &statsJSON, &message, &createdAt, &updatedAt, &completed)
	if err != nil {
		return Run{}, err
	}
	if err := json.Unmarshal([]byte(cfgJSON), &run.Config); err != nil {
		return Run{}, fmt.Errorf("解析 run %s 配置失败: %w", run.ID, err)
	}
	if statsJSON.Valid && statsJSON.String != "" {
		if err := json.Unmarshal([]byte(statsJSON.String), &run.Stats); err != nil {
			return Run{}, fmt.Errorf("解析 run %s 统计失败: %w", run.ID, err)
		}
	}
	run.Message = message.String
	run.CreatedAt = time.UnixMilli(createdAt)
	run.UpdatedAt = time.UnixMilli(updatedAt)
	if completed.Valid {
		run.CompletedAt = time.UnixMilli(completed.Int64)
	}
	return run, nil
}

// ListTrades 返回某次 run 的平仓记录（按出场时间升序）。
func (s *ResultStore) ListTrades(ctx context.Context, runID string) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, direction, size, entry_price, exit_price, stop_loss, take_profit,
		       entry_time, exit_time, reason, pnl, pnl_pct, holding_ms, confidence, kinds_json
		FROM backtest_trades WHERE run_id=? ORDER BY exit_time ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trade
	for rows.Next() {
		var (
			t         Trade
			direction string
			reason    string
			kindsJSON sql.NullString
		)
		err := rows.Scan(&t.ID, &direction, &t.Size, &t.EntryPrice, &t.ExitPrice,
			&t.StopLoss, &t.TakeProfit, &t.EntryTime, &t.ExitTime, &reason,
			&t.PnL, &t.PnLPct, &t.HoldingMs, &t.Confidence, &kindsJSON)
		if err != nil {
			return nil, err
		}
		t.RunID = runID
		t.Direction = pattern.Direction(direction)
		t.Reason = ExitReason(reason)
		if kindsJSON.Valid && kindsJSON.String != "" {
			if err := json.Unmarshal([]byte(kindsJSON.String), &t.Kinds); err != nil {
				return nil, err
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListSnapshots 返回某次 run 的资金曲线。
func (s *ResultStore) ListSnapshots(ctx context.Context, runID string) ([]EquityPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, equity, balance, drawdown
		FROM backtest_snapshots WHERE run_id=? ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.TS, &p.Equity, &p.Balance, &p.Drawdown); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPatterns 返回某次 run 的形态实例。
func (s *ResultStore) ListPatterns(ctx context.Context, runID string) ([]pattern.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, direction, start_idx, end_idx, price_low, price_high,
		       strength, touches, choch, mitigated, mitigated_idx, ts
		FROM backtest_patterns WHERE run_id=? ORDER BY end_idx ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pattern.Instance
	for rows.Next() {
		var (
			in        pattern.Instance
			kind      string
			direction string
			choch     int
			mitigated int
		)
		err := rows.Scan(&kind, &direction, &in.StartIdx, &in.EndIdx, &in.PriceLow,
			&in.PriceHigh, &in.Strength, &in.Touches, &choch, &mitigated,
			&in.MitigatedIdx, &in.Time)
		if err != nil {
			return nil, err
		}
		in.Kind = pattern.Kind(kind)
		in.Direction = pattern.Direction(direction)
		in.ChangeOfCharacter = choch != 0
		in.Mitigated = mitigated != 0
		out = append(out, in)
	}
	return out, rows.Err()
}
