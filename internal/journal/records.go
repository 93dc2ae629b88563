package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/goroulette/internal/domain"
)

// SessionRecord sessions 表的一行
type SessionRecord struct {
	ID              string          `json:"id"`
	Strategy        string          `json:"strategy"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	FinalBalance    decimal.Decimal `json:"final_balance"`
	TotalSpins      int64           `json:"total_spins"`
	Wins            int64           `json:"wins"`
	WinRate         float64         `json:"win_rate"`
	State           string          `json:"state"`
	StartedAt       time.Time       `json:"started_at"`
	EndedAt         time.Time       `json:"ended_at"`
}

// BetRow bets 表的一行
type BetRow struct {
	ID            int64           `json:"id"`
	SessionID     string          `json:"session_id"`
	SpinValue     int             `json:"spin_value"`
	SpinColor     string          `json:"spin_color"`
	Candidates    []int           `json:"candidates"`
	Stake         decimal.Decimal `json:"stake"`
	Payout        decimal.Decimal `json:"payout"`
	Hit           bool            `json:"hit"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	ModelVersion  int64           `json:"model_version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// StartSession 记录会话开始
func (j *Journal) StartSession(ctx context.Context, id, strategy string, startingBalance decimal.Decimal, startedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO sessions (id, strategy, starting_balance, state, started_at)
VALUES (?,?,?,?,?)
`, id, strategy, startingBalance.String(), string(domain.SessionActive), startedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession 会话结束时回填汇总字段
func (j *Journal) FinishSession(ctx context.Context, id string, state domain.SessionState, endedAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
UPDATE sessions
SET final_balance=?, total_spins=?, wins=?, win_rate=?, state=?, ended_at=?
WHERE id=?
`, state.Balance.String(), state.TotalSpins, state.Wins, state.WinRate(),
		string(state.Status), endedAt.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

// RecordSpin 记录一局开奖（无论是否下注）
func (j *Journal) RecordSpin(ctx context.Context, sessionID string, outcome domain.SpinOutcome, source string) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO spins (session_id, value, color, source, observed_at)
VALUES (?,?,?,?,?)
`, sessionID, outcome.Value, string(outcome.Color()), source, outcome.Time.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert spin: %w", err)
	}
	return nil
}

// RecordBet 记录一笔已结算的投注
func (j *Journal) RecordBet(ctx context.Context, sessionID string, rec domain.BetRecord) error {
	var (
		candidates   []int
		modelVersion int64
	)
	if rec.Prediction != nil {
		candidates = rec.Prediction.Candidates
		modelVersion = rec.Prediction.ModelVersion
	}
	blob, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshal candidates: %w", err)
	}

	hit := 0
	if rec.Hit {
		hit = 1
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO bets (session_id, spin_value, spin_color, candidates, stake, payout, hit,
                  balance_before, balance_after, model_version, created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, sessionID, rec.Actual.Value, string(rec.Actual.Color()), string(blob),
		rec.Stake.String(), rec.Payout.String(), hit,
		rec.BalanceBefore.String(), rec.BalanceAfter.String(),
		modelVersion, rec.SettledAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert bet: %w", err)
	}
	return nil
}

// RecentBets 返回指定会话最近的投注记录（时间倒序）
func (j *Journal) RecentBets(ctx context.Context, sessionID string, limit int) ([]BetRow, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, session_id, spin_value, spin_color, candidates, stake, payout, hit,
       balance_before, balance_after, model_version, created_at
FROM bets
WHERE session_id=?
ORDER BY id DESC
LIMIT ?
`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BetRow
	for rows.Next() {
		row, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanBet(rows *sql.Rows) (BetRow, error) {
	var (
		row        BetRow
		candidates string
		stake      string
		payout     string
		hit        int
		before     string
		after      string
		createdAt  string
	)
	if err := rows.Scan(&row.ID, &row.SessionID, &row.SpinValue, &row.SpinColor,
		&candidates, &stake, &payout, &hit, &before, &after,
		&row.ModelVersion, &createdAt); err != nil {
		return BetRow{}, err
	}
	if err := json.Unmarshal([]byte(candidates), &row.Candidates); err != nil {
		return BetRow{}, fmt.Errorf("unmarshal candidates: %w", err)
	}
	row.Stake, _ = decimal.NewFromString(stake)
	row.Payout, _ = decimal.NewFromString(payout)
	row.Hit = hit != 0
	row.BalanceBefore, _ = decimal.NewFromString(before)
	row.BalanceAfter, _ = decimal.NewFromString(after)
	row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return row, nil
}

// ListSessions 按开始时间倒序列出会话
func (j *Journal) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, strategy, starting_balance, final_balance, total_spins, wins, win_rate, state, started_at, ended_at
FROM sessions
ORDER BY started_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Session 按 ID 查询单个会话
func (j *Journal) Session(ctx context.Context, id string) (SessionRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, strategy, starting_balance, final_balance, total_spins, wins, win_rate, state, started_at, ended_at
FROM sessions
WHERE id=?
`, id)
	if err != nil {
		return SessionRecord{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return SessionRecord{}, err
		}
		return SessionRecord{}, sql.ErrNoRows
	}
	return scanSession(rows)
}

func scanSession(rows *sql.Rows) (SessionRecord, error) {
	var (
		rec       SessionRecord
		starting  string
		final     sql.NullString
		startedAt string
		endedAt   sql.NullString
	)
	if err := rows.Scan(&rec.ID, &rec.Strategy, &starting, &final,
		&rec.TotalSpins, &rec.Wins, &rec.WinRate, &rec.State, &startedAt, &endedAt); err != nil {
		return SessionRecord{}, err
	}
	rec.StartingBalance, _ = decimal.NewFromString(starting)
	if final.Valid {
		rec.FinalBalance, _ = decimal.NewFromString(final.String)
	}
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		rec.EndedAt, _ = time.Parse(time.RFC3339Nano, endedAt.String)
	}
	return rec, nil
}

// SpinCount 会话累计记录的开奖局数
func (j *Journal) SpinCount(ctx context.Context, sessionID string) (int64, error) {
	row := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM spins WHERE session_id=?`, sessionID)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
