// Package journal 负责投注流水的落盘：每局开奖、每笔投注、每次会话
// 汇总都写入 SQLite，供命令行查询工具与 Web API 读取。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var log = logrus.WithField("component", "journal")

// Journal SQLite 投注流水库
type Journal struct {
	db   *sql.DB
	path string
}

// Open 打开（必要时创建）流水库并执行迁移
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建 journal 目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db, path: path}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Infof("📒 投注流水库已打开: %s", path)
	return j, nil
}

// Close 关闭流水库
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  strategy TEXT NOT NULL,
  starting_balance TEXT NOT NULL,
  final_balance TEXT,
  total_spins INTEGER NOT NULL DEFAULT 0,
  wins INTEGER NOT NULL DEFAULT 0,
  win_rate REAL NOT NULL DEFAULT 0,
  state TEXT NOT NULL DEFAULT 'active',
  started_at TEXT NOT NULL,
  ended_at TEXT
);`,
		`
CREATE TABLE IF NOT EXISTS bets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  spin_value INTEGER NOT NULL,
  spin_color TEXT NOT NULL,
  candidates TEXT NOT NULL, -- JSON 数组
  stake TEXT NOT NULL,
  payout TEXT NOT NULL,
  hit INTEGER NOT NULL,
  balance_before TEXT NOT NULL,
  balance_after TEXT NOT NULL,
  model_version INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_bets_session_created ON bets(session_id, created_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS spins (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
  value INTEGER NOT NULL,
  color TEXT NOT NULL,
  source TEXT NOT NULL, -- live | simulated | bootstrap
  observed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_spins_session_observed ON spins(session_id, observed_at DESC);`,
	}

	for _, q := range stmts {
		if _, err := j.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}
