package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/betbot/goroulette/internal/journal"
)

// 投注流水查询工具：列出历史会话，或查看单个会话的下注明细。
// 只读访问，可以在机器人运行时使用。

func main() {
	var (
		dbPath    = flag.String("db", getenv("ROULETTE_JOURNAL_PATH", "data/roulette.db"), "投注流水库路径")
		sessionID = flag.String("session", "", "查看指定会话（支持 ID 前缀）")
		limit     = flag.Int("limit", 20, "最多列出的会话/下注条数")
		asJSON    = flag.Bool("json", false, "以 JSON 输出")
	)
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		fatal(fmt.Errorf("流水库不存在: %s", *dbPath))
	}

	jnl, err := journal.Open(*dbPath)
	if err != nil {
		fatal(err)
	}
	defer jnl.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *sessionID != "" {
		if err := showSession(ctx, jnl, *sessionID, *limit, *asJSON); err != nil {
			fatal(err)
		}
		return
	}
	if err := listSessions(ctx, jnl, *limit, *asJSON); err != nil {
		fatal(err)
	}
}

func listSessions(ctx context.Context, jnl *journal.Journal, limit int, asJSON bool) error {
	sessions, err := jnl.ListSessions(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Println("没有会话记录")
		return nil
	}

	fmt.Printf("%-10s %-8s %-9s %6s %5s %7s %12s %12s  %s\n",
		"ID", "策略", "状态", "局数", "命中", "胜率", "初始余额", "最终余额", "开始时间")
	for _, s := range sessions {
		fmt.Printf("%-10s %-8s %-9s %6d %5d %6.2f%% %12s %12s  %s\n",
			shortID(s.ID), s.Strategy, s.State, s.TotalSpins, s.Wins, s.WinRate,
			s.StartingBalance, s.FinalBalance, s.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func showSession(ctx context.Context, jnl *journal.Journal, prefix string, limit int, asJSON bool) error {
	rec, err := resolveSession(ctx, jnl, prefix)
	if err != nil {
		return err
	}
	bets, err := jnl.RecentBets(ctx, rec.ID, limit)
	if err != nil {
		return err
	}
	spins, err := jnl.SpinCount(ctx, rec.ID)
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(struct {
			Session   journal.SessionRecord `json:"session"`
			SpinCount int64                 `json:"spin_count"`
			Bets      []journal.BetRow      `json:"bets"`
		}{rec, spins, bets})
	}

	fmt.Printf("会话 %s\n", rec.ID)
	fmt.Printf("  策略=%s 状态=%s 局数=%d 命中=%d 胜率=%.2f%%\n",
		rec.Strategy, rec.State, rec.TotalSpins, rec.Wins, rec.WinRate)
	fmt.Printf("  余额 %s -> %s\n", rec.StartingBalance, rec.FinalBalance)
	fmt.Printf("  开始=%s 结束=%s 摄入开奖=%d\n",
		rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
		rec.EndedAt.Local().Format("2006-01-02 15:04:05"), spins)

	if len(bets) == 0 {
		fmt.Println("  (无下注记录)")
		return nil
	}
	fmt.Printf("\n最近 %d 注:\n", len(bets))
	fmt.Printf("%-6s %-4s %-6s %4s %10s %10s %12s  %s\n",
		"序号", "开奖", "结果", "模型", "注金", "派彩", "结后余额", "候选")
	for _, b := range bets {
		result := "未中"
		if b.Hit {
			result = "命中"
		}
		fmt.Printf("%-6d %-4d %-6s v%-3d %10s %10s %12s  %s\n",
			b.ID, b.SpinValue, result, b.ModelVersion, b.Stake, b.Payout,
			b.BalanceAfter, formatCandidates(b.Candidates))
	}
	return nil
}

// resolveSession 支持 ID 前缀匹配，便于直接粘贴列表里的短 ID
func resolveSession(ctx context.Context, jnl *journal.Journal, prefix string) (journal.SessionRecord, error) {
	rec, err := jnl.Session(ctx, prefix)
	if err == nil {
		return rec, nil
	}

	sessions, listErr := jnl.ListSessions(ctx, 1000)
	if listErr != nil {
		return journal.SessionRecord{}, listErr
	}
	var matched []journal.SessionRecord
	for _, s := range sessions {
		if strings.HasPrefix(s.ID, prefix) {
			matched = append(matched, s)
		}
	}
	switch len(matched) {
	case 0:
		return journal.SessionRecord{}, fmt.Errorf("找不到会话 %q", prefix)
	case 1:
		return matched[0], nil
	default:
		return journal.SessionRecord{}, fmt.Errorf("前缀 %q 匹配到 %d 个会话, 请补全 ID", prefix, len(matched))
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func formatCandidates(candidates []int) string {
	if len(candidates) <= 6 {
		return strings.Trim(fmt.Sprint(candidates), "[]")
	}
	head := strings.Trim(fmt.Sprint(candidates[:6]), "[]")
	return fmt.Sprintf("%s ... (+%d)", head, len(candidates)-6)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
