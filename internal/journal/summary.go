package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/betbot/goroulette/internal/domain"
)

// AppendSummaryLine 把会话汇总追加为一行 JSON（jsonl 文件，供外部脚本消费）。
func AppendSummaryLine(path string, summary domain.SessionSummary) error {
	if path == "" {
		return fmt.Errorf("summary 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}
