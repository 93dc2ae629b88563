// Package dashboard 提供会话监控终端界面。
// 界面运行期间 logrus 输出重定向到文件，关键日志通过 hook
// 投递到界面底部的日志栏，避免打乱终端渲染。
package dashboard

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goroulette/internal/history"
	"github.com/betbot/goroulette/internal/model"
	"github.com/betbot/goroulette/internal/risk"
	"github.com/betbot/goroulette/internal/services"
	"github.com/betbot/goroulette/internal/simulator"
	"github.com/betbot/goroulette/pkg/logger"
)

// Sources 界面的数据来源，全部为只读访问
type Sources struct {
	Controller *services.Controller
	Simulator  *simulator.Simulator
	Model      *model.Manager
	Guard      *risk.Guard
	Buffer     *history.SequenceBuffer
	StrategyID string
}

// logMsg 投递到日志栏的一条日志
type logMsg struct {
	level   string
	message string
	time    time.Time
}

// logCollector 实现 logrus.Hook，把日志转投到界面
type logCollector struct {
	logChan chan logMsg
}

func (h *logCollector) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

func (h *logCollector) Fire(entry *logrus.Entry) error {
	var level string
	switch entry.Level {
	case logrus.ErrorLevel:
		level = "ERROR"
	case logrus.WarnLevel:
		level = "WARN"
	case logrus.InfoLevel:
		level = "INFO"
	default:
		return nil
	}

	msg := entry.Message
	if len(msg) > 120 {
		msg = msg[:117] + "..."
	}

	// channel 可能已随界面退出关闭
	defer func() {
		_ = recover()
	}()

	select {
	case h.logChan <- logMsg{level: level, message: msg, time: entry.Time}:
	default:
	}
	return nil
}

// Run 启动监控界面并阻塞到用户退出或 ctx 取消。
// 运行期间 logrus 输出写入 logs/dashboard_*.log。
func Run(ctx context.Context, src Sources) error {
	logChan := make(chan logMsg, 100)
	collector := &logCollector{logChan: logChan}

	originalOutput := logrus.StandardLogger().Out
	originalFormatter := logrus.StandardLogger().Formatter

	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logDir = os.TempDir()
	}
	logPath := filepath.Join(logDir, fmt.Sprintf("dashboard_%s.log", time.Now().Format("20060102_150405")))
	fileWriter := logger.FileOnlyWriter(logger.Config{
		OutputFile: logPath,
		MaxSize:    50,
		MaxBackups: 2,
		MaxAge:     7,
	})
	logrus.SetOutput(fileWriter)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableColors:   true,
	})
	logrus.Infof("✅ 界面日志已重定向到: %s", logPath)
	logrus.StandardLogger().AddHook(collector)

	defer func() {
		collectorRef := collector
		close(logChan)

		// 摘掉 hook 后再恢复输出，防止向已关闭的 channel 投递
		originalHooks := logrus.StandardLogger().Hooks
		newHooks := make(logrus.LevelHooks)
		for level, hooks := range originalHooks {
			for _, hook := range hooks {
				if hook != collectorRef {
					newHooks[level] = append(newHooks[level], hook)
				}
			}
		}
		logrus.StandardLogger().ReplaceHooks(newHooks)

		logrus.SetOutput(originalOutput)
		logrus.SetFormatter(originalFormatter)
		if closer, ok := fileWriter.(io.Closer); ok {
			_ = closer.Close()
		}
	}()

	program := tea.NewProgram(
		newUIModel(ctx, src, logChan),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		logrus.Errorf("❌ 界面运行失败: %v", err)
		return fmt.Errorf("界面运行失败: %w", err)
	}
	logrus.Infof("界面已退出")
	return nil
}
