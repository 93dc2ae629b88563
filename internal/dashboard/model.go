package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/goroulette/internal/domain"
	"github.com/betbot/goroulette/internal/model"
)

const (
	uiRefreshInterval = time.Second
	maxRecentOutcomes = 16
	maxLogLines       = 6
)

// tickMsg 定时刷新消息
type tickMsg time.Time

// checkCtxMsg 检查外部关停信号的消息
type checkCtxMsg struct{}

// uiModel Bubbletea 模型
type uiModel struct {
	src Sources
	ctx context.Context

	// 最近一次刷新拉到的状态
	status    domain.SessionStatus
	balance   decimal.Decimal
	stake     decimal.Decimal
	spins     int64
	wins      int64
	winRate   float64
	connected bool
	paused    bool
	losses    int64

	version  *model.Version
	training bool
	bufLen   int
	bufCap   int
	ingested int64

	recent []domain.SpinOutcome
	pred   *domain.PredictionResult

	logs    []logMsg
	logChan chan logMsg

	width       int
	height      int
	initialized bool
}

func newUIModel(ctx context.Context, src Sources, logChan chan logMsg) uiModel {
	return uiModel{
		src:     src,
		ctx:     ctx,
		logs:    make([]logMsg, 0, maxLogLines),
		logChan: logChan,
	}
}

func (m uiModel) Init() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return checkCtxMsg{}
	})
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.initialized && m.width > 0 {
			m.initialized = true
			m.refreshData()
			return m, tea.Tick(uiRefreshInterval, func(t time.Time) tea.Msg {
				return tickMsg(t)
			})
		}
		return m, nil

	case checkCtxMsg:
		select {
		case <-m.ctx.Done():
			return m, tea.Quit
		default:
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return checkCtxMsg{}
			})
		}

	case tickMsg:
		select {
		case <-m.ctx.Done():
			return m, tea.Quit
		default:
		}
		m.drainLogs()
		m.refreshData()
		return m, tea.Tick(uiRefreshInterval, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.refreshData()
			return m, nil
		}
	}

	if m.ctx.Err() != nil {
		return m, tea.Quit
	}
	return m, nil
}

// drainLogs 把 hook 投递的日志搬进日志栏（非阻塞）
func (m *uiModel) drainLogs() {
	if m.logChan == nil {
		return
	}
	for {
		select {
		case entry := <-m.logChan:
			m.logs = append(m.logs, entry)
			if len(m.logs) > maxLogLines {
				m.logs = m.logs[len(m.logs)-maxLogLines:]
			}
		default:
			return
		}
	}
}

// refreshData 从各组件拉取当前状态
func (m *uiModel) refreshData() {
	state := m.src.Simulator.State()
	m.status = state.Status
	m.balance = state.Balance
	m.stake = state.StakePerRound
	m.spins = state.TotalSpins
	m.wins = state.Wins
	m.winRate = state.WinRate()

	m.connected = m.src.Controller.IsConnected()
	m.paused = m.src.Guard.IsPaused()
	m.losses = m.src.Guard.ConsecutiveLosses()

	m.version = m.src.Model.CurrentVersion()
	m.training = m.src.Model.IsTraining()
	m.bufLen = m.src.Buffer.Len()
	m.bufCap = m.src.Buffer.Capacity()
	m.ingested = m.src.Buffer.Total()

	all := m.src.Buffer.SnapshotAll()
	if len(all) > maxRecentOutcomes {
		all = all[len(all)-maxRecentOutcomes:]
	}
	m.recent = all

	m.pred = m.src.Controller.LastPrediction()
}

func (m uiModel) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}

	var sections []string
	sections = append(sections, m.renderHeader(width))
	sections = append(sections, m.renderOutcomes(width))
	sections = append(sections, m.renderSession(width))
	sections = append(sections, m.renderModel(width))
	sections = append(sections, m.renderPrediction(width))
	sections = append(sections, m.renderLogs(width))

	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Render(fmt.Sprintf("更新时间: %s | 按 'q' 退出 | 按 'r' 刷新",
			time.Now().Format("15:04:05")))
	sections = append(sections, footer)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m uiModel) renderHeader(width int) string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("63")).
		Background(lipgloss.Color("236")).
		Padding(0, 1).
		Width(width - 2)

	conn := errorStyle.Render("⚠️ 离线")
	if m.connected {
		conn = successStyle.Render("📡 在线")
	}

	var header strings.Builder
	header.WriteString("🎰 轮盘投注监控\n")
	header.WriteString(strings.Repeat("─", width-2) + "\n")
	header.WriteString(fmt.Sprintf("会话: %s | 策略: %s | %s",
		shortID(m.src.Controller.SessionID()), m.src.StrategyID, conn))
	return headerStyle.Render(header.String())
}

func (m uiModel) renderOutcomes(width int) string {
	title := titleStyle.Render("🎲 最近开奖")

	var content strings.Builder
	if len(m.recent) == 0 {
		content.WriteString("等待开奖...")
	} else {
		parts := make([]string, 0, len(m.recent))
		for i, o := range m.recent {
			text := fmt.Sprintf("%2d", o.Value)
			style := numberStyle(o.Color())
			if i == len(m.recent)-1 {
				style = style.Bold(true).Underline(true)
			}
			parts = append(parts, style.Render(text))
		}
		content.WriteString(strings.Join(parts, " "))
		content.WriteString(fmt.Sprintf("\n缓冲: %d/%d | 累计摄入: %d", m.bufLen, m.bufCap, m.ingested))
	}
	return borderStyle.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, content.String()))
}

func (m uiModel) renderSession(width int) string {
	title := titleStyle.Render("📒 会话状态")

	var content strings.Builder
	if m.status == domain.SessionBankrupt {
		content.WriteString(errorStyle.Render("🛑 已破产") + "\n")
	} else {
		content.WriteString(successStyle.Render("✅ 进行中") + "\n")
	}
	content.WriteString(fmt.Sprintf("余额: %s | 注金: %s\n", m.balance, m.stake))
	content.WriteString(fmt.Sprintf("局数: %d | 命中: %d | 胜率: %.1f%%", m.spins, m.wins, m.winRate*100))
	if m.paused {
		content.WriteString("\n" + warningStyle.Render(fmt.Sprintf("⏸️ 风控暂停中 (连败 %d 局)", m.losses)))
	}
	return borderStyle.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, content.String()))
}

func (m uiModel) renderModel(width int) string {
	title := titleStyle.Render("🧠 模型")

	var content strings.Builder
	if m.version == nil {
		content.WriteString(warningStyle.Render("未训练") + "\n")
	} else {
		content.WriteString(fmt.Sprintf("版本: v%d | 样本: %d | 训练于: %s\n",
			m.version.ID, m.version.SampleCount, m.version.TrainedAt.Format("15:04:05")))
	}
	if m.training {
		content.WriteString("状态: " + warningStyle.Render("🔄 训练中"))
	} else {
		content.WriteString("状态: 空闲")
	}
	return borderStyle.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, content.String()))
}

func (m uiModel) renderPrediction(width int) string {
	title := titleStyle.Render("🎯 当前投注")

	var content strings.Builder
	if m.pred == nil {
		content.WriteString("等待模型就绪...")
	} else {
		shown := m.pred.Candidates
		more := 0
		if len(shown) > 12 {
			more = len(shown) - 12
			shown = shown[:12]
		}
		parts := make([]string, 0, len(shown))
		for _, cand := range shown {
			parts = append(parts, numberStyle(domain.ColorOf(cand)).Render(fmt.Sprintf("%d", cand)))
		}
		content.WriteString("候选: " + strings.Join(parts, " "))
		if more > 0 {
			content.WriteString(fmt.Sprintf(" +%d", more))
		}
		content.WriteString(fmt.Sprintf("\n模型: v%d | 下注于: %s",
			m.pred.ModelVersion, m.pred.PredictedAt.Format("15:04:05")))
	}
	return borderStyle.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, content.String()))
}

func (m uiModel) renderLogs(width int) string {
	title := titleStyle.Render("📋 实时日志")

	var content strings.Builder
	if len(m.logs) == 0 {
		content.WriteString("暂无日志")
	} else {
		for i, entry := range m.logs {
			var levelStyle lipgloss.Style
			switch entry.level {
			case "ERROR":
				levelStyle = errorStyle
			case "WARN":
				levelStyle = warningStyle
			default:
				levelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
			}

			maxMsgLen := width - 25
			if maxMsgLen < 20 {
				maxMsgLen = 20
			}
			msg := entry.message
			if len(msg) > maxMsgLen {
				msg = msg[:maxMsgLen-3] + "..."
			}

			content.WriteString(fmt.Sprintf("[%s] %s: %s",
				entry.time.Format("15:04:05"), levelStyle.Render(entry.level), msg))
			if i < len(m.logs)-1 {
				content.WriteString("\n")
			}
		}
	}
	return borderStyle.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, content.String()))
}

// numberStyle 按轮盘颜色渲染号码
func numberStyle(c domain.Color) lipgloss.Style {
	switch c {
	case domain.ColorRed:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	case domain.ColorGreen:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// 样式定义
var (
	borderStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)
