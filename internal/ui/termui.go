package ui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/skalibog/tradesignal/internal/config"
	"github.com/skalibog/tradesignal/pkg/logger"
	"github.com/skalibog/tradesignal/pkg/models"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

const maxLogs = 50

// SignalSource источник сигналов для дашборда
type SignalSource interface {
	GenerateSignals(ctx context.Context) map[string]*models.SignalResult
}

// TermUI представляет терминальный интерфейс
type TermUI struct {
	source        SignalSource
	signals       map[string]*models.SignalResult
	signalsMutex  sync.RWMutex
	logs          []string
	logsMutex     sync.RWMutex
	config        config.UIConfig
	selectedIndex int
	width         int
	height        int
	logFile       string
	updatedAt     time.Time
}

// Сообщения для обновления UI
type signalsMsg map[string]*models.SignalResult
type logsTickMsg struct{}
type signalsTickMsg struct{}

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui  *TermUI
	ctx context.Context
}

// NewTermUI создает дашборд. logFile - JSON лог, который показывается внизу
func NewTermUI(cfg config.UIConfig, source SignalSource, logFile string) *TermUI {
	return &TermUI{
		source:  source,
		signals: make(map[string]*models.SignalResult),
		logs:    []string{"Tradesignal запущен. Ожидание данных..."},
		config:  cfg,
		width:   120,
		height:  40,
		logFile: logFile,
	}
}

// Run запускает интерфейс и блокирует до выхода пользователя или отмены ctx
func (ui *TermUI) Run(ctx context.Context) error {
	if err := ui.loadLogsFromFile(); err != nil {
		logger.Warn("Ошибка загрузки логов", zap.Error(err))
	}

	program := tea.NewProgram(bubbleModel{ui: ui, ctx: ctx}, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

// UpdateSignals заменяет текущие сигналы
func (ui *TermUI) UpdateSignals(signals map[string]*models.SignalResult) {
	ui.signalsMutex.Lock()
	defer ui.signalsMutex.Unlock()

	ui.signals = signals
	ui.updatedAt = time.Now()
	if ui.selectedIndex >= len(signals) {
		ui.selectedIndex = max(0, len(signals)-1)
	}
}

func (ui *TermUI) loadLogsFromFile() error {
	if ui.logFile == "" {
		return nil
	}
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	var logs []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		logs = append(logs, formatLogLine(scanner.Text()))
		if len(logs) > maxLogs {
			logs = logs[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(logs) > 0 {
		ui.logsMutex.Lock()
		ui.logs = logs
		ui.logsMutex.Unlock()
	}
	return nil
}

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// formatLogLine превращает строку JSON лога zap в короткую запись
func formatLogLine(line string) string {
	var zapLog map[string]interface{}
	if err := sonic.UnmarshalString(line, &zapLog); err != nil {
		return line
	}

	level, _ := zapLog["level"].(string)
	ts, _ := zapLog["ts"].(string)
	msg, _ := zapLog["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(zapLog))
	for k := range zapLog {
		if k != "level" && k != "ts" && k != "msg" && k != "caller" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, zapLog[k])
	}
	return b.String()
}

// Методы для bubbletea

func (m bubbleModel) Init() tea.Cmd {
	return tea.Batch(m.fetchSignals(), m.tickLogs())
}

func (m bubbleModel) fetchSignals() tea.Cmd {
	return func() tea.Msg {
		return signalsMsg(m.ui.source.GenerateSignals(m.ctx))
	}
}

func (m bubbleModel) tickLogs() tea.Cmd {
	refresh := time.Duration(m.ui.config.RefreshRate) * time.Millisecond
	if refresh <= 0 {
		refresh = time.Second
	}
	return tea.Tick(refresh, func(time.Time) tea.Msg { return logsTickMsg{} })
}

func (m bubbleModel) tickSignals() tea.Cmd {
	interval := time.Duration(m.ui.config.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return tea.Tick(interval, func(time.Time) tea.Msg { return signalsTickMsg{} })
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up":
			m.ui.signalsMutex.Lock()
			m.ui.selectedIndex = max(0, m.ui.selectedIndex-1)
			m.ui.signalsMutex.Unlock()
		case "down":
			m.ui.signalsMutex.Lock()
			m.ui.selectedIndex = max(0, min(len(m.ui.signals)-1, m.ui.selectedIndex+1))
			m.ui.signalsMutex.Unlock()
		case "r":
			return m, m.fetchSignals()
		}

	case tea.WindowSizeMsg:
		m.ui.width = msg.Width
		m.ui.height = msg.Height

	case signalsMsg:
		m.ui.UpdateSignals(msg)
		return m, m.tickSignals()

	case signalsTickMsg:
		return m, m.fetchSignals()

	case logsTickMsg:
		if err := m.ui.loadLogsFromFile(); err != nil {
			logger.Warn("Ошибка загрузки логов", zap.Error(err))
		}
		return m, m.tickLogs()
	}

	return m, nil
}

func (m bubbleModel) View() string {
	m.ui.signalsMutex.RLock()
	m.ui.logsMutex.RLock()
	defer m.ui.signalsMutex.RUnlock()
	defer m.ui.logsMutex.RUnlock()

	title := titleStyle.Render("Tradesignal - EMA/RSI/MACD")
	signals := renderSignalsSection(m.ui.signals, m.ui.selectedIndex)
	details := renderDetails(m.ui.signals, m.ui.selectedIndex)
	logs := renderLogsSection(m.ui.logs, max(6, m.ui.height-24))

	updated := "нет данных"
	if !m.ui.updatedAt.IsZero() {
		updated = m.ui.updatedAt.Format("15:04:05")
	}
	footer := footerStyle.Render(fmt.Sprintf("Клавиши: ↑/↓ - навигация, R - обновить сигналы, Q - выход | обновлено: %s", updated))

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			signals,
			details,
			logs,
			footer,
		),
	)
}

// Вспомогательные функции

func renderSignalsSection(signals map[string]*models.SignalResult, selectedIndex int) string {
	header := headerStyle.Render("СИГНАЛЫ")
	content := strings.Builder{}

	symbols := sortedSymbols(signals)
	if len(symbols) == 0 {
		content.WriteString("  Ожидание данных...\n")
	}

	for i, symbol := range symbols {
		signal := signals[symbol]

		line := fmt.Sprintf("  %-10s %s %-6s Цена: %-14s Волатильность: %.2f%% (%s)",
			symbol,
			formatSignalText(signal.Signal),
			signal.Confidence,
			formatPrice(signal.Price),
			signal.Risk.VolatilityPct,
			signal.Risk.Bucket)

		if i == selectedIndex {
			line = "> " + line[2:]
			line = lipgloss.NewStyle().Background(lipgloss.Color("#222222")).Render(line)
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}

func renderDetails(signals map[string]*models.SignalResult, selectedIndex int) string {
	symbols := sortedSymbols(signals)
	if selectedIndex < 0 || selectedIndex >= len(symbols) {
		return ""
	}
	s := signals[symbols[selectedIndex]]

	header := headerStyle.Render(fmt.Sprintf("УРОВНИ %s %s", s.Symbol, s.Interval))
	body := fmt.Sprintf("  Стоп-лосс: %s  Тейк-профит 1: %s  Тейк-профит 2: %s\n  %s\n",
		formatPrice(s.Levels.StopLoss),
		formatPrice(s.Levels.TakeProfit1),
		formatPrice(s.Levels.TakeProfit2),
		s.Rationale)

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, body))
}

func renderLogsSection(logs []string, maxLogsToShow int) string {
	header := headerStyle.Render("ЛОГИ")
	content := strings.Builder{}

	start := 0
	if len(logs) > maxLogsToShow {
		start = len(logs) - maxLogsToShow
	}

	for _, log := range logs[start:] {
		// Выделение по уровню логирования
		switch {
		case strings.Contains(log, "[ERROR]"):
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		case strings.Contains(log, "[INFO]"):
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		case strings.Contains(log, "[WARN]"):
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		case strings.Contains(log, "[DEBUG]"):
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}
		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, content.String()))
}

func formatSignalText(signal models.Signal) string {
	var style lipgloss.Style

	switch signal {
	case models.SignalBuy:
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case models.SignalSell:
		style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	default:
		style = lipgloss.NewStyle().Foreground(warningColor)
	}

	return style.Render(fmt.Sprintf("%-4s", signal))
}

func formatPrice(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

func sortedSymbols(signals map[string]*models.SignalResult) []string {
	symbols := make([]string, 0, len(signals))
	for symbol := range signals {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
