package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	api "github.com/fyrsmithlabs/forged/internal/http"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// Model is the bubbletea dashboard model.
type Model struct {
	client     *StatsClient
	interval   time.Duration
	lastUpdate time.Time
	stats      api.StatsResponse
	history    []float64
	err        error
	quitting   bool

	spin  spinner.Model
	kinds table.Model
}

// NewModel creates the dashboard model pointed at a forged API server.
func NewModel(baseURL string, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))

	cols := []table.Column{
		{Title: "Outcome", Width: 28},
		{Title: "Count", Width: 8},
	}
	tbl := table.New(
		table.WithColumns(cols),
		table.WithHeight(7),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.Foreground(lipgloss.Color("51")).Bold(true)
	st.Selected = lipgloss.NewStyle()
	tbl.SetStyles(st)

	return Model{
		client:   NewStatsClient(baseURL),
		interval: interval,
		history:  make([]float64, 0, historySize),
		spin:     sp,
		kinds:    tbl,
	}
}

type tickMsg time.Time
type statsMsg api.StatsResponse
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		tick(m.interval),
		fetchStats(m.client),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchStats(client *StatsClient) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stats, err := client.FetchStats(ctx)
		if err != nil {
			return errMsg(err)
		}
		return statsMsg(*stats)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchStats(m.client)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchStats(m.client),
		)

	case statsMsg:
		m.stats = api.StatsResponse(msg)
		m.history = appendToHistory(m.history, successRatio(m.stats))
		m.kinds.SetRows(kindRows(m.stats.ByKind))
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render(" forged monitor ")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("cannot reach the API server") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.baseURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Is forged serve running?") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder

	lastUpdateStr := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("15:04:05")
	}

	b.WriteString(headerStyle.Render(" forged monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
		dimStyle.Render("runs:"),
		valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalRuns)),
		dimStyle.Render("updated:"),
		dimStyle.Render(lastUpdateStr)))

	b.WriteString(sectionStyle.Render("┃ Outcomes") + "\n")
	b.WriteString(m.kinds.View() + "\n")

	b.WriteString(sectionStyle.Render("┃ Success rate") + "\n")
	b.WriteString(labelStyle.Render("  now: ") +
		valueStyle.Render(FormatPercent(successRatio(m.stats))) +
		"   " + renderSparkline(m.history) + "\n")

	b.WriteString(sectionStyle.Render("┃ Pipeline") + "\n")
	b.WriteString(labelStyle.Render("  avg duration: ") +
		valueStyle.Render(FormatMillis(m.stats.AvgDurationMS)) + "\n")
	b.WriteString(labelStyle.Render("  avg iterations: ") +
		valueStyle.Render(fmt.Sprintf("%.1f", m.stats.AvgIterations)) + "\n")
	if len(m.stats.Domains) > 0 {
		b.WriteString(labelStyle.Render("  domains: ") +
			valueStyle.Render(strings.Join(m.stats.Domains, ", ")) + "\n")
	}

	b.WriteString(sectionStyle.Render("┃ Recent") + "\n")
	b.WriteString("  " + renderRecent(m.stats.Recent) + "\n")

	b.WriteString(footerStyle.Render(m.spin.View() + " [q] quit  [r] refresh"))

	return containerStyle.Render(b.String())
}

// successRatio is the fraction of all runs that ended in success.
func successRatio(stats api.StatsResponse) float64 {
	if stats.TotalRuns == 0 {
		return 0
	}
	return float64(stats.ByKind["success"]) / float64(stats.TotalRuns)
}

func kindRows(byKind map[string]int) []table.Row {
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	rows := make([]table.Row, 0, len(kinds))
	for _, k := range kinds {
		rows = append(rows, table.Row{k, fmt.Sprintf("%d", byKind[k])})
	}
	return rows
}

func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

func renderSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	return sparklineStyle.Render(spark.View())
}

// renderRecent draws one glyph per retained run, oldest first.
func renderRecent(recent []string) string {
	if len(recent) == 0 {
		return dimStyle.Render("no runs yet")
	}

	var b strings.Builder
	for _, kind := range recent {
		if kind == "success" {
			b.WriteString(healthyStyle.Render("●"))
		} else {
			b.WriteString(errorStyle.Render("●"))
		}
	}
	return b.String()
}

// Run starts the dashboard program and blocks until quit.
func Run(baseURL string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(baseURL, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
