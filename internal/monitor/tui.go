package monitor

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ojulabs/oju/internal/store"
)

var (
	critStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // dim gray

	headerStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	detailStyle    = lipgloss.NewStyle().Padding(0, 1)
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// Model is the BubbleTea model for the now TUI.
type Model struct {
	at          time.Time
	allAlerts   []store.AlertView // full sorted set
	alerts      []store.AlertView // current view (may be filtered)
	table       table.Model
	width       int
	height      int
	quitting    bool
	searching   bool
	searchInput textinput.Model
}

// NewModel creates a TUI model over the active alerts at load time.
func NewModel(alerts []store.AlertView, at time.Time) *Model {
	sorted := sortAlerts(alerts)

	cols := []table.Column{
		{Title: "ID", Width: 5},
		{Title: "SEV", Width: 6},
		{Title: "KIND", Width: 28},
		{Title: "PLATFORM", Width: 34},
		{Title: "ENTITY", Width: 18},
		{Title: "AGE", Width: 10},
	}

	rows := make([]table.Row, len(sorted))
	for i := range sorted {
		rows[i] = alertToRow(&sorted[i], at)
	}

	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true).BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240"))
	s.Selected = s.Selected.Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("57"))

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(10),
		table.WithStyles(s),
	)

	ti := textinput.New()
	ti.Placeholder = "type to filter..."
	ti.CharLimit = 64

	return &Model{
		at:          at,
		table:       t,
		allAlerts:   sorted,
		alerts:      sorted,
		width:       80,
		height:      24,
		searchInput: ti,
	}
}

// Init satisfies tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles key events.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.searching {
		return m.updateSearch(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			if m.searchInput.Value() != "" {
				m.searchInput.SetValue("")
				m.applyFilter()
				return m, nil
			}
			m.quitting = true
			return m, tea.Quit
		case "/":
			m.searching = true
			return m, m.searchInput.Focus()
		case "g":
			m.table.GotoTop()
			return m, nil
		case "G":
			m.table.GotoBottom()
			return m, nil
		case "1", "2", "3", "4", "5", "6", "7", "8", "9":
			n := int(msg.String()[0] - '0')
			if n <= len(m.alerts) {
				m.table.SetCursor(n - 1)
			}
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(m.tableHeight())
		m.table.SetWidth(m.width)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) updateSearch(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.searching = false
			m.searchInput.Blur()
			return m, nil
		case "esc":
			m.searching = false
			m.searchInput.SetValue("")
			m.searchInput.Blur()
			m.applyFilter()
			return m, nil
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(m.tableHeight())
		m.table.SetWidth(m.width)
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	m.applyFilter()
	return m, cmd
}

// View renders the full TUI.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteByte('\n')
	b.WriteString(m.table.View())
	b.WriteByte('\n')
	b.WriteString(separatorStyle.Render(strings.Repeat("─", m.width)))
	b.WriteByte('\n')
	b.WriteString(m.detailView())
	b.WriteByte('\n')
	b.WriteString(m.footerView())
	return b.String()
}

func (m *Model) headerView() string {
	var crit, warn, info int
	for i := range m.alerts {
		switch m.alerts[i].Kind.Severity() {
		case store.SeverityCritical:
			crit++
		case store.SeverityWarn:
			warn++
		default:
			info++
		}
	}

	title := headerStyle.Render(fmt.Sprintf("oju · active alerts · %s",
		m.at.UTC().Format("2006-01-02 15:04 UTC")))

	totalStr := fmt.Sprintf("Total: %d", len(m.alerts))
	if len(m.alerts) != len(m.allAlerts) {
		totalStr = fmt.Sprintf("Showing: %d/%d", len(m.alerts), len(m.allAlerts))
	}

	counts := headerStyle.Render(fmt.Sprintf(
		"%s  %s  %s  %s",
		critStyle.Render(fmt.Sprintf("Critical: %d", crit)),
		warnStyle.Render(fmt.Sprintf("Warn: %d", warn)),
		fmt.Sprintf("Info: %d", info),
		totalStr,
	))

	return title + "\n" + counts
}

func (m *Model) detailView() string {
	if len(m.alerts) == 0 {
		if m.searchInput.Value() != "" {
			return detailStyle.Render(dimStyle.Render("No matches."))
		}
		return detailStyle.Render("No active alerts.")
	}

	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.alerts) {
		return ""
	}

	a := &m.alerts[idx]
	lines := []string{
		fmt.Sprintf("Alert: #%d", a.ID),
		fmt.Sprintf("Status: %s", a.Status),
		fmt.Sprintf("Opened: %s", a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
	}
	if !a.UpdatedAt.IsZero() && !a.UpdatedAt.Equal(a.CreatedAt) {
		lines = append(lines, fmt.Sprintf("Updated: %s", a.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC")))
	}
	if a.Details != "" {
		det := strings.Split(strings.TrimSpace(a.Details), "\n")
		const maxLines = 6
		if len(det) > maxLines {
			more := len(det) - maxLines
			det = append(det[:maxLines], dimStyle.Render(fmt.Sprintf("(+%d more lines)", more)))
		}
		lines = append(lines, det...)
	}
	return detailStyle.Render(strings.Join(lines, "\n"))
}

func (m *Model) footerView() string {
	if m.searching {
		return " /" + m.searchInput.View()
	}
	help := " q quit · ↑↓/jk navigate · g/G top/bottom · 1-9 jump · / search"
	if m.searchInput.Value() != "" {
		help += " · esc clear"
	}
	return dimStyle.Render(help)
}

func (m *Model) tableHeight() int {
	// Reserve space for header, table chrome, separator, detail panel, and footer.
	reserved := 14
	h := m.height - reserved
	if h < 3 {
		h = 3
	}
	return h
}

func (m *Model) applyFilter() {
	query := strings.ToLower(m.searchInput.Value())
	if query == "" {
		m.alerts = m.allAlerts
	} else {
		var filtered []store.AlertView
		for i := range m.allAlerts {
			a := &m.allAlerts[i]
			hay := strings.ToLower(a.PlatformURL + " " + a.EntityName + " " +
				a.Kind.Display() + " " + string(a.Status) + " " + a.Details)
			if strings.Contains(hay, query) {
				filtered = append(filtered, m.allAlerts[i])
			}
		}
		m.alerts = filtered
	}
	m.rebuildRows()
}

func (m *Model) rebuildRows() {
	rows := make([]table.Row, len(m.alerts))
	for i := range m.alerts {
		rows[i] = alertToRow(&m.alerts[i], m.at)
	}
	m.table.SetRows(rows)
}

// PlainText returns a non-interactive text representation for piped output.
func PlainText(alerts []store.AlertView, at time.Time) string {
	sorted := sortAlerts(alerts)
	if len(sorted) == 0 {
		return "No active alerts."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-6s %-28s %-34s %-18s %s\n", "ID", "SEV", "KIND", "PLATFORM", "ENTITY", "AGE")
	fmt.Fprintf(&b, "%-5s %-6s %-28s %-34s %-18s %s\n", "--", "---", "----", "--------", "------", "---")
	for i := range sorted {
		row := alertToRow(&sorted[i], at)
		fmt.Fprintf(&b, "%-5s %-6s %-28s %-34s %-18s %s\n", row[0], row[1], row[2], row[3], row[4], row[5])
	}
	return b.String()
}

// alertToRow converts an alert to a table row with plain text (no ANSI).
// Embedding ANSI in cells causes the table to miscalculate column widths
// and truncate escape sequences, bleeding color into adjacent cells/rows.
func alertToRow(a *store.AlertView, now time.Time) table.Row {
	var sev string
	switch a.Kind.Severity() {
	case store.SeverityCritical:
		sev = "CRIT"
	case store.SeverityWarn:
		sev = "WARN"
	default:
		sev = "INFO"
	}

	return table.Row{
		fmt.Sprintf("%d", a.ID),
		sev,
		truncate(a.Kind.Display(), 28),
		truncate(a.PlatformURL, 34),
		truncate(a.EntityName, 18),
		FormatAge(a.CreatedAt, now),
	}
}

// FormatAge returns a human-readable relative age (plain text).
func FormatAge(since, now time.Time) string {
	d := now.Sub(since)
	if d < 0 {
		d = 0
	}

	days := int(math.Floor(d.Hours() / 24))
	hours := int(math.Floor(d.Hours())) % 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

// sortAlerts returns a sorted copy: critical first, then warn, then info.
// Within the same severity, newest first.
func sortAlerts(alerts []store.AlertView) []store.AlertView {
	sorted := make([]store.AlertView, len(alerts))
	copy(sorted, alerts)

	sevOrder := map[store.Severity]int{
		store.SeverityCritical: 0,
		store.SeverityWarn:     1,
		store.SeverityInfo:     2,
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sevOrder[sorted[i].Kind.Severity()], sevOrder[sorted[j].Kind.Severity()]
		if si != sj {
			return si < sj
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	return sorted
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
