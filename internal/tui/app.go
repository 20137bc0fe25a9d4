// internal/tui/app.go
//
// This is the dashboard TUI for crew.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/crew/internal/logbook"
	"github.com/kingrea/crew/internal/orchestrator"
	"github.com/kingrea/crew/internal/session"
)

// historyLoadedMsg carries a fresh read of the session directory.
type historyLoadedMsg struct {
	sessions []*session.Session
	err      error
}

// sessionsChangedMsg is sent when the watcher reports a change on disk.
type sessionsChangedMsg struct{}

// historyItem implements list.Item for one stored session.
type historyItem struct {
	sess *session.Session
}

func (i historyItem) Title() string {
	return fmt.Sprintf("%s %s", statusMark(i.sess.Status), i.sess.Name)
}

func (i historyItem) Description() string {
	parts := []string{i.sess.StartTime.Local().Format("2006-01-02 15:04")}
	if i.sess.WorkflowType != "" {
		parts = append(parts, i.sess.WorkflowType)
	}
	parts = append(parts, i.sess.Goal)
	return strings.Join(parts, " · ")
}

func (i historyItem) FilterValue() string { return i.sess.Name + " " + i.sess.Goal }

// AppOption customizes the dashboard.
type AppOption func(*App)

// WithJournal shows the tail of the team journal under the board.
func WithJournal(book *logbook.Logbook) AppOption {
	return func(a *App) { a.journal = book }
}

// WithWatcher refreshes the board whenever the watcher reports a change.
func WithWatcher(w *session.Watcher) AppOption {
	return func(a *App) { a.watcher = w }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// App is the session dashboard: history on the left, the selected session's
// summary on the right.
type App struct {
	orch    *orchestrator.Orchestrator
	journal *logbook.Logbook
	watcher *session.Watcher
	clock   func() time.Time

	history  list.Model
	summary  viewport.Model
	sessions []*session.Session
	selected string

	width     int
	height    int
	statusMsg string
	loadErr   string
}

// NewApp creates the dashboard for orch.
func NewApp(orch *orchestrator.Orchestrator, opts ...AppOption) *App {
	history := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	history.Title = "Sessions"
	history.SetShowHelp(false)
	a := &App{
		orch:      orch,
		clock:     time.Now,
		history:   history,
		summary:   viewport.New(0, 0),
		statusMsg: "q: quit · r: refresh · / filter",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadHistory(), a.waitForChange())
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		left, right := a.columns()
		bodyHeight := max(5, msg.Height-12)
		a.history.SetSize(max(20, left-4), bodyHeight)
		a.summary.Width = max(20, right-4)
		a.summary.Height = bodyHeight
		return a, nil

	case historyLoadedMsg:
		if msg.err != nil {
			a.loadErr = msg.err.Error()
			return a, nil
		}
		a.loadErr = ""
		a.setSessions(msg.sessions)
		return a, nil

	case sessionsChangedMsg:
		return a, tea.Batch(a.loadHistory(), a.waitForChange())

	case tea.KeyMsg:
		filtering := a.history.FilterState() == list.Filtering
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if !filtering {
				return a, tea.Quit
			}
		case "r":
			if !filtering {
				a.statusMsg = "Refreshing..."
				return a, a.loadHistory()
			}
		case "pgup", "pgdown":
			var cmd tea.Cmd
			a.summary, cmd = a.summary.Update(msg)
			return a, cmd
		}
	}

	var cmd tea.Cmd
	a.history, cmd = a.history.Update(msg)
	a.syncSummary()
	return a, cmd
}

func (a *App) setSessions(sessions []*session.Session) {
	a.sessions = sessions
	items := make([]list.Item, len(sessions))
	index := 0
	for i, sess := range sessions {
		items[i] = historyItem{sess: sess}
		if sess.ID == a.selected {
			index = i
		}
	}
	a.history.SetItems(items)
	if len(items) > 0 {
		a.history.Select(index)
	}
	a.statusMsg = fmt.Sprintf("%d sessions · q: quit · r: refresh · / filter", len(sessions))
	a.syncSummary()
}

// syncSummary renders the selected session into the viewport.
func (a *App) syncSummary() {
	item, ok := a.history.SelectedItem().(historyItem)
	if !ok {
		a.selected = ""
		a.summary.SetContent(session.NoActiveSummary)
		return
	}
	if item.sess.ID != a.selected {
		a.summary.GotoTop()
	}
	a.selected = item.sess.ID
	a.summary.SetContent(session.Summary(item.sess, a.clock()))
}

func (a *App) loadHistory() tea.Cmd {
	return func() tea.Msg {
		sessions, err := a.orch.SessionHistory()
		return historyLoadedMsg{sessions: sessions, err: err}
	}
}

func (a *App) waitForChange() tea.Cmd {
	if a.watcher == nil {
		return nil
	}
	changes := a.watcher.Changes()
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return sessionsChangedMsg{}
	}
}

func (a *App) columns() (int, int) {
	width := a.width
	if width <= 0 {
		width = 100
	}
	left := max(32, width*2/5)
	right := width - left - 2
	if right < 24 {
		return width, 0
	}
	return left, right
}

// View renders the current state to a string.
func (a *App) View() string {
	left, right := a.columns()
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ CREW")
	leftBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, left)).
		Render(a.renderHistory())
	body := leftBox
	if right > 0 {
		rightBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(max(20, right)).
			Render(a.summary.View())
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	}
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderHistory() string {
	if a.loadErr != "" {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Render("Could not read sessions: " + a.loadErr)
	}
	if len(a.sessions) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("No sessions yet. Run `crew start <goal>` to begin.")
	}
	return a.history.View()
}

func (a *App) renderLogPanel() string {
	if a.journal == nil {
		return ""
	}
	lines, total := a.journal.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.journal.Path())
	if fileName == "." || fileName == "" {
		fileName = "journal"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("JOURNAL · %s (%d/%d)", fileName, len(lines), total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func statusMark(status session.Status) string {
	switch status {
	case session.StatusCompleted:
		return "✓"
	case session.StatusFailed:
		return "✗"
	default:
		return "●"
	}
}
