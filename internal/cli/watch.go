package cli

import (
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/re-cinq/ralph/internal/eventbus"
	"github.com/re-cinq/ralph/internal/orchestrator"
	"github.com/re-cinq/ralph/internal/state"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of every project and its orchestrator state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		m := newWatchModel(a)
		p := tea.NewProgram(m)
		_, err = p.Run()
		return err
	},
}

var (
	watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	watchDimStyle    = lipgloss.NewStyle().Faint(true)
)

// watchModel is a bubbletea model polling a.State/a.Orchestrator on a
// tick and re-rendering the project table; it replaces the teacher's
// statusline.go ANSI-clear-screen follow loop with bubbletea's render
// model.
type watchModel struct {
	a       *app
	snap    state.Snapshot
	entries map[string]orchestrator.Entry
	events  <-chan eventbus.Event
	width   int
}

func newWatchModel(a *app) watchModel {
	events, _ := a.Bus.Subscribe()
	return watchModel{
		a:       a,
		snap:    a.State.GetState(),
		entries: a.Orchestrator.Status(),
		events:  events,
	}
}

type watchTickMsg time.Time
type watchEventMsg eventbus.Event

func watchTick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return watchTickMsg(t) })
}

func (m watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return nil
		}
		return watchEventMsg(e)
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(watchTick(), m.waitForEvent())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case watchTickMsg:
		m.snap = m.a.State.GetState()
		m.entries = m.a.Orchestrator.Status()
		return m, watchTick()
	case watchEventMsg:
		m.snap = m.a.State.GetState()
		m.entries = m.a.Orchestrator.Status()
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m watchModel) View() string {
	out := watchHeaderStyle.Render("ralph watch") + watchDimStyle.Render("  (q to quit)") + "\n\n"

	projects := append([]state.Project(nil), m.snap.Projects...)
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })

	if len(projects) == 0 {
		out += watchDimStyle.Render("no projects yet — `ralph project add`") + "\n"
		return out
	}

	for _, p := range projects {
		symbol, color := projectStateDisplay(p.Status)
		style := lipgloss.NewStyle().Foreground(colorToLipgloss(color))
		line := fmt.Sprintf("%s %-24s %-10s updated %s", style.Render(symbol), p.Name, p.Status, humanize.Time(p.UpdatedAt))

		if e, ok := m.entries[p.ID]; ok {
			rsymbol, rcolor := runStateDisplay(e.Status)
			rstyle := lipgloss.NewStyle().Foreground(colorToLipgloss(rcolor))
			task := e.CurrentTaskID
			if task == "" {
				task = "—"
			}
			line += fmt.Sprintf("  %s %s task=%s", rstyle.Render(rsymbol), e.Status, task)
		}
		out += line + "\n"
	}
	return out
}

// colorToLipgloss maps this package's ANSI escape constants to the
// lipgloss ANSI color code they already encode, since lipgloss wants a
// bare code rather than a raw escape sequence.
func colorToLipgloss(ansi string) lipgloss.Color {
	switch ansi {
	case ansiGreen:
		return lipgloss.Color("2")
	case ansiCyan:
		return lipgloss.Color("6")
	case ansiYellow:
		return lipgloss.Color("3")
	case ansiRed:
		return lipgloss.Color("1")
	case ansiDim:
		return lipgloss.Color("8")
	default:
		return lipgloss.Color("7")
	}
}
