package cli

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/valter-silva-au/gwq/internal/storage"
	"github.com/valter-silva-au/gwq/pkg/models"
)

// watchRefreshInterval is how often the watch view reloads the queue.
const watchRefreshInterval = 2 * time.Second

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("241"))
	watchErrStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	watchHelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	watchStatusStyles = map[models.TaskStatus]lipgloss.Style{
		models.StatusPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		models.StatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		models.StatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.StatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

// watchTasks runs the live-refreshing task list until the user quits.
func watchTasks(filter storage.Filter) error {
	model := watchModel{filter: filter}
	_, err := tea.NewProgram(model).Run()
	return err
}

type watchTickMsg time.Time

type watchTasksMsg struct {
	tasks []models.Task
	err   error
}

type watchModel struct {
	filter  storage.Filter
	tasks   []models.Task
	err     error
	updated time.Time
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.loadTasks, watchTick())
}

func watchTick() tea.Cmd {
	return tea.Tick(watchRefreshInterval, func(t time.Time) tea.Msg {
		return watchTickMsg(t)
	})
}

func (m watchModel) loadTasks() tea.Msg {
	tasks, err := Store.List(m.filter, storage.SortByPriority)
	return watchTasksMsg{tasks: tasks, err: err}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.loadTasks
		}
	case watchTickMsg:
		return m, tea.Batch(m.loadTasks, watchTick())
	case watchTasksMsg:
		m.tasks = msg.tasks
		m.err = msg.err
		m.updated = time.Now()
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(watchTitleStyle.Render("gwq task queue"))
	if !m.updated.IsZero() {
		b.WriteString(watchHelpStyle.Render(fmt.Sprintf("  updated %s", m.updated.Format("15:04:05"))))
	}
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(watchErrStyle.Render("error: " + m.err.Error()))
		b.WriteString("\n")
	}

	if len(m.tasks) == 0 {
		b.WriteString("No tasks in the queue.\n")
	} else {
		b.WriteString(watchHeaderStyle.Render(fmt.Sprintf("%-8s %-10s %4s  %-7s %-20s %6s  %s",
			"ID", "STATUS", "PRI", "RUNNER", "WORKTREE", "AGE", "NAME")))
		b.WriteString("\n")
		for _, task := range m.tasks {
			status := string(task.Status)
			if style, ok := watchStatusStyles[task.Status]; ok {
				status = style.Render(fmt.Sprintf("%-10s", status))
			} else {
				status = fmt.Sprintf("%-10s", status)
			}
			b.WriteString(fmt.Sprintf("%-8s %s %4d  %-7s %-20s %6s  %s\n",
				task.ID,
				status,
				task.Priority,
				task.Runner,
				truncate(task.Worktree, 20),
				formatAge(time.Since(task.CreatedAt)),
				truncate(task.DisplayName(), 40),
			))
		}
	}

	b.WriteString("\n")
	b.WriteString(watchHelpStyle.Render("r refresh • q quit"))
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
