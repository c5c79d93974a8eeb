// Package tui is the interactive terminal frontend: a small form to
// start a research task and a live progress view that follows it.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/timeouts"
	"github.com/researchd/researchd/sdk"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	barFillStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	barRestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("84"))
)

// Run shows the new-task form, submits it, and follows the task until
// it settles.
func Run(client *sdk.Client) error {
	prompt, sessionID, submitted, err := runNewTaskForm()
	if err != nil {
		return err
	}
	if !submitted {
		return nil
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
	defer cancel()
	response, err := client.CreateTask(ctx, schemas.TaskCreateRequest{
		SessionID: sessionID,
		Prompt:    prompt,
		Mode:      schemas.TaskModeBackground,
	})
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Research started"), labelStyle.Render(response.TaskID))
	return WatchTask(client, response.TaskID)
}

type newTaskModel struct {
	inputs    []textinput.Model
	focus     int
	submitted bool
	cancelled bool
}

func runNewTaskForm() (string, string, bool, error) {
	model := newNewTaskModel()
	program := tea.NewProgram(model)
	result, err := program.Run()
	if err != nil {
		return "", "", false, err
	}
	finalModel, ok := result.(newTaskModel)
	if !ok {
		return "", "", false, nil
	}
	if finalModel.cancelled || !finalModel.submitted {
		return "", "", false, nil
	}
	prompt := strings.TrimSpace(finalModel.inputs[0].Value())
	sessionID := strings.TrimSpace(finalModel.inputs[1].Value())
	if prompt == "" {
		return "", "", false, nil
	}
	return prompt, sessionID, true, nil
}

func newNewTaskModel() newTaskModel {
	prompt := textinput.New()
	prompt.Prompt = "Research prompt: "

	sessionID := textinput.New()
	sessionID.Prompt = "Session (optional): "

	inputs := []textinput.Model{prompt, sessionID}
	inputs[0].Focus()
	return newTaskModel{inputs: inputs}
}

func (m newTaskModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m newTaskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "tab":
			return m.moveFocus(1)
		case "shift+tab":
			return m.moveFocus(-1)
		case "enter":
			if m.focus == len(m.inputs)-1 {
				m.submitted = true
				return m, tea.Quit
			}
			return m.moveFocus(1)
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m newTaskModel) View() string {
	lines := []string{titleStyle.Render("New research task"), ""}
	for i, input := range m.inputs {
		marker := " "
		if i == m.focus {
			marker = ">"
		}
		lines = append(lines, fmt.Sprintf("%s %s", marker, input.View()))
	}
	lines = append(lines, "", labelStyle.Render("Tab: next field  Enter: submit  Ctrl+C: cancel"))
	return strings.Join(lines, "\n")
}

func (m newTaskModel) moveFocus(delta int) (tea.Model, tea.Cmd) {
	if len(m.inputs) == 0 {
		return m, nil
	}
	m.inputs[m.focus].Blur()
	count := len(m.inputs)
	m.focus = (m.focus + delta + count) % count
	return m, m.inputs[m.focus].Focus()
}

// WatchTask renders a live progress view for an existing task.
func WatchTask(client *sdk.Client, taskID string) error {
	model := watchModel{client: client, taskID: taskID}
	program := tea.NewProgram(model)
	result, err := program.Run()
	if err != nil {
		return err
	}
	if final, ok := result.(watchModel); ok && final.err != nil {
		return final.err
	}
	return nil
}

type watchModel struct {
	client *sdk.Client
	taskID string
	task   *schemas.TaskResponse
	err    error
}

type taskStatusMsg struct {
	task *schemas.TaskResponse
	err  error
}

type tickMsg struct{}

const pollInterval = 500 * time.Millisecond

func (m watchModel) Init() tea.Cmd {
	return m.fetch
}

func (m watchModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
	defer cancel()
	task, err := m.client.TaskStatus(ctx, m.taskID)
	return taskStatusMsg{task: task, err: err}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	case taskStatusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.task = msg.task
		if m.task.Status.IsTerminal() {
			return m, tea.Quit
		}
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return tickMsg{} })
	case tickMsg:
		return m, m.fetch
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.task == nil {
		return labelStyle.Render("Loading task...")
	}

	lines := []string{
		titleStyle.Render("Research task ") + labelStyle.Render(m.taskID),
		"",
		renderProgressBar(m.task.Progress),
		"",
	}
	switch m.task.Status {
	case schemas.TaskStatusCompleted:
		lines = append(lines, okStyle.Render("Completed"))
		if m.task.TotalCostUSD != nil {
			lines = append(lines, labelStyle.Render(fmt.Sprintf("Cost: $%.4f", *m.task.TotalCostUSD)))
		}
	case schemas.TaskStatusFailed:
		lines = append(lines, failStyle.Render("Failed: "+m.task.ErrorMessage))
	case schemas.TaskStatusCancelled:
		lines = append(lines, failStyle.Render("Cancelled"))
	default:
		message := m.task.ProgressMessage
		if message == "" {
			message = string(m.task.Status)
		}
		lines = append(lines, labelStyle.Render(message))
	}
	lines = append(lines, "", labelStyle.Render("q: stop watching"))
	return strings.Join(lines, "\n")
}

const barWidth = 30

func renderProgressBar(progress float64) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * barWidth)
	bar := barFillStyle.Render(strings.Repeat("█", filled)) +
		barRestStyle.Render(strings.Repeat("░", barWidth-filled))
	return fmt.Sprintf("%s %3.0f%%", bar, progress*100)
}
