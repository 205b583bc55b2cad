// Package menu is the interactive operation picker behind `hbrun menu`.
// It only collects a request; running it is the caller's job.
package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"

	"github.com/mattjoyce/hbrun/internal/session"
	"github.com/mattjoyce/hbrun/internal/subcommand"
	"github.com/mattjoyce/hbrun/internal/tui"
)

// ErrCancelled is returned when the user leaves the menu without choosing.
var ErrCancelled = errors.New("menu cancelled")

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	promptStyle     = lipgloss.NewStyle().Margin(1, 0, 0, 2)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

type step int

const (
	stepPick step = iota
	stepPrompt
	stepDone
	stepCancelled
)

type slot string

const (
	slotInput   slot = "input"
	slotOutput  slot = "output"
	slotProfile slot = "profile"
	slotPattern slot = "pattern"
)

type item struct {
	index int
	spec  subcommand.Spec
}

func (i item) Title() string       { return fmt.Sprintf("%d. %s", i.index+1, i.spec.Description) }
func (i item) Description() string { return string(i.spec.Name) }
func (i item) FilterValue() string { return string(i.spec.Name) }

type field struct {
	slot     slot
	prompt   string
	required bool
}

// Model collects one request.
type Model struct {
	fs    afero.Fs
	theme tui.Theme

	list   list.Model
	input  textinput.Model
	step   step
	spec   subcommand.Spec
	fields []field
	cur    int
	values map[slot]string
	errMsg string
}

// New builds the menu. Evidence paths are checked against fs; nil means
// the OS filesystem.
func New(fs afero.Fs) Model {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	var items []list.Item
	for i, spec := range subcommand.All() {
		items = append(items, item{index: i, spec: spec})
	}

	l := list.New(items, list.NewDefaultDelegate(), 80, 24)
	l.Title = "Select an operation (Enter to choose, q to quit)"
	l.SetFilteringEnabled(false)
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle

	return Model{
		fs:     fs,
		theme:  tui.NewDefaultTheme(),
		list:   l,
		values: make(map[slot]string),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.step = stepCancelled
			return m, tea.Quit
		}
		switch m.step {
		case stepPick:
			return m.updatePick(msg)
		case stepPrompt:
			return m.updatePrompt(msg)
		}
	}

	if m.step == stepPrompt {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updatePick(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.step = stepCancelled
		return m, tea.Quit
	case "enter":
		it, ok := m.list.SelectedItem().(item)
		if !ok {
			return m, nil
		}
		m.spec = it.spec
		m.fields = fieldsFor(it.spec)
		m.values = make(map[slot]string)
		m.cur = 0
		if len(m.fields) == 0 {
			m.step = stepDone
			return m, tea.Quit
		}
		m.step = stepPrompt
		return m, m.startField()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.step = stepPick
		m.errMsg = ""
		return m, nil
	case "enter":
		f := m.fields[m.cur]
		value := strings.TrimSpace(m.input.Value())
		if value == "" && f.required {
			m.errMsg = "A value is required."
			return m, nil
		}
		if f.slot == slotInput {
			if _, err := m.fs.Stat(value); err != nil {
				m.errMsg = "Invalid file path. Please ensure the file or directory exists and try again."
				return m, nil
			}
		}
		m.values[f.slot] = value
		m.errMsg = ""
		m.cur++
		if m.cur == len(m.fields) {
			m.step = stepDone
			return m, tea.Quit
		}
		return m, m.startField()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) startField() tea.Cmd {
	f := m.fields[m.cur]
	ti := textinput.New()
	ti.Placeholder = string(f.slot)
	ti.CharLimit = 4096
	m.input = ti
	return m.input.Focus()
}

func (m Model) View() string {
	switch m.step {
	case stepCancelled:
		return quitTextStyle.Render("Cancelled.")
	case stepDone:
		return quitTextStyle.Render(fmt.Sprintf("Running %s...", m.spec.Name))
	case stepPrompt:
		f := m.fields[m.cur]
		lines := []string{
			m.theme.Header.Render(fmt.Sprintf("%s (%s)", m.spec.Description, m.spec.Name)),
			f.prompt + ":",
			m.input.View(),
		}
		if m.errMsg != "" {
			lines = append(lines, m.theme.StatusFailed.Render(m.errMsg))
		}
		lines = append(lines, m.theme.Dim.Render("[enter] confirm • [esc] back"))
		return promptStyle.Render(strings.Join(lines, "\n"))
	}
	return "\n" + m.list.View()
}

// Done reports whether a complete request was collected.
func (m Model) Done() bool {
	return m.step == stepDone
}

// Request returns the collected request. Operations that read evidence, and
// list-profiles, persist their output; the rest are printed.
func (m Model) Request() session.Request {
	return session.Request{
		Subcommand: string(m.spec.Name),
		Params: subcommand.Params{
			Input:   m.values[slotInput],
			Output:  m.values[slotOutput],
			Profile: m.values[slotProfile],
			Pattern: m.values[slotPattern],
		},
		Persist: m.spec.TakesInput() || m.spec.Name == subcommand.ListProfiles,
	}
}

// Run shows the menu on the terminal and returns the chosen request.
func Run(ctx context.Context, fs afero.Fs, opts ...tea.ProgramOption) (session.Request, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(New(fs), opts...).Run()
	if err != nil {
		return session.Request{}, fmt.Errorf("run menu: %w", err)
	}
	m, ok := final.(Model)
	if !ok || !m.Done() {
		return session.Request{}, ErrCancelled
	}
	return m.Request(), nil
}

func fieldsFor(spec subcommand.Spec) []field {
	var out []field
	add := func(s slot, req subcommand.Requirement, prompt string) {
		if req == subcommand.Unused {
			return
		}
		out = append(out, field{slot: s, prompt: prompt, required: req == subcommand.Required})
	}

	add(slotInput, spec.Input, "Enter the path to the EVTX file or directory")
	switch spec.Name {
	case subcommand.CSVTimeline:
		add(slotOutput, spec.Output, "Enter the path to save the CSV timeline")
	case subcommand.JSONTimeline:
		add(slotOutput, spec.Output, "Enter the path to save the JSON timeline")
	default:
		add(slotOutput, spec.Output, "Enter the output path")
	}
	add(slotProfile, spec.Profile, "Enter the profile to set as default")
	add(slotPattern, spec.Pattern, "Enter the keywords or regex to search for")
	return out
}
