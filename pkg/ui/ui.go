package ui

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/renatogalera/chatstream/pkg/stream"
)

// uiState represents the different states of the TUI.
type uiState int

const (
	stateStreaming uiState = iota
	stateDone
)

type (
	streamDeltaMsg struct{ delta string }
	streamDoneMsg  struct{ err error }
)

var (
	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	logoText = `CHATSTREAM`

	replyBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2).
			Margin(1, 1)

	infoLineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Margin(0, 1).
			Italic(true)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")).
			Bold(true)

	errorBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("196")).
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Padding(1, 2).
			Margin(1, 1)
)

type keys struct {
	Stop key.Binding
	Quit key.Binding
}

var keyMap = keys{
	Stop: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "stop generating"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// Model renders one live reply stream.
type Model struct {
	state   uiState
	stream  *stream.Stream
	model   string
	prompt  string
	reply   strings.Builder
	tokens  int
	started time.Time
	elapsed time.Duration
	stopped bool
	err     error

	spinner spinner.Model
	help    help.Model
	width   int
	now     func() time.Time
}

// NewModel returns a view over st. prompt is the user message being
// answered and modelName is shown in the header.
func NewModel(st *stream.Stream, modelName, prompt string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &Model{
		state:   stateStreaming,
		stream:  st,
		model:   modelName,
		prompt:  prompt,
		spinner: s,
		help:    help.New(),
		width:   80,
		now:     time.Now,
	}
}

// Run shows the model until the stream ends and the user quits. It returns
// the reply text and the stream error, if any.
func Run(m *Model) (string, error) {
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return "", fmt.Errorf("failed to run stream view: %w", err)
	}
	fm := final.(*Model)
	return fm.Reply(), fm.err
}

func (m *Model) Init() tea.Cmd {
	m.started = m.now()
	return tea.Batch(m.spinner.Tick, recvCmd(m.stream))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keyMap.Quit) {
			if m.state == stateStreaming {
				m.stopped = true
				_ = m.stream.Close()
			}
			return m, tea.Quit
		}
		if key.Matches(msg, keyMap.Stop) && m.state == stateStreaming {
			m.stopped = true
			_ = m.stream.Close()
			return m, nil
		}
		return m, nil

	case streamDeltaMsg:
		m.reply.WriteString(msg.delta)
		m.tokens++
		return m, recvCmd(m.stream)

	case streamDoneMsg:
		m.state = stateDone
		m.err = msg.err
		m.elapsed = m.now().Sub(m.started)
		return m, nil

	case spinner.TickMsg:
		if m.state != stateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) View() string {
	header := logoStyle.Render(logoText) + " " + infoLineStyle.Render(m.model)
	boxWidth := min(m.width-4, 100)

	var b strings.Builder
	b.WriteString(promptStyle.Render("> " + m.prompt))
	b.WriteString("\n")
	b.WriteString(replyBoxStyle.Width(boxWidth).Render(m.reply.String()))
	b.WriteString("\n")

	switch m.state {
	case stateStreaming:
		b.WriteString(fmt.Sprintf("%s Streaming %s", m.spinner.View(), humanize.Comma(int64(m.tokens))+" tokens"))
	case stateDone:
		if m.err != nil {
			b.WriteString(errorBoxStyle.Width(boxWidth).Render(m.err.Error()))
			b.WriteString("\n")
		}
		b.WriteString(infoLineStyle.Render(m.Stats()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, b.String(), m.help.View(m))
}

// Stats summarises the finished reply.
func (m *Model) Stats() string {
	status := "done"
	if m.stopped {
		status = "stopped"
	}
	if m.err != nil {
		status = "failed"
	}
	return fmt.Sprintf("%s: %s tokens, %s in %s",
		status,
		humanize.Comma(int64(m.tokens)),
		humanize.Bytes(uint64(m.reply.Len())),
		m.elapsed.Round(time.Millisecond))
}

// Reply returns the text received so far.
func (m *Model) Reply() string { return m.reply.String() }

func (m *Model) ShortHelp() []key.Binding {
	if m.state == stateStreaming {
		return []key.Binding{keyMap.Stop, keyMap.Quit}
	}
	return []key.Binding{keyMap.Quit}
}

func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{m.ShortHelp()}
}

// recvCmd reads a single token from the stream.
func recvCmd(st *stream.Stream) tea.Cmd {
	return func() tea.Msg {
		tok, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return streamDoneMsg{}
		}
		if err != nil {
			return streamDoneMsg{err: err}
		}
		return streamDeltaMsg{delta: tok}
	}
}
