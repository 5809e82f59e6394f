// Package tui is the interactive chat shell. All orchestration lives in
// the agent package; this model renders events and forwards input.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/CriticalRange/arula-go/internal/agent"
	"github.com/CriticalRange/arula-go/internal/session"
	"github.com/CriticalRange/arula-go/internal/tui/theme"
)

const version = "1.0.0"

// Layout constants for height calculations.
const (
	layoutHeaderHeight = 2
	layoutStatusHeight = 2
	layoutEditorHeight = 4
)

// Bubble Tea message types.

type agentEventMsg struct {
	event agent.Event
	ok    bool
}

type askPromptMsg struct {
	req *askRequest
}

// askRequest routes an ask_user tool call into the shell.
type askRequest struct {
	question string
	reply    chan askReply
}

type askReply struct {
	answer   string
	answered bool
}

// Model is the main TUI model.
type Model struct {
	agent *agent.Agent
	store *session.Store

	viewport viewport.Model
	editor   textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool

	modelName  string
	streaming  bool
	transcript []string
	draft      string

	events <-chan agent.Event
	askCh  chan *askRequest
	ask    *askRequest
}

// New creates the shell around an agent.
func New(ag *agent.Agent, store *session.Store, modelName string) *Model {
	t := theme.Current

	ta := textarea.New()
	ta.Placeholder = "Ask anything, or /help"
	ta.CharLimit = 0
	ta.SetHeight(2)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(t.Primary)

	return &Model{
		agent:      ag,
		store:      store,
		editor:     ta,
		spinner:    sp,
		modelName:  modelName,
		askCh:      make(chan *askRequest, 1),
		transcript: []string{welcomeMessage(modelName)},
	}
}

// AskUser is the PromptFunc handed to the ask_user tool. It blocks the
// calling tool goroutine until the user answers in the shell.
func (m *Model) AskUser(question string) (string, bool) {
	req := &askRequest{question: question, reply: make(chan askReply, 1)}
	m.askCh <- req
	r := <-req.reply
	return r.answer, r.answered
}

// ConfirmAction creates a confirmation function for tools.
func ConfirmAction(prompt string) bool {
	// In TUI mode actions are auto-approved.
	// TODO: route through an askRequest-style dialog like AskUser.
	return true
}

func welcomeMessage(modelName string) string {
	t := theme.Current
	return lipgloss.NewStyle().Foreground(t.TextMuted).Render(
		fmt.Sprintf("arula %s · %s · Enter to send · Esc to cancel · /help for commands", version, modelName))
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textarea.Blink, waitForAsk(m.askCh))
}

// readNextEvent pumps one agent event into the update loop.
func readNextEvent(events <-chan agent.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return agentEventMsg{event: ev, ok: ok}
	}
}

func waitForAsk(ch chan *askRequest) tea.Cmd {
	return func() tea.Msg {
		return askPromptMsg{req: <-ch}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - layoutHeaderHeight - layoutStatusHeight - layoutEditorHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.editor.SetWidth(m.width - 2)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("dark"),
			glamour.WithWordWrap(m.width-10),
		)
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.agent.Cancel()
			if m.store != nil {
				m.store.Close()
			}
			return m, tea.Quit

		case tea.KeyEsc:
			if m.streaming {
				m.agent.Cancel()
			}

		case tea.KeyEnter:
			input := strings.TrimSpace(m.editor.Value())
			if input == "" {
				break
			}
			if m.ask != nil {
				m.ask.reply <- askReply{answer: input, answered: true}
				m.ask = nil
				m.editor.Reset()
				return m, waitForAsk(m.askCh)
			}
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			if m.streaming {
				break
			}
			m.editor.Reset()
			return m, m.sendMessage(input)
		}

	case askPromptMsg:
		m.ask = msg.req
		m.appendLine(styleInfo("? " + msg.req.question))

	case agentEventMsg:
		if !msg.ok {
			m.streaming = false
			m.events = nil
			break
		}
		m.handleAgentEvent(msg.event)
		cmds = append(cmds, readNextEvent(m.events))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	cmds = append(cmds, cmd)
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleAgentEvent(ev agent.Event) {
	t := theme.Current
	switch ev.Type {
	case "start":
		m.draft = ""

	case "chunk":
		m.draft += ev.Text
		m.refreshViewport()

	case "tool_start":
		m.appendLine(lipgloss.NewStyle().Foreground(t.Warning).Render(
			fmt.Sprintf("⚙ %s(%s)", ev.ToolName, ev.ToolArgs)))

	case "tool_result":
		marker := lipgloss.NewStyle().Foreground(t.Success).Render("✓")
		if ev.ToolError {
			marker = lipgloss.NewStyle().Foreground(t.Error).Render("✗")
		}
		m.appendLine(fmt.Sprintf("%s %s", marker, ev.ToolName))

	case "done":
		m.commitDraft(ev.FinalResponse)
		m.streaming = false

	case "cancelled":
		m.draft = ""
		m.appendLine(styleInfo(agent.CancelledNote))
		m.streaming = false

	case "error":
		m.draft = ""
		m.appendLine(lipgloss.NewStyle().Foreground(t.Error).Render(fmt.Sprintf("error: %v", ev.Err)))
		m.streaming = false
	}
}

func (m *Model) sendMessage(content string) tea.Cmd {
	t := theme.Current
	m.appendLine(lipgloss.NewStyle().Foreground(t.Primary).Bold(true).Render("you ") + content)
	m.streaming = true
	m.events = m.agent.Submit(context.Background(), content)
	return readNextEvent(m.events)
}

func (m *Model) handleCommand(input string) (tea.Model, tea.Cmd) {
	m.editor.Reset()
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		if m.store != nil {
			m.store.Close()
		}
		return m, tea.Quit

	case "/help":
		m.appendLine(styleInfo("commands: /quit · /conversations · /resume <id> · /help"))

	case "/conversations":
		m.listConversations()

	case "/resume":
		if len(fields) < 2 {
			m.appendLine(styleInfo("usage: /resume <id>"))
			break
		}
		m.resumeConversation(fields[1])

	default:
		m.appendLine(styleInfo("unknown command: " + fields[0]))
	}
	return m, nil
}

func (m *Model) listConversations() {
	if m.store == nil {
		m.appendLine(styleInfo("conversation persistence is disabled"))
		return
	}
	summaries, err := m.store.List()
	if err != nil {
		m.appendLine(styleInfo("failed to list conversations: " + err.Error()))
		return
	}
	if len(summaries) == 0 {
		m.appendLine(styleInfo("no saved conversations"))
		return
	}
	var sb strings.Builder
	sb.WriteString("saved conversations:")
	for _, s := range summaries {
		sb.WriteString(fmt.Sprintf("\n  %s · %s · %d messages", s.ID, s.Title, s.Messages))
	}
	m.appendLine(styleInfo(sb.String()))
}

func (m *Model) resumeConversation(id string) {
	if m.store == nil {
		m.appendLine(styleInfo("conversation persistence is disabled"))
		return
	}
	if m.streaming {
		m.appendLine(styleInfo("finish or cancel the current request first"))
		return
	}
	conv, err := m.store.Load(id)
	if err != nil {
		m.appendLine(styleInfo("failed to load conversation: " + err.Error()))
		return
	}
	m.appendLine(styleInfo(fmt.Sprintf("found %q; start arula with --resume %s to continue it", conv.Title(), id)))
}

func (m *Model) commitDraft(final string) {
	t := theme.Current
	text := final
	if text == "" {
		text = m.draft
	}
	m.draft = ""
	label := lipgloss.NewStyle().Foreground(t.Secondary).Bold(true).Render("arula")
	m.appendLine(label + "\n" + m.renderMarkdown(text))
}

// renderMarkdown renders assistant text through glamour, falling back
// to the raw string when no renderer is available.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(text); err == nil {
			return strings.TrimSpace(rendered)
		}
	}
	return text
}

func (m *Model) appendLine(line string) {
	m.transcript = append(m.transcript, line)
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	content := strings.Join(m.transcript, "\n\n")
	if m.draft != "" {
		t := theme.Current
		label := lipgloss.NewStyle().Foreground(t.Secondary).Bold(true).Render("arula ")
		content += "\n\n" + label + m.draft
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(content))
	m.viewport.GotoBottom()
}

func styleInfo(s string) string {
	return lipgloss.NewStyle().Foreground(theme.Current.TextMuted).Render(s)
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	t := theme.Current

	header := lipgloss.NewStyle().Foreground(t.Primary).Bold(true).Render("arula") +
		lipgloss.NewStyle().Foreground(t.TextMuted).Render(" · "+m.modelName)

	status := ""
	switch {
	case m.ask != nil:
		status = lipgloss.NewStyle().Foreground(t.Warning).Render("answer the question above and press Enter")
	case m.streaming:
		status = m.spinner.View() + lipgloss.NewStyle().Foreground(t.TextMuted).Render(" thinking · Esc to cancel")
	default:
		status = lipgloss.NewStyle().Foreground(t.TextMuted).Render("ready")
	}

	width := m.width
	if width < 1 {
		width = 1
	}
	separator := lipgloss.NewStyle().Foreground(t.Border).Render(strings.Repeat("─", width))

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		separator,
		m.viewport.View(),
		separator,
		m.editor.View(),
		status,
	)
}
