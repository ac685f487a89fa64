package chat

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/calder/wirechat/client"
	"github.com/calder/wirechat/configuration"
	"github.com/calder/wirechat/session"
	"github.com/calder/wirechat/transport"
)

const statusDuration = 3 * time.Second

// Message types for Bubble Tea
type (
	refreshMsg     struct{}
	clearStatusMsg struct{}
)

// Model represents the Bubble Tea model for the chat
type Model struct {
	config *configuration.Config
	client *client.Client
	conn   *transport.Conn

	// UI components
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *renderer

	// UI state
	width     int
	height    int
	ready     bool
	quitting  bool
	status    string
	editingID string

	// Program reference for sending messages from goroutines
	program   *tea.Program
	programMu sync.Mutex
}

// NewModel creates a new chat model
func NewModel(config *configuration.Config, c *client.Client, conn *transport.Conn) *Model {
	ta := textarea.New()
	ta.Placeholder = "Type your message... (Ctrl+J to send, Ctrl+C to quit)"
	ta.Focus()
	ta.CharLimit = 0
	ta.SetWidth(defaultTextareaWidth)
	ta.SetHeight(minTextareaHeight)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(true)
	ta.Prompt = ""

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	renderer, err := newRenderer(defaultTextareaWidth)
	if err != nil {
		renderer = nil // plain-text fallback
	}

	return &Model{
		config:   config,
		client:   c,
		conn:     conn,
		textarea: ta,
		spinner:  sp,
		renderer: renderer,
	}
}

// SetProgram sets the tea.Program reference for async message sending
func (m *Model) SetProgram(p *tea.Program) {
	m.programMu.Lock()
	defer m.programMu.Unlock()
	m.program = p
}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
	)
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case refreshMsg:
		m.refreshViewport(true)
		return m, nil

	case clearStatusMsg:
		m.status = ""
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalculateLayout()

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Update textarea while input is allowed
	if !m.client.Streaming() {
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		cmds = append(cmds, cmd)
		m.adjustTextareaHeight()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey dispatches a key press; handled=false hands the key to the
// textarea/viewport.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.client.Streaming() {
			m.client.Stop()
			return m.setStatus("stop requested"), true
		}
		m.quitting = true
		return tea.Quit, true

	case tea.KeyCtrlJ:
		return m.submit(), true

	case tea.KeyEsc:
		if m.editingID != "" {
			_ = m.client.Store().SetEditing(m.activeID(), m.editingID, false)
			m.editingID = ""
			m.textarea.Reset()
			m.refreshViewport(false)
			return nil, true
		}
	}

	switch msg.String() {
	case "ctrl+n":
		if _, err := m.client.Store().NewSession(m.config.SystemPrompt); err != nil {
			return m.setStatus(err.Error()), true
		}
		m.editingID = ""
		m.refreshViewport(true)
		return m.setStatus("new chat"), true

	case "alt+n", "alt+p":
		m.switchSession(msg.String() == "alt+n")
		return nil, true

	case "ctrl+r":
		return m.regenerate(), true

	case "ctrl+t":
		return m.continueLast(), true

	case "alt+d":
		return m.deleteLast(), true

	case "alt+u":
		return m.undoLast(), true

	case "alt+v":
		return m.cycleVersion(), true

	case "alt+e":
		return m.startEdit(), true

	case "alt+h":
		return m.setStatus(fmt.Sprintf("health check: %s", m.client.HealthCheck())), true

	case "alt+m":
		return m.cycleModel(), true
	}

	return nil, false
}

// submit sends the textarea content: a new message normally, or the edited
// content when an edit is in progress.
func (m *Model) submit() tea.Cmd {
	text := m.textarea.Value()

	if m.editingID != "" {
		if m.client.Streaming() {
			return m.setStatus("cannot edit while streaming")
		}
		if err := m.client.Store().EditContent(m.activeID(), m.editingID, text); err != nil {
			return m.setStatus(err.Error())
		}
		m.editingID = ""
		m.textarea.Reset()
		m.refreshViewport(false)
		return m.setStatus("message updated")
	}

	outcome := m.client.Send(m.activeID(), text)
	if outcome != client.Dispatched {
		return m.setStatus(outcome.String())
	}
	m.textarea.Reset()
	m.recalculateLayout()
	m.refreshViewport(true)
	return nil
}

func (m *Model) regenerate() tea.Cmd {
	id := m.lastAssistantID()
	if id == "" {
		return m.setStatus("nothing to regenerate")
	}
	outcome := m.client.Regenerate(m.activeID(), id)
	if outcome != client.Dispatched {
		return m.setStatus(outcome.String())
	}
	m.refreshViewport(true)
	return nil
}

func (m *Model) continueLast() tea.Cmd {
	id := m.lastAssistantID()
	if id == "" {
		return m.setStatus("nothing to continue")
	}
	outcome := m.client.Continue(m.activeID(), id)
	if outcome != client.Dispatched {
		return m.setStatus(outcome.String())
	}
	m.refreshViewport(true)
	return nil
}

func (m *Model) deleteLast() tea.Cmd {
	sess := m.client.Store().ActiveClone()
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Deleted {
			continue
		}
		if err := m.client.Store().SoftDelete(sess.ID, sess.Messages[i].ID); err != nil {
			return m.setStatus(err.Error())
		}
		m.refreshViewport(false)
		return m.setStatus("message deleted (alt+u to undo)")
	}
	return m.setStatus("nothing to delete")
}

func (m *Model) undoLast() tea.Cmd {
	sess := m.client.Store().ActiveClone()
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if !sess.Messages[i].Deleted {
			continue
		}
		if err := m.client.Store().Undo(sess.ID, sess.Messages[i].ID); err != nil {
			return m.setStatus(err.Error())
		}
		m.refreshViewport(false)
		return m.setStatus("message restored")
	}
	return m.setStatus("nothing to undo")
}

func (m *Model) cycleVersion() tea.Cmd {
	sess := m.client.Store().ActiveClone()
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		message := sess.Messages[i]
		if message.Role != session.RoleAssistant || message.Deleted {
			continue
		}
		if len(message.Versions) < 2 {
			return m.setStatus("only one version")
		}
		next := (message.CurrentVersion + 1) % len(message.Versions)
		if err := m.client.Store().SelectVersion(sess.ID, message.ID, next); err != nil {
			return m.setStatus(err.Error())
		}
		m.refreshViewport(false)
		return m.setStatus(fmt.Sprintf("version %d/%d", next+1, len(message.Versions)))
	}
	return m.setStatus("no assistant message")
}

func (m *Model) startEdit() tea.Cmd {
	if m.client.Streaming() {
		return m.setStatus("cannot edit while streaming")
	}
	sess := m.client.Store().ActiveClone()
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		message := sess.Messages[i]
		if message.Role != session.RoleUser || message.Deleted {
			continue
		}
		m.editingID = message.ID
		_ = m.client.Store().SetEditing(sess.ID, message.ID, true)
		m.textarea.SetValue(message.Content)
		m.adjustTextareaHeight()
		m.refreshViewport(false)
		return m.setStatus("editing message (ctrl+j to save, esc to cancel)")
	}
	return m.setStatus("no user message to edit")
}

func (m *Model) cycleModel() tea.Cmd {
	models := m.client.Models()
	if len(models) == 0 {
		return m.setStatus("no models offered")
	}
	current := m.client.Model()
	next := models[0]
	for i, model := range models {
		if model == current {
			next = models[(i+1)%len(models)]
			break
		}
	}
	m.client.SelectModel(next)
	return m.setStatus(fmt.Sprintf("model: %s", next))
}

func (m *Model) switchSession(forward bool) {
	entries := m.client.Store().List()
	if len(entries) < 2 {
		return
	}
	active := 0
	for i, entry := range entries {
		if entry.Active {
			active = i
			break
		}
	}
	var next int
	if forward {
		next = (active + 1) % len(entries)
	} else {
		next = (active - 1 + len(entries)) % len(entries)
	}
	_ = m.client.Store().SwitchSession(entries[next].ID)
	m.editingID = ""
	m.refreshViewport(true)
}

func (m *Model) activeID() string {
	return m.client.Store().ActiveID()
}

func (m *Model) lastAssistantID() string {
	sess := m.client.Store().ActiveClone()
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		message := sess.Messages[i]
		if message.Role == session.RoleAssistant && !message.Deleted {
			return message.ID
		}
	}
	return ""
}

func (m *Model) setStatus(status string) tea.Cmd {
	m.status = status
	return tea.Tick(statusDuration, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

func (m *Model) refreshViewport(gotoBottom bool) {
	if !m.ready {
		return
	}
	wasAtBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderMessages())
	if gotoBottom || wasAtBottom {
		m.viewport.GotoBottom()
	}
}

// adjustTextareaHeight resizes the textarea based on content line count
func (m *Model) adjustTextareaHeight() {
	content := m.textarea.Value()
	lineCount := strings.Count(content, "\n") + 1

	newHeight := lineCount
	if newHeight < minTextareaHeight {
		newHeight = minTextareaHeight
	}
	if newHeight > maxTextareaHeight {
		newHeight = maxTextareaHeight
	}

	if m.textarea.Height() != newHeight {
		m.textarea.SetHeight(newHeight)
		m.recalculateLayout()
	}
}

// recalculateLayout adjusts viewport and textarea dimensions based on current state
func (m *Model) recalculateLayout() {
	if m.width == 0 || m.height == 0 {
		return
	}

	viewportHeight := m.height - headerHeight
	viewportHeight -= m.textarea.Height() + inputBorderHeight
	if m.status != "" {
		viewportHeight -= 1
	}
	if viewportHeight < minViewportHeight {
		viewportHeight = minViewportHeight
	}

	if m.renderer != nil {
		_ = m.renderer.SetWidth(m.width - messageHorizontalFrameSize)
	}

	if !m.ready {
		m.viewport = viewport.New(m.width, viewportHeight)
		m.ready = true
		m.viewport.SetContent(m.renderMessages())
		m.viewport.GotoBottom()
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = viewportHeight
		m.viewport.SetContent(m.renderMessages())
	}

	m.textarea.SetWidth(m.width - textAreaStyle.GetHorizontalPadding() - textAreaStyle.GetHorizontalBorderSize())
}
