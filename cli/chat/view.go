package chat

import (
	"fmt"
	"strings"

	"github.com/calder/wirechat/session"
)

// View renders the model
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder

	b.WriteString(m.renderTitle())
	b.WriteString("\n")

	b.WriteString(viewportStyle.Render(m.viewport.View()))
	b.WriteString("\n")

	if m.client.Streaming() {
		b.WriteString(fmt.Sprintf("%s Generating... (ctrl+c to stop)\n", m.spinner.View()))
	} else {
		b.WriteString(textAreaStyle.Render(m.textarea.View()))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
	}

	return b.String()
}

func (m *Model) renderTitle() string {
	model := m.client.Model()
	if model == "" {
		model = "no model"
	}
	connection := "offline"
	if m.conn.Ready() {
		connection = "online"
	}
	sess := m.client.Store().ActiveClone()
	title := fmt.Sprintf(" %s | %s | %s | %s ", model, sess.Title, sess.Summary(), connection)
	return titleStyle.Width(m.width).Render(title)
}

func (m *Model) renderMessages() string {
	var b strings.Builder
	sess := m.client.Store().ActiveClone()

	for i, message := range sess.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}

		if message.Deleted {
			b.WriteString(deletedStyle.Render("Message deleted (alt+u to undo)"))
			continue
		}

		switch message.Role {
		case session.RoleUser:
			content := message.Content
			if message.Editing {
				content += "\n" + deletedStyle.Render("(editing...)")
			}
			b.WriteString(userMessageStyle.Render(content))

		case session.RoleAssistant:
			content := message.CurrentContent()
			if m.renderer != nil {
				content = m.renderer.toMarkdown(content)
			}
			b.WriteString(assistantMessageStyle.Render(content))
			if pills := renderVersionPills(message); pills != "" {
				b.WriteString("\n")
				b.WriteString(pills)
			}

		case session.RoleSystem:
			b.WriteString(systemStyle.Render(fmt.Sprintf("System: %s", message.Content)))
		}
	}

	return b.String()
}

// renderVersionPills shows the selectable versions of an assistant message
// once a regeneration produced more than one.
func renderVersionPills(message *session.Message) string {
	if len(message.Versions) < 2 {
		return ""
	}
	pills := make([]string, len(message.Versions))
	for i := range message.Versions {
		pill := fmt.Sprintf("v%d", i+1)
		if i == message.CurrentVersion {
			pills[i] = activeVersionPillStyle.Render("[" + pill + "]")
		} else {
			pills[i] = versionPillStyle.Render(pill)
		}
	}
	return strings.Join(pills, " ")
}
