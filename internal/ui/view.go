package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"todoapp/internal/todos"
)

func (m *Model) View() string {
	var b strings.Builder
	writeTitle(&b, screenTitle(m.screen))

	if m.screen == screenLoading {
		b.WriteString("Checking session...\n")
		return b.String()
	}

	if m.screen == screenTodos {
		m.writeTodos(&b)
	} else {
		for i, f := range m.fields {
			b.WriteString(f.render(i == m.focus) + "\n")
		}
		b.WriteString("\n")
	}

	if m.pending {
		b.WriteString("Please wait...\n\n")
	}
	if m.notice != "" {
		b.WriteString(m.notice + "\n\n")
	}
	if m.errMsg != "" {
		b.WriteString("Error: " + m.errMsg + "\n\n")
	}

	b.WriteString(screenHelp(m.screen, m.listFocus) + "\n")
	return b.String()
}

func (m *Model) writeTodos(b *strings.Builder) {
	if state := m.sessions.State(); state.Authenticated() {
		fmt.Fprintf(b, "Signed in as %s\n\n", state.Identity.Email)
	}

	b.WriteString(m.field(0).render(!m.listFocus) + "\n\n")

	items := m.store.Items()
	if len(items) == 0 {
		b.WriteString("  No todos yet. Add one above!\n\n")
	} else {
		for i, item := range items {
			b.WriteString(formatItem(item, m.listFocus && i == m.cursor) + "\n")
		}
		b.WriteString("\n")
	}

	s := m.store.Summary()
	fmt.Fprintf(b, "Total: %d | Completed: %d | Pending: %d\n\n", s.Total, s.Completed, s.Pending)
}

func formatItem(item todos.Item, selected bool) string {
	prefix := "  "
	if selected {
		prefix = "> "
	}
	mark := "[ ]"
	if item.Completed {
		mark = "[x]"
	}
	return fmt.Sprintf("%s%s %s", prefix, mark, item.Text)
}

func writeTitle(b *strings.Builder, title string) {
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")
}

func screenTitle(s screen) string {
	switch s {
	case screenLogin:
		return "Log In"
	case screenSignUp:
		return "Create Account"
	case screenVerify:
		return "Verify Email"
	case screenForgot:
		return "Forgot Password"
	case screenReset:
		return "Reset Password"
	case screenTodos:
		return "My Todos"
	default:
		return "Todo App"
	}
}

func screenHelp(s screen, listFocus bool) string {
	switch s {
	case screenLogin:
		return "enter: log in  ctrl+n: sign up  ctrl+f: forgot password  ctrl+e: verify email  ctrl+c: quit"
	case screenVerify:
		return "enter: verify  ctrl+r: resend code  esc: back  ctrl+c: quit"
	case screenTodos:
		if listFocus {
			return "up/down: move  space: toggle  d: delete  c: clear completed  tab: new todo  ctrl+o: sign out"
		}
		return "enter: add  tab: select todos  ctrl+o: sign out  ctrl+c: quit"
	default:
		return "enter: submit  tab: next field  esc: back  ctrl+c: quit"
	}
}

var _ tea.Model = (*Model)(nil)
