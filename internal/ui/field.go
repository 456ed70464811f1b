package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// textField is a single-line input.
type textField struct {
	label  string
	value  []rune
	secret bool
}

func newField(label string, secret bool) *textField {
	return &textField{label: label, secret: secret}
}

func (f *textField) Value() string {
	return string(f.value)
}

func (f *textField) SetValue(v string) {
	f.value = []rune(v)
}

func (f *textField) Reset() {
	f.value = nil
}

// handleKey edits the field and reports whether the key was consumed.
func (f *textField) handleKey(msg tea.KeyMsg) bool {
	switch msg.Type {
	case tea.KeyRunes:
		f.value = append(f.value, msg.Runes...)
		return true
	case tea.KeySpace:
		f.value = append(f.value, ' ')
		return true
	case tea.KeyBackspace:
		if len(f.value) > 0 {
			f.value = f.value[:len(f.value)-1]
		}
		return true
	case tea.KeyCtrlU:
		f.value = nil
		return true
	}
	return false
}

func (f *textField) render(focused bool) string {
	shown := string(f.value)
	if f.secret {
		shown = strings.Repeat("*", len(f.value))
	}
	prefix := "  "
	cursor := ""
	if focused {
		prefix = "> "
		cursor = "_"
	}
	return prefix + f.label + ": " + shown + cursor
}
