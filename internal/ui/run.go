package ui

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"todoapp/internal/session"
	"todoapp/internal/todos"
)

// Run starts the terminal UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, sessions *session.Manager, store *todos.Store, logger *slog.Logger) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return fmt.Errorf("ui requires a terminal")
	}

	model := New(ctx, sessions, store, logger)
	defer model.Close()

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
