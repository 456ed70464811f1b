package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"todoapp/internal/exporter"
	"todoapp/internal/session"
	"todoapp/internal/todos"
)

// exportTodos writes the signed-in user's todos as CSV without starting the UI.
func exportTodos(ctx context.Context, sessions *session.Manager, store *todos.Store, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("o", "", "write CSV to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	state := sessions.CheckSession(ctx)
	if !state.Authenticated() {
		return errors.New("not signed in: run todoapp and log in first")
	}
	items := store.Load(ctx, state.UserID())

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.OpenFile(*out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("open export file: %w", err)
		}
		defer f.Close()
		w = f
	}

	return exporter.NewCSVExporter().Export(w, items)
}
