package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"todoapp/internal/identity/local"
	"todoapp/internal/kv"
	"todoapp/internal/todos"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "demo1234"
)

// seedDemoTodos returns a handful of todos for local development.
func seedDemoTodos() []string {
	return []string{
		"Try toggling this todo with space",
		"Delete a todo with d",
		"Sign out with ctrl+o and create your own account",
	}
}

// seedDemo creates a confirmed demo account and fills its collection.
func seedDemo(ctx context.Context, accounts local.Repository, store kv.Store, logger *slog.Logger) error {
	existing, err := accounts.FindAccountByEmail(ctx, demoEmail)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash demo password: %w", err)
	}

	now := time.Now().UTC()
	account, err := accounts.CreateAccount(ctx, local.Account{
		ID:            uuid.New(),
		Email:         demoEmail,
		PasswordHash:  string(hash),
		Confirmed:     true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return err
	}

	seeded := todos.NewStore(store, todos.WithLogger(logger))
	seeded.Load(ctx, account.ID.String())
	texts := seedDemoTodos()
	for i := len(texts) - 1; i >= 0; i-- {
		seeded.Add(ctx, texts[i])
	}
	if err := seeded.Persist(ctx); err != nil {
		return err
	}

	logger.Info("seeded demo account", "email", demoEmail, "todos", len(texts))
	return nil
}
