package local

import (
	"context"
	"log/slog"
	"strings"
)

// CodeSender delivers one-time codes to the account owner.
type CodeSender interface {
	SendCode(ctx context.Context, email string, purpose CodePurpose, code string) error
}

// LogSender is a development sender that writes codes to the logger.
type LogSender struct {
	Logger *slog.Logger
}

// SendCode logs the code instead of emailing it.
func (s LogSender) SendCode(_ context.Context, email string, purpose CodePurpose, code string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("one-time code issued", "email", email, "purpose", string(purpose), "code", code)
	return nil
}

// maskEmail hides most of the local part, the way providers report delivery
// destinations: a***@example.com.
func maskEmail(email string) string {
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" {
		return email
	}
	return local[:1] + "***@" + domain
}
