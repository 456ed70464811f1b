// Package local implements a self-hosted identity provider with email/password
// accounts, one-time confirmation and reset codes, and token sessions.
package local

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"todoapp/internal/credentials"
	"todoapp/internal/identity"
)

const (
	defaultSessionTTL     = 12 * time.Hour
	defaultMinPassword    = 6
	defaultResendInterval = 30 * time.Second

	// maxCodeAttempts wrong submissions are tolerated per pending code; one
	// more invalidates it. A spent attempt comes back every codeAttemptWindow.
	maxCodeAttempts   = 5
	codeAttemptWindow = 15 * time.Minute
)

// Provider implements identity.Provider on top of a Repository.
type Provider struct {
	repo           Repository
	creds          credentials.Store
	sender         CodeSender
	logger         *slog.Logger
	sessionTTL     time.Duration
	minPassword    int
	resendInterval time.Duration
	now            func() time.Time
	newCode        func() (string, error)
	limiter        *codeLimiter
	attempts       *codeLimiter
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCodeSender sets how one-time codes are delivered.
func WithCodeSender(sender CodeSender) Option {
	return func(p *Provider) {
		if sender != nil {
			p.sender = sender
		}
	}
}

// WithSessionTTL sets how long issued sessions stay valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.sessionTTL = ttl
		}
	}
}

// WithMinPasswordLength sets the server-side password policy.
func WithMinPasswordLength(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.minPassword = n
		}
	}
}

// WithResendInterval sets the minimum spacing between codes for one email.
// Zero disables throttling.
func WithResendInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.resendInterval = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithCodeGenerator overrides one-time code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(p *Provider) {
		if gen != nil {
			p.newCode = gen
		}
	}
}

// NewProvider creates a Provider. The credential store holds the session
// token of the signed-in account.
func NewProvider(repo Repository, creds credentials.Store, opts ...Option) *Provider {
	p := &Provider{
		repo:           repo,
		creds:          creds,
		logger:         slog.Default(),
		sessionTTL:     defaultSessionTTL,
		minPassword:    defaultMinPassword,
		resendInterval: defaultResendInterval,
		now:            time.Now,
		newCode:        generateCode,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.sender == nil {
		p.sender = LogSender{Logger: p.logger}
	}
	p.limiter = newCodeLimiter(p.resendInterval, 1)
	p.attempts = newCodeLimiter(codeAttemptWindow, maxCodeAttempts)
	return p
}

var _ identity.Provider = (*Provider)(nil)

// SignUp registers an unconfirmed account and sends a confirmation code.
func (p *Provider) SignUp(ctx context.Context, input identity.SignUpInput) (identity.SignUpResult, error) {
	email := normalizeEmail(input.Email)
	if !strings.Contains(email, "@") {
		return identity.SignUpResult{}, identity.NewError("InvalidParameterException", identity.ErrInvalidParameter, "Invalid email address format.")
	}
	if err := p.checkPassword(input.Password); err != nil {
		return identity.SignUpResult{}, err
	}

	existing, err := p.repo.FindAccountByEmail(ctx, email)
	if err != nil {
		return identity.SignUpResult{}, fmt.Errorf("find account: %w", err)
	}
	if existing != nil {
		return identity.SignUpResult{}, identity.NewError("UsernameExistsException", identity.ErrUsernameExists, "An account with the given email already exists.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return identity.SignUpResult{}, fmt.Errorf("hash password: %w", err)
	}

	now := p.now().UTC()
	account, err := p.repo.CreateAccount(ctx, Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return identity.SignUpResult{}, fmt.Errorf("create account: %w", err)
	}

	// The first code counts against the resend throttle.
	p.limiter.allowAt(limiterKey(email, PurposeConfirmSignUp), p.now())
	if err := p.issueCode(ctx, account, PurposeConfirmSignUp, identity.ConfirmationCodeTTL); err != nil {
		return identity.SignUpResult{}, err
	}

	p.logger.Info("account registered", "user_id", account.ID.String())
	return identity.SignUpResult{
		Complete: false,
		UserID:   account.ID.String(),
		NextStep: identity.StepConfirmSignUp,
		Delivery: identity.CodeDelivery{Medium: "EMAIL", Destination: maskEmail(email)},
	}, nil
}

// ConfirmSignUp marks the account confirmed when the code matches.
func (p *Provider) ConfirmSignUp(ctx context.Context, email, code string) error {
	account, err := p.findAccount(ctx, email)
	if err != nil {
		return err
	}
	if account.Confirmed {
		return identity.NewError("NotAuthorizedException", identity.ErrNotAuthorized, "User cannot be confirmed. Current status is CONFIRMED")
	}

	if err := p.consumeCode(ctx, account.ID, PurposeConfirmSignUp, code); err != nil {
		return err
	}

	account.Confirmed = true
	account.EmailVerified = true
	account.UpdatedAt = p.now().UTC()
	if err := p.repo.UpdateAccount(ctx, *account); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

// ResendConfirmationCode issues a new confirmation code.
func (p *Provider) ResendConfirmationCode(ctx context.Context, email string) (identity.CodeDelivery, error) {
	account, err := p.findAccount(ctx, email)
	if err != nil {
		return identity.CodeDelivery{}, err
	}
	if account.Confirmed {
		return identity.CodeDelivery{}, identity.NewError("InvalidParameterException", identity.ErrInvalidParameter, "User is already confirmed.")
	}
	if !p.limiter.allowAt(limiterKey(account.Email, PurposeConfirmSignUp), p.now()) {
		return identity.CodeDelivery{}, identity.NewError("LimitExceededException", identity.ErrRateLimited, "Attempt limit exceeded, please try after some time.")
	}
	if err := p.issueCode(ctx, *account, PurposeConfirmSignUp, identity.ConfirmationCodeTTL); err != nil {
		return identity.CodeDelivery{}, err
	}
	return identity.CodeDelivery{Medium: "EMAIL", Destination: maskEmail(account.Email)}, nil
}

// SignIn checks the password and, for confirmed accounts, opens a session and
// stores its token as the current credential.
func (p *Provider) SignIn(ctx context.Context, email, password string) (identity.SignInResult, error) {
	account, err := p.findAccount(ctx, email)
	if err != nil {
		return identity.SignInResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return identity.SignInResult{}, identity.NewError("NotAuthorizedException", identity.ErrNotAuthorized, "Incorrect username or password.")
	}
	if !account.Confirmed {
		return identity.SignInResult{SignedIn: false, NextStep: identity.StepConfirmSignUp}, nil
	}

	token, expiresAt, err := p.createSession(ctx, account.ID)
	if err != nil {
		return identity.SignInResult{}, err
	}

	now := p.now().UTC()
	account.LastLoginAt = &now
	account.UpdatedAt = now
	if err := p.repo.UpdateAccount(ctx, *account); err != nil {
		p.logger.Warn("failed to record last login", "user_id", account.ID.String(), "error", err)
	}

	cred := &credentials.Credential{
		Token: &oauth2.Token{
			AccessToken: token,
			TokenType:   "Bearer",
			Expiry:      expiresAt,
		},
		Username: account.Email,
		SavedAt:  now,
	}
	if err := p.creds.Save(cred); err != nil {
		return identity.SignInResult{}, fmt.Errorf("save credential: %w", err)
	}

	return identity.SignInResult{SignedIn: true, NextStep: identity.StepDone}, nil
}

// SignOut deletes the current session and forgets the credential. The local
// credential is cleared even when the session cannot be deleted.
func (p *Provider) SignOut(ctx context.Context) error {
	cred, loadErr := p.creds.Load()
	var deleteErr error
	if loadErr == nil && cred != nil && cred.Token != nil {
		deleteErr = p.deleteSession(ctx, cred.Token.AccessToken)
	}
	clearErr := p.creds.Clear()
	return errors.Join(loadErr, deleteErr, clearErr)
}

// RequestPasswordReset sends a reset code to a registered email.
func (p *Provider) RequestPasswordReset(ctx context.Context, email string) (identity.ResetResult, error) {
	account, err := p.findAccount(ctx, email)
	if err != nil {
		return identity.ResetResult{}, err
	}
	if !p.limiter.allowAt(limiterKey(account.Email, PurposeResetPassword), p.now()) {
		return identity.ResetResult{}, identity.NewError("LimitExceededException", identity.ErrRateLimited, "Attempt limit exceeded, please try after some time.")
	}
	if err := p.issueCode(ctx, *account, PurposeResetPassword, identity.ResetCodeTTL); err != nil {
		return identity.ResetResult{}, err
	}
	return identity.ResetResult{
		NextStep: identity.StepConfirmResetPassword,
		Delivery: identity.CodeDelivery{Medium: "EMAIL", Destination: maskEmail(account.Email)},
	}, nil
}

// ConfirmPasswordReset sets a new password when the reset code matches. All
// sessions of the account are revoked.
func (p *Provider) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if err := p.checkPassword(newPassword); err != nil {
		return err
	}
	account, err := p.findAccount(ctx, email)
	if err != nil {
		return err
	}

	pending, err := p.repo.FindCode(ctx, account.ID, PurposeResetPassword)
	if err != nil {
		return fmt.Errorf("find code: %w", err)
	}
	if pending == nil {
		return identity.NewError("NotAuthorizedException", identity.ErrNotAuthorized, "No password reset was requested for this account.")
	}
	if err := p.consumeCode(ctx, account.ID, PurposeResetPassword, code); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	account.PasswordHash = string(hash)
	account.UpdatedAt = p.now().UTC()
	if err := p.repo.UpdateAccount(ctx, *account); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if err := p.repo.DeleteAccountSessions(ctx, account.ID); err != nil {
		p.logger.Warn("failed to revoke sessions after password reset", "user_id", account.ID.String(), "error", err)
	}
	return nil
}

// GetCurrentIdentity returns the account behind the stored credential.
func (p *Provider) GetCurrentIdentity(ctx context.Context) (identity.Identity, error) {
	account, err := p.currentAccount(ctx)
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{
		UserID:        account.ID.String(),
		Username:      account.Email,
		Email:         account.Email,
		EmailVerified: account.EmailVerified,
	}, nil
}

// GetUserAttributes returns the attributes of the signed-in account.
func (p *Provider) GetUserAttributes(ctx context.Context) (identity.Attributes, error) {
	account, err := p.currentAccount(ctx)
	if err != nil {
		return identity.Attributes{}, err
	}
	return identity.Attributes{
		Email:         account.Email,
		EmailVerified: account.EmailVerified,
		Extra: map[string]string{
			"sub": account.ID.String(),
		},
	}, nil
}

// CleanupExpired removes expired sessions and codes.
func (p *Provider) CleanupExpired(ctx context.Context) (int64, error) {
	return p.repo.DeleteExpired(ctx, p.now())
}

func (p *Provider) currentAccount(ctx context.Context) (*Account, error) {
	cred, err := p.creds.Load()
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil || cred.Token == nil || cred.Token.AccessToken == "" {
		return nil, identity.ErrNoCredential
	}

	account, err := p.validateSession(ctx, cred.Token.AccessToken)
	if err != nil {
		return nil, err
	}
	if account == nil {
		if err := p.creds.Clear(); err != nil {
			p.logger.Warn("failed to clear stale credential", "error", err)
		}
		return nil, identity.NewError("NotAuthorizedException", identity.ErrNoCredential, "Session is expired or revoked.")
	}
	return account, nil
}

func (p *Provider) findAccount(ctx context.Context, email string) (*Account, error) {
	account, err := p.repo.FindAccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, identity.NewError("UserNotFoundException", identity.ErrUserNotFound, "User does not exist.")
	}
	return account, nil
}

func (p *Provider) checkPassword(password string) error {
	if len(password) < p.minPassword {
		return identity.NewError("InvalidPasswordException", identity.ErrPasswordPolicy,
			fmt.Sprintf("Password must be at least %d characters", p.minPassword))
	}
	return nil
}

func (p *Provider) issueCode(ctx context.Context, account Account, purpose CodePurpose, ttl time.Duration) error {
	code, err := p.newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	now := p.now().UTC()
	if err := p.repo.SaveCode(ctx, Code{
		AccountID: account.ID,
		Purpose:   purpose,
		CodeHash:  hashToken(code),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	p.attempts.forget(attemptKey(account.ID, purpose))
	if err := p.sender.SendCode(ctx, account.Email, purpose, code); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// consumeCode checks a submitted code and deletes it on success.
func (p *Provider) consumeCode(ctx context.Context, accountID uuid.UUID, purpose CodePurpose, submitted string) error {
	pending, err := p.repo.FindCode(ctx, accountID, purpose)
	if err != nil {
		return fmt.Errorf("find code: %w", err)
	}
	if pending == nil {
		return identity.NewError("CodeMismatchException", identity.ErrCodeMismatch, "Invalid verification code provided, please try again.")
	}
	if p.now().After(pending.ExpiresAt) {
		return identity.NewError("ExpiredCodeException", identity.ErrCodeExpired, "Invalid code provided, please request a code again.")
	}
	given := hashToken(strings.TrimSpace(submitted))
	if subtle.ConstantTimeCompare([]byte(given), []byte(pending.CodeHash)) != 1 {
		if p.attempts.allowAt(attemptKey(accountID, purpose), p.now()) {
			return identity.NewError("CodeMismatchException", identity.ErrCodeMismatch, "Invalid verification code provided, please try again.")
		}
		if err := p.repo.DeleteCode(ctx, accountID, purpose); err != nil {
			p.logger.Warn("failed to invalidate code after repeated failures", "user_id", accountID.String(), "purpose", string(purpose), "error", err)
		}
		p.logger.Warn("code invalidated after repeated failures", "user_id", accountID.String(), "purpose", string(purpose))
		return identity.NewError("TooManyFailedAttemptsException", identity.ErrRateLimited, "Too many failed attempts. Please request a new code.")
	}
	if err := p.repo.DeleteCode(ctx, accountID, purpose); err != nil {
		return fmt.Errorf("delete code: %w", err)
	}
	p.attempts.forget(attemptKey(accountID, purpose))
	return nil
}

// createSession creates a new session for the account and returns its token.
func (p *Provider) createSession(ctx context.Context, accountID uuid.UUID) (string, time.Time, error) {
	// Generate cryptographically secure session token
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	now := p.now().UTC()
	session := Session{
		ID:        uuid.New(),
		AccountID: accountID,
		ExpiresAt: now.Add(p.sessionTTL),
		CreatedAt: now,
	}
	if err := p.repo.CreateSession(ctx, session, hashToken(token)); err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}
	return token, session.ExpiresAt, nil
}

// validateSession returns the account for a live token, or nil.
func (p *Provider) validateSession(ctx context.Context, token string) (*Account, error) {
	session, account, err := p.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	if session == nil || account == nil {
		return nil, nil
	}

	if p.now().After(session.ExpiresAt) {
		if err := p.repo.DeleteSession(ctx, session.ID); err != nil {
			p.logger.Warn("failed to delete expired session", "user_id", account.ID.String(), "error", err)
		}
		return nil, nil
	}
	return account, nil
}

func (p *Provider) deleteSession(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	session, _, err := p.repo.FindSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("find session: %w", err)
	}
	if session == nil {
		return nil
	}
	return p.repo.DeleteSession(ctx, session.ID)
}

// hashToken returns the SHA-256 hash of the token as a hex string.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func limiterKey(email string, purpose CodePurpose) string {
	return string(purpose) + ":" + email
}

func attemptKey(accountID uuid.UUID, purpose CodePurpose) string {
	return string(purpose) + ":" + accountID.String()
}
