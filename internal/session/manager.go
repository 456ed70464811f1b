// Package session owns the authentication state of the application and
// drives the identity provider through sign-up, sign-in, sign-out and
// password recovery.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"todoapp/internal/identity"
)

// Status is the coarse authentication state.
type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusAnonymous     Status = "anonymous"
	StatusAuthenticated Status = "authenticated"
)

// State is a snapshot of the session. Identity is nil unless Status is
// StatusAuthenticated.
type State struct {
	Status   Status
	Identity *identity.Identity
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// UserID returns the signed-in user's id, or "".
func (s State) UserID() string {
	if !s.Authenticated() {
		return ""
	}
	return s.Identity.UserID
}

func (s State) equal(other State) bool {
	if s.Status != other.Status {
		return false
	}
	if s.Identity == nil || other.Identity == nil {
		return s.Identity == other.Identity
	}
	return *s.Identity == *other.Identity
}

const (
	opCheckSession     = "check_session"
	opSignUp           = "sign_up"
	opConfirmSignUp    = "confirm_sign_up"
	opResendCode       = "resend_code"
	opSignIn           = "sign_in"
	opSignOut          = "sign_out"
	opRequestReset     = "request_password_reset"
	opConfirmReset     = "confirm_password_reset"
	opValidatePassword = "validate_password"
)

// DefaultMinPasswordLength is the shortest password accepted locally.
const DefaultMinPasswordLength = 6

// Recorder receives session activity for metrics.
type Recorder interface {
	RecordAuth(op, outcome string)
	RecordSessionTransition(status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuth(string, string)       {}
func (nopRecorder) RecordSessionTransition(string) {}

// Manager is the single writer of session state.
type Manager struct {
	provider          identity.Provider
	logger            *slog.Logger
	recorder          Recorder
	minPasswordLength int
	requireVerified   bool

	mu    sync.RWMutex
	state State

	subMu       sync.Mutex
	subscribers map[int]func(State)
	nextSubID   int

	busy atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMinPasswordLength sets the local password length check.
func WithMinPasswordLength(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.minPasswordLength = n
		}
	}
}

// WithRequireVerifiedEmail controls whether an account with an unverified
// email may hold a session.
func WithRequireVerifiedEmail(require bool) Option {
	return func(m *Manager) {
		m.requireVerified = require
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// NewManager creates a Manager in StatusUnknown.
func NewManager(provider identity.Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:          provider,
		logger:            slog.Default(),
		recorder:          nopRecorder{},
		minPasswordLength: DefaultMinPasswordLength,
		requireVerified:   true,
		state:             State{Status: StatusUnknown},
		subscribers:       make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MinPasswordLength returns the configured local password length check.
func (m *Manager) MinPasswordLength() int {
	return m.minPasswordLength
}

// State returns the current session snapshot.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyState(m.state)
}

// Subscribe registers fn to be called after every state change. The returned
// function removes the subscription.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

// Busy reports whether a guarded operation is in flight.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// CheckSession asks the provider for the current identity and attributes and
// settles the state on Authenticated or Anonymous. It never fails.
func (m *Manager) CheckSession(ctx context.Context) State {
	state, reason := m.resolve(ctx)
	if reason != nil {
		m.logger.Debug("no active session", "reason", reason)
	}
	m.setState(state)
	return copyState(state)
}

// resolve builds the state the provider currently vouches for. reason
// explains an Anonymous result.
func (m *Manager) resolve(ctx context.Context) (State, error) {
	anonymous := State{Status: StatusAnonymous}

	current, err := m.provider.GetCurrentIdentity(ctx)
	if err != nil {
		return anonymous, err
	}
	attrs, err := m.provider.GetUserAttributes(ctx)
	if err != nil {
		return anonymous, err
	}

	if attrs.Email != "" {
		current.Email = attrs.Email
	}
	current.EmailVerified = attrs.EmailVerified
	if m.requireVerified && !current.EmailVerified {
		return anonymous, identity.ErrUserNotConfirmed
	}

	return State{Status: StatusAuthenticated, Identity: &current}, nil
}

// SignUp registers a new account. The session state is unchanged.
func (m *Manager) SignUp(ctx context.Context, email, password string) (identity.SignUpResult, error) {
	done, err := m.begin()
	if err != nil {
		return identity.SignUpResult{}, err
	}
	defer done()

	email = strings.TrimSpace(email)
	if email == "" {
		return identity.SignUpResult{}, m.record(opSignUp, validationError(opSignUp, "Please enter your email.", identity.ErrInvalidParameter))
	}
	if err := m.checkPassword(opSignUp, password); err != nil {
		return identity.SignUpResult{}, m.record(opSignUp, err)
	}

	result, err := m.provider.SignUp(ctx, identity.SignUpInput{Email: email, Password: password})
	if err != nil {
		return identity.SignUpResult{}, m.record(opSignUp, wrapProviderError(opSignUp, err))
	}
	m.record(opSignUp, nil)
	m.logger.Info("account registered", "user_id", result.UserID, "next_step", result.NextStep)
	return result, nil
}

// ConfirmSignUp submits the verification code for email.
func (m *Manager) ConfirmSignUp(ctx context.Context, email, code string) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	email, code = strings.TrimSpace(email), strings.TrimSpace(code)
	if email == "" || code == "" {
		return m.record(opConfirmSignUp, validationError(opConfirmSignUp, "Please enter your email and the verification code.", identity.ErrInvalidParameter))
	}

	if err := m.provider.ConfirmSignUp(ctx, email, code); err != nil {
		return m.record(opConfirmSignUp, wrapProviderError(opConfirmSignUp, err))
	}
	m.record(opConfirmSignUp, nil)
	return nil
}

// ResendConfirmationCode asks the provider to send a new verification code.
func (m *Manager) ResendConfirmationCode(ctx context.Context, email string) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	email = strings.TrimSpace(email)
	if email == "" {
		return m.record(opResendCode, validationError(opResendCode, "Please enter your email.", identity.ErrInvalidParameter))
	}

	if _, err := m.provider.ResendConfirmationCode(ctx, email); err != nil {
		return m.record(opResendCode, wrapProviderError(opResendCode, err))
	}
	m.record(opResendCode, nil)
	return nil
}

// SignIn authenticates with email and password. A result whose NextStep is
// StepConfirmSignUp means the account must be verified first; it is not an
// error.
func (m *Manager) SignIn(ctx context.Context, email, password string) (identity.SignInResult, error) {
	done, err := m.begin()
	if err != nil {
		return identity.SignInResult{}, err
	}
	defer done()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return identity.SignInResult{}, m.record(opSignIn, validationError(opSignIn, "Please enter your email and password.", identity.ErrInvalidParameter))
	}

	confirmStep := identity.SignInResult{SignedIn: false, NextStep: identity.StepConfirmSignUp}

	result, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotConfirmed) {
			m.record(opSignIn, nil)
			m.settleAnonymous()
			return confirmStep, nil
		}
		m.settleAnonymous()
		return identity.SignInResult{}, m.record(opSignIn, wrapProviderError(opSignIn, err))
	}

	if !result.SignedIn {
		m.record(opSignIn, nil)
		m.settleAnonymous()
		return result, nil
	}

	state, reason := m.resolve(ctx)
	m.setState(state)
	if state.Authenticated() {
		m.record(opSignIn, nil)
		m.logger.Info("signed in", "user_id", state.Identity.UserID)
		return identity.SignInResult{SignedIn: true, NextStep: identity.StepDone}, nil
	}

	// The provider holds a credential for a session that is not accepted here.
	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("failed to discard rejected session", "error", err)
	}

	if errors.Is(reason, identity.ErrUserNotConfirmed) {
		m.record(opSignIn, nil)
		return confirmStep, nil
	}
	return identity.SignInResult{}, m.record(opSignIn, &Error{
		Kind:   KindUnknown,
		Op:     opSignIn,
		Detail: "session could not be established",
		Err:    reason,
	})
}

// SignOut ends the session. The state is Anonymous afterwards even when the
// provider call fails; that failure is still returned.
func (m *Manager) SignOut(ctx context.Context) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	userID := m.State().UserID()
	providerErr := m.provider.SignOut(ctx)
	m.setState(State{Status: StatusAnonymous})

	if providerErr != nil {
		m.logger.Warn("provider sign out failed", "user_id", userID, "error", providerErr)
		return m.record(opSignOut, wrapProviderError(opSignOut, providerErr))
	}
	m.record(opSignOut, nil)
	m.logger.Info("signed out", "user_id", userID)
	return nil
}

// RequestPasswordReset starts the two-step password reset for email.
func (m *Manager) RequestPasswordReset(ctx context.Context, email string) (identity.ResetResult, error) {
	done, err := m.begin()
	if err != nil {
		return identity.ResetResult{}, err
	}
	defer done()

	email = strings.TrimSpace(email)
	if email == "" {
		return identity.ResetResult{}, m.record(opRequestReset, validationError(opRequestReset, "Please enter your email.", identity.ErrInvalidParameter))
	}

	result, err := m.provider.RequestPasswordReset(ctx, email)
	if err != nil {
		return identity.ResetResult{}, m.record(opRequestReset, wrapProviderError(opRequestReset, err))
	}
	m.record(opRequestReset, nil)
	return result, nil
}

// ConfirmPasswordReset sets a new password using the emailed code. The
// password is checked locally before the provider is contacted.
func (m *Manager) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	done, err := m.begin()
	if err != nil {
		return err
	}
	defer done()

	if err := m.checkPassword(opConfirmReset, newPassword); err != nil {
		return m.record(opConfirmReset, err)
	}
	email, code = strings.TrimSpace(email), strings.TrimSpace(code)
	if email == "" || code == "" {
		return m.record(opConfirmReset, validationError(opConfirmReset, "Please enter your email and the verification code.", identity.ErrInvalidParameter))
	}

	if err := m.provider.ConfirmPasswordReset(ctx, email, code, newPassword); err != nil {
		return m.record(opConfirmReset, wrapProviderError(opConfirmReset, err))
	}
	m.record(opConfirmReset, nil)
	return nil
}

// ValidateNewPassword checks a new password and its confirmation without
// contacting the provider.
func (m *Manager) ValidateNewPassword(password, confirmation string) error {
	if password != confirmation {
		return validationError(opValidatePassword, "Passwords do not match", ErrPasswordMismatch)
	}
	return m.checkPassword(opValidatePassword, password)
}

func (m *Manager) checkPassword(op, password string) error {
	if len(password) < m.minPasswordLength {
		return policyError(op, m.minPasswordLength)
	}
	return nil
}

func (m *Manager) begin() (func(), error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	return func() { m.busy.Store(false) }, nil
}

// settleAnonymous leaves an authenticated session alone and resolves an
// unknown one to Anonymous.
func (m *Manager) settleAnonymous() {
	if m.State().Status == StatusUnknown {
		m.setState(State{Status: StatusAnonymous})
	}
}

func (m *Manager) setState(next State) {
	next = copyState(next)

	m.mu.Lock()
	changed := !m.state.equal(next)
	m.state = next
	m.mu.Unlock()

	if !changed {
		return
	}
	m.recorder.RecordSessionTransition(string(next.Status))

	m.subMu.Lock()
	subs := make([]func(State), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subs {
		fn(copyState(next))
	}
}

// record counts the outcome of op and returns err unchanged.
func (m *Manager) record(op string, err error) error {
	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.recorder.RecordAuth(op, outcome)
	return err
}

func copyState(s State) State {
	if s.Identity == nil {
		return State{Status: s.Status}
	}
	id := *s.Identity
	return State{Status: s.Status, Identity: &id}
}
