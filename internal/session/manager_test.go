package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"todoapp/internal/identity"
)

type providerStub struct {
	signUpFn             func(ctx context.Context, input identity.SignUpInput) (identity.SignUpResult, error)
	confirmSignUpFn      func(ctx context.Context, email, code string) error
	resendFn             func(ctx context.Context, email string) (identity.CodeDelivery, error)
	signInFn             func(ctx context.Context, email, password string) (identity.SignInResult, error)
	signOutFn            func(ctx context.Context) error
	requestResetFn       func(ctx context.Context, email string) (identity.ResetResult, error)
	confirmResetFn       func(ctx context.Context, email, code, newPassword string) error
	getCurrentIdentityFn func(ctx context.Context) (identity.Identity, error)
	getAttributesFn      func(ctx context.Context) (identity.Attributes, error)

	calls int
}

func (s *providerStub) SignUp(ctx context.Context, input identity.SignUpInput) (identity.SignUpResult, error) {
	s.calls++
	if s.signUpFn == nil {
		return identity.SignUpResult{}, errors.New("unexpected SignUp call")
	}
	return s.signUpFn(ctx, input)
}

func (s *providerStub) ConfirmSignUp(ctx context.Context, email, code string) error {
	s.calls++
	if s.confirmSignUpFn == nil {
		return errors.New("unexpected ConfirmSignUp call")
	}
	return s.confirmSignUpFn(ctx, email, code)
}

func (s *providerStub) ResendConfirmationCode(ctx context.Context, email string) (identity.CodeDelivery, error) {
	s.calls++
	if s.resendFn == nil {
		return identity.CodeDelivery{}, errors.New("unexpected ResendConfirmationCode call")
	}
	return s.resendFn(ctx, email)
}

func (s *providerStub) SignIn(ctx context.Context, email, password string) (identity.SignInResult, error) {
	s.calls++
	if s.signInFn == nil {
		return identity.SignInResult{}, errors.New("unexpected SignIn call")
	}
	return s.signInFn(ctx, email, password)
}

func (s *providerStub) SignOut(ctx context.Context) error {
	s.calls++
	if s.signOutFn == nil {
		return nil
	}
	return s.signOutFn(ctx)
}

func (s *providerStub) RequestPasswordReset(ctx context.Context, email string) (identity.ResetResult, error) {
	s.calls++
	if s.requestResetFn == nil {
		return identity.ResetResult{}, errors.New("unexpected RequestPasswordReset call")
	}
	return s.requestResetFn(ctx, email)
}

func (s *providerStub) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	s.calls++
	if s.confirmResetFn == nil {
		return errors.New("unexpected ConfirmPasswordReset call")
	}
	return s.confirmResetFn(ctx, email, code, newPassword)
}

func (s *providerStub) GetCurrentIdentity(ctx context.Context) (identity.Identity, error) {
	if s.getCurrentIdentityFn == nil {
		return identity.Identity{}, identity.ErrNoCredential
	}
	return s.getCurrentIdentityFn(ctx)
}

func (s *providerStub) GetUserAttributes(ctx context.Context) (identity.Attributes, error) {
	if s.getAttributesFn == nil {
		return identity.Attributes{}, identity.ErrNoCredential
	}
	return s.getAttributesFn(ctx)
}

type recorderStub struct {
	auth        map[string]int
	transitions []string
}

func (r *recorderStub) RecordAuth(op, outcome string) {
	if r.auth == nil {
		r.auth = map[string]int{}
	}
	r.auth[op+"/"+outcome]++
}

func (r *recorderStub) RecordSessionTransition(status string) {
	r.transitions = append(r.transitions, status)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedInProvider behaves like a provider holding a valid session for u1.
func signedInProvider(verified bool) *providerStub {
	return &providerStub{
		getCurrentIdentityFn: func(context.Context) (identity.Identity, error) {
			return identity.Identity{UserID: "u1", Username: "u1"}, nil
		},
		getAttributesFn: func(context.Context) (identity.Attributes, error) {
			return identity.Attributes{Email: "a@b.co", EmailVerified: verified}, nil
		},
	}
}

func TestNewManagerStartsUnknown(t *testing.T) {
	m := NewManager(&providerStub{}, WithLogger(quietLogger()))
	state := m.State()
	if state.Status != StatusUnknown || state.Identity != nil {
		t.Fatalf("unexpected initial state %+v", state)
	}
}

func TestCheckSessionAuthenticated(t *testing.T) {
	m := NewManager(signedInProvider(true), WithLogger(quietLogger()))

	state := m.CheckSession(context.Background())
	if !state.Authenticated() {
		t.Fatalf("expected authenticated, got %+v", state)
	}
	if state.Identity.Email != "a@b.co" || !state.Identity.EmailVerified {
		t.Fatalf("expected attributes merged into identity, got %+v", state.Identity)
	}
	if m.State().UserID() != "u1" {
		t.Fatalf("expected stored state for u1, got %+v", m.State())
	}
}

func TestCheckSessionAnonymousOnFailure(t *testing.T) {
	provider := &providerStub{
		getCurrentIdentityFn: func(context.Context) (identity.Identity, error) {
			return identity.Identity{UserID: "u1"}, nil
		},
		getAttributesFn: func(context.Context) (identity.Attributes, error) {
			return identity.Attributes{}, errors.New("network down")
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	state := m.CheckSession(context.Background())
	if state.Status != StatusAnonymous || state.Identity != nil {
		t.Fatalf("expected anonymous without identity, got %+v", state)
	}
}

func TestCheckSessionIsIdempotent(t *testing.T) {
	recorder := &recorderStub{}
	m := NewManager(signedInProvider(true), WithLogger(quietLogger()), WithRecorder(recorder))

	first := m.CheckSession(context.Background())
	second := m.CheckSession(context.Background())
	if !first.equal(second) {
		t.Fatalf("expected same state, got %+v and %+v", first, second)
	}
	if len(recorder.transitions) != 1 {
		t.Fatalf("expected a single transition, got %v", recorder.transitions)
	}
}

func TestCheckSessionUnverifiedEmail(t *testing.T) {
	m := NewManager(signedInProvider(false), WithLogger(quietLogger()))
	if state := m.CheckSession(context.Background()); state.Status != StatusAnonymous {
		t.Fatalf("expected anonymous for unverified email, got %+v", state)
	}

	lenient := NewManager(signedInProvider(false), WithLogger(quietLogger()), WithRequireVerifiedEmail(false))
	if state := lenient.CheckSession(context.Background()); !state.Authenticated() {
		t.Fatalf("expected authenticated when verification is not required, got %+v", state)
	}
}

func TestSignInSuccess(t *testing.T) {
	provider := signedInProvider(true)
	provider.signInFn = func(_ context.Context, email, password string) (identity.SignInResult, error) {
		if email != "a@b.co" || password != "secret1" {
			t.Fatalf("unexpected credentials %q %q", email, password)
		}
		return identity.SignInResult{SignedIn: true, NextStep: identity.StepDone}, nil
	}
	recorder := &recorderStub{}
	m := NewManager(provider, WithLogger(quietLogger()), WithRecorder(recorder))

	var seen []Status
	cancel := m.Subscribe(func(s State) { seen = append(seen, s.Status) })
	defer cancel()

	result, err := m.SignIn(context.Background(), "  a@b.co ", "secret1")
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	if !result.SignedIn || result.NextStep != identity.StepDone {
		t.Fatalf("unexpected result %+v", result)
	}
	if m.State().UserID() != "u1" {
		t.Fatalf("expected u1 signed in, got %+v", m.State())
	}
	if len(seen) != 1 || seen[0] != StatusAuthenticated {
		t.Fatalf("expected one authenticated notification, got %v", seen)
	}
	if recorder.auth["sign_in/success"] != 1 {
		t.Fatalf("expected recorded success, got %v", recorder.auth)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	provider := &providerStub{
		signInFn: func(context.Context, string, string) (identity.SignInResult, error) {
			return identity.SignInResult{}, identity.NewError("NotAuthorizedException", identity.ErrNotAuthorized, "Incorrect username or password.")
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	_, err := m.SignIn(context.Background(), "a@b.co", "wrong-password")
	if KindOf(err) != KindNotAuthorized {
		t.Fatalf("expected not authorized, got %v", err)
	}
	if !errors.Is(err, identity.ErrNotAuthorized) {
		t.Fatalf("expected error to wrap sentinel, got %v", err)
	}
	if Message(err) != "Incorrect email or password." {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if state := m.State(); state.Status != StatusAnonymous || state.Identity != nil {
		t.Fatalf("expected anonymous, got %+v", state)
	}
}

func TestSignInUserNotFound(t *testing.T) {
	provider := &providerStub{
		signInFn: func(context.Context, string, string) (identity.SignInResult, error) {
			return identity.SignInResult{}, identity.NewError("UserNotFoundException", identity.ErrUserNotFound, "User does not exist.")
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	_, err := m.SignIn(context.Background(), "nobody@b.co", "secret1")
	if KindOf(err) != KindUserNotFound {
		t.Fatalf("expected user not found, got %v", err)
	}
	if Message(err) != "No account found with this email." {
		t.Fatalf("unexpected message %q", Message(err))
	}
}

func TestSignInUnconfirmedReturnsStep(t *testing.T) {
	tests := map[string]*providerStub{
		"next step": {
			signInFn: func(context.Context, string, string) (identity.SignInResult, error) {
				return identity.SignInResult{SignedIn: false, NextStep: identity.StepConfirmSignUp}, nil
			},
		},
		"error": {
			signInFn: func(context.Context, string, string) (identity.SignInResult, error) {
				return identity.SignInResult{}, identity.NewError("UserNotConfirmedException", identity.ErrUserNotConfirmed, "User is not confirmed.")
			},
		},
	}

	for name, provider := range tests {
		t.Run(name, func(t *testing.T) {
			m := NewManager(provider, WithLogger(quietLogger()))
			result, err := m.SignIn(context.Background(), "a@b.co", "secret1")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result.SignedIn || result.NextStep != identity.StepConfirmSignUp {
				t.Fatalf("expected confirm step, got %+v", result)
			}
			if m.State().Status != StatusAnonymous {
				t.Fatalf("expected anonymous, got %+v", m.State())
			}
		})
	}
}

func TestSignInUnverifiedEmailAfterAuth(t *testing.T) {
	provider := signedInProvider(false)
	provider.signInFn = func(context.Context, string, string) (identity.SignInResult, error) {
		return identity.SignInResult{SignedIn: true, NextStep: identity.StepDone}, nil
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	result, err := m.SignIn(context.Background(), "a@b.co", "secret1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.NextStep != identity.StepConfirmSignUp {
		t.Fatalf("expected confirm step, got %+v", result)
	}
	if m.State().Status != StatusAnonymous {
		t.Fatalf("expected anonymous, got %+v", m.State())
	}
}

func TestSignInUnverifiedEmailDiscardsProviderSession(t *testing.T) {
	provider := signedInProvider(false)
	provider.signInFn = func(context.Context, string, string) (identity.SignInResult, error) {
		return identity.SignInResult{SignedIn: true, NextStep: identity.StepDone}, nil
	}
	signedOut := 0
	provider.signOutFn = func(context.Context) error {
		signedOut++
		return errors.New("network down")
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	result, err := m.SignIn(context.Background(), "a@b.co", "secret1")
	if err != nil {
		t.Fatalf("expected no error even when sign out fails, got %v", err)
	}
	if result.NextStep != identity.StepConfirmSignUp {
		t.Fatalf("expected confirm step, got %+v", result)
	}
	if signedOut != 1 {
		t.Fatalf("expected provider session to be discarded once, got %d", signedOut)
	}
	if m.State().Status != StatusAnonymous {
		t.Fatalf("expected anonymous, got %+v", m.State())
	}
}

func TestSignInRequiresFields(t *testing.T) {
	provider := &providerStub{}
	m := NewManager(provider, WithLogger(quietLogger()))

	_, err := m.SignIn(context.Background(), "   ", "secret1")
	if KindOf(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if provider.calls != 0 {
		t.Fatal("expected no provider call")
	}
}

func TestSignOutAlwaysAnonymous(t *testing.T) {
	provider := signedInProvider(true)
	provider.signOutFn = func(context.Context) error {
		return errors.New("network down")
	}
	m := NewManager(provider, WithLogger(quietLogger()))
	m.CheckSession(context.Background())

	err := m.SignOut(context.Background())
	if err == nil {
		t.Fatal("expected provider error to be returned")
	}
	if KindOf(err) != KindUnknown {
		t.Fatalf("expected unknown kind, got %v", KindOf(err))
	}
	if state := m.State(); state.Status != StatusAnonymous || state.Identity != nil {
		t.Fatalf("expected anonymous after sign out, got %+v", state)
	}
}

func TestSignOutSuccess(t *testing.T) {
	m := NewManager(signedInProvider(true), WithLogger(quietLogger()))
	m.CheckSession(context.Background())

	if err := m.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut returned error: %v", err)
	}
	if m.State().Authenticated() {
		t.Fatal("expected signed out")
	}
}

func TestSignUpShortPasswordSkipsProvider(t *testing.T) {
	provider := &providerStub{}
	m := NewManager(provider, WithLogger(quietLogger()))

	_, err := m.SignUp(context.Background(), "a@b.co", "12345")
	if KindOf(err) != KindPasswordPolicy {
		t.Fatalf("expected password policy, got %v", err)
	}
	if Message(err) != "Password must be at least 6 characters" {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if provider.calls != 0 {
		t.Fatal("expected no provider call")
	}
}

func TestSignUpPassesThroughResult(t *testing.T) {
	provider := &providerStub{
		signUpFn: func(_ context.Context, input identity.SignUpInput) (identity.SignUpResult, error) {
			if input.Email != "a@b.co" {
				t.Fatalf("expected trimmed email, got %q", input.Email)
			}
			return identity.SignUpResult{UserID: "u1", NextStep: identity.StepConfirmSignUp}, nil
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	result, err := m.SignUp(context.Background(), " a@b.co ", "secret1")
	if err != nil {
		t.Fatalf("SignUp returned error: %v", err)
	}
	if result.Complete || result.NextStep != identity.StepConfirmSignUp || result.UserID != "u1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if m.State().Status != StatusUnknown {
		t.Fatalf("expected state untouched, got %+v", m.State())
	}
}

func TestSignUpProviderPolicyMessage(t *testing.T) {
	provider := &providerStub{
		signUpFn: func(context.Context, identity.SignUpInput) (identity.SignUpResult, error) {
			return identity.SignUpResult{}, identity.NewError("InvalidPasswordException", identity.ErrPasswordPolicy, "Password must have uppercase characters")
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	_, err := m.SignUp(context.Background(), "a@b.co", "secret1")
	if got := Message(err); got != "Password does not meet requirements: Password must have uppercase characters" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestConfirmSignUpErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    Kind
		message string
	}{
		{"mismatch", identity.NewError("CodeMismatchException", identity.ErrCodeMismatch, "Invalid code"), KindInvalidCode, "Invalid verification code. Please try again."},
		{"expired", identity.NewError("ExpiredCodeException", identity.ErrCodeExpired, "Expired"), KindCodeExpired, "Verification code has expired. Please request a new one."},
		{"already confirmed", identity.NewError("NotAuthorizedException", identity.ErrNotAuthorized, "already confirmed"), KindNotAuthorized, "User is already confirmed or code is invalid."},
		{"unknown user", identity.NewError("UserNotFoundException", identity.ErrUserNotFound, "missing"), KindUserNotFound, "No account found with this email."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider := &providerStub{
				confirmSignUpFn: func(context.Context, string, string) error { return tc.err },
			}
			m := NewManager(provider, WithLogger(quietLogger()))

			err := m.ConfirmSignUp(context.Background(), "a@b.co", "123456")
			if KindOf(err) != tc.kind {
				t.Fatalf("expected %s, got %v", tc.kind, err)
			}
			if Message(err) != tc.message {
				t.Fatalf("unexpected message %q", Message(err))
			}
			if m.State().Status != StatusUnknown {
				t.Fatal("expected state untouched")
			}
		})
	}
}

func TestResendRateLimited(t *testing.T) {
	provider := &providerStub{
		resendFn: func(context.Context, string) (identity.CodeDelivery, error) {
			return identity.CodeDelivery{}, identity.NewError("LimitExceededException", identity.ErrRateLimited, "slow down")
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	err := m.ResendConfirmationCode(context.Background(), "a@b.co")
	if KindOf(err) != KindRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if Message(err) != "Too many attempts. Please try again later." {
		t.Fatalf("unexpected message %q", Message(err))
	}
}

func TestPasswordResetFlow(t *testing.T) {
	var gotPassword string
	provider := &providerStub{
		requestResetFn: func(context.Context, string) (identity.ResetResult, error) {
			return identity.ResetResult{NextStep: identity.StepConfirmResetPassword}, nil
		},
		confirmResetFn: func(_ context.Context, _, code, newPassword string) error {
			if code != "654321" {
				return identity.ErrCodeMismatch
			}
			gotPassword = newPassword
			return nil
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))
	ctx := context.Background()

	result, err := m.RequestPasswordReset(ctx, "a@b.co")
	if err != nil || result.NextStep != identity.StepConfirmResetPassword {
		t.Fatalf("unexpected request result %+v err=%v", result, err)
	}
	if err := m.ConfirmPasswordReset(ctx, "a@b.co", "000000", "newsecret"); KindOf(err) != KindInvalidCode {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if err := m.ConfirmPasswordReset(ctx, "a@b.co", "654321", "newsecret"); err != nil {
		t.Fatalf("ConfirmPasswordReset returned error: %v", err)
	}
	if gotPassword != "newsecret" {
		t.Fatalf("expected new password forwarded, got %q", gotPassword)
	}
}

func TestConfirmPasswordResetChecksLocallyFirst(t *testing.T) {
	provider := &providerStub{}
	m := NewManager(provider, WithLogger(quietLogger()))

	for _, pw := range []string{"", "abc"} {
		err := m.ConfirmPasswordReset(context.Background(), "a@b.co", "123456", pw)
		if KindOf(err) != KindPasswordPolicy {
			t.Fatalf("expected password policy for %q, got %v", pw, err)
		}
		if !errors.Is(err, identity.ErrPasswordPolicy) {
			t.Fatalf("expected sentinel, got %v", err)
		}
	}
	if provider.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", provider.calls)
	}
}

func TestValidateNewPassword(t *testing.T) {
	m := NewManager(&providerStub{}, WithMinPasswordLength(8))

	if err := m.ValidateNewPassword("longenough", "different1"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	} else if Message(err) != "Passwords do not match" {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if err := m.ValidateNewPassword("short", "short"); Message(err) != "Password must be at least 8 characters" {
		t.Fatalf("unexpected message %q", Message(err))
	}
	if err := m.ValidateNewPassword("longenough", "longenough"); err != nil {
		t.Fatalf("expected valid password, got %v", err)
	}
}

func TestGuardedOperationsRejectWhileBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	provider := &providerStub{
		signInFn: func(context.Context, string, string) (identity.SignInResult, error) {
			close(entered)
			<-release
			return identity.SignInResult{SignedIn: false, NextStep: identity.StepConfirmSignUp}, nil
		},
	}
	m := NewManager(provider, WithLogger(quietLogger()))

	done := make(chan error, 1)
	go func() {
		_, err := m.SignIn(context.Background(), "a@b.co", "secret1")
		done <- err
	}()
	<-entered

	if !m.Busy() {
		t.Fatal("expected manager to report busy")
	}
	if _, err := m.SignIn(context.Background(), "a@b.co", "secret1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if err := m.SignOut(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from sign out, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first SignIn returned error: %v", err)
	}
	if m.Busy() {
		t.Fatal("expected manager idle")
	}
}

func TestSubscribeCancel(t *testing.T) {
	m := NewManager(signedInProvider(true), WithLogger(quietLogger()))
	calls := 0
	cancel := m.Subscribe(func(State) { calls++ })
	cancel()

	m.CheckSession(context.Background())
	if calls != 0 {
		t.Fatalf("expected no notifications after cancel, got %d", calls)
	}
}

func TestMessageFallback(t *testing.T) {
	err := wrapProviderError(opSignIn, errors.New("boom"))
	if got := Message(err); got != "operation failed: boom" {
		t.Fatalf("unexpected message %q", got)
	}
	if KindOf(nil) != "" || Message(nil) != "" {
		t.Fatal("expected empty kind and message for nil")
	}
}
