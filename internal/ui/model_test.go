package ui

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"todoapp/internal/credentials"
	"todoapp/internal/identity/local"
	"todoapp/internal/kv"
	"todoapp/internal/session"
	"todoapp/internal/todos"
)

type fixture struct {
	model    *Model
	sessions *session.Manager
	store    *todos.Store
	backend  *kv.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := local.NewProvider(local.NewInMemoryRepository(), credentials.NewMemoryStore(),
		local.WithLogger(logger),
		local.WithResendInterval(0),
		local.WithCodeGenerator(func() (string, error) { return "123456", nil }),
	)
	sessions := session.NewManager(provider, session.WithLogger(logger))
	backend := kv.NewMemoryStore(0)
	store := todos.NewStore(backend, todos.WithLogger(logger))

	m := New(context.Background(), sessions, store, logger)
	t.Cleanup(m.Close)
	return &fixture{model: m, sessions: sessions, store: store, backend: backend}
}

// drive runs cmd and feeds every resulting message back into the model.
func (f *fixture) drive(cmd tea.Cmd) {
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			return
		}
		if _, ok := msg.(tea.QuitMsg); ok {
			return
		}
		_, cmd = f.model.Update(msg)
	}
}

func (f *fixture) press(key tea.KeyType) {
	_, cmd := f.model.Update(tea.KeyMsg{Type: key})
	f.drive(cmd)
}

func (f *fixture) typeText(text string) {
	for _, r := range text {
		msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
		if r == ' ' {
			msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{r}}
		}
		_, cmd := f.model.Update(msg)
		f.drive(cmd)
	}
}

func (f *fixture) fill(values ...string) {
	for i, v := range values {
		f.model.focus = i
		f.model.fields[i].Reset()
		f.typeText(v)
	}
	f.model.focus = len(f.model.fields) - 1
	f.press(tea.KeyEnter)
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.drive(f.model.Init())
	if f.model.screen != screenLogin {
		t.Fatalf("expected login screen, got %v", f.model.screen)
	}
}

func (f *fixture) registerAndSignIn(t *testing.T, email, password string) {
	t.Helper()
	f.model.showSignUp("")
	f.fill(email, password, password)
	if f.model.screen != screenVerify {
		t.Fatalf("expected verify screen, got %v (error %q)", f.model.screen, f.model.errMsg)
	}
	f.fill(email, "123456")
	if f.model.screen != screenLogin {
		t.Fatalf("expected login after verification, got %v (error %q)", f.model.screen, f.model.errMsg)
	}
	f.fill(email, password)
	if f.model.screen != screenTodos {
		t.Fatalf("expected todo screen, got %v (error %q)", f.model.screen, f.model.errMsg)
	}
}

func TestStartsOnLoginWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	if view := f.model.View(); !strings.Contains(view, "Log In") {
		t.Fatalf("expected login view, got:\n%s", view)
	}
}

func TestSignUpVerifySignInAndManageTodos(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.registerAndSignIn(t, "ann@example.com", "secret1")

	f.typeText("buy milk")
	f.press(tea.KeyEnter)

	items := f.store.Items()
	if len(items) != 1 || items[0].Text != "buy milk" {
		t.Fatalf("unexpected items %+v", items)
	}
	if view := f.model.View(); !strings.Contains(view, "Total: 1 | Completed: 0 | Pending: 1") {
		t.Fatalf("unexpected summary in view:\n%s", view)
	}

	f.press(tea.KeyTab)
	f.press(tea.KeySpace)
	if !f.store.Items()[0].Completed {
		t.Fatal("expected todo to be completed")
	}
	if view := f.model.View(); !strings.Contains(view, "[x] buy milk") {
		t.Fatalf("expected completed mark, got:\n%s", view)
	}

	raw, ok, _ := f.backend.Get(context.Background(), todos.StorageKey(f.sessions.State().UserID()))
	if !ok || !strings.Contains(raw, `"completed":true`) {
		t.Fatalf("expected persisted completed todo, got %q", raw)
	}
}

func TestBlankTodoIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.registerAndSignIn(t, "ann@example.com", "secret1")

	f.typeText("   ")
	f.press(tea.KeyEnter)
	if len(f.store.Items()) != 0 {
		t.Fatalf("expected no todos, got %+v", f.store.Items())
	}
}

func TestWrongPasswordShowsError(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.registerAndSignIn(t, "ann@example.com", "secret1")
	f.press(tea.KeyCtrlO)

	f.fill("ann@example.com", "wrong-password")
	if f.model.screen != screenLogin {
		t.Fatalf("expected to stay on login, got %v", f.model.screen)
	}
	if f.model.errMsg != "Incorrect email or password." {
		t.Fatalf("unexpected error %q", f.model.errMsg)
	}
	if f.sessions.State().Status != session.StatusAnonymous {
		t.Fatalf("expected anonymous, got %+v", f.sessions.State())
	}
}

func TestUnconfirmedSignInGoesToVerify(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.model.showSignUp("")
	f.fill("bob@example.com", "secret1", "secret1")
	f.model.showLogin("")
	f.fill("bob@example.com", "secret1")

	if f.model.screen != screenVerify {
		t.Fatalf("expected verify screen, got %v", f.model.screen)
	}
	if f.model.field(0).Value() != "bob@example.com" {
		t.Fatalf("expected email carried over, got %q", f.model.field(0).Value())
	}
	if !strings.Contains(f.model.notice, "Please verify your email") {
		t.Fatalf("unexpected notice %q", f.model.notice)
	}
}

func TestSignUpPasswordMismatch(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.model.showSignUp("")
	f.fill("bob@example.com", "secret1", "secret2")
	if f.model.screen != screenSignUp || f.model.errMsg != "Passwords do not match" {
		t.Fatalf("expected mismatch error, got screen %v error %q", f.model.screen, f.model.errMsg)
	}
}

func TestSignOutClearsTodos(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.registerAndSignIn(t, "ann@example.com", "secret1")
	f.typeText("private")
	f.press(tea.KeyEnter)

	f.press(tea.KeyCtrlO)
	if f.model.screen != screenLogin {
		t.Fatalf("expected login after sign out, got %v", f.model.screen)
	}
	if f.store.UserID() != "" || len(f.store.Items()) != 0 {
		t.Fatal("expected todo store reset after sign out")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.registerAndSignIn(t, "ann@example.com", "secret1")
	f.press(tea.KeyCtrlO)

	f.model.showForgot("")
	f.fill("ann@example.com")
	if f.model.screen != screenReset {
		t.Fatalf("expected reset screen, got %v (error %q)", f.model.screen, f.model.errMsg)
	}
	f.fill("123456", "newsecret", "newsecret")
	if f.model.screen != screenLogin {
		t.Fatalf("expected login after reset, got %v (error %q)", f.model.screen, f.model.errMsg)
	}

	f.fill("ann@example.com", "newsecret")
	if f.model.screen != screenTodos {
		t.Fatalf("expected sign in with new password, got %v (error %q)", f.model.screen, f.model.errMsg)
	}
}

func TestResumesExistingSession(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.registerAndSignIn(t, "ann@example.com", "secret1")
	f.typeText("keep me")
	f.press(tea.KeyEnter)

	restarted := New(context.Background(), f.sessions, f.store, nil)
	defer restarted.Close()
	f.model = restarted
	f.drive(restarted.Init())

	if restarted.screen != screenTodos {
		t.Fatalf("expected todo screen on restart, got %v", restarted.screen)
	}
	if items := f.store.Items(); len(items) != 1 || items[0].Text != "keep me" {
		t.Fatalf("expected reloaded todos, got %+v", items)
	}
}

func TestFieldEditing(t *testing.T) {
	field := newField("Password", true)
	field.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("abc")})
	field.handleKey(tea.KeyMsg{Type: tea.KeyBackspace})

	if field.Value() != "ab" {
		t.Fatalf("unexpected value %q", field.Value())
	}
	if got := field.render(true); got != "> Password: **_" {
		t.Fatalf("unexpected render %q", got)
	}
}

func TestLoadingViewBeforeInit(t *testing.T) {
	f := newFixture(t)
	if view := f.model.View(); !strings.Contains(view, "Checking session") {
		t.Fatalf("unexpected loading view:\n%s", view)
	}
}

func TestKeysWhileCheckingSessionAreIgnored(t *testing.T) {
	f := newFixture(t)

	for _, key := range []tea.KeyType{tea.KeyTab, tea.KeyShiftTab, tea.KeyDown, tea.KeyUp, tea.KeyEnter, tea.KeyEsc} {
		if _, cmd := f.model.Update(tea.KeyMsg{Type: key}); cmd != nil {
			t.Fatalf("expected no command for %v while loading", key)
		}
	}
	f.typeText("a")
	if f.model.screen != screenLoading {
		t.Fatalf("expected loading screen, got %v", f.model.screen)
	}

	f.start(t)
}

// submitPending fills the current form and returns the submit command
// without running it.
func (f *fixture) submitPending(values ...string) tea.Cmd {
	for i, v := range values {
		f.model.focus = i
		f.model.fields[i].Reset()
		f.typeText(v)
	}
	f.model.focus = len(f.model.fields) - 1
	_, cmd := f.model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestSignUpResultAfterLeavingScreenIsDropped(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.model.showSignUp("")
	cmd := f.submitPending("bob@example.com", "secret1", "secret1")
	if cmd == nil {
		t.Fatal("expected sign up command")
	}
	f.press(tea.KeyEsc)
	if f.model.screen != screenLogin {
		t.Fatalf("expected login after esc, got %v", f.model.screen)
	}

	f.drive(cmd)
	if f.model.screen != screenLogin {
		t.Fatalf("expected to stay on login, got %v", f.model.screen)
	}
	if f.model.notice != "" || f.model.errMsg != "" {
		t.Fatalf("expected no notice from the abandoned request, got %q / %q", f.model.notice, f.model.errMsg)
	}
}

func TestSignInErrorAfterLeavingScreenKeepsOtherForm(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.registerAndSignIn(t, "ann@example.com", "secret1")
	f.press(tea.KeyCtrlO)

	cmd := f.submitPending("ann@example.com", "wrong-password")
	if cmd == nil {
		t.Fatal("expected sign in command")
	}
	f.model.showSignUp("ann@example.com")
	f.model.focus = 1
	f.typeText("typed")

	f.drive(cmd)
	if f.model.screen != screenSignUp {
		t.Fatalf("expected to stay on sign up, got %v", f.model.screen)
	}
	if got := f.model.field(1).Value(); got != "typed" {
		t.Fatalf("expected sign up password untouched, got %q", got)
	}
	if f.model.errMsg != "" {
		t.Fatalf("expected no error from the abandoned request, got %q", f.model.errMsg)
	}
}
