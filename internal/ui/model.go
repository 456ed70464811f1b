// Package ui is the terminal front end: login, sign-up, email verification,
// password reset and the todo list itself.
package ui

import (
	"context"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"todoapp/internal/identity"
	"todoapp/internal/session"
	"todoapp/internal/todos"
)

type screen int

const (
	screenLoading screen = iota
	screenLogin
	screenSignUp
	screenVerify
	screenForgot
	screenReset
	screenTodos
)

type sessionCheckedMsg struct {
	state session.State
}

type signInMsg struct {
	gen    int
	email  string
	result identity.SignInResult
	err    error
}

type signUpMsg struct {
	gen    int
	email  string
	result identity.SignUpResult
	err    error
}

type confirmedMsg struct {
	gen   int
	email string
	err   error
}

type resentMsg struct {
	gen int
	err error
}

type resetRequestedMsg struct {
	gen    int
	email  string
	result identity.ResetResult
	err    error
}

type resetConfirmedMsg struct {
	gen   int
	email string
	err   error
}

type signedOutMsg struct {
	err error
}

type todosLoadedMsg struct {
	items []todos.Item
}

// Model is the bubbletea model for the whole application.
type Model struct {
	ctx      context.Context
	sessions *session.Manager
	store    *todos.Store
	logger   *slog.Logger

	unsubscribe func()

	screen  screen
	fields  []*textField
	focus   int
	email   string
	notice  string
	errMsg  string
	pending bool
	// gen changes whenever the screen does; results of requests issued
	// under an older gen are dropped.
	gen int

	listFocus bool
	cursor    int
}

// New creates the model. The todo store is reset whenever the session stops
// being authenticated.
func New(ctx context.Context, sessions *session.Manager, store *todos.Store, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		ctx:      ctx,
		sessions: sessions,
		store:    store,
		logger:   logger,
		screen:   screenLoading,
	}
	m.unsubscribe = sessions.Subscribe(func(s session.State) {
		if !s.Authenticated() {
			store.Reset()
		}
	})
	return m
}

// Close releases the session subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) Init() tea.Cmd {
	ctx, sessions := m.ctx, m.sessions
	return func() tea.Msg {
		return sessionCheckedMsg{state: sessions.CheckSession(ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.screen == screenTodos {
			return m, m.updateTodos(msg)
		}
		return m, m.updateForm(msg)

	case sessionCheckedMsg:
		if msg.state.Authenticated() {
			return m, m.loadTodos(msg.state.UserID())
		}
		m.showLogin("")
		return m, nil

	case signInMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.pending = false
		if msg.err != nil {
			m.errMsg = session.Message(msg.err)
			m.field(1).Reset()
			return m, nil
		}
		if msg.result.NextStep == identity.StepConfirmSignUp {
			m.showVerify(msg.email)
			m.notice = session.Message(identity.ErrUserNotConfirmed)
			return m, nil
		}
		return m, m.loadTodos(m.sessions.State().UserID())

	case signUpMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.pending = false
		if msg.err != nil {
			m.errMsg = session.Message(msg.err)
			return m, nil
		}
		if msg.result.Complete {
			m.showLogin(msg.email)
			m.notice = "Account created. Please log in."
			return m, nil
		}
		m.showVerify(msg.email)
		m.notice = deliveryNotice(msg.result.Delivery)
		return m, nil

	case confirmedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.pending = false
		if msg.err != nil {
			m.errMsg = session.Message(msg.err)
			return m, nil
		}
		m.showLogin(msg.email)
		m.notice = "Email verified! You can now log in."
		return m, nil

	case resentMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.pending = false
		if msg.err != nil {
			m.errMsg = session.Message(msg.err)
			return m, nil
		}
		m.errMsg = ""
		m.notice = "A new verification code has been sent."
		return m, nil

	case resetRequestedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.pending = false
		if msg.err != nil {
			m.errMsg = session.Message(msg.err)
			return m, nil
		}
		m.showReset(msg.email)
		m.notice = deliveryNotice(msg.result.Delivery)
		return m, nil

	case resetConfirmedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.pending = false
		if msg.err != nil {
			m.errMsg = session.Message(msg.err)
			return m, nil
		}
		m.showLogin(msg.email)
		m.notice = "Password reset successfully. Please log in with your new password."
		return m, nil

	case signedOutMsg:
		m.pending = false
		if msg.err != nil {
			m.logger.Warn("sign out reported an error", "error", msg.err)
		}
		m.showLogin("")
		return m, nil

	case todosLoadedMsg:
		m.gen++
		m.screen = screenTodos
		m.fields = []*textField{newField("New todo", false)}
		m.focus = 0
		m.listFocus = false
		m.cursor = 0
		m.notice, m.errMsg = "", ""
		return m, nil
	}

	return m, nil
}

func (m *Model) updateForm(msg tea.KeyMsg) tea.Cmd {
	if len(m.fields) == 0 {
		return nil
	}
	switch msg.String() {
	case "tab", "down":
		m.focus = (m.focus + 1) % len(m.fields)
		return nil
	case "shift+tab", "up":
		m.focus = (m.focus - 1 + len(m.fields)) % len(m.fields)
		return nil
	case "esc":
		if m.screen != screenLogin && m.screen != screenLoading {
			m.showLogin(m.email)
		}
		return nil
	case "enter":
		if m.focus < len(m.fields)-1 {
			m.focus++
			return nil
		}
		return m.submit()
	}

	switch m.screen {
	case screenLogin:
		switch msg.String() {
		case "ctrl+n":
			m.showSignUp(m.field(0).Value())
			return nil
		case "ctrl+f":
			m.showForgot(m.field(0).Value())
			return nil
		case "ctrl+e":
			m.showVerify(m.field(0).Value())
			return nil
		}
	case screenVerify:
		if msg.String() == "ctrl+r" {
			return m.resend()
		}
	}

	m.fields[m.focus].handleKey(msg)
	return nil
}

func (m *Model) submit() tea.Cmd {
	if m.pending {
		return nil
	}
	ctx, sessions, gen := m.ctx, m.sessions, m.gen
	m.errMsg, m.notice = "", ""

	switch m.screen {
	case screenLogin:
		email, password := m.field(0).Value(), m.field(1).Value()
		m.email = email
		m.pending = true
		return func() tea.Msg {
			result, err := sessions.SignIn(ctx, email, password)
			return signInMsg{gen: gen, email: email, result: result, err: err}
		}

	case screenSignUp:
		email, password, confirm := m.field(0).Value(), m.field(1).Value(), m.field(2).Value()
		if err := sessions.ValidateNewPassword(password, confirm); err != nil {
			m.errMsg = session.Message(err)
			return nil
		}
		m.email = email
		m.pending = true
		return func() tea.Msg {
			result, err := sessions.SignUp(ctx, email, password)
			return signUpMsg{gen: gen, email: email, result: result, err: err}
		}

	case screenVerify:
		email, code := m.field(0).Value(), m.field(1).Value()
		m.email = email
		m.pending = true
		return func() tea.Msg {
			return confirmedMsg{gen: gen, email: email, err: sessions.ConfirmSignUp(ctx, email, code)}
		}

	case screenForgot:
		email := m.field(0).Value()
		m.email = email
		m.pending = true
		return func() tea.Msg {
			result, err := sessions.RequestPasswordReset(ctx, email)
			return resetRequestedMsg{gen: gen, email: email, result: result, err: err}
		}

	case screenReset:
		email := m.email
		code, password, confirm := m.field(0).Value(), m.field(1).Value(), m.field(2).Value()
		if err := sessions.ValidateNewPassword(password, confirm); err != nil {
			m.errMsg = session.Message(err)
			return nil
		}
		m.pending = true
		return func() tea.Msg {
			return resetConfirmedMsg{gen: gen, email: email, err: sessions.ConfirmPasswordReset(ctx, email, code, password)}
		}
	}
	return nil
}

func (m *Model) resend() tea.Cmd {
	if m.pending {
		return nil
	}
	ctx, sessions, gen := m.ctx, m.sessions, m.gen
	email := m.field(0).Value()
	m.pending = true
	m.errMsg, m.notice = "", ""
	return func() tea.Msg {
		return resentMsg{gen: gen, err: sessions.ResendConfirmationCode(ctx, email)}
	}
}

func (m *Model) updateTodos(msg tea.KeyMsg) tea.Cmd {
	if msg.String() == "ctrl+o" {
		return m.signOut()
	}
	if msg.Type == tea.KeyTab || msg.Type == tea.KeyShiftTab {
		m.listFocus = !m.listFocus && len(m.store.Items()) > 0
		return nil
	}

	if !m.listFocus {
		if msg.Type == tea.KeyEnter {
			input := m.field(0)
			if _, ok := m.store.Add(m.ctx, input.Value()); ok {
				input.Reset()
				m.cursor = 0
			}
			return nil
		}
		m.field(0).handleKey(msg)
		return nil
	}

	items := m.store.Items()
	switch msg.String() {
	case "esc":
		m.listFocus = false
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(items)-1 {
			m.cursor++
		}
	case " ", "x", "enter":
		if m.cursor < len(items) {
			m.store.Toggle(m.ctx, items[m.cursor].ID)
		}
	case "d", "delete", "backspace":
		if m.cursor < len(items) {
			m.store.Delete(m.ctx, items[m.cursor].ID)
		}
	case "c":
		m.store.ClearCompleted(m.ctx)
	}
	m.clampCursor()
	return nil
}

func (m *Model) signOut() tea.Cmd {
	if m.pending {
		return nil
	}
	ctx, sessions := m.ctx, m.sessions
	m.pending = true
	return func() tea.Msg {
		return signedOutMsg{err: sessions.SignOut(ctx)}
	}
}

func (m *Model) loadTodos(userID string) tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		return todosLoadedMsg{items: store.Load(ctx, userID)}
	}
}

func (m *Model) clampCursor() {
	n := len(m.store.Items())
	if n == 0 {
		m.cursor = 0
		m.listFocus = false
		return
	}
	if m.cursor >= n {
		m.cursor = n - 1
	}
}

func (m *Model) field(i int) *textField {
	if i < len(m.fields) {
		return m.fields[i]
	}
	return newField("", false)
}

func (m *Model) showForm(s screen, fields ...*textField) {
	m.gen++
	m.screen = s
	m.fields = fields
	m.focus = 0
	m.notice, m.errMsg = "", ""
	m.pending = false
}

func (m *Model) showLogin(email string) {
	m.showForm(screenLogin, newField("Email", false), newField("Password", true))
	m.prefillEmail(email)
}

func (m *Model) showSignUp(email string) {
	m.showForm(screenSignUp, newField("Email", false), newField("Password", true), newField("Confirm password", true))
	m.prefillEmail(email)
}

func (m *Model) showVerify(email string) {
	m.showForm(screenVerify, newField("Email", false), newField("Verification code", false))
	m.prefillEmail(email)
}

func (m *Model) showForgot(email string) {
	m.showForm(screenForgot, newField("Email", false))
	m.prefillEmail(email)
}

func (m *Model) showReset(email string) {
	m.showForm(screenReset, newField("Reset code", false), newField("New password", true), newField("Confirm new password", true))
	m.email = email
}

// prefillEmail carries the email between screens and moves focus past it.
func (m *Model) prefillEmail(email string) {
	email = strings.TrimSpace(email)
	m.email = email
	if email == "" || len(m.fields) == 0 {
		return
	}
	m.fields[0].SetValue(email)
	if len(m.fields) > 1 {
		m.focus = 1
	}
}

func deliveryNotice(d identity.CodeDelivery) string {
	if d.Destination == "" {
		return "Check your email for the verification code."
	}
	return "A code has been sent to " + d.Destination + "."
}
