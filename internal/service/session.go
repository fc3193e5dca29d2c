package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chanrelay/pkg/telegram"
	"chanrelay/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// LoginState is the explicit per-user login state. States are mutually
// exclusive; every transition is validated so illegal combinations are
// unrepresentable.
type LoginState int

const (
	StateIdle LoginState = iota
	StateAwaitingPhone
	StateAwaitingCode
	StateAwaitingPassword
)

func (s LoginState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingPhone:
		return "awaiting_phone"
	case StateAwaitingCode:
		return "awaiting_code"
	case StateAwaitingPassword:
		return "awaiting_password"
	default:
		return "unknown"
	}
}

var (
	ErrNotLoggedIn      = errors.New("user has no active session")
	ErrAlreadyLoggedIn  = errors.New("user already has an active session")
	ErrWrongLoginState  = errors.New("input does not match the current login step")
	ErrNoLoginInFlight  = errors.New("no login in progress")
	ErrPasswordRequired = errors.New("account requires a two-factor password")
)

// loginFlow tracks one user's in-progress login.
type loginFlow struct {
	state    LoginState
	phone    string
	codeHash string
	client   types.Client
	auth     types.Authenticator
}

// SessionManager owns the per-user gateway clients and drives the
// interactive login flow. It is the pipeline's ClientProvider: the executor
// resolves clients here, and logout tears the whole per-user pipeline down.
type SessionManager struct {
	store      ConfigStore
	factory    types.ClientFactory
	supervisor *QueueSupervisor
	pump       *EventPump
	logger     *logrus.Logger

	mu      sync.Mutex
	clients map[int64]types.Client
	logins  map[int64]*loginFlow
}

func NewSessionManager(store ConfigStore, factory types.ClientFactory, supervisor *QueueSupervisor, pump *EventPump, logger *logrus.Logger) *SessionManager {
	return &SessionManager{
		store:      store,
		factory:    factory,
		supervisor: supervisor,
		pump:       pump,
		logger:     logger,
		clients:    make(map[int64]types.Client),
		logins:     make(map[int64]*loginFlow),
	}
}

// ClientFor returns the active gateway client for a logged-in user.
func (m *SessionManager) ClientFor(userID int64) (types.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[userID]
	if !ok {
		return nil, ErrNotLoggedIn
	}
	return client, nil
}

// ActiveUserIDs lists users with a live gateway client.
func (m *SessionManager) ActiveUserIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	return ids
}

// State reports the user's current login state.
func (m *SessionManager) State(userID int64) LoginState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flow, ok := m.logins[userID]; ok {
		return flow.state
	}
	return StateIdle
}

// RestoreSessions reopens gateway clients for every persisted session at
// startup. A session that fails to restore is logged and skipped; the user
// can log in again.
func (m *SessionManager) RestoreSessions(ctx context.Context) error {
	users, err := m.store.GetAllUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users for restore: %w", err)
	}

	restored := 0
	for _, u := range users {
		session, err := m.store.GetSession(ctx, u.ID)
		if err != nil {
			m.logger.WithField("user_id", u.ID).WithError(err).Warn("Failed to load stored session")
			continue
		}
		if session == nil {
			continue
		}

		banned, err := m.store.IsUserBanned(ctx, u.ID)
		if err == nil && banned {
			continue
		}

		client, err := m.factory.NewSessionClient(ctx, u.ID, session.SessionString)
		if err != nil {
			m.logger.WithField("user_id", u.ID).WithError(err).Warn("Stored session no longer valid")
			continue
		}

		m.register(u.ID, client)
		restored++
	}

	m.logger.WithField("count", restored).Info("Restored user sessions")
	return nil
}

// BeginLogin starts the login flow for a user with no active session.
func (m *SessionManager) BeginLogin(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[userID]; ok {
		return ErrAlreadyLoggedIn
	}
	if _, ok := m.logins[userID]; ok {
		return ErrWrongLoginState
	}

	client, auth, err := m.factory.NewLoginClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to open login client: %w", err)
	}

	m.logins[userID] = &loginFlow{
		state:  StateAwaitingPhone,
		client: client,
		auth:   auth,
	}
	return nil
}

// SubmitPhone advances awaiting_phone -> awaiting_code.
func (m *SessionManager) SubmitPhone(ctx context.Context, userID int64, phone string) error {
	m.mu.Lock()
	flow, ok := m.logins[userID]
	if !ok {
		m.mu.Unlock()
		return ErrNoLoginInFlight
	}
	if flow.state != StateAwaitingPhone {
		m.mu.Unlock()
		return ErrWrongLoginState
	}
	m.mu.Unlock()

	codeHash, err := flow.auth.RequestCode(ctx, phone)
	if err != nil {
		m.abortLogin(userID)
		return fmt.Errorf("failed to request login code: %w", err)
	}

	m.mu.Lock()
	flow.phone = phone
	flow.codeHash = codeHash
	flow.state = StateAwaitingCode
	m.mu.Unlock()
	return nil
}

// SubmitCode advances awaiting_code -> idle (logged in) or
// awaiting_password when the account has two-factor auth enabled.
func (m *SessionManager) SubmitCode(ctx context.Context, userID int64, code string) error {
	m.mu.Lock()
	flow, ok := m.logins[userID]
	if !ok {
		m.mu.Unlock()
		return ErrNoLoginInFlight
	}
	if flow.state != StateAwaitingCode {
		m.mu.Unlock()
		return ErrWrongLoginState
	}
	m.mu.Unlock()

	sessionString, err := flow.auth.SignIn(ctx, flow.phone, code, flow.codeHash)
	if err != nil {
		if errors.Is(err, telegram.ErrPasswordNeeded) {
			m.mu.Lock()
			flow.state = StateAwaitingPassword
			m.mu.Unlock()
			return ErrPasswordRequired
		}
		m.abortLogin(userID)
		return fmt.Errorf("sign in failed: %w", err)
	}

	return m.completeLogin(ctx, userID, flow, sessionString)
}

// SubmitPassword completes a two-factor login.
func (m *SessionManager) SubmitPassword(ctx context.Context, userID int64, password string) error {
	m.mu.Lock()
	flow, ok := m.logins[userID]
	if !ok {
		m.mu.Unlock()
		return ErrNoLoginInFlight
	}
	if flow.state != StateAwaitingPassword {
		m.mu.Unlock()
		return ErrWrongLoginState
	}
	m.mu.Unlock()

	sessionString, err := flow.auth.SignInPassword(ctx, password)
	if err != nil {
		m.abortLogin(userID)
		return fmt.Errorf("two-factor sign in failed: %w", err)
	}

	return m.completeLogin(ctx, userID, flow, sessionString)
}

// CancelLogin aborts an in-flight login flow, if any.
func (m *SessionManager) CancelLogin(userID int64) {
	m.abortLogin(userID)
}

// Logout tears down the user's pipeline: queue shutdown, event pump stop,
// client close, stored session deleted.
func (m *SessionManager) Logout(ctx context.Context, userID int64) error {
	m.mu.Lock()
	client, ok := m.clients[userID]
	delete(m.clients, userID)
	delete(m.logins, userID)
	m.mu.Unlock()

	if !ok {
		return ErrNotLoggedIn
	}

	// Stop the event pump first so nothing new is routed while the queue
	// drains.
	m.pump.Stop(userID)
	m.supervisor.Shutdown(ctx, userID)
	if err := client.Close(); err != nil {
		m.logger.WithField("user_id", userID).WithError(err).Warn("Failed to close gateway client")
	}

	if err := m.store.DeleteSession(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete stored session: %w", err)
	}

	m.logger.WithField("user_id", userID).Info("User logged out")
	return nil
}

// Disconnect is Logout without deleting the stored session; used on ban so
// an unban does not force a fresh login.
func (m *SessionManager) Disconnect(ctx context.Context, userID int64) {
	m.mu.Lock()
	client, ok := m.clients[userID]
	delete(m.clients, userID)
	delete(m.logins, userID)
	m.mu.Unlock()

	m.pump.Stop(userID)
	m.supervisor.Shutdown(ctx, userID)
	if ok {
		if err := client.Close(); err != nil {
			m.logger.WithField("user_id", userID).WithError(err).Warn("Failed to close gateway client")
		}
	}
}

func (m *SessionManager) completeLogin(ctx context.Context, userID int64, flow *loginFlow, sessionString string) error {
	if err := m.store.SaveSession(ctx, userID, sessionString, flow.phone); err != nil {
		m.abortLogin(userID)
		return fmt.Errorf("failed to persist session: %w", err)
	}

	// The login client is anonymous; open a session client bound to the
	// real user id so its gateway calls carry the right identity.
	client, err := m.factory.NewSessionClient(ctx, userID, sessionString)
	if err != nil {
		m.abortLogin(userID)
		return fmt.Errorf("failed to open session client: %w", err)
	}

	m.mu.Lock()
	delete(m.logins, userID)
	m.mu.Unlock()

	if flow.client != nil && flow.client != client {
		_ = flow.client.Close()
	}

	m.register(userID, client)
	m.logger.WithField("user_id", userID).Info("User logged in")
	return nil
}

func (m *SessionManager) register(userID int64, client types.Client) {
	m.mu.Lock()
	m.clients[userID] = client
	m.mu.Unlock()

	m.pump.Start(userID, client)
}

func (m *SessionManager) abortLogin(userID int64) {
	m.mu.Lock()
	flow, ok := m.logins[userID]
	delete(m.logins, userID)
	m.mu.Unlock()

	if ok && flow.client != nil {
		_ = flow.client.Close()
	}
}
