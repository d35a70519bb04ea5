// Package session owns the per-login state of the portal: the payment
// orchestrator, the confirmation dialog, the inactivity watchdog and the
// notification queue, wired together.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qcom/portal/internal/billpay"
	"github.com/qcom/portal/internal/clock"
	"github.com/qcom/portal/internal/config"
	"github.com/qcom/portal/internal/notify"
	"github.com/qcom/portal/internal/otpprompt"
	"github.com/qcom/portal/internal/watchdog"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const notificationCapacity = 32

var (
	ErrSessionExpired = errors.New("session expired")
	ErrSessionClosed  = errors.New("session closed")
)

// Services builds the per-customer collaborators of a session.
type Services struct {
	Validation billpay.ValidationService
	Bills      func(phone string) billpay.BillService
	Accounts   func(phone string) billpay.AccountService
}

// Revoker invalidates the refresh tokens issued to a session.
type Revoker interface {
	RevokeSession(ctx context.Context, sessionID string) error
}

type Session struct {
	ID        string
	Phone     string
	CreatedAt time.Time

	Orchestrator  *billpay.Orchestrator
	Dialog        *otpprompt.Dialog
	Watchdog      *watchdog.Watchdog
	Notifications *notify.Queue
}

type Manager struct {
	client   *redis.Client
	services Services
	revoker  Revoker
	cfg      config.SessionConfig
	logger   *logrus.Logger
	clock    clock.Clocker

	mu       sync.RWMutex
	sessions map[string]*Session
	// ids retired in this process, refused by resume until the Redis marker
	// covering them lapses
	retired map[string]retirement
}

type retirement struct {
	err   error
	until time.Time
}

type Option func(*Manager)

func WithClock(c clock.Clocker) Option {
	return func(m *Manager) { m.clock = c }
}

func NewManager(client *redis.Client, services Services, revoker Revoker, cfg config.SessionConfig, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		client:   client,
		services: services,
		revoker:  revoker,
		cfg:      cfg,
		logger:   logger,
		clock:    clock.New(),
		sessions: make(map[string]*Session),
		retired:  make(map[string]retirement),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func expiredKey(id string) string { return fmt.Sprintf("session_expired:%s", id) }
func closedKey(id string) string  { return fmt.Sprintf("session_closed:%s", id) }

// Open starts a new session for phone with its watchdog armed.
func (m *Manager) Open(ctx context.Context, phone string) (*Session, error) {
	return m.resume(uuid.New().String(), phone)
}

// Lookup returns the live session for id. A session unknown to this process
// but carried by a valid token, for instance after a restart, is rebuilt.
func (m *Manager) Lookup(ctx context.Context, id, phone string) (*Session, error) {
	expired, err := m.Expired(ctx, id)
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrSessionExpired
	}

	if s, ok := m.Get(id); ok {
		return s, nil
	}

	closed, err := m.client.Exists(ctx, closedKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if closed > 0 {
		return nil, ErrSessionClosed
	}
	return m.resume(id, phone)
}

func (m *Manager) resume(id, phone string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if r, ok := m.retired[id]; ok && m.clock.Now().Before(r.until) {
		return nil, r.err
	}

	entry := m.logger.WithFields(logrus.Fields{"session_id": id, "phone": phone})
	queue := notify.NewQueue(notificationCapacity, entry)

	var dialog *otpprompt.Dialog
	orch := billpay.New(
		m.services.Validation,
		m.services.Bills(phone),
		m.services.Accounts(phone),
		queue,
		entry,
		billpay.WithModalHook(func(open bool) {
			if open {
				dialog.Open()
			} else {
				dialog.Close()
			}
		}),
	)
	dialog = otpprompt.NewDialog(
		otpprompt.FromBool(orch.ValidateOTP),
		entry,
		otpprompt.WithOnClose(orch.CloseModal),
	)

	s := &Session{
		ID:            id,
		Phone:         phone,
		CreatedAt:     m.clock.Now(),
		Orchestrator:  orch,
		Dialog:        dialog,
		Notifications: queue,
	}
	s.Watchdog = watchdog.New(
		func(ctx context.Context) { m.expire(ctx, s) },
		watchdog.WithThreshold(m.cfg.IdleTimeout),
		watchdog.WithPollInterval(m.cfg.PollInterval),
		watchdog.WithClock(m.clock),
	)
	// the watchdog outlives the request that opened the session
	s.Watchdog.Start(context.Background())

	m.sessions[id] = s
	entry.Info("Session started")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close ends a session on logout. Tokens still carrying its id are refused.
func (m *Manager) Close(ctx context.Context, id string) error {
	s := m.retire(id, ErrSessionClosed)
	if s != nil {
		m.teardown(s)
	}
	if err := m.client.Set(ctx, closedKey(id), "1", m.cfg.ExpiredTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark session closed: %w", err)
	}
	m.logger.WithField("session_id", id).Info("Session closed")
	return nil
}

// Expired reports whether id was logged out for inactivity.
func (m *Manager) Expired(ctx context.Context, id string) (bool, error) {
	n, err := m.client.Exists(ctx, expiredKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session expiry: %w", err)
	}
	return n > 0, nil
}

// Shutdown stops every watchdog without logging anyone out.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		m.teardown(s)
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// expire runs on the watchdog goroutine once the idle threshold is exceeded.
func (m *Manager) expire(ctx context.Context, s *Session) {
	entry := m.logger.WithFields(logrus.Fields{"session_id": s.ID, "phone": s.Phone})
	entry.Warn("Session expired after inactivity")

	// the retirement is in place before the marker is written, so a Lookup
	// racing this call cannot rebuild the session
	m.retire(s.ID, ErrSessionExpired)
	if err := m.client.Set(ctx, expiredKey(s.ID), m.cfg.LoginRoute, m.cfg.ExpiredTTL).Err(); err != nil {
		entry.WithError(err).Error("Failed to mark session expired")
	}
	m.teardown(s)

	if m.revoker != nil {
		if err := m.revoker.RevokeSession(ctx, s.ID); err != nil {
			entry.WithError(err).Error("Failed to revoke session tokens")
		}
	}
}

// retire drops id from the live set and refuses to rebuild it with err.
func (m *Manager) retire(id string, err error) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for rid, r := range m.retired {
		if !now.Before(r.until) {
			delete(m.retired, rid)
		}
	}
	m.retired[id] = retirement{err: err, until: now.Add(m.cfg.ExpiredTTL)}

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	return s
}

func (m *Manager) teardown(s *Session) {
	s.Watchdog.Stop()
	// closes the dialog and, through its close hook, clears the orchestrator
	s.Dialog.Close()
	s.Orchestrator.CloseModal()
}
