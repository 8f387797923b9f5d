package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

const DefaultCheckInterval = 60 * time.Second

var ErrSessionExpired = fmt.Errorf("session expired: %w", portalerr.ErrUnauthorized)

type LogoutReason string

const (
	LogoutExpired      LogoutReason = "token_expired"
	LogoutUnauthorized LogoutReason = "unauthorized"
	LogoutRequested    LogoutReason = "requested"
)

type Status struct {
	HasToken  bool
	Role      string
	ExpiresAt time.Time
	Countdown string
	Expired   bool
}

type Option func(*Monitor)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// Monitor is the one place that decides whether the stored token is still
// usable. The countdown display and the HTTP client both consult it.
type Monitor struct {
	store    Store
	clock    clockwork.Clock
	logger   *zap.Logger
	interval time.Duration

	mu        sync.Mutex
	countdown string
	listeners []func(LogoutReason)
}

func NewMonitor(store Store, opts ...Option) *Monitor {
	m := &Monitor{
		store:    store,
		clock:    clockwork.NewRealClock(),
		logger:   zap.NewNop(),
		interval: DefaultCheckInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnLogout registers fn to run after credentials are cleared.
func (m *Monitor) OnLogout(fn func(LogoutReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Monitor) Login(c Credentials) error {
	if c.Empty() {
		return errors.New("session: token is required")
	}
	if err := m.store.Save(c); err != nil {
		return err
	}
	m.Tick()
	return nil
}

func (m *Monitor) Credentials() (Credentials, error) {
	return m.store.Load()
}

func (m *Monitor) Countdown() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countdown
}

func (m *Monitor) setCountdown(s string) {
	m.mu.Lock()
	m.countdown = s
	m.mu.Unlock()
}

// Tick runs one expiry check. An expired token forces a logout; a token that
// cannot be decoded only loses its countdown.
func (m *Monitor) Tick() Status {
	creds, err := m.store.Load()
	if err != nil {
		m.logger.Warn("session: load credentials", zap.Error(err))
		m.setCountdown("")
		return Status{}
	}
	if creds.Empty() {
		m.setCountdown("")
		return Status{}
	}

	st := Status{HasToken: true, Role: creds.Role}
	exp, err := ExpiryOf(creds.Token)
	if err != nil {
		m.logger.Warn("session: token expiry unavailable", zap.Error(err))
		m.setCountdown("")
		return st
	}
	st.ExpiresAt = exp

	now := m.clock.Now()
	if !now.Before(exp) {
		m.ForceLogout(LogoutExpired)
		return Status{Expired: true, ExpiresAt: exp}
	}
	st.Countdown = FormatRemaining(exp.Sub(now))
	m.setCountdown(st.Countdown)
	return st
}

// Token returns the bearer token for an outgoing request. An empty string with
// a nil error means there is no session.
func (m *Monitor) Token() (string, error) {
	creds, err := m.store.Load()
	if err != nil {
		return "", err
	}
	if creds.Empty() {
		return "", nil
	}
	exp, err := ExpiryOf(creds.Token)
	if err != nil {
		// Let the backend judge tokens the client cannot read.
		return creds.Token, nil
	}
	if !m.clock.Now().Before(exp) {
		m.ForceLogout(LogoutExpired)
		return "", ErrSessionExpired
	}
	return creds.Token, nil
}

func (m *Monitor) IsValid() bool {
	token, err := m.Token()
	return err == nil && token != ""
}

func (m *Monitor) Role() string {
	creds, err := m.store.Load()
	if err != nil {
		return ""
	}
	return creds.Role
}

// HandleUnauthorized is called when the backend answers 401.
func (m *Monitor) HandleUnauthorized() {
	m.ForceLogout(LogoutUnauthorized)
}

func (m *Monitor) Logout() {
	m.ForceLogout(LogoutRequested)
}

// ForceLogout clears stored credentials and notifies listeners. It never
// returns an error; a failing store is logged.
func (m *Monitor) ForceLogout(reason LogoutReason) {
	if err := m.store.Clear(); err != nil {
		m.logger.Error("session: clear credentials", zap.Error(err))
	}
	m.mu.Lock()
	m.countdown = ""
	listeners := append(([]func(LogoutReason))(nil), m.listeners...)
	m.mu.Unlock()

	m.logger.Info("session: logged out", zap.String("reason", string(reason)))
	for _, fn := range listeners {
		fn(reason)
	}
}

// Run ticks once immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.Tick()
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			m.Tick()
		}
	}
}
