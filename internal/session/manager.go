package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a credential is trusted after login.
const DefaultTTL = 96 * time.Hour

// DefaultLoginTimeout bounds an interactive login.
const DefaultLoginTimeout = 5 * time.Minute

// Session is an authenticated credential with its lifetime. Sessions are
// immutable apart from the validity flag; a refresh produces a new Session.
type Session struct {
	Credential Credential
	AcquiredAt time.Time
	ExpiresAt  time.Time

	valid atomic.Bool
}

func newSession(c Credential, ttl time.Duration) *Session {
	acquired := c.AcquiredAt()
	s := &Session{Credential: c, AcquiredAt: acquired, ExpiresAt: acquired.Add(ttl)}
	s.valid.Store(true)
	return s
}

// Token returns the session token.
func (s *Session) Token() string {
	return s.Credential.Token
}

// Authenticator performs an interactive login and returns the resulting
// credential. It should return when ctx is done.
type Authenticator interface {
	Login(ctx context.Context) (Credential, error)
}

// Verifier checks a stored credential against the platform. It returns an
// error wrapping ErrCredentialRejected when the platform refuses it.
type Verifier interface {
	Verify(ctx context.Context, c Credential) error
}

// Options configures a Manager.
type Options struct {
	TTL          time.Duration
	LoginTimeout time.Duration
	Verifier     Verifier
	Logger       *zap.Logger
}

// Manager hands out sessions. It is safe for concurrent use; readers see
// either the old or the new session across a refresh, never a mix.
type Manager struct {
	auth     Authenticator
	store    CredentialStore
	verifier Verifier
	ttl      time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	current atomic.Pointer[Session]
	acquire singleflight.Group
	login   singleflight.Group
	logins  atomic.Int64
}

// NewManager creates a Manager. store may be nil for an in-memory session.
func NewManager(auth Authenticator, store CredentialStore, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultLoginTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		auth:     auth,
		store:    store,
		verifier: opts.Verifier,
		ttl:      opts.TTL,
		timeout:  opts.LoginTimeout,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// SetVerifier installs the verifier used when a stored credential is loaded.
// It must be called before the manager is shared.
func (m *Manager) SetVerifier(v Verifier) {
	m.verifier = v
}

// Current returns the installed session, which may be nil or invalid.
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// IsValid reports whether s is usable. Only local state is consulted.
func (m *Manager) IsValid(s *Session) bool {
	return s != nil && s.valid.Load() && m.now().Before(s.ExpiresAt)
}

// Logins returns the number of interactive logins started by this manager.
func (m *Manager) Logins() int64 {
	return m.logins.Load()
}

// Acquire returns a valid session. It reuses the current session, then a
// stored credential that is still fresh, and only then starts an interactive
// login. Concurrent callers share one attempt.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if s := m.current.Load(); m.IsValid(s) {
		return s, nil
	}

	ch := m.acquire.DoChan("acquire", func() (any, error) {
		shared := context.WithoutCancel(ctx)
		if s := m.current.Load(); m.IsValid(s) {
			return s, nil
		}
		if s := m.loadStored(shared); s != nil {
			return s, nil
		}
		return m.doLogin(shared)
	})
	return waitSession(ctx, ch)
}

// Refresh forces a new interactive login even if the current session looks
// valid. Concurrent refreshes share a single login.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	return m.doLogin(ctx)
}

// Reauthenticate replaces stale after the platform rejected it. If another
// caller already replaced it, the replacement is returned without a new login.
func (m *Manager) Reauthenticate(ctx context.Context, stale *Session) (*Session, error) {
	if cur := m.current.Load(); cur != nil && cur != stale && m.IsValid(cur) {
		return cur, nil
	}
	m.Invalidate(stale)
	return m.doLogin(ctx)
}

// Invalidate marks s dead. If s is the current session it is dropped along
// with the stored credential.
func (m *Manager) Invalidate(s *Session) {
	if s == nil {
		return
	}
	s.valid.Store(false)
	if m.current.CompareAndSwap(s, nil) && m.store != nil {
		if stored, err := m.store.Load(); err == nil && stored != nil && stored.Token == s.Credential.Token {
			if err := m.store.Clear(); err != nil {
				m.logger.Warn("failed to clear stored credential", zap.Error(err))
			}
		}
	}
	m.logger.Info("session invalidated", zap.Time("acquired_at", s.AcquiredAt))
}

// Logout drops the current session and the stored credential.
func (m *Manager) Logout() error {
	if s := m.current.Swap(nil); s != nil {
		s.valid.Store(false)
	}
	if m.store != nil {
		return m.store.Clear()
	}
	return nil
}

// Import installs an externally obtained credential, e.g. from a share code.
func (m *Manager) Import(c Credential) (*Session, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s := newSession(c, m.ttl)
	if !m.IsValid(s) {
		return nil, fmt.Errorf("credential expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	m.install(s)
	return s, nil
}

// Export returns the credential of the current session, falling back to the
// stored one.
func (m *Manager) Export() (Credential, error) {
	if s := m.current.Load(); m.IsValid(s) {
		return s.Credential, nil
	}
	if m.store != nil {
		c, err := m.store.Load()
		if err != nil {
			return Credential{}, err
		}
		if c != nil {
			return *c, nil
		}
	}
	return Credential{}, ErrNotLoggedIn
}

// Status describes the login state.
type Status struct {
	LoggedIn         bool      `json:"logged_in"`
	LoginTime        time.Time `json:"login_time,omitempty"`
	ExpireTime       time.Time `json:"expire_time,omitempty"`
	HoursUntilExpire float64   `json:"hours_until_expire"`
	MissingCookies   []string  `json:"missing_cookies,omitempty"`
}

// Status reports the login state from the current session or the stored
// credential, without contacting the platform.
func (m *Manager) Status() Status {
	var c *Credential
	if s := m.current.Load(); m.IsValid(s) {
		c = &s.Credential
	} else if m.store != nil {
		if stored, err := m.store.Load(); err == nil {
			c = stored
		}
	}
	if c == nil || c.Validate() != nil {
		return Status{}
	}

	login := c.AcquiredAt()
	expire := login.Add(m.ttl)
	remaining := expire.Sub(m.now())
	if remaining <= 0 {
		return Status{LoginTime: login, ExpireTime: expire}
	}
	return Status{
		LoggedIn:         true,
		LoginTime:        login,
		ExpireTime:       expire,
		HoursUntilExpire: float64(int(remaining.Hours()*10)) / 10,
		MissingCookies:   c.MissingCookies(),
	}
}

func (m *Manager) install(s *Session) {
	m.current.Store(s)
	if m.store != nil {
		if err := m.store.Save(s.Credential); err != nil {
			m.logger.Warn("failed to persist credential", zap.Error(err))
		}
	}
}

func (m *Manager) loadStored(ctx context.Context) *Session {
	if m.store == nil {
		return nil
	}
	c, err := m.store.Load()
	if err != nil {
		m.logger.Warn("ignoring unreadable stored credential", zap.Error(err))
		return nil
	}
	if c == nil || c.Validate() != nil {
		return nil
	}

	s := newSession(*c, m.ttl)
	if !m.IsValid(s) {
		m.logger.Info("stored credential expired", zap.Time("expired_at", s.ExpiresAt))
		return nil
	}

	if m.verifier != nil {
		if err := m.verifier.Verify(ctx, *c); err != nil {
			if errors.Is(err, ErrCredentialRejected) {
				m.logger.Info("stored credential rejected by platform")
				if err := m.store.Clear(); err != nil {
					m.logger.Warn("failed to clear stored credential", zap.Error(err))
				}
			} else {
				m.logger.Warn("could not verify stored credential", zap.Error(err))
			}
			return nil
		}
	}

	m.current.Store(s)
	m.logger.Info("restored stored credential", zap.Time("expires_at", s.ExpiresAt))
	return s
}

// doLogin runs one interactive login shared by every concurrent caller. The
// login is not tied to any single caller's cancellation; each caller stops
// waiting when its own context ends.
func (m *Manager) doLogin(ctx context.Context) (*Session, error) {
	ch := m.login.DoChan("login", func() (any, error) {
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		m.logins.Add(1)
		m.logger.Info("starting interactive login", zap.Duration("timeout", m.timeout))

		c, err := m.auth.Login(loginCtx)
		if err != nil {
			if errors.Is(err, ErrAuthTimeout) || errors.Is(loginCtx.Err(), context.DeadlineExceeded) {
				return nil, &AuthError{Message: fmt.Sprintf("no confirmation within %s", m.timeout), Cause: ErrAuthTimeout}
			}
			return nil, &AuthError{Message: "login failed", Cause: err}
		}
		if c.Timestamp == 0 {
			c = NewCredential(c.Token, c.Cookies, m.now())
		}
		if err := c.Validate(); err != nil {
			return nil, &AuthError{Message: "login returned an incomplete credential", Cause: err}
		}
		if missing := c.MissingCookies(); len(missing) > 0 {
			m.logger.Warn("login credential lacks expected cookies", zap.Strings("missing", missing))
		}

		s := newSession(c, m.ttl)
		m.install(s)
		m.logger.Info("login succeeded", zap.Time("expires_at", s.ExpiresAt))
		return s, nil
	})
	return waitSession(ctx, ch)
}

func waitSession(ctx context.Context, ch <-chan singleflight.Result) (*Session, error) {
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
