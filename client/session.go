package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	auth "github.com/goliatone/go-taskauth"
)

const refreshKey = "refresh"

// Session holds the client side authentication state. Values are safe for
// concurrent use. At most one refresh is in flight at any time.
type Session struct {
	mu           sync.RWMutex
	state        State
	token        string
	claims       *auth.JWTClaims
	user         *auth.UserSnapshot
	refreshToken string
	lastLoginAt  time.Time
	lastError    *AuthError
	timer        *time.Timer
	closed       bool
	epoch        uint64

	transport      Transport
	storage        Storage
	logger         auth.Logger
	group          singleflight.Group
	threshold      time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	listeners      []TransitionListener
}

type SessionOption func(*Session)

func WithStorage(storage Storage) SessionOption {
	return func(s *Session) {
		if storage != nil {
			s.storage = storage
		}
	}
}

func WithLogger(logger auth.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRefreshThreshold sets the remaining lifetime that triggers a proactive refresh
func WithRefreshThreshold(threshold time.Duration) SessionOption {
	return func(s *Session) {
		if threshold > 0 {
			s.threshold = threshold
		}
	}
}

// WithRefreshTimeout bounds the shared refresh call
func WithRefreshTimeout(timeout time.Duration) SessionOption {
	return func(s *Session) {
		if timeout > 0 {
			s.refreshTimeout = timeout
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// OnTransition registers a listener at construction time
func OnTransition(listener TransitionListener) SessionOption {
	return func(s *Session) {
		if listener != nil {
			s.listeners = append(s.listeners, listener)
		}
	}
}

func NewSession(transport Transport, opts ...SessionOption) *Session {
	s := &Session{
		state:          StateUnauthenticated,
		transport:      transport,
		storage:        NewMemoryStorage(),
		logger:         nopLogger{},
		threshold:      DefaultRefreshThreshold,
		refreshTimeout: DefaultTimeout,
		now:            time.Now,
	}

	if t, ok := transport.(interface{ Timeout() time.Duration }); ok && t.Timeout() > 0 {
		s.refreshTimeout = t.Timeout()
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// OnTransition adds a listener for state changes
func (s *Session) OnTransition(listener TransitionListener) {
	if listener == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// Login authenticates with email and password
func (s *Session) Login(ctx context.Context, email, password string) (*auth.UserSnapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	fired, err := s.transitionLocked(StateAuthenticating, nil)
	s.mu.Unlock()
	s.notify(fired)
	if err != nil {
		return nil, err
	}

	res, err := s.transport.Login(ctx, email, password)
	var claims *auth.JWTClaims
	if err == nil {
		claims, err = validateLogin(res)
	}

	if err != nil {
		authErr := NormalizeError(err)
		s.logger.Info("login failed", "kind", string(authErr.Kind), "error", authErr.Message)

		s.mu.Lock()
		s.fail(authErr)
		fired := s.drainLocked(authErr)
		s.mu.Unlock()
		s.notify(fired)
		return nil, authErr
	}

	s.mu.Lock()
	user := res.User
	s.token = res.Token
	s.claims = claims
	s.user = &user
	s.refreshToken = res.RefreshToken
	s.lastLoginAt = s.now().UTC()
	s.lastError = nil
	s.persistLocked(ctx)
	fired, _ = s.transitionLocked(StateAuthenticated, nil)
	s.scheduleLocked()
	out := *s.user
	s.mu.Unlock()
	s.notify(fired)

	return &out, nil
}

// Refresh rotates the access token. Concurrent callers share one request,
// which runs detached from the callers contexts and is bounded by the
// refresh timeout. Any failure clears the session.
func (s *Session) Refresh(ctx context.Context) error {
	ch := s.group.DoChan(refreshKey, func() (any, error) {
		return nil, s.doRefresh()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (s *Session) doRefresh() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	presented := s.refreshToken
	userID := s.user.ID
	epoch := s.epoch
	fired, _ := s.transitionLocked(StateRefreshing, nil)
	s.mu.Unlock()
	s.notify(fired)

	ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
	defer cancel()

	var res *RefreshResponse
	var err error
	if presented == "" {
		err = &AuthError{Kind: KindUnauthorized, Message: "no refresh credential"}
	} else {
		res, err = s.transport.Refresh(ctx, presented)
	}
	var claims *auth.JWTClaims
	if err == nil {
		claims, err = validateRefresh(res, userID)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// logged out while the request was in flight
		fired := s.drainLocked(ErrNotAuthenticated)
		s.mu.Unlock()
		s.notify(fired)
		return ErrNotAuthenticated
	}

	if err != nil {
		authErr := NormalizeError(err)
		s.logger.Warn("refresh failed, clearing session", "kind", string(authErr.Kind), "error", authErr.Message)
		s.fail(authErr)
		s.clearStorageLocked(ctx)
		fired := s.drainLocked(authErr)
		s.mu.Unlock()
		s.notify(fired)
		return authErr
	}

	s.token = res.Token
	s.claims = claims
	s.refreshToken = res.RefreshToken
	s.persistLocked(ctx)
	fired, _ = s.transitionLocked(StateAuthenticated, nil)
	s.scheduleLocked()
	s.mu.Unlock()
	s.notify(fired)

	return nil
}

// Restore loads a persisted session. It returns true when a usable session
// was found. Nothing is sent over the network.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	values, err := s.storage.Load(ctx)
	if errors.Is(err, ErrCorruptSession) {
		s.logger.Info("discarding corrupt persisted session", "error", err)
		if err := s.storage.Clear(ctx); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	if s.state != StateUnauthenticated {
		s.mu.Unlock()
		return false, invalidTransition(s.state, StateAuthenticated)
	}

	token, claims, user, ok := s.decodePersisted(values)
	if !ok {
		if len(values) > 0 {
			s.logger.Info("discarding persisted session")
			s.clearStorageLocked(ctx)
		}
		s.mu.Unlock()
		return false, nil
	}

	s.token = token
	s.claims = claims
	s.user = user
	s.refreshToken = values[KeyRefreshToken]
	if at, err := time.Parse(time.RFC3339, values[KeyLastLoginAt]); err == nil {
		s.lastLoginAt = at
	}
	fired, _ := s.transitionLocked(StateAuthenticated, nil)
	s.scheduleLocked()
	s.mu.Unlock()
	s.notify(fired)

	return true, nil
}

func (s *Session) decodePersisted(values map[string]string) (string, *auth.JWTClaims, *auth.UserSnapshot, bool) {
	token := values[KeyAuthToken]
	rawUser := values[KeyUser]
	if token == "" || rawUser == "" {
		return "", nil, nil, false
	}

	claims, err := DecodeClaims(token)
	if err != nil || !claims.Expires().After(s.now()) {
		return "", nil, nil, false
	}

	user := &auth.UserSnapshot{}
	if err := json.Unmarshal([]byte(rawUser), user); err != nil || user.ID == "" {
		return "", nil, nil, false
	}

	if claims.UserID() != user.ID {
		return "", nil, nil, false
	}

	return token, claims, user, true
}

// Logout revokes the refresh credential on the server and clears local
// state. Local state is cleared even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	// wait for an in-flight refresh so the credential we revoke is current
	_, _, _ = s.group.Do(refreshKey, func() (any, error) { return nil, nil })

	s.mu.RLock()
	presented := s.refreshToken
	s.mu.RUnlock()

	var err error
	if presented != "" {
		if err = s.transport.Logout(ctx, presented); err != nil {
			s.logger.Warn("server logout failed", "error", err)
			err = NormalizeError(err)
		}
	}

	s.mu.Lock()
	s.epoch++
	s.stopTimerLocked()
	s.clearLocked()
	s.clearStorageLocked(ctx)
	var fired []Transition
	if s.state == StateAuthenticated {
		fired, _ = s.transitionLocked(StateUnauthenticated, nil)
	}
	s.mu.Unlock()
	s.notify(fired)

	return err
}

// Close stops the proactive refresh timer
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// Token returns the current access token
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns a copy of the current user snapshot
func (s *Session) User() (auth.UserSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return auth.UserSnapshot{}, false
	}
	return *s.user, true
}

func (s *Session) LastLoginAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLoginAt
}

// LastError returns the error of the last failed login or refresh
func (s *Session) LastError() *AuthError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// ExpiresAt returns the access token expiry
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil {
		return time.Time{}
	}
	return s.claims.Expires()
}

// NeedsRefresh reports whether the access token is within the refresh threshold
func (s *Session) NeedsRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	return NeedsRefresh(s.token, s.now(), s.threshold)
}

// Can reports whether the decoded token role grants capability. The answer
// is advisory only, the server decides.
func (s *Session) Can(capability auth.Capability) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.claims == nil || s.state != StateAuthenticated {
		return false
	}
	return s.claims.Can(string(capability))
}

func (s *Session) HasRole(role auth.UserRole) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.user.Role == string(role)
}

func (s *Session) HasAnyRole(roles ...auth.UserRole) bool {
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// IsManager reports whether the user manages an organization
func (s *Session) IsManager() bool {
	return s.HasAnyRole(auth.RoleAdmin, auth.RoleOwner)
}

func (s *Session) transitionLocked(to State, err error) ([]Transition, error) {
	from := s.state
	if !CanTransition(from, to) {
		return nil, invalidTransition(from, to)
	}
	s.state = to
	return []Transition{{From: from, To: to, Err: err}}, nil
}

// drainLocked moves through error back to unauthenticated
func (s *Session) drainLocked(err error) []Transition {
	var fired []Transition
	if t, terr := s.transitionLocked(StateError, err); terr == nil {
		fired = append(fired, t...)
	}
	if t, terr := s.transitionLocked(StateUnauthenticated, err); terr == nil {
		fired = append(fired, t...)
	}
	return fired
}

func (s *Session) fail(err *AuthError) {
	s.lastError = err
	s.stopTimerLocked()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	s.token = ""
	s.claims = nil
	s.user = nil
	s.refreshToken = ""
}

func (s *Session) persistLocked(ctx context.Context) {
	rawUser, err := json.Marshal(s.user)
	if err != nil {
		s.logger.Error("failed to encode user", "error", err)
		return
	}

	values := map[string]string{
		KeyAuthToken:    s.token,
		KeyUser:         string(rawUser),
		KeyRefreshToken: s.refreshToken,
		KeyLastLoginAt:  s.lastLoginAt.Format(time.RFC3339),
	}
	if err := s.storage.Save(ctx, values); err != nil {
		s.logger.Error("failed to persist session", "error", err)
	}
}

func (s *Session) clearStorageLocked(ctx context.Context) {
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.Error("failed to clear persisted session", "error", err)
	}
}

func (s *Session) scheduleLocked() {
	s.stopTimerLocked()
	if s.closed || s.claims == nil {
		return
	}

	remaining := s.claims.Expires().Sub(s.now())
	delay := remaining - s.threshold
	if delay < 0 {
		// already inside the threshold, refresh at half the remaining lifetime
		delay = max(remaining/2, 0)
	}

	s.timer = time.AfterFunc(delay, func() {
		if err := s.Refresh(context.Background()); err != nil && !errors.Is(err, ErrNotAuthenticated) {
			s.logger.Warn("proactive refresh failed", "error", err)
		}
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) notify(fired []Transition) {
	if len(fired) == 0 {
		return
	}
	s.mu.RLock()
	listeners := append([]TransitionListener(nil), s.listeners...)
	s.mu.RUnlock()

	for _, t := range fired {
		for _, l := range listeners {
			l(t)
		}
	}
}

func validateLogin(res *LoginResponse) (*auth.JWTClaims, error) {
	if res == nil || res.Token == "" || res.RefreshToken == "" || res.User.ID == "" {
		return nil, &AuthError{Kind: KindUnknown, Message: "incomplete login response"}
	}
	claims, err := DecodeClaims(res.Token)
	if err != nil {
		return nil, &AuthError{Kind: KindUnknown, Message: "malformed access token", Err: err}
	}
	if claims.UserID() != res.User.ID {
		return nil, &AuthError{Kind: KindUnknown, Message: "access token subject does not match user"}
	}
	return claims, nil
}

func validateRefresh(res *RefreshResponse, userID string) (*auth.JWTClaims, error) {
	if res == nil || res.Token == "" {
		return nil, &AuthError{Kind: KindUnknown, Message: "incomplete refresh response"}
	}
	// the presented credential is spent, a response without its successor
	// leaves nothing to refresh with
	if res.RefreshToken == "" {
		return nil, &AuthError{Kind: KindUnknown, Message: "refresh response carries no rotated credential"}
	}
	claims, err := DecodeClaims(res.Token)
	if err != nil {
		return nil, &AuthError{Kind: KindUnknown, Message: "malformed access token", Err: err}
	}
	if claims.UserID() != userID {
		return nil, &AuthError{Kind: KindUnauthorized, Message: "refreshed token belongs to another user"}
	}
	return claims, nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
