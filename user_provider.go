package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// UserTracker is a store we can use to retrieve users
type UserTracker interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByUserID(ctx context.Context, id string) (*User, error)
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

// UserProvider verifies credentials against stored users. It is the only
// place password hashes are read and the only producer of Identity values.
type UserProvider struct {
	store     UserTracker
	hasher    PasswordHasher
	Validator func(*User) error
	logger    Logger

	dummyMu   sync.Mutex
	dummyHash string
}

var _ IdentityProvider = (*UserProvider)(nil)

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserTracker) *UserProvider {
	return &UserProvider{
		store:     store,
		hasher:    defaultHasher,
		logger:    defLogger{},
		Validator: defaultValidator,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.logger = resolveLogger(l)
	return u
}

// WithPasswordHasher overrides the default bcrypt hasher
func (u *UserProvider) WithPasswordHasher(h PasswordHasher) *UserProvider {
	if h != nil {
		u.hasher = h
	}
	return u
}

func (u *UserProvider) validate(user *User) error {
	if u.Validator != nil {
		return u.Validator(user)
	}
	return defaultValidator(user)
}

// VerifyIdentity will find the user, compare to the password, and return identity.
// Unknown email, wrong password and inactive accounts all fail with
// ErrInvalidCredentials after one full hash comparison.
func (u *UserProvider) VerifyIdentity(ctx context.Context, email, password string) (Identity, error) {
	user, err := u.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !isNotFound(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during verification")
		}

		_ = u.hasher.ComparePasswordAndHash(ctx, password, u.getDummyHash(ctx))
		if ctx.Err() != nil {
			return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "identity verification cancelled")
		}

		u.logger.Info("verify identity rejected", "reason", "unknown_email")
		return nil, ErrInvalidCredentials
	}

	if err := u.hasher.ComparePasswordAndHash(ctx, password, user.PasswordHash); err != nil {
		if HasTextCode(err, TextCodeInvalidCredentials) {
			u.logger.Info("verify identity rejected", "reason", "wrong_password", "user_id", user.ID.String())
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		u.logger.Info("verify identity rejected", "reason", "inactive", "user_id", user.ID.String())
		return nil, ErrInvalidCredentials
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	if err := u.store.TrackSuccessfulLogin(ctx, user); err != nil {
		u.logger.Error("failed to track successful login", "error", err)
	}

	return newAuthIdentity(user), nil
}

// FindIdentityByID re-derives the identity for a user id
func (u *UserProvider) FindIdentityByID(ctx context.Context, id string) (Identity, error) {
	user, err := u.store.GetByUserID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user")
	}

	if err := u.validate(user); err != nil {
		return nil, err
	}

	return newAuthIdentity(user), nil
}

func (u *UserProvider) getDummyHash(ctx context.Context) string {
	u.dummyMu.Lock()
	defer u.dummyMu.Unlock()

	if u.dummyHash != "" {
		return u.dummyHash
	}

	var hash string
	if h, ok := u.hasher.(interface{ DummyHash() string }); ok {
		hash = h.DummyHash()
	}
	if hash == "" {
		var err error
		hash, err = u.hasher.HashPassword(ctx, "dummy-password-for-timing")
		if err != nil || hash == "" {
			u.logger.Warn("dummy hash generation failed, using fallback", "error", err)
			return fallbackDummyHash
		}
	}
	if hash == fallbackDummyHash {
		// not cached, the hasher retries on the next unknown account
		return hash
	}

	u.dummyHash = hash
	return hash
}

type authIdentity struct {
	id             string
	email          string
	name           string
	role           string
	organizationID string
	active         bool
	createdAt      *time.Time
	updatedAt      *time.Time
}

func newAuthIdentity(user *User) authIdentity {
	aid := authIdentity{
		id:        user.ID.String(),
		email:     user.Email,
		name:      user.Name,
		role:      string(user.Role),
		active:    user.IsActive,
		createdAt: user.CreatedAt,
		updatedAt: user.UpdatedAt,
	}
	if user.OrganizationID != uuid.Nil {
		aid.organizationID = user.OrganizationID.String()
	}
	return aid
}

func (a authIdentity) ID() string {
	return a.id
}

// Username is the email, users have no separate handle
func (a authIdentity) Username() string {
	return a.email
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) Name() string {
	return a.name
}

func (a authIdentity) Role() string {
	return a.role
}

func (a authIdentity) OrganizationID() string {
	return a.organizationID
}

func (a authIdentity) IsActive() bool {
	return a.active
}

func (a authIdentity) Timestamps() (*time.Time, *time.Time) {
	return a.createdAt, a.updatedAt
}

var _ Identity = authIdentity{}

func defaultValidator(u *User) error {
	if u.Role.IsValid() {
		return nil
	}
	return goerrors.New("user has an unknown or invalid role", goerrors.CategoryAuth).
		WithTextCode("INVALID_ROLE").
		WithCode(goerrors.CodeUnauthorized).
		WithMetadata(map[string]any{"role": u.Role, "user_id": u.ID.String()})
}

func isNotFound(err error) bool {
	return repository.IsRecordNotFound(err) || goerrors.IsNotFound(err)
}
