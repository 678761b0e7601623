package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is the result of a successful issue or refresh
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	FamilyID         uuid.UUID
	Claims           *JWTClaims
}

// TokenIssuer mints access tokens and rotating refresh credentials.
type TokenIssuer struct {
	tokens       TokenService
	store        RefreshTokenStore
	identities   IdentityProvider
	hasher       *RefreshTokenHasher
	refreshTTL   time.Duration
	now          func() time.Time
	logger       Logger
	activitySink ActivitySink
}

// TokenIssuerOption customizes the issuer
type TokenIssuerOption func(*TokenIssuer)

func WithRefreshTokenTTL(ttl time.Duration) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if ttl > 0 {
			ti.refreshTTL = ttl
		}
	}
}

// WithIssuerClock injects a custom clock (useful for tests).
func WithIssuerClock(now func() time.Time) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		if now != nil {
			ti.now = now
		}
	}
}

func WithIssuerLogger(logger Logger) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		ti.logger = resolveLogger(logger)
	}
}

func WithIssuerActivitySink(sink ActivitySink) TokenIssuerOption {
	return func(ti *TokenIssuer) {
		ti.activitySink = normalizeActivitySink(sink)
	}
}

func NewTokenIssuer(tokens TokenService, store RefreshTokenStore, identities IdentityProvider, refreshSecret []byte, opts ...TokenIssuerOption) *TokenIssuer {
	ti := &TokenIssuer{
		tokens:       tokens,
		store:        store,
		identities:   identities,
		hasher:       NewRefreshTokenHasher(refreshSecret),
		refreshTTL:   DefaultRefreshTokenTTL,
		now:          time.Now,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ti)
		}
	}
	return ti
}

// RefreshTTL returns the lifetime of refresh credentials
func (ti *TokenIssuer) RefreshTTL() time.Duration {
	return ti.refreshTTL
}

// Issue mints an access token and starts a new refresh chain for identity
func (ti *TokenIssuer) Issue(ctx context.Context, identity Identity) (*TokenPair, error) {
	return ti.issue(ctx, identity, uuid.New())
}

func (ti *TokenIssuer) issue(ctx context.Context, identity Identity, familyID uuid.UUID) (*TokenPair, error) {
	if identity == nil {
		return nil, goerrors.New("identity is required", goerrors.CategoryBadInput)
	}

	userID, err := uuid.Parse(identity.ID())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "identity id is not a valid uuid")
	}

	access, claims, err := ti.tokens.Generate(identity)
	if err != nil {
		return nil, err
	}

	refresh, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	now := ti.now().UTC()
	record := NewRefreshTokenRecord(userID, familyID, ti.hasher.Hash(refresh), now, ti.refreshTTL)
	if err := ti.store.Save(ctx, record); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist refresh token")
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(ti.tokens.AccessTTL() / time.Second),
		AccessExpiresAt:  claims.Expires(),
		RefreshExpiresAt: record.ExpiresAt,
		FamilyID:         familyID,
		Claims:           claims,
	}, nil
}

// Refresh exchanges a refresh credential for a new token pair. The presented
// credential is consumed, so it can succeed at most once. Presenting an
// already consumed credential revokes its whole chain.
func (ti *TokenIssuer) Refresh(ctx context.Context, presented string) (*TokenPair, Identity, error) {
	if presented == "" {
		return nil, nil, ErrInvalidRefreshToken
	}

	record, err := ti.store.Consume(ctx, ti.hasher.Hash(presented), ti.now().UTC())
	if err != nil {
		switch {
		case HasTextCode(err, TextCodeRefreshTokenReused):
			ti.revokeOnReuse(ctx, record)
			return nil, nil, ErrInvalidRefreshToken
		case HasTextCode(err, TextCodeRefreshTokenNotFound), HasTextCode(err, TextCodeRefreshTokenExpired):
			ti.logger.Info("refresh rejected", "reason", err.Error())
			return nil, nil, ErrInvalidRefreshToken
		default:
			return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume refresh token")
		}
	}

	identity, err := ti.identities.FindIdentityByID(ctx, record.UserID.String())
	if err != nil && !HasTextCode(err, TextCodeIdentityNotFound) {
		return nil, nil, err
	}

	if identity == nil || !identity.IsActive() {
		ti.logger.Warn("refresh rejected for missing or inactive identity", "user_id", record.UserID.String())
		if _, err := ti.store.RevokeFamily(ctx, record.FamilyID); err != nil {
			ti.logger.Error("failed to revoke refresh family", "family_id", record.FamilyID.String(), "error", err)
		}
		return nil, nil, ErrInvalidRefreshToken
	}

	pair, err := ti.issue(ctx, identity, record.FamilyID)
	if err != nil {
		return nil, nil, err
	}

	return pair, identity, nil
}

// Revoke removes the chain the presented credential belongs to. Unknown
// credentials are ignored so logout is idempotent.
func (ti *TokenIssuer) Revoke(ctx context.Context, presented string) error {
	if presented == "" {
		return nil
	}

	record, err := ti.store.Find(ctx, ti.hasher.Hash(presented))
	if err != nil {
		if HasTextCode(err, TextCodeRefreshTokenNotFound) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up refresh token")
	}

	if _, err := ti.store.RevokeFamily(ctx, record.FamilyID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh token")
	}
	return nil
}

// PurgeExpired deletes refresh records past their expiry
func (ti *TokenIssuer) PurgeExpired(ctx context.Context) (int64, error) {
	return ti.store.DeleteExpired(ctx, ti.now().UTC())
}

// StartJanitor purges expired records every interval until ctx is done
func (ti *TokenIssuer) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := ti.PurgeExpired(ctx)
				if err != nil {
					ti.logger.Error("refresh token janitor failed", "error", err)
					continue
				}
				if n > 0 {
					ti.logger.Debug("refresh token janitor purged records", "count", n)
				}
			}
		}
	}()
}

func (ti *TokenIssuer) revokeOnReuse(ctx context.Context, record *RefreshToken) {
	if record == nil {
		return
	}

	revoked, err := ti.store.RevokeFamily(ctx, record.FamilyID)
	if err != nil {
		ti.logger.Error("failed to revoke refresh family after reuse", "family_id", record.FamilyID.String(), "error", err)
	}

	ti.logger.Warn("refresh token reuse detected",
		"user_id", record.UserID.String(),
		"family_id", record.FamilyID.String(),
		"revoked", revoked,
	)

	if err := ti.activitySink.Record(ctx, ActivityEvent{
		EventType: ActivityEventRefreshReuse,
		Actor:     ActorRef{ID: record.UserID.String(), Type: "user"},
		UserID:    record.UserID.String(),
		Metadata: map[string]any{
			"family_id": record.FamilyID.String(),
			"revoked":   revoked,
		},
		OccurredAt: ti.now().UTC(),
	}); err != nil {
		ti.logger.Error("failed to record refresh reuse activity", "error", err)
	}
}
