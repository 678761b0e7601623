package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// AuthResult is returned by every operation that establishes a session
type AuthResult struct {
	User         UserSnapshot
	Identity     Identity
	Tokens       *TokenPair
	Organization *Organization
}

// Auther orchestrates credential verification, token issuance and
// refresh credential rotation.
type Auther struct {
	provider       IdentityProvider
	issuer         *TokenIssuer
	tokenService   TokenService
	tokenValidator TokenValidator
	registrar      *RegisterUserHandler
	logger         Logger
	activitySink   ActivitySink
	now            func() time.Time
	useHashid      bool
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, issuer *TokenIssuer, tokenService TokenService) *Auther {
	return &Auther{
		provider:     provider,
		issuer:       issuer,
		tokenService: tokenService,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

// NewAutherFromConfig wires the default stack: bcrypt user provider,
// token service and issuer over the repositories in repo.
func NewAutherFromConfig(cfg Config, repo RepositoryManager, logger Logger) (*Auther, error) {
	logger = resolveLogger(logger)

	tokenService, err := NewTokenServiceFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	hasher := NewBcryptHasher(0, 0)
	provider := NewUserProvider(repo.Users()).
		WithLogger(logger).
		WithPasswordHasher(hasher)

	issuer := NewTokenIssuer(
		tokenService,
		repo.RefreshTokens(),
		provider,
		[]byte(cfg.GetRefreshTokenSecret()),
		WithRefreshTokenTTL(cfg.GetRefreshTokenTTL()),
		WithIssuerLogger(logger),
	)

	return NewAuthenticator(provider, issuer, tokenService).
		WithLogger(logger).
		WithRegistrar(NewRegisterUserHandler(repo, hasher)), nil
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = resolveLogger(logger)
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	if s.issuer != nil {
		s.issuer.activitySink = s.activitySink
	}
	return s
}

// WithTokenValidator sets a custom token validator for externally issued tokens.
func (s *Auther) WithTokenValidator(validator TokenValidator) *Auther {
	s.tokenValidator = validator
	return s
}

// WithRegistrar enables the registration operations
func (s *Auther) WithRegistrar(registrar *RegisterUserHandler) *Auther {
	s.registrar = registrar
	return s
}

// WithHashidUserIDs derives user ids from the email on registration
func (s *Auther) WithHashidUserIDs(enabled bool) *Auther {
	s.useHashid = enabled
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Issuer returns the TokenIssuer used by this Authenticator
func (s *Auther) Issuer() *TokenIssuer {
	return s.issuer
}

// Validator returns the validator used for bearer tokens
func (s *Auther) Validator() TokenValidator {
	if s.tokenValidator != nil {
		return s.tokenValidator
	}
	return s.tokenService
}

func (s *Auther) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	identity, err := s.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		s.logger.Error("Login verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": normalizeEmail(email),
			"error": err.Error(),
		})
		return nil, err
	}

	pair, err := s.issuer.Issue(ctx, identity)
	if err != nil {
		s.logger.Error("Login token issue error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, actorFromIdentity(identity), identity.ID(), map[string]any{
			"email": identity.Email(),
			"error": err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, actorFromIdentity(identity), identity.ID(), map[string]any{
		"email": identity.Email(),
	})

	return &AuthResult{
		User:     NewUserSnapshot(identity),
		Identity: identity,
		Tokens:   pair,
	}, nil
}

// Register creates a user and signs them in
func (s *Auther) Register(ctx context.Context, msg RegisterUserMessage) (*AuthResult, error) {
	if s.registrar == nil {
		return nil, goerrors.New("registration is not configured", goerrors.CategoryInternal)
	}

	msg.UseHashid = msg.UseHashid || s.useHashid
	user, err := s.registrar.Execute(ctx, msg)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventRegisterFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email": normalizeEmail(msg.Email),
			"error": err.Error(),
		})
		return nil, err
	}

	return s.signInRegistered(ctx, user, nil)
}

// RegisterWithOrganization creates an organization and its owner, then signs them in
func (s *Auther) RegisterWithOrganization(ctx context.Context, msg RegisterOrganizationUserMessage) (*AuthResult, error) {
	if s.registrar == nil {
		return nil, goerrors.New("registration is not configured", goerrors.CategoryInternal)
	}

	msg.UseHashid = msg.UseHashid || s.useHashid
	user, org, err := s.registrar.ExecuteWithOrganization(ctx, msg)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventRegisterFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"email":        normalizeEmail(msg.Email),
			"organization": msg.OrganizationName,
			"error":        err.Error(),
		})
		return nil, err
	}

	return s.signInRegistered(ctx, user, org)
}

func (s *Auther) signInRegistered(ctx context.Context, user *User, org *Organization) (*AuthResult, error) {
	identity, err := s.provider.FindIdentityByID(ctx, user.ID.String())
	if err != nil {
		s.logger.Error("Register identity lookup error", "error", err)
		return nil, err
	}

	pair, err := s.issuer.Issue(ctx, identity)
	if err != nil {
		s.logger.Error("Register token issue error", "error", err)
		return nil, err
	}

	meta := map[string]any{"email": identity.Email(), "role": identity.Role()}
	if org != nil {
		meta["organization_id"] = org.ID.String()
	}
	s.emitAuthEvent(ctx, ActivityEventRegister, actorFromIdentity(identity), identity.ID(), meta)

	return &AuthResult{
		User:         NewUserSnapshot(identity),
		Identity:     identity,
		Tokens:       pair,
		Organization: org,
	}, nil
}

// Refresh rotates the presented refresh credential
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	pair, identity, err := s.issuer.Refresh(ctx, refreshToken)
	if err != nil {
		s.logger.Info("Refresh rejected", "error", err)
		s.emitAuthEvent(ctx, ActivityEventRefreshFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventRefreshSuccess, actorFromIdentity(identity), identity.ID(), map[string]any{
		"family_id": pair.FamilyID.String(),
	})

	return &AuthResult{
		User:     NewUserSnapshot(identity),
		Identity: identity,
		Tokens:   pair,
	}, nil
}

// Logout revokes the refresh chain of the presented credential
func (s *Auther) Logout(ctx context.Context, refreshToken string) error {
	if err := s.issuer.Revoke(ctx, refreshToken); err != nil {
		s.logger.Error("Logout revoke error", "error", err)
		return err
	}
	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{Type: "unknown"}, "", nil)
	return nil
}

// ClaimsFromToken validates a bearer token
func (s *Auther) ClaimsFromToken(raw string) (AuthClaims, error) {
	claims, err := s.Validator().Validate(raw)
	if err != nil {
		s.logger.Debug("ClaimsFromToken validation failed", "error", err)
		return nil, err
	}
	return claims, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		UserID:     userID,
		Metadata:   metadata,
		OccurredAt: s.now().UTC(),
	}
	if err := s.activitySink.Record(ctx, event); err != nil {
		s.logger.Error("failed to record auth activity", "event", string(eventType), "error", err)
	}
}
