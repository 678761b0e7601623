package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService signs and validates access tokens
type TokenService interface {
	TokenValidator
	Generate(identity Identity) (string, *JWTClaims, error)
	SignClaims(claims *JWTClaims) (string, error)
	AccessTTL() time.Duration
}

// TokenServiceImpl implements the TokenService interface
type TokenServiceImpl struct {
	method     jwt.SigningMethod
	signingKey any
	verifyKey  any
	keyID      string
	ttl        time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
	now        func() time.Time
}

// TokenServiceOption customizes the token service
type TokenServiceOption func(*TokenServiceImpl)

// WithRSASigningKey switches signing to RS256 with the given key.
// The public half is published through JWKS.
func WithRSASigningKey(key *rsa.PrivateKey, keyID string) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if key == nil {
			return
		}
		ts.method = jwt.SigningMethodRS256
		ts.signingKey = key
		ts.verifyKey = &key.PublicKey
		ts.keyID = keyID
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if now != nil {
			ts.now = now
		}
	}
}

// NewTokenService creates a new TokenService instance. Tokens are signed
// with HS256 and signingKey unless an RSA key option is given.
func NewTokenService(signingKey []byte, ttl time.Duration, issuer string, audience []string, logger Logger, opts ...TokenServiceOption) *TokenServiceImpl {
	ts := &TokenServiceImpl{
		method:     jwt.SigningMethodHS256,
		signingKey: signingKey,
		verifyKey:  signingKey,
		ttl:        ttl,
		issuer:     issuer,
		audience:   jwt.ClaimStrings(audience),
		logger:     resolveLogger(logger),
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts
}

// NewTokenServiceFromConfig wires a token service from Config
func NewTokenServiceFromConfig(cfg Config, logger Logger) (*TokenServiceImpl, error) {
	var opts []TokenServiceOption
	if cfg.GetSigningMethod() == jwt.SigningMethodRS256.Alg() {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.GetPrivateKeyPEM()))
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to parse RSA private key")
		}
		opts = append(opts, WithRSASigningKey(key, keyIDFor(&key.PublicKey)))
	}

	return NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetAccessTokenTTL(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		logger,
		opts...,
	), nil
}

// AccessTTL returns the lifetime of issued access tokens
func (ts *TokenServiceImpl) AccessTTL() time.Duration {
	return ts.ttl
}

// Generate creates a signed access token for identity
func (ts *TokenServiceImpl) Generate(identity Identity) (string, *JWTClaims, error) {
	if identity == nil {
		return "", nil, goerrors.New("identity is required", goerrors.CategoryBadInput)
	}

	claims := NewJWTClaims(identity, ts.issuer, ts.audience, ts.now().UTC(), ts.ttl)

	signed, err := ts.SignClaims(claims)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenServiceImpl) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}

	ensureTokenID(&claims.RegisteredClaims)

	token := jwt.NewWithClaims(ts.method, claims)
	if ts.keyID != "" {
		token.Header["kid"] = ts.keyID
	}

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning structured claims
func (ts *TokenServiceImpl) Validate(tokenString string) (AuthClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{ts.method.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	claims, err := parseJWTClaims(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != ts.method.Alg() {
			ts.logger.Error("TokenService validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.verifyKey, nil
	}, parserOptions...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// JWKS returns the public key set when tokens are signed with RSA
func (ts *TokenServiceImpl) JWKS() (JSONWebKeySet, bool) {
	pub, ok := ts.verifyKey.(*rsa.PublicKey)
	if !ok {
		return JSONWebKeySet{}, false
	}
	return JSONWebKeySet{
		Keys: []JSONWebKey{{
			Kty: "RSA",
			Use: "sig",
			Alg: ts.method.Alg(),
			Kid: ts.keyID,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}, true
}

// JSONWebKey is a public RSA key in JWK form
type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Alg string `json:"alg,omitempty"`
	Kid string `json:"kid,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the document served at the JWKS endpoint
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

func parseJWTClaims(tokenString string, keyFunc jwt.Keyfunc, opts ...jwt.ParserOption) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, keyFunc, opts...)
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, goerrors.Wrap(err, ErrTokenMalformed.Category, ErrTokenMalformed.Message).
			WithTextCode(ErrTokenMalformed.TextCode).
			WithCode(ErrTokenMalformed.Code)
	}

	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrTokenMalformed
}

func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims != nil && claims.ID == "" {
		claims.ID = uuid.NewString()
	}
}

func keyIDFor(pub *rsa.PublicKey) string {
	if pub == nil {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, pub.N.Bytes()).String()
}
