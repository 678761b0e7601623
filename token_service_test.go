package auth_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-taskauth"
)

func newHSTokenService(issuedAt time.Time, ttl time.Duration) *auth.TokenServiceImpl {
	return auth.NewTokenService([]byte(testSigningKey), ttl, "taskauth-test", []string{"taskauth"}, quietLogger(),
		auth.WithTokenClock(func() time.Time { return issuedAt }),
	)
}

func mintAccessToken(t *testing.T, issuedAt time.Time, ttl time.Duration, identity auth.Identity) string {
	t.Helper()
	token, _, err := newHSTokenService(issuedAt, ttl).Generate(identity)
	require.NoError(t, err)
	return token
}

func testOwner() staticIdentity {
	return staticIdentity{
		id:     uuid.NewString(),
		email:  "owner@acme.io",
		name:   "Olivia Owner",
		role:   string(auth.RoleOwner),
		orgID:  uuid.NewString(),
		active: true,
	}
}

func TestTokenService_GenerateAndValidate(t *testing.T) {
	identity := testOwner()
	ts := auth.NewTokenService([]byte(testSigningKey), time.Hour, "taskauth-test", []string{"taskauth"}, quietLogger())

	token, claims, err := ts.Generate(identity)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID, "every token carries a jti")
	assert.Equal(t, time.Hour, ts.AccessTTL())

	parsed, err := ts.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, identity.id, parsed.Subject())
	assert.Equal(t, identity.id, parsed.UserID())
	assert.Equal(t, identity.email, parsed.Email())
	assert.Equal(t, identity.name, parsed.Name())
	assert.Equal(t, "owner", parsed.Role())
	assert.Equal(t, identity.orgID, parsed.OrganizationID())
	assert.True(t, parsed.Can(string(auth.CapabilityManageUsers)))
	assert.WithinDuration(t, parsed.IssuedAt().Add(time.Hour), parsed.Expires(), time.Second)
}

func TestTokenService_ValidateRejects(t *testing.T) {
	identity := testOwner()
	now := time.Now()

	expired := mintAccessToken(t, now.Add(-2*time.Hour), time.Hour, identity)
	valid := mintAccessToken(t, now, time.Hour, identity)

	ts := newHSTokenService(now, time.Hour)

	_, err := ts.Validate(expired)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenExpired))

	_, err = ts.Validate("garbage")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenMalformed))

	other := auth.NewTokenService([]byte("another-signing-key-another-signing"), time.Hour, "taskauth-test", []string{"taskauth"}, nil)
	_, err = other.Validate(valid)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenMalformed))

	wrongAudience := auth.NewTokenService([]byte(testSigningKey), time.Hour, "taskauth-test", []string{"billing"}, nil)
	_, err = wrongAudience.Validate(valid)
	assert.Error(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": identity.id,
		"exp": now.Add(time.Hour).Unix(),
		"iss": "taskauth-test",
		"aud": "taskauth",
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ts.Validate(raw)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenMalformed))
}

func TestTokenService_RS256PublishesJWKS(t *testing.T) {
	key, keyPEM := newRSAKeyPEM(t)

	ts, err := auth.NewTokenServiceFromConfig(testConfig{signingMethod: "RS256", privateKeyPEM: keyPEM}, quietLogger())
	require.NoError(t, err)

	set, ok := ts.JWKS()
	require.True(t, ok)
	require.Len(t, set.Keys, 1)

	token, _, err := ts.Generate(testOwner())
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return &key.PublicKey, nil })
	require.NoError(t, err)
	assert.Equal(t, set.Keys[0].Kid, parsed.Header["kid"])

	raw, err := json.Marshal(set)
	require.NoError(t, err)

	validator, err := auth.NewJWKSValidatorFromJSON(raw, "taskauth-test", []string{"taskauth"})
	require.NoError(t, err)
	t.Cleanup(validator.Close)

	claims, err := validator.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "owner", claims.Role())

	hsToken := mintAccessToken(t, time.Now(), time.Hour, testOwner())
	_, err = validator.Validate(hsToken)
	assert.Error(t, err)
}

func TestTokenService_HS256HasNoJWKS(t *testing.T) {
	_, ok := newHSTokenService(time.Now(), time.Hour).JWKS()
	assert.False(t, ok)

	_, err := auth.NewTokenServiceFromConfig(testConfig{signingMethod: "RS256", privateKeyPEM: "nope"}, nil)
	assert.Error(t, err)
}

func TestMultiTokenValidator(t *testing.T) {
	now := time.Now()
	identity := testOwner()
	token := mintAccessToken(t, now, time.Hour, identity)

	other := auth.NewTokenService([]byte("another-signing-key-another-signing"), time.Hour, "taskauth-test", []string{"taskauth"}, nil)
	multi := auth.NewMultiTokenValidator(nil, other, newHSTokenService(now, time.Hour))

	claims, err := multi.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, identity.id, claims.UserID())

	expired := mintAccessToken(t, now.Add(-2*time.Hour), time.Hour, identity)
	_, err = auth.NewMultiTokenValidator(newHSTokenService(now, time.Hour), other).Validate(expired)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenExpired), "expiry stops the chain")

	_, err = auth.NewMultiTokenValidator().Validate(token)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenMalformed))
}
