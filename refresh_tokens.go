package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// RefreshTokenBytes is the entropy of a refresh credential
const RefreshTokenBytes = 64

// RefreshTokenStore persists refresh credential records keyed by hash.
type RefreshTokenStore interface {
	Save(ctx context.Context, record *RefreshToken) error
	Find(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// Consume atomically marks the record as used. Exactly one caller can
	// consume a record: everyone else gets the record back together with
	// ErrRefreshTokenReused. Unknown hashes fail with ErrRefreshTokenNotFound
	// and expired records with ErrRefreshTokenExpired.
	Consume(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error)
	// RevokeFamily removes every record of a rotation chain.
	RevokeFamily(ctx context.Context, familyID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// GenerateRefreshToken returns a new random refresh credential, hex encoded
func GenerateRefreshToken() (string, error) {
	buf := make([]byte, RefreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}
	return hex.EncodeToString(buf), nil
}

// RefreshTokenHasher derives the lookup key stored for a credential.
// A keyed hash means a leaked table cannot be replayed.
type RefreshTokenHasher struct {
	secret []byte
}

func NewRefreshTokenHasher(secret []byte) *RefreshTokenHasher {
	return &RefreshTokenHasher{secret: secret}
}

// Hash returns the hex encoded HMAC-SHA256 of token
func (h *RefreshTokenHasher) Hash(token string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewRefreshTokenRecord builds the record persisted for a freshly minted credential
func NewRefreshTokenRecord(userID, familyID uuid.UUID, tokenHash string, now time.Time, ttl time.Duration) *RefreshToken {
	return &RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: tokenHash,
		ExpiresAt: now.Add(ttl).UTC(),
		CreatedAt: now.UTC(),
	}
}
