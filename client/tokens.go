package client

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	auth "github.com/goliatone/go-taskauth"
)

// DefaultRefreshThreshold is the remaining lifetime that triggers a proactive refresh
const DefaultRefreshThreshold = 5 * time.Minute

// DecodeClaims reads the claims of an access token without verifying the
// signature. The result is advisory and must never be used as proof of
// authorization.
func DecodeClaims(token string) (*auth.JWTClaims, error) {
	claims := &auth.JWTClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// TimeUntilExpiration returns the remaining lifetime of token, zero when it
// is expired or cannot be decoded.
func TimeUntilExpiration(token string, now time.Time) time.Duration {
	claims, err := DecodeClaims(token)
	if err != nil || claims.Expires().IsZero() {
		return 0
	}
	remaining := claims.Expires().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpired reports whether token is expired or undecodable at now
func IsExpired(token string, now time.Time) bool {
	return TimeUntilExpiration(token, now) <= 0
}

// NeedsRefresh reports whether token expires within threshold
func NeedsRefresh(token string, now time.Time, threshold time.Duration) bool {
	return TimeUntilExpiration(token, now) <= threshold
}
